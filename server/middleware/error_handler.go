package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	apperrors "github.com/dx-tooling/sitebuilder-webapp-sub000/server/internal/errors"
)

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Code    apperrors.ErrorCode `json:"code"`
	Message string              `json:"message"`
}

// ErrorHandler renders AppErrors with their mapped status. Internal errors
// never expose their cause.
func ErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	body := ErrorResponse{Code: apperrors.ErrCodeInternal, Message: "internal error"}

	var appErr *apperrors.AppError
	var httpErr *echo.HTTPError
	switch {
	case errors.As(err, &appErr):
		status = appErr.HTTPStatus()
		body.Code = appErr.Code
		if status < http.StatusInternalServerError {
			body.Message = appErr.Message
		}
	case errors.As(err, &httpErr):
		status = httpErr.Code
		body.Code = codeForStatus(status)
		body.Message = http.StatusText(status)
		if msg, ok := httpErr.Message.(string); ok && status < http.StatusInternalServerError {
			body.Message = msg
		}
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(status)
	} else {
		err = c.JSON(status, body)
	}
	if err != nil {
		c.Logger().Error(err)
	}
}

func codeForStatus(status int) apperrors.ErrorCode {
	switch status {
	case http.StatusBadRequest:
		return apperrors.ErrCodeInvalidArgument
	case http.StatusUnauthorized:
		return apperrors.ErrCodeUnauthenticated
	case http.StatusForbidden:
		return apperrors.ErrCodePermissionDenied
	case http.StatusNotFound, http.StatusMethodNotAllowed:
		return apperrors.ErrCodeNotFound
	case http.StatusConflict:
		return apperrors.ErrCodeConflict
	case http.StatusTooManyRequests:
		return apperrors.ErrCodeRateLimitExceeded
	default:
		return apperrors.ErrCodeInternal
	}
}
