package middleware

import (
	"log/slog"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	apperrors "github.com/dx-tooling/sitebuilder-webapp-sub000/server/internal/errors"
	"github.com/dx-tooling/sitebuilder-webapp-sub000/server/internal/observability"
)

// UserIDHeader carries the id of the user authenticated by the fronting proxy.
const UserIDHeader = "X-User-ID"

const userIDKey = "user_id"

// Identity reads the caller from UserIDHeader. Requests without a valid id are
// rejected as unauthenticated.
func Identity() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw := strings.TrimSpace(c.Request().Header.Get(UserIDHeader))
			if raw == "" {
				return apperrors.Unauthenticated("missing " + UserIDHeader + " header")
			}
			id, err := strconv.ParseInt(raw, 10, 32)
			if err != nil || id <= 0 {
				return apperrors.Unauthenticated("invalid " + UserIDHeader + " header")
			}
			c.Set(userIDKey, int32(id))
			if reqCtx, ok := observability.FromContext(c.Request().Context()); ok {
				reqCtx.UserID = int32(id)
			}
			return next(c)
		}
	}
}

// UserIDFrom returns the user set by Identity.
func UserIDFrom(c echo.Context) (int32, bool) {
	id, ok := c.Get(userIDKey).(int32)
	return id, ok
}

// RequestLogger attaches an observability.RequestContext to every request,
// logs its outcome and records it in metrics.
func RequestLogger(metrics *observability.Metrics) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			reqCtx := observability.NewRequestContext(nil, c.Path(), 0)
			req := c.Request()
			c.SetRequest(req.WithContext(observability.WithRequestContext(req.Context(), reqCtx)))
			c.Response().Header().Set(echo.HeaderXRequestID, reqCtx.RequestID)

			err := next(c)
			if err != nil {
				c.Error(err)
			}

			status := c.Response().Status
			if metrics != nil {
				metrics.RecordRequest(reqCtx.Route, reqCtx.Duration(), status >= 500)
			}
			switch {
			case status >= 500 && err != nil:
				reqCtx.Error("request failed", err, slog.Int(observability.LogFieldStatus, status),
					slog.Int64(observability.LogFieldDuration, reqCtx.DurationMs()),
					slog.String(observability.LogFieldErrorCode, string(apperrors.GetCodeFromError(err, apperrors.ErrCodeInternal))))
			case err != nil:
				reqCtx.Debug("request rejected", slog.Int(observability.LogFieldStatus, status),
					slog.String(observability.LogFieldErrorCode, string(apperrors.GetCodeFromError(err, apperrors.ErrCodeInternal))))
			default:
				reqCtx.Debug("request served", slog.Int(observability.LogFieldStatus, status),
					slog.Int64(observability.LogFieldDuration, reqCtx.DurationMs()))
			}
			return nil
		}
	}
}
