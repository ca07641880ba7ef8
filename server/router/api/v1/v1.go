package v1

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/dx-tooling/sitebuilder-webapp-sub000/internal/profile"
	"github.com/dx-tooling/sitebuilder-webapp-sub000/plugin/ai/conversation"
	"github.com/dx-tooling/sitebuilder-webapp-sub000/plugin/ai/session"
	"github.com/dx-tooling/sitebuilder-webapp-sub000/server/internal/observability"
	"github.com/dx-tooling/sitebuilder-webapp-sub000/server/middleware"

	apperrors "github.com/dx-tooling/sitebuilder-webapp-sub000/server/internal/errors"
)

type APIV1Service struct {
	Profile       *profile.Profile
	Sessions      *session.Service
	Conversations *conversation.Service
	Metrics       *observability.Metrics

	// pollLimiter throttles the endpoints clients call on a timer.
	pollLimiter *middleware.RateLimiter
}

func NewAPIV1Service(p *profile.Profile, sessions *session.Service, conversations *conversation.Service, metrics *observability.Metrics) *APIV1Service {
	pollRate := p.PollRateLimit
	if pollRate <= 0 {
		pollRate = profile.DefaultPollRateLimit
	}
	return &APIV1Service{
		Profile:       p,
		Sessions:      sessions,
		Conversations: conversations,
		Metrics:       metrics,
		pollLimiter:   middleware.NewRateLimiter(pollRate),
	}
}

// RegisterRoutes registers the API on the given Echo instance.
func (s *APIV1Service) RegisterRoutes(e *echo.Echo) {
	e.HTTPErrorHandler = middleware.ErrorHandler
	e.Use(middleware.RequestLogger(s.Metrics))

	e.GET("/healthz", s.Healthz)

	api := e.Group("/api/v1", middleware.Identity())
	polled := s.pollLimiter.Middleware()

	api.POST("/run", s.Run)
	api.GET("/poll/:sessionId", s.Poll, polled)
	api.GET("/sessions/:sessionId", s.GetSession)
	api.POST("/sessions/:sessionId/cancel", s.CancelSession)

	api.POST("/conversations", s.StartConversation)
	api.GET("/conversations/:id/sessions/latest", s.GetLatestSession)
	api.POST("/conversation/:id/heartbeat", s.Heartbeat, polled)
	api.GET("/context-usage", s.GetContextUsage, polled)

	api.GET("/system/metrics/overview", s.GetMetricsOverview)
}

// Healthz reports liveness.
// GET /healthz
func (*APIV1Service) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func currentUser(c echo.Context) (int32, error) {
	userID, ok := middleware.UserIDFrom(c)
	if !ok {
		return 0, apperrors.Unauthenticated("missing user identity")
	}
	return userID, nil
}

func parseID(c echo.Context, name string) (int32, error) {
	id, err := strconv.ParseInt(c.Param(name), 10, 32)
	if err != nil || id <= 0 {
		return 0, apperrors.InvalidArgument("invalid " + name)
	}
	return int32(id), nil
}

func parseOptionalID(raw, name string) (*int32, error) {
	if raw == "" {
		return nil, nil
	}
	id, err := strconv.ParseInt(raw, 10, 32)
	if err != nil || id <= 0 {
		return nil, apperrors.InvalidArgument("invalid " + name)
	}
	v := int32(id)
	return &v, nil
}

// annotate records resolved ids on the request log.
func annotate(c echo.Context, sessionID, conversationID int32) {
	reqCtx, ok := observability.FromContext(c.Request().Context())
	if !ok {
		return
	}
	if sessionID != 0 {
		reqCtx.SessionID = sessionID
	}
	if conversationID != 0 {
		reqCtx.ConversationID = conversationID
	}
}

// toAppError maps service errors onto the API error taxonomy.
func toAppError(err error) error {
	var appErr *apperrors.AppError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &appErr):
		return appErr
	case errors.Is(err, session.ErrInvalidInstruction), errors.Is(err, conversation.ErrNotOngoing):
		return apperrors.Wrap(err, apperrors.ErrCodeInvalidArgument, err.Error())
	case errors.Is(err, session.ErrSessionNotFound):
		return apperrors.NotFound("edit session not found", err)
	case errors.Is(err, conversation.ErrNotFound):
		return apperrors.NotFound("conversation not found", err)
	case errors.Is(err, conversation.ErrPermissionDenied):
		return apperrors.PermissionDenied("permission denied", err)
	case errors.Is(err, session.ErrSessionActive):
		return apperrors.Conflict("conversation already has an active edit session", err)
	case errors.Is(err, conversation.ErrWorkspaceBusy):
		return apperrors.Conflict("workspace is in another conversation", err)
	default:
		return apperrors.Internal(err)
	}
}
