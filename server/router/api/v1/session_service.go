package v1

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/dx-tooling/sitebuilder-webapp-sub000/plugin/ai/render"
	"github.com/dx-tooling/sitebuilder-webapp-sub000/plugin/ai/session"
	"github.com/dx-tooling/sitebuilder-webapp-sub000/store"

	apperrors "github.com/dx-tooling/sitebuilder-webapp-sub000/server/internal/errors"
)

type RunRequest struct {
	ConversationID int32  `json:"conversationId"`
	Instruction    string `json:"instruction"`
}

type RunResponse struct {
	SessionID int32 `json:"sessionId"`
}

type CancelResponse struct {
	Status store.EditSessionStatus `json:"status"`
}

// SessionResponse is a resumption snapshot plus the reply rendered so far.
type SessionResponse struct {
	*session.Snapshot
	ReplyHTML string `json:"replyHtml"`
}

func convertSessionSnapshot(snapshot *session.Snapshot) *SessionResponse {
	response := &SessionResponse{Snapshot: snapshot}
	r, err := render.NewRendererFromSnapshot(snapshot)
	if err != nil {
		slog.Warn("failed to replay session snapshot", "session_id", snapshot.ID, "error", err)
		return response
	}
	state := r.State()
	if response.ReplyHTML, err = state.ReplyHTML(); err != nil {
		slog.Warn("failed to render session reply", "session_id", snapshot.ID, "error", err)
	}
	return response
}

// Run submits an instruction as a new edit session.
// POST /api/v1/run
func (s *APIV1Service) Run(c echo.Context) error {
	userID, err := currentUser(c)
	if err != nil {
		return err
	}
	var req RunRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.InvalidArgument("invalid request body")
	}
	if req.ConversationID <= 0 {
		return apperrors.InvalidArgument("conversationId is required")
	}
	annotate(c, 0, req.ConversationID)

	session, err := s.Sessions.Submit(c.Request().Context(), userID, req.ConversationID, req.Instruction)
	if err != nil {
		return toAppError(err)
	}
	annotate(c, session.ID, 0)
	return c.JSON(http.StatusOK, RunResponse{SessionID: session.ID})
}

// Poll returns the chunks after the cursor.
// GET /api/v1/poll/:sessionId?after=
func (s *APIV1Service) Poll(c echo.Context) error {
	userID, err := currentUser(c)
	if err != nil {
		return err
	}
	sessionID, err := parseID(c, "sessionId")
	if err != nil {
		return err
	}
	var after int64
	if raw := c.QueryParam("after"); raw != "" {
		if after, err = strconv.ParseInt(raw, 10, 64); err != nil || after < 0 {
			return apperrors.InvalidArgument("invalid after cursor")
		}
	}
	annotate(c, sessionID, 0)

	result, err := s.Sessions.Poll(c.Request().Context(), userID, sessionID, after)
	if err != nil {
		return toAppError(err)
	}
	if s.Metrics != nil {
		s.Metrics.RecordChunks(len(result.Chunks))
	}
	return c.JSON(http.StatusOK, result)
}

// GetSession returns the resumption snapshot of a session.
// GET /api/v1/sessions/:sessionId
func (s *APIV1Service) GetSession(c echo.Context) error {
	userID, err := currentUser(c)
	if err != nil {
		return err
	}
	sessionID, err := parseID(c, "sessionId")
	if err != nil {
		return err
	}
	annotate(c, sessionID, 0)

	snapshot, err := s.Sessions.Snapshot(c.Request().Context(), userID, sessionID)
	if err != nil {
		return toAppError(err)
	}
	return c.JSON(http.StatusOK, convertSessionSnapshot(snapshot))
}

// CancelSession requests cancellation of a session.
// POST /api/v1/sessions/:sessionId/cancel
func (s *APIV1Service) CancelSession(c echo.Context) error {
	userID, err := currentUser(c)
	if err != nil {
		return err
	}
	sessionID, err := parseID(c, "sessionId")
	if err != nil {
		return err
	}
	annotate(c, sessionID, 0)

	status, err := s.Sessions.Cancel(c.Request().Context(), userID, sessionID)
	if err != nil {
		return toAppError(err)
	}
	return c.JSON(http.StatusOK, CancelResponse{Status: status})
}

// GetLatestSession returns the snapshot of the most recent session of a conversation.
// GET /api/v1/conversations/:id/sessions/latest
func (s *APIV1Service) GetLatestSession(c echo.Context) error {
	userID, err := currentUser(c)
	if err != nil {
		return err
	}
	conversationID, err := parseID(c, "id")
	if err != nil {
		return err
	}
	annotate(c, 0, conversationID)

	snapshot, err := s.Sessions.Latest(c.Request().Context(), userID, conversationID)
	if err != nil {
		return toAppError(err)
	}
	return c.JSON(http.StatusOK, convertSessionSnapshot(snapshot))
}

// GetContextUsage returns the context usage of a conversation.
// GET /api/v1/context-usage?conversationId=&sessionId=
func (s *APIV1Service) GetContextUsage(c echo.Context) error {
	userID, err := currentUser(c)
	if err != nil {
		return err
	}
	conversationID, err := parseOptionalID(c.QueryParam("conversationId"), "conversationId")
	if err != nil {
		return err
	}
	if conversationID == nil {
		return apperrors.InvalidArgument("conversationId is required")
	}
	sessionID, err := parseOptionalID(c.QueryParam("sessionId"), "sessionId")
	if err != nil {
		return err
	}
	annotate(c, 0, *conversationID)

	snapshot, err := s.Sessions.ContextUsage(c.Request().Context(), userID, *conversationID, sessionID)
	if err != nil {
		return toAppError(err)
	}
	return c.JSON(http.StatusOK, snapshot)
}
