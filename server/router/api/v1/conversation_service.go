package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/dx-tooling/sitebuilder-webapp-sub000/store"

	apperrors "github.com/dx-tooling/sitebuilder-webapp-sub000/server/internal/errors"
)

type StartConversationRequest struct {
	WorkspaceID int32 `json:"workspaceId"`
}

type Conversation struct {
	ID             int32                    `json:"id"`
	UID            string                   `json:"uid"`
	WorkspaceID    int32                    `json:"workspaceId"`
	Status         store.ConversationStatus `json:"status"`
	LastActivityTs *int64                   `json:"lastActivityTs,omitempty"`
	CreatedTs      int64                    `json:"createdTs"`
}

func convertConversationFromStore(c *store.Conversation) *Conversation {
	return &Conversation{
		ID:             c.ID,
		UID:            c.UID,
		WorkspaceID:    c.WorkspaceID,
		Status:         c.Status,
		LastActivityTs: c.LastActivityTs,
		CreatedTs:      c.CreatedTs,
	}
}

// StartConversation opens a conversation on an available workspace.
// POST /api/v1/conversations
func (s *APIV1Service) StartConversation(c echo.Context) error {
	userID, err := currentUser(c)
	if err != nil {
		return err
	}
	var req StartConversationRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.InvalidArgument("invalid request body")
	}
	if req.WorkspaceID <= 0 {
		return apperrors.InvalidArgument("workspaceId is required")
	}

	conv, err := s.Conversations.Start(c.Request().Context(), userID, req.WorkspaceID)
	if err != nil {
		return toAppError(err)
	}
	annotate(c, 0, conv.ID)
	return c.JSON(http.StatusOK, convertConversationFromStore(conv))
}

// Heartbeat records that the conversation's client is still open.
// POST /api/v1/conversation/:id/heartbeat
func (s *APIV1Service) Heartbeat(c echo.Context) error {
	userID, err := currentUser(c)
	if err != nil {
		return err
	}
	conversationID, err := parseID(c, "id")
	if err != nil {
		return err
	}
	annotate(c, 0, conversationID)

	if err := s.Conversations.Heartbeat(c.Request().Context(), userID, conversationID); err != nil {
		return toAppError(err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"success": true})
}
