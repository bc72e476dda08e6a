package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/ZanzyTHEbar/taskchat/taskchat/harness"
	"github.com/gin-gonic/gin"
)

// ChatRequest is the body of POST /api/v1/chat.
type ChatRequest struct {
	ConversationID string `json:"conversation_id"`
	Message        string `json:"message"`
}

// ChatResponse is the reply to a chat turn.
type ChatResponse struct {
	ConversationID string                         `json:"conversation_id"`
	Response       string                         `json:"response"`
	ToolCalls      []harness.ToolInvocationRecord `json:"tool_calls"`
	CreatedAt      time.Time                      `json:"created_at"`
}

type conversationView struct {
	ID           string    `json:"id"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
}

type messageView struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Chat handles POST /api/v1/chat.
func (s *Server) Chat(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortError(c, http.StatusBadRequest, string(harness.KindValidation), "Request body must be JSON with a message.")
		return
	}

	result, err := s.turns.SubmitTurn(c.Request.Context(), harness.TurnRequest{
		UserID:         c.GetString(userIDKey),
		ConversationID: req.ConversationID,
		Message:        req.Message,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, ChatResponse{
		ConversationID: result.ConversationID,
		Response:       result.Reply,
		ToolCalls:      result.ToolInvocations,
		CreatedAt:      result.CreatedAt,
	})
}

// ListConversations handles GET /api/v1/conversations.
func (s *Server) ListConversations(c *gin.Context) {
	limit, ok := queryLimit(c)
	if !ok {
		return
	}

	convs, err := s.conversations.List(c.Request.Context(), c.GetString(userIDKey), limit)
	if err != nil {
		s.writeError(c, err)
		return
	}

	views := make([]conversationView, 0, len(convs))
	for _, conv := range convs {
		views = append(views, conversationView{
			ID:           conv.ID,
			CreatedAt:    conv.CreatedAt,
			UpdatedAt:    conv.UpdatedAt,
			MessageCount: conv.MessageCount,
		})
	}
	c.JSON(http.StatusOK, gin.H{"conversations": views})
}

// ListMessages handles GET /api/v1/conversations/:id/messages.
func (s *Server) ListMessages(c *gin.Context) {
	limit, ok := queryLimit(c)
	if !ok {
		return
	}

	conversationID := c.Param("id")
	msgs, err := s.conversations.Messages(c.Request.Context(), c.GetString(userIDKey), conversationID, limit)
	if err != nil {
		s.writeError(c, err)
		return
	}

	views := make([]messageView, 0, len(msgs))
	for _, m := range msgs {
		views = append(views, messageView{ID: m.ID, Role: m.Role, Content: m.Content, CreatedAt: m.CreatedAt})
	}
	c.JSON(http.StatusOK, gin.H{"conversation_id": conversationID, "messages": views})
}

// DeleteConversation handles DELETE /api/v1/conversations/:id.
func (s *Server) DeleteConversation(c *gin.Context) {
	conversationID := c.Param("id")
	n, err := s.conversations.Delete(c.Request.Context(), c.GetString(userIDKey), conversationID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true, "conversation_id": conversationID, "messages_deleted": n})
}

// Health handles GET /health.
func (s *Server) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	body := gin.H{"status": "ok", "database": "ok", "provider": s.opts.Provider}
	if s.health != nil {
		if err := s.health(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("health check failed")
			body["status"] = "degraded"
			body["database"] = "unreachable"
			c.JSON(http.StatusServiceUnavailable, body)
			return
		}
	}
	c.JSON(http.StatusOK, body)
}

// queryLimit parses the optional limit query parameter; zero means the default.
func queryLimit(c *gin.Context) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return 0, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 {
		abortError(c, http.StatusBadRequest, string(harness.KindValidation), "limit must be a positive integer.")
		return 0, false
	}
	return limit, true
}
