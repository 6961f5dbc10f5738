package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/switchboard/internal/agent"
	"github.com/zulandar/switchboard/internal/llm"
	"github.com/zulandar/switchboard/internal/models"
	"github.com/zulandar/switchboard/internal/store"
)

// chatRequest is the body of both chat endpoints.
type chatRequest struct {
	Message        string `json:"message"`
	ConversationID uint   `json:"conversation_id"`
	ConfirmToken   string `json:"confirm_token"`
}

// chatResponse is the non-streaming reply shape.
type chatResponse struct {
	ConversationID   uint                       `json:"conversation_id"`
	Response         string                     `json:"response"`
	ToolCalls        []agent.ToolCallRecord     `json:"tool_calls"`
	ThinkingSteps    []agent.ThinkingStep       `json:"thinking_steps"`
	Confirmation     *agent.ConfirmationRequest `json:"confirmation_required,omitempty"`
	ProcessingTimeMS int64                      `json:"processing_time_ms"`
}

// handleChat runs one orchestration cycle and replies with the full
// result as a single JSON document.
func (s *Server) handleChat(c *gin.Context) {
	req, conv, ok := s.prepareChat(c)
	if !ok {
		return
	}

	window, ok := s.loadWindow(c, conv)
	if !ok {
		return
	}
	if _, err := s.store.Append(conv, models.RoleUser, req.Message, ""); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not save message"})
		return
	}

	res := s.runner.Run(c.Request.Context(), agent.Request{
		Owner:        owner(c),
		Message:      req.Message,
		Window:       window,
		ConfirmToken: req.ConfirmToken,
	})

	if err := s.persistAssistant(conv, res); err != nil {
		fmt.Fprintf(s.out, "server: persist assistant turn for conversation %d: %v\n", conv.ID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not save response"})
		return
	}

	if errors.Is(res.Err, agent.ErrBackend) {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":    "reasoning_backend_unavailable",
			"response": res.Response,
		})
		return
	}

	c.JSON(http.StatusOK, chatResponse{
		ConversationID:   conv.ID,
		Response:         res.Response,
		ToolCalls:        emptyIfNil(res.ToolCalls),
		ThinkingSteps:    res.Thinking,
		Confirmation:     res.Confirmation,
		ProcessingTimeMS: res.DurationMS,
	})
}

// prepareChat parses and validates the request body and resolves the
// target conversation. Validation failures reply 422 before any store
// or backend work.
func (s *Server) prepareChat(c *gin.Context) (chatRequest, *models.Conversation, bool) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "invalid request body"})
		return req, nil, false
	}
	if strings.TrimSpace(req.Message) == "" {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "message must not be empty"})
		return req, nil, false
	}
	if len([]rune(req.Message)) > models.MaxContentLen {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error": "message exceeds " + strconv.Itoa(models.MaxContentLen) + " characters",
		})
		return req, nil, false
	}

	var (
		conv *models.Conversation
		err  error
	)
	if req.ConversationID > 0 {
		conv, err = s.store.Get(req.ConversationID, owner(c))
	} else {
		conv, err = s.store.GetOrCreate(owner(c))
	}
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
		return req, nil, false
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load conversation"})
		return req, nil, false
	}
	return req, conv, true
}

// loadWindow fetches the recent context slice, captured before the new
// user message is appended.
func (s *Server) loadWindow(c *gin.Context, conv *models.Conversation) ([]llm.Message, bool) {
	msgs, err := s.store.Window(conv.ID, owner(c), s.windowSize)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load history"})
		return nil, false
	}
	window := make([]llm.Message, len(msgs))
	for i, m := range msgs {
		window[i] = llm.Message{Role: m.Role, Content: m.Content}
	}
	return window, true
}

// persistAssistant records the assistant turn, including the tool call
// audit trail, for every graceful outcome. Backend failures are not
// persisted: the user retries the same turn instead. A persistence
// failure here leaves mutations without an audit record, so callers must
// surface it rather than report success.
func (s *Server) persistAssistant(conv *models.Conversation, res *agent.Result) error {
	if errors.Is(res.Err, agent.ErrBackend) {
		return nil
	}
	var toolCalls string
	if len(res.ToolCalls) > 0 {
		data, err := json.Marshal(res.ToolCalls)
		if err != nil {
			return fmt.Errorf("server: encode tool call records: %w", err)
		}
		toolCalls = string(data)
	}
	if _, err := s.store.Append(conv, models.RoleAssistant, res.Response, toolCalls); err != nil {
		return err
	}
	return nil
}

// messageView is one history entry as returned to clients.
type messageView struct {
	ID        uint                   `json:"id"`
	Role      string                 `json:"role"`
	Content   string                 `json:"content"`
	ToolCalls []agent.ToolCallRecord `json:"tool_calls,omitempty"`
	CreatedAt int64                  `json:"created_at"`
}

// handleHistory returns the full ordered history of a conversation. With
// no conversation_id it targets the owner's current conversation and
// returns an empty list when none exists yet.
func (s *Server) handleHistory(c *gin.Context) {
	var convID uint
	if raw := c.Query("conversation_id"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "conversation_id must be a number"})
			return
		}
		convID = uint(id)
	} else {
		convs, err := s.store.List(owner(c), 1)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load conversations"})
			return
		}
		if len(convs) == 0 {
			c.JSON(http.StatusOK, gin.H{"messages": []messageView{}})
			return
		}
		convID = convs[0].ID
	}

	msgs, err := s.store.FullHistory(convID, owner(c))
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load history"})
		return
	}

	views := make([]messageView, len(msgs))
	for i, m := range msgs {
		v := messageView{
			ID:        m.ID,
			Role:      m.Role,
			Content:   m.Content,
			CreatedAt: m.CreatedAt.Unix(),
		}
		if m.ToolCalls != "" {
			if err := json.Unmarshal([]byte(m.ToolCalls), &v.ToolCalls); err != nil {
				fmt.Fprintf(s.out, "server: message %d: corrupt tool call record skipped: %v\n", m.ID, err)
			}
		}
		views[i] = v
	}
	c.JSON(http.StatusOK, gin.H{"conversation_id": convID, "messages": views})
}

// handleDeleteConversation removes a conversation and its messages.
func (s *Server) handleDeleteConversation(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "conversation id must be a number"})
		return
	}

	err = s.store.Delete(uint(id), owner(c))
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not delete conversation"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": uint(id)})
}

func emptyIfNil(recs []agent.ToolCallRecord) []agent.ToolCallRecord {
	if recs == nil {
		return []agent.ToolCallRecord{}
	}
	return recs
}
