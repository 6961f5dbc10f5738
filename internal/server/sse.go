package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/switchboard/internal/agent"
	"github.com/zulandar/switchboard/internal/models"
)

// tokenChunkSize is how many runes each streamed token frame carries.
const tokenChunkSize = 10

// handleChatStream runs one orchestration cycle and streams progress as
// server-sent events: started, then interleaved thinking/tool_call,
// then token chunks, then exactly one done or error frame. The cycle
// itself runs detached from the connection; a dropped client only stops
// delivery.
func (s *Server) handleChatStream(c *gin.Context) {
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

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	writeSSE(c.Writer, "started", gin.H{
		"type":            "started",
		"conversation_id": conv.ID,
	})
	c.Writer.Flush()

	events := make(chan agent.Event, 32)
	done := make(chan *agent.Result, 1)
	go func() {
		done <- s.runner.Run(c.Request.Context(), agent.Request{
			Owner:        owner(c),
			Message:      req.Message,
			Window:       window,
			ConfirmToken: req.ConfirmToken,
			Events:       events,
		})
	}()

	// Drain to channel close even if the client is gone, so the runner
	// never blocks on a dead consumer.
	for ev := range events {
		switch ev.Type {
		case agent.EventThinking:
			writeSSE(c.Writer, "thinking", gin.H{
				"type": "thinking",
				"step": ev.Step,
			})
		case agent.EventToolCall:
			writeSSE(c.Writer, "tool_call", gin.H{
				"type": "tool_call",
				"data": ev.ToolCall,
			})
		}
		c.Writer.Flush()
	}

	res := <-done
	if err := s.persistAssistant(conv, res); err != nil {
		fmt.Fprintf(s.out, "server: persist assistant turn for conversation %d: %v\n", conv.ID, err)
		writeSSE(c.Writer, "error", gin.H{
			"type":    "error",
			"error":   "persistence_failure",
			"message": "I finished your request but could not save the reply. Reload your history to see the current state.",
		})
		c.Writer.Flush()
		return
	}

	if errors.Is(res.Err, agent.ErrBackend) {
		writeSSE(c.Writer, "error", gin.H{
			"type":    "error",
			"error":   "reasoning_backend_unavailable",
			"message": res.Response,
		})
		c.Writer.Flush()
		return
	}

	for _, chunk := range chunkRunes(res.Response, tokenChunkSize) {
		writeSSE(c.Writer, "token", gin.H{
			"type":    "token",
			"content": chunk,
		})
		c.Writer.Flush()
	}

	doneFrame := gin.H{
		"type":               "done",
		"conversation_id":    conv.ID,
		"response":           res.Response,
		"tool_calls":         emptyIfNil(res.ToolCalls),
		"processing_time_ms": res.DurationMS,
	}
	if res.Confirmation != nil {
		doneFrame["confirmation_required"] = res.Confirmation
	}
	writeSSE(c.Writer, "done", doneFrame)
	c.Writer.Flush()
}

// writeSSE writes a single SSE event to the writer.
func writeSSE(w io.Writer, event string, data any) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, string(jsonData))
}

// chunkRunes splits s into rune-safe chunks of at most n runes.
func chunkRunes(s string, n int) []string {
	runes := []rune(s)
	if len(runes) == 0 {
		return nil
	}
	chunks := make([]string, 0, len(runes)/n+1)
	for i := 0; i < len(runes); i += n {
		end := i + n
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[i:end]))
	}
	return chunks
}
