package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"
)

// OpenAIClient talks to any OpenAI-compatible chat completion endpoint
// (OpenAI itself, or e.g. Gemini's compatibility endpoint via BaseURL).
type OpenAIClient struct {
	client *openai.Client
	model  string
}

// OpenAIOpts configures an OpenAIClient.
type OpenAIOpts struct {
	APIKey  string
	BaseURL string        // optional; defaults to the OpenAI API
	Model   string
	Timeout time.Duration // per-call HTTP timeout; defaults to 30s
}

// NewOpenAI creates an OpenAIClient.
func NewOpenAI(opts OpenAIOpts) (*OpenAIClient, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("llm: api key is required")
	}
	if opts.Model == "" {
		return nil, fmt.Errorf("llm: model is required")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	config := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		config.BaseURL = opts.BaseURL
	}
	config.HTTPClient = &http.Client{Timeout: timeout}

	return &OpenAIClient{
		client: openai.NewClientWithConfig(config),
		model:  opts.Model,
	}, nil
}

// Complete sends the transcript and tool catalog to the backend and maps
// the reply into the package's provider-neutral shape.
func (c *OpenAIClient) Complete(ctx context.Context, req Request) (Response, error) {
	oaReq := openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: toOpenAIMessages(req.Messages),
	}

	if len(req.Tools) > 0 {
		for _, tool := range req.Tools {
			oaReq.Tools = append(oaReq.Tools, openai.Tool{
				Type: openai.ToolTypeFunction,
				Function: &openai.FunctionDefinition{
					Name:        tool.Name,
					Description: tool.Description,
					Parameters:  tool.Parameters,
				},
			})
		}
		oaReq.ToolChoice = "auto"
	}

	resp, err := c.client.CreateChatCompletion(ctx, oaReq)
	if err != nil {
		return Response{}, fmt.Errorf("llm: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Response{}, fmt.Errorf("llm: chat completion returned no choices")
	}

	choice := resp.Choices[0].Message
	out := Response{Content: choice.Content}
	for _, tc := range choice.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: json.RawMessage(tc.Function.Arguments),
		})
	}
	return out, nil
}

func toOpenAIMessages(msgs []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		oa := openai.ChatCompletionMessage{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			oa.ToolCalls = append(oa.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: string(tc.Arguments),
				},
			})
		}
		out = append(out, oa)
	}
	return out
}
