package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// AnthropicClient implements Client against the Anthropic Messages API,
// including its tool-use content blocks for StreamTurn.
type AnthropicClient struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

// NewAnthropicClient creates a client for the Anthropic API. Model
// defaults to "claude-sonnet-4-20250514" if empty; baseURL defaults to
// the public API if empty (override for self-hosted gateways).
func NewAnthropicClient(apiKey, model, baseURL string) *AnthropicClient {
	if model == "" {
		model = "claude-sonnet-4-20250514"
	}
	if baseURL == "" {
		baseURL = "https://api.anthropic.com"
	}
	return &AnthropicClient{
		apiKey:  apiKey,
		model:   model,
		baseURL: baseURL,
		client:  http.DefaultClient,
	}
}

func (c *AnthropicClient) Complete(ctx context.Context, system, user string) (string, error) {
	resp, err := c.call(ctx, system, []anthropicMessage{
		{Role: "user", Content: []anthropicBlock{{Type: "text", Text: user}}},
	}, nil)
	if err != nil {
		return "", err
	}
	for _, b := range resp.Content {
		if b.Type == "text" {
			return b.Text, nil
		}
	}
	return "", fmt.Errorf("no text content in response")
}

// StreamTurn drives an agentic tool-calling loop against the
// non-streaming Messages API: each round-trip either produces text
// (finish) or one or more tool_use blocks, which are dispatched through
// handlers and fed back as tool_result blocks for the next round.
// Each non-empty text block of a response is emitted whole as its own
// token event; true incremental SSE token streaming is not
// implemented by this client.
func (c *AnthropicClient) StreamTurn(ctx context.Context, system string, history []Message, tools []ToolSpec, handlers map[string]ToolHandler) (<-chan Event, error) {
	events := make(chan Event, 16)
	msgs := toAnthropicMessages(history)
	atools := toAnthropicTools(tools)

	go func() {
		defer close(events)
		const maxRounds = 100

		for round := 0; round < maxRounds; round++ {
			resp, err := c.call(ctx, system, msgs, atools)
			if err != nil {
				events <- Event{Kind: EventError, Err: err}
				return
			}

			var toolUses []anthropicBlock
			for _, b := range resp.Content {
				switch b.Type {
				case "text":
					if b.Text != "" {
						events <- Event{Kind: EventToken, Content: b.Text}
					}
				case "tool_use":
					toolUses = append(toolUses, b)
				}
			}

			if len(toolUses) == 0 {
				events <- Event{Kind: EventFinish}
				return
			}

			msgs = append(msgs, anthropicMessage{Role: "assistant", Content: resp.Content})

			var results []anthropicBlock
			for _, tu := range toolUses {
				events <- Event{Kind: EventToolStart, ToolCallID: tu.ID, ToolName: tu.Name, ToolArgs: tu.Input}

				handler, ok := handlers[tu.Name]
				var result string
				if !ok {
					result = fmt.Sprintf("error: no handler registered for tool %q", tu.Name)
				} else if out, herr := handler(ctx, tu.Input); herr != nil {
					result = fmt.Sprintf("error: %s", herr)
				} else {
					result = out
				}

				events <- Event{Kind: EventToolEnd, ToolCallID: tu.ID, ToolName: tu.Name, ToolResult: result}
				results = append(results, anthropicBlock{Type: "tool_result", ToolUseID: tu.ID, Content: []anthropicBlock{{Type: "text", Text: result}}})
			}
			msgs = append(msgs, anthropicMessage{Role: "user", Content: results})

			if ctx.Err() != nil {
				events <- Event{Kind: EventError, Err: ctx.Err()}
				return
			}
		}
		events <- Event{Kind: EventError, Err: fmt.Errorf("exceeded max tool-calling rounds")}
	}()

	return events, nil
}

type anthropicMessage struct {
	Role    string           `json:"role"`
	Content []anthropicBlock `json:"content"`
}

type anthropicBlock struct {
	Type string `json:"type"`

	// text
	Text string `json:"text,omitempty"`

	// tool_use (assistant) / tool_result (user)
	ID        string           `json:"id,omitempty"`
	ToolUseID string           `json:"tool_use_id,omitempty"`
	Name      string           `json:"name,omitempty"`
	Input     map[string]any   `json:"input,omitempty"`
	Content   []anthropicBlock `json:"content,omitempty"`
}

type anthropicTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema"`
}

type anthropicResponse struct {
	Content []anthropicBlock `json:"content"`
}

func toAnthropicMessages(history []Message) []anthropicMessage {
	msgs := make([]anthropicMessage, 0, len(history))
	for _, m := range history {
		role := "user"
		if m.Role == RoleAssistant {
			role = "assistant"
		}
		msgs = append(msgs, anthropicMessage{Role: role, Content: []anthropicBlock{{Type: "text", Text: m.Content}}})
	}
	return msgs
}

func toAnthropicTools(tools []ToolSpec) []anthropicTool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]anthropicTool, 0, len(tools))
	for _, t := range tools {
		schema := t.InputSchema
		if schema == nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		out = append(out, anthropicTool{Name: t.Name, Description: t.Description, InputSchema: schema})
	}
	return out
}

func (c *AnthropicClient) call(ctx context.Context, system string, msgs []anthropicMessage, tools []anthropicTool) (*anthropicResponse, error) {
	body := map[string]any{
		"model":      c.model,
		"max_tokens": 4096,
		"system":     system,
		"messages":   msgs,
	}
	if len(tools) > 0 {
		body["tools"] = tools
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("anthropic API error (%d): %s", resp.StatusCode, string(respBody))
	}

	var result anthropicResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}
	return &result, nil
}
