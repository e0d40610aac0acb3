package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
)

// OpenAIClient implements Client against the OpenAI Chat Completions
// API, using its function-calling surface for StreamTurn.
type OpenAIClient struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

// NewOpenAIClient creates a client for the OpenAI API. Model defaults
// to "gpt-4o" if empty; baseURL defaults to the public API if empty.
func NewOpenAIClient(apiKey, model, baseURL string) *OpenAIClient {
	if model == "" {
		model = "gpt-4o"
	}
	if baseURL == "" {
		baseURL = "https://api.openai.com"
	}
	return &OpenAIClient{apiKey: apiKey, model: model, baseURL: baseURL, client: http.DefaultClient}
}

func (c *OpenAIClient) Complete(ctx context.Context, system, user string) (string, error) {
	resp, err := c.call(ctx, []openAIMessage{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	}, nil)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}
	return resp.Choices[0].Message.Content, nil
}

func (c *OpenAIClient) StreamTurn(ctx context.Context, system string, history []Message, tools []ToolSpec, handlers map[string]ToolHandler) (<-chan Event, error) {
	events := make(chan Event, 16)
	msgs := toOpenAIMessages(system, history)
	funcs := toOpenAIFunctions(tools)

	go func() {
		defer close(events)
		const maxRounds = 100

		for round := 0; round < maxRounds; round++ {
			resp, err := c.call(ctx, msgs, funcs)
			if err != nil {
				events <- Event{Kind: EventError, Err: err}
				return
			}
			if len(resp.Choices) == 0 {
				events <- Event{Kind: EventError, Err: fmt.Errorf("no choices in response")}
				return
			}
			msg := resp.Choices[0].Message

			if len(msg.ToolCalls) == 0 {
				if msg.Content != "" {
					events <- Event{Kind: EventToken, Content: msg.Content}
				}
				events <- Event{Kind: EventFinish}
				return
			}

			msgs = append(msgs, msg)

			for _, tc := range msg.ToolCalls {
				var args map[string]any
				_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)

				events <- Event{Kind: EventToolStart, ToolCallID: tc.ID, ToolName: tc.Function.Name, ToolArgs: args}

				handler, ok := handlers[tc.Function.Name]
				var result string
				if !ok {
					result = fmt.Sprintf("error: no handler registered for tool %q", tc.Function.Name)
				} else if out, herr := handler(ctx, args); herr != nil {
					result = fmt.Sprintf("error: %s", herr)
				} else {
					result = out
				}

				events <- Event{Kind: EventToolEnd, ToolCallID: tc.ID, ToolName: tc.Function.Name, ToolResult: result}
				msgs = append(msgs, openAIMessage{Role: "tool", Content: result, ToolCallID: tc.ID})
			}

			if ctx.Err() != nil {
				events <- Event{Kind: EventError, Err: ctx.Err()}
				return
			}
		}
		events <- Event{Kind: EventError, Err: fmt.Errorf("exceeded max tool-calling rounds")}
	}()

	return events, nil
}

type openAIMessage struct {
	Role       string             `json:"role"`
	Content    string             `json:"content,omitempty"`
	ToolCallID string             `json:"tool_call_id,omitempty"`
	ToolCalls  []openAIToolCall   `json:"tool_calls,omitempty"`
}

type openAIToolCall struct {
	ID       string             `json:"id"`
	Type     string             `json:"type"`
	Function openAIFunctionCall `json:"function"`
}

type openAIFunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type openAIFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters"`
}

type openAITool struct {
	Type     string         `json:"type"`
	Function openAIFunction `json:"function"`
}

type openAIResponse struct {
	Choices []struct {
		Message openAIMessage `json:"message"`
	} `json:"choices"`
}

func toOpenAIMessages(system string, history []Message) []openAIMessage {
	msgs := make([]openAIMessage, 0, len(history)+1)
	msgs = append(msgs, openAIMessage{Role: "system", Content: system})
	for _, m := range history {
		role := "user"
		if m.Role == RoleAssistant {
			role = "assistant"
		}
		msgs = append(msgs, openAIMessage{Role: role, Content: m.Content})
	}
	return msgs
}

func toOpenAIFunctions(tools []ToolSpec) []openAITool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]openAITool, 0, len(tools))
	for _, t := range tools {
		params := t.InputSchema
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		out = append(out, openAITool{Type: "function", Function: openAIFunction{Name: t.Name, Description: t.Description, Parameters: params}})
	}
	return out
}

func (c *OpenAIClient) call(ctx context.Context, msgs []openAIMessage, tools []openAITool) (*openAIResponse, error) {
	body := map[string]any{
		"model":      c.model,
		"max_tokens": 4096,
		"messages":   msgs,
	}
	if len(tools) > 0 {
		body["tools"] = tools
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

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
		return nil, fmt.Errorf("openai API error (%d): %s", resp.StatusCode, string(respBody))
	}

	var result openAIResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}
	return &result, nil
}

// NewClientFromEnv builds a Client from environment variables,
// preferring Anthropic if ANTHROPIC_API_KEY is set, falling back to
// OpenAI, mirroring the teacher's provider-selection precedence.
func NewClientFromEnv() (Client, error) {
	baseURL := os.Getenv("LLM_BASE_URL")
	model := os.Getenv("LLM_MODEL")
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		return NewAnthropicClient(key, model, baseURL), nil
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		return NewOpenAIClient(key, model, baseURL), nil
	}
	return nil, fmt.Errorf("no LLM API key found (set ANTHROPIC_API_KEY or OPENAI_API_KEY)")
}
