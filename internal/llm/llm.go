// Package llm defines the external LLM provider boundary: a simple
// completion call for planning/review prose, and a tool-calling turn
// stream that the agent event pipeline projects into its public event
// taxonomy.
package llm

import "context"

// Role distinguishes user and assistant turns in conversation history.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of hydrated conversation history.
type Message struct {
	Role    Role
	Content string
}

// ToolSpec describes one tool the model may call during a turn.
type ToolSpec struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// ToolHandler executes a tool call and returns its result text.
type ToolHandler func(ctx context.Context, args map[string]any) (string, error)

// EventKind is the fixed alphabet of the opaque tool-calling stream: a
// producer of token/tool_start/tool_end/finish/error, exactly as
// described for the agent runtime. Projection to the public event
// schema happens one layer up, in internal/agentpipeline.
type EventKind string

const (
	EventToken     EventKind = "token"
	EventToolStart EventKind = "tool_start"
	EventToolEnd   EventKind = "tool_end"
	EventFinish    EventKind = "finish"
	EventError     EventKind = "error"
)

// Event is one item off the turn stream.
type Event struct {
	Kind EventKind

	// EventToken
	Content string

	// EventToolStart / EventToolEnd
	ToolCallID string
	ToolName   string
	ToolArgs   map[string]any
	ToolResult string

	// EventError
	Err error
}

// Client is the external LLM provider collaborator. Complete is the
// teacher's plain single-shot shape, reused as-is for planning/review
// prose. StreamTurn drives one full agentic turn: the model may call
// tools zero or more times, each dispatched through handlers, before
// finishing.
type Client interface {
	Complete(ctx context.Context, system, user string) (string, error)
	StreamTurn(ctx context.Context, system string, history []Message, tools []ToolSpec, handlers map[string]ToolHandler) (<-chan Event, error)
}
