package llm

import "context"

// MockClient is a scriptable Client test double: no network call is
// made by the teacher's own LLM client either (internal/orchestrator/llm.go
// is a thin HTTP wrapper), so tests drive this instead.
type MockClient struct {
	// CompleteFn, when set, backs Complete. Defaults to returning "".
	CompleteFn func(ctx context.Context, system, user string) (string, error)

	// Turn is the scripted sequence of events StreamTurn replays
	// verbatim, ignoring history/tools/handlers unless ReplayHandlers
	// is true.
	Turn []Event

	// ReplayHandlers, if true, makes StreamTurn invoke the matching
	// handler for every scripted EventToolStart and substitute its
	// real result into the following EventToolEnd, instead of using
	// the scripted ToolResult verbatim.
	ReplayHandlers bool
}

func (m *MockClient) Complete(ctx context.Context, system, user string) (string, error) {
	if m.CompleteFn != nil {
		return m.CompleteFn(ctx, system, user)
	}
	return "", nil
}

func (m *MockClient) StreamTurn(ctx context.Context, system string, history []Message, tools []ToolSpec, handlers map[string]ToolHandler) (<-chan Event, error) {
	out := make(chan Event, len(m.Turn)+1)
	go func() {
		defer close(out)
		var lastResult string
		for _, ev := range m.Turn {
			if m.ReplayHandlers && ev.Kind == EventToolStart {
				if h, ok := handlers[ev.ToolName]; ok {
					if res, err := h(ctx, ev.ToolArgs); err == nil {
						lastResult = res
					} else {
						lastResult = "error: " + err.Error()
					}
				}
			}
			if m.ReplayHandlers && ev.Kind == EventToolEnd {
				ev.ToolResult = lastResult
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
