package llm

import (
	"context"
	"testing"
)

func TestMockClientCompleteDefaultsEmpty(t *testing.T) {
	m := &MockClient{}
	out, err := m.Complete(context.Background(), "sys", "hi")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if out != "" {
		t.Fatalf("expected empty default completion, got %q", out)
	}
}

func TestMockClientCompleteUsesFn(t *testing.T) {
	m := &MockClient{CompleteFn: func(ctx context.Context, system, user string) (string, error) {
		return "echo:" + user, nil
	}}
	out, err := m.Complete(context.Background(), "sys", "hi")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if out != "echo:hi" {
		t.Fatalf("got %q", out)
	}
}

func TestMockClientStreamTurnReplaysScript(t *testing.T) {
	m := &MockClient{Turn: []Event{
		{Kind: EventToken, Content: "hello "},
		{Kind: EventToolStart, ToolCallID: "1", ToolName: "write_file", ToolArgs: map[string]any{"path": "a.txt"}},
		{Kind: EventToolEnd, ToolCallID: "1", ToolName: "write_file", ToolResult: "ok"},
		{Kind: EventFinish},
	}}

	ch, err := m.StreamTurn(context.Background(), "sys", nil, nil, nil)
	if err != nil {
		t.Fatalf("StreamTurn: %v", err)
	}

	var kinds []EventKind
	for ev := range ch {
		kinds = append(kinds, ev.Kind)
	}
	want := []EventKind{EventToken, EventToolStart, EventToolEnd, EventFinish}
	if len(kinds) != len(want) {
		t.Fatalf("got %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("event %d: got %s, want %s", i, kinds[i], want[i])
		}
	}
}

func TestMockClientStreamTurnReplaysHandlerResult(t *testing.T) {
	m := &MockClient{
		ReplayHandlers: true,
		Turn: []Event{
			{Kind: EventToolStart, ToolCallID: "1", ToolName: "read_file", ToolArgs: map[string]any{"path": "a.txt"}},
			{Kind: EventToolEnd, ToolCallID: "1", ToolName: "read_file", ToolResult: "scripted placeholder"},
			{Kind: EventFinish},
		},
	}

	handlers := map[string]ToolHandler{
		"read_file": func(ctx context.Context, args map[string]any) (string, error) {
			return "real content", nil
		},
	}

	ch, err := m.StreamTurn(context.Background(), "sys", nil, nil, handlers)
	if err != nil {
		t.Fatalf("StreamTurn: %v", err)
	}

	var toolEndResult string
	for ev := range ch {
		if ev.Kind == EventToolEnd {
			toolEndResult = ev.ToolResult
		}
	}
	if toolEndResult != "real content" {
		t.Fatalf("expected handler result to replace scripted one, got %q", toolEndResult)
	}
}

func TestStreamTurnCancellationStopsDelivery(t *testing.T) {
	m := &MockClient{Turn: []Event{
		{Kind: EventToken, Content: "a"},
		{Kind: EventToken, Content: "b"},
		{Kind: EventFinish},
	}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ch, err := m.StreamTurn(ctx, "sys", nil, nil, nil)
	if err != nil {
		t.Fatalf("StreamTurn: %v", err)
	}
	// Draining should terminate promptly even though the context is
	// already cancelled; we don't assert on how many events arrive.
	for range ch {
	}
}
