package agentpipeline

import (
	"context"
	"testing"
	"time"

	"github.com/jxucoder/previewd/internal/filebackend"
	"github.com/jxucoder/previewd/internal/filecache"
	"github.com/jxucoder/previewd/internal/llm"
	"github.com/jxucoder/previewd/internal/procexec"
)

func newTestTools(t *testing.T) *Tools {
	t.Helper()
	root := t.TempDir()
	backend, err := filebackend.NewLocalBackend(root)
	if err != nil {
		t.Fatalf("NewLocalBackend: %v", err)
	}
	cache := filecache.New(backend, 0)
	exec, err := procexec.New(procexec.Config{Root: root})
	if err != nil {
		t.Fatalf("procexec.New: %v", err)
	}
	return NewTools(backend, cache, exec)
}

func TestRunProjectsTokenEvents(t *testing.T) {
	client := &llm.MockClient{Turn: []llm.Event{
		{Kind: llm.EventToken, Content: "hi"},
		{Kind: llm.EventFinish},
	}}
	p := New(client, "system prompt")
	ctx := context.Background()

	ch, err := p.Run(ctx, newTestTools(t), nil, "hello")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	var kinds []Kind
	for ev := range ch {
		kinds = append(kinds, ev.Kind)
		if ev.Kind == KindToken && ev.Content != "hi" {
			t.Fatalf("unexpected token content %q", ev.Content)
		}
	}
	if len(kinds) != 2 || kinds[0] != KindToken || kinds[1] != KindDone {
		t.Fatalf("got %v", kinds)
	}
}

func TestRunCollapsesShowUserMessageIntoUserMessage(t *testing.T) {
	client := &llm.MockClient{Turn: []llm.Event{
		{Kind: llm.EventToolStart, ToolName: "show_user_message", ToolArgs: map[string]any{"message": "here you go"}},
		{Kind: llm.EventToolEnd, ToolName: "show_user_message", ToolResult: "ignored"},
		{Kind: llm.EventFinish},
	}}
	p := New(client, "system")

	ch, err := p.Run(context.Background(), newTestTools(t), nil, "build me a thing")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	var events []Event
	for ev := range ch {
		events = append(events, ev)
	}
	if len(events) != 2 {
		t.Fatalf("expected user_message + done only, got %v", events)
	}
	if events[0].Kind != KindUserMessage || events[0].Content != "here you go" {
		t.Fatalf("expected collapsed user_message, got %+v", events[0])
	}
	if events[1].Kind != KindDone {
		t.Fatalf("expected done, got %+v", events[1])
	}
}

func TestRunEmitsToolStartAndEndForVisibleTool(t *testing.T) {
	client := &llm.MockClient{Turn: []llm.Event{
		{Kind: llm.EventToolStart, ToolName: "write_file", ToolArgs: map[string]any{"path": "a.txt"}},
		{Kind: llm.EventToolEnd, ToolName: "write_file", ToolResult: "wrote 3 bytes to a.txt"},
		{Kind: llm.EventFinish},
	}}
	p := New(client, "system")

	ch, err := p.Run(context.Background(), newTestTools(t), nil, "write a file")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	var sawStart, sawEnd bool
	for ev := range ch {
		switch ev.Kind {
		case KindToolStart:
			sawStart = true
			if ev.Tool != "write_file" {
				t.Fatalf("unexpected tool %q", ev.Tool)
			}
		case KindToolEnd:
			sawEnd = true
			if ev.Tool != "write_file" {
				t.Fatalf("unexpected tool %q", ev.Tool)
			}
		}
	}
	if !sawStart || !sawEnd {
		t.Fatal("expected both tool_start and tool_end")
	}
}

func TestRunEmitsPreviewReadyWhenOutputContainsPreviewURL(t *testing.T) {
	client := &llm.MockClient{Turn: []llm.Event{
		{Kind: llm.EventToolStart, ToolName: "run_command", ToolArgs: map[string]any{"cmd": "npm run dev"}},
		{Kind: llm.EventToolEnd, ToolName: "run_command", ToolResult: "Server started\nPreview URL: https://preview.example/abc\n"},
		{Kind: llm.EventFinish},
	}}
	p := New(client, "system")

	ch, err := p.Run(context.Background(), newTestTools(t), nil, "start the server")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	var gotPreview string
	var doneURL string
	for ev := range ch {
		if ev.Kind == KindPreviewReady {
			gotPreview = ev.URL
		}
		if ev.Kind == KindDone {
			doneURL = ev.URL
		}
	}
	if gotPreview != "https://preview.example/abc" {
		t.Fatalf("expected preview_ready url captured, got %q", gotPreview)
	}
	if doneURL != gotPreview {
		t.Fatalf("expected done to carry the last captured preview url, got %q", doneURL)
	}
}

func TestRunTruncatesToolEndResult(t *testing.T) {
	longResult := make([]byte, 1000)
	for i := range longResult {
		longResult[i] = 'x'
	}
	client := &llm.MockClient{Turn: []llm.Event{
		{Kind: llm.EventToolStart, ToolName: "read_file", ToolArgs: map[string]any{"path": "a.txt"}},
		{Kind: llm.EventToolEnd, ToolName: "read_file", ToolResult: string(longResult)},
		{Kind: llm.EventFinish},
	}}
	p := New(client, "system")

	ch, err := p.Run(context.Background(), newTestTools(t), nil, "read it")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	for ev := range ch {
		if ev.Kind == KindToolEnd && len(ev.Result) != resultTruncateLen {
			t.Fatalf("expected result truncated to %d chars, got %d", resultTruncateLen, len(ev.Result))
		}
	}
}

func TestRunEmitsErrorThenDoneOnUncaughtError(t *testing.T) {
	client := &llm.MockClient{Turn: []llm.Event{
		{Kind: llm.EventError, Err: context.DeadlineExceeded},
	}}
	p := New(client, "system")

	ch, err := p.Run(context.Background(), newTestTools(t), nil, "do something")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	var kinds []Kind
	for ev := range ch {
		kinds = append(kinds, ev.Kind)
	}
	if len(kinds) != 2 || kinds[0] != KindError || kinds[1] != KindDone {
		t.Fatalf("expected [error done], got %v", kinds)
	}
}

func TestToolsRoundTripThroughRealHandlers(t *testing.T) {
	tools := newTestTools(t)
	handlers := tools.Handlers()

	writeOut, err := handlers["write_file"](context.Background(), map[string]any{"path": "hello.txt", "content": "hi there"})
	if err != nil {
		t.Fatalf("write_file: %v", err)
	}
	if writeOut == "" {
		t.Fatal("expected non-empty write confirmation")
	}

	readOut, err := handlers["read_file"](context.Background(), map[string]any{"path": "hello.txt"})
	if err != nil {
		t.Fatalf("read_file: %v", err)
	}
	if readOut != "hi there" {
		t.Fatalf("got %q", readOut)
	}

	listOut, err := handlers["list_files"](context.Background(), map[string]any{"path": "."})
	if err != nil {
		t.Fatalf("list_files: %v", err)
	}
	if listOut == "" {
		t.Fatal("expected non-empty directory listing")
	}
}

func TestShowUserMessageHandlerIsNoOp(t *testing.T) {
	tools := newTestTools(t)
	out, err := tools.Handlers()[showUserMessageTool](context.Background(), map[string]any{"message": "hi"})
	if err != nil {
		t.Fatalf("show_user_message: %v", err)
	}
	if out != "" {
		t.Fatalf("expected no-op result, got %q", out)
	}
}

func TestIsVisibleMatchesSpecSet(t *testing.T) {
	for _, tool := range []string{"read_file", "write_file", "list_files", "grep_search", "fuzzy_find", "run_command"} {
		if !IsVisible(tool) {
			t.Fatalf("expected %q to be visible", tool)
		}
	}
	if IsVisible(showUserMessageTool) {
		t.Fatal("expected show_user_message to be internal, not visible")
	}
	if IsVisible("some_internal_tool") {
		t.Fatal("expected unknown tool to be treated as internal")
	}
}

// TestRunCancellationClosesChannel checks that Run on an already-cancelled
// context still closes its channel; how many events arrive first is not
// asserted.
func TestRunCancellationClosesChannel(t *testing.T) {
	client := &llm.MockClient{Turn: []llm.Event{
		{Kind: llm.EventToken, Content: "a"},
		{Kind: llm.EventToken, Content: "b"},
		{Kind: llm.EventFinish},
	}}
	p := New(client, "system")

	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()
	<-ctx.Done()

	ch, err := p.Run(ctx, newTestTools(t), nil, "hi")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	for range ch {
	}
}
