// Package agentpipeline drives one agent turn: it hydrates history,
// streams tool-calling events from an llm.Client, projects them onto a
// stable public event taxonomy, captures preview URLs surfaced by tool
// output, and always terminates with a single done event.
package agentpipeline

import (
	"context"
	"regexp"

	"github.com/jxucoder/previewd/internal/llm"
)

// DefaultHistoryLimit is the default number of prior messages (K)
// hydrated into a turn's history.
const DefaultHistoryLimit = 6

// resultTruncateLen is how much of a tool_end result is kept before
// being handed to the client.
const resultTruncateLen = 500

// Kind is the projected public event taxonomy a turn emits.
type Kind string

const (
	KindToken        Kind = "token"
	KindUserMessage  Kind = "user_message"
	KindToolStart    Kind = "tool_start"
	KindToolEnd      Kind = "tool_end"
	KindPreviewReady Kind = "preview_ready"
	KindError        Kind = "error"
	KindDone         Kind = "done"
)

// Event is one item of the pipeline's projected output stream.
type Event struct {
	Kind Kind

	Content string // token, user_message

	Tool   string         // tool_start, tool_end
	CallID string         // tool_start, tool_end — correlates a call's pair
	Args   map[string]any // tool_start

	Result string // tool_end, truncated to resultTruncateLen

	URL string // preview_ready, done

	Err error // error
}

var previewURLPattern = regexp.MustCompile(`Preview URL:\s*(\S+)`)

// Pipeline drives agent turns against an llm.Client.
type Pipeline struct {
	client       llm.Client
	systemPrompt string
}

// New builds a Pipeline. systemPrompt is the external collaborator
// text that shapes the agent's behavior; this package treats it as an
// opaque string.
func New(client llm.Client, systemPrompt string) *Pipeline {
	return &Pipeline{client: client, systemPrompt: systemPrompt}
}

// Run drives one turn: history should already be hydrated to the
// caller's chosen K (DefaultHistoryLimit unless overridden), in
// alternating user/assistant order, not yet including userMessage.
// The returned channel is closed after its single terminal done event
// (or, on context cancellation, without one — the caller's turn
// unwinds without persisting anything, per the cancellation/timeout
// design).
func (p *Pipeline) Run(ctx context.Context, tools *Tools, history []llm.Message, userMessage string) (<-chan Event, error) {
	turnHistory := append(append([]llm.Message{}, history...), llm.Message{Role: llm.RoleUser, Content: userMessage})

	raw, err := p.client.StreamTurn(ctx, p.systemPrompt, turnHistory, tools.Specs(), tools.Handlers())
	if err != nil {
		return nil, err
	}

	out := make(chan Event, 16)
	go p.project(ctx, raw, out)
	return out, nil
}

func (p *Pipeline) project(ctx context.Context, raw <-chan llm.Event, out chan<- Event) {
	defer close(out)

	var previewURL string
	emit := func(ev Event) bool {
		select {
		case out <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for ev := range raw {
		switch ev.Kind {
		case llm.EventToken:
			if ev.Content == "" {
				continue
			}
			if !emit(Event{Kind: KindToken, Content: ev.Content}) {
				return
			}

		case llm.EventToolStart:
			if ev.ToolName == showUserMessageTool {
				content, _ := ev.ToolArgs["message"].(string)
				if !emit(Event{Kind: KindUserMessage, Content: content}) {
					return
				}
				continue
			}
			if !emit(Event{Kind: KindToolStart, Tool: ev.ToolName, CallID: ev.ToolCallID, Args: ev.ToolArgs}) {
				return
			}

		case llm.EventToolEnd:
			if ev.ToolName == showUserMessageTool {
				continue
			}
			result := truncate(ev.ToolResult, resultTruncateLen)
			if !emit(Event{Kind: KindToolEnd, Tool: ev.ToolName, CallID: ev.ToolCallID, Result: result}) {
				return
			}
			if m := previewURLPattern.FindStringSubmatch(ev.ToolResult); m != nil {
				previewURL = m[1]
				if !emit(Event{Kind: KindPreviewReady, URL: previewURL}) {
					return
				}
			}

		case llm.EventFinish:
			emit(Event{Kind: KindDone, URL: previewURL})
			return

		case llm.EventError:
			if !emit(Event{Kind: KindError, Err: ev.Err}) {
				return
			}
			emit(Event{Kind: KindDone, URL: previewURL})
			return
		}
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
