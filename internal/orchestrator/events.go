package orchestrator

import (
	"fmt"
	"path/filepath"

	"github.com/jxucoder/previewd/internal/model"
)

// Kind is the public event taxonomy streamed to one subscriber per turn.
type Kind string

const (
	EventPreviewURL   Kind = "preview_url"
	EventToken        Kind = "token"
	EventUserMessage  Kind = "user_message"
	EventToolStart    Kind = "tool_start"
	EventToolEnd      Kind = "tool_end"
	EventPreviewReady Kind = "preview_ready"
	EventError        Kind = "error"
	EventDone         Kind = "done"
)

// Event is one item of the stream a subscriber to stream_events receives.
type Event struct {
	Kind Kind

	URL     string // preview_url, preview_ready, done
	Content string // token, user_message
	Tool    string // tool_start, tool_end

	Step   *model.StepTrace // tool_start, preview_ready
	StepID string           // tool_end

	Message string // error
}

// stepTitle formats the human-facing title for a visible tool's step
// trace, exactly per the server-generated rules.
func stepTitle(tool string, args map[string]any) string {
	switch tool {
	case "write_file":
		return fmt.Sprintf("Edited `%s`", filepath.Base(strArg(args, "path")))
	case "read_file":
		return fmt.Sprintf("Read `%s`", filepath.Base(strArg(args, "path")))
	case "list_files":
		return fmt.Sprintf("Checked `%s`", strArg(args, "path"))
	case "grep_search":
		return fmt.Sprintf("Searched '%s…'", truncateRunes(strArg(args, "pattern"), 20))
	case "fuzzy_find":
		return fmt.Sprintf("Finding '%s'", strArg(args, "query"))
	case "run_command":
		return fmt.Sprintf("Running `%s…`", truncateRunes(strArg(args, "cmd"), 25))
	default:
		return tool
	}
}

func strArg(args map[string]any, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
