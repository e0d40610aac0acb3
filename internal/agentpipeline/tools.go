package agentpipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jxucoder/previewd/internal/filebackend"
	"github.com/jxucoder/previewd/internal/filecache"
	"github.com/jxucoder/previewd/internal/llm"
	"github.com/jxucoder/previewd/internal/procexec"
)

// showUserMessageTool is the sentinel pseudo-tool the agent calls to
// address the end user; its tool_start collapses into a user_message
// event and its tool_end is suppressed entirely.
const showUserMessageTool = "show_user_message"

// VisibleTools is the set of tool names the session orchestrator turns
// into tool_start/tool_end step traces; every other tool invocation,
// including showUserMessageTool, is internal.
var VisibleTools = map[string]struct{}{
	"read_file":    {},
	"write_file":   {},
	"list_files":   {},
	"grep_search":  {},
	"fuzzy_find":   {},
	"run_command":  {},
}

// IsVisible reports whether tool should be surfaced as a step trace.
func IsVisible(tool string) bool {
	_, ok := VisibleTools[tool]
	return ok
}

// Tools binds the agent's tool surface to one session: file ops and
// search against a cached backend, commands against a security-gated
// local executor, plus the show_user_message sentinel.
type Tools struct {
	backend filebackend.Backend
	cache   *filecache.Cache
	exec    *procexec.Executor
}

// NewTools builds a Tools bound to a single session's cache and
// executor. Both are session-owned and discarded with the session.
func NewTools(backend filebackend.Backend, cache *filecache.Cache, exec *procexec.Executor) *Tools {
	return &Tools{backend: backend, cache: cache, exec: exec}
}

// Backend returns the session's backend, for callers (the HTTP file
// endpoints) that need direct workspace access outside tool dispatch.
func (t *Tools) Backend() filebackend.Backend { return t.backend }

// Cache returns the session's file cache, so HTTP file read/write
// endpoints observe the same content an in-flight turn would.
func (t *Tools) Cache() *filecache.Cache { return t.cache }

// Specs returns the full tool set, including the internal
// show_user_message sentinel, for binding into an llm.Client turn.
func (t *Tools) Specs() []llm.ToolSpec {
	return []llm.ToolSpec{
		{
			Name:        "read_file",
			Description: "Read a file's contents from the workspace.",
			InputSchema: schema(map[string]string{"path": "string"}, "path"),
		},
		{
			Name:        "write_file",
			Description: "Write (creating or overwriting) a file in the workspace.",
			InputSchema: schema(map[string]string{"path": "string", "content": "string"}, "path", "content"),
		},
		{
			Name:        "list_files",
			Description: "List the entries of a directory in the workspace.",
			InputSchema: schema(map[string]string{"path": "string"}, "path"),
		},
		{
			Name:        "grep_search",
			Description: "Search the workspace for a pattern, ripgrep-style.",
			InputSchema: schema(map[string]string{"pattern": "string", "path": "string", "context_lines": "number"}, "pattern"),
		},
		{
			Name:        "fuzzy_find",
			Description: "Find files in the workspace whose name resembles a query.",
			InputSchema: schema(map[string]string{"query": "string"}, "query"),
		},
		{
			Name:        "run_command",
			Description: "Run a shell command rooted in the workspace.",
			InputSchema: schema(map[string]string{"cmd": "string", "cwd": "string", "timeout": "number", "confirmed": "boolean", "verbose": "boolean"}, "cmd"),
		},
		{
			Name:        showUserMessageTool,
			Description: "Address the end user with a message.",
			InputSchema: schema(map[string]string{"message": "string"}, "message"),
		},
	}
}

// Handlers binds every tool name from Specs to a llm.ToolHandler.
func (t *Tools) Handlers() map[string]llm.ToolHandler {
	return map[string]llm.ToolHandler{
		"read_file":  t.readFile,
		"write_file": t.writeFile,
		"list_files": t.listFiles,
		"grep_search": t.grepSearch,
		"fuzzy_find":  t.fuzzyFind,
		"run_command": t.runCommand,
		showUserMessageTool: func(ctx context.Context, args map[string]any) (string, error) {
			return "", nil
		},
	}
}

func (t *Tools) readFile(ctx context.Context, args map[string]any) (string, error) {
	path := str(args, "path")
	return t.cache.ReadFile(ctx, path)
}

func (t *Tools) writeFile(ctx context.Context, args map[string]any) (string, error) {
	path := str(args, "path")
	content := str(args, "content")
	if err := t.cache.WriteFile(ctx, path, content); err != nil {
		return "", err
	}
	return fmt.Sprintf("wrote %d bytes to %s", len(content), path), nil
}

func (t *Tools) listFiles(ctx context.Context, args map[string]any) (string, error) {
	path := str(args, "path")
	entries, err := t.backend.ListDir(ctx, path)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, e := range entries {
		if e.IsDir {
			fmt.Fprintf(&b, "%s/\n", e.Name)
		} else {
			fmt.Fprintf(&b, "%s\n", e.Name)
		}
	}
	return b.String(), nil
}

func (t *Tools) grepSearch(ctx context.Context, args map[string]any) (string, error) {
	pattern := str(args, "pattern")
	path := str(args, "path")
	contextLines := intArg(args, "context_lines")
	return t.backend.Grep(ctx, pattern, path, contextLines)
}

func (t *Tools) fuzzyFind(ctx context.Context, args map[string]any) (string, error) {
	query := str(args, "query")
	matches, err := t.backend.FuzzyFind(ctx, query)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, m := range matches {
		fmt.Fprintf(&b, "%.1f  %s\n", m.Score, m.Path)
	}
	return b.String(), nil
}

func (t *Tools) runCommand(ctx context.Context, args map[string]any) (string, error) {
	cmd := str(args, "cmd")
	cwd := str(args, "cwd")
	timeout := time.Duration(intArg(args, "timeout")) * time.Second
	confirmed := boolArg(args, "confirmed")
	verbose := boolArg(args, "verbose")

	result, err := t.exec.RunCommand(ctx, cmd, cwd, timeout, confirmed, verbose)
	if err != nil {
		return "", err
	}
	if result.Error != "" {
		return result.Error, nil
	}
	return result.Output, nil
}

func schema(fields map[string]string, required ...string) map[string]any {
	props := make(map[string]any, len(fields))
	for name, typ := range fields {
		props[name] = map[string]any{"type": typ}
	}
	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

func str(args map[string]any, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

func intArg(args map[string]any, key string) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

func boolArg(args map[string]any, key string) bool {
	v, _ := args[key].(bool)
	return v
}
