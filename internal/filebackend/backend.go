// Package filebackend provides a uniform read/write/list/exec/grep surface
// over a workspace, whether the workspace is a local directory or a remote
// sandbox. LocalBackend and RemoteBackend are interchangeable behind the
// Backend interface.
package filebackend

import (
	"context"
	"time"
)

// Entry is one item returned by ListDir.
type Entry struct {
	Name  string
	IsDir bool
}

// CommandResult is the result of a command run against a workspace.
type CommandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Success reports whether the command exited cleanly.
func (r CommandResult) Success() bool { return r.ExitCode == 0 }

// Output combines stdout and stderr the way a terminal would show them.
func (r CommandResult) Output() string {
	if r.Stderr == "" {
		return r.Stdout
	}
	return r.Stdout + "\n" + r.Stderr
}

// Match is one fuzzy_find result.
type Match struct {
	Path  string
	Score float64
}

// Backend is the capability surface a session's tools are built on.
type Backend interface {
	Root() string
	ReadFile(ctx context.Context, path string) (string, error)
	WriteFile(ctx context.Context, path, content string) error
	ListDir(ctx context.Context, path string) ([]Entry, error)
	FileExists(ctx context.Context, path string) bool
	Grep(ctx context.Context, pattern, path string, contextLines int) (string, error)
	FuzzyFind(ctx context.Context, query string) ([]Match, error)
	RunCommand(ctx context.Context, cmd string, timeout time.Duration) (CommandResult, error)
}

// DefaultIgnore names are skipped by ListDir and by the fuzzy_find file
// walks built on it; Grep does not consult it.
var DefaultIgnore = map[string]struct{}{
	".git": {}, "node_modules": {}, "__pycache__": {}, ".venv": {},
	"dist": {}, "build": {}, ".idea": {}, ".vscode": {}, ".DS_Store": {},
	"venv": {}, "package-lock.json": {}, "yarn.lock": {}, "bun.lockb": {}, "bun.lock": {},
}

func ignored(name string) bool {
	_, ok := DefaultIgnore[name]
	return ok
}

// NormalizePath strips a leading "./" and trailing "/" the way File Cache
// keys are expected to, so "./src/" and "src" collide on the same entry.
func NormalizePath(path string) string {
	for len(path) >= 2 && path[0] == '.' && path[1] == '/' {
		path = path[2:]
	}
	for len(path) > 0 && path[len(path)-1] == '/' {
		path = path[:len(path)-1]
	}
	return path
}
