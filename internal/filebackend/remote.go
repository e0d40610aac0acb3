package filebackend

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jxucoder/previewd/internal/procexec"
)

// RemoteRuntime is the slice of a sandbox provider's API that RemoteBackend
// needs: file read/write and arbitrary command execution inside one
// sandbox's workspace. A sandboxmgr.Provider satisfies this.
type RemoteRuntime interface {
	ReadFile(ctx context.Context, sandboxID, path string) (string, error)
	WriteFile(ctx context.Context, sandboxID, path, content string) error
	Exec(ctx context.Context, sandboxID, cmd string, timeout time.Duration) (CommandResult, error)
}

// RemoteBackend defers every operation to a sandbox's own command and file
// APIs, rooted at the sandbox's workspace path. It implements the same
// Backend interface as LocalBackend.
type RemoteBackend struct {
	runtime   RemoteRuntime
	sandboxID string
	root      string
}

// NewRemoteBackend binds a RemoteBackend to one sandbox's workspace.
func NewRemoteBackend(runtime RemoteRuntime, sandboxID, root string) *RemoteBackend {
	return &RemoteBackend{runtime: runtime, sandboxID: sandboxID, root: root}
}

func (b *RemoteBackend) Root() string { return b.root }

func (b *RemoteBackend) resolve(path string) string {
	if strings.HasPrefix(path, "/") {
		return path
	}
	return strings.TrimRight(b.root, "/") + "/" + path
}

func (b *RemoteBackend) ReadFile(ctx context.Context, path string) (string, error) {
	return b.runtime.ReadFile(ctx, b.sandboxID, b.resolve(path))
}

func (b *RemoteBackend) WriteFile(ctx context.Context, path, content string) error {
	return b.runtime.WriteFile(ctx, b.sandboxID, b.resolve(path), content)
}

func (b *RemoteBackend) FileExists(ctx context.Context, path string) bool {
	cmd := fmt.Sprintf(`test -e %q && echo yes || echo no`, b.resolve(path))
	res, err := b.runtime.Exec(ctx, b.sandboxID, cmd, 10*time.Second)
	return err == nil && strings.TrimSpace(res.Stdout) == "yes"
}

func (b *RemoteBackend) ListDir(ctx context.Context, path string) ([]Entry, error) {
	full := b.resolve(path)
	if path == "" {
		full = b.root
	}
	cmd := fmt.Sprintf(`ls -1A %q 2>/dev/null`, full)
	res, err := b.runtime.Exec(ctx, b.sandboxID, cmd, 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", path, err)
	}
	trimmed := strings.TrimSpace(res.Stdout)
	if trimmed == "" {
		return nil, nil
	}
	var out []Entry
	for _, name := range strings.Split(trimmed, "\n") {
		if ignored(name) {
			continue
		}
		isDirCmd := fmt.Sprintf(`test -d %q && echo yes || echo no`, full+"/"+name)
		isDirRes, err := b.runtime.Exec(ctx, b.sandboxID, isDirCmd, 10*time.Second)
		out = append(out, Entry{Name: name, IsDir: err == nil && strings.TrimSpace(isDirRes.Stdout) == "yes"})
	}
	return out, nil
}

func (b *RemoteBackend) RunCommand(ctx context.Context, cmd string, timeout time.Duration) (CommandResult, error) {
	if procexec.IsBlocked(cmd) {
		return CommandResult{}, fmt.Errorf("BLOCKED: command matches security blocklist")
	}
	full := fmt.Sprintf("cd %q && %s", b.root, cmd)
	return b.runtime.Exec(ctx, b.sandboxID, full, timeout)
}

func (b *RemoteBackend) Grep(ctx context.Context, pattern, path string, contextLines int) (string, error) {
	if path == "" {
		path = "."
	}
	if contextLines < 0 {
		contextLines = 0
	}
	if contextLines > 5 {
		contextLines = 5
	}
	target := b.resolve(path)
	cmd := fmt.Sprintf(
		`rg --color=never --line-number --no-heading --context=%d %q %q 2>/dev/null || grep -rn -C %d %q %q`,
		contextLines, pattern, target, contextLines, pattern, target,
	)
	if procexec.IsBlocked(cmd) {
		return "", fmt.Errorf("BLOCKED: command matches security blocklist")
	}
	res, err := b.runtime.Exec(ctx, b.sandboxID, cmd, 15*time.Second)
	if err != nil {
		return "", fmt.Errorf("grep: %w", err)
	}
	if strings.TrimSpace(res.Stdout) == "" {
		return fmt.Sprintf("No matches found for %q in %s", pattern, path), nil
	}
	lines := strings.Split(strings.TrimRight(res.Stdout, "\n"), "\n")
	const maxLines = 150
	var out strings.Builder
	fmt.Fprintf(&out, "Query: %s\nPath: %s\n---\n", pattern, path)
	if len(lines) > maxLines {
		out.WriteString(strings.Join(lines[:maxLines], "\n"))
		fmt.Fprintf(&out, "\n... (%d more lines. Use a more specific path or query to narrow results.)", len(lines)-maxLines)
	} else {
		out.WriteString(strings.Join(lines, "\n"))
	}
	return out.String(), nil
}

func (b *RemoteBackend) FuzzyFind(ctx context.Context, query string) ([]Match, error) {
	ignoreArgs := make([]string, 0, len(DefaultIgnore))
	for name := range DefaultIgnore {
		ignoreArgs = append(ignoreArgs, fmt.Sprintf(`-not -path %q`, "*/"+name+"/*"))
	}
	cmd := fmt.Sprintf(`find %q -type f %s`, b.root, strings.Join(ignoreArgs, " "))
	res, err := b.runtime.Exec(ctx, b.sandboxID, cmd, 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("enumerating files: %w", err)
	}
	var files []string
	for _, line := range strings.Split(strings.TrimSpace(res.Stdout), "\n") {
		if line == "" {
			continue
		}
		files = append(files, strings.TrimPrefix(strings.TrimPrefix(line, b.root), "/"))
	}
	return topMatches(query, files), nil
}
