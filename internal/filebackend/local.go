package filebackend

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// LocalBackend confines file and command operations to a directory rooted
// on the local filesystem.
type LocalBackend struct {
	root string
}

// NewLocalBackend creates a LocalBackend rooted at root, creating it if
// it does not already exist.
func NewLocalBackend(root string) (*LocalBackend, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("creating root: %w", err)
	}
	return &LocalBackend{root: abs}, nil
}

func (b *LocalBackend) Root() string { return b.root }

// resolve maps path (absolute or relative-to-root) to an absolute path
// confined to root. It rejects traversal and symlink escapes; when the
// target doesn't exist yet (e.g. a file about to be written), the deepest
// existing ancestor is what gets symlink-checked.
func (b *LocalBackend) resolve(path string) (string, error) {
	var candidate string
	if filepath.IsAbs(path) {
		candidate = filepath.Clean(path)
	} else {
		candidate = filepath.Clean(filepath.Join(b.root, path))
	}

	rel, err := filepath.Rel(b.root, candidate)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path outside workspace: %s", path)
	}

	resolved, err := filepath.EvalSymlinks(candidate)
	if err != nil {
		// Target doesn't exist yet: walk up to the nearest existing ancestor
		// and confine on that instead, so a write to a new file still gets
		// checked for symlink escapes in its parent chain.
		ancestor := filepath.Dir(candidate)
		for {
			if resolvedAncestor, aerr := filepath.EvalSymlinks(ancestor); aerr == nil {
				relAncestor, rerr := filepath.Rel(b.root, resolvedAncestor)
				if rerr != nil || relAncestor == ".." || strings.HasPrefix(relAncestor, ".."+string(filepath.Separator)) {
					return "", fmt.Errorf("path outside workspace: %s", path)
				}
				return candidate, nil
			}
			parent := filepath.Dir(ancestor)
			if parent == ancestor {
				return candidate, nil
			}
			ancestor = parent
		}
	}

	relResolved, err := filepath.Rel(b.root, resolved)
	if err != nil || relResolved == ".." || strings.HasPrefix(relResolved, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes workspace via symlink: %s", path)
	}
	return resolved, nil
}

func (b *LocalBackend) ReadFile(_ context.Context, path string) (string, error) {
	full, err := b.resolve(path)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", path, err)
	}
	return string(data), nil
}

func (b *LocalBackend) WriteFile(_ context.Context, path, content string) error {
	full, err := b.resolve(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("creating parent dirs for %s: %w", path, err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

func (b *LocalBackend) FileExists(_ context.Context, path string) bool {
	full, err := b.resolve(path)
	if err != nil {
		return false
	}
	_, err = os.Stat(full)
	return err == nil
}

func (b *LocalBackend) ListDir(_ context.Context, path string) ([]Entry, error) {
	if path == "" {
		path = "."
	}
	full, err := b.resolve(path)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(full)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", path, err)
	}
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if ignored(e.Name()) {
			continue
		}
		out = append(out, Entry{Name: e.Name(), IsDir: e.IsDir()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (b *LocalBackend) RunCommand(ctx context.Context, cmd string, timeout time.Duration) (CommandResult, error) {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	c := exec.CommandContext(runCtx, "/bin/sh", "-c", cmd)
	c.Dir = b.root

	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	err := c.Run()
	if runCtx.Err() == context.DeadlineExceeded {
		return CommandResult{Stderr: fmt.Sprintf("command timed out after %s", timeout), ExitCode: -1}, nil
	}
	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return CommandResult{}, err
		}
	}
	return CommandResult{Stdout: stdout.String(), Stderr: stderr.String(), ExitCode: exitCode}, nil
}

// Grep searches for pattern under path using ripgrep if available, falling
// back to GNU grep. Output is capped to 150 lines.
func (b *LocalBackend) Grep(ctx context.Context, pattern, path string, contextLines int) (string, error) {
	if path == "" {
		path = "."
	}
	full, err := b.resolve(path)
	if err != nil {
		return "", err
	}
	if contextLines < 0 {
		contextLines = 0
	}
	if contextLines > 5 {
		contextLines = 5
	}

	cmd := fmt.Sprintf(
		`rg --color=never --line-number --no-heading --context=%d -g '!.git' -g '!node_modules' -g '!__pycache__' -g '!.venv' -g '!venv' -g '!dist' -g '!build' -g '!*.lock' -g '!*.lockb' %q %q 2>/dev/null || grep -rn -C %d %q %q`,
		contextLines, pattern, full, contextLines, pattern, full,
	)
	result, err := b.RunCommand(ctx, cmd, 15*time.Second)
	if err != nil {
		return "", fmt.Errorf("grep: %w", err)
	}
	if result.ExitCode == 1 && strings.TrimSpace(result.Stdout) == "" {
		return fmt.Sprintf("No matches found for %q in %s", pattern, path), nil
	}

	lines := strings.Split(strings.TrimRight(result.Stdout, "\n"), "\n")
	const maxLines = 150
	var b2 strings.Builder
	fmt.Fprintf(&b2, "Query: %s\nPath: %s\n---\n", pattern, path)
	if len(lines) > maxLines {
		b2.WriteString(strings.Join(lines[:maxLines], "\n"))
		fmt.Fprintf(&b2, "\n... (%d more lines. Use a more specific path or query to narrow results.)", len(lines)-maxLines)
	} else {
		b2.WriteString(strings.Join(lines, "\n"))
	}
	return b2.String(), nil
}

// FuzzyFind scores every file under the workspace against query and
// returns the top 10 matches scoring at least 40.
func (b *LocalBackend) FuzzyFind(ctx context.Context, query string) ([]Match, error) {
	files, err := b.allFiles(ctx, ".")
	if err != nil {
		return nil, err
	}
	return topMatches(query, files), nil
}

func (b *LocalBackend) allFiles(ctx context.Context, dir string) ([]string, error) {
	var out []string
	entries, err := b.ListDir(ctx, dir)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		rel := e.Name
		if dir != "." {
			rel = dir + "/" + e.Name
		}
		if e.IsDir {
			sub, err := b.allFiles(ctx, rel)
			if err != nil {
				continue
			}
			out = append(out, sub...)
		} else {
			out = append(out, rel)
		}
	}
	return out, nil
}
