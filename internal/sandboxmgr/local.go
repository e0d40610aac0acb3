package sandboxmgr

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// LocalProvider is the local-development reference Provider: each
// "sandbox" is a plain directory under BaseDir, and preview URLs pass
// straight through to localhost since there is no remote host to map a
// port on. It has no image/template concept; Template is accepted and
// ignored for interface compatibility with a remote Provider.
type LocalProvider struct {
	baseDir string

	mu      sync.Mutex
	running map[string]bool
}

// NewLocalProvider creates a LocalProvider rooted at baseDir.
func NewLocalProvider(baseDir string) (*LocalProvider, error) {
	abs, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("resolving base dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("creating base dir: %w", err)
	}
	return &LocalProvider{baseDir: abs, running: make(map[string]bool)}, nil
}

func (p *LocalProvider) Create(_ context.Context, opts CreateOptions) (string, string, error) {
	sandboxID := uuid.NewString()
	root := filepath.Join(p.baseDir, sandboxID)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return "", "", fmt.Errorf("creating workspace: %w", err)
	}

	p.mu.Lock()
	p.running[sandboxID] = true
	p.mu.Unlock()

	return sandboxID, root, nil
}

func (p *LocalProvider) Destroy(_ context.Context, sandboxID string) error {
	p.mu.Lock()
	delete(p.running, sandboxID)
	p.mu.Unlock()

	root := filepath.Join(p.baseDir, sandboxID)
	return os.RemoveAll(root)
}

// PreviewURL passes straight through to localhost: a LocalProvider sandbox
// runs dev servers on the same host as previewd itself.
func (p *LocalProvider) PreviewURL(_ context.Context, sandboxID string, port int) (string, error) {
	p.mu.Lock()
	running := p.running[sandboxID]
	p.mu.Unlock()
	if !running {
		return "", nil
	}
	return fmt.Sprintf("https://localhost:%d", port), nil
}

func (p *LocalProvider) IsRunning(_ context.Context, sandboxID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running[sandboxID]
}
