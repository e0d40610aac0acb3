// Package sandboxmgr maintains the user-id -> UserSandbox mapping with
// strict one-sandbox-per-user semantics and deterministic preview-URL
// derivation, on top of a pluggable sandbox Provider.
package sandboxmgr

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// CreateOptions parameterizes a sandbox creation request.
type CreateOptions struct {
	UserID   string
	Template string        // provider template/image id
	Timeout  time.Duration // provider-side idle/session timeout
}

// Provider is the external sandbox runtime collaborator: it allocates and
// destroys sandboxes and reports the public URL a port maps to. A
// production Provider talks to a real sandbox SDK over the network;
// LocalProvider is the local-dev reference implementation.
type Provider interface {
	Create(ctx context.Context, opts CreateOptions) (sandboxID, workspaceRoot string, err error)
	Destroy(ctx context.Context, sandboxID string) error
	PreviewURL(ctx context.Context, sandboxID string, port int) (string, error)
	IsRunning(ctx context.Context, sandboxID string) bool
}

// UserSandbox is one user's active sandbox session.
type UserSandbox struct {
	UserID        string
	SandboxID     string
	WorkspaceRoot string
	PreviewURL    string
	CreatedAt     time.Time
}

// Config tunes a Manager. Zero values fall back to documented defaults.
type Config struct {
	Template       string
	Timeout        time.Duration
	DefaultPreview int // default preview port, 5173
}

func (c *Config) setDefaults() {
	if c.DefaultPreview <= 0 {
		c.DefaultPreview = 5173
	}
}

// Manager is a per-user singleton sandbox registry.
type Manager struct {
	provider Provider
	cfg      Config

	mu        sync.Mutex
	sandboxes map[string]*UserSandbox
}

// New creates a Manager backed by provider.
func New(provider Provider, cfg Config) *Manager {
	cfg.setDefaults()
	return &Manager{
		provider:  provider,
		cfg:       cfg,
		sandboxes: make(map[string]*UserSandbox),
	}
}

// Create allocates a fresh sandbox for userID, destroying any existing one
// first. Provider errors during creation propagate.
func (m *Manager) Create(ctx context.Context, userID string) (*UserSandbox, error) {
	m.mu.Lock()
	existing, ok := m.sandboxes[userID]
	m.mu.Unlock()
	if ok {
		_ = m.destroySandbox(ctx, existing)
	}

	sandboxID, workspaceRoot, err := m.provider.Create(ctx, CreateOptions{
		UserID:   userID,
		Template: m.cfg.Template,
		Timeout:  m.cfg.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("creating sandbox for %s: %w", userID, err)
	}

	sb := &UserSandbox{
		UserID:        userID,
		SandboxID:     sandboxID,
		WorkspaceRoot: workspaceRoot,
		CreatedAt:     time.Now(),
	}

	m.mu.Lock()
	m.sandboxes[userID] = sb
	m.mu.Unlock()

	return sb, nil
}

// GetOrCreate returns the user's sandbox, creating one if absent.
func (m *Manager) GetOrCreate(ctx context.Context, userID string) (*UserSandbox, error) {
	if sb, ok := m.Get(userID); ok {
		return sb, nil
	}
	return m.Create(ctx, userID)
}

// Get performs a nullable lookup.
func (m *Manager) Get(userID string) (*UserSandbox, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sb, ok := m.sandboxes[userID]
	return sb, ok
}

// Destroy pops userID's sandbox and best-effort tears it down. Provider
// errors are swallowed; the mapping is removed regardless.
func (m *Manager) Destroy(ctx context.Context, userID string) bool {
	m.mu.Lock()
	sb, ok := m.sandboxes[userID]
	if ok {
		delete(m.sandboxes, userID)
	}
	m.mu.Unlock()
	if !ok {
		return false
	}
	m.destroySandbox(ctx, sb)
	return true
}

// DestroyAll terminates every registered sandbox and returns the count.
func (m *Manager) DestroyAll(ctx context.Context) int {
	m.mu.Lock()
	all := make([]*UserSandbox, 0, len(m.sandboxes))
	for _, sb := range m.sandboxes {
		all = append(all, sb)
	}
	m.sandboxes = make(map[string]*UserSandbox)
	m.mu.Unlock()

	for _, sb := range all {
		m.destroySandbox(ctx, sb)
	}
	return len(all)
}

func (m *Manager) destroySandbox(ctx context.Context, sb *UserSandbox) error {
	if err := m.provider.Destroy(ctx, sb.SandboxID); err != nil {
		return nil // provider errors during destroy are swallowed
	}
	return nil
}

// GetPreviewURL asks the provider for the public host mapped to port
// (default 5173), prefixed with https://. Returns "" if unavailable.
func (m *Manager) GetPreviewURL(ctx context.Context, userID string, port int) string {
	if port <= 0 {
		port = m.cfg.DefaultPreview
	}
	sb, ok := m.Get(userID)
	if !ok {
		return ""
	}
	url, err := m.provider.PreviewURL(ctx, sb.SandboxID, port)
	if err != nil || url == "" {
		return ""
	}

	m.mu.Lock()
	sb.PreviewURL = url
	m.mu.Unlock()
	return url
}

// ListUsers returns every user-id with a currently registered sandbox.
func (m *Manager) ListUsers() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	users := make([]string, 0, len(m.sandboxes))
	for userID := range m.sandboxes {
		users = append(users, userID)
	}
	return users
}
