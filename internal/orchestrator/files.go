package orchestrator

import (
	"context"
	"errors"

	"github.com/jxucoder/previewd/internal/filebackend"
)

// ErrNoSandbox is returned by the file endpoints when a session has not
// yet provisioned a sandbox (no turn has run yet).
var ErrNoSandbox = errors.New("orchestrator: session has no sandbox yet")

func (o *Orchestrator) sessionTools(sessionID, userID string) (filebackend.Backend, error) {
	if _, err := o.GetSession(sessionID, userID); err != nil {
		return nil, err
	}
	o.mu.Lock()
	tools, ok := o.tools[sessionID]
	o.mu.Unlock()
	if !ok {
		return nil, ErrNoSandbox
	}
	return tools.Backend(), nil
}

// ListFiles lists a workspace directory's entries.
func (o *Orchestrator) ListFiles(ctx context.Context, sessionID, userID, path string) ([]filebackend.Entry, error) {
	backend, err := o.sessionTools(sessionID, userID)
	if err != nil {
		return nil, err
	}
	return backend.ListDir(ctx, path)
}

// ReadFile reads a workspace file's content through the session's cache,
// so it observes what an in-flight turn would see.
func (o *Orchestrator) ReadFile(ctx context.Context, sessionID, userID, path string) (string, error) {
	if _, err := o.GetSession(sessionID, userID); err != nil {
		return "", err
	}
	o.mu.Lock()
	tools, ok := o.tools[sessionID]
	o.mu.Unlock()
	if !ok {
		return "", ErrNoSandbox
	}
	return tools.Cache().ReadFile(ctx, path)
}

// WriteFile writes a workspace file's content through the session's
// cache, invalidating any stale entry.
func (o *Orchestrator) WriteFile(ctx context.Context, sessionID, userID, path, content string) error {
	if _, err := o.GetSession(sessionID, userID); err != nil {
		return err
	}
	o.mu.Lock()
	tools, ok := o.tools[sessionID]
	o.mu.Unlock()
	if !ok {
		return ErrNoSandbox
	}
	return tools.Cache().WriteFile(ctx, path, content)
}

// WorkspaceRoot returns the absolute path of the session's sandbox
// workspace, for the download-tarball endpoint.
func (o *Orchestrator) WorkspaceRoot(sessionID, userID string) (string, error) {
	backend, err := o.sessionTools(sessionID, userID)
	if err != nil {
		return "", err
	}
	return backend.Root(), nil
}
