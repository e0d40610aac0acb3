// Package orchestrator implements the session state machine: it binds
// HTTP requests to a single in-flight agent turn per session,
// provisions the sandbox on first message, persists turns with their
// step traces, and surfaces a normalized event stream to one
// subscriber at a time.
package orchestrator

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jxucoder/previewd/internal/agentpipeline"
	"github.com/jxucoder/previewd/internal/filebackend"
	"github.com/jxucoder/previewd/internal/model"
	"github.com/jxucoder/previewd/internal/planreview"
	"github.com/jxucoder/previewd/internal/procexec"
	"github.com/jxucoder/previewd/internal/sandboxmgr"
)

// Sentinel errors for the error taxonomy of spec.md §7 that the HTTP
// boundary maps onto status codes.
var (
	ErrNotFound    = errors.New("orchestrator: session not found")
	ErrConcurrency = errors.New("orchestrator: session busy")
	ErrState       = errors.New("orchestrator: session in wrong state")
	ErrNoPending   = errors.New("orchestrator: no pending message for session")
)

// Store is the subset of *store.Store the orchestrator depends on.
type Store interface {
	CreateSession(*model.Session) error
	GetSession(id string) (*model.Session, error)
	GetOwnedSession(id, userID string) (*model.Session, error)
	ListSessions(userID string) ([]*model.Session, error)
	UpdateSession(*model.Session) error
	DeleteSession(id string) error
	AddMessage(*model.Message) error
	LastMessages(sessionID string, n int) ([]*model.Message, error)
	GetMessages(sessionID string) ([]*model.Message, error)
	PersistTurn(msg *model.Message, sess *model.Session) error
}

// Sandboxes is the subset of *sandboxmgr.Manager the orchestrator depends on.
type Sandboxes interface {
	Create(ctx context.Context, userID string) (*sandboxmgr.UserSandbox, error)
	Get(userID string) (*sandboxmgr.UserSandbox, bool)
	Destroy(ctx context.Context, userID string) bool
	GetPreviewURL(ctx context.Context, userID string, port int) string
}

// BackendFactory builds the Backend a session's Tools are bound to,
// rooted at a sandbox's workspace. LocalBackendFactory (the default)
// is correct for sandboxmgr.LocalProvider; a remote sandbox provider
// supplies its own factory wrapping filebackend.NewRemoteBackend.
type BackendFactory func(workspaceRoot string) (filebackend.Backend, error)

// LocalBackendFactory builds a filebackend.LocalBackend rooted at workspaceRoot.
func LocalBackendFactory(workspaceRoot string) (filebackend.Backend, error) {
	return filebackend.NewLocalBackend(workspaceRoot)
}

// Config tunes an Orchestrator. Zero values fall back to documented defaults.
type Config struct {
	HistoryLimit   int // default agentpipeline.DefaultHistoryLimit (6)
	PreviewPort    int // default 5173
	CacheCapacity  int // default 0 (filecache.New default of 50)
	ExecConfig     procexec.Config
	BackendFactory BackendFactory

	// Planner, when set, wraps every turn in a plan-before/review-after
	// pass (internal/planreview). Nil disables it entirely -- a turn
	// then runs exactly the chat message the user sent.
	Planner Planner
	// MaxRevisions caps how many review-requested revision rounds a
	// turn runs before giving up and returning the last attempt.
	// default 1. Ignored when Planner is nil.
	MaxRevisions int
}

func (c *Config) setDefaults() {
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = agentpipeline.DefaultHistoryLimit
	}
	if c.PreviewPort <= 0 {
		c.PreviewPort = 5173
	}
	if c.BackendFactory == nil {
		c.BackendFactory = LocalBackendFactory
	}
	if c.MaxRevisions <= 0 {
		c.MaxRevisions = 1
	}
}

// Planner is the subset of *planreview.Pipeline the orchestrator drives
// around a turn. Matches internal/planreview's exact method shapes so a
// *planreview.Pipeline satisfies it directly.
type Planner interface {
	Plan(ctx context.Context, prompt, workspaceContext string) (string, error)
	EnrichPrompt(originalPrompt, plan string) string
	RevisePrompt(originalPrompt, plan, feedback string) string
	Review(ctx context.Context, prompt, plan, diff string) (*planreview.Result, error)
}

type pendingMessage struct {
	userID       string
	content      string
	needsSandbox bool
}

// Orchestrator is the session state machine described in spec.md §4.5.
type Orchestrator struct {
	store     Store
	sandboxes Sandboxes
	pipeline  *agentpipeline.Pipeline
	cfg       Config

	mu           sync.Mutex
	pending      map[string]*pendingMessage
	tools        map[string]*agentpipeline.Tools
	sessionLocks map[string]*sync.Mutex
}

// New builds an Orchestrator.
func New(st Store, sandboxes Sandboxes, pipeline *agentpipeline.Pipeline, cfg Config) *Orchestrator {
	cfg.setDefaults()
	return &Orchestrator{
		store:        st,
		sandboxes:    sandboxes,
		pipeline:     pipeline,
		cfg:          cfg,
		pending:      make(map[string]*pendingMessage),
		tools:        make(map[string]*agentpipeline.Tools),
		sessionLocks: make(map[string]*sync.Mutex),
	}
}

// sessionLock returns the mutex that serializes SendMessage's
// check-and-set against concurrent callers for the same session,
// creating it on first use.
func (o *Orchestrator) sessionLock(sessionID string) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	l, ok := o.sessionLocks[sessionID]
	if !ok {
		l = &sync.Mutex{}
		o.sessionLocks[sessionID] = l
	}
	return l
}

// --- Session CRUD ---

// CreateSession creates a new pending session owned by userID.
func (o *Orchestrator) CreateSession(userID string) (*model.Session, error) {
	now := time.Now().UTC()
	sess := &model.Session{
		ID:           uuid.NewString(),
		UserID:       userID,
		Status:       model.SessionPending,
		CreatedAt:    now,
		LastActivity: now,
	}
	if err := o.store.CreateSession(sess); err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}
	return sess, nil
}

// ListSessions returns userID's sessions, newest first.
func (o *Orchestrator) ListSessions(userID string) ([]*model.Session, error) {
	return o.store.ListSessions(userID)
}

// GetSession returns a session owned by userID.
func (o *Orchestrator) GetSession(sessionID, userID string) (*model.Session, error) {
	sess, err := o.store.GetOwnedSession(sessionID, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return sess, nil
}

// GetMessages returns a session's persisted messages, oldest first.
func (o *Orchestrator) GetMessages(sessionID, userID string) ([]*model.Message, error) {
	if _, err := o.GetSession(sessionID, userID); err != nil {
		return nil, err
	}
	return o.store.GetMessages(sessionID)
}

// SetTitle updates a session's title.
func (o *Orchestrator) SetTitle(sessionID, userID, title string) (*model.Session, error) {
	sess, err := o.GetSession(sessionID, userID)
	if err != nil {
		return nil, err
	}
	sess.Title = title
	if err := o.store.UpdateSession(sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// DeleteSession destroys the session's sandbox (best-effort) and marks
// it terminated.
func (o *Orchestrator) DeleteSession(ctx context.Context, sessionID, userID string) error {
	sess, err := o.GetSession(sessionID, userID)
	if err != nil {
		return err
	}
	o.sandboxes.Destroy(ctx, userID)

	o.mu.Lock()
	delete(o.tools, sessionID)
	delete(o.pending, sessionID)
	delete(o.sessionLocks, sessionID)
	o.mu.Unlock()

	sess.Status = model.SessionTerminated
	sess.LastActivity = time.Now().UTC()
	if err := o.store.UpdateSession(sess); err != nil {
		return err
	}
	return o.store.DeleteSession(sessionID)
}

// --- Turn state machine ---

// SendMessage appends a user message and records a pending slot for
// the subsequent subscription to consume. It does not itself run the
// agent turn.
//
// The status read, busy write, and pending-slot set all happen while
// holding this session's lock, so two concurrent calls for the same
// session can't both observe "ready" and both win: the second blocks
// until the first has already flipped the status to busy, then sees
// busy itself and is rejected.
func (o *Orchestrator) SendMessage(sessionID, userID, content string) error {
	lock := o.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	sess, err := o.GetSession(sessionID, userID)
	if err != nil {
		return err
	}
	// busy and creating are both "a turn is in flight" -- creating is
	// the sub-phase of the first turn spent provisioning the sandbox,
	// per the session lifecycle in spec.md §3.
	if sess.Status == model.SessionBusy || sess.Status == model.SessionCreating {
		return ErrConcurrency
	}
	if sess.Status != model.SessionPending && sess.Status != model.SessionReady {
		return ErrState
	}

	o.mu.Lock()
	_, slotTaken := o.pending[sessionID]
	o.mu.Unlock()
	if slotTaken {
		return ErrConcurrency
	}

	msg := &model.Message{
		SessionID: sessionID,
		Role:      model.RoleUser,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	if err := o.store.AddMessage(msg); err != nil {
		return fmt.Errorf("appending message: %w", err)
	}

	sess.Status = model.SessionBusy
	sess.LastActivity = time.Now().UTC()
	if err := o.store.UpdateSession(sess); err != nil {
		return fmt.Errorf("updating session: %w", err)
	}

	o.mu.Lock()
	o.pending[sessionID] = &pendingMessage{
		userID:       userID,
		content:      content,
		needsSandbox: sess.SandboxID == "",
	}
	o.mu.Unlock()
	return nil
}

// StreamEvents consumes the pending slot and returns the turn's event
// stream. The channel is always closed, and the session always ends
// back in ready (or terminated, if deleted concurrently) by the time
// it closes.
func (o *Orchestrator) StreamEvents(ctx context.Context, sessionID, userID string) (<-chan Event, error) {
	if _, err := o.GetSession(sessionID, userID); err != nil {
		return nil, err
	}

	o.mu.Lock()
	slot, ok := o.pending[sessionID]
	if ok {
		delete(o.pending, sessionID)
	}
	o.mu.Unlock()
	if !ok {
		return nil, ErrNoPending
	}

	out := make(chan Event, 16)
	go o.runTurn(ctx, sessionID, slot, out)
	return out, nil
}
