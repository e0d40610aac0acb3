package orchestrator

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/jxucoder/previewd/internal/agentpipeline"
	"github.com/jxucoder/previewd/internal/llm"
	"github.com/jxucoder/previewd/internal/model"
	"github.com/jxucoder/previewd/internal/planreview"
	"github.com/jxucoder/previewd/internal/sandboxmgr"
)

// --- fakeStore: an in-memory Store good enough to drive the state machine ---

type fakeStore struct {
	mu       sync.Mutex
	sessions map[string]*model.Session
	messages map[string][]*model.Message
}

func newFakeStore() *fakeStore {
	return &fakeStore{sessions: make(map[string]*model.Session), messages: make(map[string][]*model.Message)}
}

func (f *fakeStore) CreateSession(s *model.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *s
	f.sessions[s.ID] = &cp
	return nil
}

func (f *fakeStore) GetSession(id string) (*model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *s
	return &cp, nil
}

func (f *fakeStore) GetOwnedSession(id, userID string) (*model.Session, error) {
	s, err := f.GetSession(id)
	if err != nil {
		return nil, err
	}
	if s.UserID != userID {
		return nil, sql.ErrNoRows
	}
	return s, nil
}

func (f *fakeStore) ListSessions(userID string) ([]*model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.Session
	for _, s := range f.sessions {
		if s.UserID == userID {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeStore) UpdateSession(s *model.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.sessions[s.ID]; !ok {
		return sql.ErrNoRows
	}
	cp := *s
	f.sessions[s.ID] = &cp
	return nil
}

func (f *fakeStore) DeleteSession(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, id)
	delete(f.messages, id)
	return nil
}

func (f *fakeStore) AddMessage(m *model.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m.ID = int64(len(f.messages[m.SessionID]) + 1)
	cp := *m
	f.messages[m.SessionID] = append(f.messages[m.SessionID], &cp)
	return nil
}

func (f *fakeStore) LastMessages(sessionID string, n int) ([]*model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	all := f.messages[sessionID]
	if len(all) <= n {
		return append([]*model.Message{}, all...), nil
	}
	return append([]*model.Message{}, all[len(all)-n:]...), nil
}

func (f *fakeStore) GetMessages(sessionID string) ([]*model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*model.Message{}, f.messages[sessionID]...), nil
}

func (f *fakeStore) PersistTurn(msg *model.Message, sess *model.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.sessions[sess.ID]; !ok {
		return fmt.Errorf("no such session")
	}
	msg.ID = int64(len(f.messages[msg.SessionID]) + 1)
	cp := *msg
	f.messages[msg.SessionID] = append(f.messages[msg.SessionID], &cp)
	sessCp := *sess
	f.sessions[sess.ID] = &sessCp
	return nil
}

// --- fakeSandboxes ---

type fakeSandboxes struct {
	mu        sync.Mutex
	failCreate bool
	workspace  string
	destroyed  []string
}

func (f *fakeSandboxes) Create(ctx context.Context, userID string) (*sandboxmgr.UserSandbox, error) {
	if f.failCreate {
		return nil, errors.New("provisioning failed")
	}
	return &sandboxmgr.UserSandbox{UserID: userID, SandboxID: uuid.NewString(), WorkspaceRoot: f.workspace}, nil
}

func (f *fakeSandboxes) Get(userID string) (*sandboxmgr.UserSandbox, bool) {
	return nil, false
}

func (f *fakeSandboxes) Destroy(ctx context.Context, userID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.destroyed = append(f.destroyed, userID)
	return true
}

func (f *fakeSandboxes) GetPreviewURL(ctx context.Context, userID string, port int) string {
	return "https://preview.example/" + userID
}

func newTestOrchestrator(t *testing.T, client llm.Client, failCreate bool) (*Orchestrator, *fakeStore, *fakeSandboxes) {
	t.Helper()
	st := newFakeStore()
	sb := &fakeSandboxes{failCreate: failCreate, workspace: t.TempDir()}
	pipeline := agentpipeline.New(client, "system prompt")
	orch := New(st, sb, pipeline, Config{})
	return orch, st, sb
}

func drain(t *testing.T, ch <-chan Event, timeout time.Duration) []Event {
	t.Helper()
	var events []Event
	deadline := time.After(timeout)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-deadline:
			t.Fatal("timed out draining event stream")
		}
	}
}

func TestFirstMessageProvisionsSandboxAndCompletesTurn(t *testing.T) {
	client := &llm.MockClient{Turn: []llm.Event{
		{Kind: llm.EventToolStart, ToolName: "write_file", ToolArgs: map[string]any{"path": "a.txt"}},
		{Kind: llm.EventToolEnd, ToolName: "write_file", ToolResult: "wrote a.txt"},
		{Kind: llm.EventToolStart, ToolName: "show_user_message", ToolArgs: map[string]any{"message": "done!"}},
		{Kind: llm.EventToolEnd, ToolName: "show_user_message"},
		{Kind: llm.EventFinish},
	}}
	orch, st, _ := newTestOrchestrator(t, client, false)
	ctx := context.Background()

	sess, err := orch.CreateSession("alice")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if sess.Status != model.SessionPending {
		t.Fatalf("expected pending, got %s", sess.Status)
	}

	if err := orch.SendMessage(sess.ID, "alice", "build me a counter"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	ch, err := orch.StreamEvents(ctx, sess.ID, "alice")
	if err != nil {
		t.Fatalf("StreamEvents: %v", err)
	}
	events := drain(t, ch, 2*time.Second)

	if events[0].Kind != EventPreviewURL || events[0].URL == "" {
		t.Fatalf("expected preview_url first, got %+v", events[0])
	}

	var sawToolStart, sawToolEnd, sawUserMessage, sawDone bool
	for _, ev := range events {
		switch ev.Kind {
		case EventToolStart:
			sawToolStart = true
		case EventToolEnd:
			sawToolEnd = true
		case EventUserMessage:
			sawUserMessage = true
		case EventDone:
			sawDone = true
		}
	}
	if !sawToolStart || !sawToolEnd || !sawUserMessage || !sawDone {
		t.Fatalf("missing expected event kinds: %+v", events)
	}

	final, err := st.GetSession(sess.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if final.Status != model.SessionReady {
		t.Fatalf("expected ready, got %s", final.Status)
	}
	if final.SandboxID == "" || final.PreviewURL == "" {
		t.Fatal("expected sandbox_id and preview_url to be set")
	}

	msgs, _ := st.GetMessages(sess.ID)
	if len(msgs) != 2 {
		t.Fatalf("expected user+assistant messages, got %d", len(msgs))
	}
	if msgs[1].Content != "done!" {
		t.Fatalf("expected assistant content from user_message, got %q", msgs[1].Content)
	}
}

func TestSendMessageRejectsWhileBusy(t *testing.T) {
	client := &llm.MockClient{Turn: []llm.Event{{Kind: llm.EventFinish}}}
	orch, _, _ := newTestOrchestrator(t, client, false)

	sess, _ := orch.CreateSession("bob")
	if err := orch.SendMessage(sess.ID, "bob", "first"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if err := orch.SendMessage(sess.ID, "bob", "second"); !errors.Is(err, ErrConcurrency) {
		t.Fatalf("expected ErrConcurrency, got %v", err)
	}
}

func TestSendMessageRejectsTerminatedSession(t *testing.T) {
	client := &llm.MockClient{Turn: []llm.Event{{Kind: llm.EventFinish}}}
	orch, st, _ := newTestOrchestrator(t, client, false)

	sess, _ := orch.CreateSession("carol")
	sess.Status = model.SessionTerminated
	st.UpdateSession(sess)

	if err := orch.SendMessage(sess.ID, "carol", "hi"); !errors.Is(err, ErrState) {
		t.Fatalf("expected ErrState, got %v", err)
	}
}

func TestStreamEventsWithoutPendingMessageErrors(t *testing.T) {
	client := &llm.MockClient{}
	orch, _, _ := newTestOrchestrator(t, client, false)

	sess, _ := orch.CreateSession("dave")
	if _, err := orch.StreamEvents(context.Background(), sess.ID, "dave"); !errors.Is(err, ErrNoPending) {
		t.Fatalf("expected ErrNoPending, got %v", err)
	}
}

func TestProvisioningFailureEmitsErrorThenDoneAndReady(t *testing.T) {
	client := &llm.MockClient{}
	orch, st, _ := newTestOrchestrator(t, client, true)

	sess, _ := orch.CreateSession("erin")
	if err := orch.SendMessage(sess.ID, "erin", "hi"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	ch, err := orch.StreamEvents(context.Background(), sess.ID, "erin")
	if err != nil {
		t.Fatalf("StreamEvents: %v", err)
	}
	events := drain(t, ch, 2*time.Second)
	if len(events) != 2 || events[0].Kind != EventError || events[1].Kind != EventDone {
		t.Fatalf("expected [error done], got %+v", events)
	}

	final, _ := st.GetSession(sess.ID)
	if final.Status != model.SessionReady {
		t.Fatalf("expected session back to ready, got %s", final.Status)
	}
	msgs, _ := st.GetMessages(sess.ID)
	if len(msgs) != 1 {
		t.Fatalf("expected no assistant message persisted beyond the user message, got %d messages", len(msgs))
	}
}

func TestDeleteSessionDestroysSandboxAndTerminates(t *testing.T) {
	client := &llm.MockClient{}
	orch, st, sb := newTestOrchestrator(t, client, false)

	sess, _ := orch.CreateSession("frank")
	if err := orch.DeleteSession(context.Background(), sess.ID, "frank"); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}

	if len(sb.destroyed) != 1 || sb.destroyed[0] != "frank" {
		t.Fatalf("expected sandbox destroyed for frank, got %v", sb.destroyed)
	}
	if _, err := st.GetSession(sess.ID); !errors.Is(err, sql.ErrNoRows) {
		t.Fatal("expected session to be deleted from the store")
	}
}

func TestGetSessionIndistinguishableNotFoundVsWrongOwner(t *testing.T) {
	client := &llm.MockClient{}
	orch, _, _ := newTestOrchestrator(t, client, false)

	sess, _ := orch.CreateSession("grace")
	if _, err := orch.GetSession(sess.ID, "mallory"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for wrong owner, got %v", err)
	}
	if _, err := orch.GetSession("does-not-exist", "grace"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown session, got %v", err)
	}
}

func TestSendMessageConcurrentCallsAcceptExactlyOne(t *testing.T) {
	client := &llm.MockClient{Turn: []llm.Event{{Kind: llm.EventFinish}}}
	orch, _, _ := newTestOrchestrator(t, client, false)
	sess, _ := orch.CreateSession("heidi")

	var wg sync.WaitGroup
	results := make([]error, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = orch.SendMessage(sess.ID, "heidi", "go")
		}(i)
	}
	wg.Wait()

	var accepted, rejected int
	for _, err := range results {
		switch {
		case err == nil:
			accepted++
		case errors.Is(err, ErrConcurrency):
			rejected++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if accepted != 1 {
		t.Fatalf("expected exactly one accepted send, got %d accepted, %d rejected", accepted, rejected)
	}
	if rejected != len(results)-1 {
		t.Fatalf("expected the rest rejected with ErrConcurrency, got %d rejected", rejected)
	}
}

// --- fakePlanner: exercises internal/planreview's wiring into runTurn ---

type fakePlanner struct {
	mu            sync.Mutex
	planCalls     int
	reviewCalls   int
	reviewApprove []bool // per-Review-call verdicts; true once exhausted
}

func (f *fakePlanner) Plan(ctx context.Context, prompt, workspaceContext string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.planCalls++
	return "plan for: " + prompt, nil
}

func (f *fakePlanner) EnrichPrompt(originalPrompt, plan string) string {
	return "enriched: " + originalPrompt
}

func (f *fakePlanner) RevisePrompt(originalPrompt, plan, feedback string) string {
	return "revised: " + originalPrompt + " because " + feedback
}

func (f *fakePlanner) Review(ctx context.Context, prompt, plan, diff string) (*planreview.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	approved := true
	if f.reviewCalls < len(f.reviewApprove) {
		approved = f.reviewApprove[f.reviewCalls]
	}
	f.reviewCalls++
	if approved {
		return &planreview.Result{Approved: true, Feedback: "looks good"}, nil
	}
	return &planreview.Result{Approved: false, Feedback: "fix the thing"}, nil
}

func TestPlannerWrapsTurnAndRunsRevisionRoundOnRejection(t *testing.T) {
	client := &llm.MockClient{Turn: []llm.Event{
		{Kind: llm.EventToolStart, ToolName: "write_file", ToolArgs: map[string]any{"path": "a.txt"}},
		{Kind: llm.EventToolEnd, ToolName: "write_file", ToolResult: "wrote a.txt"},
		{Kind: llm.EventFinish},
	}}
	st := newFakeStore()
	sb := &fakeSandboxes{workspace: t.TempDir()}
	pipeline := agentpipeline.New(client, "system prompt")
	planner := &fakePlanner{reviewApprove: []bool{false, true}}
	orch := New(st, sb, pipeline, Config{Planner: planner, MaxRevisions: 2})

	sess, err := orch.CreateSession("ivan")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if err := orch.SendMessage(sess.ID, "ivan", "build me a counter"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	ch, err := orch.StreamEvents(context.Background(), sess.ID, "ivan")
	if err != nil {
		t.Fatalf("StreamEvents: %v", err)
	}
	events := drain(t, ch, 2*time.Second)

	var doneCount int
	for _, ev := range events {
		if ev.Kind == EventDone {
			doneCount++
		}
	}
	if doneCount != 2 {
		t.Fatalf("expected two pipeline rounds (initial + one revision), got %d done events: %+v", doneCount, events)
	}

	planner.mu.Lock()
	planCalls, reviewCalls := planner.planCalls, planner.reviewCalls
	planner.mu.Unlock()
	if planCalls != 1 {
		t.Fatalf("expected Plan called once per turn, got %d", planCalls)
	}
	if reviewCalls != 2 {
		t.Fatalf("expected Review called once per completed round, got %d", reviewCalls)
	}

	final, err := st.GetSession(sess.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if final.Status != model.SessionReady {
		t.Fatalf("expected ready after the turn settles, got %s", final.Status)
	}

	msgs, _ := st.GetMessages(sess.ID)
	if len(msgs) != 2 {
		t.Fatalf("expected user+assistant messages persisted once, got %d", len(msgs))
	}
}

func TestPlannerStopsAtMaxRevisions(t *testing.T) {
	client := &llm.MockClient{Turn: []llm.Event{
		{Kind: llm.EventToolStart, ToolName: "write_file", ToolArgs: map[string]any{"path": "a.txt"}},
		{Kind: llm.EventToolEnd, ToolName: "write_file", ToolResult: "wrote a.txt"},
		{Kind: llm.EventFinish},
	}}
	st := newFakeStore()
	sb := &fakeSandboxes{workspace: t.TempDir()}
	pipeline := agentpipeline.New(client, "system prompt")
	planner := &fakePlanner{reviewApprove: []bool{false, false, false}}
	orch := New(st, sb, pipeline, Config{Planner: planner, MaxRevisions: 1})

	sess, _ := orch.CreateSession("judy")
	if err := orch.SendMessage(sess.ID, "judy", "build me a counter"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	ch, err := orch.StreamEvents(context.Background(), sess.ID, "judy")
	if err != nil {
		t.Fatalf("StreamEvents: %v", err)
	}
	events := drain(t, ch, 2*time.Second)

	var doneCount int
	for _, ev := range events {
		if ev.Kind == EventDone {
			doneCount++
		}
	}
	if doneCount != 2 {
		t.Fatalf("expected exactly 1+MaxRevisions=2 rounds even though review never approves, got %d", doneCount)
	}

	planner.mu.Lock()
	reviewCalls := planner.reviewCalls
	planner.mu.Unlock()
	if reviewCalls != 1 {
		t.Fatalf("expected Review called once (the final round's rejection isn't re-reviewed), got %d calls", reviewCalls)
	}
}
