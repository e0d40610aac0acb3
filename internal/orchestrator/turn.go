package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jxucoder/previewd/internal/agentpipeline"
	"github.com/jxucoder/previewd/internal/filecache"
	"github.com/jxucoder/previewd/internal/llm"
	"github.com/jxucoder/previewd/internal/model"
	"github.com/jxucoder/previewd/internal/procexec"
)

// runTurn drives one agent turn end to end and always leaves the
// session in ready (success, error, or cancellation) or whatever a
// concurrent delete left it in. It is the sole writer of events to out
// and always closes it.
func (o *Orchestrator) runTurn(ctx context.Context, sessionID string, slot *pendingMessage, out chan<- Event) {
	defer close(out)

	emit := func(ev Event) bool {
		select {
		case out <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	sess, err := o.store.GetSession(sessionID)
	if err != nil {
		emit(Event{Kind: EventError, Message: err.Error()})
		emit(Event{Kind: EventDone})
		return
	}

	if slot.needsSandbox {
		sess.Status = model.SessionCreating
		sess.LastActivity = time.Now().UTC()
		if err := o.store.UpdateSession(sess); err != nil {
			emit(Event{Kind: EventError, Message: err.Error()})
			emit(Event{Kind: EventDone})
			return
		}

		sb, err := o.sandboxes.Create(ctx, slot.userID)
		if err != nil {
			emit(Event{Kind: EventError, Message: err.Error()})
			emit(Event{Kind: EventDone})
			o.backToReady(sess)
			return
		}
		sess.SandboxID = sb.SandboxID
		sess.PreviewURL = o.sandboxes.GetPreviewURL(ctx, slot.userID, o.cfg.PreviewPort)

		tools, err := o.buildTools(sessionID, sb.WorkspaceRoot)
		if err != nil {
			emit(Event{Kind: EventError, Message: err.Error()})
			emit(Event{Kind: EventDone})
			o.backToReady(sess)
			return
		}
		o.mu.Lock()
		o.tools[sessionID] = tools
		o.mu.Unlock()
	}

	o.mu.Lock()
	tools, ok := o.tools[sessionID]
	o.mu.Unlock()
	if !ok {
		emit(Event{Kind: EventError, Message: "no tools bound for session, sandbox not ready"})
		emit(Event{Kind: EventDone})
		o.backToReady(sess)
		return
	}

	if sess.PreviewURL != "" {
		if !emit(Event{Kind: EventPreviewURL, URL: sess.PreviewURL}) {
			o.backToReady(sess)
			return
		}
	}

	history, err := o.hydrateHistory(sessionID)
	if err != nil {
		emit(Event{Kind: EventError, Message: err.Error()})
		emit(Event{Kind: EventDone})
		o.backToReady(sess)
		return
	}

	// Plan before building the turn's prompt, per the orchestrator's
	// optional plan/code/review wrapping (internal/planreview). A nil
	// Planner or a failed Plan call falls back to the raw chat message,
	// exactly as sent.
	turnPrompt := slot.content
	var plan string
	if o.cfg.Planner != nil {
		workspaceCtx := o.workspaceSummary(ctx, tools)
		if p, perr := o.cfg.Planner.Plan(ctx, slot.content, workspaceCtx); perr == nil && p != "" {
			plan = p
			turnPrompt = o.cfg.Planner.EnrichPrompt(slot.content, plan)
		}
	}

	maxRounds := o.cfg.MaxRevisions
	if plan == "" {
		maxRounds = 0
	}

	var (
		assistantContent string
		allSteps         []model.StepTrace
		previewURL       = sess.PreviewURL
	)

	for round := 0; ; round++ {
		content, steps, url, sawDone, ok := o.runPipelinePass(ctx, tools, history, turnPrompt, emit)
		if !ok {
			o.backToReady(sess)
			return
		}
		assistantContent = content
		allSteps = append(allSteps, steps...)
		if url != "" {
			previewURL = url
		}
		if !sawDone {
			// Stream ended without a terminal done: subscriber
			// disconnect or an unexpected channel close. Unwind
			// without persisting.
			o.backToReady(sess)
			return
		}

		if round >= maxRounds {
			break
		}

		diff := summarizeSteps(steps)
		if diff == "" {
			break
		}
		result, rerr := o.cfg.Planner.Review(ctx, slot.content, plan, diff)
		if rerr != nil || result == nil || result.Approved {
			break
		}
		turnPrompt = o.cfg.Planner.RevisePrompt(slot.content, plan, result.Feedback)
	}

	sess.Status = model.SessionReady
	sess.LastActivity = time.Now().UTC()
	if previewURL != "" {
		sess.PreviewURL = previewURL
	}
	msg := &model.Message{
		SessionID: sessionID,
		Role:      model.RoleAssistant,
		Content:   assistantContent,
		Steps:     allSteps,
		CreatedAt: time.Now().UTC(),
	}
	if err := o.store.PersistTurn(msg, sess); err != nil {
		// Best effort: the turn's events have already reached the
		// subscriber; there is no further event to emit for a
		// persistence failure here.
		_ = err
	}
}

// runPipelinePass runs a single plan/code round of the agent pipeline
// and projects its events onto emit. ok is false only when emit itself
// reports the subscriber is gone (ctx.Done), in which case the caller
// unwinds immediately without persisting and puts the session back to
// ready -- matching the pre-round preview_url emit's contract.
func (o *Orchestrator) runPipelinePass(ctx context.Context, tools *agentpipeline.Tools, history []llm.Message, prompt string, emit func(Event) bool) (content string, steps []model.StepTrace, previewURL string, sawDone bool, ok bool) {
	pipelineCh, err := o.pipeline.Run(ctx, tools, history, prompt)
	if err != nil {
		emit(Event{Kind: EventError, Message: err.Error()})
		emit(Event{Kind: EventDone})
		return "", nil, "", false, true
	}

	stepIDs := make(map[string]int) // call id -> index into steps

	for ev := range pipelineCh {
		switch ev.Kind {
		case agentpipeline.KindToken:
			if !emit(Event{Kind: EventToken, Content: ev.Content}) {
				return "", nil, "", false, false
			}

		case agentpipeline.KindUserMessage:
			content += ev.Content
			if !emit(Event{Kind: EventUserMessage, Content: ev.Content}) {
				return "", nil, "", false, false
			}

		case agentpipeline.KindToolStart:
			step := model.StepTrace{
				ID:     newStepID(),
				Type:   model.StepTool,
				Title:  stepTitle(ev.Tool, ev.Args),
				Status: model.StepRunning,
			}
			steps = append(steps, step)
			stepIDs[ev.CallID] = len(steps) - 1
			if !emit(Event{Kind: EventToolStart, Tool: ev.Tool, Step: &steps[len(steps)-1]}) {
				return "", nil, "", false, false
			}

		case agentpipeline.KindToolEnd:
			stepID := ""
			if idx, ok := stepIDs[ev.CallID]; ok {
				steps[idx].Status = model.StepDone
				stepID = steps[idx].ID
			}
			if !emit(Event{Kind: EventToolEnd, Tool: ev.Tool, StepID: stepID}) {
				return "", nil, "", false, false
			}

		case agentpipeline.KindPreviewReady:
			previewURL = ev.URL
			step := model.StepTrace{
				ID:     newStepID(),
				Type:   model.StepPreview,
				Title:  "Preview ready",
				Status: model.StepDone,
				URL:    ev.URL,
			}
			steps = append(steps, step)
			if !emit(Event{Kind: EventPreviewReady, URL: ev.URL, Step: &steps[len(steps)-1]}) {
				return "", nil, "", false, false
			}

		case agentpipeline.KindError:
			if !emit(Event{Kind: EventError, Message: ev.Err.Error()}) {
				return "", nil, "", false, false
			}

		case agentpipeline.KindDone:
			sawDone = true
			if ev.URL != "" {
				previewURL = ev.URL
			}
			emit(Event{Kind: EventDone, URL: previewURL})
		}
	}

	return content, steps, previewURL, sawDone, true
}

// workspaceSummary builds the top-level file listing the planner uses
// to ground its plan in real paths. Best-effort: an error just means
// the planner gets no workspace context.
func (o *Orchestrator) workspaceSummary(ctx context.Context, tools *agentpipeline.Tools) string {
	entries, err := tools.Backend().ListDir(ctx, ".")
	if err != nil || len(entries) == 0 {
		return ""
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir {
			names = append(names, e.Name+"/")
		} else {
			names = append(names, e.Name)
		}
	}
	return strings.Join(names, "\n")
}

// summarizeSteps renders a round's tool activity as a diff-shaped
// summary for planreview.Review, which expects a unified-diff-style
// body. previewd has no git repository to diff against a sandboxed
// workspace, so the step trace titles stand in for it.
func summarizeSteps(steps []model.StepTrace) string {
	var b strings.Builder
	for _, s := range steps {
		if s.Type != model.StepTool {
			continue
		}
		fmt.Fprintf(&b, "- %s\n", s.Title)
	}
	return b.String()
}

func (o *Orchestrator) backToReady(sess *model.Session) {
	sess.Status = model.SessionReady
	sess.LastActivity = time.Now().UTC()
	o.store.UpdateSession(sess)
}

func (o *Orchestrator) buildTools(sessionID, workspaceRoot string) (*agentpipeline.Tools, error) {
	backend, err := o.cfg.BackendFactory(workspaceRoot)
	if err != nil {
		return nil, err
	}
	cache := filecache.New(backend, o.cfg.CacheCapacity)

	execCfg := o.cfg.ExecConfig
	execCfg.Root = workspaceRoot
	exec, err := procexec.New(execCfg)
	if err != nil {
		return nil, err
	}

	return agentpipeline.NewTools(backend, cache, exec), nil
}

// hydrateHistory loads the last HistoryLimit messages preceding the
// just-appended user message (send_message always persists it first),
// converted to alternating user/assistant llm.Message history.
func (o *Orchestrator) hydrateHistory(sessionID string) ([]llm.Message, error) {
	msgs, err := o.store.LastMessages(sessionID, o.cfg.HistoryLimit+1)
	if err != nil {
		return nil, err
	}
	if len(msgs) > 0 {
		msgs = msgs[:len(msgs)-1] // drop the pending user message itself
	}
	history := make([]llm.Message, 0, len(msgs))
	for _, m := range msgs {
		role := llm.RoleUser
		if m.Role == model.RoleAssistant {
			role = llm.RoleAssistant
		}
		history = append(history, llm.Message{Role: role, Content: m.Content})
	}
	return history, nil
}

func newStepID() string {
	return uuid.NewString()[:8]
}
