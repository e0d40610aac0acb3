// Package planreview wraps a session's coding turn with two optional LLM
// calls that sit outside the agentic tool loop: a plan generated before the
// turn runs, and a review of the resulting diff afterward. It's additive —
// the orchestrator can run a turn with or without it.
package planreview

import (
	"context"
	"fmt"
	"strings"
)

// Completer is the minimal LLM boundary planreview needs — satisfied
// directly by llm.Client.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// Pipeline wraps a plan/code/review pass around a session's turn.
type Pipeline struct {
	llm Completer
}

// New creates a Pipeline backed by the given LLM client.
func New(llm Completer) *Pipeline {
	return &Pipeline{llm: llm}
}

// Plan generates a structured plan for a chat message, given an optional
// summary of the workspace's current contents.
func (p *Pipeline) Plan(ctx context.Context, prompt, workspaceContext string) (string, error) {
	system := plannerSystemPrompt
	user := fmt.Sprintf("Request: %s", prompt)
	if workspaceContext != "" {
		user = fmt.Sprintf("## Current Workspace\n%s\n\nRequest: %s", workspaceContext, prompt)
	}

	plan, err := p.llm.Complete(ctx, system, user)
	if err != nil {
		return "", fmt.Errorf("planning: %w", err)
	}
	return plan, nil
}

// EnrichPrompt combines the original chat message with a generated plan
// into a detailed instruction for the coding agent turn.
func (p *Pipeline) EnrichPrompt(originalPrompt, plan string) string {
	return fmt.Sprintf(`## Request
%s

## Plan
The following plan was generated for this request. Follow it closely.

%s

## Instructions
- Follow the plan step by step
- Keep the preview working after every change — don't leave the dev server broken
- Keep changes minimal and focused on the request
- Do not make unrelated changes`, originalPrompt, plan)
}

// RevisePrompt builds an instruction for a revision round after Review
// finds issues, so the agent can address specific feedback without
// starting the turn over.
func (p *Pipeline) RevisePrompt(originalPrompt, plan, feedback string) string {
	return fmt.Sprintf(`## Request
%s

## Plan
%s

## Revision Instructions
A review found issues with the previous attempt. Address the following
feedback carefully. Only change what the reviewer flagged — do not redo
work that was already approved.

%s

## General Rules
- Keep the preview working after every change
- Keep changes minimal and focused on the feedback
- Do not make unrelated changes`, originalPrompt, plan, feedback)
}

// Result is the outcome of a Review.
type Result struct {
	Approved bool   // true if the diff looks correct
	Feedback string // specific feedback if not approved
}

// Review examines a turn's changes against the original plan and request.
func (p *Pipeline) Review(ctx context.Context, prompt, plan, diff string) (*Result, error) {
	system := reviewerSystemPrompt
	user := fmt.Sprintf("## Original Request\n%s\n\n## Plan\n%s\n\n## Diff\n```diff\n%s\n```", prompt, plan, diff)

	response, err := p.llm.Complete(ctx, system, user)
	if err != nil {
		return nil, fmt.Errorf("reviewing: %w", err)
	}

	approved := strings.HasPrefix(strings.ToUpper(strings.TrimSpace(response)), "APPROVED")

	return &Result{
		Approved: approved,
		Feedback: response,
	}, nil
}

const plannerSystemPrompt = `You are a senior software engineer planning a change to a small webapp
being built live in a chat conversation.

Given an optional summary of the workspace's current files and a user's
request, create a structured plan.

Your plan should include:
1. **Files to touch** — specific files that need changes (use the workspace
   summary to name real paths when available)
2. **Approach** — step-by-step approach to implement the change
3. **Verification** — how to confirm the change works in the running preview
4. **Risks** — anything that could break the preview or existing features

Keep the plan concise and actionable. Focus on WHAT to change and WHY, not
exact code — the coding agent handles implementation details.

Output the plan in markdown format.`

const reviewerSystemPrompt = `You are a senior software engineer reviewing a change to a small webapp
built live in a chat conversation.

You will receive:
1. The original user request
2. The plan that was created for it
3. The diff of changes made

Review the diff against the plan and request. Check for:
- Does the diff address the original request?
- Does it follow the plan?
- Are there any bugs or edge cases that would break the running preview?
- Are there any unnecessary or unrelated changes?

Respond with one of:
- "APPROVED" followed by a brief summary of why the changes look good
- "REVISION NEEDED" followed by specific, actionable feedback

Keep your response concise and focused on the most important issues.`
