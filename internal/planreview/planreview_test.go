package planreview

import (
	"context"
	"strings"
	"testing"
)

type fakeLLM struct {
	response string
	err      error
}

func (f *fakeLLM) Complete(ctx context.Context, system, user string) (string, error) {
	return f.response, f.err
}

func TestPlan(t *testing.T) {
	p := New(&fakeLLM{response: "Plan output"})
	got, err := p.Plan(context.Background(), "add a login page", "workspace ctx")
	if err != nil {
		t.Fatalf("plan error: %v", err)
	}
	if got != "Plan output" {
		t.Fatalf("unexpected plan: %s", got)
	}
}

func TestReviewApproved(t *testing.T) {
	p := New(&fakeLLM{response: "APPROVED: looks good"})
	res, err := p.Review(context.Background(), "request", "plan", "diff")
	if err != nil {
		t.Fatalf("review error: %v", err)
	}
	if !res.Approved {
		t.Fatal("expected approved review")
	}
}

func TestReviewRevisionNeeded(t *testing.T) {
	p := New(&fakeLLM{response: "REVISION NEEDED: add test"})
	res, err := p.Review(context.Background(), "request", "plan", "diff")
	if err != nil {
		t.Fatalf("review error: %v", err)
	}
	if res.Approved {
		t.Fatal("expected non-approved review")
	}
}

func TestEnrichAndRevisePrompt(t *testing.T) {
	p := New(&fakeLLM{})
	enriched := p.EnrichPrompt("request", "plan")
	if !strings.Contains(enriched, "## Plan") {
		t.Fatalf("missing plan section: %s", enriched)
	}
	revised := p.RevisePrompt("request", "plan", "feedback")
	if !strings.Contains(revised, "Revision Instructions") {
		t.Fatalf("missing revision instructions: %s", revised)
	}
}
