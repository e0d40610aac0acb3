// Package model defines the domain types shared across previewd packages.
// It has zero dependencies on other previewd packages.
package model

import "time"

// SessionStatus is the lifecycle state of a Session.
type SessionStatus string

const (
	SessionPending    SessionStatus = "pending"
	SessionCreating   SessionStatus = "creating"
	SessionReady      SessionStatus = "ready"
	SessionBusy       SessionStatus = "busy"
	SessionTerminated SessionStatus = "terminated"
)

// Role identifies the speaker of a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// StepKind distinguishes a tool invocation trace from a preview emission.
type StepKind string

const (
	StepTool    StepKind = "tool"
	StepPreview StepKind = "preview"
)

// StepStatus tracks whether a step trace is still in flight.
type StepStatus string

const (
	StepRunning StepStatus = "running"
	StepDone    StepStatus = "done"
)

// User is an authenticated account. Never destroyed by the core.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Session is the conversational thread bound to at most one sandbox.
type Session struct {
	ID           string        `json:"id"`
	UserID       string        `json:"-"`
	SandboxID    string        `json:"sandbox_id,omitempty"`
	PreviewURL   string        `json:"preview_url,omitempty"`
	Title        string        `json:"title,omitempty"`
	Status       SessionStatus `json:"status"`
	CreatedAt    time.Time     `json:"created_at"`
	LastActivity time.Time     `json:"last_activity"`
}

// StepTrace records a single user-visible tool invocation or preview
// emission that occurred during a turn.
type StepTrace struct {
	ID     string     `json:"id"`
	Type   StepKind   `json:"type"`
	Title  string     `json:"title"`
	Status StepStatus `json:"status"`
	URL    string     `json:"url,omitempty"`
}

// Message is a single turn of conversation. Never mutated once persisted.
type Message struct {
	ID        int64       `json:"id"`
	SessionID string      `json:"session_id"`
	Role      Role        `json:"role"`
	Content   string      `json:"content"`
	Steps     []StepTrace `json:"steps,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}

// Truncate shortens s to at most maxLen runes, appending "..." when cut.
func Truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}
