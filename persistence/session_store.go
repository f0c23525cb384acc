package persistence

import (
	"context"
	"time"
)

// Session status values. A session is one conversation thread for a
// user within a feature; at most one session per (user, feature) pair
// is active at a time.
const (
	SessionStatusActive = "active"
	SessionStatusClosed = "closed"
)

// StoredMessage is one persisted turn of a session transcript.
type StoredMessage struct {
	ID        string    `json:"id,omitempty"`
	SessionID string    `json:"session_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// SessionStore persists sessions and their transcripts.
type SessionStore interface {
	Store

	// GetOrCreateActiveSession returns the id of the active session for
	// the given user and feature, creating one when none exists.
	GetOrCreateActiveSession(ctx context.Context, userID, feature string) (string, error)

	// AddMessage appends one turn to the session transcript. Appending
	// to a closed session is allowed: an assistant turn finishing after
	// the session was closed still belongs to its transcript.
	AddMessage(ctx context.Context, sessionID, role, content string) error

	// Messages returns the session transcript in append order. When
	// limit > 0 only the most recent limit turns are returned.
	Messages(ctx context.Context, sessionID string, limit int) ([]StoredMessage, error)

	// CloseSession marks the session closed so the next
	// GetOrCreateActiveSession for its user and feature starts a fresh
	// one. Closing an already closed session is a no-op.
	CloseSession(ctx context.Context, sessionID string) error
}
