// Package memory provides the bounded, time-decaying conversation window a
// provider session uses for short-term context. The window is a plain data
// structure: single writer and single reader per session instance, one
// instance per logical session, never shared across provider instances.
package memory

import (
	"strings"
	"time"
)

// Role identifies who produced a window entry.
type Role int

const (
	RoleUser Role = iota
	RoleOperator
	RoleAssistant
	RoleScreen
)

// Label returns the fixed rendering label for the role.
func (r Role) Label() string {
	switch r {
	case RoleOperator:
		return "Operator"
	case RoleAssistant:
		return "Assistant"
	case RoleScreen:
		return "Screen"
	default:
		return "User"
	}
}

// Entry is one remembered conversation turn.
type Entry struct {
	Role      Role
	Content   string
	Timestamp time.Time
}

// Window bounds.
const (
	DefaultCapacity = 10
	DefaultMaxAge   = 300 * time.Second
)

// Rendering constants. Every provider session renders through the same
// header/sentinel pair so the model sees a stable frame.
const (
	contextHeader   = "Recent conversation context:"
	contextSentinel = "No recent conversation context."
)

// Window is a capacity- and age-bounded record of recent turns. Both bounds
// are enforced on every insert; age eviction always runs before capacity
// eviction.
type Window struct {
	capacity int
	maxAge   time.Duration
	now      func() time.Time
	entries  []Entry
}

// Option configures a Window.
type Option func(*Window)

// WithCapacity sets the maximum entry count.
func WithCapacity(capacity int) Option {
	return func(w *Window) {
		if capacity > 0 {
			w.capacity = capacity
		}
	}
}

// WithMaxAge sets the entry time-to-live.
func WithMaxAge(maxAge time.Duration) Option {
	return func(w *Window) {
		if maxAge > 0 {
			w.maxAge = maxAge
		}
	}
}

// WithClock replaces the time source, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(w *Window) {
		if now != nil {
			w.now = now
		}
	}
}

// NewWindow creates a window with the default bounds.
func NewWindow(opts ...Option) *Window {
	w := &Window{
		capacity: DefaultCapacity,
		maxAge:   DefaultMaxAge,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Append inserts an entry stamped with the current time, evicts everything
// older than the age bound, then trims from the front if the window still
// exceeds capacity.
func (w *Window) Append(content string, role Role) {
	now := w.now()
	w.entries = append(w.entries, Entry{Role: role, Content: content, Timestamp: now})
	w.evictExpired(now)
	if len(w.entries) > w.capacity {
		w.entries = w.entries[len(w.entries)-w.capacity:]
	}
}

// RenderContext re-runs age eviction, then renders remaining entries
// oldest-first as "<Label>: <content>" lines under a fixed header. An empty
// window renders the fixed sentinel.
func (w *Window) RenderContext() string {
	w.evictExpired(w.now())
	if len(w.entries) == 0 {
		return contextSentinel
	}

	var b strings.Builder
	b.WriteString(contextHeader)
	for _, e := range w.entries {
		b.WriteString("\n")
		b.WriteString(e.Role.Label())
		b.WriteString(": ")
		b.WriteString(e.Content)
	}
	return b.String()
}

// Len returns the current entry count without triggering eviction.
func (w *Window) Len() int {
	return len(w.entries)
}

// Entries returns a copy of the current entries, oldest first.
func (w *Window) Entries() []Entry {
	out := make([]Entry, len(w.entries))
	copy(out, w.entries)
	return out
}

// Clear drops all entries.
func (w *Window) Clear() {
	w.entries = w.entries[:0]
}

func (w *Window) evictExpired(now time.Time) {
	cutoff := now.Add(-w.maxAge)
	kept := w.entries[:0]
	for _, e := range w.entries {
		if !e.Timestamp.Before(cutoff) {
			kept = append(kept, e)
		}
	}
	w.entries = kept
}
