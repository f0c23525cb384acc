package persistence

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemorySessionStore is the in-memory implementation of SessionStore.
// Suitable for development and testing. Data is lost on restart.
type MemorySessionStore struct {
	sessions map[string]*memorySession // sessionID -> session
	active   map[string]string         // userID+feature -> sessionID
	mu       sync.RWMutex
	closed   bool
}

type memorySession struct {
	userID   string
	feature  string
	status   string
	messages []StoredMessage
}

// NewMemorySessionStore creates a new in-memory session store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{
		sessions: make(map[string]*memorySession),
		active:   make(map[string]string),
	}
}

// Close closes the store
func (s *MemorySessionStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Ping checks if the store is healthy
func (s *MemorySessionStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

func activeKey(userID, feature string) string {
	// NUL cannot appear in either part, so the key is unambiguous.
	return userID + "\x00" + feature
}

// GetOrCreateActiveSession returns the active session for the user and
// feature, creating one when none exists.
func (s *MemorySessionStore) GetOrCreateActiveSession(ctx context.Context, userID, feature string) (string, error) {
	if userID == "" || feature == "" {
		return "", ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return "", ErrStoreClosed
	}

	key := activeKey(userID, feature)
	if id, ok := s.active[key]; ok {
		if sess, ok := s.sessions[id]; ok && sess.status == SessionStatusActive {
			return id, nil
		}
	}

	id := uuid.New().String()
	s.sessions[id] = &memorySession{
		userID:  userID,
		feature: feature,
		status:  SessionStatusActive,
	}
	s.active[key] = id

	return id, nil
}

// AddMessage appends one turn to the session transcript.
func (s *MemorySessionStore) AddMessage(ctx context.Context, sessionID, role, content string) error {
	if sessionID == "" || role == "" {
		return ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	sess, ok := s.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}

	sess.messages = append(sess.messages, StoredMessage{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		CreatedAt: time.Now(),
	})

	return nil
}

// Messages returns the session transcript in append order.
func (s *MemorySessionStore) Messages(ctx context.Context, sessionID string, limit int) ([]StoredMessage, error) {
	if sessionID == "" {
		return nil, ErrInvalidInput
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}

	msgs := sess.messages
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}

	out := make([]StoredMessage, len(msgs))
	copy(out, msgs)
	return out, nil
}

// CloseSession marks the session closed.
func (s *MemorySessionStore) CloseSession(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	sess, ok := s.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	if sess.status == SessionStatusClosed {
		return nil
	}

	sess.status = SessionStatusClosed
	key := activeKey(sess.userID, sess.feature)
	if s.active[key] == sessionID {
		delete(s.active, key)
	}

	return nil
}
