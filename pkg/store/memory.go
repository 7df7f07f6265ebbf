package store

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/tecu23/duel-server/pkg/session"
)

// Memory is an in-process implementation of Gateway
type Memory struct {
	sessions map[string]session.GameSession
	subs     map[string]map[*feed]struct{}
	mu       sync.RWMutex
	logger   *zap.Logger
}

// NewMemory creates a new in-memory gateway
func NewMemory(logger *zap.Logger) *Memory {
	return &Memory{
		sessions: make(map[string]session.GameSession),
		subs:     make(map[string]map[*feed]struct{}),
		logger:   logger,
	}
}

// Create stores a new session at version 1
func (m *Memory) Create(_ context.Context, s session.GameSession) (session.GameSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[s.ID]; ok {
		return session.GameSession{}, ErrExists
	}

	s = s.Clone()
	s.Version = 1
	m.sessions[s.ID] = s

	m.logger.Debug("session created", zap.String("session_id", s.ID))

	return s.Clone(), nil
}

// Read retrieves a session by ID
func (m *Memory) Read(_ context.Context, id string) (session.GameSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok {
		return session.GameSession{}, ErrNotFound
	}

	return s.Clone(), nil
}

// Write replaces a session and notifies its subscribers
func (m *Memory) Write(_ context.Context, s session.GameSession, expected int64) (session.GameSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.sessions[s.ID]
	if !ok {
		return session.GameSession{}, ErrNotFound
	}
	if expected != AnyVersion && cur.Version != expected {
		return session.GameSession{}, ErrVersionConflict
	}

	s = s.Clone()
	s.Version = cur.Version + 1
	m.sessions[s.ID] = s

	for f := range m.subs[s.ID] {
		f.push(s)
	}

	m.logger.Debug("session written",
		zap.String("session_id", s.ID),
		zap.Int64("version", s.Version),
		zap.String("status", string(s.Status)),
	)

	return s.Clone(), nil
}

// Subscribe streams the current document and every later version
func (m *Memory) Subscribe(ctx context.Context, id string) (*Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}

	f := newFeed()
	f.push(cur)

	if m.subs[id] == nil {
		m.subs[id] = make(map[*feed]struct{})
	}
	m.subs[id][f] = struct{}{}

	return newSubscription(ctx, f, func() { m.unsubscribe(id, f) }), nil
}

func (m *Memory) unsubscribe(id string, f *feed) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.subs[id], f)
	if len(m.subs[id]) == 0 {
		delete(m.subs, id)
	}
}

// List returns all sessions in the given status
func (m *Memory) List(_ context.Context, status session.Status) ([]session.Summary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []session.Summary
	for _, s := range m.sessions {
		if s.Status == status {
			out = append(out, s.Summarize())
		}
	}

	sortSummaries(out)

	return out, nil
}

// Subscribers reports how many live subscriptions a session has.
func (m *Memory) Subscribers(id string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.subs[id])
}
