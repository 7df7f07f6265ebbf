package manager

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/tecu23/duel-server/pkg/events"
	"github.com/tecu23/duel-server/pkg/game"
	"github.com/tecu23/duel-server/pkg/lobby"
	"github.com/tecu23/duel-server/pkg/session"
	"github.com/tecu23/duel-server/pkg/store"
)

// Sink receives the views of an attached session.
type Sink func(sessionID string, v game.View)

type attachment struct {
	client *game.Client
	done   chan struct{}
}

// Manager tracks which sessions each connection is attached to. Every
// attachment is a game.Client of its own, so two connections of the same
// player each hold a subscription.
type Manager struct {
	gw      store.Gateway
	machine *session.Machine
	lobby   *lobby.Lobby
	opts    []game.Option

	mu          sync.Mutex
	attachments map[string]map[string]*attachment

	publisher *events.Publisher
	logger    *zap.Logger
}

// NewManager creates a new manager on top of the given store
func NewManager(
	gw store.Gateway,
	machine *session.Machine,
	l *lobby.Lobby,
	logger *zap.Logger,
	publisher *events.Publisher,
	opts ...game.Option,
) *Manager {
	m := &Manager{
		gw:          gw,
		machine:     machine,
		lobby:       l,
		opts:        append([]game.Option{game.WithLogger(logger), game.WithPublisher(publisher)}, opts...),
		attachments: make(map[string]map[string]*attachment),
		publisher:   publisher,
		logger:      logger,
	}

	m.setupEventHandlers()

	return m
}

// setupEventHandlers sets up event handlers for the manager
func (m *Manager) setupEventHandlers() {
	m.publisher.Subscribe(events.EventConnectionClosed, func(event events.Event) {
		payload, ok := event.Payload.(map[string]string)
		if !ok {
			m.logger.Error("Invalid connection closed payload type")
			return
		}

		m.DetachAll(payload["connection_id"])
	})
}

// CreateSession opens a new waiting session through the lobby
func (m *Manager) CreateSession(ctx context.Context, first session.PlayerRef, tc *session.TimeControl) (session.GameSession, error) {
	return m.lobby.Create(ctx, first, tc)
}

// ListOpen returns the sessions waiting for an opponent
func (m *Manager) ListOpen(ctx context.Context) ([]session.Summary, error) {
	return m.lobby.ListOpen(ctx)
}

// Attach subscribes connID to sessionID as player and forwards every view to
// sink until the attachment is detached. Attaching twice returns the
// existing client.
func (m *Manager) Attach(ctx context.Context, connID, sessionID string, player session.PlayerRef, sink Sink) (*game.Client, error) {
	if c, ok := m.Client(connID, sessionID); ok {
		return c, nil
	}

	// The client outlives the request that created it.
	c, err := game.Attach(context.WithoutCancel(ctx), m.gw, m.machine, sessionID, player, m.opts...)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if existing, ok := m.attachments[connID][sessionID]; ok {
		m.mu.Unlock()
		c.Detach()
		return existing.client, nil
	}
	if m.attachments[connID] == nil {
		m.attachments[connID] = make(map[string]*attachment)
	}
	a := &attachment{client: c, done: make(chan struct{})}
	m.attachments[connID][sessionID] = a
	m.mu.Unlock()

	go func() {
		defer close(a.done)
		for v := range c.Updates() {
			sink(sessionID, v)
		}
	}()

	m.logger.Info("attached",
		zap.String("connection_id", connID),
		zap.String("session_id", sessionID),
		zap.String("player_id", player.ID),
	)

	return c, nil
}

// Client returns the client connID holds for sessionID
func (m *Manager) Client(connID, sessionID string) (*game.Client, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.attachments[connID][sessionID]
	if !ok {
		return nil, false
	}

	return a.client, true
}

// Detach stops forwarding sessionID to connID
func (m *Manager) Detach(connID, sessionID string) {
	m.mu.Lock()
	a, ok := m.attachments[connID][sessionID]
	if ok {
		delete(m.attachments[connID], sessionID)
		if len(m.attachments[connID]) == 0 {
			delete(m.attachments, connID)
		}
	}
	m.mu.Unlock()

	if !ok {
		return
	}

	a.client.Detach()
	<-a.done

	m.logger.Info("detached", zap.String("connection_id", connID), zap.String("session_id", sessionID))
}

// DetachAll drops every attachment of connID
func (m *Manager) DetachAll(connID string) {
	m.mu.Lock()
	ids := make([]string, 0, len(m.attachments[connID]))
	for id := range m.attachments[connID] {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.Detach(connID, id)
	}
}

// Attached returns how many sessions connID is attached to
func (m *Manager) Attached(connID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.attachments[connID])
}

// Shutdown detaches every connection
func (m *Manager) Shutdown() {
	m.mu.Lock()
	conns := make([]string, 0, len(m.attachments))
	for id := range m.attachments {
		conns = append(conns, id)
	}
	m.mu.Unlock()

	for _, id := range conns {
		m.DetachAll(id)
	}

	m.logger.Info("manager shut down")
}
