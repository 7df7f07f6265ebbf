package lobby

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tecu23/duel-server/pkg/events"
	"github.com/tecu23/duel-server/pkg/session"
	"github.com/tecu23/duel-server/pkg/store"
)

var (
	// ErrMissingPlayer is returned by Create when the creator has no id.
	ErrMissingPlayer = errors.New("player id is required")
	// ErrInvalidTimeControl rejects a zero initial budget or a negative increment.
	ErrInvalidTimeControl = errors.New("time control must have a positive initial budget and a non-negative increment")
)

// Lobby creates sessions and lists the ones still waiting for an opponent.
type Lobby struct {
	gw        store.Gateway
	machine   *session.Machine
	publisher *events.Publisher
	logger    *zap.Logger
	now       func() time.Time
}

// Option configures a Lobby.
type Option func(*Lobby)

// WithClock overrides the wall clock used for creation and expiry.
func WithClock(now func() time.Time) Option {
	return func(l *Lobby) {
		l.now = now
	}
}

// New creates a lobby on top of the given store
func New(gw store.Gateway, machine *session.Machine, logger *zap.Logger, publisher *events.Publisher, opts ...Option) *Lobby {
	l := &Lobby{
		gw:        gw,
		machine:   machine,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}

	return l
}

// Create stores a new waiting session with first in the first seat. A nil
// tc creates an untimed game.
func (l *Lobby) Create(ctx context.Context, first session.PlayerRef, tc *session.TimeControl) (session.GameSession, error) {
	if first.ID == "" {
		return session.GameSession{}, ErrMissingPlayer
	}
	if tc != nil && (tc.Initial <= 0 || tc.Increment < 0) {
		return session.GameSession{}, ErrInvalidTimeControl
	}

	s := l.machine.Create(uuid.NewString(), first, tc, l.now())

	created, err := l.gw.Create(ctx, s)
	if err != nil {
		l.logger.Error("failed to create session", zap.Error(err))
		return session.GameSession{}, err
	}

	l.logger.Info("session created",
		zap.String("session_id", created.ID),
		zap.String("player_id", first.ID),
		zap.Bool("timed", created.Timed()),
	)

	l.publisher.Publish(events.Event{
		Type:      events.EventSessionCreated,
		SessionID: created.ID,
		Payload:   created,
	})

	return created, nil
}

// ListOpen returns waiting sessions, oldest first.
func (l *Lobby) ListOpen(ctx context.Context) ([]session.Summary, error) {
	return l.gw.List(ctx, session.StatusWaiting)
}
