package game

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tecu23/duel-server/pkg/events"
	"github.com/tecu23/duel-server/pkg/rules"
	"github.com/tecu23/duel-server/pkg/session"
	"github.com/tecu23/duel-server/pkg/store"
)

// StoreWriteError wraps a failed commit. The client's local snapshot is
// left as it was before the attempt.
type StoreWriteError struct {
	Err error
}

func (e *StoreWriteError) Error() string {
	return fmt.Sprintf("store write: %v", e.Err)
}

func (e *StoreWriteError) Unwrap() error {
	return e.Err
}

// View is what a client renders: the latest document plus display clocks
// derived at the moment the view was produced.
type View struct {
	Session     session.GameSession
	FirstClock  time.Duration
	SecondClock time.Duration
	Turn        rules.Slot
	Err         error
}

// Client drives one participant's (or observer's) side of a session. It
// keeps the latest document received from the store, computes transitions
// against it and writes the result back. Every attached client of an active
// timed session watches the clocks and adjudicates a timeout when a flag
// falls.
type Client struct {
	gw      store.Gateway
	machine *session.Machine
	player  session.PlayerRef
	id      string
	opts    Options
	logger  *zap.Logger

	mu      sync.RWMutex
	latest  session.GameSession
	errored error

	sub    *store.Subscription
	views  chan View
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Attach subscribes to sessionID and starts the client's update loop.
// Cancelling ctx has the same effect as Detach.
func Attach(
	ctx context.Context,
	gw store.Gateway,
	machine *session.Machine,
	sessionID string,
	player session.PlayerRef,
	opts ...Option,
) (*Client, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	runCtx, cancel := context.WithCancel(ctx)

	sub, err := gw.Subscribe(runCtx, sessionID)
	if err != nil {
		cancel()
		return nil, err
	}

	c := &Client{
		gw:      gw,
		machine: machine,
		player:  player,
		id:      sessionID,
		opts:    o,
		logger:  o.Logger.With(zap.String("session_id", sessionID), zap.String("player_id", player.ID)),
		sub:     sub,
		views:   make(chan View, 1),
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	select {
	case s, ok := <-sub.Updates():
		if !ok {
			cancel()
			sub.Close()
			return nil, store.ErrNotFound
		}
		c.observe(runCtx, s)
	case <-runCtx.Done():
		cancel()
		sub.Close()
		return nil, runCtx.Err()
	}

	go c.run(runCtx)

	c.logger.Debug("client attached")

	return c, nil
}

// ID returns the attached session id.
func (c *Client) ID() string {
	return c.id
}

// Player returns who this client acts as.
func (c *Client) Player() session.PlayerRef {
	return c.player
}

// Updates delivers views as documents arrive and on every tick. The
// channel holds only the newest view; a slow reader skips to the latest.
// It is closed after Detach.
func (c *Client) Updates() <-chan View {
	return c.views
}

// Snapshot returns a copy of the latest document seen.
func (c *Client) Snapshot() session.GameSession {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.latest.Clone()
}

// Err reports whether the session has been found corrupted.
func (c *Client) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.errored
}

// Detach cancels the subscription and the tick loop and waits for both to
// stop.
func (c *Client) Detach() {
	c.once.Do(func() {
		c.cancel()
		<-c.done
		c.sub.Close()
		c.logger.Debug("client detached")
	})
}

func (c *Client) run(ctx context.Context) {
	defer close(c.done)
	defer close(c.views)

	ticker := time.NewTicker(c.opts.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-c.sub.Updates():
			if !ok {
				return
			}
			c.observe(ctx, s)
		case <-ticker.C:
			if c.Err() != nil {
				continue
			}
			c.emit(c.view(c.Snapshot()))
			c.checkTimeout(ctx)
		}
	}
}

// observe accepts a document from the subscription.
func (c *Client) observe(ctx context.Context, s session.GameSession) {
	if err := c.Err(); err != nil {
		c.emit(View{Session: s, Err: err})
		return
	}

	if err := c.machine.Verify(s); err != nil {
		c.corrupted(s, err)
		c.emit(View{Session: s, Err: err})
		return
	}

	c.remember(s)
	c.emit(c.view(s))
	c.checkTimeout(ctx)
}

// corrupted marks the client as errored by s. Only the first corrupted
// document is reported.
func (c *Client) corrupted(s session.GameSession, err error) {
	c.mu.Lock()
	first := c.errored == nil
	if first {
		c.errored = err
		c.latest = s
	}
	c.mu.Unlock()

	if !first {
		return
	}

	c.logger.Error("session is corrupted", zap.Int64("version", s.Version), zap.Error(err))
	c.opts.Publisher.Publish(events.Event{
		Type:      events.EventSessionErrored,
		SessionID: c.id,
		Payload:   err.Error(),
	})
}

// remember keeps s when it is newer than what the client already holds.
func (c *Client) remember(s session.GameSession) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if s.Version >= c.latest.Version {
		c.latest = s.Clone()
	}
}

func (c *Client) view(s session.GameSession) View {
	now := c.opts.Now()
	v := View{Session: s}

	first, err := c.machine.Remaining(s, rules.First, now)
	if err != nil {
		v.Err = err
		return v
	}
	second, err := c.machine.Remaining(s, rules.Second, now)
	if err != nil {
		v.Err = err
		return v
	}
	v.FirstClock = session.Display(first)
	v.SecondClock = session.Display(second)

	if turn, err := c.machine.Turn(s); err == nil {
		v.Turn = turn
	}

	return v
}

func (c *Client) emit(v View) {
	select {
	case c.views <- v:
		return
	default:
	}

	// Only run() sends, so after draining the stale view there is room.
	select {
	case <-c.views:
	default:
	}
	c.views <- v
}

// checkTimeout adjudicates a fallen flag. Losing the race to another
// observer, or to a move that landed first, is not an error.
func (c *Client) checkTimeout(ctx context.Context) {
	s := c.Snapshot()
	if s.Status != session.StatusActive || !s.Timed() {
		return
	}

	if _, flagged, err := c.machine.Flagged(s, c.opts.Now()); err != nil || !flagged {
		return
	}

	written, err := c.mutate(ctx, func(s session.GameSession, now time.Time) (session.GameSession, error) {
		return c.machine.Timeout(s, now)
	})
	switch {
	case err == nil:
		c.logger.Info("flag fell", zap.String("reason", written.EndReason))
		c.announce(events.EventGameCompleted, written)
	case errors.Is(err, session.ErrAlreadyFinished),
		errors.Is(err, session.ErrNotTimedOut),
		errors.Is(err, session.ErrGameNotActive):
		c.logger.Debug("timeout already settled", zap.Error(err))
	default:
		c.logger.Warn("timeout write failed", zap.Error(err))
	}
}

type transition func(s session.GameSession, now time.Time) (session.GameSession, error)

// mutate computes a transition from the latest snapshot and writes it. Under
// PolicyCAS a conflicting write re-reads the document and recomputes, up to
// Options.Retries times.
func (c *Client) mutate(ctx context.Context, fn transition) (session.GameSession, error) {
	if err := c.Err(); err != nil {
		return session.GameSession{}, err
	}

	s := c.Snapshot()
	for attempt := 0; ; attempt++ {
		next, err := fn(s, c.opts.Now())
		if err != nil {
			return s, err
		}

		expected := store.AnyVersion
		if c.opts.Policy == PolicyCAS {
			expected = s.Version
		}

		written, err := c.gw.Write(ctx, next, expected)
		if err == nil {
			c.remember(written)
			return written, nil
		}

		if !errors.Is(err, store.ErrVersionConflict) || c.opts.Policy != PolicyCAS || attempt >= c.opts.Retries {
			return s, &StoreWriteError{Err: err}
		}

		c.logger.Debug("write conflict, retrying", zap.Int64("expected", expected), zap.Int("attempt", attempt+1))

		fresh, err := c.gw.Read(ctx, c.id)
		if err != nil {
			return s, &StoreWriteError{Err: err}
		}
		if err := c.machine.Verify(fresh); err != nil {
			c.corrupted(fresh, err)
			return s, err
		}
		c.remember(fresh)
		s = fresh
	}
}

func (c *Client) announce(t events.EventType, s session.GameSession) {
	c.opts.Publisher.Publish(events.Event{Type: t, SessionID: c.id, Payload: s.Clone()})

	switch {
	case t == events.EventGameCompleted || t == events.EventGameAborted:
	case s.Status == session.StatusCompleted:
		c.opts.Publisher.Publish(events.Event{Type: events.EventGameCompleted, SessionID: c.id, Payload: s.Clone()})
	case s.Status == session.StatusAborted:
		c.opts.Publisher.Publish(events.Event{Type: events.EventGameAborted, SessionID: c.id, Payload: s.Clone()})
	}
}

func (c *Client) act(ctx context.Context, name string, t events.EventType, fn transition) (session.GameSession, error) {
	written, err := c.mutate(ctx, fn)
	if err != nil {
		var verr *session.ValidationError
		if errors.As(err, &verr) {
			c.logger.Debug(name+" rejected", zap.String("code", string(verr.Code)))
		} else {
			c.logger.Warn(name+" failed", zap.Error(err))
		}
		return session.GameSession{}, err
	}

	c.logger.Debug(name, zap.Int64("version", written.Version))
	c.announce(t, written)

	return written, nil
}

// Join takes the second seat. A player who is already seated is simply
// reattached and nothing is written.
func (c *Client) Join(ctx context.Context) (session.GameSession, error) {
	if err := c.Err(); err != nil {
		return session.GameSession{}, err
	}

	if s := c.Snapshot(); !s.Status.Terminal() {
		if _, seated := s.SlotOf(c.player.ID); seated {
			return s, nil
		}
	}

	return c.act(ctx, "join", events.EventPlayerJoined, func(s session.GameSession, now time.Time) (session.GameSession, error) {
		return c.machine.Join(s, c.player, now)
	})
}

// Move applies mv for this client's player.
func (c *Client) Move(ctx context.Context, mv rules.Move) (session.GameSession, error) {
	return c.act(ctx, "move", events.EventMoveApplied, func(s session.GameSession, now time.Time) (session.GameSession, error) {
		return c.machine.ApplyMove(s, c.player.ID, mv, now)
	})
}

// OfferDraw records a draw offer from this client's player.
func (c *Client) OfferDraw(ctx context.Context) (session.GameSession, error) {
	return c.act(ctx, "offer draw", events.EventDrawOffered, func(s session.GameSession, now time.Time) (session.GameSession, error) {
		return c.machine.OfferDraw(s, c.player.ID, now)
	})
}

// AcceptDraw ends the game drawn.
func (c *Client) AcceptDraw(ctx context.Context) (session.GameSession, error) {
	return c.act(ctx, "accept draw", events.EventGameCompleted, func(s session.GameSession, now time.Time) (session.GameSession, error) {
		return c.machine.AcceptDraw(s, c.player.ID, now)
	})
}

// DeclineDraw clears the pending offer.
func (c *Client) DeclineDraw(ctx context.Context) (session.GameSession, error) {
	return c.act(ctx, "decline draw", events.EventDrawDeclined, func(s session.GameSession, now time.Time) (session.GameSession, error) {
		return c.machine.DeclineDraw(s, c.player.ID, now)
	})
}

// Resign concedes the game.
func (c *Client) Resign(ctx context.Context) (session.GameSession, error) {
	return c.act(ctx, "resign", events.EventGameCompleted, func(s session.GameSession, now time.Time) (session.GameSession, error) {
		return c.machine.Resign(s, c.player.ID, now)
	})
}

// Abort cancels the session before it has really started.
func (c *Client) Abort(ctx context.Context) (session.GameSession, error) {
	return c.act(ctx, "abort", events.EventGameAborted, func(s session.GameSession, now time.Time) (session.GameSession, error) {
		return c.machine.Abort(s, c.player.ID, now)
	})
}
