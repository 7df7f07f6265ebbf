package lobby

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/tecu23/duel-server/pkg/events"
	"github.com/tecu23/duel-server/pkg/store"
)

// Janitor periodically aborts waiting sessions nobody has joined.
type Janitor struct {
	lobby      *Lobby
	staleAfter time.Duration
	cron       *cron.Cron
}

// NewJanitor schedules Sweep on the given cron schedule ("@hourly", "0 3 * * *").
func NewJanitor(l *Lobby, schedule string, staleAfter time.Duration) (*Janitor, error) {
	j := &Janitor{
		lobby:      l,
		staleAfter: staleAfter,
		cron:       cron.New(),
	}

	if _, err := j.cron.AddFunc(schedule, func() {
		n, err := j.Sweep(context.Background())
		if err != nil {
			l.logger.Error("lobby sweep failed", zap.Error(err))
			return
		}
		l.logger.Info("lobby sweep finished", zap.Int("expired", n))
	}); err != nil {
		return nil, fmt.Errorf("invalid janitor schedule %q: %w", schedule, err)
	}

	return j, nil
}

// Start runs the schedule in the background.
func (j *Janitor) Start() {
	j.cron.Start()
}

// Stop halts the schedule and waits for a running sweep to return.
func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
}

// Sweep expires every waiting session created more than staleAfter ago and
// returns how many it aborted. A session that was joined in the meantime is
// left alone.
func (j *Janitor) Sweep(ctx context.Context) (int, error) {
	l := j.lobby

	open, err := l.ListOpen(ctx)
	if err != nil {
		return 0, err
	}

	cutoff := l.now().Add(-j.staleAfter)
	expired := 0

	for _, sum := range open {
		if sum.CreatedAt.After(cutoff) {
			continue
		}

		s, err := l.gw.Read(ctx, sum.ID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return expired, err
		}

		next, err := l.machine.Expire(s, l.now())
		if err != nil {
			continue
		}

		written, err := l.gw.Write(ctx, next, s.Version)
		if errors.Is(err, store.ErrVersionConflict) {
			l.logger.Debug("session changed during sweep", zap.String("session_id", s.ID))
			continue
		}
		if err != nil {
			return expired, err
		}

		expired++
		l.publisher.Publish(events.Event{
			Type:      events.EventGameAborted,
			SessionID: written.ID,
			Payload:   written,
		})
	}

	return expired, nil
}
