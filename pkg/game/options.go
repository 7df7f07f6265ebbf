package game

import (
	"time"

	"go.uber.org/zap"

	"github.com/tecu23/duel-server/pkg/events"
)

// WritePolicy selects how a client commits a computed document.
type WritePolicy string

const (
	// PolicyCAS writes conditionally on the version the transition was
	// computed from, re-reading and recomputing on conflict.
	PolicyCAS WritePolicy = "cas"
	// PolicyLWW writes unconditionally; the last writer wins.
	PolicyLWW WritePolicy = "lww"
)

// Options configures a Client.
type Options struct {
	Policy    WritePolicy
	Retries   int
	Tick      time.Duration
	Now       func() time.Time
	Logger    *zap.Logger
	Publisher *events.Publisher
}

// Option mutates Options.
type Option func(*Options)

func defaultOptions() Options {
	return Options{
		Policy:  PolicyCAS,
		Retries: 3,
		Tick:    time.Second,
		Now:     time.Now,
		Logger:  zap.NewNop(),
	}
}

// WithPolicy sets the write policy.
func WithPolicy(p WritePolicy) Option {
	return func(o *Options) {
		if p == PolicyLWW || p == PolicyCAS {
			o.Policy = p
		}
	}
}

// WithRetries bounds how many times a conflicting write is recomputed.
func WithRetries(n int) Option {
	return func(o *Options) {
		if n >= 0 {
			o.Retries = n
		}
	}
}

// WithTick sets the display/timeout check interval.
func WithTick(d time.Duration) Option {
	return func(o *Options) {
		if d > 0 {
			o.Tick = d
		}
	}
}

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(o *Options) {
		if now != nil {
			o.Now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Options) {
		if l != nil {
			o.Logger = l
		}
	}
}

// WithPublisher sets where committed transitions are announced.
func WithPublisher(p *events.Publisher) Option {
	return func(o *Options) {
		o.Publisher = p
	}
}
