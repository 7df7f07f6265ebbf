package store

import (
	"context"
	"sync"

	"github.com/tecu23/duel-server/pkg/session"
)

// Subscription delivers document versions for one session. Versions are
// delivered in increasing order and never dropped; stale or duplicate
// versions are skipped.
type Subscription struct {
	feed   *feed
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Updates returns the delivery channel. It is closed after Close or when the
// subscribing context ends.
func (s *Subscription) Updates() <-chan session.GameSession {
	return s.feed.out
}

// Close stops delivery and waits for the delivery goroutine to exit.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.cancel()
		<-s.done
	})
}

func newSubscription(ctx context.Context, f *feed, stop func()) *Subscription {
	ctx, cancel := context.WithCancel(ctx)

	sub := &Subscription{feed: f, cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(sub.done)
		defer stop()
		f.run(ctx)
	}()

	return sub
}

// feed is an unbounded, ordered queue between a writer that must never
// block and a reader that may be slow.
type feed struct {
	mu      sync.Mutex
	pending []session.GameSession
	last    int64

	wake chan struct{}
	out  chan session.GameSession
}

func newFeed() *feed {
	return &feed{
		wake: make(chan struct{}, 1),
		out:  make(chan session.GameSession),
	}
}

func (f *feed) push(s session.GameSession) {
	f.mu.Lock()
	if s.Version <= f.last {
		f.mu.Unlock()
		return
	}
	f.last = s.Version
	f.pending = append(f.pending, s.Clone())
	f.mu.Unlock()

	select {
	case f.wake <- struct{}{}:
	default:
	}
}

func (f *feed) run(ctx context.Context) {
	defer close(f.out)

	for {
		f.mu.Lock()
		batch := f.pending
		f.pending = nil
		f.mu.Unlock()

		if len(batch) == 0 {
			select {
			case <-f.wake:
				continue
			case <-ctx.Done():
				return
			}
		}

		for _, s := range batch {
			select {
			case f.out <- s:
			case <-ctx.Done():
				return
			}
		}
	}
}
