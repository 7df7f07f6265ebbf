package events

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPublishRoutesByType(t *testing.T) {
	p := NewPublisher()

	var (
		mu        sync.Mutex
		completed []string
		all       []EventType
	)

	p.Subscribe(EventGameCompleted, func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		completed = append(completed, e.SessionID)
	})
	p.SubscribeAll(func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		all = append(all, e.Type)
	})

	p.Publish(Event{Type: EventMoveApplied, SessionID: "g1"})
	p.Publish(Event{Type: EventGameCompleted, SessionID: "g1"})
	p.Wait()

	assert.Equal(t, []string{"g1"}, completed)
	assert.ElementsMatch(t, []EventType{EventMoveApplied, EventGameCompleted}, all)
}

func TestPublishOnNilPublisher(t *testing.T) {
	var p *Publisher

	assert.NotPanics(t, func() {
		p.Publish(Event{Type: EventGameCompleted})
	})
}
