package tracking

import (
	"context"
	"sync"

	"route-tracking/internal/models"
)

// Feed carries "a new mover position was stored for route X" signals from the
// writer to whoever is watching the route.
type Feed interface {
	Publish(ctx context.Context, ev models.PositionEvent) error
	// Subscribe returns a channel of events for routeID and a function that
	// ends the subscription. The channel is closed once the subscription ends.
	Subscribe(ctx context.Context, routeID string) (<-chan models.PositionEvent, func(), error)
}

// subscriberBuffer bounds how far a subscriber can fall behind before events
// are dropped for it.
const subscriberBuffer = 16

// MemoryFeed is an in-process Feed for single-instance deployments and tests.
type MemoryFeed struct {
	mu   sync.Mutex
	subs map[string]map[chan models.PositionEvent]struct{}
}

func NewMemoryFeed() *MemoryFeed {
	return &MemoryFeed{subs: make(map[string]map[chan models.PositionEvent]struct{})}
}

// Publish never blocks: a subscriber whose buffer is full misses the event.
// Only the latest position matters to watchers.
func (f *MemoryFeed) Publish(ctx context.Context, ev models.PositionEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for ch := range f.subs[ev.RouteID] {
		select {
		case ch <- ev:
		default:
		}
	}
	return nil
}

func (f *MemoryFeed) Subscribe(ctx context.Context, routeID string) (<-chan models.PositionEvent, func(), error) {
	ch := make(chan models.PositionEvent, subscriberBuffer)

	f.mu.Lock()
	if f.subs[routeID] == nil {
		f.subs[routeID] = make(map[chan models.PositionEvent]struct{})
	}
	f.subs[routeID][ch] = struct{}{}
	f.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subs[routeID], ch)
			if len(f.subs[routeID]) == 0 {
				delete(f.subs, routeID)
			}
			f.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel, nil
}
