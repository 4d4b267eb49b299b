// Package feed implements the live-activity fan-out: an in-process bus keyed
// by owner id, one refcounted watcher per owner aggregating bus pushes with a
// periodic store reconciliation, and per-connection subscribers.
//
// Delivery is at-least-once: a record announced on the bus may be seen again
// by the next reconciliation pass. Clients dedupe by id.
package feed

import (
	"sync"

	"github.com/ledgerline/activity-service/internal/model"
)

// Bus is a process-wide publish/subscribe channel keyed by owner id.
// Publish never blocks: when a subscriber's buffer is full the event is
// dropped there and the watcher's reconciliation poll picks it up later.
type Bus struct {
	buffer int

	mu   sync.RWMutex
	subs map[string]map[chan model.Activity]struct{}
}

// NewBus creates a bus whose subscriber channels hold buffer events.
func NewBus(buffer int) *Bus {
	if buffer <= 0 {
		buffer = 256
	}
	return &Bus{
		buffer: buffer,
		subs:   make(map[string]map[chan model.Activity]struct{}),
	}
}

// Publish announces a record to every subscriber registered for its owner.
// Notification is synchronous and in-process; there is no network hop.
func (b *Bus) Publish(a model.Activity) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs[a.OwnerID] {
		select {
		case ch <- a:
		default:
		}
	}
}

// Subscribe registers interest in one owner's events. The returned cancel
// func must be called exactly once; afterwards the channel stops receiving.
func (b *Bus) Subscribe(ownerID string) (<-chan model.Activity, func()) {
	ch := make(chan model.Activity, b.buffer)

	b.mu.Lock()
	set, ok := b.subs[ownerID]
	if !ok {
		set = make(map[chan model.Activity]struct{})
		b.subs[ownerID] = set
	}
	set[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs[ownerID], ch)
			if len(b.subs[ownerID]) == 0 {
				delete(b.subs, ownerID)
			}
			b.mu.Unlock()
		})
	}
	return ch, cancel
}
