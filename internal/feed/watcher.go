package feed

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ledgerline/activity-service/internal/model"
	"github.com/ledgerline/activity-service/internal/store"
)

// cursorUnseeded marks a watcher whose last-seen id could not be read at
// startup. The first successful reconciliation re-seeds the cursor without
// broadcasting, so a store blip at subscribe time never replays history.
const cursorUnseeded = int64(-1)

// Subscriber is one live-feed consumer. Events arrive on C; Close detaches
// the subscriber and, when it was the owner's last one, tears the watcher
// down. C is never closed by the feed, so a drained reader blocks until its
// own context ends.
type Subscriber struct {
	C      chan model.Activity
	filter Filter
	close  func()
}

// Close detaches the subscriber. Safe to call more than once.
func (s *Subscriber) Close() { s.close() }

// watcher aggregates one owner's event flow. It listens on the bus for
// immediate pushes and runs a reconciliation ticker that reads the store
// from a monotonic last-seen id cursor, catching anything the bus dropped.
type watcher struct {
	ownerID string
	acts    store.Activities
	log     zerolog.Logger

	interval time.Duration
	batch    int

	busCh  <-chan model.Activity
	busOff func()
	cancel context.CancelFunc
	done   chan struct{}

	mu       sync.Mutex
	subs     map[*Subscriber]struct{}
	lastSeen int64
}

func (w *watcher) run(ctx context.Context) {
	defer close(w.done)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case a := <-w.busCh:
			w.broadcast(&a)
		case <-ticker.C:
			w.reconcile(ctx)
		}
	}
}

// reconcile reads records past the cursor and re-broadcasts them. The cursor
// only ever advances; bus pushes do not move it, so an event delivered via
// the bus may be seen once more here. Subscribers dedupe by id.
func (w *watcher) reconcile(ctx context.Context) {
	w.mu.Lock()
	since := w.lastSeen
	w.mu.Unlock()

	if since == cursorUnseeded {
		max, err := w.acts.MaxID(ctx, w.ownerID)
		if err != nil {
			w.log.Debug().Err(err).Str("owner_id", w.ownerID).Msg("feed cursor re-seed failed")
			return
		}
		w.advance(max)
		return
	}

	rows, err := w.acts.ListSince(ctx, w.ownerID, since, w.batch)
	if err != nil {
		w.log.Debug().Err(err).Str("owner_id", w.ownerID).Msg("feed reconcile failed")
		return
	}
	for _, a := range rows {
		w.broadcast(a)
		w.advance(a.ID)
	}
}

func (w *watcher) advance(id int64) {
	w.mu.Lock()
	if id > w.lastSeen {
		w.lastSeen = id
	}
	w.mu.Unlock()
}

func (w *watcher) broadcast(a *model.Activity) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for s := range w.subs {
		if !s.filter.Matches(a) {
			continue
		}
		select {
		case s.C <- *a:
		default:
			// Slow consumer; the event stays reachable through the store.
		}
	}
}

func (w *watcher) add(s *Subscriber) {
	w.mu.Lock()
	w.subs[s] = struct{}{}
	w.mu.Unlock()
}

// remove detaches s and reports whether the watcher is now empty.
func (w *watcher) remove(s *Subscriber) bool {
	w.mu.Lock()
	delete(w.subs, s)
	empty := len(w.subs) == 0
	w.mu.Unlock()
	return empty
}

func (w *watcher) empty() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.subs) == 0
}

func (w *watcher) stop() {
	w.cancel()
	w.busOff()
	<-w.done
}
