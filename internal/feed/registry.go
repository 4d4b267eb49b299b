package feed

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ledgerline/activity-service/internal/model"
	"github.com/ledgerline/activity-service/internal/store"
)

// Options tunes watcher behavior. Zero values fall back to defaults.
type Options struct {
	ReconcileInterval time.Duration
	ReconcileBatch    int
	SubscriberBuffer  int
}

func (o *Options) defaults() {
	if o.ReconcileInterval <= 0 {
		o.ReconcileInterval = 1500 * time.Millisecond
	}
	if o.ReconcileBatch <= 0 {
		o.ReconcileBatch = 200
	}
	if o.SubscriberBuffer <= 0 {
		o.SubscriberBuffer = 64
	}
}

// Registry owns the per-owner watchers. The first subscriber for an owner
// spins a watcher up; the last one leaving tears it down, so idle owners
// cost nothing.
type Registry struct {
	acts store.Activities
	bus  *Bus
	opts Options
	log  zerolog.Logger

	mu       sync.Mutex
	watchers map[string]*watcher
}

// NewRegistry wires a registry over the activity store and bus.
func NewRegistry(acts store.Activities, bus *Bus, opts Options, log zerolog.Logger) *Registry {
	opts.defaults()
	return &Registry{
		acts:     acts,
		bus:      bus,
		opts:     opts,
		log:      log.With().Str("component", "feed").Logger(),
		watchers: make(map[string]*watcher),
	}
}

// Subscribe attaches a consumer to an owner's live feed. ctx bounds the
// initial cursor seed and the optional replay only; the subscription itself
// lives until Close. When since is non-nil, records created at or after that
// instant are replayed into the subscriber before live delivery, so a client
// reconnecting with its last event time does not lose the gap.
func (r *Registry) Subscribe(ctx context.Context, ownerID string, f Filter, since *time.Time) *Subscriber {
	sub := &Subscriber{
		C:      make(chan model.Activity, r.opts.SubscriberBuffer),
		filter: f,
	}

	// Attachment happens under the registry lock: a concurrent last-close
	// must either see this subscriber or run before the watcher is looked
	// up, never tear down a watcher the subscriber is about to join.
	r.mu.Lock()
	w, ok := r.watchers[ownerID]
	if !ok {
		w = r.startWatcher(ctx, ownerID)
		r.watchers[ownerID] = w
	}
	w.add(sub)
	r.mu.Unlock()

	sub.close = func() { r.unsubscribe(ownerID, w, sub) }

	if since != nil {
		r.replay(ctx, sub, ownerID, *since)
	}
	return sub
}

// replay pushes the records created since the reconnect instant into the
// subscriber. Live events may interleave; delivery stays at-least-once and
// clients dedupe by id.
func (r *Registry) replay(ctx context.Context, sub *Subscriber, ownerID string, since time.Time) {
	rows, err := r.acts.List(ctx, model.ListActivitiesRequest{
		OwnerID:  ownerID,
		From:     &since,
		Page:     1,
		PageSize: r.opts.ReconcileBatch,
	})
	if err != nil {
		r.log.Warn().Err(err).Str("owner_id", ownerID).Msg("feed replay failed")
		return
	}
	// Listing is newest-first; replay oldest-first.
	for i := len(rows) - 1; i >= 0; i-- {
		a := rows[i]
		if !sub.filter.Matches(a) {
			continue
		}
		select {
		case sub.C <- *a:
		default:
		}
	}
}

func (r *Registry) startWatcher(ctx context.Context, ownerID string) *watcher {
	// Seed from the current high-water mark so a new subscription only sees
	// records created after it was opened.
	lastSeen, err := r.acts.MaxID(ctx, ownerID)
	if err != nil {
		r.log.Warn().Err(err).Str("owner_id", ownerID).Msg("feed cursor seed failed, deferring to reconcile")
		lastSeen = cursorUnseeded
	}

	busCh, busOff := r.bus.Subscribe(ownerID)
	runCtx, cancel := context.WithCancel(context.Background())
	w := &watcher{
		ownerID:  ownerID,
		acts:     r.acts,
		log:      r.log,
		interval: r.opts.ReconcileInterval,
		batch:    r.opts.ReconcileBatch,
		busCh:    busCh,
		busOff:   busOff,
		cancel:   cancel,
		done:     make(chan struct{}),
		subs:     make(map[*Subscriber]struct{}),
		lastSeen: lastSeen,
	}
	go w.run(runCtx)
	r.log.Debug().Str("owner_id", ownerID).Int64("cursor", lastSeen).Msg("feed watcher started")
	return w
}

func (r *Registry) unsubscribe(ownerID string, w *watcher, s *Subscriber) {
	if !w.remove(s) {
		return
	}
	r.mu.Lock()
	// Only tear down if this watcher is still the registered one; a racing
	// Subscribe may have attached to it between remove and here.
	if r.watchers[ownerID] == w && w.empty() {
		delete(r.watchers, ownerID)
		r.mu.Unlock()
		w.stop()
		r.log.Debug().Str("owner_id", ownerID).Msg("feed watcher stopped")
		return
	}
	r.mu.Unlock()
}

// WatcherCount reports the number of live watchers. Exposed for the health
// endpoint and tests.
func (r *Registry) WatcherCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.watchers)
}

// Shutdown stops every watcher. Subscriber channels stay open but go quiet.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	ws := make([]*watcher, 0, len(r.watchers))
	for id, w := range r.watchers {
		ws = append(ws, w)
		delete(r.watchers, id)
	}
	r.mu.Unlock()
	for _, w := range ws {
		w.stop()
	}
}
