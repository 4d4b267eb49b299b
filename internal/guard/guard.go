// Package guard is the sole admission-control point in front of the store's
// connection pool. Every store round-trip acquires a permit from a bounded
// semaphore, identical concurrent reads are collapsed into one round-trip,
// and transient failures are retried with exponential backoff.
package guard

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"
)

// Options tune admission control, deduplication and retries.
type Options struct {
	MaxConcurrent  int           // permits against the pool (default 8)
	MaxQueue       int           // bounded wait queue beyond the permits (default 32)
	AcquireTimeout time.Duration // how long a queued call waits for a permit (default 2s)
	DedupeWindow   time.Duration // identical-read collapse window (default 300ms)
	RetryMax       uint64        // retry ceiling for transient failures (default 3)
}

func (o *Options) defaults() {
	if o.MaxConcurrent <= 0 {
		o.MaxConcurrent = 8
	}
	if o.MaxQueue <= 0 {
		o.MaxQueue = 32
	}
	if o.AcquireTimeout <= 0 {
		o.AcquireTimeout = 2 * time.Second
	}
	if o.DedupeWindow <= 0 {
		o.DedupeWindow = 300 * time.Millisecond
	}
	if o.RetryMax == 0 {
		o.RetryMax = 3
	}
}

// ScanFunc materializes a result set. It runs while the permit is held and
// must fully consume the rows: the materialized value may be shared with
// deduplicated callers, so it must not retain the *sql.Rows.
type ScanFunc func(rows *sql.Rows) (interface{}, error)

// Guard wraps a *sql.DB with admission control. All components reach the
// store through a Guard; nothing else is permitted to issue calls directly.
type Guard struct {
	db   *sql.DB
	opts Options
	log  zerolog.Logger

	sem     *semaphore.Weighted
	waiting atomic.Int64
	flights singleflight.Group

	// recent holds successful read results for the dedupe window, so
	// duplicates arriving just after the leader finished still coalesce.
	mu     sync.Mutex
	recent map[string]cachedResult

	// test seam: observe retry scheduling
	onRetry func(err error, next time.Duration)
}

type cachedResult struct {
	v   interface{}
	exp time.Time
}

// New constructs a Guard around db.
func New(db *sql.DB, opts Options, log zerolog.Logger) *Guard {
	opts.defaults()
	return &Guard{
		db:   db,
		opts: opts,
		log:  log,
		sem:  semaphore.NewWeighted(int64(opts.MaxConcurrent)),
	}
}

// DB exposes the underlying handle for health pings only.
func (g *Guard) DB() *sql.DB { return g.db }

// acquire obtains a permit, failing fast when the wait queue is full and
// failing with ErrAcquireTimeout when no permit arrives in time.
func (g *Guard) acquire(ctx context.Context) (release func(), err error) {
	if g.sem.TryAcquire(1) {
		return func() { g.sem.Release(1) }, nil
	}

	if w := g.waiting.Add(1); w > int64(g.opts.MaxQueue) {
		g.waiting.Add(-1)
		return nil, ErrQueueSaturated
	}
	defer g.waiting.Add(-1)

	waitCtx, cancel := context.WithTimeout(ctx, g.opts.AcquireTimeout)
	defer cancel()
	if err := g.sem.Acquire(waitCtx, 1); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, ErrAcquireTimeout
	}
	return func() { g.sem.Release(1) }, nil
}

// Query runs a read under admission control. Identical calls (same SQL text
// and parameters) within the dedupe window share a single store round-trip
// and receive the same materialized result: concurrent duplicates coalesce
// on the in-flight call, and duplicates arriving just after completion are
// served from the windowed result cache. Failed reads are never cached.
func (g *Guard) Query(ctx context.Context, query string, args []interface{}, scan ScanFunc) (interface{}, error) {
	key := flightKey(query, args)

	if v, ok := g.fromCache(key); ok {
		g.log.Debug().Str("key_sql", query).Msg("served duplicate query from dedupe window")
		return v, nil
	}

	v, err, shared := g.flights.Do(key, func() (interface{}, error) {
		return g.queryOnce(ctx, query, args, scan)
	})
	if shared {
		g.log.Debug().Str("key_sql", query).Msg("collapsed duplicate in-flight query")
	}
	if err == nil {
		g.remember(key, v)
	}
	return v, err
}

func (g *Guard) fromCache(key string) (interface{}, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.recent[key]
	if !ok {
		return nil, false
	}
	if time.Now().After(e.exp) {
		delete(g.recent, key)
		return nil, false
	}
	return e.v, true
}

func (g *Guard) remember(key string, v interface{}) {
	g.mu.Lock()
	if g.recent == nil {
		g.recent = make(map[string]cachedResult)
	}
	g.recent[key] = cachedResult{v: v, exp: time.Now().Add(g.opts.DedupeWindow)}
	g.mu.Unlock()

	time.AfterFunc(g.opts.DedupeWindow, func() {
		g.mu.Lock()
		if e, ok := g.recent[key]; ok && !time.Now().Before(e.exp) {
			delete(g.recent, key)
		}
		g.mu.Unlock()
	})
}

// flushCache drops every windowed result. Local writes invalidate cached
// reads so a read-after-write on this process never observes the window.
func (g *Guard) flushCache() {
	g.mu.Lock()
	g.recent = nil
	g.mu.Unlock()
}

// queryOnce acquires a permit and executes with retry on transient failures.
// Each attempt reacquires the semaphore so retries queue like everyone else.
func (g *Guard) queryOnce(ctx context.Context, query string, args []interface{}, scan ScanFunc) (interface{}, error) {
	var out interface{}
	op := func() error {
		release, err := g.acquire(ctx)
		if err != nil {
			return backoff.Permanent(err)
		}
		defer release()

		rows, err := g.db.QueryContext(ctx, query, args...)
		if err != nil {
			return g.classify(err)
		}
		defer func() { _ = rows.Close() }()

		v, err := scan(rows)
		if err != nil {
			return g.classify(err)
		}
		if err := rows.Err(); err != nil {
			return g.classify(err)
		}
		out = v
		return nil
	}
	if err := g.retry(ctx, op); err != nil {
		return nil, err
	}
	return out, nil
}

// Exec runs a write under admission control with retry. Writes are never
// deduplicated: two identical inserts are two inserts.
func (g *Guard) Exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	var out sql.Result
	op := func() error {
		release, err := g.acquire(ctx)
		if err != nil {
			return backoff.Permanent(err)
		}
		defer release()

		res, err := g.db.ExecContext(ctx, query, args...)
		if err != nil {
			return g.classify(err)
		}
		out = res
		return nil
	}
	if err := g.retry(ctx, op); err != nil {
		return nil, err
	}
	g.flushCache()
	return out, nil
}

// Transaction acquires a permit and a dedicated connection, runs fn, and
// commits. The transaction is rolled back on every non-commit exit path.
// Transient failures retry the transaction as a whole; each attempt
// reacquires the semaphore.
func (g *Guard) Transaction(ctx context.Context, fn func(tx *sql.Tx) error) error {
	op := func() error {
		release, err := g.acquire(ctx)
		if err != nil {
			return backoff.Permanent(err)
		}
		defer release()

		tx, err := g.db.BeginTx(ctx, &sql.TxOptions{})
		if err != nil {
			return g.classify(err)
		}
		committed := false
		defer func() {
			if !committed {
				_ = tx.Rollback()
			}
		}()

		if err := fn(tx); err != nil {
			return g.classify(err)
		}
		if err := tx.Commit(); err != nil {
			return g.classify(err)
		}
		committed = true
		return nil
	}
	if err := g.retry(ctx, op); err != nil {
		return err
	}
	g.flushCache()
	return nil
}

// classify wraps fatal errors as permanent so the backoff loop stops.
func (g *Guard) classify(err error) error {
	if IsTransient(err) {
		return err
	}
	return backoff.Permanent(err)
}

func (g *Guard) retry(ctx context.Context, op backoff.Operation) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 50 * time.Millisecond
	bo.MaxInterval = 2 * time.Second
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, g.opts.RetryMax), ctx)

	notify := func(err error, next time.Duration) {
		g.log.Warn().Err(err).Dur("backoff", next).Msg("transient store failure, retrying")
		if g.onRetry != nil {
			g.onRetry(err, next)
		}
	}
	return backoff.RetryNotify(op, policy, notify)
}

// flightKey serializes SQL text plus parameters into the dedupe key.
func flightKey(query string, args []interface{}) string {
	if len(args) == 0 {
		return query
	}
	b, err := json.Marshal(args)
	if err != nil {
		// Unserializable parameters never coalesce.
		return query + "\x00?" + time.Now().String()
	}
	return query + "\x00" + string(b)
}
