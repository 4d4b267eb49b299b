package guard

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newTestGuard(t *testing.T, opts Options) *Guard {
	return New(openTestDB(t), opts, zerolog.Nop())
}

func countScan(rows *sql.Rows) (interface{}, error) {
	n := 0
	for rows.Next() {
		n++
	}
	return n, nil
}

func TestGuard_AdmissionBound(t *testing.T) {
	const (
		maxConcurrent = 2
		maxQueue      = 2
		calls         = 10
	)
	g := newTestGuard(t, Options{
		MaxConcurrent:  maxConcurrent,
		MaxQueue:       maxQueue,
		AcquireTimeout: 5 * time.Second,
		RetryMax:       1,
	})

	var (
		inFlight  atomic.Int64
		peak      atomic.Int64
		saturated atomic.Int64
		other     atomic.Int64
	)
	gate := make(chan struct{})

	var wg sync.WaitGroup
	for i := 0; i < calls; i++ {
		wg.Add(1)
		i := i
		go func() {
			defer wg.Done()
			// Distinct SQL per call so dedupe cannot collapse them.
			query := "SELECT 1 WHERE 1 = " + string(rune('0'+i%10))
			_, err := g.Query(context.Background(), query, nil, func(rows *sql.Rows) (interface{}, error) {
				cur := inFlight.Add(1)
				for {
					prev := peak.Load()
					if cur <= prev || peak.CompareAndSwap(prev, cur) {
						break
					}
				}
				<-gate
				inFlight.Add(-1)
				return nil, nil
			})
			switch {
			case errors.Is(err, ErrQueueSaturated):
				saturated.Add(1)
			case err != nil:
				other.Add(1)
			}
		}()
	}

	// Let permits fill and the queue saturate, then open the gate.
	time.Sleep(300 * time.Millisecond)
	close(gate)
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int64(maxConcurrent), "store saw more concurrent calls than permits")
	assert.GreaterOrEqual(t, saturated.Load(), int64(calls-maxConcurrent-maxQueue))
	assert.Zero(t, other.Load(), "unexpected non-saturation failures")
}

func TestGuard_AcquireTimeout(t *testing.T) {
	g := newTestGuard(t, Options{
		MaxConcurrent:  1,
		MaxQueue:       4,
		AcquireTimeout: 50 * time.Millisecond,
		RetryMax:       1,
	})

	gate := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = g.Query(context.Background(), "SELECT 1", nil, func(rows *sql.Rows) (interface{}, error) {
			<-gate
			return nil, nil
		})
	}()
	time.Sleep(50 * time.Millisecond) // let the holder take the only permit

	_, err := g.Query(context.Background(), "SELECT 2", nil, countScan)
	assert.ErrorIs(t, err, ErrAcquireTimeout)

	close(gate)
	<-done
}

func TestGuard_DedupeCollapsesIdenticalReads(t *testing.T) {
	g := newTestGuard(t, Options{
		MaxConcurrent: 4,
		MaxQueue:      8,
		DedupeWindow:  500 * time.Millisecond,
	})

	var roundTrips atomic.Int64
	started := make(chan struct{})
	gate := make(chan struct{})
	scan := func(rows *sql.Rows) (interface{}, error) {
		roundTrips.Add(1)
		close(started)
		<-gate
		return "result", nil
	}

	args := []interface{}{int64(7)}
	var wg sync.WaitGroup
	results := make([]interface{}, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], _ = g.Query(context.Background(), "SELECT ?", args, scan)
	}()
	<-started // leader is in flight
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[1], _ = g.Query(context.Background(), "SELECT ?", args, scan)
	}()
	time.Sleep(50 * time.Millisecond)
	close(gate)
	wg.Wait()

	assert.Equal(t, int64(1), roundTrips.Load(), "identical concurrent reads must share one round-trip")
	assert.Equal(t, "result", results[0])
	assert.Equal(t, "result", results[1])
}

func TestGuard_DedupeWindowServesCompletedResult(t *testing.T) {
	g := newTestGuard(t, Options{
		MaxConcurrent: 4,
		MaxQueue:      8,
		DedupeWindow:  200 * time.Millisecond,
	})

	var roundTrips atomic.Int64
	scan := func(rows *sql.Rows) (interface{}, error) {
		roundTrips.Add(1)
		return "result", nil
	}

	args := []interface{}{int64(9)}
	v, err := g.Query(context.Background(), "SELECT ?", args, scan)
	require.NoError(t, err)
	assert.Equal(t, "result", v)

	// A duplicate arriving after the first call completed still coalesces
	// for the remainder of the window.
	v, err = g.Query(context.Background(), "SELECT ?", args, scan)
	require.NoError(t, err)
	assert.Equal(t, "result", v)
	assert.Equal(t, int64(1), roundTrips.Load())

	time.Sleep(250 * time.Millisecond)
	_, err = g.Query(context.Background(), "SELECT ?", args, scan)
	require.NoError(t, err)
	assert.Equal(t, int64(2), roundTrips.Load(), "expired window must hit the store again")
}

func TestGuard_WriteInvalidatesDedupeWindow(t *testing.T) {
	db := openTestDB(t)
	g := New(db, Options{MaxConcurrent: 2, MaxQueue: 4, DedupeWindow: time.Minute}, zerolog.Nop())
	ctx := context.Background()

	_, err := db.Exec(`CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT)`)
	require.NoError(t, err)

	count := func() int {
		v, err := g.Query(ctx, `SELECT id FROM items`, nil, countScan)
		require.NoError(t, err)
		return v.(int)
	}
	require.Equal(t, 0, count())

	_, err = g.Exec(ctx, `INSERT INTO items (name) VALUES ('a')`)
	require.NoError(t, err)
	assert.Equal(t, 1, count(), "read after write must not observe the stale window")

	err = g.Transaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(`INSERT INTO items (name) VALUES ('b')`)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 2, count(), "transaction commit must flush cached reads")
}

func TestGuard_DifferentParamsNotDeduped(t *testing.T) {
	g := newTestGuard(t, Options{MaxConcurrent: 4, MaxQueue: 8})

	var roundTrips atomic.Int64
	scan := func(rows *sql.Rows) (interface{}, error) {
		roundTrips.Add(1)
		return nil, nil
	}
	_, err := g.Query(context.Background(), "SELECT ?", []interface{}{1}, scan)
	require.NoError(t, err)
	_, err = g.Query(context.Background(), "SELECT ?", []interface{}{2}, scan)
	require.NoError(t, err)

	assert.Equal(t, int64(2), roundTrips.Load())
}

func TestGuard_TransactionCommitAndRollback(t *testing.T) {
	db := openTestDB(t)
	g := New(db, Options{MaxConcurrent: 1, MaxQueue: 2}, zerolog.Nop())
	ctx := context.Background()

	_, err := db.Exec(`CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT)`)
	require.NoError(t, err)

	err = g.Transaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(`INSERT INTO items (name) VALUES ('a')`)
		return err
	})
	require.NoError(t, err)

	boom := errors.New("caller failure")
	err = g.Transaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.Exec(`INSERT INTO items (name) VALUES ('b')`); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM items`).Scan(&n))
	assert.Equal(t, 1, n, "rolled-back insert must not persist")
}

func TestGuard_RetriesTransientScanFailure(t *testing.T) {
	g := newTestGuard(t, Options{MaxConcurrent: 2, MaxQueue: 4, RetryMax: 3})

	var retries atomic.Int64
	g.onRetry = func(error, time.Duration) { retries.Add(1) }

	var attempts atomic.Int64
	_, err := g.Query(context.Background(), "SELECT 1", nil, func(rows *sql.Rows) (interface{}, error) {
		if attempts.Add(1) < 3 {
			return nil, driver.ErrBadConn // classified transient
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), attempts.Load())
	assert.Equal(t, int64(2), retries.Load())
}

func TestGuard_FatalFailureDoesNotRetry(t *testing.T) {
	g := newTestGuard(t, Options{MaxConcurrent: 2, MaxQueue: 4, RetryMax: 3})

	fatal := errors.New("syntax error")
	var attempts atomic.Int64
	_, err := g.Query(context.Background(), "SELECT 1", nil, func(rows *sql.Rows) (interface{}, error) {
		attempts.Add(1)
		return nil, fatal
	})
	assert.ErrorIs(t, err, fatal)
	assert.Equal(t, int64(1), attempts.Load())
}

func TestGuard_CancelledCallerStopsWaiting(t *testing.T) {
	g := newTestGuard(t, Options{
		MaxConcurrent:  1,
		MaxQueue:       4,
		AcquireTimeout: 5 * time.Second,
	})

	gate := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = g.Query(context.Background(), "SELECT 1", nil, func(rows *sql.Rows) (interface{}, error) {
			<-gate
			return nil, nil
		})
	}()
	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := g.Query(ctx, "SELECT 2", nil, countScan)
		errCh <- err
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("cancelled caller kept waiting for a permit")
	}

	close(gate)
	<-done
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(driver.ErrBadConn))
	assert.True(t, IsTransient(context.DeadlineExceeded))
	assert.True(t, IsTransient(errors.New("read tcp 1.2.3.4: connection reset by peer")))
	assert.True(t, IsTransient(errors.New("database is locked")))
	assert.False(t, IsTransient(nil))
	assert.False(t, IsTransient(context.Canceled))
	assert.False(t, IsTransient(errors.New("syntax error at or near SELECT")))
}

func TestIsBusy(t *testing.T) {
	assert.True(t, IsBusy(ErrQueueSaturated))
	assert.True(t, IsBusy(ErrAcquireTimeout))
	assert.False(t, IsBusy(errors.New("other")))
}
