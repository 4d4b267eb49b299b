package feed

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerline/activity-service/internal/model"
)

// fakeActivities is an in-memory activity store with controllable failures,
// enough surface for watcher and registry tests.
type fakeActivities struct {
	mu       sync.Mutex
	rows     []*model.Activity
	nextID   int64
	maxIDErr error
}

func (f *fakeActivities) Insert(_ context.Context, m *model.Activity) (*model.Activity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	out := *m
	out.ID = f.nextID
	if out.CreatedAt.IsZero() {
		out.CreatedAt = time.Now().UTC()
	}
	f.rows = append(f.rows, &out)
	return &out, nil
}

// List honors the owner scope and From bound in newest-first order, which is
// all the registry's reconnect replay needs.
func (f *fakeActivities) List(_ context.Context, req model.ListActivitiesRequest) ([]*model.Activity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.Activity
	for i := len(f.rows) - 1; i >= 0; i-- {
		r := f.rows[i]
		if r.OwnerID != req.OwnerID {
			continue
		}
		if req.From != nil && r.CreatedAt.Before(*req.From) {
			continue
		}
		out = append(out, r)
		if req.PageSize > 0 && len(out) == req.PageSize {
			break
		}
	}
	return out, nil
}

func (f *fakeActivities) Count(context.Context, model.ListActivitiesRequest) (int64, error) {
	return 0, nil
}

func (f *fakeActivities) ListSince(_ context.Context, ownerID string, sinceID int64, limit int) ([]*model.Activity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.Activity
	for _, r := range f.rows {
		if r.OwnerID == ownerID && r.ID > sinceID {
			out = append(out, r)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (f *fakeActivities) MaxID(_ context.Context, ownerID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.maxIDErr != nil {
		err := f.maxIDErr
		f.maxIDErr = nil
		return 0, err
	}
	var max int64
	for _, r := range f.rows {
		if r.OwnerID == ownerID && r.ID > max {
			max = r.ID
		}
	}
	return max, nil
}

func recvWithin(t *testing.T, ch <-chan model.Activity, d time.Duration) model.Activity {
	t.Helper()
	select {
	case a := <-ch:
		return a
	case <-time.After(d):
		t.Fatal("timed out waiting for event")
		return model.Activity{}
	}
}

func assertQuiet(t *testing.T, ch <-chan model.Activity, d time.Duration) {
	t.Helper()
	select {
	case a := <-ch:
		t.Fatalf("unexpected event: id=%d type=%s", a.ID, a.Type)
	case <-time.After(d):
	}
}

func TestBusDeliversToOwnerOnly(t *testing.T) {
	b := NewBus(8)
	ch1, off1 := b.Subscribe("o1")
	ch2, off2 := b.Subscribe("o2")
	defer off1()
	defer off2()

	b.Publish(model.Activity{ID: 1, OwnerID: "o1", Type: "login"})

	got := recvWithin(t, ch1, time.Second)
	assert.Equal(t, int64(1), got.ID)
	assertQuiet(t, ch2, 50*time.Millisecond)
}

func TestBusCancelStopsDelivery(t *testing.T) {
	b := NewBus(8)
	ch, off := b.Subscribe("o1")
	off()
	off() // second call is a no-op

	b.Publish(model.Activity{ID: 1, OwnerID: "o1"})
	assertQuiet(t, ch, 50*time.Millisecond)
}

func TestFilterMatches(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	act := &model.Activity{
		ID: 7, OwnerID: "o1", Type: "payment.captured", Status: model.StatusSuccess,
		Description: "Pagamento aprovado", Source: "pix", CreatedAt: base,
	}
	before, after := base.Add(-time.Hour), base.Add(time.Hour)

	cases := []struct {
		name string
		f    Filter
		want bool
	}{
		{"empty filter matches all", Filter{}, true},
		{"exact type", Filter{Types: []string{"payment.captured"}}, true},
		{"taxonomy prefix", Filter{Types: []string{"payment"}}, true},
		{"wrong type", Filter{Types: []string{"refund"}}, false},
		{"status", Filter{Statuses: []string{model.StatusSuccess}}, true},
		{"wrong status", Filter{Statuses: []string{model.StatusFailed}}, false},
		{"source", Filter{Sources: []string{"pix"}}, true},
		{"text substring", Filter{Text: "aprovado"}, true},
		{"text miss", Filter{Text: "estorno"}, false},
		{"within range", Filter{From: &before, To: &after}, true},
		{"before range", Filter{From: &after}, false},
		{"after range", Filter{To: &before}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.f.Matches(act))
		})
	}
}

func TestFromQueryCollapsesTerms(t *testing.T) {
	f := FromQuery(model.ParsedQuery{
		Types: []string{"payment"},
		Terms: []string{"fatura", "marco"},
	}, nil, nil)
	assert.Equal(t, "fatura marco", f.Text)
	assert.Equal(t, []string{"payment"}, f.Types)
}

func newTestRegistry(acts *fakeActivities, interval time.Duration) (*Registry, *Bus) {
	bus := NewBus(8)
	reg := NewRegistry(acts, bus, Options{
		ReconcileInterval: interval,
		ReconcileBatch:    10,
		SubscriberBuffer:  8,
	}, zerolog.Nop())
	return reg, bus
}

func TestSubscribeDeliversBusEventsImmediately(t *testing.T) {
	acts := &fakeActivities{}
	// Long interval keeps reconciliation out of the picture.
	reg, bus := newTestRegistry(acts, time.Hour)
	defer reg.Shutdown()

	sub := reg.Subscribe(context.Background(), "o1", Filter{}, nil)
	defer sub.Close()

	created, err := acts.Insert(context.Background(), &model.Activity{OwnerID: "o1", Type: "login", Status: model.StatusSuccess})
	require.NoError(t, err)
	bus.Publish(*created)

	got := recvWithin(t, sub.C, time.Second)
	assert.Equal(t, created.ID, got.ID)
}

func TestSubscriberFilterApplied(t *testing.T) {
	acts := &fakeActivities{}
	reg, bus := newTestRegistry(acts, time.Hour)
	defer reg.Shutdown()

	sub := reg.Subscribe(context.Background(), "o1", Filter{Types: []string{"payment"}}, nil)
	defer sub.Close()

	bus.Publish(model.Activity{ID: 1, OwnerID: "o1", Type: "login"})
	bus.Publish(model.Activity{ID: 2, OwnerID: "o1", Type: "payment.created"})

	got := recvWithin(t, sub.C, time.Second)
	assert.Equal(t, int64(2), got.ID)
	assertQuiet(t, sub.C, 50*time.Millisecond)
}

func TestReconcileCatchesMissedEvents(t *testing.T) {
	acts := &fakeActivities{}
	seedHistory(t, acts, 2)

	reg, _ := newTestRegistry(acts, 20*time.Millisecond)
	defer reg.Shutdown()

	// Cursor seeds at the current high-water mark, so history stays silent.
	sub := reg.Subscribe(context.Background(), "o1", Filter{}, nil)
	defer sub.Close()
	assertQuiet(t, sub.C, 60*time.Millisecond)

	// An insert that never hits the bus still reaches the feed via reconcile.
	created, err := acts.Insert(context.Background(), &model.Activity{OwnerID: "o1", Type: "refund", Status: model.StatusFailed})
	require.NoError(t, err)

	got := recvWithin(t, sub.C, 2*time.Second)
	assert.Equal(t, created.ID, got.ID)

	// The cursor advanced, so the record is not replayed on later ticks.
	assertQuiet(t, sub.C, 100*time.Millisecond)
}

func TestSeedFailureDoesNotReplayHistory(t *testing.T) {
	acts := &fakeActivities{maxIDErr: context.DeadlineExceeded}
	seedHistory(t, acts, 3)

	reg, _ := newTestRegistry(acts, 20*time.Millisecond)
	defer reg.Shutdown()

	sub := reg.Subscribe(context.Background(), "o1", Filter{}, nil)
	defer sub.Close()

	// The first reconcile re-seeds the cursor instead of broadcasting.
	assertQuiet(t, sub.C, 100*time.Millisecond)

	created, err := acts.Insert(context.Background(), &model.Activity{OwnerID: "o1", Type: "login", Status: model.StatusSuccess})
	require.NoError(t, err)
	got := recvWithin(t, sub.C, 2*time.Second)
	assert.Equal(t, created.ID, got.ID)
}

func TestSubscribeWithSinceReplaysGap(t *testing.T) {
	acts := &fakeActivities{}
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		_, err := acts.Insert(context.Background(), &model.Activity{
			OwnerID: "o1", Type: "payment.created", Status: model.StatusSuccess,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}

	reg, _ := newTestRegistry(acts, time.Hour)
	defer reg.Shutdown()

	// A reconnecting client passes the time of its last seen event; the two
	// records created at or after it come back oldest-first.
	since := base.Add(time.Minute)
	sub := reg.Subscribe(context.Background(), "o1", Filter{}, &since)
	defer sub.Close()

	first := recvWithin(t, sub.C, time.Second)
	second := recvWithin(t, sub.C, time.Second)
	assert.Equal(t, int64(2), first.ID)
	assert.Equal(t, int64(3), second.ID)
	assertQuiet(t, sub.C, 50*time.Millisecond)
}

func TestSubscribeWithSinceAppliesFilter(t *testing.T) {
	acts := &fakeActivities{}
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	for _, typ := range []string{"login", "refund"} {
		_, err := acts.Insert(context.Background(), &model.Activity{
			OwnerID: "o1", Type: typ, Status: model.StatusSuccess, CreatedAt: base,
		})
		require.NoError(t, err)
	}

	reg, _ := newTestRegistry(acts, time.Hour)
	defer reg.Shutdown()

	since := base
	sub := reg.Subscribe(context.Background(), "o1", Filter{Types: []string{"refund"}}, &since)
	defer sub.Close()

	got := recvWithin(t, sub.C, time.Second)
	assert.Equal(t, "refund", got.Type)
	assertQuiet(t, sub.C, 50*time.Millisecond)
}

func TestSubscribeConcurrentWithLastCloseStillDelivers(t *testing.T) {
	acts := &fakeActivities{}
	reg, bus := newTestRegistry(acts, time.Hour)
	defer reg.Shutdown()

	// A subscriber attaching while the owner's last subscriber closes must
	// land on a live watcher, never on one mid-teardown.
	for i := 0; i < 200; i++ {
		s1 := reg.Subscribe(context.Background(), "o1", Filter{}, nil)
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			s1.Close()
		}()
		s2 := reg.Subscribe(context.Background(), "o1", Filter{}, nil)
		wg.Wait()

		bus.Publish(model.Activity{ID: int64(i + 1), OwnerID: "o1", Type: "login"})
		got := recvWithin(t, s2.C, time.Second)
		assert.Equal(t, int64(i+1), got.ID)
		s2.Close()
	}
}

func TestWatcherLifecycle(t *testing.T) {
	acts := &fakeActivities{}
	reg, _ := newTestRegistry(acts, time.Hour)
	defer reg.Shutdown()

	ctx := context.Background()
	s1 := reg.Subscribe(ctx, "o1", Filter{}, nil)
	s2 := reg.Subscribe(ctx, "o1", Filter{}, nil)
	s3 := reg.Subscribe(ctx, "o2", Filter{}, nil)
	assert.Equal(t, 2, reg.WatcherCount())

	s1.Close()
	assert.Equal(t, 2, reg.WatcherCount())

	s2.Close()
	assert.Equal(t, 1, reg.WatcherCount())

	s3.Close()
	s3.Close() // idempotent
	assert.Equal(t, 0, reg.WatcherCount())
}

func seedHistory(t *testing.T, acts *fakeActivities, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := acts.Insert(context.Background(), &model.Activity{
			OwnerID: "o1", Type: "payment.created", Status: model.StatusSuccess,
		})
		require.NoError(t, err)
	}
}
