package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerline/activity-service/internal/feed"
	"github.com/ledgerline/activity-service/internal/guard"
	"github.com/ledgerline/activity-service/internal/model"
	"github.com/ledgerline/activity-service/internal/store/sqlite"
)

func newTestService(t *testing.T, opts Options) (*ActivityService, *feed.Bus, *sql.DB) {
	t.Helper()
	db, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	g := guard.New(db, guard.Options{MaxConcurrent: 2, MaxQueue: 4}, zerolog.Nop())
	st := sqlite.New(g)
	bus := feed.NewBus(8)
	return NewActivityService(st, bus, opts, zerolog.Nop()), bus, db
}

func seedActivities(t *testing.T, svc *ActivityService, n int) []*model.Activity {
	t.Helper()
	out := make([]*model.Activity, n)
	for i := 0; i < n; i++ {
		a, err := svc.Create(context.Background(), &model.Activity{
			OwnerID: "o1", Type: "payment.created", Status: model.StatusSuccess,
			Description: "Pagamento via cartão", AmountMinorUnits: 15000, Source: "card",
			CreatedAt: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC).Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
		out[i] = a
	}
	return out
}

func TestCreateValidatesAndPublishes(t *testing.T) {
	svc, bus, _ := newTestService(t, Options{})
	ch, off := bus.Subscribe("o1")
	defer off()

	created, err := svc.Create(context.Background(), &model.Activity{
		OwnerID: "o1", Type: "login",
	})
	require.NoError(t, err)
	assert.Greater(t, created.ID, int64(0))
	assert.Equal(t, model.StatusSuccess, created.Status)
	assert.Equal(t, model.DefaultCurrency, created.Currency)

	select {
	case got := <-ch:
		assert.Equal(t, created.ID, got.ID)
	case <-time.After(time.Second):
		t.Fatal("expected bus publish on create")
	}

	_, err = svc.Create(context.Background(), &model.Activity{OwnerID: "o1"})
	assert.ErrorIs(t, err, model.ErrValidation)

	_, err = svc.Create(context.Background(), &model.Activity{Type: "login"})
	assert.ErrorIs(t, err, model.ErrValidation)

	_, err = svc.Create(context.Background(), &model.Activity{
		OwnerID: "o1", Type: "refund", AmountMinorUnits: -1,
	})
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestListPaginatesWithExactTotals(t *testing.T) {
	svc, _, _ := newTestService(t, Options{})
	seedActivities(t, svc, 5)

	page, err := svc.List(context.Background(), model.ListActivitiesRequest{
		OwnerID: "o1", Page: 1, PageSize: 2,
	})
	require.NoError(t, err)
	assert.Len(t, page.Items, 2)
	assert.Equal(t, int64(5), page.Total)
	assert.True(t, page.HasNextPage)
	require.NotNil(t, page.NextPage)
	assert.Equal(t, 2, *page.NextPage)
	assert.False(t, page.Meta.Degraded)
	assert.False(t, page.Meta.Estimate)
	assert.NotEmpty(t, page.Meta.RequestID)

	page, err = svc.List(context.Background(), model.ListActivitiesRequest{
		OwnerID: "o1", Page: 3, PageSize: 2,
	})
	require.NoError(t, err)
	assert.Len(t, page.Items, 1)
	assert.False(t, page.HasNextPage)
	assert.Nil(t, page.NextPage)
}

func TestListClampsPageSizeAndDefaults(t *testing.T) {
	svc, _, _ := newTestService(t, Options{PageSizeDefault: 3, PageSizeMax: 4})
	seedActivities(t, svc, 6)

	page, err := svc.List(context.Background(), model.ListActivitiesRequest{OwnerID: "o1"})
	require.NoError(t, err)
	assert.Equal(t, 3, page.PageSize)
	assert.Len(t, page.Items, 3)

	page, err = svc.List(context.Background(), model.ListActivitiesRequest{
		OwnerID: "o1", Page: 1, PageSize: 999,
	})
	require.NoError(t, err)
	assert.Equal(t, 4, page.PageSize)
	assert.Len(t, page.Items, 4)
}

func TestListClampsPageSizeToMin(t *testing.T) {
	svc, _, _ := newTestService(t, Options{PageSizeMin: 5, PageSizeDefault: 10})
	seedActivities(t, svc, 6)

	page, err := svc.List(context.Background(), model.ListActivitiesRequest{
		OwnerID: "o1", Page: 1, PageSize: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, 5, page.PageSize)
	assert.Len(t, page.Items, 5)
}

func TestListRejectsInvertedDateRange(t *testing.T) {
	svc, _, _ := newTestService(t, Options{})
	from := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	to := from.Add(-time.Hour)

	_, err := svc.List(context.Background(), model.ListActivitiesRequest{
		OwnerID: "o1", From: &from, To: &to,
	})
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestListDegradesOnStoreOutage(t *testing.T) {
	svc, _, db := newTestService(t, Options{})
	seedActivities(t, svc, 2)
	require.NoError(t, db.Close())

	page, err := svc.List(context.Background(), model.ListActivitiesRequest{OwnerID: "o1"})
	require.NoError(t, err)
	assert.True(t, page.Meta.Degraded)
	assert.True(t, page.Meta.Estimate)
	assert.Empty(t, page.Items)
	assert.Zero(t, page.Total)
}

func TestListStopsPagingPastMaxOffset(t *testing.T) {
	svc, _, _ := newTestService(t, Options{MaxOffset: 2})
	seedActivities(t, svc, 6)

	// The offset cap short-circuits before any store round-trip: an empty
	// valid page with an estimated total and no next-page marker.
	page, err := svc.List(context.Background(), model.ListActivitiesRequest{
		OwnerID: "o1", Page: 3, PageSize: 2,
	})
	require.NoError(t, err)
	assert.True(t, page.Meta.Estimate)
	assert.False(t, page.Meta.Degraded)
	assert.Empty(t, page.Items)
	assert.Equal(t, int64(2), page.Total)
	assert.False(t, page.HasNextPage)
	assert.Nil(t, page.NextPage)

	// The page just under the cap still reads from the store.
	page, err = svc.List(context.Background(), model.ListActivitiesRequest{
		OwnerID: "o1", Page: 1, PageSize: 2,
	})
	require.NoError(t, err)
	assert.Len(t, page.Items, 2)
	assert.False(t, page.Meta.Estimate)
}

func TestSearchResolvesAliasesAndAmounts(t *testing.T) {
	svc, _, _ := newTestService(t, Options{})
	ctx := context.Background()

	_, err := svc.Create(ctx, &model.Activity{
		OwnerID: "o1", Type: "payment.created", Status: model.StatusSuccess,
		Description: "Pagamento fatura", AmountMinorUnits: 15000, Source: "card",
		Audit: json.RawMessage(`{"payment":{"brand":"visa"}}`),
	})
	require.NoError(t, err)
	_, err = svc.Create(ctx, &model.Activity{
		OwnerID: "o1", Type: "payment.created", Status: model.StatusFailed,
		Description: "Pagamento recusado", AmountMinorUnits: 5000, Source: "card",
	})
	require.NoError(t, err)
	_, err = svc.Create(ctx, &model.Activity{
		OwnerID: "o1", Type: "refund", Status: model.StatusSuccess,
		Description: "Estorno", AmountMinorUnits: 20000, Source: "boleto",
	})
	require.NoError(t, err)

	page, err := svc.Search(ctx, "o1", "tipo:pagamento status:aprovado >100")
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "payment.created", page.Items[0].Type)
	assert.Equal(t, int64(15000), page.Items[0].AmountMinorUnits)
	assert.False(t, page.Meta.Degraded)
}

func TestSearchEmptyQueryReturnsRecent(t *testing.T) {
	svc, _, _ := newTestService(t, Options{SmartTopN: 2})
	seedActivities(t, svc, 4)

	page, err := svc.Search(context.Background(), "o1", "")
	require.NoError(t, err)
	assert.Len(t, page.Items, 2)
}

func TestSearchDegradesOnStoreOutage(t *testing.T) {
	svc, _, db := newTestService(t, Options{})
	require.NoError(t, db.Close())

	page, err := svc.Search(context.Background(), "o1", "pagamento")
	require.NoError(t, err)
	assert.True(t, page.Meta.Degraded)
	assert.Empty(t, page.Items)
}
