package store

import (
	"context"

	"github.com/ledgerline/activity-service/internal/model"
)

// Store exposes persistence operations required by services.
// Implementations live under internal/store/<driver>/ (postgres, sqlite) and
// route every round-trip through the access guard.
type Store interface {
	Activities() Activities
	HealthPing(ctx context.Context) error
}

// Activities is the append-only event log for all owners.
type Activities interface {
	// Insert persists a new record and returns it with the assigned id and
	// creation time filled in.
	Insert(ctx context.Context, a *model.Activity) (*model.Activity, error)

	// List returns one page ordered created_at DESC, id DESC.
	List(ctx context.Context, req model.ListActivitiesRequest) ([]*model.Activity, error)

	// Count returns the total matching the request's filters (page ignored).
	Count(ctx context.Context, req model.ListActivitiesRequest) (int64, error)

	// ListSince returns records with id > sinceID for one owner in ascending
	// id order, at most limit rows. Used by the feed watcher reconciliation.
	ListSince(ctx context.Context, ownerID string, sinceID int64, limit int) ([]*model.Activity, error)

	// MaxID returns the highest activity id for an owner (0 when none).
	// Seeds the watcher cursor so a fresh watcher starts at "now".
	MaxID(ctx context.Context, ownerID string) (int64, error)
}
