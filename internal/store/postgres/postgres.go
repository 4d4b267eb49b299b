// Package postgres implements the activity store on PostgreSQL via the pgx
// stdlib driver. Schema setup is handled by compose migrations; Bootstrap is
// a connectivity check only.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/ledgerline/activity-service/internal/guard"
	"github.com/ledgerline/activity-service/internal/model"
	"github.com/ledgerline/activity-service/internal/store"
)

// Open opens a PostgreSQL connection using the pgx stdlib driver and verifies
// connectivity.
func Open(dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres DSN is empty")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// New constructs a Postgres store whose every round-trip goes through g.
func New(g *guard.Guard) store.Store { return &pgStore{g: g} }

type pgStore struct{ g *guard.Guard }

func (s *pgStore) Activities() store.Activities { return &activities{g: s.g} }

// HealthPing implements health.HealthPinger.
func (s *pgStore) HealthPing(ctx context.Context) error {
	return s.g.DB().PingContext(ctx)
}

// Bootstrap performs a connectivity check to ensure Postgres is reachable.
func Bootstrap(ctx context.Context, dsn string) error {
	if dsn == "" {
		return nil
	}
	db, err := Open(dsn)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()
	return db.PingContext(ctx)
}

type activities struct{ g *guard.Guard }

const activityColumns = `id, owner_id, type, status, description, amount_minor_units, currency, source, ip, user_agent, audit, created_at`

func (a *activities) Insert(ctx context.Context, m *model.Activity) (*model.Activity, error) {
	out := *m
	if out.Currency == "" {
		out.Currency = model.DefaultCurrency
	}
	err := a.g.Transaction(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
        INSERT INTO activities (owner_id, type, status, description, amount_minor_units, currency, source, ip, user_agent, audit)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
        RETURNING id, created_at
    `, out.OwnerID, out.Type, out.Status, out.Description, out.AmountMinorUnits,
			out.Currency, out.Source, nullIfEmpty(out.IP), nullIfEmpty(out.UserAgent), nullIfEmptyBytes(out.Audit))
		return row.Scan(&out.ID, &out.CreatedAt)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *activities) List(ctx context.Context, req model.ListActivitiesRequest) ([]*model.Activity, error) {
	where, args := buildWhere(req)
	query := fmt.Sprintf(`SELECT %s FROM activities WHERE %s ORDER BY created_at DESC, id DESC LIMIT %d OFFSET %d`,
		activityColumns, where, req.PageSize, req.Offset())

	v, err := a.g.Query(ctx, query, args, scanActivities)
	if err != nil {
		return nil, err
	}
	return v.([]*model.Activity), nil
}

func (a *activities) Count(ctx context.Context, req model.ListActivitiesRequest) (int64, error) {
	where, args := buildWhere(req)
	query := `SELECT COUNT(*) FROM activities WHERE ` + where

	v, err := a.g.Query(ctx, query, args, func(rows *sql.Rows) (interface{}, error) {
		var n int64
		if rows.Next() {
			if err := rows.Scan(&n); err != nil {
				return nil, err
			}
		}
		return n, nil
	})
	if err != nil {
		return 0, err
	}
	return v.(int64), nil
}

func (a *activities) ListSince(ctx context.Context, ownerID string, sinceID int64, limit int) ([]*model.Activity, error) {
	query := fmt.Sprintf(`SELECT %s FROM activities WHERE owner_id=$1 AND id>$2 ORDER BY id ASC LIMIT %d`,
		activityColumns, limit)

	v, err := a.g.Query(ctx, query, []interface{}{ownerID, sinceID}, scanActivities)
	if err != nil {
		return nil, err
	}
	return v.([]*model.Activity), nil
}

func (a *activities) MaxID(ctx context.Context, ownerID string) (int64, error) {
	v, err := a.g.Query(ctx, `SELECT COALESCE(MAX(id),0) FROM activities WHERE owner_id=$1`,
		[]interface{}{ownerID}, func(rows *sql.Rows) (interface{}, error) {
			var max int64
			if rows.Next() {
				if err := rows.Scan(&max); err != nil {
					return nil, err
				}
			}
			return max, nil
		})
	if err != nil {
		return 0, err
	}
	return v.(int64), nil
}

// buildWhere renders the filter dimensions into a WHERE clause with $n
// placeholders. The broad substring filter stays index-friendly ILIKE over a
// fixed column set; fuzzy matching never happens store-side.
func buildWhere(req model.ListActivitiesRequest) (string, []interface{}) {
	var (
		conds []string
		args  []interface{}
	)
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	conds = append(conds, "owner_id = "+arg(req.OwnerID))

	if req.ID != nil {
		conds = append(conds, "id = "+arg(*req.ID))
	}
	if len(req.Types) > 0 {
		var ors []string
		for _, t := range req.Types {
			ors = append(ors, fmt.Sprintf("(type = %s OR type LIKE %s)", arg(t), arg(t+".%")))
		}
		conds = append(conds, "("+strings.Join(ors, " OR ")+")")
	}
	if len(req.Statuses) > 0 {
		var ph []string
		for _, s := range req.Statuses {
			ph = append(ph, arg(s))
		}
		conds = append(conds, "status IN ("+strings.Join(ph, ",")+")")
	}
	if len(req.Sources) > 0 {
		var ph []string
		for _, s := range req.Sources {
			ph = append(ph, arg(s))
		}
		conds = append(conds, "source IN ("+strings.Join(ph, ",")+")")
	}
	if req.Text != "" {
		p := arg("%" + req.Text + "%")
		conds = append(conds, fmt.Sprintf(
			"(type ILIKE %[1]s OR description ILIKE %[1]s OR source ILIKE %[1]s OR ip ILIKE %[1]s OR user_agent ILIKE %[1]s)", p))
	}
	if req.Amount != nil {
		conds = append(conds, fmt.Sprintf("amount_minor_units %s %s", sqlOp(req.Amount.Op), arg(minorUnits(req.Amount.Value))))
	}
	if req.From != nil {
		conds = append(conds, "created_at >= "+arg(*req.From))
	}
	if req.To != nil {
		conds = append(conds, "created_at <= "+arg(*req.To))
	}
	return strings.Join(conds, " AND "), args
}

func sqlOp(op model.AmountOp) string {
	switch op {
	case model.OpGt, model.OpGe, model.OpLt, model.OpLe:
		return string(op)
	default:
		return "="
	}
}

func minorUnits(major float64) int64 {
	return int64(math.Round(major * 100))
}

func scanActivities(rows *sql.Rows) (interface{}, error) {
	var out []*model.Activity
	for rows.Next() {
		var (
			m         model.Activity
			ip, ua    sql.NullString
			audit     []byte
			createdAt time.Time
		)
		if err := rows.Scan(&m.ID, &m.OwnerID, &m.Type, &m.Status, &m.Description,
			&m.AmountMinorUnits, &m.Currency, &m.Source, &ip, &ua, &audit, &createdAt); err != nil {
			return nil, err
		}
		m.IP = ip.String
		m.UserAgent = ua.String
		m.Audit = audit
		m.CreatedAt = createdAt
		out = append(out, &m)
	}
	return out, rows.Err()
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullIfEmptyBytes(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return b
}
