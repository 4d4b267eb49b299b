// Package sqlite implements the activity store on SQLite (pure-Go modernc
// driver). It backs local development and hermetic tests; unlike the postgres
// driver it bootstraps its own schema on Open.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ledgerline/activity-service/internal/guard"
	"github.com/ledgerline/activity-service/internal/model"
	"github.com/ledgerline/activity-service/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS activities (
    id                 INTEGER PRIMARY KEY AUTOINCREMENT,
    owner_id           TEXT    NOT NULL,
    type               TEXT    NOT NULL,
    status             TEXT    NOT NULL,
    description        TEXT    NOT NULL DEFAULT '',
    amount_minor_units INTEGER NOT NULL DEFAULT 0,
    currency           TEXT    NOT NULL DEFAULT 'BRL',
    source             TEXT    NOT NULL DEFAULT '',
    ip                 TEXT,
    user_agent         TEXT,
    audit              TEXT,
    created_at_ns      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_activities_owner_id ON activities(owner_id, id);
CREATE INDEX IF NOT EXISTS idx_activities_owner_created ON activities(owner_id, created_at_ns);
`

// Open opens (or creates) a SQLite database and bootstraps the schema.
// Use ":memory:" for a throwaway in-process database.
func Open(path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// The modernc driver serializes writes per connection; a single pooled
	// connection avoids table-lock churn for in-memory databases.
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// New constructs a SQLite store whose every round-trip goes through g.
func New(g *guard.Guard) store.Store { return &liteStore{g: g} }

type liteStore struct{ g *guard.Guard }

func (s *liteStore) Activities() store.Activities { return &activities{g: s.g} }

// HealthPing implements health.HealthPinger.
func (s *liteStore) HealthPing(ctx context.Context) error {
	return s.g.DB().PingContext(ctx)
}

type activities struct{ g *guard.Guard }

const activityColumns = `id, owner_id, type, status, description, amount_minor_units, currency, source, ip, user_agent, audit, created_at_ns`

func (a *activities) Insert(ctx context.Context, m *model.Activity) (*model.Activity, error) {
	out := *m
	if out.Currency == "" {
		out.Currency = model.DefaultCurrency
	}
	if out.CreatedAt.IsZero() {
		out.CreatedAt = time.Now().UTC()
	}
	err := a.g.Transaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
        INSERT INTO activities (owner_id, type, status, description, amount_minor_units, currency, source, ip, user_agent, audit, created_at_ns)
        VALUES (?,?,?,?,?,?,?,?,?,?,?)
    `, out.OwnerID, out.Type, out.Status, out.Description, out.AmountMinorUnits,
			out.Currency, out.Source, nullIfEmpty(out.IP), nullIfEmpty(out.UserAgent),
			nullIfEmpty(string(out.Audit)), out.CreatedAt.UnixNano())
		if err != nil {
			return err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		out.ID = id
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *activities) List(ctx context.Context, req model.ListActivitiesRequest) ([]*model.Activity, error) {
	where, args := buildWhere(req)
	query := fmt.Sprintf(`SELECT %s FROM activities WHERE %s ORDER BY created_at_ns DESC, id DESC LIMIT %d OFFSET %d`,
		activityColumns, where, req.PageSize, req.Offset())

	v, err := a.g.Query(ctx, query, args, scanActivities)
	if err != nil {
		return nil, err
	}
	return v.([]*model.Activity), nil
}

func (a *activities) Count(ctx context.Context, req model.ListActivitiesRequest) (int64, error) {
	where, args := buildWhere(req)
	v, err := a.g.Query(ctx, `SELECT COUNT(*) FROM activities WHERE `+where, args,
		func(rows *sql.Rows) (interface{}, error) {
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
	query := fmt.Sprintf(`SELECT %s FROM activities WHERE owner_id=? AND id>? ORDER BY id ASC LIMIT %d`,
		activityColumns, limit)

	v, err := a.g.Query(ctx, query, []interface{}{ownerID, sinceID}, scanActivities)
	if err != nil {
		return nil, err
	}
	return v.([]*model.Activity), nil
}

func (a *activities) MaxID(ctx context.Context, ownerID string) (int64, error) {
	v, err := a.g.Query(ctx, `SELECT COALESCE(MAX(id),0) FROM activities WHERE owner_id=?`,
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

func buildWhere(req model.ListActivitiesRequest) (string, []interface{}) {
	var (
		conds []string
		args  []interface{}
	)
	arg := func(v interface{}) string {
		args = append(args, v)
		return "?"
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
		// SQLite LIKE is case-insensitive for ASCII, matching ILIKE closely
		// enough for a broad substring pre-filter.
		p := "%" + req.Text + "%"
		conds = append(conds, fmt.Sprintf(
			"(type LIKE %s OR description LIKE %s OR source LIKE %s OR ip LIKE %s OR user_agent LIKE %s)",
			arg(p), arg(p), arg(p), arg(p), arg(p)))
	}
	if req.Amount != nil {
		conds = append(conds, fmt.Sprintf("amount_minor_units %s %s", sqlOp(req.Amount.Op), arg(minorUnits(req.Amount.Value))))
	}
	if req.From != nil {
		conds = append(conds, "created_at_ns >= "+arg(req.From.UnixNano()))
	}
	if req.To != nil {
		conds = append(conds, "created_at_ns <= "+arg(req.To.UnixNano()))
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
			audit     sql.NullString
			createdNS int64
		)
		if err := rows.Scan(&m.ID, &m.OwnerID, &m.Type, &m.Status, &m.Description,
			&m.AmountMinorUnits, &m.Currency, &m.Source, &ip, &ua, &audit, &createdNS); err != nil {
			return nil, err
		}
		m.IP = ip.String
		m.UserAgent = ua.String
		if audit.Valid {
			m.Audit = []byte(audit.String)
		}
		m.CreatedAt = time.Unix(0, createdNS).UTC()
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
