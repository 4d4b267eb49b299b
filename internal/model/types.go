package model

import (
	"encoding/json"
	"time"
)

// Activity statuses form a small closed set today but remain plain strings so
// new statuses flow through the pipeline without a schema change.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
	StatusPending = "pending"
)

// DefaultCurrency is applied when a record carries a missing or malformed
// currency code.
const DefaultCurrency = "BRL"

// Activity is an immutable, append-only event record. ID increases strictly
// with CreatedAt for a given owner; the feed watcher cursor relies on that.
type Activity struct {
	ID               int64           `json:"id"`
	OwnerID          string          `json:"ownerId"`
	Type             string          `json:"type"` // dotted taxonomy, e.g. "payment.captured"
	Status           string          `json:"status"`
	Description      string          `json:"description"`
	AmountMinorUnits int64           `json:"amountMinorUnits"`
	Currency         string          `json:"currency"`
	Source           string          `json:"source"`
	IP               string          `json:"ip,omitempty"`
	UserAgent        string          `json:"userAgent,omitempty"`
	CreatedAt        time.Time       `json:"createdAt"`
	Audit            json.RawMessage `json:"audit,omitempty"` // opaque pass-through (location/http/tls/payment/webhook)
}

// AmountOp is a comparison operator in an amount filter.
type AmountOp string

const (
	OpEq AmountOp = "="
	OpGt AmountOp = ">"
	OpGe AmountOp = ">="
	OpLt AmountOp = "<"
	OpLe AmountOp = "<="
)

// AmountFilter compares an activity amount (in major units) against a value.
type AmountFilter struct {
	Op    AmountOp `json:"op"`
	Value float64  `json:"value"`
}

// ParsedQuery is the structured form of a free-text search string. It is
// produced fresh on every parse call and never mutated afterwards.
type ParsedQuery struct {
	ID       *int64        `json:"id,omitempty"`
	Types    []string      `json:"types,omitempty"`
	Statuses []string      `json:"statuses,omitempty"`
	Sources  []string      `json:"sources,omitempty"`
	Currency string        `json:"currency,omitempty"`
	Amount   *AmountFilter `json:"amount,omitempty"`
	Terms    []string      `json:"terms,omitempty"`
}

// IsZero reports whether the query carries no filter at all.
func (q ParsedQuery) IsZero() bool {
	return q.ID == nil && len(q.Types) == 0 && len(q.Statuses) == 0 &&
		len(q.Sources) == 0 && q.Currency == "" && q.Amount == nil && len(q.Terms) == 0
}

// ListActivitiesRequest captures filters used when listing activities.
type ListActivitiesRequest struct {
	OwnerID  string
	ID       *int64
	Types    []string
	Statuses []string
	Sources  []string
	Text     string // broad store-side substring filter
	Amount   *AmountFilter
	From     *time.Time
	To       *time.Time
	Page     int
	PageSize int
}

// Offset returns the row offset implied by Page/PageSize.
func (r ListActivitiesRequest) Offset() int {
	if r.Page <= 1 {
		return 0
	}
	return (r.Page - 1) * r.PageSize
}

// ListMeta describes how trustworthy a listing response is.
type ListMeta struct {
	RequestID  string `json:"requestId"`
	DurationMs int64  `json:"durationMs"`
	Degraded   bool   `json:"degraded"`
	Estimate   bool   `json:"estimate"`
}

// ActivityPage is one page of a listing plus a total-count estimate.
type ActivityPage struct {
	Page        int         `json:"page"`
	PageSize    int         `json:"pageSize"`
	Total       int64       `json:"total"`
	Items       []*Activity `json:"items"`
	HasNextPage bool        `json:"hasNextPage"`
	NextPage    *int        `json:"nextPage,omitempty"`
	Meta        ListMeta    `json:"meta"`
}
