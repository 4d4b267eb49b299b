package feed

import (
	"strings"
	"time"

	"github.com/ledgerline/activity-service/internal/model"
)

// Filter is the live-feed matcher. It is intentionally simpler than the
// ranker's fuzzy matcher: filter values are pre-resolved to canonical form at
// subscription time, so matching here is exact/prefix equality plus a plain
// substring check. Keeping the hot fan-out path cheap is the point; the rich
// matching lives in the search package.
type Filter struct {
	Types    []string
	Statuses []string
	Sources  []string
	Text     string
	From     *time.Time
	To       *time.Time
}

// FromQuery derives a live-feed filter from a parsed search query.
// Free-text terms collapse into one substring needle; amount and currency
// dimensions are not part of the live matcher.
func FromQuery(q model.ParsedQuery, from, to *time.Time) Filter {
	return Filter{
		Types:    q.Types,
		Statuses: q.Statuses,
		Sources:  q.Sources,
		Text:     strings.ToLower(strings.Join(q.Terms, " ")),
		From:     from,
		To:       to,
	}
}

// Matches reports whether a record satisfies every filter dimension.
func (f Filter) Matches(a *model.Activity) bool {
	if len(f.Types) > 0 && !matchesType(a.Type, f.Types) {
		return false
	}
	if len(f.Statuses) > 0 && !containsFold(f.Statuses, a.Status) {
		return false
	}
	if len(f.Sources) > 0 && !containsFold(f.Sources, a.Source) {
		return false
	}
	if f.From != nil && a.CreatedAt.Before(*f.From) {
		return false
	}
	if f.To != nil && a.CreatedAt.After(*f.To) {
		return false
	}
	if f.Text != "" {
		hay := strings.ToLower(strings.Join([]string{
			a.Type, a.Description, a.Source, a.IP, a.UserAgent,
		}, " "))
		if !strings.Contains(hay, f.Text) {
			return false
		}
	}
	return true
}

// matchesType accepts either an exact type or a dotted-taxonomy prefix:
// a filter value "payment" admits "payment.captured".
func matchesType(have string, want []string) bool {
	for _, w := range want {
		if strings.EqualFold(have, w) {
			return true
		}
		if strings.HasPrefix(strings.ToLower(have), strings.ToLower(w)+".") {
			return true
		}
	}
	return false
}

func containsFold(list []string, v string) bool {
	for _, s := range list {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}
