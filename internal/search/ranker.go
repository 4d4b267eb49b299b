package search

import (
	"sort"
	"strings"

	"github.com/ledgerline/activity-service/internal/model"
)

// Scoring weights. Scores are internal to the ranker and never exposed.
const (
	scoreExactID     = 999
	scoreTypeExact   = 8
	scoreTypeFuzzy   = 5
	scoreAmountMatch = 4
	scoreAmountMiss  = -6
	scoreFacetMatch  = 2
	scoreFacetCap    = 6
	scoreCurrency    = 3
)

// Rank filters records against the query (AND semantics across dimensions)
// and orders survivors by descending relevance. The sort is stable: ties keep
// the input order, which the store guarantees is created_at DESC, id DESC.
// Rank never mutates its input slice.
func Rank(records []*model.Activity, q model.ParsedQuery) []*model.Activity {
	type scored struct {
		a     *model.Activity
		score int
	}

	kept := make([]scored, 0, len(records))
	for _, a := range records {
		if a == nil || !matches(a, q) {
			continue
		}
		kept = append(kept, scored{a: a, score: score(a, q)})
	}

	sort.SliceStable(kept, func(i, j int) bool { return kept[i].score > kept[j].score })

	out := make([]*model.Activity, len(kept))
	for i, s := range kept {
		out[i] = s.a
	}
	return out
}

// matches applies the filtering pass: every non-empty dimension must accept
// the record.
func matches(a *model.Activity, q model.ParsedQuery) bool {
	if q.ID != nil && a.ID != *q.ID {
		return false
	}
	if len(q.Types) > 0 {
		any := false
		for _, t := range q.Types {
			if kind := matchType(a.Type, t); kind != typeMatchNone {
				any = true
				break
			}
		}
		if !any {
			return false
		}
	}
	if len(q.Statuses) > 0 && !matchesFacet(a.Status, q.Statuses) {
		return false
	}
	if len(q.Sources) > 0 && !matchesFacet(a.Source, q.Sources) {
		return false
	}
	if q.Currency != "" && !strings.EqualFold(strings.TrimSpace(a.Currency), q.Currency) {
		return false
	}
	if q.Amount != nil && !amountSatisfied(a, *q.Amount) {
		return false
	}
	if len(q.Terms) > 0 {
		hay := haystack(a)
		for _, term := range q.Terms {
			if !fuzzyIncludes(hay, term) {
				return false
			}
		}
	}
	return true
}

// score implements the relevance pass over records that survived filtering.
// Amount and id checks repeat here as defense in depth; a record failing them
// never reaches scoring in practice.
func score(a *model.Activity, q model.ParsedQuery) int {
	s := 0
	if q.ID != nil {
		if a.ID != *q.ID {
			return 0
		}
		s += scoreExactID
	}
	for _, t := range q.Types {
		switch matchType(a.Type, t) {
		case typeMatchExact:
			s += scoreTypeExact
		case typeMatchFuzzy:
			s += scoreTypeFuzzy
		}
	}
	if q.Amount != nil {
		if amountSatisfied(a, *q.Amount) {
			s += scoreAmountMatch
		} else {
			s += scoreAmountMiss
		}
	}
	s += facetScore(a.Status, q.Statuses)
	s += facetScore(a.Source, q.Sources)
	if q.Currency != "" && strings.EqualFold(strings.TrimSpace(a.Currency), q.Currency) {
		s += scoreCurrency
	}
	if len(q.Terms) > 0 {
		hay := haystack(a)
		for _, term := range q.Terms {
			if fuzzyIncludes(hay, term) {
				n := len([]rune(Normalize(term)))
				if pts := 4 - threshold(n); pts > 1 {
					s += pts
				} else {
					s++
				}
			}
		}
	}
	return s
}

type typeMatchKind int

const (
	typeMatchNone typeMatchKind = iota
	typeMatchFuzzy
	typeMatchExact
)

// matchType compares a record's dotted taxonomy type against one resolved
// query value. Exact or prefix match ranks above a fuzzy hit on either the
// full type or its leading segment.
func matchType(recordType, queryType string) typeMatchKind {
	rt := Normalize(recordType)
	qt := Normalize(queryType)
	if rt == "" || qt == "" {
		return typeMatchNone
	}
	if rt == qt || strings.HasPrefix(rt, qt) {
		return typeMatchExact
	}
	head := recordType
	if i := strings.IndexByte(head, '.'); i > 0 {
		head = head[:i]
	}
	nh := Normalize(head)
	if Distance(nh, qt) <= threshold(len([]rune(qt))) {
		return typeMatchFuzzy
	}
	if strings.Contains(rt, qt) {
		return typeMatchFuzzy
	}
	return typeMatchNone
}

// matchesFacet reports whether a status/source value matches any filter value
// by normalized equality, substring, or small edit distance.
func matchesFacet(have string, want []string) bool {
	nh := Normalize(have)
	for _, w := range want {
		nw := Normalize(w)
		if nh == nw || strings.Contains(nh, nw) || Distance(nh, nw) <= 2 {
			return true
		}
	}
	return false
}

func facetScore(have string, want []string) int {
	if len(want) == 0 {
		return 0
	}
	nh := Normalize(have)
	s := 0
	for _, w := range want {
		nw := Normalize(w)
		if nh == nw || strings.Contains(nh, nw) || Distance(nh, nw) <= 2 {
			s += scoreFacetMatch
		}
	}
	if s > scoreFacetCap {
		s = scoreFacetCap
	}
	return s
}

func amountSatisfied(a *model.Activity, f model.AmountFilter) bool {
	amount := float64(a.AmountMinorUnits) / 100
	switch f.Op {
	case model.OpGt:
		return amount > f.Value
	case model.OpGe:
		return amount >= f.Value
	case model.OpLt:
		return amount < f.Value
	case model.OpLe:
		return amount <= f.Value
	default:
		return amount == f.Value
	}
}

// haystack concatenates the searchable surface of a record, including the
// localized timestamp users see in the dashboard and the raw audit bag, which
// carries payment brand and gateway identifiers the core never models.
func haystack(a *model.Activity) string {
	parts := []string{
		a.Type,
		a.Description,
		a.Source,
		a.IP,
		a.UserAgent,
		a.CreatedAt.Format("02/01/2006 15:04"),
	}
	if len(a.Audit) > 0 {
		parts = append(parts, string(a.Audit))
	}
	return Normalize(strings.Join(parts, " "))
}

// fuzzyIncludes reports whether a term occurs in the haystack, either as a
// substring or within edit distance of some word.
func fuzzyIncludes(hay, term string) bool {
	t := Normalize(term)
	if t == "" {
		return true
	}
	if strings.Contains(hay, t) {
		return true
	}
	limit := threshold(len([]rune(t)))
	for _, word := range strings.Fields(hay) {
		if Distance(word, t) <= limit {
			return true
		}
	}
	return false
}
