package search

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/ledgerline/activity-service/internal/model"
)

// idRx matches the exact-id marker, e.g. "#42" or "#000000042".
var idRx = regexp.MustCompile(`^#0*(\d+)$`)

// ipRx matches tokens shaped like a (possibly partial) IP address. These are
// kept as literal free-text terms and never alias-resolved: "192.168.0." is a
// user narrowing down an address, not a typo for anything.
var ipRx = regexp.MustCompile(`^\d{1,3}(?:\.\d{1,3}){2,3}\.?$|^\d{1,3}\.\d{1,3}\.$`)

// Parse turns a raw search string into a structured query. It never fails:
// malformed fragments degrade to free-text terms instead of rejecting the
// whole input. The result is a pure function of raw.
func Parse(raw string) model.ParsedQuery {
	var q model.ParsedQuery

	for _, tok := range strings.Fields(raw) {
		if m := idRx.FindStringSubmatch(tok); m != nil {
			if id, err := strconv.ParseInt(m[1], 10, 64); err == nil {
				q.ID = &id
				continue
			}
		}

		if ipRx.MatchString(tok) {
			q.Terms = append(q.Terms, tok)
			continue
		}

		if key, value, ok := strings.Cut(tok, ":"); ok && key != "" && value != "" {
			if parseKeyValue(&q, key, value) {
				continue
			}
		}

		parseBareToken(&q, tok)
	}
	return q
}

// parseKeyValue handles "key:value" tokens. The key resolves against the
// canonical key vocabulary by edit distance; an unresolvable key sends the
// whole token to free text.
func parseKeyValue(q *model.ParsedQuery, key, value string) bool {
	switch resolveKey(key) {
	case "type":
		if c := resolveAlias(fieldType, value); c != "" {
			q.Types = appendUnique(q.Types, c)
		} else {
			// Unresolved types pass through raw: the taxonomy is open and the
			// store may hold types the alias table has never heard of.
			q.Types = appendUnique(q.Types, Normalize(value))
		}
		return true
	case "status":
		if c := resolveAlias(fieldStatus, value); c != "" {
			q.Statuses = appendUnique(q.Statuses, c)
		} else {
			q.Terms = append(q.Terms, value)
		}
		return true
	case "source":
		if c := resolveAlias(fieldSource, value); c != "" {
			q.Sources = appendUnique(q.Sources, c)
		} else {
			q.Terms = append(q.Terms, value)
		}
		return true
	case "currency":
		if c := resolveAlias(fieldCurrency, value); c != "" {
			q.Currency = c
		} else {
			q.Terms = append(q.Terms, value)
		}
		return true
	case "amount":
		if f, ok := parseAmountToken(value); ok {
			q.Amount = f
		} else {
			q.Terms = append(q.Terms, value)
		}
		return true
	}
	return false
}

// parseBareToken runs the cascade for tokens with no key separator:
// currency alias, operator+number, bare money (only if amount unset), then
// status, source and type aliases, finally free text.
func parseBareToken(q *model.ParsedQuery, tok string) {
	if c := resolveExactAlias(fieldCurrency, tok); c != "" {
		q.Currency = c
		return
	}
	if strings.IndexAny(tok, "><=") == 0 {
		if f, ok := parseAmountToken(tok); ok {
			q.Amount = f
			return
		}
	}
	if looksLikeMoney(tok) {
		if q.Amount == nil {
			if v, ok := ParseMoney(tok); ok {
				q.Amount = &model.AmountFilter{Op: model.OpEq, Value: v}
			}
		}
		return
	}
	if c := resolveAlias(fieldStatus, tok); c != "" {
		q.Statuses = appendUnique(q.Statuses, c)
		return
	}
	if c := resolveAlias(fieldSource, tok); c != "" {
		q.Sources = appendUnique(q.Sources, c)
		return
	}
	if c := resolveAlias(fieldType, tok); c != "" {
		q.Types = appendUnique(q.Types, c)
		return
	}
	q.Terms = append(q.Terms, tok)
}

func appendUnique(list []string, v string) []string {
	for _, have := range list {
		if have == v {
			return list
		}
	}
	return append(list, v)
}
