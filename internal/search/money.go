package search

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/ledgerline/activity-service/internal/model"
)

// moneyRx accepts digits grouped by dots/commas with an optional currency
// marker, e.g. "1.234,56", "1,234.56", "R$12,34", "$ 99".
var moneyRx = regexp.MustCompile(`^(?:r\$|us\$|\$|€)?\s*\d{1,3}(?:[.,]?\d+)*$`)

// opRx captures an optional comparison operator followed by a money literal.
var opRx = regexp.MustCompile(`^(>=|<=|>|<|=)\s*(.+)$`)

// ParseMoney parses a money literal tolerant of both "1.234,56" and
// "1,234.56" conventions: the rightmost separator is taken as the decimal
// point and every other separator is treated as grouping. Returns the value
// in major units and whether parsing succeeded.
func ParseMoney(raw string) (float64, bool) {
	s := strings.ToLower(strings.TrimSpace(raw))
	for _, sym := range []string{"r$", "us$", "$", "€"} {
		s = strings.TrimPrefix(s, sym)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	for _, r := range s {
		if (r < '0' || r > '9') && r != '.' && r != ',' {
			return 0, false
		}
	}

	last := strings.LastIndexAny(s, ".,")
	if last == -1 {
		v, err := strconv.ParseFloat(s, 64)
		return v, err == nil
	}

	intPart := strings.Map(func(r rune) rune {
		if r == '.' || r == ',' {
			return -1
		}
		return r
	}, s[:last])
	fracPart := s[last+1:]
	if fracPart == "" || strings.ContainsAny(fracPart, ".,") {
		return 0, false
	}
	v, err := strconv.ParseFloat(intPart+"."+fracPart, 64)
	return v, err == nil
}

// parseAmountToken parses "[op]<money>" with "=" as the default operator.
func parseAmountToken(raw string) (*model.AmountFilter, bool) {
	s := strings.TrimSpace(raw)
	op := model.OpEq
	if m := opRx.FindStringSubmatch(s); m != nil {
		op = model.AmountOp(m[1])
		s = m[2]
	}
	if !moneyRx.MatchString(strings.ToLower(strings.TrimSpace(s))) {
		return nil, false
	}
	v, ok := ParseMoney(s)
	if !ok {
		return nil, false
	}
	return &model.AmountFilter{Op: op, Value: v}, true
}

// looksLikeMoney reports whether a bare token is a plain numeric/money shape.
func looksLikeMoney(raw string) bool {
	return moneyRx.MatchString(strings.ToLower(strings.TrimSpace(raw)))
}
