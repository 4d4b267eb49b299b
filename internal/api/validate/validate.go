// Package validate holds small field validators shared by the API handlers.
package validate

import (
	"fmt"
	"regexp"
)

// typeRx allows lowercase dotted taxonomy labels: "payment", "payment.captured".
var typeRx = regexp.MustCompile(`^[a-z][a-z0-9_]*(\.[a-z][a-z0-9_]*)*$`)

var currencyRx = regexp.MustCompile(`^[A-Z]{3}$`)

// ActivityType validates a dotted taxonomy label, max 64 bytes.
func ActivityType(v string) error {
	if v == "" {
		return fmt.Errorf("type is required")
	}
	if len(v) > 64 {
		return fmt.Errorf("type exceeds 64 characters")
	}
	if !typeRx.MatchString(v) {
		return fmt.Errorf("type must be a lowercase dotted label")
	}
	return nil
}

// Currency validates an ISO-4217 style three-letter code.
func Currency(v string) error {
	if v == "" {
		return nil
	}
	if !currencyRx.MatchString(v) {
		return fmt.Errorf("currency must be a three-letter uppercase code")
	}
	return nil
}

func NonEmpty(field, v string) error {
	if v == "" {
		return fmt.Errorf("%s is required", field)
	}
	return nil
}

func MaxLen(field, v string, limit int) error {
	if len(v) > limit {
		return fmt.Errorf("%s exceeds %d characters", field, limit)
	}
	return nil
}
