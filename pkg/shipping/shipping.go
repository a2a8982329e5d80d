// Package shipping implements the flat shipping-cost lookup. Pure function,
// no side effects; all amounts in cents.
package shipping

import (
	"strings"

	"github.com/example/bookshop/pkg/errs"
)

const (
	StandardRate      = 599
	ElevatedRate      = 1499
	InternationalRate = 2499
)

// Quote returns the flat shipping cost for a destination. Non-US addresses
// pay the international rate; Hawaii and Alaska pay the elevated domestic
// rate; everywhere else in the US pays standard.
func Quote(country, state string) (int64, error) {
	if country == "" || state == "" {
		return 0, errs.Validation("address country and state are required")
	}

	if !strings.EqualFold(country, "US") {
		return InternationalRate, nil
	}

	switch strings.ToUpper(state) {
	case "HI", "AK":
		return ElevatedRate, nil
	default:
		return StandardRate, nil
	}
}
