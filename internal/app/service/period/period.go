// Package period computes billing period boundaries.
package period

import (
	"time"

	"github.com/fatflowers/billing/pkg/apperr"
	"github.com/fatflowers/billing/pkg/types"
)

var months = map[types.PlanInterval]int{
	types.PlanIntervalMonthly:    1,
	types.PlanIntervalQuarterly:  3,
	types.PlanIntervalSemiannual: 6,
	types.PlanIntervalAnnual:     12,
}

// Months returns the calendar length of one interval unit.
func Months(interval types.PlanInterval) (int, bool) {
	m, ok := months[interval]
	return m, ok
}

// End returns start advanced by interval×count calendar months.
// Month overflow follows time.AddDate: Jan 31 + 1 month is Mar 2 or 3.
func End(start time.Time, interval types.PlanInterval, count int) (time.Time, error) {
	m, ok := months[interval]
	if !ok {
		return time.Time{}, apperr.Validation("unknown plan interval: %q", interval)
	}
	if count < 1 {
		return time.Time{}, apperr.Validation("interval count must be positive, got %d", count)
	}
	return start.AddDate(0, m*count, 0), nil
}
