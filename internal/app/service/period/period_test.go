package period

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fatflowers/billing/pkg/apperr"
	"github.com/fatflowers/billing/pkg/types"
)

func TestEnd(t *testing.T) {
	start := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	cases := []struct {
		interval types.PlanInterval
		count    int
		want     time.Time
	}{
		{types.PlanIntervalMonthly, 1, time.Date(2024, 2, 15, 10, 0, 0, 0, time.UTC)},
		{types.PlanIntervalMonthly, 3, time.Date(2024, 4, 15, 10, 0, 0, 0, time.UTC)},
		{types.PlanIntervalQuarterly, 1, time.Date(2024, 4, 15, 10, 0, 0, 0, time.UTC)},
		{types.PlanIntervalSemiannual, 1, time.Date(2024, 7, 15, 10, 0, 0, 0, time.UTC)},
		{types.PlanIntervalAnnual, 2, time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		t.Run(string(tc.interval), func(t *testing.T) {
			got, err := End(start, tc.interval, tc.count)
			require.NoError(t, err)
			require.True(t, tc.want.Equal(got), "got %s want %s", got, tc.want)
		})
	}
}

func TestEnd_CalendarOverflow(t *testing.T) {
	got, err := End(time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC), types.PlanIntervalMonthly, 1)
	require.NoError(t, err)
	require.Equal(t, time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC), got)
}

func TestEnd_Invalid(t *testing.T) {
	_, err := End(time.Now(), types.PlanInterval("WEEKLY"), 1)
	require.True(t, errors.Is(err, apperr.ErrValidation))

	_, err = End(time.Now(), types.PlanIntervalMonthly, 0)
	require.True(t, errors.Is(err, apperr.ErrValidation))
}
