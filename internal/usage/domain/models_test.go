package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBillingPeriodOfUsesUTC(t *testing.T) {
	loc := time.FixedZone("UTC-5", -5*3600)
	// 2024-01-31 22:30 local is already February in UTC.
	ts := time.Date(2024, 1, 31, 22, 30, 0, 0, loc)
	assert.Equal(t, "2024-02", BillingPeriodOf(ts))
}

func TestPreviousBillingPeriod(t *testing.T) {
	prev, err := PreviousBillingPeriod("2024-01")
	require.NoError(t, err)
	assert.Equal(t, "2023-12", prev)

	_, err = PreviousBillingPeriod("2024-13")
	assert.ErrorIs(t, err, ErrInvalidBillingPeriod)
}

func TestBillableMinutes(t *testing.T) {
	assert.Equal(t, int64(70), UsagePeriod{MinutesUsedTotal: 100, TrialMinutesTotal: 30}.BillableMinutes())
	assert.Equal(t, int64(0), UsagePeriod{MinutesUsedTotal: 10, TrialMinutesTotal: 30}.BillableMinutes())
}
