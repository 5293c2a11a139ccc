package domain

import (
	"testing"
	"time"

	businessdomain "github.com/smallbiznis/answerline/internal/business/domain"
	"github.com/stretchr/testify/assert"
)

func TestDerive(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	ends := func(d time.Duration) *time.Time {
		v := now.Add(d)
		return &v
	}

	tests := []struct {
		name     string
		business businessdomain.Business
		usage    int64
		want     TrialStatus
	}{
		{
			name: "fresh trial",
			business: businessdomain.Business{
				SubscriptionStatus: businessdomain.SubscriptionStatusNone,
				TrialEndsAt:        ends(14 * 24 * time.Hour),
			},
			want: TrialStatus{IsOnTrial: true, MinutesRemaining: 50, DaysRemaining: 14},
		},
		{
			name: "partial day rounds up",
			business: businessdomain.Business{
				TrialMinutesUsed: 12,
				TrialEndsAt:      ends(36 * time.Hour),
			},
			want: TrialStatus{IsOnTrial: true, MinutesUsed: 12, MinutesRemaining: 38, DaysRemaining: 2},
		},
		{
			name: "exhausted and expired together",
			business: businessdomain.Business{
				TrialMinutesUsed: 51,
				TrialEndsAt:      ends(-time.Hour),
			},
			want: TrialStatus{IsOnTrial: true, MinutesUsed: 51, IsExhausted: true, IsExpired: true},
		},
		{
			name: "exhausted but not expired",
			business: businessdomain.Business{
				TrialMinutesUsed: 50,
				TrialEndsAt:      ends(time.Hour),
			},
			want: TrialStatus{IsOnTrial: true, MinutesUsed: 50, IsExhausted: true, DaysRemaining: 1},
		},
		{
			name: "active ignores stale trial fields",
			business: businessdomain.Business{
				SubscriptionStatus: businessdomain.SubscriptionStatusActive,
				TrialMinutesUsed:   80,
				TrialEndsAt:        ends(-48 * time.Hour),
			},
			usage: 20,
			want:  TrialStatus{MinutesUsed: 20, MinutesRemaining: 30},
		},
		{
			name: "past due stays converted",
			business: businessdomain.Business{
				SubscriptionStatus: businessdomain.SubscriptionStatusPastDue,
			},
			usage: 70,
			want:  TrialStatus{MinutesUsed: 70},
		},
		{
			name: "canceled is back on trial rules",
			business: businessdomain.Business{
				SubscriptionStatus: businessdomain.SubscriptionStatusCanceled,
				TrialMinutesUsed:   10,
			},
			want: TrialStatus{IsOnTrial: true, MinutesUsed: 10, MinutesRemaining: 40},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Derive(now, tt.business, tt.usage, 50)
			assert.Equal(t, tt.want.IsOnTrial, got.IsOnTrial)
			assert.Equal(t, tt.want.MinutesUsed, got.MinutesUsed)
			assert.Equal(t, tt.want.MinutesRemaining, got.MinutesRemaining)
			assert.Equal(t, tt.want.IsExhausted, got.IsExhausted)
			assert.Equal(t, tt.want.IsExpired, got.IsExpired)
			assert.Equal(t, tt.want.DaysRemaining, got.DaysRemaining)
			assert.Equal(t, int64(50), got.MinutesCap)
		})
	}
}

func TestDeriveExactlyAtEnd(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	business := businessdomain.Business{TrialEndsAt: &now}

	got := Derive(now, business, 0, 50)
	assert.False(t, got.IsExpired, "expiry is strictly after the end")
	assert.Zero(t, got.DaysRemaining)
}
