package lifecycle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveStatusPrecedence(t *testing.T) {
	tests := []struct {
		name     string
		archived bool
		pct      float64
		want     Status
	}{
		{"archived wins even at 150%", true, 150, StatusArchived},
		{"archived wins at 0%", true, 0, StatusArchived},
		{"expired at exactly 100", false, 100, StatusExpired},
		{"expired above 100", false, 132.5, StatusExpired},
		{"expiring soon at exactly 80", false, 80, StatusExpiringSoon},
		{"expiring soon at 99.9", false, 99.9, StatusExpiringSoon},
		{"good just under threshold", false, 79.99, StatusGood},
		{"good at zero", false, 0, StatusGood},
		{"negative percentage fails open to good", false, -12, StatusGood},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DeriveStatus(tt.archived, tt.pct))
		})
	}
}

func TestPercentageUsed(t *testing.T) {
	start := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("midpoint is about 50", func(t *testing.T) {
		now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
		assert.InDelta(t, 50, PercentageUsed(now, start, end), 0.2)
	})

	t.Run("clamped to 100 past end of life", func(t *testing.T) {
		now := end.AddDate(5, 0, 0)
		assert.Equal(t, 100.0, PercentageUsed(now, start, end))
	})

	t.Run("clamped to 0 before service start", func(t *testing.T) {
		now := start.AddDate(-1, 0, 0)
		assert.Equal(t, 0.0, PercentageUsed(now, start, end))
	})

	t.Run("non-positive interval treated as 0% used", func(t *testing.T) {
		now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
		assert.Equal(t, 0.0, PercentageUsed(now, start, start))
		assert.Equal(t, 0.0, PercentageUsed(now, end, start))
		assert.Equal(t, StatusGood, DeriveStatusAt(now, end, start, false))
	})
}

func TestRawPercentageUsedExceedsHundred(t *testing.T) {
	start := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(2, 0, 0)
	now := start.AddDate(3, 0, 0)

	raw := RawPercentageUsed(now, start, end)
	assert.InDelta(t, 150, raw, 0.5)
	// Both formulations agree on the derived status.
	assert.Equal(t, DeriveStatus(false, raw), DeriveStatusAt(now, start, end, false))
}

func TestExpectedEndOfLife(t *testing.T) {
	start := time.Date(2022, 4, 1, 0, 0, 0, 0, time.UTC)
	got := ExpectedEndOfLife(start, 5)
	// Calendar-accurate across the 2024 leap year.
	assert.Equal(t, time.Date(2027, 4, 1, 0, 0, 0, 0, time.UTC), got)

	assert.Equal(t, time.Date(2023, 4, 1, 0, 0, 0, 0, time.UTC), ExpectedEndOfLife(start, 1))
}

func TestAlertable(t *testing.T) {
	const threshold = 80.0

	assert.False(t, Alertable(true, 95, threshold), "archived item at 95%% is excluded")
	assert.False(t, Alertable(false, 100, threshold), "expired item is excluded")
	assert.False(t, Alertable(false, 110, threshold), "over-expired item is excluded")
	assert.True(t, Alertable(false, 80, threshold), "exactly at threshold is included")
	assert.False(t, Alertable(false, 79, threshold))
	assert.True(t, Alertable(false, 99.9, threshold))
}

func TestBadgeTableIsExhaustive(t *testing.T) {
	for _, s := range AllStatuses {
		b, ok := BadgeFor(s)
		require.True(t, ok, "status %s has no badge mapping", s)
		assert.NotEmpty(t, b.Label)
		assert.NotEmpty(t, b.Icon)
		assert.NotEmpty(t, b.Style)
	}
}
