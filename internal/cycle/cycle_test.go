package cycle

import (
	"math/rand/v2"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCurrent_AlignedToWallClock(t *testing.T) {
	now := time.Date(2025, 3, 14, 10, 7, 31, 250_000_000, time.UTC)

	info := Current(now, 4*time.Minute)

	assert.Equal(t, time.Date(2025, 3, 14, 10, 4, 0, 0, time.UTC), info.Start)
	assert.Equal(t, time.Date(2025, 3, 14, 10, 8, 0, 0, time.UTC), info.End)
	assert.Equal(t, info.Start.UnixMilli()/(4*60*1000), info.ID)
	// 28.75s left rounds up
	assert.Equal(t, int64(29), info.SecondsRemaining)
	assert.Equal(t, 7, info.Minute())
}

func TestCurrent_MatchesMinuteFlooring(t *testing.T) {
	// Zeroing minutes-mod-4, seconds and millis gives the same start for UTC times.
	rng := rand.New(rand.NewPCG(1, 2))
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 1000; i++ {
		now := base.Add(time.Duration(rng.Int64N(int64(365 * 24 * time.Hour))))
		floored := time.Date(now.Year(), now.Month(), now.Day(), now.Hour(), now.Minute()-now.Minute()%4, 0, 0, time.UTC)

		info := Current(now, 4*time.Minute)
		require.Equal(t, floored, info.Start, "now=%s", now)
		require.Equal(t, floored.UnixMilli()/(4*60*1000), info.ID)
	}
}

func TestCurrent_ConstantWithinWindow(t *testing.T) {
	period := 4 * time.Minute
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	want := Current(start, period).ID

	for offset := time.Duration(0); offset < period; offset += 997 * time.Millisecond {
		info := Current(start.Add(offset), period)
		require.Equal(t, want, info.ID, "offset=%s", offset)
		require.GreaterOrEqual(t, info.SecondsRemaining, int64(0))
		require.LessOrEqual(t, info.SecondsRemaining, int64(period/time.Second))
	}

	last := Current(start.Add(period-time.Millisecond), period)
	assert.Equal(t, want, last.ID)
	assert.Equal(t, int64(1), last.SecondsRemaining)
}

func TestCurrent_StrictlyIncreasesAcrossBoundaries(t *testing.T) {
	period := 4 * time.Minute
	t0 := time.Date(2025, 6, 1, 23, 52, 0, 0, time.UTC)

	prev := Current(t0, period).ID
	for i := 1; i <= 10; i++ {
		id := Current(t0.Add(time.Duration(i)*period), period).ID
		assert.Equal(t, prev+1, id)
		prev = id
	}
}

func TestCurrent_AtBoundary(t *testing.T) {
	period := 4 * time.Minute
	boundary := time.Date(2025, 6, 1, 12, 8, 0, 0, time.UTC)

	info := Current(boundary, period)
	assert.Equal(t, boundary, info.Start)
	assert.Equal(t, int64(240), info.SecondsRemaining)
	assert.True(t, info.Contains(boundary))
	assert.False(t, info.Contains(info.End))
}

func TestCurrent_NonPositivePeriodUsesDefault(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 9, 0, 0, time.UTC)
	assert.Equal(t, Current(now, DefaultPeriod), Current(now, 0))
	assert.Equal(t, Current(now, DefaultPeriod), Current(now, -time.Second))
}

func TestCurrent_IgnoresLocation(t *testing.T) {
	loc := time.FixedZone("IST", 5*3600+1800)
	now := time.Date(2025, 6, 1, 17, 39, 10, 0, loc)

	info := Current(now, 4*time.Minute)
	assert.Equal(t, Current(now.UTC(), 4*time.Minute), info)
}

func TestForID(t *testing.T) {
	period := 4 * time.Minute
	info := Current(time.Date(2025, 6, 1, 12, 9, 0, 0, time.UTC), period)

	got := ForID(info.ID, period)
	assert.Equal(t, info.ID, got.ID)
	assert.Equal(t, info.Start, got.Start)
	assert.Equal(t, info.End, got.End)
}

func TestClock_UntilNext(t *testing.T) {
	fake := clockwork.NewFakeClockAt(time.Date(2025, 6, 1, 12, 9, 30, 0, time.UTC))
	c := NewClock(fake, 4*time.Minute)

	assert.Equal(t, 2*time.Minute+30*time.Second, c.UntilNext())

	first := c.Current().ID
	fake.Advance(c.UntilNext())
	assert.Equal(t, first+1, c.Current().ID)
	assert.Equal(t, 4*time.Minute, c.UntilNext())
}
