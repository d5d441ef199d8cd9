package quota

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func openTracker(t *testing.T, max Limit, limits []RateLimit, clock *fakeClock) (*Tracker, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "quota", "cust-1")
	start := clock.now.Add(-time.Hour)
	tracker, err := Open(path, start, max, limits, WithClock(clock.Now))
	require.NoError(t, err)
	return tracker, path
}

func TestAddIncrementsByExactlyN(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	tracker, _ := openTracker(t, Bounded(100), nil, clock)

	for i := 1; i <= 7; i++ {
		count, err := tracker.Add()
		require.NoError(t, err)
		assert.Equal(t, int64(i), count)
	}
	usage, err := tracker.Usage()
	require.NoError(t, err)
	assert.Equal(t, int64(7), usage)
}

func TestCheckFailsOnceUsageReachesMax(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	tracker, _ := openTracker(t, Bounded(3), nil, clock)

	for i := 0; i < 3; i++ {
		ok, err := tracker.Check()
		require.NoError(t, err)
		assert.True(t, ok, "check before message %d", i+1)
		_, err = tracker.Add()
		require.NoError(t, err)
	}
	ok, err := tracker.Check()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCheckUnlimitedAlwaysTrue(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	tracker, _ := openTracker(t, Unlimited(), nil, clock)

	for i := 0; i < 250; i++ {
		_, err := tracker.Add()
		require.NoError(t, err)
	}
	ok, err := tracker.Check()
	require.NoError(t, err)
	assert.True(t, ok)

	pct, err := tracker.Percentage()
	require.NoError(t, err)
	assert.Zero(t, pct)
}

func TestCheckHonoursRateLimit(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	limits := []RateLimit{{Period: time.Hour, Limit: Bounded(2)}}
	tracker, _ := openTracker(t, Unlimited(), limits, clock)

	_, err := tracker.Add()
	require.NoError(t, err)
	_, err = tracker.Add()
	require.NoError(t, err)

	ok, err := tracker.Check()
	require.NoError(t, err)
	assert.False(t, ok)

	clock.now = clock.now.Add(61 * time.Minute)
	ok, err = tracker.Check()
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCleanupSeriesDropsOldEntries(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	limits := []RateLimit{{Period: 10 * time.Minute, Limit: Bounded(50)}}
	tracker, _ := openTracker(t, Bounded(100), limits, clock)

	_, err := tracker.AddAt(clock.now.Add(-30 * time.Minute))
	require.NoError(t, err)
	_, err = tracker.AddAt(clock.now.Add(-time.Minute))
	require.NoError(t, err)

	require.NoError(t, tracker.CleanupSeries())
	window := tracker.Window()
	assert.Len(t, window.Series, 1)
	assert.Equal(t, int64(2), window.Count, "cleanup never lowers window usage")
}

func TestStateSurvivesReopen(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	tracker, path := openTracker(t, Bounded(10), nil, clock)
	for i := 0; i < 4; i++ {
		_, err := tracker.Add()
		require.NoError(t, err)
	}

	reopened, err := Open(path, clock.now.Add(-time.Hour), Bounded(10), nil, WithClock(clock.Now))
	require.NoError(t, err)
	usage, err := reopened.Usage()
	require.NoError(t, err)
	assert.Equal(t, int64(4), usage)
}

func TestNewStartRollsWindowOver(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	tracker, path := openTracker(t, Bounded(10), nil, clock)
	_, err := tracker.Add()
	require.NoError(t, err)

	renewed, err := Open(path, clock.now, Bounded(10), nil, WithClock(clock.Now))
	require.NoError(t, err)
	usage, err := renewed.Usage()
	require.NoError(t, err)
	assert.Zero(t, usage)
}

func TestRenewResetsUsage(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	tracker, path := openTracker(t, Bounded(10), nil, clock)
	_, err := tracker.Add()
	require.NoError(t, err)

	require.NoError(t, tracker.Renew(clock.now, Bounded(20)))
	usage, err := tracker.Usage()
	require.NoError(t, err)
	assert.Zero(t, usage)

	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestUninitializedTrackerIsConfigurationError(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "q"), time.Time{}, Bounded(1), nil)
	var cfgErr *ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.True(t, errors.Is(err, ErrNotInitialized))

	var zero Tracker
	_, err = zero.Check()
	assert.ErrorIs(t, err, ErrNotInitialized)
	_, err = zero.Add()
	assert.ErrorIs(t, err, ErrNotInitialized)
	assert.ErrorIs(t, zero.CleanupSeries(), ErrNotInitialized)

	var missing *Tracker
	_, err = missing.Add()
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestCorruptLockFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := Open(path, time.Now(), Bounded(1), nil)
	assert.Error(t, err)
}

func TestReserveNeverOvershootsUnderContention(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	tracker, _ := openTracker(t, Bounded(3), nil, clock)

	var granted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, _, err := tracker.Reserve()
			if err == nil && ok {
				granted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(3), granted.Load())
	usage, err := tracker.Usage()
	require.NoError(t, err)
	assert.Equal(t, int64(3), usage)
}

func TestReleaseGivesSlotBack(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	limits := []RateLimit{{Period: time.Hour, Limit: Bounded(1)}}
	tracker, _ := openTracker(t, Bounded(1), limits, clock)

	ok, count, err := tracker.Reserve()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(1), count)

	ok, _, err = tracker.Reserve()
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, tracker.Release())
	window := tracker.Window()
	assert.Zero(t, window.Count)
	assert.Empty(t, window.Series)

	ok, _, err = tracker.Reserve()
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, tracker.Release())
	require.NoError(t, tracker.Release(), "release on an empty window is a no-op")
	usage, err := tracker.Usage()
	require.NoError(t, err)
	assert.Zero(t, usage)
}

func TestFailedWriteLeavesUsageUnchanged(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	limits := []RateLimit{{Period: time.Hour, Limit: Bounded(10)}}
	tracker, path := openTracker(t, Bounded(10), limits, clock)

	// A directory where the lock file belongs makes the final rename fail.
	require.NoError(t, os.MkdirAll(path, 0o755))
	_, err := tracker.Add()
	require.Error(t, err)
	ok, _, err := tracker.Reserve()
	require.Error(t, err)
	assert.False(t, ok)

	window := tracker.Window()
	assert.Zero(t, window.Count)
	assert.Empty(t, window.Series)

	require.NoError(t, os.Remove(path))
	count, err := tracker.Add()
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestRateBoundaryMatchesCleanup(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	limits := []RateLimit{{Period: 10 * time.Minute, Limit: Bounded(1)}}
	tracker, _ := openTracker(t, Unlimited(), limits, clock)

	_, err := tracker.AddAt(clock.now.Add(-10 * time.Minute))
	require.NoError(t, err)

	require.NoError(t, tracker.CleanupSeries())
	assert.Len(t, tracker.Window().Series, 1)
	ok, err := tracker.Check()
	require.NoError(t, err)
	assert.False(t, ok, "a point kept by cleanup still counts against the rate")

	clock.now = clock.now.Add(time.Second)
	require.NoError(t, tracker.CleanupSeries())
	assert.Empty(t, tracker.Window().Series)
	ok, err = tracker.Check()
	require.NoError(t, err)
	assert.True(t, ok)
}
