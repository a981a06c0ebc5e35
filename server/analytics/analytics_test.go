package analytics

import (
	"fmt"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/ctolnik/office-insight/server/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2025, 3, 10, 15, 30, 0, 0, time.UTC)

func newTestAnalytics(t *testing.T) (*Analytics, *database.SQLite) {
	t.Helper()
	store := database.NewSQLite(filepath.Join(t.TempDir(), "analytics.db"), database.Options{PageSize: 10, ReadyTimeout: time.Second})
	require.NoError(t, store.Connect(t.Context()))
	t.Cleanup(func() { _ = store.Close() })

	a := New(store, Config{})
	a.now = func() time.Time { return now }
	return a, store
}

func keystrokes(user string, n int, at time.Time) []database.KeystrokeRecord {
	out := make([]database.KeystrokeRecord, n)
	for i := range out {
		out[i] = database.KeystrokeRecord{ID: fmt.Sprintf("%s-k-%d-%d", user, at.Unix(), i), User: user, Timestamp: at.Add(time.Duration(i) * time.Second)}
	}
	return out
}

func TestDistributionRounding(t *testing.T) {
	shares := Distribution(map[string]int{"alice": 1, "bob": 1, "carol": 1})
	require.Len(t, shares, 3)

	sum := 0
	for _, s := range shares {
		assert.Equal(t, 33, s.Percentage)
		sum += s.Percentage
	}
	assert.InDelta(t, 100, sum, float64(len(shares)))
	assert.Equal(t, []string{"alice", "bob", "carol"}, []string{shares[0].Username, shares[1].Username, shares[2].Username})

	assert.Empty(t, Distribution(nil))
}

func TestDistributionPercentages(t *testing.T) {
	perUser := map[string]int{"alice": 7, "bob": 2, "carol": 3, "dave": 1}
	shares := Distribution(perUser)

	total := 13
	sum := 0
	for _, s := range shares {
		assert.GreaterOrEqual(t, s.Percentage, 0)
		assert.LessOrEqual(t, s.Percentage, 100)
		assert.Equal(t, int(math.Round(100*float64(perUser[s.Username])/float64(total))), s.Percentage)
		sum += s.Percentage
	}
	assert.InDelta(t, 100, sum, float64(len(shares)))
	assert.Equal(t, "alice", shares[0].Username)
	assert.Equal(t, 54, shares[0].Percentage)
}

func TestSummary(t *testing.T) {
	a, store := newTestAnalytics(t)
	ctx := t.Context()

	require.NoError(t, store.InsertKeystrokes(ctx, keystrokes("alice", 6, now.Add(-time.Hour))))
	require.NoError(t, store.InsertKeystrokes(ctx, keystrokes("bob", 2, now.Add(-2*time.Hour))))
	// outside the distribution window
	require.NoError(t, store.InsertKeystrokes(ctx, keystrokes("carol", 5, now.AddDate(0, 0, -30))))
	require.NoError(t, store.InsertClipboard(ctx, []database.ClipboardRecord{
		{ID: "c1", User: "bob", Timestamp: now.Add(-time.Minute)},
		{ID: "c2", User: "", Timestamp: now.Add(-time.Minute)},
	}))
	require.NoError(t, store.InsertScreenshots(ctx, []database.ScreenshotRecord{
		{ID: "s1", User: "dave", Timestamp: now.Add(-time.Minute)},
		{ID: "s2", User: database.UnknownUser, Timestamp: now.Add(-time.Minute)},
	}))

	s, err := a.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, s.ActiveUsers)
	assert.Equal(t, int64(13), s.KeystrokeRecords)
	assert.Equal(t, int64(2), s.Screenshots)
	assert.Equal(t, int64(2), s.ClipboardLogs)

	require.Len(t, s.UserDistribution, 3)
	assert.Equal(t, UserShare{Username: "alice", Count: 6, Percentage: 60}, s.UserDistribution[0])
	assert.Equal(t, UserShare{Username: "bob", Count: 3, Percentage: 30}, s.UserDistribution[1])
	assert.Equal(t, UserShare{Username: "dave", Count: 1, Percentage: 10}, s.UserDistribution[2])
}

func TestActivityOverTime(t *testing.T) {
	a, store := newTestAnalytics(t)
	ctx := t.Context()

	require.NoError(t, store.InsertKeystrokes(ctx, keystrokes("alice", 3, now.Add(-time.Hour))))
	require.NoError(t, store.InsertKeystrokes(ctx, keystrokes("alice", 2, now.AddDate(0, 0, -2))))
	require.NoError(t, store.InsertKeystrokes(ctx, keystrokes("alice", 4, now.AddDate(0, 0, -10))))
	require.NoError(t, store.InsertClipboard(ctx, []database.ClipboardRecord{
		{ID: "c1", User: "bob", Timestamp: time.Date(2025, 3, 4, 0, 0, 0, 0, time.UTC)},
		{ID: "c2", User: "bob", Timestamp: time.Date(2025, 3, 3, 23, 59, 59, 0, time.UTC)},
	}))
	require.NoError(t, store.InsertScreenshots(ctx, []database.ScreenshotRecord{
		{ID: "s1", User: "bob", Timestamp: now.Add(-time.Minute)},
	}))

	buckets, err := a.ActivityOverTime(ctx, 7)
	require.NoError(t, err)
	require.Len(t, buckets, 7)
	assert.Equal(t, "2025-03-04", buckets[0].Date)
	assert.Equal(t, "2025-03-10", buckets[6].Date)

	assert.Equal(t, DayBucket{Date: "2025-03-04", Clipboard: 1}, buckets[0])
	assert.Equal(t, DayBucket{Date: "2025-03-08", Keystrokes: 2}, buckets[4])
	assert.Equal(t, DayBucket{Date: "2025-03-10", Keystrokes: 3, Screenshots: 1}, buckets[6])
	assert.Equal(t, DayBucket{Date: "2025-03-05"}, buckets[1])
}

func TestActivityOverTimeDaysBounds(t *testing.T) {
	a, _ := newTestAnalytics(t)

	buckets, err := a.ActivityOverTime(t.Context(), 0)
	require.NoError(t, err)
	assert.Len(t, buckets, 7)

	buckets, err = a.ActivityOverTime(t.Context(), 1)
	require.NoError(t, err)
	require.Len(t, buckets, 1)
	assert.Equal(t, "2025-03-10", buckets[0].Date)

	buckets, err = a.ActivityOverTime(t.Context(), 10000)
	require.NoError(t, err)
	assert.Len(t, buckets, 365)
}
