package sessions

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/ctolnik/office-insight/server/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

// upper stands in for the codec: it "decrypts" by upper-casing.
type upper struct{}

func (upper) Decrypt(_ context.Context, s string) string { return strings.ToUpper(s) }

func at(user string, seconds float64, text string) database.KeystrokeRecord {
	ts := t0.Add(time.Duration(seconds * float64(time.Second)))
	return database.KeystrokeRecord{
		ID:        fmt.Sprintf("%s-%v", user, seconds),
		User:      user,
		IP:        "10.0.0.7",
		Timestamp: ts,
		Keystroke: text,
	}
}

func TestBuildCountsGaps(t *testing.T) {
	r := New(1500 * time.Millisecond)
	records := []database.KeystrokeRecord{
		at("alice", 0, "h"), at("alice", 1, "e"), at("alice", 2, "y"),
		at("alice", 10, "y"), at("alice", 11, "o"),
	}

	got := r.Build(t.Context(), records, upper{})
	require.Len(t, got, 2)

	assert.Equal(t, "YO", got[0].Text)
	assert.Equal(t, t0.Add(10*time.Second), got[0].StartTime)
	assert.Equal(t, 2, got[0].EventCount)

	assert.Equal(t, "HEY", got[1].Text)
	assert.Equal(t, "alice-0", got[1].ID)
	assert.Equal(t, t0, got[1].StartTime)
	assert.Equal(t, t0.Add(2*time.Second), got[1].EndTime)
	assert.InDelta(t, 1.0, got[1].AverageInterval, 1e-9)
	assert.Equal(t, "1.000", got[1].AvgSpeed())
}

func TestSessionCountMatchesGapsAboveThreshold(t *testing.T) {
	gap := 1500 * time.Millisecond
	offsets := [][]float64{
		{0},
		{0, 1.5},
		{0, 1.6},
		{0, 0.2, 0.4, 5, 5.1, 9, 20, 21.4, 22.9},
	}
	for _, o := range offsets {
		var records []database.KeystrokeRecord
		want := 1
		for i, s := range o {
			records = append(records, at("bob", s, "x"))
			if i > 0 && records[i].Timestamp.Sub(records[i-1].Timestamp) > gap {
				want++
			}
		}
		assert.Len(t, New(gap).Build(t.Context(), records, upper{}), want, "offsets %v", o)
	}
}

func TestSingleEventSessionHasZeroInterval(t *testing.T) {
	got := New(0).Build(t.Context(), []database.KeystrokeRecord{at("carol", 3, "a")}, upper{})
	require.Len(t, got, 1)
	assert.Zero(t, got[0].AverageInterval)
	assert.Equal(t, "0.000", got[0].AvgSpeed())
	assert.Equal(t, got[0].StartTime, got[0].EndTime)
}

func TestDifferentUsersNeverShareSession(t *testing.T) {
	records := []database.KeystrokeRecord{at("alice", 5, "a"), at("bob", 5, "b")}

	got := New(time.Hour).Build(t.Context(), records, upper{})
	require.Len(t, got, 2)
	assert.NotEqual(t, got[0].User, got[1].User)
}

func TestInterleavedUsersSplit(t *testing.T) {
	records := []database.KeystrokeRecord{
		at("alice", 0, "a"), at("bob", 0.5, "b"), at("alice", 1, "c"),
	}
	got := New(DefaultGap).Build(t.Context(), records, upper{})
	assert.Len(t, got, 3)
}

func TestUnsortedInputAndMissingTimestamps(t *testing.T) {
	bad := database.KeystrokeRecord{ID: "bad", User: "alice", Keystroke: "zzz"}
	records := []database.KeystrokeRecord{
		at("alice", 2, "c"), bad, at("alice", 0, "a"), at("alice", 1, "b"),
	}

	got := New(DefaultGap).Build(t.Context(), records, upper{})
	require.Len(t, got, 1)
	assert.Equal(t, "ABC", got[0].Text)
	assert.Equal(t, 3, got[0].EventCount)
}

func TestEqualTimestampsKeepInputOrder(t *testing.T) {
	a, b := at("alice", 1, "first"), at("alice", 1, "second")
	b.ID = "other"

	got := New(DefaultGap).Build(t.Context(), []database.KeystrokeRecord{a, b}, upper{})
	require.Len(t, got, 1)
	assert.Equal(t, "FIRSTSECOND", got[0].Text)
}

func TestEmptyInput(t *testing.T) {
	assert.Empty(t, New(DefaultGap).Build(t.Context(), nil, upper{}))
	assert.Empty(t, New(DefaultGap).Group(nil))
}

func TestUnknownUserNormalized(t *testing.T) {
	got := New(DefaultGap).Build(t.Context(), []database.KeystrokeRecord{at("", 0, "x")}, upper{})
	require.Len(t, got, 1)
	assert.Equal(t, database.UnknownUser, got[0].User)
}
