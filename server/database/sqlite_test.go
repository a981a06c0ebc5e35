package database

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

func newTestSQLite(t *testing.T, pageSize int) *SQLite {
	t.Helper()
	s := NewSQLite(filepath.Join(t.TempDir(), "db", "test.db"), Options{PageSize: pageSize, ReadyTimeout: time.Second})
	require.NoError(t, s.Connect(t.Context()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteQueriesWaitForConnect(t *testing.T) {
	s := NewSQLite(filepath.Join(t.TempDir(), "test.db"), Options{ReadyTimeout: 20 * time.Millisecond})

	_, err := s.KeystrokeRecords(t.Context(), Filter{})
	assert.ErrorIs(t, err, ErrNotReady)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	_, err = s.Counts(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	require.NoError(t, s.Connect(t.Context()))
	_, err = s.KeystrokeRecords(t.Context(), Filter{})
	assert.NoError(t, err)
	assert.NoError(t, s.Close())
}

func TestSQLiteKeystrokesPagedInOrder(t *testing.T) {
	s := newTestSQLite(t, 3)

	var records []KeystrokeRecord
	for i := 9; i >= 0; i-- {
		records = append(records, KeystrokeRecord{
			ID:        fmt.Sprintf("k%02d", i),
			User:      "alice",
			IP:        "10.0.0.1",
			Timestamp: base.Add(time.Duration(i) * time.Second),
			Keystroke: fmt.Sprintf("c%d", i),
		})
	}
	require.NoError(t, s.InsertKeystrokes(t.Context(), records))

	got, err := s.KeystrokeRecords(t.Context(), Filter{})
	require.NoError(t, err)
	require.Len(t, got, 10)
	for i, r := range got {
		assert.Equal(t, fmt.Sprintf("k%02d", i), r.ID)
		assert.True(t, r.HasTimestamp())
	}
	assert.Equal(t, base, got[0].Timestamp)
}

func TestSQLiteFilter(t *testing.T) {
	s := newTestSQLite(t, 100)

	require.NoError(t, s.InsertClipboard(t.Context(), []ClipboardRecord{
		{ID: "c1", User: "alice", Timestamp: base, Clipboard: "x"},
		{ID: "c2", User: "bob", Timestamp: base.Add(time.Hour), Clipboard: "y"},
		{ID: "c3", User: "", Timestamp: base.Add(2 * time.Hour), Clipboard: "z"},
		{ID: "c4", User: "alice", Timestamp: base.Add(3 * time.Hour), Clipboard: "w"},
	}))

	got, err := s.ClipboardRecords(t.Context(), Filter{User: "alice"})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = s.ClipboardRecords(t.Context(), Filter{Since: base.Add(time.Hour), Until: base.Add(2 * time.Hour)})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "c2", got[0].ID)
	assert.Equal(t, UnknownUser, got[1].User)

	got, err = s.ClipboardRecords(t.Context(), Filter{User: UnknownUser})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "c3", got[0].ID)
}

func TestSQLiteUnparseableTimestamp(t *testing.T) {
	s := newTestSQLite(t, 100)

	_, err := s.db.ExecContext(t.Context(),
		"INSERT INTO keystrokes (id, username, ip, timestamp, keystroke) VALUES ('bad', 'alice', '', 'yesterday-ish', '')")
	require.NoError(t, err)

	got, err := s.KeystrokeRecords(t.Context(), Filter{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.False(t, got[0].HasTimestamp())
}

func TestSQLiteScreenshots(t *testing.T) {
	s := newTestSQLite(t, 100)

	require.NoError(t, s.InsertScreenshots(t.Context(), []ScreenshotRecord{
		{ID: "s1", User: "alice", Timestamp: base, Screenshot: "payload", Resolution: "1920x1080"},
		{ID: "s2", User: "bob", Timestamp: base.Add(time.Minute), ObjectName: "s2.enc"},
	}))

	list, err := s.ScreenshotRecords(t.Context(), Filter{})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Empty(t, list[0].Screenshot)
	assert.Equal(t, "1920x1080", list[0].Resolution)

	one, err := s.Screenshot(t.Context(), "s1")
	require.NoError(t, err)
	assert.Equal(t, "payload", one.Screenshot)

	_, err = s.Screenshot(t.Context(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.DeleteScreenshot(t.Context(), "s1"))
	assert.ErrorIs(t, s.DeleteScreenshot(t.Context(), "s1"), ErrNotFound)
}

func TestSQLiteUsersCountsRevision(t *testing.T) {
	s := newTestSQLite(t, 100)

	rev0, err := s.KeystrokeRevision(t.Context())
	require.NoError(t, err)
	assert.Zero(t, rev0.Count)

	require.NoError(t, s.InsertKeystrokes(t.Context(), []KeystrokeRecord{
		{ID: "k1", User: "alice", Timestamp: base},
		{ID: "k2", User: "", Timestamp: base.Add(time.Minute)},
	}))
	require.NoError(t, s.InsertClipboard(t.Context(), []ClipboardRecord{
		{ID: "c1", User: "alice", Timestamp: base.Add(time.Hour)},
		{ID: "c2", User: "N/A", Timestamp: base.Add(2 * time.Minute)},
	}))
	require.NoError(t, s.InsertScreenshots(t.Context(), []ScreenshotRecord{
		{ID: "s1", User: "carol", Timestamp: base.Add(-time.Hour)},
	}))

	users, err := s.Users(t.Context())
	require.NoError(t, err)
	byName := map[string]time.Time{}
	for _, u := range users {
		byName[u.Username] = u.LastActive
	}
	assert.Len(t, byName, 3)
	assert.Equal(t, base.Add(time.Hour), byName["alice"])
	assert.Equal(t, base.Add(2*time.Minute), byName[UnknownUser])
	assert.Equal(t, base.Add(-time.Hour), byName["carol"])

	counts, err := s.Counts(t.Context())
	require.NoError(t, err)
	assert.Equal(t, Counts{Keystrokes: 2, Screenshots: 1, Clipboard: 2}, counts)

	rev1, err := s.KeystrokeRevision(t.Context())
	require.NoError(t, err)
	assert.Equal(t, int64(2), rev1.Count)
	assert.Equal(t, base.Add(time.Minute), rev1.Latest)
	assert.NotEqual(t, rev0.String(), rev1.String())
}

func TestSQLiteDistinctUsers(t *testing.T) {
	s := newTestSQLite(t, 100)
	require.NoError(t, s.InsertKeystrokes(t.Context(), []KeystrokeRecord{
		{ID: "k1", User: "bob", Timestamp: base},
		{ID: "k2", User: "alice", Timestamp: base},
		{ID: "k3", User: "", Timestamp: base},
		{ID: "k4", User: "N/A", Timestamp: base},
		{ID: "k5", User: "bob", Timestamp: base},
	}))

	users, err := s.DistinctUsers(t.Context(), LogTypeKeystroke)
	require.NoError(t, err)
	assert.Equal(t, []string{"N/A", "alice", "bob"}, users)

	users, err = s.DistinctUsers(t.Context(), LogTypeClipboard)
	require.NoError(t, err)
	assert.Empty(t, users)

	_, err = s.DistinctUsers(t.Context(), LogType("usb"))
	assert.Error(t, err)
}
