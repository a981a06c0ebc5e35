package timeline

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/ctolnik/office-insight/server/cache"
	"github.com/ctolnik/office-insight/server/codec"
	"github.com/ctolnik/office-insight/server/database"
	"github.com/ctolnik/office-insight/server/sessions"
	"github.com/ctolnik/office-insight/server/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

type fixture struct {
	store *database.SQLite
	codec *codec.Codec
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := database.NewSQLite(filepath.Join(t.TempDir(), "timeline.db"), database.Options{PageSize: 4, ReadyTimeout: time.Second})
	require.NoError(t, store.Connect(t.Context()))
	t.Cleanup(func() { _ = store.Close() })

	key, err := hex.DecodeString("82d5d6060dff58f5875d520a6202b5384cfba4779a9db4e9c59ca3bce444a53e")
	require.NoError(t, err)
	c, err := codec.New(key)
	require.NoError(t, err)
	return &fixture{store: store, codec: c}
}

func (f *fixture) enc(t *testing.T, s string) string {
	t.Helper()
	blob, err := f.codec.Encrypt(s)
	require.NoError(t, err)
	return blob
}

func (f *fixture) keystroke(t *testing.T, id, user string, offset time.Duration, text string) {
	t.Helper()
	require.NoError(t, f.store.InsertKeystrokes(t.Context(), []database.KeystrokeRecord{
		{ID: id, User: user, Timestamp: t0.Add(offset), Keystroke: f.enc(t, text)},
	}))
}

func (f *fixture) clipboard(t *testing.T, id, user string, offset time.Duration, text string) {
	t.Helper()
	require.NoError(t, f.store.InsertClipboard(t.Context(), []database.ClipboardRecord{
		{ID: id, User: user, Timestamp: t0.Add(offset), Clipboard: f.enc(t, text)},
	}))
}

func (f *fixture) screenshot(t *testing.T, rec database.ScreenshotRecord) {
	t.Helper()
	require.NoError(t, f.store.InsertScreenshots(t.Context(), []database.ScreenshotRecord{rec}))
}

func (f *fixture) aggregator(opts ...Option) *Aggregator {
	return New(f.store, f.codec, sessions.New(1500*time.Millisecond), opts...)
}

func TestAllMergesAndSortsDescending(t *testing.T) {
	f := newFixture(t)
	// three keystroke sessions
	f.keystroke(t, "k1", "alice", 0, "he")
	f.keystroke(t, "k2", "alice", time.Second, "llo")
	f.keystroke(t, "k3", "alice", time.Minute, "bye")
	f.keystroke(t, "k4", "bob", 2*time.Minute, "my password")
	// two clipboard entries
	f.clipboard(t, "c1", "alice", 30*time.Second, "copied")
	f.clipboard(t, "c2", "", 3*time.Minute, "4111 1111 1111 1111")
	// two screenshots
	f.screenshot(t, database.ScreenshotRecord{ID: "s1", User: "bob", Timestamp: t0.Add(90 * time.Second), Screenshot: f.enc(t, "img")})
	f.screenshot(t, database.ScreenshotRecord{ID: "s2", User: "alice", Timestamp: t0.Add(4 * time.Minute)})

	stream := f.aggregator().All(t.Context())
	assert.False(t, stream.Degraded())
	require.Len(t, stream.Entries, 3+2+2)

	for i := 1; i < len(stream.Entries); i++ {
		assert.True(t, stream.Entries[i-1].Timestamp.After(stream.Entries[i].Timestamp), "entries %d and %d out of order", i-1, i)
	}

	ids := make([]string, 0, len(stream.Entries))
	for _, e := range stream.Entries {
		ids = append(ids, e.ID)
	}
	assert.Equal(t, []string{"s2", "c2", "k4", "s1", "k3", "c1", "k1"}, ids)

	first := stream.Entries[len(stream.Entries)-1]
	assert.Equal(t, database.LogTypeKeystroke, first.Type)
	assert.Equal(t, "hello", first.Data)
	assert.Equal(t, "1.000", first.AvgSpeed)
	require.NotNil(t, first.EndTime)
	assert.Equal(t, t0.Add(time.Second), *first.EndTime)

	byID := map[string]Entry{}
	for _, e := range stream.Entries {
		byID[e.ID] = e
	}
	assert.Equal(t, ScreenshotPlaceholder, byID["s1"].Data)
	assert.Equal(t, database.UnknownUser, byID["c2"].User)
	assert.True(t, byID["c2"].Sensitive)
	assert.True(t, byID["k4"].Sensitive)
	assert.False(t, byID["c1"].Sensitive)
}

func TestSortEntriesTieBreak(t *testing.T) {
	entries := []Entry{
		{ID: "b", Type: database.LogTypeScreenshot, Timestamp: t0},
		{ID: "z", Type: database.LogTypeClipboard, Timestamp: t0},
		{ID: "a", Type: database.LogTypeScreenshot, Timestamp: t0},
		{ID: "k", Type: database.LogTypeKeystroke, Timestamp: t0.Add(-time.Second)},
	}
	SortEntries(entries)

	var got []string
	for _, e := range entries {
		got = append(got, e.ID)
	}
	assert.Equal(t, []string{"z", "a", "b", "k"}, got)
}

type failingClipboard struct {
	database.Store
}

func (failingClipboard) ClipboardRecords(context.Context, database.Filter) ([]database.ClipboardRecord, error) {
	return nil, errors.New("connection reset")
}

func TestAllPartialFailure(t *testing.T) {
	f := newFixture(t)
	f.keystroke(t, "k1", "alice", 0, "x")
	f.clipboard(t, "c1", "alice", time.Minute, "y")
	f.screenshot(t, database.ScreenshotRecord{ID: "s1", User: "alice", Timestamp: t0.Add(2 * time.Minute)})

	agg := New(failingClipboard{f.store}, f.codec, sessions.New(0))
	stream := agg.All(t.Context())

	assert.True(t, stream.Degraded())
	assert.Equal(t, []string{SourceClipboard}, stream.Failed)
	require.Len(t, stream.Entries, 2)
	assert.Equal(t, "s1", stream.Entries[0].ID)
	assert.Equal(t, "k1", stream.Entries[1].ID)
}

func TestAllEmptyStore(t *testing.T) {
	stream := newFixture(t).aggregator().All(t.Context())
	assert.NotNil(t, stream.Entries)
	assert.Empty(t, stream.Entries)
	assert.Empty(t, stream.Failed)
}

func TestSessionsCacheInvalidatesOnNewRecord(t *testing.T) {
	f := newFixture(t)
	f.keystroke(t, "k1", "alice", 0, "a")
	agg := f.aggregator(WithCache(cache.NewMemory(time.Hour)))

	got, err := agg.Sessions(t.Context())
	require.NoError(t, err)
	require.Len(t, got, 1)

	f.keystroke(t, "k2", "alice", time.Second, "b")
	got, err = agg.Sessions(t.Context())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "ab", got[0].Text)
}

type memBlobs map[string]string

func (m memBlobs) Screenshot(_ context.Context, name string) (string, error) {
	v, ok := m[name]
	if !ok {
		return "", storage.ErrObjectNotFound
	}
	return v, nil
}

func (m memBlobs) RemoveScreenshot(_ context.Context, name string) error {
	delete(m, name)
	return nil
}

func TestScreenshot(t *testing.T) {
	f := newFixture(t)
	blobs := memBlobs{"s2.enc": f.enc(t, "blob-image")}
	f.screenshot(t, database.ScreenshotRecord{ID: "s1", User: "bob", Timestamp: t0, Screenshot: f.enc(t, "inline-image"), Resolution: "800x600"})
	f.screenshot(t, database.ScreenshotRecord{ID: "s2", User: "bob", Timestamp: t0, ObjectName: "s2.enc"})
	f.screenshot(t, database.ScreenshotRecord{ID: "s3", User: "bob", Timestamp: t0, Screenshot: "not-encrypted"})
	f.screenshot(t, database.ScreenshotRecord{ID: "s4", User: "bob", Timestamp: t0, ObjectName: "gone.enc"})
	agg := f.aggregator(WithBlobs(blobs))

	s1, err := agg.Screenshot(t.Context(), "s1")
	require.NoError(t, err)
	assert.Equal(t, "inline-image", s1.ScreenshotData)
	assert.Equal(t, "800x600", s1.Resolution)

	s2, err := agg.Screenshot(t.Context(), "s2")
	require.NoError(t, err)
	assert.Equal(t, "blob-image", s2.ScreenshotData)
	assert.Equal(t, "Unknown", s2.Resolution)

	s3, err := agg.Screenshot(t.Context(), "s3")
	require.NoError(t, err)
	assert.Equal(t, "not-encrypted", s3.ScreenshotData)

	_, err = agg.Screenshot(t.Context(), "s4")
	assert.ErrorIs(t, err, database.ErrNotFound)

	_, err = agg.Screenshot(t.Context(), "missing")
	assert.ErrorIs(t, err, database.ErrNotFound)

	require.NoError(t, agg.DeleteScreenshot(t.Context(), "s2"))
	assert.NotContains(t, blobs, "s2.enc")
	_, err = agg.Screenshot(t.Context(), "s2")
	assert.ErrorIs(t, err, database.ErrNotFound)
	assert.ErrorIs(t, agg.DeleteScreenshot(t.Context(), "s2"), database.ErrNotFound)
}

func TestUsersAndRecentActivity(t *testing.T) {
	f := newFixture(t)
	for i := range 8 {
		f.clipboard(t, fmt.Sprintf("c%d", i), "alice", time.Duration(i)*time.Minute, "x")
	}
	f.keystroke(t, "k1", "bob", time.Hour, "y")
	agg := f.aggregator()

	users, err := agg.Users(t.Context())
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "bob", users[0].Username)
	assert.Equal(t, "bob", users[0].ID)
	assert.Equal(t, t0.Add(7*time.Minute), users[1].LastActive)

	recent := agg.RecentActivity(t.Context(), 0)
	require.Len(t, recent.Entries, 5)
	assert.Equal(t, "k1", recent.Entries[0].ID)

	recent = agg.RecentActivity(t.Context(), 100)
	assert.Len(t, recent.Entries, 9)
}
