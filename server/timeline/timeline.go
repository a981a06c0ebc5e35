// Package timeline merges keystroke sessions, clipboard entries and
// screenshot entries into one stream ordered most recent first.
package timeline

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/ctolnik/office-insight/server/cache"
	"github.com/ctolnik/office-insight/server/database"
	"github.com/ctolnik/office-insight/server/metrics"
	"github.com/ctolnik/office-insight/server/sensitive"
	"github.com/ctolnik/office-insight/server/sessions"
	"github.com/ctolnik/office-insight/server/storage"
	"github.com/ctolnik/office-insight/zapctx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ScreenshotPlaceholder is shown in place of image data in listings.
const ScreenshotPlaceholder = "📸 Screenshot Available (click)"

const (
	SourceKeystroke  = "keystroke"
	SourceClipboard  = "clipboard"
	SourceScreenshot = "screenshot"
)

var tracer = otel.Tracer("github.com/ctolnik/office-insight/server/timeline")

type Entry struct {
	ID        string           `json:"id"`
	Timestamp time.Time        `json:"timestamp"`
	User      string           `json:"user"`
	IP        string           `json:"ip"`
	Type      database.LogType `json:"type"`
	Data      string           `json:"data"`
	AvgSpeed  string           `json:"avgSpeed"`
	StartTime *time.Time       `json:"startTime,omitempty"`
	EndTime   *time.Time       `json:"endTime,omitempty"`
	Sensitive bool             `json:"sensitive"`
}

// Stream is the merged result. Failed lists the sources that could not be
// read; their entries are missing rather than the whole stream failing.
type Stream struct {
	Entries []Entry
	Failed  []string
}

func (s Stream) Degraded() bool { return len(s.Failed) > 0 }

type Screenshot struct {
	ID             string    `json:"id"`
	Timestamp      time.Time `json:"timestamp"`
	User           string    `json:"user"`
	ScreenshotData string    `json:"screenshotData"`
	Resolution     string    `json:"resolution"`
}

type User struct {
	ID         string    `json:"id"`
	Username   string    `json:"username"`
	LastActive time.Time `json:"lastActive"`
}

// Blobs holds screenshot payloads stored outside the record store.
type Blobs interface {
	Screenshot(ctx context.Context, objectName string) (string, error)
	RemoveScreenshot(ctx context.Context, objectName string) error
}

type Aggregator struct {
	store    database.Store
	dec      sessions.Decrypter
	recon    *sessions.Reconstructor
	detector *sensitive.Detector
	blobs    Blobs
	cache    cache.Cache
}

type Option func(*Aggregator)

func WithBlobs(b Blobs) Option {
	return func(a *Aggregator) { a.blobs = b }
}

func WithCache(c cache.Cache) Option {
	return func(a *Aggregator) { a.cache = c }
}

func WithDetector(d *sensitive.Detector) Option {
	return func(a *Aggregator) { a.detector = d }
}

func New(store database.Store, dec sessions.Decrypter, recon *sessions.Reconstructor, opts ...Option) *Aggregator {
	a := &Aggregator{
		store:    store,
		dec:      dec,
		recon:    recon,
		detector: sensitive.New(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// All reads the three sources concurrently and merges them.
func (a *Aggregator) All(ctx context.Context) Stream {
	ctx, span := tracer.Start(ctx, "timeline.All")
	defer span.End()

	type result struct {
		name    string
		entries []Entry
		err     error
	}
	sources := []struct {
		name  string
		fetch func(context.Context) ([]Entry, error)
	}{
		{SourceKeystroke, a.keystrokeEntries},
		{SourceClipboard, a.clipboardEntries},
		{SourceScreenshot, a.screenshotEntries},
	}

	results := make([]result, len(sources))
	var wg sync.WaitGroup
	for i, src := range sources {
		wg.Add(1)
		go func() {
			defer wg.Done()
			entries, err := src.fetch(ctx)
			results[i] = result{name: src.name, entries: entries, err: err}
		}()
	}
	wg.Wait()

	var stream Stream
	for _, r := range results {
		if r.err != nil {
			metrics.SourceFailures.WithLabelValues(r.name).Inc()
			zapctx.Error(ctx, "Failed to read log source, continuing without it",
				zap.String("source", r.name),
				zap.Error(r.err),
			)
			stream.Failed = append(stream.Failed, r.name)
			continue
		}
		stream.Entries = append(stream.Entries, r.entries...)
	}
	if stream.Entries == nil {
		stream.Entries = []Entry{}
	}
	SortEntries(stream.Entries)

	span.SetAttributes(
		attribute.Int("timeline.entries", len(stream.Entries)),
		attribute.StringSlice("timeline.failed", stream.Failed),
	)
	return stream
}

// SortEntries orders by timestamp descending, then type name, then id.
func SortEntries(entries []Entry) {
	slices.SortFunc(entries, func(x, y Entry) int {
		if c := y.Timestamp.Compare(x.Timestamp); c != 0 {
			return c
		}
		if c := cmp.Compare(x.Type, y.Type); c != 0 {
			return c
		}
		return cmp.Compare(x.ID, y.ID)
	})
}

// Sessions returns the reconstructed keystroke sessions, most recent first.
func (a *Aggregator) Sessions(ctx context.Context) ([]sessions.Session, error) {
	load := func(ctx context.Context) ([]sessions.Session, error) {
		records, err := a.store.KeystrokeRecords(ctx, database.Filter{})
		if err != nil {
			return nil, err
		}
		return a.recon.Build(ctx, records, a.dec), nil
	}
	if a.cache == nil {
		return load(ctx)
	}
	rev, err := a.store.KeystrokeRevision(ctx)
	if err != nil {
		return nil, err
	}
	return cache.Load(ctx, a.cache, cache.Key(rev, a.recon.Gap), load)
}

func (a *Aggregator) keystrokeEntries(ctx context.Context) ([]Entry, error) {
	list, err := a.Sessions(ctx)
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(list))
	for _, s := range list {
		start, end := s.StartTime, s.EndTime
		entries = append(entries, Entry{
			ID:        s.ID,
			Timestamp: s.StartTime,
			User:      s.User,
			IP:        s.IP,
			Type:      database.LogTypeKeystroke,
			Data:      s.Text,
			AvgSpeed:  s.AvgSpeed(),
			StartTime: &start,
			EndTime:   &end,
			Sensitive: a.detector.ContainsSensitiveInfo(s.Text),
		})
	}
	return entries, nil
}

func (a *Aggregator) clipboardEntries(ctx context.Context) ([]Entry, error) {
	records, err := a.store.ClipboardRecords(ctx, database.Filter{})
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(records))
	for _, r := range records {
		if !r.HasTimestamp() {
			continue
		}
		text := a.dec.Decrypt(ctx, r.Clipboard)
		entries = append(entries, Entry{
			ID:        r.ID,
			Timestamp: r.Timestamp,
			User:      r.User,
			IP:        r.IP,
			Type:      database.LogTypeClipboard,
			Data:      text,
			Sensitive: a.detector.ContainsSensitiveInfo(text),
		})
	}
	return entries, nil
}

func (a *Aggregator) screenshotEntries(ctx context.Context) ([]Entry, error) {
	records, err := a.store.ScreenshotRecords(ctx, database.Filter{})
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(records))
	for _, r := range records {
		if !r.HasTimestamp() {
			continue
		}
		entries = append(entries, Entry{
			ID:        r.ID,
			Timestamp: r.Timestamp,
			User:      r.User,
			IP:        r.IP,
			Type:      database.LogTypeScreenshot,
			Data:      ScreenshotPlaceholder,
		})
	}
	return entries, nil
}

// Screenshot returns one screenshot with its decrypted payload.
// A payload that fails to decrypt is returned as stored.
func (a *Aggregator) Screenshot(ctx context.Context, id string) (Screenshot, error) {
	rec, err := a.store.Screenshot(ctx, id)
	if err != nil {
		return Screenshot{}, err
	}

	payload := rec.Screenshot
	if rec.ObjectName != "" && a.blobs != nil {
		payload, err = a.blobs.Screenshot(ctx, rec.ObjectName)
		if errors.Is(err, storage.ErrObjectNotFound) {
			return Screenshot{}, fmt.Errorf("screenshot %s payload: %w", id, database.ErrNotFound)
		}
		if err != nil {
			return Screenshot{}, err
		}
	}

	resolution := rec.Resolution
	if resolution == "" {
		resolution = "Unknown"
	}
	return Screenshot{
		ID:             rec.ID,
		Timestamp:      rec.Timestamp,
		User:           rec.User,
		ScreenshotData: a.dec.Decrypt(ctx, payload),
		Resolution:     resolution,
	}, nil
}

// DeleteScreenshot removes the record and, when present, its stored payload.
func (a *Aggregator) DeleteScreenshot(ctx context.Context, id string) error {
	rec, err := a.store.Screenshot(ctx, id)
	if err != nil {
		return err
	}
	if err := a.store.DeleteScreenshot(ctx, id); err != nil {
		return err
	}
	if rec.ObjectName != "" && a.blobs != nil {
		if err := a.blobs.RemoveScreenshot(ctx, rec.ObjectName); err != nil {
			zapctx.Warn(ctx, "Failed to remove screenshot payload",
				zap.String("id", id),
				zap.String("object", rec.ObjectName),
				zap.Error(err),
			)
		}
	}
	zapctx.Info(ctx, "Screenshot deleted", zap.String("id", id))
	return nil
}

// Users lists every username seen in any source, most recently active first.
func (a *Aggregator) Users(ctx context.Context) ([]User, error) {
	activity, err := a.store.Users(ctx)
	if err != nil {
		return nil, err
	}
	users := make([]User, 0, len(activity))
	for _, u := range activity {
		users = append(users, User{ID: u.Username, Username: u.Username, LastActive: u.LastActive})
	}
	slices.SortFunc(users, func(x, y User) int {
		if c := y.LastActive.Compare(x.LastActive); c != 0 {
			return c
		}
		return cmp.Compare(x.Username, y.Username)
	})
	return users, nil
}

// RecentActivity returns the first limit entries of the merged stream.
func (a *Aggregator) RecentActivity(ctx context.Context, limit int) Stream {
	if limit <= 0 {
		limit = 5
	}
	stream := a.All(ctx)
	if len(stream.Entries) > limit {
		stream.Entries = stream.Entries[:limit]
	}
	return stream
}
