// Package analytics computes the dashboard counters and charts from raw records.
package analytics

import (
	"cmp"
	"context"
	"fmt"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/ctolnik/office-insight/server/database"
)

const dayLayout = "2006-01-02"

type Config struct {
	// DistributionWindow is the trailing window for the user distribution.
	// It does not follow the chart's days parameter.
	DistributionWindow time.Duration
	DefaultChartDays   int
	MaxChartDays       int
}

type UserShare struct {
	Username   string `json:"username"`
	Count      int    `json:"count"`
	Percentage int    `json:"percentage"`
}

type Summary struct {
	ActiveUsers      int         `json:"activeUsers"`
	KeystrokeRecords int64       `json:"keystrokeSessions"`
	Screenshots      int64       `json:"screenshots"`
	ClipboardLogs    int64       `json:"clipboardLogs"`
	UserDistribution []UserShare `json:"userDistribution"`
}

type DayBucket struct {
	Date        string `json:"date"`
	Keystrokes  int    `json:"keystrokes"`
	Screenshots int    `json:"screenshots"`
	Clipboard   int    `json:"clipboard"`
}

type Analytics struct {
	store database.Store
	cfg   Config
	now   func() time.Time
}

func New(store database.Store, cfg Config) *Analytics {
	if cfg.DistributionWindow <= 0 {
		cfg.DistributionWindow = 7 * 24 * time.Hour
	}
	if cfg.DefaultChartDays <= 0 {
		cfg.DefaultChartDays = 7
	}
	if cfg.MaxChartDays <= 0 {
		cfg.MaxChartDays = 365
	}
	return &Analytics{store: store, cfg: cfg, now: time.Now}
}

// Summary returns record counts, the number of distinct typing users and
// each user's share of recent activity. Records without a user are left out
// of the shares. Shares are rounded independently and need not sum to 100.
func (a *Analytics) Summary(ctx context.Context) (Summary, error) {
	users, err := a.store.DistinctUsers(ctx, database.LogTypeKeystroke)
	if err != nil {
		return Summary{}, fmt.Errorf("active users: %w", err)
	}
	counts, err := a.store.Counts(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("record counts: %w", err)
	}

	recent, err := a.records(ctx, database.Filter{Since: a.now().Add(-a.cfg.DistributionWindow)})
	if err != nil {
		return Summary{}, fmt.Errorf("recent activity: %w", err)
	}
	perUser := make(map[string]int)
	for _, r := range recent {
		if r.user == database.UnknownUser {
			continue
		}
		perUser[r.user]++
	}

	return Summary{
		ActiveUsers:      len(users),
		KeystrokeRecords: counts.Keystrokes,
		Screenshots:      counts.Screenshots,
		ClipboardLogs:    counts.Clipboard,
		UserDistribution: Distribution(perUser),
	}, nil
}

// Distribution converts per-user counts into rounded percentages,
// largest share first.
func Distribution(perUser map[string]int) []UserShare {
	total := 0
	for _, n := range perUser {
		total += n
	}
	shares := make([]UserShare, 0, len(perUser))
	if total == 0 {
		return shares
	}
	for user, n := range perUser {
		shares = append(shares, UserShare{
			Username:   user,
			Count:      n,
			Percentage: int(math.Round(100 * float64(n) / float64(total))),
		})
	}
	slices.SortFunc(shares, func(x, y UserShare) int {
		if c := cmp.Compare(y.Count, x.Count); c != 0 {
			return c
		}
		return cmp.Compare(x.Username, y.Username)
	})
	return shares
}

// ActivityOverTime counts raw records per UTC day for the trailing days,
// oldest day first. Days without records are present with zero counts.
func (a *Analytics) ActivityOverTime(ctx context.Context, days int) ([]DayBucket, error) {
	if days < 1 {
		days = a.cfg.DefaultChartDays
	}
	days = min(days, a.cfg.MaxChartDays)

	now := a.now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	first := today.AddDate(0, 0, -(days - 1))

	buckets := make([]DayBucket, days)
	index := make(map[string]int, days)
	for i := range buckets {
		d := first.AddDate(0, 0, i).Format(dayLayout)
		buckets[i] = DayBucket{Date: d}
		index[d] = i
	}

	records, err := a.records(ctx, database.Filter{Since: first})
	if err != nil {
		return nil, err
	}
	for _, r := range records {
		i, ok := index[r.ts.UTC().Format(dayLayout)]
		if !ok {
			continue
		}
		switch r.kind {
		case database.LogTypeKeystroke:
			buckets[i].Keystrokes++
		case database.LogTypeScreenshot:
			buckets[i].Screenshots++
		case database.LogTypeClipboard:
			buckets[i].Clipboard++
		}
	}
	return buckets, nil
}

type rawRecord struct {
	kind database.LogType
	user string
	ts   time.Time
}

// records reads all three collections under f and flattens them.
func (a *Analytics) records(ctx context.Context, f database.Filter) ([]rawRecord, error) {
	var (
		mu  sync.Mutex
		out []rawRecord
		wg  sync.WaitGroup
	)
	errs := make([]error, 3)
	collect := func(kind database.LogType, user string, ts time.Time) {
		if ts.IsZero() {
			return
		}
		mu.Lock()
		out = append(out, rawRecord{kind: kind, user: user, ts: ts})
		mu.Unlock()
	}

	wg.Add(3)
	go func() {
		defer wg.Done()
		recs, err := a.store.KeystrokeRecords(ctx, f)
		for _, r := range recs {
			collect(database.LogTypeKeystroke, r.User, r.Timestamp)
		}
		errs[0] = err
	}()
	go func() {
		defer wg.Done()
		recs, err := a.store.ScreenshotRecords(ctx, f)
		for _, r := range recs {
			collect(database.LogTypeScreenshot, r.User, r.Timestamp)
		}
		errs[1] = err
	}()
	go func() {
		defer wg.Done()
		recs, err := a.store.ClipboardRecords(ctx, f)
		for _, r := range recs {
			collect(database.LogTypeClipboard, r.User, r.Timestamp)
		}
		errs[2] = err
	}()
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}
