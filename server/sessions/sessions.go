// Package sessions rebuilds typing sessions from keystroke fragments.
//
// A session is a run of same-user fragments where no two consecutive
// fragments are further apart than the gap threshold.
package sessions

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/ctolnik/office-insight/server/database"
)

// DefaultGap is the largest pause between keystrokes of one session.
const DefaultGap = 1500 * time.Millisecond

// Decrypter turns a stored field into plaintext without failing.
type Decrypter interface {
	Decrypt(ctx context.Context, blob string) string
}

// Session is one reconstructed typing run. ID is the first fragment's id and
// AverageInterval is in seconds, zero for a single fragment.
type Session struct {
	ID              string    `json:"id"`
	User            string    `json:"user"`
	IP              string    `json:"ip"`
	StartTime       time.Time `json:"startTime"`
	EndTime         time.Time `json:"endTime"`
	Text            string    `json:"text"`
	AverageInterval float64   `json:"averageInterval"`
	EventCount      int       `json:"eventCount"`
}

// AvgSpeed formats the average interval with three decimals.
func (s Session) AvgSpeed() string {
	return fmt.Sprintf("%.3f", s.AverageInterval)
}

// Reconstructor groups keystroke fragments into sessions using Gap.
type Reconstructor struct {
	Gap time.Duration
}

func New(gap time.Duration) *Reconstructor {
	if gap <= 0 {
		gap = DefaultGap
	}
	return &Reconstructor{Gap: gap}
}

// Group splits records into ordered runs. Input order does not matter:
// records are sorted ascending by timestamp first and records without a
// valid timestamp are dropped.
func (r *Reconstructor) Group(records []database.KeystrokeRecord) [][]database.KeystrokeRecord {
	sorted := make([]database.KeystrokeRecord, 0, len(records))
	for _, rec := range records {
		if rec.HasTimestamp() {
			sorted = append(sorted, rec)
		}
	}
	slices.SortStableFunc(sorted, func(a, b database.KeystrokeRecord) int {
		return a.Timestamp.Compare(b.Timestamp)
	})

	var groups [][]database.KeystrokeRecord
	var current []database.KeystrokeRecord
	for _, rec := range sorted {
		if len(current) > 0 {
			prev := current[len(current)-1]
			if rec.User != prev.User || rec.Timestamp.Sub(prev.Timestamp) > r.Gap {
				groups = append(groups, current)
				current = nil
			}
		}
		current = append(current, rec)
	}
	if len(current) > 0 {
		groups = append(groups, current)
	}
	return groups
}

// Build groups records and derives one Session per group, most recent first.
func (r *Reconstructor) Build(ctx context.Context, records []database.KeystrokeRecord, dec Decrypter) []Session {
	groups := r.Group(records)
	out := make([]Session, 0, len(groups))
	for i := len(groups) - 1; i >= 0; i-- {
		out = append(out, seal(ctx, groups[i], dec))
	}
	return out
}

func seal(ctx context.Context, group []database.KeystrokeRecord, dec Decrypter) Session {
	first, last := group[0], group[len(group)-1]

	var text strings.Builder
	for _, rec := range group {
		text.WriteString(dec.Decrypt(ctx, rec.Keystroke))
	}

	var avg float64
	if n := len(group); n > 1 {
		avg = last.Timestamp.Sub(first.Timestamp).Seconds() / float64(n-1)
	}

	return Session{
		ID:              first.ID,
		User:            database.NormalizeUser(first.User),
		IP:              first.IP,
		StartTime:       first.Timestamp,
		EndTime:         last.Timestamp,
		Text:            text.String(),
		AverageInterval: avg,
		EventCount:      len(group),
	}
}
