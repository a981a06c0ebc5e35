// Package history keeps finished AI analyses so they can be listed later.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ctolnik/office-insight/server/analysis"
	"github.com/google/uuid"
)

// DefaultLimit bounds List when the caller passes no limit.
const DefaultLimit = 20

type Entry struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	analysis.Result
}

type Store interface {
	analysis.History
	// List returns saved results newest first. An empty username lists all.
	List(ctx context.Context, username string, limit int) ([]Entry, error)
	Close() error
}

// Open connects the store named by driver. "none" and "" return a nil Store.
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	switch driver {
	case "", "none":
		return nil, nil
	case "sqlite":
		s, err := OpenSQLite(ctx, dsn)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "postgres":
		p, err := OpenPostgres(ctx, dsn)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
	return nil, fmt.Errorf("unknown history driver %q", driver)
}

// row is the column form shared by both stores.
type row struct {
	id              string
	username        string
	analysisType    string
	rangeStart      string
	rangeEnd        string
	findings        []byte
	recommendations []byte
	riskLevel       string
	riskPercentage  int
	degraded        bool
	generatedAt     time.Time
	createdAt       time.Time
}

func newRow(r analysis.Result, now time.Time) (row, error) {
	findings, err := json.Marshal(r.Findings)
	if err != nil {
		return row{}, fmt.Errorf("encode findings: %w", err)
	}
	recs, err := json.Marshal(r.Recommendations)
	if err != nil {
		return row{}, fmt.Errorf("encode recommendations: %w", err)
	}
	return row{
		id:              uuid.NewString(),
		username:        r.Username,
		analysisType:    string(r.AnalysisType),
		rangeStart:      r.DateRangeStart,
		rangeEnd:        r.DateRangeEnd,
		findings:        findings,
		recommendations: recs,
		riskLevel:       r.RiskLevel,
		riskPercentage:  r.RiskPercentage,
		degraded:        r.Degraded,
		generatedAt:     r.GeneratedAt.UTC(),
		createdAt:       now.UTC(),
	}, nil
}

func (r row) entry() (Entry, error) {
	e := Entry{
		ID:        r.id,
		CreatedAt: r.createdAt.UTC(),
		Result: analysis.Result{
			Username:       r.username,
			AnalysisType:   analysis.Type(r.analysisType),
			DateRangeStart: r.rangeStart,
			DateRangeEnd:   r.rangeEnd,
			RiskLevel:      r.riskLevel,
			RiskPercentage: r.riskPercentage,
			GeneratedAt:    r.generatedAt.UTC(),
			Degraded:       r.degraded,
		},
	}
	if err := json.Unmarshal(r.findings, &e.Findings); err != nil {
		return Entry{}, fmt.Errorf("decode findings of %s: %w", r.id, err)
	}
	if err := json.Unmarshal(r.recommendations, &e.Recommendations); err != nil {
		return Entry{}, fmt.Errorf("decode recommendations of %s: %w", r.id, err)
	}
	return e, nil
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	return min(limit, 500)
}
