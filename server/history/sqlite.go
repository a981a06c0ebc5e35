package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ctolnik/office-insight/server/analysis"
	"github.com/ctolnik/office-insight/zapctx"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS ai_analysis (
	id TEXT PRIMARY KEY,
	username TEXT NOT NULL,
	analysis_type TEXT NOT NULL,
	date_range_start TEXT NOT NULL,
	date_range_end TEXT NOT NULL,
	findings TEXT NOT NULL,
	recommendations TEXT NOT NULL,
	risk_level TEXT NOT NULL,
	risk_percentage INTEGER NOT NULL,
	degraded INTEGER NOT NULL DEFAULT 0,
	generated_at TEXT NOT NULL,
	created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_ai_analysis_user ON ai_analysis(username, created_at);
`

const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

type SQLite struct {
	db  *sql.DB
	now func() time.Time
}

var _ Store = (*SQLite)(nil)

func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating history directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening history db: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating history schema: %w", err)
	}
	zapctx.Info(ctx, "Analysis history ready", zap.String("driver", "sqlite"), zap.String("path", path))
	return &SQLite{db: db, now: time.Now}, nil
}

func (s *SQLite) Save(ctx context.Context, r analysis.Result) error {
	rw, err := newRow(r, s.now())
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO ai_analysis
		(id, username, analysis_type, date_range_start, date_range_end, findings, recommendations,
		 risk_level, risk_percentage, degraded, generated_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rw.id, rw.username, rw.analysisType, rw.rangeStart, rw.rangeEnd,
		string(rw.findings), string(rw.recommendations), rw.riskLevel, rw.riskPercentage, rw.degraded,
		rw.generatedAt.Format(sqliteTimeLayout), rw.createdAt.Format(sqliteTimeLayout))
	if err != nil {
		return fmt.Errorf("saving analysis: %w", err)
	}
	return nil
}

func (s *SQLite) List(ctx context.Context, username string, limit int) ([]Entry, error) {
	query := `SELECT id, username, analysis_type, date_range_start, date_range_end, findings, recommendations,
		risk_level, risk_percentage, degraded, generated_at, created_at FROM ai_analysis`
	var args []any
	if username != "" {
		query += " WHERE username = ?"
		args = append(args, username)
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, normalizeLimit(limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing analyses: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []Entry{}
	for rows.Next() {
		var (
			rw                   row
			findings, recs       string
			generated, createdAt string
		)
		if err := rows.Scan(&rw.id, &rw.username, &rw.analysisType, &rw.rangeStart, &rw.rangeEnd,
			&findings, &recs, &rw.riskLevel, &rw.riskPercentage, &rw.degraded, &generated, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning analysis: %w", err)
		}
		rw.findings, rw.recommendations = []byte(findings), []byte(recs)
		rw.generatedAt, _ = time.Parse(sqliteTimeLayout, generated)
		rw.createdAt, _ = time.Parse(sqliteTimeLayout, createdAt)
		e, err := rw.entry()
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
