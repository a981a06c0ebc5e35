package history

import (
	"context"
	"fmt"
	"time"

	"github.com/ctolnik/office-insight/server/analysis"
	"github.com/ctolnik/office-insight/zapctx"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS ai_analysis (
	id UUID PRIMARY KEY,
	username TEXT NOT NULL,
	analysis_type TEXT NOT NULL,
	date_range_start TEXT NOT NULL,
	date_range_end TEXT NOT NULL,
	findings JSONB NOT NULL,
	recommendations JSONB NOT NULL,
	risk_level TEXT NOT NULL,
	risk_percentage INTEGER NOT NULL,
	degraded BOOLEAN NOT NULL DEFAULT FALSE,
	generated_at TIMESTAMPTZ NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_ai_analysis_user ON ai_analysis(username, created_at DESC);
`

type Postgres struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

var _ Store = (*Postgres)(nil)

func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating history schema: %w", err)
	}
	zapctx.Info(ctx, "Analysis history ready", zap.String("driver", "postgres"))
	return &Postgres{pool: pool, now: time.Now}, nil
}

func (p *Postgres) Save(ctx context.Context, r analysis.Result) error {
	rw, err := newRow(r, p.now())
	if err != nil {
		return err
	}
	_, err = p.pool.Exec(ctx, `INSERT INTO ai_analysis
		(id, username, analysis_type, date_range_start, date_range_end, findings, recommendations,
		 risk_level, risk_percentage, degraded, generated_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7::jsonb, $8, $9, $10, $11, $12)`,
		rw.id, rw.username, rw.analysisType, rw.rangeStart, rw.rangeEnd,
		string(rw.findings), string(rw.recommendations), rw.riskLevel, rw.riskPercentage, rw.degraded,
		rw.generatedAt, rw.createdAt)
	if err != nil {
		return fmt.Errorf("saving analysis: %w", err)
	}
	return nil
}

func (p *Postgres) List(ctx context.Context, username string, limit int) ([]Entry, error) {
	query := `SELECT id::text, username, analysis_type, date_range_start, date_range_end,
		findings::text, recommendations::text, risk_level, risk_percentage, degraded, generated_at, created_at
		FROM ai_analysis`
	args := []any{normalizeLimit(limit)}
	if username != "" {
		query += " WHERE username = $2"
		args = append(args, username)
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT $1"

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing analyses: %w", err)
	}
	defer rows.Close()

	out := []Entry{}
	for rows.Next() {
		var (
			rw             row
			findings, recs string
		)
		if err := rows.Scan(&rw.id, &rw.username, &rw.analysisType, &rw.rangeStart, &rw.rangeEnd,
			&findings, &recs, &rw.riskLevel, &rw.riskPercentage, &rw.degraded, &rw.generatedAt, &rw.createdAt); err != nil {
			return nil, fmt.Errorf("scanning analysis: %w", err)
		}
		rw.findings, rw.recommendations = []byte(findings), []byte(recs)
		e, err := rw.entry()
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
