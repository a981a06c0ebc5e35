package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ctolnik/office-insight/zapctx"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS keystrokes (
	id TEXT PRIMARY KEY,
	username TEXT NOT NULL DEFAULT '',
	ip TEXT NOT NULL DEFAULT '',
	timestamp TEXT NOT NULL,
	keystroke TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS clipboard (
	id TEXT PRIMARY KEY,
	username TEXT NOT NULL DEFAULT '',
	ip TEXT NOT NULL DEFAULT '',
	timestamp TEXT NOT NULL,
	clipboard TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS screenshots (
	id TEXT PRIMARY KEY,
	username TEXT NOT NULL DEFAULT '',
	ip TEXT NOT NULL DEFAULT '',
	timestamp TEXT NOT NULL,
	screenshot TEXT NOT NULL DEFAULT '',
	resolution TEXT NOT NULL DEFAULT '',
	object_name TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_keystrokes_ts ON keystrokes(timestamp, id);
CREATE INDEX IF NOT EXISTS idx_keystrokes_user ON keystrokes(username);
CREATE INDEX IF NOT EXISTS idx_clipboard_ts ON clipboard(timestamp, id);
CREATE INDEX IF NOT EXISTS idx_screenshots_ts ON screenshots(timestamp, id);
`

// Options tune paging and the readiness wait for any Store.
type Options struct {
	PageSize     int
	ReadyTimeout time.Duration
}

// SQLite is the embedded Store used for single-node installs and tests.
type SQLite struct {
	path  string
	opts  Options
	ready *readiness
	db    *sql.DB
}

var _ Store = (*SQLite)(nil)

func NewSQLite(path string, opts Options) *SQLite {
	return &SQLite{path: path, opts: opts, ready: newReadiness(opts.ReadyTimeout)}
}

func (s *SQLite) Connect(ctx context.Context) error {
	if s.ready.isReady() {
		return nil
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating sqlite directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return fmt.Errorf("opening sqlite db: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return fmt.Errorf("setting WAL mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return fmt.Errorf("creating schema: %w", err)
	}

	s.db = db
	s.ready.markReady()
	zapctx.Info(ctx, "SQLite store ready", zap.String("path", s.path))
	return nil
}

func (s *SQLite) Close() error {
	if !s.ready.isReady() {
		return nil
	}
	return s.db.Close()
}

func (s *SQLite) KeystrokeRecords(ctx context.Context, f Filter) ([]KeystrokeRecord, error) {
	if err := s.ready.wait(ctx); err != nil {
		return nil, err
	}
	where, args := filterClause(f, sqliteTime)
	query := "SELECT id, username, ip, timestamp, keystroke FROM keystrokes" + where +
		" ORDER BY timestamp ASC, id ASC LIMIT ? OFFSET ?"

	records, err := readAll(ctx, s.opts.PageSize, func(ctx context.Context, limit, offset int) ([]KeystrokeRecord, error) {
		rows, err := s.db.QueryContext(ctx, query, append(args, limit, offset)...)
		if err != nil {
			return nil, err
		}
		defer func() { _ = rows.Close() }()

		page := make([]KeystrokeRecord, 0, limit)
		for rows.Next() {
			var r KeystrokeRecord
			var ts string
			if err := rows.Scan(&r.ID, &r.User, &r.IP, &ts, &r.Keystroke); err != nil {
				return nil, fmt.Errorf("scanning keystroke row: %w", err)
			}
			r.User = NormalizeUser(r.User)
			r.Timestamp = parseTimestamp(ts)
			page = append(page, r)
		}
		return page, rows.Err()
	})
	if err != nil {
		zapctx.Error(ctx, "Failed to read keystrokes from SQLite", zap.Error(err))
		return nil, fmt.Errorf("reading keystrokes: %w", err)
	}
	return records, nil
}

func (s *SQLite) ClipboardRecords(ctx context.Context, f Filter) ([]ClipboardRecord, error) {
	if err := s.ready.wait(ctx); err != nil {
		return nil, err
	}
	where, args := filterClause(f, sqliteTime)
	query := "SELECT id, username, ip, timestamp, clipboard FROM clipboard" + where +
		" ORDER BY timestamp ASC, id ASC LIMIT ? OFFSET ?"

	records, err := readAll(ctx, s.opts.PageSize, func(ctx context.Context, limit, offset int) ([]ClipboardRecord, error) {
		rows, err := s.db.QueryContext(ctx, query, append(args, limit, offset)...)
		if err != nil {
			return nil, err
		}
		defer func() { _ = rows.Close() }()

		page := make([]ClipboardRecord, 0, limit)
		for rows.Next() {
			var r ClipboardRecord
			var ts string
			if err := rows.Scan(&r.ID, &r.User, &r.IP, &ts, &r.Clipboard); err != nil {
				return nil, fmt.Errorf("scanning clipboard row: %w", err)
			}
			r.User = NormalizeUser(r.User)
			r.Timestamp = parseTimestamp(ts)
			page = append(page, r)
		}
		return page, rows.Err()
	})
	if err != nil {
		zapctx.Error(ctx, "Failed to read clipboard from SQLite", zap.Error(err))
		return nil, fmt.Errorf("reading clipboard: %w", err)
	}
	return records, nil
}

func (s *SQLite) ScreenshotRecords(ctx context.Context, f Filter) ([]ScreenshotRecord, error) {
	if err := s.ready.wait(ctx); err != nil {
		return nil, err
	}
	where, args := filterClause(f, sqliteTime)
	query := "SELECT id, username, ip, timestamp, resolution, object_name FROM screenshots" + where +
		" ORDER BY timestamp ASC, id ASC LIMIT ? OFFSET ?"

	records, err := readAll(ctx, s.opts.PageSize, func(ctx context.Context, limit, offset int) ([]ScreenshotRecord, error) {
		rows, err := s.db.QueryContext(ctx, query, append(args, limit, offset)...)
		if err != nil {
			return nil, err
		}
		defer func() { _ = rows.Close() }()

		page := make([]ScreenshotRecord, 0, limit)
		for rows.Next() {
			var r ScreenshotRecord
			var ts string
			if err := rows.Scan(&r.ID, &r.User, &r.IP, &ts, &r.Resolution, &r.ObjectName); err != nil {
				return nil, fmt.Errorf("scanning screenshot row: %w", err)
			}
			r.User = NormalizeUser(r.User)
			r.Timestamp = parseTimestamp(ts)
			page = append(page, r)
		}
		return page, rows.Err()
	})
	if err != nil {
		zapctx.Error(ctx, "Failed to read screenshots from SQLite", zap.Error(err))
		return nil, fmt.Errorf("reading screenshots: %w", err)
	}
	return records, nil
}

func (s *SQLite) Screenshot(ctx context.Context, id string) (ScreenshotRecord, error) {
	if err := s.ready.wait(ctx); err != nil {
		return ScreenshotRecord{}, err
	}
	var r ScreenshotRecord
	var ts string
	err := s.db.QueryRowContext(ctx,
		"SELECT id, username, ip, timestamp, screenshot, resolution, object_name FROM screenshots WHERE id = ?", id,
	).Scan(&r.ID, &r.User, &r.IP, &ts, &r.Screenshot, &r.Resolution, &r.ObjectName)
	if errors.Is(err, sql.ErrNoRows) {
		return ScreenshotRecord{}, ErrNotFound
	}
	if err != nil {
		return ScreenshotRecord{}, fmt.Errorf("reading screenshot %s: %w", id, err)
	}
	r.User = NormalizeUser(r.User)
	r.Timestamp = parseTimestamp(ts)
	return r, nil
}

func (s *SQLite) DeleteScreenshot(ctx context.Context, id string) error {
	if err := s.ready.wait(ctx); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, "DELETE FROM screenshots WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting screenshot %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLite) Users(ctx context.Context) ([]UserActivity, error) {
	if err := s.ready.wait(ctx); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT username, MAX(timestamp) FROM (
	SELECT username, timestamp FROM keystrokes
	UNION ALL SELECT username, timestamp FROM clipboard
	UNION ALL SELECT username, timestamp FROM screenshots
) GROUP BY username`)
	if err != nil {
		return nil, fmt.Errorf("querying users: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var users []UserActivity
	for rows.Next() {
		var u UserActivity
		var ts string
		if err := rows.Scan(&u.Username, &ts); err != nil {
			return nil, fmt.Errorf("scanning user row: %w", err)
		}
		u.LastActive = parseTimestamp(ts)
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return mergeUsers(users), nil
}

func (s *SQLite) DistinctUsers(ctx context.Context, t LogType) ([]string, error) {
	table, err := tableFor(t)
	if err != nil {
		return nil, err
	}
	if err := s.ready.wait(ctx); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, "SELECT DISTINCT username FROM "+table)
	if err != nil {
		return nil, fmt.Errorf("querying distinct users in %s: %w", table, err)
	}
	defer func() { _ = rows.Close() }()

	var raw []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("scanning user: %w", err)
		}
		raw = append(raw, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return distinctNormalized(raw), nil
}

func (s *SQLite) Counts(ctx context.Context) (Counts, error) {
	if err := s.ready.wait(ctx); err != nil {
		return Counts{}, err
	}
	var c Counts
	err := s.db.QueryRowContext(ctx, `SELECT
	(SELECT COUNT(*) FROM keystrokes),
	(SELECT COUNT(*) FROM screenshots),
	(SELECT COUNT(*) FROM clipboard)`).Scan(&c.Keystrokes, &c.Screenshots, &c.Clipboard)
	if err != nil {
		return Counts{}, fmt.Errorf("counting records: %w", err)
	}
	return c, nil
}

func (s *SQLite) KeystrokeRevision(ctx context.Context) (Revision, error) {
	if err := s.ready.wait(ctx); err != nil {
		return Revision{}, err
	}
	var rev Revision
	var latest string
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*), COALESCE(MAX(timestamp), '') FROM keystrokes").
		Scan(&rev.Count, &latest)
	if err != nil {
		return Revision{}, fmt.Errorf("reading keystroke revision: %w", err)
	}
	rev.Latest = parseTimestamp(latest)
	return rev, nil
}

func (s *SQLite) InsertKeystrokes(ctx context.Context, records []KeystrokeRecord) error {
	return s.insert(ctx, "INSERT INTO keystrokes (id, username, ip, timestamp, keystroke) VALUES (?, ?, ?, ?, ?)",
		len(records), func(i int) []any {
			r := records[i]
			return []any{r.ID, r.User, r.IP, formatTimestamp(r.Timestamp), r.Keystroke}
		})
}

func (s *SQLite) InsertClipboard(ctx context.Context, records []ClipboardRecord) error {
	return s.insert(ctx, "INSERT INTO clipboard (id, username, ip, timestamp, clipboard) VALUES (?, ?, ?, ?, ?)",
		len(records), func(i int) []any {
			r := records[i]
			return []any{r.ID, r.User, r.IP, formatTimestamp(r.Timestamp), r.Clipboard}
		})
}

func (s *SQLite) InsertScreenshots(ctx context.Context, records []ScreenshotRecord) error {
	return s.insert(ctx, "INSERT INTO screenshots (id, username, ip, timestamp, screenshot, resolution, object_name) VALUES (?, ?, ?, ?, ?, ?, ?)",
		len(records), func(i int) []any {
			r := records[i]
			return []any{r.ID, r.User, r.IP, formatTimestamp(r.Timestamp), r.Screenshot, r.Resolution, r.ObjectName}
		})
}

func (s *SQLite) insert(ctx context.Context, query string, n int, args func(i int) []any) error {
	if n == 0 {
		return nil
	}
	if err := s.ready.wait(ctx); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for i := 0; i < n; i++ {
		if _, err := stmt.ExecContext(ctx, args(i)...); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert row %d: %w", i, err)
		}
	}
	return tx.Commit()
}

func sqliteTime(t time.Time) any { return formatTimestamp(t) }
