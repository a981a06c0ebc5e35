package database

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/ctolnik/office-insight/zapctx"
	"go.uber.org/zap"
)

const slowQueryThreshold = 200 * time.Millisecond

type ClickHouseOptions struct {
	Host     string
	Port     int
	Database string
	Username string
	Password string
}

// ClickHouse is the Store backed by the collector's ClickHouse tables.
type ClickHouse struct {
	ch    ClickHouseOptions
	opts  Options
	ready *readiness
	conn  driver.Conn
}

var _ Store = (*ClickHouse)(nil)

func NewClickHouse(ch ClickHouseOptions, opts Options) *ClickHouse {
	return &ClickHouse{ch: ch, opts: opts, ready: newReadiness(opts.ReadyTimeout)}
}

func (db *ClickHouse) Connect(ctx context.Context) error {
	if db.ready.isReady() {
		return nil
	}
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", db.ch.Host, db.ch.Port)},
		Auth: clickhouse.Auth{
			Database: db.ch.Database,
			Username: db.ch.Username,
			Password: db.ch.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout: 10 * time.Second,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	db.conn = conn
	if err := db.AutoSyncTables(ctx); err != nil {
		_ = conn.Close()
		return err
	}
	db.ready.markReady()
	return nil
}

func (db *ClickHouse) Close() error {
	if !db.ready.isReady() {
		return nil
	}
	return db.conn.Close()
}

func (db *ClickHouse) table(name string) string {
	return db.ch.Database + "." + name
}

func (db *ClickHouse) KeystrokeRecords(ctx context.Context, f Filter) ([]KeystrokeRecord, error) {
	if err := db.ready.wait(ctx); err != nil {
		return nil, err
	}
	where, args := filterClause(f, chTime)
	query := "SELECT id, username, ip, timestamp, keystroke FROM " + db.table("keystrokes") + where +
		" ORDER BY timestamp ASC, id ASC LIMIT ? OFFSET ?"

	start := time.Now()
	records, err := readAll(ctx, db.opts.PageSize, func(ctx context.Context, limit, offset int) ([]KeystrokeRecord, error) {
		rows, err := db.conn.Query(ctx, query, append(args, limit, offset)...)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		page := make([]KeystrokeRecord, 0, limit)
		for rows.Next() {
			var r KeystrokeRecord
			if err := rows.Scan(&r.ID, &r.User, &r.IP, &r.Timestamp, &r.Keystroke); err != nil {
				return nil, fmt.Errorf("scanning keystroke row: %w", err)
			}
			r.User = NormalizeUser(r.User)
			page = append(page, r)
		}
		return page, rows.Err()
	})
	if err != nil {
		zapctx.Error(ctx, "Failed to query keystrokes",
			zap.Error(err),
			zap.Duration("duration", time.Since(start)),
		)
		return nil, fmt.Errorf("reading keystrokes: %w", err)
	}
	warnIfSlow(ctx, "keystrokes", start, len(records))
	return records, nil
}

func (db *ClickHouse) ClipboardRecords(ctx context.Context, f Filter) ([]ClipboardRecord, error) {
	if err := db.ready.wait(ctx); err != nil {
		return nil, err
	}
	where, args := filterClause(f, chTime)
	query := "SELECT id, username, ip, timestamp, clipboard FROM " + db.table("clipboard") + where +
		" ORDER BY timestamp ASC, id ASC LIMIT ? OFFSET ?"

	start := time.Now()
	records, err := readAll(ctx, db.opts.PageSize, func(ctx context.Context, limit, offset int) ([]ClipboardRecord, error) {
		rows, err := db.conn.Query(ctx, query, append(args, limit, offset)...)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		page := make([]ClipboardRecord, 0, limit)
		for rows.Next() {
			var r ClipboardRecord
			if err := rows.Scan(&r.ID, &r.User, &r.IP, &r.Timestamp, &r.Clipboard); err != nil {
				return nil, fmt.Errorf("scanning clipboard row: %w", err)
			}
			r.User = NormalizeUser(r.User)
			page = append(page, r)
		}
		return page, rows.Err()
	})
	if err != nil {
		zapctx.Error(ctx, "Failed to query clipboard",
			zap.Error(err),
			zap.Duration("duration", time.Since(start)),
		)
		return nil, fmt.Errorf("reading clipboard: %w", err)
	}
	warnIfSlow(ctx, "clipboard", start, len(records))
	return records, nil
}

func (db *ClickHouse) ScreenshotRecords(ctx context.Context, f Filter) ([]ScreenshotRecord, error) {
	if err := db.ready.wait(ctx); err != nil {
		return nil, err
	}
	where, args := filterClause(f, chTime)
	query := "SELECT id, username, ip, timestamp, resolution, object_name FROM " + db.table("screenshots") + where +
		" ORDER BY timestamp ASC, id ASC LIMIT ? OFFSET ?"

	start := time.Now()
	records, err := readAll(ctx, db.opts.PageSize, func(ctx context.Context, limit, offset int) ([]ScreenshotRecord, error) {
		rows, err := db.conn.Query(ctx, query, append(args, limit, offset)...)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		page := make([]ScreenshotRecord, 0, limit)
		for rows.Next() {
			var r ScreenshotRecord
			if err := rows.Scan(&r.ID, &r.User, &r.IP, &r.Timestamp, &r.Resolution, &r.ObjectName); err != nil {
				return nil, fmt.Errorf("scanning screenshot row: %w", err)
			}
			r.User = NormalizeUser(r.User)
			page = append(page, r)
		}
		return page, rows.Err()
	})
	if err != nil {
		zapctx.Error(ctx, "Failed to query screenshots",
			zap.Error(err),
			zap.Duration("duration", time.Since(start)),
		)
		return nil, fmt.Errorf("reading screenshots: %w", err)
	}
	warnIfSlow(ctx, "screenshots", start, len(records))
	return records, nil
}

func (db *ClickHouse) Screenshot(ctx context.Context, id string) (ScreenshotRecord, error) {
	if err := db.ready.wait(ctx); err != nil {
		return ScreenshotRecord{}, err
	}
	rows, err := db.conn.Query(ctx,
		"SELECT id, username, ip, timestamp, screenshot, resolution, object_name FROM "+db.table("screenshots")+
			" WHERE id = ? LIMIT 1", id)
	if err != nil {
		return ScreenshotRecord{}, fmt.Errorf("reading screenshot %s: %w", id, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return ScreenshotRecord{}, fmt.Errorf("reading screenshot %s: %w", id, err)
		}
		return ScreenshotRecord{}, ErrNotFound
	}
	var r ScreenshotRecord
	if err := rows.Scan(&r.ID, &r.User, &r.IP, &r.Timestamp, &r.Screenshot, &r.Resolution, &r.ObjectName); err != nil {
		return ScreenshotRecord{}, fmt.Errorf("scanning screenshot %s: %w", id, err)
	}
	r.User = NormalizeUser(r.User)
	return r, nil
}

func (db *ClickHouse) DeleteScreenshot(ctx context.Context, id string) error {
	if err := db.ready.wait(ctx); err != nil {
		return err
	}
	var n uint64
	if err := db.conn.QueryRow(ctx, "SELECT count() FROM "+db.table("screenshots")+" WHERE id = ?", id).Scan(&n); err != nil {
		return fmt.Errorf("checking screenshot %s: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	if err := db.conn.Exec(ctx, "DELETE FROM "+db.table("screenshots")+" WHERE id = ?", id); err != nil {
		zapctx.Error(ctx, "Failed to delete screenshot", zap.Error(err), zap.String("id", id))
		return fmt.Errorf("deleting screenshot %s: %w", id, err)
	}
	return nil
}

func (db *ClickHouse) Users(ctx context.Context) ([]UserActivity, error) {
	if err := db.ready.wait(ctx); err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`SELECT username, max(timestamp) AS last_active FROM (
	SELECT username, timestamp FROM %s
	UNION ALL SELECT username, timestamp FROM %s
	UNION ALL SELECT username, timestamp FROM %s
) GROUP BY username`, db.table("keystrokes"), db.table("clipboard"), db.table("screenshots"))

	start := time.Now()
	rows, err := db.conn.Query(ctx, query)
	if err != nil {
		zapctx.Error(ctx, "Failed to query users", zap.Error(err))
		return nil, fmt.Errorf("querying users: %w", err)
	}
	defer rows.Close()

	users := make([]UserActivity, 0)
	for rows.Next() {
		var u UserActivity
		if err := rows.Scan(&u.Username, &u.LastActive); err != nil {
			return nil, fmt.Errorf("scanning user row: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	warnIfSlow(ctx, "users", start, len(users))
	return mergeUsers(users), nil
}

func (db *ClickHouse) DistinctUsers(ctx context.Context, t LogType) ([]string, error) {
	table, err := tableFor(t)
	if err != nil {
		return nil, err
	}
	if err := db.ready.wait(ctx); err != nil {
		return nil, err
	}
	rows, err := db.conn.Query(ctx, "SELECT DISTINCT username FROM "+db.table(table))
	if err != nil {
		zapctx.Error(ctx, "Failed to query distinct users", zap.Error(err), zap.String("table", table))
		return nil, fmt.Errorf("querying distinct users in %s: %w", table, err)
	}
	defer rows.Close()

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

func (db *ClickHouse) Counts(ctx context.Context) (Counts, error) {
	if err := db.ready.wait(ctx); err != nil {
		return Counts{}, err
	}
	var k, s, c uint64
	err := db.conn.QueryRow(ctx, fmt.Sprintf("SELECT (SELECT count() FROM %s), (SELECT count() FROM %s), (SELECT count() FROM %s)",
		db.table("keystrokes"), db.table("screenshots"), db.table("clipboard"))).Scan(&k, &s, &c)
	if err != nil {
		return Counts{}, fmt.Errorf("counting records: %w", err)
	}
	return Counts{Keystrokes: int64(k), Screenshots: int64(s), Clipboard: int64(c)}, nil
}

func (db *ClickHouse) KeystrokeRevision(ctx context.Context) (Revision, error) {
	if err := db.ready.wait(ctx); err != nil {
		return Revision{}, err
	}
	var n uint64
	var latest time.Time
	err := db.conn.QueryRow(ctx, "SELECT count(), max(timestamp) FROM "+db.table("keystrokes")).Scan(&n, &latest)
	if err != nil {
		return Revision{}, fmt.Errorf("reading keystroke revision: %w", err)
	}
	return Revision{Count: int64(n), Latest: latest}, nil
}

func (db *ClickHouse) InsertKeystrokes(ctx context.Context, records []KeystrokeRecord) error {
	return db.insert(ctx, "keystrokes", len(records), func(b driver.Batch, i int) error {
		r := records[i]
		return b.Append(r.ID, r.User, r.IP, r.Timestamp, r.Keystroke)
	})
}

func (db *ClickHouse) InsertClipboard(ctx context.Context, records []ClipboardRecord) error {
	return db.insert(ctx, "clipboard", len(records), func(b driver.Batch, i int) error {
		r := records[i]
		return b.Append(r.ID, r.User, r.IP, r.Timestamp, r.Clipboard)
	})
}

func (db *ClickHouse) InsertScreenshots(ctx context.Context, records []ScreenshotRecord) error {
	return db.insert(ctx, "screenshots", len(records), func(b driver.Batch, i int) error {
		r := records[i]
		return b.Append(r.ID, r.User, r.IP, r.Timestamp, r.Screenshot, r.Resolution, r.ObjectName)
	})
}

func (db *ClickHouse) insert(ctx context.Context, table string, n int, appendRow func(driver.Batch, int) error) error {
	if n == 0 {
		return nil
	}
	if err := db.ready.wait(ctx); err != nil {
		return err
	}
	start := time.Now()
	batch, err := db.conn.PrepareBatch(ctx, "INSERT INTO "+db.table(table))
	if err != nil {
		return fmt.Errorf("prepare batch for %s: %w", table, err)
	}
	for i := 0; i < n; i++ {
		if err := appendRow(batch, i); err != nil {
			_ = batch.Abort()
			return fmt.Errorf("append row %d to %s: %w", i, table, err)
		}
	}
	if err := batch.Send(); err != nil {
		zapctx.Error(ctx, "Failed to insert batch to ClickHouse",
			zap.Error(err),
			zap.Duration("duration", time.Since(start)),
			zap.String("table", table),
			zap.Int("rows", n),
		)
		return fmt.Errorf("send batch for %s: %w", table, err)
	}
	return nil
}

func chTime(t time.Time) any { return t.UTC() }

func warnIfSlow(ctx context.Context, table string, start time.Time, n int) {
	duration := time.Since(start)
	if duration > slowQueryThreshold {
		zapctx.Warn(ctx, "Slow SELECT query detected",
			zap.Duration("duration", duration),
			zap.String("table", table),
			zap.Int("result_count", n),
		)
	}
}
