package database

import (
	"context"
	"fmt"

	"github.com/ctolnik/office-insight/zapctx"
	"go.uber.org/zap"
)

// AutoSyncTables creates the record tables when they do not exist yet.
// It runs on every successful connect.
func (db *ClickHouse) AutoSyncTables(ctx context.Context) error {
	zapctx.Info(ctx, "🔄 Auto-syncing record table schemas...", zap.String("database", db.ch.Database))

	if err := db.conn.Exec(ctx, "CREATE DATABASE IF NOT EXISTS "+db.ch.Database); err != nil {
		zapctx.Error(ctx, "Failed to create database", zap.Error(err))
		return fmt.Errorf("creating database %s: %w", db.ch.Database, err)
	}

	tables := []struct {
		name    string
		columns string
	}{
		{"keystrokes", "keystroke String"},
		{"clipboard", "clipboard String"},
		{"screenshots", "screenshot String, resolution String DEFAULT '', object_name String DEFAULT ''"},
	}

	for _, t := range tables {
		createTableSQL := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
    id String,
    username String DEFAULT '',
    ip String DEFAULT '',
    timestamp DateTime64(3, 'UTC'),
    %s
) ENGINE = MergeTree()
ORDER BY (timestamp, id)
SETTINGS index_granularity = 8192`, db.table(t.name), t.columns)

		if err := db.conn.Exec(ctx, createTableSQL); err != nil {
			zapctx.Error(ctx, "Failed to create table", zap.Error(err), zap.String("table", t.name))
			return fmt.Errorf("creating table %s: %w", t.name, err)
		}
	}

	zapctx.Info(ctx, "✅ Record table schemas are up to date")
	return nil
}
