package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ctolnik/office-insight/server/alerts"
	"github.com/ctolnik/office-insight/server/analysis"
	"github.com/ctolnik/office-insight/server/analytics"
	"github.com/ctolnik/office-insight/server/cache"
	"github.com/ctolnik/office-insight/server/codec"
	"github.com/ctolnik/office-insight/server/config"
	"github.com/ctolnik/office-insight/server/database"
	"github.com/ctolnik/office-insight/server/history"
	"github.com/ctolnik/office-insight/server/oracle"
	"github.com/ctolnik/office-insight/server/sensitive"
	"github.com/ctolnik/office-insight/server/sessions"
	"github.com/ctolnik/office-insight/server/storage"
	"github.com/ctolnik/office-insight/server/timeline"
	"github.com/ctolnik/office-insight/zapctx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// app holds the components behind the HTTP handlers and CLI commands.
type app struct {
	cfg       *config.Config
	store     database.Store
	codec     *codec.Codec
	blobs     *storage.Storage
	timeline  *timeline.Aggregator
	analytics *analytics.Analytics
	alerts    *alerts.Scanner
	analysis  *analysis.Orchestrator
	history   history.Store
	closers   []func() error
}

// appOption overrides a component, mostly for tests.
type appOption func(*appDeps)

type appDeps struct {
	store  database.Store
	oracle analysis.Completer
}

func withStore(s database.Store) appOption {
	return func(d *appDeps) { d.store = s }
}

func withOracle(o analysis.Completer) appOption {
	return func(d *appDeps) { d.oracle = o }
}

// newApp wires every component from cfg. The record store is created but
// not connected; see connectStore.
func newApp(ctx context.Context, cfg *config.Config, opts ...appOption) (*app, error) {
	var deps appDeps
	for _, opt := range opts {
		opt(&deps)
	}

	key, err := cfg.Crypto.Key()
	if err != nil {
		return nil, err
	}
	c, err := codec.New(key)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, codec: c}

	a.store = deps.store
	if a.store == nil {
		if a.store, err = newStore(cfg.Storage); err != nil {
			return nil, err
		}
	}
	a.closers = append(a.closers, a.store.Close)

	tlOpts := []timeline.Option{timeline.WithDetector(sensitive.New())}
	if cfg.Blobs.Endpoint != "" {
		a.blobs, err = storage.New(cfg.Blobs.Endpoint, cfg.Blobs.AccessKey, cfg.Blobs.SecretKey, cfg.Blobs.UseSSL, cfg.Blobs.ScreenshotsBucket)
		if err != nil {
			return nil, fmt.Errorf("failed to create blob storage: %w", err)
		}
		tlOpts = append(tlOpts, timeline.WithBlobs(a.blobs))
	}
	sessionCache, err := a.newCache(ctx)
	if err != nil {
		return nil, err
	}
	if sessionCache != nil {
		tlOpts = append(tlOpts, timeline.WithCache(sessionCache))
	}

	a.timeline = timeline.New(a.store, c, sessions.New(cfg.Sessions.GapThreshold()), tlOpts...)
	a.analytics = analytics.New(a.store, analytics.Config{
		DistributionWindow: time.Duration(cfg.Analytics.DistributionWindowDays) * 24 * time.Hour,
		DefaultChartDays:   cfg.Analytics.DefaultChartDays,
		MaxChartDays:       cfg.Analytics.MaxChartDays,
	})
	a.alerts = alerts.New(a.timeline, sensitive.New())

	completer := deps.oracle
	if completer == nil && cfg.Oracle.Enabled {
		client, err := oracle.New(oracle.Options{
			BaseURL: cfg.Oracle.BaseURL,
			APIKey:  cfg.Oracle.APIKey,
			Model:   cfg.Oracle.Model,
			Timeout: cfg.Oracle.Timeout,
		})
		if err != nil {
			return nil, err
		}
		completer = client
	}

	var analysisOpts []analysis.Option
	if a.history, err = history.Open(ctx, cfg.History.Driver, cfg.History.DSN); err != nil {
		return nil, fmt.Errorf("failed to open analysis history: %w", err)
	}
	if a.history != nil {
		analysisOpts = append(analysisOpts, analysis.WithHistory(a.history))
		a.closers = append(a.closers, a.history.Close)
	}
	a.analysis = analysis.New(a.timeline, completer, analysis.Config{
		MaxRecords:          cfg.Oracle.MaxRecords,
		AnalysisTemperature: cfg.Oracle.AnalysisTemperature,
		AnalysisMaxTokens:   cfg.Oracle.AnalysisMaxTokens,
		ChatTemperature:     cfg.Oracle.ChatTemperature,
		ChatMaxTokens:       cfg.Oracle.ChatMaxTokens,
	}, analysisOpts...)

	return a, nil
}

func newStore(cfg config.StorageConfig) (database.Store, error) {
	opts := database.Options{PageSize: cfg.PageSize, ReadyTimeout: cfg.ReadyTimeout}
	switch cfg.Driver {
	case "clickhouse":
		return database.NewClickHouse(database.ClickHouseOptions{
			Host:     cfg.ClickHouse.Host,
			Port:     cfg.ClickHouse.Port,
			Database: cfg.ClickHouse.Database,
			Username: cfg.ClickHouse.Username,
			Password: cfg.ClickHouse.Password,
		}, opts), nil
	case "sqlite":
		return database.NewSQLite(cfg.SQLite.Path, opts), nil
	}
	return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
}

func (a *app) newCache(ctx context.Context) (cache.Cache, error) {
	switch a.cfg.Cache.Driver {
	case "", "none":
		return nil, nil
	case "memory":
		return cache.NewMemory(a.cfg.Cache.TTL), nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     a.cfg.Cache.Redis.Addr,
			Password: a.cfg.Cache.Redis.Password,
			DB:       a.cfg.Cache.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			zapctx.Warn(ctx, "Redis unreachable at startup, session cache will retry per request", zap.Error(err))
		}
		a.closers = append(a.closers, client.Close)
		return cache.NewRedis(client, a.codec, a.cfg.Cache.TTL), nil
	}
	return nil, fmt.Errorf("unknown cache driver %q", a.cfg.Cache.Driver)
}

// connectStore connects the record store, retrying until ctx is done.
// Queries issued meanwhile wait on the store's readiness gate.
func (a *app) connectStore(ctx context.Context) error {
	backoff := time.Second
	for {
		err := a.store.Connect(ctx)
		if err == nil {
			break
		}
		zapctx.Error(ctx, "Failed to connect to record store, retrying",
			zap.String("driver", a.cfg.Storage.Driver),
			zap.Duration("backoff", backoff),
			zap.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, 30*time.Second)
	}

	if a.blobs != nil {
		if err := a.blobs.EnsureBucket(ctx); err != nil {
			zapctx.Warn(ctx, "Failed to ensure screenshot bucket", zap.Error(err))
		}
	}
	return nil
}

// connectStoreOnce connects without the serve loop's retries.
func (a *app) connectStoreOnce(ctx context.Context) error {
	if err := a.store.Connect(ctx); err != nil {
		return fmt.Errorf("connecting to record store: %w", err)
	}
	if a.blobs != nil {
		if err := a.blobs.EnsureBucket(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (a *app) close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
