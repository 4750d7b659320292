// Package application wires configuration, the database pool and the import
// service for the server and CLI binaries.
package application

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/JonMunkholm/geoimport/internal/authz"
	"github.com/JonMunkholm/geoimport/internal/config"
	"github.com/JonMunkholm/geoimport/internal/core"
	"github.com/JonMunkholm/geoimport/internal/storage"
)

// App holds the long-lived components of a running process.
type App struct {
	Config   *config.Config
	Pool     *pgxpool.Pool
	Service  *core.Service
	Uploads  *storage.Uploads
	Registry *prometheus.Registry
	Authz    core.Authorizer
}

// New connects to the database and builds the import service.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	pool, err := openPool(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}

	app, err := build(cfg, pool)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return app, nil
}

func build(cfg *config.Config, pool *pgxpool.Pool) (*App, error) {
	uploads, err := storage.New(cfg.Import.UploadDir, cfg.Import.MaxFileSize)
	if err != nil {
		return nil, err
	}

	authorizer, err := newAuthorizer(cfg.Security.PolicyPath)
	if err != nil {
		return nil, err
	}

	store, err := newConfigStore(cfg.Import, pool)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	svc := core.NewService(pool, store, authorizer, core.Options{
		EngineSchema:  cfg.Import.EngineSchema,
		Encoding:      cfg.Import.Encoding,
		LoadBatchSize: cfg.Import.LoadBatchSize,
		MaxConcurrent: cfg.Import.MaxConcurrent,
		MaxWait:       cfg.Import.MaxWaitTime,
		Timeout:       cfg.Import.Timeout,
		Metrics:       core.NewMetrics(reg),
		Files:         uploads,
		Uploads:       uploads,
	})

	return &App{
		Config:   cfg,
		Pool:     pool,
		Service:  svc,
		Uploads:  uploads,
		Registry: reg,
		Authz:    authorizer,
	}, nil
}

// Close releases the database pool.
func (a *App) Close() {
	if a.Pool != nil {
		a.Pool.Close()
	}
}

func openPool(ctx context.Context, dc config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(dc.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	poolConfig.MaxConns = int32(dc.MaxConns)
	poolConfig.MinConns = int32(dc.MinConns)
	poolConfig.MaxConnLifetime = dc.MaxConnLifetime
	poolConfig.MaxConnIdleTime = dc.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	slog.Info("connected to database",
		"database", poolConfig.ConnConfig.Database,
		"max_conns", poolConfig.MaxConns,
	)
	return pool, nil
}

// newAuthorizer loads the casbin policy, or allows everything when no
// policy is configured.
func newAuthorizer(policyPath string) (core.Authorizer, error) {
	if policyPath == "" {
		slog.Warn("no authorization policy configured, every principal may import")
		return authz.AllowAll{}, nil
	}
	e, err := authz.NewEnforcer(policyPath)
	if err != nil {
		return nil, err
	}
	slog.Info("authorization policy loaded", "path", policyPath)
	return e, nil
}

// newConfigStore reads destinations from the engine schema, or from a YAML
// file when the source is "file".
func newConfigStore(ic config.ImportConfig, db core.DBTX) (core.ConfigStore, error) {
	switch ic.ConfigSource {
	case config.SourceFile:
		reg, err := core.LoadRegistryFile(ic.DestinationsFile)
		if err != nil {
			return nil, err
		}
		slog.Info("destinations loaded", "path", ic.DestinationsFile, "count", reg.Len())
		return reg, nil
	case config.SourceDatabase, "":
		return core.NewPostgresConfigStore(db, ic.EngineSchema), nil
	}
	return nil, fmt.Errorf("unknown destination source %q", ic.ConfigSource)
}
