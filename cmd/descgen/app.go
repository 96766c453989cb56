package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/seanap/DescGen-sub000/internal/config"
	"github.com/seanap/DescGen-sub000/internal/jobstore"
	"github.com/seanap/DescGen-sub000/internal/locks"
	"github.com/seanap/DescGen-sub000/internal/logger"
	"github.com/seanap/DescGen-sub000/internal/metrics"
	"github.com/seanap/DescGen-sub000/internal/runtimekv"
	"github.com/seanap/DescGen-sub000/internal/storage"
	"github.com/seanap/DescGen-sub000/internal/upstream"
)

const defaultConfigPath = "config.yaml"

// app bundles the shared dependencies built by every subcommand.
type app struct {
	cfg   *config.Config
	log   logger.Logger
	store *storage.Store
	jobs  *jobstore.Store
	locks *locks.Manager
	kv    *runtimekv.KV
	met   *metrics.Metrics
	orch  *upstream.Orchestrator
}

// newApp loads configuration, opens the database, and wires the core
// components. A snapshot of the effective configuration is recorded for
// post-incident inspection.
func newApp(ctx context.Context) (*app, error) {
	cfgPath := cfgFile
	if cfgPath == "" {
		cfgPath = config.GetConfigPath(defaultConfigPath)
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if debug {
		cfg.Service.Debug = true
		cfg.Logging.Level = "debug"
	}

	log, err := logger.New(cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}

	store, err := storage.Open(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if snapshot, marshalErr := json.Marshal(cfg); marshalErr == nil {
		if saveErr := store.SaveConfigSnapshot(ctx, cfgPath, string(snapshot)); saveErr != nil {
			log.Warn("Failed to save config snapshot", logger.Error(saveErr))
		}
	}

	kv := runtimekv.New(store)
	met := metrics.New(cfg.Service.Name)

	return &app{
		cfg:   cfg,
		log:   log,
		store: store,
		jobs:  jobstore.New(store, met, log),
		locks: locks.NewManager(store, log),
		kv:    kv,
		met:   met,
		orch:  upstream.New(kv, met, log, cfg.Upstream.RateRPS),
	}, nil
}

// Close releases the app's resources.
func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.log.Warn("Failed to close database", logger.Error(err))
	}
	_ = a.log.Sync()
}
