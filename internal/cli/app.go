package cli

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/roach88/tonegen/internal/cachemgr"
	"github.com/roach88/tonegen/internal/catalog"
	"github.com/roach88/tonegen/internal/config"
	"github.com/roach88/tonegen/internal/pipeline"
	"github.com/roach88/tonegen/internal/store"
)

// app wires the long-lived components for one command invocation.
type app struct {
	cfg      config.Config
	logger   *zap.Logger
	store    *store.Store
	manager  *cachemgr.Manager
	catalog  *catalog.Catalog
	pipeline *pipeline.Pipeline
	handles  []*cachemgr.Handle
}

func openApp(opts *RootOptions) (*app, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if opts.Database != "" {
		cfg.Database.Path = opts.Database
	}

	logger := opts.Logger
	if logger == nil {
		if opts.Verbose {
			cfg.Log.Level = zapcore.DebugLevel.String()
		}
		if logger, err = cfg.Log.Logger(); err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to build logger", err)
		}
	}

	a := &app{cfg: cfg, logger: logger}
	a.store, err = store.Open(cfg.Database.Path,
		store.WithLogger(logger),
		store.WithCacheSize(cfg.Cache.PatternCapacity))
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	a.manager, err = cachemgr.New(cfg.Memory.CacheManager(), cachemgr.WithLogger(logger))
	if err != nil {
		a.close()
		return nil, WrapExitError(ExitCommandError, "invalid memory config", err)
	}
	a.handles = append(a.handles, cachemgr.RegisterOwner(a.manager, a.store, (*store.Store).EvictCache))

	a.catalog, err = catalog.New(a.store, catalog.WithLogger(logger))
	if err != nil {
		a.close()
		return nil, WrapExitError(ExitCommandError, "failed to load catalog", err)
	}

	pipeOpts := []pipeline.Option{
		pipeline.WithLogger(logger),
		pipeline.WithCacheManager(a.manager),
		pipeline.WithCapacities(cfg.Cache.Capacities()),
	}
	if cfg.Catalog.PreferPatterns {
		pipeOpts = append(pipeOpts, pipeline.WithPatterns(a.catalog))
	}
	if a.pipeline, err = pipeline.New(pipeOpts...); err != nil {
		a.close()
		return nil, WrapExitError(ExitCommandError, "failed to build pipeline", err)
	}

	if cfg.Memory.Monitor {
		a.manager.Start()
	}
	return a, nil
}

func (a *app) close() error {
	if a.manager != nil {
		a.manager.Stop()
	}
	if a.pipeline != nil {
		a.pipeline.Close()
	}
	for _, h := range a.handles {
		h.Unregister()
	}
	// Sync fails on terminals; there is nothing useful to do about it.
	_ = a.logger.Sync()
	if a.store != nil {
		return a.store.Close()
	}
	return nil
}

// withApp opens the app, runs fn and closes the app.
func withApp(opts *RootOptions, fn func(*app) error) error {
	a, err := openApp(opts)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := a.close(); closeErr != nil {
			a.logger.Error("error closing database", zap.Error(closeErr))
		}
	}()
	return fn(a)
}
