package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/Aman-CERP/indexify/internal/catalog"
	"github.com/Aman-CERP/indexify/internal/config"
	"github.com/Aman-CERP/indexify/internal/embed"
	"github.com/Aman-CERP/indexify/internal/index"
	"github.com/Aman-CERP/indexify/internal/lifecycle"
	"github.com/Aman-CERP/indexify/internal/logging"
	"github.com/Aman-CERP/indexify/internal/memory"
	"github.com/Aman-CERP/indexify/internal/store"
	"github.com/Aman-CERP/indexify/internal/telemetry"
)

// MemoryDirName is the session directory inside the data directory.
const MemoryDirName = "memory"

// logMode selects where a command logs.
type logMode int

const (
	// logCLI writes warnings to stderr, or everything with --debug.
	logCLI logMode = iota
	// logServer writes to the log file and stderr.
	logServer
	// logStdio writes to the log file only. Stdout and stderr belong to the
	// MCP transport.
	logStdio
)

// app holds everything a command opened. Close releases it in reverse order.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	router  *embed.Router
	catalog *catalog.Catalog
	stores  *store.Registry
	indexes *index.Manager
	memory  *memory.Manager
	metrics *telemetry.QueryMetrics
	lock    *lifecycle.DirLock

	closers []func() error
}

// loadConfig loads configuration relative to the working directory and
// applies --data-dir.
func loadConfig(flags *globalFlags) (*config.Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get current directory: %w", err)
	}
	cfg, err := config.Load(cwd, flags.configPath)
	if err != nil {
		return nil, err
	}
	if flags.dataDir != "" {
		abs, err := filepath.Abs(flags.dataDir)
		if err != nil {
			return nil, fmt.Errorf("invalid data directory: %w", err)
		}
		cfg.DataDir = abs
	}
	return cfg, nil
}

func newLogger(cfg *config.Config, flags *globalFlags, mode logMode) (*slog.Logger, func(), error) {
	lc := logging.Config{Level: "warn", WriteToStderr: true}
	if mode != logCLI {
		lc = logging.DefaultConfig()
		lc.Level = cfg.Server.LogLevel
		if cfg.LogFile() != "" {
			lc.FilePath = cfg.LogFile()
		}
		lc.MaxSizeMB = cfg.Logging.MaxSizeMB
		lc.MaxFiles = cfg.Logging.MaxFiles
		lc.WriteToStderr = mode == logServer
	}
	if flags.debug {
		lc.Level = "debug"
	}
	return logging.Setup(lc)
}

// openEmbedder opens only the configuration and the embedding router.
func openEmbedder(flags *globalFlags, mode logMode) (*app, error) {
	cfg, err := loadConfig(flags)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg}

	logger, cleanup, err := newLogger(cfg, flags, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to set up logging: %w", err)
	}
	a.logger = logger
	a.onClose(func() error { cleanup(); return nil })

	a.router, err = embed.NewRouterFromConfig(cfg.Embeddings, logger)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.onClose(a.router.Close)
	return a, nil
}

// openApp opens the whole stack on the configured data directory. The data
// directory lock is taken first so two processes never share vector files.
func openApp(ctx context.Context, flags *globalFlags, mode logMode) (*app, error) {
	a, err := openEmbedder(flags, mode)
	if err != nil {
		return nil, err
	}
	if err := a.openData(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) openData(ctx context.Context) error {
	dataDir := a.cfg.DataDir

	a.lock = lifecycle.NewDirLock(dataDir)
	if err := a.lock.Acquire(); err != nil {
		return err
	}
	a.onClose(a.lock.Release)

	var err error
	a.catalog, err = catalog.Open(ctx, dataDir)
	if err != nil {
		return err
	}
	a.onClose(a.catalog.Close)

	if !a.cfg.Telemetry.Disabled {
		statsStore, err := telemetry.NewSQLiteStore(a.catalog.DB())
		if err != nil {
			return err
		}
		tc := telemetry.DefaultConfig()
		tc.FlushInterval = a.cfg.Telemetry.FlushInterval
		a.metrics = telemetry.New(statsStore, tc, a.logger)
		a.onClose(a.metrics.Close)
	}

	a.stores, err = store.NewRegistryFromConfig(a.cfg.VectorStore, dataDir)
	if err != nil {
		return err
	}
	a.onClose(a.stores.Close)

	a.indexes, err = index.NewManager(index.ManagerConfig{
		Catalog:  a.catalog,
		Embedder: a.router,
		Stores:   a.stores,
		Metrics:  a.metrics,
		Logger:   a.logger,
	})
	if err != nil {
		return err
	}
	a.onClose(a.indexes.Close)

	policy, err := memory.ParsePolicy(a.cfg.Memory.Policy)
	if err != nil {
		return err
	}
	a.memory, err = memory.NewManager(memory.ManagerConfig{
		StoragePath:   filepath.Join(dataDir, MemoryDirName),
		DefaultPolicy: policy,
		DefaultWindow: a.cfg.Memory.Window,
		Logger:        a.logger,
	})
	if err != nil {
		return err
	}

	a.logger.Debug("data_dir_opened",
		slog.String("data_dir", dataDir),
		slog.String("backend", a.cfg.VectorStore.Backend))
	return nil
}

func (a *app) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}
