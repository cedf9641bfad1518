package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/Tetsuuya/tasty-kitchen-3/internal/adapter/outbound/cel"
	"github.com/Tetsuuya/tasty-kitchen-3/internal/adapter/outbound/memory"
	"github.com/Tetsuuya/tasty-kitchen-3/internal/adapter/outbound/remote"
	"github.com/Tetsuuya/tasty-kitchen-3/internal/adapter/outbound/sqlite"
	"github.com/Tetsuuya/tasty-kitchen-3/internal/adapter/outbound/state"
	"github.com/Tetsuuya/tasty-kitchen-3/internal/config"
	"github.com/Tetsuuya/tasty-kitchen-3/internal/domain/session"
	"github.com/Tetsuuya/tasty-kitchen-3/internal/port/outbound"
	"github.com/Tetsuuya/tasty-kitchen-3/internal/service"
	"github.com/Tetsuuya/tasty-kitchen-3/internal/telemetry"
)

// app holds the wired components shared by every command.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	registry  *prometheus.Registry
	metrics   *telemetry.Metrics
	client    *remote.Client
	sessions  *session.Context
	journal   outbound.Journal
	store     *service.CartStore
	selection *service.SelectionController

	closers []func(context.Context) error
}

// newApp wires the cart store and its collaborators from cfg. Logs and
// telemetry exports go to stderr so command output on stdout stays clean.
// The caller must call close.
func newApp(ctx context.Context, cfg *config.Config, stderr io.Writer) (*app, error) {
	a := &app{cfg: cfg}
	if err := a.wire(ctx, stderr); err != nil {
		_ = a.close(context.Background())
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context, stderr io.Writer) error {
	cfg := a.cfg

	a.logger = telemetry.NewLogger(stderr, cfg.LogFormat, telemetry.ParseLevel(cfg.LogLevel))
	a.logger.Debug("log level configured", "level", cfg.LogLevel, "dev_mode", cfg.DevMode)
	if configFile := config.ConfigFileUsed(); configFile != "" {
		a.logger.Debug("loaded config", "file", configFile)
	}

	shutdown, err := telemetry.Setup(ctx, telemetry.Options{
		ServiceName: "cartsync",
		Version:     Version,
		Exporter:    cfg.Telemetry.Exporter,
		Writer:      stderr,
	})
	if err != nil {
		return err
	}
	a.closers = append(a.closers, shutdown)

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(collectors.NewGoCollector())
	a.metrics = telemetry.NewMetrics(a.registry)

	paths := remote.Paths{
		Cart:   cfg.Remote.Paths.Cart,
		Add:    cfg.Remote.Paths.Add,
		Remove: cfg.Remote.Paths.Remove,
		Orders: cfg.Remote.Paths.Orders,
	}
	a.client = remote.NewClient(cfg.Remote.BaseURL,
		remote.WithTimeout(cfg.RemoteTimeout()),
		remote.WithPaths(paths),
		remote.WithLogger(a.logger),
		remote.WithMetrics(a.metrics),
	)

	files := state.NewFileStateStore(cfg.Session.StatePath, a.logger)
	a.sessions = session.NewContext(state.NewSessionStore(files), a.logger)

	if cfg.Journal.Enabled {
		if err := os.MkdirAll(filepath.Dir(cfg.Journal.Path), 0o700); err != nil {
			return fmt.Errorf("failed to create journal directory: %w", err)
		}
		j, err := sqlite.Open(cfg.Journal.Path)
		if err != nil {
			return fmt.Errorf("failed to open journal: %w", err)
		}
		a.journal = j
		a.closers = append(a.closers, func(context.Context) error { return j.Close() })
	} else if cfg.DevMode {
		// Entries are echoed to stderr as JSON lines.
		a.journal = memory.NewJournalWithWriter(stderr)
	} else {
		a.journal = memory.NewJournal()
	}

	a.store = service.NewCartStore(a.client, a.sessions,
		service.WithConcurrencyMode(service.ConcurrencyMode(cfg.Store.Concurrency)),
		service.WithClearParallelism(cfg.Store.ClearParallelism),
		service.WithJournal(a.journal),
		service.WithStoreMetrics(a.metrics),
		service.WithStoreLogger(a.logger),
		service.WithUnauthorizedHandler(func(ctx context.Context, sess session.Session, _ error) {
			a.logger.WarnContext(ctx, "credential rejected by the cart service; sign in again with: cartsync login",
				"identity", sess.Identity)
		}),
	)

	selOpts := []service.SelectionOption{
		service.WithSelectionMetrics(a.metrics),
		service.WithSelectionLogger(a.logger),
	}
	if cfg.Checkout.Rule != "" {
		rule, err := cel.NewRule(cfg.Checkout.Rule)
		if err != nil {
			return fmt.Errorf("invalid checkout rule: %w", err)
		}
		selOpts = append(selOpts, service.WithCheckoutRule(rule))
	}
	a.selection = service.NewSelectionController(a.store, a.client, selOpts...)
	a.closers = append(a.closers, func(context.Context) error {
		a.selection.Close()
		return nil
	})
	return nil
}

// resume restores the persisted session and loads its cart. It fails when
// nobody is signed in.
func (a *app) resume(ctx context.Context) error {
	res := a.store.Resume(ctx)
	if a.store.Session().Anonymous() {
		return errNotSignedIn
	}
	return resultError(res)
}

// close releases resources in reverse order of acquisition.
func (a *app) close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

var errNotSignedIn = errors.New("not signed in; run: cartsync login --identity <name> --token <token>")

// withApp loads the configuration, wires the app, runs fn and closes it.
func withApp(ctx context.Context, stderr io.Writer, fn func(context.Context, *app) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg, stderr)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.close(context.Background()); cerr != nil {
			a.logger.Warn("shutdown incomplete", "error", cerr)
		}
	}()
	return fn(ctx, a)
}
