package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/mattjoyce/telbridge/internal/audit"
	"github.com/mattjoyce/telbridge/internal/config"
	"github.com/mattjoyce/telbridge/internal/dispatch"
	"github.com/mattjoyce/telbridge/internal/events"
	"github.com/mattjoyce/telbridge/internal/helper"
	"github.com/mattjoyce/telbridge/internal/log"
	"github.com/mattjoyce/telbridge/internal/metrics"
	"github.com/mattjoyce/telbridge/internal/outbox"
	"github.com/mattjoyce/telbridge/internal/permission"
	"github.com/mattjoyce/telbridge/internal/platform"
	"github.com/mattjoyce/telbridge/internal/storage"
)

// app is the set of components one configuration produces. serve runs all of it;
// invoke only uses the dispatcher.
type app struct {
	cfg        *config.Config
	db         *sql.DB
	perms      dispatch.PermissionChecker
	runner     *helper.Runner
	outbox     *outbox.Outbox
	drainer    *outbox.Drainer
	hub        *events.Hub
	metrics    *metrics.Collector
	audit      *audit.Log
	dispatcher *dispatch.Dispatcher
	closers    []io.Closer
}

func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	logger := log.WithComponent("main")
	a := &app{
		cfg:     cfg,
		hub:     events.NewHub(cfg.Events.Buffer),
		metrics: metrics.New(),
	}

	if cfg.UsesSQLite() {
		db, err := storage.OpenSQLite(ctx, cfg.State.Path)
		if err != nil {
			return nil, fmt.Errorf("open database %s: %w", cfg.State.Path, err)
		}
		a.db = db
		a.closers = append(a.closers, db)
		logger.Info("database opened", "path", cfg.State.Path)
	}

	perms, closer, err := openPermissions(cfg, a.db)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.perms = perms
	if closer != nil {
		a.closers = append(a.closers, closer)
	}

	if cfg.UsesHelper() {
		a.runner = helper.New(helper.Config{
			Command: cfg.Helper.Command,
			Args:    cfg.Helper.Args,
			Env:     cfg.HelperEnv(),
			Timeout: cfg.Helper.Timeout,
		}, log.WithComponent("helper"))
	}

	sender, err := a.messageSender()
	if err != nil {
		a.Close()
		return nil, err
	}
	launcher, err := a.actionLauncher()
	if err != nil {
		a.Close()
		return nil, err
	}

	observers := []dispatch.Observer{a.hub, a.metrics}
	if cfg.Audit.Enabled {
		a.audit = audit.New(a.db, log.WithComponent("audit"))
		observers = append(observers, a.audit)
	}

	opts := []dispatch.Option{
		dispatch.WithObservers(observers...),
		dispatch.WithLogger(log.WithComponent("dispatch")),
	}
	if cfg.Permissions.AssumeSMSGranted {
		opts = append(opts, dispatch.WithSMSPermissionAssumed())
	}
	a.dispatcher = dispatch.New(a.perms, sender, launcher, opts...)

	logger.Debug("components built",
		"permissions", cfg.Permissions.Backend,
		"sms_backend", cfg.SMS.Backend,
		"calls_backend", cfg.Calls.Backend,
		"audit", cfg.Audit.Enabled,
	)
	return a, nil
}

func (a *app) messageSender() (dispatch.MessageSender, error) {
	switch a.cfg.SMS.Backend {
	case platform.BackendHelper:
		return platform.NewHelperSender(a.runner), nil
	case platform.BackendOutbox:
		a.outbox = outbox.New(a.db,
			outbox.WithMaxAttempts(a.cfg.SMS.Outbox.MaxAttempts),
			outbox.WithBackoffBase(a.cfg.SMS.Outbox.BackoffBase),
			outbox.WithLogger(log.WithComponent("outbox")),
		)
		a.drainer = outbox.NewDrainer(a.outbox, platform.NewHelperTransmitter(a.runner),
			outbox.WithInterval(a.cfg.SMS.Outbox.DrainInterval),
			outbox.WithPublisher(a.hub),
			outbox.WithTransitionHook(a.metrics.OutboxTransition),
			outbox.WithDrainLogger(log.WithComponent("outbox")),
		)
		return platform.NewOutboxSender(a.outbox), nil
	case platform.BackendLog:
		return platform.NewLogSender(log.WithComponent("sms")), nil
	default:
		return nil, fmt.Errorf("unknown sms backend %q", a.cfg.SMS.Backend)
	}
}

func (a *app) actionLauncher() (dispatch.ActionLauncher, error) {
	switch a.cfg.Calls.Backend {
	case platform.BackendHelper:
		return platform.NewHelperLauncher(a.runner), nil
	case platform.BackendLog:
		return platform.NewLogLauncher(log.WithComponent("calls")), nil
	default:
		return nil, fmt.Errorf("unknown calls backend %q", a.cfg.Calls.Backend)
	}
}

// Close releases the database and any backend clients, in reverse order of opening.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			slog.Default().Warn("close failed", "error", err)
		}
	}
	a.closers = nil
}

// openPermissions returns the configured permission backend. The closer is nil
// when the backend holds no resources of its own.
func openPermissions(cfg *config.Config, db *sql.DB) (dispatch.PermissionChecker, io.Closer, error) {
	switch cfg.Permissions.Backend {
	case config.PermissionBackendStatic:
		return permission.NewStatic(cfg.Permissions.Static), nil, nil
	case config.PermissionBackendSQLite:
		if db == nil {
			return nil, nil, errors.New("sqlite permission backend needs state.path")
		}
		return permission.NewSQLiteStore(db), nil, nil
	case config.PermissionBackendRedis:
		r := cfg.Permissions.Redis
		store := permission.NewRedisStore(r.Addr, r.Password, r.DB, permission.WithPrefix(r.Prefix))
		return store, store, nil
	default:
		return nil, nil, fmt.Errorf("unknown permissions backend %q", cfg.Permissions.Backend)
	}
}

// openPermissionStore is openPermissions for callers that mutate grants.
func openPermissionStore(ctx context.Context, cfg *config.Config) (permission.Store, func(), error) {
	if cfg.Permissions.Backend == config.PermissionBackendStatic {
		return nil, nil, errors.New("permissions backend is static; edit permissions.static in the config file instead")
	}

	var db *sql.DB
	if cfg.Permissions.Backend == config.PermissionBackendSQLite {
		var err error
		if db, err = openState(ctx, cfg); err != nil {
			return nil, nil, err
		}
	}

	checker, closer, err := openPermissions(cfg, db)
	if err != nil {
		if db != nil {
			_ = db.Close()
		}
		return nil, nil, err
	}
	cleanup := func() {
		if closer != nil {
			_ = closer.Close()
		}
		if db != nil {
			_ = db.Close()
		}
	}
	return checker.(permission.Store), cleanup, nil
}

// openState opens the state database for read-only CLI views.
func openState(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", cfg.State.Path, err)
	}
	return db, nil
}
