package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mattjoyce/telbridge/internal/api"
	"github.com/mattjoyce/telbridge/internal/channel"
	"github.com/mattjoyce/telbridge/internal/config"
	"github.com/mattjoyce/telbridge/internal/lock"
	"github.com/mattjoyce/telbridge/internal/log"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and/or stdio channel",
		Long:  `Starts the dispatcher with the configured channels and backends and runs until interrupted.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}

func setupLogging(cfg *config.Config) {
	log.SetupWithOptions(log.Options{
		Level:      cfg.Service.LogLevel,
		Format:     cfg.Service.LogFormat,
		File:       cfg.Service.LogFile,
		MaxSizeMB:  cfg.Service.LogMaxSizeMB,
		MaxBackups: cfg.Service.LogMaxBackups,
		MaxAgeDays: cfg.Service.LogMaxAgeDays,
		Stderr:     cfg.Stdio.Enabled,
	})
}

// serve runs until a signal, a component failure, or (with the API disabled) EOF
// on stdin. The stdio channel, when enabled, reads stdin and answers on stdout.
func serve(parent context.Context, cfg *config.Config, stdin io.Reader, stdout io.Writer) error {
	setupLogging(cfg)
	logger := log.WithComponent("main")
	logger.Info("telbridge starting", "version", version, "config", cfg.Path, "config_fingerprint", cfg.Fingerprint)

	if cfg.UsesSQLite() {
		lockPath := lock.PathFor(cfg.State.Path)
		pidLock, err := lock.Acquire(lockPath)
		if err != nil {
			if pid, ok := lock.Holder(lockPath); ok {
				return fmt.Errorf("%w (pid %d holds %s)", err, pid, lockPath)
			}
			return err
		}
		defer pidLock.Release()
		logger.Info("acquired PID lock", "path", lockPath)
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	// Background components stop before the database closes.
	var wg sync.WaitGroup
	defer func() {
		stop()
		wg.Wait()
	}()

	errCh := make(chan error, 3)
	// stdinDone is closed when the stdio channel reaches EOF.
	stdinDone := make(chan struct{})

	if a.drainer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := a.drainer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("outbox: %w", err)
			}
		}()
	}

	if cfg.API.Enabled {
		opts := []api.Option{
			api.WithEvents(a.hub),
			api.WithLogger(log.WithComponent("api")),
		}
		if a.outbox != nil {
			opts = append(opts, api.WithOutbox(a.outbox))
		}
		if cfg.API.Metrics {
			opts = append(opts, api.WithMetrics(a.metrics.Handler()))
		}
		server := api.New(api.Config{
			Listen: cfg.API.Listen,
			APIKey: cfg.API.Auth.APIKey,
			Tokens: cfg.AuthTokens(),
		}, a.dispatcher, opts...)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("api: %w", err)
			}
		}()
	}

	if cfg.Stdio.Enabled {
		stdio := channel.NewStdio(a.dispatcher, log.WithComponent("stdio"))
		go func() {
			defer close(stdinDone)
			if err := stdio.Serve(ctx, stdin, stdout); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("stdio: %w", err)
			}
		}()
	}

	logger.Info("telbridge running", "api", cfg.API.Enabled, "stdio", cfg.Stdio.Enabled)

	for {
		select {
		case <-ctx.Done():
			logger.Info("received shutdown signal")
			return nil
		case err := <-errCh:
			logger.Error("component failed", "error", err)
			return err
		case <-stdinDone:
			stdinDone = nil
			if !cfg.API.Enabled {
				logger.Info("stdin closed, stopping")
				return nil
			}
			logger.Info("stdin closed, API still serving")
		}
	}
}
