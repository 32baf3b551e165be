package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"carrera-bot/internal/config"
	"carrera-bot/internal/ledger"
	"carrera-bot/internal/logger"
	"carrera-bot/internal/metrics"
	"carrera-bot/internal/payments"
	"carrera-bot/internal/server"
	"carrera-bot/internal/session"
	"carrera-bot/internal/sheets"
	"carrera-bot/internal/tgbot"
)

const shutdownTimeout = 10 * time.Second

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the Telegram bot and the HTTP server",
		Long: `Run the Telegram bot and the HTTP server until SIGINT/SIGTERM.

Configuration comes from the environment (a .env file is loaded when present).`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.FromEnv()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := cfg.RequireTelegram(); err != nil {
		return err
	}
	log := logger.New(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("session store: %w", err)
	}
	defer closeStore()

	ldg, closeLedger, err := openLedger(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("ledger: %w", err)
	}
	defer closeLedger()

	m := metrics.New(prometheus.DefaultRegisterer)

	provider, err := payments.NewProvider(cfg, log)
	if err != nil {
		return fmt.Errorf("payments: %w", err)
	}
	provider = payments.Instrument(payments.WithLedger(provider, ldg, log), m)

	botApp, err := tgbot.New(tgbot.Deps{
		Config:   cfg,
		Provider: provider,
		Store:    store,
		Metrics:  m,
		Log:      log.With("component", "tgbot"),
	})
	if err != nil {
		return err
	}

	httpSrv := server.New(server.Deps{
		Config:   cfg,
		Provider: provider,
		Store:    store,
		Ledger:   ldg,
		Metrics:  m,
		Gatherer: prometheus.DefaultGatherer,
		Log:      log.With("component", "http"),
		Notify:   botApp.NotifyPayment,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("http listening", "addr", cfg.HTTPAddr, "provider", provider.Name())
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		log.Info("telegram bot started")
		return botApp.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	log.Info("bye")
	return err
}

func openStore(ctx context.Context, cfg config.Config) (session.Store, func(), error) {
	switch cfg.SessionBackend {
	case "file":
		s, err := session.NewFileStore(cfg.SessionFile)
		return s, func() {}, err
	case "sqlite":
		s, err := session.OpenSQLite(cfg.SessionSQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	case "redis":
		s, err := session.DialRedis(ctx, cfg.RedisURL, cfg.SessionTTL)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	default:
		return session.NewMemoryStore(), func() {}, nil
	}
}

func openLedger(ctx context.Context, cfg config.Config, log *slog.Logger) (ledger.Ledger, func(), error) {
	switch cfg.Ledger {
	case "sheets":
		c, err := sheets.New(ctx, cfg.GoogleServiceAccountJSON, cfg.SpreadsheetID)
		if err != nil {
			return nil, nil, err
		}
		if err := c.EnsureHeaders(ctx); err != nil {
			log.Warn("sheets headers", "error", err)
		}
		return c, func() {}, nil
	case "mysql":
		l, err := ledger.OpenMySQL(ctx, cfg.MySQLDSN)
		if err != nil {
			return nil, nil, err
		}
		return l, func() { _ = l.Close() }, nil
	default:
		return ledger.Nop{}, func() {}, nil
	}
}
