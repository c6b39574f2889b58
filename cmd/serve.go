package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MimeLyc/menulens/internal/config"
	"github.com/MimeLyc/menulens/internal/httpapi"
	"github.com/MimeLyc/menulens/internal/lifecycle"
	"github.com/MimeLyc/menulens/internal/llm"
	"github.com/MimeLyc/menulens/internal/persistence"
	"github.com/MimeLyc/menulens/pkg/log"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the expiry reaper",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load configuration: %w", err)
		}

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()
		initSignalHandler(cancel)

		app, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer app.Close()

		c := cron.New()
		scheduler := &sweepScheduler{manager: app.manager, cron: c, expr: cfg.Lifecycle.ReaperSchedule}
		server := httpapi.NewServer(app.manager, httpapi.WithUploader(app.translator))
		return runWithComponents(ctx, cfg, scheduler, c, server)
	},
}

func initSignalHandler(cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		sig := <-sigs
		log.Info("Received %s, shutting down", sig)
		cancel()
	}()
}

type scheduler interface {
	Schedule(ctx context.Context) error
}

type cronEngine interface {
	Start()
	Stop() context.Context
}

type httpServer interface {
	ListenAndServe(addr string) error
	Shutdown(ctx context.Context) error
}

type sweepScheduler struct {
	manager *lifecycle.Manager
	cron    *cron.Cron
	expr    string
}

func (s *sweepScheduler) Schedule(ctx context.Context) error {
	return s.manager.ScheduleSweeps(ctx, s.cron, s.expr)
}

// runWithComponents blocks until ctx is cancelled or the HTTP server fails,
// then stops the cron engine and drains the server.
func runWithComponents(ctx context.Context, cfg *config.Config, sched scheduler, engine cronEngine, srv httpServer) error {
	if err := sched.Schedule(ctx); err != nil {
		return fmt.Errorf("schedule reaper: %w", err)
	}
	engine.Start()

	errCh := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening on %s", cfg.HTTP.Addr)
		errCh <- srv.ListenAndServe(cfg.HTTP.Addr)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("HTTP shutdown: %v", err)
	}
	select {
	case <-engine.Stop().Done():
	case <-shutdownCtx.Done():
		log.Warn("Timed out waiting for a running sweep to finish")
	}

	if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
		return serveErr
	}
	log.Info("Shutdown complete")
	return nil
}

// app bundles the long-lived components shared by serve and sweep.
type app struct {
	store      storeCloser
	translator *llm.MenuTranslator
	manager    *lifecycle.Manager
}

type storeCloser interface {
	lifecycle.Store
	Close() error
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	client, err := llm.NewClient(&llm.Config{
		APIKey:          cfg.LLM.APIKey,
		APIURL:          cfg.LLM.APIURL,
		Model:           cfg.LLM.Model,
		Timeout:         cfg.LLM.Timeout,
		ReasoningEffort: cfg.LLM.ReasoningEffort,
		QuickModel:      cfg.LLM.QuickModel,
		QuickTimeout:    cfg.LLM.QuickTimeout,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	translator := llm.NewMenuTranslator(client)

	return &app{
		store:      store,
		translator: translator,
		manager:    lifecycle.NewManager(store, translator, managerOptions(cfg)...),
	}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		log.Warn("Close store: %v", err)
	}
}

func managerOptions(cfg *config.Config) []lifecycle.Option {
	return []lifecycle.Option{
		lifecycle.WithSessionTTL(cfg.Lifecycle.SessionTTL),
		lifecycle.WithShareTTL(cfg.Lifecycle.ShareTTL),
		lifecycle.WithMaxRetries(cfg.Lifecycle.MaxRetries),
		lifecycle.WithWatchdogTimeout(cfg.Lifecycle.WatchdogTimeout),
		lifecycle.WithDefaultLanguage(cfg.LLM.DefaultLanguage.String()),
	}
}

// openStore opens the configured backend and applies its migrations.
func openStore(ctx context.Context, cfg *config.Config) (storeCloser, error) {
	switch cfg.Store.Driver {
	case config.DriverMemory:
		log.Warn("Using the in-memory store; sessions and shares are lost on restart")
		return persistence.NewMemoryStore(), nil
	case config.DriverPostgres:
		store, err := persistence.NewPostgresStore(ctx, cfg.Store.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		return store, nil
	default:
		path := cfg.Store.SQLitePath()
		store, err := persistence.NewSQLiteStore(path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		log.Info("Using SQLite store at %s", path)
		return store, nil
	}
}
