package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lysyi3m/astrobot/app/api"
	"github.com/lysyi3m/astrobot/app/cfg"
	"github.com/lysyi3m/astrobot/app/database"
	"github.com/lysyi3m/astrobot/app/feed"
	"github.com/lysyi3m/astrobot/app/lock"
	"github.com/lysyi3m/astrobot/app/metrics"
	"github.com/lysyi3m/astrobot/app/pipeline"
	"github.com/lysyi3m/astrobot/app/tasks"
	"github.com/lysyi3m/astrobot/app/translate"
)

func main() {
	appCfg, err := cfg.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	if appCfg == nil {
		// Help was shown
		return
	}

	setupLogging(appCfg.Debug)

	slog.Info("Starting AstroBot", "version", appCfg.Version)

	db, err := database.NewConnection(appCfg.DBPath)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	version, dirty, err := database.RunMigrations(db)
	if err != nil {
		slog.Error("Failed to run database migrations", "error", err)
		os.Exit(1)
	}
	slog.Info("Database ready", "path", appCfg.DBPath, "schema_version", version, "dirty", dirty)

	configCache := feed.NewConfigCache(appCfg.FeedsDir)
	if err := configCache.Run(); err != nil {
		slog.Error("Failed to load source configurations", "error", err)
		os.Exit(1)
	}
	slog.Info("Source configurations loaded", "count", configCache.GetConfigCount(), "dir", appCfg.FeedsDir)

	locker, closeLocker, err := newLocker(appCfg)
	if err != nil {
		slog.Error("Failed to initialize sync lock", "error", err)
		os.Exit(1)
	}
	defer closeLocker()

	translator := translate.NewClient(translate.Config{
		URL:            appCfg.TranslateURL,
		Token:          appCfg.TranslateToken,
		From:           appCfg.TranslateFrom,
		To:             appCfg.TranslateTo,
		Domain:         appCfg.TranslateDomain,
		Timeout:        appCfg.TranslateTimeout,
		ConnectTimeout: appCfg.TranslateConnectTimeout,
		Retries:        appCfg.TranslateRetries,
		Rate:           appCfg.TranslateRate,
	})
	if appCfg.TranslateURL == "" {
		slog.Warn("Translation service not configured, items will stay untranslated")
	}

	collector := metrics.NewCollector()
	itemRepo := database.NewItemRepository(db)
	postRepo := database.NewPostRepository(db)
	runRepo := database.NewRunRepository(db)

	// The scheduler needs the pipeline and the pipeline dispatches through the
	// scheduler, so dispatch goes through a closure bound after both exist.
	var dispatch func(itemID int64) error
	pipe := pipeline.New(pipeline.Options{
		Configs:    configCache,
		Fetcher:    feed.NewFetcher(&http.Client{}, feed.NewParser(), appCfg.UserAgent),
		Translator: translator,
		Dispatcher: pipeline.DispatcherFunc(func(itemID int64) error { return dispatch(itemID) }),
		Items:      itemRepo,
		Posts:      postRepo,
		Runs:       runRepo,
		Tx:         db,
		Locker:     locker,
		LockTTL:    appCfg.LockTTL,
		Metrics:    collector,
	})

	if appCfg.RunOnce {
		dispatch = func(itemID int64) error {
			return pipe.Translation.Translate(context.Background(), itemID)
		}
		if err := runOnce(context.Background(), configCache, pipe); err != nil {
			slog.Error("Run failed", "error", err)
			os.Exit(1)
		}
		return
	}

	scheduler := tasks.NewScheduler(tasks.Deps{
		Configs:     configCache,
		Runs:        runRepo,
		Runner:      pipe.Orchestrator,
		Translation: pipe.Translation,
		Publisher:   pipe.Publisher,
	}, appCfg.WorkerCount, time.Duration(appCfg.SchedulerInterval)*time.Second)
	dispatch = scheduler.DispatchTranslation

	slog.Info("Starting background scheduler", "workers", appCfg.WorkerCount, "interval", time.Duration(appCfg.SchedulerInterval)*time.Second)
	scheduler.Start()
	defer scheduler.Stop()

	apiHandler := api.NewHandler(configCache, itemRepo, postRepo, runRepo, pipe.Publisher, pipe.Orchestrator, collector.Handler())
	server := api.NewServer(apiHandler, appCfg.APIAccessKey)

	httpServer := &http.Server{
		Addr:         ":" + appCfg.Port,
		Handler:      server,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serverErrChan := make(chan error, 1)
	go func() {
		slog.Info("Starting HTTP server", "port", appCfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		slog.Info("Received signal", "signal", sig)
	case err := <-serverErrChan:
		slog.Error("Server error", "error", err)
	}

	slog.Info("Shutting down server gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	} else {
		slog.Info("HTTP server stopped")
	}

	slog.Info("AstroBot shutdown complete")
}

func setupLogging(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})))
}

// newLocker uses Redis when an address is configured, otherwise an in-process lock.
func newLocker(appCfg *cfg.Cfg) (lock.Locker, func(), error) {
	if appCfg.RedisAddr == "" {
		slog.Info("Using in-process sync lock")
		return lock.NewMemoryLocker(), func() {}, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := lock.NewRedisClient(ctx, appCfg.RedisAddr, appCfg.RedisPassword, appCfg.RedisDB)
	if err != nil {
		return nil, nil, err
	}

	slog.Info("Using Redis sync lock", "addr", appCfg.RedisAddr, "db", appCfg.RedisDB)
	return lock.NewRedisLocker(client), func() { client.Close() }, nil
}

// runOnce syncs every enabled source, then publishes due scheduled items.
func runOnce(ctx context.Context, configCache *feed.ConfigCache, pipe *pipeline.Pipeline) error {
	var failed []string
	for name := range configCache.GetEnabledConfigs() {
		if _, err := pipe.Orchestrator.Run(ctx, name, pipeline.TriggerOnce); err != nil {
			slog.Error("Source sync failed", "source", name, "error", err)
			failed = append(failed, name)
		}
	}

	result, err := pipe.Publisher.PublishDue(ctx)
	if err != nil {
		return fmt.Errorf("failed to publish scheduled items: %w", err)
	}
	slog.Info("Scheduled items processed", "published", result.Published, "failed", result.Failed, "skipped", result.Skipped)

	if len(failed) > 0 {
		return fmt.Errorf("%d source(s) failed: %v", len(failed), failed)
	}
	return nil
}
