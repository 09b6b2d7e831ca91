// Package main wires together the orchestrator execution control plane:
// zap structured logging, signal.NotifyContext-driven shutdown, and a
// graceful net/http.Server drain.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	gcpubsub "cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/autoapply/orchestrator/internal/api"
	"github.com/autoapply/orchestrator/internal/archive/gcs"
	archivenoop "github.com/autoapply/orchestrator/internal/archive/noop"
	"github.com/autoapply/orchestrator/internal/clock"
	"github.com/autoapply/orchestrator/internal/config"
	"github.com/autoapply/orchestrator/internal/domain"
	"github.com/autoapply/orchestrator/internal/eventlog"
	"github.com/autoapply/orchestrator/internal/executor/browser"
	"github.com/autoapply/orchestrator/internal/executor/noop"
	"github.com/autoapply/orchestrator/internal/idgen"
	"github.com/autoapply/orchestrator/internal/intervention"
	"github.com/autoapply/orchestrator/internal/logging"
	notifymemory "github.com/autoapply/orchestrator/internal/notify/memory"
	notifypubsub "github.com/autoapply/orchestrator/internal/notify/pubsub"
	"github.com/autoapply/orchestrator/internal/policy/effort"
	"github.com/autoapply/orchestrator/internal/ratelimit"
	memoryrepo "github.com/autoapply/orchestrator/internal/repository/memory"
	postgresrepo "github.com/autoapply/orchestrator/internal/repository/postgres"
	"github.com/autoapply/orchestrator/internal/sessionctl"
	"github.com/autoapply/orchestrator/internal/worker"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clk := clock.New()
	ids := idgen.New()

	repo, closeRepo, err := buildRepository(ctx, cfg)
	if err != nil {
		logger.Error("repository init failed", zap.Error(err))
		os.Exit(1)
	}
	defer closeRepo()

	events := eventlog.New(repo, clk, logger)
	governor := ratelimit.New(clk, time.UTC, events.Callback(ctx, ""))
	notifier := buildNotifier(ctx, cfg, logger)
	bridge := intervention.New(cfg.InterventionTimeout(), clk, notifier, logger)
	archiver := buildArchiver(ctx, cfg, logger)
	exec := buildExecutor(cfg, logger)

	policy, err := effort.Load(cfg.Effort.SkipThreshold, nil, nil, nil, logger)
	if err != nil {
		logger.Error("policy evaluator load failed", zap.Error(err))
		os.Exit(1)
	}

	factory := func(domain.Session) []*worker.Worker {
		workers := make([]*worker.Worker, 0, cfg.Session.DefaultMaxConcurrency)
		for i := 0; i < cfg.Session.DefaultMaxConcurrency; i++ {
			workers = append(workers, worker.New(i, exec, repo, events, governor, bridge, clk, logger))
		}
		return workers
	}

	controller := sessionctl.New(repo, events, governor, factory, policy, clk, ids, notifier, archiver, logger)
	if err := controller.RecoverNonTerminalSessions(ctx); err != nil {
		logger.Error("recovery scan failed", zap.Error(err))
	}

	apiServer := api.NewServer(controller, repo, bridge, logger, cfg.Auth.Enabled, cfg.Auth.APIKey)
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownWindow())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
}

func buildRepository(ctx context.Context, cfg config.Config) (domain.Repository, func(), error) {
	if cfg.DB.DSN == "" {
		repo := memoryrepo.New()
		return repo, func() {}, nil
	}
	repo, err := postgresrepo.New(ctx, cfg.DB.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect postgres: %w", err)
	}
	return repo, repo.Close, nil
}

func buildNotifier(ctx context.Context, cfg config.Config, logger *zap.Logger) domain.Notifier {
	if cfg.PubSub.ProjectID == "" || cfg.PubSub.TopicName == "" {
		return notifymemory.New(logger)
	}
	client, err := gcpubsub.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		logger.Warn("pubsub client init failed, falling back to memory notifier", zap.Error(err))
		return notifymemory.New(logger)
	}
	return notifypubsub.New(client.Topic(cfg.PubSub.TopicName))
}

func buildArchiver(ctx context.Context, cfg config.Config, logger *zap.Logger) domain.Archiver {
	if cfg.Archive.Bucket == "" {
		return archivenoop.New()
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		logger.Warn("gcs client init failed, falling back to noop archiver", zap.Error(err))
		return archivenoop.New()
	}
	archiver, err := gcs.New(client, cfg.Archive.Bucket)
	if err != nil {
		logger.Warn("gcs archiver init failed, falling back to noop archiver", zap.Error(err))
		return archivenoop.New()
	}
	return archiver
}

func buildExecutor(cfg config.Config, logger *zap.Logger) domain.Executor {
	if !cfg.Headless.Enabled {
		return noop.New()
	}
	exec, err := browser.New(browser.Config{
		MaxParallel:       cfg.Headless.MaxParallel,
		NavigationTimeout: time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
	}, noopFiller{}, logger)
	if err != nil {
		logger.Warn("browser executor init failed, falling back to noop executor", zap.Error(err))
		return noop.New()
	}
	return exec
}

// noopFiller answers every discovered field with an empty value; a real
// deployment supplies a FieldFiller backed by resume/profile data and an
// answer-generation policy, which is outside this control plane's scope.
type noopFiller struct{}

func (noopFiller) Fill(_ context.Context, field domain.FieldDescriptor, _ domain.Effort) (string, domain.ValueSource, float64, error) {
	return "", domain.SourceDefault, 0, nil
}
