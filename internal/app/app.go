// Package app initializes and holds long-lived application services, acting
// as the dependency injection container for the scan service.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/oversightlabs/parlscan/internal/api"
	"github.com/oversightlabs/parlscan/internal/classifier"
	"github.com/oversightlabs/parlscan/internal/config"
	"github.com/oversightlabs/parlscan/internal/logging"
	"github.com/oversightlabs/parlscan/internal/metrics"
	"github.com/oversightlabs/parlscan/internal/notify"
	pubsubnotify "github.com/oversightlabs/parlscan/internal/notify/pubsub"
	"github.com/oversightlabs/parlscan/internal/parliament"
	"github.com/oversightlabs/parlscan/internal/ratelimit"
	"github.com/oversightlabs/parlscan/internal/scan"
	memorystore "github.com/oversightlabs/parlscan/internal/storage/memory"
	pgstore "github.com/oversightlabs/parlscan/internal/storage/postgres"
)

// scanStore is the union of the write surface the runner needs and the read
// surface the API serves. Both store implementations satisfy it.
type scanStore interface {
	scan.Store
	api.RunStore
}

// App contains the application's long-lived dependencies.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	apiServer *api.Server
	runner    *scan.Runner

	store     scanStore
	pgStore   *pgstore.ScanStore
	publisher notify.Publisher
}

// Build creates the application's dependencies in dependency order and fails
// fast when any critical service cannot be initialized.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}

	metrics.Init()

	a := &App{cfg: cfg, logger: logger}
	logger.Info("building application dependencies")

	limiter := ratelimit.New(ratelimit.Config{
		MaxInflight: cfg.RateLimit.PerHostMax,
		RPS:         cfg.RateLimit.RPS,
		Burst:       cfg.RateLimit.Burst,
	})

	client := parliament.NewClient(parliament.Config{
		Endpoints: parliament.Endpoints{
			Hansard:   cfg.Parliament.HansardBase,
			WrittenQS: cfg.Parliament.WrittenQSBase,
			Motions:   cfg.Parliament.MotionsBase,
			Bills:     cfg.Parliament.BillsBase,
			Divisions: cfg.Parliament.DivisionsBase,
			Members:   cfg.Parliament.MembersBase,
		},
		Timeout:    cfg.ParliamentTimeout(),
		MaxRetries: cfg.Parliament.MaxRetries,
		MaxPages:   cfg.Parliament.MaxPages,
	}, limiter, logger)

	if err := a.setupStore(ctx); err != nil {
		return nil, err
	}

	notifier, err := a.setupNotifier(ctx)
	if err != nil {
		return nil, err
	}

	newLabeler := func(topics map[string][]string) scan.Labeler {
		return classifier.New(classifier.Config{
			APIKey:  cfg.Classifier.APIKey,
			Model:   cfg.Classifier.Model,
			BaseURL: cfg.Classifier.BaseURL,
			Timeout: cfg.ClassifierTimeout(),
		}, topics, logger)
	}

	admission := scan.NewAdmission(cfg.Scan.MaxConcurrentRuns, logger)
	a.runner = scan.NewRunner(scan.RunnerConfig{
		KeywordConcurrency:    cfg.Scan.KeywordConcurrency,
		ClassifierConcurrency: cfg.Scan.ClassifierConcurrency,
		QueueSize:             cfg.Scan.QueueSize,
	}, a.store, client, newLabeler, admission, notifier, logger)

	a.apiServer = api.NewServer(a.runner, a.store, client, logger)
	return a, nil
}

func (a *App) setupStore(ctx context.Context) error {
	if a.cfg.DB.DSN == "" {
		a.logger.Info("using in-memory store; runs will not survive restarts")
		a.store = memorystore.NewScanStore()
		return nil
	}
	a.logger.Info("connecting to PostgreSQL")
	store, err := pgstore.NewScanStore(ctx, pgstore.Config{
		DSN:             a.cfg.DB.DSN,
		MaxConns:        a.cfg.DB.MaxConns,
		MinConns:        a.cfg.DB.MinConns,
		MaxConnLifetime: a.cfg.DBConnLifetime(),
	})
	if err != nil {
		return fmt.Errorf("store init failed: %w", err)
	}
	a.pgStore = store
	a.store = store
	return nil
}

func (a *App) setupNotifier(ctx context.Context) (scan.Notifier, error) {
	if !a.cfg.PubSub.Enabled {
		return nil, nil
	}
	a.logger.Info("connecting to Pub/Sub",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName))
	pub, err := pubsubnotify.New(ctx, a.cfg.PubSub.ProjectID, a.cfg.PubSub.TopicName)
	if err != nil {
		return nil, fmt.Errorf("pubsub init failed: %w", err)
	}
	a.publisher = pub
	return notify.NewEvents(pub, a.cfg.PubSub.TopicName, a.logger), nil
}

// Logger returns the shared logger, mainly for the entrypoint.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Handler exposes the HTTP router, mainly for tests.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run starts the HTTP server and blocks until the context is canceled or a
// termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}

	return a.Close()
}

// Close releases external connections.
func (a *App) Close() error {
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Warn("publisher close failed", zap.Error(err))
		}
	}
	if a.pgStore != nil {
		a.pgStore.Close()
	}
	_ = a.logger.Sync()
	a.logger.Info("shutdown complete")
	return nil
}
