// Package app builds and owns the long-lived services behind the gateway: the
// worker supervisor, the run repository, the completion publisher and the
// audit hub that feeds them.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/siteaudit-bridge/internal/api"
	"github.com/JakeFAU/siteaudit-bridge/internal/clock/system"
	"github.com/JakeFAU/siteaudit-bridge/internal/config"
	"github.com/JakeFAU/siteaudit-bridge/internal/id/uuid"
	"github.com/JakeFAU/siteaudit-bridge/internal/progress"
	"github.com/JakeFAU/siteaudit-bridge/internal/progress/sinks"
	"github.com/JakeFAU/siteaudit-bridge/internal/publisher"
	pubsubpublisher "github.com/JakeFAU/siteaudit-bridge/internal/publisher/pubsub"
	"github.com/JakeFAU/siteaudit-bridge/internal/storage/memory"
	"github.com/JakeFAU/siteaudit-bridge/internal/storage/postgres"
	"github.com/JakeFAU/siteaudit-bridge/internal/store"
	"github.com/JakeFAU/siteaudit-bridge/internal/supervisor"
)

// App holds the shared services for one gateway process.
type App struct {
	logger     *zap.Logger
	supervisor supervisor.Supervisor
	runs       store.RunRepository
	hub        *progress.Hub
	server     *api.Server
	closers    []func()
}

type options struct {
	registerer prometheus.Registerer
	publisher  publisher.Publisher
	runs       store.RunRepository
}

// Option customizes New.
type Option func(*options)

// WithRegisterer registers audit metrics on reg instead of the default
// registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithPublisher uses pub for completion notifications instead of dialing
// Pub/Sub. The topic still comes from configuration.
func WithPublisher(pub publisher.Publisher) Option {
	return func(o *options) { o.publisher = pub }
}

// WithRunRepository uses repo instead of building one from db.dsn.
func WithRunRepository(repo store.RunRepository) Option {
	return func(o *options) { o.runs = repo }
}

// New wires every service from cfg. It fails fast when a configured backend
// cannot be reached.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := options{registerer: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{logger: logger}
	ok := false
	defer func() {
		if !ok {
			a.closeAll()
		}
	}()

	sup, err := newSupervisor(cfg.Worker, logger.Named("supervisor"))
	if err != nil {
		return nil, err
	}
	a.supervisor = sup

	if o.runs != nil {
		a.runs = o.runs
	} else if a.runs, err = a.newRunRepository(ctx, cfg.DB); err != nil {
		return nil, err
	}

	promSink, err := sinks.NewPrometheusSink(o.registerer)
	if err != nil {
		return nil, fmt.Errorf("init audit metrics: %w", err)
	}
	hubSinks := []progress.Sink{
		sinks.NewLogSink(logger.Named("audit")),
		promSink,
		sinks.NewStoreSink(a.runs, logger.Named("audit")),
	}
	pub := o.publisher
	if pub == nil && cfg.PubSub.ProjectID != "" {
		pub, err = pubsubpublisher.New(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("init pubsub publisher: %w", err)
		}
	}
	if pub != nil && cfg.PubSub.TopicName != "" {
		hubSinks = append(hubSinks, sinks.NewPublisherSink(pub, cfg.PubSub.TopicName, logger.Named("audit")))
	}

	a.hub = progress.NewHub(progress.Config{
		BufferSize:      cfg.Hub.BufferSize,
		MaxBatchRecords: cfg.Hub.MaxBatchEvents,
		MaxBatchWait:    cfg.HubBatchWait(),
		Logger:          logger.Named("hub"),
	}, hubSinks...)

	a.server = api.NewServer(a.supervisor, a.hub, a.runs, uuid.New(), system.New(), cfg, logger.Named("api"))
	ok = true
	return a, nil
}

func newSupervisor(cfg config.WorkerConfig, logger *zap.Logger) (supervisor.Supervisor, error) {
	switch cfg.Mode {
	case config.WorkerModeRemote:
		sup, err := supervisor.NewRemote(cfg.RemoteURL, &http.Client{}, logger)
		if err != nil {
			return nil, fmt.Errorf("init remote worker: %w", err)
		}
		logger.Info("using remote analysis worker", zap.String("endpoint", cfg.RemoteURL))
		return sup, nil
	case config.WorkerModeProcess, "":
		sup, err := supervisor.NewProcess(supervisor.ProcessConfig{
			Command: cfg.Command,
			Args:    cfg.Args,
			Env:     cfg.Env,
			Dir:     cfg.Dir,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("init process worker: %w", err)
		}
		logger.Info("using process analysis worker", zap.String("command", cfg.Command))
		return sup, nil
	default:
		return nil, fmt.Errorf("unknown worker mode %q", cfg.Mode)
	}
}

func (a *App) newRunRepository(ctx context.Context, cfg config.DBConfig) (store.RunRepository, error) {
	if cfg.DSN == "" {
		a.logger.Info("run repository: in-memory")
		return memory.NewRunStore(), nil
	}
	pg, err := postgres.NewRunStore(ctx, postgres.RunStoreConfig{
		DSN:      cfg.DSN,
		MaxConns: cfg.MaxConns,
		MinConns: cfg.MinConns,
	})
	if err != nil {
		return nil, fmt.Errorf("init postgres run store: %w", err)
	}
	a.closers = append(a.closers, pg.Close)
	if cfg.EnsureSchema {
		if err := pg.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("ensure run schema: %w", err)
		}
	}
	a.logger.Info("run repository: postgres")
	return pg, nil
}

// Handler returns the gateway's HTTP handler.
func (a *App) Handler() http.Handler {
	return a.server.Handler()
}

// Runs exposes the run repository.
func (a *App) Runs() store.RunRepository {
	return a.runs
}

// Close drains the audit hub, then releases the backends. Call it after the
// HTTP server has stopped so in-flight runs record their final state.
func (a *App) Close(ctx context.Context) error {
	var err error
	if a.hub != nil {
		if herr := a.hub.Close(ctx); herr != nil {
			err = errors.Join(err, fmt.Errorf("close audit hub: %w", herr))
		}
	}
	a.closeAll()
	return err
}

func (a *App) closeAll() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
