// Package app wires the application: configuration, logger, graph store,
// services and HTTP handlers, with ordered shutdown.
package app

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/tessera/internal/common"
	"github.com/ternarybob/tessera/internal/handlers"
	"github.com/ternarybob/tessera/internal/interfaces"
	"github.com/ternarybob/tessera/internal/services/catalog"
	"github.com/ternarybob/tessera/internal/services/jobs"
	"github.com/ternarybob/tessera/internal/services/query"
	"github.com/ternarybob/tessera/internal/services/scheduler"
	"github.com/ternarybob/tessera/internal/services/twins"
	"github.com/ternarybob/tessera/internal/storage/age"
)

// App holds all application components and dependencies.
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	// Storage
	Store      *age.Store
	JobStorage interfaces.JobStorage

	// Services
	CatalogService   *catalog.Service
	TwinService      *twins.Service
	QueryService     *query.Service
	JobService       *jobs.Service
	SchedulerService *scheduler.Service

	// HTTP handlers
	ModelsHandler *handlers.ModelsHandler
	TwinsHandler  *handlers.TwinsHandler
	QueryHandler  *handlers.QueryHandler
	JobsHandler   *handlers.JobsHandler
	StatusHandler *handlers.StatusHandler
}

// New initializes the application with all dependencies. The graph and its
// companion jobs schema are provisioned on startup when absent.
func New(ctx context.Context, cfg *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	store, err := age.NewStore(ctx, logger, &cfg.Storage.Postgres)
	if err != nil {
		return nil, fmt.Errorf("failed to connect graph store: %w", err)
	}
	app.Store = store

	graph := cfg.Storage.Postgres.GraphName
	if err := store.CreateGraph(ctx, graph); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to provision graph %s: %w", graph, err)
	}
	app.JobStorage = age.NewJobStorage(store, graph, logger)

	app.CatalogService = catalog.NewService(store, graph, cfg.Cache.ModelTTL, logger)
	app.TwinService = twins.NewService(store, app.CatalogService, graph, logger)
	app.QueryService = query.NewService(store, graph, cfg.Query, logger)
	app.JobService = jobs.NewService(app.JobStorage, app.CatalogService, app.TwinService,
		store, graph, cfg.Jobs, common.InstanceID(), logger)
	app.SchedulerService = scheduler.NewService(app.JobStorage, cfg.Jobs, logger)

	app.ModelsHandler = handlers.NewModelsHandler(app.CatalogService, logger)
	app.TwinsHandler = handlers.NewTwinsHandler(app.TwinService, logger)
	app.QueryHandler = handlers.NewQueryHandler(app.QueryService, logger)
	app.JobsHandler = handlers.NewJobsHandler(app.JobService, logger)
	app.StatusHandler = handlers.NewStatusHandler(store, graph, logger)

	if err := app.SchedulerService.Start(); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to start maintenance scheduler: %w", err)
	}

	logger.Info().
		Str("graph", graph).
		Str("instance", common.InstanceID()).
		Msg("Application initialized")
	return app, nil
}

// Close stops the scheduler and releases the store.
func (a *App) Close() {
	if a.SchedulerService != nil {
		a.SchedulerService.Stop()
	}
	if a.Store != nil {
		a.Store.Close()
	}
	a.Logger.Info().Msg("Application stopped")
}
