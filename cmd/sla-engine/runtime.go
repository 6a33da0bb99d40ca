package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	httptransport "github.com/spec-kit/sla-engine/internal/api/http"
	"github.com/spec-kit/sla-engine/internal/api/http/handlers"
	"github.com/spec-kit/sla-engine/internal/config"
	"github.com/spec-kit/sla-engine/internal/events"
	"github.com/spec-kit/sla-engine/internal/observability"
	"github.com/spec-kit/sla-engine/internal/persistence"
	"github.com/spec-kit/sla-engine/internal/repository"
	"github.com/spec-kit/sla-engine/internal/service"
)

// runtime holds the process-wide collaborators shared by every subcommand.
type runtime struct {
	cfg     *config.Config
	logger  *zap.Logger
	pg      *persistence.Postgres
	redis   *persistence.Redis
	metrics *observability.Metrics
	uow     persistence.UnitOfWork

	statuses  repository.SLAStatusRepository
	policies  repository.SLAPolicyRepository
	calendars repository.CalendarRepository
	history   repository.PauseHistoryRepository
	outbox    repository.OutboxRepository
	directory repository.RecipientDirectory

	writer *service.OutboxWriter
	sla    *service.SLAService
	events events.Dispatcher
}

func newRuntime(ctx context.Context) (*runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger, err := observability.NewLogger(cfg.App, cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	metrics, err := observability.NewMetrics()
	if err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), logger); err != nil {
			pg.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}

	pool := pg.PoolHandle()
	rt := &runtime{
		cfg:       cfg,
		logger:    logger,
		pg:        pg,
		redis:     persistence.NewRedis(cfg.Redis, logger),
		metrics:   metrics,
		uow:       persistence.NewTxManager(pool),
		statuses:  repository.NewSLAStatusRepository(pool),
		policies:  repository.NewSLAPolicyRepository(pool),
		calendars: repository.NewCalendarRepository(pool),
		history:   repository.NewPauseHistoryRepository(pool),
		outbox:    repository.NewOutboxRepository(pool),
		directory: repository.NewRecipientDirectory(pool),
		events:    events.NewInMemoryDispatcher(),
	}

	rt.writer = service.NewOutboxWriter(rt.outbox, metrics, logger)
	rt.sla = service.NewSLAService(service.SLADependencies{
		UnitOfWork:   rt.uow,
		StatusRepo:   rt.statuses,
		PolicyRepo:   rt.policies,
		CalendarRepo: rt.calendars,
		HistoryRepo:  rt.history,
	})
	service.NewTicketEventHandler(rt.uow, rt.sla, rt.writer, rt.directory, time.Now, logger).
		RegisterHandlers(rt.events)

	return rt, nil
}

func (rt *runtime) close() {
	rt.redis.Close()
	rt.pg.Close()
	_ = rt.logger.Sync()
}

// serveOps runs the ops HTTP server until ctx ends.
func (rt *runtime) serveOps(ctx context.Context) {
	deps := map[string]handlers.Pinger{"postgres": rt.pg}
	if rt.redis != nil {
		deps["redis"] = rt.redis
	}

	app := httptransport.NewOpsApp(rt.cfg.App.Name, rt.logger, httptransport.RouteConfig{
		Health:  handlers.NewHealthHandler(rt.cfg.App.Name, rt.cfg.App.Version, deps),
		Metrics: rt.metrics.Handler(),
	})

	addr := rt.cfg.App.OpsAddr()
	go func() {
		if err := app.Listen(addr); err != nil {
			rt.logger.Error("ops server stopped", zap.Error(err))
		}
	}()
	rt.logger.Info("ops server listening", zap.String("addr", addr))

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := app.ShutdownWithContext(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			rt.logger.Warn("ops server shutdown", zap.Error(err))
		}
	}()
}
