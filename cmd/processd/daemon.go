package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/sovereignrag/process/pkg/cache"
	"github.com/sovereignrag/process/pkg/cmd"
	"github.com/sovereignrag/process/pkg/engine"
	"github.com/sovereignrag/process/pkg/eventbus"
	"github.com/sovereignrag/process/pkg/expiry"
	"github.com/sovereignrag/process/pkg/otelhelper"
	"github.com/sovereignrag/process/pkg/persistence"
	"github.com/sovereignrag/process/pkg/services"
	"github.com/sovereignrag/process/pkg/web"
	"go.opentelemetry.io/otel/trace"
)

type Config struct {
	DatabaseURL   string
	CacheURL      string
	CacheTTL      time.Duration
	EventBus      string
	KafkaBrokers  []string
	SystemUserID  uuid.UUID
	SweepInterval time.Duration
	SweepBatch    int
	// Port disables the HTTP server when zero.
	Port        int
	OTelEnabled bool
}

// Daemon hosts the engine together with the expiry machinery and the
// health endpoints.
type Daemon struct {
	config      Config
	logger      *slog.Logger
	persistence persistence.Persistence
	eventBus    eventbus.EventBus
	service     *services.Process
	trigger     *expiry.Trigger
	timers      *expiry.Timers
	sweeper     *expiry.Sweeper
	server      *web.Server
}

func NewDaemon(ctx context.Context, logger *slog.Logger, config Config) (*Daemon, error) {
	var tracer trace.Tracer

	if config.OTelEnabled {
		var err error

		tracer, err = otelhelper.NewTracer(ctx, "processd")
		if err != nil {
			return nil, fmt.Errorf("failed to initialize tracer: %w", err)
		}
	}

	store, err := cmd.NewPersistence(ctx, logger, config.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create persistence: %w", err)
	}

	processCache, err := cmd.NewCache(ctx, logger, config.CacheURL)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("failed to create cache: %w", err), store.Close(ctx))
	}

	if processCache != nil {
		store = cache.NewRepository(logger, store, processCache, config.CacheTTL)
	}

	eventBus, err := cmd.NewEventBus(config.EventBus, config.KafkaBrokers, logger)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("failed to create event bus: %w", err), store.Close(ctx))
	}

	orchestrator := engine.NewOrchestrator(logger, store, eventBus, tracer)
	service := services.NewProcess(logger, store, orchestrator, eventBus)
	trigger := expiry.NewTrigger(logger, store, orchestrator, expiry.StaticPrincipal(config.SystemUserID))

	daemon := &Daemon{
		config:      config,
		logger:      logger,
		persistence: store,
		eventBus:    eventBus,
		service:     service,
		trigger:     trigger,
		timers:      expiry.NewTimers(context.WithoutCancel(ctx), logger, trigger.Fire),
		sweeper:     expiry.NewSweeper(logger, store, trigger.Fire, config.SweepInterval, config.SweepBatch),
	}

	if config.Port > 0 {
		daemon.server = web.NewServer(logger, web.NewHealthHandlers(map[string]web.Checker{
			"persistence": service,
		}))
	}

	return daemon, nil
}

func (d *Daemon) Service() *services.Process {
	return d.service
}

// Run serves until ctx is cancelled.
func (d *Daemon) Run(ctx context.Context) error {
	err := expiry.NewRegistrar(d.logger, d.timers).Register(d.eventBus)
	if err != nil {
		return err
	}

	err = d.eventBus.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("failed to subscribe to process events: %w", err)
	}

	fired, err := d.sweeper.Sweep(ctx)
	if err != nil {
		d.logger.ErrorContext(ctx, "Startup expiry sweep failed", "error", err)
	} else {
		d.logger.InfoContext(ctx, "Startup expiry sweep finished", "fired", fired)
	}

	err = d.sweeper.Start(ctx)
	if err != nil {
		return err
	}

	serverErr := make(chan error, 1)

	if d.server != nil {
		go func() {
			serverErr <- d.server.Start(d.config.Port)
		}()
	}

	d.logger.InfoContext(ctx, "Process daemon started")

	select {
	case <-ctx.Done():
	case err = <-serverErr:
		d.logger.ErrorContext(ctx, "HTTP server stopped", "error", err)
	}

	return errors.Join(err, d.stop())
}

func (d *Daemon) stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	d.logger.InfoContext(ctx, "Shutting down gracefully...")

	var errs []error

	if d.server != nil {
		errs = append(errs, d.server.Shutdown(ctx))
	}

	errs = append(errs, d.sweeper.Stop(ctx))
	d.timers.Stop()

	return errors.Join(errs...)
}

// Close releases the event bus and the store.
func (d *Daemon) Close(ctx context.Context) error {
	var errs []error

	err := d.eventBus.Close()
	if err != nil {
		errs = append(errs, fmt.Errorf("failed to close event bus: %w", err))
	}

	err = d.persistence.Close(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("failed to close persistence: %w", err))
	}

	return errors.Join(errs...)
}
