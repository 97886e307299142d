// Package main provides the process daemon: it hosts the engine, expires
// overdue processes and serves health endpoints.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/sovereignrag/process/pkg/cache"
	"github.com/sovereignrag/process/pkg/expiry"
	"github.com/sovereignrag/process/pkg/log"
	cli "github.com/urfave/cli/v3"
)

const defaultPort = 9091

func main() {
	cmd := &cli.Command{
		Name:                  "processd",
		Usage:                 "Run the process orchestration daemon",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port for the health endpoints, 0 disables them",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL (postgres://..., memory://)",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "cache-url",
				Usage:   "Process cache URL (redis://..., memory://), empty disables caching",
				Sources: cli.EnvVars("CACHE_URL"),
			},
			&cli.DurationFlag{
				Name:    "cache-ttl",
				Usage:   "Lifetime of cached process lookups",
				Value:   cache.DefaultTTL,
				Sources: cli.EnvVars("CACHE_TTL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (gochannel, kafka)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringSliceFlag{
				Name:    "kafka-brokers",
				Usage:   "Kafka brokers for the kafka event bus",
				Sources: cli.EnvVars("KAFKA_BROKERS"),
			},
			&cli.StringFlag{
				Name:     "system-user-id",
				Usage:    "User recorded on transitions made by the daemon itself",
				Required: true,
				Sources:  cli.EnvVars("SYSTEM_USER_ID"),
			},
			&cli.DurationFlag{
				Name:    "sweep-interval",
				Usage:   "How often overdue pending processes are expired",
				Value:   expiry.DefaultSweepInterval,
				Sources: cli.EnvVars("SWEEP_INTERVAL"),
			},
			&cli.IntFlag{
				Name:    "sweep-batch",
				Usage:   "Processes loaded per sweep query",
				Value:   expiry.DefaultSweepBatch,
				Sources: cli.EnvVars("SWEEP_BATCH"),
			},
			&cli.BoolFlag{
				Name:    "otel-enabled",
				Usage:   "Export traces over OTLP/HTTP",
				Sources: cli.EnvVars("OTEL_ENABLED"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
			&cli.StringFlag{
				Name:    "log-format",
				Usage:   "Log format (text, json)",
				Value:   "text",
				Sources: cli.EnvVars("LOG_FORMAT"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"), command.String("log-format"))
			logger := log.WithModule("processd")

			logger.InfoContext(ctx, "Initializing process daemon")

			systemUserID, err := uuid.Parse(command.String("system-user-id"))
			if err != nil {
				return fmt.Errorf("invalid system user id: %w", err)
			}

			daemon, err := NewDaemon(ctx, logger, Config{
				DatabaseURL:   command.String("database-url"),
				CacheURL:      command.String("cache-url"),
				CacheTTL:      command.Duration("cache-ttl"),
				EventBus:      command.String("event-bus"),
				KafkaBrokers:  command.StringSlice("kafka-brokers"),
				SystemUserID:  systemUserID,
				SweepInterval: command.Duration("sweep-interval"),
				SweepBatch:    int(command.Int("sweep-batch")),
				Port:          int(command.Int("port")),
				OTelEnabled:   command.Bool("otel-enabled"),
			})
			if err != nil {
				return err
			}

			defer func() {
				err := daemon.Close(context.WithoutCancel(ctx))
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close daemon", "error", err)
				}
			}()

			runCtx, cancel := context.WithCancel(ctx)
			defer cancel()

			signals := make(chan os.Signal, 1)
			signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

			go func() {
				sig := <-signals
				logger.InfoContext(ctx, "Received signal", "signal", sig)
				cancel()
			}()

			return daemon.Run(runCtx)
		},
	}

	err := cmd.Run(context.Background(), os.Args)
	if err != nil {
		slog.Error("Process daemon failed", "error", err)
		os.Exit(1)
	}
}
