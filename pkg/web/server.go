package web

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
)

type Server struct {
	app    *fiber.App
	logger *slog.Logger
}

func NewServer(log *slog.Logger, handlers *HealthHandlers) *Server {
	app := fiber.New()
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker(healthcheck.Config{
		Probe: func(c fiber.Ctx) bool {
			_, healthy := handlers.Healthy(c.Context())

			return healthy
		},
	}))

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Process Service")
	})

	app.Get("/health", handlers.HealthCheck)

	return &Server{
		app:    app,
		logger: log.With("module", "http"),
	}
}

func (s *Server) App() *fiber.App {
	return s.app
}

func (s *Server) Start(port int) error {
	s.logger.Info("Starting HTTP server", "port", port)

	return s.app.Listen(":"+strconv.Itoa(port), fiber.ListenConfig{DisableStartupMessage: true})
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}
