// Package web exposes the health endpoints of the process daemon.
package web

import (
	"context"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
)

const problemContentType = "application/problem+json"

// Checker reports the health of one dependency.
type Checker interface {
	HealthCheck(ctx context.Context) (string, bool)
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc func(ctx context.Context) (string, bool)

func (f CheckerFunc) HealthCheck(ctx context.Context) (string, bool) {
	return f(ctx)
}

type HealthHandlers struct {
	checkers map[string]Checker
}

func NewHealthHandlers(checkers map[string]Checker) *HealthHandlers {
	return &HealthHandlers{checkers: checkers}
}

// Healthy runs every checker and reports whether all of them passed.
func (h *HealthHandlers) Healthy(ctx context.Context) (map[string]string, bool) {
	results := make(map[string]string, len(h.checkers))
	healthy := true

	for name, checker := range h.checkers {
		message, ok := checker.HealthCheck(ctx)
		results[name] = message
		healthy = healthy && ok
	}

	return results, healthy
}

func (h *HealthHandlers) HealthCheck(c fiber.Ctx) error {
	results, healthy := h.Healthy(c.Context())

	if !healthy {
		return unhealthy(c, results)
	}

	return c.JSON(fiber.Map{
		"status":    "healthy",
		"message":   "process service is healthy",
		"checkers":  results,
		"timestamp": time.Now().UTC(),
	})
}

// unhealthy answers with an RFC 7807 problem whose detail names every checker.
func unhealthy(c fiber.Ctx, results map[string]string) error {
	names := make([]string, 0, len(results))
	for name := range results {
		names = append(names, name)
	}

	sort.Strings(names)

	checks := make([]string, 0, len(names))
	for _, name := range names {
		checks = append(checks, name+": "+results[name])
	}

	problem := problems.NewStatusProblem(http.StatusServiceUnavailable).
		WithInstance(c.Path()).
		WithType("unhealthy").
		WithDetail("process service is unhealthy (" + strings.Join(checks, "; ") + ")")

	return c.Status(fiber.StatusServiceUnavailable).JSON(problem, problemContentType)
}
