package http

import (
	"context"

	"lead_waterfall_backend/platform/config"
	"lead_waterfall_backend/platform/logger"
)

// RouterConfig combines the config interfaces needed by the HTTP router.
type RouterConfig interface {
	config.HTTPConfig
}

// HealthChecker exposes minimal functionality for readiness checks.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// App holds the fully initialized application dependencies.
// This is populated by main.go (the composition root) and passed to the router.
type App struct {
	Config  RouterConfig
	Logger  *logger.Logger
	Health  HealthChecker
	Modules []Module
}
