// Package appcontext gathers the ambient concerns (logger, telemetry,
// metrics, root cancellation) into a single bundle built once at process
// start and threaded through every constructor by value. This replaces the
// teacher's package-level global metrics registry with explicit
// construction-time injection.
package appcontext

import (
	"context"

	"github.com/cogforge/coc/core"
)

// Context bundles the ambient dependencies every component constructor
// accepts. It is not a context.Context itself — it carries one.
type Context struct {
	Ctx     context.Context
	Logger  core.ComponentAwareLogger
	Metrics core.MetricsRegistry
	Tele    core.Telemetry
}

// New builds a Context from a root context.Context and a base logger. When
// metrics or telemetry are nil, NoOp implementations are used so callers
// never need a nil check.
func New(ctx context.Context, logger core.ComponentAwareLogger, metrics core.MetricsRegistry, tele core.Telemetry) *Context {
	if logger == nil {
		logger = core.NewSimpleLogger()
	}
	if metrics == nil {
		metrics = &core.NoOpMetrics{}
	}
	if tele == nil {
		tele = &core.NoOpTelemetry{}
	}
	return &Context{Ctx: ctx, Logger: logger, Metrics: metrics, Tele: tele}
}

// Component returns a derived Context whose logger is tagged with the given
// component name, per the "coc/<package>" / "ef/<package>" naming
// convention documented on core.ComponentAwareLogger.
func (c *Context) Component(name string) *Context {
	return &Context{
		Ctx:     c.Ctx,
		Logger:  componentLogger{c.Logger.WithComponent(name)},
		Metrics: c.Metrics,
		Tele:    c.Tele,
	}
}

// componentLogger adapts core.Logger back to core.ComponentAwareLogger so
// repeated Component() calls can keep re-tagging.
type componentLogger struct {
	core.Logger
}

func (c componentLogger) WithComponent(name string) core.Logger {
	if cal, ok := c.Logger.(core.ComponentAwareLogger); ok {
		return cal.WithComponent(name)
	}
	return c.Logger
}
