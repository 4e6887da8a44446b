package observability

import (
	"context"
	"log/slog"

	"github.com/honeynil/adminauth/internal/infrastructure/observability"
)

type Options struct {
	ServiceName    string
	LogLevel       slog.Level
	TracingEnabled bool
}

// Setup initialises logging, metrics and tracing and returns the tracer
// shutdown hook.
func Setup(ctx context.Context, opts Options) func(context.Context) error {
	observability.InitLogger(opts.LogLevel)
	observability.InitMetrics()
	return observability.InitTracing(ctx, opts.ServiceName, opts.TracingEnabled)
}
