package pipeline

import (
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const scopeName = "github.com/penciled/penciled/internal/pipeline"

var (
	tracer = otel.Tracer(scopeName)
	meter  = otel.Meter(scopeName)
	logger = otelslog.NewLogger(scopeName)

	sessionsRun, _ = meter.Int64Counter("penciled.pipeline.sessions",
		metric.WithDescription("Sessions processed, by terminal outcome"))
	chainsRun, _ = meter.Int64Counter("penciled.pipeline.chains",
		metric.WithDescription("Extraction chains, by outcome"))
)
