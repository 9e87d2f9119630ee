package stage

import (
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const scopeName = "github.com/penciled/penciled/internal/stage"

var (
	tracer = otel.Tracer(scopeName)
	meter  = otel.Meter(scopeName)
	logger = otelslog.NewLogger(scopeName)

	stageCalls, _  = meter.Int64Counter("penciled.stage.calls", metric.WithDescription("Structured gateway calls by stage"))
	stageErrors, _ = meter.Int64Counter("penciled.stage.errors", metric.WithDescription("Failed gateway calls by stage"))
)
