package sync

import (
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const scopeName = "github.com/penciled/penciled/internal/sync"

var (
	tracer = otel.Tracer(scopeName)
	meter  = otel.Meter(scopeName)
	logger = otelslog.NewLogger(scopeName)

	eventsSynced, _ = meter.Int64Counter("penciled.sync.events",
		metric.WithDescription("Events pushed to calendar providers, by outcome"))
)
