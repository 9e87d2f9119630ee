package web

import (
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const scopeName = "github.com/penciled/penciled/internal/web"

var (
	meter  = otel.Meter(scopeName)
	logger = otelslog.NewLogger(scopeName)

	requestsServed, _ = meter.Int64Counter("penciled.web.requests",
		metric.WithDescription("API requests served, by route and status"))
	streamsOpen, _ = meter.Int64UpDownCounter("penciled.web.streams",
		metric.WithDescription("Progress stream connections currently open"))
)
