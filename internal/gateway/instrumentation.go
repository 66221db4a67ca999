package gateway

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const scopeName = "github.com/rbright/parley/internal/gateway"

var (
	tracer = otel.Tracer(scopeName)
	meter  = otel.Meter(scopeName)
)

func newRequestCounter() metric.Int64Counter {
	counter, err := meter.Int64Counter(
		"parley.gateway.requests",
		metric.WithDescription("Backend requests by operation and outcome"),
	)
	if err != nil {
		return nil
	}
	return counter
}
