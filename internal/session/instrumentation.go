package session

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const scopeName = "github.com/rbright/parley/internal/session"

var (
	tracer = otel.Tracer(scopeName)
	meter  = otel.Meter(scopeName)
)

func newTurnCounter() metric.Int64Counter {
	counter, err := meter.Int64Counter(
		"parley.session.turns",
		metric.WithDescription("Completed lookup and chat turns by outcome"),
	)
	if err != nil {
		return nil
	}
	return counter
}

func startTurn(ctx context.Context, kind string, turnID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "session."+kind,
		trace.WithAttributes(
			attribute.String("parley.turn.id", turnID),
			attribute.String("parley.turn.kind", kind),
		),
	)
}

func (c *Controller) endTurn(span trace.Span, kind string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
	if c.turns != nil {
		c.turns.Add(context.Background(), 1, metric.WithAttributes(
			attribute.String("kind", kind),
			attribute.String("outcome", outcome),
		))
	}
}
