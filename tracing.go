package stageflow

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/stageflow/stageflow"

// TracingMiddleware opens one span per routing hop, carrying the stage
// URI as an attribute and recording routing failures.
func TracingMiddleware() Middleware {
	tracer := otel.Tracer(tracerName)

	return func(next RouteFunc) RouteFunc {
		return func(ctx context.Context, uri string, overrides map[string]any) error {
			ctx, span := tracer.Start(ctx, "stageflow.route",
				trace.WithAttributes(attribute.String("stage.uri", uri)))
			defer span.End()

			err := next(ctx, uri, overrides)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
			return err
		}
	}
}
