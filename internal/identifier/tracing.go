package identifier

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tierAttributeKey = "persistid.tier"

func (e *Engine) startSpan(ctx context.Context, op string) (context.Context, trace.Span) {
	if ctx == nil {
		ctx = context.Background()
	}
	return e.tracer.Start(ctx, "identifier."+op)
}

func annotateTier(span trace.Span, tier string) {
	span.SetAttributes(attribute.String(tierAttributeKey, tier))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, strings.TrimSpace(err.Error()))
		span.SetAttributes(attribute.String("persistid.error_kind", KindOf(err)))
	}
	span.End()
}
