package tracing

import (
	"context"

	"github.com/getsentry/sentry-go"
	"github.com/mikeydub/go-collab/service/logger"
	"github.com/sirupsen/logrus"
)

func StartSpan(ctx context.Context, operation string, description string, options ...sentry.SpanOption) (*sentry.Span, context.Context) {
	span := sentry.StartSpan(ctx, operation, options...)
	ctx = logger.NewContextWithFields(span.Context(), logrus.Fields{
		"spanId":       span.SpanID,
		"parentSpanId": span.ParentSpanID,
	})

	span.Description = description

	return span, ctx
}

func FinishSpan(span *sentry.Span) {
	if span == nil {
		return
	}

	span.Finish()
}

// FinishSpanWithError marks the span as failed when err is non-nil before finishing it.
func FinishSpanWithError(span *sentry.Span, err error) {
	if span == nil {
		return
	}

	if err != nil {
		span.Status = sentry.SpanStatusInternalError
		AddEventDataToSpan(span, map[string]interface{}{"error": err.Error()})
	} else {
		span.Status = sentry.SpanStatusOK
	}

	span.Finish()
}

func AddEventDataToSpan(span *sentry.Span, eventData map[string]interface{}) {
	if span == nil {
		return
	}

	if span.Data == nil {
		span.Data = make(map[string]interface{})
	}

	for k, v := range eventData {
		span.Data[k] = v
	}
}
