package application

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/Zhima-Mochi/minishop-checkout/internal/domain/apperr"
	domoutbox "github.com/Zhima-Mochi/minishop-checkout/internal/domain/outbox"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability/logctx"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	SpanPrefix     = "UC."
	publishPeer    = "outbox"
	publishTimeout = 300 * time.Millisecond
)

type UseCase[C any, R any] interface {
	Execute(ctx context.Context, cmd C) (R, error)
}

// Instrumentation holds the telemetry handles shared by the use cases of one service.
type Instrumentation struct {
	log    observability.Logger
	tracer observability.Tracer
	// RED metrics (supplied via DI; do not instantiate inside methods).
	reqCounter   observability.Counter   // usecase_requests_total{use_case,outcome}
	durHistogram observability.Histogram // usecase_duration_seconds{use_case}
	extCounter   observability.Counter   // external_requests_total{peer,endpoint,outcome}
	extHistogram observability.Histogram // external_request_duration_seconds{peer,endpoint}
	metrics      observability.Metrics
}

func NewInstrumentation(service string, tel observability.Observability) Instrumentation {
	baseLog := observability.NopLogger()
	tracer := observability.NopTracer()
	metricsProvider := observability.NopMetrics()
	if tel != nil {
		baseLog = tel.Logger()
		tracer = tel.Tracer()
		metricsProvider = tel.Metrics()
	}
	return Instrumentation{
		log:          baseLog.With(observability.F("service", service)),
		tracer:       tracer,
		reqCounter:   metricsProvider.Counter(observability.MUsecaseRequests),
		durHistogram: metricsProvider.Histogram(observability.MUsecaseDuration),
		extCounter:   metricsProvider.Counter(observability.MExternalRequests),
		extHistogram: metricsProvider.Histogram(observability.MExternalRequestDuration),
		metrics:      metricsProvider,
	}
}

func (in Instrumentation) Logger() observability.Logger   { return in.log }
func (in Instrumentation) Metrics() observability.Metrics { return in.metrics }

// Call tracks one use case execution from Begin to End.
type Call struct {
	Span    trace.Span
	Log     observability.Logger
	ctx     context.Context
	in      Instrumentation
	name    string
	start   time.Time
	outcome string
	status  string
	fields  []observability.Field
}

// Begin opens the span and request-scoped logger for a use case.
func (in Instrumentation) Begin(ctx context.Context, useCase, spanName string, attrs ...attribute.KeyValue) (context.Context, *Call) {
	logger := logctx.FromOr(ctx, in.log).With(observability.F("use_case", useCase))
	attrs = append([]attribute.KeyValue{attribute.String("use_case", useCase)}, attrs...)
	ctx, span := in.tracer.Start(ctx, SpanPrefix+spanName, attrs...)
	return ctx, &Call{
		Span:    span,
		Log:     logger,
		ctx:     ctx,
		in:      in,
		name:    useCase,
		start:   time.Now(),
		outcome: "success",
		status:  "OK",
	}
}

// Fail marks the call as failed with a SCREAMING_SNAKE status.
func (c *Call) Fail(status string) {
	c.outcome, c.status = "error", status
}

// FailWith derives the status from the error kind.
func (c *Call) FailWith(err error) {
	c.Fail(StatusOf(err))
}

// Note keeps success but replaces the status text.
func (c *Call) Note(status string) {
	c.status = status
}

// Annotate adds fields to the final use_case_done line.
func (c *Call) Annotate(fields ...observability.Field) {
	c.fields = append(c.fields, fields...)
}

// End closes the span, records RED metrics and logs use_case_done.
func (c *Call) End(err error) {
	lat := time.Since(c.start).Seconds()
	if err != nil && c.outcome != "error" {
		c.FailWith(err)
	}

	if c.Span != nil {
		if err != nil {
			c.Span.RecordError(err)
			c.Span.SetStatus(codes.Error, c.status)
		} else {
			c.Span.SetStatus(codes.Ok, c.status)
		}
		c.Span.End()
	}

	c.in.reqCounter.Add(1,
		observability.L("use_case", c.name),
		observability.L("outcome", c.outcome),
	)
	c.in.durHistogram.Observe(lat, observability.L("use_case", c.name))

	fields := []observability.Field{
		observability.F("outcome", c.outcome),
		observability.F("status", c.status),
		observability.F("latency_seconds", lat),
	}
	if sc := trace.SpanContextFromContext(c.ctx); sc.IsValid() {
		fields = append(fields,
			observability.F("trace_id", sc.TraceID().String()),
			observability.F("span_id", sc.SpanID().String()),
		)
	}
	fields = append(fields, c.fields...)
	if err != nil {
		fields = append(fields, observability.F("error", err.Error()))
	}
	c.Log.Info("use_case_done", fields...)
}

// External records one call to a dependency outside the process.
func (in Instrumentation) External(peer, endpoint string, start time.Time, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			outcome = "canceled"
		}
	}
	in.extCounter.Add(1,
		observability.L("peer", peer),
		observability.L("endpoint", endpoint),
		observability.L("outcome", outcome),
	)
	in.extHistogram.Observe(time.Since(start).Seconds(),
		observability.L("peer", peer),
		observability.L("endpoint", endpoint),
	)
}

// StatusOf maps an error to the SCREAMING_SNAKE status text used on spans and logs.
func StatusOf(err error) string {
	if err == nil {
		return "OK"
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "CONTEXT_CANCELED"
	}
	return strings.ToUpper(string(apperr.KindOf(err)))
}

// Publish hands events to the bus with a short deadline and returns the last failure.
func (in Instrumentation) Publish(ctx context.Context, pub domoutbox.Publisher, events ...domoutbox.Event) error {
	if pub == nil {
		return nil
	}
	var last error
	for _, e := range events {
		pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
		start := time.Now()
		err := pub.Publish(pubCtx, e)
		if err == nil && pubCtx.Err() != nil {
			err = pubCtx.Err()
		}
		cancel()
		in.External(publishPeer, e.EventName(), start, err)
		if err != nil {
			last = err
		}
	}
	return last
}

// Publish records publish failures on the call. They never fail the use case.
func (c *Call) Publish(ctx context.Context, pub domoutbox.Publisher, events ...domoutbox.Event) {
	if err := c.in.Publish(ctx, pub, events...); err != nil {
		c.Annotate(observability.F("event_publish_error", err.Error()))
	}
}
