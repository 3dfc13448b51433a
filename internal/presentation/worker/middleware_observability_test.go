package workerpresentation

import (
	"context"
	"testing"

	domoutbox "github.com/Zhima-Mochi/minishop-checkout/internal/domain/outbox"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability/logctx"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

type captureLogger struct {
	fields []observability.Field
}

func (c *captureLogger) With(fields ...observability.Field) observability.Logger {
	return &captureLogger{fields: append(append([]observability.Field(nil), c.fields...), fields...)}
}
func (c *captureLogger) Debug(string, ...observability.Field) {}
func (c *captureLogger) Info(string, ...observability.Field)  {}
func (c *captureLogger) Warn(string, ...observability.Field)  {}
func (c *captureLogger) Error(string, ...observability.Field) {}

func (c *captureLogger) value(key string) (any, bool) {
	for _, f := range c.fields {
		if f.Key == key {
			return f.Value, true
		}
	}
	return nil, false
}

type namedEvent string

func (e namedEvent) EventName() string { return string(e) }

type subscriber map[string]domoutbox.Handler

func (s subscriber) Subscribe(name string, h domoutbox.Handler) { s[name] = h }

func TestWithEventContextAddsTraceAndAttrs(t *testing.T) {
	traceID := trace.TraceID{1, 2, 3}
	spanID := trace.SpanID{4, 5, 6}

	ctx := WithEventContext(context.Background(), &captureLogger{}, traceID, spanID, map[string]string{
		"event":    "order.created",
		"event_id": "evt-1",
		"empty":    "",
	})

	logger, ok := logctx.From(ctx).(*captureLogger)
	require.True(t, ok)
	id, _ := logger.value("event_id")
	assert.Equal(t, "evt-1", id)
	tid, _ := logger.value("trace_id")
	assert.Equal(t, traceID.String(), tid)
	_, hasEmpty := logger.value("empty")
	assert.False(t, hasEmpty)
}

func TestWithEventContextGeneratesEventID(t *testing.T) {
	ctx := WithEventContext(context.Background(), &captureLogger{}, trace.TraceID{}, trace.SpanID{}, nil)

	logger := logctx.From(ctx).(*captureLogger)
	id, ok := logger.value("event_id")
	require.True(t, ok)
	assert.NotEmpty(t, id)
	_, hasTrace := logger.value("trace_id")
	assert.False(t, hasTrace)
}

func TestSubscribeAllWrapsHandlers(t *testing.T) {
	sub := subscriber{}
	var seen observability.Logger
	SubscribeAll(sub, &captureLogger{}, "inventory_worker", map[string]domoutbox.Handler{
		"inventory.stock_changed": func(ctx context.Context, _ domoutbox.Event) error {
			seen = logctx.From(ctx)
			return nil
		},
	})

	h, ok := sub["inventory.stock_changed"]
	require.True(t, ok)
	require.NoError(t, h(context.Background(), namedEvent("inventory.stock_changed")))

	logger, ok := seen.(*captureLogger)
	require.True(t, ok)
	worker, _ := logger.value("worker")
	assert.Equal(t, "inventory_worker", worker)
}
