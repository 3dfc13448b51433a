package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	domoutbox "github.com/Zhima-Mochi/minishop-checkout/internal/domain/outbox"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability/logctx"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	relayPeer     = "kafka"
	headerEvent   = "event-name"
	defaultPrefix = "minishop"
)

type keyed interface {
	PartitionKey() string
}

// Message is the wire envelope written to every topic.
type Message struct {
	Event      string          `json:"event"`
	OccurredAt time.Time       `json:"relayed_at"`
	Payload    json.RawMessage `json:"payload"`
}

// Relay forwards bus events to <prefix>.<aggregate> topics, where the aggregate
// is the event name up to its first dot.
type Relay struct {
	producer Producer
	prefix   string
	tracer   observability.Tracer
	log      observability.Logger
	requests observability.Counter
	duration observability.Histogram
}

func NewRelay(producer Producer, topicPrefix string, tel observability.Observability) *Relay {
	if topicPrefix == "" {
		topicPrefix = defaultPrefix
	}
	if tel == nil {
		tel = observability.Nop()
	}
	return &Relay{
		producer: producer,
		prefix:   topicPrefix,
		tracer:   tel.Tracer(),
		log:      tel.Logger().With(observability.F("component", "kafka_relay")),
		requests: tel.Metrics().Counter(observability.MExternalRequests),
		duration: tel.Metrics().Histogram(observability.MExternalRequestDuration),
	}
}

// Topic maps an event name to its topic.
func (r *Relay) Topic(eventName string) string {
	aggregate, _, _ := strings.Cut(eventName, ".")
	return r.prefix + "." + aggregate
}

// Handlers subscribes the relay to every named event.
func (r *Relay) Handlers(eventNames ...string) map[string]domoutbox.Handler {
	out := make(map[string]domoutbox.Handler, len(eventNames))
	for _, name := range eventNames {
		out[name] = r.Forward
	}
	return out
}

func (r *Relay) Forward(ctx context.Context, e domoutbox.Event) (err error) {
	name := e.EventName()
	topic := r.Topic(name)
	ctx, span := r.tracer.Start(ctx, "Kafka.Relay",
		attribute.String("messaging.system", "kafka"),
		attribute.String("messaging.destination.name", topic),
		attribute.String("event.name", name),
	)
	start := time.Now()
	defer func() {
		outcome := "success"
		if err != nil {
			outcome = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		r.requests.Add(1,
			observability.L("peer", relayPeer),
			observability.L("endpoint", topic),
			observability.L("outcome", outcome),
		)
		r.duration.Observe(time.Since(start).Seconds(),
			observability.L("peer", relayPeer),
			observability.L("endpoint", topic),
		)
		span.End()
	}()

	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("kafka: encode %s: %w", name, err)
	}
	value, err := json.Marshal(Message{Event: name, OccurredAt: time.Now().UTC(), Payload: payload})
	if err != nil {
		return fmt.Errorf("kafka: encode envelope: %w", err)
	}

	key := ""
	if k, ok := e.(keyed); ok {
		key = k.PartitionKey()
	}
	if err := r.producer.Send(ctx, topic, key, value, map[string]string{headerEvent: name}); err != nil {
		logctx.FromOr(ctx, r.log).Warn("event_relay_failed",
			observability.F("topic", topic),
			observability.F("error", err.Error()),
		)
		return err
	}
	span.AddEvent("relayed", trace.WithAttributes(attribute.String("messaging.message.key", key)))
	return nil
}
