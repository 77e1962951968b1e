package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// TopicOrderPlaced carries domain.OrderPlacedEvent payloads keyed by order ID.
const TopicOrderPlaced = "order.placed"

var (
	producerTracer = otel.Tracer("messaging/producer")
	meter          = otel.Meter("storefront/messaging")
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Producer struct {
	writer    messageWriter
	topic     string
	published metric.Int64Counter
}

func NewProducer(brokers []string, topic string) (*Producer, error) {
	return newProducer(&kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		BatchTimeout:           100 * time.Millisecond,
		RequiredAcks:           kafka.RequireAll,
	}, topic)
}

func newProducer(w messageWriter, topic string) (*Producer, error) {
	published, err := meter.Int64Counter("storefront.messaging.published",
		metric.WithDescription("Messages handed to the broker"),
	)
	if err != nil {
		return nil, fmt.Errorf("create published counter: %w", err)
	}
	return &Producer{writer: w, topic: topic, published: published}, nil
}

// Publish writes event as JSON under key. Messages sharing a key land on the
// same partition.
func (p *Producer) Publish(ctx context.Context, key string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", p.topic, err)
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: data,
	}

	ctx, span := producerTracer.Start(ctx, "send "+p.topic,
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			semconv.MessagingSystemKafka,
			semconv.MessagingOperationName("send"),
			semconv.MessagingOperationTypePublish,
			semconv.MessagingDestinationName(p.topic),
			semconv.MessagingKafkaMessageKey(key),
		),
	)
	defer span.End()

	injectTrace(ctx, &msg)

	err = p.writer.WriteMessages(ctx, msg)
	p.published.Add(ctx, 1, metric.WithAttributes(
		attribute.String("topic", p.topic),
		attribute.Bool("error", err != nil),
	))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	return nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}
