package messaging

import (
	"context"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// headers exposes the headers of a kafka message to the otel propagator.
// Setting a key replaces every earlier header with that key.
type headers struct {
	msg *kafka.Message
}

var _ propagation.TextMapCarrier = headers{}

func (h headers) Get(key string) string {
	return Header(*h.msg, key)
}

func (h headers) Set(key, value string) {
	kept := h.msg.Headers[:0]
	for _, hdr := range h.msg.Headers {
		if hdr.Key != key {
			kept = append(kept, hdr)
		}
	}
	h.msg.Headers = append(kept, kafka.Header{Key: key, Value: []byte(value)})
}

func (h headers) Keys() []string {
	seen := make(map[string]bool, len(h.msg.Headers))
	keys := make([]string, 0, len(h.msg.Headers))
	for _, hdr := range h.msg.Headers {
		if !seen[hdr.Key] {
			seen[hdr.Key] = true
			keys = append(keys, hdr.Key)
		}
	}
	return keys
}

// Header returns the last value of header key on msg, or "".
func Header(msg kafka.Message, key string) string {
	for i := len(msg.Headers) - 1; i >= 0; i-- {
		if msg.Headers[i].Key == key {
			return string(msg.Headers[i].Value)
		}
	}
	return ""
}

func injectTrace(ctx context.Context, msg *kafka.Message) {
	otel.GetTextMapPropagator().Inject(ctx, headers{msg: msg})
}

func extractTrace(ctx context.Context, msg kafka.Message) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, headers{msg: &msg})
}
