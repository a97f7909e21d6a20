// Package bus carries pipeline events between the API and the evaluation worker.
package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/medaudit/internal/domain"
)

// Metadata keys set on outgoing envelopes.
const (
	MetaTraceID = "trace_id"
	MetaReplyTo = "reply_to"
)

// New creates an event bus based on configuration.
// Community tier uses ChannelBus, Pro tier uses NATSBus.
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch cfg.Type {
	case "channel", "":
		return NewChannelBus(cfg.ChannelBufferSize), nil

	case "nats":
		return NewNATSBus(cfg)

	default:
		return nil, fmt.Errorf("unsupported event bus type: %s", cfg.Type)
	}
}

// newMessage wraps a payload in an envelope, copying the active span's
// trace id into the metadata so consumers can correlate their work.
func newMessage(ctx context.Context, topic string, payload []byte) *domain.Message {
	msg := &domain.Message{
		ID:        uuid.New().String(),
		Topic:     topic,
		Payload:   payload,
		Metadata:  make(map[string]string),
		Timestamp: time.Now().UnixNano(),
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		msg.Metadata[MetaTraceID] = sc.TraceID().String()
	}
	return msg
}

func validTopic(topic string) error {
	if topic == "" {
		return fmt.Errorf("topic is required")
	}
	return nil
}
