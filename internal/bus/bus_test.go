package bus

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/medaudit/internal/domain"
)

func waitFor(t *testing.T, wg *sync.WaitGroup, timeout time.Duration) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		t.Fatal("timeout waiting for message")
	}
}

func TestChannelBus(t *testing.T) {
	bus := NewChannelBus(100)
	defer bus.Close()

	ctx := context.Background()

	t.Run("PublishAndSubscribe", func(t *testing.T) {
		var receivedMsg *domain.Message
		var wg sync.WaitGroup
		wg.Add(1)

		_, err := bus.Subscribe(ctx, domain.TopicBillSubmitted, func(ctx context.Context, msg *domain.Message) error {
			receivedMsg = msg
			wg.Done()
			return nil
		})
		if err != nil {
			t.Fatalf("subscribe failed: %v", err)
		}

		if err := bus.Publish(ctx, domain.TopicBillSubmitted, []byte(`{"claimId":"CLM-1"}`)); err != nil {
			t.Fatalf("publish failed: %v", err)
		}
		waitFor(t, &wg, time.Second)

		if string(receivedMsg.Payload) != `{"claimId":"CLM-1"}` {
			t.Errorf("unexpected payload %q", receivedMsg.Payload)
		}
		if receivedMsg.Topic != domain.TopicBillSubmitted {
			t.Errorf("expected topic %q, got %q", domain.TopicBillSubmitted, receivedMsg.Topic)
		}
		if receivedMsg.ID == "" {
			t.Error("expected message id")
		}
		if receivedMsg.Timestamp == 0 {
			t.Error("expected timestamp")
		}
	})

	t.Run("TopicIsolation", func(t *testing.T) {
		var evaluated, alerts atomic.Int32

		bus.Subscribe(ctx, domain.TopicBillEvaluated, func(ctx context.Context, msg *domain.Message) error {
			evaluated.Add(1)
			return nil
		})
		bus.Subscribe(ctx, domain.TopicAlert, func(ctx context.Context, msg *domain.Message) error {
			alerts.Add(1)
			return nil
		})

		bus.Publish(ctx, domain.TopicBillEvaluated, []byte("msg1"))
		time.Sleep(50 * time.Millisecond)

		if evaluated.Load() != 1 {
			t.Errorf("evaluated subscriber should receive 1 message, got %d", evaluated.Load())
		}
		if alerts.Load() != 0 {
			t.Errorf("alert subscriber should receive 0 messages, got %d", alerts.Load())
		}
	})

	t.Run("RequiresTopic", func(t *testing.T) {
		if err := bus.Publish(ctx, "", []byte("data")); err == nil {
			t.Error("expected error for empty topic")
		}
		_, err := bus.Subscribe(ctx, "", func(ctx context.Context, msg *domain.Message) error {
			return nil
		})
		if err == nil {
			t.Error("expected error for empty topic")
		}
		if _, err := bus.Subscribe(ctx, "nil.handler", nil); err == nil {
			t.Error("expected error for nil handler")
		}
	})

	t.Run("Unsubscribe", func(t *testing.T) {
		var count atomic.Int32

		sub, _ := bus.Subscribe(ctx, "unsub.topic", func(ctx context.Context, msg *domain.Message) error {
			count.Add(1)
			return nil
		})

		bus.Publish(ctx, "unsub.topic", []byte("msg1"))
		time.Sleep(50 * time.Millisecond)
		if count.Load() != 1 {
			t.Errorf("expected 1 message before unsubscribe, got %d", count.Load())
		}

		if err := sub.Unsubscribe(); err != nil {
			t.Fatalf("unsubscribe failed: %v", err)
		}
		if n := bus.SubscriberCount("unsub.topic"); n != 0 {
			t.Errorf("expected no subscribers after unsubscribe, got %d", n)
		}

		bus.Publish(ctx, "unsub.topic", []byte("msg2"))
		time.Sleep(50 * time.Millisecond)
		if count.Load() != 1 {
			t.Errorf("expected 1 message after unsubscribe, got %d", count.Load())
		}
	})

	t.Run("MultipleSubscribers", func(t *testing.T) {
		var count1, count2 atomic.Int32

		bus.Subscribe(ctx, "multi.topic", func(ctx context.Context, msg *domain.Message) error {
			count1.Add(1)
			return nil
		})
		bus.Subscribe(ctx, "multi.topic", func(ctx context.Context, msg *domain.Message) error {
			count2.Add(1)
			return nil
		})

		bus.Publish(ctx, "multi.topic", []byte("broadcast"))
		time.Sleep(50 * time.Millisecond)

		if count1.Load() != 1 || count2.Load() != 1 {
			t.Errorf("expected both subscribers to receive, got %d and %d", count1.Load(), count2.Load())
		}
	})

	t.Run("TraceIDMetadata", func(t *testing.T) {
		traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
		spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
		traced := trace.ContextWithSpanContext(ctx, trace.NewSpanContext(trace.SpanContextConfig{
			TraceID: traceID,
			SpanID:  spanID,
		}))

		got := make(chan *domain.Message, 1)
		bus.Subscribe(ctx, "traced.topic", func(ctx context.Context, msg *domain.Message) error {
			got <- msg
			return nil
		})
		bus.Publish(traced, "traced.topic", []byte("x"))

		select {
		case msg := <-got:
			if msg.Metadata[MetaTraceID] != "4bf92f3577b34da6a3ce929d0e0e4736" {
				t.Errorf("expected trace id metadata, got %q", msg.Metadata[MetaTraceID])
			}
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for traced message")
		}
	})

	t.Run("Request", func(t *testing.T) {
		bus.Subscribe(ctx, "echo.topic", func(ctx context.Context, msg *domain.Message) error {
			return bus.Publish(ctx, msg.Metadata[MetaReplyTo], append([]byte("re:"), msg.Payload...))
		})

		reqCtx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()

		reply, err := bus.Request(reqCtx, "echo.topic", []byte("ping"))
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		if string(reply) != "re:ping" {
			t.Errorf("expected reply 're:ping', got %q", reply)
		}
	})

	t.Run("RequestTimeout", func(t *testing.T) {
		reqCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
		defer cancel()

		if _, err := bus.Request(reqCtx, "nobody.listens", []byte("ping")); err == nil {
			t.Error("expected timeout error")
		}
	})

	t.Run("Ping", func(t *testing.T) {
		if err := bus.Ping(ctx); err != nil {
			t.Errorf("ping failed: %v", err)
		}
	})

	t.Run("SubscriptionTopic", func(t *testing.T) {
		sub, _ := bus.Subscribe(ctx, "my.topic", func(ctx context.Context, msg *domain.Message) error {
			return nil
		})
		if sub.Topic() != "my.topic" {
			t.Errorf("expected topic 'my.topic', got '%s'", sub.Topic())
		}
	})
}

func TestChannelBusClose(t *testing.T) {
	bus := NewChannelBus(100)
	ctx := context.Background()

	sub, _ := bus.Subscribe(ctx, "close.topic", func(ctx context.Context, msg *domain.Message) error {
		return nil
	})

	if err := bus.Close(); err != nil {
		t.Errorf("close failed: %v", err)
	}
	if err := bus.Close(); err != nil {
		t.Errorf("second close failed: %v", err)
	}
	if err := sub.Unsubscribe(); err != nil {
		t.Errorf("unsubscribe after close failed: %v", err)
	}

	if err := bus.Publish(ctx, "close.topic", []byte("data")); err == nil {
		t.Error("expected error after close")
	}
	if err := bus.Ping(ctx); err == nil {
		t.Error("expected ping error after close")
	}
	if _, err := bus.Subscribe(ctx, "close.topic", func(ctx context.Context, msg *domain.Message) error { return nil }); err == nil {
		t.Error("expected subscribe error after close")
	}
}

func TestNewBus(t *testing.T) {
	t.Run("ChannelType", func(t *testing.T) {
		bus, err := New(domain.EventBusConfig{Type: "channel", ChannelBufferSize: 50})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		defer bus.Close()

		if _, ok := bus.(*ChannelBus); !ok {
			t.Error("expected ChannelBus for channel type")
		}
	})

	t.Run("UnsupportedType", func(t *testing.T) {
		if _, err := New(domain.EventBusConfig{Type: "kafka"}); err == nil {
			t.Error("expected error for unsupported type")
		}
	})
}

func TestChannelBusHighLoad(t *testing.T) {
	bus := NewChannelBus(1000)
	defer bus.Close()

	ctx := context.Background()
	const messageCount = 100

	var received atomic.Int32
	var wg sync.WaitGroup
	wg.Add(messageCount)

	bus.Subscribe(ctx, "load.topic", func(ctx context.Context, msg *domain.Message) error {
		received.Add(1)
		wg.Done()
		return nil
	})

	for i := 0; i < messageCount; i++ {
		bus.Publish(ctx, "load.topic", []byte("msg"))
	}

	waitFor(t, &wg, 5*time.Second)
	if received.Load() != messageCount {
		t.Errorf("expected %d messages, got %d", messageCount, received.Load())
	}
}
