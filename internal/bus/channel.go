package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/medaudit/internal/domain"
)

// DefaultRequestTimeout bounds Request when the context has no deadline.
const DefaultRequestTimeout = 30 * time.Second

// ChannelBus implements EventBus using Go channels inside one process.
type ChannelBus struct {
	mu            sync.RWMutex
	bufferSize    int
	subscriptions map[string][]*channelSubscription
	closed        bool
}

type channelSubscription struct {
	id      string
	topic   string
	handler domain.MessageHandler
	msgCh   chan *domain.Message
	ctx     context.Context
	cancel  context.CancelFunc
	bus     *ChannelBus
}

// NewChannelBus creates a new channel-based event bus.
func NewChannelBus(bufferSize int) *ChannelBus {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	return &ChannelBus{
		bufferSize:    bufferSize,
		subscriptions: make(map[string][]*channelSubscription),
	}
}

// Publish delivers a message to every subscriber of topic. Subscribers whose
// buffer is full miss the message.
func (b *ChannelBus) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := validTopic(topic); err != nil {
		return err
	}

	return b.deliver(newMessage(ctx, topic, payload))
}

// Subscribe registers a handler for a topic. Messages are handled
// sequentially per subscription.
func (b *ChannelBus) Subscribe(ctx context.Context, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	if err := validTopic(topic); err != nil {
		return nil, err
	}
	if handler == nil {
		return nil, fmt.Errorf("handler is required")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, fmt.Errorf("bus is closed")
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &channelSubscription{
		id:      uuid.New().String(),
		topic:   topic,
		handler: handler,
		msgCh:   make(chan *domain.Message, b.bufferSize),
		ctx:     subCtx,
		cancel:  cancel,
		bus:     b,
	}

	go sub.run()

	b.subscriptions[topic] = append(b.subscriptions[topic], sub)
	return sub, nil
}

func (s *channelSubscription) run() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case msg, ok := <-s.msgCh:
			if !ok {
				return
			}
			if err := s.handler(s.ctx, msg); err != nil {
				slog.Error("handler error",
					"topic", s.topic,
					"message_id", msg.ID,
					"error", err,
				)
			}
		}
	}
}

// Request publishes payload and waits for the first publish on the
// per-request reply topic "<topic>.reply.<message id>". Responders find the
// reply topic in the "reply_to" metadata key.
func (b *ChannelBus) Request(ctx context.Context, topic string, payload []byte) ([]byte, error) {
	if err := validTopic(topic); err != nil {
		return nil, err
	}

	replyCh := make(chan []byte, 1)
	replyTopic := topic + ".reply." + uuid.New().String()

	sub, err := b.Subscribe(ctx, replyTopic, func(ctx context.Context, msg *domain.Message) error {
		select {
		case replyCh <- msg.Payload:
		default:
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	defer sub.Unsubscribe()

	msg := newMessage(ctx, topic, payload)
	msg.Metadata[MetaReplyTo] = replyTopic
	if err := b.deliver(msg); err != nil {
		return nil, err
	}

	timeout := DefaultRequestTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}

	select {
	case reply := <-replyCh:
		return reply, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(timeout):
		return nil, fmt.Errorf("request timeout")
	}
}

// deliver fans out a prepared envelope. The read lock is held while sending
// so Close cannot close a channel underneath us.
func (b *ChannelBus) deliver(msg *domain.Message) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return fmt.Errorf("bus is closed")
	}

	for _, sub := range b.subscriptions[msg.Topic] {
		select {
		case sub.msgCh <- msg:
		default:
			slog.Warn("subscriber buffer full, dropping message",
				"topic", msg.Topic,
				"subscription_id", sub.id,
				"message_id", msg.ID,
			)
		}
	}
	return nil
}

// Ping checks bus health.
func (b *ChannelBus) Ping(ctx context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return fmt.Errorf("bus is closed")
	}
	return nil
}

// Close stops every subscription. Further publishes fail.
func (b *ChannelBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	for _, subs := range b.subscriptions {
		for _, sub := range subs {
			sub.cancel()
			close(sub.msgCh)
		}
	}
	b.subscriptions = make(map[string][]*channelSubscription)
	return nil
}

// SubscriberCount returns the number of live subscriptions on topic.
func (b *ChannelBus) SubscriberCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscriptions[topic])
}

// Unsubscribe stops receiving messages and detaches from the bus.
func (s *channelSubscription) Unsubscribe() error {
	s.cancel()

	b := s.bus
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subscriptions[s.topic]
	for i, other := range subs {
		if other.id == s.id {
			b.subscriptions[s.topic] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(b.subscriptions[s.topic]) == 0 {
		delete(b.subscriptions, s.topic)
	}
	return nil
}

// Topic returns the subscribed topic.
func (s *channelSubscription) Topic() string {
	return s.topic
}
