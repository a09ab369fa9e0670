package bus

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opensource-finance/fraudflow/internal/domain"
)

func waitFor(t *testing.T, ch <-chan *domain.Message) *domain.Message {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
		return nil
	}
}

func collect(ch chan *domain.Message) domain.MessageHandler {
	return func(ctx context.Context, msg *domain.Message) error {
		ch <- msg
		return nil
	}
}

func TestChannelBus(t *testing.T) {
	bus := NewChannelBus(100)
	defer bus.Close()

	ctx := context.Background()
	ns := "default"

	t.Run("PublishAndSubscribe", func(t *testing.T) {
		got := make(chan *domain.Message, 1)
		if _, err := bus.Subscribe(ctx, ns, domain.TopicRunState, collect(got)); err != nil {
			t.Fatalf("subscribe failed: %v", err)
		}

		if err := bus.Publish(ctx, ns, domain.TopicRunState, []byte("hello")); err != nil {
			t.Fatalf("publish failed: %v", err)
		}

		msg := waitFor(t, got)
		if string(msg.Payload) != "hello" {
			t.Errorf("expected payload 'hello', got '%s'", string(msg.Payload))
		}
		if msg.Namespace != ns || msg.Topic != domain.TopicRunState {
			t.Errorf("unexpected envelope %+v", msg)
		}
		if msg.ID == "" || msg.Timestamp == 0 {
			t.Error("message ID and timestamp should be set")
		}
	})

	t.Run("NamespaceIsolation", func(t *testing.T) {
		got := make(chan *domain.Message, 1)
		if _, err := bus.Subscribe(ctx, "pipeline-a", "iso.topic", collect(got)); err != nil {
			t.Fatal(err)
		}

		_ = bus.Publish(ctx, "pipeline-b", "iso.topic", []byte("other"))
		_ = bus.Publish(ctx, "pipeline-a", "iso.topic", []byte("mine"))

		if msg := waitFor(t, got); string(msg.Payload) != "mine" {
			t.Errorf("received message from another namespace: %s", msg.Payload)
		}
	})

	t.Run("RequiresNamespace", func(t *testing.T) {
		if err := bus.Publish(ctx, "", "t", nil); !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("Publish: expected ErrInvalidInput, got %v", err)
		}
		_, err := bus.Subscribe(ctx, "", "t", func(context.Context, *domain.Message) error { return nil })
		if !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("Subscribe: expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("Unsubscribe", func(t *testing.T) {
		var count atomic.Int32
		sub, err := bus.Subscribe(ctx, ns, "unsub.topic", func(ctx context.Context, msg *domain.Message) error {
			count.Add(1)
			return nil
		})
		if err != nil {
			t.Fatal(err)
		}
		if err := sub.Unsubscribe(); err != nil {
			t.Fatalf("unsubscribe failed: %v", err)
		}

		_ = bus.Publish(ctx, ns, "unsub.topic", []byte("late"))
		time.Sleep(20 * time.Millisecond)
		if count.Load() != 0 {
			t.Errorf("handler ran after unsubscribe")
		}

		bus.mu.RLock()
		_, ok := bus.subscriptions[makeKey(ns, "unsub.topic")]
		bus.mu.RUnlock()
		if ok {
			t.Error("subscription still registered")
		}
	})

	t.Run("MultipleSubscribers", func(t *testing.T) {
		a := make(chan *domain.Message, 1)
		b := make(chan *domain.Message, 1)
		_, _ = bus.Subscribe(ctx, ns, "fan.topic", collect(a))
		_, _ = bus.Subscribe(ctx, ns, "fan.topic", collect(b))

		_ = bus.Publish(ctx, ns, "fan.topic", []byte("x"))
		waitFor(t, a)
		waitFor(t, b)
	})

	t.Run("PublishJSON", func(t *testing.T) {
		got := make(chan *domain.Message, 1)
		_, _ = bus.Subscribe(ctx, ns, domain.TopicRunCompleted, collect(got))

		ev := domain.RunEvent{RunID: "run-1", State: domain.RunLoaded, Rows: 10}
		if err := PublishJSON(ctx, bus, ns, domain.TopicRunCompleted, ev); err != nil {
			t.Fatal(err)
		}

		var decoded domain.RunEvent
		if err := json.Unmarshal(waitFor(t, got).Payload, &decoded); err != nil {
			t.Fatal(err)
		}
		if decoded.RunID != "run-1" || decoded.State != domain.RunLoaded || decoded.Rows != 10 {
			t.Errorf("unexpected event %+v", decoded)
		}
	})

	t.Run("Ping", func(t *testing.T) {
		if err := bus.Ping(ctx); err != nil {
			t.Errorf("ping failed: %v", err)
		}
	})

	t.Run("SubscriptionTopic", func(t *testing.T) {
		sub, _ := bus.Subscribe(ctx, ns, "my.topic", func(context.Context, *domain.Message) error { return nil })
		if sub.Topic() != "my.topic" {
			t.Errorf("expected topic 'my.topic', got %q", sub.Topic())
		}
	})
}

func TestChannelBusClose(t *testing.T) {
	bus := NewChannelBus(100)
	ctx := context.Background()

	_, _ = bus.Subscribe(ctx, "default", "close.topic", func(context.Context, *domain.Message) error {
		return nil
	})

	if err := bus.Close(); err != nil {
		t.Errorf("close failed: %v", err)
	}
	if err := bus.Close(); err != nil {
		t.Errorf("second close failed: %v", err)
	}

	if err := bus.Publish(ctx, "default", "close.topic", []byte("data")); err == nil {
		t.Error("expected error after close")
	}
	if err := bus.Ping(ctx); err == nil {
		t.Error("expected ping error after close")
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
		if _, err := New(domain.EventBusConfig{Type: "kafka"}); !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("NATSUnreachable", func(t *testing.T) {
		_, err := New(domain.EventBusConfig{
			Type:              "nats",
			NATSUrl:           "nats://127.0.0.1:1",
			NATSMaxReconnects: 1,
			NATSReconnectWait: 1,
		})
		if err == nil {
			t.Fatal("expected connection error")
		}
	})
}

func TestMakeSubject(t *testing.T) {
	if got := makeSubject("prod", domain.TopicRunRequested); got != "prod.fraudflow.run.requested" {
		t.Errorf("unexpected subject %q", got)
	}
}

func TestChannelBusHighLoad(t *testing.T) {
	bus := NewChannelBus(1000)
	defer bus.Close()

	ctx := context.Background()
	const messageCount = 100

	got := make(chan *domain.Message, messageCount)
	_, _ = bus.Subscribe(ctx, "load", "load.topic", collect(got))

	for i := 0; i < messageCount; i++ {
		_ = bus.Publish(ctx, "load", "load.topic", []byte("msg"))
	}

	for i := 0; i < messageCount; i++ {
		waitFor(t, got)
	}
}
