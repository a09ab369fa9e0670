package domain

import (
	"context"
)

// EventBus carries run requests and run lifecycle events.
// Supports Go channels (Community) or NATS (Pro).
// Every method is scoped by a namespace so several pipelines can share a bus.
type EventBus interface {
	// Publish sends a message to a topic.
	Publish(ctx context.Context, namespace string, topic string, payload []byte) error

	// Subscribe registers a handler for a topic.
	// Returns a subscription that can be used to unsubscribe.
	Subscribe(ctx context.Context, namespace string, topic string, handler MessageHandler) (Subscription, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// MessageHandler processes incoming messages.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message represents an event message.
type Message struct {
	ID        string            `json:"id"`
	Namespace string            `json:"namespace"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp int64             `json:"timestamp"`
}

// Subscription represents an active subscription.
type Subscription interface {
	// Unsubscribe stops receiving messages.
	Unsubscribe() error

	// Topic returns the subscribed topic.
	Topic() string
}

// EventBusConfig holds configuration for event bus initialization.
type EventBusConfig struct {
	// Type is the bus type: "channel" or "nats"
	Type string `yaml:"type"`

	// Namespace scopes topics, e.g. one per pipeline deployment.
	Namespace string `yaml:"namespace"`

	// Channel settings (Community tier)
	ChannelBufferSize int `yaml:"channelBufferSize"`

	// NATS settings (Pro tier)
	NATSUrl           string `yaml:"natsUrl"`
	NATSToken         string `yaml:"natsToken"`
	NATSMaxReconnects int    `yaml:"natsMaxReconnects"`
	NATSReconnectWait int    `yaml:"natsReconnectWait"` // seconds

	// NATSQueueGroup load-balances run requests across worker processes.
	// Lifecycle events still reach every subscriber.
	NATSQueueGroup string `yaml:"natsQueueGroup"`
}

// Standard topic names for the pipeline.
const (
	TopicRunRequested = "fraudflow.run.requested"
	TopicRunState     = "fraudflow.run.state"
	TopicRunCompleted = "fraudflow.run.completed"
	TopicRunFailed    = "fraudflow.run.failed"
)
