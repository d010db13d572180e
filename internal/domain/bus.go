package domain

import (
	"context"
)

// EventBus defines the interface for lifecycle event distribution.
// Supports Go channels (single node) or NATS (multi-node).
type EventBus interface {
	// Publish sends a message to a topic.
	Publish(ctx context.Context, topic string, payload []byte) error

	// Subscribe registers a handler for a topic.
	// Returns a subscription that can be used to unsubscribe.
	Subscribe(ctx context.Context, topic string, handler MessageHandler) (Subscription, error)

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
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata,omitempty"`
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
	Type string

	// Channel settings
	ChannelBufferSize int

	// NATS settings
	NATSUrl           string
	NATSToken         string
	NATSMaxReconnects int
	NATSReconnectWait int // seconds
}

// Topics published by the lifecycle services. Audit and cache-coherence
// consumers subscribe to these.
const (
	TopicRuleVersionApproved     = "harrier.rule_version.approved"
	TopicRulesetCreated          = "harrier.ruleset.created"
	TopicRulesetVersionApproved  = "harrier.ruleset_version.approved"
	TopicRulesetVersionActivated = "harrier.ruleset_version.activated"
	TopicRulesetVersionDemoted   = "harrier.ruleset_version.demoted"
)

// LifecycleEvent is the payload published on the lifecycle topics.
type LifecycleEvent struct {
	RulesetID        string `json:"rulesetId,omitempty"`
	RulesetVersionID string `json:"rulesetVersionId,omitempty"`
	RuleID           string `json:"ruleId,omitempty"`
	RuleVersionID    string `json:"ruleVersionId,omitempty"`
	Actor            string `json:"actor"`
	Fingerprint      string `json:"fingerprint,omitempty"`
}
