package domain

import (
	"context"
	"time"
)

// Logical bus channels for the evaluation pipeline.
const (
	ChannelRawEvents  = "raw_events"
	ChannelRiskScores = "risk_scores"
	ChannelDecisions  = "transaction_decisions"
)

// Message is one event on the bus. Payloads are the RawEvent/RiskScore/
// Decision structures serialized as JSON.
type Message struct {
	ID        string `json:"id"`
	Channel   string `json:"channel"`
	Key       string `json:"key"`
	Payload   []byte `json:"payload"`
	Partition int    `json:"partition,omitempty"`
	Offset    int64  `json:"offset,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// BatchHandler processes one consumed batch. Returning an error leaves the
// batch uncommitted so the broker redelivers it.
type BatchHandler func(ctx context.Context, batch []*Message) error

// EventBus is the durable hand-off between pipeline stages.
//
// Publish serializes at-least-once semantics onto the broker: it returns an
// error on transport failure without retrying (callers own retry policy).
// The key selects the partition; per-merchant ordering requires keying by
// merchant id.
//
// Consume runs a poll loop until ctx is cancelled: it fetches up to a
// configured batch size with a bounded wait, invokes the handler, and commits
// the consumed offsets only after the handler returns success for the whole
// batch. Connection loss backs off before the next poll. On shutdown the
// in-flight batch finishes before the consumer disconnects.
type EventBus interface {
	Publish(ctx context.Context, channel string, key string, payload []byte) error
	Consume(ctx context.Context, channel string, groupID string, handler BatchHandler) error
	Ping(ctx context.Context) error
	Close() error
}

// EventBusConfig holds configuration for event bus initialization.
type EventBusConfig struct {
	// Type is the bus type: "channel" or "kafka"
	Type string

	// Channel settings (in-process bus for development and tests)
	ChannelBufferSize int

	// Kafka settings
	Brokers       []string
	BatchSize     int
	BatchWait     time.Duration
	ReconnectWait time.Duration
}
