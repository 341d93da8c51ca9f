// Package bus provides event bus implementations for FraudShield.
package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/theomodesto/fraudshield/internal/domain"
)

// ChannelBus implements EventBus in process. It mimics the broker contract
// closely enough for development and tests: consumer groups share a queue per
// channel, batches are removed from the queue only after the handler
// succeeds, and failed batches are redelivered after a short backoff.
type ChannelBus struct {
	mu         sync.RWMutex
	bufferSize int
	batchSize  int
	batchWait  time.Duration
	retryWait  time.Duration
	groups     map[string]*groupQueue
	closed     bool
}

type groupQueue struct {
	mu      sync.Mutex
	pending []*domain.Message
	notify  chan struct{}
}

// NewChannelBus creates a new in-process event bus.
func NewChannelBus(cfg domain.EventBusConfig) *ChannelBus {
	bufferSize := cfg.ChannelBufferSize
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 50
	}
	batchWait := cfg.BatchWait
	if batchWait <= 0 {
		batchWait = 250 * time.Millisecond
	}
	retryWait := cfg.ReconnectWait
	if retryWait <= 0 {
		retryWait = 5 * time.Second
	}

	return &ChannelBus{
		bufferSize: bufferSize,
		batchSize:  batchSize,
		batchWait:  batchWait,
		retryWait:  retryWait,
		groups:     make(map[string]*groupQueue),
	}
}

// Publish appends the message to every consumer group queue on the channel.
// Queues that are full drop the message, mirroring a lagging consumer.
func (b *ChannelBus) Publish(ctx context.Context, channel string, key string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return fmt.Errorf("bus is closed")
	}

	msg := &domain.Message{
		ID:        uuid.New().String(),
		Channel:   channel,
		Key:       key,
		Payload:   payload,
		Timestamp: time.Now().UnixNano(),
	}

	for name, g := range b.groups {
		if channelOf(name) != channel {
			continue
		}
		g.mu.Lock()
		if len(g.pending) >= b.bufferSize {
			g.mu.Unlock()
			slog.Warn("channel bus queue full, dropping message",
				"channel", channel,
				"group", name,
			)
			continue
		}
		g.pending = append(g.pending, msg)
		g.mu.Unlock()

		select {
		case g.notify <- struct{}{}:
		default:
		}
	}

	return nil
}

// Consume runs the poll loop for one consumer in the given group. It blocks
// until ctx is cancelled. Batches are committed (removed) only after the
// handler returns nil; otherwise the same batch is redelivered after the
// retry wait.
func (b *ChannelBus) Consume(ctx context.Context, channel string, groupID string, handler domain.BatchHandler) error {
	g := b.group(channel, groupID)
	if g == nil {
		return fmt.Errorf("bus is closed")
	}

	for {
		batch := b.takeBatch(ctx, g)
		if batch == nil {
			// ctx cancelled while waiting; drain is complete because the
			// previous batch was already committed or requeued.
			return nil
		}

		if err := handler(ctx, batch); err != nil {
			slog.Warn("batch handler failed, redelivering",
				"channel", channel,
				"group", groupID,
				"batch_size", len(batch),
				"error", err,
			)
			g.requeue(batch)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(b.retryWait):
			}
			continue
		}
	}
}

// takeBatch removes up to batchSize messages, waiting up to batchWait for the
// first one. Returns nil when ctx is done.
func (b *ChannelBus) takeBatch(ctx context.Context, g *groupQueue) []*domain.Message {
	for {
		g.mu.Lock()
		if len(g.pending) > 0 {
			n := len(g.pending)
			if n > b.batchSize {
				n = b.batchSize
			}
			batch := make([]*domain.Message, n)
			copy(batch, g.pending[:n])
			g.pending = g.pending[n:]
			g.mu.Unlock()
			return batch
		}
		g.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil
		case <-g.notify:
		case <-time.After(b.batchWait):
		}
	}
}

func (g *groupQueue) requeue(batch []*domain.Message) {
	g.mu.Lock()
	g.pending = append(batch, g.pending...)
	g.mu.Unlock()
}

func (b *ChannelBus) group(channel, groupID string) *groupQueue {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}

	name := channel + "|" + groupID
	g, ok := b.groups[name]
	if !ok {
		g = &groupQueue{notify: make(chan struct{}, 1)}
		b.groups[name] = g
	}
	return g
}

func channelOf(groupName string) string {
	for i := 0; i < len(groupName); i++ {
		if groupName[i] == '|' {
			return groupName[:i]
		}
	}
	return groupName
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

// Close closes the event bus.
func (b *ChannelBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.groups = make(map[string]*groupQueue)
	return nil
}
