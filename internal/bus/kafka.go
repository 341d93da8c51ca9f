package bus

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/theomodesto/fraudshield/internal/domain"
)

// KafkaBus implements EventBus over Kafka via segmentio/kafka-go.
//
// Publishing uses one writer per channel with full-ISR acknowledgment and a
// merchant-keyed hash balancer, so per-merchant ordering holds within a
// partition. Consuming uses a consumer-group reader per Consume call: offsets
// are committed only after the batch handler succeeds, and a handler failure
// resets the reader so the uncommitted batch is redelivered.
type KafkaBus struct {
	mu      sync.Mutex
	cfg     domain.EventBusConfig
	writers map[string]*kafka.Writer
	closed  bool
}

// NewKafkaBus creates a Kafka-backed event bus.
func NewKafkaBus(cfg domain.EventBusConfig) (*KafkaBus, error) {
	if len(cfg.Brokers) == 0 {
		cfg.Brokers = []string{"localhost:9092"}
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.BatchWait <= 0 {
		cfg.BatchWait = 250 * time.Millisecond
	}
	if cfg.ReconnectWait <= 0 {
		cfg.ReconnectWait = 5 * time.Second
	}

	return &KafkaBus{
		cfg:     cfg,
		writers: make(map[string]*kafka.Writer),
	}, nil
}

// Publish writes one message with delivery acknowledgment. Transport
// failures return to the caller without retry; the writer buffers while the
// broker is still coming up.
func (b *KafkaBus) Publish(ctx context.Context, channel string, key string, payload []byte) error {
	w, err := b.writer(channel)
	if err != nil {
		return err
	}

	err = w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Time:  time.Now(),
	})
	if err != nil {
		slog.Error("kafka publish failed",
			"channel", channel,
			"key", key,
			"error", err,
		)
		return fmt.Errorf("publish to %s: %w", channel, err)
	}
	return nil
}

func (b *KafkaBus) writer(channel string) (*kafka.Writer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, fmt.Errorf("bus is closed")
	}

	w, ok := b.writers[channel]
	if !ok {
		w = &kafka.Writer{
			Addr:                   kafka.TCP(b.cfg.Brokers...),
			Topic:                  channel,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			BatchTimeout:           10 * time.Millisecond,
			AllowAutoTopicCreation: true,
		}
		b.writers[channel] = w
	}
	return w, nil
}

// Consume runs the poll loop for one consumer-group member until ctx is
// cancelled. Each iteration fetches up to BatchSize messages with a bounded
// wait, invokes the handler, and commits offsets only on handler success.
// A handler or fetch failure closes the reader, backs off, and rejoins the
// group so uncommitted messages are redelivered.
func (b *KafkaBus) Consume(ctx context.Context, channel string, groupID string, handler domain.BatchHandler) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		reader := kafka.NewReader(kafka.ReaderConfig{
			Brokers:  b.cfg.Brokers,
			Topic:    channel,
			GroupID:  groupID,
			MinBytes: 1,
			MaxBytes: 10 << 20,
			MaxWait:  b.cfg.BatchWait,
			ErrorLogger: kafka.LoggerFunc(func(msg string, args ...any) {
				slog.Error("kafka reader error", "channel", channel, "detail", fmt.Sprintf(msg, args...))
			}),
		})

		err := b.consumeWith(ctx, reader, channel, groupID, handler)
		if closeErr := reader.Close(); closeErr != nil {
			slog.Warn("kafka reader close failed", "channel", channel, "error", closeErr)
		}

		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			slog.Warn("kafka consume loop restarting",
				"channel", channel,
				"group", groupID,
				"backoff", b.cfg.ReconnectWait,
				"error", err,
			)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(b.cfg.ReconnectWait):
			}
		}
	}
}

// consumeWith drives one reader session. It returns an error when the session
// must be torn down so the group rejoins and uncommitted offsets redeliver.
func (b *KafkaBus) consumeWith(ctx context.Context, reader *kafka.Reader, channel, groupID string, handler domain.BatchHandler) error {
	for {
		raw, err := b.fetchBatch(ctx, reader)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("fetch: %w", err)
		}
		if len(raw) == 0 {
			continue
		}

		batch := make([]*domain.Message, len(raw))
		for i, m := range raw {
			batch[i] = &domain.Message{
				ID:        fmt.Sprintf("%s-%d-%d", m.Topic, m.Partition, m.Offset),
				Channel:   m.Topic,
				Key:       string(m.Key),
				Payload:   m.Value,
				Partition: m.Partition,
				Offset:    m.Offset,
				Timestamp: m.Time.UnixNano(),
			}
		}

		// The in-flight batch finishes even while shutting down: the handler
		// got the batch, so we commit before honoring cancellation.
		if err := handler(ctx, batch); err != nil {
			return fmt.Errorf("handler: %w", err)
		}

		commitCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err = reader.CommitMessages(commitCtx, raw...)
		cancel()
		if err != nil {
			return fmt.Errorf("commit: %w", err)
		}

		if ctx.Err() != nil {
			return nil
		}
	}
}

// fetchBatch blocks for the first message, then drains whatever else arrives
// within the batch wait, up to the configured batch size.
func (b *KafkaBus) fetchBatch(ctx context.Context, reader *kafka.Reader) ([]kafka.Message, error) {
	first, err := reader.FetchMessage(ctx)
	if err != nil {
		return nil, err
	}

	batch := []kafka.Message{first}

	drainCtx, cancel := context.WithTimeout(ctx, b.cfg.BatchWait)
	defer cancel()

	for len(batch) < b.cfg.BatchSize {
		msg, err := reader.FetchMessage(drainCtx)
		if err != nil {
			// Deadline on the drain context just means the batch is as full
			// as it is going to get.
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				break
			}
			return nil, err
		}
		batch = append(batch, msg)
	}

	return batch, nil
}

// Ping dials the first broker to verify connectivity.
func (b *KafkaBus) Ping(ctx context.Context) error {
	if len(b.cfg.Brokers) == 0 {
		return fmt.Errorf("no brokers configured")
	}
	conn, err := kafka.DialContext(ctx, "tcp", b.cfg.Brokers[0])
	if err != nil {
		return fmt.Errorf("kafka dial: %w", err)
	}
	return conn.Close()
}

// Close closes all writers. Readers are owned by their Consume calls and
// close when those return.
func (b *KafkaBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	var lastErr error
	for channel, w := range b.writers {
		if err := w.Close(); err != nil {
			lastErr = err
			slog.Error("kafka writer close failed", "channel", channel, "error", err)
		}
	}
	b.writers = make(map[string]*kafka.Writer)
	return lastErr
}
