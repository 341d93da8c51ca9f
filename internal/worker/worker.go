// Package worker runs the bus consumers that drive the async pipeline.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/theomodesto/fraudshield/internal/decision"
	"github.com/theomodesto/fraudshield/internal/domain"
	"github.com/theomodesto/fraudshield/internal/evaluator"
	"github.com/theomodesto/fraudshield/internal/metrics"
)

// Worker owns the two consumer loops: raw_events through the evaluator and
// risk_scores through the decisioner. Each loop is one consumer-group member;
// scale by running more instances.
type Worker struct {
	bus        domain.EventBus
	evaluator  *evaluator.Evaluator
	decisioner *decision.Decisioner
	groupID    string

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewWorker creates the worker. groupID names the consumer group shared by
// all instances of this service.
func NewWorker(bus domain.EventBus, ev *evaluator.Evaluator, dec *decision.Decisioner, groupID string) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	if groupID == "" {
		groupID = "fraudshield"
	}
	return &Worker{
		bus:        bus,
		evaluator:  ev,
		decisioner: dec,
		groupID:    groupID,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start launches both consumer loops. They run until Stop.
func (w *Worker) Start() {
	w.wg.Add(2)

	go func() {
		defer w.wg.Done()
		if err := w.bus.Consume(w.ctx, domain.ChannelRawEvents, w.groupID+"-evaluators", w.handleRawEvents); err != nil {
			slog.Error("raw event consumer exited", "error", err)
		}
	}()

	go func() {
		defer w.wg.Done()
		if err := w.bus.Consume(w.ctx, domain.ChannelRiskScores, w.groupID+"-decisioners", w.handleRiskScores); err != nil {
			slog.Error("risk score consumer exited", "error", err)
		}
	}()

	slog.Info("workers started", "group", w.groupID)
}

// handleRawEvents evaluates one batch of raw events. A malformed payload is
// logged and skipped; redelivering it would never succeed.
func (w *Worker) handleRawEvents(ctx context.Context, batch []*domain.Message) error {
	for _, msg := range batch {
		var raw domain.RawEvent
		if err := json.Unmarshal(msg.Payload, &raw); err != nil {
			slog.Error("failed to parse raw event, skipping",
				"message_id", msg.ID,
				"error", err,
			)
			continue
		}

		start := time.Now()
		rs, err := w.evaluator.Evaluate(ctx, &raw)
		if err != nil {
			slog.Error("evaluation failed",
				"message_id", msg.ID,
				"merchant_id", raw.MerchantID,
				"error", err,
			)
			metrics.BusConsumeErrors.WithLabelValues(domain.ChannelRawEvents).Inc()
			return err
		}

		slog.Debug("event evaluated",
			"evaluation_id", rs.EvaluationID,
			"merchant_id", rs.MerchantID,
			"score", rs.Score,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
	return nil
}

// handleRiskScores decides one batch of risk scores and publishes the
// resulting decisions downstream. A failure mid-batch returns the error so
// the whole batch is redelivered; idempotent decisioning absorbs the
// duplicates.
func (w *Worker) handleRiskScores(ctx context.Context, batch []*domain.Message) error {
	for _, msg := range batch {
		var rs domain.RiskScore
		if err := json.Unmarshal(msg.Payload, &rs); err != nil {
			slog.Error("failed to parse risk score, skipping",
				"message_id", msg.ID,
				"error", err,
			)
			continue
		}

		dec, created, err := w.decisioner.Decide(ctx, &rs)
		if err != nil {
			slog.Error("decisioning failed",
				"evaluation_id", rs.EvaluationID,
				"error", err,
			)
			metrics.BusConsumeErrors.WithLabelValues(domain.ChannelRiskScores).Inc()
			return err
		}

		if created {
			metrics.DecisionsTotal.WithLabelValues(dec.Decision).Inc()
			if data, merr := json.Marshal(dec); merr == nil {
				if perr := w.bus.Publish(ctx, domain.ChannelDecisions, dec.MerchantID, data); perr != nil {
					slog.Error("decision publish failed",
						"decision_id", dec.ID,
						"error", perr,
					)
				}
			}

			slog.Info("decision made",
				"decision_id", dec.ID,
				"evaluation_id", dec.EvaluationID,
				"merchant_id", dec.MerchantID,
				"decision", dec.Decision,
				"score", dec.RiskScore,
			)
		}
	}
	return nil
}

// Stop drains the consumers: no new polls are issued and in-flight batches
// finish before it returns.
func (w *Worker) Stop() {
	w.cancel()
	w.wg.Wait()
	slog.Info("workers stopped")
}
