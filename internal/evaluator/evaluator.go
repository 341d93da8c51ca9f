// Package evaluator orchestrates enrichment and scoring for evaluation
// requests, from both the HTTP path and the bus consumer.
package evaluator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/theomodesto/fraudshield/internal/domain"
	"github.com/theomodesto/fraudshield/internal/enrich"
	"github.com/theomodesto/fraudshield/internal/merchant"
	"github.com/theomodesto/fraudshield/internal/metrics"
	"github.com/theomodesto/fraudshield/internal/scoring"
)

// ErrCaptchaFailed reports a captcha token the provider rejected.
var ErrCaptchaFailed = errors.New("captcha verification failed")

// riskScoreCacheTTL bounds the fast lookup path for produced scores.
const riskScoreCacheTTL = time.Hour

// Evaluator runs the evaluation pipeline: resolve merchant config, enrich,
// score, persist, publish. A global failsafe timeout bounds the whole path;
// on expiry the caller gets a fingerprint-only fallback score instead of an
// error.
type Evaluator struct {
	enricher *enrich.Enricher
	scorer   *scoring.Scorer
	store    *merchant.Store
	repo     domain.Repository
	cache    domain.Cache
	bus      domain.EventBus
	captcha  domain.CaptchaVerifier
	failsafe time.Duration
}

// New creates an evaluator. The captcha verifier may be nil; the captcha
// retry path then reports an error.
func New(
	enricher *enrich.Enricher,
	scorer *scoring.Scorer,
	store *merchant.Store,
	repo domain.Repository,
	cache domain.Cache,
	bus domain.EventBus,
	captcha domain.CaptchaVerifier,
	cfg domain.ScoringConfig,
) *Evaluator {
	failsafe := cfg.FailsafeTimeout
	if failsafe <= 0 {
		failsafe = 3 * time.Second
	}

	return &Evaluator{
		enricher: enricher,
		scorer:   scorer,
		store:    store,
		repo:     repo,
		cache:    cache,
		bus:      bus,
		captcha:  captcha,
		failsafe: failsafe,
	}
}

// Evaluate runs one full evaluation and returns the resulting risk score.
// The score is persisted, cached, and published on the risk_scores channel
// before returning.
func (e *Evaluator) Evaluate(ctx context.Context, raw *domain.RawEvent) (*domain.RiskScore, error) {
	start := time.Now()
	evaluationID := uuid.New().String()
	if raw.TimestampMs == 0 {
		raw.TimestampMs = time.Now().UnixMilli()
	}

	type outcome struct {
		rs *domain.RiskScore
	}

	pipelineCtx, cancel := context.WithTimeout(ctx, e.failsafe)
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		done <- outcome{rs: e.pipeline(pipelineCtx, evaluationID, raw)}
	}()

	var rs *domain.RiskScore
	select {
	case out := <-done:
		rs = out.rs
		metrics.EvaluationsTotal.WithLabelValues("ok").Inc()
	case <-pipelineCtx.Done():
		slog.Warn("evaluation hit failsafe timeout, returning fallback score",
			"evaluation_id", evaluationID,
			"merchant_id", raw.MerchantID,
			"timeout", e.failsafe,
		)
		rs = e.fallbackScore(evaluationID, raw)
		metrics.EvaluationsTotal.WithLabelValues("failsafe").Inc()
	}

	e.persistAndPublish(rs)

	metrics.EvaluationDuration.Observe(time.Since(start).Seconds())
	metrics.RiskScores.Observe(float64(rs.Score))
	return rs, nil
}

// pipeline is the happy path: settings, enrichment, rules, score.
func (e *Evaluator) pipeline(ctx context.Context, evaluationID string, raw *domain.RawEvent) *domain.RiskScore {
	settings, err := e.store.GetSettings(ctx, raw.MerchantID)
	if err != nil {
		slog.Warn("settings resolution failed, using baseline",
			"merchant_id", raw.MerchantID,
			"error", err,
		)
		settings = domain.BaselineSettings(raw.MerchantID)
	}

	enriched := e.enricher.Enrich(ctx, raw, settings)

	merchantRules, err := e.store.GetRules(ctx, raw.MerchantID)
	if err != nil {
		slog.Warn("rule load failed, scoring without custom rules",
			"merchant_id", raw.MerchantID,
			"error", err,
		)
		merchantRules = nil
	}

	return e.scorer.Score(ctx, evaluationID, enriched, settings, merchantRules)
}

// fallbackScore builds the fingerprint-only score served when the pipeline
// misses its failsafe deadline.
func (e *Evaluator) fallbackScore(evaluationID string, raw *domain.RawEvent) *domain.RiskScore {
	score := 0
	factors := []string{domain.FactorFailsafeTimeout}

	switch confidence := raw.FingerprintData.Confidence; {
	case confidence < 0.3:
		score = 30
		factors = append(factors, domain.FactorLowDeviceConfidence)
	case confidence < 0.7:
		score = 10
		factors = append(factors, domain.FactorMediumDeviceConfidence)
	}

	return &domain.RiskScore{
		ID:           uuid.New().String(),
		EvaluationID: evaluationID,
		SessionID:    raw.SessionID,
		MerchantID:   raw.MerchantID,
		VisitorID:    raw.FingerprintData.VisitorID,
		Score:        score,
		RiskFactors:  factors,
		TimestampMs:  time.Now().UnixMilli(),
	}
}

// VerifyCaptcha checks a captcha token and, on success, produces a fresh
// risk score for the evaluation with the captcha_verified factor and the
// captcha requirement cleared.
func (e *Evaluator) VerifyCaptcha(ctx context.Context, evaluationID, token string) (*domain.RiskScore, error) {
	if e.captcha == nil {
		return nil, fmt.Errorf("captcha verification is not configured")
	}

	ok, err := e.captcha.Verify(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("verify captcha token: %w", err)
	}
	if !ok {
		return nil, ErrCaptchaFailed
	}

	prior, err := e.RiskScoreByEvaluation(ctx, evaluationID)
	if err != nil {
		return nil, fmt.Errorf("load risk score for evaluation %s: %w", evaluationID, err)
	}

	verified := &domain.RiskScore{
		ID:              uuid.New().String(),
		EvaluationID:    prior.EvaluationID,
		SessionID:       prior.SessionID,
		MerchantID:      prior.MerchantID,
		VisitorID:       prior.VisitorID,
		Score:           prior.Score,
		IsFraud:         prior.IsFraud,
		RequiresCaptcha: false,
		RiskFactors:     append(append([]string{}, prior.RiskFactors...), domain.FactorCaptchaVerified),
		TimestampMs:     time.Now().UnixMilli(),
	}

	e.persistAndPublish(verified)
	return verified, nil
}

// RiskScoreByEvaluation serves the latest risk score for an evaluation,
// checking the cache before the repository.
func (e *Evaluator) RiskScoreByEvaluation(ctx context.Context, evaluationID string) (*domain.RiskScore, error) {
	key := "riskscore:evaluation:" + evaluationID

	if data, err := e.cache.Get(ctx, key); err == nil && data != nil {
		var rs domain.RiskScore
		if err := json.Unmarshal(data, &rs); err == nil {
			return &rs, nil
		}
	}

	rs, err := e.repo.GetRiskScoreByEvaluation(ctx, evaluationID)
	if err != nil {
		return nil, err
	}
	return rs, nil
}

// persistAndPublish stores the score and pushes it on the risk_scores
// channel. Uses a detached context so a cancelled caller cannot lose the
// score after it was already returned.
func (e *Evaluator) persistAndPublish(rs *domain.RiskScore) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := e.repo.SaveRiskScore(ctx, rs); err != nil {
		slog.Error("risk score persistence failed",
			"evaluation_id", rs.EvaluationID,
			"error", err,
		)
	}

	if data, err := json.Marshal(rs); err == nil {
		key := "riskscore:evaluation:" + rs.EvaluationID
		if cerr := e.cache.Set(ctx, key, data, riskScoreCacheTTL); cerr != nil {
			slog.Warn("risk score cache write failed", "error", cerr)
		}

		if perr := e.bus.Publish(ctx, domain.ChannelRiskScores, rs.MerchantID, data); perr != nil {
			slog.Error("risk score publish failed",
				"evaluation_id", rs.EvaluationID,
				"error", perr,
			)
		}
	}
}
