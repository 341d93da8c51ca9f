// Package scoring computes risk scores from enriched events.
package scoring

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/theomodesto/fraudshield/internal/domain"
	"github.com/theomodesto/fraudshield/internal/rules"
)

// Score contributions per signal.
const (
	weightLowConfidence    = 30
	weightMediumConfidence = 10
	weightIncognito        = 15
	weightHighRiskCountry  = 20
	weightSessionVelocity  = 25
	weightIPVelocity       = 30
)

// Confidence bands for the device fingerprint signal.
const (
	lowConfidenceBound    = 0.3
	mediumConfidenceBound = 0.7
)

// highRiskCountrySet is the cache set holding the live high-risk country
// list. Seeded at startup and updatable without redeploying.
const highRiskCountrySet = "highrisk:countries"

// SeedHighRiskCountries loads the configured country list into the live
// cache set. Called at startup; the long TTL is refreshed on every restart.
func SeedHighRiskCountries(ctx context.Context, c domain.Cache, countries []string) error {
	if c == nil || len(countries) == 0 {
		return nil
	}
	return c.AddToSet(ctx, highRiskCountrySet, 30*24*time.Hour, countries...)
}

// Scorer computes additive risk scores. A panic anywhere in the calculation
// fails open to a zero score tagged calculation_error, so a scoring bug can
// never block legitimate traffic.
type Scorer struct {
	cfg    domain.ScoringConfig
	cache  domain.Cache
	engine *rules.Engine
	model  domain.Model
}

// New creates a scorer. The model is optional; pass nil to score on
// heuristics and merchant rules alone.
func New(cfg domain.ScoringConfig, cache domain.Cache, engine *rules.Engine, model domain.Model) *Scorer {
	if cfg.CaptchaThreshold <= 0 {
		cfg.CaptchaThreshold = 50
	}
	if cfg.SessionVelocityLimit <= 0 {
		cfg.SessionVelocityLimit = 10
	}
	if cfg.IPVelocityLimit <= 0 {
		cfg.IPVelocityLimit = 20
	}

	return &Scorer{
		cfg:    cfg,
		cache:  cache,
		engine: engine,
		model:  model,
	}
}

// Score computes the risk score for one enriched event.
func (s *Scorer) Score(ctx context.Context, evaluationID string, ev *domain.EnrichedEvent, settings *domain.MerchantSettings, merchantRules []*domain.Rule) *domain.RiskScore {
	score, factors := s.calculate(ctx, ev, merchantRules)

	score = domain.ClampScore(score)

	riskThreshold := 70
	if settings != nil && settings.RiskThreshold > 0 {
		riskThreshold = settings.RiskThreshold
	}

	return &domain.RiskScore{
		ID:              uuid.New().String(),
		EvaluationID:    evaluationID,
		SessionID:       ev.SessionID,
		MerchantID:      ev.MerchantID,
		VisitorID:       ev.FingerprintData.VisitorID,
		Score:           score,
		IsFraud:         score >= riskThreshold,
		RequiresCaptcha: score >= s.cfg.CaptchaThreshold,
		RiskFactors:     factors,
		TimestampMs:     time.Now().UnixMilli(),
	}
}

// calculate runs the additive model under a recover so a panic degrades to a
// zero score instead of killing the evaluation.
func (s *Scorer) calculate(ctx context.Context, ev *domain.EnrichedEvent, merchantRules []*domain.Rule) (score int, factors []string) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("score calculation panicked, failing open",
				"merchant_id", ev.MerchantID,
				"session_id", ev.SessionID,
				"panic", r,
			)
			score = 0
			factors = []string{domain.FactorCalculationError}
		}
	}()

	factors = []string{}

	confidence := ev.FingerprintData.Confidence
	switch {
	case confidence < lowConfidenceBound:
		score += weightLowConfidence
		factors = append(factors, domain.FactorLowDeviceConfidence)
	case confidence < mediumConfidenceBound:
		score += weightMediumConfidence
		factors = append(factors, domain.FactorMediumDeviceConfidence)
	}

	if ev.FingerprintData.Incognito {
		score += weightIncognito
		factors = append(factors, domain.FactorIncognitoMode)
	}

	if ev.GeoData != nil && s.isHighRiskCountry(ctx, ev.GeoData.Country) {
		score += weightHighRiskCountry
		factors = append(factors, domain.FactorHighRiskCountry)
	}

	if v := ev.VelocityData; v != nil {
		if v.SessionCount > s.cfg.SessionVelocityLimit {
			score += weightSessionVelocity
			factors = append(factors, domain.FactorHighSessionVelocity)
		}
		if v.IPCount > s.cfg.IPVelocityLimit {
			score += weightIPVelocity
			factors = append(factors, domain.FactorHighIPVelocity)
		}
	}

	if len(merchantRules) > 0 && s.engine != nil {
		record := rules.RecordFrom(ev)
		for _, rule := range s.engine.MatchingRules(record, merchantRules) {
			if rule.RiskScoreAdjustment == 0 {
				continue
			}
			score += rule.RiskScoreAdjustment
			factors = append(factors, "rule_"+rule.ID)
		}
	}

	if s.model != nil {
		if pred, err := s.model.Predict(ctx, ev); err != nil {
			slog.Warn("model prediction failed", "error", err)
		} else if pred != nil {
			score += pred.Score
			factors = append(factors, pred.Factors...)
		}
	}

	return score, factors
}

// isHighRiskCountry consults the cache set first and falls back to the
// configured list when the cache is unreachable.
func (s *Scorer) isHighRiskCountry(ctx context.Context, country string) bool {
	if country == "" {
		return false
	}

	if s.cache != nil {
		ok, err := s.cache.IsSetMember(ctx, highRiskCountrySet, country)
		if err == nil {
			return ok
		}
		slog.Warn("high-risk country set lookup failed", "error", err)
	}

	for _, c := range s.cfg.HighRiskCountries {
		if c == country {
			return true
		}
	}
	return false
}
