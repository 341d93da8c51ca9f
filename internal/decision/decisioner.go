// Package decision turns risk scores into final transaction decisions.
package decision

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/theomodesto/fraudshield/internal/domain"
	"github.com/theomodesto/fraudshield/internal/merchant"
	"github.com/theomodesto/fraudshield/internal/repository"
	"github.com/theomodesto/fraudshield/internal/rules"
)

// decisionCacheTTL bounds how long a decision stays in the fast lookup path.
const decisionCacheTTL = time.Hour

// Decisioner applies merchant rules and thresholds to risk scores. Decisions
// are idempotent per evaluationId: redelivered scores return the already
// persisted decision instead of producing a new one.
type Decisioner struct {
	repo     domain.Repository
	store    *merchant.Store
	engine   *rules.Engine
	cache    domain.Cache
	webhooks *WebhookSender
}

// New creates a decisioner. The webhook sender may be nil to disable
// merchant notification.
func New(repo domain.Repository, store *merchant.Store, engine *rules.Engine, cache domain.Cache, webhooks *WebhookSender) *Decisioner {
	return &Decisioner{
		repo:     repo,
		store:    store,
		engine:   engine,
		cache:    cache,
		webhooks: webhooks,
	}
}

// Decide produces the decision for one risk score. The second return value
// reports whether a new decision was created; false means an existing one
// was returned.
func (d *Decisioner) Decide(ctx context.Context, rs *domain.RiskScore) (*domain.Decision, bool, error) {
	return d.decide(ctx, rs, "")
}

// DecideForTransaction is Decide with a caller-supplied transaction id
// attached to a newly created decision.
func (d *Decisioner) DecideForTransaction(ctx context.Context, rs *domain.RiskScore, transactionID string) (*domain.Decision, bool, error) {
	return d.decide(ctx, rs, transactionID)
}

func (d *Decisioner) decide(ctx context.Context, rs *domain.RiskScore, transactionID string) (*domain.Decision, bool, error) {
	if rs.EvaluationID == "" {
		return nil, false, fmt.Errorf("risk score has no evaluationId")
	}

	existing, err := d.repo.GetDecisionByEvaluation(ctx, rs.EvaluationID)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, false, fmt.Errorf("idempotency lookup: %w", err)
	}

	settings, err := d.store.GetSettings(ctx, rs.MerchantID)
	if err != nil {
		return nil, false, fmt.Errorf("resolve settings: %w", err)
	}

	merchantRules, err := d.store.GetRules(ctx, rs.MerchantID)
	if err != nil {
		slog.Warn("failed to load merchant rules, using thresholds only",
			"merchant_id", rs.MerchantID,
			"error", err,
		)
		merchantRules = nil
	}

	outcome, reasoning := d.evaluate(rs, settings, merchantRules)

	dec := &domain.Decision{
		ID:            uuid.New().String(),
		EvaluationID:  rs.EvaluationID,
		MerchantID:    rs.MerchantID,
		TransactionID: transactionID,
		Decision:      outcome,
		RiskScore:     rs.Score,
		RiskLevel:     domain.RiskLevelFor(rs.Score),
		Reasoning:     reasoning,
		CreatedAt:     time.Now().UTC(),
	}

	if err := d.repo.SaveDecision(ctx, dec); err != nil {
		// A concurrent consumer may have won the race on the unique
		// evaluation_id; their decision is equivalent, so serve it.
		if prior, lookupErr := d.repo.GetDecisionByEvaluation(ctx, rs.EvaluationID); lookupErr == nil {
			return prior, false, nil
		}
		return nil, false, fmt.Errorf("persist decision: %w", err)
	}

	d.cacheDecision(ctx, dec)
	d.notify(dec, rs, settings)

	return dec, true, nil
}

// evaluate runs the two-step decision logic: first-matching custom rule,
// otherwise threshold comparison.
func (d *Decisioner) evaluate(rs *domain.RiskScore, settings *domain.MerchantSettings, merchantRules []*domain.Rule) (string, []string) {
	if len(merchantRules) > 0 && d.engine != nil {
		record := rules.RecordFrom(rs)
		if rule := d.engine.Match(record, merchantRules); rule != nil {
			return domain.DecisionForAction(rule.Action),
				[]string{fmt.Sprintf("Matched rule: %s", rule.Name)}
		}
	}

	var reasoning []string
	outcome := domain.DecisionApprove

	switch {
	case rs.Score >= settings.HighRiskThreshold:
		if settings.AutomaticReject {
			outcome = domain.DecisionReject
			reasoning = append(reasoning, fmt.Sprintf("Risk score %d meets high-risk threshold %d, automatic reject enabled", rs.Score, settings.HighRiskThreshold))
		} else {
			outcome = domain.DecisionReview
			reasoning = append(reasoning, fmt.Sprintf("Risk score %d meets high-risk threshold %d", rs.Score, settings.HighRiskThreshold))
		}
	case rs.Score >= settings.RiskThreshold:
		outcome = domain.DecisionReview
		reasoning = append(reasoning, fmt.Sprintf("Risk score %d meets risk threshold %d", rs.Score, settings.RiskThreshold))
	default:
		reasoning = append(reasoning, fmt.Sprintf("Risk score %d below risk threshold %d", rs.Score, settings.RiskThreshold))
	}

	if len(rs.RiskFactors) > 0 {
		reasoning = append(reasoning, "Risk factors: "+strings.Join(rs.RiskFactors, ", "))
	}

	return outcome, reasoning
}

// GetDecision serves one decision by id, checking the cache first.
func (d *Decisioner) GetDecision(ctx context.Context, id string) (*domain.Decision, error) {
	if dec := d.cachedDecision(ctx, "decision:"+id); dec != nil {
		return dec, nil
	}

	dec, err := d.repo.GetDecision(ctx, id)
	if err != nil {
		return nil, err
	}
	d.cacheDecision(ctx, dec)
	return dec, nil
}

// GetDecisionByEvaluation serves the decision for one evaluation.
func (d *Decisioner) GetDecisionByEvaluation(ctx context.Context, evaluationID string) (*domain.Decision, error) {
	if dec := d.cachedDecision(ctx, "decision:evaluation:"+evaluationID); dec != nil {
		return dec, nil
	}

	dec, err := d.repo.GetDecisionByEvaluation(ctx, evaluationID)
	if err != nil {
		return nil, err
	}
	d.cacheDecision(ctx, dec)
	return dec, nil
}

func (d *Decisioner) cacheDecision(ctx context.Context, dec *domain.Decision) {
	data, err := json.Marshal(dec)
	if err != nil {
		return
	}
	for _, key := range []string{"decision:" + dec.ID, "decision:evaluation:" + dec.EvaluationID} {
		if err := d.cache.Set(ctx, key, data, decisionCacheTTL); err != nil {
			slog.Warn("decision cache write failed", "key", key, "error", err)
		}
	}
}

func (d *Decisioner) cachedDecision(ctx context.Context, key string) *domain.Decision {
	data, err := d.cache.Get(ctx, key)
	if err != nil || data == nil {
		return nil
	}
	var dec domain.Decision
	if err := json.Unmarshal(data, &dec); err != nil {
		return nil
	}
	return &dec
}

// notify dispatches the webhook in the background when the merchant has one
// configured. Delivery failures are logged, never surfaced.
func (d *Decisioner) notify(dec *domain.Decision, rs *domain.RiskScore, settings *domain.MerchantSettings) {
	if d.webhooks == nil || settings == nil || settings.WebhookURL == "" {
		return
	}

	event := &domain.WebhookEvent{
		ID:            uuid.New().String(),
		EventType:     domain.EventTypeDecision,
		MerchantID:    dec.MerchantID,
		TransactionID: dec.TransactionID,
		EvaluationID:  dec.EvaluationID,
		Decision:      dec.Decision,
		RiskScore:     dec.RiskScore,
		IsFraud:       rs.IsFraud,
		RiskFactors:   rs.RiskFactors,
		Timestamp:     time.Now().UnixMilli(),
	}

	d.webhooks.SendAsync(settings.WebhookURL, settings.WebhookSecret, event)
}
