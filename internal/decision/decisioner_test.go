package decision

import (
	"context"
	"crypto/hmac"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/theomodesto/fraudshield/internal/cache"
	"github.com/theomodesto/fraudshield/internal/domain"
	"github.com/theomodesto/fraudshield/internal/merchant"
	"github.com/theomodesto/fraudshield/internal/repository"
	"github.com/theomodesto/fraudshield/internal/rules"
)

type fixture struct {
	decisioner *Decisioner
	repo       domain.Repository
	store      *merchant.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "test.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	engine, err := rules.NewEngine()
	if err != nil {
		t.Fatalf("failed to create rule engine: %v", err)
	}

	c := cache.NewLRUCache(100)
	store := merchant.New(repo, c, time.Minute)

	return &fixture{
		decisioner: New(repo, store, engine, c, nil),
		repo:       repo,
		store:      store,
	}
}

func testScore(score int, factors ...string) *domain.RiskScore {
	return &domain.RiskScore{
		ID:           "rs_1",
		EvaluationID: "eval_1",
		SessionID:    "sess_1",
		MerchantID:   "merchant_1",
		VisitorID:    "visitor_1",
		Score:        score,
		IsFraud:      score >= 70,
		RiskFactors:  factors,
		TimestampMs:  time.Now().UnixMilli(),
	}
}

func TestThresholdDecisions(t *testing.T) {
	tests := []struct {
		name         string
		score        int
		settings     *domain.MerchantSettings
		wantDecision string
		wantLevel    string
	}{
		{
			name:         "LowScoreApproves",
			score:        10,
			wantDecision: domain.DecisionApprove,
			wantLevel:    domain.RiskLevelLow,
		},
		{
			name:         "RiskThresholdReviews",
			score:        70,
			settings:     &domain.MerchantSettings{MerchantID: "merchant_1", RiskThreshold: 70, HighRiskThreshold: 90, AutomaticReject: true},
			wantDecision: domain.DecisionReview,
			wantLevel:    domain.RiskLevelHigh,
		},
		{
			name:         "HighRiskAutoRejects",
			score:        95,
			settings:     &domain.MerchantSettings{MerchantID: "merchant_1", RiskThreshold: 70, HighRiskThreshold: 90, AutomaticReject: true},
			wantDecision: domain.DecisionReject,
			wantLevel:    domain.RiskLevelCritical,
		},
		{
			name:         "HighRiskWithoutAutoRejectReviews",
			score:        95,
			settings:     &domain.MerchantSettings{MerchantID: "merchant_1", RiskThreshold: 70, HighRiskThreshold: 90, AutomaticReject: false},
			wantDecision: domain.DecisionReview,
			wantLevel:    domain.RiskLevelCritical,
		},
		{
			name:         "JustBelowThresholdApproves",
			score:        69,
			wantDecision: domain.DecisionApprove,
			wantLevel:    domain.RiskLevelMedium,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()

			if tt.settings != nil {
				if err := f.store.SaveSettings(ctx, tt.settings); err != nil {
					t.Fatal(err)
				}
			}

			dec, created, err := f.decisioner.Decide(ctx, testScore(tt.score))
			if err != nil {
				t.Fatalf("Decide failed: %v", err)
			}
			if !created {
				t.Error("expected a new decision")
			}
			if dec.Decision != tt.wantDecision {
				t.Errorf("expected %s, got %s (%v)", tt.wantDecision, dec.Decision, dec.Reasoning)
			}
			if dec.RiskLevel != tt.wantLevel {
				t.Errorf("expected level %s, got %s", tt.wantLevel, dec.RiskLevel)
			}
			if len(dec.Reasoning) == 0 {
				t.Error("expected reasoning")
			}
		})
	}
}

func TestCustomRuleShortCircuit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rule := &domain.Rule{
		ID:        "geo_review",
		Name:      "Review high-risk geo",
		Priority:  100,
		IsEnabled: true,
		Action:    domain.ActionReview,
		Conditions: []domain.RuleCondition{
			{Field: "riskFactors", Operator: domain.OpContains, Value: domain.StringValue(domain.FactorHighRiskCountry)},
		},
	}
	if err := f.store.SaveRule(ctx, "merchant_1", rule); err != nil {
		t.Fatal(err)
	}

	// Score 20 would approve on thresholds; the rule wins.
	dec, _, err := f.decisioner.Decide(ctx, testScore(20, domain.FactorHighRiskCountry))
	if err != nil {
		t.Fatalf("Decide failed: %v", err)
	}
	if dec.Decision != domain.DecisionReview {
		t.Errorf("expected rule-driven review, got %s", dec.Decision)
	}
	if len(dec.Reasoning) != 1 || dec.Reasoning[0] != "Matched rule: Review high-risk geo" {
		t.Errorf("expected only the rule reasoning, got %v", dec.Reasoning)
	}

	t.Run("ActionMapping", func(t *testing.T) {
		f := newFixture(t)

		block := &domain.Rule{
			ID:        "always_block",
			Name:      "Block everything",
			Priority:  1,
			IsEnabled: true,
			Action:    domain.ActionBlock,
			Conditions: []domain.RuleCondition{
				{Field: "merchantId", Operator: domain.OpEq, Value: domain.StringValue("merchant_1")},
			},
		}
		if err := f.store.SaveRule(ctx, "merchant_1", block); err != nil {
			t.Fatal(err)
		}

		dec, _, err := f.decisioner.Decide(ctx, testScore(0))
		if err != nil {
			t.Fatal(err)
		}
		if dec.Decision != domain.DecisionReject {
			t.Errorf("block action must map to reject, got %s", dec.Decision)
		}
	})
}

func TestIdempotentDecisions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rs := testScore(80)

	first, created, err := f.decisioner.Decide(ctx, rs)
	if err != nil {
		t.Fatalf("first Decide failed: %v", err)
	}
	if !created {
		t.Fatal("first call must create")
	}

	second, created, err := f.decisioner.Decide(ctx, rs)
	if err != nil {
		t.Fatalf("second Decide failed: %v", err)
	}
	if created {
		t.Error("redelivery must not create a second decision")
	}
	if second.ID != first.ID {
		t.Errorf("expected the persisted decision back, got %s vs %s", second.ID, first.ID)
	}
	if second.Decision != first.Decision || second.RiskLevel != first.RiskLevel {
		t.Errorf("redelivered decision content differs: %+v vs %+v", second, first)
	}
	if !reflect.DeepEqual(second.Reasoning, first.Reasoning) {
		t.Errorf("reasoning differs on redelivery: %v vs %v", second.Reasoning, first.Reasoning)
	}
}

func TestDecisionLookups(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	dec, _, err := f.decisioner.Decide(ctx, testScore(50))
	if err != nil {
		t.Fatal(err)
	}

	got, err := f.decisioner.GetDecision(ctx, dec.ID)
	if err != nil {
		t.Fatalf("GetDecision failed: %v", err)
	}
	if got.ID != dec.ID {
		t.Errorf("expected %s, got %s", dec.ID, got.ID)
	}

	got, err = f.decisioner.GetDecisionByEvaluation(ctx, "eval_1")
	if err != nil {
		t.Fatalf("GetDecisionByEvaluation failed: %v", err)
	}
	if got.ID != dec.ID {
		t.Errorf("expected %s, got %s", dec.ID, got.ID)
	}

	if _, err := f.decisioner.GetDecision(ctx, "missing"); err == nil {
		t.Error("expected error for unknown decision id")
	}
}

func TestWebhookDelivery(t *testing.T) {
	received := make(chan *http.Request, 1)
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ = io.ReadAll(r.Body)
		received <- r
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f := newFixture(t)
	f.decisioner.webhooks = NewWebhookSender(domain.WebhookConfig{Timeout: 2 * time.Second})
	ctx := context.Background()

	settings := &domain.MerchantSettings{
		MerchantID:        "merchant_1",
		RiskThreshold:     70,
		HighRiskThreshold: 90,
		AutomaticReject:   true,
		WebhookURL:        srv.URL,
		WebhookSecret:     "hook-secret",
	}
	if err := f.store.SaveSettings(ctx, settings); err != nil {
		t.Fatal(err)
	}

	if _, _, err := f.decisioner.Decide(ctx, testScore(95, domain.FactorHighIPVelocity)); err != nil {
		t.Fatal(err)
	}

	select {
	case req := <-received:
		var event domain.WebhookEvent
		if err := json.Unmarshal(body, &event); err != nil {
			t.Fatalf("webhook body is not a WebhookEvent: %v", err)
		}
		if event.EventType != domain.EventTypeDecision {
			t.Errorf("expected event type %s, got %s", domain.EventTypeDecision, event.EventType)
		}
		if event.Decision != domain.DecisionReject || event.RiskScore != 95 {
			t.Errorf("unexpected event content: %+v", event)
		}

		sig := req.Header.Get(SignatureHeader)
		if sig == "" {
			t.Fatal("expected signature header")
		}
		if !hmac.Equal([]byte(sig), []byte(Sign(body, "hook-secret"))) {
			t.Error("signature does not verify against the body")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("webhook was never delivered")
	}
}
