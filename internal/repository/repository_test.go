package repository

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/theomodesto/fraudshield/internal/domain"
)

func testRepo(t *testing.T) domain.Repository {
	t.Helper()

	repo, err := New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "test.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	return repo
}

func TestDecisionPersistence(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	d := &domain.Decision{
		ID:            "dec_1",
		EvaluationID:  "eval_1",
		MerchantID:    "merchant_1",
		TransactionID: "tx_1",
		Decision:      domain.DecisionReview,
		RiskScore:     75,
		RiskLevel:     domain.RiskLevelHigh,
		Reasoning:     []string{"Risk score 75 exceeds threshold 70"},
		CreatedAt:     time.Now().UTC().Truncate(time.Second),
	}

	t.Run("SaveAndGet", func(t *testing.T) {
		if err := repo.SaveDecision(ctx, d); err != nil {
			t.Fatalf("SaveDecision failed: %v", err)
		}

		got, err := repo.GetDecision(ctx, "dec_1")
		if err != nil {
			t.Fatalf("GetDecision failed: %v", err)
		}
		if got.Decision != domain.DecisionReview {
			t.Errorf("expected decision review, got %s", got.Decision)
		}
		if got.RiskScore != 75 || got.RiskLevel != domain.RiskLevelHigh {
			t.Errorf("unexpected score/level: %d/%s", got.RiskScore, got.RiskLevel)
		}
		if len(got.Reasoning) != 1 || got.Reasoning[0] != d.Reasoning[0] {
			t.Errorf("reasoning did not survive round trip: %v", got.Reasoning)
		}
	})

	t.Run("GetByEvaluation", func(t *testing.T) {
		got, err := repo.GetDecisionByEvaluation(ctx, "eval_1")
		if err != nil {
			t.Fatalf("GetDecisionByEvaluation failed: %v", err)
		}
		if got.ID != "dec_1" {
			t.Errorf("expected dec_1, got %s", got.ID)
		}
	})

	t.Run("DuplicateEvaluationRejected", func(t *testing.T) {
		dup := *d
		dup.ID = "dec_2"
		if err := repo.SaveDecision(ctx, &dup); err == nil {
			t.Error("expected unique constraint violation for duplicate evaluation_id")
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		if _, err := repo.GetDecision(ctx, "missing"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
		if _, err := repo.GetDecisionByEvaluation(ctx, "missing"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("InvalidInput", func(t *testing.T) {
		if err := repo.SaveDecision(ctx, &domain.Decision{ID: "x"}); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})
}

func TestRiskScorePersistence(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	rs := &domain.RiskScore{
		ID:              "rs_1",
		EvaluationID:    "eval_1",
		SessionID:       "sess_1",
		MerchantID:      "merchant_1",
		VisitorID:       "visitor_1",
		Score:           55,
		IsFraud:         false,
		RequiresCaptcha: true,
		RiskFactors:     []string{domain.FactorIncognitoMode, domain.FactorHighRiskCountry},
		TimestampMs:     time.Now().UnixMilli(),
	}

	if err := repo.SaveRiskScore(ctx, rs); err != nil {
		t.Fatalf("SaveRiskScore failed: %v", err)
	}

	got, err := repo.GetRiskScoreByEvaluation(ctx, "eval_1")
	if err != nil {
		t.Fatalf("GetRiskScoreByEvaluation failed: %v", err)
	}
	if got.Score != 55 || !got.RequiresCaptcha || got.IsFraud {
		t.Errorf("unexpected score fields: %+v", got)
	}
	if !got.HasFactor(domain.FactorIncognitoMode) {
		t.Errorf("expected incognito factor, got %v", got.RiskFactors)
	}

	t.Run("LatestWins", func(t *testing.T) {
		retry := &domain.RiskScore{
			ID:           "rs_2",
			EvaluationID: "eval_1",
			SessionID:    "sess_1",
			MerchantID:   "merchant_1",
			Score:        25,
			RiskFactors:  []string{domain.FactorCaptchaVerified},
			TimestampMs:  rs.TimestampMs + 1000,
		}
		if err := repo.SaveRiskScore(ctx, retry); err != nil {
			t.Fatalf("SaveRiskScore retry failed: %v", err)
		}

		got, err := repo.GetRiskScoreByEvaluation(ctx, "eval_1")
		if err != nil {
			t.Fatal(err)
		}
		if got.ID != "rs_2" {
			t.Errorf("expected latest score rs_2, got %s", got.ID)
		}
	})
}

func TestMerchantSettingsPersistence(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	s := &domain.MerchantSettings{
		MerchantID:        "merchant_1",
		RiskThreshold:     60,
		HighRiskThreshold: 85,
		AutomaticReject:   true,
		IPAnonymization:   true,
		WebhookURL:        "https://example.com/hook",
		WebhookSecret:     "secret",
	}

	if err := repo.SaveMerchantSettings(ctx, s); err != nil {
		t.Fatalf("SaveMerchantSettings failed: %v", err)
	}

	got, err := repo.GetMerchantSettings(ctx, "merchant_1")
	if err != nil {
		t.Fatalf("GetMerchantSettings failed: %v", err)
	}
	if got.RiskThreshold != 60 || got.HighRiskThreshold != 85 {
		t.Errorf("unexpected thresholds: %+v", got)
	}
	if !got.AutomaticReject || !got.IPAnonymization {
		t.Errorf("boolean settings did not survive round trip: %+v", got)
	}
	if got.WebhookURL != s.WebhookURL || got.WebhookSecret != s.WebhookSecret {
		t.Errorf("webhook settings did not survive round trip: %+v", got)
	}

	t.Run("Upsert", func(t *testing.T) {
		s.RiskThreshold = 50
		if err := repo.SaveMerchantSettings(ctx, s); err != nil {
			t.Fatalf("upsert failed: %v", err)
		}

		got, err := repo.GetMerchantSettings(ctx, "merchant_1")
		if err != nil {
			t.Fatal(err)
		}
		if got.RiskThreshold != 50 {
			t.Errorf("expected updated threshold 50, got %d", got.RiskThreshold)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		if _, err := repo.GetMerchantSettings(ctx, "unknown"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestMerchantRulePersistence(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	rule := &domain.Rule{
		ID:   "rule_1",
		Name: "Block low confidence",
		Conditions: []domain.RuleCondition{
			{Field: "fingerprintData.confidence", Operator: domain.OpLt, Value: domain.NumberValue(0.3)},
			{Field: "fingerprintData.incognito", Operator: domain.OpEq, Value: domain.BoolValue(true)},
		},
		Action:              domain.ActionBlock,
		Priority:            10,
		IsEnabled:           true,
		RiskScoreAdjustment: 25,
	}

	if err := repo.SaveMerchantRule(ctx, "merchant_1", rule); err != nil {
		t.Fatalf("SaveMerchantRule failed: %v", err)
	}

	rules, err := repo.GetMerchantRules(ctx, "merchant_1")
	if err != nil {
		t.Fatalf("GetMerchantRules failed: %v", err)
	}
	if len(rules) != 1 {
		t.Fatalf("expected 1 rule, got %d", len(rules))
	}

	got := rules[0]
	if got.Action != domain.ActionBlock || got.Priority != 10 || !got.IsEnabled {
		t.Errorf("unexpected rule fields: %+v", got)
	}
	if len(got.Conditions) != 2 {
		t.Fatalf("expected 2 conditions, got %d", len(got.Conditions))
	}
	if got.Conditions[0].Value.Kind != domain.ValueNumber || got.Conditions[0].Value.Num != 0.3 {
		t.Errorf("numeric condition value did not survive round trip: %+v", got.Conditions[0].Value)
	}
	if got.Conditions[1].Value.Kind != domain.ValueBool || !got.Conditions[1].Value.Bool {
		t.Errorf("bool condition value did not survive round trip: %+v", got.Conditions[1].Value)
	}

	t.Run("PriorityOrdering", func(t *testing.T) {
		higher := &domain.Rule{
			ID:        "rule_2",
			Name:      "Urgent",
			Action:    domain.ActionReview,
			Priority:  99,
			IsEnabled: true,
		}
		if err := repo.SaveMerchantRule(ctx, "merchant_1", higher); err != nil {
			t.Fatal(err)
		}

		rules, err := repo.GetMerchantRules(ctx, "merchant_1")
		if err != nil {
			t.Fatal(err)
		}
		if rules[0].ID != "rule_2" {
			t.Errorf("expected highest priority rule first, got %s", rules[0].ID)
		}
	})

	t.Run("Upsert", func(t *testing.T) {
		rule.Priority = 20
		rule.IsEnabled = false
		if err := repo.SaveMerchantRule(ctx, "merchant_1", rule); err != nil {
			t.Fatal(err)
		}

		rules, err := repo.GetMerchantRules(ctx, "merchant_1")
		if err != nil {
			t.Fatal(err)
		}
		if len(rules) != 2 {
			t.Fatalf("upsert must not duplicate, got %d rules", len(rules))
		}
		for _, r := range rules {
			if r.ID == "rule_1" && (r.Priority != 20 || r.IsEnabled) {
				t.Errorf("upsert did not apply: %+v", r)
			}
		}
	})

	t.Run("MerchantIsolation", func(t *testing.T) {
		rules, err := repo.GetMerchantRules(ctx, "merchant_2")
		if err != nil {
			t.Fatal(err)
		}
		if len(rules) != 0 {
			t.Errorf("expected no rules for other merchant, got %d", len(rules))
		}
	})
}

func TestUnsupportedDriver(t *testing.T) {
	if _, err := New(domain.RepositoryConfig{Driver: "mysql"}); err == nil {
		t.Error("expected error for unsupported driver")
	}
}
