package scoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/theomodesto/fraudshield/internal/cache"
	"github.com/theomodesto/fraudshield/internal/domain"
	"github.com/theomodesto/fraudshield/internal/rules"
)

func testScorer(t *testing.T) *Scorer {
	t.Helper()
	engine, err := rules.NewEngine()
	if err != nil {
		t.Fatalf("failed to create rule engine: %v", err)
	}
	return New(domain.DefaultConfig().Scoring, nil, engine, nil)
}

func cleanEvent() *domain.EnrichedEvent {
	return &domain.EnrichedEvent{
		RawEvent: domain.RawEvent{
			Type:       "transaction_attempt",
			SessionID:  "sess_1",
			MerchantID: "merchant_1",
			FingerprintData: domain.FingerprintData{
				VisitorID:  "visitor_1",
				Confidence: 0.95,
			},
			TimestampMs: 1700000000000,
		},
		VelocityData: &domain.VelocityData{SessionCount: 1, IPCount: 1, DeviceCount: 1},
	}
}

func score(t *testing.T, s *Scorer, ev *domain.EnrichedEvent) *domain.RiskScore {
	t.Helper()
	return s.Score(context.Background(), "eval_1", ev, domain.BaselineSettings("merchant_1"), nil)
}

func TestCleanEventScoresZero(t *testing.T) {
	rs := score(t, testScorer(t), cleanEvent())

	if rs.Score != 0 {
		t.Errorf("expected score 0 for clean event, got %d (%v)", rs.Score, rs.RiskFactors)
	}
	if rs.IsFraud || rs.RequiresCaptcha {
		t.Errorf("clean event must not flag fraud or captcha: %+v", rs)
	}
	if rs.EvaluationID != "eval_1" || rs.MerchantID != "merchant_1" {
		t.Errorf("identity fields missing: %+v", rs)
	}
}

func TestConfidenceBands(t *testing.T) {
	s := testScorer(t)

	tests := []struct {
		name       string
		confidence float64
		wantScore  int
		wantFactor string
	}{
		{"Low", 0.1, 30, domain.FactorLowDeviceConfidence},
		{"LowBoundExclusive", 0.3, 10, domain.FactorMediumDeviceConfidence},
		{"Medium", 0.45, 10, domain.FactorMediumDeviceConfidence},
		{"MediumBoundExclusive", 0.7, 0, ""},
		{"High", 0.9, 0, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := cleanEvent()
			ev.FingerprintData.Confidence = tt.confidence

			rs := score(t, s, ev)
			if rs.Score != tt.wantScore {
				t.Errorf("confidence %.2f: expected score %d, got %d", tt.confidence, tt.wantScore, rs.Score)
			}
			if tt.wantFactor != "" && !rs.HasFactor(tt.wantFactor) {
				t.Errorf("expected factor %s, got %v", tt.wantFactor, rs.RiskFactors)
			}
		})
	}
}

func TestSignalContributions(t *testing.T) {
	s := testScorer(t)

	t.Run("Incognito", func(t *testing.T) {
		ev := cleanEvent()
		ev.FingerprintData.Incognito = true

		rs := score(t, s, ev)
		if rs.Score != 15 || !rs.HasFactor(domain.FactorIncognitoMode) {
			t.Errorf("expected 15/incognito_mode, got %d %v", rs.Score, rs.RiskFactors)
		}
	})

	t.Run("HighRiskCountry", func(t *testing.T) {
		ev := cleanEvent()
		ev.GeoData = &domain.GeoInfo{Country: "NG"}

		rs := score(t, s, ev)
		if rs.Score != 20 || !rs.HasFactor(domain.FactorHighRiskCountry) {
			t.Errorf("expected 20/high_risk_country, got %d %v", rs.Score, rs.RiskFactors)
		}
	})

	t.Run("SafeCountry", func(t *testing.T) {
		ev := cleanEvent()
		ev.GeoData = &domain.GeoInfo{Country: "BR"}

		if rs := score(t, s, ev); rs.Score != 0 {
			t.Errorf("expected 0 for safe country, got %d", rs.Score)
		}
	})

	t.Run("SessionVelocity", func(t *testing.T) {
		ev := cleanEvent()
		ev.VelocityData.SessionCount = 11

		rs := score(t, s, ev)
		if rs.Score != 25 || !rs.HasFactor(domain.FactorHighSessionVelocity) {
			t.Errorf("expected 25/high_session_velocity, got %d %v", rs.Score, rs.RiskFactors)
		}
	})

	t.Run("SessionVelocityAtLimit", func(t *testing.T) {
		ev := cleanEvent()
		ev.VelocityData.SessionCount = 10

		if rs := score(t, s, ev); rs.Score != 0 {
			t.Errorf("limit itself must not trigger, got %d", rs.Score)
		}
	})

	t.Run("IPVelocity", func(t *testing.T) {
		ev := cleanEvent()
		ev.VelocityData.IPCount = 21

		rs := score(t, s, ev)
		if rs.Score != 30 || !rs.HasFactor(domain.FactorHighIPVelocity) {
			t.Errorf("expected 30/high_ip_velocity, got %d %v", rs.Score, rs.RiskFactors)
		}
	})

	t.Run("NilVelocityData", func(t *testing.T) {
		ev := cleanEvent()
		ev.VelocityData = nil

		if rs := score(t, s, ev); rs.Score != 0 {
			t.Errorf("missing velocity data must not contribute, got %d", rs.Score)
		}
	})
}

func TestScoreClampAndThresholds(t *testing.T) {
	s := testScorer(t)

	// Every signal at once: 30+15+20+25+30 = 120, clamped to 100.
	ev := cleanEvent()
	ev.FingerprintData.Confidence = 0.1
	ev.FingerprintData.Incognito = true
	ev.GeoData = &domain.GeoInfo{Country: "RU"}
	ev.VelocityData = &domain.VelocityData{SessionCount: 50, IPCount: 50}

	rs := score(t, s, ev)
	if rs.Score != 100 {
		t.Errorf("expected clamp to 100, got %d", rs.Score)
	}
	if !rs.IsFraud {
		t.Error("score 100 must flag fraud at baseline threshold 70")
	}
	if !rs.RequiresCaptcha {
		t.Error("score 100 must require captcha at threshold 50")
	}

	t.Run("CaptchaBelowFraudThreshold", func(t *testing.T) {
		// 30 + 15 + 20 = 65: above the captcha threshold, below fraud.
		ev := cleanEvent()
		ev.FingerprintData.Confidence = 0.1
		ev.FingerprintData.Incognito = true
		ev.GeoData = &domain.GeoInfo{Country: "VN"}

		rs := score(t, s, ev)
		if rs.Score != 65 {
			t.Fatalf("expected 65, got %d", rs.Score)
		}
		if rs.IsFraud {
			t.Error("65 must not flag fraud at threshold 70")
		}
		if !rs.RequiresCaptcha {
			t.Error("65 must require captcha at threshold 50")
		}
	})

	t.Run("MerchantThresholdApplies", func(t *testing.T) {
		ev := cleanEvent()
		ev.FingerprintData.Confidence = 0.1
		ev.FingerprintData.Incognito = true
		ev.GeoData = &domain.GeoInfo{Country: "VN"}

		settings := &domain.MerchantSettings{MerchantID: "merchant_1", RiskThreshold: 60, HighRiskThreshold: 90}
		rs := s.Score(context.Background(), "eval_1", ev, settings, nil)
		if !rs.IsFraud {
			t.Error("65 must flag fraud when merchant threshold is 60")
		}
	})
}

func TestRuleAdjustments(t *testing.T) {
	s := testScorer(t)

	merchantRules := []*domain.Rule{
		{
			ID:        "vpn",
			Name:      "VPN penalty",
			Priority:  5,
			IsEnabled: true,
			Conditions: []domain.RuleCondition{
				{Field: "fingerprintData.incognito", Operator: domain.OpEq, Value: domain.BoolValue(true)},
			},
			RiskScoreAdjustment: 40,
		},
		{
			ID:        "trusted",
			Name:      "Trusted visitors discount",
			Priority:  1,
			IsEnabled: true,
			Conditions: []domain.RuleCondition{
				{Field: "fingerprintData.visitorId", Operator: domain.OpEq, Value: domain.StringValue("visitor_1")},
			},
			RiskScoreAdjustment: -10,
		},
		{
			ID:        "disabled",
			IsEnabled: false,
			Conditions: []domain.RuleCondition{
				{Field: "merchantId", Operator: domain.OpEq, Value: domain.StringValue("merchant_1")},
			},
			RiskScoreAdjustment: 99,
		},
	}

	ev := cleanEvent()
	ev.FingerprintData.Incognito = true

	rs := s.Score(context.Background(), "eval_1", ev, domain.BaselineSettings("merchant_1"), merchantRules)

	// 15 incognito + 40 vpn rule - 10 trusted rule = 45
	if rs.Score != 45 {
		t.Errorf("expected 45, got %d (%v)", rs.Score, rs.RiskFactors)
	}
	if !rs.HasFactor("rule_vpn") || !rs.HasFactor("rule_trusted") {
		t.Errorf("expected rule factors, got %v", rs.RiskFactors)
	}
	if rs.HasFactor("rule_disabled") {
		t.Error("disabled rule must not contribute")
	}
}

type panickyModel struct{}

func (panickyModel) Predict(ctx context.Context, ev *domain.EnrichedEvent) (*domain.Prediction, error) {
	panic("model blew up")
}

type failingModel struct{}

func (failingModel) Predict(ctx context.Context, ev *domain.EnrichedEvent) (*domain.Prediction, error) {
	return nil, errors.New("model unavailable")
}

type additiveModel struct{}

func (additiveModel) Predict(ctx context.Context, ev *domain.EnrichedEvent) (*domain.Prediction, error) {
	return &domain.Prediction{Score: 12, Factors: []string{"ml_anomaly"}}, nil
}

func TestFailOpen(t *testing.T) {
	engine, err := rules.NewEngine()
	if err != nil {
		t.Fatal(err)
	}

	t.Run("PanicYieldsZeroScore", func(t *testing.T) {
		s := New(domain.DefaultConfig().Scoring, nil, engine, panickyModel{})

		ev := cleanEvent()
		ev.FingerprintData.Incognito = true

		rs := score(t, s, ev)
		if rs.Score != 0 {
			t.Errorf("fail-open must score 0, got %d", rs.Score)
		}
		if !rs.HasFactor(domain.FactorCalculationError) {
			t.Errorf("expected calculation_error factor, got %v", rs.RiskFactors)
		}
		if rs.IsFraud || rs.RequiresCaptcha {
			t.Error("fail-open score must not flag fraud or captcha")
		}
	})

	t.Run("ModelErrorIsNonFatal", func(t *testing.T) {
		s := New(domain.DefaultConfig().Scoring, nil, engine, failingModel{})

		ev := cleanEvent()
		ev.FingerprintData.Incognito = true

		rs := score(t, s, ev)
		if rs.Score != 15 {
			t.Errorf("heuristics must survive model failure, got %d", rs.Score)
		}
		if rs.HasFactor(domain.FactorCalculationError) {
			t.Error("model error must not be reported as calculation_error")
		}
	})

	t.Run("ModelContributes", func(t *testing.T) {
		s := New(domain.DefaultConfig().Scoring, nil, engine, additiveModel{})

		rs := score(t, s, cleanEvent())
		if rs.Score != 12 || !rs.HasFactor("ml_anomaly") {
			t.Errorf("expected model contribution 12/ml_anomaly, got %d %v", rs.Score, rs.RiskFactors)
		}
	})
}

func TestHighRiskCountryCacheSet(t *testing.T) {
	engine, err := rules.NewEngine()
	if err != nil {
		t.Fatal(err)
	}

	c := cache.NewLRUCache(10)
	ctx := context.Background()
	if err := c.AddToSet(ctx, highRiskCountrySet, time.Hour, "KP"); err != nil {
		t.Fatal(err)
	}

	s := New(domain.DefaultConfig().Scoring, c, engine, nil)

	ev := cleanEvent()
	ev.GeoData = &domain.GeoInfo{Country: "KP"}

	rs := score(t, s, ev)
	if !rs.HasFactor(domain.FactorHighRiskCountry) {
		t.Errorf("cache set member must be high risk, got %v", rs.RiskFactors)
	}

	// The cache set is authoritative once reachable; a country only in the
	// static config list does not match.
	ev.GeoData.Country = "NG"
	rs = score(t, s, ev)
	if rs.HasFactor(domain.FactorHighRiskCountry) {
		t.Errorf("config fallback must not apply when the cache answers, got %v", rs.RiskFactors)
	}
}
