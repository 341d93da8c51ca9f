package enrich

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/theomodesto/fraudshield/internal/cache"
	"github.com/theomodesto/fraudshield/internal/domain"
)

type stubGeo struct {
	info *domain.GeoInfo
	err  error
	slow time.Duration
}

func (s *stubGeo) Lookup(ctx context.Context, ip string) (*domain.GeoInfo, error) {
	if s.slow > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.slow):
		}
	}
	return s.info, s.err
}

func (s *stubGeo) Close() error { return nil }

func testEvent() *domain.RawEvent {
	return &domain.RawEvent{
		Type:       "transaction_attempt",
		SessionID:  "sess_1",
		MerchantID: "merchant_1",
		FingerprintData: domain.FingerprintData{
			VisitorID:  "visitor_1",
			Confidence: 0.9,
		},
		TimestampMs: time.Now().UnixMilli(),
		SourceIP:    "203.0.113.42",
	}
}

func testEnricher(g domain.GeoProvider) *Enricher {
	cfg := *domain.DefaultConfig()
	return New(g, cache.NewLRUCache(100), cfg)
}

func TestEnrichGeo(t *testing.T) {
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		e := testEnricher(&stubGeo{info: &domain.GeoInfo{Country: "BR", City: "Sao Paulo"}})

		ev := e.Enrich(ctx, testEvent(), nil)
		if ev.GeoData == nil || ev.GeoData.Country != "BR" {
			t.Errorf("expected geo data BR, got %+v", ev.GeoData)
		}
	})

	t.Run("LookupFailureContinues", func(t *testing.T) {
		e := testEnricher(&stubGeo{err: errors.New("db unavailable")})

		ev := e.Enrich(ctx, testEvent(), nil)
		if ev.GeoData != nil {
			t.Errorf("expected nil geo data on failure, got %+v", ev.GeoData)
		}
		if ev.VelocityData == nil {
			t.Error("velocity enrichment must still run when geo fails")
		}
	})

	t.Run("SlowLookupTimesOut", func(t *testing.T) {
		cfg := *domain.DefaultConfig()
		cfg.Geo.LookupTimeout = 10 * time.Millisecond
		e := New(&stubGeo{info: &domain.GeoInfo{Country: "US"}, slow: 200 * time.Millisecond}, cache.NewLRUCache(100), cfg)

		start := time.Now()
		ev := e.Enrich(ctx, testEvent(), nil)
		if ev.GeoData != nil {
			t.Errorf("expected nil geo data on timeout, got %+v", ev.GeoData)
		}
		if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
			t.Errorf("enrichment blocked on slow geo lookup: %v", elapsed)
		}
	})

	t.Run("NilProvider", func(t *testing.T) {
		e := testEnricher(nil)
		ev := e.Enrich(ctx, testEvent(), nil)
		if ev.GeoData != nil {
			t.Error("expected nil geo data with no provider")
		}
	})
}

func TestEnrichVelocity(t *testing.T) {
	ctx := context.Background()
	e := testEnricher(nil)

	first := e.Enrich(ctx, testEvent(), nil)
	if first.VelocityData == nil {
		t.Fatal("expected velocity data")
	}
	if first.VelocityData.SessionCount != 1 || first.VelocityData.IPCount != 1 || first.VelocityData.DeviceCount != 1 {
		t.Errorf("expected all counters at 1 on first event, got %+v", first.VelocityData)
	}
	if !first.VelocityData.FirstSeenDevice {
		t.Error("expected firstSeenDevice on first event")
	}

	second := e.Enrich(ctx, testEvent(), nil)
	if second.VelocityData.SessionCount != 2 || second.VelocityData.IPCount != 2 || second.VelocityData.DeviceCount != 2 {
		t.Errorf("expected all counters at 2 on second event, got %+v", second.VelocityData)
	}
	if second.VelocityData.FirstSeenDevice {
		t.Error("device must not be first-seen on second event")
	}

	t.Run("IndependentDimensions", func(t *testing.T) {
		ev := testEvent()
		ev.SessionID = "sess_other"
		enriched := e.Enrich(ctx, ev, nil)

		if enriched.VelocityData.SessionCount != 1 {
			t.Errorf("new session must start at 1, got %d", enriched.VelocityData.SessionCount)
		}
		if enriched.VelocityData.IPCount != 3 {
			t.Errorf("ip counter spans sessions, expected 3, got %d", enriched.VelocityData.IPCount)
		}
	})
}

func TestEnrichAnonymization(t *testing.T) {
	ctx := context.Background()
	e := testEnricher(nil)

	t.Run("Enabled", func(t *testing.T) {
		settings := &domain.MerchantSettings{MerchantID: "merchant_1", IPAnonymization: true}

		ev := e.Enrich(ctx, testEvent(), settings)
		if ev.AnonymizedIP != "203.0.113.0" {
			t.Errorf("expected anonymized ip 203.0.113.0, got %q", ev.AnonymizedIP)
		}
		if ev.SourceIP != "" {
			t.Errorf("original ip must not survive anonymization, got %q", ev.SourceIP)
		}
	})

	t.Run("Disabled", func(t *testing.T) {
		settings := &domain.MerchantSettings{MerchantID: "merchant_1"}

		ev := e.Enrich(ctx, testEvent(), settings)
		if ev.AnonymizedIP != "" {
			t.Errorf("expected no anonymized ip, got %q", ev.AnonymizedIP)
		}
		if ev.SourceIP != "203.0.113.42" {
			t.Errorf("original ip must survive, got %q", ev.SourceIP)
		}
	})
}
