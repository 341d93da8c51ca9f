package geo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/theomodesto/fraudshield/internal/cache"
	"github.com/theomodesto/fraudshield/internal/domain"
)

func TestAnonymizeIP(t *testing.T) {
	tests := []struct {
		name string
		ip   string
		want string
	}{
		{"IPv4", "203.0.113.42", "203.0.113.0"},
		{"IPv4AlreadyZero", "10.0.0.0", "10.0.0.0"},
		{"IPv6", "2001:db8:85a3:8d3:1319:8a2e:370:7348", "2001:db8:85a3::"},
		{"IPv6Compressed", "2001:db8::1", "2001:db8:0::"},
		{"Invalid", "not-an-ip", ""},
		{"Empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := AnonymizeIP(tt.ip); got != tt.want {
				t.Errorf("AnonymizeIP(%q) = %q, want %q", tt.ip, got, tt.want)
			}
		})
	}
}

type stubProvider struct {
	info    *domain.GeoInfo
	err     error
	lookups int
}

func (s *stubProvider) Lookup(ctx context.Context, ip string) (*domain.GeoInfo, error) {
	s.lookups++
	return s.info, s.err
}

func (s *stubProvider) Close() error { return nil }

func TestCachedProvider(t *testing.T) {
	ctx := context.Background()

	t.Run("CacheAside", func(t *testing.T) {
		stub := &stubProvider{info: &domain.GeoInfo{Country: "BR", City: "Sao Paulo"}}
		p := NewCachedProvider(stub, cache.NewLRUCache(10), time.Hour)

		for i := 0; i < 3; i++ {
			info, err := p.Lookup(ctx, "203.0.113.42")
			if err != nil {
				t.Fatalf("Lookup failed: %v", err)
			}
			if info.Country != "BR" {
				t.Errorf("expected BR, got %s", info.Country)
			}
		}

		if stub.lookups != 1 {
			t.Errorf("expected 1 provider lookup, got %d", stub.lookups)
		}
	})

	t.Run("NegativeResultsNotCached", func(t *testing.T) {
		stub := &stubProvider{}
		p := NewCachedProvider(stub, cache.NewLRUCache(10), time.Hour)

		for i := 0; i < 2; i++ {
			info, err := p.Lookup(ctx, "127.0.0.1")
			if err != nil || info != nil {
				t.Fatalf("expected nil,nil for unknown address, got %v, %v", info, err)
			}
		}

		if stub.lookups != 2 {
			t.Errorf("expected 2 provider lookups for uncached misses, got %d", stub.lookups)
		}
	})

	t.Run("ErrorsPassThrough", func(t *testing.T) {
		stub := &stubProvider{err: errors.New("db corrupted")}
		p := NewCachedProvider(stub, cache.NewLRUCache(10), time.Hour)

		if _, err := p.Lookup(ctx, "203.0.113.42"); err == nil {
			t.Error("expected provider error to pass through")
		}
	})
}
