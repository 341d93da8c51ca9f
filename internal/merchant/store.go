// Package merchant resolves per-merchant configuration with a read-through
// cache in front of the repository.
package merchant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/theomodesto/fraudshield/internal/domain"
	"github.com/theomodesto/fraudshield/internal/repository"
)

// Store serves merchant settings and rules. Reads go through a short-TTL
// cache; writes hit the repository and invalidate the cached entry so the
// next read observes the change within one TTL at worst on other nodes.
type Store struct {
	repo  domain.Repository
	cache domain.Cache
	ttl   time.Duration
}

// New creates a merchant store. A zero TTL defaults to 5 minutes.
func New(repo domain.Repository, cache domain.Cache, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Store{repo: repo, cache: cache, ttl: ttl}
}

// GetSettings resolves settings for a merchant. Resolution order: the
// merchant's own record, the default tenant record, then the hardcoded
// baseline. The resolved result is cached under the requesting merchant.
func (s *Store) GetSettings(ctx context.Context, merchantID string) (*domain.MerchantSettings, error) {
	if merchantID == "" {
		merchantID = domain.DefaultMerchantID
	}

	key := "merchant:settings:" + merchantID
	if data := s.cacheGet(ctx, key); data != nil {
		var settings domain.MerchantSettings
		if err := json.Unmarshal(data, &settings); err == nil {
			return &settings, nil
		}
	}

	settings, err := s.resolveSettings(ctx, merchantID)
	if err != nil {
		return nil, err
	}

	s.cacheSet(ctx, key, settings)
	return settings, nil
}

func (s *Store) resolveSettings(ctx context.Context, merchantID string) (*domain.MerchantSettings, error) {
	settings, err := s.repo.GetMerchantSettings(ctx, merchantID)
	if err == nil {
		return settings, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("load merchant settings: %w", err)
	}

	if merchantID != domain.DefaultMerchantID {
		settings, err = s.repo.GetMerchantSettings(ctx, domain.DefaultMerchantID)
		if err == nil {
			// Present the default record as the merchant's own so callers
			// never see the tenant swap.
			copied := *settings
			copied.MerchantID = merchantID
			return &copied, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("load default settings: %w", err)
		}
	}

	return domain.BaselineSettings(merchantID), nil
}

// SaveSettings persists settings and invalidates the cached entry.
func (s *Store) SaveSettings(ctx context.Context, settings *domain.MerchantSettings) error {
	if err := s.repo.SaveMerchantSettings(ctx, settings); err != nil {
		return err
	}
	s.invalidate(ctx, "merchant:settings:"+settings.MerchantID)
	return nil
}

// GetRules returns all rules configured for a merchant.
func (s *Store) GetRules(ctx context.Context, merchantID string) ([]*domain.Rule, error) {
	key := "merchant:rules:" + merchantID
	if data := s.cacheGet(ctx, key); data != nil {
		var rules []*domain.Rule
		if err := json.Unmarshal(data, &rules); err == nil {
			return rules, nil
		}
	}

	rules, err := s.repo.GetMerchantRules(ctx, merchantID)
	if err != nil {
		return nil, fmt.Errorf("load merchant rules: %w", err)
	}
	if rules == nil {
		rules = []*domain.Rule{}
	}

	if data, err := json.Marshal(rules); err == nil {
		if cerr := s.cache.Set(ctx, key, data, s.ttl); cerr != nil {
			slog.Warn("merchant rules cache write failed", "error", cerr)
		}
	}

	return rules, nil
}

// SaveRule persists one rule and invalidates the merchant's cached rule set.
func (s *Store) SaveRule(ctx context.Context, merchantID string, rule *domain.Rule) error {
	if err := s.repo.SaveMerchantRule(ctx, merchantID, rule); err != nil {
		return err
	}
	s.invalidate(ctx, "merchant:rules:"+merchantID)
	return nil
}

func (s *Store) cacheGet(ctx context.Context, key string) []byte {
	data, err := s.cache.Get(ctx, key)
	if err != nil {
		slog.Warn("merchant cache read failed", "key", key, "error", err)
		return nil
	}
	return data
}

func (s *Store) cacheSet(ctx context.Context, key string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, key, data, s.ttl); err != nil {
		slog.Warn("merchant cache write failed", "key", key, "error", err)
	}
}

func (s *Store) invalidate(ctx context.Context, key string) {
	if err := s.cache.Delete(ctx, key); err != nil {
		slog.Warn("merchant cache invalidation failed", "key", key, "error", err)
	}
}
