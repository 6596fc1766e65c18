// Package locations derives an entity's home country from its
// transaction history.
package locations

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fraudguard-io/fraudguard/internal/domain"
)

const defaultCacheTTL = 10 * time.Minute

// History implements domain.LocationHistory over the repository's
// country histogram, with an optional cache in front. The home country
// is the modal country across the entity's stored transactions.
type History struct {
	repo     domain.Repository
	cache    domain.Cache
	cacheTTL time.Duration
}

// NewHistory creates a location history reader. cache may be nil.
func NewHistory(repo domain.Repository, cache domain.Cache) *History {
	return &History{
		repo:     repo,
		cache:    cache,
		cacheTTL: defaultCacheTTL,
	}
}

// Lookup returns the entity's majority country. Returns
// domain.ErrNoHistory when the entity has no located transactions yet.
func (h *History) Lookup(ctx context.Context, entity domain.EntityType, entityID string) (string, error) {
	if entityID == "" {
		return "", domain.ErrNoHistory
	}

	key := cacheKey(entity, entityID)
	if h.cache != nil {
		if cached, err := h.cache.Get(ctx, key); err != nil {
			slog.Warn("location cache read failed",
				"key", key,
				"error", err,
			)
		} else if len(cached) > 0 {
			return string(cached), nil
		}
	}

	histogram, err := h.repo.CountryHistogram(ctx, entity, entityID)
	if err != nil {
		return "", fmt.Errorf("country histogram lookup failed: %w", err)
	}

	country := modalCountry(histogram)
	if country == "" {
		return "", domain.ErrNoHistory
	}

	if h.cache != nil {
		if err := h.cache.Set(ctx, key, []byte(country), h.cacheTTL); err != nil {
			slog.Warn("location cache write failed",
				"key", key,
				"error", err,
			)
		}
	}

	return country, nil
}

// Invalidate drops the cached home country for an entity.
func (h *History) Invalidate(ctx context.Context, entity domain.EntityType, entityID string) error {
	if h.cache == nil {
		return nil
	}
	return h.cache.Delete(ctx, cacheKey(entity, entityID))
}

func cacheKey(entity domain.EntityType, entityID string) string {
	return fmt.Sprintf("location:%s:%s", entity, entityID)
}

// modalCountry picks the most frequent country. Ties break by the
// lexicographically smaller code so the answer is stable.
func modalCountry(histogram map[string]int64) string {
	var best string
	var bestCount int64
	for country, count := range histogram {
		if count > bestCount || (count == bestCount && (best == "" || country < best)) {
			best = country
			bestCount = count
		}
	}
	return best
}
