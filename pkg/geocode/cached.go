package geocode

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// CachedGeocoder answers from its cache and spaces the remaining lookups
// so the upstream service sees at most one request per delay.
// Unavailable outcomes are not cached.
type CachedGeocoder struct {
	next    Geocoder
	cache   Cache
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewCachedGeocoder wraps next. A non-positive delay disables throttling.
func NewCachedGeocoder(next Geocoder, cache Cache, delay time.Duration, logger *zap.Logger) *CachedGeocoder {
	limit := rate.Inf
	if delay > 0 {
		limit = rate.Every(delay)
	}
	return &CachedGeocoder{
		next:    next,
		cache:   cache,
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger.Named("geocode"),
	}
}

var _ Geocoder = (*CachedGeocoder)(nil)

func (g *CachedGeocoder) Geocode(ctx context.Context, query string) (bool, error) {
	key := NormalizeQuery(query)
	if key == "" {
		return false, nil
	}

	found, hit, err := g.cache.Get(ctx, key)
	if err != nil {
		g.logger.Warn("Geocode cache read failed", zap.Error(err))
	} else if hit {
		return found, nil
	}

	if err := g.limiter.Wait(ctx); err != nil {
		return false, err
	}

	found, err = g.next.Geocode(ctx, query)
	if err != nil {
		if !errors.Is(err, ErrUnavailable) {
			g.logger.Debug("Geocode failed", zap.String("query", query), zap.Error(err))
		}
		return false, err
	}

	if err := g.cache.Set(ctx, key, found); err != nil {
		g.logger.Warn("Geocode cache write failed", zap.Error(err))
	}
	return found, nil
}
