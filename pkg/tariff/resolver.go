package tariff

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/raterudder/dispatcher/pkg/log"
	"github.com/raterudder/dispatcher/pkg/types"
)

// Resolver wraps a Source with a previous-day fallback: when the slot has
// no rate the same slot yesterday is used instead.
type Resolver struct {
	source Source
	cache  *cache.Cache
}

// NewResolver returns a resolver for source. Resolved rates are cached for
// ttl; a zero ttl disables caching.
func NewResolver(source Source, ttl time.Duration) *Resolver {
	r := &Resolver{source: source}
	if ttl > 0 {
		r.cache = cache.New(ttl, 2*ttl)
	}
	return r
}

// Rates resolves the rates at t, falling back to t minus one day.
func (r *Resolver) Rates(ctx context.Context, t time.Time) (types.TariffRates, error) {
	key := t.UTC().Format(time.RFC3339)
	if r.cache != nil {
		if v, ok := r.cache.Get(key); ok {
			return v.(types.TariffRates), nil
		}
	}

	rates, err := r.source.Rates(ctx, t)
	if err != nil {
		if !errors.Is(err, ErrTariffUnavailable) {
			log.Op(ctx, "tariff.Resolver.Rates").ErrorContext(ctx, "failed to get rates", slog.Time("at", t), slog.Any("error", err))
			return types.TariffRates{}, err
		}
		prev, perr := r.source.Rates(ctx, t.AddDate(0, 0, -1))
		if perr != nil {
			log.Op(ctx, "tariff.Resolver.Rates").ErrorContext(ctx, "no rates for slot or previous day", slog.Time("at", t), slog.Any("error", perr))
			return types.TariffRates{}, fmt.Errorf("rates at %s: %w", t.Format(time.RFC3339), err)
		}
		log.Ctx(ctx).WarnContext(ctx, "using previous day rates", slog.Time("at", t))
		prev.At = t
		prev.Fallback = true
		rates = prev
	}

	if r.cache != nil {
		r.cache.SetDefault(key, rates)
	}
	return rates, nil
}
