package services

import (
	"context"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/username/cryptotax/src/logger"
	"github.com/username/cryptotax/src/models"
)

// rateResolverImpl resolves (jurisdiction, year) to a RateSchedule through
// the tiered chain: stored entry, external source, compiled-in fallback.
// Staleness is a soft signal: a stale stored entry is returned immediately
// while a refresh runs in the background, never blocking the caller on
// network I/O.
type rateResolverImpl struct {
	store        RateStore
	client       RateSourceClient
	staleAfter   time.Duration
	fetchTimeout time.Duration
	// inflight guards background refreshes: cache.Add is first-writer-wins,
	// so at most one refresh per (jurisdiction, year) runs at a time.
	inflight *cache.Cache
}

func NewRateResolver(store RateStore, client RateSourceClient, staleAfter, fetchTimeout time.Duration) RateResolver {
	return &rateResolverImpl{
		store:        store,
		client:       client,
		staleAfter:   staleAfter,
		fetchTimeout: fetchTimeout,
		inflight:     cache.New(5*time.Minute, 10*time.Minute),
	}
}

func (r *rateResolverImpl) Resolve(ctx context.Context, jurisdiction string, year int) (*models.RateSchedule, error) {
	stored, err := r.store.Get(jurisdiction, year)
	if err != nil {
		logger.L.Error("Rate store lookup failed, continuing down the chain",
			"jurisdiction", jurisdiction, "year", year, "error", err)
	}
	if stored != nil {
		if time.Since(stored.LastUpdated) > r.staleAfter {
			// Stale is not wrong: serve it now, refresh behind the caller's back.
			r.scheduleRefresh(jurisdiction, year)
		}
		return stored, nil
	}

	fetchCtx, cancel := context.WithTimeout(ctx, r.fetchTimeout)
	defer cancel()
	fetched, err := r.client.FetchRates(fetchCtx, jurisdiction, year)
	if err == nil {
		if putErr := r.store.Put(*fetched); putErr != nil {
			logger.L.Error("Failed to persist fetched rate schedule",
				"jurisdiction", jurisdiction, "year", year, "error", putErr)
		}
		return fetched, nil
	}
	logger.L.Warn("Rate source fetch failed, falling back to compiled-in table",
		"jurisdiction", jurisdiction, "year", year, "error", err)

	if fallback, ok := FallbackSchedule(jurisdiction, year); ok {
		fallback.LastUpdated = time.Now().UTC()
		return fallback, nil
	}

	return nil, fmt.Errorf("%w: %s/%d", ErrRateUnavailable, jurisdiction, year)
}

// scheduleRefresh starts a fire-and-forget refresh of one pair unless one
// is already in flight.
func (r *rateResolverImpl) scheduleRefresh(jurisdiction string, year int) {
	key := fmt.Sprintf("refresh_%s_%d", jurisdiction, year)
	if err := r.inflight.Add(key, true, cache.DefaultExpiration); err != nil {
		return // refresh already running
	}

	go func() {
		defer r.inflight.Delete(key)

		ctx, cancel := context.WithTimeout(context.Background(), r.fetchTimeout)
		defer cancel()

		schedule, err := r.client.FetchRates(ctx, jurisdiction, year)
		if err != nil {
			logger.L.Warn("Background rate refresh failed",
				"jurisdiction", jurisdiction, "year", year, "error", err)
			return
		}
		if err := r.store.Put(*schedule); err != nil {
			logger.L.Error("Background rate refresh could not persist schedule",
				"jurisdiction", jurisdiction, "year", year, "error", err)
			return
		}
		logger.L.Info("Background rate refresh complete", "jurisdiction", jurisdiction, "year", year)
	}()
}

// RefreshAll synchronously re-fetches all supported pairs and persists the
// results. The client paces requests; failures are reported per pair and
// never abort the sweep.
func (r *rateResolverImpl) RefreshAll(ctx context.Context) RefreshResult {
	result := RefreshResult{}
	for _, jurisdiction := range SupportedJurisdictions() {
		for _, year := range SupportedYears() {
			schedule, err := r.client.FetchRates(ctx, jurisdiction, year)
			if err != nil {
				result.Failed++
				result.Errors = append(result.Errors, fmt.Sprintf("%s/%d: %v", jurisdiction, year, err))
				continue
			}
			if err := r.store.Put(*schedule); err != nil {
				result.Failed++
				result.Errors = append(result.Errors, fmt.Sprintf("%s/%d: %v", jurisdiction, year, err))
				continue
			}
			result.Updated++
		}
	}
	logger.L.Info("Rate refresh sweep complete", "updated", result.Updated, "failed", result.Failed)
	return result
}
