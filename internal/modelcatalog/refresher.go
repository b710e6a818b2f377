package modelcatalog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/router-for-me/ModelProviderConnections/internal/models"
	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"
)

const defaultRequestTimeout = 15 * time.Second

// Store is the persistence surface used by the refresher.
type Store interface {
	ListByProvider(ctx context.Context, provider models.Provider) ([]models.ModelProviderConnection, error)
	UpdateCachedModels(ctx context.Context, id uint64, cached datatypes.JSON) error
}

// Lister returns the model IDs reachable with a connection's credentials.
type Lister interface {
	ListModels(ctx context.Context, conn *models.ModelProviderConnection) ([]string, error)
}

// Refresher keeps cached_available_models of OpenAI connections in sync with
// the provider's model listing.
type Refresher struct {
	store    Store
	lister   Lister
	provider models.Provider
	interval time.Duration
	timeout  time.Duration
}

// NewRefresher constructs a refresher. It returns nil when interval is not positive.
func NewRefresher(store Store, lister Lister, interval time.Duration) *Refresher {
	if store == nil || lister == nil || interval <= 0 {
		return nil
	}
	return &Refresher{
		store:    store,
		lister:   lister,
		provider: models.ProviderOpenAI,
		interval: interval,
		timeout:  defaultRequestTimeout,
	}
}

// Start runs the refresh loop in the background until ctx is done.
func (r *Refresher) Start(ctx context.Context) {
	if r == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	go r.run(ctx)
	log.Infof("model catalog refresher started (interval=%s)", r.interval)
}

func (r *Refresher) run(ctx context.Context) {
	if _, err := r.SyncOnce(ctx); err != nil {
		log.WithError(err).Warn("model catalog: initial refresh failed")
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.SyncOnce(ctx); err != nil {
				log.WithError(err).Warn("model catalog: refresh failed")
			}
		}
	}
}

// SyncOnce refreshes every connection once and returns how many were updated.
// A failing connection is logged and skipped; the others are still refreshed.
func (r *Refresher) SyncOnce(ctx context.Context) (int, error) {
	if r == nil || r.store == nil || r.lister == nil {
		return 0, fmt.Errorf("model catalog: refresher not initialized")
	}
	rows, errList := r.store.ListByProvider(ctx, r.provider)
	if errList != nil {
		return 0, fmt.Errorf("model catalog: list connections: %w", errList)
	}

	updated, failed := 0, 0
	for i := range rows {
		if ctx.Err() != nil {
			return updated, ctx.Err()
		}
		row := &rows[i]
		if errRefresh := r.refreshOne(ctx, row); errRefresh != nil {
			failed++
			log.WithError(errRefresh).WithField("connection_id", row.ID).Warn("model catalog: refresh connection failed")
			continue
		}
		updated++
	}
	if failed > 0 {
		return updated, fmt.Errorf("model catalog: %d of %d connections failed", failed, len(rows))
	}
	return updated, nil
}

func (r *Refresher) refreshOne(ctx context.Context, row *models.ModelProviderConnection) error {
	requestCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	names, errModels := r.lister.ListModels(requestCtx, row)
	if errModels != nil {
		return errModels
	}
	cached, errFit := fitCachedModels(names)
	if errFit != nil {
		return errFit
	}
	return r.store.UpdateCachedModels(ctx, row.ID, cached)
}

// fitCachedModels sorts names and drops entries from the end until the encoded
// list fits the cached_available_models bound.
func fitCachedModels(names []string) (datatypes.JSON, error) {
	sorted := make([]string, len(names))
	copy(sorted, names)
	sort.Strings(sorted)

	var candidate models.ModelProviderConnection
	for n := len(sorted); n >= 0; n-- {
		errSet := candidate.SetCachedModels(sorted[:n])
		if errSet == nil {
			return candidate.CachedAvailableModels, nil
		}
		if !errors.Is(errSet, models.ErrCachedModelsTooLong) {
			return nil, errSet
		}
		if n > 0 {
			log.Debugf("model catalog: dropping %q to fit cached models bound", sorted[n-1])
		}
	}
	return nil, models.ErrCachedModelsTooLong
}
