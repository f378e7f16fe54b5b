package usecase

import (
	"context"
	"math"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/hako/durafmt"

	"github.com/macrolens/foodfacts/internal/domain"
)

// StatsReporter turns raw store diagnostics into the consumer-facing view
type StatsReporter struct {
	store domain.ProductRepository
	now   func() time.Time
}

// NewStatsReporter creates a new stats reporter
func NewStatsReporter(store domain.ProductRepository) *StatsReporter {
	return &StatsReporter{
		store: store,
		now:   time.Now,
	}
}

// GetStats returns product count, storage size and freshness of the store
func (r *StatsReporter) GetStats(ctx context.Context) (*domain.StorageStats, error) {
	raw, err := r.store.Stats(ctx)
	if err != nil {
		return nil, err
	}

	stats := &domain.StorageStats{
		TotalProducts:      raw.TotalProducts,
		StorageSizeMB:      bytesToMB(raw.StorageSizeBytes),
		StorageSizeHuman:   datasize.ByteSize(max(raw.StorageSizeBytes, 0)).HumanReadable(),
		LastUpdated:        raw.LastUpdated,
		AverageProductSize: raw.AverageRecordSizeBytes,
	}

	if !raw.LastUpdated.IsZero() {
		age := r.now().Sub(raw.LastUpdated)
		if age < time.Second {
			stats.Freshness = "just now"
		} else {
			stats.Freshness = durafmt.Parse(age).LimitFirstN(2).String() + " ago"
		}
	}

	return stats, nil
}

// bytesToMB converts to mebibytes rounded to 2 decimals
func bytesToMB(bytes int64) float64 {
	return math.Round(float64(bytes)/(1024*1024)*100) / 100
}
