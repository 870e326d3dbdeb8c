// Package ingest moves source data into warehouse targets: it resolves
// incremental watermarks, stages fetched rows and merges them idempotently.
package ingest

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/nightfall/pkg/models"
	"github.com/ajitpratap0/nightfall/pkg/warehouse"
)

// Watermark is the first day a fetch should request.
type Watermark struct {
	Start time.Time
	// FromDefault is true when the target held no data for the entity or
	// could not be queried.
	FromDefault bool
}

// WatermarkResolver derives watermarks from the data already in a target.
type WatermarkResolver struct {
	wh     warehouse.Warehouse
	logger *zap.Logger
}

// NewWatermarkResolver creates a resolver over wh.
func NewWatermarkResolver(wh warehouse.Warehouse, logger *zap.Logger) *WatermarkResolver {
	return &WatermarkResolver{
		wh:     wh,
		logger: logger.With(zap.String("component", "watermark")),
	}
}

// Resolve returns the day after the latest boundary value stored for entity,
// or defaultStart when there is none. A failing lookup (for instance a target
// that does not exist yet) also yields defaultStart; it is logged, not returned.
func (r *WatermarkResolver) Resolve(ctx context.Context, table *models.Table, entity string, defaultStart time.Time) Watermark {
	log := r.logger.With(zap.String("table", table.FQN()))
	if entity != "" {
		log = log.With(zap.String("entity", entity))
	}

	last, ok, err := r.wh.MaxBoundary(ctx, table, entity)
	if err != nil {
		log.Warn("watermark lookup failed, using default start",
			zap.Error(err),
			zap.String("default_start", defaultStart.Format(models.DateLayout)))
		return Watermark{Start: models.Day(defaultStart), FromDefault: true}
	}
	if !ok {
		log.Info("no existing data, using default start",
			zap.String("default_start", defaultStart.Format(models.DateLayout)))
		return Watermark{Start: models.Day(defaultStart), FromDefault: true}
	}

	start := models.Day(last).AddDate(0, 0, 1)
	log.Info("resolved watermark",
		zap.String("last_loaded", last.Format(models.DateLayout)),
		zap.String("start", start.Format(models.DateLayout)))
	return Watermark{Start: start}
}
