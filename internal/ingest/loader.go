package ingest

import (
	"context"

	"go.uber.org/zap"

	"github.com/ajitpratap0/nightfall/pkg/errors"
	"github.com/ajitpratap0/nightfall/pkg/models"
	"github.com/ajitpratap0/nightfall/pkg/warehouse"
)

// DefaultBatchSize is the number of rows per staging insert.
const DefaultBatchSize = 10000

// StagingLoader writes a RowBatch into a fresh staging table.
type StagingLoader struct {
	batchSize int
	logger    *zap.Logger
}

// NewStagingLoader creates a loader. A non-positive batchSize uses DefaultBatchSize.
func NewStagingLoader(batchSize int, logger *zap.Logger) *StagingLoader {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &StagingLoader{
		batchSize: batchSize,
		logger:    logger.With(zap.String("component", "staging_loader")),
	}
}

// Load creates a staging table shaped like table and inserts batch into it in
// fixed-size batches. An empty batch creates nothing and returns a nil area.
//
// The returned area is non-nil whenever the staging table was created, even
// when an insert failed; the caller owns it and must drop it.
func (l *StagingLoader) Load(ctx context.Context, s warehouse.Session, table *models.Table, batch *models.RowBatch) (*models.StagingArea, error) {
	if batch.Empty() {
		return nil, nil
	}

	name, err := s.CreateStaging(ctx, table)
	if err != nil {
		return nil, err
	}
	area := &models.StagingArea{Name: name, Table: table}

	total := batch.Len()
	batches := (total + l.batchSize - 1) / l.batchSize
	for i := 0; i < batches; i++ {
		from := i * l.batchSize
		to := from + l.batchSize
		if to > total {
			to = total
		}

		if err := s.InsertRows(ctx, name, batch.Columns, batch.Rows[from:to]); err != nil {
			return area, errors.Wrap(err, errors.TypeOf(err), "staging insert failed").
				WithDetail("batch", i+1).
				WithDetail("staged_rows", area.Rows)
		}
		area.Rows += int64(to - from)

		l.logger.Debug("staged batch",
			zap.String("staging", name),
			zap.Int("batch", i+1),
			zap.Int("batches", batches),
			zap.Int("rows", to-from))
	}

	l.logger.Info("staging loaded",
		zap.String("staging", name),
		zap.String("target", table.FQN()),
		zap.Int64("rows", area.Rows))
	return area, nil
}
