package ingest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/nightfall/pkg/errors"
	"github.com/ajitpratap0/nightfall/pkg/models"
	"github.com/ajitpratap0/nightfall/pkg/warehouse"
)

// cleanupTimeout bounds staging cleanup, which runs even after the task
// context has been cancelled.
const cleanupTimeout = time.Minute

// MergeEngine upserts batches into targets through a staging table.
type MergeEngine struct {
	wh     warehouse.Warehouse
	loader *StagingLoader
	logger *zap.Logger
}

// NewMergeEngine creates a merge engine.
func NewMergeEngine(wh warehouse.Warehouse, loader *StagingLoader, logger *zap.Logger) *MergeEngine {
	return &MergeEngine{
		wh:     wh,
		loader: loader,
		logger: logger.With(zap.String("component", "merge_engine")),
	}
}

// Upsert merges batch into table matching on keys: matching rows have their
// non-key columns updated, other rows are inserted, and target rows absent
// from the batch are left alone. Re-applying the same batch is a no-op.
//
// Empty keys are rejected before any warehouse I/O. An empty batch merges
// nothing. The staging table is always dropped, whatever the outcome.
func (m *MergeEngine) Upsert(ctx context.Context, table *models.Table, keys []string, batch *models.RowBatch) (models.MergeResult, error) {
	if len(keys) == 0 {
		return models.MergeResult{}, errors.New(errors.ErrorTypeUsage, "merge requires at least one key column").
			WithDetail("target", table.FQN())
	}
	if batch.Empty() {
		return models.MergeResult{}, nil
	}
	for _, k := range keys {
		if columnIndex(batch.Columns, k) < 0 {
			return models.MergeResult{}, errors.Newf(errors.ErrorTypeUsage, "key column %s is not in the batch", k).
				WithDetail("target", table.FQN())
		}
	}

	deduped := dedupeByKeys(batch, keys)
	if dropped := batch.Len() - deduped.Len(); dropped > 0 {
		m.logger.Warn("batch contained duplicate keys, keeping the last occurrence",
			zap.String("target", table.FQN()),
			zap.Int("duplicates", dropped))
	}

	var result models.MergeResult
	err := m.withStaging(ctx, table, deduped, func(s warehouse.Session, area *models.StagingArea) error {
		if err := s.Merge(ctx, area.Name, table, deduped.Columns, keys); err != nil {
			return err
		}
		result.RowsProcessed = area.Rows
		return nil
	})
	if err != nil {
		return models.MergeResult{}, err
	}

	m.logger.Info("merge complete",
		zap.String("target", table.FQN()),
		zap.Int64("rows", result.RowsProcessed))
	return result, nil
}

// Replace atomically swaps every row of table for the rows in batch. An
// empty batch leaves the target untouched.
func (m *MergeEngine) Replace(ctx context.Context, table *models.Table, batch *models.RowBatch) (models.MergeResult, error) {
	if batch.Empty() {
		return models.MergeResult{}, nil
	}

	var result models.MergeResult
	err := m.withStaging(ctx, table, batch, func(s warehouse.Session, area *models.StagingArea) error {
		if err := s.Replace(ctx, area.Name, table, batch.Columns); err != nil {
			return err
		}
		result.RowsProcessed = area.Rows
		return nil
	})
	if err != nil {
		return models.MergeResult{}, err
	}

	m.logger.Info("replace complete",
		zap.String("target", table.FQN()),
		zap.Int64("rows", result.RowsProcessed))
	return result, nil
}

// withStaging opens a session, loads batch into a staging table, runs apply
// and drops the staging table on every path.
func (m *MergeEngine) withStaging(ctx context.Context, table *models.Table, batch *models.RowBatch, apply func(warehouse.Session, *models.StagingArea) error) error {
	s, err := m.wh.Session(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := s.Close(); err != nil {
			m.logger.Warn("failed to close warehouse session", zap.Error(err))
		}
	}()

	area, err := m.loader.Load(ctx, s, table, batch)
	if area != nil {
		defer m.drop(ctx, s, area)
	}
	if err != nil {
		return err
	}
	if area == nil {
		return nil
	}

	return apply(s, area)
}

func (m *MergeEngine) drop(ctx context.Context, s warehouse.Session, area *models.StagingArea) {
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	if err := s.DropStaging(cleanupCtx, area.Name); err != nil {
		m.logger.Error("failed to drop staging table",
			zap.String("staging", area.Name),
			zap.Error(err))
		return
	}
	m.logger.Debug("staging table dropped", zap.String("staging", area.Name))
}

func columnIndex(columns []string, name string) int {
	for i, c := range columns {
		if strings.EqualFold(c, name) {
			return i
		}
	}
	return -1
}

// dedupeByKeys keeps the last row for each key, preserving first-seen order.
// A MERGE source may match each target row at most once.
func dedupeByKeys(batch *models.RowBatch, keys []string) *models.RowBatch {
	idx := make([]int, len(keys))
	for i, k := range keys {
		idx[i] = columnIndex(batch.Columns, k)
	}

	position := make(map[string]int, batch.Len())
	rows := make([][]any, 0, batch.Len())
	for _, row := range batch.Rows {
		parts := make([]string, len(idx))
		for i, c := range idx {
			v := row[c]
			if t, ok := v.(time.Time); ok {
				v = t.UTC().Format(time.RFC3339Nano)
			}
			parts[i] = fmt.Sprint(v)
		}
		k := strings.Join(parts, "\x1f")
		if p, ok := position[k]; ok {
			rows[p] = row
			continue
		}
		position[k] = len(rows)
		rows = append(rows, row)
	}

	if len(rows) == batch.Len() {
		return batch
	}
	out := *batch
	out.Rows = rows
	return &out
}
