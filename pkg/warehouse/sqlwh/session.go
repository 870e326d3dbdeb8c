package sqlwh

import (
	"context"
	"database/sql"

	"go.uber.org/zap"

	"github.com/ajitpratap0/nightfall/pkg/errors"
	"github.com/ajitpratap0/nightfall/pkg/models"
)

// session runs every statement on one pinned connection, which keeps
// temporary staging tables visible between statements.
type session struct {
	conn    *sql.Conn
	dialect Dialect
	logger  *zap.Logger
}

func (s *session) CreateStaging(ctx context.Context, table *models.Table) (string, error) {
	name := s.dialect.StagingName(table)
	if _, err := s.conn.ExecContext(ctx, s.dialect.CreateStagingSQL(name, table)); err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeQuery, "failed to create staging table").
			WithDetail("target", table.FQN())
	}
	s.logger.Debug("staging table created", zap.String("staging", name), zap.String("target", table.FQN()))
	return name, nil
}

// InsertRows splits rows into statements that stay under the dialect's
// bind-parameter limit.
func (s *session) InsertRows(ctx context.Context, staging string, columns []string, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}
	if len(columns) == 0 {
		return errors.New(errors.ErrorTypeUsage, "insert requires at least one column")
	}

	perStmt := s.dialect.MaxParams() / len(columns)
	if perStmt < 1 {
		perStmt = 1
	}

	for start := 0; start < len(rows); start += perStmt {
		end := start + perStmt
		if end > len(rows) {
			end = len(rows)
		}
		chunk := rows[start:end]

		args := make([]any, 0, len(chunk)*len(columns))
		for _, row := range chunk {
			if len(row) != len(columns) {
				return errors.Newf(errors.ErrorTypeStructural, "row has %d values, expected %d", len(row), len(columns))
			}
			args = append(args, row...)
		}

		if _, err := s.conn.ExecContext(ctx, insertSQL(s.dialect, staging, columns, len(chunk)), args...); err != nil {
			return errors.Wrap(err, errors.ErrorTypeQuery, "failed to insert staging rows").
				WithDetail("staging", staging).
				WithDetail("rows", len(chunk))
		}
	}
	return nil
}

func (s *session) Merge(ctx context.Context, staging string, table *models.Table, columns, keys []string) error {
	if _, err := s.conn.ExecContext(ctx, s.dialect.MergeSQL(staging, table, columns, keys)); err != nil {
		return errors.Wrap(err, errors.ErrorTypeQuery, "merge failed").
			WithDetail("target", table.FQN()).
			WithDetail("staging", staging)
	}
	return nil
}

func (s *session) Replace(ctx context.Context, staging string, table *models.Table, columns []string) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeQuery, "failed to begin replace transaction")
	}

	for _, stmt := range replaceSQL(s.dialect, staging, table, columns) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			_ = tx.Rollback()
			return errors.Wrap(err, errors.ErrorTypeQuery, "replace failed").
				WithDetail("target", table.FQN())
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeQuery, "failed to commit replace").
			WithDetail("target", table.FQN())
	}
	return nil
}

func (s *session) DropStaging(ctx context.Context, staging string) error {
	if _, err := s.conn.ExecContext(ctx, s.dialect.DropSQL(staging)); err != nil {
		return errors.Wrap(err, errors.ErrorTypeQuery, "failed to drop staging table").
			WithDetail("staging", staging)
	}
	return nil
}

func (s *session) Close() error {
	return s.conn.Close()
}
