// Package warehouse defines the primitives nightfall needs from a data
// warehouse: generic query execution, table management, watermark lookups,
// row counts, and sessions that own transient staging tables.
//
// Implementations live in sub-packages: sqlwh drives Snowflake, PostgreSQL
// and MySQL through database/sql, and memory keeps tables in process for
// tests and dry runs.
package warehouse

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ajitpratap0/nightfall/pkg/models"
)

// Warehouse is a connection pool to a data warehouse. It is safe for
// concurrent use; each ingestion task opens its own Session.
type Warehouse interface {
	// Execute runs a query and returns every row.
	Execute(ctx context.Context, query string, args ...any) ([][]any, error)

	// EnsureTable creates the table when it does not exist. The created table
	// carries the models.LoadedAtColumn audit column.
	EnsureTable(ctx context.Context, table *models.Table) error

	// Truncate removes every row of the table.
	Truncate(ctx context.Context, table *models.Table) error

	// MaxBoundary returns MAX(boundary column), restricted to entity when the
	// table has an entity column. ok is false when no row matches.
	MaxBoundary(ctx context.Context, table *models.Table, entity string) (max time.Time, ok bool, err error)

	// RowCount returns COUNT(*) of a fully qualified table name.
	RowCount(ctx context.Context, table string) (int64, error)

	// Session pins one connection. Staging tables are scoped to it.
	Session(ctx context.Context) (Session, error)

	Close() error
}

// Session is a single pinned connection. It is not safe for concurrent use.
type Session interface {
	// CreateStaging creates a uniquely named transient table with the same
	// column structure as table and returns its name.
	CreateStaging(ctx context.Context, table *models.Table) (string, error)

	// InsertRows appends rows to a staging table.
	InsertRows(ctx context.Context, staging string, columns []string, rows [][]any) error

	// Merge upserts staging into table in one statement: rows whose keys match
	// update every non-key column in columns, other rows are inserted. Rows
	// only present in the target are left untouched.
	Merge(ctx context.Context, staging string, table *models.Table, columns, keys []string) error

	// Replace atomically swaps the target's rows for the staging rows.
	Replace(ctx context.Context, staging string, table *models.Table, columns []string) error

	// DropStaging drops a staging table. Dropping a missing table is not an error.
	DropStaging(ctx context.Context, staging string) error

	Close() error
}

// StagingSuffix returns a short random suffix for staging table names.
func StagingSuffix() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}
