package sources

import (
	"context"
	"database/sql"
	"strings"
	"sync"

	_ "github.com/go-sql-driver/mysql" // registers the mysql driver
	_ "github.com/jackc/pgx/v5/stdlib" // registers the pgx driver
	_ "github.com/microsoft/go-mssqldb" // registers the sqlserver driver
	"go.uber.org/zap"

	"github.com/ajitpratap0/nightfall/internal/ingest"
	"github.com/ajitpratap0/nightfall/pkg/config"
	"github.com/ajitpratap0/nightfall/pkg/errors"
	"github.com/ajitpratap0/nightfall/pkg/models"
)

func init() {
	Register(config.KindSQL, newSQL)
}

// SQLFetcher runs a query against an operational PostgreSQL, MySQL or SQL
// Server database. The query receives the range start and exclusive end as
// its two parameters ($1/$2, ?/? or @p1/@p2) and its result columns become the
// batch columns.
type SQLFetcher struct {
	name   string
	driver string
	dsn    string
	query  string
	logger *zap.Logger

	mu sync.Mutex
	db *sql.DB
}

func newSQL(cfg config.SourceConfig, deps Deps) (ingest.Fetcher, error) {
	o := cfg.Options
	driver, err := sqlDriverName(o.Driver)
	if err != nil {
		return nil, err
	}
	if o.DSN == "" || o.Query == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "dsn and query are required")
	}
	return &SQLFetcher{
		name:   cfg.Name,
		driver: driver,
		dsn:    o.DSN,
		query:  o.Query,
		logger: deps.Logger,
	}, nil
}

// NewSQLFetcher wraps an already open database.
func NewSQLFetcher(name string, db *sql.DB, query string, logger *zap.Logger) *SQLFetcher {
	return &SQLFetcher{name: name, query: query, db: db, logger: logger}
}

func sqlDriverName(driver string) (string, error) {
	switch driver {
	case "postgres":
		return "pgx", nil
	case "mysql":
		return "mysql", nil
	case "sqlserver":
		return "sqlserver", nil
	default:
		return "", errors.Newf(errors.ErrorTypeConfig, "unsupported sql source driver %q", driver)
	}
}

func (f *SQLFetcher) conn(ctx context.Context) (*sql.DB, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.db != nil {
		return f.db, nil
	}

	db, err := sql.Open(f.driver, f.dsn)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to open source database")
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to reach source database")
	}
	f.db = db
	return db, nil
}

// Fetch runs the query for r.
func (f *SQLFetcher) Fetch(ctx context.Context, entity string, r models.Range) (*models.RowBatch, error) {
	db, err := f.conn(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, f.query, r.Start, r.End)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "source query failed").WithDetail("range", r.String())
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "failed to read result columns")
	}
	for i := range cols {
		cols[i] = strings.ToLower(cols[i])
	}
	batch := models.NewRowBatch(f.name, entity, r, cols)

	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeStructural, "failed to scan source row")
		}
		for i, v := range values {
			values[i] = normalizeValue(v)
		}
		batch.Rows = append(batch.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeTransient, "source query interrupted")
	}

	f.logger.Debug("fetched source rows", zap.Stringer("range", r), zap.Int("rows", batch.Len()))
	return batch, nil
}

// Close closes the database handle.
func (f *SQLFetcher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.db == nil {
		return nil
	}
	err := f.db.Close()
	f.db = nil
	return err
}
