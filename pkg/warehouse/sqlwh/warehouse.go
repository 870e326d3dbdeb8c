// Package sqlwh implements the warehouse primitives over database/sql for
// Snowflake, PostgreSQL and MySQL.
package sqlwh

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the pgx driver
	"github.com/snowflakedb/gosnowflake"
	"go.uber.org/zap"

	"github.com/ajitpratap0/nightfall/pkg/config"
	"github.com/ajitpratap0/nightfall/pkg/errors"
	"github.com/ajitpratap0/nightfall/pkg/models"
	"github.com/ajitpratap0/nightfall/pkg/warehouse"
)

// Warehouse is a database/sql backed warehouse.Warehouse.
type Warehouse struct {
	db      *sql.DB
	dialect Dialect
	logger  *zap.Logger
}

var _ warehouse.Warehouse = (*Warehouse)(nil)

// Open connects to the warehouse described by cfg and verifies the
// connection with a ping.
func Open(ctx context.Context, cfg config.WarehouseConfig, logger *zap.Logger) (*Warehouse, error) {
	dialect, err := DialectFor(cfg.Driver)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid warehouse driver")
	}

	dsn, err := BuildDSN(cfg)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid warehouse connection settings")
	}

	db, err := sql.Open(dialect.DriverName(), dsn)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to open warehouse connection")
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to ping warehouse").
			WithDetail("driver", cfg.Driver)
	}

	logger = logger.With(zap.String("component", "warehouse"), zap.String("dialect", dialect.Name()))
	logger.Info("connected to warehouse",
		zap.String("database", cfg.Database),
		zap.String("role", cfg.Role),
		zap.String("warehouse", cfg.Warehouse))

	return New(db, dialect, logger), nil
}

// New wraps an open *sql.DB.
func New(db *sql.DB, dialect Dialect, logger *zap.Logger) *Warehouse {
	return &Warehouse{db: db, dialect: dialect, logger: logger}
}

// BuildDSN renders the driver DSN for cfg. An explicit DSN wins; MySQL DSNs
// always get parseTime so DATE columns scan into time.Time.
func BuildDSN(cfg config.WarehouseConfig) (string, error) {
	switch cfg.Driver {
	case "snowflake":
		if cfg.DSN != "" {
			return cfg.DSN, nil
		}
		return gosnowflake.DSN(&gosnowflake.Config{
			Account:     cfg.Account,
			User:        cfg.User,
			Password:    cfg.Password,
			Database:    cfg.Database,
			Schema:      cfg.Schema,
			Warehouse:   cfg.Warehouse,
			Role:        cfg.Role,
			Application: "nightfall",
		})
	case "postgres":
		return cfg.DSN, nil
	case "mysql":
		mc, err := mysql.ParseDSN(cfg.DSN)
		if err != nil {
			return "", err
		}
		mc.ParseTime = true
		mc.Loc = time.UTC
		return mc.FormatDSN(), nil
	default:
		return "", fmt.Errorf("unsupported driver %q", cfg.Driver)
	}
}

// Dialect returns the SQL dialect in use.
func (w *Warehouse) Dialect() Dialect {
	return w.dialect
}

// Execute runs a query and returns every row. []byte values are returned as strings.
func (w *Warehouse) Execute(ctx context.Context, query string, args ...any) ([][]any, error) {
	rows, err := w.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "query failed")
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "failed to read columns")
	}

	var out [][]any
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeQuery, "failed to scan row")
		}
		for i, v := range values {
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		out = append(out, values)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "row iteration failed")
	}
	return out, nil
}

// EnsureTable creates the table, and its schema, when missing.
func (w *Warehouse) EnsureTable(ctx context.Context, table *models.Table) error {
	if stmt := w.dialect.CreateSchemaSQL(table); stmt != "" {
		if _, err := w.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, errors.ErrorTypeQuery, "failed to create schema").
				WithDetail("table", table.FQN())
		}
	}
	if _, err := w.db.ExecContext(ctx, w.dialect.CreateTableSQL(table)); err != nil {
		return errors.Wrap(err, errors.ErrorTypeQuery, "failed to create table").
			WithDetail("table", table.FQN())
	}
	w.logger.Debug("table ready", zap.String("table", table.FQN()))
	return nil
}

// Truncate removes every row of the table.
func (w *Warehouse) Truncate(ctx context.Context, table *models.Table) error {
	if _, err := w.db.ExecContext(ctx, w.dialect.TruncateSQL(table)); err != nil {
		return errors.Wrap(err, errors.ErrorTypeQuery, "failed to truncate table").
			WithDetail("table", table.FQN())
	}
	return nil
}

// MaxBoundary returns the largest boundary value, optionally per entity.
func (w *Warehouse) MaxBoundary(ctx context.Context, table *models.Table, entity string) (time.Time, bool, error) {
	query, args := maxBoundarySQL(w.dialect, table, entity)

	var v any
	if err := w.db.QueryRowContext(ctx, query, args...).Scan(&v); err != nil {
		return time.Time{}, false, errors.Wrap(err, errors.ErrorTypeQuery, "watermark query failed").
			WithDetail("table", table.FQN())
	}
	return asTime(v)
}

func maxBoundarySQL(d Dialect, table *models.Table, entity string) (string, []any) {
	query := fmt.Sprintf("SELECT MAX(%s) FROM %s", d.Quote(table.BoundaryColumn), d.Qualified(table))
	if table.EntityColumn == "" {
		return query, nil
	}
	return query + fmt.Sprintf(" WHERE %s = %s", d.Quote(table.EntityColumn), d.Placeholder(1)), []any{entity}
}

// asTime converts a scanned MAX() value to a day.
func asTime(v any) (time.Time, bool, error) {
	switch t := v.(type) {
	case nil:
		return time.Time{}, false, nil
	case time.Time:
		return models.Day(t), true, nil
	case []byte:
		return asTime(string(t))
	case string:
		if len(t) >= len(models.DateLayout) {
			d, err := models.ParseDay(t[:len(models.DateLayout)])
			if err != nil {
				return time.Time{}, false, errors.Wrap(err, errors.ErrorTypeStructural, "unparseable boundary value")
			}
			return d, true, nil
		}
	}
	return time.Time{}, false, errors.Newf(errors.ErrorTypeStructural, "unexpected boundary value type %T", v)
}

// RowCount returns COUNT(*) for a fully qualified table name.
func (w *Warehouse) RowCount(ctx context.Context, table string) (int64, error) {
	if !config.ValidIdentifier(table) {
		return 0, errors.Newf(errors.ErrorTypeUsage, "invalid table name %q", table)
	}
	var n int64
	query := "SELECT COUNT(*) FROM " + quoteQualified(w.dialect, table)
	if err := w.db.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, errors.Wrap(err, errors.ErrorTypeQuery, "count query failed").
			WithDetail("table", table)
	}
	return n, nil
}

// Session pins a connection from the pool.
func (w *Warehouse) Session(ctx context.Context) (warehouse.Session, error) {
	conn, err := w.db.Conn(ctx)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to acquire warehouse session")
	}
	return &session{conn: conn, dialect: w.dialect, logger: w.logger}, nil
}

// Close closes the pool.
func (w *Warehouse) Close() error {
	return w.db.Close()
}
