package sqlwh

import (
	"fmt"
	"strings"

	"github.com/ajitpratap0/nightfall/pkg/models"
	"github.com/ajitpratap0/nightfall/pkg/warehouse"
)

// Dialect renders the statements that differ between warehouses.
type Dialect interface {
	// Name is the configuration name of the dialect.
	Name() string
	// DriverName is the database/sql driver to open.
	DriverName() string
	// Placeholder returns the bind marker for the n-th (1-based) parameter.
	Placeholder(n int) string
	// MaxParams is the largest number of bind parameters in one statement.
	MaxParams() int
	// Quote renders a single identifier part.
	Quote(ident string) string
	// Qualified renders the table name as the warehouse addresses it.
	Qualified(table *models.Table) string

	CreateSchemaSQL(table *models.Table) string
	CreateTableSQL(table *models.Table) string
	TruncateSQL(table *models.Table) string
	StagingName(table *models.Table) string
	CreateStagingSQL(staging string, table *models.Table) string
	MergeSQL(staging string, table *models.Table, columns, keys []string) string
	DropSQL(staging string) string
}

// DialectFor returns the dialect registered under name.
func DialectFor(name string) (Dialect, error) {
	switch name {
	case "snowflake":
		return snowflakeDialect{}, nil
	case "postgres":
		return postgresDialect{}, nil
	case "mysql":
		return mysqlDialect{}, nil
	default:
		return nil, fmt.Errorf("unsupported dialect %q", name)
	}
}

// quoteList renders idents through d.Quote, optionally prefixed by alias.
func quoteList(d Dialect, alias string, idents []string) string {
	parts := make([]string, len(idents))
	for i, id := range idents {
		if alias != "" {
			parts[i] = alias + "." + d.Quote(id)
		} else {
			parts[i] = d.Quote(id)
		}
	}
	return strings.Join(parts, ", ")
}

func quoteQualified(d Dialect, name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = d.Quote(p)
	}
	return strings.Join(parts, ".")
}

func createTableSQL(d Dialect, table *models.Table, typeOf func(models.ColumnType) string, loadedAt string, primaryKey bool) string {
	var b strings.Builder
	b.WriteString("CREATE TABLE IF NOT EXISTS ")
	b.WriteString(d.Qualified(table))
	b.WriteString(" (\n")
	for _, c := range table.Columns {
		fmt.Fprintf(&b, "    %s %s,\n", d.Quote(c.Name), typeOf(c.Type))
	}
	fmt.Fprintf(&b, "    %s %s", d.Quote(models.LoadedAtColumn), loadedAt)
	if primaryKey && len(table.Keys) > 0 {
		fmt.Fprintf(&b, ",\n    PRIMARY KEY (%s)", quoteList(d, "", table.Keys))
	}
	b.WriteString("\n)")
	return b.String()
}

func onClause(d Dialect, keys []string) string {
	conds := make([]string, len(keys))
	for i, k := range keys {
		conds[i] = fmt.Sprintf("target.%s = source.%s", d.Quote(k), d.Quote(k))
	}
	return strings.Join(conds, " AND ")
}

// mergeStatement renders the ANSI MERGE shared by Snowflake and PostgreSQL.
// qualifySet controls whether SET targets are written as target.col.
func mergeStatement(d Dialect, staging string, table *models.Table, columns, keys []string, qualifySet bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "MERGE INTO %s AS target\n", d.Qualified(table))
	fmt.Fprintf(&b, "USING %s AS source\n", quoteQualified(d, staging))
	fmt.Fprintf(&b, "ON %s\n", onClause(d, keys))

	updates := models.NonKeyColumns(columns, keys)
	if len(updates) > 0 {
		sets := make([]string, len(updates))
		for i, c := range updates {
			lhs := d.Quote(c)
			if qualifySet {
				lhs = "target." + lhs
			}
			sets[i] = fmt.Sprintf("%s = source.%s", lhs, d.Quote(c))
		}
		fmt.Fprintf(&b, "WHEN MATCHED THEN UPDATE SET %s\n", strings.Join(sets, ", "))
	}
	fmt.Fprintf(&b, "WHEN NOT MATCHED THEN INSERT (%s) VALUES (%s)",
		quoteList(d, "", columns), quoteList(d, "source", columns))
	return b.String()
}

// insertSQL renders a multi-row INSERT with rows*len(columns) bind parameters.
func insertSQL(d Dialect, staging string, columns []string, rows int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES ", quoteQualified(d, staging), quoteList(d, "", columns))
	n := 1
	for r := 0; r < rows; r++ {
		if r > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for c := range columns {
			if c > 0 {
				b.WriteString(", ")
			}
			b.WriteString(d.Placeholder(n))
			n++
		}
		b.WriteByte(')')
	}
	return b.String()
}

// replaceSQL renders the two statements run in one transaction by Replace.
func replaceSQL(d Dialect, staging string, table *models.Table, columns []string) []string {
	cols := quoteList(d, "", columns)
	return []string{
		fmt.Sprintf("DELETE FROM %s", d.Qualified(table)),
		fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s", d.Qualified(table), cols, cols, quoteQualified(d, staging)),
	}
}

// snowflakeDialect targets Snowflake through gosnowflake.
type snowflakeDialect struct{}

func (snowflakeDialect) Name() string { return "snowflake" }
func (snowflakeDialect) DriverName() string { return "snowflake" }
func (snowflakeDialect) Placeholder(int) string { return "?" }
func (snowflakeDialect) MaxParams() int { return 16384 }
func (snowflakeDialect) Quote(ident string) string {
	return ident
}

func (d snowflakeDialect) Qualified(table *models.Table) string {
	return table.FQN()
}

func (d snowflakeDialect) CreateSchemaSQL(table *models.Table) string {
	if table.Schema == "" {
		return ""
	}
	if table.Database == "" {
		return "CREATE SCHEMA IF NOT EXISTS " + table.Schema
	}
	return "CREATE SCHEMA IF NOT EXISTS " + table.Database + "." + table.Schema
}

func (d snowflakeDialect) CreateTableSQL(table *models.Table) string {
	return createTableSQL(d, table, d.columnType, "TIMESTAMP_NTZ DEFAULT CURRENT_TIMESTAMP()", false)
}

func (d snowflakeDialect) columnType(t models.ColumnType) string {
	switch t {
	case models.ColumnInt:
		return "NUMBER(38,0)"
	case models.ColumnFloat:
		return "FLOAT"
	case models.ColumnBool:
		return "BOOLEAN"
	case models.ColumnDate:
		return "DATE"
	case models.ColumnTimestamp:
		return "TIMESTAMP_NTZ"
	default:
		return "VARCHAR"
	}
}

func (d snowflakeDialect) TruncateSQL(table *models.Table) string {
	return "TRUNCATE TABLE IF EXISTS " + d.Qualified(table)
}

// StagingName keeps the staging table next to its target so it inherits the
// target's database and schema.
func (d snowflakeDialect) StagingName(table *models.Table) string {
	return d.Qualified(table) + "_STG_" + strings.ToUpper(warehouse.StagingSuffix())
}

func (d snowflakeDialect) CreateStagingSQL(staging string, table *models.Table) string {
	return fmt.Sprintf("CREATE TEMPORARY TABLE %s LIKE %s", staging, d.Qualified(table))
}

func (d snowflakeDialect) MergeSQL(staging string, table *models.Table, columns, keys []string) string {
	return mergeStatement(d, staging, table, columns, keys, true)
}

func (d snowflakeDialect) DropSQL(staging string) string {
	return "DROP TABLE IF EXISTS " + staging
}

// postgresDialect targets PostgreSQL 15+ through pgx. Database names cannot
// prefix table names, so only schema.name is used.
type postgresDialect struct{}

func (postgresDialect) Name() string { return "postgres" }
func (postgresDialect) DriverName() string { return "pgx" }
func (postgresDialect) Placeholder(n int) string {
	return fmt.Sprintf("$%d", n)
}
func (postgresDialect) MaxParams() int { return 65535 }
func (postgresDialect) Quote(ident string) string {
	return ident
}

func (d postgresDialect) Qualified(table *models.Table) string {
	if table.Schema == "" {
		return table.Name
	}
	return table.Schema + "." + table.Name
}

func (d postgresDialect) CreateSchemaSQL(table *models.Table) string {
	if table.Schema == "" {
		return ""
	}
	return "CREATE SCHEMA IF NOT EXISTS " + table.Schema
}

func (d postgresDialect) CreateTableSQL(table *models.Table) string {
	return createTableSQL(d, table, d.columnType, "TIMESTAMP DEFAULT CURRENT_TIMESTAMP", true)
}

func (d postgresDialect) columnType(t models.ColumnType) string {
	switch t {
	case models.ColumnInt:
		return "BIGINT"
	case models.ColumnFloat:
		return "DOUBLE PRECISION"
	case models.ColumnBool:
		return "BOOLEAN"
	case models.ColumnDate:
		return "DATE"
	case models.ColumnTimestamp:
		return "TIMESTAMP"
	default:
		return "TEXT"
	}
}

func (d postgresDialect) TruncateSQL(table *models.Table) string {
	return "TRUNCATE TABLE " + d.Qualified(table)
}

// StagingName is unqualified: temporary tables live in the session's own schema.
func (d postgresDialect) StagingName(table *models.Table) string {
	return strings.ToLower("stg_" + table.Name + "_" + warehouse.StagingSuffix())
}

func (d postgresDialect) CreateStagingSQL(staging string, table *models.Table) string {
	return fmt.Sprintf("CREATE TEMPORARY TABLE %s (LIKE %s INCLUDING DEFAULTS)", staging, d.Qualified(table))
}

func (d postgresDialect) MergeSQL(staging string, table *models.Table, columns, keys []string) string {
	return mergeStatement(d, staging, table, columns, keys, false)
}

func (d postgresDialect) DropSQL(staging string) string {
	return "DROP TABLE IF EXISTS " + staging
}

// mysqlDialect targets MySQL 8 through go-sql-driver/mysql. The schema plays
// the role of the database; identifiers are backtick quoted because several
// column names (long, open, close) collide with keywords.
type mysqlDialect struct{}

func (mysqlDialect) Name() string { return "mysql" }
func (mysqlDialect) DriverName() string { return "mysql" }
func (mysqlDialect) Placeholder(int) string { return "?" }
func (mysqlDialect) MaxParams() int { return 65535 }
func (mysqlDialect) Quote(ident string) string {
	return "`" + ident + "`"
}

func (d mysqlDialect) database(table *models.Table) string {
	if table.Schema != "" {
		return table.Schema
	}
	return table.Database
}

func (d mysqlDialect) Qualified(table *models.Table) string {
	if db := d.database(table); db != "" {
		return d.Quote(db) + "." + d.Quote(table.Name)
	}
	return d.Quote(table.Name)
}

func (d mysqlDialect) CreateSchemaSQL(table *models.Table) string {
	if db := d.database(table); db != "" {
		return "CREATE DATABASE IF NOT EXISTS " + d.Quote(db)
	}
	return ""
}

func (d mysqlDialect) CreateTableSQL(table *models.Table) string {
	return createTableSQL(d, table, d.columnType, "TIMESTAMP DEFAULT CURRENT_TIMESTAMP", true)
}

func (d mysqlDialect) columnType(t models.ColumnType) string {
	switch t {
	case models.ColumnInt:
		return "BIGINT"
	case models.ColumnFloat:
		return "DOUBLE"
	case models.ColumnBool:
		return "BOOLEAN"
	case models.ColumnDate:
		return "DATE"
	case models.ColumnTimestamp:
		return "DATETIME"
	default:
		return "VARCHAR(255)"
	}
}

func (d mysqlDialect) TruncateSQL(table *models.Table) string {
	return "TRUNCATE TABLE " + d.Qualified(table)
}

func (d mysqlDialect) StagingName(table *models.Table) string {
	name := strings.ToLower("stg_" + table.Name + "_" + warehouse.StagingSuffix())
	if db := d.database(table); db != "" {
		return db + "." + name
	}
	return name
}

func (d mysqlDialect) CreateStagingSQL(staging string, table *models.Table) string {
	return fmt.Sprintf("CREATE TEMPORARY TABLE %s LIKE %s", quoteQualified(d, staging), d.Qualified(table))
}

// MergeSQL emulates MERGE with INSERT ... SELECT ... ON DUPLICATE KEY UPDATE,
// matching on the primary key created from the table keys.
func (d mysqlDialect) MergeSQL(staging string, table *models.Table, columns, keys []string) string {
	cols := quoteList(d, "", columns)
	updates := models.NonKeyColumns(columns, keys)
	if len(updates) == 0 {
		return fmt.Sprintf("INSERT IGNORE INTO %s (%s)\nSELECT %s FROM %s AS source",
			d.Qualified(table), cols, quoteList(d, "source", columns), quoteQualified(d, staging))
	}
	sets := make([]string, len(updates))
	for i, c := range updates {
		sets[i] = fmt.Sprintf("%s = source.%s", d.Quote(c), d.Quote(c))
	}
	return fmt.Sprintf("INSERT INTO %s (%s)\nSELECT %s FROM %s AS source\nON DUPLICATE KEY UPDATE %s",
		d.Qualified(table), cols, quoteList(d, "source", columns), quoteQualified(d, staging), strings.Join(sets, ", "))
}

func (d mysqlDialect) DropSQL(staging string) string {
	return "DROP TEMPORARY TABLE IF EXISTS " + quoteQualified(d, staging)
}
