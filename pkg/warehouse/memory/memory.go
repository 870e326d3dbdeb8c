// Package memory implements warehouse.Warehouse in process. It backs unit
// tests and dry runs (driver: memory) and supports failure injection so
// callers can exercise their error paths.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ajitpratap0/nightfall/pkg/errors"
	"github.com/ajitpratap0/nightfall/pkg/models"
	"github.com/ajitpratap0/nightfall/pkg/warehouse"
)

// Operation names accepted by FailOn.
const (
	OpEnsureTable   = "ensure_table"
	OpMaxBoundary   = "max_boundary"
	OpRowCount      = "row_count"
	OpSession       = "session"
	OpCreateStaging = "create_staging"
	OpInsert        = "insert"
	OpMerge         = "merge"
	OpReplace       = "replace"
)

type table struct {
	columns []string
	rows    [][]any
}

func (t *table) index(col string) int {
	for i, c := range t.columns {
		if strings.EqualFold(c, col) {
			return i
		}
	}
	return -1
}

// Warehouse keeps tables in memory. Table names are case-insensitive.
type Warehouse struct {
	mu       sync.Mutex
	tables   map[string]*table
	failures map[string]error
	staging  map[string]bool
	sessions int
}

var _ warehouse.Warehouse = (*Warehouse)(nil)

// New returns an empty warehouse.
func New() *Warehouse {
	return &Warehouse{
		tables:   make(map[string]*table),
		failures: make(map[string]error),
		staging:  make(map[string]bool),
	}
}

func key(name string) string {
	return strings.ToUpper(name)
}

// FailOn makes every later call of op return err. A nil err clears it.
func (w *Warehouse) FailOn(op string, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err == nil {
		delete(w.failures, op)
		return
	}
	w.failures[op] = err
}

func (w *Warehouse) fail(op string) error {
	if err, ok := w.failures[op]; ok {
		return err
	}
	return nil
}

// CreateTable creates or replaces a table with the given columns and rows.
func (w *Warehouse) CreateTable(name string, columns []string, rows ...[]any) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.tables[key(name)] = &table{columns: columns, rows: rows}
}

// Rows returns a copy of the rows of a table, or nil when it does not exist.
func (w *Warehouse) Rows(name string) [][]any {
	w.mu.Lock()
	defer w.mu.Unlock()
	t, ok := w.tables[key(name)]
	if !ok {
		return nil
	}
	out := make([][]any, len(t.rows))
	for i, r := range t.rows {
		out[i] = append([]any(nil), r...)
	}
	return out
}

// Columns returns the columns of a table.
func (w *Warehouse) Columns(name string) []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.tables[key(name)]; ok {
		return append([]string(nil), t.columns...)
	}
	return nil
}

// ActiveStaging returns the number of staging tables not yet dropped.
func (w *Warehouse) ActiveStaging() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.staging)
}

// Sessions returns how many sessions were opened.
func (w *Warehouse) Sessions() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sessions
}

// Execute is not supported: the memory warehouse has no SQL engine.
func (w *Warehouse) Execute(ctx context.Context, query string, args ...any) ([][]any, error) {
	return nil, errors.New(errors.ErrorTypeUsage, "memory warehouse does not execute SQL")
}

// EnsureTable creates the table with its audit column when missing.
func (w *Warehouse) EnsureTable(ctx context.Context, t *models.Table) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.fail(OpEnsureTable); err != nil {
		return err
	}
	if _, ok := w.tables[key(t.FQN())]; !ok {
		cols := append(t.ColumnNames(), models.LoadedAtColumn)
		w.tables[key(t.FQN())] = &table{columns: cols}
	}
	return nil
}

// Truncate removes every row.
func (w *Warehouse) Truncate(ctx context.Context, t *models.Table) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if tbl, ok := w.tables[key(t.FQN())]; ok {
		tbl.rows = nil
	}
	return nil
}

// MaxBoundary scans the boundary column.
func (w *Warehouse) MaxBoundary(ctx context.Context, t *models.Table, entity string) (time.Time, bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.fail(OpMaxBoundary); err != nil {
		return time.Time{}, false, err
	}

	tbl, ok := w.tables[key(t.FQN())]
	if !ok {
		return time.Time{}, false, errors.Newf(errors.ErrorTypeQuery, "table %s does not exist", t.FQN())
	}
	bi := tbl.index(t.BoundaryColumn)
	if bi < 0 {
		return time.Time{}, false, errors.Newf(errors.ErrorTypeQuery, "column %s does not exist", t.BoundaryColumn)
	}
	ei := -1
	if t.EntityColumn != "" {
		ei = tbl.index(t.EntityColumn)
	}

	var max time.Time
	found := false
	for _, row := range tbl.rows {
		if ei >= 0 && fmt.Sprint(row[ei]) != entity {
			continue
		}
		v, ok := row[bi].(time.Time)
		if !ok {
			continue
		}
		if !found || v.After(max) {
			max, found = v, true
		}
	}
	if !found {
		return time.Time{}, false, nil
	}
	return models.Day(max), true, nil
}

// RowCount returns the number of rows, failing for unknown tables.
func (w *Warehouse) RowCount(ctx context.Context, name string) (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.fail(OpRowCount); err != nil {
		return 0, err
	}
	tbl, ok := w.tables[key(name)]
	if !ok {
		return 0, errors.Newf(errors.ErrorTypeQuery, "table %s does not exist", name)
	}
	return int64(len(tbl.rows)), nil
}

// Session opens a session. Staging tables it creates are private to it.
func (w *Warehouse) Session(ctx context.Context) (warehouse.Session, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.fail(OpSession); err != nil {
		return nil, err
	}
	w.sessions++
	return &session{wh: w, staging: make(map[string]*table)}, nil
}

// Close is a no-op.
func (w *Warehouse) Close() error {
	return nil
}

type session struct {
	wh      *Warehouse
	staging map[string]*table
}

func (s *session) CreateStaging(ctx context.Context, t *models.Table) (string, error) {
	s.wh.mu.Lock()
	defer s.wh.mu.Unlock()
	if err := s.wh.fail(OpCreateStaging); err != nil {
		return "", err
	}
	target, ok := s.wh.tables[key(t.FQN())]
	if !ok {
		return "", errors.Newf(errors.ErrorTypeQuery, "table %s does not exist", t.FQN())
	}
	name := t.FQN() + "_STG_" + strings.ToUpper(warehouse.StagingSuffix())
	s.staging[key(name)] = &table{columns: append([]string(nil), target.columns...)}
	s.wh.staging[key(name)] = true
	return name, nil
}

func (s *session) lookup(name string) (*table, error) {
	tbl, ok := s.staging[key(name)]
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeQuery, "staging table %s does not exist in this session", name)
	}
	return tbl, nil
}

func (s *session) InsertRows(ctx context.Context, staging string, columns []string, rows [][]any) error {
	s.wh.mu.Lock()
	defer s.wh.mu.Unlock()
	if err := s.wh.fail(OpInsert); err != nil {
		return err
	}
	tbl, err := s.lookup(staging)
	if err != nil {
		return err
	}
	for _, row := range rows {
		if len(row) != len(columns) {
			return errors.Newf(errors.ErrorTypeStructural, "row has %d values, expected %d", len(row), len(columns))
		}
		full, err := project(tbl, columns, row)
		if err != nil {
			return err
		}
		tbl.rows = append(tbl.rows, full)
	}
	return nil
}

// project lays values for columns out in the table's column order; columns
// not provided are NULL.
func project(tbl *table, columns []string, row []any) ([]any, error) {
	full := make([]any, len(tbl.columns))
	for i, c := range columns {
		idx := tbl.index(c)
		if idx < 0 {
			return nil, errors.Newf(errors.ErrorTypeQuery, "column %s does not exist", c)
		}
		full[idx] = row[i]
	}
	return full, nil
}

func rowKey(tbl *table, row []any, keys []string) string {
	parts := make([]string, len(keys))
	for i, k := range keys {
		v := row[tbl.index(k)]
		if tm, ok := v.(time.Time); ok {
			v = tm.UTC().Format(time.RFC3339Nano)
		}
		parts[i] = fmt.Sprint(v)
	}
	return strings.Join(parts, "\x1f")
}

// Merge applies staging to the target while holding the warehouse lock, so
// concurrent readers never observe a partial merge.
func (s *session) Merge(ctx context.Context, staging string, t *models.Table, columns, keys []string) error {
	s.wh.mu.Lock()
	defer s.wh.mu.Unlock()
	if err := s.wh.fail(OpMerge); err != nil {
		return err
	}
	src, err := s.lookup(staging)
	if err != nil {
		return err
	}
	target, ok := s.wh.tables[key(t.FQN())]
	if !ok {
		return errors.Newf(errors.ErrorTypeQuery, "table %s does not exist", t.FQN())
	}
	for _, k := range keys {
		if target.index(k) < 0 {
			return errors.Newf(errors.ErrorTypeQuery, "key column %s does not exist", k)
		}
	}

	existing := make(map[string]int, len(target.rows))
	for i, row := range target.rows {
		existing[rowKey(target, row, keys)] = i
	}

	updates := models.NonKeyColumns(columns, keys)
	now := time.Now().UTC()
	loadedAt := target.index(models.LoadedAtColumn)

	for _, srow := range src.rows {
		k := rowKey(src, srow, keys)
		if i, ok := existing[k]; ok {
			for _, c := range updates {
				target.rows[i][target.index(c)] = srow[src.index(c)]
			}
			continue
		}
		full := make([]any, len(target.columns))
		for _, c := range columns {
			full[target.index(c)] = srow[src.index(c)]
		}
		if loadedAt >= 0 {
			full[loadedAt] = now
		}
		target.rows = append(target.rows, full)
		existing[k] = len(target.rows) - 1
	}
	return nil
}

func (s *session) Replace(ctx context.Context, staging string, t *models.Table, columns []string) error {
	s.wh.mu.Lock()
	defer s.wh.mu.Unlock()
	if err := s.wh.fail(OpReplace); err != nil {
		return err
	}
	src, err := s.lookup(staging)
	if err != nil {
		return err
	}
	target, ok := s.wh.tables[key(t.FQN())]
	if !ok {
		return errors.Newf(errors.ErrorTypeQuery, "table %s does not exist", t.FQN())
	}

	now := time.Now().UTC()
	loadedAt := target.index(models.LoadedAtColumn)
	rows := make([][]any, 0, len(src.rows))
	for _, srow := range src.rows {
		full := make([]any, len(target.columns))
		for _, c := range columns {
			full[target.index(c)] = srow[src.index(c)]
		}
		if loadedAt >= 0 {
			full[loadedAt] = now
		}
		rows = append(rows, full)
	}
	target.rows = rows
	return nil
}

func (s *session) DropStaging(ctx context.Context, staging string) error {
	s.wh.mu.Lock()
	defer s.wh.mu.Unlock()
	delete(s.staging, key(staging))
	delete(s.wh.staging, key(staging))
	return nil
}

// Close forgets the session's staging tables. ActiveStaging keeps counting
// the ones never dropped explicitly, which is what tests assert on.
func (s *session) Close() error {
	s.wh.mu.Lock()
	defer s.wh.mu.Unlock()
	s.staging = map[string]*table{}
	return nil
}
