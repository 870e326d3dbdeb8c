package sources

import (
	"context"
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/ajitpratap0/nightfall/internal/ingest"
	"github.com/ajitpratap0/nightfall/pkg/compression"
	"github.com/ajitpratap0/nightfall/pkg/config"
	"github.com/ajitpratap0/nightfall/pkg/errors"
	"github.com/ajitpratap0/nightfall/pkg/models"
)

func init() {
	Register(config.KindCSV, newCSV)
}

// CSVFetcher loads every matching CSV file of a directory. It ignores the
// requested range: CSV sources are fully refreshed on each run.
type CSVFetcher struct {
	name     string
	dir      string
	patterns []string
	drop     map[string]bool
	columns  []models.Column
	logger   *zap.Logger
}

func newCSV(cfg config.SourceConfig, deps Deps) (ingest.Fetcher, error) {
	if cfg.Options.Dir == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "dir is required")
	}
	drop := make(map[string]bool, len(cfg.Options.DropColumns))
	for _, c := range cfg.Options.DropColumns {
		drop[normalizeHeader(c)] = true
	}
	return &CSVFetcher{
		name:     cfg.Name,
		dir:      cfg.Options.Dir,
		patterns: cfg.Options.Patterns,
		drop:     drop,
		columns:  cfg.Table.Columns,
		logger:   deps.Logger,
	}, nil
}

// Files returns the files to load in name order. Compressed exports such as
// train.csv.gz count as csv files. Files whose name contains one of the
// patterns are preferred; without any match every csv file of the directory
// is used.
func (f *CSVFetcher) Files() ([]string, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "invalid csv directory")
	}

	var all []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		_, base := compression.FromPath(e.Name())
		if strings.EqualFold(filepath.Ext(base), ".csv") {
			all = append(all, filepath.Join(f.dir, e.Name()))
		}
	}
	sort.Strings(all)

	var matched []string
	for _, path := range all {
		name := strings.ToLower(filepath.Base(path))
		for _, p := range f.patterns {
			if strings.Contains(name, strings.ToLower(p)) {
				matched = append(matched, path)
				break
			}
		}
	}
	if len(matched) > 0 {
		return matched, nil
	}
	return all, nil
}

// Fetch reads every file into one batch holding the table's declared columns.
func (f *CSVFetcher) Fetch(ctx context.Context, entity string, r models.Range) (*models.RowBatch, error) {
	names := make([]string, len(f.columns))
	for i, c := range f.columns {
		names[i] = c.Name
	}
	batch := models.NewRowBatch(f.name, entity, r, names)

	if _, err := os.Stat(f.dir); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "csv directory is not readable").WithDetail("dir", f.dir)
	}
	files, err := f.Files()
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		f.logger.Warn("no csv files found", zap.String("dir", f.dir))
		return batch, nil
	}

	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeTimeout, "csv load interrupted")
		}
		n, invalid, err := f.readFile(path, batch)
		if err != nil {
			return nil, err
		}
		f.logger.Info("loaded csv file",
			zap.String("file", filepath.Base(path)),
			zap.Int("rows", n),
			zap.Int("invalid_values", invalid))
	}
	return batch, nil
}

// readFile appends the rows of one file to batch and returns the number of
// rows read and of values that could not be parsed (stored as NULL).
func (f *CSVFetcher) readFile(path string, batch *models.RowBatch) (int, int, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, 0, errors.Wrap(err, errors.ErrorTypeFile, "failed to open csv file").WithDetail("file", path)
	}
	defer file.Close()

	algo, _ := compression.FromPath(path)
	src, err := compression.NewReader(file, algo)
	if err != nil {
		return 0, 0, errors.Wrap(err, errors.ErrorTypeStructural, "failed to open compressed csv file").WithDetail("file", path)
	}
	defer src.Close()

	reader := csv.NewReader(src)
	reader.FieldsPerRecord = -1
	reader.ReuseRecord = true

	header, err := reader.Read()
	if err == io.EOF {
		return 0, 0, nil
	}
	if err != nil {
		return 0, 0, errors.Wrap(err, errors.ErrorTypeStructural, "failed to read csv header").WithDetail("file", path)
	}

	// position[i] is the file column feeding declared column i, or -1.
	position := make([]int, len(f.columns))
	for i := range position {
		position[i] = -1
	}
	for j, h := range header {
		h = normalizeHeader(h)
		if f.drop[h] {
			continue
		}
		for i, c := range f.columns {
			if strings.EqualFold(c.Name, h) {
				position[i] = j
			}
		}
	}

	rows, invalid := 0, 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return rows, invalid, errors.Wrap(err, errors.ErrorTypeStructural, "malformed csv record").
				WithDetail("file", path).
				WithDetail("row", rows+1)
		}

		row := make([]any, len(f.columns))
		for i, c := range f.columns {
			j := position[i]
			if j < 0 || j >= len(record) {
				continue
			}
			v, ok := convertValue(c.Type, record[j])
			if !ok {
				invalid++
			}
			row[i] = v
		}
		batch.Rows = append(batch.Rows, row)
		rows++
	}
	return rows, invalid, nil
}

func normalizeHeader(h string) string {
	return strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
}
