package sources

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/nightfall/pkg/compression"
	"github.com/ajitpratap0/nightfall/pkg/config"
	"github.com/ajitpratap0/nightfall/pkg/errors"
	"github.com/ajitpratap0/nightfall/pkg/models"
	"github.com/ajitpratap0/nightfall/pkg/testutil"
)

func transactionsSource(dir string) config.SourceConfig {
	return config.SourceConfig{
		Name:  "transactions",
		Kind:  config.KindCSV,
		Class: config.ClassLocal,
		Mode:  config.ModeReplace,
		Table: models.Table{
			Database: "RAW",
			Schema:   "TRANSACTIONS",
			Name:     "CREDIT_CARD_TRANSACTIONS",
			Columns: []models.Column{
				{Name: "trans_date_trans_time", Type: models.ColumnTimestamp},
				{Name: "amt", Type: models.ColumnFloat},
				{Name: "merchant", Type: models.ColumnString},
				{Name: "dob", Type: models.ColumnDate},
				{Name: "is_fraud", Type: models.ColumnInt},
			},
		},
		Options: config.SourceOptions{
			Dir:         dir,
			Patterns:    []string{"fraud", "train", "test"},
			DropColumns: []string{"Unnamed: 0"},
		},
	}
}

func TestCSVFetch(t *testing.T) {
	dir := t.TempDir()
	header := []string{"Unnamed: 0", " Trans_Date_Trans_Time ", "Merchant", "AMT", "dob", "is_fraud", "city"}
	testutil.WriteCSV(t, dir, "fraudTrain.csv", header,
		[]string{"0", "2019-01-01 00:00:18", "fraud_Rippin", "4.97", "1988-03-09", "0", "Moravian Falls"},
		[]string{"1", "2019-01-01 00:00:44", "fraud_Heller", "", "not a date", "1", "Orient"},
	)
	testutil.WriteCSV(t, dir, "fraudTest.csv", header,
		[]string{"0", "2020-06-21 12:14:25", "fraud_Kirlin", "2.86", "1968-03-19", "0", "Columbia"},
	)
	testutil.WriteCSV(t, dir, "notes.csv", []string{"x"}, []string{"ignored"})

	f, err := New(transactionsSource(dir), testDeps(t))
	require.NoError(t, err)

	batch, err := f.Fetch(context.Background(), "", models.Range{})
	require.NoError(t, err)

	assert.Equal(t, []string{"trans_date_trans_time", "amt", "merchant", "dob", "is_fraud"}, batch.Columns)
	require.Equal(t, 3, batch.Len())

	// fraudTest.csv sorts before fraudTrain.csv.
	assert.Equal(t, []any{
		time.Date(2020, 6, 21, 12, 14, 25, 0, time.UTC), 2.86, "fraud_Kirlin", testutil.Date(1968, 3, 19), int64(0),
	}, batch.Rows[0])
	assert.Nil(t, batch.Rows[2][1], "empty cells are NULL")
	assert.Nil(t, batch.Rows[2][3], "invalid dates are NULL")
	assert.Equal(t, int64(1), batch.Rows[2][4])
}

func TestCSVFilesFallBackToAllCSV(t *testing.T) {
	dir := t.TempDir()
	testutil.WriteCSV(t, dir, "b.csv", []string{"amt"}, []string{"1"})
	testutil.WriteCSV(t, dir, "a.csv", []string{"amt"}, []string{"2"})

	f, err := New(transactionsSource(dir), testDeps(t))
	require.NoError(t, err)

	files, err := f.(*CSVFetcher).Files()
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a.csv"), filepath.Join(dir, "b.csv")}, files)
}

func writeCompressed(t *testing.T, dir, name string, algo compression.Algorithm, content string) {
	t.Helper()
	file, err := os.Create(filepath.Join(dir, name))
	require.NoError(t, err)
	defer file.Close()

	w, err := compression.NewWriter(file, algo, compression.Default)
	require.NoError(t, err)
	_, err = io.WriteString(w, content)
	require.NoError(t, err)
	require.NoError(t, w.Close())
}

func TestCSVCompressedFiles(t *testing.T) {
	dir := t.TempDir()
	writeCompressed(t, dir, "fraudTrain.csv.gz", compression.Gzip, "amt,merchant\n1.5,a\n2.5,b\n")
	writeCompressed(t, dir, "fraudTest.csv.zst", compression.Zstd, "amt,merchant\n3.5,c\n")
	writeCompressed(t, dir, "notes.txt.gz", compression.Gzip, "ignored")

	f, err := New(transactionsSource(dir), testDeps(t))
	require.NoError(t, err)

	files, err := f.(*CSVFetcher).Files()
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "fraudTest.csv.zst"), filepath.Join(dir, "fraudTrain.csv.gz")}, files)

	batch, err := f.Fetch(context.Background(), "", models.Range{})
	require.NoError(t, err)
	require.Equal(t, 3, batch.Len())
	assert.Equal(t, 3.5, batch.Rows[0][1])
	assert.Equal(t, "c", batch.Rows[0][2])
	assert.Equal(t, 2.5, batch.Rows[2][1])
}

func TestCSVCorruptCompressedFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "train.csv.gz"), []byte("plain text"), 0o600))

	f, err := New(transactionsSource(dir), testDeps(t))
	require.NoError(t, err)

	_, err = f.Fetch(context.Background(), "", models.Range{})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeStructural))
}

func TestCSVMissingDirectory(t *testing.T) {
	f, err := New(transactionsSource(filepath.Join(t.TempDir(), "missing")), testDeps(t))
	require.NoError(t, err)

	_, err = f.Fetch(context.Background(), "", models.Range{})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeFile))
}

func TestCSVEmptyDirectory(t *testing.T) {
	f, err := New(transactionsSource(t.TempDir()), testDeps(t))
	require.NoError(t, err)

	batch, err := f.Fetch(context.Background(), "", models.Range{})
	require.NoError(t, err)
	assert.True(t, batch.Empty())
}

func TestConvertValue(t *testing.T) {
	tests := []struct {
		typ    models.ColumnType
		raw    string
		want   any
		wantOK bool
	}{
		{models.ColumnInt, "42", int64(42), true},
		{models.ColumnInt, "4.0", int64(4), true},
		{models.ColumnInt, "4.5", nil, false},
		{models.ColumnFloat, " 3.25 ", 3.25, true},
		{models.ColumnFloat, "abc", nil, false},
		{models.ColumnBool, "true", true, true},
		{models.ColumnDate, "2024-02-29", testutil.Date(2024, 2, 29), true},
		{models.ColumnDate, "2024-02-29 10:00:00", testutil.Date(2024, 2, 29), true},
		{models.ColumnDate, "29/02/2024", nil, false},
		{models.ColumnTimestamp, "2019-01-01T00:00:18Z", time.Date(2019, 1, 1, 0, 0, 18, 0, time.UTC), true},
		{models.ColumnString, "  keep spaces ", "  keep spaces ", true},
		{models.ColumnString, "", nil, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.typ)+"/"+tt.raw, func(t *testing.T) {
			got, ok := convertValue(tt.typ, tt.raw)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
