package compression

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromPath(t *testing.T) {
	tests := []struct {
		path string
		algo Algorithm
		base string
	}{
		{path: "data/train.csv", algo: None, base: "data/train.csv"},
		{path: "data/train.csv.gz", algo: Gzip, base: "data/train.csv"},
		{path: "data/train.CSV.GZ", algo: Gzip, base: "data/train.CSV"},
		{path: "train.csv.zst", algo: Zstd, base: "train.csv"},
		{path: "train.csv.lz4", algo: LZ4, base: "train.csv"},
		{path: "train.csv.sz", algo: Snappy, base: "train.csv"},
		{path: "train.csv.s2", algo: S2, base: "train.csv"},
		{path: "train.csv.bz2", algo: None, base: "train.csv.bz2"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			algo, base := FromPath(tt.path)
			assert.Equal(t, tt.algo, algo)
			assert.Equal(t, tt.base, base)
		})
	}
}

func TestExtension(t *testing.T) {
	for _, algo := range []Algorithm{Gzip, Zstd, LZ4, Snappy, S2} {
		got, _ := FromPath("x.csv" + Extension(algo))
		assert.Equal(t, algo, got)
	}
	assert.Equal(t, "", Extension(None))
}

func TestReaderWriterStream(t *testing.T) {
	original := strings.Repeat("trans_num,amt,merchant\nabc123,12.50,fraud_Kirlin and Sons\n", 200)

	for _, algo := range []Algorithm{None, Gzip, Zstd, LZ4, Snappy, S2} {
		for _, level := range []Level{Fastest, Default, Best} {
			t.Run(string(algo), func(t *testing.T) {
				var buf bytes.Buffer
				w, err := NewWriter(&buf, algo, level)
				require.NoError(t, err)
				_, err = io.WriteString(w, original)
				require.NoError(t, err)
				require.NoError(t, w.Close())

				if algo != None {
					assert.Less(t, buf.Len(), len(original))
				}

				r, err := NewReader(&buf, algo)
				require.NoError(t, err)
				defer r.Close()
				got, err := io.ReadAll(r)
				require.NoError(t, err)
				assert.Equal(t, original, string(got))
			})
		}
	}
}

func TestUnsupportedAlgorithm(t *testing.T) {
	_, err := NewReader(strings.NewReader(""), "brotli")
	assert.Error(t, err)
	_, err = NewWriter(io.Discard, "brotli", Default)
	assert.Error(t, err)
}

func TestCorruptGzip(t *testing.T) {
	_, err := NewReader(strings.NewReader("not gzip"), Gzip)
	assert.Error(t, err)
}
