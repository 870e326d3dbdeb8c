package sources

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/ajitpratap0/nightfall/pkg/errors"
	"github.com/ajitpratap0/nightfall/pkg/models"
)

var timestampLayouts = []string{
	"2006-01-02 15:04:05",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	models.DateLayout,
}

// appendRow adds row to batch. A row that does not fit the batch columns
// means the upstream response no longer has the expected shape.
func appendRow(batch *models.RowBatch, row ...any) error {
	if err := batch.Append(row...); err != nil {
		return errors.Wrap(err, errors.ErrorTypeStructural, "unexpected row shape").
			WithDetail("source", batch.SourceID).
			WithDetail("entity", batch.Entity)
	}
	return nil
}

// convertValue parses raw text into the Go value for typ. Empty text is NULL.
// ok is false when non-empty text could not be parsed; the value is then NULL.
func convertValue(typ models.ColumnType, raw string) (any, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, true
	}

	switch typ {
	case models.ColumnInt:
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n, true
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil && f == math.Trunc(f) {
			return int64(f), true
		}
		return nil, false
	case models.ColumnFloat:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, false
		}
		return f, true
	case models.ColumnBool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return nil, false
		}
		return b, true
	case models.ColumnDate:
		d, err := models.ParseDay(s)
		if err != nil {
			if ts, ok := parseTimestamp(s); ok {
				return models.Day(ts), true
			}
			return nil, false
		}
		return d, true
	case models.ColumnTimestamp:
		ts, ok := parseTimestamp(s)
		if !ok {
			return nil, false
		}
		return ts, true
	default:
		return raw, true
	}
}

func parseTimestamp(s string) (time.Time, bool) {
	for _, layout := range timestampLayouts {
		if ts, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return ts.UTC(), true
		}
	}
	return time.Time{}, false
}

// normalizeValue converts driver values into the types the warehouse layer
// binds: text for byte slices, int64 for smaller integers and UTC for times.
func normalizeValue(v any) any {
	switch x := v.(type) {
	case []byte:
		return string(x)
	case int:
		return int64(x)
	case int32:
		return int64(x)
	case int16:
		return int64(x)
	case int8:
		return int64(x)
	case float32:
		return float64(x)
	case time.Time:
		return x.UTC()
	default:
		return v
	}
}
