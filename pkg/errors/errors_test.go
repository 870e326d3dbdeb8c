package errors

import (
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapPreservesStack(t *testing.T) {
	inner := New(ErrorTypeStructural, "bad payload")
	outer := Wrap(inner, ErrorTypeQuery, "merge failed")

	require.NotNil(t, outer)
	assert.Equal(t, inner.Stack, outer.Stack)
	assert.Equal(t, "query: merge failed: structural: bad payload", outer.Error())
	assert.Nil(t, Wrap(nil, ErrorTypeQuery, "nothing"))
}

func TestClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
		permanent bool
		typ       ErrorType
	}{
		{"transient", New(ErrorTypeTransient, "reset"), true, false, ErrorTypeTransient},
		{"timeout", New(ErrorTypeTimeout, "deadline"), true, false, ErrorTypeTimeout},
		{"structural", New(ErrorTypeStructural, "bad json"), false, false, ErrorTypeStructural},
		{"usage", New(ErrorTypeUsage, "no keys"), false, true, ErrorTypeUsage},
		{"config", New(ErrorTypeConfig, "missing dsn"), false, true, ErrorTypeConfig},
		{"plain", io.EOF, false, false, ErrorTypeInternal},
		{"wrapped by fmt", fmt.Errorf("source fx: %w", New(ErrorTypeUsage, "no keys")), false, true, ErrorTypeUsage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.retryable, IsRetryable(tt.err))
			assert.Equal(t, tt.permanent, IsPermanent(tt.err))
			assert.Equal(t, tt.typ, TypeOf(tt.err))
		})
	}
}

func TestWithDetail(t *testing.T) {
	err := Newf(ErrorTypeDegraded, "no new data for %s", "fx").WithDetail("start", "2024-01-01")
	assert.Equal(t, "2024-01-01", err.Details["start"])
	assert.True(t, IsType(err, ErrorTypeDegraded))
	assert.Equal(t, "degraded: no new data for fx", err.Error())
}
