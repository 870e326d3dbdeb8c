package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/attribute"
)

func TestSpanWithoutProvider(t *testing.T) {
	ctx, span := StartSpan(context.Background(), "ingestion", attribute.String("run_id", "r1"))
	assert.NotNil(t, ctx)

	span.SetAttribute("rows", int64(10))
	span.SetAttribute("source", "fx")
	span.SetAttribute("other", struct{}{})
	span.RecordError(nil)
	span.RecordError(errors.New("boom"))
	span.End()

	assert.NoError(t, Shutdown(context.Background()))
}
