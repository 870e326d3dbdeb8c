// Package observability provides OpenTelemetry tracing for nightfall
package observability

import (
	"context"
	"fmt"
	"os"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/ajitpratap0/nightfall"

var (
	// Global tracer provider, nil until Initialize enables tracing
	provider *sdktrace.TracerProvider

	// Initialization lock
	initOnce sync.Once
)

// TracingConfig contains tracing configuration
type TracingConfig struct {
	Enabled     bool
	ServiceName string
	Exporter    string // "stdout"
	PrettyPrint bool
}

// Initialize sets up the global tracer provider. When tracing is disabled the
// OpenTelemetry no-op provider stays in place and spans cost nothing.
func Initialize(cfg TracingConfig, logger *zap.Logger) error {
	var err error

	initOnce.Do(func() {
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		))

		if !cfg.Enabled {
			return
		}

		var exporter sdktrace.SpanExporter
		switch cfg.Exporter {
		case "", "stdout":
			opts := []stdouttrace.Option{stdouttrace.WithWriter(os.Stderr)}
			if cfg.PrettyPrint {
				opts = append(opts, stdouttrace.WithPrettyPrint())
			}
			exporter, err = stdouttrace.New(opts...)
			if err != nil {
				err = fmt.Errorf("failed to create stdout exporter: %w", err)
				return
			}
		default:
			err = fmt.Errorf("unsupported trace exporter %q", cfg.Exporter)
			return
		}

		provider = sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
		otel.SetTracerProvider(provider)
		logger.Info("tracing enabled",
			zap.String("service", cfg.ServiceName),
			zap.String("exporter", cfg.Exporter))
	})

	return err
}

// Shutdown flushes and stops the tracer provider, if one was started.
func Shutdown(ctx context.Context) error {
	if provider == nil {
		return nil
	}
	return provider.Shutdown(ctx)
}

// Tracer returns the nightfall tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

// Span wraps an OpenTelemetry span with the attribute helpers the pipeline uses.
type Span struct {
	span trace.Span
}

// StartSpan starts a span named operationName as a child of ctx.
func StartSpan(ctx context.Context, operationName string, attrs ...attribute.KeyValue) (context.Context, *Span) {
	ctx, span := Tracer().Start(ctx, operationName, trace.WithAttributes(attrs...))
	return ctx, &Span{span: span}
}

// SetAttribute adds an attribute to the span
func (s *Span) SetAttribute(key string, value interface{}) {
	var attr attribute.KeyValue

	switch v := value.(type) {
	case string:
		attr = attribute.String(key, v)
	case int:
		attr = attribute.Int(key, v)
	case int64:
		attr = attribute.Int64(key, v)
	case float64:
		attr = attribute.Float64(key, v)
	case bool:
		attr = attribute.Bool(key, v)
	default:
		attr = attribute.String(key, fmt.Sprintf("%v", v))
	}

	s.span.SetAttributes(attr)
}

// RecordError marks the span failed. A nil err leaves the span untouched.
func (s *Span) RecordError(err error) {
	if err == nil {
		return
	}
	s.span.RecordError(err)
	s.span.SetStatus(codes.Error, err.Error())
}

// End ends the span
func (s *Span) End() {
	s.span.End()
}
