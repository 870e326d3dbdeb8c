// Package transform runs the external SQL transformation tool (dbt) that
// builds the staging and mart layers from freshly ingested raw data.
package transform

import (
	"context"
	"time"

	"github.com/ajitpratap0/nightfall/pkg/config"
)

// Step is one ordered transform invocation.
type Step = config.TransformStep

// Result describes a finished step.
type Result struct {
	Step     string
	Output   string
	ExitCode int
	Duration time.Duration
}

// Engine runs transform steps. Implementations must honour ctx cancellation
// by stopping the underlying process.
type Engine interface {
	Run(ctx context.Context, step Step) (*Result, error)
}
