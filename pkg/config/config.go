// Package config provides the configuration system for nightfall.
//
// A single immutable Config is built once per process, from defaults, an
// optional YAML file with ${VAR} substitution and NIGHTFALL_* or legacy
// SNOWFLAKE_* environment overrides, and then handed to the orchestrator.
// Nothing in the pipeline reads configuration from globals.
//
// The configuration is organized into logical sections:
//   - Warehouse: driver, credentials and pool sizing
//   - Staging: batch sizes for staging inserts
//   - Policies: retry and timeout policy per task class
//   - Pipeline and Schedule: overall run timeout and cron expression
//   - Sources: one entry per ingested source
//   - Transform: the external transform tool and its ordered steps
//   - Validation: reconciliation tables and rules
//   - Logging and Observability: zap, Prometheus and OpenTelemetry settings
//
// Example usage:
//
//	cfg, err := config.LoadFile("nightfall.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/ajitpratap0/nightfall/pkg/logger"
	"github.com/ajitpratap0/nightfall/pkg/models"
)

// Source classes select a retry policy.
const (
	ClassAPI   = "api"
	ClassLocal = "local"
)

// Load modes for sources.
const (
	ModeMerge   = "merge"
	ModeReplace = "replace"
)

// Source kinds.
const (
	KindFrankfurter = "frankfurter"
	KindYahoo       = "yahoo"
	KindCSV         = "csv"
	KindSQL         = "sql"
	KindMongo       = "mongo"
)

// Transform step kinds.
const (
	StepBuild    = "build"
	StepSnapshot = "snapshot"
	StepTest     = "test"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_$]*$`)

// ValidIdentifier reports whether each dot-separated part of name is a plain
// SQL identifier. Warehouse statements interpolate these names directly.
func ValidIdentifier(name string) bool {
	if name == "" {
		return false
	}
	for _, part := range strings.Split(name, ".") {
		if !identifierPattern.MatchString(part) {
			return false
		}
	}
	return true
}

// Config is the root configuration for a nightfall process.
type Config struct {
	// Name identifies the pipeline in logs and metrics
	Name string `yaml:"name" json:"name"`

	// Warehouse holds the connection used by ingestion
	Warehouse WarehouseConfig `yaml:"warehouse" json:"warehouse"`

	// Staging controls how rows are written to staging tables
	Staging StagingConfig `yaml:"staging" json:"staging"`

	// Policies holds the retry policy for each task class
	Policies PoliciesConfig `yaml:"policies" json:"policies"`

	// Pipeline holds run-wide limits
	Pipeline PipelineConfig `yaml:"pipeline" json:"pipeline"`

	// Schedule holds the trigger used by the schedule command
	Schedule ScheduleConfig `yaml:"schedule" json:"schedule"`

	// HTTP configures the client shared by API sources
	HTTP HTTPConfig `yaml:"http" json:"http"`

	// Sources lists every ingested source
	Sources []SourceConfig `yaml:"sources" json:"sources"`

	// Transform configures the external transform tool
	Transform TransformConfig `yaml:"transform" json:"transform"`

	// Validation configures reconciliation
	Validation ValidationConfig `yaml:"validation" json:"validation"`

	// Logging configures zap
	Logging logger.Config `yaml:"logging" json:"logging"`

	// Observability configures metrics and tracing
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`
}

// WarehouseConfig describes a warehouse connection.
type WarehouseConfig struct {
	// Driver is one of snowflake, postgres, mysql or memory
	Driver string `yaml:"driver" json:"driver"`
	// DSN, when set, is used verbatim and the discrete fields are ignored
	DSN string `yaml:"dsn" json:"-"`

	Account   string `yaml:"account" json:"account"`
	User      string `yaml:"user" json:"user"`
	Password  string `yaml:"password" json:"-"`
	Role      string `yaml:"role" json:"role"`
	Warehouse string `yaml:"warehouse" json:"warehouse"`
	Database  string `yaml:"database" json:"database"`
	Schema    string `yaml:"schema" json:"schema"`

	// MaxOpenConns bounds concurrent sessions; ingestion holds one per source
	MaxOpenConns    int           `yaml:"max_open_conns" json:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
}

// With returns a copy of the connection using a different role, compute
// warehouse and database. Empty arguments keep the current value.
func (w WarehouseConfig) With(role, warehouse, database string) WarehouseConfig {
	if role != "" {
		w.Role = role
	}
	if warehouse != "" {
		w.Warehouse = warehouse
	}
	if database != "" {
		w.Database = database
	}
	return w
}

// StagingConfig controls staging inserts.
type StagingConfig struct {
	// BatchSize is the number of rows per staging insert batch
	BatchSize int `yaml:"batch_size" json:"batch_size"`
}

// RetryPolicy is the retry and timeout policy of a task class.
type RetryPolicy struct {
	// Retries is the number of attempts after the first one
	Retries int `yaml:"retries" json:"retries"`
	// RetryDelay is the wait before the first retry
	RetryDelay time.Duration `yaml:"retry_delay" json:"retry_delay"`
	// Multiplier grows the delay between retries (1 keeps it constant)
	Multiplier float64 `yaml:"multiplier" json:"multiplier"`
	// MaxDelay caps the delay between retries
	MaxDelay time.Duration `yaml:"max_delay" json:"max_delay"`
	// Timeout bounds the whole task including retries
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

func (p RetryPolicy) validate(name string) error {
	if p.Retries < 0 {
		return fmt.Errorf("policy %s: retries must be >= 0", name)
	}
	if p.RetryDelay < 0 || p.MaxDelay < 0 {
		return fmt.Errorf("policy %s: delays must be >= 0", name)
	}
	if p.Multiplier != 0 && p.Multiplier < 1 {
		return fmt.Errorf("policy %s: multiplier must be >= 1", name)
	}
	if p.Timeout <= 0 {
		return fmt.Errorf("policy %s: timeout must be positive", name)
	}
	return nil
}

// PoliciesConfig holds the policy of each task class.
type PoliciesConfig struct {
	// API covers network sources: more retries with a longer delay
	API RetryPolicy `yaml:"api" json:"api"`
	// Local covers file sources: fewer retries with a shorter delay
	Local RetryPolicy `yaml:"local" json:"local"`
	// Transform covers build and snapshot steps
	Transform RetryPolicy `yaml:"transform" json:"transform"`
	// Test covers transform test steps, which are never retried
	Test RetryPolicy `yaml:"test" json:"test"`
}

// ForClass returns the policy of a source class.
func (p PoliciesConfig) ForClass(class string) (RetryPolicy, error) {
	switch class {
	case ClassAPI:
		return p.API, nil
	case ClassLocal:
		return p.Local, nil
	default:
		return RetryPolicy{}, fmt.Errorf("unknown source class %q", class)
	}
}

// ForStep returns the policy of a transform step. Test steps always get zero
// retries. A step timeout overrides the class timeout.
func (p PoliciesConfig) ForStep(step TransformStep) RetryPolicy {
	policy := p.Transform
	if step.Kind == StepTest {
		policy = p.Test
		policy.Retries = 0
	}
	if step.Timeout > 0 {
		policy.Timeout = step.Timeout
	}
	return policy
}

// PipelineConfig holds run-wide limits.
type PipelineConfig struct {
	// Timeout bounds an entire run
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// ScheduleConfig configures the in-process scheduler.
type ScheduleConfig struct {
	// Cron is a standard five-field cron expression
	Cron string `yaml:"cron" json:"cron"`
	// Timezone is an IANA location name, UTC when empty
	Timezone string `yaml:"timezone" json:"timezone"`
}

// HTTPConfig configures the client shared by API sources.
type HTTPConfig struct {
	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout"`
	// RateLimit is requests per second across all API sources (0 = unlimited)
	RateLimit float64 `yaml:"rate_limit" json:"rate_limit"`
	RateBurst int     `yaml:"rate_burst" json:"rate_burst"`
	UserAgent string  `yaml:"user_agent" json:"user_agent"`
}

// SourceConfig describes one ingested source.
type SourceConfig struct {
	// Name identifies the source in logs, metrics and summaries
	Name string `yaml:"name" json:"name"`
	// Kind selects the fetcher implementation
	Kind string `yaml:"kind" json:"kind"`
	// Class selects the retry policy (api or local)
	Class string `yaml:"class" json:"class"`
	// Mode is merge (incremental upsert) or replace (full refresh)
	Mode string `yaml:"mode" json:"mode"`
	// Disabled sources are kept in config but never run
	Disabled bool `yaml:"disabled" json:"disabled"`
	// DefaultStart is the first day fetched when the target holds no data
	DefaultStart string `yaml:"default_start" json:"default_start"`
	// ChunkDays is the maximum span of one fetch request
	ChunkDays int `yaml:"chunk_days" json:"chunk_days"`
	// Table is the warehouse target
	Table models.Table `yaml:"table" json:"table"`
	// Options holds kind specific settings
	Options SourceOptions `yaml:"options" json:"options"`
}

// StartDate returns DefaultStart as a day.
func (s SourceConfig) StartDate() (time.Time, error) {
	return models.ParseDay(s.DefaultStart)
}

// SourceOptions holds the settings of every source kind. Each kind reads only
// the fields it documents.
type SourceOptions struct {
	// frankfurter, yahoo
	BaseURL string `yaml:"base_url" json:"base_url"`

	// frankfurter
	BaseCurrency string   `yaml:"base_currency" json:"base_currency"`
	Currencies   []string `yaml:"currencies" json:"currencies"`

	// yahoo
	Tickers []string `yaml:"tickers" json:"tickers"`

	// csv
	Dir         string   `yaml:"dir" json:"dir"`
	Patterns    []string `yaml:"patterns" json:"patterns"`
	DropColumns []string `yaml:"drop_columns" json:"drop_columns"`

	// sql
	Driver string `yaml:"driver" json:"driver"`
	DSN    string `yaml:"dsn" json:"-"`
	Query  string `yaml:"query" json:"query"`

	// mongo
	URI        string `yaml:"uri" json:"-"`
	Database   string `yaml:"database" json:"database"`
	Collection string `yaml:"collection" json:"collection"`
	// BoundaryField is the document field compared against the range
	BoundaryField string `yaml:"boundary_field" json:"boundary_field"`
}

// TransformConfig configures the external transform tool.
type TransformConfig struct {
	// Engine is dbt, or none to skip the transform stage
	Engine      string          `yaml:"engine" json:"engine"`
	Binary      string          `yaml:"binary" json:"binary"`
	ProjectDir  string          `yaml:"project_dir" json:"project_dir"`
	ProfilesDir string          `yaml:"profiles_dir" json:"profiles_dir"`
	Target      string          `yaml:"target" json:"target"`
	EnvFile     string          `yaml:"env_file" json:"env_file"`
	Steps       []TransformStep `yaml:"steps" json:"steps"`
}

// TransformStep is one ordered transform invocation.
type TransformStep struct {
	Name string   `yaml:"name" json:"name"`
	Kind string   `yaml:"kind" json:"kind"`
	Args []string `yaml:"args" json:"args"`
	// Timeout overrides the class timeout when set
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// ValidationConfig configures reconciliation.
type ValidationConfig struct {
	// Role, Warehouse and Database override the ingestion connection
	Role      string `yaml:"role" json:"role"`
	Warehouse string `yaml:"warehouse" json:"warehouse"`
	Database  string `yaml:"database" json:"database"`

	// Tables are counted and reported by layer
	Tables []string `yaml:"tables" json:"tables"`
	// Rules pair tables whose counts must match
	Rules []models.ReconciliationRule `yaml:"rules" json:"rules"`
}

// ObservabilityConfig configures metrics and tracing.
type ObservabilityConfig struct {
	// MetricsAddr is where the schedule command serves /metrics (empty disables)
	MetricsAddr string        `yaml:"metrics_addr" json:"metrics_addr"`
	Tracing     TracingConfig `yaml:"tracing" json:"tracing"`
}

// TracingConfig configures OpenTelemetry.
type TracingConfig struct {
	Enabled     bool   `yaml:"enabled" json:"enabled"`
	ServiceName string `yaml:"service_name" json:"service_name"`
	// Exporter is stdout; spans are written as JSON to PrettyPrint or compact form
	Exporter    string `yaml:"exporter" json:"exporter"`
	PrettyPrint bool   `yaml:"pretty_print" json:"pretty_print"`
}

// EnabledSources returns the sources that are not disabled.
func (c *Config) EnabledSources() []SourceConfig {
	out := make([]SourceConfig, 0, len(c.Sources))
	for _, s := range c.Sources {
		if !s.Disabled {
			out = append(out, s)
		}
	}
	return out
}

// Source returns the source with the given name.
func (c *Config) Source(name string) (SourceConfig, bool) {
	for _, s := range c.Sources {
		if s.Name == name {
			return s, true
		}
	}
	return SourceConfig{}, false
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	switch c.Warehouse.Driver {
	case "snowflake", "postgres", "mysql", "memory":
	default:
		return fmt.Errorf("unsupported warehouse driver %q", c.Warehouse.Driver)
	}
	if c.Warehouse.Driver == "snowflake" && c.Warehouse.DSN == "" && c.Warehouse.Account == "" {
		return fmt.Errorf("snowflake warehouse requires an account or a dsn")
	}
	if (c.Warehouse.Driver == "postgres" || c.Warehouse.Driver == "mysql") && c.Warehouse.DSN == "" {
		return fmt.Errorf("%s warehouse requires a dsn", c.Warehouse.Driver)
	}

	if c.Staging.BatchSize <= 0 {
		return fmt.Errorf("staging batch size must be positive")
	}
	if c.Pipeline.Timeout <= 0 {
		return fmt.Errorf("pipeline timeout must be positive")
	}

	for name, p := range map[string]RetryPolicy{
		ClassAPI:    c.Policies.API,
		ClassLocal:  c.Policies.Local,
		"transform": c.Policies.Transform,
		"test":      c.Policies.Test,
	} {
		if err := p.validate(name); err != nil {
			return err
		}
	}

	if len(c.EnabledSources()) == 0 {
		return fmt.Errorf("at least one enabled source is required")
	}
	seen := make(map[string]bool, len(c.Sources))
	for i := range c.Sources {
		s := &c.Sources[i]
		if seen[s.Name] {
			return fmt.Errorf("duplicate source name %q", s.Name)
		}
		seen[s.Name] = true
		if err := s.validate(); err != nil {
			return err
		}
	}

	if err := c.Transform.validate(); err != nil {
		return err
	}

	for _, t := range c.Validation.Tables {
		if !ValidIdentifier(t) {
			return fmt.Errorf("validation table %q is not a valid identifier", t)
		}
	}
	for _, r := range c.Validation.Rules {
		if r.Name == "" {
			return fmt.Errorf("reconciliation rule requires a name")
		}
		if !ValidIdentifier(r.Source) || !ValidIdentifier(r.Target) {
			return fmt.Errorf("reconciliation rule %q references an invalid table", r.Name)
		}
	}

	return nil
}

func (s *SourceConfig) validate() error {
	if s.Name == "" {
		return fmt.Errorf("source requires a name")
	}
	if _, err := (PoliciesConfig{}).ForClass(s.Class); err != nil {
		return fmt.Errorf("source %s: %w", s.Name, err)
	}
	switch s.Mode {
	case ModeMerge:
		if len(s.Table.Keys) == 0 {
			return fmt.Errorf("source %s: merge mode requires table keys", s.Name)
		}
		if s.Table.BoundaryColumn == "" {
			return fmt.Errorf("source %s: merge mode requires a boundary column", s.Name)
		}
		if _, err := s.StartDate(); err != nil {
			return fmt.Errorf("source %s: default_start: %w", s.Name, err)
		}
	case ModeReplace:
	default:
		return fmt.Errorf("source %s: unknown mode %q", s.Name, s.Mode)
	}
	if s.ChunkDays < 0 {
		return fmt.Errorf("source %s: chunk_days must be >= 0", s.Name)
	}
	if err := s.Table.Validate(); err != nil {
		return fmt.Errorf("source %s: %w", s.Name, err)
	}
	for _, id := range append([]string{s.Table.FQN()}, s.Table.ColumnNames()...) {
		if !ValidIdentifier(id) {
			return fmt.Errorf("source %s: %q is not a valid identifier", s.Name, id)
		}
	}

	o := s.Options
	switch s.Kind {
	case KindFrankfurter:
		if o.BaseCurrency == "" || len(o.Currencies) == 0 {
			return fmt.Errorf("source %s: base_currency and currencies are required", s.Name)
		}
	case KindYahoo:
		if len(o.Tickers) == 0 {
			return fmt.Errorf("source %s: tickers are required", s.Name)
		}
		if s.Table.EntityColumn == "" {
			return fmt.Errorf("source %s: yahoo sources need an entity column", s.Name)
		}
	case KindCSV:
		if o.Dir == "" {
			return fmt.Errorf("source %s: dir is required", s.Name)
		}
	case KindSQL:
		switch o.Driver {
		case "postgres", "mysql", "sqlserver":
		default:
			return fmt.Errorf("source %s: sql driver must be postgres, mysql or sqlserver", s.Name)
		}
		if o.DSN == "" || o.Query == "" {
			return fmt.Errorf("source %s: dsn and query are required", s.Name)
		}
	case KindMongo:
		if o.URI == "" || o.Database == "" || o.Collection == "" {
			return fmt.Errorf("source %s: uri, database and collection are required", s.Name)
		}
	default:
		return fmt.Errorf("source %s: unknown kind %q", s.Name, s.Kind)
	}
	return nil
}

func (t *TransformConfig) validate() error {
	switch t.Engine {
	case "none", "":
		return nil
	case "dbt":
	default:
		return fmt.Errorf("unsupported transform engine %q", t.Engine)
	}
	if t.Binary == "" {
		return fmt.Errorf("transform binary is required")
	}
	for _, step := range t.Steps {
		if step.Name == "" {
			return fmt.Errorf("transform step requires a name")
		}
		switch step.Kind {
		case StepBuild, StepSnapshot, StepTest:
		default:
			return fmt.Errorf("transform step %s: unknown kind %q", step.Name, step.Kind)
		}
		if len(step.Args) == 0 {
			return fmt.Errorf("transform step %s: args are required", step.Name)
		}
	}
	return nil
}
