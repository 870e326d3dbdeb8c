// Package nightfall runs a nightly warehouse pipeline: incremental ingestion of
// external sources, an external transform project, and row-count
// reconciliation across warehouse layers.
//
// # Architecture
//
// A run moves through three stages, followed by a summary:
//
// 1. Ingestion: every enabled source runs concurrently. Each source resolves
// its watermark (one day past the latest loaded day, per entity), fetches the
// missing range in chunks, and upserts each chunk through a uniquely named
// staging table. A failed source never stops its siblings.
//
// 2. Transform: the configured steps (dbt run, snapshot, test) run in order.
// The first failure stops the remaining steps, which are reported as skipped.
//
// 3. Validation: configured tables are counted and reconciliation rules
// compare counts pairwise. A mismatch is a warning, not a failure.
//
// Every run ends in exactly one of completed, completed_with_warnings or
// failed, and the summary is emitted even when a stage panics or the run
// times out.
//
// # Quick Start
//
//	go build -o bin/nightfall ./cmd/nightfall
//	./bin/nightfall sources --config nightfall.yaml
//	./bin/nightfall run --config nightfall.yaml
//
// To keep the process resident and trigger runs on the configured cron
// expression (06:00 UTC by default):
//
//	./bin/nightfall schedule --config nightfall.yaml
//
// # Packages
//
//   - internal/ingest: watermarks, staging loads, merges and source tasks
//   - internal/sources: fetchers for HTTP APIs, CSV exports, SQL and MongoDB
//   - internal/transform: the external transform engine
//   - internal/validation: reconciliation counts and rules
//   - internal/pipeline: retries, orchestration and run summaries
//   - pkg/warehouse: Snowflake, Postgres, MySQL and in-memory warehouses
//   - pkg/config: defaults, YAML loading and environment overrides
package nightfall
