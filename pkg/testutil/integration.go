package testutil

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// IntegrationTestSuite is the base for suites that run whole pipelines
// against an in-memory warehouse. Files written by a suite live in one
// directory removed after the suite.
type IntegrationTestSuite struct {
	suite.Suite
	ctx     context.Context
	cancel  context.CancelFunc
	dir     string
	started time.Time
}

// SetupSuite runs before all tests in the suite
func (s *IntegrationTestSuite) SetupSuite() {
	s.ctx, s.cancel = context.WithTimeout(context.Background(), 5*time.Minute)
	s.started = time.Now()
	s.dir = s.T().TempDir()
}

// TearDownSuite runs after all tests in the suite
func (s *IntegrationTestSuite) TearDownSuite() {
	s.cancel()
	s.T().Logf("pipeline suite finished in %v", time.Since(s.started))
}

// Context returns the suite context.
func (s *IntegrationTestSuite) Context() context.Context {
	return s.ctx
}

// Dir returns a fresh subdirectory of the suite directory.
func (s *IntegrationTestSuite) Dir(name string) string {
	dir := filepath.Join(s.dir, name)
	s.Require().NoError(os.MkdirAll(dir, 0o755))
	return dir
}

// IntegrationTest skips end-to-end pipeline tests in short mode.
func IntegrationTest(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping pipeline test in short mode")
	}
}

// WriteCSV writes header and records to dir/name and returns the path.
func WriteCSV(t *testing.T, dir, name string, header []string, records ...[]string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w := csv.NewWriter(f)
	require.NoError(t, w.Write(header))
	require.NoError(t, w.WriteAll(records))
	return path
}

// WriteScript writes an executable shell script to dir/name and returns its
// path. It stands in for external tools such as dbt in tests.
func WriteScript(t *testing.T, dir, name, body string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}
