package transform

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/nightfall/pkg/config"
	"github.com/ajitpratap0/nightfall/pkg/errors"
	"github.com/ajitpratap0/nightfall/pkg/testutil"
)

func newEngine(t *testing.T, script string) (*DBT, string) {
	dir := t.TempDir()
	bin := testutil.WriteScript(t, dir, "dbt", script)
	return NewDBT(config.TransformConfig{
		Binary:      bin,
		ProjectDir:  dir,
		ProfilesDir: dir,
		Target:      "ci",
		EnvFile:     filepath.Join(dir, ".env"),
	}, testutil.TestLogger(t)), dir
}

func TestDBTArgs(t *testing.T) {
	d := NewDBT(config.TransformConfig{ProfilesDir: "/etc/dbt", Target: "prod"}, testutil.TestLogger(t))
	args := d.Args(Step{Name: "dbt-run-marts", Args: []string{"run", "--select", "marts"}})
	assert.Equal(t, []string{"run", "--select", "marts", "--profiles-dir", "/etc/dbt", "--target", "prod"}, args)

	d = NewDBT(config.TransformConfig{}, testutil.TestLogger(t))
	assert.Equal(t, []string{"test"}, d.Args(Step{Args: []string{"test"}}))
}

func TestDBTRunSuccess(t *testing.T) {
	d, dir := newEngine(t, `echo "args: $*"; echo "target schema: $DBT_SCHEMA"; cat dbt_project.yml`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("DBT_SCHEMA=analytics\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "dbt_project.yml"), []byte("name: warehouse\n"), 0o600))

	res, err := d.Run(context.Background(), Step{Name: "dbt-snapshot", Kind: config.StepSnapshot, Args: []string{"snapshot"}})
	require.NoError(t, err)

	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "dbt-snapshot", res.Step)
	assert.Contains(t, res.Output, "args: snapshot --profiles-dir "+dir+" --target ci")
	assert.Contains(t, res.Output, "target schema: analytics")
	assert.Contains(t, res.Output, "name: warehouse", "runs inside the project directory")
	assert.Positive(t, res.Duration)
}

func TestDBTRunFailure(t *testing.T) {
	d, _ := newEngine(t, `echo "Completed with 2 errors"; echo "model stg_transactions failed" >&2; exit 1`)

	res, err := d.Run(context.Background(), Step{Name: "dbt-test", Kind: config.StepTest, Args: []string{"test"}})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeStructural))
	assert.Equal(t, 1, res.ExitCode)
	assert.Contains(t, res.Output, "Completed with 2 errors")

	var e *errors.Error
	require.True(t, errors.As(err, &e))
	assert.Contains(t, e.Details["stderr"], "stg_transactions failed")
}

func TestDBTRunTimeout(t *testing.T) {
	d, _ := newEngine(t, `exec sleep 5`)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := d.Run(ctx, Step{Name: "dbt-run-staging", Args: []string{"run"}})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeTimeout))
}

func TestDBTMissingBinary(t *testing.T) {
	d := NewDBT(config.TransformConfig{Binary: filepath.Join(t.TempDir(), "nope")}, testutil.TestLogger(t))

	_, err := d.Run(context.Background(), Step{Name: "dbt-run-staging", Args: []string{"run"}})
	require.Error(t, err)
	assert.True(t, errors.IsPermanent(err))
}

func TestDBTRunLongOutputLine(t *testing.T) {
	d, _ := newEngine(t, `echo start; head -c 2000000 /dev/zero | tr '\000' x; echo; echo done`)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	res, err := d.Run(ctx, Step{Name: "dbt-run-marts", Args: []string{"run"}})
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)

	lines := strings.Split(strings.TrimSuffix(res.Output, "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "start", lines[0])
	assert.Len(t, lines[1], maxLine)
	assert.Equal(t, "done", lines[2])
}

func TestReadLines(t *testing.T) {
	long := strings.Repeat("y", 3*maxLine)
	input := "first\n" + long + "\n\nlast"

	var got []string
	require.NoError(t, readLines(strings.NewReader(input), func(line string) {
		got = append(got, line)
	}))

	require.Len(t, got, 4)
	assert.Equal(t, "first", got[0])
	assert.Equal(t, long[:maxLine], got[1])
	assert.Equal(t, "", got[2])
	assert.Equal(t, "last", got[3])
}
