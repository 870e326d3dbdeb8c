package transform

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/ajitpratap0/nightfall/pkg/config"
	"github.com/ajitpratap0/nightfall/pkg/errors"
)

const (
	// maxOutput bounds the output kept in a Result and in error details.
	maxOutput = 64 << 10
	// maxLine bounds a single logged output line.
	maxLine = 16 << 10
)

// DBT runs dbt as a subprocess inside the project directory.
type DBT struct {
	binary      string
	projectDir  string
	profilesDir string
	target      string
	envFile     string
	logger      *zap.Logger
}

var _ Engine = (*DBT)(nil)

// NewDBT creates a dbt engine from cfg.
func NewDBT(cfg config.TransformConfig, logger *zap.Logger) *DBT {
	binary := cfg.Binary
	if binary == "" {
		binary = "dbt"
	}
	return &DBT{
		binary:      binary,
		projectDir:  cfg.ProjectDir,
		profilesDir: cfg.ProfilesDir,
		target:      cfg.Target,
		envFile:     cfg.EnvFile,
		logger:      logger.With(zap.String("component", "dbt")),
	}
}

// Args returns the full argument list for step.
func (d *DBT) Args(step Step) []string {
	args := append([]string(nil), step.Args...)
	if d.profilesDir != "" {
		profiles := d.profilesDir
		if abs, err := filepath.Abs(profiles); err == nil {
			profiles = abs
		}
		args = append(args, "--profiles-dir", profiles)
	}
	if d.target != "" {
		args = append(args, "--target", d.target)
	}
	return args
}

// Environ returns the process environment overlaid with the variables of
// the configured env file. A missing env file is ignored.
func (d *DBT) Environ() ([]string, error) {
	env := os.Environ()
	if d.envFile == "" {
		return env, nil
	}

	vars, err := godotenv.Read(d.envFile)
	if err != nil {
		if os.IsNotExist(err) {
			d.logger.Debug("env file not found", zap.String("path", d.envFile))
			return env, nil
		}
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to read env file").
			WithDetail("path", d.envFile)
	}

	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+vars[k])
	}
	return env, nil
}

// Run executes step and streams its standard output to the log.
func (d *DBT) Run(ctx context.Context, step Step) (*Result, error) {
	log := d.logger.With(zap.String("step", step.Name))
	result := &Result{Step: step.Name, ExitCode: -1}
	start := time.Now()
	defer func() { result.Duration = time.Since(start) }()

	env, err := d.Environ()
	if err != nil {
		return result, err
	}

	args := d.Args(step)
	cmd := exec.CommandContext(ctx, d.binary, args...)
	cmd.Dir = d.projectDir
	cmd.Env = env
	cmd.WaitDelay = 5 * time.Second

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return result, errors.Wrap(err, errors.ErrorTypeInternal, "failed to capture dbt output")
	}

	log.Info("running dbt", zap.Strings("args", args), zap.String("dir", d.projectDir))
	if err := cmd.Start(); err != nil {
		return result, errors.Wrap(err, errors.ErrorTypeConfig, "failed to start dbt").
			WithDetail("binary", d.binary)
	}

	var output strings.Builder
	err = readLines(stdout, func(line string) {
		log.Info(line)
		if room := maxOutput - output.Len(); room > 0 {
			output.WriteString(line[:min(len(line), room)])
			output.WriteByte('\n')
		}
	})
	if err != nil {
		log.Warn("failed to read dbt output", zap.Error(err))
		_, _ = io.Copy(io.Discard, stdout)
	}

	waitErr := cmd.Wait()
	result.Output = output.String()
	result.ExitCode = cmd.ProcessState.ExitCode()

	if waitErr == nil {
		log.Info("dbt step succeeded", zap.Duration("duration", time.Since(start)))
		return result, nil
	}

	if s := strings.TrimSpace(stderr.String()); s != "" {
		log.Error("dbt stderr", zap.String("stderr", truncate(s)))
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return result, errors.Wrap(ctxErr, errors.ErrorTypeTimeout, "dbt step interrupted").
			WithDetail("step", step.Name)
	}
	return result, errors.Wrap(waitErr, errors.ErrorTypeStructural, "dbt step failed").
		WithDetail("step", step.Name).
		WithDetail("exit_code", result.ExitCode).
		WithDetail("stderr", truncate(stderr.String()))
}

// readLines calls fn for every line of r. Lines longer than maxLine are cut
// to maxLine bytes and the remainder is discarded, so r is always read to EOF
// unless it fails.
func readLines(r io.Reader, fn func(line string)) error {
	br := bufio.NewReaderSize(r, 64<<10)
	var line []byte
	for {
		chunk, isPrefix, err := br.ReadLine()
		if err == io.EOF {
			if len(line) > 0 {
				fn(string(line))
			}
			return nil
		}
		if err != nil {
			return err
		}
		if room := maxLine - len(line); room > 0 {
			line = append(line, chunk[:min(len(chunk), room)]...)
		}
		if isPrefix {
			continue
		}
		fn(string(line))
		line = line[:0]
	}
}

func truncate(s string) string {
	if len(s) <= maxOutput {
		return s
	}
	return s[len(s)-maxOutput:]
}
