package main

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/ajitpratap0/nightfall/internal/sources"
	"github.com/ajitpratap0/nightfall/pkg/config"
	"github.com/ajitpratap0/nightfall/pkg/logger"
	"github.com/ajitpratap0/nightfall/pkg/observability"
)

var version = "0.1.0"

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// cli carries the flag values shared by every command. Flags are bound
// through viper so NIGHTFALL_CONFIG and NIGHTFALL_LOG_LEVEL work as well.
type cli struct {
	v *viper.Viper
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("NIGHTFALL")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	root := &cobra.Command{
		Use:   "nightfall",
		Short: "Nightfall - nightly warehouse ingestion, transform and reconciliation",
		Long: `Nightfall loads external sources into a warehouse incrementally, runs the
transform project and reconciles row counts across warehouse layers.

Every setting has a default; a YAML file only needs to hold what differs.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringP("config", "c", "", "Path to YAML configuration file (optional)")
	root.PersistentFlags().String("log-level", "", "Log level override (debug, info, warn, error)")
	_ = v.BindPFlags(root.PersistentFlags())

	c := &cli{v: v}
	root.AddCommand(
		c.versionCmd(),
		c.sourcesCmd(),
		c.runCmd(),
		c.ingestCmd(),
		c.validateCmd(),
		c.scheduleCmd(),
	)
	return root
}

func (c *cli) versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Nightfall v%s\n", version)
			fmt.Fprintf(out, "Go version: %s\n", runtime.Version())
			fmt.Fprintf(out, "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}

func (c *cli) sourcesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sources",
		Short: "List configured sources and available source kinds",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.config()
			if err != nil {
				return err
			}
			printSources(cmd.OutOrStdout(), cfg)
			return nil
		},
	}
}

func printSources(out io.Writer, cfg *config.Config) {
	fmt.Fprintln(out, "Configured sources:")
	for _, s := range cfg.Sources {
		state := ""
		if s.Disabled {
			state = " (disabled)"
		}
		fmt.Fprintf(out, "  - %s: kind=%s class=%s mode=%s table=%s%s\n",
			s.Name, s.Kind, s.Class, s.Mode, s.Table.FQN(), state)
	}
	fmt.Fprintln(out, "\nAvailable source kinds:")
	for _, kind := range sources.Kinds() {
		fmt.Fprintf(out, "  - %s\n", kind)
	}
}

// config loads the configuration named by --config and applies the log
// level override.
func (c *cli) config() (*config.Config, error) {
	cfg, err := config.LoadFile(c.v.GetString("config"))
	if err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	if level := c.v.GetString("log-level"); level != "" {
		cfg.Logging.Level = level
	}
	return cfg, nil
}

// setup loads the configuration and starts logging and tracing.
func (c *cli) setup() (*config.Config, *zap.Logger, error) {
	cfg, err := c.config()
	if err != nil {
		return nil, nil, err
	}

	log, err := logger.New(cfg.Logging)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	log = log.With(zap.String("component", "nightfall-cli"), zap.String("pipeline", cfg.Name))

	tracing := cfg.Observability.Tracing
	if err := observability.Initialize(observability.TracingConfig{
		Enabled:     tracing.Enabled,
		ServiceName: tracing.ServiceName,
		Exporter:    tracing.Exporter,
		PrettyPrint: tracing.PrettyPrint,
	}, log); err != nil {
		return nil, nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}
	return cfg, log, nil
}
