package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load loads a configuration from a YAML file into config, substituting
// ${VAR} and ${VAR:-default} references from the environment first.
func Load(filePath string, config interface{}) error {
	data, err := os.ReadFile(filePath) //nolint:gosec // G304: File path is controlled by caller
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	content := substituteEnvVars(string(data))

	if err := yaml.Unmarshal([]byte(content), config); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}

	return nil
}

// LoadFile builds a validated Config: defaults, then the YAML file when
// filePath is not empty, then environment overrides.
func LoadFile(filePath string) (*Config, error) {
	cfg := Default()

	if filePath != "" {
		if err := Load(filePath, cfg); err != nil {
			return nil, err
		}
	}

	if err := ApplyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides warehouse, staging, logging and transform settings from
// the SNOWFLAKE_*, INGESTION_* and DBT_* variables a deployment exports.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	str("NIGHTFALL_WAREHOUSE_DRIVER", &cfg.Warehouse.Driver)
	str("NIGHTFALL_WAREHOUSE_DSN", &cfg.Warehouse.DSN)
	str("SNOWFLAKE_ACCOUNT", &cfg.Warehouse.Account)
	str("SNOWFLAKE_USER", &cfg.Warehouse.User)
	str("SNOWFLAKE_PASSWORD", &cfg.Warehouse.Password)
	str("SNOWFLAKE_ROLE", &cfg.Warehouse.Role)
	str("SNOWFLAKE_WAREHOUSE", &cfg.Warehouse.Warehouse)
	str("SNOWFLAKE_DATABASE", &cfg.Warehouse.Database)
	str("INGESTION_LOG_LEVEL", &cfg.Logging.Level)
	str("DBT_TARGET", &cfg.Transform.Target)

	if v, ok := lookup("INGESTION_BATCH_SIZE"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("INGESTION_BATCH_SIZE: %w", err)
		}
		cfg.Staging.BatchSize = n
	}

	return nil
}

// substituteEnvVars replaces ${VAR_NAME} with environment variable values.
// ${VAR_NAME:-fallback} uses fallback when the variable is unset or empty.
func substituteEnvVars(content string) string {
	var b strings.Builder
	for {
		start := strings.Index(content, "${")
		if start == -1 {
			break
		}
		end := strings.Index(content[start:], "}")
		if end == -1 {
			break
		}
		end += start

		expr := content[start+2 : end]
		name, fallback, hasFallback := strings.Cut(expr, ":-")
		value := os.Getenv(name)
		if value == "" && hasFallback {
			value = fallback
		}

		b.WriteString(content[:start])
		b.WriteString(value)
		content = content[end+1:]
	}
	b.WriteString(content)
	return b.String()
}
