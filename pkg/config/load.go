package config

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable override.
const EnvPrefix = "SIEVE_"

// LoadConfig loads configuration from a YAML file at the specified path.
// The file is decoded on top of Default, so omitted fields keep their
// defaults. Unknown fields are rejected.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("configuration file %q: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes and validates YAML configuration.
func Parse(data []byte) (*Config, error) {
	cfg := Default()

	if len(bytes.TrimSpace(data)) > 0 {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil {
			return nil, fmt.Errorf("failed to parse configuration: %w", err)
		}
	}

	ApplyDefaults(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfigWithEnvOverrides loads configuration from a YAML file and
// applies environment variable overrides named SIEVE_SECTION_FIELD (e.g.
// SIEVE_PIPELINE_WORKERS). An empty path loads defaults only.
//
// The loading sequence is:
// 1. Default values
// 2. YAML file
// 3. Environment variable overrides
// 4. Validation
func LoadConfigWithEnvOverrides(path string) (*Config, error) {
	var cfg *Config
	if path == "" {
		cfg = Default()
	} else {
		var err error
		if cfg, err = LoadConfig(path); err != nil {
			return nil, err
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed after environment overrides: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides. Malformed
// numeric, boolean and duration values are reported as field errors.
func applyEnvOverrides(cfg *Config) error {
	o := envOverrides{}

	// Engine
	o.str("ENGINE_ENTRY_POINT", &cfg.Engine.EntryPoint)
	o.str("ENGINE_ALLOC_EXPORT", &cfg.Engine.AllocExport)
	o.str("ENGINE_MEMORY_EXPORT", &cfg.Engine.MemoryExport)
	o.list("ENGINE_INIT_EXPORTS", &cfg.Engine.InitExports)
	o.uint32("ENGINE_MEMORY_LIMIT_PAGES", &cfg.Engine.MemoryLimitPages)
	o.bool("ENGINE_METERING", &cfg.Engine.Metering)
	o.int64("ENGINE_MAX_MODULE_SIZE", &cfg.Engine.MaxModuleSize)
	o.uint64("ENGINE_LIMITS_MAX_INSTRUCTIONS", &cfg.Engine.Limits.MaxInstructions)
	o.int64("ENGINE_LIMITS_MAX_MEMORY_BYTES", &cfg.Engine.Limits.MaxMemoryBytes)
	o.duration("ENGINE_LIMITS_MAX_WALL_TIME", &cfg.Engine.Limits.MaxWallTime)
	o.bool("ENGINE_EXPR_ENABLED", &cfg.Engine.Expr.Enabled)

	// Registry
	o.str("REGISTRY_DIR", &cfg.Registry.Dir)
	o.bool("REGISTRY_WATCH", &cfg.Registry.Watch)
	o.duration("REGISTRY_DEBOUNCE_INTERVAL", &cfg.Registry.DebounceInterval)
	o.list("REGISTRY_EXTENSIONS", &cfg.Registry.Extensions)
	o.bool("REGISTRY_GIT_ENABLED", &cfg.Registry.Git.Enabled)
	o.str("REGISTRY_GIT_REPOSITORY", &cfg.Registry.Git.Repository)
	o.str("REGISTRY_GIT_BRANCH", &cfg.Registry.Git.Branch)
	o.str("REGISTRY_GIT_PATH", &cfg.Registry.Git.Path)
	o.str("REGISTRY_GIT_AUTH_TYPE", &cfg.Registry.Git.Auth.Type)
	o.str("REGISTRY_GIT_AUTH_TOKEN", &cfg.Registry.Git.Auth.Token)
	o.str("REGISTRY_GIT_AUTH_SSH_KEY_PATH", &cfg.Registry.Git.Auth.SSHKeyPath)
	o.str("REGISTRY_GIT_AUTH_SSH_KEY_PASSPHRASE", &cfg.Registry.Git.Auth.SSHKeyPassphrase)
	o.duration("REGISTRY_GIT_POLL_INTERVAL", &cfg.Registry.Git.Poll.Interval)
	o.str("REGISTRY_GIT_CLONE_LOCAL_PATH", &cfg.Registry.Git.Clone.LocalPath)

	// Pipeline
	o.str("PIPELINE_COMBINE", &cfg.Pipeline.Combine)
	o.int("PIPELINE_WORKERS", &cfg.Pipeline.Workers)
	o.str("PIPELINE_DIALECT", &cfg.Pipeline.Dialect)

	// Ledger
	o.bool("LEDGER_ENABLED", &cfg.Ledger.Enabled)
	o.str("LEDGER_BACKEND", &cfg.Ledger.Backend)
	o.str("LEDGER_SQLITE_PATH", &cfg.Ledger.SQLite.Path)
	o.int("LEDGER_RETENTION_DAYS", &cfg.Ledger.Retention.Days)
	o.int64("LEDGER_RETENTION_MAX_ENTRIES", &cfg.Ledger.Retention.MaxEntries)
	o.str("LEDGER_RETENTION_PRUNE_SCHEDULE", &cfg.Ledger.Retention.PruneSchedule)

	// Telemetry
	o.str("TELEMETRY_LOGGING_LEVEL", &cfg.Telemetry.Logging.Level)
	o.str("TELEMETRY_LOGGING_FORMAT", &cfg.Telemetry.Logging.Format)
	o.bool("TELEMETRY_LOGGING_ADD_SOURCE", &cfg.Telemetry.Logging.AddSource)
	o.bool("TELEMETRY_METRICS_ENABLED", &cfg.Telemetry.Metrics.Enabled)
	o.str("TELEMETRY_METRICS_LISTEN_ADDRESS", &cfg.Telemetry.Metrics.ListenAddress)
	o.bool("TELEMETRY_TRACING_ENABLED", &cfg.Telemetry.Tracing.Enabled)
	o.str("TELEMETRY_TRACING_ENDPOINT", &cfg.Telemetry.Tracing.Endpoint)
	o.str("TELEMETRY_TRACING_SAMPLER", &cfg.Telemetry.Tracing.Sampler)
	o.float("TELEMETRY_TRACING_SAMPLE_RATIO", &cfg.Telemetry.Tracing.SampleRatio)

	// Secrets
	o.str("SECRETS_DIR", &cfg.Secrets.Dir)
	o.str("SECRETS_ENV_PREFIX", &cfg.Secrets.EnvPrefix)

	if len(o.errs) > 0 {
		return ValidationError{Errors: o.errs}
	}
	return nil
}

// envOverrides reads SIEVE_-prefixed variables into config fields and
// collects parse failures.
type envOverrides struct {
	errs []FieldError
}

func (o *envOverrides) lookup(name string) (string, bool) {
	val := os.Getenv(EnvPrefix + name)
	return val, val != ""
}

func (o *envOverrides) fail(name string, val string, err error) {
	o.errs = append(o.errs, FieldError{
		Field:   EnvPrefix + name,
		Message: fmt.Sprintf("invalid value %q: %v", val, err),
	})
}

func (o *envOverrides) str(name string, dst *string) {
	if val, ok := o.lookup(name); ok {
		*dst = val
	}
}

func (o *envOverrides) list(name string, dst *[]string) {
	val, ok := o.lookup(name)
	if !ok {
		return
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	*dst = out
}

func (o *envOverrides) bool(name string, dst *bool) {
	if val, ok := o.lookup(name); ok {
		b, err := strconv.ParseBool(val)
		if err != nil {
			o.fail(name, val, err)
			return
		}
		*dst = b
	}
}

func (o *envOverrides) int(name string, dst *int) {
	if val, ok := o.lookup(name); ok {
		i, err := strconv.Atoi(val)
		if err != nil {
			o.fail(name, val, err)
			return
		}
		*dst = i
	}
}

func (o *envOverrides) int64(name string, dst *int64) {
	if val, ok := o.lookup(name); ok {
		i, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			o.fail(name, val, err)
			return
		}
		*dst = i
	}
}

func (o *envOverrides) uint32(name string, dst *uint32) {
	if val, ok := o.lookup(name); ok {
		i, err := strconv.ParseUint(val, 10, 32)
		if err != nil {
			o.fail(name, val, err)
			return
		}
		*dst = uint32(i)
	}
}

func (o *envOverrides) uint64(name string, dst *uint64) {
	if val, ok := o.lookup(name); ok {
		i, err := strconv.ParseUint(val, 10, 64)
		if err != nil {
			o.fail(name, val, err)
			return
		}
		*dst = i
	}
}

func (o *envOverrides) float(name string, dst *float64) {
	if val, ok := o.lookup(name); ok {
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			o.fail(name, val, err)
			return
		}
		*dst = f
	}
}

func (o *envOverrides) duration(name string, dst *time.Duration) {
	if val, ok := o.lookup(name); ok {
		d, err := time.ParseDuration(val)
		if err != nil {
			o.fail(name, val, err)
			return
		}
		*dst = d
	}
}
