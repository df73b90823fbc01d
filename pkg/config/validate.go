package config

import (
	"fmt"
	"net"
	"regexp"
	"strings"

	"github.com/robfig/cron/v3"
)

// FieldError represents a validation error for a specific configuration field.
type FieldError struct {
	// Field is the dotted path to the configuration field (e.g., "engine.entry_point").
	Field string

	// Message is a human-readable error message.
	Message string
}

// Error returns the error message for this field error.
func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError represents one or more validation errors in a configuration.
type ValidationError struct {
	// Errors contains all validation errors found in the configuration.
	Errors []FieldError
}

// Error returns a formatted string containing all validation errors.
func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("configuration validation failed with %d errors:\n", len(e.Errors)))
	for _, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}
	return sb.String()
}

// Validate validates the entire configuration and returns a ValidationError
// if any validation rules fail. All validation errors are collected and
// returned together.
func Validate(cfg *Config) error {
	var errs []FieldError

	errs = append(errs, validateEngine(&cfg.Engine)...)
	errs = append(errs, validateRegistry(&cfg.Registry)...)
	errs = append(errs, validatePipeline(&cfg.Pipeline)...)
	errs = append(errs, validateLedger(&cfg.Ledger)...)
	errs = append(errs, validateTelemetry(&cfg.Telemetry)...)
	errs = append(errs, validateSecrets(&cfg.Secrets)...)

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}
	return nil
}

func validateEngine(cfg *EngineConfig) []FieldError {
	var errs []FieldError

	if cfg.EntryPoint == "" {
		errs = append(errs, FieldError{Field: "engine.entry_point", Message: "entry point is required"})
	}
	if cfg.AllocExport == "" {
		errs = append(errs, FieldError{Field: "engine.alloc_export", Message: "alloc export is required"})
	}
	if cfg.MemoryExport == "" {
		errs = append(errs, FieldError{Field: "engine.memory_export", Message: "memory export is required"})
	}
	for i, name := range cfg.InitExports {
		if name == "" || name == cfg.EntryPoint {
			errs = append(errs, FieldError{
				Field:   fmt.Sprintf("engine.init_exports[%d]", i),
				Message: "init export must be non-empty and differ from the entry point",
			})
		}
	}
	// 65536 pages is the whole 32-bit address space.
	if cfg.MemoryLimitPages == 0 || cfg.MemoryLimitPages > 65536 {
		errs = append(errs, FieldError{
			Field:   "engine.memory_limit_pages",
			Message: fmt.Sprintf("memory limit must be between 1 and 65536 pages, got %d", cfg.MemoryLimitPages),
		})
	}
	if cfg.MaxModuleSize <= 0 {
		errs = append(errs, FieldError{Field: "engine.max_module_size", Message: "max module size must be positive"})
	}

	if cfg.Limits.MaxMemoryBytes < 0 {
		errs = append(errs, FieldError{Field: "engine.limits.max_memory_bytes", Message: "must not be negative"})
	}
	if cfg.Limits.MaxWallTime < 0 {
		errs = append(errs, FieldError{Field: "engine.limits.max_wall_time", Message: "must not be negative"})
	}
	if cfg.Limits.MaxInstructions > 0 && !cfg.Metering {
		errs = append(errs, FieldError{
			Field:   "engine.limits.max_instructions",
			Message: "instruction limit requires engine.metering",
		})
	}

	if cfg.Expr.MaxExpressionLength < 0 {
		errs = append(errs, FieldError{Field: "engine.expr.max_expression_length", Message: "must not be negative"})
	}

	return errs
}

func validateRegistry(cfg *RegistryConfig) []FieldError {
	var errs []FieldError

	if cfg.Dir == "" && !cfg.Git.Enabled {
		errs = append(errs, FieldError{Field: "registry.dir", Message: "module directory is required"})
	}
	if cfg.DebounceInterval < 0 {
		errs = append(errs, FieldError{Field: "registry.debounce_interval", Message: "must not be negative"})
	}
	for i, ext := range cfg.Extensions {
		if !strings.HasPrefix(ext, ".") {
			errs = append(errs, FieldError{
				Field:   fmt.Sprintf("registry.extensions[%d]", i),
				Message: fmt.Sprintf("extension %q must start with '.'", ext),
			})
		}
	}

	errs = append(errs, validateGitSource(&cfg.Git)...)
	return errs
}

func validateGitSource(cfg *GitSourceConfig) []FieldError {
	if !cfg.Enabled {
		return nil
	}

	var errs []FieldError
	if cfg.Repository == "" {
		errs = append(errs, FieldError{
			Field:   "registry.git.repository",
			Message: "repository URL is required when git source is enabled",
		})
	} else if !strings.HasPrefix(cfg.Repository, "https://") &&
		!strings.HasPrefix(cfg.Repository, "http://") &&
		!strings.HasPrefix(cfg.Repository, "git@") &&
		!strings.HasPrefix(cfg.Repository, "ssh://") &&
		!strings.HasPrefix(cfg.Repository, "file://") {
		errs = append(errs, FieldError{
			Field:   "registry.git.repository",
			Message: fmt.Sprintf("unsupported repository URL %q", cfg.Repository),
		})
	}
	if cfg.Branch == "" {
		errs = append(errs, FieldError{Field: "registry.git.branch", Message: "branch is required"})
	}
	if strings.Contains(cfg.Path, "..") {
		errs = append(errs, FieldError{Field: "registry.git.path", Message: "path must not contain '..'"})
	}

	switch cfg.Auth.Type {
	case "none":
	case "token":
		if cfg.Auth.Token == "" {
			errs = append(errs, FieldError{
				Field:   "registry.git.auth.token",
				Message: "token is required for token authentication",
			})
		}
	case "ssh":
		if cfg.Auth.SSHKeyPath == "" {
			errs = append(errs, FieldError{
				Field:   "registry.git.auth.ssh_key_path",
				Message: "SSH key path is required for SSH authentication",
			})
		}
	default:
		errs = append(errs, FieldError{
			Field:   "registry.git.auth.type",
			Message: fmt.Sprintf("invalid auth type %q: must be 'token', 'ssh', or 'none'", cfg.Auth.Type),
		})
	}

	if cfg.Poll.Enabled && cfg.Poll.Interval <= 0 {
		errs = append(errs, FieldError{
			Field:   "registry.git.poll.interval",
			Message: "poll interval must be positive when polling is enabled",
		})
	}
	if cfg.Clone.Depth < 0 {
		errs = append(errs, FieldError{Field: "registry.git.clone.depth", Message: "must not be negative"})
	}
	return errs
}

func validatePipeline(cfg *PipelineConfig) []FieldError {
	var errs []FieldError

	switch strings.ToLower(cfg.Combine) {
	case "all", "any":
	default:
		errs = append(errs, FieldError{
			Field:   "pipeline.combine",
			Message: fmt.Sprintf("invalid combine mode %q: must be 'all' or 'any'", cfg.Combine),
		})
	}
	if cfg.Workers < 1 {
		errs = append(errs, FieldError{
			Field:   "pipeline.workers",
			Message: fmt.Sprintf("workers must be at least 1, got %d", cfg.Workers),
		})
	}
	switch cfg.Dialect {
	case "boundary", "nostr":
	default:
		errs = append(errs, FieldError{
			Field:   "pipeline.dialect",
			Message: fmt.Sprintf("invalid dialect %q: must be 'boundary' or 'nostr'", cfg.Dialect),
		})
	}
	if cfg.Prefilter != nil {
		if err := cfg.Prefilter.Validate(); err != nil {
			errs = append(errs, FieldError{Field: "pipeline.prefilter", Message: err.Error()})
		}
	}
	return errs
}

func validateLedger(cfg *LedgerConfig) []FieldError {
	if !cfg.Enabled {
		return nil
	}

	var errs []FieldError
	switch cfg.Backend {
	case "memory":
	case "sqlite":
		if cfg.SQLite.Path == "" {
			errs = append(errs, FieldError{Field: "ledger.sqlite.path", Message: "database path is required"})
		}
		if cfg.SQLite.MaxOpenConns < 1 {
			errs = append(errs, FieldError{Field: "ledger.sqlite.max_open_conns", Message: "must be at least 1"})
		}
		if cfg.SQLite.MaxIdleConns > cfg.SQLite.MaxOpenConns {
			errs = append(errs, FieldError{
				Field:   "ledger.sqlite.max_idle_conns",
				Message: "must not exceed max_open_conns",
			})
		}
	default:
		errs = append(errs, FieldError{
			Field:   "ledger.backend",
			Message: fmt.Sprintf("invalid backend %q: must be 'memory' or 'sqlite'", cfg.Backend),
		})
	}

	if cfg.Recorder.AsyncBuffer < 0 {
		errs = append(errs, FieldError{Field: "ledger.recorder.async_buffer", Message: "must not be negative"})
	}
	if cfg.Retention.Days < 0 {
		errs = append(errs, FieldError{Field: "ledger.retention.days", Message: "must not be negative"})
	}
	if cfg.Retention.MaxEntries < 0 {
		errs = append(errs, FieldError{Field: "ledger.retention.max_entries", Message: "must not be negative"})
	}
	if cfg.Retention.PruneSchedule != "" {
		if _, err := cron.ParseStandard(cfg.Retention.PruneSchedule); err != nil {
			errs = append(errs, FieldError{
				Field:   "ledger.retention.prune_schedule",
				Message: fmt.Sprintf("invalid cron expression: %v", err),
			})
		}
	}
	if cfg.Query.DefaultLimit > cfg.Query.MaxLimit {
		errs = append(errs, FieldError{
			Field:   "ledger.query.default_limit",
			Message: "default limit must not exceed max limit",
		})
	}
	return errs
}

func validateTelemetry(cfg *TelemetryConfig) []FieldError {
	var errs []FieldError

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.level",
			Message: fmt.Sprintf("invalid logging level %q: must be 'debug', 'info', 'warn', or 'error'", cfg.Logging.Level),
		})
	}
	validFormats := map[string]bool{"json": true, "text": true, "console": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.format",
			Message: fmt.Sprintf("invalid logging format %q: must be 'json', 'text', or 'console'", cfg.Logging.Format),
		})
	}
	for i, p := range cfg.Logging.RedactPatterns {
		if _, err := regexp.Compile(p.Pattern); err != nil {
			errs = append(errs, FieldError{
				Field:   fmt.Sprintf("telemetry.logging.redact_patterns[%d].pattern", i),
				Message: fmt.Sprintf("invalid regular expression: %v", err),
			})
		}
	}

	if cfg.Metrics.Enabled {
		if !strings.HasPrefix(cfg.Metrics.Path, "/") {
			errs = append(errs, FieldError{
				Field:   "telemetry.metrics.path",
				Message: "metrics path must start with '/'",
			})
		}
		if cfg.Metrics.ListenAddress != "" {
			if _, _, err := net.SplitHostPort(cfg.Metrics.ListenAddress); err != nil {
				errs = append(errs, FieldError{
					Field:   "telemetry.metrics.listen_address",
					Message: fmt.Sprintf("invalid listen address: %v", err),
				})
			}
		}
		for i := 1; i < len(cfg.Metrics.DurationBuckets); i++ {
			if cfg.Metrics.DurationBuckets[i] <= cfg.Metrics.DurationBuckets[i-1] {
				errs = append(errs, FieldError{
					Field:   "telemetry.metrics.duration_buckets",
					Message: "buckets must be strictly increasing",
				})
				break
			}
		}
	}

	if cfg.Tracing.Enabled && cfg.Tracing.Endpoint == "" {
		errs = append(errs, FieldError{
			Field:   "telemetry.tracing.endpoint",
			Message: "tracing endpoint is required when tracing is enabled",
		})
	}
	switch cfg.Tracing.Sampler {
	case "always", "never", "ratio":
	default:
		errs = append(errs, FieldError{
			Field:   "telemetry.tracing.sampler",
			Message: fmt.Sprintf("invalid sampler %q: must be 'always', 'never', or 'ratio'", cfg.Tracing.Sampler),
		})
	}
	if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1.0 {
		errs = append(errs, FieldError{
			Field:   "telemetry.tracing.sample_ratio",
			Message: "sample ratio must be between 0.0 and 1.0",
		})
	}
	return errs
}

func validateSecrets(cfg *SecretsConfig) []FieldError {
	var errs []FieldError
	if strings.Contains(cfg.EnvPrefix, "=") {
		errs = append(errs, FieldError{Field: "secrets.env_prefix", Message: "prefix cannot contain '='"})
	}
	return errs
}
