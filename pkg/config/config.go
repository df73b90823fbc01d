package config

import (
	"time"

	"mercator-hq/sieve/pkg/filter"
)

// Config is the root configuration structure for Sieve.
type Config struct {
	// Engine configures module loading and the default per-invocation limits.
	Engine EngineConfig `yaml:"engine"`

	// Registry configures the on-disk module directory and its git source.
	Registry RegistryConfig `yaml:"registry"`

	// Pipeline configures how record streams are filtered.
	Pipeline PipelineConfig `yaml:"pipeline"`

	// Ledger configures the verdict ledger.
	Ledger LedgerConfig `yaml:"ledger"`

	// Telemetry contains logging, metrics and tracing configuration.
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// Secrets configures how ${secret:name} references in credentials are
	// resolved.
	Secrets SecretsConfig `yaml:"secrets"`
}

// EngineConfig configures the module loader and evaluation host.
type EngineConfig struct {
	// EntryPoint is the export evaluated once per record.
	// Default: "is_valid_event"
	EntryPoint string `yaml:"entry_point"`

	// AllocExport is the WebAssembly export used to reserve guest memory
	// for the record payload.
	// Default: "alloc"
	AllocExport string `yaml:"alloc_export"`

	// MemoryExport is the name of the exported linear memory.
	// Default: "memory"
	MemoryExport string `yaml:"memory_export"`

	// InitExports are optional zero-argument exports run once per instance
	// before the entry point.
	// Default: ["_initialize", "pre_validate"]
	InitExports []string `yaml:"init_exports"`

	// MemoryLimitPages is the hard ceiling on guest memory, in 64KiB pages.
	// Default: 256 (16MiB)
	MemoryLimitPages uint32 `yaml:"memory_limit_pages"`

	// Metering enables instruction metering. Metered modules run in the
	// interpreter rather than the compiler.
	// Default: true
	Metering bool `yaml:"metering"`

	// MaxModuleSize bounds the size of a module file accepted by the
	// registry and the CLI.
	// Default: 8MiB
	MaxModuleSize int64 `yaml:"max_module_size"`

	// Limits are the per-invocation limits applied by the pipeline.
	Limits LimitsConfig `yaml:"limits"`

	// Expr configures the expression backend.
	Expr ExprConfig `yaml:"expr"`
}

// LimitsConfig mirrors predicate.Limits. A zero value means unbounded.
type LimitsConfig struct {
	// MaxInstructions bounds the work done by one invocation.
	// Default: 1000000
	MaxInstructions uint64 `yaml:"max_instructions"`

	// MaxMemoryBytes bounds guest memory for one invocation.
	// Default: 16MiB
	MaxMemoryBytes int64 `yaml:"max_memory_bytes"`

	// MaxWallTime bounds the wall-clock time of one invocation.
	// Default: 250ms
	MaxWallTime time.Duration `yaml:"max_wall_time"`
}

// ExprConfig configures the CEL expression backend.
type ExprConfig struct {
	// Enabled registers the expression backend with the loader.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// InterruptCheckFrequency is how many comprehension iterations run
	// between deadline checks.
	// Default: 100
	InterruptCheckFrequency uint `yaml:"interrupt_check_frequency"`

	// MaxExpressionLength bounds the source length of an expression.
	// Default: 16384
	MaxExpressionLength int `yaml:"max_expression_length"`
}

// RegistryConfig configures the module registry.
type RegistryConfig struct {
	// Dir is the directory scanned for module files.
	// Default: "./modules"
	Dir string `yaml:"dir"`

	// Watch enables hot reload when module files change.
	// Default: false
	Watch bool `yaml:"watch"`

	// DebounceInterval is the quiet period before a reload is triggered.
	// Default: 100ms
	DebounceInterval time.Duration `yaml:"debounce_interval"`

	// Extensions lists the file extensions treated as modules.
	// Default: [".wasm", ".yaml", ".yml", ".json"]
	Extensions []string `yaml:"extensions"`

	// SkipHidden ignores files and directories starting with a dot.
	// Default: true
	SkipHidden bool `yaml:"skip_hidden"`

	// Git configures a git repository as the module source.
	Git GitSourceConfig `yaml:"git"`
}

// GitSourceConfig configures git-based module loading.
type GitSourceConfig struct {
	// Enabled makes the cloned repository the registry directory.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Repository URL (HTTPS or SSH).
	Repository string `yaml:"repository"`

	// Branch to track.
	// Default: "main"
	Branch string `yaml:"branch"`

	// Path within the repository holding module files.
	// Default: "" (repository root)
	Path string `yaml:"path"`

	// Auth configures git authentication.
	Auth GitAuthConfig `yaml:"auth"`

	// Poll configures change detection.
	Poll GitPollConfig `yaml:"poll"`

	// Clone configures repository cloning.
	Clone GitCloneConfig `yaml:"clone"`
}

// GitAuthConfig configures git authentication.
type GitAuthConfig struct {
	// Type: "token", "ssh" or "none".
	// Default: "none"
	Type string `yaml:"type"`

	// Token for HTTPS authentication. Required when Type is "token".
	Token string `yaml:"token"`

	// SSHKeyPath for SSH authentication. Required when Type is "ssh".
	SSHKeyPath string `yaml:"ssh_key_path"`

	// SSHKeyPassphrase for encrypted SSH keys.
	SSHKeyPassphrase string `yaml:"ssh_key_passphrase"`
}

// GitPollConfig configures change detection.
type GitPollConfig struct {
	// Enabled determines if polling is active.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// Interval between polls.
	// Default: 30s
	Interval time.Duration `yaml:"interval"`

	// Timeout for git operations.
	// Default: 10s
	Timeout time.Duration `yaml:"timeout"`
}

// GitCloneConfig configures repository cloning.
type GitCloneConfig struct {
	// Depth for shallow clones (0 = full clone).
	// Default: 1
	Depth int `yaml:"depth"`

	// LocalPath where the repository is cloned.
	// Default: system temp directory
	LocalPath string `yaml:"local_path"`

	// CleanOnStart removes the local clone before cloning.
	// Default: false
	CleanOnStart bool `yaml:"clean_on_start"`
}

// PipelineConfig configures record filtering.
type PipelineConfig struct {
	// Combine is "all" or "any".
	// Default: "all"
	Combine string `yaml:"combine"`

	// Workers is the number of records evaluated concurrently.
	// Default: 1
	Workers int `yaml:"workers"`

	// Dialect selects the input record layout: "boundary" or "nostr".
	// Default: "boundary"
	Dialect string `yaml:"dialect"`

	// Prefilter rejects records before any predicate runs.
	Prefilter *filter.Filter `yaml:"prefilter"`
}

// LedgerConfig configures the verdict ledger.
type LedgerConfig struct {
	// Enabled controls whether verdicts are recorded.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Backend selects the storage backend: "memory" or "sqlite".
	// Default: "sqlite"
	Backend string `yaml:"backend"`

	// SQLite contains SQLite-specific configuration.
	SQLite SQLiteConfig `yaml:"sqlite"`

	// Recorder contains recorder configuration.
	Recorder RecorderConfig `yaml:"recorder"`

	// Retention contains retention policy configuration.
	Retention RetentionConfig `yaml:"retention"`

	// Query contains query configuration.
	Query QueryConfig `yaml:"query"`
}

// SQLiteConfig contains SQLite-specific configuration.
type SQLiteConfig struct {
	// Path is the file path for the SQLite database.
	// Default: "data/ledger.db"
	Path string `yaml:"path"`

	// MaxOpenConns is the maximum number of open database connections.
	// Default: 10
	MaxOpenConns int `yaml:"max_open_conns"`

	// MaxIdleConns is the maximum number of idle database connections.
	// Default: 5
	MaxIdleConns int `yaml:"max_idle_conns"`

	// WALMode enables write-ahead logging.
	// Default: true
	WALMode bool `yaml:"wal_mode"`

	// BusyTimeout is the duration to wait when the database is locked.
	// Default: 5s
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

// RecorderConfig contains recorder configuration.
type RecorderConfig struct {
	// AsyncBuffer is the size of the async write channel buffer.
	// Default: 1000
	AsyncBuffer int `yaml:"async_buffer"`

	// WriteTimeout is the timeout for writing one entry to storage.
	// Default: 5s
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// RetentionConfig contains retention policy configuration.
type RetentionConfig struct {
	// Days is the number of days to retain entries. 0 keeps entries forever.
	// Default: 30
	Days int `yaml:"days"`

	// MaxEntries is the maximum number of entries to keep. 0 is unlimited.
	// Default: 0
	MaxEntries int64 `yaml:"max_entries"`

	// PruneSchedule is a cron expression for scheduled pruning.
	// Default: "0 3 * * *"
	PruneSchedule string `yaml:"prune_schedule"`
}

// QueryConfig contains ledger query configuration.
type QueryConfig struct {
	// DefaultLimit applies when a query sets no limit.
	// Default: 100
	DefaultLimit int `yaml:"default_limit"`

	// MaxLimit caps any query limit.
	// Default: 10000
	MaxLimit int `yaml:"max_limit"`

	// Timeout is the query execution timeout.
	// Default: 30s
	Timeout time.Duration `yaml:"timeout"`
}

// SecretsConfig configures secret lookup for git credentials. Names are
// tried against the directory first, then the environment.
type SecretsConfig struct {
	// Dir holds one file per secret, named after the secret. Files must be
	// mode 0600 or 0400. Empty disables file lookup.
	Dir string `yaml:"dir"`

	// EnvPrefix is prepended to the upper-cased secret name, with hyphens
	// turned into underscores: "git-token" reads SIEVE_SECRET_GIT_TOKEN.
	// Default: "SIEVE_SECRET_"
	EnvPrefix string `yaml:"env_prefix"`
}

// TelemetryConfig contains configuration for observability.
type TelemetryConfig struct {
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn" or "error".
	// Default: "info"
	Level string `yaml:"level"`

	// Format is "json", "text" or "console".
	// Default: "json"
	Format string `yaml:"format"`

	// AddSource includes file and line number in log entries.
	// Default: false
	AddSource bool `yaml:"add_source"`

	// RedactSecrets masks tokens, credentials in URLs and secret keys.
	// Default: true
	RedactSecrets bool `yaml:"redact_secrets"`

	// RedactPatterns adds custom redaction patterns.
	RedactPatterns []RedactPattern `yaml:"redact_patterns"`
}

// RedactPattern defines a custom redaction pattern.
type RedactPattern struct {
	Name        string `yaml:"name"`
	Pattern     string `yaml:"pattern"`
	Replacement string `yaml:"replacement"`
}

// MetricsConfig contains metrics collection configuration.
type MetricsConfig struct {
	// Enabled controls whether metrics are collected.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// ListenAddress serves the metrics endpoint when non-empty.
	// Default: "" (not served)
	ListenAddress string `yaml:"listen_address"`

	// Path is the HTTP path for the Prometheus endpoint.
	// Default: "/metrics"
	Path string `yaml:"path"`

	// Namespace is the metric name prefix.
	// Default: "sieve"
	Namespace string `yaml:"namespace"`

	// DurationBuckets are histogram buckets for evaluation latency, in seconds.
	// Default: exponential from 10µs to ~0.6s
	DurationBuckets []float64 `yaml:"duration_buckets"`
}

// TracingConfig contains distributed tracing configuration.
type TracingConfig struct {
	// Enabled controls whether tracing is active.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Sampler: "always", "never" or "ratio".
	// Default: "ratio"
	Sampler string `yaml:"sampler"`

	// SampleRatio is the fraction of traces sampled when Sampler is "ratio".
	// Default: 1.0
	SampleRatio float64 `yaml:"sample_ratio"`

	// Endpoint is the OTLP gRPC collector endpoint.
	// Example: "localhost:4317"
	Endpoint string `yaml:"endpoint"`

	// ServiceName is the service name in traces.
	// Default: "sieve"
	ServiceName string `yaml:"service_name"`

	// OTLP contains OTLP exporter configuration.
	OTLP OTLPConfig `yaml:"otlp"`
}

// OTLPConfig contains OTLP exporter configuration.
type OTLPConfig struct {
	// Insecure disables TLS for the OTLP connection.
	// Default: false
	Insecure bool `yaml:"insecure"`

	// Timeout is the timeout for OTLP exports.
	// Default: 10s
	Timeout time.Duration `yaml:"timeout"`
}
