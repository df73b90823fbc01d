package config

import "time"

// Default values for configuration fields.
const (
	// Engine defaults
	DefaultEntryPoint              = "is_valid_event"
	DefaultAllocExport             = "alloc"
	DefaultMemoryExport            = "memory"
	DefaultMemoryLimitPages        = uint32(256)
	DefaultMetering                = true
	DefaultMaxModuleSize           = int64(8 << 20)
	DefaultMaxInstructions         = uint64(1_000_000)
	DefaultMaxMemoryBytes          = int64(16 << 20)
	DefaultMaxWallTime             = 250 * time.Millisecond
	DefaultExprEnabled             = true
	DefaultInterruptCheckFrequency = uint(100)
	DefaultMaxExpressionLength     = 16384

	// Registry defaults
	DefaultRegistryDir              = "./modules"
	DefaultRegistryWatch            = false
	DefaultRegistryDebounceInterval = 100 * time.Millisecond
	DefaultRegistrySkipHidden       = true
	DefaultGitBranch                = "main"
	DefaultGitAuthType              = "none"
	DefaultGitPollEnabled           = true
	DefaultGitPollInterval          = 30 * time.Second
	DefaultGitPollTimeout           = 10 * time.Second
	DefaultGitCloneDepth            = 1

	// Pipeline defaults
	DefaultCombine = "all"
	DefaultWorkers = 1
	DefaultDialect = "boundary"

	// Ledger defaults
	DefaultLedgerEnabled              = false
	DefaultLedgerBackend              = "sqlite"
	DefaultLedgerSQLitePath           = "data/ledger.db"
	DefaultLedgerSQLiteMaxOpenConns   = 10
	DefaultLedgerSQLiteMaxIdleConns   = 5
	DefaultLedgerSQLiteWALMode        = true
	DefaultLedgerSQLiteBusyTimeout    = 5 * time.Second
	DefaultLedgerRecorderAsyncBuffer  = 1000
	DefaultLedgerRecorderWriteTimeout = 5 * time.Second
	DefaultLedgerRetentionDays        = 30
	DefaultLedgerRetentionSchedule    = "0 3 * * *"
	DefaultLedgerQueryDefaultLimit    = 100
	DefaultLedgerQueryMaxLimit        = 10000
	DefaultLedgerQueryTimeout         = 30 * time.Second

	// Telemetry defaults
	DefaultLoggingLevel         = "info"
	DefaultLoggingFormat        = "json"
	DefaultLoggingRedactSecrets = true
	DefaultMetricsEnabled       = true
	DefaultMetricsPath          = "/metrics"
	DefaultMetricsNamespace     = "sieve"
	DefaultTracingEnabled       = false
	DefaultTracingSampler       = "ratio"
	DefaultTracingSampleRatio   = 1.0
	DefaultTracingServiceName   = "sieve"
	DefaultOTLPTimeout          = 10 * time.Second

	// Secrets defaults
	DefaultSecretsEnvPrefix = "SIEVE_SECRET_"
)

// DefaultInitExports lists the optional exports run once per instance.
var DefaultInitExports = []string{"_initialize", "pre_validate"}

// DefaultExtensions lists the file extensions the registry loads.
var DefaultExtensions = []string{".wasm", ".yaml", ".yml", ".json"}

// DefaultDurationBuckets are evaluation latency buckets in seconds,
// exponential from 10µs.
var DefaultDurationBuckets = []float64{
	0.00001, 0.00004, 0.00016, 0.00064, 0.00256, 0.01024, 0.04096, 0.16384, 0.65536,
}

// Default returns a configuration with every field set to its default.
// Booleans that default to true are only settable here, so LoadConfig
// decodes the file on top of Default rather than a zero Config.
func Default() *Config {
	cfg := &Config{
		Engine: EngineConfig{
			Metering: DefaultMetering,
			Limits: LimitsConfig{
				MaxInstructions: DefaultMaxInstructions,
				MaxMemoryBytes:  DefaultMaxMemoryBytes,
				MaxWallTime:     DefaultMaxWallTime,
			},
			Expr: ExprConfig{Enabled: DefaultExprEnabled},
		},
		Registry: RegistryConfig{
			Watch:      DefaultRegistryWatch,
			SkipHidden: DefaultRegistrySkipHidden,
			Git: GitSourceConfig{
				Poll: GitPollConfig{Enabled: DefaultGitPollEnabled},
			},
		},
		Ledger: LedgerConfig{
			Enabled:   DefaultLedgerEnabled,
			SQLite:    SQLiteConfig{WALMode: DefaultLedgerSQLiteWALMode},
			Retention: RetentionConfig{Days: DefaultLedgerRetentionDays},
		},
		Telemetry: TelemetryConfig{
			Logging: LoggingConfig{RedactSecrets: DefaultLoggingRedactSecrets},
			Metrics: MetricsConfig{Enabled: DefaultMetricsEnabled},
			Tracing: TracingConfig{Enabled: DefaultTracingEnabled},
		},
	}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills zero-valued fields with their defaults. Fields that
// are already set are left alone. Engine limits and retention days are not
// touched, since zero means unbounded for them; Default sets them.
func ApplyDefaults(cfg *Config) {
	applyEngineDefaults(&cfg.Engine)
	applyRegistryDefaults(&cfg.Registry)

	if cfg.Pipeline.Combine == "" {
		cfg.Pipeline.Combine = DefaultCombine
	}
	if cfg.Pipeline.Workers == 0 {
		cfg.Pipeline.Workers = DefaultWorkers
	}
	if cfg.Pipeline.Dialect == "" {
		cfg.Pipeline.Dialect = DefaultDialect
	}

	applyLedgerDefaults(&cfg.Ledger)
	applyTelemetryDefaults(&cfg.Telemetry)

	if cfg.Secrets.EnvPrefix == "" {
		cfg.Secrets.EnvPrefix = DefaultSecretsEnvPrefix
	}
}

func applyEngineDefaults(cfg *EngineConfig) {
	if cfg.EntryPoint == "" {
		cfg.EntryPoint = DefaultEntryPoint
	}
	if cfg.AllocExport == "" {
		cfg.AllocExport = DefaultAllocExport
	}
	if cfg.MemoryExport == "" {
		cfg.MemoryExport = DefaultMemoryExport
	}
	if cfg.InitExports == nil {
		cfg.InitExports = append([]string(nil), DefaultInitExports...)
	}
	if cfg.MemoryLimitPages == 0 {
		cfg.MemoryLimitPages = DefaultMemoryLimitPages
	}
	if cfg.MaxModuleSize == 0 {
		cfg.MaxModuleSize = DefaultMaxModuleSize
	}

	if cfg.Expr.InterruptCheckFrequency == 0 {
		cfg.Expr.InterruptCheckFrequency = DefaultInterruptCheckFrequency
	}
	if cfg.Expr.MaxExpressionLength == 0 {
		cfg.Expr.MaxExpressionLength = DefaultMaxExpressionLength
	}
}

func applyRegistryDefaults(cfg *RegistryConfig) {
	if cfg.Dir == "" {
		cfg.Dir = DefaultRegistryDir
	}
	if cfg.DebounceInterval == 0 {
		cfg.DebounceInterval = DefaultRegistryDebounceInterval
	}
	if len(cfg.Extensions) == 0 {
		cfg.Extensions = append([]string(nil), DefaultExtensions...)
	}

	git := &cfg.Git
	if git.Branch == "" {
		git.Branch = DefaultGitBranch
	}
	if git.Auth.Type == "" {
		git.Auth.Type = DefaultGitAuthType
	}
	if git.Poll.Interval == 0 {
		git.Poll.Interval = DefaultGitPollInterval
	}
	if git.Poll.Timeout == 0 {
		git.Poll.Timeout = DefaultGitPollTimeout
	}
	if git.Clone.Depth == 0 {
		git.Clone.Depth = DefaultGitCloneDepth
	}
}

func applyLedgerDefaults(cfg *LedgerConfig) {
	if cfg.Backend == "" {
		cfg.Backend = DefaultLedgerBackend
	}
	if cfg.SQLite.Path == "" {
		cfg.SQLite.Path = DefaultLedgerSQLitePath
	}
	if cfg.SQLite.MaxOpenConns == 0 {
		cfg.SQLite.MaxOpenConns = DefaultLedgerSQLiteMaxOpenConns
	}
	if cfg.SQLite.MaxIdleConns == 0 {
		cfg.SQLite.MaxIdleConns = DefaultLedgerSQLiteMaxIdleConns
	}
	if cfg.SQLite.BusyTimeout == 0 {
		cfg.SQLite.BusyTimeout = DefaultLedgerSQLiteBusyTimeout
	}
	if cfg.Recorder.AsyncBuffer == 0 {
		cfg.Recorder.AsyncBuffer = DefaultLedgerRecorderAsyncBuffer
	}
	if cfg.Recorder.WriteTimeout == 0 {
		cfg.Recorder.WriteTimeout = DefaultLedgerRecorderWriteTimeout
	}
	if cfg.Retention.PruneSchedule == "" {
		cfg.Retention.PruneSchedule = DefaultLedgerRetentionSchedule
	}
	if cfg.Query.DefaultLimit == 0 {
		cfg.Query.DefaultLimit = DefaultLedgerQueryDefaultLimit
	}
	if cfg.Query.MaxLimit == 0 {
		cfg.Query.MaxLimit = DefaultLedgerQueryMaxLimit
	}
	if cfg.Query.Timeout == 0 {
		cfg.Query.Timeout = DefaultLedgerQueryTimeout
	}
}

func applyTelemetryDefaults(cfg *TelemetryConfig) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = DefaultLoggingLevel
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = DefaultLoggingFormat
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = DefaultMetricsPath
	}
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = DefaultMetricsNamespace
	}
	if len(cfg.Metrics.DurationBuckets) == 0 {
		cfg.Metrics.DurationBuckets = append([]float64(nil), DefaultDurationBuckets...)
	}

	if cfg.Tracing.Sampler == "" {
		cfg.Tracing.Sampler = DefaultTracingSampler
	}
	if cfg.Tracing.SampleRatio == 0 {
		cfg.Tracing.SampleRatio = DefaultTracingSampleRatio
	}
	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = DefaultTracingServiceName
	}
	if cfg.Tracing.OTLP.Timeout == 0 {
		cfg.Tracing.OTLP.Timeout = DefaultOTLPTimeout
	}
}
