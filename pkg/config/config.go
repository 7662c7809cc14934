// Package config defines the engine's configuration surface: RPC
// connection, chain cache sizing, and the two independent retry
// budgets (block fetches and log fetches).
package config

import "fmt"

// Config is the complete configuration for a chainsub process.
type Config struct {
	// RPC contains the upstream RPC connection settings.
	RPC RPCConfig `yaml:"rpc" json:"rpc" toml:"rpc"`

	// Engine contains the ingest engine's chain cache and retry settings.
	Engine EngineConfig `yaml:"engine" json:"engine" toml:"engine"`

	// Logging contains logger settings.
	Logging LoggingConfig `yaml:"logging" json:"logging" toml:"logging"`

	// Metrics contains the optional Prometheus metrics server settings.
	Metrics MetricsConfig `yaml:"metrics" json:"metrics" toml:"metrics"`
}

// RPCConfig holds the upstream node connection details.
type RPCConfig struct {
	// URL is the Ethereum JSON-RPC endpoint.
	URL string `yaml:"url" json:"url" toml:"url"`

	// PollIntervalMs is how often the demo head-source polls for the
	// latest block, in milliseconds.
	PollIntervalMs uint64 `yaml:"poll_interval_ms" json:"poll_interval_ms" toml:"poll_interval_ms"`
}

// EngineConfig holds the ingest engine's sizing and retry knobs, named
// to match the enumerated configuration keys of the engine contract.
type EngineConfig struct {
	// MaxBlockCached is the chain cache's retention depth. Must be >=
	// 1 and <= BatchSize.
	MaxBlockCached uint64 `yaml:"max_block_cached" json:"max_block_cached" toml:"max_block_cached"`

	// BatchSize is the RPC batch width used for block and log fetches.
	// Must be >= MaxBlockCached.
	BatchSize uint64 `yaml:"batch_size" json:"batch_size" toml:"batch_size"`

	// MaxRetryGetBlock is the retry budget for block fetches (used by
	// the reorg resolver and the chain repairer). Distinct from
	// MaxRetryGetLogs per the engine's two independent retry budgets.
	MaxRetryGetBlock int `yaml:"max_retry_get_block" json:"max_retry_get_block" toml:"max_retry_get_block"`

	// RetryDelayGetBlockMs is the delay between block-fetch retries,
	// and also the inter-chunk throttle in the batch ingest path.
	// Defaults to 0 (no throttle) unless an operator opts in.
	RetryDelayGetBlockMs uint64 `yaml:"retry_delay_get_block_ms" json:"retry_delay_get_block_ms" toml:"retry_delay_get_block_ms"`

	// MaxRetryGetLogs is the retry budget for log fetches.
	MaxRetryGetLogs int `yaml:"max_retry_get_logs" json:"max_retry_get_logs" toml:"max_retry_get_logs"`

	// RetryDelayGetLogsMs is the delay between log-fetch retries.
	RetryDelayGetLogsMs uint64 `yaml:"retry_delay_get_logs_ms" json:"retry_delay_get_logs_ms" toml:"retry_delay_get_logs_ms"`

	// GetLogsTimeoutMs is the per-call deadline for a single getLogs
	// round-trip.
	GetLogsTimeoutMs uint64 `yaml:"get_logs_timeout_ms" json:"get_logs_timeout_ms" toml:"get_logs_timeout_ms"`
}

// LoggingConfig controls the zap-backed logger.
type LoggingConfig struct {
	// Level is one of "debug", "info", "warn", "error".
	Level string `yaml:"level" json:"level" toml:"level"`

	// Development enables console encoding and stack traces.
	Development bool `yaml:"development" json:"development" toml:"development"`
}

// MetricsConfig controls the optional Prometheus /metrics server.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled" toml:"enabled"`
	Addr    string `yaml:"addr" json:"addr" toml:"addr"`
}

// ApplyDefaults fills in zero-valued optional fields with sane
// defaults, mirroring the teacher's per-section ApplyDefaults pattern.
func (c *Config) ApplyDefaults() {
	if c.RPC.PollIntervalMs == 0 {
		c.RPC.PollIntervalMs = 2000
	}

	if c.Engine.MaxBlockCached == 0 {
		c.Engine.MaxBlockCached = 64
	}
	if c.Engine.BatchSize == 0 {
		c.Engine.BatchSize = c.Engine.MaxBlockCached
	}
	if c.Engine.MaxRetryGetBlock == 0 {
		c.Engine.MaxRetryGetBlock = 5
	}
	if c.Engine.MaxRetryGetLogs == 0 {
		c.Engine.MaxRetryGetLogs = 5
	}
	if c.Engine.GetLogsTimeoutMs == 0 {
		c.Engine.GetLogsTimeoutMs = 30_000
	}
	// RetryDelayGetBlockMs and RetryDelayGetLogsMs default to 0
	// (no throttle) per the engine's open-question resolution.

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}

	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9090"
	}
}

// Validate checks the configuration for internal consistency,
// enforcing the engine's invariant C3 constructor requirement.
func (c *Config) Validate() error {
	if c.RPC.URL == "" {
		return fmt.Errorf("rpc.url is required")
	}

	if c.Engine.MaxBlockCached == 0 {
		return fmt.Errorf("engine.max_block_cached must be >= 1")
	}
	if c.Engine.BatchSize < c.Engine.MaxBlockCached {
		return fmt.Errorf("engine.batch_size (%d) must be >= engine.max_block_cached (%d)",
			c.Engine.BatchSize, c.Engine.MaxBlockCached)
	}
	if c.Engine.MaxRetryGetBlock < 1 {
		return fmt.Errorf("engine.max_retry_get_block must be >= 1")
	}
	if c.Engine.MaxRetryGetLogs < 1 {
		return fmt.Errorf("engine.max_retry_get_logs must be >= 1")
	}

	if c.Logging.Level != "" {
		switch c.Logging.Level {
		case "debug", "info", "warn", "error":
		default:
			return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
		}
	}

	return nil
}

// RetryPolicy is a retry budget: an attempt count plus a fixed delay.
// BlockRetryPolicy yields the one shared by the reorg resolver and the
// chain repairer; LogRetryPolicy yields the log fetcher's.
type RetryPolicy struct {
	MaxAttempts int
	DelayMs     uint64
}

// BlockRetryPolicy extracts the block-fetch retry budget from the
// engine config.
func (c *Config) BlockRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: c.Engine.MaxRetryGetBlock, DelayMs: c.Engine.RetryDelayGetBlockMs}
}

// LogRetryPolicy extracts the log-fetch retry budget from the engine
// config, kept distinct from BlockRetryPolicy per the engine's two
// independent retry budgets.
func (c *Config) LogRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: c.Engine.MaxRetryGetLogs, DelayMs: c.Engine.RetryDelayGetLogsMs}
}
