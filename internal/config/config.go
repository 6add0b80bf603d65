package config

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Config is the full environment surface of a worker process. There is no
// CLI surface; everything is configured through environment variables.
type Config struct {
	LogLevel string `env:"LOG_LEVEL, default=info"`

	// OpsAddr is the listen address for /metrics and /healthz.
	OpsAddr string `env:"OPS_ADDR, default=:9102"`

	Redis    RedisConfig    `env:", prefix=REDIS_"`
	Database DatabaseConfig `env:", prefix=DB_"`
	Pipeline PipelineConfig `env:", prefix=PIPELINE_"`
}

// RedisConfig holds event log connection and stream settings.
type RedisConfig struct {
	Addr     string `env:"ADDR, default=localhost:6379"`
	Password string `env:"PASSWORD"`
	DB       int    `env:"DB, default=0"`

	// Stream is the main trace ingest stream.
	Stream string `env:"STREAM, default=traces:ingest"`

	// DeadLetterStream captures poison messages; it is never trimmed.
	DeadLetterStream string `env:"DEAD_LETTER_STREAM, default=traces:dead"`

	// MaxLogLen bounds the main stream: appends past it discard the
	// oldest entries. The stream is a buffer, not an archive.
	MaxLogLen int64 `env:"MAX_LOG_LEN, default=100000"`
}

// DatabaseConfig holds trace store connection settings.
type DatabaseConfig struct {
	URL string `env:"URL, required"`

	// Migrate applies embedded schema migrations at startup.
	Migrate bool `env:"MIGRATE, default=false"`

	MaxOpenConns    int           `env:"MAX_OPEN_CONNS, default=10"`
	MaxIdleConns    int           `env:"MAX_IDLE_CONNS, default=5"`
	ConnMaxLifetime time.Duration `env:"CONN_MAX_LIFETIME, default=5m"`
	ConnMaxIdleTime time.Duration `env:"CONN_MAX_IDLE_TIME, default=1m"`
}

// PipelineConfig holds consumer group and batching settings.
type PipelineConfig struct {
	Group string `env:"GROUP, default=trace-workers"`

	// Consumer is this worker's identity within the group. Empty means
	// derive one from the hostname at startup.
	Consumer string `env:"CONSUMER"`

	BatchSize         int           `env:"BATCH_SIZE, default=100"`
	BlockTimeout      time.Duration `env:"BLOCK_TIMEOUT, default=5s"`
	VisibilityTimeout time.Duration `env:"VISIBILITY_TIMEOUT, default=30s"`
	ErrorBackoff      time.Duration `env:"ERROR_BACKOFF, default=1s"`
}

// Load reads configuration from environment variables.
func Load(ctx context.Context) (*Config, error) {
	var cfg Config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return nil, fmt.Errorf("load env config: %w", err)
	}
	return &cfg, nil
}
