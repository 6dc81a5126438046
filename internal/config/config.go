// Package config holds the runtime configuration shared by the planner and
// worker binaries.
package config

import (
	"time"

	appgen "github.com/ahrav/schedule-armada/internal/app/generation"
	"github.com/ahrav/schedule-armada/internal/app/guard"
)

// Config is the complete runtime configuration of a binary.
type Config struct {
	Service    ServiceConfig    `mapstructure:"service"`
	API        APIConfig        `mapstructure:"api"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	Catalog    CatalogConfig    `mapstructure:"catalog"`
	Generation GenerationConfig `mapstructure:"generation"`
	Processor  ProcessorConfig  `mapstructure:"processor"`
	Sweeper    SweeperConfig    `mapstructure:"sweeper"`
	Guard      GuardConfig      `mapstructure:"guard"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
	Cluster    ClusterConfig    `mapstructure:"cluster"`
}

// ServiceConfig identifies the running binary.
type ServiceConfig struct {
	Name     string `mapstructure:"name" validate:"required"`
	LogLevel string `mapstructure:"log_level" validate:"oneof=debug info warn error"`
	// ProbeAddr serves liveness and readiness for binaries without an API.
	ProbeAddr string `mapstructure:"probe_addr"`
}

// APIConfig configures the planner's HTTP server.
type APIConfig struct {
	Addr            string        `mapstructure:"addr" validate:"required"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" validate:"gt=0"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" validate:"gt=0"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
}

// DatabaseConfig configures the PostgreSQL pool.
type DatabaseConfig struct {
	URL           string `mapstructure:"url" validate:"required"`
	MinConns      int32  `mapstructure:"min_conns" validate:"gte=0"`
	MaxConns      int32  `mapstructure:"max_conns" validate:"gtefield=MinConns,gt=0"`
	MigrationsDir string `mapstructure:"migrations_dir" validate:"required"`
}

// KafkaConfig configures the work item queue. Work items of a generation are
// keyed by generation ID, so Partitions bounds how many generations the
// worker group advances in parallel.
type KafkaConfig struct {
	Brokers           []string `mapstructure:"brokers" validate:"required,min=1,dive,required"`
	GroupID           string   `mapstructure:"group_id" validate:"required"`
	WorkItemTopic     string   `mapstructure:"work_item_topic" validate:"required"`
	LifecycleTopic    string   `mapstructure:"lifecycle_topic" validate:"required"`
	Partitions        int32    `mapstructure:"partitions" validate:"gt=0"`
	ReplicationFactor int16    `mapstructure:"replication_factor" validate:"gt=0"`
}

// CatalogConfig configures the section catalog.
type CatalogConfig struct {
	// FixturePath, when set, is a YAML catalog imported at startup.
	FixturePath string `mapstructure:"fixture_path"`
}

// GenerationConfig tunes the generation service.
type GenerationConfig struct {
	DefaultLimit       int           `mapstructure:"default_limit" validate:"gt=0,ltefield=MaxLimit"`
	MaxLimit           int           `mapstructure:"max_limit" validate:"gt=0"`
	SyncDeadline       time.Duration `mapstructure:"sync_deadline" validate:"gt=0,ltefield=MaxSyncDeadline"`
	MaxSyncDeadline    time.Duration `mapstructure:"max_sync_deadline" validate:"gt=0"`
	CatalogConcurrency int           `mapstructure:"catalog_concurrency" validate:"gt=0"`
}

// ProcessorConfig tunes work item processing.
type ProcessorConfig struct {
	MaxWorkItems   int           `mapstructure:"max_work_items" validate:"gte=0"`
	MaxRetries     uint64        `mapstructure:"max_retries"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff" validate:"gt=0"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff" validate:"gtefield=InitialBackoff"`
	// PublishRate throttles child work item publication, in items per
	// second. Zero disables throttling.
	PublishRate  float64 `mapstructure:"publish_rate" validate:"gte=0"`
	PublishBurst int     `mapstructure:"publish_burst" validate:"gt=0"`
}

// SweeperConfig tunes the stalled generation sweeper.
type SweeperConfig struct {
	Interval   time.Duration `mapstructure:"interval" validate:"gt=0"`
	StallAfter time.Duration `mapstructure:"stall_after" validate:"gt=0"`
	BatchSize  int           `mapstructure:"batch_size" validate:"gt=0"`
}

// GuardConfig tunes the usage guard.
type GuardConfig struct {
	StatusTTL   time.Duration `mapstructure:"status_ttl" validate:"gte=0"`
	HourlyLimit int           `mapstructure:"hourly_limit" validate:"gte=0"`
	BucketTTL   time.Duration `mapstructure:"bucket_ttl" validate:"gt=0"`
}

// TelemetryConfig configures OpenTelemetry export.
type TelemetryConfig struct {
	// Endpoint is the OTLP gRPC collector address. Empty keeps telemetry in
	// process.
	Endpoint      string  `mapstructure:"endpoint"`
	SamplingRatio float64 `mapstructure:"sampling_ratio" validate:"gte=0,lte=1"`
	Insecure      bool    `mapstructure:"insecure"`
}

// ClusterConfig configures leader election among workers.
type ClusterConfig struct {
	// Mode is "standalone" for a single worker or "kubernetes" for lease
	// based leader election.
	Mode         string `mapstructure:"mode" validate:"oneof=standalone kubernetes"`
	Namespace    string `mapstructure:"namespace" validate:"required_if=Mode kubernetes"`
	LeaderLockID string `mapstructure:"leader_lock_id" validate:"required_if=Mode kubernetes"`
	Identity     string `mapstructure:"identity"`
}

// GenerationService returns the generation service settings.
func (c *Config) GenerationService() appgen.Config {
	return appgen.Config{
		Limit:              c.Generation.DefaultLimit,
		MaxLimit:           c.Generation.MaxLimit,
		SyncDeadline:       c.Generation.SyncDeadline,
		MaxSyncDeadline:    c.Generation.MaxSyncDeadline,
		CatalogConcurrency: c.Generation.CatalogConcurrency,
	}
}

// WorkItemProcessor returns the processor settings.
func (c *Config) WorkItemProcessor() appgen.ProcessorConfig {
	return appgen.ProcessorConfig{
		MaxWorkItems:   c.Processor.MaxWorkItems,
		MaxRetries:     c.Processor.MaxRetries,
		InitialBackoff: c.Processor.InitialBackoff,
		MaxBackoff:     c.Processor.MaxBackoff,
	}
}

// StallSweeper returns the sweeper settings.
func (c *Config) StallSweeper() appgen.SweeperConfig {
	return appgen.SweeperConfig{
		Interval:   c.Sweeper.Interval,
		StallAfter: c.Sweeper.StallAfter,
		BatchSize:  c.Sweeper.BatchSize,
	}
}

// UsageGuard returns the guard settings.
func (c *Config) UsageGuard() guard.Config {
	return guard.Config{
		StatusTTL:   c.Guard.StatusTTL,
		HourlyLimit: c.Guard.HourlyLimit,
		BucketTTL:   c.Guard.BucketTTL,
	}
}
