package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appgen "github.com/ahrav/schedule-armada/internal/app/generation"
	"github.com/ahrav/schedule-armada/internal/app/guard"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := NewViperLoader("", "planner").Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "planner", cfg.Service.Name)
	assert.Equal(t, ":8080", cfg.API.Addr)
	assert.Equal(t, []string{"kafka:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "standalone", cfg.Cluster.Mode)

	assert.Equal(t, appgen.DefaultConfig(), cfg.GenerationService())
	assert.Equal(t, appgen.DefaultProcessorConfig(), cfg.WorkItemProcessor())
	assert.Equal(t, appgen.DefaultSweeperConfig(), cfg.StallSweeper())
	assert.Equal(t, guard.DefaultConfig(), cfg.UsageGuard())
}

func TestLoad_FileThenEnvironment(t *testing.T) {
	path := writeFile(t, `
service:
  log_level: debug
kafka:
  brokers: [broker-1:9092]
  work_item_topic: items
generation:
  max_limit: 500
sweeper:
  stall_after: 30m
guard:
  hourly_limit: 5
`)
	t.Setenv("SCHEDULE_KAFKA_BROKERS", "broker-a:9092,broker-b:9092")
	t.Setenv("SCHEDULE_GUARD_HOURLY_LIMIT", "7")
	t.Setenv("SCHEDULE_PROCESSOR_INITIAL_BACKOFF", "50ms")

	cfg, err := NewViperLoader(path, "worker").Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Service.LogLevel)
	assert.Equal(t, []string{"broker-a:9092", "broker-b:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "items", cfg.Kafka.WorkItemTopic)
	assert.Equal(t, 500, cfg.Generation.MaxLimit)
	assert.Equal(t, 30*time.Minute, cfg.Sweeper.StallAfter)
	assert.Equal(t, 7, cfg.Guard.HourlyLimit)
	assert.Equal(t, 50*time.Millisecond, cfg.Processor.InitialBackoff)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			name:    "default limit above maximum",
			content: "generation:\n  default_limit: 50\n  max_limit: 10\n",
			want:    "DefaultLimit",
		},
		{
			name:    "unknown cluster mode",
			content: "cluster:\n  mode: swarm\n",
			want:    "Mode",
		},
		{
			name:    "kubernetes without namespace",
			content: "cluster:\n  mode: kubernetes\n",
			want:    "Namespace",
		},
		{
			name:    "sampling ratio out of range",
			content: "telemetry:\n  sampling_ratio: 2\n",
			want:    "SamplingRatio",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewViperLoader(writeFile(t, tt.content), "planner").Load(context.Background())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := NewViperLoader(filepath.Join(t.TempDir(), "absent.yaml"), "planner").Load(context.Background())
	assert.ErrorContains(t, err, "failed to read config file")
}
