package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/cenkalti/backoff"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/schedule-armada/pkg/common/logger"
)

// ClientConfig identifies a process to the Kafka cluster.
type ClientConfig struct {
	Brokers     []string
	ClientID    string
	ServiceType string
}

// NewClient connects a sarama client shared by the producer, the consumer
// group and topic administration.
func NewClient(cfg *ClientConfig) (sarama.Client, error) {
	return sarama.NewClient(cfg.Brokers, saramaConfig(cfg.ClientID))
}

func saramaConfig(clientID string) *sarama.Config {
	c := sarama.NewConfig()
	c.ClientID = clientID
	c.Version = sarama.V3_6_0_0

	// Offsets are marked only after a work item is acknowledged and are
	// committed by the claim loop.
	c.Consumer.Offsets.AutoCommit.Enable = false
	c.Consumer.Offsets.Initial = sarama.OffsetOldest
	c.Consumer.Return.Errors = true
	c.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategySticky()}
	c.Consumer.Group.Session.Timeout = 20 * time.Second
	c.Consumer.Group.Heartbeat.Interval = 6 * time.Second
	// A work item may wait out several store retries before it is acked.
	c.Consumer.MaxProcessingTime = 30 * time.Second

	// Items of one generation share a key and so a partition.
	c.Producer.Partitioner = sarama.NewHashPartitioner
	c.Producer.RequiredAcks = sarama.WaitForAll
	c.Producer.Return.Successes = true
	c.Producer.Retry.Max = 5

	return c
}

// ConnectEventBus builds an EventBus over client, retrying with exponential
// backoff while the brokers come up. When publishOnly is set no consumer
// group is created.
func ConnectEventBus(
	cfg *EventBusConfig,
	client sarama.Client,
	publishOnly bool,
	logger *logger.Logger,
	metrics EventBusMetrics,
	tracer trace.Tracer,
) (*EventBus, error) {
	var bus *EventBus

	connect := func() error {
		producer, err := sarama.NewSyncProducerFromClient(client)
		if err != nil {
			return fmt.Errorf("creating producer: %w", err)
		}

		var group sarama.ConsumerGroup
		if !publishOnly {
			if group, err = sarama.NewConsumerGroupFromClient(cfg.GroupID, client); err != nil {
				_ = producer.Close()
				return fmt.Errorf("creating consumer group %s: %w", cfg.GroupID, err)
			}
		}

		bus, err = NewEventBus(producer, group, cfg, logger, metrics, tracer)
		if err != nil {
			_ = producer.Close()
			if group != nil {
				_ = group.Close()
			}
			return backoff.Permanent(err)
		}
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 2 * time.Second
	policy.MaxElapsedTime = 5 * time.Minute

	notify := func(err error, wait time.Duration) {
		logger.Warn(context.Background(), "Kafka not ready, retrying", "error", err, "retry_in", wait)
	}
	if err := backoff.RetryNotify(connect, policy, notify); err != nil {
		return nil, fmt.Errorf("connecting event bus: %w", err)
	}
	return bus, nil
}

// EnsureTopics creates whichever of topics the cluster lacks.
func EnsureTopics(client sarama.Client, partitions int32, replication int16, topics ...string) error {
	// The admin shares client; closing it would close the client too.
	admin, err := sarama.NewClusterAdminFromClient(client)
	if err != nil {
		return fmt.Errorf("creating cluster admin: %w", err)
	}

	existing, err := admin.ListTopics()
	if err != nil {
		return fmt.Errorf("listing topics: %w", err)
	}

	detail := &sarama.TopicDetail{NumPartitions: partitions, ReplicationFactor: replication}
	for _, topic := range topics {
		if _, ok := existing[topic]; ok {
			continue
		}
		if err := admin.CreateTopic(topic, detail, false); err != nil && !errors.Is(err, sarama.ErrTopicAlreadyExists) {
			return fmt.Errorf("creating topic %s: %w", topic, err)
		}
	}
	return nil
}
