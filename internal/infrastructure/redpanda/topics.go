package redpanda

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"
)

// Topic names
const (
	TopicRecordEvents      = "emr.record.events"
	TopicRecordEventsDLQ   = "emr.record.events.dlq"
	TopicScheduleEvents    = "medication.schedule.events"
	TopicScheduleEventsDLQ = "medication.schedule.events.dlq"
)

// TopicConfig holds configuration for a Kafka topic
type TopicConfig struct {
	Name              string
	Partitions        int32
	ReplicationFactor int16
	Configs           map[string]*string
}

// DefaultTopicConfigs returns the topics the schedule services need.
// Schedule events are keyed by patient id, so partitions bound the number of
// patients whose events are consumed in parallel downstream.
func DefaultTopicConfigs(replication int16) []TopicConfig {
	ptr := func(s string) *string { return &s }
	if replication <= 0 {
		replication = 1
	}
	week := ptr("604800000")
	month := ptr("2592000000")

	return []TopicConfig{
		{
			Name:              TopicRecordEvents,
			Partitions:        12,
			ReplicationFactor: replication,
			Configs: map[string]*string{
				"retention.ms":     week,
				"cleanup.policy":   ptr("delete"),
				"compression.type": ptr("lz4"),
			},
		},
		{
			Name:              TopicRecordEventsDLQ,
			Partitions:        3,
			ReplicationFactor: replication,
			Configs: map[string]*string{
				"retention.ms":   month,
				"cleanup.policy": ptr("delete"),
			},
		},
		{
			Name:              TopicScheduleEvents,
			Partitions:        12,
			ReplicationFactor: replication,
			Configs: map[string]*string{
				"retention.ms":     month,
				"cleanup.policy":   ptr("delete"),
				"compression.type": ptr("lz4"),
			},
		},
		{
			Name:              TopicScheduleEventsDLQ,
			Partitions:        3,
			ReplicationFactor: replication,
			Configs: map[string]*string{
				"retention.ms":   month,
				"cleanup.policy": ptr("delete"),
			},
		},
	}
}

// Admin provides administrative operations
type Admin struct {
	client *kadm.Client
	logger *zap.Logger
}

// NewAdmin creates a new admin client
func NewAdmin(brokers []string, logger *zap.Logger) (*Admin, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	kgoClient, err := kgo.NewClient(kgo.SeedBrokers(brokers...))
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka client: %w", err)
	}
	return &Admin{client: kadm.NewClient(kgoClient), logger: logger}, nil
}

// TopicResult reports what EnsureTopics did for one topic.
type TopicResult struct {
	Name    string
	Created bool
}

// EnsureTopics creates any missing topic. Existing topics are left as they are.
func (a *Admin) EnsureTopics(ctx context.Context, configs []TopicConfig) ([]TopicResult, error) {
	out := make([]TopicResult, 0, len(configs))
	for _, cfg := range configs {
		resp, err := a.client.CreateTopic(ctx, cfg.Partitions, cfg.ReplicationFactor, cfg.Configs, cfg.Name)
		if err != nil && !errors.Is(err, kerr.TopicAlreadyExists) {
			return out, fmt.Errorf("failed to create topic %s: %w", cfg.Name, err)
		}
		if errors.Is(resp.Err, kerr.TopicAlreadyExists) || errors.Is(err, kerr.TopicAlreadyExists) {
			a.logger.Info("topic already exists", zap.String("topic", cfg.Name))
			out = append(out, TopicResult{Name: cfg.Name})
			continue
		}
		if resp.Err != nil {
			return out, fmt.Errorf("failed to create topic %s: %w", cfg.Name, resp.Err)
		}
		a.logger.Info("topic created",
			zap.String("topic", cfg.Name),
			zap.Int32("partitions", cfg.Partitions))
		out = append(out, TopicResult{Name: cfg.Name, Created: true})
	}
	return out, nil
}

// ListTopics lists all non-internal topics, sorted.
func (a *Admin) ListTopics(ctx context.Context) ([]string, error) {
	topics, err := a.client.ListTopics(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list topics: %w", err)
	}
	names := topics.Names()
	sort.Strings(names)
	return names, nil
}

// GetConsumerGroupLag returns the lag per topic and partition of a group
func (a *Admin) GetConsumerGroupLag(ctx context.Context, groupID string) (map[string]map[int32]int64, error) {
	described, err := a.client.Lag(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to get consumer group lag: %w", err)
	}

	result := make(map[string]map[int32]int64)
	described.Each(func(l kadm.DescribedGroupLag) {
		for topic, partitions := range l.Lag {
			if result[topic] == nil {
				result[topic] = make(map[int32]int64)
			}
			for partition, lag := range partitions {
				result[topic][partition] = lag.Lag
			}
		}
	})
	return result, nil
}

// Close closes the admin client
func (a *Admin) Close() {
	a.client.Close()
}

// HealthCheck verifies broker connectivity
func HealthCheck(ctx context.Context, brokers []string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	client, err := kgo.NewClient(kgo.SeedBrokers(brokers...))
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}
	defer client.Close()

	if err := client.Ping(ctx); err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}
	return nil
}
