// Package kafkamirror is an optional, additive export path that mirrors
// notify.Payload events onto a Kafka topic alongside the primary Postgres
// LISTEN/NOTIFY fanout, for downstream consumers outside the GraphQL
// service. Grounded directly on the teacher's
// datasync/chaindatafetcher/kafka package: KafkaConfig's
// SaramaConfig/Brokers/Partitions/Replicas shape and repository.go's
// broker.Publish(topic, payload) call, adapted from chain-event payloads to
// notify.Payload.
package kafkamirror

import (
	"fmt"

	"github.com/Shopify/sarama"

	"github.com/ccdscan/indexer/internal/notify"
	"github.com/ccdscan/indexer/internal/xlog"
)

var logger = xlog.NewModuleLogger(xlog.Kafka)

const (
	// DefaultPartitions matches the teacher's kafka.DefaultPartitions.
	DefaultPartitions = 1
	// DefaultReplicas matches the teacher's kafka.DefaultReplicas.
	DefaultReplicas = 1
)

// Config configures the mirror producer.
type Config struct {
	Brokers     []string
	TopicPrefix string
}

// DefaultSaramaConfig mirrors the teacher's GetDefaultKafkaConfig: return
// successes so Publish can report delivery failures, pin the newest
// protocol version this sarama release knows (sarama.MaxVersion).
func DefaultSaramaConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Version = sarama.MaxVersion
	return cfg
}

// Mirror publishes notify.Payload values to Kafka, one topic per
// notification channel (topicPrefix + "-" + channel), the same naming
// scheme the teacher's repository.go uses for block/trace topics.
type Mirror struct {
	producer    sarama.SyncProducer
	topicPrefix string
}

// NewMirror dials brokers with a synchronous producer so publish failures
// surface immediately rather than being silently dropped.
func NewMirror(cfg Config, saramaCfg *sarama.Config) (*Mirror, error) {
	if saramaCfg == nil {
		saramaCfg = DefaultSaramaConfig()
	}
	producer, err := sarama.NewSyncProducer(cfg.Brokers, saramaCfg)
	if err != nil {
		return nil, fmt.Errorf("kafkamirror: creating producer: %w", err)
	}
	return &Mirror{producer: producer, topicPrefix: cfg.TopicPrefix}, nil
}

// Publish mirrors one payload onto its channel's topic.
func (m *Mirror) Publish(p notify.Payload) error {
	topic := m.topicPrefix + "-" + p.Channel
	_, _, err := m.producer.SendMessage(&sarama.ProducerMessage{
		Topic: topic,
		Value: sarama.StringEncoder(p.Data),
	})
	if err != nil {
		logger.Error("publishing to kafka failed", "topic", topic, "err", err)
		return fmt.Errorf("kafkamirror: publish to %s: %w", topic, err)
	}
	return nil
}

// Close shuts down the underlying producer.
func (m *Mirror) Close() error {
	return m.producer.Close()
}
