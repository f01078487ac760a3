package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"
)

const dlqGroupID = "creperie-dlq-monitor"

var ErrReplayLimit = errors.New("exceeded maximum replay attempts")

// DeadLetter is a decoded message from DLQTopic.
type DeadLetter struct {
	Key       string          `json:"key"`
	Partition int32           `json:"partition"`
	Offset    int64           `json:"offset"`
	Metadata  MessageMetadata `json:"metadata"`
	Event     *OrderEvent     `json:"event,omitempty"`
}

type DLQMonitorConfig struct {
	// Replay sends dead letters back to their original topic after ReplayDelay.
	Replay      bool
	ReplayDelay time.Duration
	MaxReplays  int
}

// DLQMonitor watches the dead letter topic, logs every message and optionally replays it.
type DLQMonitor struct {
	group    sarama.ConsumerGroup
	producer sarama.SyncProducer
	config   DLQMonitorConfig
	logger   *logrus.Logger

	seen     atomic.Int64
	replayed atomic.Int64
}

func NewDLQMonitor(brokers []string, config DLQMonitorConfig, logger *logrus.Logger) (*DLQMonitor, error) {
	consumerConfig := sarama.NewConfig()
	consumerConfig.Consumer.Group.Rebalance.Strategy = sarama.BalanceStrategyRoundRobin
	consumerConfig.Consumer.Offsets.Initial = sarama.OffsetOldest
	consumerConfig.Version = sarama.V2_6_0_0

	group, err := sarama.NewConsumerGroup(brokers, dlqGroupID, consumerConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create DLQ consumer: %w", err)
	}

	var producer sarama.SyncProducer
	if config.Replay {
		producer, err = sarama.NewSyncProducer(brokers, producerConfig())
		if err != nil {
			group.Close()
			return nil, fmt.Errorf("failed to create replay producer: %w", err)
		}
	}
	return newDLQMonitor(group, producer, config, logger), nil
}

func newDLQMonitor(group sarama.ConsumerGroup, producer sarama.SyncProducer, config DLQMonitorConfig, logger *logrus.Logger) *DLQMonitor {
	if config.MaxReplays <= 0 {
		config.MaxReplays = DefaultRetryPolicy.MaxRetries * 2
	}
	return &DLQMonitor{group: group, producer: producer, config: config, logger: logger}
}

func (m *DLQMonitor) Run(ctx context.Context) error {
	for {
		if err := m.group.Consume(ctx, []string{DLQTopic}, m); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			m.logger.WithError(err).Error("Error consuming from DLQ")
			return err
		}
		if ctx.Err() != nil {
			m.logger.Info("DLQ monitor context cancelled")
			return nil
		}
	}
}

func (m *DLQMonitor) Close() error {
	if m.producer != nil {
		if err := m.producer.Close(); err != nil {
			m.logger.WithError(err).Error("Failed to close replay producer")
		}
	}
	return m.group.Close()
}

// Stats reports how many dead letters were seen and replayed since start.
func (m *DLQMonitor) Stats() map[string]interface{} {
	return map[string]interface{}{
		"dlq_topic": DLQTopic,
		"seen":      m.seen.Load(),
		"replayed":  m.replayed.Load(),
		"replay":    m.config.Replay,
	}
}

func (m *DLQMonitor) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (m *DLQMonitor) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (m *DLQMonitor) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			letter := m.Inspect(message)

			if m.config.Replay {
				select {
				case <-session.Context().Done():
					return nil
				case <-time.After(m.config.ReplayDelay):
				}
				if err := m.Replay(message); err != nil {
					m.logger.WithError(err).WithField("key", letter.Key).Error("Failed to replay DLQ message")
				}
			}
			session.MarkMessage(message, "")

		case <-session.Context().Done():
			return nil
		}
	}
}

// Inspect decodes and logs a dead letter.
func (m *DLQMonitor) Inspect(message *sarama.ConsumerMessage) DeadLetter {
	m.seen.Add(1)

	letter := DeadLetter{
		Key:       string(message.Key),
		Partition: message.Partition,
		Offset:    message.Offset,
		Metadata:  dlqMetadata(message),
	}
	var event OrderEvent
	if err := json.Unmarshal(message.Value, &event); err == nil {
		letter.Event = &event
	}

	fields := logrus.Fields{
		"key":            letter.Key,
		"partition":      letter.Partition,
		"offset":         letter.Offset,
		"original_topic": letter.Metadata.OriginalTopic,
		"retry_count":    letter.Metadata.RetryCount,
		"error_message":  letter.Metadata.ErrorMessage,
	}
	if letter.Event != nil {
		fields["order_id"] = letter.Event.Order.ID
		fields["event_type"] = letter.Event.Type
		fields["status"] = letter.Event.Order.Status
	}
	m.logger.WithFields(fields).Warn("DLQ message detected")
	return letter
}

// Replay puts a dead letter back on its original topic with an incremented retry count.
func (m *DLQMonitor) Replay(message *sarama.ConsumerMessage) error {
	if m.producer == nil {
		return errors.New("replay is disabled")
	}

	metadata := dlqMetadata(message)
	if metadata.RetryCount >= m.config.MaxReplays {
		m.logger.WithFields(logrus.Fields{
			"key":         string(message.Key),
			"retry_count": metadata.RetryCount,
		}).Error("Message exceeded maximum replay attempts")
		return ErrReplayLimit
	}
	if _, ok := eventTypeForTopic(metadata.OriginalTopic); !ok {
		return fmt.Errorf("cannot replay to unknown topic %q", metadata.OriginalTopic)
	}

	replay := &sarama.ProducerMessage{
		Topic: metadata.OriginalTopic,
		Key:   sarama.ByteEncoder(message.Key),
		Value: sarama.ByteEncoder(message.Value),
		Headers: []sarama.RecordHeader{
			{Key: []byte(headerRetryCount), Value: []byte(strconv.Itoa(metadata.RetryCount))},
			{Key: []byte("replayed_from_dlq"), Value: []byte("true")},
		},
	}

	partition, offset, err := m.producer.SendMessage(replay)
	if err != nil {
		return fmt.Errorf("failed to replay message: %w", err)
	}
	m.replayed.Add(1)

	m.logger.WithFields(logrus.Fields{
		"replay_topic":     replay.Topic,
		"replay_partition": partition,
		"replay_offset":    offset,
		"key":              string(message.Key),
	}).Info("Message replayed from DLQ")
	return nil
}

func dlqMetadata(message *sarama.ConsumerMessage) MessageMetadata {
	var metadata MessageMetadata
	for _, header := range message.Headers {
		if string(header.Key) == headerMetadata {
			json.Unmarshal(header.Value, &metadata)
			break
		}
	}
	return metadata
}
