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

const (
	headerRetryCount = "retry_count"
	headerMetadata   = "metadata"
)

type RetryPolicy struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

var DefaultRetryPolicy = RetryPolicy{
	MaxRetries:   3,
	InitialDelay: time.Second,
	MaxDelay:     30 * time.Second,
}

type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Permanent marks a handler error that retrying cannot fix. The message goes straight
// to the dead letter topic.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

func IsPermanent(err error) bool {
	var p permanentError
	return errors.As(err, &p)
}

// MessageMetadata travels in the metadata header of a dead-lettered message.
type MessageMetadata struct {
	RetryCount    int       `json:"retry_count"`
	FirstFailure  time.Time `json:"first_failure"`
	LastFailure   time.Time `json:"last_failure"`
	OriginalTopic string    `json:"original_topic"`
	ErrorMessage  string    `json:"error_message"`
}

type ConsumerMetrics struct {
	ProcessedCount int64 `json:"processed_count"`
	RetryCount     int64 `json:"retry_count"`
	DLQCount       int64 `json:"dlq_count"`
	SuccessCount   int64 `json:"success_count"`
	FailureCount   int64 `json:"failure_count"`
}

// Consumer relays order events from Kafka to a Handler. Failed deliveries are retried
// with exponential backoff and then sent to DLQTopic.
type Consumer struct {
	group   sarama.ConsumerGroup
	dlq     sarama.SyncProducer
	handler Handler
	retry   RetryPolicy
	logger  *logrus.Logger
	topics  []string
	now     func() time.Time

	processed atomic.Int64
	retries   atomic.Int64
	dlqCount  atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
}

func NewConsumer(brokers []string, groupID string, handler Handler, logger *logrus.Logger) (*Consumer, error) {
	consumerConfig := sarama.NewConfig()
	consumerConfig.Consumer.Group.Rebalance.Strategy = sarama.BalanceStrategyRoundRobin
	// A replica that starts late only relays what happens from now on; dashboards
	// full-fetch on connect.
	consumerConfig.Consumer.Offsets.Initial = sarama.OffsetNewest
	consumerConfig.Version = sarama.V2_6_0_0

	group, err := sarama.NewConsumerGroup(brokers, groupID, consumerConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}

	dlq, err := sarama.NewSyncProducer(brokers, producerConfig())
	if err != nil {
		group.Close()
		return nil, fmt.Errorf("failed to create producer for DLQ: %w", err)
	}

	return newConsumer(group, dlq, handler, DefaultRetryPolicy, logger), nil
}

func newConsumer(group sarama.ConsumerGroup, dlq sarama.SyncProducer, handler Handler, retry RetryPolicy, logger *logrus.Logger) *Consumer {
	return &Consumer{
		group:   group,
		dlq:     dlq,
		handler: handler,
		retry:   retry,
		logger:  logger,
		topics:  []string{OrderCreatedTopic, OrderStatusChangedTopic},
		now:     time.Now,
	}
}

// Start consumes until ctx is cancelled. Consume returns on every rebalance, so it is
// called in a loop.
func (c *Consumer) Start(ctx context.Context) error {
	for {
		if err := c.group.Consume(ctx, c.topics, c); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			c.logger.WithError(err).Error("Error consuming from Kafka")
			return err
		}
		if ctx.Err() != nil {
			c.logger.Info("Kafka consumer context cancelled")
			return nil
		}
	}
}

func (c *Consumer) Close() error {
	if err := c.dlq.Close(); err != nil {
		c.logger.WithError(err).Error("Failed to close DLQ producer")
	}
	return c.group.Close()
}

func (c *Consumer) Metrics() ConsumerMetrics {
	return ConsumerMetrics{
		ProcessedCount: c.processed.Load(),
		RetryCount:     c.retries.Load(),
		DLQCount:       c.dlqCount.Load(),
		SuccessCount:   c.succeeded.Load(),
		FailureCount:   c.failed.Load(),
	}
}

func (c *Consumer) Setup(sarama.ConsumerGroupSession) error {
	c.logger.Info("Kafka consumer group session setup")
	return nil
}

func (c *Consumer) Cleanup(sarama.ConsumerGroupSession) error {
	c.logger.Info("Kafka consumer group session cleanup")
	return nil
}

func (c *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			c.process(session.Context(), message)
			session.MarkMessage(message, "")

		case <-session.Context().Done():
			return nil
		}
	}
}

// process delivers one message. It never fails: a message that cannot be delivered is
// dead-lettered so the partition keeps moving.
func (c *Consumer) process(ctx context.Context, message *sarama.ConsumerMessage) {
	c.processed.Add(1)

	err := c.handleWithRetry(ctx, message)
	if err == nil {
		c.succeeded.Add(1)
		return
	}
	if ctx.Err() != nil {
		return
	}

	c.failed.Add(1)
	c.logger.WithError(err).WithField("key", string(message.Key)).Error("Failed to process message after retries")
	if dlqErr := c.sendToDLQ(message, err); dlqErr != nil {
		c.logger.WithError(dlqErr).Error("Failed to send message to DLQ")
		return
	}
	c.dlqCount.Add(1)
}

func (c *Consumer) handleWithRetry(ctx context.Context, message *sarama.ConsumerMessage) error {
	if _, ok := eventTypeForTopic(message.Topic); !ok {
		return Permanent(fmt.Errorf("unknown topic %q", message.Topic))
	}

	var event OrderEvent
	if err := json.Unmarshal(message.Value, &event); err != nil {
		return Permanent(fmt.Errorf("decode order event: %w", err))
	}

	delay := c.retry.InitialDelay
	var err error
	for attempt := 0; attempt <= c.retry.MaxRetries; attempt++ {
		if attempt > 0 {
			c.logger.WithFields(logrus.Fields{
				"order_id": event.Order.ID,
				"attempt":  attempt,
				"delay":    delay,
			}).Info("Retrying order event")

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			c.retries.Add(1)

			delay *= 2
			if delay > c.retry.MaxDelay {
				delay = c.retry.MaxDelay
			}
		}

		err = c.handler.HandleOrderEvent(ctx, event)
		if err == nil {
			return nil
		}
		if IsPermanent(err) {
			return err
		}
		c.logger.WithError(err).WithField("attempt", attempt+1).Warn("Retryable error handling order event")
	}
	return fmt.Errorf("exhausted retries for order %s: %w", event.Order.ID, err)
}

func retryCount(message *sarama.ConsumerMessage) int {
	for _, header := range message.Headers {
		if string(header.Key) == headerRetryCount {
			if n, err := strconv.Atoi(string(header.Value)); err == nil {
				return n
			}
		}
	}
	return 0
}

func (c *Consumer) sendToDLQ(message *sarama.ConsumerMessage, processingError error) error {
	now := c.now().UTC()
	metadata := MessageMetadata{
		RetryCount:    retryCount(message) + 1,
		FirstFailure:  now,
		LastFailure:   now,
		OriginalTopic: message.Topic,
		ErrorMessage:  processingError.Error(),
	}
	metadataBytes, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	dlqMessage := &sarama.ProducerMessage{
		Topic: DLQTopic,
		Key:   sarama.ByteEncoder(message.Key),
		Value: sarama.ByteEncoder(message.Value),
		Headers: []sarama.RecordHeader{
			{Key: []byte(headerMetadata), Value: metadataBytes},
			{Key: []byte("original_topic"), Value: []byte(message.Topic)},
			{Key: []byte("original_partition"), Value: []byte(strconv.Itoa(int(message.Partition)))},
			{Key: []byte("original_offset"), Value: []byte(strconv.FormatInt(message.Offset, 10))},
		},
	}

	partition, offset, err := c.dlq.SendMessage(dlqMessage)
	if err != nil {
		return fmt.Errorf("failed to send to DLQ: %w", err)
	}

	c.logger.WithFields(logrus.Fields{
		"dlq_topic":     DLQTopic,
		"dlq_partition": partition,
		"dlq_offset":    offset,
		"original_key":  string(message.Key),
		"error":         processingError.Error(),
	}).Warn("Message sent to dead letter queue")
	return nil
}
