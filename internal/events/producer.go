package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"
)

func producerConfig() *sarama.Config {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true
	config.Version = sarama.V2_6_0_0
	return config
}

type KafkaProducer struct {
	producer sarama.SyncProducer
	logger   *logrus.Logger
}

func NewKafkaProducer(brokers []string, logger *logrus.Logger) (*KafkaProducer, error) {
	producer, err := sarama.NewSyncProducer(brokers, producerConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}
	return NewKafkaProducerWith(producer, logger), nil
}

func NewKafkaProducerWith(producer sarama.SyncProducer, logger *logrus.Logger) *KafkaProducer {
	return &KafkaProducer{producer: producer, logger: logger}
}

// Publish sends the event keyed by order id, so every change of one order lands on the
// same partition in order.
func (p *KafkaProducer) Publish(ctx context.Context, event OrderEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", event.Type, err)
	}

	msg := &sarama.ProducerMessage{
		Topic: event.Topic(),
		Key:   sarama.StringEncoder(event.Order.ID),
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event_type"), Value: []byte(event.Type)},
		},
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		p.logger.WithError(err).WithField("order_id", event.Order.ID).Error("Failed to send message to Kafka")
		return fmt.Errorf("publish %s: %w", msg.Topic, err)
	}

	p.logger.WithFields(logrus.Fields{
		"topic":     msg.Topic,
		"partition": partition,
		"offset":    offset,
		"order_id":  event.Order.ID,
		"status":    event.Order.Status,
	}).Info("Event published to Kafka")
	return nil
}

func (p *KafkaProducer) Close() error {
	return p.producer.Close()
}
