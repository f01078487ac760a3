// Package events carries order lifecycle events over Kafka. The API publishes them, and a
// relay on every replica consumes them and feeds the live order hub.
package events

import (
	"context"
	"time"

	"github.com/jogardn/creperie/pkg/models"
)

const (
	OrderCreatedTopic       = "order.created"
	OrderStatusChangedTopic = "order.status_changed"
	DLQTopic                = "order.events.dlq"
)

type EventType string

const (
	OrderCreated EventType = "order_created"
	OrderUpdated EventType = "order_updated"
)

// OrderEvent carries the full order as it is after the change.
type OrderEvent struct {
	Type           EventType     `json:"type"`
	Order          models.Order  `json:"order"`
	PreviousStatus models.Status `json:"previous_status,omitempty"`
	EventTime      time.Time     `json:"event_time"`
}

func NewOrderCreated(o models.Order) OrderEvent {
	return OrderEvent{Type: OrderCreated, Order: o.Clone(), EventTime: time.Now().UTC()}
}

func NewOrderUpdated(o models.Order, from models.Status) OrderEvent {
	return OrderEvent{Type: OrderUpdated, Order: o.Clone(), PreviousStatus: from, EventTime: time.Now().UTC()}
}

// Topic is the Kafka topic the event is published to.
func (e OrderEvent) Topic() string {
	if e.Type == OrderCreated {
		return OrderCreatedTopic
	}
	return OrderStatusChangedTopic
}

func eventTypeForTopic(topic string) (EventType, bool) {
	switch topic {
	case OrderCreatedTopic:
		return OrderCreated, true
	case OrderStatusChangedTopic:
		return OrderUpdated, true
	default:
		return "", false
	}
}

type Publisher interface {
	Publish(ctx context.Context, event OrderEvent) error
}

type Handler interface {
	HandleOrderEvent(ctx context.Context, event OrderEvent) error
}

type HandlerFunc func(ctx context.Context, event OrderEvent) error

func (f HandlerFunc) HandleOrderEvent(ctx context.Context, event OrderEvent) error {
	return f(ctx, event)
}
