// Package orders turns checkouts into pending orders and moves them through the status
// machine on behalf of a roles.Principal.
package orders

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jogardn/creperie/internal/apperr"
	"github.com/jogardn/creperie/internal/cart"
	"github.com/jogardn/creperie/internal/events"
	"github.com/jogardn/creperie/internal/roles"
	"github.com/jogardn/creperie/internal/store"
	"github.com/jogardn/creperie/internal/validation"
	"github.com/jogardn/creperie/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// maxOrderTotal is the largest amount a NUMERIC(10,2) total_amount column holds.
var maxOrderTotal = decimal.RequireFromString("99999999.99")

type Service struct {
	orders      store.OrderStore
	validator   *validation.Validator
	deliveryFee decimal.Decimal
	publisher   events.Publisher
	logger      *logrus.Logger
	now         func() time.Time
}

// NewService wires the order workflow. publisher may be nil; events are best effort.
func NewService(orders store.OrderStore, v *validation.Validator, deliveryFee decimal.Decimal, publisher events.Publisher, logger *logrus.Logger) *Service {
	return &Service{
		orders:      orders,
		validator:   v,
		deliveryFee: deliveryFee,
		publisher:   publisher,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Checkout validates req and stores it as a pending order. p is nil for anonymous
// checkouts. Any total sent by the client is ignored; it is recomputed from the items.
func (s *Service) Checkout(ctx context.Context, p roles.Principal, req models.CheckoutRequest) (*models.Order, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, err
	}

	subtotal, err := cart.Subtotal(req.Items)
	if err != nil {
		return nil, apperr.NewValidationError("items", err.Error())
	}
	fee := decimal.Zero
	if req.FulfillmentType == models.FulfillmentDelivery {
		fee = s.deliveryFee
	}
	total := subtotal.Add(fee)
	if total.GreaterThan(maxOrderTotal) {
		return nil, apperr.NewValidationError("items", "order total must be at most "+maxOrderTotal.StringFixed(2))
	}

	now := s.now()
	order := models.Order{
		ID:              uuid.New().String(),
		CustomerName:    strings.TrimSpace(req.FirstName + " " + req.LastName),
		CustomerEmail:   strings.ToLower(strings.TrimSpace(req.Email)),
		CustomerPhone:   strings.TrimSpace(req.Phone),
		Items:           append([]models.OrderItem(nil), req.Items...),
		TotalAmount:     cart.FormatAmount(total),
		DeliveryFee:     cart.FormatAmount(fee),
		FulfillmentType: req.FulfillmentType,
		Notes:           optional(req.Notes),
		PreferredTime:   optional(req.PreferredTime),
		Status:          models.StatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if req.FulfillmentType == models.FulfillmentDelivery {
		order.DeliveryAddress = optional(req.DeliveryAddress)
	}
	if p != nil {
		id := p.ActorID()
		order.UserID = &id
	}

	created, err := s.orders.CreateOrder(ctx, order)
	if err != nil {
		return nil, &apperr.SubmissionError{Err: err}
	}

	s.logger.WithFields(logrus.Fields{
		"order_id":     created.ID,
		"order_type":   created.FulfillmentType,
		"total_amount": created.TotalAmount,
		"items_count":  len(created.Items),
		"user_id":      created.UserID,
	}).Info("Order created")

	s.publish(ctx, events.NewOrderCreated(*created))
	return created, nil
}

// SubmitOrder checks out anonymously, which is what an in-process cart needs.
func (s *Service) SubmitOrder(ctx context.Context, req models.CheckoutRequest) (*models.Order, error) {
	return s.Checkout(ctx, nil, req)
}

func (s *Service) List(ctx context.Context, p roles.Principal) ([]models.Order, error) {
	all, err := s.orders.ListOrders(ctx)
	if err != nil {
		return nil, err
	}
	return roles.Visible(p, all), nil
}

// Get returns the order if p may see it. Invisible orders are reported as not found.
func (s *Service) Get(ctx context.Context, p roles.Principal, id string) (*models.Order, error) {
	order, err := s.orders.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if !roles.CanSee(p, *order) {
		return nil, apperr.ErrNotFound
	}
	return order, nil
}

// Transition moves order id to status on behalf of p. The authorization decision is
// re-checked by the store in the same write, so a livreur that loses an accept race gets
// a ConflictError and the order is left as the winner wrote it.
func (s *Service) Transition(ctx context.Context, p roles.Principal, id, status string) (*models.Order, error) {
	to, err := models.ParseStatus(status)
	if err != nil {
		return nil, apperr.NewValidationError("status", "must be one of: pending, confirmed, refused, delivered")
	}

	current, err := s.orders.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}

	change, err := roles.Authorize(p, *current, to)
	if err != nil {
		var invalid *apperr.InvalidTransitionError
		if errors.As(err, &invalid) {
			invalid.Current = current
		}
		return nil, err
	}

	updated, err := s.orders.CompareAndSetStatus(ctx, id, change, s.now())
	if err != nil {
		var conflict *apperr.ConflictError
		if errors.As(err, &conflict) {
			s.logger.WithFields(logrus.Fields{
				"order_id": id,
				"actor_id": p.ActorID(),
				"role":     p.Role(),
				"to":       to,
			}).Info("Order status change lost a race")
		}
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"order_id":   id,
		"actor_id":   p.ActorID(),
		"role":       p.Role(),
		"from":       change.From,
		"status":     updated.Status,
		"livreur_id": updated.LivreurID,
	}).Info("Order status changed")

	s.publish(ctx, events.NewOrderUpdated(*updated, change.From))
	return updated, nil
}

func (s *Service) publish(ctx context.Context, event events.OrderEvent) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"order_id":   event.Order.ID,
			"event_type": event.Type,
		}).Warn("Failed to publish order event")
	}
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
