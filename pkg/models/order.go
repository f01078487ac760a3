package models

import (
	"fmt"
	"time"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusRefused   Status = "refused"
	StatusDelivered Status = "delivered"
)

// edges lists every legal status change. Anything absent is invalid for every role.
var edges = map[Status][]Status{
	StatusPending:   {StatusConfirmed, StatusRefused},
	StatusConfirmed: {StatusDelivered},
}

func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusPending, StatusConfirmed, StatusRefused, StatusDelivered:
		return st, nil
	default:
		return "", fmt.Errorf("unknown order status %q", s)
	}
}

func (s Status) Valid() bool {
	_, err := ParseStatus(string(s))
	return err == nil
}

func (s Status) Terminal() bool {
	return s == StatusRefused || s == StatusDelivered
}

func (s Status) CanTransitionTo(to Status) bool {
	for _, next := range edges[s] {
		if next == to {
			return true
		}
	}
	return false
}

type FulfillmentType string

const (
	FulfillmentPickup   FulfillmentType = "pickup"
	FulfillmentDelivery FulfillmentType = "delivery"
)

// OrderItem is the snapshot of a menu item taken at checkout. It never follows later
// catalog edits.
type OrderItem struct {
	MenuItemID string `json:"menuItemId" validate:"required"`
	Name       string `json:"name" validate:"required"`
	Price      string `json:"price" validate:"required,decimal"`
	Quantity   int    `json:"quantity" validate:"min=1,max=999"`
}

type Order struct {
	ID              string          `json:"id"`
	CustomerName    string          `json:"customerName"`
	CustomerEmail   string          `json:"customerEmail"`
	CustomerPhone   string          `json:"customerPhone"`
	Items           []OrderItem     `json:"items"`
	TotalAmount     string          `json:"totalAmount"`
	DeliveryFee     string          `json:"deliveryFee"`
	FulfillmentType FulfillmentType `json:"orderType"`
	DeliveryAddress *string         `json:"deliveryAddress"`
	Notes           *string         `json:"notes"`
	PreferredTime   *string         `json:"preferredTime"`
	Status          Status          `json:"status"`
	LivreurID       *int64          `json:"livreurId"`
	UserID          *int64          `json:"userId"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`

	// Seq is the insertion sequence assigned by the store; it breaks CreatedAt ties.
	Seq int64 `json:"-"`
}

// Clone returns a deep copy so callers cannot reach into a stored snapshot.
func (o Order) Clone() Order {
	c := o
	c.Items = append([]OrderItem(nil), o.Items...)
	c.DeliveryAddress = cloneString(o.DeliveryAddress)
	c.Notes = cloneString(o.Notes)
	c.PreferredTime = cloneString(o.PreferredTime)
	c.LivreurID = cloneInt64(o.LivreurID)
	c.UserID = cloneInt64(o.UserID)
	return c
}

func (o Order) Unassigned() bool {
	return o.LivreurID == nil
}

func (o Order) AssignedTo(actorID int64) bool {
	return o.LivreurID != nil && *o.LivreurID == actorID
}

func (o Order) PlacedBy(actorID int64) bool {
	return o.UserID != nil && *o.UserID == actorID
}

// StatusChange is a guarded status write. Stores apply it as one compare-and-set.
type StatusChange struct {
	From Status
	To   Status

	// RequireUnassigned fails the write when a livreur is already set.
	RequireUnassigned bool
	// RequireLivreur fails the write unless the order is assigned to this actor.
	RequireLivreur *int64
	// AssignLivreur sets the livreur as part of the same write.
	AssignLivreur *int64
}

// Satisfied reports whether o still matches the change preconditions.
func (c StatusChange) Satisfied(o Order) bool {
	if o.Status != c.From {
		return false
	}
	if c.RequireUnassigned && !o.Unassigned() {
		return false
	}
	if c.RequireLivreur != nil && !o.AssignedTo(*c.RequireLivreur) {
		return false
	}
	return true
}

// CheckoutRequest is what a storefront submits at checkout. Text bounds follow the
// orders table columns; the two names are joined into one 255 character column.
type CheckoutRequest struct {
	FirstName       string          `json:"firstName" validate:"required,min=2,max=126"`
	LastName        string          `json:"lastName" validate:"required,min=2,max=126"`
	Email           string          `json:"email" validate:"required,max=320,email"`
	Phone           string          `json:"phone" validate:"required,min=10,max=32"`
	FulfillmentType FulfillmentType `json:"orderType" validate:"required,oneof=pickup delivery"`
	DeliveryAddress string          `json:"deliveryAddress" validate:"required_if=FulfillmentType delivery"`
	Notes           string          `json:"notes,omitempty"`
	PreferredTime   string          `json:"preferredTime,omitempty" validate:"omitempty,max=64"`
	Items           []OrderItem     `json:"items" validate:"required,min=1,dive"`
}

type OrderResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Order   *Order `json:"order,omitempty"`
}

type StatusUpdateRequest struct {
	Status string `json:"status"`
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneInt64(i *int64) *int64 {
	if i == nil {
		return nil
	}
	v := *i
	return &v
}
