// Package roles turns an authenticated actor into one of the closed set Owner, Livreur or
// Client. Visibility and status authority are methods of each role type, so a new role
// cannot compile until it answers both questions.
package roles

import (
	"fmt"
	"sort"

	"github.com/jogardn/creperie/internal/apperr"
	"github.com/jogardn/creperie/pkg/models"
)

type Principal interface {
	ActorID() int64
	Role() models.Role

	sees(o models.Order) bool
	authorize(o models.Order, to models.Status) (models.StatusChange, error)
}

type Owner struct{ ID int64 }

type Livreur struct{ ID int64 }

type Client struct{ ID int64 }

var (
	_ Principal = Owner{}
	_ Principal = Livreur{}
	_ Principal = Client{}
)

func FromActor(a models.Actor) (Principal, error) {
	switch a.Role {
	case models.RoleOwner:
		return Owner{ID: a.ID}, nil
	case models.RoleLivreur:
		return Livreur{ID: a.ID}, nil
	case models.RoleClient:
		return Client{ID: a.ID}, nil
	default:
		return nil, fmt.Errorf("actor %d has unknown role %q", a.ID, a.Role)
	}
}

func (o Owner) ActorID() int64 { return o.ID }

func (o Owner) Role() models.Role { return models.RoleOwner }

func (Owner) sees(models.Order) bool { return true }

func (o Owner) authorize(order models.Order, to models.Status) (models.StatusChange, error) {
	return models.StatusChange{From: order.Status, To: to}, nil
}

func (l Livreur) ActorID() int64 { return l.ID }

func (l Livreur) Role() models.Role { return models.RoleLivreur }

// sees covers the pool of pending unassigned orders plus everything assigned to l.
func (l Livreur) sees(o models.Order) bool {
	if o.AssignedTo(l.ID) {
		return true
	}
	return o.Status == models.StatusPending && o.Unassigned()
}

func (l Livreur) authorize(order models.Order, to models.Status) (models.StatusChange, error) {
	switch {
	case order.Status == models.StatusPending && to == models.StatusConfirmed:
		if !order.Unassigned() {
			current := order.Clone()
			return models.StatusChange{}, &apperr.ConflictError{Current: &current}
		}
		self := l.ID
		return models.StatusChange{
			From:              models.StatusPending,
			To:                models.StatusConfirmed,
			RequireUnassigned: true,
			AssignLivreur:     &self,
		}, nil
	case order.Status == models.StatusConfirmed && to == models.StatusDelivered:
		if !order.AssignedTo(l.ID) {
			return models.StatusChange{}, &apperr.AuthorizationError{Reason: "order is assigned to another livreur"}
		}
		self := l.ID
		return models.StatusChange{
			From:           models.StatusConfirmed,
			To:             models.StatusDelivered,
			RequireLivreur: &self,
		}, nil
	default:
		return models.StatusChange{}, &apperr.AuthorizationError{Reason: fmt.Sprintf("livreur cannot move an order to %s", to)}
	}
}

func (c Client) ActorID() int64 { return c.ID }

func (c Client) Role() models.Role { return models.RoleClient }

func (c Client) sees(o models.Order) bool {
	return o.PlacedBy(c.ID)
}

func (Client) authorize(models.Order, models.Status) (models.StatusChange, error) {
	return models.StatusChange{}, &apperr.AuthorizationError{Reason: "clients cannot change order status"}
}

// CanSee reports whether p may read o.
func CanSee(p Principal, o models.Order) bool {
	return p.sees(o)
}

// Visible filters orders down to what p may see, newest first. CreatedAt ties keep their
// insertion order. Orders repeated in the input appear once.
func Visible(p Principal, orders []models.Order) []models.Order {
	seen := make(map[string]struct{}, len(orders))
	out := make([]models.Order, 0, len(orders))
	for _, o := range orders {
		if _, dup := seen[o.ID]; dup {
			continue
		}
		if !p.sees(o) {
			continue
		}
		seen[o.ID] = struct{}{}
		out = append(out, o.Clone())
	}
	SortNewestFirst(out)
	return out
}

func SortNewestFirst(orders []models.Order) {
	sort.SliceStable(orders, func(i, j int) bool {
		if !orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].CreatedAt.After(orders[j].CreatedAt)
		}
		return orders[i].Seq < orders[j].Seq
	})
}

// Authorize decides whether p may move order to status to. A livreur accepting an order
// someone already claimed gets a ConflictError. Otherwise legality comes first: an edge that
// does not exist is an InvalidTransitionError for every role. The returned change carries
// the preconditions the store must re-check atomically.
func Authorize(p Principal, order models.Order, to models.Status) (models.StatusChange, error) {
	if _, ok := p.(Livreur); ok && staleAccept(order, to) {
		current := order.Clone()
		return models.StatusChange{}, &apperr.ConflictError{Current: &current}
	}
	if !order.Status.CanTransitionTo(to) {
		return models.StatusChange{}, &apperr.InvalidTransitionError{From: order.Status, To: to}
	}
	return p.authorize(order, to)
}

// staleAccept is an accept that arrives after another livreur already claimed the order.
func staleAccept(order models.Order, to models.Status) bool {
	return to == models.StatusConfirmed && order.Status != models.StatusPending && !order.Unassigned()
}
