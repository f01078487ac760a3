// Package store persists the catalog, orders, reservations and actors. Memory backs
// development and tests; Postgres backs production. Both return models by value so callers
// never share state with the store.
package store

import (
	"context"
	"time"

	"github.com/jogardn/creperie/pkg/models"
)

type CatalogStore interface {
	ListCategories(ctx context.Context) ([]models.Category, error)
	CreateCategory(ctx context.Context, c models.Category) (*models.Category, error)
	ListMenuItems(ctx context.Context) ([]models.MenuItem, error)
	GetMenuItem(ctx context.Context, id string) (*models.MenuItem, error)
	CreateMenuItem(ctx context.Context, item models.MenuItem) (*models.MenuItem, error)
	UpdateMenuItem(ctx context.Context, id string, patch models.MenuItemPatch) (*models.MenuItem, error)
}

type OrderStore interface {
	CreateOrder(ctx context.Context, o models.Order) (*models.Order, error)
	GetOrder(ctx context.Context, id string) (*models.Order, error)
	ListOrders(ctx context.Context) ([]models.Order, error)

	// CompareAndSetStatus applies change to order id in one atomic step and stamps
	// UpdatedAt with at. When the stored order no longer satisfies the change it is left
	// untouched and an *apperr.ConflictError carrying its current state is returned.
	CompareAndSetStatus(ctx context.Context, id string, change models.StatusChange, at time.Time) (*models.Order, error)
}

type ReservationStore interface {
	CreateReservation(ctx context.Context, r models.Reservation) (*models.Reservation, error)
	ListReservations(ctx context.Context) ([]models.Reservation, error)
}

// ActorStore keys actors by id and by lower-cased email.
type ActorStore interface {
	CreateActor(ctx context.Context, a models.Actor) (*models.Actor, error)
	GetActor(ctx context.Context, id int64) (*models.Actor, error)
	GetActorByEmail(ctx context.Context, email string) (*models.Actor, error)
	ListActors(ctx context.Context) ([]models.Actor, error)
	UpdateActor(ctx context.Context, id int64, update ActorUpdate) (*models.Actor, error)
}

// ActorUpdate changes the listed fields; nil fields are kept.
type ActorUpdate struct {
	Name   *string
	Role   *models.Role
	Active *bool
}

type Store interface {
	CatalogStore
	OrderStore
	ReservationStore
	ActorStore

	Ping(ctx context.Context) error
	Close() error
}
