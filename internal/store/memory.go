package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jogardn/creperie/internal/apperr"
	"github.com/jogardn/creperie/pkg/models"
)

// Memory is an in-process Store. Every method holds one lock for its whole read or write,
// which is what makes CompareAndSetStatus atomic.
type Memory struct {
	mu sync.RWMutex

	categories   map[string]models.Category
	items        map[string]models.MenuItem
	itemOrder    []string
	orders       map[string]models.Order
	orderSeq     int64
	reservations []models.Reservation
	actors       map[int64]models.Actor
	actorSeq     int64

	now func() time.Time
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		categories: make(map[string]models.Category),
		items:      make(map[string]models.MenuItem),
		orders:     make(map[string]models.Order),
		actors:     make(map[int64]models.Actor),
		now:        time.Now,
	}
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() error { return nil }

func (m *Memory) ListCategories(context.Context) ([]models.Category, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.Category, 0, len(m.categories))
	for _, c := range m.categories {
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Order != out[j].Order {
			return out[i].Order < out[j].Order
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) CreateCategory(_ context.Context, c models.Category) (*models.Category, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c.ID == "" {
		c.ID = models.CategorySlug(c.Name)
	}
	if _, exists := m.categories[c.ID]; exists {
		return nil, fmt.Errorf("category %s: %w", c.ID, apperr.ErrAlreadyExists)
	}
	m.categories[c.ID] = c
	return &c, nil
}

func (m *Memory) ListMenuItems(context.Context) ([]models.MenuItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.MenuItem, 0, len(m.itemOrder))
	for _, id := range m.itemOrder {
		out = append(out, cloneItem(m.items[id]))
	}
	return out, nil
}

func (m *Memory) GetMenuItem(_ context.Context, id string) (*models.MenuItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	item, ok := m.items[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	item = cloneItem(item)
	return &item, nil
}

func (m *Memory) CreateMenuItem(_ context.Context, item models.MenuItem) (*models.MenuItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.categories[item.CategoryID]; !ok {
		return nil, apperr.NewValidationError("categoryId", "unknown category")
	}
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	if _, exists := m.items[item.ID]; exists {
		return nil, fmt.Errorf("menu item %s: %w", item.ID, apperr.ErrAlreadyExists)
	}
	item = cloneItem(item)
	m.items[item.ID] = item
	m.itemOrder = append(m.itemOrder, item.ID)

	out := cloneItem(item)
	return &out, nil
}

func (m *Memory) UpdateMenuItem(_ context.Context, id string, patch models.MenuItemPatch) (*models.MenuItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.items[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	if patch.CategoryID != nil {
		if _, ok := m.categories[*patch.CategoryID]; !ok {
			return nil, apperr.NewValidationError("categoryId", "unknown category")
		}
	}
	patch.Apply(&item)
	m.items[id] = item

	out := cloneItem(item)
	return &out, nil
}

func (m *Memory) CreateOrder(_ context.Context, o models.Order) (*models.Order, error) {
	if o.ID == "" {
		return nil, apperr.Persistence("create order", fmt.Errorf("order id is empty"))
	}
	if !o.Status.Valid() {
		return nil, apperr.Persistence("create order", fmt.Errorf("unknown status %q", o.Status))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.orders[o.ID]; exists {
		return nil, fmt.Errorf("order %s: %w", o.ID, apperr.ErrAlreadyExists)
	}
	m.orderSeq++
	o = o.Clone()
	o.Seq = m.orderSeq
	m.orders[o.ID] = o

	out := o.Clone()
	return &out, nil
}

func (m *Memory) GetOrder(_ context.Context, id string) (*models.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	o, ok := m.orders[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	out := o.Clone()
	return &out, nil
}

// ListOrders returns every order in insertion order.
func (m *Memory) ListOrders(context.Context) ([]models.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.Order, 0, len(m.orders))
	for _, o := range m.orders {
		out = append(out, o.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (m *Memory) CompareAndSetStatus(_ context.Context, id string, change models.StatusChange, at time.Time) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	if !change.Satisfied(o) {
		current := o.Clone()
		return nil, &apperr.ConflictError{Current: &current}
	}

	o.Status = change.To
	if change.AssignLivreur != nil {
		livreur := *change.AssignLivreur
		o.LivreurID = &livreur
	}
	o.UpdatedAt = at
	m.orders[id] = o

	out := o.Clone()
	return &out, nil
}

func (m *Memory) CreateReservation(_ context.Context, r models.Reservation) (*models.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = m.now()
	}
	r.SpecialRequests = cloneString(r.SpecialRequests)
	m.reservations = append(m.reservations, r)
	return &r, nil
}

// ListReservations returns reservations newest first.
func (m *Memory) ListReservations(context.Context) ([]models.Reservation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.Reservation, len(m.reservations))
	for i, r := range m.reservations {
		r.SpecialRequests = cloneString(r.SpecialRequests)
		out[len(out)-1-i] = r
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) CreateActor(_ context.Context, a models.Actor) (*models.Actor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a.Email = strings.ToLower(a.Email)
	for _, existing := range m.actors {
		if existing.Email == a.Email {
			return nil, apperr.ErrEmailTaken
		}
	}
	m.actorSeq++
	a.ID = m.actorSeq
	if a.CreatedAt.IsZero() {
		a.CreatedAt = m.now()
	}
	a.Phone = cloneString(a.Phone)
	m.actors[a.ID] = a

	out := cloneActor(a)
	return &out, nil
}

func (m *Memory) GetActor(_ context.Context, id int64) (*models.Actor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.actors[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	out := cloneActor(a)
	return &out, nil
}

func (m *Memory) GetActorByEmail(_ context.Context, email string) (*models.Actor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	email = strings.ToLower(email)
	for _, a := range m.actors {
		if a.Email == email {
			out := cloneActor(a)
			return &out, nil
		}
	}
	return nil, apperr.ErrNotFound
}

func (m *Memory) ListActors(context.Context) ([]models.Actor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.Actor, 0, len(m.actors))
	for _, a := range m.actors {
		out = append(out, cloneActor(a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) UpdateActor(_ context.Context, id int64, update ActorUpdate) (*models.Actor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.actors[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	if update.Name != nil {
		a.Name = *update.Name
	}
	if update.Role != nil {
		a.Role = *update.Role
	}
	if update.Active != nil {
		a.Active = *update.Active
	}
	m.actors[id] = a

	out := cloneActor(a)
	return &out, nil
}

func cloneItem(item models.MenuItem) models.MenuItem {
	item.ImageURL = cloneString(item.ImageURL)
	return item
}

func cloneActor(a models.Actor) models.Actor {
	a.Phone = cloneString(a.Phone)
	return a
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
