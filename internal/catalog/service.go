// Package catalog serves the menu: categories and the items in them. Items are never
// deleted; marking one unavailable takes it off the storefront.
package catalog

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/jogardn/creperie/internal/cart"
	"github.com/jogardn/creperie/internal/store"
	"github.com/jogardn/creperie/internal/validation"
	"github.com/jogardn/creperie/pkg/models"
	"github.com/sirupsen/logrus"
)

type Service struct {
	store     store.CatalogStore
	validator *validation.Validator
	logger    *logrus.Logger
}

func NewService(s store.CatalogStore, v *validation.Validator, logger *logrus.Logger) *Service {
	return &Service{store: s, validator: v, logger: logger}
}

func (s *Service) ListCategories(ctx context.Context) ([]models.Category, error) {
	return s.store.ListCategories(ctx)
}

// CreateCategory derives the id from the name, so "Sweet Crêpes" becomes "sweet-crêpes".
func (s *Service) CreateCategory(ctx context.Context, in models.Category) (*models.Category, error) {
	in.Name = strings.TrimSpace(in.Name)
	if err := s.validator.Struct(in); err != nil {
		return nil, err
	}
	in.ID = models.CategorySlug(in.Name)

	created, err := s.store.CreateCategory(ctx, in)
	if err != nil {
		return nil, err
	}
	s.logger.WithField("category_id", created.ID).Info("Category created")
	return created, nil
}

func (s *Service) ListMenuItems(ctx context.Context) ([]models.MenuItem, error) {
	return s.store.ListMenuItems(ctx)
}

func (s *Service) GetMenuItem(ctx context.Context, id string) (*models.MenuItem, error) {
	return s.store.GetMenuItem(ctx, id)
}

func (s *Service) CreateMenuItem(ctx context.Context, in models.MenuItem) (*models.MenuItem, error) {
	if err := s.validator.Struct(in); err != nil {
		return nil, err
	}
	in.ID = uuid.New().String()
	in.Price = normalizePrice(in.Price)

	created, err := s.store.CreateMenuItem(ctx, in)
	if err != nil {
		return nil, err
	}
	s.logger.WithFields(logrus.Fields{
		"menu_item_id": created.ID,
		"category_id":  created.CategoryID,
		"price":        created.Price,
	}).Info("Menu item created")
	return created, nil
}

func (s *Service) UpdateMenuItem(ctx context.Context, id string, patch models.MenuItemPatch) (*models.MenuItem, error) {
	if err := s.validator.Struct(patch); err != nil {
		return nil, err
	}
	if patch.Price != nil {
		p := normalizePrice(*patch.Price)
		patch.Price = &p
	}

	updated, err := s.store.UpdateMenuItem(ctx, id, patch)
	if err != nil {
		return nil, err
	}
	s.logger.WithFields(logrus.Fields{
		"menu_item_id": id,
		"available":    updated.Available,
	}).Info("Menu item updated")
	return updated, nil
}

// normalizePrice renders "0700" as "700" and "8.5" as "8.50". Prices with more than two
// decimals are kept exact.
func normalizePrice(s string) string {
	d, err := cart.ParsePrice(strings.TrimSpace(s))
	if err != nil {
		return s
	}
	if d.IsInteger() || !d.Equal(d.Round(2)) {
		return d.String()
	}
	return cart.FormatAmount(d)
}
