package store

import (
	"context"
	"fmt"

	"github.com/jogardn/creperie/pkg/models"
)

func strPtr(s string) *string { return &s }

var seedCategories = []models.Category{
	{ID: "sweet", Name: "Sweet Crêpes", Description: strPtr("Delicious sweet crêpes perfect for dessert or a special treat"), Order: 1},
	{ID: "savory", Name: "Savory Crêpes", Description: strPtr("Hearty savory crêpes ideal for lunch or dinner"), Order: 2},
}

var seedItems = []models.MenuItem{
	{ID: "kinder-5", Name: "Crêpe Kinder 5", Description: "Our signature Kinder crêpe, filled with rich chocolate and topped with a Kinder treat", Price: "700", CategoryID: "sweet", Available: true, Popular: true},
	{Name: "Classic Nutella", Description: "Rich Nutella chocolate spread with sliced bananas and toasted hazelnuts", Price: "8.50", CategoryID: "sweet", Available: true, Popular: true},
	{Name: "Strawberry Dream", Description: "Fresh strawberries, whipped cream, and a dusting of powdered sugar", Price: "9.00", CategoryID: "sweet", Available: true, Popular: true},
	{Name: "Lemon Sugar", Description: "Traditional crêpe with fresh lemon juice and fine sugar", Price: "7.00", CategoryID: "sweet", Available: true},
	{Name: "Salted Caramel", Description: "Homemade salted caramel sauce with vanilla ice cream", Price: "9.50", CategoryID: "sweet", Available: true},
	{Name: "Ham & Cheese", Description: "Premium French ham with melted Gruyère cheese and fresh herbs", Price: "10.50", CategoryID: "savory", Available: true, Popular: true},
	{Name: "Complete", Description: "Ham, cheese, and a sunny-side-up egg", Price: "12.00", CategoryID: "savory", Available: true, Popular: true},
	{Name: "Mushroom & Spinach", Description: "Sautéed mushrooms, fresh spinach, and creamy béchamel sauce", Price: "11.00", CategoryID: "savory", Available: true},
	{Name: "Smoked Salmon", Description: "Norwegian smoked salmon, cream cheese, capers, and red onion", Price: "13.50", CategoryID: "savory", Available: true},
}

// Seed fills an empty catalog with the house menu. A catalog that already has categories
// is left alone.
func Seed(ctx context.Context, s CatalogStore) error {
	existing, err := s.ListCategories(ctx)
	if err != nil {
		return fmt.Errorf("seed: %w", err)
	}
	if len(existing) > 0 {
		return nil
	}

	for _, c := range seedCategories {
		if _, err := s.CreateCategory(ctx, c); err != nil {
			return fmt.Errorf("seed category %s: %w", c.ID, err)
		}
	}
	for _, item := range seedItems {
		if _, err := s.CreateMenuItem(ctx, item); err != nil {
			return fmt.Errorf("seed menu item %q: %w", item.Name, err)
		}
	}
	return nil
}
