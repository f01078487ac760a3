package models

import (
	"regexp"
	"strings"
)

type Category struct {
	ID          string  `json:"id"`
	Name        string  `json:"name" validate:"required"`
	Description *string `json:"description"`
	Order       int     `json:"order"`
}

type MenuItem struct {
	ID          string  `json:"id"`
	Name        string  `json:"name" validate:"required"`
	Description string  `json:"description" validate:"required"`
	Price       string  `json:"price" validate:"required,decimal"`
	CategoryID  string  `json:"categoryId" validate:"required"`
	ImageURL    *string `json:"imageUrl"`
	Available   bool    `json:"available"`
	Popular     bool    `json:"popular"`
}

// MenuItemPatch carries a partial update; nil fields are left as they are.
type MenuItemPatch struct {
	Name        *string `json:"name,omitempty" validate:"omitempty,min=1"`
	Description *string `json:"description,omitempty"`
	Price       *string `json:"price,omitempty" validate:"omitempty,decimal"`
	CategoryID  *string `json:"categoryId,omitempty" validate:"omitempty,min=1"`
	ImageURL    *string `json:"imageUrl,omitempty"`
	Available   *bool   `json:"available,omitempty"`
	Popular     *bool   `json:"popular,omitempty"`
}

func (p MenuItemPatch) Apply(item *MenuItem) {
	if p.Name != nil {
		item.Name = *p.Name
	}
	if p.Description != nil {
		item.Description = *p.Description
	}
	if p.Price != nil {
		item.Price = *p.Price
	}
	if p.CategoryID != nil {
		item.CategoryID = *p.CategoryID
	}
	if p.ImageURL != nil {
		item.ImageURL = cloneString(p.ImageURL)
	}
	if p.Available != nil {
		item.Available = *p.Available
	}
	if p.Popular != nil {
		item.Popular = *p.Popular
	}
}

var whitespace = regexp.MustCompile(`\s+`)

// CategorySlug derives a category id from its display name.
func CategorySlug(name string) string {
	return whitespace.ReplaceAllString(strings.ToLower(strings.TrimSpace(name)), "-")
}
