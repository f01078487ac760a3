package cart

import (
	"errors"
	"fmt"

	"github.com/jogardn/creperie/pkg/models"
	"github.com/shopspring/decimal"
)

var ErrNegativePrice = errors.New("price must not be negative")

// ParsePrice reads a decimal price string such as "8.50" or "700".
func ParsePrice(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid price %q: %w", s, err)
	}
	if d.IsNegative() {
		return decimal.Zero, ErrNegativePrice
	}
	return d, nil
}

// FormatAmount renders an amount with two decimals.
func FormatAmount(d decimal.Decimal) string {
	return d.StringFixed(2)
}

// Subtotal sums an order item snapshot. Unlike Cart.TotalPrice it fails on a bad price,
// since the snapshot comes from the wire.
func Subtotal(items []models.OrderItem) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, item := range items {
		price, err := ParsePrice(item.Price)
		if err != nil {
			return decimal.Zero, fmt.Errorf("item %s: %w", item.MenuItemID, err)
		}
		total = total.Add(price.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	return total, nil
}
