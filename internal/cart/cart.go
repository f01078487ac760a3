// Package cart is the storefront cart: an ordered list of menu item lines owned by one
// browsing session. It is not safe for concurrent use; a session mutates it from a single
// goroutine and totals are derived on every read.
package cart

import (
	"encoding/json"
	"fmt"

	"github.com/jogardn/creperie/pkg/models"
	"github.com/shopspring/decimal"
)

type Line struct {
	Item     models.MenuItem `json:"item"`
	Quantity int             `json:"quantity"`
}

type Cart struct {
	lines []Line
}

func New() *Cart {
	return &Cart{}
}

// AddItem merges quantity into the line for item.ID, appending a new line when absent.
// A quantity below one counts as one.
func (c *Cart) AddItem(item models.MenuItem, quantity int) {
	if quantity < 1 {
		quantity = 1
	}
	if i := c.index(item.ID); i >= 0 {
		c.lines[i].Quantity += quantity
		return
	}
	c.lines = append(c.lines, Line{Item: item, Quantity: quantity})
}

// UpdateQuantity sets the quantity of a line. Zero or less removes the line.
func (c *Cart) UpdateQuantity(itemID string, quantity int) {
	i := c.index(itemID)
	if i < 0 {
		return
	}
	if quantity <= 0 {
		c.removeAt(i)
		return
	}
	c.lines[i].Quantity = quantity
}

func (c *Cart) RemoveItem(itemID string) {
	if i := c.index(itemID); i >= 0 {
		c.removeAt(i)
	}
}

func (c *Cart) Clear() {
	c.lines = nil
}

func (c *Cart) Empty() bool {
	return len(c.lines) == 0
}

func (c *Cart) Lines() []Line {
	return append([]Line(nil), c.lines...)
}

func (c *Cart) TotalItems() int {
	total := 0
	for _, l := range c.lines {
		total += l.Quantity
	}
	return total
}

// TotalPrice is the exact sum of price x quantity over the current lines. Lines whose
// price does not parse contribute nothing; the catalog rejects such prices on write.
func (c *Cart) TotalPrice() decimal.Decimal {
	total := decimal.Zero
	for _, l := range c.lines {
		price, err := ParsePrice(l.Item.Price)
		if err != nil {
			continue
		}
		total = total.Add(price.Mul(decimal.NewFromInt(int64(l.Quantity))))
	}
	return total
}

// Snapshot copies the lines into order items as they are right now.
func (c *Cart) Snapshot() []models.OrderItem {
	items := make([]models.OrderItem, 0, len(c.lines))
	for _, l := range c.lines {
		items = append(items, models.OrderItem{
			MenuItemID: l.Item.ID,
			Name:       l.Item.Name,
			Price:      l.Item.Price,
			Quantity:   l.Quantity,
		})
	}
	return items
}

func (c *Cart) MarshalJSON() ([]byte, error) {
	lines := c.lines
	if lines == nil {
		lines = []Line{}
	}
	return json.Marshal(lines)
}

// UnmarshalJSON restores a cart saved by MarshalJSON. Lines below the quantity floor are
// dropped and duplicate item ids are merged.
func (c *Cart) UnmarshalJSON(data []byte) error {
	var lines []Line
	if err := json.Unmarshal(data, &lines); err != nil {
		return fmt.Errorf("decode cart: %w", err)
	}
	c.lines = nil
	for _, l := range lines {
		if l.Quantity < 1 {
			continue
		}
		c.AddItem(l.Item, l.Quantity)
	}
	return nil
}

func (c *Cart) index(itemID string) int {
	for i, l := range c.lines {
		if l.Item.ID == itemID {
			return i
		}
	}
	return -1
}

func (c *Cart) removeAt(i int) {
	c.lines = append(c.lines[:i], c.lines[i+1:]...)
}
