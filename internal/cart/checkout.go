package cart

import (
	"context"
	"errors"

	"github.com/jogardn/creperie/pkg/models"
)

var ErrEmptyCart = errors.New("cart is empty")

// Submitter sends a checkout to the order API.
type Submitter interface {
	SubmitOrder(ctx context.Context, req models.CheckoutRequest) (*models.Order, error)
}

// Checkout submits the cart with the customer details in req. The cart is cleared only
// after the submitter reports success, so a failed submission can be retried as is.
func (c *Cart) Checkout(ctx context.Context, submitter Submitter, req models.CheckoutRequest) (*models.Order, error) {
	if c.Empty() {
		return nil, ErrEmptyCart
	}
	req.Items = c.Snapshot()

	order, err := submitter.SubmitOrder(ctx, req)
	if err != nil {
		return nil, err
	}
	c.Clear()
	return order, nil
}
