package validation

import (
	"strings"
	"testing"

	"github.com/jogardn/creperie/internal/apperr"
	"github.com/jogardn/creperie/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validCheckout() models.CheckoutRequest {
	return models.CheckoutRequest{
		FirstName:       "Amel",
		LastName:        "Haddad",
		Email:           "amel@example.com",
		Phone:           "0550123456",
		FulfillmentType: models.FulfillmentPickup,
		Items: []models.OrderItem{
			{MenuItemID: "kinder-5", Name: "Crêpe Kinder 5", Price: "700", Quantity: 1},
		},
	}
}

func TestCheckoutValid(t *testing.T) {
	assert.NoError(t, New().Struct(validCheckout()))
}

func TestCheckoutFieldErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*models.CheckoutRequest)
		field  string
	}{
		{"short_first_name", func(r *models.CheckoutRequest) { r.FirstName = "A" }, "firstName"},
		{"missing_last_name", func(r *models.CheckoutRequest) { r.LastName = "" }, "lastName"},
		{"bad_email", func(r *models.CheckoutRequest) { r.Email = "not-an-email" }, "email"},
		{"short_phone", func(r *models.CheckoutRequest) { r.Phone = "0550" }, "phone"},
		{"long_phone", func(r *models.CheckoutRequest) { r.Phone = strings.Repeat("0", 40) }, "phone"},
		{"long_last_name", func(r *models.CheckoutRequest) { r.LastName = strings.Repeat("b", 127) }, "lastName"},
		{"long_email", func(r *models.CheckoutRequest) { r.Email = strings.Repeat("a", 320) + "@example.com" }, "email"},
		{"unknown_fulfillment", func(r *models.CheckoutRequest) { r.FulfillmentType = "drone" }, "orderType"},
		{"delivery_without_address", func(r *models.CheckoutRequest) { r.FulfillmentType = models.FulfillmentDelivery }, "deliveryAddress"},
		{"no_items", func(r *models.CheckoutRequest) { r.Items = nil }, "items"},
		{"zero_quantity", func(r *models.CheckoutRequest) { r.Items[0].Quantity = 0 }, "items[0].quantity"},
		{"bad_price", func(r *models.CheckoutRequest) { r.Items[0].Price = "seven" }, "items[0].price"},
		{"negative_price", func(r *models.CheckoutRequest) { r.Items[0].Price = "-1" }, "items[0].price"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := validCheckout()
			tc.mutate(&req)

			err := New().Struct(req)

			var verr *apperr.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Contains(t, verr.Fields, tc.field)
			assert.Len(t, verr.Fields, 1)
		})
	}
}

func TestDeliveryWithAddressIsValid(t *testing.T) {
	req := validCheckout()
	req.FulfillmentType = models.FulfillmentDelivery
	req.DeliveryAddress = "12 rue Didouche Mourad, Alger"
	assert.NoError(t, New().Struct(req))
}

func TestReportsEveryField(t *testing.T) {
	err := New().Struct(models.CheckoutRequest{})

	var verr *apperr.ValidationError
	require.ErrorAs(t, err, &verr)
	for _, field := range []string{"firstName", "lastName", "email", "phone", "orderType", "items"} {
		assert.Contains(t, verr.Fields, field)
	}
	assert.Equal(t, "is required", verr.Fields["email"])
}

func TestReservationRules(t *testing.T) {
	r := models.Reservation{
		Name:      "Yacine",
		Email:     "yacine@example.com",
		Phone:     "0661987654",
		Date:      "2026-11-02",
		Time:      "19:30",
		PartySize: 4,
	}
	require.NoError(t, New().Struct(r))

	r.PartySize = 21
	r.Time = "7pm"
	err := New().Struct(r)

	var verr *apperr.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "must be at most 20", verr.Fields["partySize"])
	assert.Equal(t, "must match the format 15:04", verr.Fields["time"])
}
