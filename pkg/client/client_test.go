package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jogardn/creperie/internal/auth"
	"github.com/jogardn/creperie/internal/cart"
	"github.com/jogardn/creperie/internal/circuitbreaker"
	"github.com/jogardn/creperie/internal/config"
	"github.com/jogardn/creperie/internal/events"
	"github.com/jogardn/creperie/internal/live"
	"github.com/jogardn/creperie/internal/server"
	"github.com/jogardn/creperie/internal/store"
	"github.com/jogardn/creperie/internal/validation"
	"github.com/jogardn/creperie/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startServer(t *testing.T) (*httptest.Server, *live.Hub) {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	mem := store.NewMemory()
	require.NoError(t, store.Seed(ctx, mem))

	cfg := &config.Config{
		DeliveryFee: decimal.NewFromInt(200),
		SessionTTL:  time.Hour,
		PublicURL:   "https://creperie.test",
	}
	hub := live.NewHub(nil, logger)
	go hub.Run(ctx)

	authSvc := auth.NewService(mem, auth.NewMemorySessions(time.Hour), validation.New(), []string{"patron@creperie.test"}, logger)
	srv := server.New(server.Deps{
		Config:    cfg,
		Store:     mem,
		Breakers:  circuitbreaker.NewManager(logger),
		Auth:      authSvc,
		Hub:       hub,
		Publisher: hub,
		Logger:    logger,
	})

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, hub
}

func customer() models.CheckoutRequest {
	return models.CheckoutRequest{
		FirstName:       "Amel",
		LastName:        "Benali",
		Email:           "amel@example.com",
		Phone:           "0612345678",
		FulfillmentType: models.FulfillmentPickup,
	}
}

func dialFeed(t *testing.T, ts *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestKinderOrderLifecycle(t *testing.T) {
	ctx := context.Background()
	ts, hub := startServer(t)

	owner := New(ts.URL, nil, nil)
	_, err := owner.Register(ctx, "patron@creperie.test", "mot-de-passe", "Patron")
	require.NoError(t, err)

	livreur := New(ts.URL, nil, nil)
	courier, err := livreur.Register(ctx, "karim@creperie.test", "mot-de-passe", "Karim")
	require.NoError(t, err)
	role := string(models.RoleLivreur)
	_, err = owner.UpdateUser(ctx, courier.ID, models.ActorPatch{Role: &role})
	require.NoError(t, err)

	feed := dialFeed(t, ts, livreur.Token())
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	// Anonymous storefront checkout through the cart.
	guest := New(ts.URL, nil, nil)
	kinder, err := guest.GetMenuItem(ctx, "kinder-5")
	require.NoError(t, err)

	c := cart.New()
	c.AddItem(*kinder, 1)
	order, err := c.Checkout(ctx, guest, customer())
	require.NoError(t, err)
	assert.True(t, c.Empty())
	assert.Equal(t, "700.00", order.TotalAmount)
	assert.Equal(t, models.StatusPending, order.Status)

	require.NoError(t, feed.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg live.Message
	require.NoError(t, feed.ReadJSON(&msg))
	assert.Equal(t, events.OrderCreated, msg.Type)
	assert.Equal(t, order.ID, msg.Order.ID)

	accepted, err := livreur.UpdateStatus(ctx, order.ID, models.StatusConfirmed)
	require.NoError(t, err)
	require.NotNil(t, accepted.LivreurID)
	assert.Equal(t, courier.ID, *accepted.LivreurID)

	delivered, err := livreur.UpdateStatus(ctx, order.ID, models.StatusDelivered)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDelivered, delivered.Status)

	_, err = owner.UpdateStatus(ctx, order.ID, models.StatusPending)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
	require.NotNil(t, apiErr.Order)
	assert.Equal(t, models.StatusDelivered, apiErr.Order.Status)

	all, err := owner.ListOrders(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestFeedClosedWhenCourierChanges(t *testing.T) {
	ctx := context.Background()
	ts, hub := startServer(t)

	owner := New(ts.URL, nil, nil)
	_, err := owner.Register(ctx, "patron@creperie.test", "mot-de-passe", "Patron")
	require.NoError(t, err)

	livreur := New(ts.URL, nil, nil)
	courier, err := livreur.Register(ctx, "karim@creperie.test", "mot-de-passe", "Karim")
	require.NoError(t, err)
	role := string(models.RoleLivreur)
	_, err = owner.UpdateUser(ctx, courier.ID, models.ActorPatch{Role: &role})
	require.NoError(t, err)

	feed := dialFeed(t, ts, livreur.Token())
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	demoted := string(models.RoleClient)
	_, err = owner.UpdateUser(ctx, courier.ID, models.ActorPatch{Role: &demoted})
	require.NoError(t, err)

	require.NoError(t, feed.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = feed.ReadMessage()
	var closeErr *websocket.CloseError
	assert.ErrorAs(t, err, &closeErr)
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, time.Second, 10*time.Millisecond)

	// The same session reconnects, now under the client role.
	dialFeed(t, ts, livreur.Token())
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	inactive := false
	_, err = owner.UpdateUser(ctx, courier.ID, models.ActorPatch{Active: &inactive})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, time.Second, 10*time.Millisecond)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	header := http.Header{}
	header.Set("Authorization", "Bearer "+livreur.Token())
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	resp.Body.Close()
	assert.NotEqual(t, http.StatusSwitchingProtocols, resp.StatusCode)
}

func TestClientErrors(t *testing.T) {
	ctx := context.Background()
	ts, _ := startServer(t)

	amel := New(ts.URL, nil, nil)
	_, err := amel.Register(ctx, "amel@example.com", "mot-de-passe", "Amel")
	require.NoError(t, err)

	me, err := amel.Me(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.RoleClient, me.Role)

	_, err = amel.SubmitOrder(ctx, customer())
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Contains(t, apiErr.Fields, "items")

	_, err = amel.ListUsers(ctx)
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)

	require.NoError(t, amel.Logout(ctx))
	assert.Empty(t, amel.Token())
	_, err = amel.ListOrders(ctx)
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)

	_, err = amel.Login(ctx, "amel@example.com", "mot-de-passe")
	require.NoError(t, err)

	req := customer()
	req.Items = []models.OrderItem{{MenuItemID: "kinder-5", Name: "Crêpe Kinder 5", Price: "700", Quantity: 2}}
	order, err := amel.SubmitOrder(ctx, req)
	require.NoError(t, err)
	png, err := amel.OrderQRCode(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, "\x89PNG", string(png[:4]))

	reservation, err := amel.CreateReservation(ctx, models.Reservation{
		Name: "Amel", Email: "amel@example.com", Phone: "0612345678",
		Date: "2026-11-02", Time: "19:30", PartySize: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, "pending", reservation.Status)
}
