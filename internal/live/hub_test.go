package live

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jogardn/creperie/internal/auth"
	"github.com/jogardn/creperie/internal/events"
	"github.com/jogardn/creperie/internal/roles"
	"github.com/jogardn/creperie/pkg/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

// startHub serves the hub with the principal picked by the "as" query parameter.
func startHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub([]string{"http://localhost:5173"}, quietLogger())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	principals := map[string]roles.Principal{
		"owner":    roles.Owner{ID: 1},
		"livreur1": roles.Livreur{ID: 10},
		"livreur2": roles.Livreur{ID: 11},
		"client":   roles.Client{ID: 20},
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if p, ok := principals[r.URL.Query().Get("as")]; ok {
			actor := &models.Actor{ID: p.ActorID(), Role: p.Role(), Active: true}
			r = r.WithContext(auth.WithActor(r.Context(), actor, p))
		}
		hub.ServeWS(w, r)
	}))
	t.Cleanup(srv.Close)
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server, as string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?as=" + as
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func read(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func ptr(i int64) *int64 { return &i }

func TestHubFiltersByVisibility(t *testing.T) {
	hub, srv := startHub(t)

	owner := dial(t, srv, "owner")
	l1 := dial(t, srv, "livreur1")
	l2 := dial(t, srv, "livreur2")
	client := dial(t, srv, "client")
	require.Eventually(t, func() bool { return hub.ClientCount() == 4 }, 2*time.Second, 10*time.Millisecond)

	ctx := context.Background()
	pool := models.Order{ID: "pool", Status: models.StatusPending, UserID: ptr(20)}
	require.NoError(t, hub.Publish(ctx, events.NewOrderCreated(pool)))

	claimed := models.Order{ID: "pool", Status: models.StatusConfirmed, LivreurID: ptr(10), UserID: ptr(20)}
	require.NoError(t, hub.Publish(ctx, events.NewOrderUpdated(claimed, models.StatusPending)))

	anonymous := models.Order{ID: "anon", Status: models.StatusPending}
	require.NoError(t, hub.Publish(ctx, events.NewOrderCreated(anonymous)))

	refused := models.Order{ID: "anon", Status: models.StatusRefused}
	require.NoError(t, hub.Publish(ctx, events.NewOrderUpdated(refused, models.StatusPending)))

	delivered := models.Order{ID: "pool", Status: models.StatusDelivered, LivreurID: ptr(10), UserID: ptr(20)}
	require.NoError(t, hub.Publish(ctx, events.NewOrderUpdated(delivered, models.StatusConfirmed)))

	for _, conn := range []*websocket.Conn{owner, l1, l2, client} {
		msg := read(t, conn)
		assert.Equal(t, events.OrderCreated, msg.Type)
		assert.Equal(t, "pool", msg.Order.ID)
	}

	// livreur2 is told the pool order was claimed so it can drop it.
	for _, conn := range []*websocket.Conn{owner, l1, l2, client} {
		msg := read(t, conn)
		assert.Equal(t, events.OrderUpdated, msg.Type)
		assert.Equal(t, models.StatusConfirmed, msg.Order.Status)
	}

	for _, conn := range []*websocket.Conn{owner, l1, l2} {
		assert.Equal(t, "anon", read(t, conn).Order.ID)
	}

	// Refusing a pool order reaches every livreur that had it in the pool.
	for _, conn := range []*websocket.Conn{owner, l1, l2} {
		msg := read(t, conn)
		assert.Equal(t, "anon", msg.Order.ID)
		assert.Equal(t, models.StatusRefused, msg.Order.Status)
	}

	for _, conn := range []*websocket.Conn{owner, l1, client} {
		msg := read(t, conn)
		assert.Equal(t, "pool", msg.Order.ID)
		assert.Equal(t, models.StatusDelivered, msg.Order.Status)
	}

	// The client never receives the anonymous order, and livreur2 has nothing more
	// to hear about an order assigned to someone else.
	for _, conn := range []*websocket.Conn{client, l2} {
		conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		_, _, err := conn.ReadMessage()
		assert.Error(t, err)
	}
}

func TestPreviousState(t *testing.T) {
	tests := []struct {
		name       string
		event      events.OrderEvent
		wantOK     bool
		wantStatus models.Status
		wantAssign bool
	}{
		{
			name:   "created",
			event:  events.NewOrderCreated(models.Order{ID: "o", Status: models.StatusPending}),
			wantOK: false,
		},
		{
			name:       "accept_clears_livreur",
			event:      events.NewOrderUpdated(models.Order{ID: "o", Status: models.StatusConfirmed, LivreurID: ptr(10)}, models.StatusPending),
			wantOK:     true,
			wantStatus: models.StatusPending,
			wantAssign: false,
		},
		{
			name:       "deliver_keeps_livreur",
			event:      events.NewOrderUpdated(models.Order{ID: "o", Status: models.StatusDelivered, LivreurID: ptr(10)}, models.StatusConfirmed),
			wantOK:     true,
			wantStatus: models.StatusConfirmed,
			wantAssign: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			before, ok := previousState(tc.event)
			require.Equal(t, tc.wantOK, ok)
			if !ok {
				return
			}
			assert.Equal(t, tc.wantStatus, before.Status)
			assert.Equal(t, tc.wantAssign, before.LivreurID != nil)
			assert.NotNil(t, tc.event.Order.LivreurID, "event order is not modified")
		})
	}
}

func TestHubDisconnectClosesOnlyThatActor(t *testing.T) {
	hub, srv := startHub(t)

	first := dial(t, srv, "livreur1")
	second := dial(t, srv, "livreur1")
	owner := dial(t, srv, "owner")
	require.Eventually(t, func() bool { return hub.ClientCount() == 3 }, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, 2, hub.Disconnect(10))
	assert.Equal(t, 0, hub.Disconnect(10))
	assert.Equal(t, 1, hub.ClientCount())

	for _, conn := range []*websocket.Conn{first, second} {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, _, err := conn.ReadMessage()
		var closeErr *websocket.CloseError
		assert.ErrorAs(t, err, &closeErr)
	}

	require.NoError(t, hub.Publish(context.Background(), events.NewOrderCreated(models.Order{ID: "o", Status: models.StatusPending})))
	assert.Equal(t, "o", read(t, owner).Order.ID)
}

func TestHubRequiresPrincipal(t *testing.T) {
	_, srv := startHub(t)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHubUnregistersOnClose(t *testing.T) {
	hub, srv := startHub(t)

	conn := dial(t, srv, "owner")
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"http://localhost:5173"})

	req := httptest.NewRequest(http.MethodGet, "http://api.creperie.test/ws", nil)
	assert.True(t, check(req), "no origin header")

	req.Header.Set("Origin", "http://localhost:5173")
	assert.True(t, check(req))

	req.Header.Set("Origin", "http://api.creperie.test")
	assert.True(t, check(req), "same host")

	req.Header.Set("Origin", "https://evil.example.com")
	assert.False(t, check(req))

	assert.True(t, originChecker([]string{"*"})(req))
}
