// Package live pushes order changes to connected dashboards over websockets. Each
// connection only receives orders its actor may see.
package live

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jogardn/creperie/internal/apperr"
	"github.com/jogardn/creperie/internal/auth"
	"github.com/jogardn/creperie/internal/events"
	"github.com/jogardn/creperie/internal/httpx"
	"github.com/jogardn/creperie/internal/roles"
	"github.com/jogardn/creperie/pkg/models"
	"github.com/sirupsen/logrus"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	sendBuffer = 64
)

// ErrBacklog means the hub could not take another event right now.
var ErrBacklog = errors.New("live hub backlog is full")

type Message struct {
	Type      events.EventType `json:"type"`
	Order     models.Order     `json:"order"`
	Timestamp string           `json:"timestamp"`
}

type client struct {
	conn      *websocket.Conn
	send      chan Message
	principal roles.Principal
	hub       *Hub
}

type Hub struct {
	clients    map[*client]struct{}
	broadcast  chan events.OrderEvent
	register   chan *client
	unregister chan *client
	done       chan struct{}
	mutex      sync.RWMutex
	upgrader   websocket.Upgrader
	logger     *logrus.Logger
}

// NewHub accepts websocket connections from allowedOrigins; "*" allows any origin.
func NewHub(allowedOrigins []string, logger *logrus.Logger) *Hub {
	h := &Hub{
		clients:    make(map[*client]struct{}),
		broadcast:  make(chan events.OrderEvent, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		logger:     logger,
	}
	h.upgrader = websocket.Upgrader{CheckOrigin: originChecker(allowedOrigins)}
	return h
}

func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if _, ok := set["*"]; ok {
			return true
		}
		if _, ok := set[origin]; ok {
			return true
		}
		u, err := url.Parse(origin)
		return err == nil && u.Host == r.Host
	}
}

// Run owns the client set until ctx is cancelled, then disconnects everyone.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mutex.Lock()
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
			}
			h.mutex.Unlock()
			return

		case c := <-h.register:
			h.mutex.Lock()
			h.clients[c] = struct{}{}
			count := len(h.clients)
			h.mutex.Unlock()
			h.logger.WithFields(logrus.Fields{
				"client_count": count,
				"actor_id":     c.principal.ActorID(),
				"role":         c.principal.Role(),
			}).Info("Client connected")

		case c := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			count := len(h.clients)
			h.mutex.Unlock()
			h.logger.WithField("client_count", count).Info("Client disconnected")

		case ev := <-h.broadcast:
			h.fanOut(ev)
		}
	}
}

func (h *Hub) fanOut(ev events.OrderEvent) {
	msg := Message{Type: ev.Type, Order: ev.Order, Timestamp: ev.EventTime.Format(time.RFC3339)}

	before, hasBefore := previousState(ev)

	h.mutex.Lock()
	defer h.mutex.Unlock()
	for c := range h.clients {
		// An order leaving someone's view is still news to them.
		visible := roles.CanSee(c.principal, ev.Order) || (hasBefore && roles.CanSee(c.principal, before))
		if !visible {
			continue
		}
		select {
		case c.send <- msg:
		default:
			// Too slow to keep up; it will full-fetch when it reconnects.
			delete(h.clients, c)
			close(c.send)
		}
	}
}

// previousState rebuilds the order as it was before an update. Pending orders are never
// assigned, so leaving pending also means the livreur was set by this change.
func previousState(ev events.OrderEvent) (models.Order, bool) {
	if ev.Type != events.OrderUpdated || ev.PreviousStatus == "" {
		return models.Order{}, false
	}
	before := ev.Order.Clone()
	before.Status = ev.PreviousStatus
	if before.Status == models.StatusPending {
		before.LivreurID = nil
	}
	return before, true
}

// Publish queues an event for every connected client that may see the order.
func (h *Hub) Publish(_ context.Context, event events.OrderEvent) error {
	select {
	case h.broadcast <- event:
		return nil
	default:
		h.logger.WithField("order_id", event.Order.ID).Warn("Broadcast channel full, dropping message")
		return ErrBacklog
	}
}

// HandleOrderEvent lets the hub sit behind the Kafka relay.
func (h *Hub) HandleOrderEvent(ctx context.Context, event events.OrderEvent) error {
	return h.Publish(ctx, event)
}

// ServeWS upgrades an authenticated request. It must run behind auth.RequireActor.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.PrincipalFrom(r.Context())
	if !ok {
		httpx.Fail(w, r, h.logger, apperr.ErrUnauthenticated)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Error("Failed to upgrade to WebSocket")
		return
	}

	c := &client{
		conn:      conn,
		send:      make(chan Message, sendBuffer),
		principal: p,
		hub:       h,
	}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

// Disconnect closes every connection held by actorID so it reconnects under its current
// role, or not at all once deactivated. It returns how many connections were closed.
func (h *Hub) Disconnect(actorID int64) int {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	closed := 0
	for c := range h.clients {
		if c.principal.ActorID() != actorID {
			continue
		}
		delete(h.clients, c)
		close(c.send)
		closed++
	}
	if closed > 0 {
		h.logger.WithFields(logrus.Fields{
			"actor_id":     actorID,
			"closed_count": closed,
			"client_count": len(h.clients),
		}).Info("Actor connections closed")
	}
	return closed
}

func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// readPump only watches for the peer going away; clients never send data.
func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.WithError(err).Error("WebSocket error")
			}
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			data, err := json.Marshal(msg)
			if err != nil {
				c.hub.logger.WithError(err).Error("Failed to marshal WebSocket message")
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
