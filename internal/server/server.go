// Package server assembles the HTTP surface: every feature handler behind one mux router
// with logging, panic recovery and CORS.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/jogardn/creperie/internal/auth"
	"github.com/jogardn/creperie/internal/catalog"
	"github.com/jogardn/creperie/internal/circuitbreaker"
	"github.com/jogardn/creperie/internal/config"
	"github.com/jogardn/creperie/internal/events"
	"github.com/jogardn/creperie/internal/httpx"
	"github.com/jogardn/creperie/internal/live"
	"github.com/jogardn/creperie/internal/orders"
	"github.com/jogardn/creperie/internal/reservations"
	"github.com/jogardn/creperie/internal/store"
	"github.com/jogardn/creperie/internal/validation"
	"github.com/jogardn/creperie/pkg/models"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"
)

const healthTimeout = 2 * time.Second

// RelayMetrics is implemented by the Kafka relay consumer.
type RelayMetrics interface {
	Metrics() events.ConsumerMetrics
}

type Deps struct {
	Config    *config.Config
	Store     store.Store
	Breakers  *circuitbreaker.Manager
	Auth      *auth.Service
	Hub       *live.Hub
	Publisher events.Publisher
	// Relay is nil when Kafka is off.
	Relay  RelayMetrics
	Logger *logrus.Logger
}

type Server struct {
	deps   Deps
	mw     *auth.Middleware
	router *mux.Router
}

func New(deps Deps) *Server {
	logger := deps.Logger
	v := validation.New()
	mw := auth.NewMiddleware(deps.Auth, logger)

	s := &Server{deps: deps, mw: mw, router: mux.NewRouter()}
	r := s.router
	r.Use(httpx.RecoveryMiddleware(logger))
	r.Use(httpx.LoggingMiddleware(logger))

	r.HandleFunc("/health", s.Health).Methods(http.MethodGet)
	r.HandleFunc("/api/config", s.PublicConfig).Methods(http.MethodGet)
	r.Handle("/api/admin/breakers/reset",
		mw.RequireActor(auth.RequireRole(logger, models.RoleOwner)(http.HandlerFunc(s.ResetBreakers))),
	).Methods(http.MethodPost)
	r.Handle("/ws", mw.RequireActor(http.HandlerFunc(deps.Hub.ServeWS))).Methods(http.MethodGet)
	deps.Auth.OnActorChanged(func(a models.Actor) { deps.Hub.Disconnect(a.ID) })

	cfg := deps.Config
	auth.NewHandler(deps.Auth, mw, cfg.SessionTTL, cfg.CookieSecure, logger).RegisterRoutes(r)
	catalog.NewHandler(catalog.NewService(deps.Store, v, logger), mw, logger).RegisterRoutes(r)
	orderService := orders.NewService(deps.Store, v, cfg.DeliveryFee, deps.Publisher, logger)
	orders.NewHandler(orderService, mw, cfg.PublicURL, logger).RegisterRoutes(r)
	reservations.NewHandler(reservations.NewService(deps.Store, v, logger), mw, logger).RegisterRoutes(r)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpx.RespondWithError(w, http.StatusNotFound, "Route not found")
	})

	return s
}

// Handler wraps the router with CORS. Credentials are allowed so the session cookie
// reaches the API from the storefront origin.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   s.deps.Config.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	})
	return c.Handler(s.router)
}

func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	body := map[string]interface{}{
		"service":          "creperie",
		"circuit_breakers": s.deps.Breakers.Snapshots(),
		"live_clients":     s.deps.Hub.ClientCount(),
	}
	if s.deps.Relay != nil {
		body["relay"] = s.deps.Relay.Metrics()
	}

	if err := s.deps.Store.Ping(ctx); err != nil {
		s.deps.Logger.WithError(err).Warn("Health check failed")
		body["status"] = "unhealthy"
		body["error"] = "database connection failed"
		httpx.RespondWithJSON(w, http.StatusServiceUnavailable, body)
		return
	}

	body["status"] = "healthy"
	if !s.deps.Breakers.Healthy() {
		body["status"] = "degraded"
	}
	httpx.RespondWithJSON(w, http.StatusOK, body)
}

// PublicConfig exposes the settings the browser needs to start a Supabase sign-in.
func (s *Server) PublicConfig(w http.ResponseWriter, r *http.Request) {
	httpx.RespondWithJSON(w, http.StatusOK, map[string]interface{}{
		"success":         true,
		"supabaseUrl":     s.deps.Config.SupabaseURL,
		"supabaseAnonKey": s.deps.Config.SupabaseAnonKey,
		"firebaseEnabled": s.deps.Config.FirebaseProjectID != "",
	})
}

func (s *Server) ResetBreakers(w http.ResponseWriter, r *http.Request) {
	s.deps.Breakers.ResetAll()
	s.deps.Logger.Info("Circuit breakers reset")
	httpx.RespondWithJSON(w, http.StatusOK, map[string]interface{}{
		"success":          true,
		"circuit_breakers": s.deps.Breakers.Snapshots(),
	})
}
