package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jogardn/creperie/internal/auth"
	"github.com/jogardn/creperie/internal/circuitbreaker"
	"github.com/jogardn/creperie/internal/config"
	"github.com/jogardn/creperie/internal/live"
	"github.com/jogardn/creperie/internal/store"
	"github.com/jogardn/creperie/internal/validation"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const storefront = "http://localhost:5173"

type unreachableStore struct {
	store.Store
}

func (unreachableStore) Ping(context.Context) error { return errors.New("connection refused") }

type fixture struct {
	handler    http.Handler
	breakers   *circuitbreaker.Manager
	ownerToken string
}

func newFixture(t *testing.T, s store.Store) *fixture {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	cfg := &config.Config{
		DeliveryFee:       decimal.NewFromInt(200),
		SessionTTL:        time.Hour,
		SupabaseURL:       "https://abc.supabase.co",
		SupabaseAnonKey:   "anon-key",
		AllowedOrigins:    []string{storefront},
		PublicURL:         "https://creperie.test",
		FirebaseProjectID: "",
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	hub := live.NewHub(cfg.AllowedOrigins, logger)
	go hub.Run(ctx)

	authSvc := auth.NewService(s, auth.NewMemorySessions(time.Hour), validation.New(), []string{"patron@creperie.test"}, logger)
	_, token, err := authSvc.Register(context.Background(), auth.RegisterRequest{Email: "patron@creperie.test", Password: "mot-de-passe", Name: "Patron"})
	require.NoError(t, err)

	breakers := circuitbreaker.NewManager(logger)
	srv := New(Deps{
		Config:    cfg,
		Store:     s,
		Breakers:  breakers,
		Auth:      authSvc,
		Hub:       hub,
		Publisher: hub,
		Logger:    logger,
	})
	return &fixture{handler: srv.Handler(), breakers: breakers, ownerToken: token}
}

func (f *fixture) get(path string) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	return body
}

func TestHealth(t *testing.T) {
	f := newFixture(t, store.NewMemory())

	rr := f.get("/health")
	require.Equal(t, http.StatusOK, rr.Code)
	body := decode(t, rr)
	assert.Equal(t, "healthy", body["status"])
	assert.EqualValues(t, 0, body["live_clients"])
	assert.NotContains(t, body, "relay")

	breaker := f.breakers.GetOrCreate("postgres", circuitbreaker.Config{MaxFailures: 1, Timeout: time.Minute})
	_ = breaker.Execute(context.Background(), func(context.Context) error { return errors.New("boom") })

	body = decode(t, f.get("/health"))
	assert.Equal(t, "degraded", body["status"])
	breakers := body["circuit_breakers"].([]interface{})
	require.Len(t, breakers, 1)
	assert.Equal(t, "open", breakers[0].(map[string]interface{})["state"])
}

func TestHealthReportsUnreachableStore(t *testing.T) {
	f := newFixture(t, unreachableStore{Store: store.NewMemory()})

	rr := f.get("/health")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Equal(t, "unhealthy", decode(t, rr)["status"])
}

func TestResetBreakers(t *testing.T) {
	f := newFixture(t, store.NewMemory())
	breaker := f.breakers.GetOrCreate("firebase", circuitbreaker.Config{MaxFailures: 1, Timeout: time.Minute})
	_ = breaker.Execute(context.Background(), func(context.Context) error { return errors.New("boom") })
	require.Equal(t, circuitbreaker.StateOpen, breaker.State())

	req := httptest.NewRequest(http.MethodPost, "/api/admin/breakers/reset", nil)
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/admin/breakers/reset", nil)
	req.Header.Set("Authorization", "Bearer "+f.ownerToken)
	rr = httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, circuitbreaker.StateClosed, breaker.State())
}

func TestPublicConfig(t *testing.T) {
	f := newFixture(t, store.NewMemory())

	body := decode(t, f.get("/api/config"))
	assert.Equal(t, "https://abc.supabase.co", body["supabaseUrl"])
	assert.Equal(t, "anon-key", body["supabaseAnonKey"])
	assert.Equal(t, false, body["firebaseEnabled"])
}

func TestRoutesAreMounted(t *testing.T) {
	f := newFixture(t, store.NewMemory())

	assert.Equal(t, http.StatusOK, f.get("/api/menu-items").Code)
	assert.Equal(t, http.StatusOK, f.get("/api/categories").Code)
	assert.Equal(t, http.StatusUnauthorized, f.get("/api/orders").Code)
	assert.Equal(t, http.StatusUnauthorized, f.get("/api/reservations").Code)
	assert.Equal(t, http.StatusUnauthorized, f.get("/api/auth/me").Code)
	assert.Equal(t, http.StatusUnauthorized, f.get("/ws").Code)

	rr := f.get("/api/nothing-here")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, false, decode(t, rr)["success"])
}

func TestCORS(t *testing.T) {
	f := newFixture(t, store.NewMemory())

	preflight := func(origin string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodOptions, "/api/orders/abc", nil)
		req.Header.Set("Origin", origin)
		req.Header.Set("Access-Control-Request-Method", http.MethodPatch)
		req.Header.Set("Access-Control-Request-Headers", "content-type")
		rr := httptest.NewRecorder()
		f.handler.ServeHTTP(rr, req)
		return rr
	}

	rr := preflight(storefront)
	assert.Equal(t, storefront, rr.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rr.Header().Get("Access-Control-Allow-Credentials"))
	assert.True(t, strings.Contains(rr.Header().Get("Access-Control-Allow-Methods"), http.MethodPatch))

	rr = preflight("https://evil.example")
	assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))
}
