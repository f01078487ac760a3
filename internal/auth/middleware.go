package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/jogardn/creperie/internal/apperr"
	"github.com/jogardn/creperie/internal/httpx"
	"github.com/jogardn/creperie/internal/roles"
	"github.com/jogardn/creperie/pkg/models"
	"github.com/sirupsen/logrus"
)

const SessionCookie = "sid"

type ctxKey int

const (
	actorKey ctxKey = iota
	principalKey
)

// TokenFromRequest reads the session token from the sid cookie, falling back to an
// Authorization bearer header for API clients.
func TokenFromRequest(r *http.Request) string {
	if c, err := r.Cookie(SessionCookie); err == nil && c.Value != "" {
		return c.Value
	}
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return ""
}

func WithActor(ctx context.Context, actor *models.Actor, p roles.Principal) context.Context {
	ctx = context.WithValue(ctx, actorKey, actor)
	return context.WithValue(ctx, principalKey, p)
}

func ActorFrom(ctx context.Context) (*models.Actor, bool) {
	a, ok := ctx.Value(actorKey).(*models.Actor)
	return a, ok
}

func PrincipalFrom(ctx context.Context) (roles.Principal, bool) {
	p, ok := ctx.Value(principalKey).(roles.Principal)
	return p, ok
}

type Middleware struct {
	service *Service
	logger  *logrus.Logger
}

func NewMiddleware(service *Service, logger *logrus.Logger) *Middleware {
	return &Middleware{service: service, logger: logger}
}

// RequireActor rejects requests without a valid session.
func (m *Middleware) RequireActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, p, err := m.service.Authenticate(r.Context(), TokenFromRequest(r))
		if err != nil {
			httpx.Fail(w, r, m.logger, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor, p)))
	})
}

// OptionalActor attaches the actor when a valid session exists and lets anonymous
// requests through. A broken session is treated as anonymous; a store outage is not.
func (m *Middleware) OptionalActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := TokenFromRequest(r)
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}
		actor, p, err := m.service.Authenticate(r.Context(), token)
		switch {
		case err == nil:
			r = r.WithContext(WithActor(r.Context(), actor, p))
		case errors.Is(err, apperr.ErrUnauthenticated), errors.Is(err, apperr.ErrInactive):
			// anonymous
		default:
			httpx.Fail(w, r, m.logger, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireRole must run after RequireActor.
func RequireRole(logger *logrus.Logger, allowed ...models.Role) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFrom(r.Context())
			if !ok {
				httpx.Fail(w, r, logger, apperr.ErrUnauthenticated)
				return
			}
			for _, role := range allowed {
				if p.Role() == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			httpx.Fail(w, r, logger, &apperr.AuthorizationError{Reason: "role " + string(p.Role()) + " is not allowed here"})
		})
	}
}
