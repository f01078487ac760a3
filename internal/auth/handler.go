package auth

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/jogardn/creperie/internal/apperr"
	"github.com/jogardn/creperie/internal/httpx"
	"github.com/jogardn/creperie/pkg/models"
	"github.com/sirupsen/logrus"
)

type AuthResponse struct {
	Success bool          `json:"success"`
	User    *models.Actor `json:"user"`
	Token   string        `json:"token,omitempty"`
}

type Handler struct {
	service      *Service
	mw           *Middleware
	sessionTTL   time.Duration
	cookieSecure bool
	logger       *logrus.Logger
}

func NewHandler(service *Service, mw *Middleware, sessionTTL time.Duration, cookieSecure bool, logger *logrus.Logger) *Handler {
	return &Handler{
		service:      service,
		mw:           mw,
		sessionTTL:   sessionTTL,
		cookieSecure: cookieSecure,
		logger:       logger,
	}
}

func (h *Handler) RegisterRoutes(r *mux.Router) {
	a := r.PathPrefix("/api/auth").Subrouter()
	a.HandleFunc("/register", h.Register).Methods(http.MethodPost)
	a.HandleFunc("/login", h.Login).Methods(http.MethodPost)
	a.HandleFunc("/logout", h.Logout).Methods(http.MethodPost)
	a.HandleFunc("/firebase-login", h.FirebaseLogin).Methods(http.MethodPost)
	a.HandleFunc("/oauth/callback", h.OAuthCallback).Methods(http.MethodPost)
	a.Handle("/me", h.mw.RequireActor(http.HandlerFunc(h.Me))).Methods(http.MethodGet)

	users := r.PathPrefix("/api/users").Subrouter()
	users.Use(h.mw.RequireActor, RequireRole(h.logger, models.RoleOwner))
	users.HandleFunc("", h.ListUsers).Methods(http.MethodGet)
	users.HandleFunc("/{id}", h.UpdateUser).Methods(http.MethodPatch)
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	actor, token, err := h.service.Register(r.Context(), req)
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	h.setSession(w, token)
	httpx.RespondWithJSON(w, http.StatusCreated, AuthResponse{Success: true, User: actor, Token: token})
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	actor, token, err := h.service.Login(r.Context(), req)
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	h.setSession(w, token)
	httpx.RespondWithJSON(w, http.StatusOK, AuthResponse{Success: true, User: actor, Token: token})
}

type firebaseLoginRequest struct {
	IDToken string `json:"idToken"`
}

func (h *Handler) FirebaseLogin(w http.ResponseWriter, r *http.Request) {
	var req firebaseLoginRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	h.external(w, r, ProviderFirebase, req.IDToken)
}

type oauthCallbackRequest struct {
	AccessToken string `json:"accessToken"`
}

// OAuthCallback finishes a Supabase social login: the browser posts the access token it
// received from the provider redirect.
func (h *Handler) OAuthCallback(w http.ResponseWriter, r *http.Request) {
	var req oauthCallbackRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	h.external(w, r, ProviderSupabase, req.AccessToken)
}

func (h *Handler) external(w http.ResponseWriter, r *http.Request, provider, token string) {
	if token == "" {
		httpx.Fail(w, r, h.logger, apperr.NewValidationError("token", "is required"))
		return
	}
	actor, session, err := h.service.ExternalLogin(r.Context(), provider, token)
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	h.setSession(w, session)
	httpx.RespondWithJSON(w, http.StatusOK, AuthResponse{Success: true, User: actor, Token: session})
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())
	httpx.RespondWithJSON(w, http.StatusOK, AuthResponse{Success: true, User: actor})
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Logout(r.Context(), TokenFromRequest(r)); err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	httpx.RespondWithJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	actors, err := h.service.ListActors(r.Context())
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	httpx.RespondWithJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"users":   actors,
		"count":   len(actors),
	})
}

func (h *Handler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		httpx.Fail(w, r, h.logger, apperr.NewValidationError("id", "must be a numeric user id"))
		return
	}
	var patch models.ActorPatch
	if err := httpx.DecodeJSON(r, &patch); err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	actor, err := h.service.UpdateActor(r.Context(), id, patch)
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	httpx.RespondWithJSON(w, http.StatusOK, AuthResponse{Success: true, User: actor})
}

func (h *Handler) setSession(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(h.sessionTTL.Seconds()),
		HttpOnly: true,
		Secure:   h.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}
