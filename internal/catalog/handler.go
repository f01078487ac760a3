package catalog

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/jogardn/creperie/internal/auth"
	"github.com/jogardn/creperie/internal/httpx"
	"github.com/jogardn/creperie/pkg/models"
	"github.com/sirupsen/logrus"
)

type Handler struct {
	service *Service
	mw      *auth.Middleware
	logger  *logrus.Logger
}

func NewHandler(service *Service, mw *auth.Middleware, logger *logrus.Logger) *Handler {
	return &Handler{service: service, mw: mw, logger: logger}
}

func (h *Handler) RegisterRoutes(r *mux.Router) {
	ownerOnly := func(fn http.HandlerFunc) http.Handler {
		return h.mw.RequireActor(auth.RequireRole(h.logger, models.RoleOwner)(fn))
	}

	r.HandleFunc("/api/categories", h.ListCategories).Methods(http.MethodGet)
	r.Handle("/api/categories", ownerOnly(h.CreateCategory)).Methods(http.MethodPost)

	r.HandleFunc("/api/menu-items", h.ListMenuItems).Methods(http.MethodGet)
	r.HandleFunc("/api/menu-items/{id}", h.GetMenuItem).Methods(http.MethodGet)
	r.Handle("/api/menu-items", ownerOnly(h.CreateMenuItem)).Methods(http.MethodPost)
	r.Handle("/api/menu-items/{id}", ownerOnly(h.UpdateMenuItem)).Methods(http.MethodPatch)
}

func (h *Handler) ListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.service.ListCategories(r.Context())
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	httpx.RespondWithJSON(w, http.StatusOK, map[string]interface{}{
		"success":    true,
		"categories": categories,
		"count":      len(categories),
	})
}

func (h *Handler) CreateCategory(w http.ResponseWriter, r *http.Request) {
	var in models.Category
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	category, err := h.service.CreateCategory(r.Context(), in)
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	httpx.RespondWithJSON(w, http.StatusCreated, map[string]interface{}{
		"success":  true,
		"category": category,
	})
}

func (h *Handler) ListMenuItems(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.ListMenuItems(r.Context())
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	httpx.RespondWithJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"items":   items,
		"count":   len(items),
	})
}

func (h *Handler) GetMenuItem(w http.ResponseWriter, r *http.Request) {
	item, err := h.service.GetMenuItem(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	httpx.RespondWithJSON(w, http.StatusOK, map[string]interface{}{"success": true, "item": item})
}

func (h *Handler) CreateMenuItem(w http.ResponseWriter, r *http.Request) {
	var in models.MenuItem
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	item, err := h.service.CreateMenuItem(r.Context(), in)
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	httpx.RespondWithJSON(w, http.StatusCreated, map[string]interface{}{"success": true, "item": item})
}

func (h *Handler) UpdateMenuItem(w http.ResponseWriter, r *http.Request) {
	var patch models.MenuItemPatch
	if err := httpx.DecodeJSON(r, &patch); err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	item, err := h.service.UpdateMenuItem(r.Context(), mux.Vars(r)["id"], patch)
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	httpx.RespondWithJSON(w, http.StatusOK, map[string]interface{}{"success": true, "item": item})
}
