package reservations

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
	r.HandleFunc("/api/reservations", h.CreateReservation).Methods(http.MethodPost)
	r.Handle("/api/reservations",
		h.mw.RequireActor(auth.RequireRole(h.logger, models.RoleOwner)(http.HandlerFunc(h.ListReservations))),
	).Methods(http.MethodGet)
}

func (h *Handler) CreateReservation(w http.ResponseWriter, r *http.Request) {
	var in models.Reservation
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	created, err := h.service.Create(r.Context(), in)
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	httpx.RespondWithJSON(w, http.StatusCreated, map[string]interface{}{
		"success":     true,
		"message":     "Reservation received",
		"reservation": created,
	})
}

func (h *Handler) ListReservations(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.List(r.Context())
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	httpx.RespondWithJSON(w, http.StatusOK, map[string]interface{}{
		"success":      true,
		"reservations": list,
		"count":        len(list),
	})
}
