package orders

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/jogardn/creperie/internal/apperr"
	"github.com/jogardn/creperie/internal/auth"
	"github.com/jogardn/creperie/internal/httpx"
	"github.com/jogardn/creperie/pkg/models"
	"github.com/sirupsen/logrus"
	qrcode "github.com/skip2/go-qrcode"
)

const qrSize = 256

type Handler struct {
	service   *Service
	mw        *auth.Middleware
	publicURL string
	logger    *logrus.Logger
}

// NewHandler serves the order API. publicURL is the storefront base used in pickup QR
// codes.
func NewHandler(service *Service, mw *auth.Middleware, publicURL string, logger *logrus.Logger) *Handler {
	return &Handler{service: service, mw: mw, publicURL: publicURL, logger: logger}
}

func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.Handle("/api/orders", h.mw.OptionalActor(http.HandlerFunc(h.CreateOrder))).Methods(http.MethodPost)
	r.Handle("/api/orders", h.mw.RequireActor(http.HandlerFunc(h.ListOrders))).Methods(http.MethodGet)
	r.Handle("/api/orders/{id}", h.mw.RequireActor(http.HandlerFunc(h.GetOrder))).Methods(http.MethodGet)
	r.Handle("/api/orders/{id}/qrcode", h.mw.RequireActor(http.HandlerFunc(h.QRCode))).Methods(http.MethodGet)

	staff := auth.RequireRole(h.logger, models.RoleLivreur, models.RoleOwner)
	r.Handle("/api/orders/{id}", h.mw.RequireActor(staff(http.HandlerFunc(h.UpdateStatus)))).Methods(http.MethodPatch)
}

func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req models.CheckoutRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}

	p, _ := auth.PrincipalFrom(r.Context())
	order, err := h.service.Checkout(r.Context(), p, req)
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	httpx.RespondWithJSON(w, http.StatusCreated, models.OrderResponse{
		Success: true,
		Message: "Order created",
		Order:   order,
	})
}

func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFrom(r.Context())
	orders, err := h.service.List(r.Context(), p)
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	httpx.RespondWithJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"orders":  orders,
		"count":   len(orders),
	})
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFrom(r.Context())
	order, err := h.service.Get(r.Context(), p, mux.Vars(r)["id"])
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	httpx.RespondWithJSON(w, http.StatusOK, models.OrderResponse{Success: true, Order: order})
}

// QRCode renders a PNG pointing at the order's page, shown at pickup.
func (h *Handler) QRCode(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFrom(r.Context())
	order, err := h.service.Get(r.Context(), p, mux.Vars(r)["id"])
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}

	png, err := qrcode.Encode(h.publicURL+"/orders/"+order.ID, qrcode.Medium, qrSize)
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "private, max-age=3600")
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}

func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req models.StatusUpdateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	if req.Status == "" {
		httpx.Fail(w, r, h.logger, apperr.NewValidationError("status", "is required"))
		return
	}

	p, _ := auth.PrincipalFrom(r.Context())
	order, err := h.service.Transition(r.Context(), p, mux.Vars(r)["id"], req.Status)
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	httpx.RespondWithJSON(w, http.StatusOK, models.OrderResponse{
		Success: true,
		Message: "Order " + string(order.Status),
		Order:   order,
	})
}
