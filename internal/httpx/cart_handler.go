package httpx

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/orderdesk/b2b-portal/internal/cart"
	"github.com/orderdesk/b2b-portal/internal/reservation"
)

type CartHandler struct {
	Cart        *cart.Repo
	Coordinator *reservation.Coordinator
	Validate    *validator.Validate
	Log         *zap.Logger
}

type addLineReq struct {
	SKU      string `json:"sku" validate:"required"`
	Quantity int    `json:"quantity" validate:"required,gt=0"`
	Note     string `json:"note"`
}

type updateLineReq struct {
	Quantity int `json:"quantity" validate:"gte=0"`
}

func (h *CartHandler) Register(r *chi.Mux) {
	r.Route("/cart", func(r chi.Router) {
		r.Get("/", h.lines)
		r.Delete("/", h.clear)
		r.Post("/items", h.add)
		r.Put("/items/{sku}", h.update)
		r.Delete("/items/{sku}", h.remove)
		r.Get("/validate", h.validateStock)
		r.Post("/reservation", h.reserve)
		r.Delete("/reservation", h.release)
		r.Post("/finalize", h.finalize)
	})
}

// userID comes from the session layer upstream; here it is just a header.
func userID(r *http.Request) string { return r.Header.Get("X-User-Id") }

func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	uid := userID(r)
	if uid == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing X-User-Id"})
		return "", false
	}
	return uid, true
}

func (h *CartHandler) add(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req addLineReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if err := h.Validate.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err := h.Cart.Add(r.Context(), uid, req.SKU, req.Quantity, req.Note); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": "added"})
}

func (h *CartHandler) update(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req updateLineReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if err := h.Validate.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err := h.Cart.UpdateQuantity(r.Context(), uid, chi.URLParam(r, "sku"), req.Quantity); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": "updated"})
}

func (h *CartHandler) remove(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r)
	if !ok {
		return
	}
	if err := h.Cart.Remove(r.Context(), uid, chi.URLParam(r, "sku")); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": "removed"})
}

func (h *CartHandler) clear(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r)
	if !ok {
		return
	}
	if err := h.Cart.Clear(r.Context(), uid); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": "cleared"})
}

func (h *CartHandler) lines(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r)
	if !ok {
		return
	}
	lines, err := h.Cart.Lines(r.Context(), uid)
	if err != nil {
		writeErr(w, err)
		return
	}
	if lines == nil {
		lines = []cart.LineView{}
	}
	writeJSON(w, http.StatusOK, lines)
}

func (h *CartHandler) validateStock(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r)
	if !ok {
		return
	}
	violations, err := h.Coordinator.ValidateCartStock(r.Context(), uid)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":         len(violations) == 0,
		"violations": violations,
	})
}

func (h *CartHandler) reserve(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r)
	if !ok {
		return
	}
	if err := h.Coordinator.ReserveCartItems(r.Context(), uid); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": "reserved"})
}

func (h *CartHandler) release(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r)
	if !ok {
		return
	}
	if err := h.Coordinator.ReleaseCartReservations(r.Context(), uid); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": "released"})
}

func (h *CartHandler) finalize(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r)
	if !ok {
		return
	}
	if err := h.Coordinator.FinalizeCartSale(r.Context(), uid); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": "finalized"})
}
