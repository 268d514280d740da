package httpx

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/orderdesk/b2b-portal/internal/lifecycle"
	"github.com/orderdesk/b2b-portal/internal/orders"
	"github.com/orderdesk/b2b-portal/internal/redisx"
)

type OrdersHandler struct {
	Repo      *orders.Repo
	Lifecycle *lifecycle.Service
	Redis     *redis.Client
	Validate  *validator.Validate
	Log       *zap.Logger
}

type submitOrderReq struct {
	Notes string `json:"notes"`
}

type submitOrderResp struct {
	OrderID         string `json:"order_id"`
	TotalNetCents   int64  `json:"total_net_cents"`
	TotalVATCents   int64  `json:"total_vat_cents"`
	TotalGrossCents int64  `json:"total_gross_cents"`
	Idempotent      bool   `json:"idempotent"`
}

type cancelReq struct {
	Reason string `json:"reason" validate:"required"`
}

type shipReq struct {
	TrackingRef string `json:"tracking_ref"`
}

func (h *OrdersHandler) Register(r *chi.Mux) {
	r.Post("/orders", h.submit)
	r.Get("/orders", h.list)
	r.Get("/orders/{id}", h.get)
	r.Get("/orders/{id}/status", h.status)
	r.Post("/orders/{id}/confirm", h.confirm)
	r.Post("/orders/{id}/cancel", h.cancel)
	r.Post("/orders/{id}/ship", h.ship)
	r.Get("/products", h.listProducts)
}

// actor identifies the admin performing a transition; audit needs it.
func actor(r *http.Request) string {
	if a := r.Header.Get("X-Actor"); a != "" {
		return a
	}
	return "unknown"
}

func (h *OrdersHandler) submit(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req submitOrderReq
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
			return
		}
	}

	ctx := r.Context()

	// Fast-path idempotency: a replayed submission token returns the order it
	// already created instead of reserving twice.
	token := r.Header.Get("X-Idempotency-Key")
	var idemKey string
	if token != "" {
		idemKey = fmt.Sprintf(redisx.KeyIdemSubmit, uid, token)
		if existing, err := h.Redis.Get(ctx, idemKey).Result(); err == nil && existing != "" {
			o, err := h.Repo.GetOrder(ctx, existing)
			if err == nil {
				writeJSON(w, http.StatusOK, submitOrderResp{
					OrderID:         o.ID,
					TotalNetCents:   o.TotalNetCents,
					TotalVATCents:   o.TotalVATCents,
					TotalGrossCents: o.TotalGrossCents,
					Idempotent:      true,
				})
				return
			}
		}
	}

	o, err := h.Lifecycle.Submit(ctx, uid, req.Notes)
	if err != nil {
		writeErr(w, err)
		return
	}
	if idemKey != "" {
		_ = h.Redis.Set(ctx, idemKey, o.ID, redisx.TTLIdempotency).Err()
	}
	writeJSON(w, http.StatusCreated, submitOrderResp{
		OrderID:         o.ID,
		TotalNetCents:   o.TotalNetCents,
		TotalVATCents:   o.TotalVATCents,
		TotalGrossCents: o.TotalGrossCents,
	})
}

func (h *OrdersHandler) get(w http.ResponseWriter, r *http.Request) {
	o, err := h.Repo.GetOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) status(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	ctx := r.Context()

	key := fmt.Sprintf(redisx.KeyOrderStatus, orderID)
	if s, err := h.Redis.Get(ctx, key).Result(); err == nil && s != "" {
		writeJSON(w, http.StatusOK, json.RawMessage(s))
		return
	}

	st, err := h.Repo.GetOrderStatus(ctx, orderID)
	if err != nil {
		writeErr(w, err)
		return
	}
	b, _ := json.Marshal(map[string]any{"status": st})
	_ = h.Redis.Set(ctx, key, b, redisx.TTLStatusCache).Err()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(b)
}

func (h *OrdersHandler) list(w http.ResponseWriter, r *http.Request) {
	status := orders.Status(r.URL.Query().Get("status"))
	if status != "" && !status.Known() {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown status"})
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	out, err := h.Repo.ListOrders(r.Context(), status, limit)
	if err != nil {
		writeErr(w, err)
		return
	}
	if out == nil {
		out = []orders.Order{}
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *OrdersHandler) confirm(w http.ResponseWriter, r *http.Request) {
	if err := h.Lifecycle.Confirm(r.Context(), chi.URLParam(r, "id"), actor(r)); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": "confirmed"})
}

func (h *OrdersHandler) cancel(w http.ResponseWriter, r *http.Request) {
	var req cancelReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if err := h.Validate.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "reason is required"})
		return
	}
	if err := h.Lifecycle.Cancel(r.Context(), chi.URLParam(r, "id"), actor(r), req.Reason); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": "cancelled"})
}

func (h *OrdersHandler) ship(w http.ResponseWriter, r *http.Request) {
	var req shipReq
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
			return
		}
	}
	if err := h.Lifecycle.Ship(r.Context(), chi.URLParam(r, "id"), actor(r), req.TrackingRef); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": "shipped"})
}

func (h *OrdersHandler) listProducts(w http.ResponseWriter, r *http.Request) {
	ps, err := h.Repo.ListProducts(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	if ps == nil {
		ps = []orders.Product{}
	}
	writeJSON(w, http.StatusOK, ps)
}
