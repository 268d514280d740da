package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/orderdesk/b2b-portal/internal/cart"
	"github.com/orderdesk/b2b-portal/internal/ledger"
	"github.com/orderdesk/b2b-portal/internal/lifecycle"
	"github.com/orderdesk/b2b-portal/internal/orders"
	"github.com/orderdesk/b2b-portal/internal/reservation"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, err error) {
	var unres *reservation.UnreservableError
	if errors.As(err, &unres) {
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":      unres.Error(),
			"violations": unres.Violations,
		})
		return
	}
	writeJSON(w, statusFor(err), map[string]string{"error": err.Error()})
}

// statusFor separates user mistakes (400), missing things (404), business
// rule rejections (409) and everything technical (500).
func statusFor(err error) int {
	var illegal *lifecycle.IllegalTransitionError
	switch {
	case errors.Is(err, cart.ErrInvalidQuantity),
		errors.Is(err, ledger.ErrInvalidQuantity),
		errors.Is(err, lifecycle.ErrReasonRequired):
		return http.StatusBadRequest
	case errors.Is(err, cart.ErrUnknownSKU),
		errors.Is(err, cart.ErrLineNotFound),
		errors.Is(err, ledger.ErrProductNotFound),
		errors.Is(err, orders.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrInsufficientStock),
		errors.Is(err, ledger.ErrInvalidRelease),
		errors.Is(err, ledger.ErrInvalidSale),
		errors.Is(err, ledger.ErrProductInactive),
		errors.Is(err, reservation.ErrEmptyCart),
		errors.As(err, &illegal):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
