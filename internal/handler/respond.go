package handler

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"

	"github.com/mmeshcher/barpay-system/internal/order"
	"github.com/mmeshcher/barpay-system/internal/redemption"
	"github.com/mmeshcher/barpay-system/internal/storage"
	"github.com/mmeshcher/barpay-system/internal/user"
	"github.com/mmeshcher/barpay-system/internal/wallet"
)

func respondJSON(w http.ResponseWriter, code int, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"failed to encode response"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(body)
}

func respondError(w http.ResponseWriter, code int, message string) {
	respondJSON(w, code, map[string]string{"error": message})
}

// statusFromError переводит доменные ошибки в HTTP-статусы.
func statusFromError(err error) int {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, storage.ErrEmailExists):
		return http.StatusConflict
	case errors.Is(err, storage.ErrContention):
		return http.StatusServiceUnavailable
	case errors.Is(err, user.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, wallet.ErrInvalidAmount),
		errors.Is(err, wallet.ErrInsufficientFunds),
		errors.Is(err, order.ErrInvalidOrder):
		return http.StatusBadRequest
	case errors.Is(err, order.ErrInvalidTransition),
		errors.Is(err, redemption.ErrAlreadyRedeemed):
		return http.StatusConflict
	case errors.Is(err, redemption.ErrNotYetPaid):
		return http.StatusPaymentRequired
	default:
		return http.StatusInternalServerError
	}
}

func centsFromReais(v float64) int64 {
	return int64(math.Round(v * 100))
}

func reaisFromCents(v int64) float64 {
	return float64(v) / 100
}
