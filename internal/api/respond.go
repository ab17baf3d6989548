package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"amm-ledger/internal/domain"
)

// receipt is the JSON envelope of every operation response.
type receipt map[string]any

func ok(message string) receipt {
	return receipt{"success": true, "message": message}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError renders err as a failed receipt with a status derived from
// its kind.
func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), receipt{"success": false, "message": domain.Message(err)})
}

func writeFailure(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, receipt{"success": false, "message": message})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrUserNotFound),
		errors.Is(err, domain.ErrSenderNotFound),
		errors.Is(err, domain.ErrRecipientNotFound),
		errors.Is(err, domain.ErrCurrencyNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrCurrencyExists), errors.Is(err, domain.ErrUserExists):
		return http.StatusConflict
	}
	switch domain.Kind(err) {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindEconomic:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func percent(v float64) string {
	return fmt.Sprintf("%.2f%%", v)
}

func decode(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
