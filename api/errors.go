package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/warp/bookstore-engine/commerce"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// statusFor maps a domain error to its HTTP status.
func statusFor(err error) int {
	switch commerce.Kind(err) {
	case "unauthenticated":
		return http.StatusUnauthorized
	case "authorization_error":
		return http.StatusForbidden
	case "not_found":
		return http.StatusNotFound
	case "concurrency_conflict":
		return http.StatusConflict
	case "internal_error":
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

// errorDetails exposes the structured fields clients can act on.
func errorDetails(err error) any {
	var (
		ve  *commerce.ValidationError
		fe  *commerce.InsufficientFundsError
		se  *commerce.InsufficientStockError
		dpe *commerce.DuplicatePurchaseError
	)
	switch {
	case errors.As(err, &ve):
		return map[string]string{"field": ve.Field, "message": ve.Message}
	case errors.As(err, &fe):
		return map[string]float64{
			"available": fe.Available.Float64(),
			"requested": fe.Requested.Float64(),
			"shortfall": fe.Shortfall.Float64(),
		}
	case errors.As(err, &se):
		return map[string]int{"available": se.Available, "requested": se.Requested}
	case errors.As(err, &dpe):
		return map[string]string{"purchase_id": string(dpe.ExistingID)}
	}
	return nil
}

// writeDomainError writes err with the status and code of its kind.
// Internal errors are not echoed to the client.
func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.log.Error("request failed", zapRequest(r, err)...)
		writeJSON(w, status, ErrorResponse{Error: "internal error", Code: commerce.Kind(err)})
		return
	}
	writeJSON(w, status, ErrorResponse{
		Error:   err.Error(),
		Code:    commerce.Kind(err),
		Details: errorDetails(err),
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Code = commerce.Kind(err)
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// decodeJSON reads a JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return &commerce.ValidationError{Field: "body", Message: fmt.Sprintf("invalid JSON: %v", err)}
	}
	return nil
}
