// Package handler provides the HTTP handlers of the switch API.
package handler

import (
	"encoding/json"
	"net/http"

	"ilpsdk/internal/stream"
	"ilpsdk/pkg/errors"
)

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func respondValidationErrors(w http.ResponseWriter, errs map[string]string) {
	respondJSON(w, http.StatusBadRequest, map[string]interface{}{"errors": errs})
}

// respondServiceError maps switch errors onto HTTP statuses. A failed
// stream carries its partial receipt.
func respondServiceError(w http.ResponseWriter, err error) {
	var streamErr *stream.Error
	if errors.As(err, &streamErr) {
		respondJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
			"error":   err.Error(),
			"receipt": streamErr.Receipt,
		})
		return
	}
	respondError(w, statusFor(err), err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, errors.ErrUplinkNotFound), errors.Is(err, errors.ErrCredentialNotFound):
		return http.StatusNotFound
	case errors.Is(err, errors.ErrUnknownSettlementType),
		errors.Is(err, errors.ErrUnknownConnector),
		errors.Is(err, errors.ErrInvalidSecret),
		errors.Is(err, errors.ErrInvalidConfig),
		errors.Is(err, errors.ErrInvalidAmount),
		errors.Is(err, errors.ErrInvalidBalanceConfig),
		errors.Is(err, errors.ErrInvalidStateDocument):
		return http.StatusBadRequest
	case errors.Is(err, errors.ErrAuthorizationDenied):
		return http.StatusForbidden
	case errors.Is(err, errors.ErrUplinkExists), errors.Is(err, errors.ErrUplinkNotReady):
		return http.StatusConflict
	case errors.Is(err, errors.ErrNotSupported):
		return http.StatusNotImplemented
	case errors.Is(err, errors.ErrAssetMismatch),
		errors.Is(err, errors.ErrHandshakeFailed),
		errors.Is(err, errors.ErrNotConnected),
		errors.Is(err, errors.ErrTransportClosed),
		errors.Is(err, errors.ErrReplyTimeout):
		return http.StatusBadGateway
	case errors.Is(err, errors.ErrRateNotAvailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func decodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
