package handler

import (
	"net/http"

	"ilpsdk/internal/api"
	"ilpsdk/pkg/logger"
	"ilpsdk/pkg/validator"

	"github.com/shopspring/decimal"
)

// StreamHandler runs payments between two uplinks.
type StreamHandler struct {
	state     *api.State
	validator *validator.Validator
	logger    logger.Logger
}

func NewStreamHandler(state *api.State, val *validator.Validator, log logger.Logger) *StreamHandler {
	return &StreamHandler{state: state, validator: val, logger: log}
}

// streamRequest moves amount, in the source's exchange unit, from source_id
// to dest_id.
type streamRequest struct {
	SourceID string           `json:"source_id" validate:"required"`
	DestID   string           `json:"dest_id" validate:"required"`
	Amount   decimal.Decimal  `json:"amount" validate:"gt=0"`
	Slippage *decimal.Decimal `json:"slippage,omitempty"`
}

// Create streams money and returns the receipt once the stream ends.
func (h *StreamHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req streamRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if errs := h.validator.ValidateStructured(&req); errs != nil {
		respondValidationErrors(w, errs)
		return
	}
	if req.Slippage != nil && (req.Slippage.IsNegative() || req.Slippage.GreaterThanOrEqual(decimal.NewFromInt(1))) {
		respondValidationErrors(w, map[string]string{"Slippage": "Must be at least 0 and below 1"})
		return
	}

	receipt, err := h.state.StreamMoney(r.Context(), api.StreamRequest{
		SourceID: req.SourceID,
		DestID:   req.DestID,
		Amount:   req.Amount,
		Slippage: req.Slippage,
	})
	if err != nil {
		h.logger.Warn("Stream failed", map[string]interface{}{
			"source_id": req.SourceID,
			"dest_id":   req.DestID,
			"amount":    req.Amount.String(),
			"error":     err.Error(),
		})
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, receipt)
}
