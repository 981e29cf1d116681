package handler

import (
	"encoding/json"
	"io"
	"net/http"

	"ilpsdk/internal/api"
	"ilpsdk/internal/credential"
	"ilpsdk/internal/domain"
	"ilpsdk/internal/funding"
	"ilpsdk/internal/uplink"
	"ilpsdk/pkg/errors"
	"ilpsdk/pkg/logger"
	"ilpsdk/pkg/validator"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
)

// UplinkHandler manages uplinks and their on-chain channels.
type UplinkHandler struct {
	state     *api.State
	validator *validator.Validator
	logger    logger.Logger
}

func NewUplinkHandler(state *api.State, val *validator.Validator, log logger.Logger) *UplinkHandler {
	return &UplinkHandler{state: state, validator: val, logger: log}
}

// UplinkView is the API representation of an uplink. Amounts are in the
// engine's exchange unit.
type UplinkView struct {
	ID               string                `json:"id"`
	SettlementType   domain.SettlementType `json:"settlement_type"`
	CredentialID     string                `json:"credential_id"`
	Connector        string                `json:"connector"`
	State            string                `json:"state"`
	ClientAddress    string                `json:"client_address,omitempty"`
	AssetCode        string                `json:"asset_code"`
	Payable          decimal.Decimal       `json:"payable"`
	Receivable       decimal.Decimal       `json:"receivable"`
	OutgoingCapacity decimal.Decimal       `json:"outgoing_capacity"`
	IncomingCapacity decimal.Decimal       `json:"incoming_capacity"`
	TotalSent        decimal.Decimal       `json:"total_sent"`
	TotalReceived    decimal.Decimal       `json:"total_received"`
}

func viewUplink(u *uplink.Uplink) UplinkView {
	eng := u.Engine()
	return UplinkView{
		ID:               u.ID(),
		SettlementType:   u.SettlementType(),
		CredentialID:     u.CredentialID(),
		Connector:        u.Config().Connector,
		State:            u.State().String(),
		ClientAddress:    u.ClientAddress(),
		AssetCode:        eng.AssetCode,
		Payable:          eng.ToExchangeUnit(u.Payable().Get()),
		Receivable:       eng.ToExchangeUnit(u.Receivable().Get()),
		OutgoingCapacity: eng.ToExchangeUnit(u.OutgoingCapacity().Get()),
		IncomingCapacity: eng.ToExchangeUnit(u.IncomingCapacity().Get()),
		TotalSent:        eng.ToExchangeUnit(u.TotalSent().Get()),
		TotalReceived:    eng.ToExchangeUnit(u.TotalReceived().Get()),
	}
}

type createUplinkRequest struct {
	SettlementType domain.SettlementType `json:"settlement_type" validate:"required,settler"`
	Credential     json.RawMessage       `json:"credential" validate:"required"`
	Connector      string                `json:"connector"`
}

type removeUplinkRequest struct {
	Withdraw bool            `json:"withdraw"`
	MaxFee   decimal.Decimal `json:"max_fee" validate:"gte=0"`
}

type depositRequest struct {
	Amount decimal.Decimal `json:"amount" validate:"gt=0"`
	MaxFee decimal.Decimal `json:"max_fee" validate:"gte=0"`
}

type withdrawRequest struct {
	MaxFee decimal.Decimal `json:"max_fee" validate:"gte=0"`
}

// List returns every uplink ordered by id.
func (h *UplinkHandler) List(w http.ResponseWriter, r *http.Request) {
	uplinks := h.state.Uplinks()
	views := make([]UplinkView, 0, len(uplinks))
	for _, u := range uplinks {
		views = append(views, viewUplink(u))
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"uplinks": views})
}

// Get returns a single uplink.
func (h *UplinkHandler) Get(w http.ResponseWriter, r *http.Request) {
	u, err := h.state.Uplink(mux.Vars(r)["id"])
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, viewUplink(u))
}

// Create sets up the credential and connects a new uplink.
func (h *UplinkHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createUplinkRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if errs := h.validator.ValidateStructured(&req); errs != nil {
		respondValidationErrors(w, errs)
		return
	}

	cfg, err := credential.DecodeConfig(req.SettlementType, req.Credential)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	u, err := h.state.AddUplink(r.Context(), api.UplinkRequest{
		SettlementType: req.SettlementType,
		Credential:     cfg,
		Connector:      req.Connector,
	})
	if err != nil {
		h.logger.Error("Failed to add uplink", map[string]interface{}{
			"settlement_type": string(req.SettlementType),
			"error":           err.Error(),
		})
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, viewUplink(u))
}

// Delete drains and removes an uplink. An optional body requests an
// on-chain withdrawal bounded by max_fee.
func (h *UplinkHandler) Delete(w http.ResponseWriter, r *http.Request) {
	var req removeUplinkRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if errs := h.validator.ValidateStructured(&req); errs != nil {
		respondValidationErrors(w, errs)
		return
	}

	var authorize funding.Authorize
	if req.Withdraw {
		authorize = funding.MaxFee(req.MaxFee)
	}

	id := mux.Vars(r)["id"]
	if err := h.state.RemoveUplink(r.Context(), id, authorize); err != nil {
		h.logger.Error("Failed to remove uplink", map[string]interface{}{
			"uplink_id": id,
			"error":     err.Error(),
		})
		respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Deposit adds funds to the uplink's channel.
func (h *UplinkHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if errs := h.validator.ValidateStructured(&req); errs != nil {
		respondValidationErrors(w, errs)
		return
	}

	id := mux.Vars(r)["id"]
	receipt, err := h.state.Deposit(r.Context(), id, req.Amount, funding.MaxFee(req.MaxFee))
	if err != nil {
		h.logger.Error("Deposit failed", map[string]interface{}{
			"uplink_id": id,
			"amount":    req.Amount.String(),
			"error":     err.Error(),
		})
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, receipt)
}

// Withdraw closes the uplink's channel and returns its funds on-chain.
func (h *UplinkHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	var req withdrawRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if errs := h.validator.ValidateStructured(&req); errs != nil {
		respondValidationErrors(w, errs)
		return
	}

	id := mux.Vars(r)["id"]
	receipt, err := h.state.Withdraw(r.Context(), id, funding.MaxFee(req.MaxFee))
	if err != nil {
		h.logger.Error("Withdrawal failed", map[string]interface{}{
			"uplink_id": id,
			"error":     err.Error(),
		})
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, receipt)
}
