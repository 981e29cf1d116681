package handler

import (
	"net/http"
	"time"

	"ilpsdk/internal/api"
	"ilpsdk/internal/domain"
	"ilpsdk/pkg/logger"
)

type SystemHandler struct {
	state     *api.State
	logger    logger.Logger
	startTime time.Time
}

func NewSystemHandler(state *api.State, log logger.Logger) *SystemHandler {
	return &SystemHandler{
		state:     state,
		logger:    log,
		startTime: time.Now(),
	}
}

type EngineView struct {
	SettlementType domain.SettlementType `json:"settlement_type"`
	AssetCode      string                `json:"asset_code"`
	AssetScale     int32                 `json:"asset_scale"`
	Connectors     []string              `json:"connectors"`
}

type CredentialView struct {
	SettlementType domain.SettlementType `json:"settlement_type"`
	ID             string                `json:"id"`
	Uplinks        int                   `json:"uplinks"`
}

// StateView summarizes the switch without exposing credential secrets.
type StateView struct {
	Network     string           `json:"network"`
	Engines     []EngineView     `json:"engines"`
	Credentials []CredentialView `json:"credentials"`
	Uplinks     []UplinkView     `json:"uplinks"`
}

func (h *SystemHandler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "healthy",
		"service":        "switchd",
		"uplinks":        len(h.state.Uplinks()),
		"uptime_seconds": int64(time.Since(h.startTime).Seconds()),
	})
}

func (h *SystemHandler) State(w http.ResponseWriter, r *http.Request) {
	view := StateView{
		Network:     h.state.Engines().Network(),
		Engines:     []EngineView{},
		Credentials: []CredentialView{},
		Uplinks:     []UplinkView{},
	}

	for _, t := range domain.SettlementTypes {
		eng, err := h.state.Engines().Get(t)
		if err != nil {
			h.logger.Warn("Settlement engine unavailable", map[string]interface{}{
				"settlement_type": string(t),
				"error":           err.Error(),
			})
			continue
		}
		view.Engines = append(view.Engines, EngineView{
			SettlementType: eng.Type,
			AssetCode:      eng.AssetCode,
			AssetScale:     eng.AssetScale,
			Connectors:     eng.ConnectorNames(),
		})
	}

	creds := h.state.Credentials()
	for _, c := range creds.List() {
		view.Credentials = append(view.Credentials, CredentialView{
			SettlementType: c.SettlementType(),
			ID:             c.UniqueID(),
			Uplinks:        creds.RefCount(c.SettlementType(), c.UniqueID()),
		})
	}

	for _, u := range h.state.Uplinks() {
		view.Uplinks = append(view.Uplinks, viewUplink(u))
	}

	respondJSON(w, http.StatusOK, view)
}
