package handler

import (
	"net/http"

	"github.com/iho/custody/internal/adapter/http/dto"
	"github.com/iho/custody/internal/domain"
	"github.com/iho/custody/internal/usecase"
)

// AssetStatusSetter flips an asset's tradable flag.
type AssetStatusSetter interface {
	SetTradable(asset domain.Address, tradable bool)
}

// AdminHandler handles version upgrades and asset administration.
type AdminHandler struct {
	coordinator *usecase.UpgradeCoordinator
	assets      AssetStatusSetter
}

// NewAdminHandler creates a new AdminHandler. assets may be nil when the
// asset collaborator is external.
func NewAdminHandler(coordinator *usecase.UpgradeCoordinator, assets AssetStatusSetter) *AdminHandler {
	return &AdminHandler{coordinator: coordinator, assets: assets}
}

// Upgrade repoints a store at a new engine version.
func (h *AdminHandler) Upgrade(w http.ResponseWriter, r *http.Request) {
	var req dto.UpgradeRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	store, writer, err := req.Parse()
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid upgrade", err.Error())
		return
	}

	if err := h.coordinator.UpgradeVersion(r.Context(), store, writer, caller(r).Address); err != nil {
		writeError(w, mapDomainError(err), "failed to upgrade store", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, h.coordinator.Stores())
}

// Versions lists every upgradable store with its current writer.
func (h *AdminHandler) Versions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.coordinator.Stores())
}

// SetAssetStatus sets an asset's tradable flag.
func (h *AdminHandler) SetAssetStatus(w http.ResponseWriter, r *http.Request) {
	if h.assets == nil {
		writeError(w, http.StatusNotImplemented, "asset registry is external", "")
		return
	}

	asset, err := addressParam(r, "asset")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid asset", err.Error())
		return
	}

	var req dto.AssetStatusRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	h.assets.SetTradable(asset, req.Tradable)
	writeJSON(w, http.StatusOK, map[string]any{"asset": asset, "tradable": req.Tradable})
}
