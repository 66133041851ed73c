package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/i0mja/dell-infra-sync-sub004/internal/inventory"
	"github.com/i0mja/dell-infra-sync-sub004/internal/jobs"
	"github.com/i0mja/dell-infra-sync-sub004/internal/power"
	"github.com/i0mja/dell-infra-sync-sub004/pkg/httpx"
)

// OutletsHandler fronts the power controller. Destructive actions come back
// as a pending confirmation the client must explicitly confirm or cancel.
type OutletsHandler struct {
	ctrl *power.Controller
	inv  *inventory.Store
}

func NewOutletsHandler(ctrl *power.Controller, inv *inventory.Store) *OutletsHandler {
	return &OutletsHandler{ctrl: ctrl, inv: inv}
}

func (h *OutletsHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.List)
	r.Get("/{deviceID}", h.Surface)
	r.Post("/request", h.Request)
	r.Post("/confirm", h.Confirm)
	r.Post("/cancel", h.Cancel)
	return r
}

// List returns the control surface of every device that has outlets mapped.
func (h *OutletsHandler) List(w http.ResponseWriter, r *http.Request) {
	var out []power.Surface
	for _, d := range h.inv.Devices() {
		if len(h.inv.OutletsForDevice(d.ID)) == 0 {
			continue
		}
		out = append(out, h.ctrl.Surface(d.ID))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"surfaces": out})
}

func (h *OutletsHandler) Surface(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceID")
	if _, err := h.inv.Device(deviceID); err != nil {
		writeErr(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, h.ctrl.Surface(deviceID))
}

type outletActionBody struct {
	DeviceID string            `json:"device_id"`
	OutletID string            `json:"outlet_id,omitempty"`
	AllFeeds bool              `json:"all_feeds,omitempty"`
	Action   jobs.OutletAction `json:"action"`
}

// Request starts an action. Power-on is accepted straight into flight;
// off and reboot come back as a pending confirmation carrying the
// blast-radius warning.
func (h *OutletsHandler) Request(w http.ResponseWriter, r *http.Request) {
	var body outletActionBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid json")
		return
	}
	s, err := h.ctrl.Request(r.Context(), power.ActionRequest{
		DeviceID:    body.DeviceID,
		OutletID:    body.OutletID,
		AllFeeds:    body.AllFeeds,
		Action:      body.Action,
		RequestedBy: operatorFrom(r),
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	incOutletAction(string(body.Action))
	httpx.WriteJSON(w, http.StatusAccepted, s)
}

type outletConfirmBody struct {
	DeviceID  string `json:"device_id"`
	RequestID string `json:"request_id"`
}

func (h *OutletsHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	var body outletConfirmBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid json")
		return
	}
	s, err := h.ctrl.Confirm(r.Context(), body.DeviceID, body.RequestID)
	if err != nil {
		writeErr(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusAccepted, s)
}

func (h *OutletsHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	var body outletConfirmBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid json")
		return
	}
	s, err := h.ctrl.Cancel(body.DeviceID, body.RequestID)
	if err != nil {
		writeErr(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, s)
}
