package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/i0mja/dell-infra-sync-sub004/internal/inventory"
	"github.com/i0mja/dell-infra-sync-sub004/internal/jobs"
	"github.com/i0mja/dell-infra-sync-sub004/pkg/httpx"
)

// InventoryHandler exposes the fleet model: devices, clusters, credential
// set references and outlet mappings. Writes here are operator edits; the
// executor maintains its own fields through the executor routes.
type InventoryHandler struct {
	inv *inventory.Store
	sub *jobs.Submitter
}

func NewInventoryHandler(inv *inventory.Store, sub *jobs.Submitter) *InventoryHandler {
	return &InventoryHandler{inv: inv, sub: sub}
}

func (h *InventoryHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/devices", h.ListDevices)
	r.Get("/devices/{id}", h.GetDevice)
	r.Post("/devices", h.UpsertDevice)
	r.Get("/clusters", h.ListClusters)
	r.Get("/clusters/{id}", h.GetCluster)
	r.Post("/clusters", h.UpsertCluster)
	r.Get("/credential-sets", h.ListCredentialSets)
	r.Post("/credential-sets", h.UpsertCredentialSet)
	r.Get("/outlets", h.ListOutlets)
	r.Post("/outlets", h.UpsertOutlet)
	r.Post("/scan", h.Scan)
	return r
}

func (h *InventoryHandler) ListDevices(w http.ResponseWriter, r *http.Request) {
	devices := h.inv.Devices()
	if cid := r.URL.Query().Get("cluster_id"); cid != "" {
		devices = h.inv.ClusterDevices(cid)
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"devices": devices})
}

func (h *InventoryHandler) GetDevice(w http.ResponseWriter, r *http.Request) {
	d, err := h.inv.Device(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"device":  d,
		"outlets": h.inv.OutletsForDevice(d.ID),
	})
}

func (h *InventoryHandler) UpsertDevice(w http.ResponseWriter, r *http.Request) {
	var d inventory.Device
	if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.inv.UpsertDevice(d); err != nil {
		writeErr(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, d)
}

func (h *InventoryHandler) ListClusters(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"clusters": h.inv.Clusters()})
}

func (h *InventoryHandler) GetCluster(w http.ResponseWriter, r *http.Request) {
	c, err := h.inv.Cluster(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"cluster": c,
		"devices": h.inv.ClusterDevices(c.ID),
	})
}

func (h *InventoryHandler) UpsertCluster(w http.ResponseWriter, r *http.Request) {
	var c inventory.Cluster
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.inv.UpsertCluster(c); err != nil {
		writeErr(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, c)
}

func (h *InventoryHandler) ListCredentialSets(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"credential_sets": h.inv.CredentialSets()})
}

func (h *InventoryHandler) UpsertCredentialSet(w http.ResponseWriter, r *http.Request) {
	var cs inventory.CredentialSet
	if err := json.NewDecoder(r.Body).Decode(&cs); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.inv.UpsertCredentialSet(cs); err != nil {
		writeErr(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, cs)
}

func (h *InventoryHandler) ListOutlets(w http.ResponseWriter, r *http.Request) {
	deviceID := r.URL.Query().Get("device_id")
	if deviceID == "" {
		httpx.WriteError(w, http.StatusBadRequest, "device_id query parameter required")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"outlets": h.inv.OutletsForDevice(deviceID)})
}

func (h *InventoryHandler) UpsertOutlet(w http.ResponseWriter, r *http.Request) {
	var o inventory.OutletMapping
	if err := json.NewDecoder(r.Body).Decode(&o); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.inv.UpsertOutlet(o); err != nil {
		writeErr(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, o)
}

type scanBody struct {
	IPRange          string   `json:"ip_range"`
	CredentialSetIDs []string `json:"credential_set_ids,omitempty"`
}

// Scan submits a discovery sweep over an IP range. The executor upserts
// whatever it finds back through the executor routes.
func (h *InventoryHandler) Scan(w http.ResponseWriter, r *http.Request) {
	var body scanBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid json")
		return
	}
	rec, err := h.sub.Submit(r.Context(), jobs.SubmitRequest{
		Type:        jobs.TypeDiscoveryScan,
		Scope:       jobs.TargetScope{IPRange: body.IPRange},
		RequestedBy: operatorFrom(r),
		Details:     jobs.DiscoveryScanDetails{CredentialSetIDs: body.CredentialSetIDs},
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	incJobSubmitted(string(rec.Type))
	httpx.WriteJSON(w, http.StatusAccepted, rec)
}
