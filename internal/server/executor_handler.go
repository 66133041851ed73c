package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/i0mja/dell-infra-sync-sub004/internal/inventory"
	"github.com/i0mja/dell-infra-sync-sub004/internal/jobs"
	"github.com/i0mja/dell-infra-sync-sub004/internal/jobstore"
	"github.com/i0mja/dell-infra-sync-sub004/pkg/httpx"
)

// executorPresence remembers the last heartbeat the executor posted. The
// socket ping and the heartbeat cover different directions: the socket says
// whether the daemon can reach the executor right now, the heartbeat whether
// the executor reached the daemon recently.
type executorPresence struct {
	mu       sync.Mutex
	lastSeen time.Time
	version  string
}

func (p *executorPresence) record(version string) {
	p.mu.Lock()
	p.lastSeen = time.Now().UTC()
	if version != "" {
		p.version = version
	}
	p.mu.Unlock()
}

func (p *executorPresence) snapshot() (time.Time, string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastSeen, p.version
}

// ExecutorHandler is the write-back surface for the executor sidecar. It is
// the only path that moves job status forward or touches executor-owned
// inventory fields; operators never call these routes.
type ExecutorHandler struct {
	store    *jobstore.Store
	inv      *inventory.Store
	presence *executorPresence
}

func NewExecutorHandler(store *jobstore.Store, inv *inventory.Store, presence *executorPresence) *ExecutorHandler {
	return &ExecutorHandler{store: store, inv: inv, presence: presence}
}

func (h *ExecutorHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/heartbeat", h.Heartbeat)
	r.Post("/jobs/claim", h.Claim)
	r.Post("/jobs/{id}/status", h.UpdateStatus)
	r.Put("/jobs/{id}/safety-result", h.PutSafetyResult)
	r.Post("/devices", h.ReportDevices)
	r.Put("/outlets/{id}/state", h.SetOutletState)
	r.Put("/clusters/{id}/health", h.SetClusterHealth)
	return r
}

type heartbeatBody struct {
	Version string `json:"version,omitempty"`
}

// Heartbeat lets the executor announce itself between sweeps. It covers
// deployments where the daemon cannot dial the executor socket and the link
// check would otherwise always read unreachable.
func (h *ExecutorHandler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	var body heartbeatBody
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			httpx.WriteError(w, http.StatusBadRequest, "invalid json")
			return
		}
	}
	h.presence.record(body.Version)
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// Claim hands the oldest eligible pending job to the executor. 204 means the
// queue is empty, which is the common case between sweeps.
func (h *ExecutorHandler) Claim(w http.ResponseWriter, r *http.Request) {
	rec, err := h.store.ClaimNext(r.Context())
	if errors.Is(err, jobstore.ErrEmpty) {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err != nil {
		writeErr(w, err)
		return
	}
	incExecutorClaim()
	httpx.WriteJSON(w, http.StatusOK, rec)
}

type statusBody struct {
	Status jobs.Status     `json:"status"`
	Error  string          `json:"error,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
}

func (h *ExecutorHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var body statusBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.store.UpdateStatus(r.Context(), id, body.Status, body.Error, body.Result); err != nil {
		writeErr(w, err)
		return
	}
	if body.Status.Terminal() {
		incJobTerminal(string(body.Status))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"id": id, "status": body.Status})
}

// PutSafetyResult stores the raw safety payload for a check job. The body is
// kept verbatim; verdicts are always recomputed from it on read.
func (h *ExecutorHandler) PutSafetyResult(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	payload, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}
	if !json.Valid(payload) {
		httpx.WriteError(w, http.StatusBadRequest, "payload must be valid json")
		return
	}
	if err := h.store.PutSafetyResult(r.Context(), id, payload); err != nil {
		writeErr(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"id": id, "stored": true})
}

type reportDevicesBody struct {
	Devices []inventory.Device `json:"devices"`
}

// ReportDevices upserts the devices a discovery scan found. Partial failures
// stop the batch; the executor retries the whole report.
func (h *ExecutorHandler) ReportDevices(w http.ResponseWriter, r *http.Request) {
	var body reportDevicesBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid json")
		return
	}
	for _, d := range body.Devices {
		if err := h.inv.UpsertDevice(d); err != nil {
			writeErr(w, err)
			return
		}
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"upserted": len(body.Devices)})
}

type outletStateBody struct {
	State inventory.OutletState `json:"state"`
}

func (h *ExecutorHandler) SetOutletState(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var body outletStateBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid json")
		return
	}
	switch body.State {
	case inventory.OutletStateOn, inventory.OutletStateOff, inventory.OutletStateUnknown:
	default:
		httpx.WriteError(w, http.StatusBadRequest, "unknown outlet state "+string(body.State))
		return
	}
	if err := h.inv.SetOutletState(id, body.State); err != nil {
		writeErr(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"id": id, "state": body.State})
}

type clusterHealthBody struct {
	TotalHosts   int `json:"total_hosts"`
	HealthyHosts int `json:"healthy_hosts"`
}

func (h *ExecutorHandler) SetClusterHealth(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var body clusterHealthBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if body.TotalHosts < 0 || body.HealthyHosts < 0 || body.HealthyHosts > body.TotalHosts {
		httpx.WriteError(w, http.StatusBadRequest, "host counts out of range")
		return
	}
	if err := h.inv.SetClusterHealth(id, body.TotalHosts, body.HealthyHosts); err != nil {
		writeErr(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"id": id})
}
