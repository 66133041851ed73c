package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/i0mja/dell-infra-sync-sub004/internal/wizard"
	"github.com/i0mja/dell-infra-sync-sub004/pkg/httpx"
)

// WizardHandler maps the update wizard onto HTTP. The session id rides in a
// signed cookie; every mutation routes through the manager, which owns the
// step guards.
type WizardHandler struct {
	mgr   *wizard.Manager
	codec *sessionCodec
}

func NewWizardHandler(mgr *wizard.Manager, codec *sessionCodec) *WizardHandler {
	return &WizardHandler{mgr: mgr, codec: codec}
}

func (h *WizardHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Create)
	r.Get("/", h.Get)
	r.Delete("/", h.Close)
	r.Post("/cluster", h.SelectCluster)
	r.Post("/cluster/check", h.RunClusterCheck)
	r.Post("/selection", h.SetSelection)
	r.Post("/config", h.SetConfiguration)
	r.Post("/skip", h.SkipHost)
	r.Post("/confirm", h.SetConfirmed)
	r.Post("/next", h.Next)
	r.Post("/back", h.Back)
	r.Get("/estimate", h.GetEstimate)
	return r
}

// sessionID pulls the session from the cookie; a missing or stale cookie is
// the same as no session.
func (h *WizardHandler) sessionID(w http.ResponseWriter, r *http.Request) (string, bool) {
	sid, ok := h.codec.get(r)
	if !ok {
		httpx.WriteTypedError(w, http.StatusNotFound, "wizard.session_not_found", "no wizard session", 0)
		return "", false
	}
	return sid, true
}

type createWizardBody struct {
	Seed *wizard.Session `json:"seed,omitempty"`
}

// Create opens a session for the operator named by the proxy header. An
// optional seed restores selections a client kept across a reload; the
// session still starts on step one.
func (h *WizardHandler) Create(w http.ResponseWriter, r *http.Request) {
	var body createWizardBody
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			httpx.WriteError(w, http.StatusBadRequest, "invalid json")
			return
		}
	}
	s, err := h.mgr.Create(operatorFrom(r), body.Seed)
	if err != nil {
		writeErr(w, err)
		return
	}
	if err := h.codec.set(w, s.ID); err != nil {
		h.mgr.Close(s.ID)
		writeErr(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, s)
}

func (h *WizardHandler) Get(w http.ResponseWriter, r *http.Request) {
	sid, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	s, err := h.mgr.Get(sid)
	if err != nil {
		writeErr(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, s)
}

func (h *WizardHandler) Close(w http.ResponseWriter, r *http.Request) {
	if sid, ok := h.codec.get(r); ok {
		h.mgr.Close(sid)
	}
	h.codec.clear(w)
	w.WriteHeader(http.StatusNoContent)
}

func (h *WizardHandler) SelectCluster(w http.ResponseWriter, r *http.Request) {
	sid, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	var body struct {
		ClusterID string `json:"cluster_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid json")
		return
	}
	s, err := h.mgr.SelectCluster(sid, body.ClusterID)
	if err != nil {
		writeErr(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, s)
}

func (h *WizardHandler) RunClusterCheck(w http.ResponseWriter, r *http.Request) {
	sid, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	s, err := h.mgr.RunClusterCheck(r.Context(), sid)
	if err != nil {
		writeErr(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, s)
}

func (h *WizardHandler) SetSelection(w http.ResponseWriter, r *http.Request) {
	sid, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	var body wizard.UpdateSelection
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid json")
		return
	}
	s, err := h.mgr.SetUpdateSelection(sid, body)
	if err != nil {
		writeErr(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, s)
}

func (h *WizardHandler) SetConfiguration(w http.ResponseWriter, r *http.Request) {
	sid, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	var body wizard.Configuration
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid json")
		return
	}
	s, err := h.mgr.SetConfiguration(sid, body)
	if err != nil {
		writeErr(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, s)
}

func (h *WizardHandler) SkipHost(w http.ResponseWriter, r *http.Request) {
	sid, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	var body struct {
		HostID string `json:"host_id"`
		Skip   bool   `json:"skip"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid json")
		return
	}
	s, err := h.mgr.SkipHost(sid, body.HostID, body.Skip)
	if err != nil {
		writeErr(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, s)
}

func (h *WizardHandler) SetConfirmed(w http.ResponseWriter, r *http.Request) {
	sid, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	var body struct {
		Confirmed bool `json:"confirmed"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid json")
		return
	}
	s, err := h.mgr.SetConfirmed(sid, body.Confirmed)
	if err != nil {
		writeErr(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, s)
}

// Next advances one step. Leaving review submits the rolling update; the
// manager keeps the session on review when submission fails, and the mapped
// error tells the client why.
func (h *WizardHandler) Next(w http.ResponseWriter, r *http.Request) {
	sid, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	s, err := h.mgr.Next(r.Context(), sid)
	if err != nil {
		writeErr(w, err)
		return
	}
	if s.Step == wizard.StepExecution && s.JobID != "" {
		incWizardSubmission()
	}
	httpx.WriteJSON(w, http.StatusOK, s)
}

func (h *WizardHandler) Back(w http.ResponseWriter, r *http.Request) {
	sid, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	s, err := h.mgr.Back(sid)
	if err != nil {
		writeErr(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, s)
}

func (h *WizardHandler) GetEstimate(w http.ResponseWriter, r *http.Request) {
	sid, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	est, err := h.mgr.Estimate(sid)
	if err != nil {
		writeErr(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, est)
}
