package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/i0mja/dell-infra-sync-sub004/internal/schedule"
	"github.com/i0mja/dell-infra-sync-sub004/pkg/httpx"
)

// SchedulesHandler manages recurring job templates.
type SchedulesHandler struct {
	sched *schedule.Scheduler
}

func NewSchedulesHandler(sched *schedule.Scheduler) *SchedulesHandler {
	return &SchedulesHandler{sched: sched}
}

func (h *SchedulesHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Get("/{id}", h.Get)
	r.Put("/{id}", h.Update)
	r.Delete("/{id}", h.Delete)
	r.Post("/{id}/run", h.RunNow)
	return r
}

func (h *SchedulesHandler) List(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"schedules": h.sched.List()})
}

func (h *SchedulesHandler) Create(w http.ResponseWriter, r *http.Request) {
	var sc schedule.Schedule
	if err := json.NewDecoder(r.Body).Decode(&sc); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if sc.Job.RequestedBy == "" {
		sc.Job.RequestedBy = operatorFrom(r)
	}
	created, err := h.sched.Create(sc)
	if err != nil {
		writeErr(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, created)
}

func (h *SchedulesHandler) Get(w http.ResponseWriter, r *http.Request) {
	sc, err := h.sched.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, sc)
}

func (h *SchedulesHandler) Update(w http.ResponseWriter, r *http.Request) {
	var sc schedule.Schedule
	if err := json.NewDecoder(r.Body).Decode(&sc); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid json")
		return
	}
	updated, err := h.sched.Update(chi.URLParam(r, "id"), sc)
	if err != nil {
		writeErr(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, updated)
}

func (h *SchedulesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.sched.Delete(chi.URLParam(r, "id")); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RunNow fires the schedule's template immediately without moving its cron
// slot.
func (h *SchedulesHandler) RunNow(w http.ResponseWriter, r *http.Request) {
	sc, err := h.sched.RunNow(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusAccepted, sc)
}
