package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/i0mja/dell-infra-sync-sub004/internal/jobs"
	"github.com/i0mja/dell-infra-sync-sub004/internal/jobstore"
	"github.com/i0mja/dell-infra-sync-sub004/pkg/httpx"
)

// JobsHandler exposes job submission and inspection. Status and results flow
// in through the executor routes, never through these.
type JobsHandler struct {
	store  *jobstore.Store
	sub    *jobs.Submitter
	poller *jobs.Poller
}

func NewJobsHandler(store *jobstore.Store, sub *jobs.Submitter, poller *jobs.Poller) *JobsHandler {
	return &JobsHandler{store: store, sub: sub, poller: poller}
}

func (h *JobsHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Submit)
	r.Get("/recent", h.Recent)
	r.Get("/{id}", h.Get)
	r.Post("/{id}/wait", h.Wait)
	return r
}

type submitBody struct {
	Type       jobs.Type        `json:"type"`
	Scope      jobs.TargetScope `json:"scope"`
	Details    json.RawMessage  `json:"details,omitempty"`
	ScheduleAt *time.Time       `json:"schedule_at,omitempty"`
}

// Submit creates a job. The audit identity comes from the proxy header, not
// the body, so clients cannot submit as someone else.
func (h *JobsHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var body submitBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid json")
		return
	}
	rec, err := h.sub.Submit(r.Context(), jobs.SubmitRequest{
		Type:        body.Type,
		Scope:       body.Scope,
		RequestedBy: operatorFrom(r),
		Details:     body.Details,
		ScheduleAt:  body.ScheduleAt,
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	incJobSubmitted(string(rec.Type))
	httpx.WriteJSON(w, http.StatusAccepted, rec)
}

func (h *JobsHandler) Recent(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}
	recs, err := h.store.Recent(r.Context(), limit)
	if err != nil {
		writeErr(w, err)
		return
	}
	for _, rec := range recs {
		rec.Details = jobs.RedactDetails(rec.Type, rec.Details)
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"jobs": recs})
}

// Get returns the job row, with the structured result-table row attached
// when one exists.
func (h *JobsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, err := h.store.Get(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	rec.Details = jobs.RedactDetails(rec.Type, rec.Details)
	out := map[string]any{"job": rec}
	if sres, err := h.store.SafetyResult(r.Context(), id); err == nil && len(sres) > 0 {
		out["safety_result"] = sres
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

// Wait blocks until the job resolves or the polling budget runs out. A
// timeout is reported as 504 with the job id so the caller can keep
// watching; it does not mean the job failed.
func (h *JobsHandler) Wait(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	start := time.Now()
	out, err := h.poller.Wait(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	observeJobWait(start)
	out.Job.Details = jobs.RedactDetails(out.Job.Type, out.Job.Details)
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"job":       out.Job,
		"result":    out.ResultPayload(),
		"attempts":  out.Attempts,
		"waited_ms": out.Waited.Milliseconds(),
	})
}
