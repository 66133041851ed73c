package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/i0mja/dell-infra-sync-sub004/internal/jobs"
	"github.com/i0mja/dell-infra-sync-sub004/internal/jobstore"
	"github.com/i0mja/dell-infra-sync-sub004/internal/safety"
	"github.com/i0mja/dell-infra-sync-sub004/pkg/httpx"
)

// SafetyHandler runs cluster safety checks and serves their assessments.
// The executor gathers the raw facts; the gate evaluation always happens
// here, on read, so a stale stored opinion can never override policy.
type SafetyHandler struct {
	store  *jobstore.Store
	sub    *jobs.Submitter
	poller *jobs.Poller
}

func NewSafetyHandler(store *jobstore.Store, sub *jobs.Submitter, poller *jobs.Poller) *SafetyHandler {
	return &SafetyHandler{store: store, sub: sub, poller: poller}
}

func (h *SafetyHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/cluster/{id}/check", h.RunCheck)
	r.Get("/cluster/{id}/last", h.Last)
	r.Post("/cluster/{id}/blockers", h.Blockers)
	return r
}

type checkBody struct {
	SkipHostIDs []string `json:"skip_host_ids,omitempty"`
}

type checkResponse struct {
	JobID      string                `json:"job_id"`
	Assessment safety.Assessment     `json:"assessment"`
	Blockers   safety.BlockerSummary `json:"blockers"`
	Result     safety.Result         `json:"result"`
}

// RunCheck submits a cluster safety check, waits for the executor and
// evaluates the gate over the structured result. An unsafe verdict is still
// a 200: the assessment is advice for the operator, not an API failure.
func (h *SafetyHandler) RunCheck(w http.ResponseWriter, r *http.Request) {
	clusterID := chi.URLParam(r, "id")
	var body checkBody
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			httpx.WriteError(w, http.StatusBadRequest, "invalid json")
			return
		}
	}

	rec, err := h.sub.Submit(r.Context(), jobs.SubmitRequest{
		Type:        jobs.TypeClusterSafetyCheck,
		Scope:       jobs.TargetScope{ClusterID: clusterID},
		RequestedBy: operatorFrom(r),
		Details:     jobs.ClusterSafetyCheckDetails{SkipHostIDs: body.SkipHostIDs},
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	incJobSubmitted(string(rec.Type))

	out, err := h.poller.Wait(r.Context(), rec.ID)
	if err != nil {
		writeErr(w, err)
		return
	}

	resp, err := evaluateCheck(rec.ID, out.ResultPayload(), body.SkipHostIDs)
	if err != nil {
		writeErr(w, err)
		return
	}
	incSafetyVerdict(string(resp.Assessment.Verdict))
	httpx.WriteJSON(w, http.StatusOK, resp)
}

// Last re-evaluates the most recent completed safety check for the cluster.
func (h *SafetyHandler) Last(w http.ResponseWriter, r *http.Request) {
	clusterID := chi.URLParam(r, "id")
	rec, skips, found, err := h.lastCheck(r, clusterID)
	if err != nil {
		writeErr(w, err)
		return
	}
	if !found {
		httpx.WriteTypedError(w, http.StatusNotFound, "safety.no_check", "no completed safety check for cluster "+clusterID, 0)
		return
	}
	payload, err := h.store.SafetyResult(r.Context(), rec.ID)
	if err != nil {
		writeErr(w, err)
		return
	}
	if len(payload) == 0 {
		payload = rec.Result
	}
	resp, err := evaluateCheck(rec.ID, payload, skips)
	if err != nil {
		writeErr(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

// Blockers reruns the maintenance aggregation over the latest stored check
// with an ad-hoc skip list, so the UI can preview the effect of excluding a
// host without another executor sweep.
func (h *SafetyHandler) Blockers(w http.ResponseWriter, r *http.Request) {
	clusterID := chi.URLParam(r, "id")
	var body checkBody
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			httpx.WriteError(w, http.StatusBadRequest, "invalid json")
			return
		}
	}
	rec, _, found, err := h.lastCheck(r, clusterID)
	if err != nil {
		writeErr(w, err)
		return
	}
	if !found {
		httpx.WriteTypedError(w, http.StatusNotFound, "safety.no_check", "no completed safety check for cluster "+clusterID, 0)
		return
	}
	payload, err := h.store.SafetyResult(r.Context(), rec.ID)
	if err != nil {
		writeErr(w, err)
		return
	}
	if len(payload) == 0 {
		payload = rec.Result
	}
	var res safety.Result
	if err := json.Unmarshal(payload, &res); err != nil {
		httpx.WriteTypedError(w, http.StatusBadGateway, "safety.malformed_result", err.Error(), 0)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"job_id":   rec.ID,
		"blockers": safety.Analyze(res.Hosts, body.SkipHostIDs),
	})
}

// lastCheck scans recent jobs for the newest completed safety check against
// the cluster, returning the skip list the check ran with.
func (h *SafetyHandler) lastCheck(r *http.Request, clusterID string) (*jobs.Record, []string, bool, error) {
	recs, err := h.store.Recent(r.Context(), 200)
	if err != nil {
		return nil, nil, false, err
	}
	for _, rec := range recs {
		if rec.Type != jobs.TypeClusterSafetyCheck || rec.Status != jobs.StatusCompleted {
			continue
		}
		if rec.Scope.ClusterID != clusterID {
			continue
		}
		var det jobs.ClusterSafetyCheckDetails
		_ = json.Unmarshal(rec.Details, &det)
		return rec, det.SkipHostIDs, true, nil
	}
	return nil, nil, false, nil
}

func evaluateCheck(jobID string, payload json.RawMessage, skips []string) (*checkResponse, error) {
	var res safety.Result
	if err := json.Unmarshal(payload, &res); err != nil {
		return nil, &malformedResultError{cause: err}
	}
	return &checkResponse{
		JobID:      jobID,
		Assessment: safety.EvaluateWithSkips(res, skips),
		Blockers:   safety.Analyze(res.Hosts, skips),
		Result:     res,
	}, nil
}

// malformedResultError marks a completed job whose result payload does not
// parse as a safety result.
type malformedResultError struct {
	cause error
}

func (e *malformedResultError) Error() string {
	return "safety check result is not decodable: " + e.cause.Error()
}
