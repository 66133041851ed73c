package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/i0mja/dell-infra-sync-sub004/internal/inventory"
	"github.com/i0mja/dell-infra-sync-sub004/internal/jobs"
	"github.com/i0mja/dell-infra-sync-sub004/internal/jobstore"
	"github.com/i0mja/dell-infra-sync-sub004/internal/power"
	"github.com/i0mja/dell-infra-sync-sub004/internal/wizard"
	"github.com/i0mja/dell-infra-sync-sub004/pkg/httpx"
)

// writeErr maps domain errors onto the API's status codes and stable error
// codes. Anything unrecognized is a 500.
func writeErr(w http.ResponseWriter, err error) {
	var verr *jobs.ValidationError
	if errors.As(err, &verr) {
		httpx.WriteErrorWithDetails(w, http.StatusBadRequest, "validation.invalid", verr.Error(),
			map[string]any{"field": verr.Field})
		return
	}
	var gerr *wizard.GuardError
	if errors.As(err, &gerr) {
		// The unchecked review confirmation is the one guard the client can
		// satisfy by asking the operator, so it gets its own status.
		if gerr.Step == wizard.StepReview && strings.Contains(gerr.Reason, "confirmed") {
			httpx.WriteTypedError(w, http.StatusPreconditionRequired, "wizard.confirmation_required", gerr.Error(), 0)
			return
		}
		httpx.WriteTypedError(w, http.StatusPreconditionFailed, "wizard.guard", gerr.Error(), 0)
		return
	}
	var perr *jobs.PollTimeoutError
	if errors.As(err, &perr) {
		httpx.WriteTypedError(w, http.StatusGatewayTimeout, "job.poll_timeout", perr.Error(), 2)
		return
	}
	var ferr *jobs.JobFailedError
	if errors.As(err, &ferr) {
		httpx.WriteTypedError(w, http.StatusBadGateway, "job.failed", ferr.Error(), 0)
		return
	}
	var serr *jobs.SubmissionError
	if errors.As(err, &serr) {
		httpx.WriteTypedError(w, http.StatusInternalServerError, "job.submission_failed", serr.Error(), 0)
		return
	}
	var merr *malformedResultError
	if errors.As(err, &merr) {
		httpx.WriteTypedError(w, http.StatusBadGateway, "safety.malformed_result", merr.Error(), 0)
		return
	}

	switch {
	case errors.Is(err, jobs.ErrNotFound), errors.Is(err, inventory.ErrNotFound):
		httpx.WriteTypedError(w, http.StatusNotFound, "not_found", err.Error(), 0)
	case errors.Is(err, wizard.ErrSessionNotFound):
		httpx.WriteTypedError(w, http.StatusNotFound, "wizard.session_not_found", err.Error(), 0)
	case errors.Is(err, power.ErrNoPending):
		httpx.WriteTypedError(w, http.StatusNotFound, "outlet.no_pending", err.Error(), 0)
	case errors.Is(err, power.ErrNoOutlets):
		httpx.WriteTypedError(w, http.StatusNotFound, "outlet.unmapped", err.Error(), 0)
	case errors.Is(err, wizard.ErrBusy):
		httpx.WriteTypedError(w, http.StatusConflict, "wizard.busy", err.Error(), 1)
	case errors.Is(err, power.ErrBusy):
		httpx.WriteTypedError(w, http.StatusConflict, "outlet.busy", err.Error(), 1)
	case errors.Is(err, jobstore.ErrBadTransition):
		httpx.WriteTypedError(w, http.StatusConflict, "job.bad_transition", err.Error(), 0)
	default:
		httpx.WriteTypedError(w, http.StatusInternalServerError, "internal", err.Error(), 0)
	}
}
