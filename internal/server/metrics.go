package server

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/expfmt"

	"github.com/i0mja/dell-infra-sync-sub004/pkg/execclient"
)

var (
	jobsSubmittedTotal = prom.NewCounterVec(
		prom.CounterOpts{
			Name: "isync_jobs_submitted_total",
			Help: "Jobs submitted through the API by type.",
		},
		[]string{"type"},
	)
	jobsTerminalTotal = prom.NewCounterVec(
		prom.CounterOpts{
			Name: "isync_jobs_terminal_total",
			Help: "Jobs the executor reported terminal by status.",
		},
		[]string{"status"},
	)
	jobWaitDuration = prom.NewHistogram(
		prom.HistogramOpts{
			Name:    "isync_job_wait_duration_seconds",
			Help:    "Time API callers spent waiting on job completion.",
			Buckets: prom.DefBuckets,
		},
	)
	safetyVerdictsTotal = prom.NewCounterVec(
		prom.CounterOpts{
			Name: "isync_safety_verdicts_total",
			Help: "Cluster safety assessments by verdict.",
		},
		[]string{"verdict"},
	)
	outletActionsTotal = prom.NewCounterVec(
		prom.CounterOpts{
			Name: "isync_outlet_actions_total",
			Help: "Outlet actions accepted by action.",
		},
		[]string{"action"},
	)
	wizardSubmissionsTotal = prom.NewCounter(
		prom.CounterOpts{
			Name: "isync_wizard_submissions_total",
			Help: "Rolling update jobs submitted from the wizard.",
		},
	)
	executorClaimsTotal = prom.NewCounter(
		prom.CounterOpts{
			Name: "isync_executor_claims_total",
			Help: "Jobs handed to the executor.",
		},
	)
)

func init() {
	prom.MustRegister(jobsSubmittedTotal)
	prom.MustRegister(jobsTerminalTotal)
	prom.MustRegister(jobWaitDuration)
	prom.MustRegister(safetyVerdictsTotal)
	prom.MustRegister(outletActionsTotal)
	prom.MustRegister(wizardSubmissionsTotal)
	prom.MustRegister(executorClaimsTotal)
}

func incJobSubmitted(jobType string)       { jobsSubmittedTotal.WithLabelValues(jobType).Inc() }
func incJobTerminal(status string)         { jobsTerminalTotal.WithLabelValues(status).Inc() }
func observeJobWait(start time.Time)       { jobWaitDuration.Observe(time.Since(start).Seconds()) }
func incSafetyVerdict(verdict string)      { safetyVerdictsTotal.WithLabelValues(verdict).Inc() }
func incOutletAction(action string)        { outletActionsTotal.WithLabelValues(action).Inc() }
func incWizardSubmission()                 { wizardSubmissionsTotal.Inc() }
func incExecutorClaim()                    { executorClaimsTotal.Inc() }

// mountMetricsRoutes exposes the daemon's own metrics and /metrics/all,
// which appends the executor's exposition so one scrape covers both
// processes.
func mountMetricsRoutes(r chi.Router, exec *execclient.Client) {
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/metrics/all", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		enc := expfmt.NewEncoder(w, expfmt.FmtText)
		mfs, _ := prom.DefaultGatherer.Gather()
		for _, mf := range mfs {
			_ = enc.Encode(mf)
		}
		_, _ = w.Write([]byte("# executor metrics\n"))
		if exec == nil {
			_, _ = w.Write([]byte("# executor metrics unavailable: no client\n"))
			return
		}
		ctx, cancel := context.WithTimeout(req.Context(), 500*time.Millisecond)
		defer cancel()
		body, err := exec.Metrics(ctx)
		if err != nil {
			_, _ = w.Write([]byte("# executor metrics unavailable: " + err.Error() + "\n"))
			return
		}
		defer body.Close()
		_, _ = io.Copy(w, body)
	})
}
