package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Default polling budget. 2s x 30 attempts bounds every wait at one minute;
// anything slower than that is reported as a timeout, not a failure.
const (
	DefaultPollInterval = 2 * time.Second
	DefaultPollAttempts = 30
)

// Outcome is what a finished wait resolves to. SafetyResult is set when the
// result table holds a structured row for the job; it takes precedence over
// the inline Job.Result payload.
type Outcome struct {
	Job          *Record
	SafetyResult json.RawMessage
	Attempts     int
	Waited       time.Duration
}

// ResultPayload returns the authoritative result: the result-table row when
// one exists, otherwise whatever the executor reported inline.
func (o *Outcome) ResultPayload() json.RawMessage {
	if len(o.SafetyResult) > 0 {
		return o.SafetyResult
	}
	return o.Job.Result
}

// Poller waits for jobs to reach a terminal state by fetching the record at
// a fixed interval. Attempts are strictly sequential; a slow fetch delays the
// next one rather than overlapping it.
type Poller struct {
	store       Store
	interval    time.Duration
	maxAttempts int
	log         zerolog.Logger
}

func NewPoller(store Store, interval time.Duration, maxAttempts int, log zerolog.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultPollAttempts
	}
	return &Poller{
		store:       store,
		interval:    interval,
		maxAttempts: maxAttempts,
		log:         log.With().Str("component", "jobs.poller").Logger(),
	}
}

// Wait blocks until the job reaches a terminal state, the attempt budget is
// exhausted, the store errors, or ctx is done. Each attempt waits one
// interval and then fetches, so the ceiling is interval times maxAttempts.
//
// Resolution rules:
//   - completed: returns the Outcome, with the result-table row preferred
//     over inline details when present
//   - failed: returns *JobFailedError carrying the executor's message
//   - store fetch error: returns immediately with that error wrapped; the
//     remaining budget is not spent
//   - budget exhausted: returns *PollTimeoutError; the job may still be
//     running
func (p *Poller) Wait(ctx context.Context, jobID string) (*Outcome, error) {
	start := time.Now()
	timer := time.NewTimer(p.interval)
	defer timer.Stop()

	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}

		rec, err := p.store.Get(ctx, jobID)
		if err != nil {
			p.log.Error().Err(err).Str("job_id", jobID).Int("attempt", attempt).Msg("poll fetch failed")
			return nil, fmt.Errorf("polling job %s: %w", jobID, err)
		}

		switch rec.Status {
		case StatusCompleted:
			out := &Outcome{Job: rec, Attempts: attempt, Waited: time.Since(start)}
			if sres, err := p.store.SafetyResult(ctx, jobID); err != nil {
				p.log.Warn().Err(err).Str("job_id", jobID).Msg("result table read failed, using inline result")
			} else {
				out.SafetyResult = sres
			}
			p.log.Info().
				Str("event", "job.completed").
				Str("job_id", jobID).
				Int("attempts", attempt).
				Dur("waited", out.Waited).
				Msg("job completed")
			return out, nil
		case StatusFailed:
			p.log.Warn().
				Str("event", "job.failed").
				Str("job_id", jobID).
				Str("error", rec.Error).
				Int("attempts", attempt).
				Msg("job failed")
			return nil, &JobFailedError{JobID: jobID, Message: rec.Error}
		}

		if attempt < p.maxAttempts {
			timer.Reset(p.interval)
		}
	}

	waited := time.Since(start)
	p.log.Warn().
		Str("event", "job.poll_timeout").
		Str("job_id", jobID).
		Int("attempts", p.maxAttempts).
		Dur("waited", waited).
		Msg("poll budget exhausted")
	return nil, &PollTimeoutError{JobID: jobID, Attempts: p.maxAttempts, Waited: waited}
}
