package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func rec(status Status) *Record {
	return &Record{ID: "job-1", Type: TypeClusterSafetyCheck, Status: status}
}

func newTestPoller(st Store, attempts int) *Poller {
	return NewPoller(st, time.Millisecond, attempts, zerolog.Nop())
}

func TestWaitResolvesOnCompletion(t *testing.T) {
	st := &fakeStore{getSeq: []getStep{
		{rec: rec(StatusPending)},
		{rec: rec(StatusRunning)},
		{rec: rec(StatusCompleted)},
	}}
	out, err := newTestPoller(st, 10).Wait(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if out.Attempts != 3 {
		t.Fatalf("expected resolution on attempt 3, got %d", out.Attempts)
	}
	if st.calls() != 3 {
		t.Fatalf("no polls may happen after resolution, got %d fetches", st.calls())
	}
}

func TestWaitTimeoutIsNotFailure(t *testing.T) {
	st := &fakeStore{getSeq: []getStep{{rec: rec(StatusRunning)}}}
	_, err := newTestPoller(st, 3).Wait(context.Background(), "job-1")

	var timeout *PollTimeoutError
	if !errors.As(err, &timeout) {
		t.Fatalf("expected poll timeout, got %v", err)
	}
	var failed *JobFailedError
	if errors.As(err, &failed) {
		t.Fatalf("timeout must not be a job failure")
	}
	if timeout.Attempts != 3 {
		t.Fatalf("attempts: %d", timeout.Attempts)
	}
	if !strings.Contains(err.Error(), "may still be running") {
		t.Fatalf("timeout message should say the job may still be running: %q", err.Error())
	}
	if st.calls() != 3 {
		t.Fatalf("budget of 3 means exactly 3 fetches, got %d", st.calls())
	}
}

func TestWaitFailureCarriesExecutorMessage(t *testing.T) {
	failedRec := rec(StatusFailed)
	failedRec.Error = "iDRAC rejected image signature"
	st := &fakeStore{getSeq: []getStep{{rec: failedRec}}}
	_, err := newTestPoller(st, 5).Wait(context.Background(), "job-1")

	var jfe *JobFailedError
	if !errors.As(err, &jfe) {
		t.Fatalf("expected job failure, got %v", err)
	}
	if jfe.Message != "iDRAC rejected image signature" {
		t.Fatalf("message: %q", jfe.Message)
	}

	// Missing executor message falls back to a generic one.
	st = &fakeStore{getSeq: []getStep{{rec: rec(StatusFailed)}}}
	_, err = newTestPoller(st, 5).Wait(context.Background(), "job-1")
	if !errors.As(err, &jfe) {
		t.Fatalf("expected job failure, got %v", err)
	}
	if !strings.Contains(err.Error(), "without a reported cause") {
		t.Fatalf("generic fallback missing: %q", err.Error())
	}
}

func TestWaitStoreErrorResolvesImmediately(t *testing.T) {
	boom := errors.New("connection refused")
	st := &fakeStore{getSeq: []getStep{{err: boom}}}
	_, err := newTestPoller(st, 30).Wait(context.Background(), "job-1")
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped store error, got %v", err)
	}
	if st.calls() != 1 {
		t.Fatalf("a fetch error must stop polling at once, got %d fetches", st.calls())
	}
}

func TestWaitResultTableTakesPrecedence(t *testing.T) {
	done := rec(StatusCompleted)
	done.Result = json.RawMessage(`{"source":"inline"}`)
	st := &fakeStore{
		getSeq: []getStep{{rec: done}},
		safety: json.RawMessage(`{"source":"table"}`),
	}
	out, err := newTestPoller(st, 5).Wait(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	var payload struct {
		Source string `json:"source"`
	}
	if err := json.Unmarshal(out.ResultPayload(), &payload); err != nil {
		t.Fatalf("result payload: %v", err)
	}
	if payload.Source != "table" {
		t.Fatalf("result table row must win over inline details, got %q", payload.Source)
	}

	// Without a table row the inline payload is used.
	st = &fakeStore{getSeq: []getStep{{rec: done}}}
	out, err = newTestPoller(st, 5).Wait(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	_ = json.Unmarshal(out.ResultPayload(), &payload)
	if payload.Source != "inline" {
		t.Fatalf("inline fallback broken, got %q", payload.Source)
	}
}

func TestWaitResultTableReadFailureFallsBack(t *testing.T) {
	done := rec(StatusCompleted)
	done.Result = json.RawMessage(`{"source":"inline"}`)
	st := &fakeStore{
		getSeq:    []getStep{{rec: done}},
		safetyErr: errors.New("table locked"),
	}
	out, err := newTestPoller(st, 5).Wait(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("a result table read failure must not fail the wait: %v", err)
	}
	if string(out.ResultPayload()) != `{"source":"inline"}` {
		t.Fatalf("expected inline fallback, got %s", out.ResultPayload())
	}
}

func TestWaitContextCancelStopsPolling(t *testing.T) {
	st := &fakeStore{getSeq: []getStep{{rec: rec(StatusRunning)}}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewPoller(st, time.Hour, 30, zerolog.Nop()).Wait(ctx, "job-1")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
	if st.calls() != 0 {
		t.Fatalf("no fetch should happen after cancellation, got %d", st.calls())
	}
}

func TestPollerDefaultsApplied(t *testing.T) {
	p := NewPoller(&fakeStore{}, 0, 0, zerolog.Nop())
	if p.interval != DefaultPollInterval || p.maxAttempts != DefaultPollAttempts {
		t.Fatalf("defaults not applied: %v %d", p.interval, p.maxAttempts)
	}
}
