package jobstore

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/i0mja/dell-infra-sync-sub004/internal/jobs"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "jobs.db"), zerolog.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func pendingJob(typ jobs.Type, scope jobs.TargetScope) *jobs.Record {
	return &jobs.Record{
		ID:        uuid.NewString(),
		Type:      typ,
		Status:    jobs.StatusPending,
		Scope:     scope,
		Details:   json.RawMessage(`{"credential_set_ids":[]}`),
		CreatedAt: time.Now().UTC(),
	}
}

func TestCreateGetRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rec := pendingJob(jobs.TypeDiscoveryScan, jobs.TargetScope{IPRange: "10.3.0.0/24"})
	rec.RequestedBy = "ops@example.com"
	if err := s.Create(ctx, rec); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := s.Get(ctx, rec.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Type != jobs.TypeDiscoveryScan || got.Status != jobs.StatusPending {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if got.Scope.IPRange != "10.3.0.0/24" || got.Scope.Kind() != "ip_range" {
		t.Fatalf("scope mismatch: %+v", got.Scope)
	}
	if string(got.Details) != `{"credential_set_ids":[]}` {
		t.Fatalf("details mismatch: %s", got.Details)
	}
	if got.RequestedBy != "ops@example.com" {
		t.Fatalf("requested_by mismatch: %s", got.RequestedBy)
	}
	if got.StartedAt != nil || got.CompletedAt != nil {
		t.Fatalf("pending job must not carry start or completion stamps")
	}
}

func TestGetUnknownJob(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.Get(context.Background(), "nope"); !errors.Is(err, jobs.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestStatusForwardOnly(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	rec := pendingJob(jobs.TypeFirmwareUpdate, jobs.TargetScope{DeviceIDs: []string{"d1"}})
	if err := s.Create(ctx, rec); err != nil {
		t.Fatal(err)
	}

	if err := s.UpdateStatus(ctx, rec.ID, jobs.StatusRunning, "", nil); err != nil {
		t.Fatalf("pending -> running: %v", err)
	}
	if err := s.UpdateStatus(ctx, rec.ID, jobs.StatusCompleted, "", json.RawMessage(`{"ok":true}`)); err != nil {
		t.Fatalf("running -> completed: %v", err)
	}

	// Terminal rows are frozen.
	if err := s.UpdateStatus(ctx, rec.ID, jobs.StatusRunning, "", nil); !errors.Is(err, ErrBadTransition) {
		t.Fatalf("completed -> running must be refused, got %v", err)
	}
	if err := s.UpdateStatus(ctx, rec.ID, jobs.StatusFailed, "late", nil); !errors.Is(err, ErrBadTransition) {
		t.Fatalf("completed -> failed must be refused, got %v", err)
	}

	got, err := s.Get(ctx, rec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != jobs.StatusCompleted || got.CompletedAt == nil || got.StartedAt == nil {
		t.Fatalf("terminal stamps missing: %+v", got)
	}
	if string(got.Result) != `{"ok":true}` {
		t.Fatalf("result not stored: %s", got.Result)
	}
}

func TestFailureStoresMessage(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	rec := pendingJob(jobs.TypeFirmwareUpdate, jobs.TargetScope{DeviceIDs: []string{"d1"}})
	if err := s.Create(ctx, rec); err != nil {
		t.Fatal(err)
	}
	// pending may fail straight away when the executor rejects the work.
	if err := s.UpdateStatus(ctx, rec.ID, jobs.StatusFailed, "unsupported model", nil); err != nil {
		t.Fatalf("pending -> failed: %v", err)
	}
	got, _ := s.Get(ctx, rec.ID)
	if got.Status != jobs.StatusFailed || got.Error != "unsupported model" {
		t.Fatalf("failure not recorded: %+v", got)
	}
}

func TestClaimNextOrderingAndScheduleGate(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first := pendingJob(jobs.TypeDiscoveryScan, jobs.TargetScope{IPRange: "10.0.0.0/24"})
	first.CreatedAt = time.Now().UTC().Add(-2 * time.Minute)
	second := pendingJob(jobs.TypeDiscoveryScan, jobs.TargetScope{IPRange: "10.1.0.0/24"})
	second.CreatedAt = time.Now().UTC().Add(-1 * time.Minute)
	future := pendingJob(jobs.TypeDiscoveryScan, jobs.TargetScope{IPRange: "10.2.0.0/24"})
	later := time.Now().UTC().Add(time.Hour)
	future.ScheduleAt = &later
	future.CreatedAt = time.Now().UTC().Add(-3 * time.Minute)

	for _, r := range []*jobs.Record{first, second, future} {
		if err := s.Create(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.ClaimNext(ctx)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if got.ID != first.ID {
		t.Fatalf("claim order: expected oldest eligible %s, got %s", first.ID, got.ID)
	}
	if got.Status != jobs.StatusRunning || got.StartedAt == nil {
		t.Fatalf("claim must mark running: %+v", got)
	}

	if got, err = s.ClaimNext(ctx); err != nil {
		t.Fatal(err)
	} else if got.ID != second.ID {
		t.Fatalf("expected %s next, got %s", second.ID, got.ID)
	}

	// The future-scheduled job is not eligible yet.
	if _, err := s.ClaimNext(ctx); !errors.Is(err, ErrEmpty) {
		t.Fatalf("expected empty queue, got %v", err)
	}
}

func TestSafetyResultRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	rec := pendingJob(jobs.TypeClusterSafetyCheck, jobs.TargetScope{ClusterID: "c1"})
	if err := s.Create(ctx, rec); err != nil {
		t.Fatal(err)
	}

	if got, err := s.SafetyResult(ctx, rec.ID); err != nil || got != nil {
		t.Fatalf("absent result should be nil,nil; got %s %v", got, err)
	}

	payload := json.RawMessage(`{"cluster_id":"c1","healthy_hosts":5}`)
	if err := s.PutSafetyResult(ctx, rec.ID, payload); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := s.SafetyResult(ctx, rec.ID)
	if err != nil || string(got) != string(payload) {
		t.Fatalf("round trip: %s %v", got, err)
	}

	// Replacement wins.
	if err := s.PutSafetyResult(ctx, rec.ID, json.RawMessage(`{"healthy_hosts":4}`)); err != nil {
		t.Fatal(err)
	}
	got, _ = s.SafetyResult(ctx, rec.ID)
	if string(got) != `{"healthy_hosts":4}` {
		t.Fatalf("replacement not applied: %s", got)
	}

	if err := s.PutSafetyResult(ctx, "missing-job", payload); !errors.Is(err, jobs.ErrNotFound) {
		t.Fatalf("result for unknown job must be refused, got %v", err)
	}
}

func TestRecentNewestFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)
	var ids []string
	for i := 0; i < 5; i++ {
		r := pendingJob(jobs.TypeDiscoveryScan, jobs.TargetScope{IPRange: "10.0.0.0/24"})
		r.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		if err := s.Create(ctx, r); err != nil {
			t.Fatal(err)
		}
		ids = append(ids, r.ID)
	}
	out, err := s.Recent(ctx, 3)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("limit not applied: %d", len(out))
	}
	if out[0].ID != ids[4] || out[2].ID != ids[2] {
		t.Fatalf("ordering wrong: got %s first", out[0].ID)
	}
}
