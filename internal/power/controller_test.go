package power

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/i0mja/dell-infra-sync-sub004/internal/inventory"
	"github.com/i0mja/dell-infra-sync-sub004/internal/jobs"
)

type fakeDirectory struct {
	outlets map[string][]inventory.OutletMapping
}

func (f *fakeDirectory) OutletsForDevice(deviceID string) []inventory.OutletMapping {
	return f.outlets[deviceID]
}

type fakeSubmitter struct {
	mu   sync.Mutex
	reqs []jobs.SubmitRequest
	err  error
}

func (f *fakeSubmitter) Submit(ctx context.Context, req jobs.SubmitRequest) (*jobs.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return nil, f.err
	}
	return &jobs.Record{ID: fmt.Sprintf("job-%d", len(f.reqs)), Type: req.Type, Status: jobs.StatusPending}, nil
}

func (f *fakeSubmitter) calls() []jobs.SubmitRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]jobs.SubmitRequest, len(f.reqs))
	copy(out, f.reqs)
	return out
}

// fakeWaiter reports each Wait entry on entered and blocks until the test
// pushes the result on release.
type fakeWaiter struct {
	entered chan string
	release chan error
}

func newFakeWaiter() *fakeWaiter {
	return &fakeWaiter{entered: make(chan string, 4), release: make(chan error, 4)}
}

func (f *fakeWaiter) Wait(ctx context.Context, jobID string) (*jobs.Outcome, error) {
	f.entered <- jobID
	if err := <-f.release; err != nil {
		return nil, err
	}
	return &jobs.Outcome{Job: &jobs.Record{ID: jobID, Status: jobs.StatusCompleted}, Attempts: 1}, nil
}

func newTestController(dir *fakeDirectory, sub *fakeSubmitter, w *fakeWaiter) *Controller {
	return NewController(dir, sub, w, time.Millisecond, zerolog.Nop())
}

func twoFeedDirectory() *fakeDirectory {
	return &fakeDirectory{outlets: map[string][]inventory.OutletMapping{
		"dev-1": {
			{ID: "o-a", DeviceID: "dev-1", PDUHost: "pdu-1", Outlet: 4, Feed: inventory.FeedA, State: inventory.OutletStateOn},
			{ID: "o-b", DeviceID: "dev-1", PDUHost: "pdu-2", Outlet: 4, Feed: inventory.FeedB, State: inventory.OutletStateOn},
		},
	}}
}

func waitPhase(t *testing.T, c *Controller, deviceID string, want Phase) Surface {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		s := c.Surface(deviceID)
		if s.Phase == want {
			return s
		}
		if time.Now().After(deadline) {
			t.Fatalf("surface for %s stuck in %s, want %s", deviceID, s.Phase, want)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestPowerOnSkipsConfirmation(t *testing.T) {
	sub := &fakeSubmitter{}
	w := newFakeWaiter()
	w.release <- nil
	c := newTestController(twoFeedDirectory(), sub, w)

	s, err := c.Request(context.Background(), ActionRequest{
		DeviceID: "dev-1", AllFeeds: true, Action: jobs.OutletOn, RequestedBy: "ops",
	})
	if err != nil {
		t.Fatalf("power on: %v", err)
	}
	if s.Phase != PhaseInFlight || s.Pending != nil {
		t.Fatalf("power on should go straight in flight, got %s pending=%v", s.Phase, s.Pending)
	}

	s = waitPhase(t, c, "dev-1", PhaseIdle)
	if s.LastError != "" {
		t.Fatalf("unexpected error on surface: %s", s.LastError)
	}
	if s.JobID != "job-1" {
		t.Fatalf("job id not recorded: %q", s.JobID)
	}

	calls := sub.calls()
	if len(calls) != 1 {
		t.Fatalf("expected one submit, got %d", len(calls))
	}
	if calls[0].Type != jobs.TypeOutletControl || calls[0].Scope.DeviceIDs[0] != "dev-1" {
		t.Fatalf("wrong job submitted: %+v", calls[0])
	}
	det, ok := calls[0].Details.(jobs.OutletControlDetails)
	if !ok {
		t.Fatalf("details type: %T", calls[0].Details)
	}
	if det.Action != jobs.OutletOn || len(det.Targets) != 2 {
		t.Fatalf("wrong details: %+v", det)
	}
	if det.Targets[0].PDUHost != "pdu-1" || det.Targets[1].PDUHost != "pdu-2" {
		t.Fatalf("targets should cover both PDUs: %+v", det.Targets)
	}
}

func TestPowerOffRequiresConfirmation(t *testing.T) {
	sub := &fakeSubmitter{}
	w := newFakeWaiter()
	c := newTestController(twoFeedDirectory(), sub, w)

	s, err := c.Request(context.Background(), ActionRequest{
		DeviceID: "dev-1", AllFeeds: true, Action: jobs.OutletOff, RequestedBy: "ops",
	})
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if s.Phase != PhasePending || s.Pending == nil {
		t.Fatalf("power off should park a pending action, got %s", s.Phase)
	}
	if !strings.Contains(s.Pending.Warning, "every mapped feed") {
		t.Fatalf("all-feeds warning should name the full outage: %q", s.Pending.Warning)
	}
	if len(sub.calls()) != 0 {
		t.Fatal("nothing may be submitted before confirmation")
	}

	if _, err := c.Confirm(context.Background(), "dev-1", "bogus"); !errors.Is(err, ErrNoPending) {
		t.Fatalf("confirm with wrong id: %v", err)
	}
	if got := c.Surface("dev-1"); got.Phase != PhasePending {
		t.Fatalf("wrong-id confirm must not disturb the pending action, got %s", got.Phase)
	}

	s, err = c.Confirm(context.Background(), "dev-1", s.Pending.ID)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if s.Phase != PhaseInFlight {
		t.Fatalf("confirmed action should be in flight, got %s", s.Phase)
	}

	w.release <- nil
	waitPhase(t, c, "dev-1", PhaseIdle)
	calls := sub.calls()
	if len(calls) != 1 {
		t.Fatalf("expected one submit after confirm, got %d", len(calls))
	}
	det := calls[0].Details.(jobs.OutletControlDetails)
	if det.Action != jobs.OutletOff {
		t.Fatalf("wrong action submitted: %s", det.Action)
	}
}

func TestSingleFeedWarningNamesRedundancyLoss(t *testing.T) {
	c := newTestController(twoFeedDirectory(), &fakeSubmitter{}, newFakeWaiter())

	s, err := c.Request(context.Background(), ActionRequest{
		DeviceID: "dev-1", OutletID: "o-a", Action: jobs.OutletOff, RequestedBy: "ops",
	})
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if len(s.Pending.Targets) != 1 || s.Pending.Targets[0].ID != "o-a" {
		t.Fatalf("wrong targets: %+v", s.Pending.Targets)
	}
	if !strings.Contains(s.Pending.Warning, "feed A only") || !strings.Contains(s.Pending.Warning, "feed B") {
		t.Fatalf("single-feed warning should name both sides: %q", s.Pending.Warning)
	}
	if !strings.Contains(s.Pending.Warning, "redundancy") {
		t.Fatalf("single-feed warning should mention redundancy: %q", s.Pending.Warning)
	}
}

func TestRebootWarnsAsPowerCycle(t *testing.T) {
	c := newTestController(twoFeedDirectory(), &fakeSubmitter{}, newFakeWaiter())

	s, err := c.Request(context.Background(), ActionRequest{
		DeviceID: "dev-1", OutletID: "o-b", Action: jobs.OutletReboot, RequestedBy: "ops",
	})
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if !strings.HasPrefix(s.Pending.Warning, "Power-cycling") {
		t.Fatalf("reboot warning wording: %q", s.Pending.Warning)
	}
}

func TestSurfaceAllowsOneActionAtATime(t *testing.T) {
	sub := &fakeSubmitter{}
	w := newFakeWaiter()
	c := newTestController(twoFeedDirectory(), sub, w)

	s, err := c.Request(context.Background(), ActionRequest{
		DeviceID: "dev-1", AllFeeds: true, Action: jobs.OutletOff, RequestedBy: "ops",
	})
	if err != nil {
		t.Fatalf("request: %v", err)
	}

	_, err = c.Request(context.Background(), ActionRequest{
		DeviceID: "dev-1", OutletID: "o-a", Action: jobs.OutletOn, RequestedBy: "ops",
	})
	if !errors.Is(err, ErrBusy) {
		t.Fatalf("second request on pending surface: %v", err)
	}

	pendingID := s.Pending.ID
	if _, err := c.Confirm(context.Background(), "dev-1", pendingID); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	<-w.entered

	_, err = c.Request(context.Background(), ActionRequest{
		DeviceID: "dev-1", AllFeeds: true, Action: jobs.OutletOn, RequestedBy: "ops",
	})
	if !errors.Is(err, ErrBusy) {
		t.Fatalf("request while in flight: %v", err)
	}
	if _, err := c.Confirm(context.Background(), "dev-1", pendingID); !errors.Is(err, ErrNoPending) {
		t.Fatalf("re-confirm while in flight: %v", err)
	}

	w.release <- nil
	waitPhase(t, c, "dev-1", PhaseIdle)

	w.release <- nil
	if _, err := c.Request(context.Background(), ActionRequest{
		DeviceID: "dev-1", AllFeeds: true, Action: jobs.OutletOn, RequestedBy: "ops",
	}); err != nil {
		t.Fatalf("surface should be reusable once idle: %v", err)
	}
	waitPhase(t, c, "dev-1", PhaseIdle)
}

func TestCancelFreesSurface(t *testing.T) {
	sub := &fakeSubmitter{}
	c := newTestController(twoFeedDirectory(), sub, newFakeWaiter())

	s, err := c.Request(context.Background(), ActionRequest{
		DeviceID: "dev-1", OutletID: "o-a", Action: jobs.OutletOff, RequestedBy: "ops",
	})
	if err != nil {
		t.Fatalf("request: %v", err)
	}

	if _, err := c.Cancel("dev-1", "bogus"); !errors.Is(err, ErrNoPending) {
		t.Fatalf("cancel with wrong id: %v", err)
	}
	got, err := c.Cancel("dev-1", s.Pending.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got.Phase != PhaseIdle || got.Pending != nil {
		t.Fatalf("cancel should return the surface to idle, got %s", got.Phase)
	}
	if len(sub.calls()) != 0 {
		t.Fatal("cancelled action must not submit")
	}

	if _, err := c.Request(context.Background(), ActionRequest{
		DeviceID: "dev-1", OutletID: "o-a", Action: jobs.OutletOff, RequestedBy: "ops",
	}); err != nil {
		t.Fatalf("new request after cancel: %v", err)
	}
}

func TestFailedJobFreesSurfaceWithError(t *testing.T) {
	sub := &fakeSubmitter{}
	w := newFakeWaiter()
	c := newTestController(twoFeedDirectory(), sub, w)

	s, err := c.Request(context.Background(), ActionRequest{
		DeviceID: "dev-1", AllFeeds: true, Action: jobs.OutletReboot, RequestedBy: "ops",
	})
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if _, err := c.Confirm(context.Background(), "dev-1", s.Pending.ID); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	w.release <- &jobs.JobFailedError{JobID: "job-1", Message: "pdu unreachable"}

	got := waitPhase(t, c, "dev-1", PhaseIdle)
	if !strings.Contains(got.LastError, "pdu unreachable") {
		t.Fatalf("failure should be kept on the surface: %q", got.LastError)
	}

	w.release <- nil
	if _, err := c.Request(context.Background(), ActionRequest{
		DeviceID: "dev-1", AllFeeds: true, Action: jobs.OutletOn, RequestedBy: "ops",
	}); err != nil {
		t.Fatalf("failed surface should accept a new action: %v", err)
	}
	got = waitPhase(t, c, "dev-1", PhaseIdle)
	if got.LastError != "" {
		t.Fatalf("success should clear the previous error, got %q", got.LastError)
	}
}

func TestSubmitErrorFreesSurface(t *testing.T) {
	sub := &fakeSubmitter{err: errors.New("job store down")}
	w := newFakeWaiter()
	c := newTestController(twoFeedDirectory(), sub, w)

	if _, err := c.Request(context.Background(), ActionRequest{
		DeviceID: "dev-1", AllFeeds: true, Action: jobs.OutletOn, RequestedBy: "ops",
	}); err != nil {
		t.Fatalf("request: %v", err)
	}
	got := waitPhase(t, c, "dev-1", PhaseIdle)
	if !strings.Contains(got.LastError, "job store down") {
		t.Fatalf("submit failure should land on the surface: %q", got.LastError)
	}
	if len(w.entered) != 0 {
		t.Fatal("nothing should be polled when submit fails")
	}
}

func TestSettlingReportedUntilRefresh(t *testing.T) {
	release := make(chan struct{})
	prev := settleSleep
	settleSleep = func(time.Duration) { <-release }
	defer func() { settleSleep = prev }()

	sub := &fakeSubmitter{}
	w := newFakeWaiter()
	w.release <- nil
	c := newTestController(twoFeedDirectory(), sub, w)

	if _, err := c.Request(context.Background(), ActionRequest{
		DeviceID: "dev-1", AllFeeds: true, Action: jobs.OutletOn, RequestedBy: "ops",
	}); err != nil {
		t.Fatalf("request: %v", err)
	}

	got := waitPhase(t, c, "dev-1", PhaseSettling)
	if got.JobID != "job-1" {
		t.Fatalf("settling surface should carry the job id, got %q", got.JobID)
	}
	_, err := c.Request(context.Background(), ActionRequest{
		DeviceID: "dev-1", AllFeeds: true, Action: jobs.OutletOff, RequestedBy: "ops",
	})
	if !errors.Is(err, ErrBusy) {
		t.Fatalf("settling surface should still be busy: %v", err)
	}

	close(release)
	waitPhase(t, c, "dev-1", PhaseIdle)
}

func TestRequestValidation(t *testing.T) {
	c := newTestController(twoFeedDirectory(), &fakeSubmitter{}, newFakeWaiter())
	ctx := context.Background()

	cases := []struct {
		name string
		req  ActionRequest
	}{
		{"unknown action", ActionRequest{DeviceID: "dev-1", AllFeeds: true, Action: "toggle", RequestedBy: "ops"}},
		{"missing identity", ActionRequest{DeviceID: "dev-1", AllFeeds: true, Action: jobs.OutletOn}},
		{"both selectors", ActionRequest{DeviceID: "dev-1", OutletID: "o-a", AllFeeds: true, Action: jobs.OutletOn, RequestedBy: "ops"}},
		{"no selector", ActionRequest{DeviceID: "dev-1", Action: jobs.OutletOn, RequestedBy: "ops"}},
		{"unmapped outlet", ActionRequest{DeviceID: "dev-1", OutletID: "o-z", Action: jobs.OutletOn, RequestedBy: "ops"}},
	}
	for _, tc := range cases {
		var verr *jobs.ValidationError
		if _, err := c.Request(ctx, tc.req); !errors.As(err, &verr) {
			t.Fatalf("%s: expected validation error, got %v", tc.name, err)
		}
	}

	if _, err := c.Request(ctx, ActionRequest{
		DeviceID: "dev-9", AllFeeds: true, Action: jobs.OutletOn, RequestedBy: "ops",
	}); !errors.Is(err, ErrNoOutlets) {
		t.Fatalf("device without outlets: %v", err)
	}
}
