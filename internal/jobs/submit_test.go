package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
)

type fakeStore struct {
	mu        sync.Mutex
	created   []*Record
	createErr error
	getSeq    []getStep
	getCalls  int
	safety    json.RawMessage
	safetyErr error
}

type getStep struct {
	rec *Record
	err error
}

func (f *fakeStore) Create(_ context.Context, rec *Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	f.created = append(f.created, rec)
	return nil
}

func (f *fakeStore) Get(_ context.Context, _ string) (*Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	if len(f.getSeq) == 0 {
		return nil, ErrNotFound
	}
	step := f.getSeq[0]
	if len(f.getSeq) > 1 {
		f.getSeq = f.getSeq[1:]
	}
	return step.rec, step.err
}

func (f *fakeStore) SafetyResult(_ context.Context, _ string) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.safety, f.safetyErr
}

func (f *fakeStore) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.getCalls
}

func newTestSubmitter(store Store) *Submitter {
	return NewSubmitter(store, zerolog.Nop())
}

func TestSubmitFirmwareHappyPath(t *testing.T) {
	st := &fakeStore{}
	s := newTestSubmitter(st)
	rec, err := s.Submit(context.Background(), SubmitRequest{
		Type:        TypeFirmwareUpdate,
		Scope:       TargetScope{DeviceIDs: []string{"dev-1", "dev-2"}},
		RequestedBy: "ops@example.com",
		Details:     FirmwareUpdateDetails{Items: []FirmwareItem{{Component: "BIOS", Version: "2.19.0"}}},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if rec.ID == "" || rec.Status != StatusPending {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if len(st.created) != 1 {
		t.Fatalf("expected one created row, got %d", len(st.created))
	}
	if rec.CreatedAt.IsZero() {
		t.Fatalf("created_at not set")
	}
}

func TestSubmitScopeExactlyOne(t *testing.T) {
	st := &fakeStore{}
	s := newTestSubmitter(st)
	cases := []TargetScope{
		{},
		{DeviceIDs: []string{"d1"}, ClusterID: "c1"},
		{IPRange: "10.0.0.0/24", ClusterID: "c1"},
	}
	for i, scope := range cases {
		_, err := s.Submit(context.Background(), SubmitRequest{
			Type:        TypeFirmwareUpdate,
			Scope:       scope,
			RequestedBy: "ops",
			Details:     FirmwareUpdateDetails{Items: []FirmwareItem{{Component: "BIOS", Version: "1"}}},
		})
		var verr *ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("case %d: expected validation error, got %v", i, err)
		}
	}
	if len(st.created) != 0 {
		t.Fatalf("no rows should be written on validation failure")
	}
}

func TestSubmitFirmwareRequiresDevicesAndItems(t *testing.T) {
	s := newTestSubmitter(&fakeStore{})

	_, err := s.Submit(context.Background(), SubmitRequest{
		Type:        TypeFirmwareUpdate,
		Scope:       TargetScope{ClusterID: "c1"},
		RequestedBy: "ops",
		Details:     FirmwareUpdateDetails{Items: []FirmwareItem{{Component: "BIOS", Version: "1"}}},
	})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("cluster scope should be rejected: %v", err)
	}

	_, err = s.Submit(context.Background(), SubmitRequest{
		Type:        TypeFirmwareUpdate,
		Scope:       TargetScope{DeviceIDs: []string{"d1"}},
		RequestedBy: "ops",
		Details:     FirmwareUpdateDetails{},
	})
	if !errors.As(err, &verr) {
		t.Fatalf("empty item list should be rejected: %v", err)
	}
}

func TestSubmitRequiresAuditIdentity(t *testing.T) {
	s := newTestSubmitter(&fakeStore{})
	_, err := s.Submit(context.Background(), SubmitRequest{
		Type:    TypeFirmwareUpdate,
		Scope:   TargetScope{DeviceIDs: []string{"d1"}},
		Details: FirmwareUpdateDetails{Items: []FirmwareItem{{Component: "BIOS", Version: "1"}}},
	})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("missing identity should be rejected: %v", err)
	}
	if verr.Field != "requested_by" {
		t.Fatalf("unexpected field: %s", verr.Field)
	}

	// Read-only job types do not need the identity.
	_, err = s.Submit(context.Background(), SubmitRequest{
		Type:  TypeDiscoveryScan,
		Scope: TargetScope{IPRange: "192.168.10.0/24"},
	})
	if err != nil {
		t.Fatalf("discovery scan without identity: %v", err)
	}
}

func TestSubmitDiscoveryScanCredentialSetsOptional(t *testing.T) {
	st := &fakeStore{}
	s := newTestSubmitter(st)
	rec, err := s.Submit(context.Background(), SubmitRequest{
		Type:  TypeDiscoveryScan,
		Scope: TargetScope{IPRange: "10.20.0.1-10.20.0.50"},
	})
	if err != nil {
		t.Fatalf("submit without credential sets: %v", err)
	}
	var d DiscoveryScanDetails
	if err := json.Unmarshal(rec.Details, &d); err != nil {
		t.Fatalf("details: %v", err)
	}
	if d.CredentialSetIDs == nil || len(d.CredentialSetIDs) != 0 {
		t.Fatalf("credential sets should normalize to empty list, got %#v", d.CredentialSetIDs)
	}

	// Caller-provided order passes through untouched.
	rec, err = s.Submit(context.Background(), SubmitRequest{
		Type:    TypeDiscoveryScan,
		Scope:   TargetScope{IPRange: "10.20.0.0/24"},
		Details: DiscoveryScanDetails{CredentialSetIDs: []string{"cs-low", "cs-high", "cs-mid"}},
	})
	if err != nil {
		t.Fatalf("submit with credential sets: %v", err)
	}
	_ = json.Unmarshal(rec.Details, &d)
	if len(d.CredentialSetIDs) != 3 || d.CredentialSetIDs[0] != "cs-low" || d.CredentialSetIDs[2] != "cs-mid" {
		t.Fatalf("credential set order changed: %#v", d.CredentialSetIDs)
	}
}

func TestSubmitDiscoveryScanBadRange(t *testing.T) {
	s := newTestSubmitter(&fakeStore{})
	for _, r := range []string{"", "not-an-ip", "10.0.0.1-banana", "10.0.0.0/99"} {
		_, err := s.Submit(context.Background(), SubmitRequest{
			Type:  TypeDiscoveryScan,
			Scope: TargetScope{IPRange: r},
		})
		var verr *ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("range %q should be rejected, got %v", r, err)
		}
	}
}

func TestSubmitRollingUpdateCrossFieldRules(t *testing.T) {
	s := newTestSubmitter(&fakeStore{})
	submit := func(d RollingClusterUpdateDetails) error {
		_, err := s.Submit(context.Background(), SubmitRequest{
			Type: TypeRollingClusterUpdate, Scope: TargetScope{ClusterID: "c1"}, RequestedBy: "ops", Details: d,
		})
		return err
	}
	base := func(kind UpdateKind) RollingClusterUpdateDetails {
		return RollingClusterUpdateDetails{
			UpdateKind:      kind,
			Phases:          PhasesFor(kind),
			MaxParallel:     1,
			MinHealthyHosts: 1,
		}
	}
	var verr *ValidationError

	if err := submit(base(UpdateFirmwareOnly)); !errors.As(err, &verr) {
		t.Fatalf("firmware kind without items should be rejected: %v", err)
	}

	d := base(UpdateFirmwareOnly)
	d.FirmwareItems = []FirmwareItem{{Component: "BIOS", Version: "2.19.0"}}
	if err := submit(d); !errors.As(err, &verr) {
		t.Fatalf("item without image_uri should be rejected: %v", err)
	}
	d.FirmwareItems = []FirmwareItem{{Component: "BIOS", Version: "2.19.0", ImageURI: "https://dl.dell.com/bios-2.19.0.exe"}}
	if err := submit(d); err != nil {
		t.Fatalf("complete firmware selection should pass: %v", err)
	}

	d = base(UpdateHypervisorOnly)
	if err := submit(d); !errors.As(err, &verr) {
		t.Fatalf("hypervisor kind without baseline should be rejected: %v", err)
	}
	d.BaselineID = "esxi-8u3"
	if err := submit(d); !errors.As(err, &verr) {
		t.Fatalf("hypervisor kind without credentials should be rejected: %v", err)
	}
	d.CredentialSetID = "cs-1"
	d.HypervisorSecret = "hunter2"
	if err := submit(d); !errors.As(err, &verr) {
		t.Fatalf("two credential sources at once should be rejected: %v", err)
	}
	d.HypervisorSecret = ""
	if err := submit(d); err != nil {
		t.Fatalf("stored credential set should pass: %v", err)
	}
	d.CredentialSetID = ""
	d.HypervisorSecret = "hunter2"
	if err := submit(d); err != nil {
		t.Fatalf("manual secret should pass: %v", err)
	}

	for _, kind := range []UpdateKind{UpdateHypervisorThenFirmware, UpdateFirmwareThenHypervisor} {
		d = base(kind)
		d.FirmwareItems = []FirmwareItem{{Component: "iDRAC", Version: "7.00", ImageURI: "https://dl.dell.com/idrac-7.00.exe"}}
		if err := submit(d); !errors.As(err, &verr) {
			t.Fatalf("%s without baseline should be rejected: %v", kind, err)
		}
		d.BaselineID = "esxi-8u3"
		d.CredentialSetID = "cs-1"
		if err := submit(d); err != nil {
			t.Fatalf("%s with both payloads should pass: %v", kind, err)
		}
	}
}

func TestRedactDetailsMasksSecret(t *testing.T) {
	raw := json.RawMessage(`{"update_kind":"hypervisor_only","hypervisor_secret":"hunter2","baseline_id":"esxi-8u3"}`)
	out := RedactDetails(TypeRollingClusterUpdate, raw)
	var d RollingClusterUpdateDetails
	if err := json.Unmarshal(out, &d); err != nil {
		t.Fatalf("redacted payload must stay valid json: %v", err)
	}
	if d.HypervisorSecret != "[redacted]" {
		t.Fatalf("secret not masked: %q", d.HypervisorSecret)
	}
	if d.BaselineID != "esxi-8u3" {
		t.Fatalf("other fields must survive: %+v", d)
	}

	// Payloads without a secret and other job types come back untouched.
	plain := json.RawMessage(`{"update_kind":"firmware_only"}`)
	if out := RedactDetails(TypeRollingClusterUpdate, plain); string(out) != string(plain) {
		t.Fatalf("payload without secret changed: %s", out)
	}
	scan := json.RawMessage(`{"hypervisor_secret":"keep"}`)
	if out := RedactDetails(TypeDiscoveryScan, scan); string(out) != string(scan) {
		t.Fatalf("non-update payload changed: %s", out)
	}
}

func TestSubmitStoreErrorBecomesSubmissionError(t *testing.T) {
	st := &fakeStore{createErr: errors.New("disk full")}
	s := newTestSubmitter(st)
	_, err := s.Submit(context.Background(), SubmitRequest{
		Type:  TypeDiscoveryScan,
		Scope: TargetScope{IPRange: "10.0.0.0/24"},
	})
	var serr *SubmissionError
	if !errors.As(err, &serr) {
		t.Fatalf("expected submission error, got %v", err)
	}
	if serr.Type != TypeDiscoveryScan {
		t.Fatalf("wrong type on submission error: %s", serr.Type)
	}
	if !errors.Is(err, st.createErr) {
		t.Fatalf("cause should be preserved")
	}
}

func TestSubmitOutletControlRules(t *testing.T) {
	s := newTestSubmitter(&fakeStore{})

	_, err := s.Submit(context.Background(), SubmitRequest{
		Type:        TypeOutletControl,
		Scope:       TargetScope{DeviceIDs: []string{"d1", "d2"}},
		RequestedBy: "ops",
		Details:     OutletControlDetails{Targets: []OutletTarget{{PDUHost: "pdu-a", Outlet: 4}}, Action: OutletOff},
	})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("multi-device outlet control should be rejected: %v", err)
	}

	_, err = s.Submit(context.Background(), SubmitRequest{
		Type:        TypeOutletControl,
		Scope:       TargetScope{DeviceIDs: []string{"d1"}},
		RequestedBy: "ops",
		Details:     map[string]any{"targets": []map[string]any{{"pdu_host": "pdu-a", "outlet": 4}}, "action": "toggle"},
	})
	if !errors.As(err, &verr) {
		t.Fatalf("unknown action should be rejected: %v", err)
	}

	if _, err := s.Submit(context.Background(), SubmitRequest{
		Type:        TypeOutletControl,
		Scope:       TargetScope{DeviceIDs: []string{"d1"}},
		RequestedBy: "ops",
		Details: OutletControlDetails{
			Targets: []OutletTarget{{PDUHost: "pdu-a", Outlet: 4}, {PDUHost: "pdu-b", Outlet: 4}},
			Action:  OutletReboot,
		},
	}); err != nil {
		t.Fatalf("valid outlet control: %v", err)
	}
}
