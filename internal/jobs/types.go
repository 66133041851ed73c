package jobs

import (
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"time"
)

// Type names one of the long-running operations the executor knows how to
// run. The wire value is stored verbatim in the job table.
type Type string

const (
	TypeFirmwareUpdate       Type = "firmware_update"
	TypeDiscoveryScan        Type = "discovery_scan"
	TypeClusterSafetyCheck   Type = "cluster_safety_check"
	TypeRollingClusterUpdate Type = "rolling_cluster_update"
	TypeConsoleLaunch        Type = "console_launch"
	TypeOutletControl        Type = "outlet_control"
)

func (t Type) Valid() bool {
	switch t {
	case TypeFirmwareUpdate, TypeDiscoveryScan, TypeClusterSafetyCheck,
		TypeRollingClusterUpdate, TypeConsoleLaunch, TypeOutletControl:
		return true
	}
	return false
}

// RequiresAuditIdentity reports whether a job type changes power, boot or
// firmware state and therefore must carry the requesting operator's identity.
func (t Type) RequiresAuditIdentity() bool {
	switch t {
	case TypeFirmwareUpdate, TypeRollingClusterUpdate, TypeOutletControl:
		return true
	}
	return false
}

// Status is the lifecycle state of a job. Transitions only move forward;
// terminal states never change again.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

func (s Status) Terminal() bool { return s == StatusCompleted || s == StatusFailed }

// CanTransitionTo enforces the forward-only lifecycle. Terminal states are
// frozen; pending may skip straight to a terminal state when the executor
// fails a job before picking it up.
func (s Status) CanTransitionTo(next Status) bool {
	if !next.Valid() || s.Terminal() {
		return false
	}
	switch s {
	case StatusPending:
		return next == StatusRunning || next == StatusCompleted || next == StatusFailed
	case StatusRunning:
		return next == StatusCompleted || next == StatusFailed
	}
	return false
}

// TargetScope says what a job operates on. Exactly one of the three variants
// must be set: explicit device ids, an IP range to sweep, or a whole cluster.
type TargetScope struct {
	DeviceIDs []string `json:"device_ids,omitempty"`
	IPRange   string   `json:"ip_range,omitempty"`
	ClusterID string   `json:"cluster_id,omitempty"`
}

// Kind returns which variant is set: "devices", "ip_range", "cluster" or ""
// when empty or ambiguous.
func (s TargetScope) Kind() string {
	set := 0
	kind := ""
	if len(s.DeviceIDs) > 0 {
		set++
		kind = "devices"
	}
	if s.IPRange != "" {
		set++
		kind = "ip_range"
	}
	if s.ClusterID != "" {
		set++
		kind = "cluster"
	}
	if set != 1 {
		return ""
	}
	return kind
}

// Validate checks the exactly-one-variant rule and the syntax of the chosen
// variant. IP ranges accept a single address, CIDR, or a dashed start-end
// pair.
func (s TargetScope) Validate() error {
	switch s.Kind() {
	case "devices":
		for i, id := range s.DeviceIDs {
			if strings.TrimSpace(id) == "" {
				return &ValidationError{Field: "scope.device_ids", Reason: fmt.Sprintf("entry %d is empty", i)}
			}
		}
		return nil
	case "ip_range":
		return validateIPRange(s.IPRange)
	case "cluster":
		return nil
	}
	return &ValidationError{Field: "scope", Reason: "exactly one of device_ids, ip_range, cluster_id must be set"}
}

func validateIPRange(r string) error {
	if strings.Contains(r, "/") {
		if _, _, err := net.ParseCIDR(r); err != nil {
			return &ValidationError{Field: "scope.ip_range", Reason: "invalid CIDR: " + r}
		}
		return nil
	}
	if start, end, ok := strings.Cut(r, "-"); ok {
		if net.ParseIP(strings.TrimSpace(start)) == nil || net.ParseIP(strings.TrimSpace(end)) == nil {
			return &ValidationError{Field: "scope.ip_range", Reason: "invalid address range: " + r}
		}
		return nil
	}
	if net.ParseIP(strings.TrimSpace(r)) == nil {
		return &ValidationError{Field: "scope.ip_range", Reason: "invalid address: " + r}
	}
	return nil
}

// Record is one row of the job table. Details holds the type-specific
// request payload; Result holds whatever the executor reported inline on
// completion. Safety checks additionally write a structured row to the
// result table, which readers prefer over Result when present.
type Record struct {
	ID          string          `json:"id"`
	Type        Type            `json:"type"`
	Status      Status          `json:"status"`
	Scope       TargetScope     `json:"scope"`
	Details     json.RawMessage `json:"details,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	RequestedBy string          `json:"requested_by,omitempty"`
	ScheduleAt  *time.Time      `json:"schedule_at,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// UpdateKind selects what a rolling cluster update applies to each host and
// in which order. The two combined kinds differ only in whether the
// hypervisor baseline lands before or after the firmware push.
type UpdateKind string

const (
	UpdateFirmwareOnly           UpdateKind = "firmware_only"
	UpdateHypervisorOnly         UpdateKind = "hypervisor_only"
	UpdateHypervisorThenFirmware UpdateKind = "hypervisor_then_firmware"
	UpdateFirmwareThenHypervisor UpdateKind = "firmware_then_hypervisor"
)

func (k UpdateKind) Valid() bool {
	switch k {
	case UpdateFirmwareOnly, UpdateHypervisorOnly, UpdateHypervisorThenFirmware, UpdateFirmwareThenHypervisor:
		return true
	}
	return false
}

// IncludesFirmware reports whether the kind pushes firmware packages.
func (k UpdateKind) IncludesFirmware() bool {
	return k == UpdateFirmwareOnly || k == UpdateHypervisorThenFirmware || k == UpdateFirmwareThenHypervisor
}

// IncludesHypervisor reports whether the kind applies a hypervisor baseline.
func (k UpdateKind) IncludesHypervisor() bool {
	return k == UpdateHypervisorOnly || k == UpdateHypervisorThenFirmware || k == UpdateFirmwareThenHypervisor
}

// Phase names for rolling updates, in the order the executor runs them per
// host.
const (
	PhaseSafetyCheck      = "safety_check"
	PhaseEnterMaintenance = "enter_maintenance"
	PhaseApplyFirmware    = "apply_firmware"
	PhaseApplyBaseline    = "apply_baseline"
	PhaseExitMaintenance  = "exit_maintenance"
	PhaseVerifyHealth     = "verify_health"
)

// PhasesFor returns the ordered per-host phase list for an update kind. The
// apply phases appear in the order the kind names them.
func PhasesFor(kind UpdateKind) []string {
	switch kind {
	case UpdateFirmwareOnly:
		return []string{PhaseSafetyCheck, PhaseEnterMaintenance, PhaseApplyFirmware, PhaseExitMaintenance, PhaseVerifyHealth}
	case UpdateHypervisorOnly:
		return []string{PhaseSafetyCheck, PhaseEnterMaintenance, PhaseApplyBaseline, PhaseExitMaintenance, PhaseVerifyHealth}
	case UpdateHypervisorThenFirmware:
		return []string{PhaseSafetyCheck, PhaseEnterMaintenance, PhaseApplyBaseline, PhaseApplyFirmware, PhaseExitMaintenance, PhaseVerifyHealth}
	case UpdateFirmwareThenHypervisor:
		return []string{PhaseSafetyCheck, PhaseEnterMaintenance, PhaseApplyFirmware, PhaseApplyBaseline, PhaseExitMaintenance, PhaseVerifyHealth}
	}
	return nil
}

// FirmwareItem identifies one firmware package to apply.
type FirmwareItem struct {
	Component string `json:"component"`
	Version   string `json:"version"`
	ImageURI  string `json:"image_uri,omitempty"`
}

type FirmwareUpdateDetails struct {
	Items        []FirmwareItem `json:"items"`
	RebootPolicy string         `json:"reboot_policy,omitempty"`
}

// DiscoveryScanDetails lists credential sets to try against discovered
// endpoints, in priority order. The list is optional; an empty slice means
// the executor falls back to its default credentials.
type DiscoveryScanDetails struct {
	CredentialSetIDs []string `json:"credential_set_ids"`
}

type ClusterSafetyCheckDetails struct {
	SkipHostIDs []string `json:"skip_host_ids,omitempty"`
}

// RollingClusterUpdateDetails is the full orchestration plan handed to the
// executor. Exactly one of CredentialSetID and HypervisorSecret is set for
// kinds that touch the hypervisor; the stored reference is resolved by the
// executor in credential-store priority order.
type RollingClusterUpdateDetails struct {
	UpdateKind       UpdateKind     `json:"update_kind"`
	Phases           []string       `json:"phases"`
	FirmwareItems    []FirmwareItem `json:"firmware_items,omitempty"`
	BaselineID       string         `json:"baseline_id,omitempty"`
	CredentialSetID  string         `json:"credential_set_id,omitempty"`
	HypervisorSecret string         `json:"hypervisor_secret,omitempty"`
	MaxParallel      int            `json:"max_parallel"`
	MinHealthyHosts  int            `json:"min_healthy_hosts"`
	BackupFirst      bool           `json:"backup_first"`
	VerifyAfterEach  bool           `json:"verify_after_each"`
	StopOnError      bool           `json:"stop_on_error"`
	SkipHostIDs      []string       `json:"skip_host_ids,omitempty"`
}

// RedactDetails masks credential material in a details payload before it
// leaves through an operator-facing response. The executor claim path reads
// the stored row untouched.
func RedactDetails(t Type, raw json.RawMessage) json.RawMessage {
	if t != TypeRollingClusterUpdate || len(raw) == 0 {
		return raw
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return raw
	}
	if v, ok := m["hypervisor_secret"].(string); !ok || v == "" {
		return raw
	}
	m["hypervisor_secret"] = "[redacted]"
	out, err := json.Marshal(m)
	if err != nil {
		return raw
	}
	return out
}

type ConsoleLaunchDetails struct {
	Protocol string `json:"protocol,omitempty"`
}

// OutletAction is a PDU outlet operation.
type OutletAction string

const (
	OutletOn     OutletAction = "on"
	OutletOff    OutletAction = "off"
	OutletReboot OutletAction = "reboot"
)

func (a OutletAction) Valid() bool {
	return a == OutletOn || a == OutletOff || a == OutletReboot
}

// Destructive reports whether the action can cut power to a running host.
func (a OutletAction) Destructive() bool { return a == OutletOff || a == OutletReboot }

// OutletTarget names one PDU outlet. All-feeds actions on dual-fed servers
// may span two PDUs, so every target carries its own host.
type OutletTarget struct {
	PDUHost string `json:"pdu_host"`
	Outlet  int    `json:"outlet"`
}

type OutletControlDetails struct {
	Targets []OutletTarget `json:"targets"`
	Action  OutletAction   `json:"action"`
}
