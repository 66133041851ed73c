package safety

import (
	"strings"
	"time"
)

// Verdict is the three-valued outcome of a cluster safety evaluation.
type Verdict string

const (
	VerdictSafe    Verdict = "safe"
	VerdictCaution Verdict = "caution"
	VerdictUnsafe  Verdict = "unsafe"
)

// DRS automation levels as vCenter reports them.
const (
	DRSFullyAutomated     = "fullyAutomated"
	DRSPartiallyAutomated = "partiallyAutomated"
	DRSManual             = "manual"
)

type DRSConfig struct {
	Enabled         bool   `json:"enabled"`
	AutomationLevel string `json:"automation_level,omitempty"`
}

type VMSummary struct {
	Total                int `json:"total_vms"`
	PoweredOn            int `json:"powered_on_vms"`
	EstEvacuationMinutes int `json:"est_evacuation_minutes"`
}

// DeviceCheck is one named readiness probe against a management controller,
// e.g. "firmware_inventory" or "lifecycle_controller". Required checks gate
// the cluster verdict; the rest only produce warnings.
type DeviceCheck struct {
	Name     string `json:"name"`
	Passed   bool   `json:"passed"`
	Required bool   `json:"required"`
	Status   string `json:"status,omitempty"`
}

// DeviceReadiness is the per-iDRAC slice of a safety check result. Ready is
// the executor's own verdict for the device; the named checks explain it.
type DeviceReadiness struct {
	DeviceID string        `json:"device_id"`
	HostID   string        `json:"host_id,omitempty"`
	Ready    bool          `json:"ready"`
	Checks   []DeviceCheck `json:"checks,omitempty"`
}

// BlockerSeverity splits maintenance blockers into the two classes the
// analyzer cares about. Critical blockers stop a host from entering
// maintenance; warnings are surfaced but do not.
type BlockerSeverity string

const (
	SeverityCritical BlockerSeverity = "critical"
	SeverityWarning  BlockerSeverity = "warning"
)

// Blocker is one reason a host cannot (or should not) enter maintenance
// mode, as reported by the executor's vCenter sweep.
type Blocker struct {
	Type     string          `json:"type"`
	Severity BlockerSeverity `json:"severity"`
	Detail   string          `json:"detail,omitempty"`
}

// HostBlockers is the raw per-host blocker list inside a safety check
// result, before aggregation.
type HostBlockers struct {
	HostID   string    `json:"host_id"`
	Blockers []Blocker `json:"blockers,omitempty"`
}

// Result is the structured payload a completed cluster safety check leaves
// in the result table. SafeToProceed is the executor's stored opinion; the
// gate always rederives it and wins on disagreement.
type Result struct {
	ClusterID     string            `json:"cluster_id"`
	TotalHosts    int               `json:"total_hosts"`
	HealthyHosts  int               `json:"healthy_hosts"`
	MinRequired   int               `json:"min_required_hosts"`
	DRS           DRSConfig         `json:"drs"`
	VMs           VMSummary         `json:"vms"`
	Devices       []DeviceReadiness `json:"devices,omitempty"`
	Hosts         []HostBlockers    `json:"hosts,omitempty"`
	SafeToProceed bool              `json:"safe_to_proceed"`
	CheckedAt     time.Time         `json:"checked_at"`
}

// Assessment is what the gate produces from a Result. SafeToProceed and
// AllDevicesReady are reported separately from the verdict on purpose: the
// first ignores warnings entirely, the second ignores cluster capacity.
type Assessment struct {
	ClusterID       string   `json:"cluster_id"`
	Verdict         Verdict  `json:"verdict"`
	SafeToProceed   bool     `json:"safe_to_proceed"`
	AllDevicesReady bool     `json:"all_idrac_ready"`
	Reasons         []string `json:"reasons,omitempty"`
	Warnings        []string `json:"warnings,omitempty"`
}

// UnsafeError carries an unsafe assessment across API boundaries. It is
// advisory: callers surface it to the operator instead of aborting flows.
type UnsafeError struct {
	Assessment Assessment
}

func (e *UnsafeError) Error() string {
	if len(e.Assessment.Reasons) == 0 {
		return "cluster " + e.Assessment.ClusterID + " is unsafe to update"
	}
	return "cluster " + e.Assessment.ClusterID + " is unsafe to update: " + strings.Join(e.Assessment.Reasons, "; ")
}
