package wizard

import (
	"fmt"
	"time"

	"github.com/i0mja/dell-infra-sync-sub004/internal/jobs"
)

// Step is one of the five wizard screens, in order. Movement is strictly
// linear: Next and Back shift by exactly one step when the guards allow it.
type Step int

const (
	StepClusterSelection Step = iota + 1
	StepUpdateSelection
	StepConfiguration
	StepReview
	StepExecution
)

func (s Step) String() string {
	switch s {
	case StepClusterSelection:
		return "cluster_selection"
	case StepUpdateSelection:
		return "update_selection"
	case StepConfiguration:
		return "configuration"
	case StepReview:
		return "review"
	case StepExecution:
		return "execution"
	}
	return fmt.Sprintf("step(%d)", int(s))
}

// ClusterCheck is the stored outcome of the operator-triggered capacity
// check on step one. Changing the cluster throws it away.
type ClusterCheck struct {
	Healthy     int       `json:"healthy_hosts"`
	MinRequired int       `json:"min_required_hosts"`
	Passed      bool      `json:"passed"`
	CheckedAt   time.Time `json:"checked_at"`
}

// Configuration holds the step-three policy knobs. Out-of-range values are
// pulled back to safe defaults rather than rejected, which is why that
// step's guard always passes.
type Configuration struct {
	BackupFirst     bool `json:"backup_first"`
	MinHealthyHosts int  `json:"min_healthy_hosts"`
	MaxParallel     int  `json:"max_parallel"`
	VerifyAfterEach bool `json:"verify_after_each"`
	StopOnError     bool `json:"stop_on_error"`
}

// defaultConfiguration is the safe starting point: back up first, verify
// every host, one host at a time, never dip below one healthy host, stop at
// the first failure.
func defaultConfiguration() Configuration {
	return Configuration{
		BackupFirst:     true,
		MinHealthyHosts: 1,
		MaxParallel:     1,
		VerifyAfterEach: true,
		StopOnError:     true,
	}
}

// normalized clamps the numeric knobs into their valid ranges.
func (c Configuration) normalized() Configuration {
	if c.MaxParallel < 1 {
		c.MaxParallel = 1
	}
	if c.MinHealthyHosts < 1 {
		c.MinHealthyHosts = 1
	}
	return c
}

// UpdateSelection carries the step-two fields as one unit. ManualSecret is
// accepted on write but never echoed back in session snapshots.
type UpdateSelection struct {
	Kind            jobs.UpdateKind     `json:"update_kind"`
	FirmwareItems   []jobs.FirmwareItem `json:"firmware_items,omitempty"`
	BaselineID      string              `json:"baseline_id,omitempty"`
	CredentialSetID string              `json:"credential_set_id,omitempty"`
	ManualSecret    string              `json:"manual_secret,omitempty"`
}

// Session is one operator's pass through the wizard. Sessions live only in
// memory: closing the wizard discards them, and reopening starts fresh
// unless the UI reseeds state it kept for itself.
type Session struct {
	ID          string    `json:"id"`
	Step        Step      `json:"step"`
	RequestedBy string    `json:"requested_by"`
	CreatedAt   time.Time `json:"created_at"`

	ClusterID    string        `json:"cluster_id,omitempty"`
	ClusterInfo  bool          `json:"cluster_info_fetched"`
	ClusterCheck *ClusterCheck `json:"cluster_check,omitempty"`

	UpdateKind      jobs.UpdateKind     `json:"update_kind,omitempty"`
	FirmwareItems   []jobs.FirmwareItem `json:"firmware_items,omitempty"`
	BaselineID      string              `json:"baseline_id,omitempty"`
	CredentialSetID string              `json:"credential_set_id,omitempty"`
	ManualSecret    string              `json:"-"`
	ManualSecretSet bool                `json:"manual_secret_set,omitempty"`

	Config      Configuration `json:"config"`
	SkipHostIDs []string      `json:"skip_host_ids,omitempty"`

	Confirmed bool   `json:"confirmed"`
	JobID     string `json:"job_id,omitempty"`
	LastError string `json:"last_error,omitempty"`

	busy bool
}

// Estimate is the advisory duration math shown on the review screen. It
// never gates anything.
type Estimate struct {
	Hosts        int `json:"hosts"`
	Batches      int `json:"batches"`
	ItemsPerHost int `json:"items_per_host"`
	TotalMinutes int `json:"total_minutes"`
}

// Flat per-item application cost used by the estimate. Real runs vary
// wildly; the number only has to be in the right ballpark for planning.
const minutesPerItem = 15

func estimate(hosts, maxParallel, itemsPerHost int) Estimate {
	if maxParallel < 1 {
		maxParallel = 1
	}
	if hosts < 0 {
		hosts = 0
	}
	batches := (hosts + maxParallel - 1) / maxParallel
	return Estimate{
		Hosts:        hosts,
		Batches:      batches,
		ItemsPerHost: itemsPerHost,
		TotalMinutes: batches * itemsPerHost * minutesPerItem,
	}
}

// itemsPerHost is the serial work per host an update kind implies: one unit
// per firmware item, one for a hypervisor baseline. Ordering does not change
// the count, so both combined kinds cost the same.
func itemsPerHost(kind jobs.UpdateKind, firmwareItems int) int {
	switch kind {
	case jobs.UpdateFirmwareOnly:
		return firmwareItems
	case jobs.UpdateHypervisorOnly:
		return 1
	case jobs.UpdateHypervisorThenFirmware, jobs.UpdateFirmwareThenHypervisor:
		return firmwareItems + 1
	}
	return 0
}
