package safety

import "fmt"

// Evaluate runs the gate over a full safety check result with no hosts
// skipped.
func Evaluate(res Result) Assessment { return EvaluateWithSkips(res, nil) }

// EvaluateWithSkips is the authoritative safety gate. It is a pure function
// of the result and the operator's skip list; it performs no I/O and can be
// re-run any time the skip list changes without re-running the check.
//
// The cluster is unsafe when removing one host would drop healthy capacity
// below the configured minimum, when a required check failed on a device
// that is part of the run, or when any non-skipped host has a critical
// maintenance blocker. Otherwise warnings downgrade safe to caution.
func EvaluateWithSkips(res Result, skipHostIDs []string) Assessment {
	skip := make(map[string]bool, len(skipHostIDs))
	for _, id := range skipHostIDs {
		skip[id] = true
	}

	a := Assessment{
		ClusterID:       res.ClusterID,
		AllDevicesReady: allDevicesReady(res.Devices),
	}

	if res.HealthyHosts-1 < res.MinRequired {
		a.Reasons = append(a.Reasons, fmt.Sprintf(
			"taking one host down leaves %d healthy hosts, below the required minimum of %d",
			res.HealthyHosts-1, res.MinRequired))
	} else if res.HealthyHosts-1 == res.MinRequired {
		a.Warnings = append(a.Warnings, "cluster will run at minimum capacity while a host is updating")
	}

	for _, dev := range res.Devices {
		if dev.HostID != "" && skip[dev.HostID] {
			continue
		}
		for _, chk := range dev.Checks {
			if chk.Passed {
				continue
			}
			if chk.Required {
				a.Reasons = append(a.Reasons, fmt.Sprintf("device %s failed required check %s: %s", dev.DeviceID, chk.Name, chk.Status))
			} else {
				a.Warnings = append(a.Warnings, fmt.Sprintf("device %s failed check %s: %s", dev.DeviceID, chk.Name, chk.Status))
			}
		}
	}

	blockers := Analyze(res.Hosts, skipHostIDs)
	if blockers.ClusterBlocked {
		for _, host := range blockers.BlockedHosts {
			a.Reasons = append(a.Reasons, "host "+host+" cannot enter maintenance mode")
		}
	}
	if blockers.WarningCount > 0 {
		a.Warnings = append(a.Warnings, fmt.Sprintf("%d maintenance warnings across the cluster", blockers.WarningCount))
	}

	if !res.DRS.Enabled {
		a.Warnings = append(a.Warnings, "DRS is disabled; virtual machines will not evacuate automatically")
	} else if res.DRS.AutomationLevel != DRSFullyAutomated {
		a.Warnings = append(a.Warnings, "DRS automation level is "+res.DRS.AutomationLevel+"; migrations may need manual approval")
	}

	a.SafeToProceed = res.HealthyHosts-1 >= res.MinRequired && !blockers.ClusterBlocked
	switch {
	case len(a.Reasons) > 0:
		a.Verdict = VerdictUnsafe
	case len(a.Warnings) > 0:
		a.Verdict = VerdictCaution
	default:
		a.Verdict = VerdictSafe
	}
	return a
}

// SafeToProceed rederives the stored flag from first principles: enough
// healthy hosts to lose one, and no critical blocker on any host in the run.
// Warnings and device checks never factor in.
func SafeToProceed(res Result, skipHostIDs []string) bool {
	return res.HealthyHosts-1 >= res.MinRequired && !Analyze(res.Hosts, skipHostIDs).ClusterBlocked
}

func allDevicesReady(devices []DeviceReadiness) bool {
	for _, d := range devices {
		if !d.Ready {
			return false
		}
	}
	return true
}
