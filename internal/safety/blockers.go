package safety

// HostAnalysis is the aggregated maintenance view for one host.
// CanEnterMaintenance is false exactly when the host has at least one
// critical blocker; warnings never flip it.
type HostAnalysis struct {
	HostID              string    `json:"host_id"`
	Blockers            []Blocker `json:"blockers,omitempty"`
	CanEnterMaintenance bool      `json:"can_enter_maintenance"`
	Skipped             bool      `json:"skipped,omitempty"`
}

// BlockerSummary is the cluster-level rollup over every analyzed host.
// Skipped hosts keep their per-host analysis but are excluded from the
// cluster verdict and from BlockedHosts.
type BlockerSummary struct {
	Hosts          []HostAnalysis `json:"hosts"`
	CriticalCount  int            `json:"critical_count"`
	WarningCount   int            `json:"warning_count"`
	BlockedHosts   []string       `json:"blocked_hosts,omitempty"`
	SkippedHosts   []string       `json:"skipped_hosts,omitempty"`
	ClusterBlocked bool           `json:"cluster_blocked"`
}

// Analyze aggregates raw per-host blockers. It only groups and counts what
// the executor reported; it never talks to vCenter itself. skipHostIDs marks
// hosts the operator excluded from the upcoming update: their blockers stay
// visible but stop counting toward the cluster rollup.
func Analyze(hosts []HostBlockers, skipHostIDs []string) BlockerSummary {
	skip := make(map[string]bool, len(skipHostIDs))
	for _, id := range skipHostIDs {
		skip[id] = true
	}

	summary := BlockerSummary{Hosts: make([]HostAnalysis, 0, len(hosts))}
	for _, h := range hosts {
		analysis := HostAnalysis{
			HostID:              h.HostID,
			Blockers:            h.Blockers,
			CanEnterMaintenance: true,
			Skipped:             skip[h.HostID],
		}
		for _, b := range h.Blockers {
			if b.Severity == SeverityCritical {
				analysis.CanEnterMaintenance = false
			}
		}
		if analysis.Skipped {
			summary.SkippedHosts = append(summary.SkippedHosts, h.HostID)
		} else {
			for _, b := range h.Blockers {
				switch b.Severity {
				case SeverityCritical:
					summary.CriticalCount++
				case SeverityWarning:
					summary.WarningCount++
				}
			}
			if !analysis.CanEnterMaintenance {
				summary.BlockedHosts = append(summary.BlockedHosts, h.HostID)
				summary.ClusterBlocked = true
			}
		}
		summary.Hosts = append(summary.Hosts, analysis)
	}
	return summary
}
