package safety

import "testing"

func TestAnalyzeMaintenanceInvariants(t *testing.T) {
	hosts := []HostBlockers{
		{HostID: "esx-1"},
		{HostID: "esx-2", Blockers: []Blocker{
			{Type: "vm_affinity", Severity: SeverityWarning, Detail: "soft rule"},
		}},
		{HostID: "esx-3", Blockers: []Blocker{
			{Type: "local_storage_vm", Severity: SeverityCritical},
			{Type: "vm_affinity", Severity: SeverityWarning},
		}},
	}

	s := Analyze(hosts, nil)
	if len(s.Hosts) != 3 {
		t.Fatalf("every host keeps an analysis row, got %d", len(s.Hosts))
	}
	byID := map[string]HostAnalysis{}
	for _, h := range s.Hosts {
		byID[h.HostID] = h
	}
	if !byID["esx-1"].CanEnterMaintenance {
		t.Fatalf("no blockers means maintenance is allowed")
	}
	if !byID["esx-2"].CanEnterMaintenance {
		t.Fatalf("warnings alone must not block maintenance")
	}
	if byID["esx-3"].CanEnterMaintenance {
		t.Fatalf("a critical blocker must block maintenance")
	}
	if s.CriticalCount != 1 || s.WarningCount != 2 {
		t.Fatalf("counts: %d critical %d warning", s.CriticalCount, s.WarningCount)
	}
	if !s.ClusterBlocked || len(s.BlockedHosts) != 1 || s.BlockedHosts[0] != "esx-3" {
		t.Fatalf("rollup: %+v", s)
	}
}

func TestAnalyzeSkipNarrowsRollupOnly(t *testing.T) {
	hosts := []HostBlockers{
		{HostID: "esx-1", Blockers: []Blocker{{Type: "pinned_vm", Severity: SeverityCritical}}},
		{HostID: "esx-2"},
	}

	s := Analyze(hosts, []string{"esx-1"})
	if s.ClusterBlocked {
		t.Fatalf("a skipped host must not block the cluster")
	}
	if s.CriticalCount != 0 {
		t.Fatalf("skipped host blockers must not be counted, got %d", s.CriticalCount)
	}
	if len(s.SkippedHosts) != 1 || s.SkippedHosts[0] != "esx-1" {
		t.Fatalf("skip bookkeeping: %+v", s.SkippedHosts)
	}

	// The per-host view still tells the truth.
	for _, h := range s.Hosts {
		if h.HostID == "esx-1" {
			if h.CanEnterMaintenance {
				t.Fatalf("skipping does not make the host maintenance-safe")
			}
			if !h.Skipped {
				t.Fatalf("skipped host not marked")
			}
		}
	}
}

func TestAnalyzeEmpty(t *testing.T) {
	s := Analyze(nil, nil)
	if s.ClusterBlocked || s.CriticalCount != 0 || len(s.Hosts) != 0 {
		t.Fatalf("empty input must produce an unblocked empty summary: %+v", s)
	}
}
