package server

import (
	"net/http"
	"strings"
	"testing"

	"github.com/i0mja/dell-infra-sync-sub004/internal/inventory"
	"github.com/i0mja/dell-infra-sync-sub004/internal/jobs"
)

func TestInventoryRoundTrip(t *testing.T) {
	env := newTestEnv(t)

	if rr := env.request(http.MethodPost, "/api/v1/inventory/clusters", map[string]any{
		"id": "c1", "name": "prod-a", "min_required_hosts": 3,
	}); rr.Code != http.StatusOK {
		t.Fatalf("cluster upsert: %d %s", rr.Code, rr.Body.String())
	}
	if rr := env.request(http.MethodPost, "/api/v1/inventory/devices", map[string]any{
		"id": "dev-1", "hostname": "r740-01", "idrac_ip": "10.40.0.11", "cluster_id": "c1", "host_id": "esx-1",
	}); rr.Code != http.StatusOK {
		t.Fatalf("device upsert: %d %s", rr.Code, rr.Body.String())
	}
	if rr := env.request(http.MethodPost, "/api/v1/inventory/devices", map[string]any{
		"id": "dev-2", "hostname": "r640-01", "idrac_ip": "10.41.0.11",
	}); rr.Code != http.StatusOK {
		t.Fatalf("device upsert: %d %s", rr.Code, rr.Body.String())
	}

	// unfiltered list has both, the cluster filter narrows it
	list := env.request(http.MethodGet, "/api/v1/inventory/devices", nil)
	var devices struct {
		Devices []inventory.Device `json:"devices"`
	}
	decodeBody(t, list, &devices)
	if len(devices.Devices) != 2 {
		t.Fatalf("expected 2 devices, got %d", len(devices.Devices))
	}
	filtered := env.request(http.MethodGet, "/api/v1/inventory/devices?cluster_id=c1", nil)
	decodeBody(t, filtered, &devices)
	if len(devices.Devices) != 1 || devices.Devices[0].ID != "dev-1" {
		t.Fatalf("cluster filter wrong: %+v", devices.Devices)
	}

	// cluster view carries its members
	cl := env.request(http.MethodGet, "/api/v1/inventory/clusters/c1", nil)
	if cl.Code != http.StatusOK {
		t.Fatalf("cluster get: %d", cl.Code)
	}
	if !strings.Contains(cl.Body.String(), "dev-1") {
		t.Fatalf("cluster view should include devices: %s", cl.Body.String())
	}

	if rr := env.request(http.MethodGet, "/api/v1/inventory/devices/ghost", nil); rr.Code != http.StatusNotFound {
		t.Fatalf("unknown device: expected 404, got %d", rr.Code)
	}
}

func TestCredentialSetsOrderedByPriority(t *testing.T) {
	env := newTestEnv(t)
	env.request(http.MethodPost, "/api/v1/inventory/credential-sets", map[string]any{
		"id": "cs-fallback", "name": "factory default", "priority": 2,
	})
	env.request(http.MethodPost, "/api/v1/inventory/credential-sets", map[string]any{
		"id": "cs-fleet", "name": "fleet service account", "priority": 1,
	})

	res := env.request(http.MethodGet, "/api/v1/inventory/credential-sets", nil)
	var out struct {
		CredentialSets []inventory.CredentialSet `json:"credential_sets"`
	}
	decodeBody(t, res, &out)
	if len(out.CredentialSets) != 2 || out.CredentialSets[0].ID != "cs-fleet" {
		t.Fatalf("expected priority order, got %+v", out.CredentialSets)
	}
}

func TestOutletListRequiresDevice(t *testing.T) {
	env := newTestEnv(t)
	res := env.request(http.MethodGet, "/api/v1/inventory/outlets", nil)
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without device_id, got %d", res.Code)
	}

	env.request(http.MethodPost, "/api/v1/inventory/devices", map[string]any{
		"id": "dev-1", "hostname": "r740-01", "idrac_ip": "10.40.0.11",
	})
	if rr := env.request(http.MethodPost, "/api/v1/inventory/outlets", map[string]any{
		"id": "o-1", "device_id": "dev-1", "pdu_host": "pdu-1.lab", "outlet": 3, "feed": "A",
	}); rr.Code != http.StatusOK {
		t.Fatalf("outlet upsert: %d %s", rr.Code, rr.Body.String())
	}

	res = env.request(http.MethodGet, "/api/v1/inventory/outlets?device_id=dev-1", nil)
	var out struct {
		Outlets []inventory.OutletMapping `json:"outlets"`
	}
	decodeBody(t, res, &out)
	if len(out.Outlets) != 1 || out.Outlets[0].State != inventory.OutletStateUnknown {
		t.Fatalf("fresh mapping should default to unknown state: %+v", out.Outlets)
	}
}

func TestScanSubmitsDiscovery(t *testing.T) {
	env := newTestEnv(t)

	res := env.request(http.MethodPost, "/api/v1/inventory/scan", map[string]any{
		"ip_range":           "10.40.0.0/24",
		"credential_set_ids": []string{"cs-fleet"},
	})
	if res.Code != http.StatusAccepted {
		t.Fatalf("scan: expected 202, got %d %s", res.Code, res.Body.String())
	}
	var rec jobs.Record
	decodeBody(t, res, &rec)
	if rec.Type != jobs.TypeDiscoveryScan || rec.Scope.IPRange != "10.40.0.0/24" {
		t.Fatalf("unexpected job: %+v", rec)
	}
	if !strings.Contains(string(rec.Details), "cs-fleet") {
		t.Fatalf("credential sets should ride along: %s", rec.Details)
	}

	bad := env.request(http.MethodPost, "/api/v1/inventory/scan", map[string]any{
		"ip_range": "10.40.0.0/99",
	})
	if bad.Code != http.StatusBadRequest {
		t.Fatalf("bad range: expected 400, got %d", bad.Code)
	}
}
