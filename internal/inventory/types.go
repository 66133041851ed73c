package inventory

import "time"

// Device is one iDRAC-managed server in the fleet. Health and firmware
// fields are refreshed by the executor after scans; everything else is
// operator-entered or discovered once.
type Device struct {
	ID              string    `json:"id"`
	Hostname        string    `json:"hostname"`
	IdracIP         string    `json:"idrac_ip"`
	Model           string    `json:"model,omitempty"`
	ServiceTag      string    `json:"service_tag,omitempty"`
	ClusterID       string    `json:"cluster_id,omitempty"`
	HostID          string    `json:"host_id,omitempty"`
	Healthy         bool      `json:"healthy"`
	FirmwareVersion string    `json:"firmware_version,omitempty"`
	LastSeen        time.Time `json:"last_seen,omitempty"`
}

// Cluster mirrors the vCenter cluster the fleet hosts belong to, plus the
// operator's capacity floor for it.
type Cluster struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	VCenterURL       string    `json:"vcenter_url,omitempty"`
	TotalHosts       int       `json:"total_hosts"`
	HealthyHosts     int       `json:"healthy_hosts"`
	MinRequiredHosts int       `json:"min_required_hosts"`
	UpdatedAt        time.Time `json:"updated_at,omitempty"`
}

// CredentialSet is a pointer into the external credential store. Only the
// reference and its trial priority live here; secrets never do.
type CredentialSet struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Priority int    `json:"priority"`
}

// Feed identifies which power feed of a dual-fed server an outlet belongs
// to.
type Feed string

const (
	FeedA Feed = "A"
	FeedB Feed = "B"
)

// OutletState is the last state the executor observed on the PDU.
type OutletState string

const (
	OutletStateOn      OutletState = "on"
	OutletStateOff     OutletState = "off"
	OutletStateUnknown OutletState = "unknown"
)

// OutletMapping ties one PDU outlet to the device it feeds.
type OutletMapping struct {
	ID        string      `json:"id"`
	DeviceID  string      `json:"device_id"`
	PDUHost   string      `json:"pdu_host"`
	Outlet    int         `json:"outlet"`
	Feed      Feed        `json:"feed"`
	State     OutletState `json:"state"`
	UpdatedAt time.Time   `json:"updated_at,omitempty"`
}
