package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/i0mja/dell-infra-sync-sub004/internal/inventory"
	"github.com/i0mja/dell-infra-sync-sub004/internal/jobs"
	"github.com/i0mja/dell-infra-sync-sub004/internal/power"
	"github.com/i0mja/dell-infra-sync-sub004/internal/safety"
	"github.com/i0mja/dell-infra-sync-sub004/internal/schedule"
)

// apiClient talks to one isyncd instance. The daemon trusts the identity
// header its front proxy injects; when the CLI talks to loopback directly it
// sets the header itself from --operator.
type apiClient struct {
	baseURL    string
	operator   string
	httpClient *http.Client
}

func newAPIClient(baseURL, operator string) *apiClient {
	return &apiClient{
		baseURL:  baseURL,
		operator: operator,
		httpClient: &http.Client{
			Timeout: 90 * time.Second,
		},
	}
}

type apiError struct {
	Code    string
	Message string
	Status  int
}

func (e *apiError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s (%s)", e.Message, e.Code)
	}
	return fmt.Sprintf("unexpected status %d", e.Status)
}

func (c *apiClient) doRequest(method, path string, body any) ([]byte, error) {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, err
	}
	if c.operator != "" {
		req.Header.Set("X-Remote-User", c.operator)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var envelope struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		apiErr := &apiError{Status: resp.StatusCode}
		if err := json.Unmarshal(respBody, &envelope); err == nil {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
		}
		return nil, apiErr
	}
	return respBody, nil
}

func decode[T any](data []byte) (*T, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &v, nil
}

// Health and system

type healthStatus struct {
	OK      bool   `json:"ok"`
	Version string `json:"version"`
}

func (c *apiClient) health() (*healthStatus, error) {
	data, err := c.doRequest("GET", "/api/health", nil)
	if err != nil {
		return nil, err
	}
	return decode[healthStatus](data)
}

type systemInfo struct {
	Hostname    string `json:"hostname"`
	Uptime      uint64 `json:"uptime"`
	Kernel      string `json:"kernel"`
	Platform    string `json:"platform"`
	Arch        string `json:"arch"`
	CPUCount    int    `json:"cpu_count"`
	MemoryTotal uint64 `json:"memory_total"`
	MemoryUsed  uint64 `json:"memory_used"`
	DaemonUp    uint64 `json:"daemon_uptime_seconds"`
}

func (c *apiClient) systemInfo() (*systemInfo, error) {
	data, err := c.doRequest("GET", "/api/v1/system/info", nil)
	if err != nil {
		return nil, err
	}
	return decode[systemInfo](data)
}

type executorLink struct {
	Reachable     bool   `json:"reachable"`
	Version       string `json:"version"`
	LastSweep     string `json:"last_sweep"`
	LastHeartbeat string `json:"last_heartbeat"`
	Error         string `json:"error"`
}

func (c *apiClient) executorLink() (*executorLink, error) {
	data, err := c.doRequest("GET", "/api/v1/system/executor", nil)
	if err != nil {
		return nil, err
	}
	return decode[executorLink](data)
}

// Jobs

func (c *apiClient) recentJobs() ([]jobs.Record, error) {
	data, err := c.doRequest("GET", "/api/v1/jobs/recent", nil)
	if err != nil {
		return nil, err
	}
	out, err := decode[struct {
		Jobs []jobs.Record `json:"jobs"`
	}](data)
	if err != nil {
		return nil, err
	}
	return out.Jobs, nil
}

type jobView struct {
	Job          jobs.Record     `json:"job"`
	SafetyResult json.RawMessage `json:"safety_result,omitempty"`
}

func (c *apiClient) getJob(id string) (*jobView, error) {
	data, err := c.doRequest("GET", "/api/v1/jobs/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}
	return decode[jobView](data)
}

func (c *apiClient) submitJob(req map[string]any) (*jobs.Record, error) {
	data, err := c.doRequest("POST", "/api/v1/jobs", req)
	if err != nil {
		return nil, err
	}
	return decode[jobs.Record](data)
}

type waitOutcome struct {
	Job      jobs.Record     `json:"job"`
	Result   json.RawMessage `json:"result,omitempty"`
	Attempts int             `json:"attempts"`
	WaitedMS int64           `json:"waited_ms"`
}

func (c *apiClient) waitJob(id string) (*waitOutcome, error) {
	data, err := c.doRequest("POST", "/api/v1/jobs/"+url.PathEscape(id)+"/wait", nil)
	if err != nil {
		return nil, err
	}
	return decode[waitOutcome](data)
}

// Safety

type safetyCheck struct {
	JobID      string                `json:"job_id"`
	Assessment safety.Assessment     `json:"assessment"`
	Blockers   safety.BlockerSummary `json:"blockers"`
	Result     safety.Result         `json:"result"`
}

func (c *apiClient) runSafetyCheck(clusterID string, skipHosts []string) (*safetyCheck, error) {
	body := map[string]any{}
	if len(skipHosts) > 0 {
		body["skip_host_ids"] = skipHosts
	}
	data, err := c.doRequest("POST", "/api/v1/safety/cluster/"+url.PathEscape(clusterID)+"/check", body)
	if err != nil {
		return nil, err
	}
	return decode[safetyCheck](data)
}

func (c *apiClient) lastSafetyCheck(clusterID string) (*safetyCheck, error) {
	data, err := c.doRequest("GET", "/api/v1/safety/cluster/"+url.PathEscape(clusterID)+"/last", nil)
	if err != nil {
		return nil, err
	}
	return decode[safetyCheck](data)
}

// Inventory

func (c *apiClient) listDevices(clusterID string) ([]inventory.Device, error) {
	path := "/api/v1/inventory/devices"
	if clusterID != "" {
		path += "?cluster_id=" + url.QueryEscape(clusterID)
	}
	data, err := c.doRequest("GET", path, nil)
	if err != nil {
		return nil, err
	}
	out, err := decode[struct {
		Devices []inventory.Device `json:"devices"`
	}](data)
	if err != nil {
		return nil, err
	}
	return out.Devices, nil
}

func (c *apiClient) listClusters() ([]inventory.Cluster, error) {
	data, err := c.doRequest("GET", "/api/v1/inventory/clusters", nil)
	if err != nil {
		return nil, err
	}
	out, err := decode[struct {
		Clusters []inventory.Cluster `json:"clusters"`
	}](data)
	if err != nil {
		return nil, err
	}
	return out.Clusters, nil
}

func (c *apiClient) scan(ipRange string, credentialSetIDs []string) (*jobs.Record, error) {
	data, err := c.doRequest("POST", "/api/v1/inventory/scan", map[string]any{
		"ip_range":           ipRange,
		"credential_set_ids": credentialSetIDs,
	})
	if err != nil {
		return nil, err
	}
	return decode[jobs.Record](data)
}

// Outlets

func (c *apiClient) listSurfaces() ([]power.Surface, error) {
	data, err := c.doRequest("GET", "/api/v1/outlets", nil)
	if err != nil {
		return nil, err
	}
	out, err := decode[struct {
		Surfaces []power.Surface `json:"surfaces"`
	}](data)
	if err != nil {
		return nil, err
	}
	return out.Surfaces, nil
}

func (c *apiClient) getSurface(deviceID string) (*power.Surface, error) {
	data, err := c.doRequest("GET", "/api/v1/outlets/"+url.PathEscape(deviceID), nil)
	if err != nil {
		return nil, err
	}
	return decode[power.Surface](data)
}

func (c *apiClient) requestOutletAction(deviceID, outletID, action string, allFeeds bool) (*power.Surface, error) {
	data, err := c.doRequest("POST", "/api/v1/outlets/request", map[string]any{
		"device_id": deviceID,
		"outlet_id": outletID,
		"all_feeds": allFeeds,
		"action":    action,
	})
	if err != nil {
		return nil, err
	}
	return decode[power.Surface](data)
}

func (c *apiClient) confirmOutletAction(deviceID, requestID string) (*power.Surface, error) {
	data, err := c.doRequest("POST", "/api/v1/outlets/confirm", map[string]any{
		"device_id":  deviceID,
		"request_id": requestID,
	})
	if err != nil {
		return nil, err
	}
	return decode[power.Surface](data)
}

func (c *apiClient) cancelOutletAction(deviceID, requestID string) (*power.Surface, error) {
	data, err := c.doRequest("POST", "/api/v1/outlets/cancel", map[string]any{
		"device_id":  deviceID,
		"request_id": requestID,
	})
	if err != nil {
		return nil, err
	}
	return decode[power.Surface](data)
}

// Schedules

func (c *apiClient) listSchedules() ([]schedule.Schedule, error) {
	data, err := c.doRequest("GET", "/api/v1/schedules", nil)
	if err != nil {
		return nil, err
	}
	out, err := decode[struct {
		Schedules []schedule.Schedule `json:"schedules"`
	}](data)
	if err != nil {
		return nil, err
	}
	return out.Schedules, nil
}

func (c *apiClient) runSchedule(id string) (*schedule.Schedule, error) {
	data, err := c.doRequest("POST", "/api/v1/schedules/"+url.PathEscape(id)+"/run", nil)
	if err != nil {
		return nil, err
	}
	return decode[schedule.Schedule](data)
}

func (c *apiClient) deleteSchedule(id string) error {
	_, err := c.doRequest("DELETE", "/api/v1/schedules/"+url.PathEscape(id), nil)
	return err
}
