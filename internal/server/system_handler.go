package server

import (
	"context"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/i0mja/dell-infra-sync-sub004/pkg/execclient"
	"github.com/i0mja/dell-infra-sync-sub004/pkg/httpx"
)

var startTime = time.Now()

// SystemInfo describes the box the daemon runs on.
type SystemInfo struct {
	Hostname    string `json:"hostname"`
	Uptime      uint64 `json:"uptime"`
	Kernel      string `json:"kernel"`
	Platform    string `json:"platform"`
	Arch        string `json:"arch,omitempty"`
	CPUCount    int    `json:"cpu_count,omitempty"`
	MemoryTotal uint64 `json:"memory_total,omitempty"`
	MemoryUsed  uint64 `json:"memory_used,omitempty"`
	DaemonUp    uint64 `json:"daemon_uptime_seconds"`
}

// ExecutorLink reports whether the executor sidecar answers on its socket,
// plus the last heartbeat it posted on its own.
type ExecutorLink struct {
	Reachable     bool   `json:"reachable"`
	Version       string `json:"version,omitempty"`
	LastSweep     string `json:"last_sweep,omitempty"`
	LastHeartbeat string `json:"last_heartbeat,omitempty"`
	Error         string `json:"error,omitempty"`
}

type SystemHandler struct {
	exec     *execclient.Client
	presence *executorPresence
}

func NewSystemHandler(exec *execclient.Client, presence *executorPresence) *SystemHandler {
	return &SystemHandler{exec: exec, presence: presence}
}

func (h *SystemHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/info", h.GetSystemInfo)
	r.Get("/executor", h.GetExecutorLink)
	return r
}

// GetSystemInfo returns host facts. Each probe fails soft; absent fields
// just mean the platform would not answer.
func (h *SystemHandler) GetSystemInfo(w http.ResponseWriter, r *http.Request) {
	info := SystemInfo{
		Arch:     runtime.GOARCH,
		DaemonUp: uint64(time.Since(startTime).Seconds()),
	}
	if hostname, err := os.Hostname(); err == nil {
		info.Hostname = hostname
	}
	if hi, err := host.Info(); err == nil {
		info.Uptime = hi.Uptime
		info.Kernel = hi.KernelVersion
		info.Platform = hi.Platform + " " + hi.PlatformVersion
	}
	if n, err := cpu.Counts(true); err == nil {
		info.CPUCount = n
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		info.MemoryTotal = vm.Total
		info.MemoryUsed = vm.Used
	}
	httpx.WriteJSON(w, http.StatusOK, info)
}

// GetExecutorLink pings the executor socket. An unreachable executor is a
// 200 with reachable=false; jobs queue up fine without it.
func (h *SystemHandler) GetExecutorLink(w http.ResponseWriter, r *http.Request) {
	link := ExecutorLink{}
	if h.exec == nil {
		link.Error = "executor client not configured"
		h.fillPresence(&link)
		httpx.WriteJSON(w, http.StatusOK, link)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	hc, err := h.exec.Health(ctx)
	if err != nil {
		link.Error = err.Error()
		h.fillPresence(&link)
		httpx.WriteJSON(w, http.StatusOK, link)
		return
	}
	link.Reachable = hc.OK
	link.Version = hc.Version
	if !hc.LastSweep.IsZero() {
		link.LastSweep = hc.LastSweep.Format(time.RFC3339)
	}
	h.fillPresence(&link)
	httpx.WriteJSON(w, http.StatusOK, link)
}

// fillPresence adds heartbeat facts. The socket answer wins for the version
// when both are known.
func (h *SystemHandler) fillPresence(link *ExecutorLink) {
	if h.presence == nil {
		return
	}
	seen, version := h.presence.snapshot()
	if seen.IsZero() {
		return
	}
	link.LastHeartbeat = seen.Format(time.RFC3339)
	if link.Version == "" {
		link.Version = version
	}
}
