package handlers

import (
	"context"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/jmylchreest/convertarr/internal/scheduler"
)

// Pinger checks the job store connection.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RunnerStatusProvider reports the worker pool state.
type RunnerStatusProvider interface {
	GetStatus(ctx context.Context) scheduler.RunnerStatus
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	version   string
	startTime time.Time
	db        Pinger
	runner    RunnerStatusProvider
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(version string) *HealthHandler {
	return &HealthHandler{
		version:   version,
		startTime: time.Now(),
	}
}

// WithDB sets the database connection for health checks.
func (h *HealthHandler) WithDB(db Pinger) *HealthHandler {
	h.db = db
	return h
}

// WithRunner sets the runner whose state gates readiness.
func (h *HealthHandler) WithRunner(runner RunnerStatusProvider) *HealthHandler {
	h.runner = runner
	return h
}

// Register registers the health routes with the API.
func (h *HealthHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getHealth",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
		Description: "Returns service health including host load, memory and the engine process tree",
		Tags:        []string{"System"},
	}, h.GetHealth)

	huma.Register(api, huma.Operation{
		OperationID: "livez",
		Method:      http.MethodGet,
		Path:        "/livez",
		Summary:     "Liveness probe",
		Tags:        []string{"System"},
	}, h.Livez)

	huma.Register(api, huma.Operation{
		OperationID: "readyz",
		Method:      http.MethodGet,
		Path:        "/readyz",
		Summary:     "Readiness probe",
		Description: "Succeeds when the job store answers and the worker pool is running",
		Tags:        []string{"System"},
	}, h.Readyz)
}

// CPUInfo contains host load averages.
type CPUInfo struct {
	Cores              int     `json:"cores"`
	Load1Min           float64 `json:"load_1min"`
	Load5Min           float64 `json:"load_5min"`
	Load15Min          float64 `json:"load_15min"`
	LoadPercentage1Min float64 `json:"load_percentage_1min"`
}

// MemoryInfo contains host and process memory usage.
type MemoryInfo struct {
	TotalMemoryMB     float64           `json:"total_memory_mb"`
	UsedMemoryMB      float64           `json:"used_memory_mb"`
	AvailableMemoryMB float64           `json:"available_memory_mb"`
	ProcessMemory     ProcessMemoryInfo `json:"process_memory"`
}

// ProcessMemoryInfo covers this process and its children, which are the
// running engine subprocesses.
type ProcessMemoryInfo struct {
	MainProcessMB      float64 `json:"main_process_mb"`
	ChildProcessesMB   float64 `json:"child_processes_mb"`
	TotalProcessTreeMB float64 `json:"total_process_tree_mb"`
	ChildProcessCount  int     `json:"child_process_count"`
	PercentageOfSystem float64 `json:"percentage_of_system"`
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status        string            `json:"status"`
	Timestamp     string            `json:"timestamp"`
	Version       string            `json:"version"`
	Uptime        string            `json:"uptime"`
	UptimeSeconds float64           `json:"uptime_seconds"`
	CPUInfo       CPUInfo           `json:"cpu_info"`
	Memory        MemoryInfo        `json:"memory"`
	Checks        map[string]string `json:"checks"`
}

// HealthInput is the input for the health check endpoint.
type HealthInput struct{}

// HealthOutput is the output for the health check endpoint.
type HealthOutput struct {
	Body HealthResponse
}

// GetHealth returns the health status of the service.
func (h *HealthHandler) GetHealth(ctx context.Context, _ *HealthInput) (*HealthOutput, error) {
	now := time.Now()
	uptime := now.Sub(h.startTime)
	checks := h.checks(ctx)

	status := "healthy"
	for _, v := range checks {
		if v != "ok" {
			status = "degraded"
		}
	}

	memInfo := getMemoryInfo()
	memInfo.ProcessMemory = getProcessMemoryInfo(memInfo.TotalMemoryMB)

	return &HealthOutput{
		Body: HealthResponse{
			Status:        status,
			Timestamp:     now.UTC().Format(time.RFC3339),
			Version:       h.version,
			Uptime:        uptime.Round(time.Second).String(),
			UptimeSeconds: uptime.Seconds(),
			CPUInfo:       getCPUInfo(),
			Memory:        memInfo,
			Checks:        checks,
		},
	}, nil
}

// ProbeOutput is the output for liveness and readiness probes.
type ProbeOutput struct {
	Body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks,omitempty"`
	}
}

// Livez reports that the process is serving requests.
func (h *HealthHandler) Livez(context.Context, *struct{}) (*ProbeOutput, error) {
	out := &ProbeOutput{}
	out.Body.Status = "ok"
	return out, nil
}

// Readyz reports whether the service can accept and process jobs.
func (h *HealthHandler) Readyz(ctx context.Context, _ *struct{}) (*ProbeOutput, error) {
	checks := h.checks(ctx)
	for name, v := range checks {
		if v != "ok" {
			return nil, huma.Error503ServiceUnavailable(name + ": " + v)
		}
	}
	out := &ProbeOutput{}
	out.Body.Status = "ok"
	out.Body.Checks = checks
	return out, nil
}

func (h *HealthHandler) checks(ctx context.Context) map[string]string {
	checks := make(map[string]string, 2)
	if h.db != nil {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := h.db.Ping(pingCtx); err != nil {
			checks["database"] = err.Error()
		} else {
			checks["database"] = "ok"
		}
	}
	if h.runner != nil {
		if h.runner.GetStatus(ctx).Running {
			checks["runner"] = "ok"
		} else {
			checks["runner"] = "stopped"
		}
	}
	return checks
}

func getCPUInfo() CPUInfo {
	info := CPUInfo{Cores: runtime.NumCPU()}

	loadAvg, err := load.Avg()
	if err == nil && loadAvg != nil {
		info.Load1Min = loadAvg.Load1
		info.Load5Min = loadAvg.Load5
		info.Load15Min = loadAvg.Load15
		if info.Cores > 0 {
			info.LoadPercentage1Min = (loadAvg.Load1 / float64(info.Cores)) * 100
		}
	}
	return info
}

func getMemoryInfo() MemoryInfo {
	info := MemoryInfo{}
	vmStat, err := mem.VirtualMemory()
	if err == nil && vmStat != nil {
		info.TotalMemoryMB = bytesToMB(vmStat.Total)
		info.UsedMemoryMB = bytesToMB(vmStat.Used)
		info.AvailableMemoryMB = bytesToMB(vmStat.Available)
	}
	return info
}

func getProcessMemoryInfo(totalSystemMB float64) ProcessMemoryInfo {
	info := ProcessMemoryInfo{}

	proc, err := process.NewProcess(int32(os.Getpid())) //nolint:gosec // pids fit in int32
	if err != nil {
		return info
	}

	memInfo, err := proc.MemoryInfo()
	if err == nil && memInfo != nil {
		info.MainProcessMB = bytesToMB(memInfo.RSS)
		info.TotalProcessTreeMB = info.MainProcessMB
	}

	children, err := proc.Children()
	if err == nil {
		info.ChildProcessCount = len(children)
		for _, child := range children {
			childMem, err := child.MemoryInfo()
			if err == nil && childMem != nil {
				childMB := bytesToMB(childMem.RSS)
				info.ChildProcessesMB += childMB
				info.TotalProcessTreeMB += childMB
			}
		}
	}

	if totalSystemMB > 0 {
		info.PercentageOfSystem = (info.TotalProcessTreeMB / totalSystemMB) * 100
	}
	return info
}

func bytesToMB(b uint64) float64 {
	return float64(b) / 1024 / 1024
}
