package server

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/sony/gobreaker"

	"github.com/aristath/riskcycle/internal/database"
	"github.com/aristath/riskcycle/internal/scheduler"
)

// Overall statuses reported by /api/system/status
const (
	statusHealthy  = "healthy"
	statusDegraded = "degraded"
)

// SystemStatusResponse is the payload of GET /api/system/status
type SystemStatusResponse struct {
	Status        string                `json:"status"`
	StartedAt     time.Time             `json:"started_at"`
	Uptime        string                `json:"uptime"`
	CPUPercent    float64               `json:"cpu_percent"`
	MemoryPercent float64               `json:"memory_percent"`
	Disk          *DiskUsage            `json:"disk,omitempty"`
	Databases     []DatabaseHealth      `json:"databases"`
	Upstream      *UpstreamStatus       `json:"upstream,omitempty"`
	Jobs          []scheduler.JobStatus `json:"jobs"`
}

// DiskUsage describes the filesystem holding the data directory
type DiskUsage struct {
	Path        string  `json:"path"`
	TotalGB     float64 `json:"total_gb"`
	FreeGB      float64 `json:"free_gb"`
	UsedPercent float64 `json:"used_percent"`
}

// DatabaseHealth is the ping result for one database
type DatabaseHealth struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}

// UpstreamStatus reports the market data circuit breaker
type UpstreamStatus struct {
	Breaker string `json:"breaker"`
}

// DatabaseStats is one row of GET /api/system/database/stats
type DatabaseStats struct {
	Name          string  `json:"name"`
	SizeMB        float64 `json:"size_mb"`
	WALSizeMB     float64 `json:"wal_size_mb"`
	PageCount     int64   `json:"page_count"`
	FreelistCount int64   `json:"freelist_count"`
}

// SystemHandlers handles system-wide monitoring and operations endpoints
type SystemHandlers struct {
	dataDir     string
	databases   map[string]*database.DB
	jobs        JobController
	upstream    BreakerReporter
	startupTime time.Time
	log         zerolog.Logger
}

// NewSystemHandlers creates a new system handlers instance
func NewSystemHandlers(
	dataDir string,
	databases map[string]*database.DB,
	jobs JobController,
	upstream BreakerReporter,
	log zerolog.Logger,
) *SystemHandlers {
	return &SystemHandlers{
		dataDir:     dataDir,
		databases:   databases,
		jobs:        jobs,
		upstream:    upstream,
		startupTime: time.Now(),
		log:         log.With().Str("handler", "system").Logger(),
	}
}

// HandleSystemStatus handles GET /api/system/status
func (h *SystemHandlers) HandleSystemStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	status := SystemStatusResponse{
		Status:    statusHealthy,
		StartedAt: h.startupTime.UTC(),
		Uptime:    time.Since(h.startupTime).Truncate(time.Second).String(),
		Databases: []DatabaseHealth{},
		Jobs:      []scheduler.JobStatus{},
	}

	status.CPUPercent, status.MemoryPercent = h.hostStats(ctx)

	if h.dataDir != "" {
		if usage, err := disk.UsageWithContext(ctx, h.dataDir); err == nil {
			status.Disk = &DiskUsage{
				Path:        h.dataDir,
				TotalGB:     float64(usage.Total) / 1e9,
				FreeGB:      float64(usage.Free) / 1e9,
				UsedPercent: usage.UsedPercent,
			}
		} else {
			h.log.Warn().Err(err).Msg("Failed to read disk usage")
		}
	}

	for _, name := range h.databaseNames() {
		health := DatabaseHealth{Name: name, Healthy: true}
		if err := h.databases[name].QuickCheck(ctx); err != nil {
			health.Healthy = false
			health.Error = err.Error()
			status.Status = statusDegraded
		}
		status.Databases = append(status.Databases, health)
	}

	if h.upstream != nil {
		state := h.upstream.BreakerState()
		status.Upstream = &UpstreamStatus{Breaker: state.String()}
		if state == gobreaker.StateOpen {
			status.Status = statusDegraded
		}
	}

	if h.jobs != nil {
		status.Jobs = h.jobs.Jobs()
	}

	writeJSON(w, http.StatusOK, envelope(status), h.log)
}

// HandleJobs handles GET /api/system/jobs
func (h *SystemHandlers) HandleJobs(w http.ResponseWriter, r *http.Request) {
	jobs := []scheduler.JobStatus{}
	if h.jobs != nil {
		jobs = h.jobs.Jobs()
	}
	writeJSON(w, http.StatusOK, envelope(jobs), h.log)
}

// HandleTriggerJob handles POST /api/system/jobs/{name}. The job runs in the
// background; the response only confirms it was started.
func (h *SystemHandlers) HandleTriggerJob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if h.jobs == nil {
		writeError(w, http.StatusNotFound, "job not found", h.log)
		return
	}
	if err := h.jobs.Trigger(name); err != nil {
		if errors.Is(err, scheduler.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found", h.log)
			return
		}
		h.log.Error().Err(err).Str("job", name).Msg("Failed to trigger job")
		writeError(w, http.StatusInternalServerError, "failed to trigger job", h.log)
		return
	}

	writeJSON(w, http.StatusAccepted, envelope(map[string]string{"job": name, "status": "started"}), h.log)
}

// HandleDatabaseStats handles GET /api/system/database/stats
func (h *SystemHandlers) HandleDatabaseStats(w http.ResponseWriter, r *http.Request) {
	stats := make([]DatabaseStats, 0, len(h.databases))
	for _, name := range h.databaseNames() {
		s, err := h.databases[name].GetStats()
		if err != nil {
			h.log.Error().Err(err).Str("database", name).Msg("Failed to get database stats")
			writeError(w, http.StatusInternalServerError, "failed to read database stats", h.log)
			return
		}
		stats = append(stats, DatabaseStats{
			Name:          name,
			SizeMB:        float64(s.SizeBytes) / 1024 / 1024,
			WALSizeMB:     float64(s.WALSizeBytes) / 1024 / 1024,
			PageCount:     s.PageCount,
			FreelistCount: s.FreelistCount,
		})
	}
	writeJSON(w, http.StatusOK, envelope(stats), h.log)
}

// hostStats samples CPU over a short window to keep the endpoint responsive
func (h *SystemHandlers) hostStats(ctx context.Context) (float64, float64) {
	var cpuPercent float64
	if values, err := cpu.PercentWithContext(ctx, 100*time.Millisecond, false); err == nil && len(values) > 0 {
		cpuPercent = values[0]
	} else if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get CPU percentage")
	}

	memStat, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get memory statistics")
		return cpuPercent, 0
	}
	return cpuPercent, memStat.UsedPercent
}

func (h *SystemHandlers) databaseNames() []string {
	names := make([]string, 0, len(h.databases))
	for name, db := range h.databases {
		if db != nil {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func envelope(data interface{}) map[string]interface{} {
	return map[string]interface{}{
		"data": data,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	}
}
