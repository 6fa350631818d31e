package handler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"runtime"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"handoff-engine/internal/core/services"
)

// HealthCheck checks one dependency
type HealthCheck func(ctx context.Context) error

// SystemHandler serves health, host metrics and the AI pause switch
type SystemHandler struct {
	checks  map[string]HealthCheck
	pause   *services.AIPause
	started time.Time
	version string
}

// NewSystemHandler creates a system handler
func NewSystemHandler(pause *services.AIPause, checks map[string]HealthCheck, version string) *SystemHandler {
	return &SystemHandler{
		checks:  checks,
		pause:   pause,
		started: time.Now(),
		version: version,
	}
}

// ============================================================================
// Health
// ============================================================================

// Health pings every dependency
// GET /healthz
func (h *SystemHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	healthy := true
	deps := make(map[string]string, len(names))
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			healthy = false
			deps[name] = err.Error()
			slog.Warn("Health check failed", "dependency", name, "error", err)
			continue
		}
		deps[name] = "ok"
	}

	status := http.StatusOK
	state := "ok"
	if !healthy {
		status = http.StatusServiceUnavailable
		state = "degraded"
	}
	c.JSON(status, gin.H{
		"status":       state,
		"version":      h.version,
		"uptime":       formatDuration(time.Since(h.started)),
		"dependencies": deps,
		"aiPaused":     h.pause != nil && h.pause.IsActive(),
	})
}

// ============================================================================
// System Metrics
// ============================================================================

// SystemMetricsResponse represents host health data
type SystemMetricsResponse struct {
	CPUPercent       float64 `json:"cpu_percent"`
	RAMUsedGB        float64 `json:"ram_used_gb"`
	RAMTotalGB       float64 `json:"ram_total_gb"`
	RAMPercent       float64 `json:"ram_percent"`
	DiskUsedGB       float64 `json:"disk_used_gb"`
	DiskTotalGB      float64 `json:"disk_total_gb"`
	DiskPercent      float64 `json:"disk_percent"`
	GoroutinesCount  int     `json:"goroutines_count"`
	DiskWarningLevel string  `json:"disk_warning_level"` // "safe" | "warning" | "critical"
	AIPaused         bool    `json:"ai_paused"`
}

// Metrics returns current host metrics
// GET /api/system/metrics
func (h *SystemHandler) Metrics(c *gin.Context) {
	ctx := c.Request.Context()

	var cpuPercent float64
	if percents, err := cpu.PercentWithContext(ctx, 200*time.Millisecond, false); err == nil && len(percents) > 0 {
		cpuPercent = percents[0]
	}

	var ramUsedGB, ramTotalGB, ramPercent float64
	if memStat, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		ramUsedGB = toGB(memStat.Used)
		ramTotalGB = toGB(memStat.Total)
		ramPercent = memStat.UsedPercent
	}

	var diskUsedGB, diskTotalGB, diskPercent float64
	if diskStat, err := disk.UsageWithContext(ctx, "."); err == nil {
		diskUsedGB = toGB(diskStat.Used)
		diskTotalGB = toGB(diskStat.Total)
		diskPercent = diskStat.UsedPercent
	}

	c.JSON(http.StatusOK, SystemMetricsResponse{
		CPUPercent:       roundTo2Decimals(cpuPercent),
		RAMUsedGB:        roundTo2Decimals(ramUsedGB),
		RAMTotalGB:       roundTo2Decimals(ramTotalGB),
		RAMPercent:       roundTo2Decimals(ramPercent),
		DiskUsedGB:       roundTo2Decimals(diskUsedGB),
		DiskTotalGB:      roundTo2Decimals(diskTotalGB),
		DiskPercent:      roundTo2Decimals(diskPercent),
		GoroutinesCount:  runtime.NumGoroutine(),
		DiskWarningLevel: diskWarningLevel(diskPercent),
		AIPaused:         h.pause != nil && h.pause.IsActive(),
	})
}

// ============================================================================
// AI Pause
// ============================================================================

type pauseBody struct {
	Reason string `json:"reason"`
}

// PauseStatus reports the AI pause switch
// GET /admin/ai-pause
func (h *SystemHandler) PauseStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.pause.Status())
}

// EnablePause stops text generation for every project
// POST /admin/ai-pause
func (h *SystemHandler) EnablePause(c *gin.Context) {
	var body pauseBody
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			BadRequestResponse(c, "invalid request body")
			return
		}
	}
	h.pause.Enable(body.Reason, callerID(c))
	c.JSON(http.StatusOK, h.pause.Status())
}

// DisablePause resumes text generation
// DELETE /admin/ai-pause
func (h *SystemHandler) DisablePause(c *gin.Context) {
	h.pause.Disable(callerID(c))
	c.JSON(http.StatusOK, h.pause.Status())
}

// ============================================================================
// Helpers
// ============================================================================

func toGB(b uint64) float64 {
	return float64(b) / 1024 / 1024 / 1024
}

func roundTo2Decimals(val float64) float64 {
	return float64(int(val*100)) / 100
}

func diskWarningLevel(percent float64) string {
	switch {
	case percent >= 80:
		return "critical"
	case percent >= 70:
		return "warning"
	default:
		return "safe"
	}
}

func formatDuration(d time.Duration) string {
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60

	if hours > 24 {
		return fmt.Sprintf("%dd %dh %dm", hours/24, hours%24, minutes)
	}
	return fmt.Sprintf("%dh %dm", hours, minutes)
}
