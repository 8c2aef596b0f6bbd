package api

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/aves-app/aves/internal/buildinfo"
	"github.com/aves-app/aves/internal/logger"
)

const healthDBTimeout = 2 * time.Second

// HealthResponse is the body of GET /api/health.
type HealthResponse struct {
	Status         string         `json:"status"`
	Version        string         `json:"version"`
	BuildDate      string         `json:"buildDate"`
	Timestamp      string         `json:"timestamp"`
	DatabaseStatus string         `json:"databaseStatus"`
	Uptime         string         `json:"uptime"`
	UptimeSeconds  float64        `json:"uptimeSeconds"`
	System         *SystemMetrics `json:"system,omitempty"`
}

// SystemMetrics holds host and process resource figures.
type SystemMetrics struct {
	CPUPercent    float64 `json:"cpuPercent"`
	MemoryUsedPct float64 `json:"memoryUsedPercent"`
	MemoryTotalMB float64 `json:"memoryTotalMb"`
	ProcessRSSMB  float64 `json:"processRssMb"`
}

// HealthCheck handles GET /api/health. A failed database ping reports 503.
func (c *Controller) HealthCheck(ctx echo.Context) error {
	uptime := time.Since(c.startTime)
	info := buildinfo.Current()
	resp := HealthResponse{
		Status:         "healthy",
		Version:        info.GetVersion(),
		BuildDate:      info.GetBuildDate(),
		Timestamp:      c.now().UTC().Format(time.RFC3339),
		DatabaseStatus: "connected",
		Uptime:         uptime.Round(time.Second).String(),
		UptimeSeconds:  uptime.Seconds(),
		System:         c.systemMetrics(ctx.Request().Context()),
	}

	pingCtx, cancel := context.WithTimeout(ctx.Request().Context(), healthDBTimeout)
	defer cancel()
	if err := c.DS.Ping(pingCtx); err != nil {
		c.log.Warn("health check database ping failed", logger.Error(err))
		resp.Status = "unhealthy"
		resp.DatabaseStatus = "disconnected"
		return ctx.JSON(http.StatusServiceUnavailable, resp)
	}
	return ctx.JSON(http.StatusOK, resp)
}

// systemMetrics collects best-effort figures; unavailable values stay zero.
func (c *Controller) systemMetrics(ctx context.Context) *SystemMetrics {
	m := &SystemMetrics{}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		m.MemoryUsedPct = vm.UsedPercent
		m.MemoryTotalMB = float64(vm.Total) / 1024 / 1024
	}
	// Zero interval compares against the previous call instead of blocking.
	if pct, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(pct) > 0 {
		m.CPUPercent = pct[0]
	}
	if proc, err := process.NewProcessWithContext(ctx, int32(os.Getpid())); err == nil { //nolint:gosec // pid fits int32
		if info, err := proc.MemoryInfoWithContext(ctx); err == nil {
			m.ProcessRSSMB = float64(info.RSS) / 1024 / 1024
		}
	}
	return m
}
