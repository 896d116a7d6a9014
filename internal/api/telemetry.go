package api

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
)

// HighUsagePercent is the cpu or memory usage above which health reports "warning".
const HighUsagePercent = 95.0

// TelemetrySnapshot is the host resource usage reported by /health.
type TelemetrySnapshot struct {
	UptimeSeconds int64   `json:"uptime_seconds"`
	CPUPercent    float64 `json:"cpu"`
	MemoryPercent float64 `json:"memory"`
	DiskPercent   float64 `json:"disk"`
}

// Telemetry samples host resource usage.
type Telemetry interface {
	Snapshot(ctx context.Context) TelemetrySnapshot
}

// SystemTelemetry reads usage from the host through gopsutil. Fields that cannot be
// read are reported as zero.
type SystemTelemetry struct {
	startedAt time.Time
	diskPath  string
}

func NewSystemTelemetry(startedAt time.Time) *SystemTelemetry {
	return &SystemTelemetry{startedAt: startedAt, diskPath: "/"}
}

func (t *SystemTelemetry) Snapshot(ctx context.Context) TelemetrySnapshot {
	snap := TelemetrySnapshot{UptimeSeconds: int64(time.Since(t.startedAt).Seconds())}

	if percents, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(percents) > 0 {
		snap.CPUPercent = percents[0]
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		snap.MemoryPercent = vm.UsedPercent
	}
	if usage, err := disk.UsageWithContext(ctx, t.diskPath); err == nil {
		snap.DiskPercent = usage.UsedPercent
	}
	return snap
}
