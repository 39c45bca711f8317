// Package telemetry collects the gateway's sovereignty and health
// telemetry: a point-in-time system snapshot (CPU load, memory, and
// temperature sensors) used both as a thermal advisory input to the
// capability router's forced-downgrade signal and as part of the
// locality-proof report surfaced at /api/sovereignty.
package telemetry

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
)

// ThermalWarningCelsius is the sensor reading above which the gateway
// treats the host as thermally constrained.
const ThermalWarningCelsius = 80.0

// Snapshot is one point-in-time read of host health.
type Snapshot struct {
	TakenAt         time.Time
	LoadAverage1m   float64
	MemoryUsedPct   float64
	HighestTempC    float64
	ThermalWarning  bool
	UptimeSeconds   uint64
}

// Collector reads host health via gopsutil.
type Collector struct {
	now func() time.Time
}

// NewCollector builds a Collector.
func NewCollector() *Collector {
	return &Collector{now: time.Now}
}

// Snapshot gathers a best-effort system snapshot. Any individual metric
// that fails to read is left at its zero value rather than failing the
// whole snapshot — a missing sensor shouldn't block a health check.
func (c *Collector) Snapshot(ctx context.Context) Snapshot {
	snap := Snapshot{TakenAt: c.now()}

	if avg, err := load.AvgWithContext(ctx); err == nil && avg != nil {
		snap.LoadAverage1m = avg.Load1
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil && vm != nil {
		snap.MemoryUsedPct = vm.UsedPercent
	}

	if temps, err := host.SensorsTemperaturesWithContext(ctx); err == nil {
		for _, t := range temps {
			if t.Temperature > snap.HighestTempC {
				snap.HighestTempC = t.Temperature
			}
		}
	}
	snap.ThermalWarning = snap.HighestTempC >= ThermalWarningCelsius

	if info, err := host.InfoWithContext(ctx); err == nil && info != nil {
		snap.UptimeSeconds = info.Uptime
	}

	return snap
}
