// Package sysstats reports health figures of the machine driving the display.
package sysstats

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

// Stats is one reading. Percentages are 0-100, temperature is Celsius.
type Stats struct {
	BootTime    string    `json:"boot_time"`
	CPULoad     float64   `json:"cpu_load"`
	CPUTemp     float64   `json:"cpu_temp"`
	MemoryUsage float64   `json:"memory_usage"`
	DiskFreePct float64   `json:"disk_free_pct"`
	SampledAt   time.Time `json:"sampled_at"`
}

// Reader abstracts how we obtain statistics, so the web layer can be
// tested without touching the host.
type Reader interface {
	Read(ctx context.Context) (Stats, error)
}

// HostReader reads the local machine through gopsutil.
type HostReader struct {
	// DiskPath is the mount point reported; defaults to "/".
	DiskPath string
	// CPUInterval is how long CPU load is sampled; defaults to 200ms.
	CPUInterval time.Duration
}

// NewHostReader returns a HostReader with defaults.
func NewHostReader() *HostReader {
	return &HostReader{DiskPath: "/", CPUInterval: 200 * time.Millisecond}
}

// Read collects what it can. Fields that fail stay zero and their errors
// are joined into the returned error, so callers may still use the result.
func (r *HostReader) Read(ctx context.Context) (Stats, error) {
	st := Stats{BootTime: "Unknown", SampledAt: time.Now()}
	var errs []error

	if boot, err := host.BootTimeWithContext(ctx); err == nil {
		st.BootTime = time.Unix(int64(boot), 0).Format("2006-01-02 15:04:05")
	} else {
		errs = append(errs, fmt.Errorf("boot time: %w", err))
	}

	interval := r.CPUInterval
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	if pct, err := cpu.PercentWithContext(ctx, interval, false); err == nil && len(pct) > 0 {
		st.CPULoad = round1(pct[0])
	} else if err != nil {
		errs = append(errs, fmt.Errorf("cpu: %w", err))
	}

	if temps, err := host.SensorsTemperaturesWithContext(ctx); err == nil {
		st.CPUTemp = round1(pickCPUTemp(temps))
	} else if len(temps) > 0 {
		// Some sensors fail while others still report.
		st.CPUTemp = round1(pickCPUTemp(temps))
	} else {
		errs = append(errs, fmt.Errorf("temperature: %w", err))
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		st.MemoryUsage = round1(vm.UsedPercent)
	} else {
		errs = append(errs, fmt.Errorf("memory: %w", err))
	}

	path := r.DiskPath
	if path == "" {
		path = "/"
	}
	if du, err := disk.UsageWithContext(ctx, path); err == nil {
		st.DiskFreePct = round1(100 - du.UsedPercent)
	} else {
		errs = append(errs, fmt.Errorf("disk: %w", err))
	}

	return st, errors.Join(errs...)
}

// pickCPUTemp prefers sensors named like a CPU or SoC and falls back to the
// hottest reading.
func pickCPUTemp(temps []host.TemperatureStat) float64 {
	best, hottest := math.NaN(), 0.0
	for _, t := range temps {
		if t.Temperature > hottest {
			hottest = t.Temperature
		}
		key := strings.ToLower(t.SensorKey)
		if strings.Contains(key, "cpu") || strings.Contains(key, "soc") || strings.Contains(key, "coretemp") {
			if math.IsNaN(best) || t.Temperature > best {
				best = t.Temperature
			}
		}
	}
	if math.IsNaN(best) {
		return hottest
	}
	return best
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
