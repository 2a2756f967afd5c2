package dispatch

import (
	"encoding/json"
	"net/http"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v4/mem"
)

var started = time.Now()

type healthReport struct {
	Status          string  `json:"status"`
	UptimeSeconds   float64 `json:"uptime_seconds"`
	Channels        int     `json:"channels"`
	Goroutines      int     `json:"goroutines"`
	MemoryUsedBytes uint64  `json:"memory_used_bytes,omitempty"`
	MemoryPercent   float64 `json:"memory_percent,omitempty"`
}

// Health returns a handler reporting process liveness, live channel count and
// host memory pressure.
func (d *Dispatcher) Health() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := healthReport{
			Status:        "ok",
			UptimeSeconds: time.Since(started).Seconds(),
			Channels:      d.registry.Len(),
			Goroutines:    runtime.NumGoroutine(),
		}
		if vmStat, err := mem.VirtualMemory(); err == nil {
			report.MemoryUsedBytes = vmStat.Used
			report.MemoryPercent = vmStat.UsedPercent
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(report)
	}
}
