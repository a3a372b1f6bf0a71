package scanner

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
)

// SystemLoadMonitor tracks host load metrics so callers can decide whether
// heavy scans should run with full concurrency or back off.
type SystemLoadMonitor struct {
	mu          sync.RWMutex
	cpuUsage    float64 // CPU usage as percentage (0-100)
	memoryUsage float64 // Memory usage as percentage (0-100)
	ioWait      float64 // I/O wait as percentage (0-100)
	loadAverage float64
	updateTime  time.Time

	numCPU     int
	maxThreads int

	ctx    context.Context
	cancel context.CancelFunc
}

// NewSystemLoadMonitor creates a monitor and starts background sampling
func NewSystemLoadMonitor() *SystemLoadMonitor {
	ctx, cancel := context.WithCancel(context.Background())
	monitor := &SystemLoadMonitor{
		numCPU:     runtime.NumCPU(),
		maxThreads: runtime.GOMAXPROCS(0),
		updateTime: time.Now(),
		ctx:        ctx,
		cancel:     cancel,
	}

	go monitor.backgroundMonitor()

	return monitor
}

// Stop terminates background sampling
func (m *SystemLoadMonitor) Stop() {
	m.cancel()
}

// backgroundMonitor periodically refreshes system load metrics
func (m *SystemLoadMonitor) backgroundMonitor() {
	ticker := time.NewTicker(3 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.updateMetrics()
		case <-m.ctx.Done():
			return
		}
	}
}

func (m *SystemLoadMonitor) updateMetrics() {
	ctx, cancel := context.WithTimeout(m.ctx, 5*time.Second)
	defer cancel()

	var cpuUsage float64
	cpuPercents, err := cpu.PercentWithContext(ctx, time.Second, false)
	if err == nil && len(cpuPercents) > 0 {
		cpuUsage = cpuPercents[0]
	}

	var memoryUsage float64
	memStats, err := mem.VirtualMemoryWithContext(ctx)
	if err == nil {
		memoryUsage = memStats.UsedPercent
	}

	var ioWait float64
	cpuTimes, err := cpu.TimesWithContext(ctx, false)
	if err == nil && len(cpuTimes) > 0 {
		total := cpuTimes[0].User + cpuTimes[0].System + cpuTimes[0].Idle + cpuTimes[0].Iowait
		if total > 0 {
			ioWait = (cpuTimes[0].Iowait / total) * 100
		}
	}

	var loadAverage float64
	loadStats, err := load.AvgWithContext(ctx)
	if err == nil {
		loadAverage = loadStats.Load1
	} else {
		loadAverage = float64(runtime.NumGoroutine()) / float64(m.numCPU)
	}

	m.mu.Lock()
	m.cpuUsage = cpuUsage
	m.memoryUsage = memoryUsage
	m.ioWait = ioWait
	m.loadAverage = loadAverage
	m.updateTime = time.Now()
	m.mu.Unlock()
}

// GetMetrics returns the current system load metrics
func (m *SystemLoadMonitor) GetMetrics() (cpuUsage, memoryUsage, ioWait float64) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.cpuUsage, m.memoryUsage, m.ioWait
}

// GetSystemInfo returns system hardware information
func (m *SystemLoadMonitor) GetSystemInfo() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return map[string]interface{}{
		"num_cpu":      m.numCPU,
		"max_threads":  m.maxThreads,
		"goroutines":   runtime.NumGoroutine(),
		"load_average": m.loadAverage,
		"updated_at":   m.updateTime,
	}
}

// ShouldScaleUp returns true if system conditions support adding workers
func (m *SystemLoadMonitor) ShouldScaleUp() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.cpuUsage > 80 {
		return false
	}
	if m.memoryUsage > 90 {
		return false
	}
	return true
}

// GetLoadScore returns a load score between 0-100 where higher means more loaded
func (m *SystemLoadMonitor) GetLoadScore() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cpuWeight := 0.6
	memWeight := 0.3
	ioWeight := 0.1

	score := m.cpuUsage*cpuWeight + m.memoryUsage*memWeight + m.ioWait*ioWeight
	if score > 100 {
		score = 100
	}

	return int(score)
}
