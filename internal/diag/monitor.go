// Package diag provides local (client-side) diagnostics: periodic
// CPU/memory/disk/load sampling surfaced through a node's console log
// for operator visibility. It has no effect on the wire protocol —
// purely an enrichment layer the teacher's agent used for its own
// operational metrics, repurposed here for local preflight/ongoing
// visibility instead of reporting to a server.
package diag

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
)

// Stats holds one sample of local system metrics.
type Stats struct {
	CPUPercent       float64
	MemoryPercent    float64
	DiskUsagePercent float64
	LoadAverage      float64
}

// Sink receives a formatted diagnostics line, typically
// node.Node.ConsoleLog.Append.
type Sink func(line string)

// LocalMonitor samples local system metrics on an interval and pushes
// a formatted line to its Sink each time, in addition to keeping the
// latest sample available via Stats.
type LocalMonitor struct {
	logger *slog.Logger
	sink   Sink
	period time.Duration

	close chan struct{}
	wg    sync.WaitGroup

	mu    sync.RWMutex
	stats Stats
}

// NewLocalMonitor creates a monitor that samples every period and
// reports through sink. sink may be nil to disable console reporting
// while still polling Stats().
func NewLocalMonitor(logger *slog.Logger, sink Sink, period time.Duration) *LocalMonitor {
	if period <= 0 {
		period = 15 * time.Second
	}
	return &LocalMonitor{
		logger: logger.With("component", "diag"),
		sink:   sink,
		period: period,
		close:  make(chan struct{}),
	}
}

// Start begins periodic sampling in the background.
func (m *LocalMonitor) Start() {
	m.wg.Add(1)
	go m.run()
}

// Stop halts sampling and waits for the background goroutine to exit.
func (m *LocalMonitor) Stop() {
	close(m.close)
	m.wg.Wait()
}

// Stats returns the most recently collected sample.
func (m *LocalMonitor) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stats
}

func (m *LocalMonitor) run() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.period)
	defer ticker.Stop()

	m.collect()
	for {
		select {
		case <-m.close:
			return
		case <-ticker.C:
			m.collect()
		}
	}
}

func (m *LocalMonitor) collect() {
	var s Stats

	if percentage, err := cpu.Percent(0, false); err == nil && len(percentage) > 0 {
		s.CPUPercent = percentage[0]
	} else {
		m.logger.Debug("failed to collect cpu stats", "error", err)
	}

	if v, err := mem.VirtualMemory(); err == nil {
		s.MemoryPercent = v.UsedPercent
	} else {
		m.logger.Debug("failed to collect memory stats", "error", err)
	}

	if d, err := disk.Usage("/"); err == nil {
		s.DiskUsagePercent = d.UsedPercent
	} else {
		m.logger.Debug("failed to collect disk stats", "error", err)
	}

	if l, err := load.Avg(); err == nil {
		s.LoadAverage = l.Load1
	} else {
		m.logger.Debug("failed to collect load stats", "error", err)
	}

	m.mu.Lock()
	m.stats = s
	m.mu.Unlock()

	if m.sink != nil {
		m.sink(fmt.Sprintf("local: cpu=%.1f%% mem=%.1f%% disk=%.1f%% load1=%.2f",
			s.CPUPercent, s.MemoryPercent, s.DiskUsagePercent, s.LoadAverage))
	}
}
