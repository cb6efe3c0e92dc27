// ABOUTME: Adaptive resource monitor for the ingestion pipeline
// ABOUTME: Samples memory, derives chunk sizing and a memory-pressure signal

package resource

import (
	"context"
	"runtime"
	"sync"
	"time"
)

// Delimited text expands roughly tenfold once parsed into row structs and
// mapped documents, measured against full-state G-NAF loads.
const expansionFactor = 10

const (
	minChunkMB = 1
	maxChunkMB = 64
)

// Snapshot is one point-in-time view of process and system resources.
type Snapshot struct {
	TotalMemory        uint64
	FreeMemory         uint64
	ProcessMemory      uint64
	HeapUsed           uint64
	CPUCount           int
	OptimalChunkSizeMB int
	MemoryPressure     bool
	Timestamp          time.Time
}

// Config controls monitoring cadence and sizing.
type Config struct {
	// TargetUtilization is the fraction of free memory a chunk may claim.
	TargetUtilization float64

	// Interval between samples taken by StartMonitoring.
	Interval time.Duration
}

// Monitor samples memory and computes adaptive chunk sizes. One instance is
// constructed at startup and shared by the chunk reader and the bulk indexer.
// All methods are safe for concurrent use.
type Monitor struct {
	cfg Config

	mu        sync.Mutex
	callbacks []func(Snapshot)
	ticker    *time.Ticker
	stop      chan struct{}

	// sysmem is swappable so tests can stub the OS sampler.
	sysmem func() (total, free uint64, ok bool)
}

// NewMonitor creates a monitor. A zero TargetUtilization defaults to 0.75
// and a zero Interval to 5s.
func NewMonitor(cfg Config) *Monitor {
	if cfg.TargetUtilization <= 0 || cfg.TargetUtilization >= 1 {
		cfg.TargetUtilization = 0.75
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	return &Monitor{
		cfg:    cfg,
		sysmem: systemMemory,
	}
}

// Snapshot samples current resources. Sampling never fails: if the OS
// sampler errors the snapshot is empty with MemoryPressure=false, so a
// monitoring hiccup can never stall the pipeline.
func (m *Monitor) Snapshot() Snapshot {
	snap := Snapshot{
		CPUCount:           runtime.NumCPU(),
		OptimalChunkSizeMB: minChunkMB,
		Timestamp:          time.Now(),
	}

	m.mu.Lock()
	sysmem := m.sysmem
	m.mu.Unlock()

	total, free, ok := sysmem()
	if !ok {
		return snap
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	snap.TotalMemory = total
	snap.FreeMemory = free
	snap.ProcessMemory = ms.Sys
	snap.HeapUsed = ms.HeapAlloc

	budget := float64(free) * m.cfg.TargetUtilization
	chunkMB := int(budget / expansionFactor / (1 << 20))
	if chunkMB < minChunkMB {
		chunkMB = minChunkMB
	}
	if chunkMB > maxChunkMB {
		chunkMB = maxChunkMB
	}
	snap.OptimalChunkSizeMB = chunkMB

	// Pressure when free memory drops below what the pipeline is sized to
	// claim, i.e. the utilization target can no longer be met.
	threshold := uint64(float64(total) * (1 - m.cfg.TargetUtilization))
	snap.MemoryPressure = free < threshold

	return snap
}

// MemoryPressure reports the pressure bit of a fresh snapshot.
func (m *Monitor) MemoryPressure() bool {
	return m.Snapshot().MemoryPressure
}

// OnPressure registers a callback invoked from the monitoring loop whenever
// a sample reports pressure. Returns an unsubscribe func.
func (m *Monitor) OnPressure(fn func(Snapshot)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, fn)
	idx := len(m.callbacks) - 1
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if idx < len(m.callbacks) {
			m.callbacks[idx] = nil
		}
	}
}

// StartMonitoring begins periodic sampling. Repeated calls are no-ops until
// StopMonitoring.
func (m *Monitor) StartMonitoring() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stop != nil {
		return
	}
	m.stop = make(chan struct{})
	m.ticker = time.NewTicker(m.cfg.Interval)

	go func(stop chan struct{}, ticker *time.Ticker) {
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				snap := m.Snapshot()
				if !snap.MemoryPressure {
					continue
				}
				m.mu.Lock()
				cbs := make([]func(Snapshot), len(m.callbacks))
				copy(cbs, m.callbacks)
				m.mu.Unlock()
				for _, fn := range cbs {
					if fn != nil {
						fn(snap)
					}
				}
			}
		}
	}(m.stop, m.ticker)
}

// StopMonitoring cancels periodic sampling.
func (m *Monitor) StopMonitoring() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stop == nil {
		return
	}
	close(m.stop)
	m.ticker.Stop()
	m.stop = nil
	m.ticker = nil
}

// Reset stops monitoring and drops all subscriptions, for test isolation.
func (m *Monitor) Reset() {
	m.StopMonitoring()
	m.mu.Lock()
	m.callbacks = nil
	m.mu.Unlock()
}

// WaitForRelief blocks until a sample reports no pressure, the bound
// elapses, or ctx is cancelled. Returns true if pressure cleared. This is
// the pipeline's backpressure wait between chunks.
func (m *Monitor) WaitForRelief(ctx context.Context, max time.Duration) bool {
	if !m.MemoryPressure() {
		return true
	}

	deadline := time.NewTimer(max)
	defer deadline.Stop()
	poll := time.NewTicker(500 * time.Millisecond)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-deadline.C:
			return false
		case <-poll.C:
			if !m.MemoryPressure() {
				return true
			}
		}
	}
}

// SetSystemSampler replaces the OS memory sampler. Tests use this to drive
// deterministic pressure scenarios.
func (m *Monitor) SetSystemSampler(fn func() (total, free uint64, ok bool)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sysmem = fn
}
