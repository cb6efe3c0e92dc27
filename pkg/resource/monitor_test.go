// ABOUTME: Tests for the resource monitor
// ABOUTME: Verifies chunk sizing, pressure detection, and bounded waits

package resource

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

const gib = uint64(1) << 30

func stubbed(t *testing.T, total, free uint64) *Monitor {
	t.Helper()
	m := NewMonitor(Config{TargetUtilization: 0.75, Interval: 10 * time.Millisecond})
	m.SetSystemSampler(func() (uint64, uint64, bool) {
		return total, free, true
	})
	return m
}

func TestSnapshotDerivesChunkSize(t *testing.T) {
	m := stubbed(t, 16*gib, 8*gib)

	snap := m.Snapshot()
	if snap.MemoryPressure {
		t.Fatalf("unexpected pressure with half of memory free")
	}

	// 8 GiB free * 0.75 / expansion factor, clamped to the max.
	freeBytes := float64(8 * gib)
	want := int(freeBytes * 0.75 / expansionFactor / float64(1<<20))
	if want > maxChunkMB {
		want = maxChunkMB
	}
	if snap.OptimalChunkSizeMB != want {
		t.Fatalf("chunk size = %d, want %d", snap.OptimalChunkSizeMB, want)
	}
}

func TestSnapshotPressureBelowThreshold(t *testing.T) {
	// 16 GiB total with 2 GiB free is under the 25% floor left by a 0.75
	// utilization target.
	m := stubbed(t, 16*gib, 2*gib)

	snap := m.Snapshot()
	if !snap.MemoryPressure {
		t.Fatalf("expected pressure with 2GiB free of 16GiB")
	}
}

func TestSnapshotNeverFails(t *testing.T) {
	m := NewMonitor(Config{})
	m.SetSystemSampler(func() (uint64, uint64, bool) {
		return 0, 0, false
	})

	snap := m.Snapshot()
	if snap.MemoryPressure {
		t.Fatalf("sampler failure must degrade to pressure=false")
	}
	if snap.OptimalChunkSizeMB != minChunkMB {
		t.Fatalf("degraded chunk size = %d, want %d", snap.OptimalChunkSizeMB, minChunkMB)
	}
	if snap.TotalMemory != 0 || snap.FreeMemory != 0 {
		t.Fatalf("degraded snapshot must be empty, got %+v", snap)
	}
}

func TestChunkSizeClamped(t *testing.T) {
	tiny := stubbed(t, 64<<20, 1<<20)
	if got := tiny.Snapshot().OptimalChunkSizeMB; got != minChunkMB {
		t.Fatalf("tiny free memory: chunk = %d, want %d", got, minChunkMB)
	}

	huge := stubbed(t, 1024*gib, 1024*gib)
	if got := huge.Snapshot().OptimalChunkSizeMB; got != maxChunkMB {
		t.Fatalf("huge free memory: chunk = %d, want %d", got, maxChunkMB)
	}
}

func TestMonitoringInvokesPressureCallbacks(t *testing.T) {
	m := stubbed(t, 16*gib, gib)

	fired := make(chan Snapshot, 1)
	unsub := m.OnPressure(func(s Snapshot) {
		select {
		case fired <- s:
		default:
		}
	})
	defer unsub()

	m.StartMonitoring()
	defer m.StopMonitoring()

	select {
	case snap := <-fired:
		if !snap.MemoryPressure {
			t.Fatalf("callback received non-pressure snapshot")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("pressure callback never fired")
	}
}

func TestWaitForReliefClears(t *testing.T) {
	var free atomic.Uint64
	free.Store(gib)
	m := NewMonitor(Config{TargetUtilization: 0.75})
	m.SetSystemSampler(func() (uint64, uint64, bool) {
		return 16 * gib, free.Load(), true
	})

	if !m.MemoryPressure() {
		t.Fatalf("expected initial pressure")
	}

	go func() {
		time.Sleep(600 * time.Millisecond)
		free.Store(12 * gib)
	}()

	if !m.WaitForRelief(context.Background(), 5*time.Second) {
		t.Fatalf("relief not observed before bound")
	}
}

func TestWaitForReliefBounded(t *testing.T) {
	m := stubbed(t, 16*gib, gib)

	start := time.Now()
	if m.WaitForRelief(context.Background(), time.Second) {
		t.Fatalf("relief reported while pressure persisted")
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Fatalf("wait exceeded bound: %v", elapsed)
	}
}

func TestResetDropsSubscriptions(t *testing.T) {
	m := stubbed(t, 16*gib, gib)
	m.OnPressure(func(Snapshot) { t.Errorf("callback survived reset") })
	m.Reset()

	m.StartMonitoring()
	defer m.StopMonitoring()
	time.Sleep(50 * time.Millisecond)
}
