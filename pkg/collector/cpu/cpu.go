// Package cpu turns cumulative stat ticks into usage ratios between scans.
package cpu

import (
	"os"
	"strconv"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tklauser/go-sysconf"

	"github.com/srodi/hotspot-exporter/pkg/procfs"
)

// DefaultClockTicks is USER_HZ on every mainstream Linux build.
const DefaultClockTicks = 100

// ClockTicks returns the kernel's ticks per second. CLK_TCK in the
// environment overrides the sysconf value, which eases testing.
func ClockTicks() int64 {
	if v, _ := strconv.ParseInt(os.Getenv("CLK_TCK"), 10, 64); v > 0 {
		return v
	}
	hz, err := sysconf.Sysconf(sysconf.SC_CLK_TCK)
	if err != nil || hz <= 0 {
		log.WithError(err).Debugf("sysconf(CLK_TCK) unavailable, assuming %d", DefaultClockTicks)
		return DefaultClockTicks
	}
	return hz
}

// Sample is the CPU usage of one process at one observation.
type Sample struct {
	// Ratio is the fraction of one core used since the previous observation.
	// It is 0 on first sight of a PID and may exceed 1 for threaded processes.
	Ratio         float64
	UserSeconds   float64
	SystemSeconds float64
}

type deltaEntry struct {
	ticks     uint64
	wall      time.Time
	startTime uint64
	gen       uint64
}

// Accountant owns the per-PID delta cache. Observe is safe for concurrent
// use across different PIDs within one cycle.
type Accountant struct {
	hz float64

	mu      sync.Mutex
	entries map[int]*deltaEntry
	gen     uint64
}

// NewAccountant creates an Accountant for the given ticks per second.
// A non-positive hz uses ClockTicks.
func NewAccountant(hz int64) *Accountant {
	if hz <= 0 {
		hz = ClockTicks()
	}
	return &Accountant{hz: float64(hz), entries: make(map[int]*deltaEntry)}
}

// BeginCycle starts a new generation; entries not observed before the
// next Prune are dropped.
func (a *Accountant) BeginCycle() {
	a.mu.Lock()
	a.gen++
	a.mu.Unlock()
}

// Observe records st taken at now and returns the usage since the previous
// observation of the same process. A changed start time means the PID was
// reused, so the entry is reset instead of producing a bogus delta.
func (a *Accountant) Observe(st procfs.Stat, now time.Time) Sample {
	out := Sample{
		UserSeconds:   float64(st.UTime) / a.hz,
		SystemSeconds: float64(st.STime) / a.hz,
	}
	ticks := st.TotalTicks()

	a.mu.Lock()
	defer a.mu.Unlock()

	prev, ok := a.entries[st.PID]
	if ok && prev.startTime == st.StartTime && ticks >= prev.ticks {
		if dt := now.Sub(prev.wall).Seconds(); dt > 0 {
			out.Ratio = float64(ticks-prev.ticks) / a.hz / dt
		}
	}
	if !ok {
		prev = &deltaEntry{}
		a.entries[st.PID] = prev
	}
	*prev = deltaEntry{ticks: ticks, wall: now, startTime: st.StartTime, gen: a.gen}
	return out
}

// Prune removes entries for PIDs not observed in the current generation and
// returns how many were dropped.
func (a *Accountant) Prune() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	removed := 0
	for pid, e := range a.entries {
		if e.gen != a.gen {
			delete(a.entries, pid)
			removed++
		}
	}
	return removed
}

// Len is the number of tracked PIDs.
func (a *Accountant) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.entries)
}
