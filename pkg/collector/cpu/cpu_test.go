package cpu

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srodi/hotspot-exporter/pkg/procfs"
)

func TestObserveFirstSightingIsZero(t *testing.T) {
	a := NewAccountant(100)
	a.BeginCycle()
	s := a.Observe(procfs.Stat{PID: 9, UTime: 250, STime: 50, StartTime: 1}, time.Unix(0, 0))
	assert.Zero(t, s.Ratio)
	assert.InDelta(t, 2.5, s.UserSeconds, 1e-9)
	assert.InDelta(t, 0.5, s.SystemSeconds, 1e-9)
}

func TestObserveDeltaRatio(t *testing.T) {
	a := NewAccountant(100)
	t0 := time.Unix(1000, 0)
	a.BeginCycle()
	a.Observe(procfs.Stat{PID: 1, UTime: 600, STime: 400, StartTime: 5}, t0)
	a.BeginCycle()
	s := a.Observe(procfs.Stat{PID: 1, UTime: 650, STime: 450, StartTime: 5}, t0.Add(time.Second))
	assert.InDelta(t, 1.0, s.Ratio, 1e-9)

	a.BeginCycle()
	s = a.Observe(procfs.Stat{PID: 1, UTime: 850, STime: 450, StartTime: 5}, t0.Add(2*time.Second))
	assert.InDelta(t, 2.0, s.Ratio, 1e-9, "threaded processes may exceed one core")
}

func TestObservePIDReuseResets(t *testing.T) {
	a := NewAccountant(100)
	t0 := time.Unix(1000, 0)
	a.BeginCycle()
	a.Observe(procfs.Stat{PID: 1, UTime: 1000, StartTime: 5}, t0)
	a.BeginCycle()
	s := a.Observe(procfs.Stat{PID: 1, UTime: 10, StartTime: 77}, t0.Add(time.Second))
	assert.Zero(t, s.Ratio)

	a.BeginCycle()
	s = a.Observe(procfs.Stat{PID: 1, UTime: 110, StartTime: 77}, t0.Add(2*time.Second))
	assert.InDelta(t, 1.0, s.Ratio, 1e-9, "new process is tracked from its reset point")
}

func TestObserveNeverNegative(t *testing.T) {
	a := NewAccountant(100)
	t0 := time.Unix(1000, 0)
	a.Observe(procfs.Stat{PID: 3, UTime: 500, StartTime: 9}, t0)
	s := a.Observe(procfs.Stat{PID: 3, UTime: 400, StartTime: 9}, t0.Add(time.Second))
	assert.GreaterOrEqual(t, s.Ratio, 0.0)

	s = a.Observe(procfs.Stat{PID: 3, UTime: 600, StartTime: 9}, t0.Add(time.Second))
	assert.Zero(t, s.Ratio, "zero wall time elapsed")
}

func TestPruneDropsUnseenPIDs(t *testing.T) {
	a := NewAccountant(100)
	now := time.Unix(0, 0)
	a.BeginCycle()
	for pid := 1; pid <= 3; pid++ {
		a.Observe(procfs.Stat{PID: pid}, now)
	}
	require.Equal(t, 0, a.Prune())
	require.Equal(t, 3, a.Len())

	a.BeginCycle()
	a.Observe(procfs.Stat{PID: 2}, now)
	assert.Equal(t, 2, a.Prune())
	assert.Equal(t, 1, a.Len())
}

func TestClockTicksEnvOverride(t *testing.T) {
	t.Setenv("CLK_TCK", "250")
	assert.Equal(t, int64(250), ClockTicks())
	t.Setenv("CLK_TCK", "")
	assert.Positive(t, ClockTicks())
}
