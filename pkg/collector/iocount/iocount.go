// Package iocount bridges per-PID network and block I/O counters from an
// in-kernel tracing source into process samples.
package iocount

import (
	"context"
	"strconv"

	"emperror.dev/errors"
	log "github.com/sirupsen/logrus"

	"github.com/srodi/hotspot-exporter/pkg/types"
)

// ErrUnsupported is returned when the tracing source cannot run on this host.
const ErrUnsupported = errors.Sentinel("io counters require linux with eBPF")

// Source yields point-in-time copies of the tracing counters.
type Source interface {
	Name() string
	Available() bool
	Snapshot(ctx context.Context) (types.IOSnapshot, error)
	Close() error
}

// NopSource stands in when no tracing source is configured or it failed to load.
type NopSource struct{}

func (NopSource) Name() string    { return "none" }
func (NopSource) Available() bool { return false }
func (NopSource) Close() error    { return nil }

// Snapshot returns an empty snapshot of the current layout version.
func (NopSource) Snapshot(context.Context) (types.IOSnapshot, error) {
	return types.IOSnapshot{Version: types.IOSnapshotVersion}, nil
}

var tcpStates = map[uint32]string{
	1:  "established",
	2:  "syn_sent",
	3:  "syn_recv",
	4:  "fin_wait1",
	5:  "fin_wait2",
	6:  "time_wait",
	7:  "close",
	8:  "close_wait",
	9:  "last_ack",
	10: "listen",
	11: "closing",
}

// StateName maps a kernel TCP state number to its lower-case name.
func StateName(state uint32) string {
	if name, ok := tcpStates[state]; ok {
		return name
	}
	return "state_" + strconv.FormatUint(uint64(state), 10)
}

// Merge joins snap into samples by PID and returns the merged copy along with
// the number of PIDs in snap that matched no sample. Those orphans are dropped.
// Block counters from the tracing source replace the procfs values of a sample.
// A snapshot of an unknown layout version is ignored.
func Merge(samples []types.ProcessSample, snap types.IOSnapshot) ([]types.ProcessSample, int) {
	out := make([]types.ProcessSample, len(samples))
	copy(out, samples)
	if snap.Version != types.IOSnapshotVersion {
		if len(snap.Net)+len(snap.Blkio) > 0 {
			log.WithField("version", snap.Version).Warn("ignoring io snapshot with unknown layout version")
		}
		return out, 0
	}
	if len(snap.Net) == 0 && len(snap.Blkio) == 0 {
		return out, 0
	}

	byPID := make(map[int]int, len(out))
	for i := range out {
		byPID[out[i].PID] = i
	}
	orphans := make(map[int]struct{})
	for pid, n := range snap.Net {
		i, ok := byPID[pid]
		if !ok {
			orphans[pid] = struct{}{}
			continue
		}
		s := &out[i]
		s.RxBytes, s.TxBytes = n.RxBytes, n.TxBytes
		s.RxPackets, s.TxPackets = n.RxPackets, n.TxPackets
		s.NetDropped = n.Dropped
	}
	for pid, b := range snap.Blkio {
		i, ok := byPID[pid]
		if !ok {
			orphans[pid] = struct{}{}
			continue
		}
		s := &out[i]
		s.ReadBytes, s.WriteBytes = b.ReadBytes, b.WriteBytes
		s.ReadOps, s.WriteOps = b.ReadOps, b.WriteOps
	}
	return out, len(orphans)
}

// NewSource opens the eBPF collector when enabled and degrades to NopSource
// when it cannot be loaded.
func NewSource(enabled bool, object string) Source {
	if !enabled {
		return NopSource{}
	}
	c, err := Open(object)
	if err != nil {
		log.WithError(err).WithField("object", object).Warn("eBPF io counters unavailable, continuing without them")
		return NopSource{}
	}
	return c
}
