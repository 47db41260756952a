//go:build linux

package iocount

import (
	"context"
	"strings"

	"emperror.dev/errors"
	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/link"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/srodi/hotspot-exporter/pkg/types"
)

const (
	netMapName   = "net_stats_map"
	blkioMapName = "blkio_stats_map"
	tcpMapName   = "tcp_state_map"

	iterateRetries = 3
)

// netStats mirrors struct net_stats in the BPF object.
type netStats struct {
	RxBytes   uint64
	TxBytes   uint64
	RxPackets uint64
	TxPackets uint64
	Dropped   uint64
}

// blkioStats mirrors struct blkio_stats in the BPF object.
type blkioStats struct {
	ReadBytes  uint64
	WriteBytes uint64
	ReadOps    uint64
	WriteOps   uint64
}

// Collector owns a loaded BPF collection and the tracepoint links feeding its maps.
type Collector struct {
	coll  *ebpf.Collection
	links []link.Link

	net   *ebpf.Map
	blkio *ebpf.Map
	tcp   *ebpf.Map
}

var _ Source = (*Collector)(nil)

// Open loads the compiled object at path and attaches every tracepoint program
// it contains. Programs whose tracepoint is missing on this kernel are skipped.
func Open(path string) (*Collector, error) {
	if err := raiseMemlock(); err != nil {
		log.WithError(err).Debug("could not raise RLIMIT_MEMLOCK")
	}

	spec, err := ebpf.LoadCollectionSpec(path)
	if err != nil {
		return nil, errors.WrapWithDetails(err, "load bpf object", "path", path)
	}
	coll, err := ebpf.NewCollection(spec)
	if err != nil {
		return nil, errors.Wrap(err, "create bpf collection")
	}

	c := &Collector{coll: coll, net: coll.Maps[netMapName], blkio: coll.Maps[blkioMapName], tcp: coll.Maps[tcpMapName]}
	if c.net == nil && c.blkio == nil {
		coll.Close()
		return nil, errors.WithDetails(errors.New("bpf object has no counter maps"), "path", path)
	}

	for name, ps := range spec.Programs {
		group, event, ok := tracepointOf(ps.SectionName)
		if !ok {
			continue
		}
		prog := coll.Programs[name]
		if prog == nil {
			continue
		}
		l, err := link.Tracepoint(group, event, prog, nil)
		if err != nil {
			log.WithError(err).WithField("tracepoint", group+"/"+event).Debug("tracepoint not attached")
			continue
		}
		c.links = append(c.links, l)
	}
	if len(c.links) == 0 {
		c.Close()
		return nil, errors.WithDetails(errors.New("no tracepoint could be attached"), "path", path)
	}
	log.WithFields(log.Fields{"object": path, "links": len(c.links)}).Info("eBPF io counters attached")
	return c, nil
}

// tracepointOf splits "tracepoint/<group>/<event>" (or the "tp/" short form).
func tracepointOf(section string) (string, string, bool) {
	rest, ok := strings.CutPrefix(section, "tracepoint/")
	if !ok {
		if rest, ok = strings.CutPrefix(section, "tp/"); !ok {
			return "", "", false
		}
	}
	group, event, ok := strings.Cut(rest, "/")
	return group, event, ok && group != "" && event != ""
}

func raiseMemlock() error {
	return unix.Setrlimit(unix.RLIMIT_MEMLOCK, &unix.Rlimit{Cur: unix.RLIM_INFINITY, Max: unix.RLIM_INFINITY})
}

func (c *Collector) Name() string    { return "ebpf" }
func (c *Collector) Available() bool { return true }

// Close detaches the tracepoints and releases the collection.
func (c *Collector) Close() error {
	var errs []error
	for _, l := range c.links {
		errs = append(errs, l.Close())
	}
	c.links = nil
	if c.coll != nil {
		c.coll.Close()
		c.coll = nil
	}
	return errors.Combine(errs...)
}

// Snapshot copies the current contents of the counter maps.
func (c *Collector) Snapshot(ctx context.Context) (types.IOSnapshot, error) {
	snap := types.IOSnapshot{
		Version:    types.IOSnapshotVersion,
		Net:        make(map[int]types.NetCounters),
		Blkio:      make(map[int]types.BlkioCounters),
		ConnStates: make(map[string]uint64),
	}
	if c.net != nil {
		err := iterate(ctx, c.net, func(pid uint32, v netStats) {
			snap.Net[int(pid)] = types.NetCounters(v)
		})
		if err != nil {
			return types.IOSnapshot{}, errors.Wrap(err, "read "+netMapName)
		}
	}
	if c.blkio != nil {
		err := iterate(ctx, c.blkio, func(pid uint32, v blkioStats) {
			snap.Blkio[int(pid)] = types.BlkioCounters(v)
		})
		if err != nil {
			return types.IOSnapshot{}, errors.Wrap(err, "read "+blkioMapName)
		}
	}
	if c.tcp != nil {
		err := iterate(ctx, c.tcp, func(state uint32, count uint64) {
			snap.ConnStates[StateName(state)] = count
		})
		if err != nil {
			return types.IOSnapshot{}, errors.Wrap(err, "read "+tcpMapName)
		}
	}
	return snap, nil
}

// iterate walks m, restarting when the kernel aborts the walk because entries
// were deleted concurrently.
func iterate[V any](ctx context.Context, m *ebpf.Map, fn func(uint32, V)) error {
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		var (
			key uint32
			val V
		)
		seen := make(map[uint32]V)
		it := m.Iterate()
		for it.Next(&key, &val) {
			seen[key] = val
		}
		if err := it.Err(); err != nil {
			if errors.Is(err, ebpf.ErrIterationAborted) && attempt < iterateRetries {
				continue
			}
			return err
		}
		for k, v := range seen {
			fn(k, v)
		}
		return nil
	}
}
