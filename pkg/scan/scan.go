// Package scan runs one collection cycle: enumerate processes, read their
// memory and CPU accounting in parallel, and classify them.
package scan

import (
	"context"
	"runtime"
	"strings"
	"sync"
	"time"

	"emperror.dev/errors"
	log "github.com/sirupsen/logrus"

	"github.com/srodi/hotspot-exporter/pkg/collector/cpu"
	"github.com/srodi/hotspot-exporter/pkg/collector/memory"
	"github.com/srodi/hotspot-exporter/pkg/procfs"
	"github.com/srodi/hotspot-exporter/pkg/types"
)

// Classifier labels a process. Implementations must be safe for concurrent use.
type Classifier interface {
	Classify(name, cmdline string) types.Classification
}

// Stats counts per-process outcomes of one cycle.
type Stats struct {
	Enumerated    int
	Included      int
	Skipped       int
	Vanished      int
	Denied        int
	ParseErrors   int
	OrderWarnings int
}

// Cycle is the raw output of one scan: classified samples, not yet filtered.
type Cycle struct {
	Samples []types.ProcessSample
	Stats   Stats
	// MemoryStrategy names the memory reader in use.
	MemoryStrategy string
	// BufferHighWater is the largest read per buffer kind so far, in bytes.
	IOHighWater          uint64
	SmapsHighWater       uint64
	SmapsRollupHighWater uint64
}

// Source produces one Cycle per call. A returned error means the cycle as a
// whole failed; per-process problems are only counted.
type Source interface {
	Collect(ctx context.Context, cl Classifier) (Cycle, error)
}

// Options configures a ProcSource.
type Options struct {
	Root         string
	MaxProcesses int
	// Parallelism is the worker count; zero uses GOMAXPROCS.
	Parallelism int
	// IncludeNames and ExcludeNames are substring filters on the process
	// name, applied before any expensive read. Exclude wins.
	IncludeNames []string
	ExcludeNames []string
	IOBuffer     int
	Buffers      memory.Buffers
	// ClockTicks overrides the kernel tick rate; zero detects it.
	ClockTicks int64
}

// ProcSource scans a procfs tree.
type ProcSource struct {
	opts   Options
	memory memory.Strategy
	cpu    *cpu.Accountant

	memHW memory.HighWater
	ioHW  procfs.HighWater

	now func() time.Time
}

var _ Source = (*ProcSource)(nil)

// NewProcSource probes the memory strategy once and prepares the CPU delta cache.
func NewProcSource(opts Options) *ProcSource {
	if opts.Root == "" {
		opts.Root = procfs.DefaultRoot
	}
	if opts.Parallelism <= 0 {
		opts.Parallelism = runtime.GOMAXPROCS(0)
	}
	if opts.IOBuffer <= 0 {
		opts.IOBuffer = procfs.DefaultIOBuffer
	}
	p := &ProcSource{opts: opts, cpu: cpu.NewAccountant(opts.ClockTicks), now: time.Now}
	p.memory = memory.Probe(opts.Root, opts.Buffers, &p.memHW)
	return p
}

// MemoryStrategy names the probed memory reader.
func (p *ProcSource) MemoryStrategy() string { return p.memory.Name() }

type outcome struct {
	sample  types.ProcessSample
	err     error
	skipped bool
	order   bool
}

// Collect scans every process once. Only an unreadable process table fails
// the cycle.
func (p *ProcSource) Collect(ctx context.Context, cl Classifier) (Cycle, error) {
	seq, err := procfs.Enumerator{Root: p.opts.Root, Max: p.opts.MaxProcesses}.Entries()
	if err != nil {
		return Cycle{}, err
	}

	p.cpu.BeginCycle()
	now := p.now()

	jobs := make(chan procfs.Entry, p.opts.Parallelism*4)
	results := make(chan outcome, p.opts.Parallelism*4)

	var wg sync.WaitGroup
	for i := 0; i < p.opts.Parallelism; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for e := range jobs {
				results <- p.sampleOne(e, now, cl)
			}
		}()
	}
	go func() {
		defer close(jobs)
		for e := range seq {
			select {
			case jobs <- e:
			case <-ctx.Done():
				return
			}
		}
	}()
	go func() {
		wg.Wait()
		close(results)
	}()

	// Sequential fold; the only writer of cycle.
	cycle := Cycle{MemoryStrategy: p.memory.Name()}
	for r := range results {
		cycle.Stats.Enumerated++
		switch {
		case r.skipped:
			cycle.Stats.Skipped++
		case r.err != nil:
			countError(&cycle.Stats, r.err)
		default:
			if r.order {
				cycle.Stats.OrderWarnings++
			}
			cycle.Stats.Included++
			cycle.Samples = append(cycle.Samples, r.sample)
		}
	}

	if pruned := p.cpu.Prune(); pruned > 0 {
		log.WithField("pruned", pruned).Debug("dropped cpu history of exited processes")
	}
	cycle.IOHighWater = p.ioHW.Max()
	cycle.SmapsHighWater = p.memHW.Smaps.Max()
	cycle.SmapsRollupHighWater = p.memHW.Rollup.Max()

	if err := ctx.Err(); err != nil {
		return Cycle{}, errors.Wrap(err, "scan interrupted")
	}
	return cycle, nil
}

func countError(st *Stats, err error) {
	switch {
	case errors.Is(err, procfs.ErrProcessVanished):
		st.Vanished++
	case errors.Is(err, procfs.ErrPermissionDenied):
		st.Denied++
	default:
		st.ParseErrors++
	}
}

func (p *ProcSource) sampleOne(e procfs.Entry, now time.Time, cl Classifier) outcome {
	name, err := procfs.ReadName(e.Path, p.opts.IOBuffer, &p.ioHW)
	if err != nil {
		return p.failed(e, err)
	}
	if !nameAllowed(name, p.opts.IncludeNames, p.opts.ExcludeNames) {
		return outcome{skipped: true}
	}

	st, err := procfs.ReadStat(e.Path, p.opts.IOBuffer)
	if err != nil {
		return p.failed(e, err)
	}
	mem, err := p.memory.Read(e.Path)
	if err != nil {
		return p.failed(e, err)
	}
	cmdline, err := procfs.ReadCmdline(e.Path, p.opts.IOBuffer, &p.ioHW)
	if err != nil {
		return p.failed(e, err)
	}

	// Swap and block I/O are optional extras; only a vanished process drops the sample.
	swap, err := procfs.ReadSwap(e.Path, p.opts.IOBuffer, &p.ioHW)
	if errors.Is(err, procfs.ErrProcessVanished) {
		return p.failed(e, err)
	}
	bio, err := procfs.ReadBlockIO(e.Path, p.opts.IOBuffer, &p.ioHW)
	if errors.Is(err, procfs.ErrProcessVanished) {
		return p.failed(e, err)
	}

	usage := p.cpu.Observe(st, now)
	s := types.ProcessSample{
		PID:              e.PID,
		Name:             name,
		Cmdline:          cmdline,
		RSSBytes:         mem.RSS,
		PSSBytes:         mem.PSS,
		USSBytes:         mem.USS,
		SwapBytes:        swap,
		CPURatio:         usage.Ratio,
		CPUSecondsUser:   usage.UserSeconds,
		CPUSecondsSystem: usage.SystemSeconds,
		ReadBytes:        bio.ReadBytes,
		WriteBytes:       bio.WriteBytes,
		ReadOps:          bio.ReadOps,
		WriteOps:         bio.WriteOps,
		Class:            cl.Classify(name, cmdline),
	}
	return outcome{sample: s, order: checkOrder(s)}
}

func (p *ProcSource) failed(e procfs.Entry, err error) outcome {
	if errors.Is(err, procfs.ErrParse) {
		log.WithError(err).WithField("pid", e.PID).Debug("dropping process with malformed accounting data")
	}
	return outcome{err: err}
}

// nameAllowed applies the substring include/exclude lists; exclude wins.
func nameAllowed(name string, include, exclude []string) bool {
	for _, x := range exclude {
		if strings.Contains(name, x) {
			return false
		}
	}
	if len(include) == 0 {
		return true
	}
	for _, in := range include {
		if strings.Contains(name, in) {
			return true
		}
	}
	return false
}

// checkOrder reports a sample that breaks USS <= PSS <= RSS. The sample is kept.
func checkOrder(s types.ProcessSample) bool {
	if s.USSBytes <= s.PSSBytes && s.PSSBytes <= s.RSSBytes {
		return false
	}
	log.WithFields(log.Fields{
		"pid": s.PID, "name": s.Name,
		"rss": s.RSSBytes, "pss": s.PSSBytes, "uss": s.USSBytes,
	}).Warn("memory values out of expected order")
	return true
}
