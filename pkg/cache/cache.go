// Package cache owns the published metrics snapshot and the loop that refreshes it.
package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"emperror.dev/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/srodi/hotspot-exporter/pkg/classify"
	"github.com/srodi/hotspot-exporter/pkg/collector/iocount"
	"github.com/srodi/hotspot-exporter/pkg/report"
	"github.com/srodi/hotspot-exporter/pkg/scan"
	"github.com/srodi/hotspot-exporter/pkg/types"
)

// ErrRefreshInProgress is returned by Refresh when another refresh is running.
const ErrRefreshInProgress = errors.Sentinel("refresh already in progress")

// Config controls what a refresh publishes.
type Config struct {
	Filters report.FilterConfig
	Limits  report.Limits
	// OnDemandMinInterval is the minimum snapshot age before Trigger refreshes.
	OnDemandMinInterval time.Duration
}

// Coordinator publishes immutable snapshots. Refresh is the only writer; Read
// never blocks on it.
type Coordinator struct {
	source scan.Source
	io     iocount.Source
	cfg    Config

	classifier atomic.Pointer[classify.Memo]
	snapshot   atomic.Pointer[types.MetricsSnapshot]
	updating   atomic.Bool
	limiter    *rate.Limiter

	mu      sync.Mutex
	stopped bool
	wg      sync.WaitGroup
	now     func() time.Time
}

// New returns a Coordinator serving an empty snapshot until the first refresh.
// A nil io source contributes nothing.
func New(source scan.Source, io iocount.Source, classifier *classify.Classifier, cfg Config) *Coordinator {
	if io == nil {
		io = iocount.NopSource{}
	}
	if cfg.Limits.Dimensions == nil {
		cfg.Limits.Dimensions = types.Dimensions
	}
	c := &Coordinator{source: source, io: io, cfg: cfg, now: time.Now}
	if cfg.OnDemandMinInterval > 0 {
		c.limiter = rate.NewLimiter(rate.Every(cfg.OnDemandMinInterval), 1)
	}
	c.SetClassifier(classifier)
	c.snapshot.Store(&types.MetricsSnapshot{
		Diagnostics: types.Diagnostics{Error: "no collection has completed yet", IOAvailable: io.Available()},
	})
	return c
}

// SetClassifier swaps the rules used from the next refresh on.
func (c *Coordinator) SetClassifier(cl *classify.Classifier) {
	c.classifier.Store(classify.NewMemo(cl, 0, 0))
}

// Classifier returns the classifier currently in use.
func (c *Coordinator) Classifier() *classify.Classifier {
	return c.classifier.Load().Classifier()
}

// Read returns the current snapshot. It is never nil and must not be modified.
func (c *Coordinator) Read() *types.MetricsSnapshot {
	return c.snapshot.Load()
}

// Updating reports whether a refresh is running.
func (c *Coordinator) Updating() bool {
	return c.updating.Load()
}

// Refresh runs one full cycle and publishes the result. On failure the
// previous snapshot's data stays published with Success=false. A refresh
// that finds another one running returns ErrRefreshInProgress immediately.
func (c *Coordinator) Refresh(ctx context.Context) error {
	if !c.updating.CompareAndSwap(false, true) {
		return ErrRefreshInProgress
	}
	defer c.updating.Store(false)

	start := c.now()
	cycle, err := c.source.Collect(ctx, c.classifier.Load())
	if err != nil {
		c.publishFailure(start, err)
		return errors.WrapIf(err, "refresh")
	}

	ioSnap, err := c.io.Snapshot(ctx)
	if err != nil {
		log.WithError(err).Warn("io counters unavailable for this cycle")
		ioSnap = types.IOSnapshot{}
	}
	merged, orphans := iocount.Merge(cycle.Samples, ioSnap)
	if orphans > 0 {
		log.WithField("orphans", orphans).Debug("io counters without a matching process dropped")
	}
	result := report.Build(merged, c.cfg.Filters, c.cfg.Limits)

	end := c.now()
	snap := &types.MetricsSnapshot{
		GeneratedAt: end,
		Samples:     result.Samples,
		Groups:      result.Groups,
		TopN:        result.TopN,
		ConnStates:  ioSnap.ConnStates,
		Diagnostics: types.Diagnostics{
			Success:             true,
			Duration:            end.Sub(start),
			AttemptedAt:         start,
			ProcessCount:        len(result.Samples),
			Enumerated:          cycle.Stats.Enumerated,
			Skipped:             cycle.Stats.Skipped,
			Vanished:            cycle.Stats.Vanished,
			Denied:              cycle.Stats.Denied,
			ParseErrors:         cycle.Stats.ParseErrors,
			OrderWarnings:       cycle.Stats.OrderWarnings,
			Subgroups:           len(result.Groups),
			MemoryStrategy:      cycle.MemoryStrategy,
			IOAvailable:         c.io.Available(),
			IOBufferKB:          cycle.IOHighWater / 1024,
			SmapsBufferKB:       cycle.SmapsHighWater / 1024,
			SmapsRollupBufferKB: cycle.SmapsRollupHighWater / 1024,
		},
	}
	c.snapshot.Store(snap)

	log.WithFields(log.Fields{
		"processes": snap.Diagnostics.ProcessCount,
		"subgroups": snap.Diagnostics.Subgroups,
		"duration":  snap.Diagnostics.Duration,
	}).Debug("snapshot refreshed")
	return nil
}

// publishFailure republishes the last snapshot's data with the failure recorded.
func (c *Coordinator) publishFailure(start time.Time, err error) {
	prev := c.snapshot.Load()
	next := *prev
	next.Diagnostics.Success = false
	next.Diagnostics.Error = err.Error()
	next.Diagnostics.AttemptedAt = start
	next.Diagnostics.Duration = c.now().Sub(start)
	c.snapshot.Store(&next)
	log.WithError(err).Error("collection failed, serving previous snapshot")
}

// Run refreshes immediately and then on every tick of interval until ctx is
// done. A tick that fires while a refresh is still running is skipped.
// Callers use Wait to let an in-flight refresh finish after ctx is done.
// Ticks after Wait has been called start nothing.
func (c *Coordinator) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c.spawn(ctx, "scheduled")
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.spawn(ctx, "scheduled")
		}
	}
}

// Trigger starts a background refresh if the snapshot is older than the
// on-demand minimum interval and the rate limit allows it. It never blocks.
func (c *Coordinator) Trigger(ctx context.Context) bool {
	if c.limiter == nil || c.Updating() {
		return false
	}
	if age := c.now().Sub(c.Read().GeneratedAt); age < c.cfg.OnDemandMinInterval {
		return false
	}
	if !c.limiter.Allow() {
		return false
	}
	return c.spawn(ctx, "on-demand")
}

func (c *Coordinator) spawn(ctx context.Context, reason string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return false
	}
	if c.Updating() {
		log.WithField("reason", reason).Debug("refresh still running, skipping")
		return false
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := c.Refresh(ctx); errors.Is(err, ErrRefreshInProgress) {
			log.WithField("reason", reason).Debug("refresh still running, skipping")
		}
	}()
	return true
}

// Wait stops Run and Trigger from starting new background refreshes and
// blocks until the ones already started finish. It may run concurrently with
// Run.
func (c *Coordinator) Wait() {
	c.mu.Lock()
	c.stopped = true
	c.mu.Unlock()
	c.wg.Wait()
}
