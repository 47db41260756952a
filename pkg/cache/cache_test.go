package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"emperror.dev/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srodi/hotspot-exporter/pkg/classify"
	"github.com/srodi/hotspot-exporter/pkg/procfs"
	"github.com/srodi/hotspot-exporter/pkg/report"
	"github.com/srodi/hotspot-exporter/pkg/scan"
	"github.com/srodi/hotspot-exporter/pkg/types"
)

type sourceFunc func(ctx context.Context, cl scan.Classifier) (scan.Cycle, error)

func (f sourceFunc) Collect(ctx context.Context, cl scan.Classifier) (scan.Cycle, error) {
	return f(ctx, cl)
}

type fakeIO struct {
	snap types.IOSnapshot
	err  error
}

func (f fakeIO) Name() string    { return "fake" }
func (f fakeIO) Available() bool { return f.err == nil }
func (f fakeIO) Close() error    { return nil }
func (f fakeIO) Snapshot(context.Context) (types.IOSnapshot, error) {
	return f.snap, f.err
}

func classifier(t *testing.T) *classify.Classifier {
	t.Helper()
	rs, err := classify.Load(classify.Sources{})
	require.NoError(t, err)
	return classify.New(rs)
}

func cycleOf(cl scan.Classifier, samples ...types.ProcessSample) scan.Cycle {
	for i := range samples {
		samples[i].Class = cl.Classify(samples[i].Name, samples[i].Cmdline)
	}
	return scan.Cycle{Samples: samples, Stats: scan.Stats{Enumerated: len(samples), Included: len(samples)}, MemoryStrategy: "fake"}
}

func TestRefreshPublishesSnapshot(t *testing.T) {
	src := sourceFunc(func(_ context.Context, cl scan.Classifier) (scan.Cycle, error) {
		return cycleOf(cl,
			types.ProcessSample{PID: 1, Name: "postgres", USSBytes: 400},
			types.ProcessSample{PID: 2, Name: "postgres", USSBytes: 200},
			types.ProcessSample{PID: 3, Name: "nginx", USSBytes: 100},
		), nil
	})
	io := fakeIO{snap: types.IOSnapshot{
		Version:    types.IOSnapshotVersion,
		Net:        map[int]types.NetCounters{3: {RxBytes: 5}, 99: {RxBytes: 1}},
		ConnStates: map[string]uint64{"established": 4},
	}}
	c := New(src, io, classifier(t), Config{Limits: report.Limits{Subgroup: 1, Others: 10}})

	require.False(t, c.Read().Diagnostics.Success)
	require.NoError(t, c.Refresh(context.Background()))

	snap := c.Read()
	assert.True(t, snap.Diagnostics.Success)
	assert.Equal(t, 3, snap.Diagnostics.ProcessCount)
	assert.Equal(t, 2, snap.Diagnostics.Subgroups)
	assert.True(t, snap.Diagnostics.IOAvailable)
	assert.Equal(t, "fake", snap.Diagnostics.MemoryStrategy)
	assert.Equal(t, uint64(4), snap.ConnStates["established"])

	db, ok := snap.Group(types.GroupKey{Group: "db", Subgroup: "postgres"})
	require.True(t, ok)
	assert.Equal(t, uint64(600), db.USSBytes)
	set, ok := snap.Ranking(db.Key, types.DimensionUSS)
	require.True(t, ok)
	require.Len(t, set.Entries, 1)
	assert.InDelta(t, 66.67, set.Entries[0].PercentOfGroup, 0.01)

	web, _ := snap.Group(types.GroupKey{Group: "web", Subgroup: "nginx"})
	assert.Equal(t, uint64(5), web.RxBytes)
}

func TestRefreshFailureKeepsLastGoodSnapshot(t *testing.T) {
	var fail atomic.Bool
	src := sourceFunc(func(_ context.Context, cl scan.Classifier) (scan.Cycle, error) {
		if fail.Load() {
			return scan.Cycle{}, errors.WithDetails(procfs.ErrCollectionFailed, "root", "/proc")
		}
		return cycleOf(cl, types.ProcessSample{PID: 1, Name: "nginx", USSBytes: 100}), nil
	})
	c := New(src, nil, classifier(t), Config{})
	require.NoError(t, c.Refresh(context.Background()))
	good := c.Read()

	fail.Store(true)
	err := c.Refresh(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, procfs.ErrCollectionFailed))

	snap := c.Read()
	assert.False(t, snap.Diagnostics.Success)
	assert.NotEmpty(t, snap.Diagnostics.Error)
	assert.Equal(t, good.GeneratedAt, snap.GeneratedAt)
	assert.Equal(t, good.Groups, snap.Groups)
	assert.Equal(t, good.TopN, snap.TopN)
	assert.True(t, good.Diagnostics.Success, "published snapshots are never mutated")
}

func TestFirstCycleFailureServesEmptySnapshot(t *testing.T) {
	src := sourceFunc(func(context.Context, scan.Classifier) (scan.Cycle, error) {
		return scan.Cycle{}, procfs.ErrCollectionFailed
	})
	c := New(src, nil, classifier(t), Config{})
	require.Error(t, c.Refresh(context.Background()))
	snap := c.Read()
	require.NotNil(t, snap)
	assert.False(t, snap.Diagnostics.Success)
	assert.Empty(t, snap.Groups)
	assert.Empty(t, snap.TopN)
}

func TestIOFailureDoesNotFailCycle(t *testing.T) {
	src := sourceFunc(func(_ context.Context, cl scan.Classifier) (scan.Cycle, error) {
		return cycleOf(cl, types.ProcessSample{PID: 1, Name: "nginx", USSBytes: 1}), nil
	})
	c := New(src, fakeIO{err: errors.New("map gone")}, classifier(t), Config{})
	require.NoError(t, c.Refresh(context.Background()))
	assert.True(t, c.Read().Diagnostics.Success)
	assert.False(t, c.Read().Diagnostics.IOAvailable)
}

func TestRefreshSkipsWhileRunning(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	var calls atomic.Int32
	src := sourceFunc(func(_ context.Context, cl scan.Classifier) (scan.Cycle, error) {
		if calls.Add(1) == 1 {
			close(entered)
			<-release
		}
		return cycleOf(cl), nil
	})
	c := New(src, nil, classifier(t), Config{})

	done := make(chan error, 1)
	go func() { done <- c.Refresh(context.Background()) }()
	<-entered

	assert.True(t, c.Updating())
	start := time.Now()
	err := c.Refresh(context.Background())
	assert.True(t, errors.Is(err, ErrRefreshInProgress))
	assert.Less(t, time.Since(start), time.Second, "skip must not wait")
	assert.NotNil(t, c.Read(), "reads do not block on a running refresh")

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, int32(1), calls.Load())
	assert.False(t, c.Updating())
}

func TestSnapshotAtomicity(t *testing.T) {
	var cycle atomic.Uint64
	src := sourceFunc(func(_ context.Context, cl scan.Classifier) (scan.Cycle, error) {
		n := cycle.Add(1)
		return cycleOf(cl,
			types.ProcessSample{PID: 1, Name: "postgres", USSBytes: n * 3},
			types.ProcessSample{PID: 2, Name: "postgres", USSBytes: n},
		), nil
	})
	c := New(src, nil, classifier(t), Config{})
	require.NoError(t, c.Refresh(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	var violations atomic.Int32
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ctx.Err() == nil {
				snap := c.Read()
				g, ok := snap.Group(types.GroupKey{Group: "db", Subgroup: "postgres"})
				set, ok2 := snap.Ranking(g.Key, types.DimensionUSS)
				if !ok || !ok2 || len(set.Entries) == 0 {
					violations.Add(1)
					continue
				}
				// Top entry is 3n of a 4n total only when both come from one cycle.
				if set.Entries[0].Value*4 != float64(g.USSBytes)*3 {
					violations.Add(1)
				}
			}
		}()
	}
	for i := 0; i < 200; i++ {
		require.NoError(t, c.Refresh(context.Background()))
	}
	cancel()
	wg.Wait()
	assert.Zero(t, violations.Load())
}

func TestTriggerRespectsMinInterval(t *testing.T) {
	var calls atomic.Int32
	src := sourceFunc(func(_ context.Context, cl scan.Classifier) (scan.Cycle, error) {
		calls.Add(1)
		return cycleOf(cl), nil
	})
	c := New(src, nil, classifier(t), Config{OnDemandMinInterval: time.Minute})
	now := time.Unix(1_000_000, 0)
	c.now = func() time.Time { return now }
	require.NoError(t, c.Refresh(context.Background()))

	assert.False(t, c.Trigger(context.Background()), "snapshot is fresh")

	now = now.Add(2 * time.Minute)
	assert.True(t, c.Trigger(context.Background()))
	c.Wait()
	assert.Equal(t, int32(2), calls.Load())

	disabled := New(src, nil, classifier(t), Config{})
	assert.False(t, disabled.Trigger(context.Background()))
}

func TestRunRefreshesUntilCancelled(t *testing.T) {
	var calls atomic.Int32
	src := sourceFunc(func(_ context.Context, cl scan.Classifier) (scan.Cycle, error) {
		calls.Add(1)
		return cycleOf(cl), nil
	})
	c := New(src, nil, classifier(t), Config{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx, 10*time.Millisecond)
		close(done)
	}()
	require.Eventually(t, func() bool { return calls.Load() >= 3 }, 5*time.Second, 5*time.Millisecond)
	cancel()
	<-done
	c.Wait()
	assert.True(t, c.Read().Diagnostics.Success)
}

func TestWaitWhileRunIsTicking(t *testing.T) {
	var calls atomic.Int32
	src := sourceFunc(func(_ context.Context, cl scan.Classifier) (scan.Cycle, error) {
		calls.Add(1)
		time.Sleep(2 * time.Millisecond)
		return cycleOf(cl), nil
	})
	c := New(src, nil, classifier(t), Config{OnDemandMinInterval: time.Nanosecond})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		c.Run(ctx, time.Millisecond)
		close(done)
	}()
	require.Eventually(t, func() bool { return calls.Load() >= 2 }, 5*time.Second, time.Millisecond)

	c.Wait()
	after := calls.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, after, calls.Load(), "no refresh may start once Wait was called")
	assert.False(t, c.Trigger(context.Background()))
	assert.False(t, c.Updating())

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestSetClassifierAppliesToNextRefresh(t *testing.T) {
	src := sourceFunc(func(_ context.Context, cl scan.Classifier) (scan.Cycle, error) {
		return cycleOf(cl, types.ProcessSample{PID: 1, Name: "custom-daemon", USSBytes: 10}), nil
	})
	c := New(src, nil, classifier(t), Config{})
	require.NoError(t, c.Refresh(context.Background()))
	_, ok := c.Read().Group(types.Other.Key())
	require.True(t, ok)

	rs, err := classify.NewRuleSet([]classify.Rule{{Group: "app", Subgroup: "daemon", Matches: []string{"custom-*"}}})
	require.NoError(t, err)
	c.SetClassifier(classify.New(rs))
	require.NoError(t, c.Refresh(context.Background()))
	_, ok = c.Read().Group(types.GroupKey{Group: "app", Subgroup: "daemon"})
	assert.True(t, ok)
	assert.Equal(t, rs.Fingerprint(), c.Classifier().Rules().Fingerprint())
}
