// Package exposition renders a metrics snapshot in the Prometheus text format.
package exposition

import (
	"io"
	"sort"
	"strconv"
	"time"

	"emperror.dev/errors"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/srodi/hotspot-exporter/pkg/types"
)

const namespace = "hotspot_"

// Options selects optional families.
type Options struct {
	EnableRSS bool
	EnablePSS bool
	EnableUSS bool
	EnableCPU bool
}

// AllEnabled turns every optional family on.
func AllEnabled() Options {
	return Options{EnableRSS: true, EnablePSS: true, EnableUSS: true, EnableCPU: true}
}

// Dimensions lists the ranked dimensions o keeps.
func (o Options) Dimensions() []types.Dimension {
	var out []types.Dimension
	for _, d := range types.Dimensions {
		if o.dimensionEnabled(d) {
			out = append(out, d)
		}
	}
	return out
}

func (o Options) dimensionEnabled(d types.Dimension) bool {
	switch d {
	case types.DimensionRSS:
		return o.EnableRSS
	case types.DimensionPSS:
		return o.EnablePSS
	case types.DimensionUSS:
		return o.EnableUSS
	case types.DimensionCPU:
		return o.EnableCPU
	default:
		return true
	}
}

// CacheState is the coordinator state reported next to the snapshot.
type CacheState struct {
	Updating bool
	Now      time.Time
}

// Format is the content type Write produces.
var Format = expfmt.NewFormat(expfmt.TypeTextPlain)

// ContentType is the HTTP Content-Type header value for Format.
func ContentType() string { return string(Format) }

// Write encodes snap to w. Families and their series come out in a stable order.
func Write(w io.Writer, snap *types.MetricsSnapshot, state CacheState, opts Options) error {
	enc := expfmt.NewEncoder(w, Format)
	for _, mf := range Families(snap, state, opts) {
		if err := enc.Encode(mf); err != nil {
			return errors.WrapIf(err, "encode "+mf.GetName())
		}
	}
	return nil
}

// Families builds the metric families for snap.
func Families(snap *types.MetricsSnapshot, state CacheState, opts Options) []*dto.MetricFamily {
	b := newBuilder()

	groups := append([]types.GroupAggregate(nil), snap.Groups...)
	sort.Slice(groups, func(i, j int) bool {
		if groups[i].Key.Group != groups[j].Key.Group {
			return groups[i].Key.Group < groups[j].Key.Group
		}
		return groups[i].Key.Subgroup < groups[j].Key.Subgroup
	})

	for _, g := range groups {
		labels := groupLabels(g.Key)
		if opts.EnableRSS {
			b.gauge("group_memory_rss_bytes", "Resident set size of the group in bytes.", float64(g.RSSBytes), labels...)
		}
		if opts.EnablePSS {
			b.gauge("group_memory_pss_bytes", "Proportional set size of the group in bytes.", float64(g.PSSBytes), labels...)
		}
		if opts.EnableUSS {
			b.gauge("group_memory_uss_bytes", "Unique set size of the group in bytes.", float64(g.USSBytes), labels...)
		}
		b.gauge("group_memory_swap_bytes", "Swapped out memory of the group in bytes.", float64(g.SwapBytes), labels...)
		if opts.EnableCPU {
			b.gauge("group_cpu_usage_ratio", "CPU cores used by the group since the previous cycle.", g.CPURatio, labels...)
			b.counter("group_cpu_seconds_total", "Cumulative CPU time of the group's current processes.", g.CPUSecondsUser, append(labels, "mode", "user")...)
			b.counter("group_cpu_seconds_total", "Cumulative CPU time of the group's current processes.", g.CPUSecondsSystem, append(labels, "mode", "system")...)
		}
		b.counter("group_blkio_read_bytes_total", "Bytes read from storage by the group's current processes.", float64(g.ReadBytes), labels...)
		b.counter("group_blkio_write_bytes_total", "Bytes written to storage by the group's current processes.", float64(g.WriteBytes), labels...)
		b.counter("group_net_rx_bytes_total", "Bytes received by the group's current processes.", float64(g.RxBytes), labels...)
		b.counter("group_net_tx_bytes_total", "Bytes sent by the group's current processes.", float64(g.TxBytes), labels...)
		b.gauge("group_processes", "Processes in the group.", float64(g.Processes), labels...)
	}

	sets := append([]types.TopNSet(nil), snap.TopN...)
	sort.SliceStable(sets, func(i, j int) bool {
		a, c := sets[i], sets[j]
		if a.Key.Group != c.Key.Group {
			return a.Key.Group < c.Key.Group
		}
		if a.Key.Subgroup != c.Key.Subgroup {
			return a.Key.Subgroup < c.Key.Subgroup
		}
		return a.Dimension < c.Dimension
	})
	for _, set := range sets {
		if !opts.dimensionEnabled(set.Dimension) {
			continue
		}
		for _, e := range set.Entries {
			labels := append(groupLabels(set.Key),
				"dimension", string(e.Dimension),
				"rank", strconv.Itoa(e.Rank),
				"pid", strconv.Itoa(e.PID),
				"name", e.Name,
			)
			b.gauge("top_process_value", "Metric value of a top ranked process.", e.Value, labels...)
			b.gauge("top_process_percent_of_subgroup", "Share of the subgroup total held by a top ranked process.", e.PercentOfGroup, labels...)
		}
	}

	states := make([]string, 0, len(snap.ConnStates))
	for s := range snap.ConnStates {
		states = append(states, s)
	}
	sort.Strings(states)
	for _, s := range states {
		b.gauge("tcp_connections", "TCP connections by state.", float64(snap.ConnStates[s]), "state", s)
	}

	d := snap.Diagnostics
	b.gauge("cache_update_duration_seconds", "Duration of the last collection cycle.", d.Duration.Seconds())
	b.gauge("cache_update_success", "Whether the last collection cycle succeeded.", boolValue(d.Success))
	b.gauge("cache_updating", "Whether a collection cycle is running.", boolValue(state.Updating))
	age := 0.0
	if !snap.GeneratedAt.IsZero() {
		age = state.Now.Sub(snap.GeneratedAt).Seconds()
	}
	b.gauge("cache_age_seconds", "Age of the served snapshot.", age)
	b.gauge("processes_total", "Processes included in the served snapshot.", float64(d.ProcessCount))

	return b.families()
}

func groupLabels(k types.GroupKey) []string {
	return []string{"group", k.Group, "subgroup", k.Subgroup}
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// builder collects series into families, keeping first-seen family order.
type builder struct {
	order []string
	byKey map[string]*dto.MetricFamily
}

func newBuilder() *builder {
	return &builder{byKey: make(map[string]*dto.MetricFamily)}
}

func (b *builder) family(name, help string, typ dto.MetricType) *dto.MetricFamily {
	full := namespace + name
	mf, ok := b.byKey[full]
	if !ok {
		mf = &dto.MetricFamily{Name: ptr(full), Help: ptr(help), Type: typ.Enum()}
		b.byKey[full] = mf
		b.order = append(b.order, full)
	}
	return mf
}

func (b *builder) gauge(name, help string, v float64, labels ...string) {
	mf := b.family(name, help, dto.MetricType_GAUGE)
	mf.Metric = append(mf.Metric, &dto.Metric{Label: labelPairs(labels), Gauge: &dto.Gauge{Value: ptr(v)}})
}

func (b *builder) counter(name, help string, v float64, labels ...string) {
	mf := b.family(name, help, dto.MetricType_COUNTER)
	mf.Metric = append(mf.Metric, &dto.Metric{Label: labelPairs(labels), Counter: &dto.Counter{Value: ptr(v)}})
}

func (b *builder) families() []*dto.MetricFamily {
	out := make([]*dto.MetricFamily, 0, len(b.order))
	for _, name := range b.order {
		out = append(out, b.byKey[name])
	}
	return out
}

func labelPairs(kv []string) []*dto.LabelPair {
	pairs := make([]*dto.LabelPair, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		pairs = append(pairs, &dto.LabelPair{Name: ptr(kv[i]), Value: ptr(kv[i+1])})
	}
	return pairs
}

func ptr[T any](v T) *T { return &v }
