package report

import (
	"sort"

	"github.com/srodi/hotspot-exporter/pkg/types"
)

// Limits caps ranking sizes. Named buckets use Subgroup, the other/other
// bucket uses Others. A limit of zero ranks nothing for that bucket.
type Limits struct {
	Subgroup   int
	Others     int
	Dimensions []types.Dimension
}

// DefaultLimits ranks every dimension with the default sizes.
func DefaultLimits() Limits {
	return Limits{Subgroup: types.DefaultTopK, Others: types.DefaultTopKOthers, Dimensions: types.Dimensions}
}

func (l Limits) forKey(k types.GroupKey) int {
	if k.Group == types.OtherLabel && k.Subgroup == types.OtherLabel {
		return l.Others
	}
	return l.Subgroup
}

// Result is everything one cycle reports, all derived from the same samples.
type Result struct {
	Samples []types.ProcessSample
	Groups  []types.GroupAggregate
	TopN    []types.TopNSet
}

// Build filters samples, then aggregates and ranks the survivors.
func Build(samples []types.ProcessSample, cfg FilterConfig, limits Limits) Result {
	filtered := FilterSamples(samples, cfg)
	groups := Aggregate(filtered)
	return Result{Samples: filtered, Groups: groups, TopN: Rank(filtered, groups, limits)}
}

// Aggregate sums samples per (group, subgroup), sorted by key.
func Aggregate(samples []types.ProcessSample) []types.GroupAggregate {
	byKey := make(map[types.GroupKey]*types.GroupAggregate)
	for _, s := range samples {
		key := s.Class.Key()
		g, ok := byKey[key]
		if !ok {
			g = &types.GroupAggregate{Key: key}
			byKey[key] = g
		}
		g.RSSBytes += s.RSSBytes
		g.PSSBytes += s.PSSBytes
		g.USSBytes += s.USSBytes
		g.SwapBytes += s.SwapBytes
		g.CPURatio += s.CPURatio
		g.CPUSecondsUser += s.CPUSecondsUser
		g.CPUSecondsSystem += s.CPUSecondsSystem
		g.ReadBytes += s.ReadBytes
		g.WriteBytes += s.WriteBytes
		g.ReadOps += s.ReadOps
		g.WriteOps += s.WriteOps
		g.RxBytes += s.RxBytes
		g.TxBytes += s.TxBytes
		g.Processes++
	}

	out := make([]types.GroupAggregate, 0, len(byKey))
	for _, g := range byKey {
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool { return keyLess(out[i].Key, out[j].Key) })
	return out
}

func keyLess(a, b types.GroupKey) bool {
	if a.Group != b.Group {
		return a.Group < b.Group
	}
	return a.Subgroup < b.Subgroup
}

// Rank builds one TopNSet per group and dimension. Each set is sorted by value
// descending with ties broken by ascending PID, so equal values (zeros
// included) rank in PID order. Dimensions are ranked independently of each other.
func Rank(samples []types.ProcessSample, groups []types.GroupAggregate, limits Limits) []types.TopNSet {
	members := make(map[types.GroupKey][]types.ProcessSample, len(groups))
	for _, s := range samples {
		members[s.Class.Key()] = append(members[s.Class.Key()], s)
	}

	var sets []types.TopNSet
	for _, g := range groups {
		limit := limits.forKey(g.Key)
		for _, dim := range limits.Dimensions {
			sets = append(sets, types.TopNSet{
				Key:       g.Key,
				Dimension: dim,
				Entries:   topEntries(members[g.Key], g, dim, limit),
			})
		}
	}
	return sets
}

func topEntries(members []types.ProcessSample, g types.GroupAggregate, dim types.Dimension, limit int) []types.TopNEntry {
	if limit <= 0 {
		return nil
	}
	candidates := append([]types.ProcessSample(nil), members...)
	sort.Slice(candidates, func(i, j int) bool {
		vi, vj := dim.Value(candidates[i]), dim.Value(candidates[j])
		if vi == vj {
			return candidates[i].PID < candidates[j].PID
		}
		return vi > vj
	})
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	total := dim.Total(g)
	entries := make([]types.TopNEntry, 0, len(candidates))
	for i, s := range candidates {
		v := dim.Value(s)
		entries = append(entries, types.TopNEntry{
			Rank:           i + 1,
			PID:            s.PID,
			Name:           s.Name,
			Key:            g.Key,
			Dimension:      dim,
			Value:          v,
			PercentOfGroup: percentOf(v, total),
		})
	}
	return entries
}

// percentOf returns v as a percentage of total, defining 0/0 as 0.
func percentOf(v, total float64) float64 {
	if total == 0 {
		return 0
	}
	return v / total * 100
}
