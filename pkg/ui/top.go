package ui

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/c2h5oh/datasize"

	"github.com/srodi/hotspot-exporter/pkg/types"
)

// TopOptions selects what the top view shows.
type TopOptions struct {
	Dimension types.Dimension
	// Limit caps the number of group and process rows; zero shows all.
	Limit    int
	Interval time.Duration
	Now      time.Time
}

// RenderTop writes a terminal view of snap: groups ordered by the chosen
// dimension, then the ranked processes for that dimension.
func RenderTop(w io.Writer, snap *types.MetricsSnapshot, opts TopOptions) error {
	if opts.Dimension == "" {
		opts.Dimension = types.DimensionUSS
	}
	d := snap.Diagnostics

	fmt.Fprint(w, Banner())
	fmt.Fprintf(w, "hotspot-exporter (press Ctrl+C to exit)\n")
	fmt.Fprintf(w, "Updated: %s | Interval: %v | Processes: %d | Subgroups: %d | Memory: %s\n\n",
		snap.GeneratedAt.Format(time.RFC3339), opts.Interval, d.ProcessCount, d.Subgroups, d.MemoryStrategy)
	if !d.Success {
		fmt.Fprintln(w, warnStyle.Render("[!] Last refresh failed: "+d.Error))
		fmt.Fprintln(w)
	}

	fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("[Groups by %s]", opts.Dimension)))
	groups := sortedGroups(snap.Groups, opts.Dimension)
	if len(groups) == 0 {
		fmt.Fprintln(w, "No processes matched current filters")
	} else {
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "GROUP\tSUBGROUP\tPROCS\tRSS\tPSS\tUSS\tSWAP\tCPU(%)\tREAD\tWRITE")
		for i, g := range groups {
			if opts.Limit > 0 && i >= opts.Limit {
				break
			}
			fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\t%s\t%.1f\t%s\t%s\n",
				g.Key.Group, g.Key.Subgroup, g.Processes,
				human(g.RSSBytes), human(g.PSSBytes), human(g.USSBytes), human(g.SwapBytes),
				g.CPURatio*100, human(g.ReadBytes), human(g.WriteBytes))
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("[Top processes by %s]", opts.Dimension)))
	entries := rankedEntries(snap.TopN, opts.Dimension)
	if len(entries) == 0 {
		fmt.Fprintln(w, "No ranked processes for this dimension")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RANK\tPID\tNAME\tGROUP/SUBGROUP\tVALUE\t% OF SUBGROUP")
	for i, e := range entries {
		if opts.Limit > 0 && i >= opts.Limit {
			break
		}
		fmt.Fprintf(tw, "%d\t%d\t%s\t%s\t%s\t%.2f\n", e.Rank, e.PID, e.Name, e.Key, formatValue(e.Dimension, e.Value), e.PercentOfGroup)
	}
	return tw.Flush()
}

func sortedGroups(groups []types.GroupAggregate, dim types.Dimension) []types.GroupAggregate {
	out := append([]types.GroupAggregate(nil), groups...)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := dim.Total(out[i]), dim.Total(out[j])
		if a != b {
			return a > b
		}
		return out[i].Key.String() < out[j].Key.String()
	})
	return out
}

// rankedEntries flattens every bucket's ranking for dim, highest value first.
func rankedEntries(sets []types.TopNSet, dim types.Dimension) []types.TopNEntry {
	var out []types.TopNEntry
	for _, set := range sets {
		if set.Dimension == dim {
			out = append(out, set.Entries...)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Value != out[j].Value {
			return out[i].Value > out[j].Value
		}
		return out[i].PID < out[j].PID
	})
	return out
}

func formatValue(dim types.Dimension, v float64) string {
	if dim == types.DimensionCPU {
		return fmt.Sprintf("%.1f%%", v*100)
	}
	return human(uint64(v))
}

func human(b uint64) string {
	return datasize.ByteSize(b).HumanReadable()
}
