package ui

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/srodi/hotspot-exporter/pkg/types"
)

func topSnapshot() *types.MetricsSnapshot {
	pg := types.GroupKey{Group: "db", Subgroup: "postgres"}
	nginx := types.GroupKey{Group: "web", Subgroup: "nginx"}
	return &types.MetricsSnapshot{
		GeneratedAt: time.Unix(1_700_000_000, 0).UTC(),
		Groups: []types.GroupAggregate{
			{Key: nginx, USSBytes: 100 << 20, Processes: 1},
			{Key: pg, USSBytes: 600 << 20, Processes: 2},
		},
		TopN: []types.TopNSet{
			{Key: pg, Dimension: types.DimensionUSS, Entries: []types.TopNEntry{
				{Rank: 1, PID: 1, Name: "postgres", Key: pg, Dimension: types.DimensionUSS, Value: 400 << 20, PercentOfGroup: 66.67},
			}},
			{Key: nginx, Dimension: types.DimensionUSS, Entries: []types.TopNEntry{
				{Rank: 1, PID: 3, Name: "nginx", Key: nginx, Dimension: types.DimensionUSS, Value: 100 << 20, PercentOfGroup: 100},
			}},
		},
		Diagnostics: types.Diagnostics{Success: true, ProcessCount: 3, Subgroups: 2, MemoryStrategy: "smaps_rollup"},
	}
}

func TestRenderTopOrdersByDimension(t *testing.T) {
	var buf bytes.Buffer
	if err := RenderTop(&buf, topSnapshot(), TopOptions{Dimension: types.DimensionUSS, Interval: 5 * time.Second}); err != nil {
		t.Fatalf("RenderTop: %v", err)
	}
	out := buf.String()

	for _, want := range []string{"[Groups by uss]", "[Top processes by uss]", "66.67", "db/postgres", "Memory: smaps_rollup"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Index(out, "postgres ") > strings.Index(out, "nginx ") {
		t.Fatalf("postgres should be listed before nginx:\n%s", out)
	}
}

func TestRenderTopLimitAndFailure(t *testing.T) {
	snap := topSnapshot()
	snap.Diagnostics.Success = false
	snap.Diagnostics.Error = "process table unreadable"

	var buf bytes.Buffer
	if err := RenderTop(&buf, snap, TopOptions{Limit: 1}); err != nil {
		t.Fatalf("RenderTop: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "Last refresh failed: process table unreadable") {
		t.Fatalf("failure banner missing:\n%s", out)
	}
	if strings.Contains(out, "web") {
		t.Fatalf("limit 1 should hide the second group:\n%s", out)
	}
}

func TestRenderTopEmpty(t *testing.T) {
	var buf bytes.Buffer
	if err := RenderTop(&buf, &types.MetricsSnapshot{}, TopOptions{Dimension: types.DimensionCPU}); err != nil {
		t.Fatalf("RenderTop: %v", err)
	}
	if !strings.Contains(buf.String(), "No processes matched current filters") {
		t.Fatalf("empty view missing placeholder:\n%s", buf.String())
	}
}
