package exposition_test

import (
	"bytes"
	"strings"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srodi/hotspot-exporter/pkg/exposition"
	"github.com/srodi/hotspot-exporter/pkg/types"
)

var (
	pg    = types.GroupKey{Group: "db", Subgroup: "postgres"}
	nginx = types.GroupKey{Group: "web", Subgroup: "nginx"}
)

func snapshot(generated time.Time) *types.MetricsSnapshot {
	return &types.MetricsSnapshot{
		GeneratedAt: generated,
		Groups: []types.GroupAggregate{
			{Key: nginx, RSSBytes: 300, USSBytes: 100, Processes: 1},
			{Key: pg, RSSBytes: 900, PSSBytes: 700, USSBytes: 600, CPURatio: 0.5, CPUSecondsUser: 12, CPUSecondsSystem: 3, ReadBytes: 42, Processes: 2},
		},
		TopN: []types.TopNSet{
			{Key: pg, Dimension: types.DimensionUSS, Entries: []types.TopNEntry{
				{Rank: 1, PID: 1, Name: "postgres", Key: pg, Dimension: types.DimensionUSS, Value: 400, PercentOfGroup: 66.67},
			}},
			{Key: pg, Dimension: types.DimensionRSS, Entries: []types.TopNEntry{
				{Rank: 1, PID: 2, Name: "postgres", Key: pg, Dimension: types.DimensionRSS, Value: 500, PercentOfGroup: 55.5},
			}},
		},
		ConnStates:  map[string]uint64{"LISTEN": 4, "ESTABLISHED": 9},
		Diagnostics: types.Diagnostics{Success: true, Duration: 250 * time.Millisecond, ProcessCount: 3},
	}
}

func parse(t *testing.T, out []byte) map[string]*dto.MetricFamily {
	t.Helper()
	var p expfmt.TextParser
	mfs, err := p.TextToMetricFamilies(bytes.NewReader(out))
	require.NoError(t, err)
	return mfs
}

func labels(m *dto.Metric) map[string]string {
	out := make(map[string]string, len(m.GetLabel()))
	for _, lp := range m.GetLabel() {
		out[lp.GetName()] = lp.GetValue()
	}
	return out
}

func find(t *testing.T, mf *dto.MetricFamily, want map[string]string) *dto.Metric {
	t.Helper()
	require.NotNil(t, mf)
	for _, m := range mf.GetMetric() {
		got := labels(m)
		match := true
		for k, v := range want {
			if got[k] != v {
				match = false
				break
			}
		}
		if match {
			return m
		}
	}
	t.Fatalf("%s: no series with labels %v", mf.GetName(), want)
	return nil
}

func TestWriteRoundTripsThroughTextParser(t *testing.T) {
	now := time.Unix(1_700_000_100, 0)
	var buf bytes.Buffer
	require.NoError(t, exposition.Write(&buf, snapshot(now.Add(-10*time.Second)), exposition.CacheState{Updating: true, Now: now}, exposition.AllEnabled()))

	mfs := parse(t, buf.Bytes())

	uss := find(t, mfs["hotspot_group_memory_uss_bytes"], map[string]string{"group": "db", "subgroup": "postgres"})
	assert.Equal(t, 600.0, uss.GetGauge().GetValue())

	user := find(t, mfs["hotspot_group_cpu_seconds_total"], map[string]string{"subgroup": "postgres", "mode": "user"})
	assert.Equal(t, 12.0, user.GetCounter().GetValue())
	assert.Equal(t, dto.MetricType_COUNTER, mfs["hotspot_group_cpu_seconds_total"].GetType())

	top := find(t, mfs["hotspot_top_process_percent_of_subgroup"], map[string]string{"dimension": "uss", "rank": "1"})
	assert.Equal(t, "1", labels(top)["pid"])
	assert.Equal(t, "postgres", labels(top)["name"])
	assert.InDelta(t, 66.67, top.GetGauge().GetValue(), 1e-9)

	listen := find(t, mfs["hotspot_tcp_connections"], map[string]string{"state": "LISTEN"})
	assert.Equal(t, 4.0, listen.GetGauge().GetValue())

	assert.Equal(t, 1.0, mfs["hotspot_cache_updating"].GetMetric()[0].GetGauge().GetValue())
	assert.Equal(t, 1.0, mfs["hotspot_cache_update_success"].GetMetric()[0].GetGauge().GetValue())
	assert.Equal(t, 10.0, mfs["hotspot_cache_age_seconds"].GetMetric()[0].GetGauge().GetValue())
	assert.Equal(t, 0.25, mfs["hotspot_cache_update_duration_seconds"].GetMetric()[0].GetGauge().GetValue())
	assert.Equal(t, 3.0, mfs["hotspot_processes_total"].GetMetric()[0].GetGauge().GetValue())
}

func TestDisabledFamiliesAreOmitted(t *testing.T) {
	opts := exposition.AllEnabled()
	opts.EnableRSS = false
	opts.EnableCPU = false

	var buf bytes.Buffer
	require.NoError(t, exposition.Write(&buf, snapshot(time.Now()), exposition.CacheState{Now: time.Now()}, opts))
	mfs := parse(t, buf.Bytes())

	assert.NotContains(t, mfs, "hotspot_group_memory_rss_bytes")
	assert.NotContains(t, mfs, "hotspot_group_cpu_usage_ratio")
	assert.NotContains(t, mfs, "hotspot_group_cpu_seconds_total")
	assert.Contains(t, mfs, "hotspot_group_memory_uss_bytes")

	for _, m := range mfs["hotspot_top_process_value"].GetMetric() {
		assert.NotEqual(t, "rss", labels(m)["dimension"])
	}
	assert.Equal(t, []types.Dimension{types.DimensionPSS, types.DimensionUSS, types.DimensionIO}, opts.Dimensions())
}

func TestOutputIsDeterministic(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	render := func() string {
		var buf bytes.Buffer
		require.NoError(t, exposition.Write(&buf, snapshot(now), exposition.CacheState{Now: now}, exposition.AllEnabled()))
		return buf.String()
	}
	first := render()
	for i := 0; i < 5; i++ {
		require.Equal(t, first, render())
	}

	// db/postgres sorts before web/nginx regardless of input order.
	assert.Less(t,
		strings.Index(first, `hotspot_group_processes{group="db"`),
		strings.Index(first, `hotspot_group_processes{group="web"`))
	assert.Less(t,
		strings.Index(first, `hotspot_tcp_connections{state="ESTABLISHED"}`),
		strings.Index(first, `hotspot_tcp_connections{state="LISTEN"}`))
}

func TestEmptySnapshotStillHasCacheGauges(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, exposition.Write(&buf, &types.MetricsSnapshot{}, exposition.CacheState{Now: time.Now()}, exposition.AllEnabled()))
	mfs := parse(t, buf.Bytes())

	assert.Equal(t, 0.0, mfs["hotspot_cache_update_success"].GetMetric()[0].GetGauge().GetValue())
	assert.Equal(t, 0.0, mfs["hotspot_cache_age_seconds"].GetMetric()[0].GetGauge().GetValue())
	assert.NotContains(t, mfs, "hotspot_tcp_connections")
	assert.True(t, strings.HasPrefix(exposition.ContentType(), "text/plain"))
}
