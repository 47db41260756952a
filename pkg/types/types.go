package types

import "time"

const (
	// DefaultTopK controls how many top processes we rank per named subgroup.
	DefaultTopK = 3
	// DefaultTopKOthers controls how many top processes we rank in the "other" bucket.
	DefaultTopKOthers = 10

	// OtherLabel is both the group and subgroup of unclassified processes.
	OtherLabel = "other"
)

// Classification is the (group, subgroup) label pair assigned to a process.
type Classification struct {
	Group    string `json:"group"`
	Subgroup string `json:"subgroup"`
}

// Other is the fallback classification.
var Other = Classification{Group: OtherLabel, Subgroup: OtherLabel}

// IsOther reports whether c is the fallback bucket.
func (c Classification) IsOther() bool {
	return c.Group == OtherLabel
}

// Key returns the aggregation key for c.
func (c Classification) Key() GroupKey {
	return GroupKey{Group: c.Group, Subgroup: c.Subgroup}
}

// GroupKey identifies one (group, subgroup) bucket.
type GroupKey struct {
	Group    string `json:"group"`
	Subgroup string `json:"subgroup"`
}

func (k GroupKey) String() string {
	return k.Group + "/" + k.Subgroup
}

// ProcessSample is one process observed during a single scan cycle.
type ProcessSample struct {
	PID     int    `json:"pid"`
	Name    string `json:"name"`
	Cmdline string `json:"cmdline,omitempty"`

	RSSBytes  uint64 `json:"rss_bytes"`
	PSSBytes  uint64 `json:"pss_bytes"`
	USSBytes  uint64 `json:"uss_bytes"`
	SwapBytes uint64 `json:"swap_bytes"`

	CPURatio         float64 `json:"cpu_ratio"`
	CPUSecondsUser   float64 `json:"cpu_seconds_user"`
	CPUSecondsSystem float64 `json:"cpu_seconds_system"`

	ReadBytes  uint64 `json:"read_bytes"`
	WriteBytes uint64 `json:"write_bytes"`
	ReadOps    uint64 `json:"read_ops"`
	WriteOps   uint64 `json:"write_ops"`
	RxBytes    uint64 `json:"rx_bytes"`
	TxBytes    uint64 `json:"tx_bytes"`
	RxPackets  uint64 `json:"rx_packets"`
	TxPackets  uint64 `json:"tx_packets"`
	NetDropped uint64 `json:"net_dropped"`

	Class Classification `json:"classification"`
}

// IOBytes is the combined disk and network traffic of the sample.
func (s ProcessSample) IOBytes() uint64 {
	return s.ReadBytes + s.WriteBytes + s.RxBytes + s.TxBytes
}

// GroupAggregate holds one bucket's totals for a cycle.
type GroupAggregate struct {
	Key GroupKey `json:"key"`

	RSSBytes  uint64 `json:"rss_bytes"`
	PSSBytes  uint64 `json:"pss_bytes"`
	USSBytes  uint64 `json:"uss_bytes"`
	SwapBytes uint64 `json:"swap_bytes"`

	CPURatio         float64 `json:"cpu_ratio"`
	CPUSecondsUser   float64 `json:"cpu_seconds_user"`
	CPUSecondsSystem float64 `json:"cpu_seconds_system"`

	ReadBytes  uint64 `json:"read_bytes"`
	WriteBytes uint64 `json:"write_bytes"`
	ReadOps    uint64 `json:"read_ops"`
	WriteOps   uint64 `json:"write_ops"`
	RxBytes    uint64 `json:"rx_bytes"`
	TxBytes    uint64 `json:"tx_bytes"`

	Processes int `json:"processes"`
}

// Dimension is a metric processes are ranked by.
type Dimension string

const (
	DimensionRSS Dimension = "rss"
	DimensionPSS Dimension = "pss"
	DimensionUSS Dimension = "uss"
	DimensionCPU Dimension = "cpu"
	DimensionIO  Dimension = "io"
)

// Dimensions lists every ranked dimension in output order.
var Dimensions = []Dimension{DimensionRSS, DimensionPSS, DimensionUSS, DimensionCPU, DimensionIO}

// Value extracts the dimension's metric from s.
func (d Dimension) Value(s ProcessSample) float64 {
	switch d {
	case DimensionRSS:
		return float64(s.RSSBytes)
	case DimensionPSS:
		return float64(s.PSSBytes)
	case DimensionUSS:
		return float64(s.USSBytes)
	case DimensionCPU:
		return s.CPURatio
	case DimensionIO:
		return float64(s.IOBytes())
	default:
		return 0
	}
}

// Total extracts the dimension's bucket total from g.
func (d Dimension) Total(g GroupAggregate) float64 {
	switch d {
	case DimensionRSS:
		return float64(g.RSSBytes)
	case DimensionPSS:
		return float64(g.PSSBytes)
	case DimensionUSS:
		return float64(g.USSBytes)
	case DimensionCPU:
		return g.CPURatio
	case DimensionIO:
		return float64(g.ReadBytes + g.WriteBytes + g.RxBytes + g.TxBytes)
	default:
		return 0
	}
}

// TopNEntry is one ranked slot within a bucket and dimension.
type TopNEntry struct {
	Rank           int       `json:"rank"`
	PID            int       `json:"pid"`
	Name           string    `json:"name"`
	Key            GroupKey  `json:"key"`
	Dimension      Dimension `json:"dimension"`
	Value          float64   `json:"value"`
	PercentOfGroup float64   `json:"percent_of_subgroup"`
}

// TopNSet is the ranking of one bucket along one dimension.
type TopNSet struct {
	Key       GroupKey    `json:"key"`
	Dimension Dimension   `json:"dimension"`
	Entries   []TopNEntry `json:"entries"`
}

// Diagnostics describes how the cycle that produced a snapshot went.
type Diagnostics struct {
	Success       bool          `json:"success"`
	Error         string        `json:"error,omitempty"`
	Duration      time.Duration `json:"duration"`
	AttemptedAt   time.Time     `json:"attempted_at"`
	ProcessCount  int           `json:"process_count"`
	Enumerated    int           `json:"enumerated"`
	Skipped       int           `json:"skipped"`
	Vanished      int           `json:"vanished"`
	Denied        int           `json:"permission_denied"`
	ParseErrors   int           `json:"parse_errors"`
	OrderWarnings int           `json:"memory_order_warnings"`
	Subgroups     int           `json:"subgroups"`

	MemoryStrategy string `json:"memory_strategy"`
	IOAvailable    bool   `json:"io_available"`

	IOBufferKB          uint64 `json:"io_buffer_kb"`
	SmapsBufferKB       uint64 `json:"smaps_buffer_kb"`
	SmapsRollupBufferKB uint64 `json:"smaps_rollup_buffer_kb"`
}

// MetricsSnapshot is the unit handed to readers. It is never mutated after publication.
type MetricsSnapshot struct {
	GeneratedAt time.Time         `json:"generated_at"`
	Samples     []ProcessSample   `json:"samples"`
	Groups      []GroupAggregate  `json:"groups"`
	TopN        []TopNSet         `json:"top_n"`
	ConnStates  map[string]uint64 `json:"conn_states,omitempty"`
	Diagnostics Diagnostics       `json:"diagnostics"`
}

// Group returns the aggregate for key, if present.
func (s *MetricsSnapshot) Group(key GroupKey) (GroupAggregate, bool) {
	for _, g := range s.Groups {
		if g.Key == key {
			return g, true
		}
	}
	return GroupAggregate{}, false
}

// Ranking returns the top-N set for key and dimension, if present.
func (s *MetricsSnapshot) Ranking(key GroupKey, dim Dimension) (TopNSet, bool) {
	for _, set := range s.TopN {
		if set.Key == key && set.Dimension == dim {
			return set, true
		}
	}
	return TopNSet{}, false
}

// NetCounters are cumulative per-PID network counters from the tracing source.
type NetCounters struct {
	RxBytes   uint64 `json:"rx_bytes"`
	TxBytes   uint64 `json:"tx_bytes"`
	RxPackets uint64 `json:"rx_packets"`
	TxPackets uint64 `json:"tx_packets"`
	Dropped   uint64 `json:"dropped"`
}

// BlkioCounters are cumulative per-PID block I/O counters from the tracing source.
type BlkioCounters struct {
	ReadBytes  uint64 `json:"read_bytes"`
	WriteBytes uint64 `json:"write_bytes"`
	ReadOps    uint64 `json:"read_ops"`
	WriteOps   uint64 `json:"write_ops"`
}

// IOSnapshotVersion is the counter layout version IOSnapshot describes.
const IOSnapshotVersion = 1

// IOSnapshot is a point-in-time copy of the tracing source's counters.
type IOSnapshot struct {
	Version    int
	Net        map[int]NetCounters
	Blkio      map[int]BlkioCounters
	ConnStates map[string]uint64
}
