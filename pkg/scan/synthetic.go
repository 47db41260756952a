package scan

import (
	"context"
	"os"
	"strconv"
	"time"

	"emperror.dev/errors"
	"github.com/goccy/go-json"

	"github.com/srodi/hotspot-exporter/pkg/procfs"
	"github.com/srodi/hotspot-exporter/pkg/types"
)

// TestDataVersion is written by GenerateTestData.
const TestDataVersion = "2.0"

// TestProcess is one synthetic process. Byte fields are bytes, cpu_percent is
// percent of one core.
type TestProcess struct {
	PID     int    `json:"pid"`
	Name    string `json:"name"`
	Cmdline string `json:"cmdline,omitempty"`

	RSS  uint64 `json:"rss"`
	PSS  uint64 `json:"pss"`
	USS  uint64 `json:"uss"`
	Swap uint64 `json:"swap,omitempty"`

	CPUPercent     float64 `json:"cpu_percent"`
	CPUTimeUser    float64 `json:"cpu_time_user,omitempty"`
	CPUTimeSystem  float64 `json:"cpu_time_system,omitempty"`
	CPUTimeSeconds float64 `json:"cpu_time_seconds,omitempty"`

	RxBytes   uint64 `json:"rx_bytes,omitempty"`
	TxBytes   uint64 `json:"tx_bytes,omitempty"`
	RxPackets uint64 `json:"rx_packets,omitempty"`
	TxPackets uint64 `json:"tx_packets,omitempty"`
	Dropped   uint64 `json:"dropped,omitempty"`

	ReadBytes  uint64 `json:"read_bytes,omitempty"`
	WriteBytes uint64 `json:"write_bytes,omitempty"`
	ReadOps    uint64 `json:"read_ops,omitempty"`
	WriteOps   uint64 `json:"write_ops,omitempty"`
}

// TestData is the synthetic source file layout.
type TestData struct {
	Version     string        `json:"version"`
	GeneratedAt string        `json:"generated_at"`
	Processes   []TestProcess `json:"processes"`
}

// LoadTestData reads and decodes a synthetic source file.
func LoadTestData(path string) (TestData, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return TestData{}, errors.WrapWithDetails(err, "read test data", "path", path)
	}
	var td TestData
	if err := json.Unmarshal(data, &td); err != nil {
		return TestData{}, errors.Wrapf(err, "decode test data %s", path)
	}
	return td, nil
}

// WriteTestData encodes td as indented JSON to path.
func WriteTestData(path string, td TestData) error {
	data, err := json.MarshalIndent(td, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode test data")
	}
	return errors.Wrapf(os.WriteFile(path, data, 0o644), "write %s", path)
}

// SyntheticSource replays a test data file instead of reading procfs. The
// file is re-read every cycle so it can be edited while the exporter runs.
type SyntheticSource struct {
	Path string
}

var _ Source = SyntheticSource{}

// Collect classifies every synthetic process. An unreadable file fails the
// cycle the same way an unreadable process table does.
func (s SyntheticSource) Collect(_ context.Context, cl Classifier) (Cycle, error) {
	td, err := LoadTestData(s.Path)
	if err != nil {
		return Cycle{}, errors.Combine(procfs.ErrCollectionFailed, err)
	}
	cycle := Cycle{MemoryStrategy: "synthetic", Samples: make([]types.ProcessSample, 0, len(td.Processes))}
	for _, tp := range td.Processes {
		cycle.Stats.Enumerated++
		if tp.PID <= 0 || tp.Name == "" {
			cycle.Stats.ParseErrors++
			continue
		}
		user, system := tp.CPUTimeUser, tp.CPUTimeSystem
		if user == 0 && system == 0 {
			user = tp.CPUTimeSeconds
		}
		sample := types.ProcessSample{
			PID:              tp.PID,
			Name:             tp.Name,
			Cmdline:          tp.Cmdline,
			RSSBytes:         tp.RSS,
			PSSBytes:         tp.PSS,
			USSBytes:         tp.USS,
			SwapBytes:        tp.Swap,
			CPURatio:         tp.CPUPercent / 100,
			CPUSecondsUser:   user,
			CPUSecondsSystem: system,
			ReadBytes:        tp.ReadBytes,
			WriteBytes:       tp.WriteBytes,
			ReadOps:          tp.ReadOps,
			WriteOps:         tp.WriteOps,
			RxBytes:          tp.RxBytes,
			TxBytes:          tp.TxBytes,
			RxPackets:        tp.RxPackets,
			TxPackets:        tp.TxPackets,
			NetDropped:       tp.Dropped,
			Class:            cl.Classify(tp.Name, tp.Cmdline),
		}
		if checkOrder(sample) {
			cycle.Stats.OrderWarnings++
		}
		cycle.Stats.Included++
		cycle.Samples = append(cycle.Samples, sample)
	}
	return cycle, nil
}

// GenerateTestData builds count processes per named pattern plus others
// unclassified ones, with deterministic values derived from the PID.
func GenerateTestData(names []string, perName, others int, now time.Time) TestData {
	td := TestData{Version: TestDataVersion, GeneratedAt: now.UTC().Format(time.RFC3339)}
	pid := 1000
	add := func(name string) {
		seed := uint64(pid)
		rss := (seed%97 + 8) << 20
		td.Processes = append(td.Processes, TestProcess{
			PID:            pid,
			Name:           name,
			RSS:            rss,
			PSS:            rss * 3 / 4,
			USS:            rss / 2,
			CPUPercent:     float64(seed%400) / 4,
			CPUTimeSeconds: float64(seed % 5000),
			RxBytes:        seed * 4096,
			TxBytes:        seed * 2048,
			ReadBytes:      seed * 8192,
			WriteBytes:     seed * 1024,
			ReadOps:        seed % 1000,
			WriteOps:       seed % 500,
		})
		pid++
	}
	for _, name := range names {
		for i := 0; i < perName; i++ {
			add(name)
		}
	}
	for i := 0; i < others; i++ {
		add("process-" + strconv.Itoa(i+1))
	}
	return td
}
