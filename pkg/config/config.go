// Package config loads the exporter's YAML configuration.
package config

import (
	"net"
	"os"
	"strconv"
	"time"

	"emperror.dev/errors"
	"github.com/c2h5oh/datasize"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/srodi/hotspot-exporter/pkg/classify"
	"github.com/srodi/hotspot-exporter/pkg/collector/memory"
	"github.com/srodi/hotspot-exporter/pkg/exposition"
	"github.com/srodi/hotspot-exporter/pkg/procfs"
	"github.com/srodi/hotspot-exporter/pkg/report"
	"github.com/srodi/hotspot-exporter/pkg/scan"
	"github.com/srodi/hotspot-exporter/pkg/types"
)

const (
	DefaultPath            = "/etc/hotspot-exporter/config.yaml"
	DefaultPort            = 9215
	DefaultRefreshInterval = 30 * time.Second
	DefaultOnDemandMin     = 5 * time.Second
	DefaultSystemRules     = "/etc/hotspot-exporter/subgroups.toml"
	DefaultLocalRules      = "./subgroups.toml"
	DefaultBPFObject       = "/usr/lib/hotspot-exporter/process_io.bpf.o"
)

// Buffers are size hints for the bounded per-process reads.
type Buffers struct {
	IO          datasize.ByteSize `yaml:"io" json:"io"`
	Smaps       datasize.ByteSize `yaml:"smaps" json:"smaps"`
	SmapsRollup datasize.ByteSize `yaml:"smaps_rollup" json:"smaps_rollup"`
}

// Rules locates the classification rule files.
type Rules struct {
	SystemFile string `yaml:"system_file" json:"system_file"`
	LocalFile  string `yaml:"local_file" json:"local_file"`
	Watch      bool   `yaml:"watch" json:"watch"`
}

// EBPF configures the optional I/O tracing source.
type EBPF struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Object  string `yaml:"object" json:"object"`
}

// Config is the effective exporter configuration.
type Config struct {
	Bind string `yaml:"bind" json:"bind"`
	Port int    `yaml:"port" json:"port"`

	ProcRoot     string `yaml:"proc_root" json:"proc_root"`
	MaxProcesses int    `yaml:"max_processes" json:"max_processes"`
	Parallelism  int    `yaml:"parallelism" json:"parallelism"`

	RefreshInterval     time.Duration `yaml:"refresh_interval" json:"refresh_interval"`
	OnDemandMinInterval time.Duration `yaml:"on_demand_min_interval" json:"on_demand_min_interval"`

	MinUSS       datasize.ByteSize `yaml:"min_uss" json:"min_uss"`
	IncludeNames []string          `yaml:"include_names,omitempty" json:"include_names,omitempty"`
	ExcludeNames []string          `yaml:"exclude_names,omitempty" json:"exclude_names,omitempty"`

	SearchMode        string   `yaml:"search_mode" json:"search_mode"`
	SearchGroups      []string `yaml:"search_groups,omitempty" json:"search_groups,omitempty"`
	SearchSubgroups   []string `yaml:"search_subgroups,omitempty" json:"search_subgroups,omitempty"`
	DisableOthers     bool     `yaml:"disable_others" json:"disable_others"`
	HideKernelThreads bool     `yaml:"hide_kernel_threads" json:"hide_kernel_threads"`

	TopNSubgroup int `yaml:"top_n_subgroup" json:"top_n_subgroup"`
	TopNOthers   int `yaml:"top_n_others" json:"top_n_others"`

	Buffers Buffers `yaml:"buffers" json:"buffers"`
	Rules   Rules   `yaml:"rules" json:"rules"`
	EBPF    EBPF    `yaml:"ebpf" json:"ebpf"`

	TestDataFile string `yaml:"test_data_file,omitempty" json:"test_data_file,omitempty"`

	EnableRSS bool `yaml:"enable_rss" json:"enable_rss"`
	EnablePSS bool `yaml:"enable_pss" json:"enable_pss"`
	EnableUSS bool `yaml:"enable_uss" json:"enable_uss"`
	EnableCPU bool `yaml:"enable_cpu" json:"enable_cpu"`

	LogLevel string `yaml:"log_level" json:"log_level"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Bind:                "0.0.0.0",
		Port:                DefaultPort,
		ProcRoot:            procfs.DefaultRoot,
		RefreshInterval:     DefaultRefreshInterval,
		OnDemandMinInterval: DefaultOnDemandMin,
		TopNSubgroup:        types.DefaultTopK,
		TopNOthers:          types.DefaultTopKOthers,
		Buffers: Buffers{
			IO:          procfs.DefaultIOBuffer * datasize.B,
			Smaps:       memory.DefaultSmapsBuffer * datasize.B,
			SmapsRollup: memory.DefaultRollupBuffer * datasize.B,
		},
		Rules: Rules{SystemFile: DefaultSystemRules, LocalFile: DefaultLocalRules},
		EBPF:  EBPF{Object: DefaultBPFObject},

		EnableRSS: true,
		EnablePSS: true,
		EnableUSS: true,
		EnableCPU: true,
		LogLevel:  "info",
	}
}

// Load reads path over the defaults. An empty path, or a missing file at the
// default location, yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
	case !explicit && errors.Is(err, os.ErrNotExist):
		log.Debugf("no config file at %s, using defaults", path)
		return cfg, nil
	default:
		return Config{}, errors.WrapIfWithDetails(err, "read config", "path", path)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, errors.Combine(types.ErrConfigurationInvalid, errors.WrapWithDetails(err, "decode config", "path", path))
	}
	return cfg, cfg.Validate()
}

// Validate reports every contradictory or out-of-range setting at once.
func (c Config) Validate() error {
	var errs []error
	add := func(msg string, details ...any) {
		errs = append(errs, errors.NewWithDetails(msg, details...))
	}

	switch report.SearchMode(c.SearchMode) {
	case report.SearchAll:
	case report.SearchInclude, report.SearchExclude:
		if len(c.SearchGroups) == 0 && len(c.SearchSubgroups) == 0 {
			add("search mode needs search_groups or search_subgroups", "search_mode", c.SearchMode)
		}
	default:
		add("unknown search_mode", "search_mode", c.SearchMode)
	}
	if !c.EnableRSS && !c.EnablePSS && !c.EnableUSS && !c.EnableCPU {
		add("enable_rss, enable_pss, enable_uss and enable_cpu are all false")
	}
	if c.TopNSubgroup < 0 || c.TopNOthers < 0 {
		add("top-N limits must not be negative", "top_n_subgroup", c.TopNSubgroup, "top_n_others", c.TopNOthers)
	}
	if c.RefreshInterval <= 0 {
		add("refresh_interval must be positive", "refresh_interval", c.RefreshInterval.String())
	}
	if c.OnDemandMinInterval < 0 {
		add("on_demand_min_interval must not be negative", "on_demand_min_interval", c.OnDemandMinInterval.String())
	}
	if c.MaxProcesses < 0 || c.Parallelism < 0 {
		add("max_processes and parallelism must not be negative")
	}
	if c.Port <= 0 || c.Port > 65535 {
		add("port out of range", "port", c.Port)
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		add("unknown log_level", "log_level", c.LogLevel)
	}

	if len(errs) == 0 {
		return nil
	}
	return errors.Combine(append([]error{types.ErrConfigurationInvalid}, errs...)...)
}

// Address is the listen address of the HTTP server.
func (c Config) Address() string {
	return net.JoinHostPort(c.Bind, strconv.Itoa(c.Port))
}

// Filters maps the filter settings onto the aggregator.
func (c Config) Filters() report.FilterConfig {
	hide := c.HideKernelThreads
	return report.FilterConfig{
		MinUSS:          c.MinUSS.Bytes(),
		SearchMode:      report.SearchMode(c.SearchMode),
		SearchGroups:    c.SearchGroups,
		SearchSubgroups: c.SearchSubgroups,
		DisableOthers:   c.DisableOthers,
		HideKernel:      &hide,
	}
}

// Exposition returns the enabled metric families.
func (c Config) Exposition() exposition.Options {
	return exposition.Options{EnableRSS: c.EnableRSS, EnablePSS: c.EnablePSS, EnableUSS: c.EnableUSS, EnableCPU: c.EnableCPU}
}

// Limits returns the ranking limits. Disabled dimensions are not ranked.
func (c Config) Limits() report.Limits {
	return report.Limits{Subgroup: c.TopNSubgroup, Others: c.TopNOthers, Dimensions: c.Exposition().Dimensions()}
}

// Scan returns the procfs scanner options.
func (c Config) Scan() scan.Options {
	return scan.Options{
		Root:         c.ProcRoot,
		MaxProcesses: c.MaxProcesses,
		Parallelism:  c.Parallelism,
		IncludeNames: c.IncludeNames,
		ExcludeNames: c.ExcludeNames,
		IOBuffer:     int(c.Buffers.IO.Bytes()),
		Buffers: memory.Buffers{
			Rollup: int(c.Buffers.SmapsRollup.Bytes()),
			Smaps:  int(c.Buffers.Smaps.Bytes()),
		},
	}
}

// RuleSources returns the rule file layers.
func (c Config) RuleSources() classify.Sources {
	return classify.Sources{SystemFile: c.Rules.SystemFile, LocalFile: c.Rules.LocalFile}
}

// YAML renders c as a config file.
func (c Config) YAML() ([]byte, error) {
	out, err := yaml.Marshal(c)
	return out, errors.WrapIf(err, "encode config")
}
