// Package report filters classified samples, rolls them up per group and ranks
// the heaviest processes of every bucket.
package report

import (
	"strings"

	"github.com/srodi/hotspot-exporter/pkg/types"
)

// SearchMode restricts which buckets are reported.
type SearchMode string

const (
	SearchAll     SearchMode = ""
	SearchInclude SearchMode = "include"
	SearchExclude SearchMode = "exclude"
)

// FilterConfig controls which samples contribute to aggregates and rankings.
// Filters apply in field order: MinUSS, then search mode, then DisableOthers.
type FilterConfig struct {
	// MinUSS drops samples with less unique memory, in bytes.
	MinUSS uint64
	// SearchMode with SearchGroups/SearchSubgroups keeps or drops matching buckets.
	SearchMode      SearchMode
	SearchGroups    []string
	SearchSubgroups []string
	// DisableOthers drops every unclassified sample.
	DisableOthers bool
	// HideKernel drops kernel threads; nil leaves them in.
	HideKernel *bool
}

func (cfg FilterConfig) hideKernelEnabled() bool {
	return cfg.HideKernel != nil && *cfg.HideKernel
}

// FilterSamples returns the samples that pass cfg, preserving order.
func FilterSamples(samples []types.ProcessSample, cfg FilterConfig) []types.ProcessSample {
	filtered := make([]types.ProcessSample, 0, len(samples))
	for _, s := range samples {
		if passesFilters(s, cfg) {
			filtered = append(filtered, s)
		}
	}
	return filtered
}

func passesFilters(s types.ProcessSample, cfg FilterConfig) bool {
	if s.USSBytes < cfg.MinUSS {
		return false
	}
	switch cfg.SearchMode {
	case SearchInclude:
		if !matchesSearch(s.Class, cfg) {
			return false
		}
	case SearchExclude:
		if matchesSearch(s.Class, cfg) {
			return false
		}
	}
	if cfg.DisableOthers && s.Class.IsOther() {
		return false
	}
	if cfg.hideKernelEnabled() && isKernelThread(s) {
		return false
	}
	return true
}

func matchesSearch(c types.Classification, cfg FilterConfig) bool {
	for _, g := range cfg.SearchGroups {
		if g == c.Group {
			return true
		}
	}
	for _, sg := range cfg.SearchSubgroups {
		if sg == c.Subgroup {
			return true
		}
	}
	return false
}

// isKernelThread recognises kernel workers: they have no command line and
// carry one of the well-known kthread name prefixes.
func isKernelThread(s types.ProcessSample) bool {
	if s.PID == 0 {
		return true
	}
	if s.Cmdline != "" {
		return false
	}
	name := strings.ToLower(s.Name)
	switch {
	case strings.HasPrefix(name, "kworker"), strings.HasPrefix(name, "ksoftirqd"), strings.HasPrefix(name, "kthreadd"),
		strings.HasPrefix(name, "migration"), strings.HasPrefix(name, "watchdog"), strings.HasPrefix(name, "rcu"),
		strings.HasPrefix(name, "irq/"):
		return true
	}
	return false
}
