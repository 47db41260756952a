package classify

import (
	"github.com/srodi/hotspot-exporter/pkg/types"
)

const unknownLabel = "unknown"

// Classifier labels processes with the first matching rule of its RuleSet.
// It holds no mutable state, so one instance may be shared by any number of workers.
type Classifier struct {
	rules *RuleSet
}

// New returns a Classifier over rs.
func New(rs *RuleSet) *Classifier {
	return &Classifier{rules: rs}
}

// Rules returns the rule set backing c.
func (c *Classifier) Rules() *RuleSet { return c.rules }

// Classify matches name against every rule's name patterns first, then
// cmdline against every rule's cmdline patterns. Nothing matching yields
// types.Other.
func (c *Classifier) Classify(name, cmdline string) types.Classification {
	if c == nil || c.rules == nil {
		return types.Other
	}
	for i := range c.rules.rules {
		if r := &c.rules.rules[i]; r.matchName(name) {
			return normalize(r.Group, r.Subgroup)
		}
	}
	for i := range c.rules.rules {
		if r := &c.rules.rules[i]; r.matchCmdline(cmdline) {
			return normalize(r.Group, r.Subgroup)
		}
	}
	return types.Other
}

// normalize folds rules that target "other" or "unknown" into the fallback bucket.
func normalize(group, subgroup string) types.Classification {
	if group == types.OtherLabel || group == unknownLabel {
		return types.Other
	}
	if subgroup == unknownLabel {
		subgroup = types.OtherLabel
	}
	return types.Classification{Group: group, Subgroup: subgroup}
}
