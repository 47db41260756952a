// Package classify assigns (group, subgroup) labels to processes from an
// ordered rule list.
package classify

import (
	"path"
	"regexp"
	"strconv"
	"strings"

	"emperror.dev/errors"
	"github.com/mitchellh/hashstructure/v2"
)

// RegexPrefix marks a cmdline pattern as a regular expression instead of a substring.
const RegexPrefix = "re:"

// Rule maps processes to one (group, subgroup) pair.
type Rule struct {
	Group          string   `toml:"group" json:"group"`
	Subgroup       string   `toml:"subgroup" json:"subgroup"`
	Matches        []string `toml:"matches" json:"matches,omitempty"`
	CmdlineMatches []string `toml:"cmdline_matches" json:"cmdline_matches,omitempty"`
	// Source names the file the rule came from.
	Source string `toml:"-" json:"source" hash:"ignore"`
}

type compiledRule struct {
	Rule
	substrings []string
	regexps    []*regexp.Regexp
}

func compile(r Rule) (compiledRule, error) {
	var errs []error
	if strings.TrimSpace(r.Group) == "" || strings.TrimSpace(r.Subgroup) == "" {
		errs = append(errs, errors.New("group and subgroup are required"))
	}
	if len(r.Matches) == 0 && len(r.CmdlineMatches) == 0 {
		errs = append(errs, errors.New("rule has no patterns"))
	}
	for _, p := range r.Matches {
		if p == "" {
			errs = append(errs, errors.New("empty name pattern"))
			continue
		}
		if _, err := path.Match(p, ""); err != nil {
			errs = append(errs, errors.Wrapf(err, "name pattern %q", p))
		}
	}

	c := compiledRule{Rule: r}
	for _, p := range r.CmdlineMatches {
		if expr, ok := strings.CutPrefix(p, RegexPrefix); ok {
			re, err := regexp.Compile(expr)
			if err != nil {
				errs = append(errs, errors.Wrapf(err, "cmdline pattern %q", p))
				continue
			}
			c.regexps = append(c.regexps, re)
			continue
		}
		if p == "" {
			errs = append(errs, errors.New("empty cmdline pattern"))
			continue
		}
		c.substrings = append(c.substrings, p)
	}
	if err := errors.Combine(errs...); err != nil {
		return compiledRule{}, errors.WithDetails(err, "group", r.Group, "subgroup", r.Subgroup)
	}
	return c, nil
}

func (c *compiledRule) matchName(name string) bool {
	for _, p := range c.Matches {
		if p == name {
			return true
		}
		if ok, _ := path.Match(p, name); ok {
			return true
		}
	}
	return false
}

func (c *compiledRule) matchCmdline(cmdline string) bool {
	if cmdline == "" {
		return false
	}
	for _, s := range c.substrings {
		if strings.Contains(cmdline, s) {
			return true
		}
	}
	for _, re := range c.regexps {
		if re.MatchString(cmdline) {
			return true
		}
	}
	return false
}

// RuleSet is an immutable, ordered list of compiled rules. Earlier rules win.
type RuleSet struct {
	rules       []compiledRule
	fingerprint string
}

// NewRuleSet compiles rules in order. Every invalid rule is reported in one
// combined ErrConfigurationInvalid.
func NewRuleSet(rules []Rule) (*RuleSet, error) {
	rs := &RuleSet{rules: make([]compiledRule, 0, len(rules))}
	var errs []error
	for i, r := range rules {
		c, err := compile(r)
		if err != nil {
			errs = append(errs, errors.WithDetails(err, "index", i, "source", r.Source))
			continue
		}
		rs.rules = append(rs.rules, c)
	}
	if len(errs) > 0 {
		return nil, invalid(errs...)
	}

	hash, err := hashstructure.Hash(rules, hashstructure.FormatV2, nil)
	if err != nil {
		return nil, errors.Wrap(err, "fingerprint rules")
	}
	rs.fingerprint = strconv.FormatUint(hash, 16)
	return rs, nil
}

// Rules returns a copy of the rules in match order.
func (rs *RuleSet) Rules() []Rule {
	out := make([]Rule, len(rs.rules))
	for i, c := range rs.rules {
		out[i] = c.Rule
	}
	return out
}

// Len is the number of rules.
func (rs *RuleSet) Len() int { return len(rs.rules) }

// Fingerprint identifies the rule content and order; it ignores where rules came from.
func (rs *RuleSet) Fingerprint() string { return rs.fingerprint }
