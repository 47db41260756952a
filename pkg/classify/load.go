package classify

import (
	_ "embed"
	"os"

	"emperror.dev/errors"
	"github.com/BurntSushi/toml"
	log "github.com/sirupsen/logrus"

	"github.com/srodi/hotspot-exporter/pkg/types"
)

const (
	// DefaultSystemFile holds site-wide rules.
	DefaultSystemFile = "/etc/hotspot-exporter/subgroups.toml"
	// DefaultLocalFile holds rules next to the working directory.
	DefaultLocalFile = "./subgroups.toml"

	builtinSource = "builtin"
)

//go:embed data/subgroups.toml
var builtinRules []byte

// Sources lists the optional rule files layered after the built-in rules.
// Missing files are skipped; empty paths disable a layer.
type Sources struct {
	SystemFile string
	LocalFile  string
}

// Files returns the configured paths in load order.
func (s Sources) Files() []string {
	var out []string
	for _, f := range []string{s.SystemFile, s.LocalFile} {
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

type ruleFile struct {
	Subgroups []Rule `toml:"subgroups"`
}

func invalid(errs ...error) error {
	return errors.Combine(append([]error{types.ErrConfigurationInvalid}, errs...)...)
}

// ParseRules decodes one TOML document of [[subgroups]] tables.
func ParseRules(source string, data []byte) ([]Rule, error) {
	var f ruleFile
	md, err := toml.Decode(string(data), &f)
	if err != nil {
		return nil, invalid(errors.Wrapf(err, "parse %s", source))
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		log.WithField("source", source).Warnf("ignoring unknown rule keys: %v", undecoded)
	}
	for i := range f.Subgroups {
		f.Subgroups[i].Source = source
	}
	return f.Subgroups, nil
}

// BuiltinRules returns the rules compiled into the binary.
func BuiltinRules() []Rule {
	rules, err := ParseRules(builtinSource, builtinRules)
	if err != nil {
		panic(err)
	}
	return rules
}

// Load merges the built-in rules with the system and local files. Later
// layers are appended, so "first match" means first in the merged list and
// a local rule cannot shadow a built-in rule matching the same name.
func Load(src Sources) (*RuleSet, error) {
	rules := BuiltinRules()
	var errs []error
	for _, path := range src.Files() {
		data, err := os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			log.WithField("file", path).Debug("rule file not present, skipping")
			continue
		}
		if err != nil {
			errs = append(errs, errors.Wrapf(err, "read %s", path))
			continue
		}
		more, err := ParseRules(path, data)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		log.WithFields(log.Fields{"file": path, "rules": len(more)}).Info("loaded classification rules")
		rules = append(rules, more...)
	}
	if len(errs) > 0 {
		return nil, invalid(errs...)
	}
	return NewRuleSet(rules)
}
