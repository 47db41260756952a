package cmd

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/srodi/hotspot-exporter/pkg/cache"
	"github.com/srodi/hotspot-exporter/pkg/classify"
	"github.com/srodi/hotspot-exporter/pkg/collector/iocount"
	"github.com/srodi/hotspot-exporter/pkg/config"
	"github.com/srodi/hotspot-exporter/pkg/scan"
)

// pipeline is the wired scan, io and cache stack shared by the commands.
type pipeline struct {
	cfg      config.Config
	rules    *classify.RuleSet
	io       iocount.Source
	cache    *cache.Coordinator
	strategy string
}

func newPipeline(cfg config.Config) (*pipeline, error) {
	rules, err := classify.Load(cfg.RuleSources())
	if err != nil {
		return nil, err
	}

	var source scan.Source
	strategy := "synthetic"
	if cfg.TestDataFile != "" {
		log.WithField("file", cfg.TestDataFile).Info("using synthetic process data")
		source = scan.SyntheticSource{Path: cfg.TestDataFile}
	} else {
		ps := scan.NewProcSource(cfg.Scan())
		strategy = ps.MemoryStrategy()
		source = ps
	}

	io := iocount.NewSource(cfg.EBPF.Enabled, cfg.EBPF.Object)
	coordinator := cache.New(source, io, classify.New(rules), cache.Config{
		Filters:             cfg.Filters(),
		Limits:              cfg.Limits(),
		OnDemandMinInterval: cfg.OnDemandMinInterval,
	})

	log.WithFields(log.Fields{
		"rules":       rules.Len(),
		"fingerprint": rules.Fingerprint(),
		"memory":      strategy,
		"io":          io.Name(),
	}).Info("pipeline ready")

	return &pipeline{cfg: cfg, rules: rules, io: io, cache: coordinator, strategy: strategy}, nil
}

// watchRules swaps reloaded rules into the cache until ctx is done.
func (p *pipeline) watchRules(ctx context.Context) {
	if !p.cfg.Rules.Watch {
		return
	}
	go func() {
		err := classify.Watch(ctx, p.cfg.RuleSources(), func(rs *classify.RuleSet) {
			p.cache.SetClassifier(classify.New(rs))
		})
		if err != nil {
			log.WithError(err).Error("rule watcher stopped")
		}
	}()
}

func (p *pipeline) Close() {
	p.cache.Wait()
	if err := p.io.Close(); err != nil {
		log.WithError(err).Warn("closing io source")
	}
}
