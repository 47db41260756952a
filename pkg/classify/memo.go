package classify

import (
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/srodi/hotspot-exporter/pkg/types"
)

const (
	// DefaultMemoTTL keeps results of short-lived processes from piling up.
	DefaultMemoTTL = 10 * time.Minute
	// DefaultMemoCapacity bounds the number of distinct (name, cmdline) pairs kept.
	DefaultMemoCapacity = 8192
)

// Memo caches Classify results of one Classifier. Results are pure functions of
// the inputs, so a hit is always equal to a fresh classification.
type Memo struct {
	classifier *Classifier
	cache      *ttlcache.Cache[string, types.Classification]
}

// NewMemo wraps c. Non-positive ttl or capacity use the defaults.
func NewMemo(c *Classifier, ttl time.Duration, capacity uint64) *Memo {
	if ttl <= 0 {
		ttl = DefaultMemoTTL
	}
	if capacity == 0 {
		capacity = DefaultMemoCapacity
	}
	return &Memo{
		classifier: c,
		cache: ttlcache.New(
			ttlcache.WithTTL[string, types.Classification](ttl),
			ttlcache.WithCapacity[string, types.Classification](capacity),
		),
	}
}

// Classifier returns the wrapped classifier.
func (m *Memo) Classifier() *Classifier { return m.classifier }

// Classify returns the memoised classification of (name, cmdline).
func (m *Memo) Classify(name, cmdline string) types.Classification {
	key := name + "\x00" + cmdline
	if item := m.cache.Get(key); item != nil {
		return item.Value()
	}
	c := m.classifier.Classify(name, cmdline)
	m.cache.Set(key, c, ttlcache.DefaultTTL)
	return c
}

// Len is the number of cached entries.
func (m *Memo) Len() int { return m.cache.Len() }
