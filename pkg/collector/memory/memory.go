// Package memory reads per-process RSS, PSS and USS from procfs.
package memory

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"strings"

	"emperror.dev/errors"
	log "github.com/sirupsen/logrus"

	"github.com/srodi/hotspot-exporter/pkg/procfs"
)

const (
	// DefaultSmapsBuffer is the read buffer for the per-mapping breakdown.
	DefaultSmapsBuffer = 512 * 1024
	// DefaultRollupBuffer is the read buffer for the pre-summed record.
	DefaultRollupBuffer = 256 * 1024

	rollupFile = "smaps_rollup"
	smapsFile  = "smaps"
)

// Usage is one process's memory in bytes.
type Usage struct {
	RSS uint64
	PSS uint64
	USS uint64
}

// Strategy reads Usage for one process directory.
type Strategy interface {
	Name() string
	Read(dir string) (Usage, error)
}

// Buffers bounds the reader buffers of both strategies.
type Buffers struct {
	Rollup int
	Smaps  int
}

func (b Buffers) withDefaults() Buffers {
	if b.Rollup <= 0 {
		b.Rollup = DefaultRollupBuffer
	}
	if b.Smaps <= 0 {
		b.Smaps = DefaultSmapsBuffer
	}
	return b
}

// HighWater holds the largest file read through each buffer kind.
type HighWater struct {
	Rollup procfs.HighWater
	Smaps  procfs.HighWater
}

// Rollup reads the kernel's pre-summed smaps_rollup record (Linux 4.14+).
func Rollup(limit int, hw *procfs.HighWater) Strategy {
	return &smapsReader{name: "smaps_rollup", file: rollupFile, limit: limit, hw: hw}
}

// Smaps sums every mapping in smaps; it works on any kernel but is
// linear in the number of mappings.
func Smaps(limit int, hw *procfs.HighWater) Strategy {
	return &smapsReader{name: "smaps", file: smapsFile, limit: limit, hw: hw}
}

// Probe picks the strategy once for the whole process table: smaps_rollup is
// used when the probe directory exposes it, smaps otherwise.
func Probe(root string, buffers Buffers, hw *HighWater) Strategy {
	buffers = buffers.withDefaults()
	if hw == nil {
		hw = &HighWater{}
	}
	for _, candidate := range []string{"self", "1"} {
		if _, err := os.Stat(filepath.Join(root, candidate, rollupFile)); err == nil {
			log.WithField("probe", candidate).Debug("memory accounting uses smaps_rollup")
			return Rollup(buffers.Rollup, &hw.Rollup)
		}
	}
	log.WithField("root", root).Info("smaps_rollup not available, falling back to smaps")
	return Smaps(buffers.Smaps, &hw.Smaps)
}

type smapsReader struct {
	name  string
	file  string
	limit int
	hw    *procfs.HighWater
}

func (s *smapsReader) Name() string { return s.name }

func (s *smapsReader) Read(dir string) (Usage, error) {
	path := filepath.Join(dir, s.file)
	f, err := procfs.Open(path)
	if err != nil {
		return Usage{}, err
	}
	defer f.Close()

	cr := &countingReader{r: f}
	u, err := parseSmaps(path, cr, s.limit)
	s.hw.Observe(cr.n)
	return u, err
}

// parseSmaps sums Rss, Pss and Private_{Clean,Dirty} over every record in r.
// Absent fields count as zero.
func parseSmaps(path string, r io.Reader, limit int) (Usage, error) {
	if limit <= 0 {
		limit = DefaultSmapsBuffer
	}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, min(limit, 4096)), limit)

	var u Usage
	for sc.Scan() {
		line := sc.Text()
		key, val, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		var dst *uint64
		switch key {
		case "Rss":
			dst = &u.RSS
		case "Pss":
			dst = &u.PSS
		case "Private_Clean", "Private_Dirty":
			dst = &u.USS
		default:
			continue
		}
		kb, ok := procfs.ParseKB(val)
		if !ok {
			return Usage{}, &procfs.ParseError{Path: path, Reason: "bad value for " + key}
		}
		*dst += kb * 1024
	}
	if err := sc.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return Usage{}, &procfs.ParseError{Path: path, Reason: "line exceeds buffer"}
		}
		return Usage{}, procfs.MapReadError(path, err)
	}
	return u, nil
}

type countingReader struct {
	r io.Reader
	n uint64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += uint64(n)
	return n, err
}

// TotalBytes returns MemTotal from <root>/meminfo in bytes.
func TotalBytes(root string) (uint64, error) {
	path := filepath.Join(root, "meminfo")
	f, err := os.Open(path)
	if err != nil {
		return 0, errors.Wrap(err, "open meminfo")
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if v, ok := strings.CutPrefix(sc.Text(), "MemTotal:"); ok {
			kb, ok := procfs.ParseKB(v)
			if !ok {
				return 0, &procfs.ParseError{Path: path, Reason: "bad MemTotal"}
			}
			return kb * 1024, nil
		}
	}
	if err := sc.Err(); err != nil {
		return 0, errors.Wrap(err, "scan meminfo")
	}
	return 0, &procfs.ParseError{Path: path, Reason: "MemTotal not found"}
}
