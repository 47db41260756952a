package procfs

import (
	"io"
	"iter"
	"os"
	"path/filepath"
	"strconv"

	"emperror.dev/errors"
	log "github.com/sirupsen/logrus"
)

// DefaultRoot is where the kernel mounts the process table.
const DefaultRoot = "/proc"

const readDirBatch = 256

// Entry is one candidate process directory.
type Entry struct {
	PID  int
	Path string
}

// Enumerator lists process directories under Root.
type Enumerator struct {
	Root string
	// Max caps the number of entries yielded; zero means unlimited.
	Max int
}

// Entries opens the process table, reads its first batch and returns a
// single-use lazy sequence of numeric entries. Failing to open or list Root
// is reported as ErrCollectionFailed; a listing that breaks off after the
// first batch only ends the sequence early, and directories that disappear
// later surface as per-process errors downstream.
func (e Enumerator) Entries() (iter.Seq[Entry], error) {
	root := e.Root
	if root == "" {
		root = DefaultRoot
	}
	dir, err := os.Open(root)
	if err != nil {
		return nil, errors.WithDetails(errors.Wrap(ErrCollectionFailed, err.Error()), "root", root)
	}
	first, firstErr := dir.ReadDir(readDirBatch)
	if firstErr != nil && firstErr != io.EOF {
		dir.Close()
		return nil, errors.WithDetails(errors.Wrap(ErrCollectionFailed, firstErr.Error()), "root", root)
	}

	return func(yield func(Entry) bool) {
		defer dir.Close()
		yielded := 0
		batch, err := first, firstErr
		for {
			for _, de := range batch {
				pid, ok := parsePID(de.Name())
				if !ok {
					continue
				}
				if !yield(Entry{PID: pid, Path: filepath.Join(root, de.Name())}) {
					return
				}
				yielded++
				if e.Max > 0 && yielded >= e.Max {
					return
				}
			}
			if err != nil {
				if err != io.EOF {
					log.WithError(err).WithField("root", root).Warn("process table listing ended early")
				}
				return
			}
			batch, err = dir.ReadDir(readDirBatch)
		}
	}, nil
}

// Collect drains Entries into a slice.
func (e Enumerator) Collect() ([]Entry, error) {
	seq, err := e.Entries()
	if err != nil {
		return nil, err
	}
	var out []Entry
	for entry := range seq {
		out = append(out, entry)
	}
	return out, nil
}

func parsePID(name string) (int, bool) {
	if name == "" {
		return 0, false
	}
	for i := 0; i < len(name); i++ {
		if name[i] < '0' || name[i] > '9' {
			return 0, false
		}
	}
	pid, err := strconv.Atoi(name)
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}
