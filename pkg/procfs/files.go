package procfs

import (
	"bufio"
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
)

// DefaultIOBuffer bounds reads of the small per-process files.
const DefaultIOBuffer = 256 * 1024

// openFile allows tests to simulate vanished or unreadable processes.
var openFile = os.Open

// HighWater tracks the largest number of bytes read through one buffer kind.
type HighWater struct {
	max atomic.Uint64
}

// Observe records n if it is the largest value seen so far.
func (h *HighWater) Observe(n uint64) {
	if h == nil {
		return
	}
	for {
		cur := h.max.Load()
		if n <= cur || h.max.CompareAndSwap(cur, n) {
			return
		}
	}
}

// Max returns the largest observed value in bytes.
func (h *HighWater) Max() uint64 {
	if h == nil {
		return 0
	}
	return h.max.Load()
}

// Open opens a per-process file, mapping errors into the taxonomy.
func Open(path string) (*os.File, error) {
	f, err := openFile(path)
	if err != nil {
		return nil, MapReadError(path, err)
	}
	return f, nil
}

func readLimited(path string, limit int, hw *HighWater) ([]byte, error) {
	if limit <= 0 {
		limit = DefaultIOBuffer
	}
	f, err := Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, int64(limit)))
	if err != nil {
		return nil, MapReadError(path, err)
	}
	hw.Observe(uint64(len(data)))
	return data, nil
}

// ReadName returns the short command name from comm, falling back to the
// basename of the first cmdline argument.
func ReadName(dir string, limit int, hw *HighWater) (string, error) {
	data, err := readLimited(filepath.Join(dir, "comm"), limit, hw)
	if err == nil {
		if name := strings.TrimSpace(string(data)); name != "" {
			return name, nil
		}
	}
	cmd, cerr := readLimited(filepath.Join(dir, "cmdline"), limit, hw)
	if cerr != nil {
		if err != nil {
			return "", err
		}
		return "", cerr
	}
	first, _, _ := bytes.Cut(cmd, []byte{0})
	if len(first) == 0 {
		return "", parseErr(filepath.Join(dir, "comm"), "empty comm and cmdline")
	}
	return filepath.Base(string(first)), nil
}

// ReadCmdline returns the NUL separated argument vector joined by spaces.
// Kernel threads have an empty cmdline, which is not an error.
func ReadCmdline(dir string, limit int, hw *HighWater) (string, error) {
	data, err := readLimited(filepath.Join(dir, "cmdline"), limit, hw)
	if err != nil {
		return "", err
	}
	data = bytes.TrimRight(data, "\x00")
	return strings.TrimSpace(string(bytes.ReplaceAll(data, []byte{0}, []byte{' '}))), nil
}

// ParseKB parses the leading integer of a "   1234 kB" value.
func ParseKB(v string) (uint64, bool) {
	fields := strings.Fields(v)
	if len(fields) == 0 {
		return 0, false
	}
	n, err := strconv.ParseUint(fields[0], 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// ReadSwap returns VmSwap from <dir>/status in bytes. A missing field is zero.
func ReadSwap(dir string, limit int, hw *HighWater) (uint64, error) {
	path := filepath.Join(dir, "status")
	data, err := readLimited(path, limit, hw)
	if err != nil {
		return 0, err
	}
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		if v, ok := strings.CutPrefix(sc.Text(), "VmSwap:"); ok {
			kb, ok := ParseKB(v)
			if !ok {
				return 0, parseErr(path, "VmSwap %q", strings.TrimSpace(v))
			}
			return kb * 1024, nil
		}
	}
	return 0, nil
}

// BlockIO holds the storage counters from /proc/<pid>/io.
type BlockIO struct {
	ReadBytes  uint64
	WriteBytes uint64
	ReadOps    uint64
	WriteOps   uint64
}

// ReadBlockIO parses <dir>/io. Missing fields stay zero.
func ReadBlockIO(dir string, limit int, hw *HighWater) (BlockIO, error) {
	path := filepath.Join(dir, "io")
	data, err := readLimited(path, limit, hw)
	if err != nil {
		return BlockIO{}, err
	}
	var out BlockIO
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		key, val, ok := strings.Cut(sc.Text(), ":")
		if !ok {
			continue
		}
		var dst *uint64
		switch key {
		case "read_bytes":
			dst = &out.ReadBytes
		case "write_bytes":
			dst = &out.WriteBytes
		case "syscr":
			dst = &out.ReadOps
		case "syscw":
			dst = &out.WriteOps
		default:
			continue
		}
		n, err := strconv.ParseUint(strings.TrimSpace(val), 10, 64)
		if err != nil {
			return BlockIO{}, parseErr(path, "%s: %v", key, err)
		}
		*dst = n
	}
	return out, nil
}
