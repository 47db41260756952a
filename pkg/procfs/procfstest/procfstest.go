// Package procfstest builds fake process tables under a temporary directory.
package procfstest

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

// Tree is a fake /proc rooted at Root.
type Tree struct {
	t    testing.TB
	Root string
}

// New creates an empty tree under t.TempDir().
func New(t testing.TB) *Tree {
	t.Helper()
	return &Tree{t: t, Root: t.TempDir()}
}

// Dir returns the directory of pid.
func (tr *Tree) Dir(pid int) string {
	return filepath.Join(tr.Root, strconv.Itoa(pid))
}

// WriteFile writes name below the pid directory, creating it as needed.
func (tr *Tree) WriteFile(pid int, name, content string) {
	tr.t.Helper()
	dir := tr.Dir(pid)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		tr.t.Fatalf("mkdir %s: %v", dir, err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		tr.t.Fatalf("write %s/%s: %v", dir, name, err)
	}
}

// Remove deletes one file of pid, simulating a partial read race.
func (tr *Tree) Remove(pid int, name string) {
	tr.t.Helper()
	if err := os.Remove(filepath.Join(tr.Dir(pid), name)); err != nil {
		tr.t.Fatalf("remove: %v", err)
	}
}

// Process describes the files written by AddProcess.
type Process struct {
	PID       int
	Comm      string
	Cmdline   []string
	UTime     uint64
	STime     uint64
	StartTime uint64
	// Memory values are in kB as the kernel reports them.
	RSSKB, PSSKB, PrivateCleanKB, PrivateDirtyKB uint64
	SwapKB                                       uint64
	ReadBytes, WriteBytes                        uint64
	// NoRollup omits smaps_rollup so readers fall back to smaps.
	NoRollup bool
}

// AddProcess writes a consistent stat, comm, cmdline, status, io and smaps set for p.
func (tr *Tree) AddProcess(p Process) {
	tr.t.Helper()
	tr.WriteFile(p.PID, "comm", p.Comm+"\n")
	tr.WriteFile(p.PID, "cmdline", strings.Join(p.Cmdline, "\x00")+"\x00")
	tr.WriteFile(p.PID, "stat", StatLine(p.PID, p.Comm, p.UTime, p.STime, p.StartTime))
	tr.WriteFile(p.PID, "status", fmt.Sprintf("Name:\t%s\nVmRSS:\t%8d kB\nVmSwap:\t%8d kB\n", p.Comm, p.RSSKB, p.SwapKB))
	tr.WriteFile(p.PID, "io", fmt.Sprintf("rchar: 0\nwchar: 0\nsyscr: 1\nsyscw: 2\nread_bytes: %d\nwrite_bytes: %d\ncancelled_write_bytes: 0\n", p.ReadBytes, p.WriteBytes))

	// Split the totals over two mappings so smaps summing is exercised.
	half := func(v uint64) (uint64, uint64) { return v / 2, v - v/2 }
	r1, r2 := half(p.RSSKB)
	p1, p2 := half(p.PSSKB)
	c1, c2 := half(p.PrivateCleanKB)
	d1, d2 := half(p.PrivateDirtyKB)
	tr.WriteFile(p.PID, "smaps", smapsMapping("00400000-00452000 r-xp 00000000 08:02 173521 /usr/bin/"+p.Comm, r1, p1, c1, d1)+
		smapsMapping("7f0000000000-7f0000021000 rw-p 00000000 00:00 0 [heap]", r2, p2, c2, d2))
	if !p.NoRollup {
		tr.WriteFile(p.PID, "smaps_rollup", "00400000-7fff00000000 ---p 00000000 00:00 0 [rollup]\n"+
			smapsBody(p.RSSKB, p.PSSKB, p.PrivateCleanKB, p.PrivateDirtyKB))
	}
}

// StatLine renders a /proc/<pid>/stat line with the given accounting fields.
func StatLine(pid int, comm string, utime, stime, start uint64) string {
	return fmt.Sprintf("%d (%s) S 1 %d %d 0 -1 4194560 100 0 0 0 %d %d 0 0 20 0 1 0 %d 1000000 250 18446744073709551615 0 0 0 0 0 0 0 0 0 0 0 0 17 0 0 0 0 0 0\n",
		pid, comm, pid, pid, utime, stime, start)
}

func smapsMapping(header string, rss, pss, clean, dirty uint64) string {
	return header + "\n" + smapsBody(rss, pss, clean, dirty)
}

func smapsBody(rss, pss, clean, dirty uint64) string {
	return fmt.Sprintf("Rss:            %8d kB\nPss:            %8d kB\nShared_Clean:          0 kB\nShared_Dirty:          0 kB\nPrivate_Clean:  %8d kB\nPrivate_Dirty:  %8d kB\nReferenced:     %8d kB\nSwap:                  0 kB\n",
		rss, pss, clean, dirty, rss)
}
