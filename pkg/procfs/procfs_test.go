package procfs_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"emperror.dev/errors"

	"github.com/srodi/hotspot-exporter/pkg/procfs"
	"github.com/srodi/hotspot-exporter/pkg/procfs/procfstest"
)

func TestEnumeratorSkipsNonNumericAndCaps(t *testing.T) {
	tree := procfstest.New(t)
	for _, pid := range []int{1, 42, 300} {
		tree.WriteFile(pid, "comm", "x\n")
	}
	require.NoError(t, os.MkdirAll(filepath.Join(tree.Root, "self"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(tree.Root, "meminfo"), nil, 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(tree.Root, "12ab"), 0o755))

	entries, err := procfs.Enumerator{Root: tree.Root}.Collect()
	require.NoError(t, err)
	pids := map[int]bool{}
	for _, e := range entries {
		pids[e.PID] = true
		assert.Equal(t, tree.Dir(e.PID), e.Path)
	}
	assert.Equal(t, map[int]bool{1: true, 42: true, 300: true}, pids)

	capped, err := procfs.Enumerator{Root: tree.Root, Max: 2}.Collect()
	require.NoError(t, err)
	assert.Len(t, capped, 2)
}

func TestEnumeratorMissingRootIsCollectionFailure(t *testing.T) {
	_, err := procfs.Enumerator{Root: filepath.Join(t.TempDir(), "gone")}.Entries()
	require.Error(t, err)
	assert.True(t, errors.Is(err, procfs.ErrCollectionFailed))
}

func TestEnumeratorUnlistableRootIsCollectionFailure(t *testing.T) {
	root := filepath.Join(t.TempDir(), "proc")
	require.NoError(t, os.WriteFile(root, nil, 0o644))

	_, err := procfs.Enumerator{Root: root}.Entries()
	require.Error(t, err)
	assert.True(t, errors.Is(err, procfs.ErrCollectionFailed))
}

func TestParseStat(t *testing.T) {
	cases := []struct {
		name    string
		line    string
		comm    string
		utime   uint64
		stime   uint64
		start   uint64
		wantErr bool
	}{
		{"plain", procfstest.StatLine(10, "bash", 7, 3, 99), "bash", 7, 3, 99, false},
		{"comm with paren and space", procfstest.StatLine(11, "evil) (x", 1, 2, 3), "evil) (x", 1, 2, 3, false},
		{"truncated", "12 (sh) S 1 2 3", "", 0, 0, 0, true},
		{"no parens", "12 sh S 1 2 3", "", 0, 0, 0, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			st, err := procfs.ParseStat("stat", tc.line)
			if tc.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, procfs.ErrParse))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.comm, st.Comm)
			assert.Equal(t, tc.utime, st.UTime)
			assert.Equal(t, tc.stime, st.STime)
			assert.Equal(t, tc.start, st.StartTime)
			assert.Equal(t, tc.utime+tc.stime, st.TotalTicks())
		})
	}
}

func TestReadersOnFakeTree(t *testing.T) {
	tree := procfstest.New(t)
	tree.AddProcess(procfstest.Process{
		PID: 7, Comm: "postgres", Cmdline: []string{"/usr/lib/postgresql/16/bin/postgres", "-D", "/var/lib/pg"},
		SwapKB: 12, ReadBytes: 4096, WriteBytes: 8192,
	})
	dir := tree.Dir(7)
	var hw procfs.HighWater

	name, err := procfs.ReadName(dir, 0, &hw)
	require.NoError(t, err)
	assert.Equal(t, "postgres", name)

	cmd, err := procfs.ReadCmdline(dir, 0, &hw)
	require.NoError(t, err)
	assert.Equal(t, "/usr/lib/postgresql/16/bin/postgres -D /var/lib/pg", cmd)

	swap, err := procfs.ReadSwap(dir, 0, &hw)
	require.NoError(t, err)
	assert.Equal(t, uint64(12*1024), swap)

	bio, err := procfs.ReadBlockIO(dir, 0, &hw)
	require.NoError(t, err)
	assert.Equal(t, procfs.BlockIO{ReadBytes: 4096, WriteBytes: 8192, ReadOps: 1, WriteOps: 2}, bio)

	assert.NotZero(t, hw.Max())
}

func TestReadNameFallsBackToCmdline(t *testing.T) {
	tree := procfstest.New(t)
	tree.WriteFile(5, "comm", "  \n")
	tree.WriteFile(5, "cmdline", "/opt/app/bin/worker\x00--fast\x00")
	name, err := procfs.ReadName(tree.Dir(5), 0, nil)
	require.NoError(t, err)
	assert.Equal(t, "worker", name)
}

func TestVanishedProcessMapsToSentinel(t *testing.T) {
	tree := procfstest.New(t)
	_, err := procfs.ReadStat(tree.Dir(999), 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, procfs.ErrProcessVanished))
	assert.True(t, procfs.IsPerProcess(err))
}

func TestReadSwapMissingFieldIsZero(t *testing.T) {
	tree := procfstest.New(t)
	tree.WriteFile(3, "status", "Name:\tkthreadd\nState:\tS (sleeping)\n")
	swap, err := procfs.ReadSwap(tree.Dir(3), 0, nil)
	require.NoError(t, err)
	assert.Zero(t, swap)
}

func TestReadLimitedHonoursLimit(t *testing.T) {
	tree := procfstest.New(t)
	tree.WriteFile(4, "cmdline", "abcdefghijklmnop")
	var hw procfs.HighWater
	cmd, err := procfs.ReadCmdline(tree.Dir(4), 4, &hw)
	require.NoError(t, err)
	assert.Equal(t, "abcd", cmd)
	assert.Equal(t, uint64(4), hw.Max())
}

func TestParseKB(t *testing.T) {
	v, ok := procfs.ParseKB("   1234 kB")
	assert.True(t, ok)
	assert.Equal(t, uint64(1234), v)
	_, ok = procfs.ParseKB("  ")
	assert.False(t, ok)
}

func TestIsProcMountOnPlainDirectory(t *testing.T) {
	ok, err := procfs.IsProcMount(t.TempDir())
	require.NoError(t, err)
	assert.False(t, ok)
}
