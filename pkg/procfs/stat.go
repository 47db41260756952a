package procfs

import (
	"path/filepath"
	"strconv"
	"strings"
)

// Stat holds the fields of /proc/<pid>/stat the exporter needs.
type Stat struct {
	PID   int
	Comm  string
	State string
	// UTime and STime are cumulative clock ticks.
	UTime uint64
	STime uint64
	// StartTime is in clock ticks since boot; it changes when a PID is reused.
	StartTime uint64
}

// TotalTicks is the user plus system CPU time in clock ticks.
func (s Stat) TotalTicks() uint64 {
	return s.UTime + s.STime
}

// ReadStat parses <dir>/stat.
func ReadStat(dir string, limit int) (Stat, error) {
	path := filepath.Join(dir, "stat")
	data, err := readLimited(path, limit, nil)
	if err != nil {
		return Stat{}, err
	}
	return ParseStat(path, string(data))
}

// ParseStat parses the content of a stat file. The comm field is wrapped in
// parentheses and may itself contain spaces or parentheses, so the numeric
// fields are located from the last ") ".
func ParseStat(path, line string) (Stat, error) {
	line = strings.TrimSpace(line)
	open := strings.IndexByte(line, '(')
	closing := strings.LastIndex(line, ") ")
	if open < 0 || closing < open {
		return Stat{}, parseErr(path, "comm not delimited")
	}

	pid, err := strconv.Atoi(strings.TrimSpace(line[:open]))
	if err != nil {
		return Stat{}, parseErr(path, "bad pid field %q", line[:open])
	}

	// fields[0] is field 3 (state) in proc(5) numbering.
	fields := strings.Fields(line[closing+2:])
	const (
		stateIdx     = 0
		utimeIdx     = 11
		stimeIdx     = 12
		starttimeIdx = 19
	)
	if len(fields) <= starttimeIdx {
		return Stat{}, parseErr(path, "short stat: %d fields", len(fields)+2)
	}

	st := Stat{PID: pid, Comm: line[open+1 : closing], State: fields[stateIdx]}
	for _, f := range []struct {
		idx int
		dst *uint64
	}{
		{utimeIdx, &st.UTime},
		{stimeIdx, &st.STime},
		{starttimeIdx, &st.StartTime},
	} {
		v, err := strconv.ParseUint(fields[f.idx], 10, 64)
		if err != nil {
			return Stat{}, parseErr(path, "field %d: %v", f.idx+3, err)
		}
		*f.dst = v
	}
	return st, nil
}
