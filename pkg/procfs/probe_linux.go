//go:build linux

package procfs

import (
	"emperror.dev/errors"
	"golang.org/x/sys/unix"
)

// IsProcMount reports whether root is a mounted procfs. Fake trees used by
// tests and the synthetic source are plain directories and report false.
func IsProcMount(root string) (bool, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(root, &st); err != nil {
		return false, errors.WithDetails(errors.Wrap(ErrCollectionFailed, err.Error()), "root", root)
	}
	return st.Type == unix.PROC_SUPER_MAGIC, nil
}
