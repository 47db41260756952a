//go:build !linux

package procfs

import (
	"os"

	"emperror.dev/errors"
)

// IsProcMount always reports false off Linux; root only has to exist.
func IsProcMount(root string) (bool, error) {
	if _, err := os.Stat(root); err != nil {
		return false, errors.WithDetails(errors.Wrap(ErrCollectionFailed, err.Error()), "root", root)
	}
	return false, nil
}
