package procfs

import (
	"fmt"
	"io/fs"
	"syscall"

	"emperror.dev/errors"
)

const (
	// ErrProcessVanished means the process exited between enumeration and a detailed read.
	ErrProcessVanished = errors.Sentinel("process vanished")
	// ErrPermissionDenied means the accounting files of a process are not readable.
	ErrPermissionDenied = errors.Sentinel("permission denied")
	// ErrParse is matched by every *ParseError.
	ErrParse = errors.Sentinel("malformed proc data")
	// ErrCollectionFailed means the process table itself could not be listed.
	ErrCollectionFailed = errors.Sentinel("process table unreadable")
)

// ParseError reports malformed content in an otherwise readable file.
type ParseError struct {
	Path   string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %s", e.Path, e.Reason)
}

// Is lets errors.Is(err, ErrParse) match any ParseError.
func (e *ParseError) Is(target error) bool {
	return target == ErrParse
}

func parseErr(path, format string, args ...any) error {
	return &ParseError{Path: path, Reason: fmt.Sprintf(format, args...)}
}

// MapReadError folds OS errors from reading a per-process file into the taxonomy.
// Anything it does not recognise is returned wrapped but otherwise untouched.
func MapReadError(path string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, fs.ErrNotExist), errors.Is(err, syscall.ESRCH):
		return errors.Wrapf(ErrProcessVanished, "read %s", path)
	case errors.Is(err, fs.ErrPermission), errors.Is(err, syscall.EACCES), errors.Is(err, syscall.EPERM):
		return errors.Wrapf(ErrPermissionDenied, "read %s", path)
	default:
		return errors.Wrapf(err, "read %s", path)
	}
}

// IsPerProcess reports whether err is one of the non-fatal per-process outcomes.
func IsPerProcess(err error) bool {
	return errors.Is(err, ErrProcessVanished) || errors.Is(err, ErrPermissionDenied) || errors.Is(err, ErrParse)
}
