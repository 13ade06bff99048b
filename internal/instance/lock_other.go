//go:build !unix && !windows

package instance

import (
	"errors"
	"os"
)

var errWouldBlock = errors.New("lock held")

// No advisory locking here; the lock only records the pid.
func tryLock(*os.File) error { return nil }
func unlock(*os.File) error  { return nil }
