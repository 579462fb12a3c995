//go:build !unix

package registry

import (
	"errors"
	"os"
)

var errLockUnsupported = errors.New("file locking not supported on this platform")

func tryLock(*os.File) (bool, error) { return false, errLockUnsupported }

func unlock(*os.File) error { return nil }
