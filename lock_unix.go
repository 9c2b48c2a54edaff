//go:build unix

package objstore

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

// lockShared takes an advisory shared lock on f so that external writers
// that honour flock see the file as in use while it is read or mapped.
func lockShared(f *os.File) error {
	for {
		err := unix.Flock(int(f.Fd()), unix.LOCK_SH)
		if !errors.Is(err, unix.EINTR) {
			return err
		}
	}
}

// unlock releases a lock taken by lockShared.
func unlock(f *os.File) error { return unix.Flock(int(f.Fd()), unix.LOCK_UN) }
