//go:build !unix

package objstore

import "os"

// lockShared is a no-op on platforms without flock.
func lockShared(*os.File) error { return nil }

func unlock(*os.File) error { return nil }
