//go:build unix

package checkpoint

import (
	"errors"
	"syscall"
)

// processAlive reports whether pid exists on this host.
func processAlive(pid int) bool {
	err := syscall.Kill(pid, 0)
	return err == nil || !errors.Is(err, syscall.ESRCH)
}
