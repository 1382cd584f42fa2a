//go:build unix

package executor

import "syscall"

// detachedSysProcAttr puts a background process in its own process
// group so it does not receive the host's terminal signals.
func detachedSysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}
