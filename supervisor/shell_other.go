//go:build !linux

package supervisor

import "syscall"

// Namespace wrapping is Linux-only; elsewhere the shell always runs
// unwrapped regardless of the isolation request.
func shellSysProcAttr(bool) *syscall.SysProcAttr { return nil }
