package supervisor

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// shellSysProcAttr wraps the shell in fresh PID and mount namespaces
// when isolation was requested and granted, hiding the platform's own
// processes from everything the shell runs.
func shellSysProcAttr(isolate bool) *syscall.SysProcAttr {
	if isolate {
		return &syscall.SysProcAttr{
			Cloneflags: unix.CLONE_NEWPID | unix.CLONE_NEWNS,
		}
	}
	return nil
}
