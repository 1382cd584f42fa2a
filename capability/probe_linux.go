package capability

import (
	"bufio"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"
)

// probeNamespaces attempts to create a detached PID + mount namespace by
// running a trivial child inside one and tearing it down immediately.
// Absence of error means the host grants the privilege. Any failure
// (EPERM, unsupported syscall, sandboxed host) means it does not.
func probeNamespaces() bool {
	cmd := exec.Command("/bin/true")
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Cloneflags: unix.CLONE_NEWPID | unix.CLONE_NEWNS,
	}
	return cmd.Run() == nil
}

// probeCgroup checks whether this process may create and remove cgroup
// directories. Tries the unified hierarchy first, then the v1 pids
// controller. Failure merely disables delegation, it is never fatal.
func probeCgroup() bool {
	for _, base := range []string{"/sys/fs/cgroup", "/sys/fs/cgroup/pids"} {
		dir := filepath.Join(base, fmt.Sprintf("sandbox-probe-%d", os.Getpid()))
		if err := os.Mkdir(dir, 0o755); err != nil {
			continue
		}
		os.Remove(dir)
		return true
	}
	return false
}

// readSeccompMode reads the seccomp enforcement level of the current
// process from /proc/self/status (0 disabled, 1 strict, 2 filter).
func readSeccompMode() int {
	f, err := os.Open("/proc/self/status")
	if err != nil {
		return SeccompUnknown
	}
	defer f.Close()

	s := bufio.NewScanner(f)
	for s.Scan() {
		line := s.Text()
		if !strings.HasPrefix(line, "Seccomp:") {
			continue
		}
		v, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, "Seccomp:")))
		if err != nil {
			return SeccompUnknown
		}
		return v
	}
	return SeccompUnknown
}
