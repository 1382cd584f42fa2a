package supervisor

import (
	"fmt"

	seccomp "github.com/elastic/go-seccomp-bpf"
)

// loadSeccompFilter installs a syscall deny-list on the supervisor
// process before the shell is spawned. Seccomp filters are inherited
// across fork and execve, so the shell and every command it runs carry
// the same restrictions.
func loadSeccompFilter(denied []string) error {
	if len(denied) == 0 {
		return nil
	}
	if !seccomp.Supported() {
		return fmt.Errorf("seccomp filtering not supported on this kernel")
	}
	filter := seccomp.Filter{
		NoNewPrivs: true,
		Flag:       seccomp.FilterFlagTSync,
		Policy: seccomp.Policy{
			DefaultAction: seccomp.ActionAllow,
			Syscalls: []seccomp.SyscallGroup{
				{
					Action: seccomp.ActionErrno,
					Names:  denied,
				},
			},
		},
	}
	if err := seccomp.LoadFilter(filter); err != nil {
		return fmt.Errorf("load seccomp filter: %w", err)
	}
	return nil
}
