package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ghostwriternr/sandbox-sdk-sub001/capability"
)

func newProbeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "report host isolation capabilities",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			caps := capability.Detect()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "mode:               %s\n", caps.Mode)
			fmt.Fprintf(out, "namespaces:         %t\n", caps.HasNamespaces)
			fmt.Fprintf(out, "cap_sys_admin:      %t\n", caps.HasCapSysAdmin)
			fmt.Fprintf(out, "cgroup delegation:  %t\n", caps.HasCgroupDelegation)
			if caps.SeccompMode == capability.SeccompUnknown {
				fmt.Fprintf(out, "seccomp mode:       unknown\n")
			} else {
				fmt.Fprintf(out, "seccomp mode:       %d\n", caps.SeccompMode)
			}
			return nil
		},
	}
}
