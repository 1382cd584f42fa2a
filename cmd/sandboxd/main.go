// Command sandboxd runs commands inside an isolated session shell. The
// same binary doubles as the supervisor process: the host re-executes
// itself with a "supervisor" argument, so no second binary needs to be
// shipped into the environment.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/ghostwriternr/sandbox-sdk-sub001/supervisor"
)

var (
	configPath string
	verbose    bool
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "sandboxd",
		Short:         "isolated session execution daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelInfo
			if verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
				Level: level,
			})))
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config file")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(newSupervisorCmd())
	root.AddCommand(newExecCmd())
	root.AddCommand(newProbeCmd())
	return root
}

// newSupervisorCmd is the re-exec entry point. It is hidden and passes
// its arguments straight through: the supervisor has its own flag
// parser and its exit code carries the shell's exit status.
func newSupervisorCmd() *cobra.Command {
	return &cobra.Command{
		Use:                "supervisor",
		Hidden:             true,
		DisableFlagParsing: true,
		Run: func(cmd *cobra.Command, args []string) {
			os.Exit(supervisor.Main(args))
		},
	}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "sandboxd:", err)
		os.Exit(1)
	}
}
