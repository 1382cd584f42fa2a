package supervisor

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
)

// stringSliceFlag collects a repeatable flag value.
type stringSliceFlag []string

func (s *stringSliceFlag) String() string { return strings.Join(*s, ",") }

func (s *stringSliceFlag) Set(v string) error {
	*s = append(*s, v)
	return nil
}

// ParseArgs builds a Config from the supervisor entry point's
// command-line arguments. This is the one contract between Session
// (which assembles the argument list when re-executing the host binary)
// and the supervisor subcommand.
func ParseArgs(args []string) (Config, error) {
	var (
		cfg  Config
		deny stringSliceFlag
	)
	fs := flag.NewFlagSet("supervisor", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&cfg.SessionName, "session", "", "session name")
	fs.StringVar(&cfg.WorkDir, "workdir", "", "shell working directory")
	fs.StringVar(&cfg.TempDir, "tempdir", "", "temp artifact directory")
	fs.StringVar(&cfg.Shell, "shell", "", "shell binary")
	fs.DurationVar(&cfg.CommandTimeout, "command-timeout", 0, "per-command timeout")
	fs.DurationVar(&cfg.ReapInterval, "reap-interval", 0, "reaper sweep interval")
	fs.DurationVar(&cfg.StaleAfter, "stale-after", 0, "artifact staleness threshold")
	fs.BoolVar(&cfg.Isolate, "isolate", false, "wrap the shell in pid+mount namespaces")
	fs.Var(&deny, "deny", "syscall to deny (repeatable)")
	if err := fs.Parse(args); err != nil {
		return Config{}, fmt.Errorf("supervisor: parse args: %w", err)
	}
	if len(fs.Args()) != 0 {
		return Config{}, fmt.Errorf("supervisor: unexpected arguments %v", fs.Args())
	}
	cfg.DeniedSyscalls = deny
	return cfg, nil
}

// Main is the supervisor process entry point: parse args, serve the
// control protocol on stdio, and map the outcome to an exit code. A
// dead shell maps to the shell's own exit code so the host observes it
// as the supervisor's.
func Main(args []string) int {
	cfg, err := ParseArgs(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	err = Run(context.Background(), cfg, os.Stdin, os.Stdout)
	var shellExit *ShellExitError
	if errors.As(err, &shellExit) {
		return shellExit.Code
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}
