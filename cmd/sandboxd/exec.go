package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/ghostwriternr/sandbox-sdk-sub001/executor"
	"github.com/ghostwriternr/sandbox-sdk-sub001/runconfig"
	"github.com/ghostwriternr/sandbox-sdk-sub001/session"
	"github.com/ghostwriternr/sandbox-sdk-sub001/startup"
)

type execFlags struct {
	sessionName string
	isolate     string
	strategy    string
	stream      bool
	background  bool
	marker      string
}

func newExecCmd() *cobra.Command {
	var f execFlags
	cmd := &cobra.Command{
		Use:   "exec [flags] -- command...",
		Short: "run a command in a session",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			// The command's exit status becomes our own, so session
			// teardown has to happen before os.Exit rather than in a
			// defer.
			code, err := runExec(cmd, args, f)
			if err != nil {
				return err
			}
			os.Exit(code)
			return nil
		},
	}
	cmd.Flags().StringVar(&f.sessionName, "session", session.DefaultSessionName, "session name")
	cmd.Flags().StringVar(&f.isolate, "isolate", "", "isolation policy: auto, on, or off")
	cmd.Flags().StringVar(&f.strategy, "strategy", "", "execution strategy: session, direct, or argv")
	cmd.Flags().BoolVar(&f.stream, "stream", false, "stream output through a pty when stdout is a terminal")
	cmd.Flags().BoolVar(&f.background, "background", false, "detach the command and print its pid")
	cmd.Flags().StringVar(&f.marker, "wait-for", "", "wait for this marker file before running")
	return cmd
}

func runExec(cmd *cobra.Command, args []string, f execFlags) (int, error) {
	cfg, err := loadConfig()
	if err != nil {
		return 0, err
	}
	if f.isolate != "" {
		cfg.Isolation = f.isolate
	}
	if f.strategy != "" {
		cfg.Strategy = f.strategy
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if f.marker != "" {
		if err := startup.WaitForMarker(ctx, f.marker, startup.Options{}); err != nil {
			return 0, fmt.Errorf("waiting for environment: %w", err)
		}
	}

	mgr := session.NewManager(session.Options{
		Shell:          cfg.Shell,
		TempDir:        cfg.TempDir,
		ExecTimeout:    cfg.ExecTimeout.Std(),
		InitTimeout:    cfg.InitTimeout.Std(),
		ReapInterval:   cfg.ReapInterval.Std(),
		StaleAfter:     cfg.StaleAfter.Std(),
		DeniedSyscalls: cfg.Seccomp.DeniedSyscalls,
		ChildContext:   cfg.Routing.ChildContext,
		PreloadLibrary: cfg.Routing.PreloadLibrary,
		Logger:         slog.Default(),
	})
	mgr.Isolation = cfg.Isolation
	defer mgr.DestroyAll()

	if cfg.Isolation == runconfig.IsolationOn {
		s := mgr.CreateSession(session.Options{Name: f.sessionName, Isolate: true})
		if !s.CanIsolate() {
			return 0, fmt.Errorf("isolation required but unavailable on this host")
		}
	}

	base := executor.Direct{
		Shell:          cfg.Shell,
		Timeout:        cfg.ExecTimeout.Std(),
		ChildContext:   cfg.Routing.ChildContext,
		PreloadLibrary: cfg.Routing.PreloadLibrary,
	}
	exe, err := executor.New(cfg.Strategy, f.sessionName, base, mgr)
	if err != nil {
		return 0, err
	}

	command := strings.Join(args, " ")

	if f.background {
		p, err := exe.StartBackgroundProcess(ctx, command)
		if err != nil {
			return 0, err
		}
		fmt.Fprintln(cmd.OutOrStdout(), p.Pid())
		return 0, nil
	}

	if f.stream && term.IsTerminal(int(os.Stdout.Fd())) {
		return exe.StreamOutput(ctx, command, cmd.OutOrStdout())
	}

	res, err := exe.Exec(ctx, command)
	if err != nil {
		return 0, err
	}
	fmt.Fprint(cmd.OutOrStdout(), res.Stdout)
	fmt.Fprint(cmd.ErrOrStderr(), res.Stderr)
	return res.ExitCode, nil
}

func loadConfig() (*runconfig.Config, error) {
	if configPath == "" {
		return runconfig.Default(), nil
	}
	return runconfig.Load(configPath)
}
