package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/creack/pty"

	"github.com/ghostwriternr/sandbox-sdk-sub001/pkg/pipe"
	"github.com/ghostwriternr/sandbox-sdk-sub001/routing"
	"github.com/ghostwriternr/sandbox-sdk-sub001/session"
)

// shellMeta is everything the argv strategy refuses to pass through:
// with no shell in the path these characters would silently lose their
// meaning, which is worse than an explicit rejection.
const shellMeta = "|&;<>()$`\\\"'*?[]{}~#\n"

// Argv executes the command as a whitespace-split argument vector,
// avoiding a shell entirely. It is the most restricted strategy: no
// pipes, no globs, no variable expansion.
type Argv struct {
	Direct
}

func splitArgv(command string) ([]string, error) {
	if strings.ContainsAny(command, shellMeta) {
		return nil, fmt.Errorf("executor: %w", ErrShellSyntax)
	}
	argv := strings.Fields(command)
	if len(argv) == 0 {
		return nil, fmt.Errorf("executor: empty command")
	}
	return argv, nil
}

func (a *Argv) command(ctx context.Context, command string) (*exec.Cmd, error) {
	argv, err := splitArgv(command)
	if err != nil {
		return nil, err
	}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = a.WorkDir
	cmd.Env = append(os.Environ(), a.Env...)
	if routing.Decide(command, a.ChildContext) {
		cmd.Env = append(cmd.Env, routing.Env(a.ChildContext, a.PreloadLibrary)...)
	}
	return cmd, nil
}

func (a *Argv) Exec(ctx context.Context, command string) (*session.Result, error) {
	if a.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.Timeout)
		defer cancel()
	}

	cmd, err := a.command(ctx, command)
	if err != nil {
		return nil, err
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err = cmd.Run()
	if ctx.Err() != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("executor: %w after %v", session.ErrExecTimeout, a.Timeout)
		}
		return nil, ctx.Err()
	}
	exitCode := 0
	var ee *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &ee):
		exitCode = ee.ExitCode()
	default:
		return nil, fmt.Errorf("executor: run command: %w", err)
	}
	return &session.Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: exitCode,
	}, nil
}

func (a *Argv) StartBackgroundProcess(ctx context.Context, command string) (*Process, error) {
	maxCapture := a.MaxCapture
	if maxCapture <= 0 {
		maxCapture = DefaultMaxCapture
	}
	buf, err := pipe.NewBuffer(maxCapture)
	if err != nil {
		return nil, fmt.Errorf("executor: capture pipe: %w", err)
	}
	cmd, err := a.command(ctx, command)
	if err != nil {
		buf.W.Close()
		return nil, err
	}
	cmd.Stdout = buf.W
	cmd.Stderr = buf.W
	cmd.SysProcAttr = detachedSysProcAttr()

	if err := cmd.Start(); err != nil {
		buf.W.Close()
		return nil, fmt.Errorf("executor: start background process: %w", err)
	}
	buf.W.Close()
	return &Process{cmd: cmd, out: buf}, nil
}

func (a *Argv) StreamOutput(ctx context.Context, command string, w io.Writer) (int, error) {
	cmd, err := a.command(ctx, command)
	if err != nil {
		return -1, err
	}
	ptmx, err := pty.Start(cmd)
	if err != nil {
		return -1, fmt.Errorf("executor: start pty: %w", err)
	}
	defer ptmx.Close()

	_, _ = io.Copy(w, ptmx)

	err = cmd.Wait()
	var ee *exec.ExitError
	switch {
	case err == nil:
		return 0, nil
	case errors.As(err, &ee):
		return ee.ExitCode(), nil
	default:
		return -1, fmt.Errorf("executor: wait for streamed command: %w", err)
	}
}
