package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/creack/pty"

	"github.com/ghostwriternr/sandbox-sdk-sub001/pkg/pipe"
	"github.com/ghostwriternr/sandbox-sdk-sub001/routing"
	"github.com/ghostwriternr/sandbox-sdk-sub001/session"
)

// DefaultMaxCapture caps background output capture.
const DefaultMaxCapture = 1 << 20

// Direct spawns a fresh shell per command: no state persists between
// calls.
type Direct struct {
	Shell   string
	WorkDir string
	// Env is appended to the inherited environment.
	Env []string
	// Timeout bounds Exec; zero means no bound beyond ctx.
	Timeout time.Duration
	// ChildContext/PreloadLibrary activate subprocess redirection for
	// agent-like commands.
	ChildContext   string
	PreloadLibrary string
	MaxCapture     int64
}

func (d *Direct) command(ctx context.Context, command string) *exec.Cmd {
	shell := d.Shell
	if shell == "" {
		shell = "/bin/bash"
	}
	cmd := exec.CommandContext(ctx, shell, "-c", command)
	cmd.Dir = d.WorkDir
	cmd.Env = append(os.Environ(), d.Env...)
	if routing.Decide(command, d.ChildContext) {
		cmd.Env = append(cmd.Env, routing.Env(d.ChildContext, d.PreloadLibrary)...)
	}
	return cmd
}

// Exec runs the command to completion. A nonzero exit status is a
// normal result; only spawn and timeout failures are errors.
func (d *Direct) Exec(ctx context.Context, command string) (*session.Result, error) {
	if d.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}

	cmd := d.command(ctx, command)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctx.Err() != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("executor: %w after %v", session.ErrExecTimeout, d.Timeout)
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

// StartBackgroundProcess detaches the command in its own process group
// with combined output captured up to the cap.
func (d *Direct) StartBackgroundProcess(ctx context.Context, command string) (*Process, error) {
	maxCapture := d.MaxCapture
	if maxCapture <= 0 {
		maxCapture = DefaultMaxCapture
	}
	buf, err := pipe.NewBuffer(maxCapture)
	if err != nil {
		return nil, fmt.Errorf("executor: capture pipe: %w", err)
	}

	cmd := d.command(ctx, command)
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

// StreamOutput runs the command under a pty so line-buffered programs
// produce output as they go, copying it to w until exit.
func (d *Direct) StreamOutput(ctx context.Context, command string, w io.Writer) (int, error) {
	cmd := d.command(ctx, command)
	ptmx, err := pty.Start(cmd)
	if err != nil {
		return -1, fmt.Errorf("executor: start pty: %w", err)
	}
	defer ptmx.Close()

	// EIO is the normal pty read error once the child exits.
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
