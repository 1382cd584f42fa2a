// Package executor exposes the execution strategies behind one
// capability-set interface. The session strategy runs commands against
// a stateful isolated shell; the direct strategy spawns a fresh shell
// per command; the argv strategy avoids a shell entirely. Call sites
// select a strategy by configuration instead of duplicating paths.
package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"

	"github.com/ghostwriternr/sandbox-sdk-sub001/pkg/pipe"
	"github.com/ghostwriternr/sandbox-sdk-sub001/session"
)

// Strategy names accepted by New.
const (
	StrategySession = "session"
	StrategyDirect  = "direct"
	StrategyArgv    = "argv"
)

// ErrShellSyntax rejects commands with shell metacharacters on the
// argv strategy, which deliberately has no shell to interpret them.
var ErrShellSyntax = errors.New("command contains shell metacharacters")

// Executor runs commands. Exec blocks for the full result;
// StartBackgroundProcess detaches with capped output capture;
// StreamOutput copies interleaved output to w as it is produced and
// returns the exit code.
type Executor interface {
	Exec(ctx context.Context, command string) (*session.Result, error)
	StartBackgroundProcess(ctx context.Context, command string) (*Process, error)
	StreamOutput(ctx context.Context, command string, w io.Writer) (int, error)
}

// New selects a strategy. base configures the shell-spawning paths;
// mgr and sessionName apply only to the session strategy, with an
// empty name meaning the manager's default session.
func New(strategy string, sessionName string, base Direct, mgr *session.Manager) (Executor, error) {
	switch strategy {
	case StrategySession, "":
		if mgr == nil {
			return nil, fmt.Errorf("executor: session strategy requires a session manager")
		}
		return &sessionStrategy{mgr: mgr, name: sessionName, bg: base}, nil
	case StrategyDirect:
		return &base, nil
	case StrategyArgv:
		return &Argv{Direct: base}, nil
	default:
		return nil, fmt.Errorf("executor: unknown strategy %q", strategy)
	}
}

// Process is a handle to a detached background command.
type Process struct {
	cmd *exec.Cmd
	out *pipe.Buffer

	waitOnce sync.Once
	waitErr  error
	exitCode int
}

// Pid returns the process id.
func (p *Process) Pid() int { return p.cmd.Process.Pid }

// Wait blocks for process exit and returns its exit code.
func (p *Process) Wait() (int, error) {
	p.waitOnce.Do(func() {
		err := p.cmd.Wait()
		<-p.out.Done()
		var ee *exec.ExitError
		switch {
		case err == nil:
			p.exitCode = 0
		case errors.As(err, &ee):
			p.exitCode = ee.ExitCode()
		default:
			p.waitErr = fmt.Errorf("executor: wait for background process: %w", err)
		}
	})
	return p.exitCode, p.waitErr
}

// Kill terminates the process.
func (p *Process) Kill() error {
	if err := p.cmd.Process.Kill(); err != nil {
		return fmt.Errorf("executor: kill background process: %w", err)
	}
	return nil
}

// Output returns the captured combined output so far, up to the cap.
func (p *Process) Output() []byte { return p.out.Bytes() }

// OutputTruncated reports whether capture hit the cap.
func (p *Process) OutputTruncated() bool { return p.out.Truncated() }

// sessionStrategy runs Exec against the stateful session shell.
// Background and streaming work would tie up the serialized shell, so
// those go through a fresh process instead.
type sessionStrategy struct {
	mgr  *session.Manager
	name string
	bg   Direct
}

func (s *sessionStrategy) Exec(ctx context.Context, command string) (*session.Result, error) {
	return s.mgr.ExecIn(ctx, s.name, command)
}

func (s *sessionStrategy) StartBackgroundProcess(ctx context.Context, command string) (*Process, error) {
	return s.bg.StartBackgroundProcess(ctx, command)
}

func (s *sessionStrategy) StreamOutput(ctx context.Context, command string, w io.Writer) (int, error) {
	return s.bg.StreamOutput(ctx, command, w)
}
