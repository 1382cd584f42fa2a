// Package supervisor implements the program that runs in the second
// process of a session: it owns one long-lived shell child and executes
// a stream of commands against it while preserving shell state (working
// directory, exported variables) across commands.
//
// Command output is exchanged through temp files rather than parsed out
// of the shell's output stream. Marker parsing on the stream is
// unreliable: binary output corrupts matching, huge output breaks
// buffering assumptions, and output that coincidentally contains the
// marker produces false positives. Each request instead sources its
// command from a file with stdout/stderr redirected to files, records
// the exit status in a third file, and the only thing the supervisor
// watches the shell's stdout for is a per-request completion token.
package supervisor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ghostwriternr/sandbox-sdk-sub001/protocol"
)

// Defaults applied by Run for zero-valued Config fields.
const (
	DefaultShell          = "/bin/bash"
	DefaultCommandTimeout = 30 * time.Second
	DefaultReapInterval   = time.Minute
	DefaultStaleAfter     = 10 * time.Minute
)

// Config parameterizes one supervisor instance. A session passes it via
// command-line flags when it re-executes the host binary as the
// supervisor entry point.
type Config struct {
	SessionName string
	WorkDir     string
	// Env is appended to the inherited environment of the shell.
	Env []string
	// Isolate wraps the shell in fresh PID and mount namespaces. The
	// caller is responsible for only requesting this when the host
	// capability probe granted it.
	Isolate bool
	Shell   string
	TempDir string
	// CommandTimeout bounds a single command. StaleAfter must stay
	// comfortably larger than it so the reaper never touches a
	// slow-but-alive command's files.
	CommandTimeout time.Duration
	ReapInterval   time.Duration
	StaleAfter     time.Duration
	// DeniedSyscalls installs an inherited seccomp deny-list before
	// the shell is spawned.
	DeniedSyscalls []string
	Logger         *slog.Logger
}

// ErrShellNotAlive is the error answered to exec requests that arrive
// after the shell died. Its text crosses the wire in error frames.
var ErrShellNotAlive = errors.New("shell is not alive")

// ShellExitError reports that the session shell terminated; the
// supervisor process should exit with the same code so the host
// observes it.
type ShellExitError struct {
	Code int
}

func (e *ShellExitError) Error() string {
	return fmt.Sprintf("shell exited with status %d", e.Code)
}

type supervisor struct {
	cfg    Config
	log    *slog.Logger
	enc    *protocol.Encoder
	active *activeSet

	shell    *exec.Cmd
	shellIn  io.WriteCloser
	scanDone chan struct{}

	mu       sync.Mutex
	inflight map[string]*inflight

	alive     atomic.Bool
	shellDone chan struct{}
	shellCode int
}

// Run serves the control protocol on stdin/stdout until the host sends
// exit, the control channel closes, the context is cancelled, or the
// shell dies. A dead shell surfaces as *ShellExitError carrying the
// shell's exit code.
func Run(ctx context.Context, cfg Config, stdin io.Reader, stdout io.Writer) error {
	cfg = withDefaults(cfg)
	if err := validate(cfg); err != nil {
		return fmt.Errorf("supervisor: %w", err)
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("session", cfg.SessionName)

	if err := loadSeccompFilter(cfg.DeniedSyscalls); err != nil {
		return fmt.Errorf("supervisor: %w", err)
	}
	if err := os.MkdirAll(cfg.TempDir, 0o700); err != nil {
		return fmt.Errorf("supervisor: create temp dir: %w", err)
	}

	s := &supervisor{
		cfg:       cfg,
		log:       log,
		enc:       protocol.NewEncoder(stdout),
		active:    newActiveSet(),
		inflight:  make(map[string]*inflight),
		shellDone: make(chan struct{}),
		scanDone:  make(chan struct{}),
	}
	if err := s.startShell(); err != nil {
		return fmt.Errorf("supervisor: %w", err)
	}

	// The shell is up; accept execs from here on.
	if err := s.enc.Send(protocol.Ready()); err != nil {
		s.killShell()
		return fmt.Errorf("supervisor: send ready: %w", err)
	}

	stopReaper := make(chan struct{})
	defer close(stopReaper)
	r := &reaper{dir: cfg.TempDir, staleAfter: cfg.StaleAfter, active: s.active, log: log}
	go r.run(cfg.ReapInterval, stopReaper)

	frames := make(chan *protocol.Message)
	readErr := make(chan error, 1)
	go func() {
		dec := protocol.NewDecoder(stdin)
		for {
			m, err := dec.Next()
			if err != nil {
				readErr <- err
				close(frames)
				return
			}
			frames <- m
		}
	}()

	for {
		select {
		case <-ctx.Done():
			s.failInflight("session terminated")
			s.killShell()
			return ctx.Err()

		case <-s.shellDone:
			// Drain tokens already emitted (a command that called
			// `exit` writes its result through the EXIT trap just
			// before the shell dies) before failing the rest.
			select {
			case <-s.scanDone:
			case <-time.After(time.Second):
			}
			s.failInflight("shell exited")
			return &ShellExitError{Code: s.shellCode}

		case m, ok := <-frames:
			if !ok {
				// Host went away; take the whole session down.
				s.failInflight("session terminated")
				s.killShell()
				if err := <-readErr; !errors.Is(err, io.EOF) {
					return fmt.Errorf("supervisor: control channel: %w", err)
				}
				return nil
			}
			switch m.Type {
			case protocol.KindExec:
				s.handleExec(m.ID, m.Command)
			case protocol.KindExit:
				s.log.Debug("exit requested")
				s.failInflight("session terminated")
				s.killShell()
				return nil
			default:
				s.send(protocol.Error(m.ID, fmt.Sprintf("unknown message type %q", m.Type)))
			}
		}
	}
}

func withDefaults(cfg Config) Config {
	if cfg.Shell == "" {
		cfg.Shell = DefaultShell
	}
	if cfg.TempDir == "" {
		cfg.TempDir = os.TempDir()
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = DefaultCommandTimeout
	}
	if cfg.ReapInterval <= 0 {
		cfg.ReapInterval = DefaultReapInterval
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}
	return cfg
}

func validate(cfg Config) error {
	// Paths are spliced into shell scripts inside quotes.
	if strings.ContainsAny(cfg.TempDir, "'\n") {
		return fmt.Errorf("temp dir %q must not contain quotes or newlines", cfg.TempDir)
	}
	if cfg.StaleAfter <= cfg.CommandTimeout {
		return fmt.Errorf("stale threshold %v must exceed command timeout %v", cfg.StaleAfter, cfg.CommandTimeout)
	}
	return nil
}

func (s *supervisor) startShell() error {
	cmd := exec.Command(s.cfg.Shell)
	cmd.Dir = s.cfg.WorkDir
	cmd.Env = append(os.Environ(), s.cfg.Env...)
	cmd.SysProcAttr = shellSysProcAttr(s.cfg.Isolate)
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("shell stdin: %w", err)
	}
	// Manual pipe instead of StdoutPipe: Wait must not close the read
	// end while the scanner still drains a final completion token.
	outR, outW, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("shell stdout: %w", err)
	}
	cmd.Stdout = outW
	if err := cmd.Start(); err != nil {
		outR.Close()
		outW.Close()
		return fmt.Errorf("start shell %s: %w", s.cfg.Shell, err)
	}
	outW.Close()
	s.shell = cmd
	s.shellIn = stdin
	s.alive.Store(true)

	// fd 9 keeps a handle on the shell's real stdout so the EXIT trap
	// can emit a completion token even while a command's redirections
	// are in effect. The trap covers commands that call `exit`: the
	// builtin terminates the sourcing shell, so without it the exit
	// status file and token would never be written.
	init := "exec 9>&1\n" +
		"trap '__sbx_st=$?; if [ -n \"$__SBX_ID\" ]; then " +
		"echo \"$__sbx_st\" > \"" + s.cfg.TempDir + "/" + prefixExit + "${__SBX_ID}\"; " +
		"echo \"" + tokenPrefix + "${__SBX_ID}" + tokenSuffix + "\" >&9; fi' EXIT\n"
	if _, err := io.WriteString(stdin, init); err != nil {
		s.killShell()
		return fmt.Errorf("initialize shell: %w", err)
	}

	go s.scanShellOutput(outR)
	go s.waitShell()

	s.log.Debug("shell started", "pid", cmd.Process.Pid, "isolate", s.cfg.Isolate)
	return nil
}

// scanShellOutput watches the shell's stdout for completion tokens and
// nothing else.
func (s *supervisor) scanShellOutput(r io.ReadCloser) {
	defer close(s.scanDone)
	defer r.Close()
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 64*1024)
	for sc.Scan() {
		id, ok := parseToken(sc.Text())
		if !ok {
			s.log.Debug("shell noise", "line", sc.Text())
			continue
		}
		s.finish(id)
	}
	if err := sc.Err(); err != nil {
		// With the token watcher gone every further command would
		// quietly time out. Take the shell down so the host observes a
		// dead session instead.
		s.log.Error("shell output scanner failed", "err", err)
		s.killShell()
	}
}

func (s *supervisor) waitShell() {
	err := s.shell.Wait()
	code := 0
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		code = ee.ExitCode()
	} else if err != nil {
		code = 1
	}
	s.alive.Store(false)
	s.shellCode = code
	close(s.shellDone)
}

func (s *supervisor) handleExec(id, command string) {
	if id == "" {
		s.send(protocol.Error(id, "exec without id"))
		return
	}
	// Ids are spliced into the dispatch script inside quotes and into
	// temp file names, same rule as the temp dir in validate.
	if strings.ContainsAny(id, "'/\n") {
		s.send(protocol.Error(id, "invalid request id"))
		return
	}
	if !s.alive.Load() {
		s.send(protocol.Error(id, ErrShellNotAlive.Error()))
		return
	}

	s.mu.Lock()
	if _, dup := s.inflight[id]; dup {
		s.mu.Unlock()
		s.send(protocol.Error(id, "duplicate request id"))
		return
	}
	c := newInflight(s.cfg.TempDir, id)
	s.inflight[id] = c
	s.mu.Unlock()
	s.active.add(c.files()...)

	if err := os.WriteFile(c.cmdFile, []byte(command+"\n"), 0o600); err != nil {
		s.forget(c)
		s.send(protocol.Error(id, fmt.Sprintf("write command file: %v", err)))
		return
	}

	// Arm the timeout before dispatch so a completion racing the
	// dispatch always finds a timer to stop.
	c.timer = time.AfterFunc(s.cfg.CommandTimeout, func() { s.expire(c) })

	// Sourcing (not sub-shelling) keeps cd/export effects for the next
	// command. Redirections bind to the source builtin, so arbitrary
	// command output never touches the shell's own stdout.
	script := "__SBX_ID='" + id + "'\n" +
		". '" + c.cmdFile + "' > '" + c.outFile + "' 2> '" + c.errFile + "'\n" +
		"echo $? > '" + c.exitFile + "'\n" +
		"echo '" + completionToken(id) + "' >&9\n" +
		"__SBX_ID=\n"
	if _, err := io.WriteString(s.shellIn, script); err != nil {
		if c.claim() {
			c.timer.Stop()
			s.forget(c)
			c.remove()
			s.send(protocol.Error(id, fmt.Sprintf("dispatch to shell: %v", err)))
		}
		return
	}
	s.log.Debug("dispatched", "id", id)
}

// finish handles an observed completion token. First claim wins against
// a racing timeout; a late token for an already-handled id is a no-op.
func (s *supervisor) finish(id string) {
	s.mu.Lock()
	c := s.inflight[id]
	s.mu.Unlock()
	if c == nil {
		s.log.Debug("late completion token", "id", id)
		return
	}
	if !c.claim() {
		return
	}
	c.timer.Stop()
	s.forget(c)

	stdout, stderr, exitCode, err := c.collect()
	c.remove()
	if err != nil {
		s.send(protocol.Error(id, err.Error()))
		return
	}
	s.send(protocol.Result(id, stdout, stderr, exitCode))
}

// expire handles a command timeout. The temp files are left in place
// for the reaper: the command may still be writing to them.
func (s *supervisor) expire(c *inflight) {
	if !c.claim() {
		return
	}
	s.forget(c)
	s.log.Debug("command timed out", "id", c.id)
	s.send(protocol.Error(c.id, fmt.Sprintf("command timed out after %v", s.cfg.CommandTimeout)))
}

// forget drops the command from the in-flight map and releases its temp
// files to the reaper.
func (s *supervisor) forget(c *inflight) {
	s.mu.Lock()
	delete(s.inflight, c.id)
	s.mu.Unlock()
	s.active.remove(c.files()...)
}

// failInflight claims and rejects every outstanding command.
func (s *supervisor) failInflight(reason string) {
	s.mu.Lock()
	pending := make([]*inflight, 0, len(s.inflight))
	for _, c := range s.inflight {
		pending = append(pending, c)
	}
	s.mu.Unlock()

	for _, c := range pending {
		if !c.claim() {
			continue
		}
		if c.timer != nil {
			c.timer.Stop()
		}
		s.forget(c)
		s.send(protocol.Error(c.id, reason))
	}
}

func (s *supervisor) killShell() {
	if s.shellIn != nil {
		s.shellIn.Close()
	}
	if s.shell != nil && s.shell.Process != nil {
		s.shell.Process.Kill()
	}
	// Reap so the shell never lingers as a zombie.
	select {
	case <-s.shellDone:
	case <-time.After(3 * time.Second):
	}
}

func (s *supervisor) send(m protocol.Message) {
	if err := s.enc.Send(m); err != nil {
		s.log.Warn("send frame", "type", m.Type, "id", m.ID, "err", err)
	}
}
