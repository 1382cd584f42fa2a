// Package session provides the host-side handle to an isolated
// execution session: it spawns a supervisor process, performs the
// readiness handshake, multiplexes concurrent exec calls over the single
// control channel and tears everything down on shell death or explicit
// destroy.
package session

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ghostwriternr/sandbox-sdk-sub001/capability"
	"github.com/ghostwriternr/sandbox-sdk-sub001/protocol"
	"github.com/ghostwriternr/sandbox-sdk-sub001/routing"
	"github.com/ghostwriternr/sandbox-sdk-sub001/supervisor"
)

// Session errors. Per-command shell failures are not errors: a nonzero
// exit status comes back as a normal Result.
var (
	ErrNotInitialized    = errors.New("session is not initialized")
	ErrSessionTerminated = errors.New("session terminated")
	ErrExecTimeout       = errors.New("command timed out")
	ErrInitTimeout       = errors.New("session initialization timed out")
)

// Defaults applied by New.
const (
	DefaultExecTimeout = 30 * time.Second
	DefaultInitTimeout = 10 * time.Second
	destroyGracePeriod = 3 * time.Second
)

// Result is the outcome of one executed command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Options configures a session.
type Options struct {
	Name    string
	WorkDir string
	// Env is added to the supervisor's (and therefore the shell's)
	// environment.
	Env map[string]string
	// Isolate requests namespace isolation; it is granted only when
	// the capability probe found the privilege.
	Isolate bool
	Shell   string
	TempDir string
	// ExecTimeout bounds a single Exec; InitTimeout bounds the
	// readiness handshake.
	ExecTimeout time.Duration
	InitTimeout time.Duration
	// ReapInterval and StaleAfter tune the supervisor's temp-artifact
	// reaper. StaleAfter defaults to a multiple of ExecTimeout so a
	// slow-but-alive command is never reaped mid-flight.
	ReapInterval time.Duration
	StaleAfter   time.Duration
	// SupervisorPath is the binary re-executed as the supervisor.
	// Empty means the current executable.
	SupervisorPath string
	DeniedSyscalls []string
	// ChildContext activates transparent subprocess redirection for
	// agent-like commands; PreloadLibrary is the interceptor path.
	ChildContext   string
	PreloadLibrary string
	Logger         *slog.Logger
}

// Session states.
const (
	stateInitializing int32 = iota
	stateReady
	stateTerminated
)

type outcome struct {
	res *Result
	err error
}

// pendingRequest is removed exactly once: by the matching response, by
// its timeout, or by session-wide teardown.
type pendingRequest struct {
	id    string
	ch    chan outcome
	timer *time.Timer
}

// Session is the host-side handle. It exclusively owns its supervisor
// subprocess; no other component may write to the control channel.
type Session struct {
	opts       Options
	caps       capability.Capabilities
	canIsolate bool
	log        *slog.Logger

	initMu      sync.Mutex
	initialized bool
	initErr     error

	cmd *exec.Cmd
	enc *protocol.Encoder

	state atomic.Int32

	mu      sync.Mutex
	pending map[string]*pendingRequest

	readyCh chan struct{}
	doneCh  chan struct{}
}

// New builds a session handle. The supervisor is spawned lazily by the
// first Exec (or an explicit Initialize).
func New(opts Options) *Session {
	if opts.ExecTimeout <= 0 {
		opts.ExecTimeout = DefaultExecTimeout
	}
	if opts.InitTimeout <= 0 {
		opts.InitTimeout = DefaultInitTimeout
	}
	if opts.StaleAfter <= opts.ExecTimeout {
		opts.StaleAfter = 2 * opts.ExecTimeout
		if opts.StaleAfter < supervisor.DefaultStaleAfter {
			opts.StaleAfter = supervisor.DefaultStaleAfter
		}
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	caps := capability.Detect()
	return &Session{
		opts:       opts,
		caps:       caps,
		canIsolate: opts.Isolate && caps.HasNamespaces,
		log:        log.With("session", opts.Name),
		pending:    make(map[string]*pendingRequest),
		readyCh:    make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

// CanIsolate reports whether isolation was both requested and granted.
func (s *Session) CanIsolate() bool { return s.canIsolate }

// Name returns the session name.
func (s *Session) Name() string { return s.opts.Name }

// Initialize spawns the supervisor and blocks until the readiness
// handshake or InitTimeout. Idempotent; concurrent callers share one
// attempt.
func (s *Session) Initialize(ctx context.Context) error {
	s.initMu.Lock()
	defer s.initMu.Unlock()
	if s.initialized {
		return s.initErr
	}
	if s.state.Load() == stateTerminated {
		return ErrSessionTerminated
	}
	s.initErr = s.initialize(ctx)
	s.initialized = true
	return s.initErr
}

func (s *Session) initialize(ctx context.Context) error {
	path := s.opts.SupervisorPath
	if path == "" {
		exe, err := os.Executable()
		if err != nil {
			return fmt.Errorf("session: resolve current executable: %w", err)
		}
		path = exe
	}

	args := []string{"supervisor", "--session", s.opts.Name}
	if s.opts.WorkDir != "" {
		args = append(args, "--workdir", s.opts.WorkDir)
	}
	if s.opts.TempDir != "" {
		args = append(args, "--tempdir", s.opts.TempDir)
	}
	if s.opts.Shell != "" {
		args = append(args, "--shell", s.opts.Shell)
	}
	args = append(args, "--command-timeout", s.opts.ExecTimeout.String())
	args = append(args, "--stale-after", s.opts.StaleAfter.String())
	if s.opts.ReapInterval > 0 {
		args = append(args, "--reap-interval", s.opts.ReapInterval.String())
	}
	if s.canIsolate {
		args = append(args, "--isolate")
	}
	for _, sys := range s.opts.DeniedSyscalls {
		args = append(args, "--deny", sys)
	}

	cmd := exec.Command(path, args...)
	cmd.Env = append(os.Environ(), flattenEnv(s.opts.Env)...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("session: supervisor stdin: %w", err)
	}
	// Manual pipes so Wait cannot close them under the readers.
	outR, outW, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("session: supervisor stdout: %w", err)
	}
	errR, errW, err := os.Pipe()
	if err != nil {
		outR.Close()
		outW.Close()
		return fmt.Errorf("session: supervisor stderr: %w", err)
	}
	cmd.Stdout = outW
	cmd.Stderr = errW

	if err := cmd.Start(); err != nil {
		for _, f := range []*os.File{outR, outW, errR, errW} {
			f.Close()
		}
		return fmt.Errorf("session: spawn supervisor: %w", err)
	}
	outW.Close()
	errW.Close()

	s.cmd = cmd
	s.enc = protocol.NewEncoder(stdin)

	go s.readLoop(outR)
	go s.forwardStderr(errR)
	go s.waitLoop()

	select {
	case <-s.readyCh:
		return nil
	case <-s.doneCh:
		return fmt.Errorf("session: supervisor exited during initialization: %w", ErrNotInitialized)
	case <-ctx.Done():
		s.terminate()
		return ctx.Err()
	case <-time.After(s.opts.InitTimeout):
		s.terminate()
		return fmt.Errorf("session: no ready message within %v: %w", s.opts.InitTimeout, ErrInitTimeout)
	}
}

// Exec runs one command in the session shell. Safe to call
// concurrently; each call is resolved exactly once by the matching
// response, its own timeout, or session teardown. Completion order may
// differ from dispatch order when the shell is asked to run overlapping
// background work; callers needing sequencing await each Exec.
func (s *Session) Exec(ctx context.Context, command string) (*Result, error) {
	if err := s.Initialize(ctx); err != nil {
		return nil, err
	}
	if s.state.Load() != stateReady {
		return nil, ErrNotInitialized
	}

	if routing.Decide(command, s.opts.ChildContext) {
		command = routing.Wrap(command, s.opts.ChildContext, s.opts.PreloadLibrary)
	}

	id := uuid.NewString()
	p := &pendingRequest{id: id, ch: make(chan outcome, 1)}
	s.mu.Lock()
	s.pending[id] = p
	p.timer = time.AfterFunc(s.opts.ExecTimeout, func() {
		s.settle(id, outcome{err: fmt.Errorf("session: %w after %v", ErrExecTimeout, s.opts.ExecTimeout)})
	})
	s.mu.Unlock()

	if err := s.enc.Send(protocol.Exec(id, command)); err != nil {
		s.settle(id, outcome{err: fmt.Errorf("session: dispatch command: %w", err)})
	}

	select {
	case o := <-p.ch:
		return o.res, o.err
	case <-ctx.Done():
		s.settle(id, outcome{err: ctx.Err()})
		o := <-p.ch
		return o.res, o.err
	}
}

// Destroy sends exit, grants a short grace period, then force-kills the
// supervisor. Every still-pending request is rejected immediately so no
// caller is left hanging. Idempotent.
func (s *Session) Destroy() error {
	if s.state.Swap(stateTerminated) == stateTerminated {
		return nil
	}
	s.failPending(ErrSessionTerminated)

	s.initMu.Lock()
	started := s.cmd != nil
	s.initMu.Unlock()
	if !started {
		return nil
	}

	// Best effort: the supervisor may already be gone.
	_ = s.enc.Send(protocol.Exit("destroy"))

	select {
	case <-s.doneCh:
		return nil
	case <-time.After(destroyGracePeriod):
	}
	s.log.Debug("supervisor did not exit in grace period, killing")
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	select {
	case <-s.doneCh:
	case <-time.After(destroyGracePeriod):
		return fmt.Errorf("session: supervisor would not die")
	}
	return nil
}

// terminate force-kills without the exit handshake (init failures).
func (s *Session) terminate() {
	s.state.Store(stateTerminated)
	if s.cmd != nil && s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
}

func (s *Session) readLoop(r io.ReadCloser) {
	defer r.Close()
	dec := protocol.NewDecoder(r)
	for {
		m, err := dec.Next()
		if err != nil {
			// Channel closed; waitLoop owns teardown.
			return
		}
		switch m.Type {
		case protocol.KindReady:
			if s.state.CompareAndSwap(stateInitializing, stateReady) {
				close(s.readyCh)
			}
		case protocol.KindResult:
			code := 0
			if m.ExitCode != nil {
				code = *m.ExitCode
			}
			s.settle(m.ID, outcome{res: &Result{Stdout: m.Stdout, Stderr: m.Stderr, ExitCode: code}})
		case protocol.KindError:
			s.settle(m.ID, outcome{err: fmt.Errorf("session: command failed: %s", m.Error)})
		default:
			s.log.Warn("unknown frame from supervisor", "type", m.Type, "id", m.ID)
		}
	}
}

func (s *Session) forwardStderr(r io.ReadCloser) {
	defer r.Close()
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		s.log.Debug("supervisor", "line", sc.Text())
	}
}

func (s *Session) waitLoop() {
	err := s.cmd.Wait()
	if s.state.Swap(stateTerminated) != stateTerminated {
		s.log.Debug("supervisor exited", "err", err)
	}
	s.failPending(ErrSessionTerminated)
	close(s.doneCh)
}

// settle resolves a pending request exactly once. A late response for
// an id that already timed out finds nothing and is dropped silently.
func (s *Session) settle(id string, o outcome) {
	s.mu.Lock()
	p, ok := s.pending[id]
	if ok {
		delete(s.pending, id)
		if p.timer != nil {
			p.timer.Stop()
		}
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	p.ch <- o
}

func (s *Session) failPending(err error) {
	s.mu.Lock()
	pending := make([]*pendingRequest, 0, len(s.pending))
	for _, p := range s.pending {
		pending = append(pending, p)
	}
	s.mu.Unlock()
	for _, p := range pending {
		s.settle(p.id, outcome{err: fmt.Errorf("session: %w", err)})
	}
}

func flattenEnv(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}
