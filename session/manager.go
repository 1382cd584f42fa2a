package session

import (
	"context"
	"sync"
)

// DefaultSessionName is the session used by Manager.Exec for callers
// that do not care about session identity.
const DefaultSessionName = "default"

// Isolation policies for sessions the manager creates on demand.
// CreateSession callers state isolation explicitly per session instead.
const (
	// IsolateAuto requests isolation; the capability probe decides
	// whether it is granted.
	IsolateAuto = "auto"
	// IsolateOn requests isolation like IsolateAuto; enforcing that it
	// was actually granted is the caller's job (check CanIsolate).
	IsolateOn = "on"
	// IsolateNever spawns shells unwrapped even on capable hosts.
	IsolateNever = "off"
)

// Manager is a registry of named sessions.
type Manager struct {
	// Isolation is the policy applied to sessions created on demand by
	// Exec and ExecIn. Empty means IsolateAuto. Set it before the
	// first exec.
	Isolation string

	base Options

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager builds a registry. base supplies defaults (temp dir,
// timeouts, supervisor path, routing context) merged into every
// created session.
func NewManager(base Options) *Manager {
	return &Manager{
		base:     base,
		sessions: make(map[string]*Session),
	}
}

// CreateSession registers a session under opts.Name. An existing
// session with the same name is destroyed first: replace semantics, not
// merge.
func (m *Manager) CreateSession(opts Options) *Session {
	opts = m.merge(opts)

	m.mu.Lock()
	old := m.sessions[opts.Name]
	s := New(opts)
	m.sessions[opts.Name] = s
	m.mu.Unlock()

	if old != nil {
		_ = old.Destroy()
	}
	return s
}

// Get returns the named session if it exists.
func (m *Manager) Get(name string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[name]
	return s, ok
}

// Exec runs a command on the shared "default" session, lazily creating
// it per the manager's isolation policy.
func (m *Manager) Exec(ctx context.Context, command string) (*Result, error) {
	return m.ExecIn(ctx, DefaultSessionName, command)
}

// ExecIn runs a command on the named session, lazily creating it per
// the manager's isolation policy.
func (m *Manager) ExecIn(ctx context.Context, name string, command string) (*Result, error) {
	if name == "" {
		name = DefaultSessionName
	}
	m.mu.Lock()
	s, ok := m.sessions[name]
	if !ok {
		opts := m.merge(Options{Name: name, Isolate: m.Isolation != IsolateNever})
		s = New(opts)
		m.sessions[name] = s
	}
	m.mu.Unlock()
	return s.Exec(ctx, command)
}

// Destroy tears down and forgets the named session.
func (m *Manager) Destroy(name string) error {
	m.mu.Lock()
	s, ok := m.sessions[name]
	delete(m.sessions, name)
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return s.Destroy()
}

// DestroyAll tears down every tracked session. Safe to call during
// process shutdown and concurrently with other manager calls.
func (m *Manager) DestroyAll() {
	m.mu.Lock()
	all := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range all {
		_ = s.Destroy()
	}
}

// merge fills zero-valued fields of opts from the manager's base
// options. Name, WorkDir, Env and Isolate stay per-session.
func (m *Manager) merge(opts Options) Options {
	if opts.Shell == "" {
		opts.Shell = m.base.Shell
	}
	if opts.TempDir == "" {
		opts.TempDir = m.base.TempDir
	}
	if opts.ExecTimeout <= 0 {
		opts.ExecTimeout = m.base.ExecTimeout
	}
	if opts.InitTimeout <= 0 {
		opts.InitTimeout = m.base.InitTimeout
	}
	if opts.ReapInterval <= 0 {
		opts.ReapInterval = m.base.ReapInterval
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = m.base.StaleAfter
	}
	if opts.SupervisorPath == "" {
		opts.SupervisorPath = m.base.SupervisorPath
	}
	if len(opts.DeniedSyscalls) == 0 {
		opts.DeniedSyscalls = m.base.DeniedSyscalls
	}
	if opts.ChildContext == "" {
		opts.ChildContext = m.base.ChildContext
	}
	if opts.PreloadLibrary == "" {
		opts.PreloadLibrary = m.base.PreloadLibrary
	}
	if opts.Logger == nil {
		opts.Logger = m.base.Logger
	}
	return opts
}
