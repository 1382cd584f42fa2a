package session

import (
	"context"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ghostwriternr/sandbox-sdk-sub001/capability"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestSession forces the development capability verdict so runs are
// deterministic on unprivileged hosts.
func newTestSession(t *testing.T, opts Options) *Session {
	t.Helper()
	if _, err := exec.LookPath("bash"); err != nil {
		t.Skip("bash not available")
	}
	t.Setenv(capability.EnvIsolation, "false")
	capability.Reset()
	t.Cleanup(capability.Reset)

	if opts.Name == "" {
		opts.Name = "test"
	}
	opts.TempDir = t.TempDir()
	opts.Logger = discardLogger()
	s := New(opts)
	t.Cleanup(func() { _ = s.Destroy() })
	return s
}

func TestExecEchoHello(t *testing.T) {
	s := newTestSession(t, Options{})

	res, err := s.Exec(context.Background(), "echo hello")
	require.NoError(t, err)
	assert.Equal(t, "hello\n", res.Stdout)
	assert.Equal(t, "", res.Stderr)
	assert.Equal(t, 0, res.ExitCode)
}

func TestShellStatePersists(t *testing.T) {
	s := newTestSession(t, Options{})
	ctx := context.Background()

	_, err := s.Exec(ctx, "cd / && export MARKER=alive")
	require.NoError(t, err)

	res, err := s.Exec(ctx, "echo $PWD:$MARKER")
	require.NoError(t, err)
	assert.Equal(t, "/:alive\n", res.Stdout)
}

func TestNonzeroExitIsResult(t *testing.T) {
	s := newTestSession(t, Options{})

	res, err := s.Exec(context.Background(), "exit 7")
	require.NoError(t, err, "a nonzero exit status is a result, not a rejection")
	assert.Equal(t, 7, res.ExitCode)
}

func TestExecAfterShellDeathFailsFast(t *testing.T) {
	s := newTestSession(t, Options{})
	ctx := context.Background()

	_, err := s.Exec(ctx, "exit 3")
	require.NoError(t, err)

	// The shell died, so the supervisor exits; once observed, further
	// execs fail fast instead of hanging.
	require.Eventually(t, func() bool {
		_, err := s.Exec(ctx, "echo still here")
		return err != nil
	}, 5*time.Second, 50*time.Millisecond)

	_, err = s.Exec(ctx, "echo again")
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestExecTimeout(t *testing.T) {
	s := newTestSession(t, Options{ExecTimeout: 300 * time.Millisecond})

	_, err := s.Exec(context.Background(), "sleep 3")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExecTimeout)
}

func TestLongExecTimeoutStillInitializes(t *testing.T) {
	// A command timeout above the supervisor's default staleness
	// threshold must not break the readiness handshake: the session
	// widens the staleness window it hands to the supervisor.
	s := newTestSession(t, Options{ExecTimeout: 11 * time.Minute})

	assert.Equal(t, 22*time.Minute, s.opts.StaleAfter)

	res, err := s.Exec(context.Background(), "echo hello")
	require.NoError(t, err)
	assert.Equal(t, "hello\n", res.Stdout)
}

func TestConcurrentExecs(t *testing.T) {
	s := newTestSession(t, Options{})
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([]*Result, 4)
	errs := make([]error, 4)
	words := []string{"alpha", "beta", "gamma", "delta"}
	for i, w := range words {
		wg.Add(1)
		go func(i int, w string) {
			defer wg.Done()
			results[i], errs[i] = s.Exec(ctx, "echo "+w)
		}(i, w)
	}
	wg.Wait()

	for i, w := range words {
		require.NoError(t, errs[i])
		assert.Equal(t, w+"\n", results[i].Stdout)
	}
}

func TestDestroyRejectsAllPending(t *testing.T) {
	s := newTestSession(t, Options{ExecTimeout: time.Minute})
	ctx := context.Background()

	// Warm up so all pending commands sit on an initialized session.
	_, err := s.Exec(ctx, "true")
	require.NoError(t, err)

	const n = 3
	errc := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			_, err := s.Exec(ctx, "sleep 30")
			errc <- err
		}()
	}
	// Let the commands dispatch before tearing down.
	time.Sleep(300 * time.Millisecond)
	require.NoError(t, s.Destroy())

	for i := 0; i < n; i++ {
		select {
		case err := <-errc:
			assert.ErrorIs(t, err, ErrSessionTerminated)
		case <-time.After(5 * time.Second):
			t.Fatal("pending exec was left hanging after destroy")
		}
	}
}

func TestExecAfterDestroy(t *testing.T) {
	s := newTestSession(t, Options{})
	require.NoError(t, s.Destroy())

	_, err := s.Exec(context.Background(), "echo nope")
	assert.ErrorIs(t, err, ErrSessionTerminated)
}

func TestDestroyIdempotent(t *testing.T) {
	s := newTestSession(t, Options{})
	_, err := s.Exec(context.Background(), "true")
	require.NoError(t, err)

	require.NoError(t, s.Destroy())
	require.NoError(t, s.Destroy())
}

func TestIsolationFallsBackWithoutPrivilege(t *testing.T) {
	// Capability verdict is forced to development in newTestSession:
	// isolation is requested but cannot be granted, and commands must
	// still execute correctly in an unwrapped shell.
	s := newTestSession(t, Options{Isolate: true})
	assert.False(t, s.CanIsolate())

	res, err := s.Exec(context.Background(), "echo unwrapped")
	require.NoError(t, err)
	assert.Equal(t, "unwrapped\n", res.Stdout)
}

func TestInitializationTimeout(t *testing.T) {
	s := newTestSession(t, Options{
		InitTimeout: 300 * time.Millisecond,
		Env:         map[string]string{"TEST_SILENT_SUPERVISOR": "1"},
	})

	_, err := s.Exec(context.Background(), "echo hi")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInitTimeout)
}

func TestInitializationSupervisorExit(t *testing.T) {
	s := newTestSession(t, Options{SupervisorPath: "/bin/false"})

	_, err := s.Exec(context.Background(), "echo hi")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestExecContextCancel(t *testing.T) {
	s := newTestSession(t, Options{ExecTimeout: time.Minute})
	_, err := s.Exec(context.Background(), "true")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(200 * time.Millisecond)
		cancel()
	}()
	_, err = s.Exec(ctx, "sleep 30")
	assert.ErrorIs(t, err, context.Canceled)
}
