package executor

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ghostwriternr/sandbox-sdk-sub001/session"
)

func requireBash(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("bash"); err != nil {
		t.Skip("bash not available")
	}
}

func TestDirectExec(t *testing.T) {
	requireBash(t)
	d := &Direct{Shell: "bash"}

	res, err := d.Exec(context.Background(), "echo hello; echo oops >&2")
	require.NoError(t, err)
	assert.Equal(t, "hello\n", res.Stdout)
	assert.Equal(t, "oops\n", res.Stderr)
	assert.Equal(t, 0, res.ExitCode)
}

func TestDirectExecNonzeroExit(t *testing.T) {
	requireBash(t)
	d := &Direct{Shell: "bash"}

	res, err := d.Exec(context.Background(), "exit 7")
	require.NoError(t, err, "nonzero exit is a result, not an error")
	assert.Equal(t, 7, res.ExitCode)
}

func TestDirectExecNoStatePersistence(t *testing.T) {
	requireBash(t)
	d := &Direct{Shell: "bash"}
	ctx := context.Background()

	_, err := d.Exec(ctx, "export DIRECT_MARKER=set")
	require.NoError(t, err)

	res, err := d.Exec(ctx, "echo ${DIRECT_MARKER:-unset}")
	require.NoError(t, err)
	assert.Equal(t, "unset\n", res.Stdout, "each direct command gets a fresh shell")
}

func TestDirectExecTimeout(t *testing.T) {
	requireBash(t)
	d := &Direct{Shell: "bash", Timeout: 200 * time.Millisecond}

	_, err := d.Exec(context.Background(), "sleep 5")
	require.Error(t, err)
	assert.ErrorIs(t, err, session.ErrExecTimeout)
}

func TestDirectBackgroundProcess(t *testing.T) {
	requireBash(t)
	d := &Direct{Shell: "bash"}

	p, err := d.StartBackgroundProcess(context.Background(), "echo from-background")
	require.NoError(t, err)
	assert.Greater(t, p.Pid(), 0)

	code, err := p.Wait()
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Equal(t, "from-background\n", string(p.Output()))
	assert.False(t, p.OutputTruncated())
}

func TestDirectBackgroundProcessKill(t *testing.T) {
	requireBash(t)
	d := &Direct{Shell: "bash"}

	p, err := d.StartBackgroundProcess(context.Background(), "sleep 30")
	require.NoError(t, err)
	require.NoError(t, p.Kill())

	code, err := p.Wait()
	require.NoError(t, err)
	assert.NotEqual(t, 0, code)
}

func TestDirectBackgroundCaptureCap(t *testing.T) {
	requireBash(t)
	d := &Direct{Shell: "bash", MaxCapture: 16}

	p, err := d.StartBackgroundProcess(context.Background(), "head -c 100000 /dev/zero")
	require.NoError(t, err)
	_, err = p.Wait()
	require.NoError(t, err)
	assert.Len(t, p.Output(), 16)
	assert.True(t, p.OutputTruncated())
}

func TestDirectStreamOutput(t *testing.T) {
	requireBash(t)
	d := &Direct{Shell: "bash"}

	var buf bytes.Buffer
	code, err := d.StreamOutput(context.Background(), "echo streamed; exit 5", &buf)
	require.NoError(t, err)
	assert.Equal(t, 5, code)
	assert.Contains(t, buf.String(), "streamed")
}

func TestArgvExec(t *testing.T) {
	a := &Argv{}

	res, err := a.Exec(context.Background(), "echo plain words")
	require.NoError(t, err)
	assert.Equal(t, "plain words\n", res.Stdout)
}

func TestArgvRejectsShellSyntax(t *testing.T) {
	a := &Argv{}
	for _, cmd := range []string{
		"echo hi | cat",
		"echo $HOME",
		"ls > /tmp/out",
		"true && false",
		"echo 'quoted'",
	} {
		_, err := a.Exec(context.Background(), cmd)
		assert.ErrorIs(t, err, ErrShellSyntax, cmd)
	}
}

func TestArgvRejectsEmpty(t *testing.T) {
	a := &Argv{}
	_, err := a.Exec(context.Background(), "   ")
	require.Error(t, err)
}

func TestNewStrategySelection(t *testing.T) {
	mgr := session.NewManager(session.Options{})

	e, err := New(StrategySession, "work", Direct{}, mgr)
	require.NoError(t, err)
	ss, ok := e.(*sessionStrategy)
	require.True(t, ok)
	assert.Equal(t, "work", ss.name)

	e, err = New(StrategyDirect, "", Direct{Shell: "bash"}, nil)
	require.NoError(t, err)
	_, ok = e.(*Direct)
	assert.True(t, ok)

	e, err = New(StrategyArgv, "", Direct{}, nil)
	require.NoError(t, err)
	_, ok = e.(*Argv)
	assert.True(t, ok)

	_, err = New("bogus", "", Direct{}, nil)
	require.Error(t, err)

	_, err = New(StrategySession, "", Direct{}, nil)
	require.Error(t, err)
}

func TestRoutingEnvInjection(t *testing.T) {
	requireBash(t)
	d := &Direct{
		Shell:          "bash",
		ChildContext:   "agent-ctx",
		PreloadLibrary: "/does/not/matter.so",
	}

	// An agent-like command sees the routing variables.
	res, err := d.Exec(context.Background(), "claude() { echo $SANDBOX_ROUTE_TO_CONTEXT; }; claude")
	require.NoError(t, err)
	assert.Equal(t, "agent-ctx\n", res.Stdout)

	// A non-agent command does not.
	res, err = d.Exec(context.Background(), "printenv SANDBOX_ROUTE_TO_CONTEXT; true")
	require.NoError(t, err)
	assert.Equal(t, "", strings.TrimSpace(res.Stdout))
}
