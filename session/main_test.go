package session

import (
	"io"
	"os"
	"testing"

	"github.com/ghostwriternr/sandbox-sdk-sub001/supervisor"
)

// The test binary doubles as the supervisor executable: a Session's
// default SupervisorPath is the current executable, re-invoked with a
// "supervisor" first argument.
func TestMain(m *testing.M) {
	if len(os.Args) > 1 && os.Args[1] == "supervisor" {
		if os.Getenv("TEST_SILENT_SUPERVISOR") == "1" {
			// Never send ready; exercises the handshake timeout.
			// Block on stdin rather than select{}: with no other
			// goroutines the runtime's deadlock detector would kill
			// the process instead of leaving it silent.
			_, _ = io.Copy(io.Discard, os.Stdin)
			os.Exit(0)
		}
		os.Exit(supervisor.Main(os.Args[2:]))
	}
	os.Exit(m.Run())
}
