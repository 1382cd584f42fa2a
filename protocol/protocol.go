// Package protocol defines the control messages exchanged between a host
// session and its supervisor process, framed as one JSON object per line
// over the supervisor's stdio.
//
// Host to supervisor:
//
//   - exec: {"type":"exec","id":...,"command":...}
//   - exit: {"type":"exit","id":...}
//
// Supervisor to host:
//
//   - ready:  {"type":"ready","id":"init"} — sent exactly once, after the
//     shell child is spawned and before any exec is accepted
//   - result: {"type":"result","id":...,"stdout":...,"stderr":...,"exitCode":...}
//   - error:  {"type":"error","id":...,"error":...}
//
// Every request carries a caller-generated id; a response for that id is
// delivered at most once and may race a host-side timeout, so the host
// drops late responses for ids it no longer tracks.
package protocol

// Message kinds.
const (
	KindExec   = "exec"
	KindExit   = "exit"
	KindReady  = "ready"
	KindResult = "result"
	KindError  = "error"
)

// ReadyID is the fixed correlation id of the readiness handshake.
const ReadyID = "init"

// Message is a single control-channel frame. Fields beyond Type and ID
// are populated per kind.
type Message struct {
	Type    string `json:"type"`
	ID      string `json:"id"`
	Command string `json:"command,omitempty"`
	Stdout  string `json:"stdout,omitempty"`
	Stderr  string `json:"stderr,omitempty"`
	// ExitCode is a pointer so an exec frame omits it while a result
	// frame carries an explicit 0.
	ExitCode *int   `json:"exitCode,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Exec builds an exec request frame.
func Exec(id, command string) Message {
	return Message{Type: KindExec, ID: id, Command: command}
}

// Exit builds an exit request frame.
func Exit(id string) Message {
	return Message{Type: KindExit, ID: id}
}

// Ready builds the readiness handshake frame.
func Ready() Message {
	return Message{Type: KindReady, ID: ReadyID}
}

// Result builds a result frame for a completed command.
func Result(id, stdout, stderr string, exitCode int) Message {
	return Message{Type: KindResult, ID: id, Stdout: stdout, Stderr: stderr, ExitCode: &exitCode}
}

// Error builds a protocol-level error frame.
func Error(id, msg string) Message {
	return Message{Type: KindError, ID: id, Error: msg}
}
