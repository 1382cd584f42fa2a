package routing

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecide(t *testing.T) {
	tests := []struct {
		command string
		context string
		want    bool
	}{
		{"claude deploy", "ctx-1", true},
		{"CLAUDE deploy", "ctx-1", true},
		{"gemini chat", "ctx-1", true},
		{"run-gpt4 --prompt hi", "ctx-1", true},
		{"copilot suggest", "ctx-1", true},
		{"ollama run llm", "ctx-1", true},
		{"node app.js", "ctx-1", false},
		{"ls -la", "ctx-1", false},
		// No child context configured: never route.
		{"claude deploy", "", false},
		{"", "ctx-1", false},
		// Known fragility of the substring heuristic.
		{"tail -f /var/log/mail.log", "ctx-1", true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Decide(tt.command, tt.context), "%q / %q", tt.command, tt.context)
	}
}

func TestEnv(t *testing.T) {
	env := Env("agent-ctx", "/usr/lib/universal_router.so")
	assert.Equal(t, []string{
		"SANDBOX_ROUTE_TO_CONTEXT=agent-ctx",
		"LD_PRELOAD=/usr/lib/universal_router.so",
	}, env)
}

func TestWrap(t *testing.T) {
	got := Wrap("claude 'do it'", "ctx", "/lib/r.so")
	assert.Equal(t,
		`env SANDBOX_ROUTE_TO_CONTEXT='ctx' LD_PRELOAD='/lib/r.so' /bin/sh -c 'claude '\''do it'\'''`,
		got)
}

func TestQuote(t *testing.T) {
	assert.Equal(t, `'plain'`, quote("plain"))
	assert.Equal(t, `'a'\''b'`, quote("a'b"))
}
