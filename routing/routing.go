// Package routing decides whether a command's onward process creation
// should be transparently redirected into a different execution context
// by the preload interceptor library. The session layer's only
// responsibility at this boundary is setting two environment variables;
// the interception itself happens outside this repository.
package routing

import "strings"

// Environment variables consumed by the interceptor. It strips both
// from forwarded environments to prevent recursive routing.
const (
	EnvRouteToContext = "SANDBOX_ROUTE_TO_CONTEXT"
	EnvPreload        = "LD_PRELOAD"
)

// AgentVocabulary is the heuristic allow-list of interactive-agent
// invocation names, matched case-insensitively as substrings. It is a
// placeholder policy, not a security boundary: "ai" also matches
// unrelated commands containing those letters.
var AgentVocabulary = []string{"claude", "gemini", "gpt", "copilot", "ai", "llm"}

// Decide reports whether the command should be routed: true iff a child
// execution context is configured and the command text matches the
// agent vocabulary.
func Decide(command, childContext string) bool {
	if childContext == "" || command == "" {
		return false
	}
	lower := strings.ToLower(command)
	for _, word := range AgentVocabulary {
		if strings.Contains(lower, word) {
			return true
		}
	}
	return false
}

// Env returns the two activation variables for a spawned process's
// environment.
func Env(childContext, libPath string) []string {
	return []string{
		EnvRouteToContext + "=" + childContext,
		EnvPreload + "=" + libPath,
	}
}

// Wrap rewrites a shell command so only that invocation (and its
// descendants) sees the activation variables, leaving the session
// shell's own state untouched.
func Wrap(command, childContext, libPath string) string {
	return "env " + EnvRouteToContext + "=" + quote(childContext) +
		" " + EnvPreload + "=" + quote(libPath) +
		" /bin/sh -c " + quote(command)
}

// quote single-quotes s for the shell.
func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
