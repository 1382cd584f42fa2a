package supervisor

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

// Temp artifact name prefixes. The reaper's pattern match depends on
// this convention, so it is part of the external interface.
const (
	prefixCmd  = "cmd_"
	prefixOut  = "out_"
	prefixErr  = "err_"
	prefixExit = "exit_"
)

// Completion token delimiters. The token is the only thing the
// supervisor looks for on the shell's stdout; command output itself goes
// to files so binary or huge output can never corrupt detection.
const (
	tokenPrefix = "__CMD_DONE_"
	tokenSuffix = "__"
)

func completionToken(id string) string {
	return tokenPrefix + id + tokenSuffix
}

// parseToken extracts the request id from a completion token line, or
// returns false for any other shell stdout noise.
func parseToken(line string) (string, bool) {
	line = strings.TrimSpace(line)
	if len(line) < len(tokenPrefix)+len(tokenSuffix) ||
		!strings.HasPrefix(line, tokenPrefix) || !strings.HasSuffix(line, tokenSuffix) {
		return "", false
	}
	id := line[len(tokenPrefix) : len(line)-len(tokenSuffix)]
	if id == "" {
		return "", false
	}
	return id, true
}

// inflight is a dispatched command awaiting its completion token. The
// processed flag is the race guard: the token observation and the
// timeout can both fire, and only the first transition may act.
type inflight struct {
	id        string
	cmdFile   string
	outFile   string
	errFile   string
	exitFile  string
	timer     *time.Timer
	processed atomic.Bool
}

func newInflight(tempDir, id string) *inflight {
	return &inflight{
		id:       id,
		cmdFile:  filepath.Join(tempDir, prefixCmd+id),
		outFile:  filepath.Join(tempDir, prefixOut+id),
		errFile:  filepath.Join(tempDir, prefixErr+id),
		exitFile: filepath.Join(tempDir, prefixExit+id),
	}
}

func (c *inflight) files() []string {
	return []string{c.cmdFile, c.outFile, c.errFile, c.exitFile}
}

// claim marks the command processed. Only the first caller wins;
// cleanup and response emission happen exactly once.
func (c *inflight) claim() bool {
	return c.processed.CompareAndSwap(false, true)
}

// collect reads the three result files after the completion token was
// observed.
func (c *inflight) collect() (stdout, stderr string, exitCode int, err error) {
	outBytes, err := os.ReadFile(c.outFile)
	if err != nil {
		return "", "", 0, fmt.Errorf("read stdout file: %w", err)
	}
	errBytes, err := os.ReadFile(c.errFile)
	if err != nil {
		return "", "", 0, fmt.Errorf("read stderr file: %w", err)
	}
	exitBytes, err := os.ReadFile(c.exitFile)
	if err != nil {
		return "", "", 0, fmt.Errorf("read exit status file: %w", err)
	}
	exitCode, err = strconv.Atoi(strings.TrimSpace(string(exitBytes)))
	if err != nil {
		return "", "", 0, fmt.Errorf("parse exit status %q: %w", exitBytes, err)
	}
	return string(outBytes), string(errBytes), exitCode, nil
}

// remove deletes the four temp artifacts.
func (c *inflight) remove() {
	for _, f := range c.files() {
		os.Remove(f)
	}
}
