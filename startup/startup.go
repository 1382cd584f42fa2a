// Package startup waits for a marker file that signals the environment
// has finished provisioning before any command runs.
package startup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"
)

// ErrNeverReady reports that the marker never appeared within the
// attempt budget.
var ErrNeverReady = errors.New("startup marker never appeared")

// Options tune the polling loop. Zero values take the defaults.
type Options struct {
	// Initial is the first polling delay.
	Initial time.Duration
	// Factor multiplies the delay after each miss.
	Factor float64
	// Cap bounds the delay growth.
	Cap time.Duration
	// Attempts is the total number of checks before giving up.
	Attempts int
}

func (o *Options) defaults() {
	if o.Initial <= 0 {
		o.Initial = 500 * time.Millisecond
	}
	if o.Factor <= 1 {
		o.Factor = 1.3
	}
	if o.Cap <= 0 {
		o.Cap = 2 * time.Second
	}
	if o.Attempts <= 0 {
		o.Attempts = 30
	}
}

// WaitForMarker polls until path exists as a regular file, the context
// is done, or the attempt budget runs out.
func WaitForMarker(ctx context.Context, path string, opts Options) error {
	opts.defaults()

	delay := opts.Initial
	for attempt := 0; attempt < opts.Attempts; attempt++ {
		info, err := os.Stat(path)
		if err == nil && info.Mode().IsRegular() {
			return nil
		}
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("startup: stat marker: %w", err)
		}
		if attempt == opts.Attempts-1 {
			break
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay = time.Duration(float64(delay) * opts.Factor)
		if delay > opts.Cap {
			delay = opts.Cap
		}
	}
	return fmt.Errorf("startup: %w after %d attempts", ErrNeverReady, opts.Attempts)
}
