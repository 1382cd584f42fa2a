// Package pipe captures the output of a background process into a
// capped in-memory buffer. The write end is handed to the process as
// stdout/stderr; the read end is drained continuously so the process
// never blocks on a full pipe, and everything past the cap is dropped.
package pipe

import (
	"bytes"
	"io"
	"os"
	"sync"
)

// Buffer owns one capped capture.
type Buffer struct {
	// W is the write end to attach to the child process. The caller
	// must close it in the parent after the process starts; the
	// capture completes when the child side closes too.
	W *os.File

	max int64

	mu        sync.Mutex
	buf       bytes.Buffer
	truncated bool

	done chan struct{}
}

// NewBuffer creates a capture keeping at most max bytes.
func NewBuffer(max int64) (*Buffer, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	b := &Buffer{W: w, max: max, done: make(chan struct{})}
	go b.drain(r)
	return b, nil
}

func (b *Buffer) drain(r *os.File) {
	defer close(b.done)
	defer r.Close()

	chunk := make([]byte, 32*1024)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			b.mu.Lock()
			if keep := b.max - int64(b.buf.Len()); keep > 0 {
				if int64(n) > keep {
					b.buf.Write(chunk[:keep])
					b.truncated = true
				} else {
					b.buf.Write(chunk[:n])
				}
			} else if !b.truncated && n > 0 {
				b.truncated = true
			}
			b.mu.Unlock()
		}
		if err != nil {
			if err != io.EOF {
				// Reader errors end the capture; the child sees
				// EPIPE on its next write.
				return
			}
			return
		}
	}
}

// Done is closed once the child side of the pipe has closed and the
// capture is complete.
func (b *Buffer) Done() <-chan struct{} { return b.done }

// Bytes returns the captured output so far, up to the cap.
func (b *Buffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]byte, b.buf.Len())
	copy(out, b.buf.Bytes())
	return out
}

// Truncated reports whether output past the cap was dropped.
func (b *Buffer) Truncated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.truncated
}

func (b *Buffer) String() string {
	return string(b.Bytes())
}
