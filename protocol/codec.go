package protocol

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// Encoder writes newline-delimited messages. Send is safe for concurrent
// use; a frame is written and flushed as one unit so concurrent execs
// never interleave bytes of two messages on the channel.
type Encoder struct {
	mu sync.Mutex
	w  *bufio.Writer
}

// NewEncoder wraps w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: bufio.NewWriter(w)}
}

// Send marshals m and writes it as a single line.
func (e *Encoder) Send(m Message) error {
	buf, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("protocol: encode %s frame: %w", m.Type, err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.w.Write(buf); err != nil {
		return fmt.Errorf("protocol: write frame: %w", err)
	}
	if err := e.w.WriteByte('\n'); err != nil {
		return fmt.Errorf("protocol: write frame: %w", err)
	}
	if err := e.w.Flush(); err != nil {
		return fmt.Errorf("protocol: flush frame: %w", err)
	}
	return nil
}

// Decoder reads newline-delimited messages. A read chunk is not
// guaranteed to align with message boundaries, so partial lines are
// buffered until the terminating newline arrives.
type Decoder struct {
	r *bufio.Reader
}

// NewDecoder wraps r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReader(r)}
}

// Next returns the next complete frame. Blank lines are skipped. It
// returns io.EOF when the channel closes cleanly between frames, and an
// error for a truncated or malformed frame.
func (d *Decoder) Next() (*Message, error) {
	for {
		line, err := d.r.ReadBytes('\n')
		if err != nil {
			if err == io.EOF && len(bytes.TrimSpace(line)) > 0 {
				return nil, fmt.Errorf("protocol: truncated frame %q", line)
			}
			return nil, err
		}
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		m := new(Message)
		if err := json.Unmarshal(line, m); err != nil {
			return nil, fmt.Errorf("protocol: decode frame: %w", err)
		}
		return m, nil
	}
}
