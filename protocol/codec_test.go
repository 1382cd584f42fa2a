package protocol

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)

	require.NoError(t, enc.Send(Exec("a1", "echo hello")))
	require.NoError(t, enc.Send(Result("a1", "hello\n", "", 0)))
	require.NoError(t, enc.Send(Error("a2", "shell is not alive")))

	dec := NewDecoder(&buf)

	m, err := dec.Next()
	require.NoError(t, err)
	assert.Equal(t, KindExec, m.Type)
	assert.Equal(t, "a1", m.ID)
	assert.Equal(t, "echo hello", m.Command)
	assert.Nil(t, m.ExitCode)

	m, err = dec.Next()
	require.NoError(t, err)
	assert.Equal(t, KindResult, m.Type)
	assert.Equal(t, "hello\n", m.Stdout)
	require.NotNil(t, m.ExitCode)
	assert.Equal(t, 0, *m.ExitCode)

	m, err = dec.Next()
	require.NoError(t, err)
	assert.Equal(t, KindError, m.Type)
	assert.Equal(t, "shell is not alive", m.Error)

	_, err = dec.Next()
	assert.Equal(t, io.EOF, err)
}

// chunkReader returns at most one byte per Read to exercise partial-line
// buffering in the decoder.
type chunkReader struct {
	data []byte
}

func (c *chunkReader) Read(p []byte) (int, error) {
	if len(c.data) == 0 {
		return 0, io.EOF
	}
	p[0] = c.data[0]
	c.data = c.data[1:]
	return 1, nil
}

func TestDecoderPartialReads(t *testing.T) {
	wire := `{"type":"ready","id":"init"}` + "\n" +
		`{"type":"result","id":"x","stdout":"a","stderr":"b","exitCode":7}` + "\n"
	dec := NewDecoder(&chunkReader{data: []byte(wire)})

	m, err := dec.Next()
	require.NoError(t, err)
	assert.Equal(t, KindReady, m.Type)
	assert.Equal(t, ReadyID, m.ID)

	m, err = dec.Next()
	require.NoError(t, err)
	require.NotNil(t, m.ExitCode)
	assert.Equal(t, 7, *m.ExitCode)
}

func TestDecoderSkipsBlankLines(t *testing.T) {
	dec := NewDecoder(strings.NewReader("\n\n" + `{"type":"exit","id":"z"}` + "\n"))
	m, err := dec.Next()
	require.NoError(t, err)
	assert.Equal(t, KindExit, m.Type)
}

func TestDecoderTruncatedFrame(t *testing.T) {
	dec := NewDecoder(strings.NewReader(`{"type":"ready"`))
	_, err := dec.Next()
	require.Error(t, err)
	assert.NotEqual(t, io.EOF, err)
}

func TestDecoderMalformedFrame(t *testing.T) {
	dec := NewDecoder(strings.NewReader("not json\n"))
	_, err := dec.Next()
	require.Error(t, err)
}

func TestExecFrameOmitsResultFields(t *testing.T) {
	buf, err := json.Marshal(Exec("id1", "ls"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"exec","id":"id1","command":"ls"}`, string(buf))
}

func TestResultFrameKeepsZeroExit(t *testing.T) {
	buf, err := json.Marshal(Result("id1", "", "", 0))
	require.NoError(t, err)
	assert.Contains(t, string(buf), `"exitCode":0`)
}

func TestEncoderConcurrentSends(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = enc.Send(Exec("id", strings.Repeat("x", 256)))
		}()
	}
	wg.Wait()

	dec := NewDecoder(&buf)
	for i := 0; i < 32; i++ {
		m, err := dec.Next()
		require.NoError(t, err)
		assert.Equal(t, KindExec, m.Type)
		assert.Len(t, m.Command, 256)
	}
}
