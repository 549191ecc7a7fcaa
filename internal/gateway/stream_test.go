package gateway

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gatedWriter is a ResponseWriter whose Write blocks until the test opens
// the gate, simulating a slow client socket.
type gatedWriter struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	gate   chan struct{}
	writes atomic.Int64
}

func newGatedWriter() *gatedWriter {
	return &gatedWriter{gate: make(chan struct{})}
}

func (w *gatedWriter) Header() http.Header { return http.Header{} }
func (w *gatedWriter) WriteHeader(int)     {}
func (w *gatedWriter) Flush()              {}

func (w *gatedWriter) Write(p []byte) (int, error) {
	<-w.gate
	w.mu.Lock()
	defer w.mu.Unlock()
	w.writes.Add(1)
	return w.buf.Write(p)
}

func (w *gatedWriter) contents() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.String()
}

func TestPumpStream_Backpressure(t *testing.T) {
	const frames = 50

	pr, pw := io.Pipe()
	var produced atomic.Int64

	go func() {
		for i := 0; i < frames; i++ {
			frame := fmt.Sprintf("data: {\"id\":\"c%d\",\"choices\":[{\"delta\":{\"content\":\"chunk %d\"},\"finish_reason\":null}]}\n\n", i, i)
			if _, err := pw.Write([]byte(frame)); err != nil {
				return
			}
			produced.Add(1)
		}
		pw.Write([]byte("data: [DONE]\n\n"))
		pw.Close()
	}()

	w := newGatedWriter()
	done := make(chan struct{})
	go func() {
		defer close(done)
		pumpStream(w, pr, "test-model")
	}()

	// With the client stalled, the upstream read side must stall too:
	// in-flight buffering for the request stays bounded instead of the
	// producer running ahead of the consumer.
	time.Sleep(200 * time.Millisecond)
	assert.LessOrEqual(t, produced.Load(), int64(5),
		"upstream produced %d frames while the client was stalled", produced.Load())

	// Release the client; everything drains in order.
	close(w.gate)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("pump did not finish after the client was released")
	}
	assert.EqualValues(t, frames, produced.Load())

	events := parseEvents(t, w.contents())
	var texts []string
	for _, ev := range events {
		if ev.Type == "content_block_delta" {
			texts = append(texts, ev.Data["delta"].(map[string]any)["text"].(string))
		}
	}
	require.Len(t, texts, frames)
	for i, text := range texts {
		assert.Equal(t, fmt.Sprintf("chunk %d", i), text)
	}
}

func TestPumpStream_EmptyUpstream(t *testing.T) {
	rec := newRecordingWriter()
	_, err := pumpStream(rec, strings.NewReader("data: [DONE]\n\n"), "m")
	require.NoError(t, err)

	events := parseEvents(t, rec.buf.String())
	types := make([]string, len(events))
	for i, ev := range events {
		types[i] = ev.Type
	}
	// A producing-nothing upstream still yields a complete message.
	assert.Equal(t, []string{
		"message_start",
		"content_block_start",
		"content_block_stop",
		"message_delta",
		"message_stop",
	}, types)
}

func TestPumpStream_IgnoresNoise(t *testing.T) {
	input := strings.Join([]string{
		": keepalive comment",
		"",
		"data: not-json",
		`data: {"id":"c1","choices":[{"delta":{"content":"ok"},"finish_reason":"stop"}]}`,
		"data: [DONE]",
		"",
	}, "\n")

	rec := newRecordingWriter()
	_, err := pumpStream(rec, strings.NewReader(input), "m")
	require.NoError(t, err)

	events := parseEvents(t, rec.buf.String())
	var texts []string
	for _, ev := range events {
		if ev.Type == "content_block_delta" {
			texts = append(texts, ev.Data["delta"].(map[string]any)["text"].(string))
		}
	}
	assert.Equal(t, []string{"ok"}, texts)
}

func TestPumpStream_ReadError(t *testing.T) {
	rec := newRecordingWriter()
	upstream := io.MultiReader(
		strings.NewReader(`data: {"id":"c1","choices":[{"delta":{"content":"partial"},"finish_reason":null}]}`+"\n\n"),
		&failingReader{},
	)
	_, err := pumpStream(rec, upstream, "m")
	require.Error(t, err)

	events := parseEvents(t, rec.buf.String())
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, "error", last.Type)
}

// recordingWriter is an unblocked in-memory ResponseWriter with Flusher.
type recordingWriter struct {
	buf bytes.Buffer
}

func newRecordingWriter() *recordingWriter { return &recordingWriter{} }

func (w *recordingWriter) Header() http.Header         { return http.Header{} }
func (w *recordingWriter) WriteHeader(int)             {}
func (w *recordingWriter) Flush()                      {}
func (w *recordingWriter) Write(p []byte) (int, error) { return w.buf.Write(p) }

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, io.ErrUnexpectedEOF }
