// Package monitoring carries the request-log hook and its file-backed sink.
//
// DESIGN: The gateway core depends only on the RequestLog interface; the
// process wires in the JSONL tracker, tests wire in doubles. A Completion is
// acquired at request entry and guarantees the hook fires exactly once on
// every exit path.
package monitoring

import (
	"sync"
	"time"
)

// Record describes one completed (or failed) request.
type Record struct {
	RequestID  string        `json:"request_id"`
	Timestamp  time.Time     `json:"timestamp"`
	Method     string        `json:"method"`
	Path       string        `json:"path"`
	StatusCode int           `json:"status_code"`
	Elapsed    time.Duration `json:"elapsed_ms"`
	Streamed   bool          `json:"streamed,omitempty"`
	ErrorKind  string        `json:"error_kind,omitempty"`
	Canceled   bool          `json:"canceled,omitempty"`
}

// RequestLog receives one Record per request. Implementations must not
// block the response path; failures are theirs to swallow.
type RequestLog interface {
	Log(Record)
}

// NopLog discards all records.
type NopLog struct{}

func (NopLog) Log(Record) {}

// Completion fires the request-log hook exactly once, no matter how many
// exit paths reach it.
type Completion struct {
	sink  RequestLog
	rec   Record
	start time.Time
	once  sync.Once
}

// NewCompletion acquires the per-request completion tracker.
func NewCompletion(sink RequestLog, requestID, method, path string) *Completion {
	now := time.Now()
	return &Completion{
		sink:  sink,
		start: now,
		rec: Record{
			RequestID: requestID,
			Timestamp: now,
			Method:    method,
			Path:      path,
		},
	}
}

// SetStreamed marks the request as having taken the streaming path.
func (c *Completion) SetStreamed() { c.rec.Streamed = true }

// SetErrorKind records the error taxonomy kind the client saw.
func (c *Completion) SetErrorKind(kind string) { c.rec.ErrorKind = kind }

// SetCanceled marks the request as abandoned by the client.
func (c *Completion) SetCanceled() { c.rec.Canceled = true }

// Fire invokes the hook with the final response status. Subsequent calls
// are no-ops.
func (c *Completion) Fire(statusCode int) {
	c.once.Do(func() {
		c.rec.StatusCode = statusCode
		c.rec.Elapsed = time.Since(c.start)
		c.sink.Log(c.rec)
	})
}
