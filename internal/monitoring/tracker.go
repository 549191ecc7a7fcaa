// JSONL request-log tracker.
package monitoring

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
)

// TrackerConfig configures the file-backed request log.
type TrackerConfig struct {
	Enabled     bool
	LogPath     string // JSONL file, one record per line
	LogToStdout bool   // also emit records through zerolog
}

// Tracker appends request records to a JSONL file. Writes happen on a
// dedicated goroutine so the response path never waits on disk; Close
// drains buffered records before returning.
type Tracker struct {
	cfg  TrackerConfig
	file *os.File

	mu     sync.RWMutex
	ch     chan Record
	done   chan struct{}
	closed bool
	once   sync.Once
}

// jsonRecord is the on-disk shape; Elapsed is flattened to milliseconds.
type jsonRecord struct {
	Record
	ElapsedMs int64 `json:"elapsed_ms"`
}

// NewTracker opens the log file and starts the writer goroutine.
func NewTracker(cfg TrackerConfig) (*Tracker, error) {
	t := &Tracker{
		cfg:  cfg,
		ch:   make(chan Record, 256),
		done: make(chan struct{}),
	}
	if !cfg.Enabled {
		close(t.done)
		return t, nil
	}
	if cfg.LogPath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.LogPath), 0o755); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
		f, err := os.OpenFile(cfg.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open request log: %w", err)
		}
		t.file = f
	}
	go t.run()
	return t, nil
}

// Log implements RequestLog. Drops the record rather than blocking when the
// buffer is full or the tracker is closed.
func (t *Tracker) Log(rec Record) {
	if !t.cfg.Enabled {
		return
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return
	}
	select {
	case t.ch <- rec:
	default:
		log.Debug().Str("request_id", rec.RequestID).Msg("request log buffer full, record dropped")
	}
}

func (t *Tracker) run() {
	defer close(t.done)
	for rec := range t.ch {
		t.write(rec)
	}
}

func (t *Tracker) write(rec Record) {
	if t.cfg.LogToStdout {
		log.Info().
			Str("request_id", rec.RequestID).
			Str("method", rec.Method).
			Str("path", rec.Path).
			Int("status", rec.StatusCode).
			Dur("elapsed", rec.Elapsed).
			Bool("streamed", rec.Streamed).
			Msg("request completed")
	}
	if t.file == nil {
		return
	}
	line, err := json.Marshal(jsonRecord{Record: rec, ElapsedMs: rec.Elapsed.Milliseconds()})
	if err != nil {
		return
	}
	if _, err := t.file.Write(append(line, '\n')); err != nil {
		log.Debug().Err(err).Msg("request log write failed")
	}
}

// Close drains buffered records and closes the file. In-flight work must
// finish logging before process shutdown completes, so callers Close the
// tracker after the HTTP server has drained.
func (t *Tracker) Close() {
	t.once.Do(func() {
		t.mu.Lock()
		t.closed = true
		t.mu.Unlock()
		if t.cfg.Enabled {
			close(t.ch)
			<-t.done
		}
		if t.file != nil {
			t.file.Close()
		}
	})
}
