// Telemetry batch sink.
package monitoring

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// EventSink receives telemetry batches from the event-logging route.
type EventSink interface {
	Publish(ctx context.Context, batch []byte) error
}

// NopEventSink acknowledges and drops batches.
type NopEventSink struct{}

func (NopEventSink) Publish(context.Context, []byte) error { return nil }

// HTTPEventSink forwards batches to a collector endpoint.
type HTTPEventSink struct {
	url  string
	http *http.Client
}

// NewHTTPEventSink creates a sink posting to url.
func NewHTTPEventSink(url string) *HTTPEventSink {
	return &HTTPEventSink{
		url:  url,
		http: &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *HTTPEventSink) Publish(ctx context.Context, batch []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(batch))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if resp.StatusCode >= 400 {
		return fmt.Errorf("event sink returned status %d", resp.StatusCode)
	}
	return nil
}
