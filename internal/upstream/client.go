// Package upstream issues translated calls to the backend.
//
// DESIGN: One Call per inbound request, no sharing across requests. The
// caller's context cancels the in-flight call; the configured per-call
// timeout bounds the whole exchange including the streamed body. Failures
// are classified, never retried.
package upstream

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

const maxErrorBodyLen = 500

// Client calls the configured backend endpoint.
type Client struct {
	endpoint string
	apiKey   string
	timeout  time.Duration // 0 = no deadline, explicit opt-in
	http     *http.Client
}

// New creates an upstream client for one backend endpoint.
func New(endpoint, apiKey string, timeout time.Duration) *Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 20,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		DisableCompression:  true, // gzip buffering would stall SSE
	}
	return &Client{
		endpoint: endpoint,
		apiKey:   apiKey,
		timeout:  timeout,
		http:     &http.Client{Transport: transport}, // deadline via context, not client
	}
}

// Response is the upstream reply. Body must be consumed and closed by the
// caller exactly once; Close also releases the per-call deadline.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}

// forwardedHeaders are the inbound headers passed through to the backend.
var forwardedHeaders = []string{"Authorization", "x-api-key", "api-key"}

// Call sends the translated body to the backend. Both unary and streamed
// responses come back through the returned Response; for streams the body
// delivers chunks as the backend produces them.
func (c *Client) Call(ctx context.Context, body []byte, inbound http.Header) (*Response, error) {
	cancel := func() {}
	if c.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	for _, h := range forwardedHeaders {
		if v := inbound.Get(h); v != "" {
			req.Header.Set(h, v)
		}
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		cancel()
		log.Debug().Err(err).Str("endpoint", c.endpoint).Msg("upstream request failed")
		return nil, err
	}

	if resp.StatusCode >= 400 {
		// Error bodies are small; read them up front for logging.
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyLen))
		resp.Body.Close()
		log.Warn().
			Int("status", resp.StatusCode).
			Str("endpoint", c.endpoint).
			Str("response", string(errBody)).
			Msg("upstream error response")
		resp.Body = io.NopCloser(bytes.NewReader(errBody))
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       &cancelOnClose{ReadCloser: resp.Body, cancel: cancel},
	}, nil
}

// cancelOnClose ties the per-call deadline to the body lifetime.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

// IsTimeout reports whether err is a backend deadline failure rather than a
// connection or protocol failure.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// IsCanceled reports whether err comes from the caller abandoning the
// request (client connection closed).
func IsCanceled(err error) bool {
	return errors.Is(err, context.Canceled)
}
