// Package gateway implements the protocol-translating messages gateway.
//
// DESIGN: Expose the Anthropic Messages API surface, forward to an
// OpenAI-compatible backend:
//  1. Receive request from client (Claude Code, SDKs, curl)
//  2. Dispatch through the route table (exact paths beat prefixes)
//  3. Translate the Messages request to the upstream chat shape
//  4. Call upstream, unary or streamed, no retries
//  5. Re-emit the response in the Messages shape, streaming as SSE events
//  6. Fire the request-log hook exactly once per request
//
// FILES: gateway.go (init), routes.go (dispatch), handler.go (HTTP),
// stream.go (event pump), errors.go (envelope)
package gateway

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/msgrelay/messages-gateway/internal/config"
	"github.com/msgrelay/messages-gateway/internal/monitoring"
	"github.com/msgrelay/messages-gateway/internal/upstream"
)

// Version is stamped by the build; the default marks dev builds.
var Version = "dev"

// Gateway is the protocol-translating HTTP gateway.
type Gateway struct {
	config     *config.Config
	routes     *routeTable
	upstream   *upstream.Client
	requestLog monitoring.RequestLog
	eventSink  monitoring.EventSink
	server     *http.Server
	started    time.Time
}

// Option overrides a collaborator, mainly for tests.
type Option func(*Gateway)

// WithRequestLog substitutes the request-log sink.
func WithRequestLog(sink monitoring.RequestLog) Option {
	return func(g *Gateway) { g.requestLog = sink }
}

// WithEventSink substitutes the telemetry batch sink.
func WithEventSink(sink monitoring.EventSink) Option {
	return func(g *Gateway) { g.eventSink = sink }
}

// WithUpstream substitutes the upstream client.
func WithUpstream(c *upstream.Client) Option {
	return func(g *Gateway) { g.upstream = c }
}

// New creates a gateway from an immutable configuration.
func New(cfg *config.Config, opts ...Option) (*Gateway, error) {
	g := &Gateway{
		config:     cfg,
		upstream:   upstream.New(cfg.Upstream.Endpoint, cfg.Upstream.APIKey, cfg.Upstream.Timeout),
		requestLog: monitoring.NopLog{},
		eventSink:  monitoring.NopEventSink{},
		started:    time.Now(),
	}
	for _, opt := range opts {
		opt(g)
	}

	routes, err := newRouteTable([]route{
		{method: http.MethodGet, pattern: "/health", handler: g.handleHealth},
		{method: http.MethodPost, pattern: "/", handler: g.handleHeartbeat},
		{method: http.MethodPost, pattern: "/v1/messages", handler: g.handleMessages},
		{method: http.MethodPost, pattern: "/v1/messages/count_tokens", handler: g.handleCountTokens},
		{method: http.MethodPost, pattern: "/api/event_logging/batch", handler: g.handleEventBatch},
	})
	if err != nil {
		return nil, err
	}
	g.routes = routes

	// The write timeout caps the whole response, streamed events included,
	// so the default leaves room for long generations.
	writeTimeout := cfg.Server.WriteTimeout
	if writeTimeout == 0 {
		writeTimeout = 10 * time.Minute
	}
	g.server = &http.Server{
		Addr:           fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:        g,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   writeTimeout,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	return g, nil
}

// Start blocks serving HTTP until Shutdown.
func (g *Gateway) Start() error {
	log.Info().Int("port", g.config.Server.Port).Str("upstream", g.config.Upstream.Endpoint).Msg("gateway starting")
	return g.server.ListenAndServe()
}

// Handler returns the HTTP handler for testing purposes.
func (g *Gateway) Handler() http.Handler {
	return g
}

// Shutdown drains in-flight requests.
func (g *Gateway) Shutdown(ctx context.Context) error {
	log.Info().Msg("gateway shutting down")
	return g.server.Shutdown(ctx)
}
