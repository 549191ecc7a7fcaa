// HTTP request handling for the messages gateway.
//
// DESIGN: Main request flow:
//   - ServeHTTP():          dispatch through the route table, acquire the
//     per-request completion tracker, fire the request-log hook on exit
//   - handleMessages():     translate -> call upstream -> buffer or stream
//   - handleStreaming():    SSE pump in the Messages event format
//
// Also includes health check, heartbeat, the count_tokens stub, and the
// telemetry batch passthrough.
package gateway

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/msgrelay/messages-gateway/internal/monitoring"
	"github.com/msgrelay/messages-gateway/internal/translate"
	"github.com/msgrelay/messages-gateway/internal/upstream"
)

const (
	MaxRequestBodySize = 50 * 1024 * 1024
	HeaderRequestID    = "X-Request-ID"

	// statusClientClosed records a client that went away before a status
	// could be written. Never sent on the wire.
	statusClientClosed = 499

	countTokensMessage = "The /v1/messages/count_tokens endpoint is not implemented."
)

// ServeHTTP dispatches through the route table. Every request, matched or
// not, acquires a completion tracker at entry; the deferred Fire guarantees
// the request-log hook runs exactly once after the final byte, on success
// and on every failure branch.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c := monitoring.NewCompletion(g.requestLog, g.requestID(r), r.Method, r.URL.Path)
	rec := &statusRecorder{ResponseWriter: w}
	defer func() {
		status := rec.status
		if status == 0 {
			if r.Context().Err() != nil {
				c.SetCanceled()
				status = statusClientClosed
			} else {
				status = http.StatusOK
			}
		}
		c.Fire(status)
	}()

	handler := g.routes.match(r.Method, r.URL.Path)
	if handler == nil {
		g.writeError(rec, c, ErrNotFound, "Unknown endpoint")
		return
	}
	handler(rec, r, c)
}

// writeError is the gateway-internal error path: records the kind on the
// completion tracker, then emits the canonical envelope.
func (g *Gateway) writeError(w http.ResponseWriter, c *monitoring.Completion, kind ErrorKind, msg string) {
	c.SetErrorKind(string(kind))
	WriteError(w, kind, msg)
}

// handleHealth returns the liveness payload.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request, c *monitoring.Completion) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":  "ok",
		"time":    time.Now().Format(time.RFC3339),
		"version": Version,
		"uptime":  time.Since(g.started).Round(time.Second).String(),
	})
}

// handleHeartbeat answers the root-path heartbeat probe.
func (g *Gateway) handleHeartbeat(w http.ResponseWriter, r *http.Request, c *monitoring.Completion) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handleCountTokens is the stub for the token-counting sub-route. It is
// recognized but intentionally unsupported: no translation, no upstream
// call, same error path and logging as every real route.
func (g *Gateway) handleCountTokens(w http.ResponseWriter, r *http.Request, c *monitoring.Completion) {
	g.writeError(w, c, ErrNotImplemented, countTokensMessage)
}

// handleEventBatch accepts telemetry batches and hands them to the event
// sink collaborator. Sink failures never affect the client response.
func (g *Gateway) handleEventBatch(w http.ResponseWriter, r *http.Request, c *monitoring.Completion) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		g.writeError(w, c, ErrInvalidRequest, "failed to read request body")
		return
	}
	if err := g.eventSink.Publish(r.Context(), body); err != nil {
		log.Debug().Err(err).Msg("event batch delivery failed")
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]bool{"accepted": true})
}

// handleMessages translates the request, calls upstream, and either buffers
// or streams the response back in the Messages API shape.
func (g *Gateway) handleMessages(w http.ResponseWriter, r *http.Request, c *monitoring.Completion) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		g.writeError(w, c, ErrInvalidRequest, "failed to read request body")
		return
	}

	req, err := translate.ParseRequest(body)
	if err != nil {
		g.writeError(w, c, ErrInvalidRequest, err.Error())
		return
	}
	chatReq, err := translate.ToChatRequest(req, g.config.Upstream.ForceModel)
	if err != nil {
		g.writeError(w, c, ErrInvalidRequest, err.Error())
		return
	}
	payload, err := json.Marshal(chatReq)
	if err != nil {
		g.writeError(w, c, ErrInvalidRequest, "failed to encode translated request")
		return
	}

	resp, err := g.upstream.Call(r.Context(), payload, r.Header)
	if err != nil {
		switch {
		case upstream.IsCanceled(err):
			// Client went away; nothing to write, the hook still fires.
			c.SetCanceled()
		case upstream.IsTimeout(err):
			g.writeError(w, c, ErrUpstreamTimeout, "upstream call exceeded the configured deadline")
		default:
			g.writeError(w, c, ErrUpstream, "upstream request failed")
		}
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errBody, _ := io.ReadAll(resp.Body)
		g.writeError(w, c, ErrUpstream, "upstream returned status "+http.StatusText(resp.StatusCode)+": "+string(errBody))
		return
	}

	if req.Stream {
		g.handleStreaming(w, r, c, resp, req.Model)
		return
	}
	g.handleBuffered(w, c, resp, req.Model)
}

// handleBuffered translates a whole upstream payload into one JSON body.
func (g *Gateway) handleBuffered(w http.ResponseWriter, c *monitoring.Completion, resp *upstream.Response, model string) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if upstream.IsTimeout(err) {
			g.writeError(w, c, ErrUpstreamTimeout, "upstream call exceeded the configured deadline")
		} else {
			g.writeError(w, c, ErrUpstream, "failed to read upstream response")
		}
		return
	}
	var chatResp translate.ChatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		g.writeError(w, c, ErrUpstream, "upstream returned a malformed response")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(translate.ToMessagesResponse(&chatResp, model))
}

// handleStreaming re-emits upstream chunks as Messages API events in
// arrival order. Headers go out before the first upstream read, so any
// later failure is reported in-band by the pump.
func (g *Gateway) handleStreaming(w http.ResponseWriter, r *http.Request, c *monitoring.Completion, resp *upstream.Response, model string) {
	c.SetStreamed()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	events, err := pumpStream(w, resp.Body, model)
	if err != nil {
		if r.Context().Err() != nil {
			c.SetCanceled()
		} else {
			c.SetErrorKind(string(ErrUpstream))
		}
		log.Debug().Err(err).Int("events", events).Msg("stream ended with error")
	}
}

// requestID honors a client-supplied X-Request-ID, otherwise generates one.
func (g *Gateway) requestID(r *http.Request) string {
	if id := r.Header.Get(HeaderRequestID); id != "" {
		return id
	}
	return uuid.NewString()
}

// statusRecorder captures the status code for the request-log hook while
// passing flushes through for the streaming path.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.status == 0 {
		s.status = code
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	return s.ResponseWriter.Write(b)
}

func (s *statusRecorder) Flush() {
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
