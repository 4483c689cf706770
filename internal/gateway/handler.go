// Package gateway - handler.go implements the proxy catch-all.
//
// DESIGN: Each proxied request runs:
//  1. read the full body (bounded)
//  2. rewrite prompt text (messages endpoint, when enabled)
//  3. forward upstream (transport failure -> 502, nothing recorded)
//  4. record request and response (best effort)
//  5. relay status, headers and body to the caller
package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/compresr/capture-gateway/internal/body"
	"github.com/compresr/capture-gateway/internal/config"
	"github.com/compresr/capture-gateway/internal/forward"
	"github.com/compresr/capture-gateway/internal/monitoring"
	"github.com/compresr/capture-gateway/internal/transcript"
)

// relayHeaderSkip lists upstream headers net/http must recompute.
var relayHeaderSkip = map[string]bool{
	"content-length":    true,
	"transfer-encoding": true,
}

// writeError writes a JSON error response.
func (g *Gateway) writeError(w http.ResponseWriter, msg string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]string{"message": msg, "type": "gateway_error"},
	})
}

// handleProxy forwards any non-reserved request upstream and records it.
func (g *Gateway) handleProxy(w http.ResponseWriter, r *http.Request) {
	if isReserved(r.URL.Path) {
		http.NotFound(w, r)
		return
	}
	requestID := monitoring.RequestIDFromContext(r.Context())

	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, config.MaxRequestBodySize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			g.writeError(w, "request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		g.writeError(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	sent := string(raw)
	if g.rewriter.Applies(r.URL.Path) {
		if rewritten, n := g.rewriter.Rewrite(sent); n > 0 {
			sent = rewritten
			g.metrics.RecordRewrite()
			log.Debug().Str("request_id", requestID).Int("replacements", n).Msg("prompt rewritten")
		}
	}

	forwardStart := time.Now()
	res, err := g.forwarder.Forward(r.Context(), r.Method, r.URL.RequestURI(), r.Header, []byte(sent))
	g.metrics.RecordRequest(err == nil)
	if err != nil {
		log.Error().Err(err).Str("request_id", requestID).Str("path", r.URL.Path).Msg("upstream unavailable")
		g.writeError(w, "upstream request failed", http.StatusBadGateway)
		return
	}
	log.Debug().
		Str("request_id", requestID).
		Int("status", res.StatusCode).
		Dur("forward_latency", time.Since(forwardStart)).
		Msg("upstream responded")

	g.recordExchange(requestID, r, sent, res)

	copyHeaders(w, res.Header)
	w.WriteHeader(res.StatusCode)
	if _, err := w.Write(res.Body); err != nil {
		log.Debug().Err(err).Str("request_id", requestID).Msg("client went away during relay")
	}
}

// recordExchange persists one exchange. Failures are logged and counted only.
func (g *Gateway) recordExchange(requestID string, r *http.Request, sent string, res *forward.Result) {
	reqHeaders := transcript.FlattenHeaders(r.Header)
	if r.Host != "" {
		reqHeaders["host"] = r.Host
	}

	reqBody, reqEncoding := body.FromBytes([]byte(sent))
	respBody, respEncoding := body.FromBytes(forward.DecodeForLog(res.Header, res.Body))

	req := transcript.Snapshot{
		Method:       r.Method,
		Path:         r.URL.Path,
		Headers:      reqHeaders,
		Body:         reqBody,
		BodyEncoding: reqEncoding,
	}
	resp := transcript.Snapshot{
		Headers:      transcript.FlattenHeaders(res.Header),
		Body:         respBody,
		BodyEncoding: respEncoding,
	}

	result, err := g.recorder.Record(req, resp, res.StatusCode)
	if err != nil {
		g.metrics.RecordPersistenceFailure()
		log.Error().Err(err).Str("request_id", requestID).Str("path", r.URL.Path).Msg("failed to persist transcript")
		return
	}
	g.metrics.RecordTranscript(result.Superseded != "", len(result.Evicted))

	log.Debug().
		Str("request_id", requestID).
		Str("user", result.Identity.UserID).
		Str("session", result.Identity.SessionID).
		Str("file", result.Path).
		Bool("superseded", result.Superseded != "").
		Int("evicted", len(result.Evicted)).
		Msg("transcript saved")
}

// copyHeaders copies upstream headers except those net/http recomputes.
func copyHeaders(w http.ResponseWriter, src http.Header) {
	for k, v := range src {
		if relayHeaderSkip[strings.ToLower(k)] {
			continue
		}
		w.Header()[k] = v
	}
}
