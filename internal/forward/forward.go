// Package forward sends captured requests to the upstream API.
//
// DESIGN: Hop-by-hop headers are stripped, the call is bound to the inbound
// request context, and status, headers and body come back untouched. There
// are no retries and no timeout beyond the transport default.
package forward

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/compresr/capture-gateway/internal/config"
	"github.com/compresr/capture-gateway/internal/utils"
)

// hopHeaders are dropped from the inbound request before forwarding.
var hopHeaders = map[string]bool{
	"host":           true,
	"content-length": true,
	"connection":     true,
	"upgrade":        true,
}

// Result is a fully buffered upstream response.
type Result struct {
	Body       []byte
	Header     http.Header
	StatusCode int
}

// Forwarder relays requests to a fixed upstream base URL.
type Forwarder struct {
	baseURL string
	client  *http.Client
}

// New creates a forwarder. A nil client uses a client without a timeout so
// long streaming responses are not cut off.
func New(baseURL string, client *http.Client) (*Forwarder, error) {
	if baseURL == "" {
		baseURL = config.DefaultUpstreamURL
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid upstream URL %q: scheme must be http or https", baseURL)
	}
	if client == nil {
		client = &http.Client{}
	}
	return &Forwarder{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  client,
	}, nil
}

// BaseURL returns the upstream base URL without a trailing slash.
func (f *Forwarder) BaseURL() string { return f.baseURL }

// FilterHeaders returns a copy of h without hop-by-hop headers.
func FilterHeaders(h http.Header) http.Header {
	out := make(http.Header, len(h))
	for k, v := range h {
		if hopHeaders[strings.ToLower(k)] {
			continue
		}
		out[k] = append([]string(nil), v...)
	}
	return out
}

// Forward issues method against base+pathAndQuery and buffers the response.
// A non-nil error means no response was obtained from upstream.
func (f *Forwarder) Forward(ctx context.Context, method, pathAndQuery string, header http.Header, body []byte) (*Result, error) {
	targetURL := f.baseURL + pathAndQuery

	req, err := http.NewRequestWithContext(ctx, method, targetURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header = FilterHeaders(header)

	log.Debug().
		Str("method", method).
		Str("targetURL", targetURL).
		Int("body_bytes", len(body)).
		Str("x-api-key", utils.MaskKey(header.Get("x-api-key"))).
		Str("authorization", utils.MaskKey(header.Get("Authorization"))).
		Msg("forwarding request")

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		log.Error().Err(err).Str("targetURL", targetURL).Msg("upstream request failed")
		return nil, fmt.Errorf("upstream request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Error().Err(err).Str("targetURL", targetURL).Msg("upstream response read failed")
		return nil, fmt.Errorf("read upstream response: %w", err)
	}

	if resp.StatusCode >= 400 {
		log.Warn().
			Int("status", resp.StatusCode).
			Str("targetURL", targetURL).
			Str("response", utils.Truncate(string(respBody), config.MaxErrorBodyLogLen)).
			Msg("upstream error response")
	}
	log.Debug().
		Int("status", resp.StatusCode).
		Dur("latency", time.Since(start)).
		Int("body_bytes", len(respBody)).
		Msg("upstream responded")

	return &Result{
		Body:       respBody,
		Header:     resp.Header,
		StatusCode: resp.StatusCode,
	}, nil
}
