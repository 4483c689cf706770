// Package transcript types - the persisted request/response record.
package transcript

import (
	"net/http"
	"strings"

	"github.com/compresr/capture-gateway/internal/body"
)

// TimestampLayout is the ISO-8601 layout of Record.Timestamp (UTC, microseconds).
const TimestampLayout = "2006-01-02T15:04:05.000000-07:00"

// Snapshot is one leg of an exchange.
// Responses carry no method or path.
type Snapshot struct {
	Method       string            `json:"method,omitempty"`
	Path         string            `json:"path,omitempty"`
	Headers      map[string]string `json:"headers"`
	Body         body.Body         `json:"body"`
	BodyEncoding string            `json:"body_encoding,omitempty"` // body.EncodingBase64 for binary payloads
}

// Record is the unit of persistence: one file per forwarded request.
type Record struct {
	Timestamp  string   `json:"timestamp"`
	Request    Snapshot `json:"request"`
	Response   Snapshot `json:"response"`
	StatusCode int      `json:"status_code"`
}

// FlattenHeaders lowercases header names and joins multi-valued headers with ", ".
func FlattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		key := strings.ToLower(k)
		if prev, ok := out[key]; ok {
			out[key] = prev + ", " + strings.Join(v, ", ")
			continue
		}
		out[key] = strings.Join(v, ", ")
	}
	return out
}
