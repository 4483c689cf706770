// Package config - defaults.go centralizes magic numbers and default values.
//
// DESIGN: All default values that appear in multiple places should be defined here.
// This makes configuration more maintainable and auditable.
package config

import "time"

// =============================================================================
// SERVER DEFAULTS
// =============================================================================

// DefaultPort is the port the gateway listens on.
const DefaultPort = 8000

// DefaultReadHeaderTimeout guards against clients that never finish sending headers.
const DefaultReadHeaderTimeout = 30 * time.Second

// DefaultShutdownTimeout bounds the drain period on SIGINT/SIGTERM.
const DefaultShutdownTimeout = 10 * time.Second

// MaxRequestBodySize is the maximum allowed request body (50MB).
const MaxRequestBodySize = 50 * 1024 * 1024

// MaxErrorBodyLogLen limits error response body in logs to prevent bloat.
const MaxErrorBodyLogLen = 500

// =============================================================================
// UPSTREAM
// =============================================================================

// DefaultUpstreamURL is the API every request is forwarded to.
const DefaultUpstreamURL = "https://api.anthropic.com"

// APIPathPrefix marks requests that are real API calls (as opposed to probes).
const APIPathPrefix = "/v1/"

// MessagesPathPrefix is the message-creation endpoint.
const MessagesPathPrefix = "/v1/messages"

// =============================================================================
// TRANSCRIPT STORAGE
// =============================================================================

// DefaultLogDir is the root of the transcript hierarchy.
const DefaultLogDir = "logs"

// DefaultMaxLogsPerSession is how many transcripts each session keeps.
const DefaultMaxLogsPerSession = 5

// =============================================================================
// RESERVED ROUTES
// =============================================================================

// ViewerPrefix and StaticPrefix are never proxied upstream.
const (
	ViewerPrefix = "/viewer"
	StaticPrefix = "/static"
)

// =============================================================================
// LOGGING
// =============================================================================

// DefaultLogLevel is the zerolog level used without --debug.
const DefaultLogLevel = "info"

// DefaultLogFormat picks console output on a terminal and JSON otherwise.
const DefaultLogFormat = "auto"
