// Package gateway types - shared constants and small helpers.
package gateway

import (
	"net"
	"strings"

	"github.com/compresr/capture-gateway/internal/config"
)

// HeaderRequestID carries the request ID in both directions.
const HeaderRequestID = "X-Request-ID"

// Viewer responses.
const (
	msgLogNotFound     = "Log not found"
	msgSessionNotFound = "Session not found"
	msgSessionDeleted  = "Session deleted successfully"
)

// isReserved reports whether path belongs to the viewer and is never proxied.
func isReserved(path string) bool {
	return strings.HasPrefix(path, config.ViewerPrefix) || strings.HasPrefix(path, config.StaticPrefix)
}

// isLoopback reports whether a RemoteAddr is a loopback address.
func isLoopback(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
