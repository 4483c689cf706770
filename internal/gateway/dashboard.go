// Package gateway - dashboard.go serves the viewer page and its static assets.
//
// DESIGN: The viewer (index.html + static/) is embedded by cmd and passed in
// with WithAssets. Without assets a minimal page links to the JSON API.
package gateway

import (
	"io/fs"
	"net/http"
	"strings"
)

const viewerIndex = "index.html"

// handleViewerPage serves the viewer HTML.
func (g *Gateway) handleViewerPage(w http.ResponseWriter, r *http.Request) {
	if g.assets != nil {
		if data, err := fs.ReadFile(g.assets, viewerIndex); err == nil {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(data)
			return
		}
	}

	// Fallback: show minimal HTML that links to the JSON API
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Capture Gateway</title>
<style>
  body { font-family: system-ui, sans-serif; background: #0a0a0a; color: #fff; display: flex; align-items: center; justify-content: center; min-height: 100vh; margin: 0; }
  .container { text-align: center; padding: 48px; }
  a { color: #22c55e; text-decoration: none; font-family: monospace; }
</style>
</head>
<body>
<div class="container">
  <h1>Capture Gateway</h1>
  <p>Viewer assets not embedded. Browse raw data:</p>
  <a href="/viewer/api/logs">/viewer/api/logs</a> &nbsp;|&nbsp;
  <a href="/viewer/api/stats">/viewer/api/stats</a>
</div>
</body>
</html>`))
}

// handleStatic serves files under static/ in the viewer assets.
func (g *Gateway) handleStatic(w http.ResponseWriter, r *http.Request) {
	if g.assets == nil || strings.HasSuffix(r.URL.Path, "/") {
		http.NotFound(w, r)
		return
	}
	http.FileServer(http.FS(g.assets)).ServeHTTP(w, r)
}
