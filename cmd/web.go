package main

import (
	"embed"
	"io/fs"
)

//go:embed all:viewer_dist
var viewerEmbedFS embed.FS

// getViewerFS returns the viewer filesystem (index.html, static/) rooted at the dist directory.
func getViewerFS() (fs.FS, error) {
	return fs.Sub(viewerEmbedFS, "viewer_dist")
}
