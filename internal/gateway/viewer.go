// Package gateway - viewer.go serves the transcript browsing API.
//
// GET    /viewer/api/logs                        list recorded API exchanges
// GET    /viewer/api/logs/{path}                 one transcript (?text=1 for assistant text)
// DELETE /viewer/api/sessions/{user}/{session}   remove a session directory
package gateway

import (
	"errors"
	"net/http"
	"path"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"

	"github.com/compresr/capture-gateway/internal/body"
	"github.com/compresr/capture-gateway/internal/config"
	"github.com/compresr/capture-gateway/internal/store"
	"github.com/compresr/capture-gateway/internal/utils"
)

// LogEntry is one row of the transcript listing.
type LogEntry struct {
	Filename  string `json:"filename"`
	Timestamp string `json:"timestamp"`
	Path      string `json:"path"`
}

// LogText is the ?text=1 view of a transcript.
type LogText struct {
	Path string `json:"path"`
	Text string `json:"text"`
}

// handleListLogs lists API transcripts, newest file name first.
func (g *Gateway) handleListLogs(w http.ResponseWriter, r *http.Request) {
	entries := []LogEntry{}
	err := g.repo.WalkTranscripts(func(rel string, data []byte) error {
		if entry, ok := listingEntry(rel, data); ok {
			entries = append(entries, entry)
		}
		return nil
	})
	if err != nil {
		log.Error().Err(err).Msg("viewer: failed to list transcripts")
		g.writeError(w, "failed to list logs", http.StatusInternalServerError)
		return
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Filename != entries[j].Filename {
			return entries[i].Filename > entries[j].Filename
		}
		return entries[i].Path > entries[j].Path
	})
	writeJSON(w, http.StatusOK, entries)
}

// listingEntry applies the listing filter: a timestamp, an API path and a
// non-empty request body.
func listingEntry(rel string, data []byte) (LogEntry, bool) {
	if !gjson.ValidBytes(data) {
		log.Warn().Str("path", rel).Msg("viewer: skipping invalid transcript")
		return LogEntry{}, false
	}
	fields := gjson.GetManyBytes(data, "timestamp", "request.path", "request.body")
	ts, reqPath, reqBody := fields[0], fields[1], fields[2]
	if !ts.Exists() || !strings.HasPrefix(reqPath.String(), config.APIPathPrefix) {
		return LogEntry{}, false
	}

	var b body.Body
	if !reqBody.Exists() || b.UnmarshalJSON([]byte(reqBody.Raw)) != nil || b.IsEmpty() {
		return LogEntry{}, false
	}
	return LogEntry{
		Filename:  path.Base(rel),
		Timestamp: ts.String(),
		Path:      rel,
	}, true
}

// handleGetLog returns one transcript verbatim, or its assistant text.
func (g *Gateway) handleGetLog(w http.ResponseWriter, r *http.Request) {
	rel := chi.URLParam(r, "*")
	file, err := g.repo.ResolveTranscript(rel)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			log.Warn().Err(err).Str("path", rel).Msg("viewer: rejected log path")
		}
		http.Error(w, msgLogNotFound, http.StatusNotFound)
		return
	}
	data, err := g.repo.ReadTranscript(file)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, msgLogNotFound, http.StatusNotFound)
			return
		}
		log.Error().Err(err).Str("path", rel).Msg("viewer: failed to read transcript")
		g.writeError(w, "failed to read log", http.StatusInternalServerError)
		return
	}
	if !gjson.ValidBytes(data) {
		g.writeError(w, "log is not valid JSON", http.StatusInternalServerError)
		return
	}

	if r.URL.Query().Get("text") != "" {
		writeJSON(w, http.StatusOK, LogText{Path: rel, Text: responseText(data)})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// responseText extracts the assistant text of a stored response: streamed
// deltas for event streams, text blocks for plain messages.
func responseText(record []byte) string {
	if gjson.GetBytes(record, "response.body_encoding").Exists() {
		return ""
	}
	respBody := gjson.GetBytes(record, "response.body")
	if respBody.Type == gjson.String {
		return body.ExtractStreamText(respBody.String())
	}
	var parts []string
	for _, block := range respBody.Get("content").Array() {
		if block.Get("type").String() == "text" {
			parts = append(parts, block.Get("text").String())
		}
	}
	if len(parts) == 0 {
		return respBody.Raw
	}
	return strings.Join(parts, "")
}

// handleDeleteSession removes a session directory and everything in it.
func (g *Gateway) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	user, session := chi.URLParam(r, "user"), chi.URLParam(r, "session")
	if err := g.repo.DeleteSession(user, session); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, msgSessionNotFound, http.StatusNotFound)
			return
		}
		log.Error().Err(err).Str("user", user).Str("session", session).Msg("viewer: failed to delete session")
		g.writeError(w, "failed to delete session", http.StatusInternalServerError)
		return
	}
	log.Info().Str("user", user).Str("session", session).Msg("session deleted")
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": msgSessionDeleted})
}

// writeJSON writes v without HTML escaping.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := utils.MarshalNoEscape(v)
	if err != nil {
		http.Error(w, "encode error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}
