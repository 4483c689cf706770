// Package transcript files finished exchanges into the session hierarchy.
//
// DESIGN: Record runs, per forwarded request:
//  1. classify both bodies so JSON is stored structured
//  2. extract user/session fingerprints from request metadata
//  3. resolve (find or create) the session directory
//  4. drop the latest transcript when the new request supersedes it
//  5. write the new record
//  6. evict the oldest transcripts so the session stays within its cap
//
// Eviction follows the write so a failed write never costs an older transcript.
//
// Steps 3-6 hold the repository's per-session lock.
package transcript

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/compresr/capture-gateway/internal/body"
	"github.com/compresr/capture-gateway/internal/config"
	"github.com/compresr/capture-gateway/internal/identity"
	"github.com/compresr/capture-gateway/internal/store"
	"github.com/compresr/capture-gateway/internal/utils"
)

// Store persists transcripts through a repository.
type Store struct {
	repo          store.Repository
	maxPerSession int
	now           func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore creates a transcript store. maxPerSession <= 0 disables eviction.
func NewStore(repo store.Repository, maxPerSession int, opts ...Option) *Store {
	s := &Store{
		repo:          repo,
		maxPerSession: maxPerSession,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Result describes what one Record call did.
type Result struct {
	Identity   identity.Identity
	Path       string   // written transcript
	Superseded string   // latest transcript removed as a duplicate, if any
	Evicted    []string // names removed by the retention cap
}

// Record persists one exchange.
func (s *Store) Record(req, resp Snapshot, statusCode int) (*Result, error) {
	req.classify()
	resp.classify()
	if req.Headers == nil {
		req.Headers = map[string]string{}
	}
	if resp.Headers == nil {
		resp.Headers = map[string]string{}
	}

	id := identity.Extract(req.Body)
	res := &Result{Identity: id}

	unlock := s.repo.LockSession(id)
	defer unlock()

	now := s.now().UTC()
	dir, err := s.repo.FindOrCreateSession(id, now)
	if err != nil {
		return res, err
	}

	if superseded := s.findSuperseded(dir, req); superseded != "" {
		if err := s.repo.DeleteTranscript(superseded); err != nil {
			log.Warn().Err(err).Str("path", superseded).Msg("transcript: failed to remove superseded log")
		} else {
			res.Superseded = superseded
		}
	}

	data, err := utils.MarshalIndentNoEscape(Record{
		Timestamp:  now.Format(TimestampLayout),
		Request:    req,
		Response:   resp,
		StatusCode: statusCode,
	})
	if err != nil {
		return res, fmt.Errorf("encode transcript: %w", err)
	}

	path, err := s.repo.WriteTranscript(dir, now, data)
	if err != nil {
		return res, err
	}
	res.Path = path

	evicted, err := s.enforceCap(dir, filepath.Base(path))
	res.Evicted = evicted
	if err != nil {
		log.Warn().Err(err).Str("dir", dir).Msg("transcript: retention failed")
	}
	return res, nil
}

// classify parses text bodies; encoded binary bodies stay as they are.
func (s *Snapshot) classify() {
	if s.BodyEncoding == "" {
		s.Body = body.Classify(s.Body.Text())
	}
}

// findSuperseded returns the latest transcript in dir when req continues its
// conversation, or "" when nothing should be removed.
//
// Only the single most recent file is a candidate.
func (s *Store) findSuperseded(dir string, req Snapshot) string {
	names, err := s.repo.ListTranscripts(dir)
	if err != nil {
		log.Warn().Err(err).Str("dir", dir).Msg("transcript: cannot list session for dedup")
		return ""
	}
	if len(names) == 0 {
		return ""
	}

	latest := filepath.Join(dir, names[len(names)-1])
	data, err := s.repo.ReadTranscript(latest)
	if err != nil {
		log.Warn().Err(err).Str("path", latest).Msg("transcript: cannot read latest log for dedup")
		return ""
	}
	var prior Record
	if err := json.Unmarshal(data, &prior); err != nil {
		log.Warn().Err(err).Str("path", latest).Msg("transcript: latest log is not a valid record")
		return ""
	}

	if !Supersedes(prior.Request, req) {
		return ""
	}
	return latest
}

// Supersedes reports whether next strictly extends the conversation in prior:
// same messages endpoint, and prior's non-empty message list is a proper
// prefix of next's.
func Supersedes(prior, next Snapshot) bool {
	if prior.Body.IsEmpty() || next.Body.IsEmpty() {
		return false
	}
	if prior.Path != next.Path || !strings.HasPrefix(next.Path, config.MessagesPathPrefix) {
		return false
	}
	return IsStrictExtension(Messages(prior.Body), Messages(next.Body))
}

// Messages decodes the messages array of a request body.
// Anything without one yields nil.
func Messages(b body.Body) []any {
	if !b.IsStructured() {
		b = body.Classify(b.Text())
	}
	if !b.IsObject() {
		return nil
	}
	raw := b.Get("messages")
	if !raw.IsArray() {
		return nil
	}
	var msgs []any
	if err := json.Unmarshal([]byte(raw.Raw), &msgs); err != nil {
		return nil
	}
	return msgs
}

// IsStrictExtension reports whether next starts with every element of prior
// and has more elements. An empty prior is never extended.
func IsStrictExtension(prior, next []any) bool {
	if len(prior) == 0 || len(next) <= len(prior) {
		return false
	}
	return reflect.DeepEqual(next[:len(prior)], prior)
}

// enforceCap evicts the oldest transcripts beyond the cap, sparing keep.
func (s *Store) enforceCap(dir, keep string) ([]string, error) {
	if s.maxPerSession <= 0 {
		return nil, nil
	}
	names, err := s.repo.ListTranscripts(dir)
	if err != nil {
		return nil, err
	}
	if len(names) <= s.maxPerSession {
		return nil, nil
	}
	return s.repo.DeleteOldest(dir, len(names)-s.maxPerSession, keep)
}
