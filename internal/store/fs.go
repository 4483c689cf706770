// Package store owns the on-disk transcript hierarchy.
//
// DESIGN: The directory tree is the database:
//
//	{root}/{userHash|unknown_user}/{captureTimestamp}_{sessionHash|unknown_session}/{writeTimestamp}.json
//
// Directory names encode both an identifier and a discovery timestamp. All
// filesystem access goes through Repository; LockSession serializes the
// recorder's read-then-act sequences (dedup, retention, write) per session.
package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/rs/zerolog/log"

	"github.com/compresr/capture-gateway/internal/identity"
)

const (
	// UnknownUser names the user directory when no user fingerprint exists.
	UnknownUser = "unknown_user"
	// UnknownSession is the session suffix when no session fingerprint exists.
	UnknownSession = "unknown_session"

	// TimestampLayout is the UTC layout of directory and file timestamps.
	TimestampLayout = "20060102_150405"

	transcriptExt = ".json"
	maxCollisions = 99

	dirPerm  = 0750
	filePerm = 0600
)

// ErrNotFound is returned when a transcript or session does not exist.
var ErrNotFound = errors.New("not found")

// Repository is the storage contract the recorder and viewer depend on.
type Repository interface {
	// LockSession serializes mutations for one session and returns the unlock func.
	LockSession(id identity.Identity) func()
	// FindOrCreateSession returns the directory for id, creating it if needed.
	FindOrCreateSession(id identity.Identity, now time.Time) (string, error)
	// ListTranscripts returns transcript file names in dir, oldest first.
	ListTranscripts(dir string) ([]string, error)
	// ReadTranscript reads one transcript file.
	ReadTranscript(path string) ([]byte, error)
	// WriteTranscript stores data under a timestamp-derived name and returns its path.
	WriteTranscript(dir string, now time.Time, data []byte) (string, error)
	// DeleteTranscript removes one transcript file.
	DeleteTranscript(path string) error
	// DeleteOldest removes the n oldest transcripts in dir other than keep
	// and returns their names.
	DeleteOldest(dir string, n int, keep string) ([]string, error)
	// ResolveTranscript maps a root-relative path to a transcript file path.
	ResolveTranscript(rel string) (string, error)
	// DeleteSession recursively removes {root}/{user}/{session}.
	DeleteSession(user, session string) error
	// WalkTranscripts calls fn for every transcript under root.
	WalkTranscripts(fn func(rel string, data []byte) error) error
	// CheckWritable verifies that transcripts can be created under root.
	CheckWritable() error
}

// FSRepository implements Repository on the local filesystem.
type FSRepository struct {
	root  string
	locks *keyedMutex
}

// NewFSRepository creates a repository rooted at root. The root is created lazily.
func NewFSRepository(root string) *FSRepository {
	return &FSRepository{
		root:  filepath.Clean(root),
		locks: newKeyedMutex(),
	}
}

// UserDirName returns the user directory name for id.
func UserDirName(id identity.Identity) string {
	if id.HasUser() {
		return id.UserID
	}
	return UnknownUser
}

// SessionSuffix returns the session part of a session directory name.
func SessionSuffix(id identity.Identity) string {
	if id.HasUser() && id.HasSession() {
		return id.SessionID
	}
	return UnknownSession
}

func lockKey(user, sessionSuffix string) string {
	return user + "/" + sessionSuffix
}

// sessionSuffixFromDirName strips the capture timestamp from a session directory name.
func sessionSuffixFromDirName(name string) string {
	prefixLen := len(TimestampLayout) + 1
	if len(name) > prefixLen && name[prefixLen-1] == '_' {
		return name[prefixLen:]
	}
	return name
}

// LockSession serializes work on one session.
// Unidentified sessions share one lock per user directory.
func (r *FSRepository) LockSession(id identity.Identity) func() {
	return r.locks.Lock(lockKey(UserDirName(id), SessionSuffix(id)))
}

// FindOrCreateSession resolves the session directory for id.
//
// A fully identified session reuses any existing directory under its user
// whose name ends with _{sessionID}. Everything else gets a fresh
// {now}_{suffix} directory.
func (r *FSRepository) FindOrCreateSession(id identity.Identity, now time.Time) (string, error) {
	userDir := filepath.Join(r.root, UserDirName(id))
	suffix := SessionSuffix(id)

	if id.HasUser() && id.HasSession() {
		existing, err := findSessionDir(userDir, suffix)
		if err != nil {
			return "", err
		}
		if existing != "" {
			return existing, nil
		}
	}

	dir := filepath.Join(userDir, now.UTC().Format(TimestampLayout)+"_"+suffix)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return "", fmt.Errorf("create session dir: %w", err)
	}
	return dir, nil
}

func findSessionDir(userDir, sessionID string) (string, error) {
	entries, err := os.ReadDir(userDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("read user dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() && strings.HasSuffix(e.Name(), "_"+sessionID) {
			return filepath.Join(userDir, e.Name()), nil
		}
	}
	return "", nil
}

// ListTranscripts returns *.json file names in dir sorted ascending.
// A missing directory has no transcripts.
func (r *FSRepository) ListTranscripts(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list transcripts: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() && strings.HasSuffix(e.Name(), transcriptExt) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// ReadTranscript reads a transcript file.
func (r *FSRepository) ReadTranscript(path string) ([]byte, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path comes from ListTranscripts or ResolveTranscript
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read transcript: %w", err)
	}
	return data, nil
}

// WriteTranscript writes data to {dir}/{now}.json.
//
// When that name is taken a two-digit suffix is added ({now}_01.json), which
// still sorts after the unsuffixed name. The file is written to a temp file
// first and renamed into place so readers never see a partial transcript.
func (r *FSRepository) WriteTranscript(dir string, now time.Time, data []byte) (string, error) {
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return "", fmt.Errorf("create session dir: %w", err)
	}

	target, err := freeName(dir, now.UTC().Format(TimestampLayout))
	if err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(dir, ".transcript-*.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp transcript: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return "", fmt.Errorf("write transcript: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return "", fmt.Errorf("close transcript: %w", err)
	}
	if err := os.Chmod(tmpName, filePerm); err != nil {
		cleanup()
		return "", fmt.Errorf("chmod transcript: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		cleanup()
		return "", fmt.Errorf("rename transcript: %w", err)
	}
	return target, nil
}

func freeName(dir, stamp string) (string, error) {
	candidate := filepath.Join(dir, stamp+transcriptExt)
	for i := 1; i <= maxCollisions; i++ {
		if _, err := os.Lstat(candidate); errors.Is(err, fs.ErrNotExist) {
			return candidate, nil
		} else if err != nil {
			return "", fmt.Errorf("stat transcript: %w", err)
		}
		candidate = filepath.Join(dir, fmt.Sprintf("%s_%02d%s", stamp, i, transcriptExt))
	}
	if _, err := os.Lstat(candidate); errors.Is(err, fs.ErrNotExist) {
		return candidate, nil
	}
	return "", fmt.Errorf("no free transcript name for %s in %s", stamp, dir)
}

// DeleteTranscript removes one transcript file.
func (r *FSRepository) DeleteTranscript(path string) error {
	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrNotFound
		}
		return fmt.Errorf("delete transcript: %w", err)
	}
	return nil
}

// DeleteOldest removes up to n of the oldest transcripts in dir. The file
// named keep is never removed.
func (r *FSRepository) DeleteOldest(dir string, n int, keep string) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}
	names, err := r.ListTranscripts(dir)
	if err != nil {
		return nil, err
	}
	deleted := make([]string, 0, n)
	for _, name := range names {
		if len(deleted) == n {
			break
		}
		if name == keep {
			continue
		}
		if err := r.DeleteTranscript(filepath.Join(dir, name)); err != nil && !errors.Is(err, ErrNotFound) {
			return deleted, err
		}
		deleted = append(deleted, name)
	}
	return deleted, nil
}

// ResolveTranscript maps a root-relative path onto an existing transcript file.
// Paths cannot escape the root.
func (r *FSRepository) ResolveTranscript(rel string) (string, error) {
	path, err := securejoin.SecureJoin(r.root, filepath.FromSlash(rel))
	if err != nil {
		return "", fmt.Errorf("resolve transcript: %w", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("stat transcript: %w", err)
	}
	if !info.Mode().IsRegular() {
		return "", ErrNotFound
	}
	return path, nil
}

// DeleteSession removes a session directory and everything in it.
// Only paths exactly two levels below the root are accepted.
func (r *FSRepository) DeleteSession(user, session string) error {
	path, err := securejoin.SecureJoin(r.root, filepath.Join(user, session))
	if err != nil {
		return fmt.Errorf("resolve session: %w", err)
	}
	rel, err := filepath.Rel(r.root, path)
	if err != nil || len(strings.Split(rel, string(filepath.Separator))) != 2 || strings.HasPrefix(rel, "..") {
		return ErrNotFound
	}

	userName, sessionName := filepath.Split(rel)
	unlock := r.locks.Lock(lockKey(filepath.Clean(userName), sessionSuffixFromDirName(sessionName)))
	defer unlock()

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrNotFound
		}
		return fmt.Errorf("stat session: %w", err)
	}
	if !info.IsDir() {
		return ErrNotFound
	}
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// WalkTranscripts visits every *.json file under the root.
// rel is slash-separated and relative to the root. Unreadable files are skipped.
func (r *FSRepository) WalkTranscripts(fn func(rel string, data []byte) error) error {
	if _, err := os.Stat(r.root); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return filepath.WalkDir(r.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			log.Warn().Err(err).Str("path", path).Msg("store: walk error")
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || !strings.HasSuffix(d.Name(), transcriptExt) {
			return nil
		}
		data, readErr := os.ReadFile(path) // #nosec G304 -- walked from root
		if readErr != nil {
			log.Warn().Err(readErr).Str("path", path).Msg("store: skipping unreadable transcript")
			return nil
		}
		rel, relErr := filepath.Rel(r.root, path)
		if relErr != nil {
			return nil
		}
		return fn(filepath.ToSlash(rel), data)
	})
}

// CheckWritable creates and removes a probe file in the root.
func (r *FSRepository) CheckWritable() error {
	if err := os.MkdirAll(r.root, dirPerm); err != nil {
		return fmt.Errorf("create log root: %w", err)
	}
	f, err := os.CreateTemp(r.root, ".health-*")
	if err != nil {
		return fmt.Errorf("log root not writable: %w", err)
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(name)
}
