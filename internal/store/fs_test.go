package store

import (
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compresr/capture-gateway/internal/identity"
)

var baseTime = time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)

func TestFindOrCreateSession_Layout(t *testing.T) {
	root := t.TempDir()
	repo := NewFSRepository(root)

	tests := []struct {
		name string
		id   identity.Identity
		want string
	}{
		{"identified", identity.Identity{UserID: "a2ffeaa7", SessionID: "a99ef0d8"}, "a2ffeaa7/20261017_120000_a99ef0d8"},
		{"user only", identity.Identity{UserID: "a2ffeaa7"}, "a2ffeaa7/20261017_120000_unknown_session"},
		{"anonymous", identity.Identity{}, "unknown_user/20261017_120000_unknown_session"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir, err := repo.FindOrCreateSession(tt.id, baseTime)
			require.NoError(t, err)
			assert.Equal(t, filepath.Join(root, filepath.FromSlash(tt.want)), dir)
			assert.DirExists(t, dir)
		})
	}
}

func TestFindOrCreateSession_ReusesExistingSessionDir(t *testing.T) {
	repo := NewFSRepository(t.TempDir())
	id := identity.Identity{UserID: "u1234567", SessionID: "s1234567"}

	first, err := repo.FindOrCreateSession(id, baseTime)
	require.NoError(t, err)
	second, err := repo.FindOrCreateSession(id, baseTime.Add(90*time.Second))
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestFindOrCreateSession_UnknownSessionsAreNotReused(t *testing.T) {
	repo := NewFSRepository(t.TempDir())
	id := identity.Identity{UserID: "u1234567"}

	first, err := repo.FindOrCreateSession(id, baseTime)
	require.NoError(t, err)
	second, err := repo.FindOrCreateSession(id, baseTime.Add(time.Second))
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
}

func TestWriteTranscript_NamesAndCollisions(t *testing.T) {
	repo := NewFSRepository(t.TempDir())
	dir, err := repo.FindOrCreateSession(identity.Identity{}, baseTime)
	require.NoError(t, err)

	p1, err := repo.WriteTranscript(dir, baseTime, []byte(`{"n":1}`))
	require.NoError(t, err)
	p2, err := repo.WriteTranscript(dir, baseTime, []byte(`{"n":2}`))
	require.NoError(t, err)
	p3, err := repo.WriteTranscript(dir, baseTime.Add(time.Second), []byte(`{"n":3}`))
	require.NoError(t, err)

	assert.Equal(t, "20261017_120000.json", filepath.Base(p1))
	assert.Equal(t, "20261017_120000_01.json", filepath.Base(p2))
	assert.Equal(t, "20261017_120001.json", filepath.Base(p3))

	names, err := repo.ListTranscripts(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"20261017_120000.json", "20261017_120000_01.json", "20261017_120001.json"}, names)
	assert.True(t, sort.StringsAreSorted(names))

	data, err := repo.ReadTranscript(p2)
	require.NoError(t, err)
	assert.Equal(t, `{"n":2}`, string(data))
}

func TestListTranscripts_IgnoresOtherFiles(t *testing.T) {
	repo := NewFSRepository(t.TempDir())
	dir := filepath.Join(repo.root, "u", "s")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "nested.json"), 0750))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".transcript-1.tmp"), []byte("x"), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "20261017_120000.json"), []byte("{}"), 0600))

	names, err := repo.ListTranscripts(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"20261017_120000.json"}, names)

	missing, err := repo.ListTranscripts(filepath.Join(repo.root, "nope"))
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestDeleteOldest(t *testing.T) {
	repo := NewFSRepository(t.TempDir())
	dir, err := repo.FindOrCreateSession(identity.Identity{}, baseTime)
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		_, err := repo.WriteTranscript(dir, baseTime.Add(time.Duration(i)*time.Second), []byte("{}"))
		require.NoError(t, err)
	}

	deleted, err := repo.DeleteOldest(dir, 2, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"20261017_120000.json", "20261017_120001.json"}, deleted)

	names, err := repo.ListTranscripts(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"20261017_120002.json", "20261017_120003.json"}, names)

	none, err := repo.DeleteOldest(dir, 0, "")
	require.NoError(t, err)
	assert.Empty(t, none)

	rest, err := repo.DeleteOldest(dir, 10, "20261017_120002.json")
	require.NoError(t, err)
	assert.Equal(t, []string{"20261017_120003.json"}, rest)

	names, err = repo.ListTranscripts(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"20261017_120002.json"}, names, "keep is spared")
}

func TestDeleteTranscript_Missing(t *testing.T) {
	repo := NewFSRepository(t.TempDir())
	err := repo.DeleteTranscript(filepath.Join(repo.root, "missing.json"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolveTranscript(t *testing.T) {
	root := t.TempDir()
	repo := NewFSRepository(root)
	dir := filepath.Join(root, "u", "20261017_120000_s")
	require.NoError(t, os.MkdirAll(dir, 0750))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "20261017_120000.json"), []byte("{}"), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(filepath.Dir(root), "outside.json"), []byte("{}"), 0600))
	t.Cleanup(func() { _ = os.Remove(filepath.Join(filepath.Dir(root), "outside.json")) })

	path, err := repo.ResolveTranscript("u/20261017_120000_s/20261017_120000.json")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "20261017_120000.json"), path)

	_, err = repo.ResolveTranscript("u/20261017_120000_s/missing.json")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = repo.ResolveTranscript("u")
	assert.ErrorIs(t, err, ErrNotFound, "directories are not transcripts")

	_, err = repo.ResolveTranscript("../outside.json")
	assert.ErrorIs(t, err, ErrNotFound, "paths must not escape the root")
}

func TestDeleteSession(t *testing.T) {
	root := t.TempDir()
	repo := NewFSRepository(root)
	dir, err := repo.FindOrCreateSession(identity.Identity{UserID: "u1234567", SessionID: "s1234567"}, baseTime)
	require.NoError(t, err)
	_, err = repo.WriteTranscript(dir, baseTime, []byte("{}"))
	require.NoError(t, err)

	assert.ErrorIs(t, repo.DeleteSession("u1234567", "nope"), ErrNotFound)
	assert.ErrorIs(t, repo.DeleteSession("..", "u1234567"), ErrNotFound)
	assert.ErrorIs(t, repo.DeleteSession("u1234567", ""), ErrNotFound)

	require.NoError(t, repo.DeleteSession("u1234567", filepath.Base(dir)))
	assert.NoDirExists(t, dir)
	assert.DirExists(t, filepath.Join(root, "u1234567"))
}

func TestWalkTranscripts(t *testing.T) {
	root := t.TempDir()
	repo := NewFSRepository(root)
	for _, id := range []identity.Identity{{UserID: "u1", SessionID: "s1"}, {}} {
		dir, err := repo.FindOrCreateSession(id, baseTime)
		require.NoError(t, err)
		_, err = repo.WriteTranscript(dir, baseTime, []byte(`{"ok":true}`))
		require.NoError(t, err)
	}

	var seen []string
	err := repo.WalkTranscripts(func(rel string, data []byte) error {
		seen = append(seen, rel)
		assert.JSONEq(t, `{"ok":true}`, string(data))
		return nil
	})
	require.NoError(t, err)
	sort.Strings(seen)
	assert.Equal(t, []string{
		"u1/20261017_120000_s1/20261017_120000.json",
		"unknown_user/20261017_120000_unknown_session/20261017_120000.json",
	}, seen)

	missing := NewFSRepository(filepath.Join(root, "does-not-exist"))
	require.NoError(t, missing.WalkTranscripts(func(string, []byte) error {
		t.Fatal("no transcripts expected")
		return nil
	}))
}

func TestLockSession_SerializesSameSession(t *testing.T) {
	repo := NewFSRepository(t.TempDir())
	id := identity.Identity{UserID: "u", SessionID: "s"}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		active  int
		maxSeen int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := repo.LockSession(id)
			mu.Lock()
			active++
			if active > maxSeen {
				maxSeen = active
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			active--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxSeen)
	assert.Zero(t, liveKeys(repo.locks), "released keys are forgotten")
}

func TestSessionSuffixFromDirName(t *testing.T) {
	assert.Equal(t, "a99ef0d8", sessionSuffixFromDirName("20261017_120000_a99ef0d8"))
	assert.Equal(t, UnknownSession, sessionSuffixFromDirName("20261017_120000_unknown_session"))
	assert.Equal(t, "legacy", sessionSuffixFromDirName("legacy"))
}

func TestCheckWritable(t *testing.T) {
	root := filepath.Join(t.TempDir(), "nested", "logs")
	repo := NewFSRepository(root)

	require.NoError(t, repo.CheckWritable())
	assert.DirExists(t, root)
	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Empty(t, entries, "health file is removed")
}

// liveKeys returns the number of keys the mutex still tracks.
func liveKeys(k *keyedMutex) int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
