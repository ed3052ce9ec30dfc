package backlog

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpill_WritesOnceAndTriggersReclaimEvery10(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, 0)

	triggered := false
	for i := 0; i < 10; i++ {
		var err error
		triggered, err = s.Spill("id-"+string(rune('a'+i)), []byte("data"))
		require.NoError(t, err)
	}
	assert.True(t, triggered, "expected the 10th spill to signal a reclaim trigger")
	assert.True(t, s.Exists("id-a"), "expected id-a.batch to exist")
}

func TestSpill_DoesNotOverwriteExisting(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, 0)

	_, err := s.Spill("dup", []byte("first"))
	require.NoError(t, err)
	_, err = s.Spill("dup", []byte("second"))
	require.NoError(t, err)

	data, err := s.Read("dup")
	require.NoError(t, err)
	assert.Equal(t, "first", string(data))
}

func TestReplay_LocksAndReturnsBatches(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, 0)

	for _, id := range []string{"a", "b", "c"} {
		_, err := s.Spill(id, []byte(id))
		require.NoError(t, err)
	}

	batches, remaining, err := s.Replay()
	require.NoError(t, err)
	assert.Len(t, batches, 3)
	assert.Equal(t, 0, remaining)

	for _, b := range batches {
		assert.True(t, s.locks.isHeld(s.lockPath(b.ID)), "expected lock held for replayed batch %s", b.ID)
	}
}

func TestReplay_SkipsLockedEntry(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, 0)

	_, err := s.Spill("locked", []byte("x"))
	require.NoError(t, err)

	ok, err := s.Lock("locked")
	require.NoError(t, err)
	require.True(t, ok, "expected to acquire lock")

	// A second, independent store pointed at the same directory simulates a
	// second process: it gets its own lock registry, so its attempt to lock
	// the same path contends for real.
	other := New(dir, 0)
	batches, _, err := other.Replay()
	require.NoError(t, err)
	assert.Empty(t, batches, "expected the locked entry to be skipped")
}

func TestReclaim_DeletesOldestFirstUntilUnderCeiling(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, 250)

	// Real inode ctime can't be backdated; create files in order instead so
	// their true ctimes are already oldest-first, matching the scenario's
	// A(100B) < B(200B) < C(300B) by creation time.
	writeSized(t, dir, "a", 100)
	time.Sleep(10 * time.Millisecond)
	writeSized(t, dir, "b", 200)
	time.Sleep(10 * time.Millisecond)
	writeSized(t, dir, "c", 300)

	deleted, cleanupSuccess, cleanupFail, err := s.Reclaim()
	require.NoError(t, err)

	assert.Equal(t, 2, deleted)
	assert.Equal(t, 2, cleanupSuccess)
	assert.Equal(t, 0, cleanupFail)
	assert.False(t, s.Exists("a"))
	assert.False(t, s.Exists("b"))
	assert.True(t, s.Exists("c"), "expected c to remain, even though total still exceeds the ceiling")
}

func TestReclaim_NoopWhenCeilingUnset(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, 0)
	writeSized(t, dir, "a", 100)

	deleted, _, _, err := s.Reclaim()
	require.NoError(t, err)
	assert.Equal(t, 0, deleted, "expected no deletions when diskSpaceCeil is 0")
}

// writeSized writes an id.batch file of the given size.
func writeSized(t *testing.T, dir, id string, size int) {
	t.Helper()
	path := filepath.Join(dir, id+".batch")
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0644))
}
