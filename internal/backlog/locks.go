package backlog

import (
	"fmt"
	"os"
	"sync"

	"github.com/danjacques/gofslock/fslock"
)

// lockRegistry is a process-level, mutex-guarded table of held backlog
// locks, keyed by absolute lock file path. gofslock's flock is scoped to
// an open file description, so two acquisitions from the same process
// would otherwise contend with each other; the registry makes a second
// acquire from this process a no-op instead, per spec.md's re-entrant
// locking discipline.
type lockRegistry struct {
	mu    sync.Mutex
	held  map[string]fslock.Handle
}

func newLockRegistry() *lockRegistry {
	return &lockRegistry{held: make(map[string]fslock.Handle)}
}

// tryLock attempts to acquire the exclusive advisory lock at path. A
// second acquisition of a path already held by this process returns
// (true, nil) without touching the filesystem again ("already held").
// A lock held by another process returns (false, nil) so the caller can
// skip this entry for the current pass; any other OS error returns
// (false, err).
func (r *lockRegistry) tryLock(path string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.held[path]; ok {
		return true, nil
	}

	handle, err := fslock.Lock(path)
	if err != nil {
		if err == fslock.ErrLockHeld {
			return false, nil
		}
		return false, fmt.Errorf("backlog: lock %s: %w", path, err)
	}

	r.held[path] = handle
	return true, nil
}

// unlock releases the advisory lock at path, if held by this process, and
// removes the lock file. A path not currently held is a no-op.
func (r *lockRegistry) unlock(path string) error {
	r.mu.Lock()
	handle, ok := r.held[path]
	if ok {
		delete(r.held, path)
	}
	r.mu.Unlock()

	if !ok {
		return nil
	}
	if err := handle.Unlock(); err != nil {
		return err
	}
	// Best-effort: a missing lock file on unlink is not an error, another
	// cleanup pass may have already removed it.
	_ = os.Remove(path)
	return nil
}

// isHeld reports whether this process currently holds the lock at path.
func (r *lockRegistry) isHeld(path string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.held[path]
	return ok
}
