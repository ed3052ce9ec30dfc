// Package backlog implements the disk-persistent spill store: failed or
// unsent batches are written to a flat directory, replayed later, and
// evicted oldest-first when a disk-space ceiling is exceeded (spec.md
// §4.E).
package backlog

import (
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sort"
)

const (
	// reclaimEvery triggers a reclaim pass after this many successful spills.
	reclaimEvery = 10
	// replayBatchSize is the maximum number of ids submitted per replay pass.
	replayBatchSize = 25
)

// Batch is one backlog entry read back off disk, still holding its
// advisory lock; the caller must call Store.Unlock(id) once it has
// finished dispatching or has given up.
type Batch struct {
	ID    string
	Bytes []byte
}

// Store coordinates one backlog directory.
type Store struct {
	dir            string
	diskSpaceCeil  int64
	locks          *lockRegistry
	spillsSinceGC  int
}

// New creates a Store rooted at dir. A zero diskSpaceCeil disables
// reclaim.
func New(dir string, diskSpaceCeil int64) *Store {
	return &Store{
		dir:           dir,
		diskSpaceCeil: diskSpaceCeil,
		locks:         newLockRegistry(),
	}
}

func (s *Store) batchPath(id string) string {
	return filepath.Join(s.dir, id+".batch")
}

func (s *Store) lockPath(id string) string {
	return filepath.Join(s.dir, id+".batch.lock")
}

// Exists reports whether id's batch file is already on disk.
func (s *Store) Exists(id string) bool {
	_, err := os.Stat(s.batchPath(id))
	return err == nil
}

// Spill writes bytes to <id>.batch if it doesn't already exist.
// triggerReclaim reports whether a reclaim pass should now run (every 10th successful
// spill), letting the caller decide when to actually invoke Reclaim
// against its own executor.
func (s *Store) Spill(id string, data []byte) (triggerReclaim bool, err error) {
	if s.Exists(id) {
		return false, nil
	}

	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return false, fmt.Errorf("backlog: mkdir %s: %w", s.dir, err)
	}

	if err := os.WriteFile(s.batchPath(id), data, 0644); err != nil {
		return false, fmt.Errorf("backlog: spill %s: %w", id, err)
	}

	s.spillsSinceGC++
	if s.spillsSinceGC >= reclaimEvery {
		s.spillsSinceGC = 0
		return true, nil
	}
	return false, nil
}

// Lock acquires the exclusive advisory lock for id. ok is false with a nil
// error if another process holds the lock; the caller should simply skip
// the entry for this pass. Any other OS failure is returned as err.
func (s *Store) Lock(id string) (ok bool, err error) {
	return s.locks.tryLock(s.lockPath(id))
}

// Unlock releases id's advisory lock. Safe to call even if the lock
// isn't held by this process.
func (s *Store) Unlock(id string) error {
	return s.locks.unlock(s.lockPath(id))
}

// Read returns id's batch bytes. The caller must hold the lock.
func (s *Store) Read(id string) ([]byte, error) {
	return os.ReadFile(s.batchPath(id))
}

// Remove deletes id's batch file, e.g. after a successful dispatch.
func (s *Store) Remove(id string) error {
	err := os.Remove(s.batchPath(id))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// Replay lists every *.batch file in the backlog directory, shuffles
// them, and locks up to replayBatchSize of them. Entries whose lock
// can't be acquired this pass are skipped (not counted against the
// limit). The caller is responsible for dispatching each returned batch
// and eventually calling Unlock, whether or not dispatch succeeds.
// remaining counts the *.batch files left unvisited once replayBatchSize
// batches were locked (entries skipped for a failed lock or read are not
// counted), so the caller can decide whether to reschedule replay sooner.
func (s *Store) Replay() (batches []Batch, remaining int, err error) {
	ids, err := s.listIDs()
	if err != nil {
		return nil, 0, err
	}

	rand.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })

	for _, id := range ids {
		if len(batches) >= replayBatchSize {
			remaining++
			continue
		}

		locked, lockErr := s.Lock(id)
		if lockErr != nil || !locked {
			continue
		}

		data, readErr := s.Read(id)
		if readErr != nil {
			_ = s.Unlock(id)
			continue
		}

		batches = append(batches, Batch{ID: id, Bytes: data})
	}

	return batches, remaining, nil
}

// listIDs returns the batch ids (filenames without the .batch suffix)
// currently on disk. Directory listing is authoritative; there is no
// separate index file.
func (s *Store) listIDs() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("backlog: list %s: %w", s.dir, err)
	}

	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		const suffix = ".batch"
		if len(name) > len(suffix) && name[len(name)-len(suffix):] == suffix {
			ids = append(ids, name[:len(name)-len(suffix)])
		}
	}
	return ids, nil
}

// fileInfo is one entry considered during reclaim.
type fileInfo struct {
	id    string
	path  string
	size  int64
	ctime int64
}

// Reclaim enforces the disk-space ceiling by deleting batch files
// oldest-first (by ctime) until the total size is at or below the
// ceiling. It never deletes the last remaining entry, so the total can
// stay above the ceiling, and entries whose lock cannot be acquired are
// skipped. A no-op if diskSpaceCeil is zero. A delete race (file already
// gone) counts as cleanupFail but is not an error.
func (s *Store) Reclaim() (deleted, cleanupSuccess, cleanupFail int, err error) {
	if s.diskSpaceCeil <= 0 {
		return 0, 0, 0, nil
	}

	ids, err := s.listIDs()
	if err != nil {
		return 0, 0, 0, err
	}

	var files []fileInfo
	var total int64
	for _, id := range ids {
		path := s.batchPath(id)
		info, statErr := os.Stat(path)
		if statErr != nil {
			continue
		}
		ctime := changeTime(info)
		files = append(files, fileInfo{id: id, path: path, size: info.Size(), ctime: ctime})
		total += info.Size()
	}

	if total <= s.diskSpaceCeil {
		return 0, 0, 0, nil
	}

	sort.Slice(files, func(i, j int) bool { return files[i].ctime < files[j].ctime })

	for _, f := range files {
		if total <= s.diskSpaceCeil {
			break
		}
		if len(files)-deleted-cleanupFail <= 1 {
			// Deleting the only remaining entry would empty the spill for no
			// gain once nothing older is left; stop here (scenario 5).
			break
		}

		locked, lockErr := s.Lock(f.id)
		if lockErr != nil || !locked {
			continue
		}

		if err := os.Remove(f.path); err != nil {
			if os.IsNotExist(err) {
				cleanupFail++
			} else {
				_ = s.Unlock(f.id)
				continue
			}
		} else {
			cleanupSuccess++
			deleted++
			total -= f.size
		}
		_ = s.Unlock(f.id)
	}

	return deleted, cleanupSuccess, cleanupFail, nil
}
