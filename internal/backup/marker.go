package backup

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// LockFileName is the marker that exists while a persist cycle runs.
const LockFileName = "running.lock"

// ErrPersistInProgress is returned when an exclusive marker is already held.
var ErrPersistInProgress = errors.New("persist already in progress")

// acquireMarker creates the lock marker and returns a release func that
// removes it. The marker is advisory unless exclusive is set, in which case an
// existing marker makes the call fail with ErrPersistInProgress.
func acquireMarker(dir string, exclusive bool) (func() error, error) {
	path := filepath.Join(dir, LockFileName)

	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if exclusive {
		flags = os.O_CREATE | os.O_WRONLY | os.O_EXCL
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		if exclusive && errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("%w: %s", ErrPersistInProgress, path)
		}
		return nil, fmt.Errorf("create lock marker %q: %w", path, err)
	}

	return func() error {
		closeErr := f.Close()
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove lock marker %q: %w", path, err)
		}
		return closeErr
	}, nil
}

// recoverDirectory clears what an interrupted persist leaves behind: the lock
// marker and staged archive files that were never renamed into place.
func (m *Manager) recoverDirectory() {
	marker := filepath.Join(m.dir, LockFileName)
	if _, err := os.Stat(marker); err == nil {
		m.log.Warn("previous persist did not complete, removing stale lock marker",
			"marker", marker,
		)
		if err := os.Remove(marker); err != nil {
			m.log.Error("remove stale lock marker failed",
				"marker", marker,
				"error", err.Error(),
			)
		}
	}

	entries, err := os.ReadDir(m.dir)
	if err != nil {
		m.log.Warn("scan backup directory failed", "directory", m.dir, "error", err.Error())
		return
	}
	for _, e := range entries {
		name := e.Name()
		if !e.Type().IsRegular() || !strings.HasPrefix(name, "."+ArchivePrefix) || !strings.HasSuffix(name, ".tmp") {
			continue
		}
		path := filepath.Join(m.dir, name)
		if err := os.Remove(path); err != nil {
			m.log.Warn("remove staged archive failed", "file", path, "error", err.Error())
			continue
		}
		m.log.Warn("removed staged archive left by an interrupted persist", "file", path)
	}
}
