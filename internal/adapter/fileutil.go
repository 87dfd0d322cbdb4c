package adapter

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

const lockRetryDelay = 50 * time.Millisecond

// lockPath names the lock file for target inside dir. An empty dir keeps the
// lock next to target.
func lockPath(dir, target string) string {
	if dir == "" {
		return target + ".lock"
	}
	return filepath.Join(dir, filepath.Base(target)+".lock")
}

// withFileLock holds an advisory lock on lockPath(dir, path) while fn runs.
func withFileLock(ctx context.Context, dir, path string, fn func() error) error {
	lock := lockPath(dir, path)
	if err := os.MkdirAll(filepath.Dir(lock), 0o755); err != nil {
		return fmt.Errorf("lock dir: %w", err)
	}

	fl := flock.New(lock)

	locked, err := fl.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return fmt.Errorf("lock %s: %w", path, err)
	}
	if !locked {
		return fmt.Errorf("lock %s: not acquired", path)
	}
	defer func() {
		_ = fl.Unlock()
	}()

	return fn()
}

// writeFileAtomic writes to a sibling temp file and renames it over path so
// readers never see a partial file. The existing mode is kept.
func writeFileAtomic(path string, data []byte, defaultMode fs.FileMode) error {
	mode := defaultMode
	if st, err := os.Stat(path); err == nil {
		mode = st.Mode().Perm()
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("stat %s: %w", path, err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, mode); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	// WriteFile does not change the mode of a leftover temp file.
	if err := os.Chmod(tmp, mode); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("chmod %s: %w", tmp, err)
	}

	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename %s: %w", tmp, err)
	}

	return nil
}

// firstExisting returns the first path that exists.
func firstExisting(paths []string) (string, error) {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("none of %v exists: %w", paths, fs.ErrNotExist)
}
