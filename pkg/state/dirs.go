package state

import (
	"fmt"
	"os"
)

// ensure canonical runtime folder layout exists under the data dir, not symlink, restrictive perms, writable
func EnsureStateDirs(dataDir string) error {
	p := PathsFor(dataDir)
	paths := []string{p.Store, p.Logs, p.Backups, p.Tmp}

	for _, path := range paths {
		if err := ensureDir(path); err != nil {
			return err
		}
	}
	return nil
}

func ensureDir(p string) error {
	// must be directory and not symlink if exists
	if fi, err := os.Lstat(p); err == nil {
		if fi.Mode()&os.ModeSymlink != 0 {
			return fmt.Errorf("path is a symlink: %s", p)
		}
		if !fi.IsDir() {
			return fmt.Errorf("path exists and is not a directory: %s", p)
		}
	}

	if err := os.MkdirAll(p, 0o700); err != nil {
		return fmt.Errorf("cannot create path %s: %w", p, err)
	}

	if fi, err := os.Lstat(p); err == nil && fi.Mode()&os.ModeSymlink != 0 {
		return fmt.Errorf("path is a symlink after creation: %s", p)
	}

	// check writable by creating and deleting temp file
	tmp, err := os.CreateTemp(p, ".validate-*")
	if err != nil {
		return fmt.Errorf("path not writable: %s: %w", p, err)
	}
	tmp.Close()
	_ = os.Remove(tmp.Name())
	return nil
}
