package state

import (
	"path/filepath"
	"strings"
)

const DefaultDataDir = "./.fieldsync"

// Init resolves the data dir and makes sure its layout exists.
func Init(dataDir string) (Paths, error) {
	path := strings.TrimSpace(dataDir)
	if path == "" {
		path = DefaultDataDir
	}
	path = filepath.Clean(path)
	if err := EnsureStateDirs(path); err != nil {
		return Paths{}, err
	}
	return PathsFor(path), nil
}
