package state

import "path/filepath"

type Paths struct {
	Data    string
	Store   string
	State   string
	Logs    string
	Backups string
	Tmp     string
}

func PathsFor(dataDir string) Paths {
	statePath := filepath.Join(dataDir, "state")
	return Paths{
		// base
		Data: dataDir,

		// mains
		Store: filepath.Join(dataDir, "store"),

		// state
		State:   statePath,
		Logs:    filepath.Join(statePath, "logs"),
		Backups: filepath.Join(statePath, "backups"),
		Tmp:     filepath.Join(statePath, "tmp"),
	}
}

// Convenience helpers
func StorePath(dataDir string) string   { return PathsFor(dataDir).Store }
func LogsPath(dataDir string) string    { return PathsFor(dataDir).Logs }
func BackupsPath(dataDir string) string { return PathsFor(dataDir).Backups }
