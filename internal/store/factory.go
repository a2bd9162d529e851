package store

import (
	"fmt"
	"path/filepath"
)

// NewStore opens the experiment store of the given kind rooted at dataDir.
// The SQLite backend keeps its database at <dataDir>/experiments.db.
func NewStore(kind, dataDir string) (Store, error) {
	switch kind {
	case "", "fs":
		fs, err := NewFSStore(dataDir)
		if err != nil {
			return nil, err
		}
		return fs, nil
	case "sqlite":
		db, err := NewSQLiteStore(filepath.Join(dataDir, "experiments.db"), dataDir)
		if err != nil {
			return nil, err
		}
		return db, nil
	default:
		return nil, fmt.Errorf("unsupported store backend: %s", kind)
	}
}

// CloseIfSupported closes stores that hold resources.
func CloseIfSupported(store Store) error {
	closer, ok := store.(interface{ Close() error })
	if !ok {
		return nil
	}
	return closer.Close()
}
