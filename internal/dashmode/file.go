package dashmode

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"sync"

	"homedash/internal/config"
	appLog "homedash/internal/log"
)

// FileStore keeps the override in a small JSON file.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore stores state at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (f *FileStore) Save(_ context.Context, st State) error {
	data, err := json.Marshal(st)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return config.WriteFileAtomic(f.path, data, 0o644)
}

// Load treats a corrupt file like a missing one.
func (f *FileStore) Load(_ context.Context) (State, bool, error) {
	f.mu.Lock()
	data, err := os.ReadFile(f.path)
	f.mu.Unlock()
	if errors.Is(err, fs.ErrNotExist) {
		return State{}, false, nil
	}
	if err != nil {
		return State{}, false, err
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		appLog.Warn("dashmode: ignoring unreadable state file", "path", f.path, "err", err)
		return State{}, false, nil
	}
	return st, true, nil
}
