package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// File permission constants.
const (
	ledgerFilePermission = 0o600
	ledgerDirPermission  = 0o755
)

// FilePersister stores the ledger as a JSON array of ids.
type FilePersister struct {
	path string
}

// NewFilePersister returns a persister backed by the file at path.
func NewFilePersister(path string) *FilePersister {
	return &FilePersister{path: path}
}

// Path returns the backing file location.
func (p *FilePersister) Path() string { return p.path }

// Load reads the id list. A missing file is an empty ledger.
func (p *FilePersister) Load(_ context.Context) ([]string, error) {
	data, err := os.ReadFile(p.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", p.path, err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, fmt.Errorf("decode %s: %w", p.path, err)
	}
	return ids, nil
}

// Save replaces the file atomically: write a sibling temp file, fsync, rename.
func (p *FilePersister) Save(_ context.Context, ids []string) error {
	if ids == nil {
		ids = []string{}
	}
	data, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("encode ledger: %w", err)
	}

	dir := filepath.Dir(p.path)
	if err := os.MkdirAll(dir, ledgerDirPermission); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(p.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write %s: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmpName, err)
	}
	if err := os.Chmod(tmpName, ledgerFilePermission); err != nil {
		return fmt.Errorf("chmod %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, p.path); err != nil {
		return fmt.Errorf("rename to %s: %w", p.path, err)
	}
	return nil
}

// MemoryPersister keeps the ledger in process memory. Tests use it as a fake
// storage backend; FailSaves makes every subsequent Save fail.
type MemoryPersister struct {
	mu      sync.Mutex
	ids     []string
	saveErr error
	saves   int
}

// NewMemoryPersister returns a persister preloaded with ids.
func NewMemoryPersister(ids ...string) *MemoryPersister {
	return &MemoryPersister{ids: append([]string(nil), ids...)}
}

// Load returns a copy of the stored ids.
func (p *MemoryPersister) Load(_ context.Context) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.ids...), nil
}

// Save stores a copy of ids unless a failure was injected.
func (p *MemoryPersister) Save(_ context.Context, ids []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.saveErr != nil {
		return p.saveErr
	}
	p.ids = append([]string(nil), ids...)
	p.saves++
	return nil
}

// FailSaves injects err into every following Save; nil restores normal behavior.
func (p *MemoryPersister) FailSaves(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.saveErr = err
}

// Saves returns the number of successful saves.
func (p *MemoryPersister) Saves() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.saves
}
