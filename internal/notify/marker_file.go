package notify

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

// FileMarker keeps the marker as {"timestamp": <seconds>} in a JSON file.
// Writes go through a temp file and rename so readers never see a partial
// file. Swaps are atomic within one process only; separate processes
// sharing the file fall back to last writer wins.
type FileMarker struct {
	path string
	mu   sync.Mutex
}

func NewFileMarker(path string) *FileMarker {
	return &FileMarker{path: path}
}

type fileMarkerDoc struct {
	Timestamp float64 `json:"timestamp"`
}

func (m *FileMarker) Last(context.Context) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.readLocked()
}

func (m *FileMarker) Record(_ context.Context, ts float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writeLocked(ts)
}

func (m *FileMarker) CompareAndSwap(_ context.Context, old, next float64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, err := m.readLocked()
	if err != nil {
		return false, err
	}
	if cur != old {
		return false, nil
	}
	if err := m.writeLocked(next); err != nil {
		return false, err
	}
	return true, nil
}

func (m *FileMarker) readLocked() (float64, error) {
	b, err := os.ReadFile(m.path)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read alert marker: %w", err)
	}
	var doc fileMarkerDoc
	if json.Unmarshal(b, &doc) != nil || doc.Timestamp < 0 {
		return 0, nil
	}
	return doc.Timestamp, nil
}

func (m *FileMarker) writeLocked(ts float64) error {
	b, err := json.Marshal(fileMarkerDoc{Timestamp: ts})
	if err != nil {
		return err
	}
	dir := filepath.Dir(m.path)
	tmp, err := os.CreateTemp(dir, ".alert-marker-*")
	if err != nil {
		return fmt.Errorf("write alert marker: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write alert marker: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write alert marker: %w", err)
	}
	if err := os.Rename(tmp.Name(), m.path); err != nil {
		return fmt.Errorf("write alert marker: %w", err)
	}
	return nil
}
