package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ghalamif/kinsumer/internal/ports"
)

// FileCheckpointer stores every shard's checkpoint in a single JSON object
// on disk. Each Checkpoint rewrites the whole file via temp file + fsync +
// rename, so a crash mid-write leaves the previous file intact.
type FileCheckpointer struct {
	mu          sync.Mutex
	path        string
	checkpoints map[string]string
}

// NewFileCheckpointer loads path if it exists. A leading "~" is expanded to
// the user's home directory.
func NewFileCheckpointer(path string) (*FileCheckpointer, error) {
	expanded, err := expandHome(path)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(expanded), 0o755); err != nil {
		return nil, err
	}

	f := &FileCheckpointer{
		path:        expanded,
		checkpoints: make(map[string]string),
	}
	if err := f.load(); err != nil {
		return nil, err
	}
	return f, nil
}

// Path returns the resolved location of the checkpoint file.
func (f *FileCheckpointer) Path() string { return f.path }

func (f *FileCheckpointer) load() error {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if strings.TrimSpace(string(data)) == "" {
		return nil
	}
	var loaded map[string]string
	if err := json.Unmarshal(data, &loaded); err != nil {
		return fmt.Errorf("checkpoint file %s: %w", f.path, err)
	}
	if loaded != nil {
		f.checkpoints = loaded
	}
	return nil
}

func (f *FileCheckpointer) GetCheckpoints(context.Context) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return maps.Clone(f.checkpoints), nil
}

func (f *FileCheckpointer) GetCheckpoint(_ context.Context, shardID string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	seq, ok := f.checkpoints[shardID]
	return seq, ok, nil
}

// Checkpoint holds the lock across the read-modify-write so concurrent shard
// workers never lose each other's updates. The in-memory view only changes
// once the file is durable.
func (f *FileCheckpointer) Checkpoint(_ context.Context, shardID, sequence string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	next := maps.Clone(f.checkpoints)
	next[shardID] = sequence
	if err := f.persistLocked(next); err != nil {
		return fmt.Errorf("checkpoint shard %s: %w", shardID, err)
	}
	f.checkpoints = next
	return nil
}

func (f *FileCheckpointer) persistLocked(checkpoints map[string]string) error {
	data, err := json.Marshal(checkpoints)
	if err != nil {
		return err
	}

	dir := filepath.Dir(f.path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		return err
	}
	return syncDir(dir)
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	// Some filesystems refuse fsync on directories; the rename already happened.
	_ = d.Sync()
	return nil
}

func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("expand %s: %w", path, err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

var _ ports.Checkpointer = (*FileCheckpointer)(nil)
