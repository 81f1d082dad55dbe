package sessionstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/kingrea/lattice-recipes/internal/pause"
)

// File stores each snapshot as an indented JSON document named after its
// token inside one directory.
type File struct {
	dir string
}

var _ pause.SessionStore = (*File)(nil)

// NewFile creates a store rooted at dir. The directory is created on the
// first Set.
func NewFile(dir string) *File {
	return &File{dir: dir}
}

// Dir returns the store directory.
func (f *File) Dir() string {
	return f.dir
}

// Get reads the snapshot persisted under token.
func (f *File) Get(ctx context.Context, token string) (pause.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return pause.Snapshot{}, err
	}
	path, err := f.path(token)
	if err != nil {
		return pause.Snapshot{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return pause.Snapshot{}, fmt.Errorf("%w: %s", pause.ErrSnapshotNotFound, token)
		}
		return pause.Snapshot{}, fmt.Errorf("sessionstore: read %s: %w", token, err)
	}
	var snapshot pause.Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return pause.Snapshot{}, fmt.Errorf("sessionstore: decode %s: %w", token, err)
	}
	return snapshot, nil
}

// Set writes the snapshot to disk with best-effort atomicity.
func (f *File) Set(ctx context.Context, token string, snapshot pause.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := f.path(token)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return fmt.Errorf("sessionstore: ensure dir: %w", err)
	}
	encoded, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("sessionstore: encode %s: %w", token, err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(encoded, '\n'), 0o644); err != nil {
		return fmt.Errorf("sessionstore: write %s: %w", token, err)
	}
	return os.Rename(tmp, path)
}

// Delete removes the snapshot file. Deleting a missing token is not an error.
func (f *File) Delete(ctx context.Context, token string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := f.path(token)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("sessionstore: delete %s: %w", token, err)
	}
	return nil
}

func (f *File) path(token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" || strings.ContainsAny(token, `/\`) || token == "." || token == ".." {
		return "", fmt.Errorf("sessionstore: invalid token %q", token)
	}
	return filepath.Join(f.dir, token+".json"), nil
}
