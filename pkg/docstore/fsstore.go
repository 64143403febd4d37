package docstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// FSStore implements [Store] on top of a local directory tree.
//
// Writes go through a temp file in the target directory followed by a rename,
// so a crash mid-write never leaves a truncated blob as the only copy.
type FSStore struct {
	root string
}

// Compile-time interface check.
var _ Store = (*FSStore)(nil)

// NewFSStore returns a filesystem-backed store rooted at root.
// The root directory is created if it does not exist.
func NewFSStore(root string) (*FSStore, error) {
	if root == "" {
		return nil, errors.New("docstore: root directory must not be empty")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("docstore: create root %q: %w", root, err)
	}
	return &FSStore{root: root}, nil
}

// Root returns the root directory of the store.
func (s *FSStore) Root() string { return s.root }

// Read returns the content of the blob at dir/name.
func (s *FSStore) Read(ctx context.Context, dir, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(s.root, dir, name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, dir, name)
	}
	if err != nil {
		return nil, fmt.Errorf("docstore: read %s/%s: %w", dir, name, err)
	}
	return data, nil
}

// Write atomically replaces the blob at dir/name via write-temp-then-rename.
func (s *FSStore) Write(ctx context.Context, dir, name string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	target := filepath.Join(s.root, dir)
	if err := os.MkdirAll(target, 0o755); err != nil {
		return fmt.Errorf("docstore: create dir %s: %w", dir, err)
	}

	// Temp file must live in the same directory as the target so the final
	// rename stays on one filesystem and remains atomic.
	tmp, err := os.CreateTemp(target, "."+name+".tmp-*")
	if err != nil {
		return fmt.Errorf("docstore: create temp for %s/%s: %w", dir, name, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("docstore: write temp for %s/%s: %w", dir, name, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("docstore: sync temp for %s/%s: %w", dir, name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("docstore: close temp for %s/%s: %w", dir, name, err)
	}

	if err := os.Rename(tmpName, filepath.Join(target, name)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("docstore: replace %s/%s: %w", dir, name, err)
	}
	return nil
}

// Exists reports whether a blob is present at dir/name.
func (s *FSStore) Exists(ctx context.Context, dir, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	_, err := os.Stat(filepath.Join(s.root, dir, name))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("docstore: stat %s/%s: %w", dir, name, err)
	}
	return true, nil
}
