// Package filestore keeps each order's uploaded print files in a directory
// tree rooted at a single storage directory.
package filestore

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// ErrInvalidName is returned for order ids or file names that would escape
// the order's directory.
var ErrInvalidName = errors.New("invalid file or order name")

// Store lays files out as <root>/orders/<orderID>/<name>.
type Store struct {
	fs   afero.Fs
	root string
}

// New returns a store rooted at root on fs. The root is created on demand.
func New(fs afero.Fs, root string) *Store {
	return &Store{fs: fs, root: filepath.Clean(root)}
}

// NewOS returns a store on the host filesystem.
func NewOS(root string) *Store {
	return New(afero.NewOsFs(), root)
}

// Root returns the storage directory.
func (s *Store) Root() string {
	return s.root
}

func cleanSegment(name string) (string, error) {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return name, nil
}

// OrderDir returns the directory holding the files of orderID.
func (s *Store) OrderDir(orderID string) (string, error) {
	id, err := cleanSegment(orderID)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.root, "orders", id), nil
}

// Write stores r as the file name of orderID and returns its path relative
// to the root along with the number of bytes written.
func (s *Store) Write(orderID, name string, r io.Reader) (string, int64, error) {
	dir, err := s.OrderDir(orderID)
	if err != nil {
		return "", 0, err
	}
	name, err = cleanSegment(name)
	if err != nil {
		return "", 0, err
	}
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return "", 0, fmt.Errorf("create order directory: %w", err)
	}

	full := filepath.Join(dir, name)
	f, err := s.fs.OpenFile(full, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return "", 0, fmt.Errorf("create %s: %w", full, err)
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", n, fmt.Errorf("write %s: %w", full, err)
	}

	rel, err := filepath.Rel(s.root, full)
	if err != nil {
		return "", n, err
	}
	return filepath.ToSlash(rel), n, nil
}

// Usage reports the number of files and total bytes stored for orderID.
// A missing directory counts as empty.
func (s *Store) Usage(orderID string) (files int, bytes int64, err error) {
	dir, err := s.OrderDir(orderID)
	if err != nil {
		return 0, 0, err
	}
	exists, err := afero.DirExists(s.fs, dir)
	if err != nil || !exists {
		return 0, 0, err
	}
	err = afero.Walk(s.fs, dir, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			files++
			bytes += info.Size()
		}
		return nil
	})
	return files, bytes, err
}

// RemoveOrder deletes every file of orderID and returns how many bytes were
// freed. Removing an order with no directory is not an error.
func (s *Store) RemoveOrder(orderID string) (int64, error) {
	_, freed, err := s.Usage(orderID)
	if err != nil {
		return 0, fmt.Errorf("measure order %s: %w", orderID, err)
	}
	dir, _ := s.OrderDir(orderID)
	if err := s.fs.RemoveAll(dir); err != nil {
		return 0, fmt.Errorf("remove order %s: %w", orderID, err)
	}
	return freed, nil
}
