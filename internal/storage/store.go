// Package storage implements the file store: create, upsert, delete and read
// operations against a filesystem rooted at the configured uploads directory.
// All operations take a resolved pathutil.RelativePath, so nothing here can
// touch a location outside the root.
//
// The store is built on afero.Fs. Production wires an OS filesystem scoped
// with afero.NewBasePathFs; tests use afero.NewMemMapFs.
package storage

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/spf13/afero"

	"folio/internal/pathutil"
)

// Sentinel errors for conditions the HTTP layer maps to client-facing
// statuses. Any other error from a Store method is an I/O failure wrapping
// the underlying cause.
var (
	ErrAlreadyExists = errors.New("file already exists")
	ErrNotFound      = errors.New("file not found")
	ErrNotAFile      = errors.New("path is not a file")
)

// WriteResult distinguishes the two outcomes of an upsert.
type WriteResult int

const (
	Created WriteResult = iota
	Updated
)

// Store performs filesystem operations under a fixed root.
type Store struct {
	fs afero.Fs
}

// New returns a Store operating on fs. The filesystem must already be scoped
// to the storage root (see NewOSStore).
func New(fs afero.Fs) *Store {
	return &Store{fs: fs}
}

// NewOSStore returns a Store backed by the operating system filesystem,
// scoped to root. The directory is created when missing.
func NewOSStore(root string) (*Store, error) {
	base := afero.NewOsFs()
	if err := base.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root %s: %w", root, err)
	}
	return New(afero.NewBasePathFs(base, root)), nil
}

// Create writes content to a new file at p, creating parent directories as
// needed. The file is opened with O_EXCL so two concurrent creates for the
// same path cannot both succeed; the loser gets ErrAlreadyExists.
func (s *Store) Create(p pathutil.RelativePath, content io.Reader) error {
	if err := s.ensureParents(p); err != nil {
		return err
	}

	f, err := s.fs.OpenFile(p.String(), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return fmt.Errorf("create %s: %w", p, ErrAlreadyExists)
		}
		return fmt.Errorf("create %s: %w", p, err)
	}

	if _, err := io.Copy(f, content); err != nil {
		_ = f.Close()
		_ = s.fs.Remove(p.String())
		return fmt.Errorf("write %s: %w", p, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", p, err)
	}
	return nil
}

// Upsert writes content to p, replacing any existing file. The content is
// staged in a temporary file in the target directory and renamed into place,
// so readers observe either the old bytes or the new bytes, never a mix.
// Reports whether the file was created or updated.
func (s *Store) Upsert(p pathutil.RelativePath, content io.Reader) (WriteResult, error) {
	existed, err := s.Exists(p)
	if err != nil {
		return 0, err
	}

	if err := s.ensureParents(p); err != nil {
		return 0, err
	}

	dir := p.Dir()
	if dir == "" {
		dir = "."
	}
	tmp, err := afero.TempFile(s.fs, dir, ".upsert-*")
	if err != nil {
		return 0, fmt.Errorf("stage %s: %w", p, err)
	}
	tmpName := tmp.Name()

	if _, err := io.Copy(tmp, content); err != nil {
		_ = tmp.Close()
		_ = s.fs.Remove(tmpName)
		return 0, fmt.Errorf("write %s: %w", p, err)
	}
	if err := tmp.Close(); err != nil {
		_ = s.fs.Remove(tmpName)
		return 0, fmt.Errorf("close %s: %w", p, err)
	}

	if err := s.fs.Rename(tmpName, p.String()); err != nil {
		_ = s.fs.Remove(tmpName)
		return 0, fmt.Errorf("rename %s: %w", p, err)
	}

	if existed {
		return Updated, nil
	}
	return Created, nil
}

// Delete removes the file at p. Fails with ErrNotFound when nothing exists
// there and ErrNotAFile when the path names a directory.
func (s *Store) Delete(p pathutil.RelativePath) error {
	info, err := s.fs.Stat(p.String())
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("delete %s: %w", p, ErrNotFound)
		}
		return fmt.Errorf("stat %s: %w", p, err)
	}
	if info.IsDir() {
		return fmt.Errorf("delete %s: %w", p, ErrNotAFile)
	}
	if err := s.fs.Remove(p.String()); err != nil {
		return fmt.Errorf("delete %s: %w", p, err)
	}
	return nil
}

// RemoveIfExists deletes the file at p if present. An already-absent file is
// not an error; the boolean reports whether anything was removed. This is the
// idempotent form used by the expiration activity.
func (s *Store) RemoveIfExists(p pathutil.RelativePath) (bool, error) {
	err := s.fs.Remove(p.String())
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("remove %s: %w", p, err)
	}
	return true, nil
}

// Exists reports whether a file or directory is present at p.
func (s *Store) Exists(p pathutil.RelativePath) (bool, error) {
	ok, err := afero.Exists(s.fs, p.String())
	if err != nil {
		return false, fmt.Errorf("stat %s: %w", p, err)
	}
	return ok, nil
}

// Open opens the file at p for reading.
func (s *Store) Open(p pathutil.RelativePath) (afero.File, error) {
	f, err := s.fs.Open(p.String())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("open %s: %w", p, ErrNotFound)
		}
		return nil, fmt.Errorf("open %s: %w", p, err)
	}
	return f, nil
}

// Stat returns file metadata for p.
func (s *Store) Stat(p pathutil.RelativePath) (os.FileInfo, error) {
	info, err := s.fs.Stat(p.String())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("stat %s: %w", p, ErrNotFound)
		}
		return nil, fmt.Errorf("stat %s: %w", p, err)
	}
	return info, nil
}

// HTTPFileSystem exposes the storage root as an http.FileSystem for read-only
// serving of stored files.
func (s *Store) HTTPFileSystem() http.FileSystem {
	return afero.NewHttpFs(afero.NewReadOnlyFs(s.fs))
}

func (s *Store) ensureParents(p pathutil.RelativePath) error {
	dir := p.Dir()
	if dir == "" {
		return nil
	}
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directories for %s: %w", p, err)
	}
	return nil
}
