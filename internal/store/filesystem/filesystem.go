// Package filesystem provides an app.BlobStore implementation backed by the
// local filesystem. Each blob is one immutable file named by its storage name.
// Uploads are written to a hidden staging file and linked into place on commit,
// so a blob name only ever refers to complete bytes.
package filesystem

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/haukened/fleeting/internal/app"
	"github.com/haukened/fleeting/internal/domain"
)

// Ensure BlobStore implements app.BlobStore
var _ app.BlobStore = (*BlobStore)(nil)

// BlobStore implements app.BlobStore using the local filesystem.
type BlobStore struct {
	root string
}

// New returns a filesystem-backed blob store rooted at dir. The directory
// must already exist with secure permissions (0700 recommended).
func New(root string) (*BlobStore, error) {
	fi, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !fi.IsDir() {
		return nil, errors.New("blob root is not a directory")
	}
	return &BlobStore{root: root}, nil
}

// Root returns the directory holding the blobs.
func (b *BlobStore) Root() string { return b.root }

func (b *BlobStore) path(name string) string { return filepath.Join(b.root, name) }

// Create returns a writer for name. Bytes go to a staging file that becomes
// visible under name only on Commit. A taken name yields an error matching
// fs.ErrExist, either here or from Commit if another writer wins.
func (b *BlobStore) Create(name string) (app.BlobWriter, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	final := b.path(name)
	if _, err := os.Lstat(final); err == nil {
		return nil, &fs.PathError{Op: "create", Path: final, Err: fs.ErrExist}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	staging := b.path(stagingName(name))
	// #nosec G304: path is a fixed root plus a validated storage name; no traversal possible.
	f, err := os.OpenFile(staging, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	return &fileWriter{f: f, staging: staging, final: final}, nil
}

// fileWriter streams into a staging file. Commit fsyncs and links it to the
// final name; Abort closes and removes it.
type fileWriter struct {
	f       *os.File
	staging string
	final   string
	closed  bool
}

func (w *fileWriter) Write(p []byte) (int, error) { return w.f.Write(p) }

func (w *fileWriter) Commit() error {
	if w.closed {
		return errors.New("blob writer already closed")
	}
	w.closed = true
	err := w.f.Sync()
	if cErr := w.f.Close(); err == nil {
		err = cErr
	}
	if err == nil {
		// blob age counts from commit, not from the last write
		now := time.Now()
		err = os.Chtimes(w.staging, now, now)
	}
	if err == nil {
		// fails if the final name was taken or the staging file was reaped
		err = os.Link(w.staging, w.final)
	}
	_ = os.Remove(w.staging)
	return err
}

func (w *fileWriter) Abort() error {
	if !w.closed {
		w.closed = true
		_ = w.f.Close()
	}
	if err := os.Remove(w.staging); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// Open opens the blob for reading.
func (b *BlobStore) Open(name string) (io.ReadCloser, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	return os.Open(b.path(name)) // #nosec G304 path constructed internally
}

// Delete removes the blob file, or the staging file when name is one that
// List reported as partial. A missing file is not an error.
func (b *BlobStore) Delete(name string) error {
	target := name
	if final, ok := parseStaging(name); ok {
		target = final
	}
	if err := validateName(target); err != nil {
		return err
	}
	if err := os.Remove(b.path(name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// List returns every blob present with its modification time, including
// staging files flagged Partial. Files whose names are neither storage names
// nor staging names are ignored.
func (b *BlobStore) List() ([]app.BlobInfo, error) {
	entries, err := os.ReadDir(b.root)
	if err != nil {
		return nil, err
	}
	var out []app.BlobInfo
	for _, e := range entries {
		name := e.Name()
		final, partial := parseStaging(name)
		if !partial {
			final = name
		}
		if e.IsDir() || validateName(final) != nil {
			continue
		}
		info, err := e.Info()
		if errors.Is(err, fs.ErrNotExist) {
			continue // removed since ReadDir
		}
		if err != nil {
			return nil, err
		}
		out = append(out, app.BlobInfo{Name: name, ModTime: info.ModTime(), Partial: partial})
	}
	return out, nil
}

const (
	stagingPrefix = "."
	stagingSuffix = ".part"
)

// stagingName is hidden and never parses as a storage name.
func stagingName(name string) string { return stagingPrefix + name + stagingSuffix }

func parseStaging(name string) (string, bool) {
	if !strings.HasPrefix(name, stagingPrefix) || !strings.HasSuffix(name, stagingSuffix) ||
		len(name) <= len(stagingPrefix)+len(stagingSuffix) {
		return "", false
	}
	return name[len(stagingPrefix) : len(name)-len(stagingSuffix)], true
}

// validateName enforces the storage name shape (token plus optional
// extension), which rules out separators and traversal.
func validateName(name string) error {
	if _, _, err := domain.ParseStorageName(name); err != nil {
		return fmt.Errorf("invalid blob name %q: %w", name, err)
	}
	return nil
}
