package filesystem

import (
	"bytes"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

var (
	nameA = strings.Repeat("a", 32) + ".png"
	nameB = strings.Repeat("b", 32) + ".bin"
)

func newStore(t *testing.T) (*BlobStore, string) {
	t.Helper()
	dir := t.TempDir()
	bs, err := New(dir)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	return bs, dir
}

func TestNewBlobBadRoot(t *testing.T) {
	if _, err := New("/path/does/not/exist"); err == nil {
		t.Fatalf("expected error for non-existent root")
	}
	f := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(f, nil, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := New(f); err == nil {
		t.Fatalf("expected error for file root")
	}
}

func TestBlobStoreWriteReadDelete(t *testing.T) {
	bs, dir := newStore(t)
	data := []byte("image-bytes")

	w, err := bs.Create(nameA)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		t.Fatalf("copy: %v", err)
	}
	if err := w.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	// second create with same name must fail with ErrExist
	if _, err := bs.Create(nameA); !errors.Is(err, fs.ErrExist) {
		t.Fatalf("expected fs.ErrExist on duplicate create, got %v", err)
	}

	rc, err := bs.Open(nameA)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	got, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("data mismatch got=%q want=%q", got, data)
	}

	if err := bs.Delete(nameA); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, nameA)); !os.IsNotExist(err) {
		t.Fatalf("expected file removed, got %v", err)
	}
	// idempotent
	if err := bs.Delete(nameA); err != nil {
		t.Fatalf("second Delete: %v", err)
	}
	if _, err := bs.Open(nameA); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected fs.ErrNotExist after delete, got %v", err)
	}
}

func TestBlobStoreAbortRemovesPartial(t *testing.T) {
	bs, dir := newStore(t)
	w, err := bs.Create(nameB)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := w.Write([]byte("partial")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Abort(); err != nil {
		t.Fatalf("Abort: %v", err)
	}
	for _, n := range []string{nameB, stagingName(nameB)} {
		if _, err := os.Stat(filepath.Join(dir, n)); !os.IsNotExist(err) {
			t.Fatalf("expected %s removed, got %v", n, err)
		}
	}
	// Abort after Abort is harmless.
	if err := w.Abort(); err != nil {
		t.Fatalf("second Abort: %v", err)
	}
}

func TestBlobStoreCommitTwice(t *testing.T) {
	bs, _ := newStore(t)
	w, err := bs.Create(nameB)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := w.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := w.Commit(); err == nil {
		t.Fatalf("expected error on second Commit")
	}
}

func TestBlobStoreNameHiddenUntilCommit(t *testing.T) {
	bs, dir := newStore(t)
	w, err := bs.Create(nameA)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := w.Write([]byte("hello")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := bs.Open(nameA); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected fs.ErrNotExist before Commit, got %v", err)
	}
	// a concurrent writer for the same name loses
	if _, err := bs.Create(nameA); !errors.Is(err, fs.ErrExist) {
		t.Fatalf("expected fs.ErrExist for concurrent create, got %v", err)
	}
	infos, err := bs.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(infos) != 1 || !infos[0].Partial || infos[0].Name != stagingName(nameA) {
		t.Fatalf("expected one partial entry, got %+v", infos)
	}

	if err := w.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	infos, err = bs.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(infos) != 1 || infos[0].Partial || infos[0].Name != nameA {
		t.Fatalf("expected committed entry, got %+v", infos)
	}
	if _, err := os.Stat(filepath.Join(dir, stagingName(nameA))); !os.IsNotExist(err) {
		t.Fatalf("expected staging file removed, got %v", err)
	}
}

func TestBlobStoreCommitAfterPartialDeleted(t *testing.T) {
	bs, dir := newStore(t)
	w, err := bs.Create(nameA)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := w.Write([]byte("hello")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	infos, err := bs.List()
	if err != nil || len(infos) != 1 {
		t.Fatalf("List: %+v %v", infos, err)
	}
	if err := bs.Delete(infos[0].Name); err != nil {
		t.Fatalf("Delete partial: %v", err)
	}
	if err := w.Commit(); err == nil {
		t.Fatalf("expected Commit to fail once the partial is gone")
	}
	if err := w.Abort(); err != nil {
		t.Fatalf("Abort after failed Commit: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected empty dir, got %v", entries)
	}
}

func TestBlobStoreCommitRefreshesModTime(t *testing.T) {
	bs, dir := newStore(t)
	w, err := bs.Create(nameA)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	// a writer that went quiet long ago
	old := time.Now().Add(-time.Hour)
	if err := os.Chtimes(filepath.Join(dir, stagingName(nameA)), old, old); err != nil {
		t.Fatalf("Chtimes: %v", err)
	}
	if err := w.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	fi, err := os.Stat(filepath.Join(dir, nameA))
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if time.Since(fi.ModTime()) > time.Minute {
		t.Fatalf("committed blob kept stale mod time %v", fi.ModTime())
	}
}

func TestBlobStoreCommitLosesToExistingName(t *testing.T) {
	bs, _ := newStore(t)
	w1, err := bs.Create(nameA)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := w1.Abort(); err != nil {
		t.Fatalf("Abort: %v", err)
	}
	w2, err := bs.Create(nameA)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := w2.Write([]byte("second")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	// the name is taken by a completed blob while w2 is still writing
	if err := os.WriteFile(filepath.Join(bs.Root(), nameA), []byte("first"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w2.Commit(); !errors.Is(err, fs.ErrExist) {
		t.Fatalf("expected fs.ErrExist, got %v", err)
	}
	rc, err := bs.Open(nameA)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	got, _ := io.ReadAll(rc)
	rc.Close()
	if string(got) != "first" {
		t.Fatalf("existing blob overwritten: %q", got)
	}
}

func TestBlobStoreRejectsBadNames(t *testing.T) {
	bs, _ := newStore(t)
	for _, name := range []string{"", "../escape", "x.png", strings.Repeat("a", 32) + "/x", strings.Repeat("a", 32) + ".PNG"} {
		if _, err := bs.Create(name); err == nil {
			t.Errorf("Create(%q): expected error", name)
		}
		if _, err := bs.Open(name); err == nil {
			t.Errorf("Open(%q): expected error", name)
		}
		if err := bs.Delete(name); err == nil {
			t.Errorf("Delete(%q): expected error", name)
		}
	}
	// staging names are only accepted by Delete
	staged := stagingName(nameA)
	if _, err := bs.Create(staged); err == nil {
		t.Errorf("Create(%q): expected error", staged)
	}
	if _, err := bs.Open(staged); err == nil {
		t.Errorf("Open(%q): expected error", staged)
	}
	if err := bs.Delete(staged); err != nil {
		t.Errorf("Delete(%q): %v", staged, err)
	}
	if err := bs.Delete(".bad.part"); err == nil {
		t.Errorf("Delete(.bad.part): expected error")
	}
}

func TestBlobStoreList(t *testing.T) {
	bs, dir := newStore(t)
	for _, n := range []string{nameA, nameB} {
		w, err := bs.Create(n)
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		if err := w.Commit(); err != nil {
			t.Fatalf("Commit: %v", err)
		}
	}
	// foreign files and directories are ignored
	for _, n := range []string{"README.txt", ".x.part", ".part"} {
		if err := os.WriteFile(filepath.Join(dir, n), []byte("x"), 0o600); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, strings.Repeat("c", 32)), 0o700); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	infos, err := bs.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("expected 2 blobs, got %+v", infos)
	}
	seen := map[string]bool{}
	for _, i := range infos {
		seen[i.Name] = true
		if i.ModTime.IsZero() {
			t.Fatalf("expected mod time for %s", i.Name)
		}
	}
	if !seen[nameA] || !seen[nameB] {
		t.Fatalf("unexpected names %+v", infos)
	}
}
