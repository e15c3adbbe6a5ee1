package odal_test

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/starford/odal"
	"github.com/starford/odal/backend/memory"
)

func newStore(t *testing.T, root string) *odal.Store {
	t.Helper()
	s, err := odal.New(memory.New(), root)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func write(t *testing.T, s *odal.Store, path, content string) {
	t.Helper()
	if err := s.Write(context.Background(), path, strings.NewReader(content), true); err != nil {
		t.Fatalf("Write %s: %v", path, err)
	}
}

func TestStoreWriteRead(t *testing.T) {
	s := newStore(t, "")
	ctx := context.Background()
	write(t, s, "docs/readme.txt", "hello")
	got, err := s.ReadAll(ctx, "docs/readme.txt")
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(got) != "hello" {
		t.Errorf("content = %q", got)
	}
}

func TestStoreRootScoping(t *testing.T) {
	backend := memory.New()
	ctx := context.Background()
	scoped, err := odal.New(backend, "data")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	write(t, scoped, "d/f.txt", "scoped")

	// The object lands under the root prefix on the backend.
	if ok, _ := backend.IsFile(ctx, "data/d/f.txt"); !ok {
		t.Error("backend should hold data/d/f.txt")
	}
	// Scoped views never leak the root prefix.
	if ok, _ := scoped.IsFolder(ctx, "d"); !ok {
		t.Error("d should be a folder inside the scope")
	}
	if ok, _ := scoped.Exists(ctx, "data/d/f.txt"); ok {
		t.Error("root-prefixed path should not resolve inside the scope")
	}
}

func TestStoreListPathsAreScopeRelative(t *testing.T) {
	s := newStore(t, "data")
	ctx := context.Background()
	write(t, s, "a/one.txt", "1")
	write(t, s, "a/b/two.txt", "2")

	var paths []string
	for fi, err := range s.ListFiles(ctx, "", true) {
		if err != nil {
			t.Fatalf("ListFiles: %v", err)
		}
		paths = append(paths, fi.Path.String())
	}
	want := []string{"a/b/two.txt", "a/one.txt"}
	if len(paths) != len(want) {
		t.Fatalf("paths = %v", paths)
	}
	for i := range want {
		if paths[i] != want[i] {
			t.Errorf("paths[%d] = %q, want %q", i, paths[i], want[i])
		}
	}
	// Round-trip: every listed path is valid input to another operation.
	for _, p := range paths {
		if _, err := s.ReadAll(ctx, p); err != nil {
			t.Errorf("ReadAll(%q): %v", p, err)
		}
	}
}

func TestStoreEmptyPathRules(t *testing.T) {
	s := newStore(t, "data")
	ctx := context.Background()
	write(t, s, "f.txt", "x")

	// Empty path means the scope root for folder-style operations.
	if ok, err := s.Exists(ctx, ""); err != nil || !ok {
		t.Errorf("Exists(\"\") = %v, %v", ok, err)
	}
	if ok, err := s.IsFolder(ctx, ""); err != nil || !ok {
		t.Errorf("IsFolder(\"\") = %v, %v", ok, err)
	}
	info, err := s.StatFolder(ctx, "")
	if err != nil {
		t.Fatalf("StatFolder(\"\"): %v", err)
	}
	if info.FileCount != 1 {
		t.Errorf("FileCount = %d", info.FileCount)
	}
	if !info.Path.IsZero() {
		t.Errorf("root descriptor Path = %q, want zero", info.Path)
	}

	// File-style operations reject the empty path.
	if _, err := s.ReadAll(ctx, ""); !errors.Is(err, odal.ErrInvalidPath) {
		t.Errorf("ReadAll(\"\") err = %v, want ErrInvalidPath", err)
	}
	if err := s.Write(ctx, "", strings.NewReader("x"), true); !errors.Is(err, odal.ErrInvalidPath) {
		t.Errorf("Write(\"\") err = %v, want ErrInvalidPath", err)
	}
	if err := s.Delete(ctx, "", false); !errors.Is(err, odal.ErrInvalidPath) {
		t.Errorf("Delete(\"\") err = %v, want ErrInvalidPath", err)
	}
}

func TestStoreRootDeleteGuard(t *testing.T) {
	s := newStore(t, "data")
	ctx := context.Background()
	write(t, s, "keep.txt", "x")
	err := s.DeleteFolder(ctx, "", true, false)
	if !errors.Is(err, odal.ErrInvalidPath) {
		t.Fatalf("DeleteFolder(root) err = %v, want ErrInvalidPath", err)
	}
	if ok, _ := s.IsFile(ctx, "keep.txt"); !ok {
		t.Error("content under the root must survive the rejected delete")
	}
}

func TestStoreCapabilityGating(t *testing.T) {
	backend := memory.NewWithCapabilities(odal.NewCapabilitySet(odal.CapRead, odal.CapList))
	s, err := odal.New(backend, "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()

	err = s.Write(ctx, "f.txt", strings.NewReader("x"), true)
	if !errors.Is(err, odal.ErrCapabilityNotSupported) {
		t.Fatalf("Write err = %v, want ErrCapabilityNotSupported", err)
	}
	// The gate fires before the backend is touched.
	if ok, _ := backend.IsFile(ctx, "f.txt"); ok {
		t.Error("gated write must have no side effects")
	}
	if s.Supports(odal.CapWrite) {
		t.Error("Supports(write) should be false")
	}
	if !s.Supports(odal.CapRead) {
		t.Error("Supports(read) should be true")
	}
}

func TestStoreAtomicWriteHasNoFallback(t *testing.T) {
	backend := memory.NewWithCapabilities(odal.AllCapabilitiesExcept(odal.CapAtomicWrite))
	s, err := odal.New(backend, "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	err = s.WriteAtomic(context.Background(), "f.txt", strings.NewReader("x"), true)
	if !errors.Is(err, odal.ErrCapabilityNotSupported) {
		t.Fatalf("WriteAtomic err = %v, want ErrCapabilityNotSupported", err)
	}
}

func TestStoreRecursiveListGate(t *testing.T) {
	backend := memory.NewWithCapabilities(odal.AllCapabilitiesExcept(odal.CapRecursiveList))
	s, err := odal.New(backend, "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()
	write(t, s, "a/f.txt", "x")

	for _, err := range s.ListFiles(ctx, "", true) {
		if !errors.Is(err, odal.ErrCapabilityNotSupported) {
			t.Fatalf("recursive err = %v, want ErrCapabilityNotSupported", err)
		}
	}
	// Flat listing stays available.
	for _, err := range s.ListFiles(ctx, "a", false) {
		if err != nil {
			t.Fatalf("flat ListFiles: %v", err)
		}
	}
}

func TestStoreOverwriteSemantics(t *testing.T) {
	s := newStore(t, "")
	ctx := context.Background()
	write(t, s, "f.txt", "original")

	err := s.Write(ctx, "f.txt", strings.NewReader("new"), false)
	if !errors.Is(err, odal.ErrAlreadyExists) {
		t.Fatalf("err = %v, want ErrAlreadyExists", err)
	}
	got, _ := s.ReadAll(ctx, "f.txt")
	if string(got) != "original" {
		t.Errorf("refused overwrite must leave content intact, got %q", got)
	}
	if err := s.Write(ctx, "f.txt", strings.NewReader("new"), true); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
}

func TestStoreMoveAndCopy(t *testing.T) {
	s := newStore(t, "")
	ctx := context.Background()
	write(t, s, "src.txt", "payload")

	if err := s.Copy(ctx, "src.txt", "copy.txt", false); err != nil {
		t.Fatalf("Copy: %v", err)
	}
	if err := s.Move(ctx, "src.txt", "moved.txt", false); err != nil {
		t.Fatalf("Move: %v", err)
	}
	if ok, _ := s.IsFile(ctx, "src.txt"); ok {
		t.Error("source should be gone after move")
	}
	for _, p := range []string{"copy.txt", "moved.txt"} {
		got, err := s.ReadAll(ctx, p)
		if err != nil || string(got) != "payload" {
			t.Errorf("ReadAll(%q) = %q, %v", p, got, err)
		}
	}
	if err := s.Move(ctx, "moved.txt", "copy.txt", false); !errors.Is(err, odal.ErrAlreadyExists) {
		t.Errorf("Move onto existing err = %v, want ErrAlreadyExists", err)
	}
}

func TestStoreDeleteMissing(t *testing.T) {
	s := newStore(t, "")
	ctx := context.Background()
	if err := s.Delete(ctx, "ghost.txt", false); !errors.Is(err, odal.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if err := s.Delete(ctx, "ghost.txt", true); err != nil {
		t.Errorf("missingOK delete: %v", err)
	}
}

func TestStoreInvalidPathRejectedBeforeBackend(t *testing.T) {
	s := newStore(t, "")
	ctx := context.Background()
	for _, bad := range []string{"../escape", "a/../../b", "nul\x00byte"} {
		if _, err := s.ReadAll(ctx, bad); !errors.Is(err, odal.ErrInvalidPath) {
			t.Errorf("ReadAll(%q) err = %v, want ErrInvalidPath", bad, err)
		}
	}
}

func TestStoreToKey(t *testing.T) {
	s := newStore(t, "data")
	key, err := s.ToKey("data/d/f.txt")
	if err != nil {
		t.Fatalf("ToKey: %v", err)
	}
	if key != "d/f.txt" {
		t.Errorf("key = %q", key)
	}
	if _, err := s.ToKey("elsewhere/f.txt"); !errors.Is(err, odal.ErrInvalidPath) {
		t.Errorf("out-of-scope err = %v, want ErrInvalidPath", err)
	}
}

func TestStoreStatFile(t *testing.T) {
	s := newStore(t, "data")
	ctx := context.Background()
	write(t, s, "d/f.txt", "12345")
	fi, err := s.StatFile(ctx, "d/f.txt")
	if err != nil {
		t.Fatalf("StatFile: %v", err)
	}
	if fi.Path.String() != "d/f.txt" {
		t.Errorf("Path = %q, want scope-relative", fi.Path)
	}
	if fi.Size != 5 || fi.Name != "f.txt" {
		t.Errorf("fi = %+v", fi)
	}
	if fi.ModTime.IsZero() {
		t.Error("ModTime should be set")
	}
}

func TestStoreScopedWriteListRead(t *testing.T) {
	s := newStore(t, "data")
	ctx := context.Background()
	content := "a,b\n1,2\n"
	write(t, s, "reports/q1.csv", content)

	var listed []odal.FileInfo
	for fi, err := range s.ListFiles(ctx, "", true) {
		if err != nil {
			t.Fatalf("ListFiles: %v", err)
		}
		listed = append(listed, fi)
	}
	if len(listed) != 1 || listed[0].Path.String() != "reports/q1.csv" {
		t.Fatalf("listed = %+v", listed)
	}
	got, err := s.ReadAll(ctx, listed[0].Path.String())
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(got) != content {
		t.Errorf("content = %q", got)
	}
}

func TestStoreWriteFromReader(t *testing.T) {
	s := newStore(t, "")
	ctx := context.Background()
	if err := s.Write(ctx, "bin", bytes.NewReader([]byte{0, 1, 2}), true); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, _ := s.ReadAll(ctx, "bin")
	if !bytes.Equal(got, []byte{0, 1, 2}) {
		t.Errorf("content = %v", got)
	}
}
