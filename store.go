package odal

import (
	"context"
	"io"
	"strings"
)

// Store is an immutable façade scoping one Backend to a root path. Every
// call validates the caller's path, prepends the root prefix, and checks the
// required capability before the backend is touched, so a missing capability
// never produces partial side effects. The Store performs no I/O of its own.
//
// Every path a Store hands back (listings, metadata) is already relative to
// the scope root and directly reusable as input to any other Store method.
type Store struct {
	backend Backend
	root    string
}

// New builds a Store over backend scoped to rootPath. An empty rootPath
// scopes the store to the backend root; a non-empty one must be a valid
// relative path.
func New(backend Backend, rootPath string) (*Store, error) {
	root := ""
	if rootPath != "" {
		p, err := ParsePath(rootPath)
		if err != nil {
			return nil, err
		}
		root = p.String()
	}
	return &Store{backend: backend, root: root}, nil
}

// Name returns the underlying backend's identifier.
func (s *Store) Name() string { return s.backend.Name() }

// RootPath returns the scope root ("" when scoped to the backend root).
func (s *Store) RootPath() string { return s.root }

// Supports reports whether the backend declares the capability.
func (s *Store) Supports(c Capability) bool {
	return s.backend.Capabilities().Supports(c)
}

// Capabilities returns the backend's capability declaration.
func (s *Store) Capabilities() CapabilitySet {
	return s.backend.Capabilities()
}

// fullPath resolves a caller path that may be empty, meaning the scope root.
func (s *Store) fullPath(path string) (string, error) {
	if path == "" {
		return s.root, nil
	}
	p, err := ParsePath(path)
	if err != nil {
		return "", err
	}
	if s.root == "" {
		return p.String(), nil
	}
	return s.root + "/" + p.String(), nil
}

// filePath resolves a caller path that must identify a single file; the
// empty string is rejected because it cannot.
func (s *Store) filePath(path string) (string, error) {
	if path == "" {
		return "", NewInvalidPath(path, "path must not be empty for file operations")
	}
	return s.fullPath(path)
}

// stripRoot rebases a backend-relative path onto the scope root. Failing the
// prefix check breaks the round-trip invariant and surfaces as InvalidPath.
func (s *Store) stripRoot(full string) (string, error) {
	if s.root == "" {
		return full, nil
	}
	if full == s.root {
		return "", nil
	}
	if rest, ok := strings.CutPrefix(full, s.root+"/"); ok {
		return rest, nil
	}
	return "", NewInvalidPath(full, "path is outside the store root "+s.root)
}

func (s *Store) require(c Capability) error {
	return s.backend.Capabilities().Require(s.backend.Name(), c)
}

// Exists reports whether a file or folder exists. An empty path asks about
// the scope root.
func (s *Store) Exists(ctx context.Context, path string) (bool, error) {
	full, err := s.fullPath(path)
	if err != nil {
		return false, err
	}
	return s.backend.Exists(ctx, full)
}

// IsFile reports whether path names an existing file.
func (s *Store) IsFile(ctx context.Context, path string) (bool, error) {
	full, err := s.fullPath(path)
	if err != nil {
		return false, err
	}
	return s.backend.IsFile(ctx, full)
}

// IsFolder reports whether path names an existing folder.
func (s *Store) IsFolder(ctx context.Context, path string) (bool, error) {
	full, err := s.fullPath(path)
	if err != nil {
		return false, err
	}
	return s.backend.IsFolder(ctx, full)
}

// Read opens a file for sequential reading.
func (s *Store) Read(ctx context.Context, path string) (io.ReadCloser, error) {
	if err := s.require(CapRead); err != nil {
		return nil, err
	}
	full, err := s.filePath(path)
	if err != nil {
		return nil, err
	}
	return s.backend.Read(ctx, full)
}

// ReadAll returns the full content of a file.
func (s *Store) ReadAll(ctx context.Context, path string) ([]byte, error) {
	if err := s.require(CapRead); err != nil {
		return nil, err
	}
	full, err := s.filePath(path)
	if err != nil {
		return nil, err
	}
	return s.backend.ReadAll(ctx, full)
}

// Write stores content at path.
func (s *Store) Write(ctx context.Context, path string, content io.Reader, overwrite bool) error {
	if err := s.require(CapWrite); err != nil {
		return err
	}
	full, err := s.filePath(path)
	if err != nil {
		return err
	}
	return s.backend.Write(ctx, full, content, overwrite)
}

// WriteAtomic stores content so readers never observe partial data. There is
// no fallback to a plain Write: a backend without the atomic-write
// capability fails here before any I/O.
func (s *Store) WriteAtomic(ctx context.Context, path string, content io.Reader, overwrite bool) error {
	if err := s.require(CapAtomicWrite); err != nil {
		return err
	}
	full, err := s.filePath(path)
	if err != nil {
		return err
	}
	return s.backend.WriteAtomic(ctx, full, content, overwrite)
}

// Delete removes exactly one file.
func (s *Store) Delete(ctx context.Context, path string, missingOK bool) error {
	if err := s.require(CapDelete); err != nil {
		return err
	}
	full, err := s.filePath(path)
	if err != nil {
		return err
	}
	return s.backend.Delete(ctx, full, missingOK)
}

// DeleteFolder removes a folder. Deleting the scope root itself is always
// rejected, recursive or not, so a single call can never destroy everything
// in scope.
func (s *Store) DeleteFolder(ctx context.Context, path string, recursive, missingOK bool) error {
	if path == "" {
		return NewInvalidPath(path, "cannot delete the store root")
	}
	if err := s.require(CapDelete); err != nil {
		return err
	}
	full, err := s.fullPath(path)
	if err != nil {
		return err
	}
	return s.backend.DeleteFolder(ctx, full, recursive, missingOK)
}

// ListFiles enumerates files under path with scope-relative descriptor
// paths. Recursive listing additionally requires the recursive-list
// capability.
func (s *Store) ListFiles(ctx context.Context, path string, recursive bool) FileSeq {
	if err := s.require(CapList); err != nil {
		return errSeq(err)
	}
	if recursive {
		if err := s.require(CapRecursiveList); err != nil {
			return errSeq(err)
		}
	}
	full, err := s.fullPath(path)
	if err != nil {
		return errSeq(err)
	}
	return func(yield func(FileInfo, error) bool) {
		for fi, err := range s.backend.ListFiles(ctx, full, recursive) {
			if err != nil {
				yield(FileInfo{}, err)
				return
			}
			rel, err := s.stripRoot(fi.Path.String())
			if err != nil {
				yield(FileInfo{}, err)
				return
			}
			rp, err := ParsePath(rel)
			if err != nil {
				yield(FileInfo{}, err)
				return
			}
			fi.Path = rp
			if !yield(fi, nil) {
				return
			}
		}
	}
}

// ListFolders returns the names of immediate child folders.
func (s *Store) ListFolders(ctx context.Context, path string) ([]string, error) {
	if err := s.require(CapList); err != nil {
		return nil, err
	}
	full, err := s.fullPath(path)
	if err != nil {
		return nil, err
	}
	return s.backend.ListFolders(ctx, full)
}

// StatFile returns file metadata with a scope-relative path.
func (s *Store) StatFile(ctx context.Context, path string) (FileInfo, error) {
	if err := s.require(CapMetadata); err != nil {
		return FileInfo{}, err
	}
	full, err := s.filePath(path)
	if err != nil {
		return FileInfo{}, err
	}
	fi, err := s.backend.StatFile(ctx, full)
	if err != nil {
		return FileInfo{}, err
	}
	rel, err := s.stripRoot(fi.Path.String())
	if err != nil {
		return FileInfo{}, err
	}
	rp, err := ParsePath(rel)
	if err != nil {
		return FileInfo{}, err
	}
	fi.Path = rp
	return fi, nil
}

// StatFolder returns aggregate folder metadata. The scope root's own
// descriptor keeps a zero Path.
func (s *Store) StatFolder(ctx context.Context, path string) (FolderInfo, error) {
	if err := s.require(CapMetadata); err != nil {
		return FolderInfo{}, err
	}
	full, err := s.fullPath(path)
	if err != nil {
		return FolderInfo{}, err
	}
	fi, err := s.backend.StatFolder(ctx, full)
	if err != nil {
		return FolderInfo{}, err
	}
	rel, err := s.stripRoot(fi.Path.String())
	if err != nil {
		return FolderInfo{}, err
	}
	if rel == "" {
		fi.Path = Path{}
	} else {
		rp, err := ParsePath(rel)
		if err != nil {
			return FolderInfo{}, err
		}
		fi.Path = rp
	}
	return fi, nil
}

// Move renames a file within the store.
func (s *Store) Move(ctx context.Context, src, dst string, overwrite bool) error {
	if err := s.require(CapMove); err != nil {
		return err
	}
	fullSrc, err := s.filePath(src)
	if err != nil {
		return err
	}
	fullDst, err := s.filePath(dst)
	if err != nil {
		return err
	}
	return s.backend.Move(ctx, fullSrc, fullDst, overwrite)
}

// Copy duplicates a file within the store.
func (s *Store) Copy(ctx context.Context, src, dst string, overwrite bool) error {
	if err := s.require(CapCopy); err != nil {
		return err
	}
	fullSrc, err := s.filePath(src)
	if err != nil {
		return err
	}
	fullDst, err := s.filePath(dst)
	if err != nil {
		return err
	}
	return s.backend.Copy(ctx, fullSrc, fullDst, overwrite)
}

// ToKey maps an absolute or backend-native path to a key relative to this
// store's scope, composing the backend's own ToKey with root stripping. The
// result is valid input to any other Store method; input that does not fall
// under the scope fails with InvalidPath.
func (s *Store) ToKey(nativePath string) (string, error) {
	return s.stripRoot(s.backend.ToKey(nativePath))
}

// Close releases the underlying backend's resources.
func (s *Store) Close() error { return s.backend.Close() }

func errSeq(err error) FileSeq {
	return func(yield func(FileInfo, error) bool) {
		yield(FileInfo{}, err)
	}
}
