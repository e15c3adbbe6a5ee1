package odal

import (
	"context"
	"io"
	"iter"
)

// FileSeq is a lazy, finite sequence of file descriptors. Ranging over it
// re-enumerates from the start; a non-nil error terminates the sequence and
// is the last element yielded.
type FileSeq = iter.Seq2[FileInfo, error]

// Backend is the storage adapter contract. Implementations wrap one native
// client library, declare their capabilities up front, and remap every
// native error to the odal taxonomy at this boundary.
//
// Path arguments are normalized relative paths ("a/b/c.txt"). The empty
// string names the backend root and is valid for folder-style operations
// (existence checks, listing, folder metadata, folder deletion); callers are
// expected to route file-style operations through non-empty paths.
//
// Folder semantics differ legitimately per backend: a real-directory backend
// keeps folders as independent entities that persist when emptied; a
// virtual-prefix backend derives folders from object keys, so a folder
// vanishes with its last object and deleting an already-empty one fails with
// ErrNotFound; an adaptive backend probes its store once and follows one of
// the two models for its whole lifetime.
type Backend interface {
	// Name is the stable backend type identifier (e.g. "local", "s3").
	Name() string

	// Capabilities returns the immutable capability declaration.
	Capabilities() CapabilitySet

	// Exists reports whether a file or folder exists. Never returns
	// ErrNotFound; absence is false.
	Exists(ctx context.Context, path string) (bool, error)

	// IsFile reports whether path names an existing file.
	IsFile(ctx context.Context, path string) (bool, error)

	// IsFolder reports whether path names an existing folder under the
	// backend's folder model.
	IsFolder(ctx context.Context, path string) (bool, error)

	// Read opens the file for sequential reading from offset zero. When the
	// target is absent it fails with ErrNotFound before any bytes are made
	// available. The caller must close the returned stream.
	Read(ctx context.Context, path string) (io.ReadCloser, error)

	// ReadAll returns the full file content.
	ReadAll(ctx context.Context, path string) ([]byte, error)

	// Write stores content at path, creating missing parent folders as a
	// side effect. When the target exists and overwrite is false it fails
	// with ErrAlreadyExists before transferring any bytes.
	Write(ctx context.Context, path string, content io.Reader, overwrite bool) error

	// WriteAtomic stores content so that a concurrent reader never observes
	// partial data: the file moves from absent-or-old to fully-new in one
	// visible step. The strategy (native put, native rename, or simulated
	// temp-and-rename) is the backend's choice.
	WriteAtomic(ctx context.Context, path string, content io.Reader, overwrite bool) error

	// Delete removes exactly one file. A missing target fails with
	// ErrNotFound unless missingOK.
	Delete(ctx context.Context, path string, missingOK bool) error

	// DeleteFolder removes a folder. A non-empty folder fails unless
	// recursive. Virtual-prefix backends report an empty prefix as
	// ErrNotFound, not as a no-op success.
	DeleteFolder(ctx context.Context, path string, recursive, missingOK bool) error

	// ListFiles enumerates files under path, immediate children only unless
	// recursive. Folder entries are never included.
	ListFiles(ctx context.Context, path string, recursive bool) FileSeq

	// ListFolders returns the names of immediate child folders.
	ListFolders(ctx context.Context, path string) ([]string, error)

	// StatFile returns file metadata, failing with ErrNotFound when absent.
	StatFile(ctx context.Context, path string) (FileInfo, error)

	// StatFolder returns aggregate folder metadata, failing with
	// ErrNotFound when absent.
	StatFolder(ctx context.Context, path string) (FolderInfo, error)

	// Move renames a file within this backend. Real-directory backends with
	// a native rename do this atomically; others copy then delete the
	// source, which can leave both present on a mid-operation failure.
	Move(ctx context.Context, src, dst string, overwrite bool) error

	// Copy duplicates a file within this backend using the most efficient
	// native primitive available (server-side copy where the store has one).
	Copy(ctx context.Context, src, dst string, overwrite bool) error

	// ToKey maps an absolute or backend-native path to a key relative to
	// the backend's root. Input not under the root is returned unchanged;
	// ToKey is total and never fails.
	ToKey(nativePath string) string

	// Close releases native resources. It is idempotent; operations after
	// Close either re-establish the connection transparently or fail with
	// ErrBackendUnavailable.
	Close() error
}
