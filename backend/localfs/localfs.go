// Package localfs implements the Backend contract on the local filesystem.
// Folders follow the real-directory model: a directory is an independent
// entity that persists after its last child is removed. Atomic writes use a
// temp file in the target directory followed by an atomic rename.
package localfs

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/starford/odal"
)

const backendName = "local"

// tempPattern marks in-flight atomic writes so orphans stay identifiable.
const tempPattern = ".odal-tmp-*"

// Options configures a local backend.
type Options struct {
	// Root is the directory all paths resolve under. Created if missing.
	Root string
}

// Backend is a real-directory adapter rooted at one local directory.
type Backend struct {
	root string // absolute path to the root directory
}

// New creates a local backend rooted at opts.Root, creating the directory
// when it does not exist yet.
func New(opts Options) (*Backend, error) {
	if opts.Root == "" {
		return nil, odal.NewInvalidPath("", "local backend requires a root directory")
	}
	abs, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, odal.NewInvalidPath(opts.Root, "resolve root: "+err.Error())
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, mapError(err, opts.Root)
	}
	return &Backend{root: abs}, nil
}

func (b *Backend) Name() string { return backendName }

func (b *Backend) Capabilities() odal.CapabilitySet { return odal.AllCapabilities() }

// Close is a no-op: the backend holds no connection, only a root path.
func (b *Backend) Close() error { return nil }

// resolve maps a relative path onto the root and rejects any result that
// escapes it.
func (b *Backend) resolve(rel string) (string, error) {
	if rel == "" {
		return b.root, nil
	}
	cleaned := filepath.Clean(filepath.FromSlash(rel))
	if filepath.IsAbs(cleaned) {
		return "", odal.NewInvalidPath(rel, "absolute paths not allowed")
	}
	joined := filepath.Join(b.root, cleaned)
	if !strings.HasPrefix(joined, b.root+string(os.PathSeparator)) && joined != b.root {
		return "", odal.NewInvalidPath(rel, "path escapes backend root")
	}
	return joined, nil
}

// ToKey strips the backend root from an absolute native path, returning the
// input unchanged when it is not under the root.
func (b *Backend) ToKey(nativePath string) string {
	normalized := filepath.ToSlash(nativePath)
	rootPrefix := filepath.ToSlash(b.root)
	if rest, ok := strings.CutPrefix(normalized, rootPrefix+"/"); ok {
		return rest
	}
	if normalized == rootPrefix {
		return ""
	}
	return nativePath
}

func (b *Backend) Exists(_ context.Context, path string) (bool, error) {
	full, err := b.resolve(path)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(full); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, mapError(err, path)
	}
	return true, nil
}

func (b *Backend) IsFile(_ context.Context, path string) (bool, error) {
	full, err := b.resolve(path)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, mapError(err, path)
	}
	return info.Mode().IsRegular(), nil
}

func (b *Backend) IsFolder(_ context.Context, path string) (bool, error) {
	full, err := b.resolve(path)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, mapError(err, path)
	}
	return info.IsDir(), nil
}

func (b *Backend) Read(_ context.Context, path string) (io.ReadCloser, error) {
	full, err := b.resolve(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(full)
	if err != nil {
		return nil, mapError(err, path)
	}
	return f, nil
}

func (b *Backend) ReadAll(ctx context.Context, path string) ([]byte, error) {
	r, err := b.Read(ctx, path)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, mapError(err, path)
	}
	return data, nil
}

// Write stores content at path, creating missing parent directories. With
// overwrite false the file is opened O_EXCL, so the existence check and the
// create are one step and no byte is transferred to an existing target.
func (b *Backend) Write(_ context.Context, path string, content io.Reader, overwrite bool) error {
	full, err := b.resolve(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return mapError(err, path)
	}
	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if !overwrite {
		flags = os.O_WRONLY | os.O_CREATE | os.O_EXCL
	}
	f, err := os.OpenFile(full, flags, 0o644)
	if err != nil {
		return mapError(err, path)
	}
	if _, err := io.Copy(f, content); err != nil {
		_ = f.Close()
		_ = os.Remove(full)
		return mapError(err, path)
	}
	if err := f.Close(); err != nil {
		return mapError(err, path)
	}
	return nil
}

// WriteAtomic writes to a temp file in the target directory, fsyncs, and
// renames over the destination: the native-atomic-rename strategy. The temp
// file is removed on every failure path.
func (b *Backend) WriteAtomic(_ context.Context, path string, content io.Reader, overwrite bool) error {
	full, err := b.resolve(path)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(full); err == nil {
			return odal.NewAlreadyExists(backendName, path)
		} else if !errors.Is(err, fs.ErrNotExist) {
			return mapError(err, path)
		}
	}
	dir := filepath.Dir(full)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return mapError(err, path)
	}

	tmp, err := os.CreateTemp(dir, tempPattern)
	if err != nil {
		return mapError(err, path)
	}
	tmpName := tmp.Name()

	// Clean up on any failure path.
	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := io.Copy(tmp, content); err != nil {
		return mapError(err, path)
	}
	if err := tmp.Sync(); err != nil {
		return mapError(err, path)
	}
	if err := tmp.Close(); err != nil {
		return mapError(err, path)
	}
	if err := os.Rename(tmpName, full); err != nil {
		return mapError(err, path)
	}
	success = true
	return nil
}

func (b *Backend) Delete(_ context.Context, path string, missingOK bool) error {
	full, err := b.resolve(path)
	if err != nil {
		return err
	}
	info, err := os.Stat(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			if missingOK {
				return nil
			}
			return odal.NewNotFound(backendName, path, "file not found")
		}
		return mapError(err, path)
	}
	if info.IsDir() {
		return odal.NewInvalidPath(path, "path is a folder, not a file")
	}
	if err := os.Remove(full); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			if missingOK {
				return nil
			}
			return odal.NewNotFound(backendName, path, "file not found")
		}
		return mapError(err, path)
	}
	return nil
}

func (b *Backend) DeleteFolder(_ context.Context, path string, recursive, missingOK bool) error {
	full, err := b.resolve(path)
	if err != nil {
		return err
	}
	info, err := os.Stat(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			if missingOK {
				return nil
			}
			return odal.NewNotFound(backendName, path, "folder not found")
		}
		return mapError(err, path)
	}
	if !info.IsDir() {
		return odal.NewNotFound(backendName, path, "not a folder")
	}
	if recursive {
		if err := os.RemoveAll(full); err != nil {
			return mapError(err, path)
		}
		return nil
	}
	if err := os.Remove(full); err != nil {
		if isNotEmpty(err) {
			return odal.NewNotFound(backendName, path, "folder not empty")
		}
		return mapError(err, path)
	}
	return nil
}

// ListFiles walks the directory on every range, so the sequence is
// restartable. A missing or non-directory path yields an empty sequence.
func (b *Backend) ListFiles(_ context.Context, path string, recursive bool) odal.FileSeq {
	return func(yield func(odal.FileInfo, error) bool) {
		full, err := b.resolve(path)
		if err != nil {
			yield(odal.FileInfo{}, err)
			return
		}
		if info, err := os.Stat(full); err != nil || !info.IsDir() {
			return
		}
		if !recursive {
			entries, err := os.ReadDir(full)
			if err != nil {
				yield(odal.FileInfo{}, mapError(err, path))
				return
			}
			for _, entry := range entries {
				if entry.IsDir() {
					continue
				}
				fi, err := b.entryInfo(filepath.Join(full, entry.Name()))
				if err != nil {
					yield(odal.FileInfo{}, err)
					return
				}
				if !yield(fi, nil) {
					return
				}
			}
			return
		}
		walkErr := filepath.WalkDir(full, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			fi, err := b.entryInfo(p)
			if err != nil {
				return err
			}
			if !yield(fi, nil) {
				return fs.SkipAll
			}
			return nil
		})
		if walkErr != nil {
			yield(odal.FileInfo{}, mapError(walkErr, path))
		}
	}
}

func (b *Backend) ListFolders(_ context.Context, path string) ([]string, error) {
	full, err := b.resolve(path)
	if err != nil {
		return nil, err
	}
	if info, err := os.Stat(full); err != nil || !info.IsDir() {
		return nil, nil
	}
	entries, err := os.ReadDir(full)
	if err != nil {
		return nil, mapError(err, path)
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	return names, nil
}

func (b *Backend) StatFile(_ context.Context, path string) (odal.FileInfo, error) {
	full, err := b.resolve(path)
	if err != nil {
		return odal.FileInfo{}, err
	}
	info, err := os.Stat(full)
	if err != nil || !info.Mode().IsRegular() {
		return odal.FileInfo{}, odal.NewNotFound(backendName, path, "file not found")
	}
	p, err := odal.ParsePath(path)
	if err != nil {
		return odal.FileInfo{}, err
	}
	return odal.FileInfo{
		Path:    p,
		Name:    info.Name(),
		Size:    info.Size(),
		ModTime: info.ModTime().UTC(),
	}, nil
}

// StatFolder aggregates over the whole subtree. An existing empty directory
// is a valid folder here, unlike under the virtual-prefix model.
func (b *Backend) StatFolder(_ context.Context, path string) (odal.FolderInfo, error) {
	full, err := b.resolve(path)
	if err != nil {
		return odal.FolderInfo{}, err
	}
	info, err := os.Stat(full)
	if err != nil || !info.IsDir() {
		return odal.FolderInfo{}, odal.NewNotFound(backendName, path, "folder not found")
	}
	out := odal.FolderInfo{}
	if path != "" {
		p, err := odal.ParsePath(path)
		if err != nil {
			return odal.FolderInfo{}, err
		}
		out.Path = p
	}
	walkErr := filepath.WalkDir(full, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		out.FileCount++
		out.TotalSize += fi.Size()
		if mt := fi.ModTime().UTC(); mt.After(out.ModTime) {
			out.ModTime = mt
		}
		return nil
	})
	if walkErr != nil {
		return odal.FolderInfo{}, mapError(walkErr, path)
	}
	return out, nil
}

// Move is a single atomic os.Rename.
func (b *Backend) Move(_ context.Context, src, dst string, overwrite bool) error {
	fullSrc, fullDst, err := b.resolvePair(src, dst, overwrite)
	if err != nil {
		return err
	}
	if err := os.Rename(fullSrc, fullDst); err != nil {
		return mapError(err, src)
	}
	return nil
}

func (b *Backend) Copy(ctx context.Context, src, dst string, overwrite bool) error {
	fullSrc, fullDst, err := b.resolvePair(src, dst, overwrite)
	if err != nil {
		return err
	}
	in, err := os.Open(fullSrc)
	if err != nil {
		return mapError(err, src)
	}
	defer in.Close()
	out, err := os.Create(fullDst)
	if err != nil {
		return mapError(err, dst)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(fullDst)
		return mapError(err, dst)
	}
	if err := out.Close(); err != nil {
		return mapError(err, dst)
	}
	return nil
}

// resolvePair resolves src and dst, requiring the source to exist and the
// destination to be absent unless overwrite, and creates the destination's
// parent directories.
func (b *Backend) resolvePair(src, dst string, overwrite bool) (string, string, error) {
	fullSrc, err := b.resolve(src)
	if err != nil {
		return "", "", err
	}
	fullDst, err := b.resolve(dst)
	if err != nil {
		return "", "", err
	}
	if _, err := os.Stat(fullSrc); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", "", odal.NewNotFound(backendName, src, "source not found")
		}
		return "", "", mapError(err, src)
	}
	if !overwrite {
		if _, err := os.Stat(fullDst); err == nil {
			return "", "", odal.NewAlreadyExists(backendName, dst)
		} else if !errors.Is(err, fs.ErrNotExist) {
			return "", "", mapError(err, dst)
		}
	}
	if err := os.MkdirAll(filepath.Dir(fullDst), 0o755); err != nil {
		return "", "", mapError(err, dst)
	}
	return fullSrc, fullDst, nil
}

func (b *Backend) entryInfo(full string) (odal.FileInfo, error) {
	info, err := os.Stat(full)
	if err != nil {
		return odal.FileInfo{}, mapError(err, b.ToKey(full))
	}
	p, err := odal.ParsePath(b.ToKey(full))
	if err != nil {
		return odal.FileInfo{}, err
	}
	return odal.FileInfo{
		Path:    p,
		Name:    info.Name(),
		Size:    info.Size(),
		ModTime: info.ModTime().UTC(),
	}, nil
}

func isNotEmpty(err error) bool {
	return errors.Is(err, syscall.ENOTEMPTY) || errors.Is(err, syscall.EEXIST)
}

// mapError remaps OS errors to the normalized taxonomy.
func mapError(err error, path string) error {
	var oerr *odal.Error
	if errors.As(err, &oerr) {
		return err
	}
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return odal.NewNotFound(backendName, path, "not found")
	case errors.Is(err, fs.ErrPermission):
		return odal.NewPermissionDenied(backendName, path)
	case errors.Is(err, fs.ErrExist):
		return odal.NewAlreadyExists(backendName, path)
	default:
		return odal.NewUnavailable(backendName, err)
	}
}
