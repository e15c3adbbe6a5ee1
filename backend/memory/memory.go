// Package memory provides an in-memory Backend with virtual-prefix folder
// semantics: folders exist only as an emergent property of object keys, the
// same model a flat object store follows. It is the reference implementation
// for that model and the workhorse of the test suite.
package memory

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/starford/odal"
)

const backendName = "memory"

type object struct {
	data    []byte
	modTime time.Time
}

// Backend stores objects in a map keyed by normalized path. All methods are
// safe for concurrent use.
type Backend struct {
	mu      sync.RWMutex
	objects map[string]object
	caps    odal.CapabilitySet
	now     func() time.Time
}

// New returns an empty in-memory backend declaring every capability.
func New() *Backend {
	return &Backend{
		objects: make(map[string]object),
		caps:    odal.AllCapabilities(),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// NewWithCapabilities returns a backend restricted to the given
// capabilities; useful for exercising capability gating.
func NewWithCapabilities(caps odal.CapabilitySet) *Backend {
	b := New()
	b.caps = caps
	return b
}

func (b *Backend) Name() string { return backendName }

func (b *Backend) Capabilities() odal.CapabilitySet { return b.caps }

// ToKey is the identity mapping: this backend has no native-root concept.
func (b *Backend) ToKey(nativePath string) string { return nativePath }

// Close is a no-op: there is no native resource to release, and operations
// after Close keep working.
func (b *Backend) Close() error { return nil }

func (b *Backend) hasPrefix(prefix string) bool {
	for key := range b.objects {
		if strings.HasPrefix(key, prefix+"/") {
			return true
		}
	}
	return false
}

// Exists reports whether path is a stored object or a non-empty prefix. The
// empty path is the backend root, which always exists.
func (b *Backend) Exists(_ context.Context, path string) (bool, error) {
	if path == "" {
		return true, nil
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if _, ok := b.objects[path]; ok {
		return true, nil
	}
	return b.hasPrefix(path), nil
}

func (b *Backend) IsFile(_ context.Context, path string) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.objects[path]
	return ok, nil
}

// IsFolder is true iff at least one object key lives under path. A folder
// vanishes the instant its last object is removed.
func (b *Backend) IsFolder(_ context.Context, path string) (bool, error) {
	if path == "" {
		return true, nil
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.hasPrefix(path), nil
}

func (b *Backend) Read(_ context.Context, path string) (io.ReadCloser, error) {
	b.mu.RLock()
	obj, ok := b.objects[path]
	b.mu.RUnlock()
	if !ok {
		return nil, odal.NewNotFound(backendName, path, "file not found")
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

func (b *Backend) ReadAll(ctx context.Context, path string) ([]byte, error) {
	r, err := b.Read(ctx, path)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

func (b *Backend) Write(_ context.Context, path string, content io.Reader, overwrite bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.objects[path]; ok && !overwrite {
		return odal.NewAlreadyExists(backendName, path)
	}
	data, err := io.ReadAll(content)
	if err != nil {
		return odal.NewUnavailable(backendName, err)
	}
	b.objects[path] = object{data: data, modTime: b.now()}
	return nil
}

// WriteAtomic is identical to Write: replacing a map value is a single
// visible step, the native-atomic-put strategy.
func (b *Backend) WriteAtomic(ctx context.Context, path string, content io.Reader, overwrite bool) error {
	return b.Write(ctx, path, content, overwrite)
}

func (b *Backend) Delete(_ context.Context, path string, missingOK bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.objects[path]; !ok {
		if missingOK {
			return nil
		}
		return odal.NewNotFound(backendName, path, "file not found")
	}
	delete(b.objects, path)
	return nil
}

// DeleteFolder removes every object under path. A prefix with zero objects
// is indistinguishable from "does not exist", so deleting it fails with
// ErrNotFound rather than succeeding as a no-op.
func (b *Backend) DeleteFolder(_ context.Context, path string, recursive, missingOK bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	var keys []string
	for key := range b.objects {
		if path == "" || strings.HasPrefix(key, path+"/") {
			keys = append(keys, key)
		}
	}
	if len(keys) == 0 {
		if missingOK {
			return nil
		}
		return odal.NewNotFound(backendName, path, "folder not found")
	}
	if !recursive {
		return odal.NewNotFound(backendName, path, "folder not empty")
	}
	for _, key := range keys {
		delete(b.objects, key)
	}
	return nil
}

// ListFiles re-reads the map on every range, so the sequence is restartable
// and reflects the store at enumeration time.
func (b *Backend) ListFiles(_ context.Context, path string, recursive bool) odal.FileSeq {
	return func(yield func(odal.FileInfo, error) bool) {
		b.mu.RLock()
		keys := make([]string, 0, len(b.objects))
		for key := range b.objects {
			if path != "" && !strings.HasPrefix(key, path+"/") {
				continue
			}
			rest := key
			if path != "" {
				rest = key[len(path)+1:]
			}
			if !recursive && strings.ContainsRune(rest, '/') {
				continue
			}
			keys = append(keys, key)
		}
		b.mu.RUnlock()
		sort.Strings(keys)
		for _, key := range keys {
			b.mu.RLock()
			obj, ok := b.objects[key]
			b.mu.RUnlock()
			if !ok {
				continue // deleted mid-enumeration
			}
			fi, err := b.fileInfo(key, obj)
			if err != nil {
				yield(odal.FileInfo{}, err)
				return
			}
			if !yield(fi, nil) {
				return
			}
		}
	}
}

func (b *Backend) ListFolders(_ context.Context, path string) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	seen := make(map[string]struct{})
	for key := range b.objects {
		rest := key
		if path != "" {
			var ok bool
			rest, ok = strings.CutPrefix(key, path+"/")
			if !ok {
				continue
			}
		}
		if name, _, ok := strings.Cut(rest, "/"); ok {
			seen[name] = struct{}{}
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (b *Backend) StatFile(_ context.Context, path string) (odal.FileInfo, error) {
	b.mu.RLock()
	obj, ok := b.objects[path]
	b.mu.RUnlock()
	if !ok {
		return odal.FileInfo{}, odal.NewNotFound(backendName, path, "file not found")
	}
	return b.fileInfo(path, obj)
}

func (b *Backend) StatFolder(ctx context.Context, path string) (odal.FolderInfo, error) {
	ok, err := b.IsFolder(ctx, path)
	if err != nil {
		return odal.FolderInfo{}, err
	}
	if !ok {
		return odal.FolderInfo{}, odal.NewNotFound(backendName, path, "folder not found")
	}
	info := odal.FolderInfo{}
	if path != "" {
		p, err := odal.ParsePath(path)
		if err != nil {
			return odal.FolderInfo{}, err
		}
		info.Path = p
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for key, obj := range b.objects {
		if path != "" && !strings.HasPrefix(key, path+"/") {
			continue
		}
		info.FileCount++
		info.TotalSize += int64(len(obj.data))
		if obj.modTime.After(info.ModTime) {
			info.ModTime = obj.modTime
		}
	}
	return info, nil
}

// Move is copy-then-delete over the map; under one lock it is effectively
// atomic here, but the contract does not promise that for this model.
func (b *Backend) Move(_ context.Context, src, dst string, overwrite bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	obj, ok := b.objects[src]
	if !ok {
		return odal.NewNotFound(backendName, src, "source not found")
	}
	if _, ok := b.objects[dst]; ok && !overwrite {
		return odal.NewAlreadyExists(backendName, dst)
	}
	b.objects[dst] = object{data: obj.data, modTime: b.now()}
	delete(b.objects, src)
	return nil
}

func (b *Backend) Copy(_ context.Context, src, dst string, overwrite bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	obj, ok := b.objects[src]
	if !ok {
		return odal.NewNotFound(backendName, src, "source not found")
	}
	if _, ok := b.objects[dst]; ok && !overwrite {
		return odal.NewAlreadyExists(backendName, dst)
	}
	data := make([]byte, len(obj.data))
	copy(data, obj.data)
	b.objects[dst] = object{data: data, modTime: b.now()}
	return nil
}

func (b *Backend) fileInfo(key string, obj object) (odal.FileInfo, error) {
	p, err := odal.ParsePath(key)
	if err != nil {
		return odal.FileInfo{}, err
	}
	return odal.FileInfo{
		Path:    p,
		Name:    p.Name(),
		Size:    int64(len(obj.data)),
		ModTime: obj.modTime,
	}, nil
}
