package odal

import "time"

// FileInfo is an immutable snapshot of one file's metadata, taken at query
// time and never updated afterwards.
type FileInfo struct {
	Path        Path
	Name        string
	Size        int64
	ModTime     time.Time
	Checksum    string            // backend checksum (ETag, MD5, ...) when available
	ContentType string            // MIME type when the backend records one
	Extra       map[string]string // backend-specific metadata
}

// FolderInfo is an immutable snapshot of one folder's aggregate metadata.
// ModTime is the latest modification time of any contained file and may be
// zero when the folder holds no files.
type FolderInfo struct {
	Path      Path
	FileCount int
	TotalSize int64
	ModTime   time.Time
	Extra     map[string]string
}
