// Package azure implements the Backend contract over Azure Blob Storage,
// adapting to the account it talks to. Whether the account has a
// hierarchical namespace is probed exactly once, on the first operation:
// hierarchical accounts get real-directory folder semantics and an atomic
// server-side rename through the Data Lake endpoint, flat accounts get the
// virtual-prefix model. The probe result is latched only on success, so a
// probe that fails because the service is unreachable is retried by the
// next operation.
//
// File content always moves through the blob endpoint; the Data Lake
// endpoint is used only for directory and rename operations, which the blob
// API cannot express.
package azure

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azdatalake"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azdatalake/filesystem"

	"github.com/starford/odal"
)

const backendName = "azure"

// folderMetaKey marks directory placeholder blobs in hierarchical accounts.
const folderMetaKey = "hdi_isfolder"

const (
	copyPollInterval = 500 * time.Millisecond
	copyPollLimit    = 120
)

type nsMode int

const (
	nsUnknown nsMode = iota
	nsFlat
	nsHierarchical
)

// Options configures an Azure backend.
type Options struct {
	// AccountName and AccountKey are the shared key credentials. Required.
	AccountName string
	AccountKey  string
	// Container is the container (filesystem) name. Required.
	Container string
	// BlobEndpoint and DatalakeEndpoint override the service URLs, for
	// Azurite and test rigs. Defaults are derived from AccountName.
	BlobEndpoint     string
	DatalakeEndpoint string
}

// Backend is an adaptive adapter over one container.
type Backend struct {
	container  string
	client     *azblob.Client
	containerc *container.Client
	fsc        *filesystem.Client

	mu   sync.Mutex
	mode nsMode
}

// New builds the blob and datalake clients. No network call is made until
// the first operation triggers the namespace probe.
func New(opts Options) (*Backend, error) {
	if strings.TrimSpace(opts.AccountName) == "" || strings.TrimSpace(opts.AccountKey) == "" {
		return nil, odal.NewInvalidPath("", "azure backend requires account credentials")
	}
	if strings.TrimSpace(opts.Container) == "" {
		return nil, odal.NewInvalidPath("", "azure backend requires a container")
	}
	blobURL := opts.BlobEndpoint
	if blobURL == "" {
		blobURL = fmt.Sprintf("https://%s.blob.core.windows.net", opts.AccountName)
	}
	dfsURL := opts.DatalakeEndpoint
	if dfsURL == "" {
		dfsURL = fmt.Sprintf("https://%s.dfs.core.windows.net", opts.AccountName)
	}
	blobCred, err := azblob.NewSharedKeyCredential(opts.AccountName, opts.AccountKey)
	if err != nil {
		return nil, odal.NewUnavailable(backendName, err)
	}
	client, err := azblob.NewClientWithSharedKeyCredential(blobURL, blobCred, nil)
	if err != nil {
		return nil, odal.NewUnavailable(backendName, err)
	}
	dlCred, err := azdatalake.NewSharedKeyCredential(opts.AccountName, opts.AccountKey)
	if err != nil {
		return nil, odal.NewUnavailable(backendName, err)
	}
	fsc, err := filesystem.NewClientWithSharedKeyCredential(
		strings.TrimSuffix(dfsURL, "/")+"/"+opts.Container, dlCred, nil)
	if err != nil {
		return nil, odal.NewUnavailable(backendName, err)
	}
	return &Backend{
		container:  opts.Container,
		client:     client,
		containerc: client.ServiceClient().NewContainerClient(opts.Container),
		fsc:        fsc,
	}, nil
}

func (b *Backend) Name() string { return backendName }

func (b *Backend) Capabilities() odal.CapabilitySet {
	return odal.AllCapabilitiesExcept(odal.CapGlob)
}

// Close is a no-op: the SDK clients hold no session state.
func (b *Backend) Close() error { return nil }

// ToKey strips az:// and https:// blob URL forms plus the container prefix,
// returning the input unchanged when it is not under this container.
func (b *Backend) ToKey(nativePath string) string {
	p := nativePath
	if rest, ok := strings.CutPrefix(p, "az://"); ok {
		p = rest
	} else if rest, ok := strings.CutPrefix(p, "https://"); ok {
		if i := strings.IndexByte(rest, '/'); i >= 0 {
			p = rest[i+1:]
		} else {
			return nativePath
		}
	}
	if p == b.container {
		return ""
	}
	if rest, ok := strings.CutPrefix(p, b.container+"/"); ok {
		return rest
	}
	return nativePath
}

// namespaceMode returns the latched probe result, probing on first use. A
// failed probe is not latched.
func (b *Backend) namespaceMode(ctx context.Context) (nsMode, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.mode != nsUnknown {
		return b.mode, nil
	}
	resp, err := b.client.ServiceClient().GetAccountInfo(ctx, nil)
	if err != nil {
		return nsUnknown, odal.NewUnavailable(backendName, fmt.Errorf("namespace probe: %w", err))
	}
	if resp.IsHierarchicalNamespaceEnabled != nil && *resp.IsHierarchicalNamespaceEnabled {
		b.mode = nsHierarchical
	} else {
		b.mode = nsFlat
	}
	return b.mode, nil
}

// blobProps returns the blob properties, (zero, false, nil) when absent.
func (b *Backend) blobProps(ctx context.Context, path string) (blob.GetPropertiesResponse, bool, error) {
	resp, err := b.containerc.NewBlobClient(path).GetProperties(ctx, nil)
	if err != nil {
		if isNotFound(err) {
			return blob.GetPropertiesResponse{}, false, nil
		}
		return blob.GetPropertiesResponse{}, false, mapError(err, path)
	}
	return resp, true, nil
}

// isFolderMarker reports whether blob properties describe a hierarchical
// directory placeholder rather than file content.
func isFolderMarker(meta map[string]*string) bool {
	for k, v := range meta {
		if strings.EqualFold(k, folderMetaKey) && v != nil && strings.EqualFold(*v, "true") {
			return true
		}
	}
	return false
}

func (b *Backend) prefixExists(ctx context.Context, path string) (bool, error) {
	opts := &azblob.ListBlobsFlatOptions{MaxResults: to.Ptr(int32(1))}
	if path != "" {
		opts.Prefix = to.Ptr(path + "/")
	}
	pager := b.client.NewListBlobsFlatPager(b.container, opts)
	if !pager.More() {
		return false, nil
	}
	page, err := pager.NextPage(ctx)
	if err != nil {
		return false, mapError(err, path)
	}
	return len(page.Segment.BlobItems) > 0, nil
}

func (b *Backend) Exists(ctx context.Context, path string) (bool, error) {
	if path == "" {
		return true, nil
	}
	if _, ok, err := b.blobProps(ctx, path); err != nil || ok {
		return ok, err
	}
	return b.prefixExists(ctx, path)
}

func (b *Backend) IsFile(ctx context.Context, path string) (bool, error) {
	if path == "" {
		return false, nil
	}
	props, ok, err := b.blobProps(ctx, path)
	if err != nil || !ok {
		return false, err
	}
	return !isFolderMarker(props.Metadata), nil
}

// IsFolder follows the latched namespace mode: hierarchical accounts keep a
// placeholder blob per directory, so an emptied directory still exists;
// flat accounts derive folders from key prefixes.
func (b *Backend) IsFolder(ctx context.Context, path string) (bool, error) {
	if path == "" {
		return true, nil
	}
	mode, err := b.namespaceMode(ctx)
	if err != nil {
		return false, err
	}
	if mode == nsHierarchical {
		props, ok, err := b.blobProps(ctx, path)
		if err != nil || !ok {
			return false, err
		}
		return isFolderMarker(props.Metadata), nil
	}
	return b.prefixExists(ctx, path)
}

func (b *Backend) Read(ctx context.Context, path string) (io.ReadCloser, error) {
	resp, err := b.client.DownloadStream(ctx, b.container, path, nil)
	if err != nil {
		return nil, mapError(err, path)
	}
	return resp.Body, nil
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

// Write uploads via the blob endpoint. The no-overwrite case is checked
// with a properties probe before any byte is transferred, and enforced
// server-side with an If-None-Match: * condition so a writer racing past
// the probe still loses.
func (b *Backend) Write(ctx context.Context, path string, content io.Reader, overwrite bool) error {
	opts := &azblob.UploadStreamOptions{}
	if !overwrite {
		if _, ok, err := b.blobProps(ctx, path); err != nil {
			return err
		} else if ok {
			return odal.NewAlreadyExists(backendName, path)
		}
		opts.AccessConditions = &blob.AccessConditions{
			ModifiedAccessConditions: &blob.ModifiedAccessConditions{
				IfNoneMatch: to.Ptr(azcore.ETag("*")),
			},
		}
	}
	if _, err := b.client.UploadStream(ctx, b.container, path, content, opts); err != nil {
		if !overwrite && isConflict(err) {
			return odal.NewAlreadyExists(backendName, path)
		}
		return mapError(err, path)
	}
	return nil
}

// WriteAtomic is identical to Write: a blob becomes visible only when its
// block list is committed, which is a single step.
func (b *Backend) WriteAtomic(ctx context.Context, path string, content io.Reader, overwrite bool) error {
	return b.Write(ctx, path, content, overwrite)
}

func (b *Backend) Delete(ctx context.Context, path string, missingOK bool) error {
	props, ok, err := b.blobProps(ctx, path)
	if err != nil {
		return err
	}
	if !ok {
		if missingOK {
			return nil
		}
		return odal.NewNotFound(backendName, path, "file not found")
	}
	if isFolderMarker(props.Metadata) {
		return odal.NewInvalidPath(path, "path is a folder, not a file")
	}
	if _, err := b.client.DeleteBlob(ctx, b.container, path, nil); err != nil {
		return mapError(err, path)
	}
	return nil
}

// DeleteFolder follows the namespace mode. Hierarchical accounts delete
// through the Data Lake endpoint, where an emptied directory is a real
// entity and deleting it succeeds; flat accounts treat an empty prefix as
// nonexistent and fail with ErrNotFound.
func (b *Backend) DeleteFolder(ctx context.Context, path string, recursive, missingOK bool) error {
	mode, err := b.namespaceMode(ctx)
	if err != nil {
		return err
	}
	if mode == nsHierarchical {
		return b.deleteDirHNS(ctx, path, recursive, missingOK)
	}
	return b.deletePrefixFlat(ctx, path, recursive, missingOK)
}

func (b *Backend) deleteDirHNS(ctx context.Context, path string, recursive, missingOK bool) error {
	exists, err := b.IsFolder(ctx, path)
	if err != nil {
		return err
	}
	if !exists {
		if missingOK {
			return nil
		}
		return odal.NewNotFound(backendName, path, "folder not found")
	}
	if !recursive {
		hasChildren, err := b.prefixExists(ctx, path)
		if err != nil {
			return err
		}
		if hasChildren {
			return odal.NewNotFound(backendName, path, "folder not empty")
		}
	}
	if _, err := b.fsc.NewDirectoryClient(path).Delete(ctx, nil); err != nil {
		return mapError(err, path)
	}
	return nil
}

func (b *Backend) deletePrefixFlat(ctx context.Context, path string, recursive, missingOK bool) error {
	exists, err := b.prefixExists(ctx, path)
	if err != nil {
		return err
	}
	if !exists {
		if missingOK {
			return nil
		}
		return odal.NewNotFound(backendName, path, "folder not found")
	}
	if !recursive {
		return odal.NewNotFound(backendName, path, "folder not empty")
	}
	opts := &azblob.ListBlobsFlatOptions{}
	if path != "" {
		opts.Prefix = to.Ptr(path + "/")
	}
	pager := b.client.NewListBlobsFlatPager(b.container, opts)
	var keys []string
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return mapError(err, path)
		}
		for _, item := range page.Segment.BlobItems {
			keys = append(keys, *item.Name)
		}
	}
	for _, key := range keys {
		if _, err := b.client.DeleteBlob(ctx, b.container, key, nil); err != nil && !isNotFound(err) {
			return mapError(err, path)
		}
	}
	return nil
}

// ListFiles pages the flat blob listing, skipping directory placeholder
// blobs so hierarchical and flat accounts enumerate identically.
func (b *Backend) ListFiles(ctx context.Context, path string, recursive bool) odal.FileSeq {
	return func(yield func(odal.FileInfo, error) bool) {
		if !recursive {
			opts := &container.ListBlobsHierarchyOptions{
				Include: container.ListBlobsInclude{Metadata: true},
			}
			if path != "" {
				opts.Prefix = to.Ptr(path + "/")
			}
			pager := b.containerc.NewListBlobsHierarchyPager("/", opts)
			for pager.More() {
				page, err := pager.NextPage(ctx)
				if err != nil {
					yield(odal.FileInfo{}, mapError(err, path))
					return
				}
				for _, item := range page.Segment.BlobItems {
					if !yieldBlobItem(yield, item) {
						return
					}
				}
			}
			return
		}
		opts := &azblob.ListBlobsFlatOptions{
			Include: container.ListBlobsInclude{Metadata: true},
		}
		if path != "" {
			opts.Prefix = to.Ptr(path + "/")
		}
		pager := b.client.NewListBlobsFlatPager(b.container, opts)
		for pager.More() {
			page, err := pager.NextPage(ctx)
			if err != nil {
				yield(odal.FileInfo{}, mapError(err, path))
				return
			}
			for _, item := range page.Segment.BlobItems {
				if !yieldBlobItem(yield, item) {
					return
				}
			}
		}
	}
}

func yieldBlobItem(yield func(odal.FileInfo, error) bool, item *container.BlobItem) bool {
	name := *item.Name
	if strings.HasSuffix(name, "/") || isFolderMarker(item.Metadata) {
		return true
	}
	fi, err := blobItemInfo(name, item)
	if err != nil {
		yield(odal.FileInfo{}, err)
		return false
	}
	return yield(fi, nil)
}

func (b *Backend) ListFolders(ctx context.Context, path string) ([]string, error) {
	opts := &container.ListBlobsHierarchyOptions{}
	if path != "" {
		opts.Prefix = to.Ptr(path + "/")
	}
	pager := b.containerc.NewListBlobsHierarchyPager("/", opts)
	var names []string
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, mapError(err, path)
		}
		for _, prefix := range page.Segment.BlobPrefixes {
			name := strings.TrimSuffix(*prefix.Name, "/")
			if i := strings.LastIndexByte(name, '/'); i >= 0 {
				name = name[i+1:]
			}
			names = append(names, name)
		}
	}
	return names, nil
}

func (b *Backend) StatFile(ctx context.Context, path string) (odal.FileInfo, error) {
	props, ok, err := b.blobProps(ctx, path)
	if err != nil {
		return odal.FileInfo{}, err
	}
	if !ok {
		return odal.FileInfo{}, odal.NewNotFound(backendName, path, "file not found")
	}
	if isFolderMarker(props.Metadata) {
		return odal.FileInfo{}, odal.NewInvalidPath(path, "path is a folder, not a file")
	}
	p, err := odal.ParsePath(path)
	if err != nil {
		return odal.FileInfo{}, err
	}
	fi := odal.FileInfo{Path: p, Name: p.Name()}
	if props.ContentLength != nil {
		fi.Size = *props.ContentLength
	}
	if props.LastModified != nil {
		fi.ModTime = props.LastModified.UTC()
	}
	if props.ETag != nil {
		fi.Checksum = strings.Trim(string(*props.ETag), `"`)
	}
	if props.ContentType != nil {
		fi.ContentType = *props.ContentType
	}
	return fi, nil
}

// StatFolder aggregates over the files under the folder. In hierarchical
// mode an emptied directory still stats successfully with zero files; in
// flat mode zero files means the folder does not exist.
func (b *Backend) StatFolder(ctx context.Context, path string) (odal.FolderInfo, error) {
	mode, err := b.namespaceMode(ctx)
	if err != nil {
		return odal.FolderInfo{}, err
	}
	info := odal.FolderInfo{}
	if path != "" {
		p, err := odal.ParsePath(path)
		if err != nil {
			return odal.FolderInfo{}, err
		}
		info.Path = p
	}
	if mode == nsHierarchical && path != "" {
		props, ok, err := b.blobProps(ctx, path)
		if err != nil {
			return odal.FolderInfo{}, err
		}
		if !ok || !isFolderMarker(props.Metadata) {
			return odal.FolderInfo{}, odal.NewNotFound(backendName, path, "folder not found")
		}
		if props.LastModified != nil {
			info.ModTime = props.LastModified.UTC()
		}
	}
	for fi, err := range b.ListFiles(ctx, path, true) {
		if err != nil {
			return odal.FolderInfo{}, err
		}
		info.FileCount++
		info.TotalSize += fi.Size
		if fi.ModTime.After(info.ModTime) {
			info.ModTime = fi.ModTime
		}
	}
	if mode == nsFlat && info.FileCount == 0 {
		return odal.FolderInfo{}, odal.NewNotFound(backendName, path, "folder not found")
	}
	return info, nil
}

// Move is an atomic server-side rename on hierarchical accounts and a
// copy-then-delete on flat ones.
func (b *Backend) Move(ctx context.Context, src, dst string, overwrite bool) error {
	mode, err := b.namespaceMode(ctx)
	if err != nil {
		return err
	}
	props, ok, err := b.blobProps(ctx, src)
	if err != nil {
		return err
	}
	if !ok {
		return odal.NewNotFound(backendName, src, "source not found")
	}
	if isFolderMarker(props.Metadata) {
		return odal.NewInvalidPath(src, "path is a folder, not a file")
	}
	if !overwrite {
		if _, ok, err := b.blobProps(ctx, dst); err != nil {
			return err
		} else if ok {
			return odal.NewAlreadyExists(backendName, dst)
		}
	}
	if mode == nsHierarchical {
		if _, err := b.fsc.NewFileClient(src).Rename(ctx, dst, nil); err != nil {
			return mapError(err, src)
		}
		return nil
	}
	if err := b.Copy(ctx, src, dst, true); err != nil {
		return err
	}
	if _, err := b.client.DeleteBlob(ctx, b.container, src, nil); err != nil {
		return mapError(err, src)
	}
	return nil
}

// Copy is a server-side blob copy, polled to completion so the caller never
// observes a half-copied destination as success.
func (b *Backend) Copy(ctx context.Context, src, dst string, overwrite bool) error {
	if _, ok, err := b.blobProps(ctx, src); err != nil {
		return err
	} else if !ok {
		return odal.NewNotFound(backendName, src, "source not found")
	}
	if !overwrite {
		if _, ok, err := b.blobProps(ctx, dst); err != nil {
			return err
		} else if ok {
			return odal.NewAlreadyExists(backendName, dst)
		}
	}
	srcClient := b.containerc.NewBlobClient(src)
	dstClient := b.containerc.NewBlobClient(dst)
	if _, err := dstClient.StartCopyFromURL(ctx, srcClient.URL(), nil); err != nil {
		return mapError(err, src)
	}
	for i := 0; i < copyPollLimit; i++ {
		props, err := dstClient.GetProperties(ctx, nil)
		if err != nil {
			return mapError(err, dst)
		}
		if props.CopyStatus == nil || *props.CopyStatus == blob.CopyStatusTypeSuccess {
			return nil
		}
		if *props.CopyStatus != blob.CopyStatusTypePending {
			return odal.NewUnavailable(backendName,
				fmt.Errorf("copy %s to %s ended with status %s", src, dst, *props.CopyStatus))
		}
		select {
		case <-ctx.Done():
			return odal.NewUnavailable(backendName, ctx.Err())
		case <-time.After(copyPollInterval):
		}
	}
	return odal.NewUnavailable(backendName,
		fmt.Errorf("copy %s to %s did not complete", src, dst))
}

func blobItemInfo(name string, item *container.BlobItem) (odal.FileInfo, error) {
	p, err := odal.ParsePath(name)
	if err != nil {
		return odal.FileInfo{}, err
	}
	fi := odal.FileInfo{Path: p, Name: p.Name()}
	if item.Properties != nil {
		if item.Properties.ContentLength != nil {
			fi.Size = *item.Properties.ContentLength
		}
		if item.Properties.LastModified != nil {
			fi.ModTime = item.Properties.LastModified.UTC()
		}
		if item.Properties.ETag != nil {
			fi.Checksum = strings.Trim(string(*item.Properties.ETag), `"`)
		}
		if item.Properties.ContentType != nil {
			fi.ContentType = *item.Properties.ContentType
		}
	}
	return fi, nil
}

func isNotFound(err error) bool {
	var rerr *azcore.ResponseError
	return errors.As(err, &rerr) && rerr.StatusCode == 404
}

func isConflict(err error) bool {
	var rerr *azcore.ResponseError
	return errors.As(err, &rerr) && (rerr.StatusCode == 409 || rerr.StatusCode == 412)
}

// mapError remaps service responses to the normalized taxonomy. Responses
// that never reached the service (DNS, refused connection, timeouts) have
// no ResponseError and classify as the backend being unreachable.
func mapError(err error, path string) error {
	var oerr *odal.Error
	if errors.As(err, &oerr) {
		return err
	}
	var rerr *azcore.ResponseError
	if errors.As(err, &rerr) {
		switch rerr.StatusCode {
		case 404:
			return odal.NewNotFound(backendName, path, "not found")
		case 401, 403:
			return odal.NewPermissionDenied(backendName, path)
		case 409, 412:
			return odal.NewAlreadyExists(backendName, path)
		}
	}
	return odal.NewUnavailable(backendName, err)
}
