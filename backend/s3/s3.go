// Package s3 implements the Backend contract on S3-compatible object
// storage. Folders follow the virtual-prefix model: a folder is not a stored
// entity, it exists exactly while at least one object key lives under its
// prefix. A single whole-object PUT is atomic at the service level, so the
// atomic write is the plain write.
package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/starford/odal"
)

const backendName = "s3"

// deleteBatchSize is the DeleteObjects request limit.
const deleteBatchSize = 1000

// Options configures an S3 backend. Credentials left empty fall back to the
// default AWS provider chain.
type Options struct {
	// Bucket is the bucket name. Required.
	Bucket string
	// Region is the AWS region.
	Region string
	// Endpoint overrides the service endpoint (MinIO, LocalStack). A custom
	// endpoint also switches the client to path-style addressing.
	Endpoint string
	// AccessKeyID and SecretAccessKey select static credentials.
	AccessKeyID     string
	SecretAccessKey string
}

// Backend is a virtual-prefix adapter over one bucket.
type Backend struct {
	client *awss3.Client
	bucket string
}

// New builds the S3 client from the default config chain plus any explicit
// options and returns a backend over opts.Bucket. No network call is made
// until the first operation.
func New(ctx context.Context, opts Options) (*Backend, error) {
	if strings.TrimSpace(opts.Bucket) == "" {
		return nil, odal.NewInvalidPath("", "s3 backend requires a bucket")
	}
	var loadOpts []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	if opts.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, "")))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, odal.NewUnavailable(backendName, err)
	}
	var s3Opts []func(*awss3.Options)
	if opts.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *awss3.Options) {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		})
	}
	return &Backend{client: awss3.NewFromConfig(cfg, s3Opts...), bucket: opts.Bucket}, nil
}

// NewWithClient wraps an already-constructed client; used by tests and by
// callers that share one client across backends.
func NewWithClient(client *awss3.Client, bucket string) *Backend {
	return &Backend{client: client, bucket: bucket}
}

func (b *Backend) Name() string { return backendName }

func (b *Backend) Capabilities() odal.CapabilitySet { return odal.AllCapabilities() }

// Close is a no-op: the SDK client holds no session state, and operations
// after Close keep working.
func (b *Backend) Close() error { return nil }

// ToKey strips the bucket prefix (with or without the s3:// scheme) from a
// native path, returning the input unchanged otherwise.
func (b *Backend) ToKey(nativePath string) string {
	trimmed := strings.TrimPrefix(nativePath, "s3://")
	if rest, ok := strings.CutPrefix(trimmed, b.bucket+"/"); ok {
		return rest
	}
	if trimmed == b.bucket {
		return ""
	}
	return nativePath
}

func (b *Backend) headExists(ctx context.Context, key string) (bool, error) {
	_, err := b.client.HeadObject(ctx, &awss3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, mapError(err, key)
	}
	return true, nil
}

func (b *Backend) prefixExists(ctx context.Context, path string) (bool, error) {
	in := &awss3.ListObjectsV2Input{
		Bucket:  aws.String(b.bucket),
		MaxKeys: aws.Int32(1),
	}
	if path != "" {
		in.Prefix = aws.String(path + "/")
	}
	out, err := b.client.ListObjectsV2(ctx, in)
	if err != nil {
		return false, mapError(err, path)
	}
	return len(out.Contents) > 0, nil
}

func (b *Backend) Exists(ctx context.Context, path string) (bool, error) {
	if path == "" {
		return true, nil
	}
	if ok, err := b.headExists(ctx, path); err != nil || ok {
		return ok, err
	}
	return b.prefixExists(ctx, path)
}

func (b *Backend) IsFile(ctx context.Context, path string) (bool, error) {
	if path == "" {
		return false, nil
	}
	return b.headExists(ctx, path)
}

// IsFolder is true iff at least one object key lives under path; the folder
// ceases to exist the moment its last object is removed.
func (b *Backend) IsFolder(ctx context.Context, path string) (bool, error) {
	if path == "" {
		return true, nil
	}
	return b.prefixExists(ctx, path)
}

func (b *Backend) Read(ctx context.Context, path string) (io.ReadCloser, error) {
	out, err := b.client.GetObject(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		return nil, mapError(err, path)
	}
	return out.Body, nil
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

// Write uploads the whole object in one PUT. Content is buffered first:
// PutObject wants a seekable body, and the existence check must complete
// before any byte is transferred.
func (b *Backend) Write(ctx context.Context, path string, content io.Reader, overwrite bool) error {
	if !overwrite {
		exists, err := b.headExists(ctx, path)
		if err != nil {
			return err
		}
		if exists {
			return odal.NewAlreadyExists(backendName, path)
		}
	}
	data, err := io.ReadAll(content)
	if err != nil {
		return odal.NewUnavailable(backendName, err)
	}
	_, err = b.client.PutObject(ctx, &awss3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(path),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return mapError(err, path)
	}
	return nil
}

// WriteAtomic is identical to Write: a whole-object PUT is already atomic at
// the service level, so no temp object is needed.
func (b *Backend) WriteAtomic(ctx context.Context, path string, content io.Reader, overwrite bool) error {
	return b.Write(ctx, path, content, overwrite)
}

func (b *Backend) Delete(ctx context.Context, path string, missingOK bool) error {
	exists, err := b.headExists(ctx, path)
	if err != nil {
		return err
	}
	if !exists {
		if missingOK {
			return nil
		}
		return odal.NewNotFound(backendName, path, "file not found")
	}
	_, err = b.client.DeleteObject(ctx, &awss3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		return mapError(err, path)
	}
	return nil
}

// DeleteFolder removes every object under the prefix in batches. A prefix
// holding zero objects is indistinguishable from "does not exist" in this
// model, so it fails with ErrNotFound instead of succeeding as a no-op.
func (b *Backend) DeleteFolder(ctx context.Context, path string, recursive, missingOK bool) error {
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
	in := &awss3.ListObjectsV2Input{Bucket: aws.String(b.bucket)}
	if path != "" {
		in.Prefix = aws.String(path + "/")
	}
	paginator := awss3.NewListObjectsV2Paginator(b.client, in)
	var batch []types.ObjectIdentifier
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		_, err := b.client.DeleteObjects(ctx, &awss3.DeleteObjectsInput{
			Bucket: aws.String(b.bucket),
			Delete: &types.Delete{Objects: batch, Quiet: aws.Bool(true)},
		})
		batch = batch[:0]
		if err != nil {
			return mapError(err, path)
		}
		return nil
	}
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return mapError(err, path)
		}
		for _, obj := range page.Contents {
			batch = append(batch, types.ObjectIdentifier{Key: obj.Key})
			if len(batch) == deleteBatchSize {
				if err := flush(); err != nil {
					return err
				}
			}
		}
	}
	return flush()
}

// ListFiles pages through the bucket on every range, so the sequence is
// restartable. Non-recursive listing uses a "/" delimiter to stop at the
// first level; folder placeholder keys (trailing "/") are skipped.
func (b *Backend) ListFiles(ctx context.Context, path string, recursive bool) odal.FileSeq {
	return func(yield func(odal.FileInfo, error) bool) {
		in := &awss3.ListObjectsV2Input{Bucket: aws.String(b.bucket)}
		if path != "" {
			in.Prefix = aws.String(path + "/")
		}
		if !recursive {
			in.Delimiter = aws.String("/")
		}
		paginator := awss3.NewListObjectsV2Paginator(b.client, in)
		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx)
			if err != nil {
				yield(odal.FileInfo{}, mapError(err, path))
				return
			}
			for _, obj := range page.Contents {
				key := aws.ToString(obj.Key)
				if strings.HasSuffix(key, "/") {
					continue
				}
				fi, err := objectInfo(key, obj)
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
}

func (b *Backend) ListFolders(ctx context.Context, path string) ([]string, error) {
	in := &awss3.ListObjectsV2Input{
		Bucket:    aws.String(b.bucket),
		Delimiter: aws.String("/"),
	}
	if path != "" {
		in.Prefix = aws.String(path + "/")
	}
	var names []string
	paginator := awss3.NewListObjectsV2Paginator(b.client, in)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, mapError(err, path)
		}
		for _, cp := range page.CommonPrefixes {
			prefix := strings.TrimSuffix(aws.ToString(cp.Prefix), "/")
			if i := strings.LastIndexByte(prefix, '/'); i >= 0 {
				prefix = prefix[i+1:]
			}
			names = append(names, prefix)
		}
	}
	return names, nil
}

func (b *Backend) StatFile(ctx context.Context, path string) (odal.FileInfo, error) {
	out, err := b.client.HeadObject(ctx, &awss3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		if isNotFound(err) {
			return odal.FileInfo{}, odal.NewNotFound(backendName, path, "file not found")
		}
		return odal.FileInfo{}, mapError(err, path)
	}
	p, err := odal.ParsePath(path)
	if err != nil {
		return odal.FileInfo{}, err
	}
	fi := odal.FileInfo{
		Path:        p,
		Name:        p.Name(),
		Size:        aws.ToInt64(out.ContentLength),
		Checksum:    strings.Trim(aws.ToString(out.ETag), `"`),
		ContentType: aws.ToString(out.ContentType),
	}
	if out.LastModified != nil {
		fi.ModTime = out.LastModified.UTC()
	}
	return fi, nil
}

// StatFolder aggregates over every object under the prefix; zero objects
// means the folder does not exist.
func (b *Backend) StatFolder(ctx context.Context, path string) (odal.FolderInfo, error) {
	in := &awss3.ListObjectsV2Input{Bucket: aws.String(b.bucket)}
	if path != "" {
		in.Prefix = aws.String(path + "/")
	}
	out := odal.FolderInfo{}
	if path != "" {
		p, err := odal.ParsePath(path)
		if err != nil {
			return odal.FolderInfo{}, err
		}
		out.Path = p
	}
	paginator := awss3.NewListObjectsV2Paginator(b.client, in)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return odal.FolderInfo{}, mapError(err, path)
		}
		for _, obj := range page.Contents {
			if strings.HasSuffix(aws.ToString(obj.Key), "/") {
				continue
			}
			out.FileCount++
			out.TotalSize += aws.ToInt64(obj.Size)
			if obj.LastModified != nil {
				if mt := obj.LastModified.UTC(); mt.After(out.ModTime) {
					out.ModTime = mt
				}
			}
		}
	}
	if out.FileCount == 0 {
		return odal.FolderInfo{}, odal.NewNotFound(backendName, path, "folder not found")
	}
	return out, nil
}

// Move is server-side copy followed by source delete. It is not atomic: a
// failure between the two steps can leave both objects present.
func (b *Backend) Move(ctx context.Context, src, dst string, overwrite bool) error {
	if err := b.Copy(ctx, src, dst, overwrite); err != nil {
		return err
	}
	_, err := b.client.DeleteObject(ctx, &awss3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(src),
	})
	if err != nil {
		return mapError(err, src)
	}
	return nil
}

// Copy duplicates via server-side CopyObject; bytes never route through the
// caller.
func (b *Backend) Copy(ctx context.Context, src, dst string, overwrite bool) error {
	exists, err := b.headExists(ctx, src)
	if err != nil {
		return err
	}
	if !exists {
		return odal.NewNotFound(backendName, src, "source not found")
	}
	if !overwrite {
		exists, err := b.headExists(ctx, dst)
		if err != nil {
			return err
		}
		if exists {
			return odal.NewAlreadyExists(backendName, dst)
		}
	}
	_, err = b.client.CopyObject(ctx, &awss3.CopyObjectInput{
		Bucket:     aws.String(b.bucket),
		Key:        aws.String(dst),
		CopySource: aws.String(url.PathEscape(b.bucket + "/" + src)),
	})
	if err != nil {
		return mapError(err, src)
	}
	return nil
}

func objectInfo(key string, obj types.Object) (odal.FileInfo, error) {
	p, err := odal.ParsePath(key)
	if err != nil {
		return odal.FileInfo{}, err
	}
	fi := odal.FileInfo{
		Path:     p,
		Name:     p.Name(),
		Size:     aws.ToInt64(obj.Size),
		Checksum: strings.Trim(aws.ToString(obj.ETag), `"`),
	}
	if obj.LastModified != nil {
		fi.ModTime = obj.LastModified.UTC()
	}
	return fi, nil
}

// isNotFound covers both the modeled NoSuchKey error and the bare 404 that
// HeadObject returns.
func isNotFound(err error) bool {
	var noKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noKey) || errors.As(err, &notFound) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey", "404":
			return true
		}
	}
	return false
}

// mapError remaps SDK errors to the normalized taxonomy. Anything that is
// not a modeled API response (DNS failure, refused connection, timeout) is
// treated as the backend being unreachable.
func mapError(err error, path string) error {
	var oerr *odal.Error
	if errors.As(err, &oerr) {
		return err
	}
	if isNotFound(err) {
		return odal.NewNotFound(backendName, path, "not found")
	}
	var noBucket *types.NoSuchBucket
	if errors.As(err, &noBucket) {
		return odal.NewNotFound(backendName, path, "bucket not found")
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "AccessDenied", "Forbidden", "403", "AccessControlListNotSupported":
			return odal.NewPermissionDenied(backendName, path)
		case "NoSuchBucket":
			return odal.NewNotFound(backendName, path, "bucket not found")
		}
	}
	return odal.NewUnavailable(backendName, err)
}
