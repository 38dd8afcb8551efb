package export

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/minio/minio-go/v7"
	miniocreds "github.com/minio/minio-go/v7/pkg/credentials"
)

// Uploader writes one object and returns its location.
type Uploader interface {
	UploadBytes(ctx context.Context, key, contentType string, data []byte) (string, error)
}

type localUploader struct {
	rootDir string
}

func NewLocalUploader(rootDir string) Uploader {
	return &localUploader{rootDir: rootDir}
}

func (u *localUploader) UploadBytes(_ context.Context, key, _ string, data []byte) (string, error) {
	if err := validateKey(key); err != nil {
		return "", err
	}
	dst := filepath.Join(u.rootDir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", err
	}
	tmp := dst + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", err
	}
	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		return "", err
	}
	abs, _ := filepath.Abs(dst)
	return "file://" + filepath.ToSlash(abs), nil
}

type azureUploader struct {
	client    *azblob.Client
	container string
	logger    *slog.Logger

	mu      sync.Mutex
	ensured bool
}

// NewAzureBlobUploader creates an uploader for one container. The container
// is created on first upload when it does not exist.
func NewAzureBlobUploader(connectionString, container string, logger *slog.Logger) (Uploader, error) {
	if connectionString == "" {
		return nil, fmt.Errorf("azblob export requires a storage connection string")
	}
	client, err := azblob.NewClientFromConnectionString(connectionString, nil)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &azureUploader{client: client, container: container, logger: logger.With("sink", KindAzBlob)}, nil
}

func (a *azureUploader) UploadBytes(ctx context.Context, key, contentType string, data []byte) (string, error) {
	if err := validateKey(key); err != nil {
		return "", err
	}
	if err := a.ensureContainer(ctx); err != nil {
		return "", err
	}

	opts := &azblob.UploadStreamOptions{
		HTTPHeaders: &blob.HTTPHeaders{BlobContentType: &contentType},
	}
	if _, err := a.client.UploadStream(ctx, a.container, key, bytes.NewReader(data), opts); err != nil {
		return "", fmt.Errorf("upload blob %s: %w", key, err)
	}
	a.logger.Debug("blob uploaded", "container", a.container, "key", key, "bytes", len(data))
	return a.client.ServiceClient().NewContainerClient(a.container).NewBlobClient(key).URL(), nil
}

func (a *azureUploader) ensureContainer(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ensured {
		return nil
	}
	if _, err := a.client.CreateContainer(ctx, a.container, nil); err != nil && !bloberror.HasCode(err, bloberror.ContainerAlreadyExists) {
		return fmt.Errorf("create container %s: %w", a.container, err)
	}
	a.ensured = true
	return nil
}

// S3Options configures the S3-compatible sink.
type S3Options struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

type s3Uploader struct {
	client  *minio.Client
	bucket  string
	region  string

	mu      sync.Mutex
	ensured bool
}

func NewS3Uploader(opts S3Options, bucket string) (Uploader, error) {
	if opts.Endpoint == "" {
		return nil, fmt.Errorf("s3 export requires an endpoint")
	}
	cli, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  miniocreds.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}
	return &s3Uploader{client: cli, bucket: bucket, region: opts.Region}, nil
}

func (s *s3Uploader) UploadBytes(ctx context.Context, key, contentType string, data []byte) (string, error) {
	if err := validateKey(key); err != nil {
		return "", err
	}
	if err := s.ensureBucket(ctx); err != nil {
		return "", err
	}

	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("put object %s: %w", key, err)
	}
	u := *s.client.EndpointURL()
	u.Path = "/" + s.bucket + "/" + key
	return u.String(), nil
}

func (s *s3Uploader) ensureBucket(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ensured {
		return nil
	}
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
			return fmt.Errorf("create bucket %s: %w", s.bucket, err)
		}
	}
	s.ensured = true
	return nil
}
