package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"strings"

	"asr-eval-driver/internal/logx"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Config locates the bucket run artifacts are published to.
type Config struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	UseSSL          bool
	// Prefix is prepended to every object key.
	Prefix string
}

// Enabled reports whether enough is configured to connect.
func (c Config) Enabled() bool {
	return c.Endpoint != "" && c.BucketName != ""
}

// MinioClient uploads evaluation artifacts to one bucket.
type MinioClient struct {
	Client     *minio.Client
	BucketName string
	Prefix     string
}

// NewMinioClient connects to the configured endpoint. It does not touch the bucket.
func NewMinioClient(cfg Config) (*MinioClient, error) {
	if !cfg.Enabled() {
		return nil, errors.New("minio endpoint and bucket name must be set")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize MinIO client: %w", err)
	}
	return &MinioClient{Client: client, BucketName: cfg.BucketName, Prefix: cfg.Prefix}, nil
}

// EnsureBucket creates the bucket when it does not exist yet.
func (mc *MinioClient) EnsureBucket(ctx context.Context) error {
	exists, err := mc.Client.BucketExists(ctx, mc.BucketName)
	if err != nil {
		return fmt.Errorf("failed to check if MinIO bucket '%s' exists: %w", mc.BucketName, err)
	}
	if exists {
		return nil
	}
	logx.Log.Info().Str("bucket", mc.BucketName).Msg("creating MinIO bucket")
	if err := mc.Client.MakeBucket(ctx, mc.BucketName, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("failed to create MinIO bucket '%s': %w", mc.BucketName, err)
	}
	return nil
}

// ObjectName builds <prefix>/<jobID>/<parts...>. Empty elements are skipped.
func ObjectName(prefix, jobID string, parts ...string) string {
	elems := make([]string, 0, len(parts)+2)
	for _, p := range append([]string{prefix, jobID}, parts...) {
		p = strings.Trim(filepath.ToSlash(p), "/")
		if p != "" {
			elems = append(elems, p)
		}
	}
	return path.Join(elems...)
}

// ContentType guesses the content type of a run artifact from its name.
func ContentType(name string) string {
	switch path.Ext(name) {
	case ".json":
		return "application/json"
	case ".yaml", ".yml":
		return "application/yaml"
	default:
		return "text/plain; charset=utf-8"
	}
}

// UploadArtifact uploads a local file under the job's key space and returns the object name.
func (mc *MinioClient) UploadArtifact(ctx context.Context, jobID string, localPath string, parts ...string) (string, error) {
	objectName := ObjectName(mc.Prefix, jobID, parts...)
	info, err := mc.Client.FPutObject(ctx, mc.BucketName, objectName, localPath, minio.PutObjectOptions{
		ContentType: ContentType(objectName),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload %s to MinIO (bucket: %s, object: %s): %w", localPath, mc.BucketName, objectName, err)
	}
	logx.Log.Debug().Str("object", objectName).Int64("size", info.Size).Msg("artifact uploaded")
	return objectName, nil
}

// DownloadArtifact reads back an object stored by UploadArtifact.
func (mc *MinioClient) DownloadArtifact(ctx context.Context, jobID string, parts ...string) ([]byte, error) {
	return mc.GetFileBytes(ctx, ObjectName(mc.Prefix, jobID, parts...))
}

// GetFileBytes downloads an object into memory.
func (mc *MinioClient) GetFileBytes(ctx context.Context, objectName string) ([]byte, error) {
	object, err := mc.Client.GetObject(ctx, mc.BucketName, objectName, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get object '%s' from bucket '%s': %w", objectName, mc.BucketName, err)
	}
	defer object.Close()
	data, err := io.ReadAll(object)
	if err != nil {
		return nil, fmt.Errorf("failed to read object '%s' data: %w", objectName, err)
	}
	return data, nil
}
