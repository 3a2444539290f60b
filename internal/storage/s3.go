package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type S3Storage struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewS3Storage connects to the bucket in cfg. Keys are stored under prefix.
func NewS3Storage(cfg S3Config, prefix string) (*S3Storage, error) {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = "s3.amazonaws.com"
	}

	endpoint = strings.TrimPrefix(endpoint, "https://")
	endpoint = strings.TrimPrefix(endpoint, "http://")

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 client: %w", err)
	}

	prefix = strings.Trim(prefix, "/")
	if prefix != "" {
		prefix += "/"
	}

	return &S3Storage{client: client, bucket: cfg.Bucket, prefix: prefix}, nil
}

func (s *S3Storage) objectName(key string) string {
	return s.prefix + strings.TrimPrefix(path.Clean("/"+key), "/")
}

func contentType(key string) string {
	switch path.Ext(key) {
	case ".json":
		return "application/json"
	case ".sql":
		return "application/sql"
	default:
		return "application/octet-stream"
	}
}

func (s *S3Storage) wrap(op, key string, err error) error {
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		err = ErrNotFound
	}
	return &StorageError{Op: op, Path: key, Err: err}
}

// Write streams r to the bucket as a multipart upload of unknown size.
func (s *S3Storage) Write(ctx context.Context, key string, r io.Reader) error {
	_, err := s.client.PutObject(ctx, s.bucket, s.objectName(key), r, -1, minio.PutObjectOptions{
		ContentType: contentType(key),
	})
	if err != nil {
		return s.wrap("write", key, err)
	}
	return nil
}

func (s *S3Storage) Read(ctx context.Context, key string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, s.objectName(key), minio.GetObjectOptions{})
	if err != nil {
		return nil, s.wrap("read", key, err)
	}

	// GetObject is lazy; Stat surfaces a missing key before the first Read.
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		return nil, s.wrap("read", key, err)
	}

	return obj, nil
}

func (s *S3Storage) Delete(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, s.objectName(key), minio.RemoveObjectOptions{}); err != nil {
		return s.wrap("delete", key, err)
	}
	return nil
}

func (s *S3Storage) List(ctx context.Context, prefix string) ([]Object, error) {
	var objects []Object

	for info := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    s.prefix + prefix,
		Recursive: true,
	}) {
		if info.Err != nil {
			return nil, s.wrap("list", prefix, info.Err)
		}
		objects = append(objects, Object{
			Key:          strings.TrimPrefix(info.Key, s.prefix),
			Size:         info.Size,
			LastModified: info.LastModified,
		})
	}

	sortNewestFirst(objects)
	return objects, nil
}

func (s *S3Storage) Stat(ctx context.Context, key string) (Object, error) {
	info, err := s.client.StatObject(ctx, s.bucket, s.objectName(key), minio.StatObjectOptions{})
	if err != nil {
		return Object{}, s.wrap("stat", key, err)
	}
	return Object{Key: key, Size: info.Size, LastModified: info.LastModified}, nil
}

func (s *S3Storage) Upload(ctx context.Context, key, localPath string) error {
	_, err := s.client.FPutObject(ctx, s.bucket, s.objectName(key), localPath, minio.PutObjectOptions{
		ContentType: contentType(key),
	})
	if err != nil {
		return s.wrap("upload", key, err)
	}
	return nil
}

func (s *S3Storage) Download(ctx context.Context, key, localPath string) error {
	if err := s.client.FGetObject(ctx, s.bucket, s.objectName(key), localPath, minio.GetObjectOptions{}); err != nil {
		return s.wrap("download", key, err)
	}
	return nil
}
