package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime"
	"strings"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/fdfsweb/gateway/internal/fdfs"
)

// MinioConfig holds the connection settings of an S3-compatible backend.
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// MinioStorage implements Storage on MinIO or any S3-compatible provider.
// The bucket plays the role of the FastDFS group, so its name must contain
// "group" for generated URLs to parse back into a store path.
type MinioStorage struct {
	client *minio.Client
	bucket string
}

// NewMinioStorage creates a MinIO client, ensures the bucket exists with a
// public-read policy, and returns a ready-to-use MinioStorage.
func NewMinioStorage(ctx context.Context, cfg MinioConfig) (*MinioStorage, error) {
	if !strings.Contains(cfg.Bucket, "group") {
		return nil, fmt.Errorf("bucket %q: name must contain \"group\"", cfg.Bucket)
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket existence: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %q: %w", cfg.Bucket, err)
		}
		log.Printf("storage: created bucket %q", cfg.Bucket)
	}

	if err := client.SetBucketPolicy(ctx, cfg.Bucket, publicReadPolicy(cfg.Bucket)); err != nil {
		return nil, fmt.Errorf("set bucket policy: %w", err)
	}

	return &MinioStorage{client: client, bucket: cfg.Bucket}, nil
}

// Upload stores the object under a fresh key "<uuid>.<ext>". Metadata is
// kept as S3 user metadata; S3 canonicalises the key casing.
func (s *MinioStorage) Upload(ctx context.Context, r io.Reader, size int64, ext string, meta fdfs.MetaData) (fdfs.StorePath, error) {
	ext = strings.TrimPrefix(ext, ".")
	key := uuid.NewString()
	if ext != "" {
		key += "." + ext
	}

	_, err := s.client.PutObject(ctx, s.bucket, key, r, size, minio.PutObjectOptions{
		ContentType:  contentType(ext),
		UserMetadata: meta,
	})
	if err != nil {
		return fdfs.StorePath{}, fmt.Errorf("put object %q: %w", key, err)
	}
	return fdfs.StorePath{Group: s.bucket, Path: key}, nil
}

func (s *MinioStorage) Download(ctx context.Context, sp fdfs.StorePath, w io.Writer) (int64, error) {
	obj, err := s.client.GetObject(ctx, sp.Group, sp.Path, minio.GetObjectOptions{})
	if err != nil {
		return 0, mapMinioError(sp, err)
	}
	defer obj.Close()

	if _, err := obj.Stat(); err != nil {
		return 0, mapMinioError(sp, err)
	}
	n, err := io.Copy(w, obj)
	if err != nil {
		return n, fmt.Errorf("read object %s: %w", sp, err)
	}
	return n, nil
}

// Delete removes the object. S3 treats removing a missing key as success,
// so the object is looked up first to report ErrNotFound like FastDFS does.
func (s *MinioStorage) Delete(ctx context.Context, sp fdfs.StorePath) error {
	if _, err := s.client.StatObject(ctx, sp.Group, sp.Path, minio.StatObjectOptions{}); err != nil {
		return mapMinioError(sp, err)
	}
	if err := s.client.RemoveObject(ctx, sp.Group, sp.Path, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove object %s: %w", sp, err)
	}
	return nil
}

func (s *MinioStorage) Metadata(ctx context.Context, sp fdfs.StorePath) (fdfs.MetaData, error) {
	info, err := s.client.StatObject(ctx, sp.Group, sp.Path, minio.StatObjectOptions{})
	if err != nil {
		return nil, mapMinioError(sp, err)
	}
	meta := fdfs.MetaData{}
	for k, v := range info.UserMetadata {
		meta[k] = v
	}
	return meta, nil
}

func (s *MinioStorage) Ping(ctx context.Context) error {
	if _, err := s.client.BucketExists(ctx, s.bucket); err != nil {
		return fmt.Errorf("ping bucket %q: %w", s.bucket, err)
	}
	return nil
}

func (s *MinioStorage) Close() error { return nil }

func mapMinioError(sp fdfs.StorePath, err error) error {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchBucket":
		return fmt.Errorf("%w: %s", ErrNotFound, sp)
	}
	return fmt.Errorf("stat object %s: %w", sp, err)
}

func contentType(ext string) string {
	if ext == "" {
		return "application/octet-stream"
	}
	if t := mime.TypeByExtension("." + ext); t != "" {
		return t
	}
	return "application/octet-stream"
}

// publicReadPolicy returns an S3 bucket policy JSON that allows anonymous
// GET on all objects, so stored URLs can be served directly.
func publicReadPolicy(bucket string) string {
	policy := map[string]interface{}{
		"Version": "2012-10-17",
		"Statement": []map[string]interface{}{
			{
				"Effect":    "Allow",
				"Principal": "*",
				"Action":    "s3:GetObject",
				"Resource":  fmt.Sprintf("arn:aws:s3:::%s/*", bucket),
			},
		},
	}
	b, _ := json.Marshal(policy)
	return string(b)
}
