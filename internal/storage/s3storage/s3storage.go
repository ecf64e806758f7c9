package s3storage

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"galleria/internal/storage"
)

const defaultContentType = "application/octet-stream"

// ClientMinio is the part of *minio.Client the storage uses.
type ClientMinio interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	GetObject(ctx context.Context, bucketName, objectName string, opts minio.GetObjectOptions) (*minio.Object, error)
	StatObject(ctx context.Context, bucketName, objectName string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
	RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error
}

// Storage keeps gallery files in an S3 compatible bucket. Object keys are the
// same relative paths the local storage uses.
type Storage struct {
	client  ClientMinio
	bucket  string
	baseURL string
	maxSize int64
}

func New(endpoint, accessKey, secretKey, bucket, baseURL string, useSSL bool, maxSize int64) (*Storage, error) {
	const op = "storage.s3storage.New"

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return NewWithClient(client, bucket, baseURL, maxSize), nil
}

func NewWithClient(client ClientMinio, bucket, baseURL string, maxSize int64) *Storage {
	return &Storage{
		client:  client,
		bucket:  bucket,
		baseURL: strings.TrimRight(baseURL, "/"),
		maxSize: maxSize,
	}
}

func (s *Storage) Save(ctx context.Context, file *multipart.FileHeader, subPath string) (string, int64, error) {
	const op = "storage.s3storage.Save"

	if s.maxSize > 0 && file.Size > s.maxSize {
		return "", 0, storage.ErrFileTooLarge
	}

	src, err := file.Open()
	if err != nil {
		return "", 0, fmt.Errorf("%s: failed to open source file: %w", op, err)
	}
	defer src.Close()

	key, err := s.freeKey(ctx, subPath, path.Base(strings.ReplaceAll(file.Filename, "\\", "/")))
	if err != nil {
		return "", 0, fmt.Errorf("%s: %w", op, err)
	}

	info, err := s.client.PutObject(ctx, s.bucket, key, src, file.Size, minio.PutObjectOptions{
		ContentType: contentType(file.Header.Get("Content-Type")),
	})
	if err != nil {
		return "", 0, fmt.Errorf("%s: %w", op, err)
	}

	return key, info.Size, nil
}

// freeKey picks a key under subPath that no object uses yet, suffixing the
// name on conflict. Stat and put are separate calls, so two uploads of the
// same name racing each other can still meet.
func (s *Storage) freeKey(ctx context.Context, subPath, name string) (string, error) {
	candidate := name
	for i := 0; i < storage.MaxNameAttempts; i++ {
		key := objectKey(path.Join(subPath, candidate))

		_, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
		if err != nil {
			if minio.ToErrorResponse(err).Code == "NoSuchKey" {
				return key, nil
			}
			return "", err
		}

		candidate = storage.AlternativeName(name)
	}

	return "", fmt.Errorf("no free key for %s in %s", name, subPath)
}

// Write uploads r under key. Objects become visible only once fully written.
func (s *Storage) Write(ctx context.Context, key string, r io.Reader) (int64, error) {
	const op = "storage.s3storage.Write"

	info, err := s.client.PutObject(ctx, s.bucket, objectKey(key), r, -1, minio.PutObjectOptions{
		ContentType: contentTypeByExt(key),
	})
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return info.Size, nil
}

func (s *Storage) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	const op = "storage.s3storage.Open"

	key = objectKey(key)

	if _, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{}); err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, fmt.Errorf("%s: %s: %w", op, key, storage.ErrFileNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return obj, nil
}

func (s *Storage) Delete(ctx context.Context, key string) error {
	const op = "storage.s3storage.Delete"

	if err := s.client.RemoveObject(ctx, s.bucket, objectKey(key), minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (s *Storage) PublicURL(key string) string {
	return s.baseURL + "/" + objectKey(key)
}

// GetFullPath returns the bucket-qualified object name.
func (s *Storage) GetFullPath(key string) string {
	return path.Join(s.bucket, objectKey(key))
}

func (s *Storage) BaseURL() string {
	return s.baseURL
}

func (s *Storage) GetBaseDir() string {
	return ""
}

func objectKey(p string) string {
	return strings.TrimLeft(path.Clean("/"+strings.ReplaceAll(p, "\\", "/")), "/")
}

func contentType(ct string) string {
	if ct == "" {
		return defaultContentType
	}

	return ct
}

func contentTypeByExt(key string) string {
	switch strings.ToLower(path.Ext(key)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	}

	return defaultContentType
}
