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

const obsoletePrefix = "obsolete/"

// MinioStore keeps document files in an object-storage bucket instead of the
// local disk. Archiving an object is a server-side copy to the obsolete
// prefix followed by a delete of the source, which is the same
// copy-then-delete fallback the local relocator uses.
type MinioStore struct {
	client *minio.Client
	bucket string
}

func NewMinioStore(endpoint, accessKey, secretKey, bucket string, useSSL bool) (*MinioStore, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	return &MinioStore{client: client, bucket: bucket}, nil
}

// EnsureBucket creates the bucket when it does not already exist.
func (s *MinioStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket: %w", err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("make bucket: %w", err)
	}
	return nil
}

func (s *MinioStore) Save(ctx context.Context, name string, r io.Reader, size int64) (string, error) {
	object := "uploads/" + name
	_, err := s.client.PutObject(ctx, s.bucket, object, r, size, minio.PutObjectOptions{})
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	return object, nil
}

func (s *MinioStore) Open(ctx context.Context, object string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, object, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object: %w", err)
	}
	return obj, nil
}

func (s *MinioStore) Remove(ctx context.Context, object string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, object, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove object: %w", err)
	}
	return nil
}

func (s *MinioStore) Archive(ctx context.Context, object string) (string, error) {
	exists, err := s.exists(ctx, object)
	if err != nil {
		return "", &RelocationError{Source: object, Err: err}
	}
	if !exists {
		return "", &RelocationError{Source: object, Err: ErrSourceMissing}
	}

	destination, err := s.freeName(ctx, path.Base(object))
	if err != nil {
		return "", &RelocationError{Source: object, Err: err}
	}

	_, err = s.client.CopyObject(ctx,
		minio.CopyDestOptions{Bucket: s.bucket, Object: destination},
		minio.CopySrcOptions{Bucket: s.bucket, Object: object},
	)
	if err != nil {
		return "", &RelocationError{Source: object, Err: fmt.Errorf("copy to obsolete: %w", err)}
	}
	if err := s.client.RemoveObject(ctx, s.bucket, object, minio.RemoveObjectOptions{}); err != nil {
		return "", &RelocationError{Source: object, Err: fmt.Errorf("copied but source not removed: %w", err)}
	}
	return destination, nil
}

func (s *MinioStore) exists(ctx context.Context, object string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucket, object, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return false, nil
		}
		return false, fmt.Errorf("stat object: %w", err)
	}
	return true, nil
}

func (s *MinioStore) freeName(ctx context.Context, base string) (string, error) {
	ext := path.Ext(base)
	stem := strings.TrimSuffix(base, ext)

	candidate := obsoletePrefix + base
	for suffix := 1; ; suffix++ {
		taken, err := s.exists(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
		candidate = obsoletePrefix + fmt.Sprintf("%s_%d%s", stem, suffix, ext)
	}
}
