package cloudblob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"flashrevise/api/internal/syncer"
)

// MinioStore keeps blobs as objects in an S3-compatible bucket. The object
// key is the file name, so ids and names coincide.
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
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return &MinioStore{client: client, bucket: bucket}, nil
}

// EnsureBucket creates the bucket when it does not exist yet.
func (m *MinioStore) EnsureBucket(ctx context.Context) error {
	exists, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return minioError(err)
	}
	if exists {
		return nil
	}
	if err := m.client.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{}); err != nil {
		return minioError(err)
	}
	return nil
}

func (m *MinioStore) Find(ctx context.Context, name string) (string, error) {
	_, err := m.client.StatObject(ctx, m.bucket, name, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).StatusCode == http.StatusNotFound {
			return "", nil
		}
		return "", minioError(err)
	}
	return name, nil
}

func (m *MinioStore) Create(ctx context.Context, name string, content []byte) (string, error) {
	if err := m.put(ctx, name, content); err != nil {
		return "", err
	}
	return name, nil
}

func (m *MinioStore) Update(ctx context.Context, id string, content []byte) error {
	return m.put(ctx, id, content)
}

func (m *MinioStore) Download(ctx context.Context, id string) ([]byte, error) {
	obj, err := m.client.GetObject(ctx, m.bucket, id, minio.GetObjectOptions{})
	if err != nil {
		return nil, minioError(err)
	}
	defer obj.Close()
	content, err := io.ReadAll(obj)
	if err != nil {
		return nil, minioError(err)
	}
	return content, nil
}

func (m *MinioStore) put(ctx context.Context, key string, content []byte) error {
	_, err := m.client.PutObject(ctx, m.bucket, key, bytes.NewReader(content), int64(len(content)), minio.PutObjectOptions{
		ContentType: jsonMime,
	})
	if err != nil {
		return minioError(err)
	}
	return nil
}

func minioError(err error) error {
	switch minio.ToErrorResponse(err).StatusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %v", syncer.ErrNotFound, err)
	case http.StatusForbidden, http.StatusUnauthorized:
		return fmt.Errorf("%w: %v", syncer.ErrPermissionDenied, err)
	}
	return fmt.Errorf("%w: %v", syncer.ErrTransport, err)
}
