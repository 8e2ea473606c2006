package content

import (
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/sakif/ebook-storefront/internal/apperror"
)

// minioAPI is the part of *minio.Client the store uses.
type minioAPI interface {
	StatObject(ctx context.Context, bucketName, objectName string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
	GetObject(ctx context.Context, bucketName, objectName string, opts minio.GetObjectOptions) (io.ReadCloser, error)
}

type minioClientWrapper struct{ c *minio.Client }

func (w minioClientWrapper) StatObject(ctx context.Context, bucketName, objectName string, opts minio.StatObjectOptions) (minio.ObjectInfo, error) {
	return w.c.StatObject(ctx, bucketName, objectName, opts)
}

func (w minioClientWrapper) GetObject(ctx context.Context, bucketName, objectName string, opts minio.GetObjectOptions) (io.ReadCloser, error) {
	obj, err := w.c.GetObject(ctx, bucketName, objectName, opts)
	if err != nil {
		return nil, err
	}
	return obj, nil
}

var _ Store = (*MinIOStore)(nil)

// MinIOStore reads the ebook from a MinIO bucket.
type MinIOStore struct {
	api    minioAPI
	bucket string
	key    string
}

// NewMinIOStore connects to endpoint with static credentials.
func NewMinIOStore(endpoint, accessKey, secretKey string, useSSL bool, bucket, key string) (*MinIOStore, error) {
	c, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio: creating client: %w", err)
	}
	return newMinIOStoreWithAPI(minioClientWrapper{c: c}, bucket, key), nil
}

func newMinIOStoreWithAPI(api minioAPI, bucket, key string) *MinIOStore {
	return &MinIOStore{api: api, bucket: bucket, key: key}
}

// Open stats the object first so the size is known before streaming and a
// missing key is reported before any bytes are written.
func (s *MinIOStore) Open(ctx context.Context) (io.ReadCloser, int64, error) {
	info, err := s.api.StatObject(ctx, s.bucket, s.key, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, 0, apperror.NotFound("ebook", s.key)
		}
		return nil, 0, fmt.Errorf("minio: stat %s/%s: %w", s.bucket, s.key, err)
	}

	obj, err := s.api.GetObject(ctx, s.bucket, s.key, minio.GetObjectOptions{})
	if err != nil {
		return nil, 0, fmt.Errorf("minio: get %s/%s: %w", s.bucket, s.key, err)
	}
	return obj, info.Size, nil
}
