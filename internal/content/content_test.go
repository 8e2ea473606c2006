package content

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/ebook-storefront/internal/apperror"
)

// =========================================================================
// Embedded
// =========================================================================

func TestEmbeddedStore_ServesPDF(t *testing.T) {
	rc, size, err := NewEmbeddedStore().Open(context.Background())
	require.NoError(t, err)
	defer rc.Close()

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), size)
	assert.True(t, bytes.HasPrefix(data, []byte("%PDF-")), "embedded asset must be a PDF")
}

// =========================================================================
// MinIO
// =========================================================================

type fakeMinio struct {
	info    minio.ObjectInfo
	statErr error
	getErr  error
	body    string

	gotBucket, gotKey string
}

func (f *fakeMinio) StatObject(_ context.Context, bucket, key string, _ minio.StatObjectOptions) (minio.ObjectInfo, error) {
	f.gotBucket, f.gotKey = bucket, key
	return f.info, f.statErr
}

func (f *fakeMinio) GetObject(_ context.Context, _, _ string, _ minio.GetObjectOptions) (io.ReadCloser, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return io.NopCloser(strings.NewReader(f.body)), nil
}

func TestMinIOStore_Open(t *testing.T) {
	f := &fakeMinio{info: minio.ObjectInfo{Size: 7}, body: "%PDF-xx"}
	s := newMinIOStoreWithAPI(f, "content", "ebook.pdf")

	rc, size, err := s.Open(context.Background())
	require.NoError(t, err)
	defer rc.Close()

	assert.Equal(t, int64(7), size)
	assert.Equal(t, "content", f.gotBucket)
	assert.Equal(t, "ebook.pdf", f.gotKey)
	data, _ := io.ReadAll(rc)
	assert.Equal(t, "%PDF-xx", string(data))
}

func TestMinIOStore_MissingObject(t *testing.T) {
	f := &fakeMinio{statErr: minio.ErrorResponse{Code: "NoSuchKey", StatusCode: http.StatusNotFound}}
	s := newMinIOStoreWithAPI(f, "content", "ebook.pdf")

	_, _, err := s.Open(context.Background())
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

func TestMinIOStore_Errors(t *testing.T) {
	boom := errors.New("connection refused")

	tests := []struct {
		name string
		f    *fakeMinio
	}{
		{"stat fails", &fakeMinio{statErr: boom}},
		{"get fails", &fakeMinio{getErr: boom}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := newMinIOStoreWithAPI(tt.f, "b", "k").Open(context.Background())
			assert.ErrorIs(t, err, boom)
			assert.NotErrorIs(t, err, apperror.ErrNotFound)
		})
	}
}

// =========================================================================
// S3
// =========================================================================

type fakeS3 struct {
	out *s3.GetObjectOutput
	err error
	in  *s3.GetObjectInput
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.in = in
	return f.out, f.err
}

func TestS3Store_Open(t *testing.T) {
	f := &fakeS3{out: &s3.GetObjectOutput{
		Body:          io.NopCloser(strings.NewReader("%PDF-1")),
		ContentLength: aws.Int64(6),
	}}
	s := &S3Store{api: f, bucket: "content", key: "ebook.pdf"}

	rc, size, err := s.Open(context.Background())
	require.NoError(t, err)
	defer rc.Close()

	assert.Equal(t, int64(6), size)
	assert.Equal(t, "content", aws.ToString(f.in.Bucket))
	assert.Equal(t, "ebook.pdf", aws.ToString(f.in.Key))
}

func TestS3Store_MissingObject(t *testing.T) {
	s := &S3Store{api: &fakeS3{err: &types.NoSuchKey{}}, bucket: "b", key: "k"}

	_, _, err := s.Open(context.Background())
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

func TestS3Store_OtherError(t *testing.T) {
	boom := errors.New("timeout")
	s := &S3Store{api: &fakeS3{err: boom}, bucket: "b", key: "k"}

	_, _, err := s.Open(context.Background())
	assert.ErrorIs(t, err, boom)
}
