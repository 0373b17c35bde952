package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
)

/*
Storage provider for S3-compatible object storage. We use the minio client
library.
*/

////////////////////////////////////////////////////////////////////////////////

const (
	minioErrNoSuchKey = "NoSuchKey"
)

type s3store struct {
	mc     *minio.Client
	bucket string
}

// NewS3Store returns a provider storing objects in the supplied bucket.
func NewS3Store(mc *minio.Client, bucket string) Provider {
	return &s3store{
		mc:     mc,
		bucket: bucket,
	}
}

// Put stores the data in the object store.
func (s *s3store) Put(ctx context.Context, id string, data []byte) error {
	n := int64(len(data))
	_, err := s.mc.PutObject(
		ctx,
		s.bucket,
		id,
		bytes.NewReader(data),
		n,
		minio.PutObjectOptions{},
	)
	if err != nil {
		return fmt.Errorf("failed to put object: %w", err)
	}
	return nil
}

// Get retrieves an object from the object store.
func (s *s3store) Get(ctx context.Context, id string) ([]byte, error) {
	obj, err := s.mc.GetObject(ctx, s.bucket, id, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get object: %w", err)
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		if minio.ToErrorResponse(err).Code == minioErrNoSuchKey {
			return nil, ErrObjectNotFound
		}
		return nil, fmt.Errorf("failed to read object: %w", err)
	}
	return data, nil
}

// Delete removes an object from the object store.
func (s *s3store) Delete(ctx context.Context, id string) error {
	if err := s.mc.RemoveObject(ctx, s.bucket, id, minio.RemoveObjectOptions{}); err != nil {
		if minio.ToErrorResponse(err).Code == minioErrNoSuchKey {
			return nil
		}
		return fmt.Errorf("failed to remove object: %w", err)
	}
	return nil
}

func (s *s3store) String() string {
	return fmt.Sprintf("s3(%s)", s.bucket)
}
