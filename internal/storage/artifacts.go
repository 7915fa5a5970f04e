package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Artifacts mirrors rendered contract PDFs into an S3-compatible bucket, keyed
// by their SHA-256.
type Artifacts struct {
	client *minio.Client
	bucket string
}

func NewArtifacts(endpoint, accessKey, secretKey, bucket string, useSSL bool) (*Artifacts, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("minio endpoint: %w", ErrMissingCredentials)
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return &Artifacts{client: client, bucket: bucket}, nil
}

func ObjectKey(sha256Hex string) string {
	return "contracts/" + sha256Hex + ".pdf"
}

// EnsureBucket creates the bucket when it does not exist yet.
func (a *Artifacts) EnsureBucket(ctx context.Context) error {
	exists, err := a.client.BucketExists(ctx, a.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", a.bucket, err)
	}
	if exists {
		return nil
	}
	if err := a.client.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", a.bucket, err)
	}
	return nil
}

func (a *Artifacts) Put(ctx context.Context, sha256Hex string, pdf []byte) (string, error) {
	key := ObjectKey(sha256Hex)
	_, err := a.client.PutObject(ctx, a.bucket, key, bytes.NewReader(pdf), int64(len(pdf)), minio.PutObjectOptions{
		ContentType:  "application/pdf",
		UserMetadata: map[string]string{"sha256": sha256Hex},
	})
	if err != nil {
		return "", fmt.Errorf("put %s: %w", key, err)
	}
	return key, nil
}

func (a *Artifacts) Get(ctx context.Context, sha256Hex string) ([]byte, error) {
	key := ObjectKey(sha256Hex)
	object, err := a.client.GetObject(ctx, a.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, a.mapError(key, err)
	}
	defer object.Close()
	data, err := io.ReadAll(object)
	if err != nil {
		return nil, a.mapError(key, err)
	}
	return data, nil
}

func (a *Artifacts) mapError(key string, err error) error {
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return fmt.Errorf("%s: %w", key, ErrArtifactNotFound)
	}
	return fmt.Errorf("get %s: %w", key, err)
}
