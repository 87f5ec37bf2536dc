package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GCSStore keeps objects in Google Cloud Storage.
type GCSStore struct {
	client *gcs.Client
}

// NewGCSStore opens a client with application default credentials, or the service account
// file when credentialsFile is set.
func NewGCSStore(ctx context.Context, credentialsFile *string) (*GCSStore, error) {
	var opts []option.ClientOption
	if credentialsFile != nil && *credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(*credentialsFile))
	}
	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}
	return &GCSStore{client: client}, nil
}

func (s *GCSStore) Close() error {
	return s.client.Close()
}

func (s *GCSStore) Get(ctx context.Context, loc ObjectLocation) ([]byte, error) {
	reader, err := s.client.Bucket(loc.Bucket).Object(loc.FullPath).NewReader(ctx)
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return nil, ErrObjectNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("open gcs object %s: %w", loc.FullPath, err)
	}
	defer reader.Close()

	if reader.Attrs.Size > MaxObjectSize {
		return nil, fmt.Errorf("gcs object %s exceeds %d bytes", loc.FullPath, MaxObjectSize)
	}
	data, err := io.ReadAll(io.LimitReader(reader, MaxObjectSize))
	if err != nil {
		return nil, fmt.Errorf("read gcs object %s: %w", loc.FullPath, err)
	}
	return data, nil
}

func (s *GCSStore) Put(ctx context.Context, loc ObjectLocation, data []byte, contentType string) error {
	writer := s.client.Bucket(loc.Bucket).Object(loc.FullPath).NewWriter(ctx)
	writer.ContentType = contentType
	if _, err := writer.Write(data); err != nil {
		_ = writer.Close()
		return fmt.Errorf("write gcs object %s: %w", loc.FullPath, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close gcs object %s: %w", loc.FullPath, err)
	}
	return nil
}

// PresignPut signs a V4 PUT URL. Signing uses the client's credentials, so the service account
// needs iam.serviceAccounts.signBlob when running with workload identity.
func (s *GCSStore) PresignPut(_ context.Context, loc ObjectLocation, contentType string, ttl time.Duration) (string, error) {
	url, err := s.client.Bucket(loc.Bucket).SignedURL(loc.FullPath, &gcs.SignedURLOptions{
		Scheme:      gcs.SigningSchemeV4,
		Method:      "PUT",
		ContentType: contentType,
		Expires:     time.Now().Add(ttl),
	})
	if err != nil {
		return "", fmt.Errorf("sign upload url: %w", err)
	}
	return url, nil
}

// CheckPrefix verifies read access to a bucket/prefix by listing at most one object.
func (s *GCSStore) CheckPrefix(ctx context.Context, bucket, prefix string) error {
	if bucket == "" {
		return fmt.Errorf("bucket required")
	}
	it := s.client.Bucket(bucket).Objects(ctx, &gcs.Query{Prefix: prefix})
	if _, err := it.Next(); err != nil && !errors.Is(err, iterator.Done) {
		return fmt.Errorf("list gcs prefix %s/%s: %w", bucket, prefix, err)
	}
	return nil
}

var _ ObjectStore = (*GCSStore)(nil)
