package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/zenGate-Global/tender-engine/platform/go/tenant"
)

// ErrObjectNotFound is returned by every backend when the key does not exist.
var ErrObjectNotFound = errors.New("object not found")

// MaxObjectSize bounds reads of receipts and ingestion files.
const MaxObjectSize = 20 << 20

// ObjectStore is the blob storage used for receipts and ingestion files.
type ObjectStore interface {
	Get(ctx context.Context, loc ObjectLocation) ([]byte, error)
	Put(ctx context.Context, loc ObjectLocation, data []byte, contentType string) error
	// PresignPut returns a URL the client can PUT the object to until ttl expires.
	PresignPut(ctx context.Context, loc ObjectLocation, contentType string, ttl time.Duration) (string, error)
}

// ObjectLocation describes where a blob should live.
type ObjectLocation struct {
	Bucket   string
	FullPath string
}

// ResolveObjectLocation combines tenant base prefix and logical key into a bucket/path pair.
//   - bucket must come from deployment configuration (one bucket per environment class).
//   - tenant.Space.BasePrefix already includes envKey and trailing slash (e.g. "dev/tenant-12345678/").
//   - logicalKey is a tenant-relative key such as "receipts/<tender_uuid>/<upload_uuid>.pdf".
func ResolveObjectLocation(space tenant.Space, bucket string, logicalKey string) (ObjectLocation, error) {
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return ObjectLocation{}, fmt.Errorf("bucket is required")
	}
	key := strings.TrimSpace(logicalKey)
	key = strings.TrimPrefix(key, "/")
	if key == "" {
		return ObjectLocation{}, fmt.Errorf("logical key is required")
	}
	for _, segment := range strings.Split(key, "/") {
		if segment == ".." {
			return ObjectLocation{}, fmt.Errorf("logical key must not leave the tenant prefix")
		}
	}

	prefix := space.BasePrefix
	if prefix == "" {
		return ObjectLocation{}, fmt.Errorf("tenant base prefix is missing")
	}

	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	fullPath := prefix + key
	return ObjectLocation{Bucket: bucket, FullPath: fullPath}, nil
}
