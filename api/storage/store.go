// Package storage is the object store holding deployment templates and
// code artifacts.
package storage

import (
	"context"
	"io"
	"time"
)

// MetaDigest is the user metadata key carrying an object's content digest.
const MetaDigest = "filesha256"

type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
	Metadata     map[string]string
}

type PutOptions struct {
	ContentType string
	Metadata    map[string]string
	// ServerSideEncryption is "AES256" or "aws:kms"; empty disables it.
	ServerSideEncryption string
	SSEKMSKeyID          string
}

// DeleteFailure is one key a bulk delete could not remove.
type DeleteFailure struct {
	Key string
	Err error
}

// ObjectStore is the subset of an S3-compatible API the deployer needs.
// Implementations translate provider errors into model.ErrNotFound,
// model.ErrThrottled, model.ErrForbidden and model.ErrUnavailable.
type ObjectStore interface {
	Head(ctx context.Context, key string) (*ObjectInfo, error)
	Put(ctx context.Context, key string, r io.Reader, size int64, opts PutOptions) error
	Get(ctx context.Context, key string) ([]byte, *ObjectInfo, error)
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
	// Delete removes keys best effort and reports the ones it could not.
	Delete(ctx context.Context, keys []string) ([]DeleteFailure, error)
	// URL is the address an orchestration service can fetch key from.
	URL(key string) string
}
