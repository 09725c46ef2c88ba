// Package storage persists scan snapshots to a local directory or an S3 prefix.
package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/config"
)

// BlobStore is a flat key/value object store.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]string, error)
}

// ParseS3Target splits "s3://bucket/prefix" into its parts. ok is false for non-S3 targets.
func ParseS3Target(target string) (bucket, prefix string, ok bool) {
	rest, found := strings.CutPrefix(target, "s3://")
	if !found {
		return "", "", false
	}
	bucket, prefix, _ = strings.Cut(rest, "/")
	return bucket, strings.Trim(prefix, "/"), bucket != ""
}

// Open returns the store for target: an S3 store for "s3://bucket/prefix", otherwise a local directory.
func Open(ctx context.Context, target string) (BlobStore, error) {
	if strings.HasPrefix(target, "s3://") {
		bucket, prefix, ok := ParseS3Target(target)
		if !ok {
			return nil, fmt.Errorf("invalid s3 target %q", target)
		}
		cfg, err := config.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load aws config: %w", err)
		}
		return NewS3Store(cfg, bucket, prefix), nil
	}
	if target == "" {
		target = "."
	}
	return NewLocalStore(target), nil
}
