package domain

import (
	"context"
	"io"
)

// BlobWriter uploads an object to blob storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// SnapshotArchiver persists finalized valuation snapshots outside the primary
// store, one object per finalized operation.
type SnapshotArchiver interface {
	ArchiveSnapshot(ctx context.Context, snap ValuationSnapshot) error
}
