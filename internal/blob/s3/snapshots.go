package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/harborfi/vaultd/internal/domain"
)

// SnapshotArchiver writes finalized valuation snapshots to blob storage, one
// JSON object per finalized operation, keyed by epoch and operation ID.
type SnapshotArchiver struct {
	writer domain.BlobWriter
	prefix string
}

var _ domain.SnapshotArchiver = (*SnapshotArchiver)(nil)

// NewSnapshotArchiver creates a SnapshotArchiver that writes under prefix.
// An empty prefix defaults to "snapshots".
func NewSnapshotArchiver(writer domain.BlobWriter, prefix string) *SnapshotArchiver {
	if prefix == "" {
		prefix = "snapshots"
	}
	return &SnapshotArchiver{writer: writer, prefix: prefix}
}

// ArchiveSnapshot uploads snap as pretty-printed JSON at
// {prefix}/{epoch}/{operationID}.json.
func (a *SnapshotArchiver) ArchiveSnapshot(ctx context.Context, snap domain.ValuationSnapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("s3blob: marshal snapshot %s: %w", snap.OperationID, err)
	}

	path := fmt.Sprintf("%s/%d/%s.json", a.prefix, snap.EpochID, snap.OperationID)
	if err := a.writer.Put(ctx, path, bytes.NewReader(data), "application/json"); err != nil {
		return fmt.Errorf("s3blob: archive snapshot %s: %w", snap.OperationID, err)
	}
	return nil
}
