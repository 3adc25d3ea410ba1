package domain

import "context"

// ScanStore defines persistence for scan records. Update runs the mutation
// under the record's own lock so the read-modify-write cycle is atomic;
// updates to distinct ids must not block each other.
type ScanStore interface {
	Create(ctx context.Context, record *ScanRecord) error
	Get(ctx context.Context, scanLogID string) (*ScanRecord, error)
	Update(ctx context.Context, scanLogID string, mutate func(*ScanRecord) error) (*ScanRecord, error)
}
