package stack

import (
	"context"

	"github.com/roach88/stacksync/internal/model"
)

// Client is the set of capabilities the reconciliation engine consumes from
// one stack. Implementations must be safe for concurrent use.
type Client interface {
	// GetRowMetadata returns one offset-paginated page of a type's records in
	// ascending id order, with the type's total count.
	GetRowMetadata(ctx context.Context, t model.MigrationType, limit, offset int64) (model.RowMetadataResult, error)

	// GetRowMetadataByRange returns all records of a type whose id lies in
	// [minID, maxID], in ascending id order.
	GetRowMetadataByRange(ctx context.Context, t model.MigrationType, minID, maxID int64) (model.RowMetadataResult, error)

	// GetTypeCounts returns count and id bounds for every type on the stack.
	GetTypeCounts(ctx context.Context) ([]model.TypeCount, error)

	// GetPrimaryTypes returns the stack's primary types in dependency order.
	GetPrimaryTypes(ctx context.Context) ([]model.MigrationType, error)

	// GetChecksumForIDRange returns a signature of the records in
	// [minID, maxID]. The salt is mixed into the signature so values from
	// different passes never compare equal by accident.
	GetChecksumForIDRange(ctx context.Context, t model.MigrationType, salt string, minID, maxID int64) (string, error)

	// GetChecksumForType returns a signature of every record of a type.
	GetChecksumForType(ctx context.Context, t model.MigrationType) (string, error)

	// ApplyBatch creates, updates or deletes the records with the given ids
	// on this stack and returns how many were applied. For create and update
	// the stack pulls payloads from its configured source.
	ApplyBatch(ctx context.Context, t model.MigrationType, cat model.Category, ids []int64) (int64, error)

	// GetStackStatus returns the stack's current status.
	GetStackStatus(ctx context.Context) (model.StackStatus, error)

	// SetStackStatus replaces the stack's status and returns the stored value.
	SetStackStatus(ctx context.Context, status model.StackStatus) (model.StackStatus, error)
}

// Factory creates clients for the two sides of a migration.
type Factory interface {
	Source() Client
	Destination() Client
}

// StaticFactory returns fixed clients.
type StaticFactory struct {
	Src  Client
	Dest Client
}

// Source returns the source client.
func (f StaticFactory) Source() Client { return f.Src }

// Destination returns the destination client.
func (f StaticFactory) Destination() Client { return f.Dest }
