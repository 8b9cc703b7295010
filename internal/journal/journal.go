// Package journal implements the replicated change journal: an
// append-only, totally-ordered log of committed change batches shared
// by all cluster nodes. Appending assigns the next global revision;
// peers replay records in strict revision order.
package journal

import (
	"context"

	"github.com/treestore-io/treestore/internal/model"
)

// Journal is the append/replay contract used by the commit processor
// and the sync service.
type Journal interface {
	// Append durably writes the batch, assigning it the next revision
	// in the global sequence. Failure to lock or write the underlying
	// storage returns JournalAppendFailed; a detected partial write
	// returns JournalCorrupted and the journal refuses further
	// appends until repaired.
	Append(ctx context.Context, batch *model.ChangeBatch) (uint64, error)

	// Records returns all records with revision > after, in strictly
	// increasing revision order. A corrupt tail ends the scan early
	// rather than failing it: the valid prefix is always replayable.
	Records(after uint64) ([]*model.JournalRecord, error)

	// HeadRevision returns the highest revision currently appended
	HeadRevision() (uint64, error)

	// Close releases journal resources
	Close() error
}
