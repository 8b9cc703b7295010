package journal

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/treestore-io/treestore/internal/errors"
	"github.com/treestore-io/treestore/internal/model"
	"github.com/treestore-io/treestore/internal/util"
)

// MemoryJournal is an in-process Journal used for tests and
// single-node deployments. It provides the same total-order and
// checksum semantics as the file journal without durability.
type MemoryJournal struct {
	mu      sync.Mutex
	records []*model.JournalRecord
}

// NewMemoryJournal creates an empty in-memory journal
func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{}
}

// Append assigns the next revision and stores the record
func (j *MemoryJournal) Append(_ context.Context, batch *model.ChangeBatch) (uint64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	batchData, err := json.Marshal(batch)
	if err != nil {
		return 0, errors.JournalAppendFailed("failed to marshal change batch", err)
	}

	// deep copy so later caller mutations cannot reach the journal
	var copied model.ChangeBatch
	if err := json.Unmarshal(batchData, &copied); err != nil {
		return 0, errors.JournalAppendFailed("failed to copy change batch", err)
	}

	revision := uint64(len(j.records)) + 1
	j.records = append(j.records, &model.JournalRecord{
		Revision:  revision,
		Producer:  batch.Producer,
		Timestamp: time.Now().UnixNano(),
		Batch:     copied,
		Checksum:  util.ComputeChecksum(batchData),
	})
	return revision, nil
}

// Records returns all records with revision > after
func (j *MemoryJournal) Records(after uint64) ([]*model.JournalRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if after >= uint64(len(j.records)) {
		return nil, nil
	}
	out := make([]*model.JournalRecord, len(j.records)-int(after))
	copy(out, j.records[after:])
	return out, nil
}

// HeadRevision returns the highest appended revision
func (j *MemoryJournal) HeadRevision() (uint64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return uint64(len(j.records)), nil
}

// Close is a no-op
func (j *MemoryJournal) Close() error {
	return nil
}
