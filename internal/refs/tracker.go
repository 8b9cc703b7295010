// Package refs maintains the per-target back-reference index used by
// the commit path: for every node it records which REFERENCE
// properties point at it.
package refs

import (
	"sync"

	"github.com/treestore-io/treestore/internal/model"
	"go.uber.org/zap"
)

// Loader fetches the persisted NodeReferences record for a target.
// Implementations return an empty record when none is stored.
type Loader interface {
	LoadReferences(targetID model.NodeID) (*model.NodeReferences, error)
}

// Tracker is the working set of NodeReferences touched during commit
// processing. Records are pulled from the Loader on first access and
// every touched record is reported through Dirty so the commit can
// persist the post-state atomically with the item changes.
//
// The tracker performs no validation that a target node exists; the
// reference set must stay queryable mid-commit while targets are
// still being created.
type Tracker struct {
	loader Loader
	logger *zap.Logger

	mu      sync.RWMutex
	records map[model.NodeID]*model.NodeReferences
	touched map[model.NodeID]bool
}

// NewTracker creates a tracker backed by the given loader. Loader may
// be nil for a purely in-memory tracker.
func NewTracker(loader Loader, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		loader:  loader,
		logger:  logger,
		records: make(map[model.NodeID]*model.NodeReferences),
		touched: make(map[model.NodeID]bool),
	}
}

// record returns the working record for targetID, faulting it in from
// the loader if needed. Callers must hold t.mu for writing.
func (t *Tracker) record(targetID model.NodeID) (*model.NodeReferences, error) {
	if r, ok := t.records[targetID]; ok {
		return r, nil
	}
	if t.loader != nil {
		stored, err := t.loader.LoadReferences(targetID)
		if err != nil {
			return nil, err
		}
		if stored != nil {
			r := stored.Clone()
			t.records[targetID] = r
			return r, nil
		}
	}
	r := model.NewNodeReferences(targetID)
	t.records[targetID] = r
	return r, nil
}

// HasReferences reports whether any property currently references
// targetID
func (t *Tracker) HasReferences(targetID model.NodeID) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	r, err := t.record(targetID)
	if err != nil {
		return false, err
	}
	return r.HasReferences(), nil
}

// GetReferences returns a read-only snapshot of the properties
// referencing targetID, in insertion order
func (t *Tracker) GetReferences(targetID model.NodeID) ([]model.PropertyID, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	r, err := t.record(targetID)
	if err != nil {
		return nil, err
	}
	return append([]model.PropertyID(nil), r.Properties...), nil
}

// AddReference records that propertyID references targetID. One call
// per actual REFERENCE value: multi-valued properties referencing the
// same target add once per value.
func (t *Tracker) AddReference(targetID model.NodeID, propertyID model.PropertyID) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	r, err := t.record(targetID)
	if err != nil {
		return err
	}
	r.Add(propertyID)
	t.touched[targetID] = true
	return nil
}

// AddAllReferences records all given referring properties in order
func (t *Tracker) AddAllReferences(targetID model.NodeID, propertyIDs []model.PropertyID) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	r, err := t.record(targetID)
	if err != nil {
		return err
	}
	r.AddAll(propertyIDs)
	t.touched[targetID] = true
	return nil
}

// RemoveReference removes one occurrence of propertyID from the set
// referencing targetID. Removing an absent entry is a no-op returning
// false: a concurrent path may already have cleaned it up.
func (t *Tracker) RemoveReference(targetID model.NodeID, propertyID model.PropertyID) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	r, err := t.record(targetID)
	if err != nil {
		return false, err
	}
	removed := r.Remove(propertyID)
	if removed {
		t.touched[targetID] = true
	} else {
		t.logger.Debug("Reference removal was a no-op",
			zap.String("target_id", targetID.String()),
			zap.String("property_id", propertyID.String()))
	}
	return removed, nil
}

// ClearAllReferences drops every referring property of targetID
func (t *Tracker) ClearAllReferences(targetID model.NodeID) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	r, err := t.record(targetID)
	if err != nil {
		return err
	}
	r.Clear()
	t.touched[targetID] = true
	return nil
}

// Dirty returns the post-state of every record modified through this
// tracker, for inclusion in the commit's change batch. Records with
// no remaining properties signal deletion of the stored record.
func (t *Tracker) Dirty() []*model.NodeReferences {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []*model.NodeReferences
	for id := range t.touched {
		out = append(out, t.records[id].Clone())
	}
	return out
}
