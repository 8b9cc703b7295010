// Package storage provides durable persistence of node state,
// property state and NodeReferences records. Backends are selected by
// configuration; all implement the PersistenceManager interface.
package storage

import (
	"github.com/treestore-io/treestore/internal/model"
)

// PersistenceManager is the storage contract consumed by the commit
// processor and the journal replay path. ApplyBatch must apply the
// whole change batch atomically: a batch is either fully visible or
// not at all.
type PersistenceManager interface {
	// LoadNode returns the stored state of a node, or NodeNotFound
	LoadNode(id model.NodeID) (*model.NodeState, error)

	// NodeExists reports whether a node is stored
	NodeExists(id model.NodeID) (bool, error)

	// LoadProperty returns the stored state of a property, or
	// PropertyNotFound
	LoadProperty(pid model.PropertyID) (*model.PropertyState, error)

	// PropertyExists reports whether a property is stored
	PropertyExists(pid model.PropertyID) (bool, error)

	// LoadReferences returns the stored NodeReferences record for a
	// target, or an empty record when none is stored. Never fails on
	// absence.
	LoadReferences(targetID model.NodeID) (*model.NodeReferences, error)

	// HasReferences reports whether any reference record with at
	// least one entry is stored for the target
	HasReferences(targetID model.NodeID) (bool, error)

	// ApplyBatch atomically applies all operations and reference
	// post-states of the batch
	ApplyBatch(batch *model.ChangeBatch) error

	// Close releases backend resources
	Close() error
}
