package storage

import (
	"sync"

	"github.com/treestore-io/treestore/internal/errors"
	"github.com/treestore-io/treestore/internal/model"
	"go.uber.org/zap"
)

// MemoryStore is an in-memory PersistenceManager used for tests and
// single-process deployments without durability requirements.
type MemoryStore struct {
	mu         sync.RWMutex
	nodes      map[model.NodeID]*model.NodeState
	properties map[model.PropertyID]*model.PropertyState
	references map[model.NodeID]*model.NodeReferences
	logger     *zap.Logger
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore(logger *zap.Logger) *MemoryStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryStore{
		nodes:      make(map[model.NodeID]*model.NodeState),
		properties: make(map[model.PropertyID]*model.PropertyState),
		references: make(map[model.NodeID]*model.NodeReferences),
		logger:     logger,
	}
}

// LoadNode returns the stored state of a node
func (s *MemoryStore) LoadNode(id model.NodeID) (*model.NodeState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.nodes[id]
	if !ok {
		return nil, errors.NodeNotFound(id.String())
	}
	return n.Clone(), nil
}

// NodeExists reports whether a node is stored
func (s *MemoryStore) NodeExists(id model.NodeID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.nodes[id]
	return ok, nil
}

// LoadProperty returns the stored state of a property
func (s *MemoryStore) LoadProperty(pid model.PropertyID) (*model.PropertyState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.properties[pid]
	if !ok {
		return nil, errors.PropertyNotFound(pid.String())
	}
	return p.Clone(), nil
}

// PropertyExists reports whether a property is stored
func (s *MemoryStore) PropertyExists(pid model.PropertyID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.properties[pid]
	return ok, nil
}

// LoadReferences returns the stored reference record for a target, or
// an empty record when none is stored
func (s *MemoryStore) LoadReferences(targetID model.NodeID) (*model.NodeReferences, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.references[targetID]
	if !ok {
		return model.NewNodeReferences(targetID), nil
	}
	return r.Clone(), nil
}

// HasReferences reports whether the target has any referrers
func (s *MemoryStore) HasReferences(targetID model.NodeID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.references[targetID]
	return ok && r.HasReferences(), nil
}

// ApplyBatch applies all operations of the batch under a single lock
// acquisition, making the batch atomic with respect to readers
func (s *MemoryStore) ApplyBatch(batch *model.ChangeBatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range batch.Ops {
		if err := s.applyOp(&batch.Ops[i]); err != nil {
			return err
		}
	}
	for _, r := range batch.References {
		if r.HasReferences() {
			s.references[r.TargetID] = r.Clone()
		} else {
			delete(s.references, r.TargetID)
		}
	}
	return nil
}

// applyOp applies a single change operation. Callers must hold s.mu.
func (s *MemoryStore) applyOp(op *model.ChangeOp) error {
	switch op.Type {
	case model.OperationTypeAddNode, model.OperationTypeUpdateNode:
		s.nodes[op.Node.ID] = op.Node.Clone()

	case model.OperationTypeDeleteNode:
		node, ok := s.nodes[op.NodeID]
		if !ok {
			// Replay of a foreign batch may delete a node this
			// instance never materialized
			s.logger.Debug("Delete of absent node skipped",
				zap.String("node_id", op.NodeID.String()))
			return nil
		}
		for _, name := range node.Properties {
			delete(s.properties, model.NewPropertyID(node.ID, name))
		}
		delete(s.nodes, op.NodeID)

	case model.OperationTypeSetProperty:
		prop := op.Property.Clone()
		s.properties[prop.ID] = prop
		if node, ok := s.nodes[prop.ID.NodeID]; ok {
			s.addPropertyName(node, prop.ID.Name)
		}

	case model.OperationTypeDeleteProperty:
		delete(s.properties, *op.PropertyID)
		if node, ok := s.nodes[op.PropertyID.NodeID]; ok {
			s.removePropertyName(node, op.PropertyID.Name)
		}

	default:
		return errors.InvalidArgument("unknown operation type: "+string(op.Type), nil)
	}
	return nil
}

func (s *MemoryStore) addPropertyName(node *model.NodeState, name string) {
	for _, p := range node.Properties {
		if p == name {
			return
		}
	}
	node.Properties = append(node.Properties, name)
}

func (s *MemoryStore) removePropertyName(node *model.NodeState, name string) {
	for i, p := range node.Properties {
		if p == name {
			node.Properties = append(node.Properties[:i], node.Properties[i+1:]...)
			return
		}
	}
}

// Close is a no-op for the in-memory store
func (s *MemoryStore) Close() error {
	return nil
}
