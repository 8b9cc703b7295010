package storage

import (
	"encoding/json"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/treestore-io/treestore/internal/errors"
	"github.com/treestore-io/treestore/internal/model"
	"go.uber.org/zap"
)

// key prefixes; full keys are "{prefix}{id}"
const (
	badgerNodePrefix     = "n/"
	badgerPropertyPrefix = "p/"
	badgerRefsPrefix     = "r/"
)

// BadgerStore is a PersistenceManager backed by BadgerDB. A change
// batch is applied inside a single Badger transaction, so batches are
// atomic and crash-safe.
type BadgerStore struct {
	db     *badger.DB
	logger *zap.Logger
}

// BadgerConfig holds BadgerDB backend configuration
type BadgerConfig struct {
	Dir        string
	SyncWrites bool
}

// NewBadgerStore opens (or creates) a Badger-backed store in cfg.Dir
func NewBadgerStore(cfg *BadgerConfig, logger *zap.Logger) (*BadgerStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := badger.DefaultOptions(cfg.Dir).
		WithSyncWrites(cfg.SyncWrites).
		WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger store: %w", err)
	}

	logger.Info("Badger store opened", zap.String("dir", cfg.Dir))

	return &BadgerStore{db: db, logger: logger}, nil
}

func nodeKey(id model.NodeID) []byte {
	return []byte(badgerNodePrefix + string(id))
}

func propertyKey(pid model.PropertyID) []byte {
	return []byte(badgerPropertyPrefix + string(pid.NodeID) + "/" + pid.Name)
}

func refsKey(id model.NodeID) []byte {
	return []byte(badgerRefsPrefix + string(id))
}

// get reads and unmarshals a single key inside a view transaction.
// Returns found=false on absence.
func (s *BadgerStore) get(key []byte, out interface{}) (bool, error) {
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, out)
		})
	})
	if err == badger.ErrKeyNotFound {
		return false, nil
	}
	if err != nil {
		return false, errors.StorageFailed("badger read failed", err)
	}
	return true, nil
}

// LoadNode returns the stored state of a node
func (s *BadgerStore) LoadNode(id model.NodeID) (*model.NodeState, error) {
	var node model.NodeState
	found, err := s.get(nodeKey(id), &node)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, errors.NodeNotFound(id.String())
	}
	return &node, nil
}

// NodeExists reports whether a node is stored
func (s *BadgerStore) NodeExists(id model.NodeID) (bool, error) {
	var node model.NodeState
	return s.get(nodeKey(id), &node)
}

// LoadProperty returns the stored state of a property
func (s *BadgerStore) LoadProperty(pid model.PropertyID) (*model.PropertyState, error) {
	var prop model.PropertyState
	found, err := s.get(propertyKey(pid), &prop)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, errors.PropertyNotFound(pid.String())
	}
	return &prop, nil
}

// PropertyExists reports whether a property is stored
func (s *BadgerStore) PropertyExists(pid model.PropertyID) (bool, error) {
	var prop model.PropertyState
	return s.get(propertyKey(pid), &prop)
}

// LoadReferences returns the stored reference record for a target, or
// an empty record when none is stored
func (s *BadgerStore) LoadReferences(targetID model.NodeID) (*model.NodeReferences, error) {
	var refs model.NodeReferences
	found, err := s.get(refsKey(targetID), &refs)
	if err != nil {
		return nil, err
	}
	if !found {
		return model.NewNodeReferences(targetID), nil
	}
	return &refs, nil
}

// HasReferences reports whether the target has any referrers
func (s *BadgerStore) HasReferences(targetID model.NodeID) (bool, error) {
	refs, err := s.LoadReferences(targetID)
	if err != nil {
		return false, err
	}
	return refs.HasReferences(), nil
}

// ApplyBatch applies the batch inside one Badger transaction
func (s *BadgerStore) ApplyBatch(batch *model.ChangeBatch) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		for i := range batch.Ops {
			if err := s.applyOp(txn, &batch.Ops[i]); err != nil {
				return err
			}
		}
		for _, r := range batch.References {
			if r.HasReferences() {
				if err := setJSON(txn, refsKey(r.TargetID), r); err != nil {
					return err
				}
			} else if err := txn.Delete(refsKey(r.TargetID)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return errors.StorageFailed("failed to apply change batch", err)
	}
	return nil
}

// applyOp applies a single change operation inside txn
func (s *BadgerStore) applyOp(txn *badger.Txn, op *model.ChangeOp) error {
	switch op.Type {
	case model.OperationTypeAddNode, model.OperationTypeUpdateNode:
		return setJSON(txn, nodeKey(op.Node.ID), op.Node)

	case model.OperationTypeDeleteNode:
		var node model.NodeState
		item, err := txn.Get(nodeKey(op.NodeID))
		if err == badger.ErrKeyNotFound {
			s.logger.Debug("Delete of absent node skipped",
				zap.String("node_id", op.NodeID.String()))
			return nil
		}
		if err != nil {
			return err
		}
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &node)
		}); err != nil {
			return err
		}
		for _, name := range node.Properties {
			if err := txn.Delete(propertyKey(model.NewPropertyID(node.ID, name))); err != nil {
				return err
			}
		}
		return txn.Delete(nodeKey(op.NodeID))

	case model.OperationTypeSetProperty:
		if err := setJSON(txn, propertyKey(op.Property.ID), op.Property); err != nil {
			return err
		}
		return s.updatePropertyList(txn, op.Property.ID, true)

	case model.OperationTypeDeleteProperty:
		if err := txn.Delete(propertyKey(*op.PropertyID)); err != nil {
			return err
		}
		return s.updatePropertyList(txn, *op.PropertyID, false)

	default:
		return errors.InvalidArgument("unknown operation type: "+string(op.Type), nil)
	}
}

// updatePropertyList keeps the owning node's property-name list in
// step with property writes. Absence of the node is tolerated: the
// batch may create it in a later op.
func (s *BadgerStore) updatePropertyList(txn *badger.Txn, pid model.PropertyID, add bool) error {
	item, err := txn.Get(nodeKey(pid.NodeID))
	if err == badger.ErrKeyNotFound {
		return nil
	}
	if err != nil {
		return err
	}

	var node model.NodeState
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &node)
	}); err != nil {
		return err
	}

	changed := false
	if add {
		present := false
		for _, p := range node.Properties {
			if p == pid.Name {
				present = true
				break
			}
		}
		if !present {
			node.Properties = append(node.Properties, pid.Name)
			changed = true
		}
	} else {
		for i, p := range node.Properties {
			if p == pid.Name {
				node.Properties = append(node.Properties[:i], node.Properties[i+1:]...)
				changed = true
				break
			}
		}
	}

	if !changed {
		return nil
	}
	return setJSON(txn, nodeKey(node.ID), &node)
}

func setJSON(txn *badger.Txn, key []byte, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set(key, data)
}

// Close closes the underlying Badger database
func (s *BadgerStore) Close() error {
	return s.db.Close()
}
