package repository

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/treestore-io/treestore/internal/errors"
	"github.com/treestore-io/treestore/internal/lock"
	"github.com/treestore-io/treestore/internal/model"
	"go.uber.org/zap"
)

// Tx is a write transaction. Operations are staged in memory and only
// reach storage when Commit journals the batch; Rollback discards the
// staged set and releases locks acquired through the transaction.
//
// The Tx pointer may be shared by several goroutines cooperating in
// one logical transaction: its identity, not the calling goroutine,
// is the lock-reentrancy key.
type Tx struct {
	id      string
	session *lock.Session
	repo    *Repository

	mu          sync.Mutex
	ops         []model.ChangeOp
	nodeOps     map[model.NodeID]int // node id -> index of its add/update op
	propOps     map[model.PropertyID]int
	deleted     map[model.NodeID]bool
	lockedPaths []model.Path
	done        bool
}

func newTx(repo *Repository, session *lock.Session) *Tx {
	return &Tx{
		id:      uuid.New().String(),
		session: session,
		repo:    repo,
		nodeOps: make(map[model.NodeID]int),
		propOps: make(map[model.PropertyID]int),
		deleted: make(map[model.NodeID]bool),
	}
}

// ID returns the transaction identity
func (tx *Tx) ID() string {
	return tx.id
}

// Session returns the session the transaction runs under
func (tx *Tx) Session() *lock.Session {
	return tx.session
}

// lookupNode resolves a node against the staged set first, then
// stored state. Callers must hold tx.mu.
func (tx *Tx) lookupNode(id model.NodeID) (*model.NodeState, error) {
	if tx.deleted[id] {
		return nil, errors.NodeNotFound(id.String())
	}
	if i, ok := tx.nodeOps[id]; ok {
		return tx.ops[i].Node.Clone(), nil
	}
	return tx.repo.GetNode(id)
}

// stageNodeUpdate stages (or re-stages) the post-state of an existing
// node. The base revision captured on first staging is preserved so
// conflict detection compares against the state the transaction
// actually read. Callers must hold tx.mu.
func (tx *Tx) stageNodeUpdate(node *model.NodeState, baseRevision uint64) {
	if i, ok := tx.nodeOps[node.ID]; ok {
		tx.ops[i].Node = node
		return
	}
	tx.ops = append(tx.ops, model.ChangeOp{
		Type:         model.OperationTypeUpdateNode,
		Node:         node,
		BaseRevision: baseRevision,
	})
	tx.nodeOps[node.ID] = len(tx.ops) - 1
}

// AddNode stages a new child node under parentID
func (tx *Tx) AddNode(parentID model.NodeID, name string) (*model.NodeState, error) {
	if name == "" {
		return nil, errors.InvalidArgument("node name is required", nil)
	}

	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.done {
		return nil, errors.InvalidArgument("transaction already completed", nil)
	}

	parent, err := tx.lookupNode(parentID)
	if err != nil {
		return nil, err
	}

	childPath := parent.Path + "/" + name
	if parent.Path == "/" {
		childPath = "/" + name
	}

	child := &model.NodeState{
		ID:       model.NewNodeID(),
		ParentID: parent.ID,
		Path:     childPath,
		Name:     name,
		Revision: 1,
	}
	tx.ops = append(tx.ops, model.ChangeOp{
		Type: model.OperationTypeAddNode,
		Node: child,
	})
	tx.nodeOps[child.ID] = len(tx.ops) - 1

	parentBase := parent.Revision
	parent.ChildIDs = append(parent.ChildIDs, child.ID)
	parent.Revision = parentBase + 1
	tx.stageNodeUpdate(parent, parentBase)

	return child.Clone(), nil
}

// SetProperty stages a property write on an existing node
func (tx *Tx) SetProperty(
	nodeID model.NodeID,
	name string,
	ptype model.PropertyType,
	values []string,
) (*model.PropertyState, error) {
	if name == "" {
		return nil, errors.InvalidArgument("property name is required", nil)
	}

	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.done {
		return nil, errors.InvalidArgument("transaction already completed", nil)
	}

	if _, err := tx.lookupNode(nodeID); err != nil {
		return nil, err
	}

	prop := &model.PropertyState{
		ID:     model.NewPropertyID(nodeID, name),
		Type:   ptype,
		Values: append([]string(nil), values...),
	}

	if i, ok := tx.propOps[prop.ID]; ok {
		tx.ops[i] = model.ChangeOp{
			Type:     model.OperationTypeSetProperty,
			Property: prop,
		}
	} else {
		tx.ops = append(tx.ops, model.ChangeOp{
			Type:     model.OperationTypeSetProperty,
			Property: prop,
		})
		tx.propOps[prop.ID] = len(tx.ops) - 1
	}

	return prop.Clone(), nil
}

// SetReference stages a single-valued REFERENCE property pointing at
// targetID
func (tx *Tx) SetReference(nodeID model.NodeID, name string, targetID model.NodeID) (*model.PropertyState, error) {
	return tx.SetProperty(nodeID, name, model.PropertyTypeReference, []string{string(targetID)})
}

// DeleteProperty stages removal of a property
func (tx *Tx) DeleteProperty(nodeID model.NodeID, name string) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.done {
		return errors.InvalidArgument("transaction already completed", nil)
	}

	pid := model.NewPropertyID(nodeID, name)

	if i, ok := tx.propOps[pid]; ok {
		// property was staged in this transaction; replace the write
		tx.ops[i] = model.ChangeOp{
			Type:       model.OperationTypeDeleteProperty,
			PropertyID: &pid,
		}
		return nil
	}

	exists, err := tx.repo.store.PropertyExists(pid)
	if err != nil {
		return err
	}
	if !exists {
		return errors.PropertyNotFound(pid.String())
	}

	tx.ops = append(tx.ops, model.ChangeOp{
		Type:       model.OperationTypeDeleteProperty,
		PropertyID: &pid,
	})
	tx.propOps[pid] = len(tx.ops) - 1
	return nil
}

// DeleteNode stages removal of a node and its whole subtree
func (tx *Tx) DeleteNode(id model.NodeID) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.done {
		return errors.InvalidArgument("transaction already completed", nil)
	}
	if id == model.RootNodeID {
		return errors.InvalidArgument("the root node cannot be deleted", nil)
	}

	node, err := tx.lookupNode(id)
	if err != nil {
		return err
	}

	if !node.ParentID.IsZero() {
		parent, err := tx.lookupNode(node.ParentID)
		if err != nil {
			return err
		}
		parentBase := parent.Revision
		for i, c := range parent.ChildIDs {
			if c == id {
				parent.ChildIDs = append(parent.ChildIDs[:i], parent.ChildIDs[i+1:]...)
				break
			}
		}
		parent.Revision = parentBase + 1
		tx.stageNodeUpdate(parent, parentBase)
	}

	return tx.stageSubtreeDelete(node)
}

// stageSubtreeDelete stages delete ops for node and its descendants,
// children first. Callers must hold tx.mu.
func (tx *Tx) stageSubtreeDelete(node *model.NodeState) error {
	for _, childID := range node.ChildIDs {
		child, err := tx.lookupNode(childID)
		if err != nil {
			if errors.GetCode(err) == errors.ErrCodeNodeNotFound {
				continue
			}
			return err
		}
		if err := tx.stageSubtreeDelete(child); err != nil {
			return err
		}
	}

	tx.ops = append(tx.ops, model.ChangeOp{
		Type:         model.OperationTypeDeleteNode,
		NodeID:       node.ID,
		BaseRevision: node.Revision,
	})
	tx.deleted[node.ID] = true
	delete(tx.nodeOps, node.ID)
	return nil
}

// Lock acquires a node lock through the repository's lock manager and
// ties it to this transaction: if the transaction aborts, the lock is
// released again.
func (tx *Tx) Lock(
	nodeID model.NodeID,
	path model.Path,
	deep bool,
	sessionScoped bool,
	timeoutHint time.Duration,
	ownerInfo string,
) (*model.LockEntry, error) {
	entry, err := tx.repo.locks.Lock(tx.session, nodeID, path, deep, sessionScoped, timeoutHint, ownerInfo)
	if err != nil {
		if tx.repo.metrics != nil {
			tx.repo.metrics.LockViolationsTotal.Inc()
		}
		return nil, err
	}
	if tx.repo.metrics != nil {
		tx.repo.metrics.LocksAcquiredTotal.Inc()
		tx.repo.metrics.ActiveLocks.Set(float64(tx.repo.locks.ActiveLocks()))
	}

	tx.mu.Lock()
	tx.lockedPaths = append(tx.lockedPaths, path)
	tx.mu.Unlock()

	return entry, nil
}

// stagedOps returns a snapshot of the staged operations. Callers must
// hold tx.mu.
func (tx *Tx) stagedOps() []model.ChangeOp {
	return append([]model.ChangeOp(nil), tx.ops...)
}

// releaseLocks releases every lock acquired through this transaction.
// Callers must hold tx.mu.
func (tx *Tx) releaseLocks() {
	for _, path := range tx.lockedPaths {
		if err := tx.repo.locks.Unlock(tx.session, path); err != nil {
			tx.repo.logger.Warn("Failed to release transaction lock",
				zap.String("path", path),
				zap.Error(err))
		}
	}
	tx.lockedPaths = nil
}
