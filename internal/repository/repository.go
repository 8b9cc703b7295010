// Package repository ties the core together: sessions, write
// transactions and the commit path that orders every change through
// the cluster journal.
package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/treestore-io/treestore/internal/errors"
	"github.com/treestore-io/treestore/internal/journal"
	"github.com/treestore-io/treestore/internal/lock"
	"github.com/treestore-io/treestore/internal/metrics"
	"github.com/treestore-io/treestore/internal/model"
	"github.com/treestore-io/treestore/internal/refs"
	"github.com/treestore-io/treestore/internal/storage"
	"github.com/treestore-io/treestore/internal/util/workerpool"
	"go.uber.org/zap"
)

// Config holds repository configuration
type Config struct {
	ClusterNodeID string
	CacheSize     int
	CacheTTL      time.Duration
}

// ChangeListener is notified after a journal record has been applied
// locally. Listeners run on the notifier pool, off the commit path.
type ChangeListener func(*model.JournalRecord)

// Repository is the commit processor. A commit acquires the
// repository write gate, brings the node up to date with the journal,
// validates locks and revisions, resolves reference deltas, appends
// the batch to the journal and applies it through the same replay
// path every peer uses. A batch that cannot be journaled is never
// applied.
type Repository struct {
	config  *Config
	store   storage.PersistenceManager
	journal journal.Journal
	syncSvc *journal.SyncService // nil for standalone instances
	locks   *lock.Manager
	cache   *ItemCache
	metrics *metrics.Metrics // optional
	logger  *zap.Logger

	gate      *lock.TxRWLock // serializes committers against each other
	notifier  *workerpool.Pool
	listeners []ChangeListener
}

// NewRepository creates a repository. syncSvc may be nil, in which
// case committed batches are applied to storage directly (standalone
// mode). metrics may be nil.
func NewRepository(
	cfg *Config,
	store storage.PersistenceManager,
	jnl journal.Journal,
	syncSvc *journal.SyncService,
	lockMgr *lock.Manager,
	m *metrics.Metrics,
	logger *zap.Logger,
) (*Repository, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 4096
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}

	r := &Repository{
		config:  cfg,
		store:   store,
		journal: jnl,
		syncSvc: syncSvc,
		locks:   lockMgr,
		cache:   NewItemCache(cfg.CacheSize, cfg.CacheTTL),
		metrics: m,
		logger:  logger,
		gate:    lock.NewTxRWLock(),
		notifier: workerpool.New(&workerpool.Config{
			Name:   "change-notifier",
			Logger: logger,
		}),
	}

	if syncSvc != nil {
		syncSvc.OnApply(r.onRecordApplied)
	}

	if err := r.ensureRoot(); err != nil {
		return nil, err
	}

	return r, nil
}

// ensureRoot materializes the well-known root node. Every instance
// creates the identical state, so this needs no journal coordination.
func (r *Repository) ensureRoot() error {
	exists, err := r.store.NodeExists(model.RootNodeID)
	if err != nil {
		return fmt.Errorf("failed to check root node: %w", err)
	}
	if exists {
		return nil
	}

	root := &model.NodeState{
		ID:       model.RootNodeID,
		Path:     "/",
		Revision: 1,
	}
	return r.store.ApplyBatch(&model.ChangeBatch{
		TxID:     "bootstrap",
		Producer: r.config.ClusterNodeID,
		Ops:      []model.ChangeOp{{Type: model.OperationTypeAddNode, Node: root}},
	})
}

// onRecordApplied invalidates cached state touched by a replayed
// record and fans the record out to listeners
func (r *Repository) onRecordApplied(record *model.JournalRecord) {
	for _, id := range record.Batch.TouchedNodes() {
		r.cache.Invalidate(id)
	}

	if r.metrics != nil {
		r.metrics.SyncRecordsApplied.Inc()
		r.metrics.LocalRevision.Set(float64(record.Revision))
	}

	r.notifyListeners(record)
}

func (r *Repository) notifyListeners(record *model.JournalRecord) {
	for _, fn := range r.listeners {
		fn := fn
		err := r.notifier.Submit(workerpool.Task{
			ID: fmt.Sprintf("notify-%d", record.Revision),
			Fn: func(context.Context) error {
				fn(record)
				return nil
			},
		})
		if err != nil {
			r.logger.Warn("Change notification dropped",
				zap.Uint64("revision", record.Revision),
				zap.Error(err))
		}
	}
}

// AddListener registers a post-commit change listener. Must be called
// before the repository handles traffic.
func (r *Repository) AddListener(fn ChangeListener) {
	r.listeners = append(r.listeners, fn)
}

// NewSession opens a repository session
func (r *Repository) NewSession() *lock.Session {
	return lock.NewSession()
}

// NewAdminSession opens a session with administrative override
func (r *Repository) NewAdminSession() *lock.Session {
	return lock.NewAdminSession()
}

// CloseSession terminates a session, releasing its session-scoped
// locks. Safe to call on every exit path.
func (r *Repository) CloseSession(session *lock.Session) {
	r.locks.ReleaseSession(session)
	if r.metrics != nil {
		r.metrics.ActiveLocks.Set(float64(r.locks.ActiveLocks()))
	}
}

// LockManager exposes the node lock manager to the session layer
func (r *Repository) LockManager() *lock.Manager {
	return r.locks
}

// Begin starts a write transaction under the given session
func (r *Repository) Begin(session *lock.Session) *Tx {
	return newTx(r, session)
}

// GetNode returns the current state of a node, served from the item
// cache when fresh
func (r *Repository) GetNode(id model.NodeID) (*model.NodeState, error) {
	if node, ok := r.cache.Get(id); ok {
		return node, nil
	}
	node, err := r.store.LoadNode(id)
	if err != nil {
		return nil, err
	}
	r.cache.Set(node)
	return node, nil
}

// GetProperty returns the current state of a property
func (r *Repository) GetProperty(pid model.PropertyID) (*model.PropertyState, error) {
	return r.store.LoadProperty(pid)
}

// GetReferences returns the properties referencing targetID, in
// insertion order
func (r *Repository) GetReferences(targetID model.NodeID) ([]model.PropertyID, error) {
	record, err := r.store.LoadReferences(targetID)
	if err != nil {
		return nil, err
	}
	return record.Properties, nil
}

// HasReferences reports whether any property references targetID
func (r *Repository) HasReferences(targetID model.NodeID) (bool, error) {
	return r.store.HasReferences(targetID)
}

// Rollback aborts the transaction, discarding staged operations and
// releasing locks acquired through it
func (r *Repository) Rollback(tx *Tx) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.done {
		return
	}
	tx.done = true
	tx.ops = nil
	tx.releaseLocks()

	r.logger.Debug("Transaction rolled back", zap.String("tx_id", tx.id))
}

// Commit journals and applies the transaction's staged operations.
// On any failure the transaction is fully aborted: nothing reaches
// storage and locks acquired through the transaction are released.
func (r *Repository) Commit(ctx context.Context, tx *Tx) error {
	start := time.Now()

	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.done {
		return errors.InvalidArgument("transaction already completed", nil)
	}

	txID := lock.TxID(tx.id)
	r.gate.AcquireWrite(txID)
	defer r.gate.ReleaseWrite(txID)

	abort := func(reason string, err error) error {
		tx.done = true
		tx.releaseLocks()
		if r.metrics != nil {
			r.metrics.CommitFailuresTotal.WithLabelValues(reason).Inc()
		}
		r.logger.Warn("Commit aborted",
			zap.String("tx_id", tx.id),
			zap.String("reason", reason),
			zap.Error(err))
		return err
	}

	// catch up with the journal before validating against local state
	if r.syncSvc != nil {
		if err := r.syncSvc.Sync(ctx); err != nil {
			return abort("sync", err)
		}
		if r.syncSvc.Unsynchronized() {
			return abort("unsynchronized", errors.NodeUnsynchronized(r.config.ClusterNodeID))
		}
	}

	ops := tx.stagedOps()
	if len(ops) == 0 {
		tx.done = true
		return nil
	}

	if err := r.checkLocks(tx, ops); err != nil {
		return abort("lock_violation", err)
	}
	if err := r.checkConflicts(ops); err != nil {
		return abort("write_conflict", err)
	}

	tracker := refs.NewTracker(r.store, r.logger)
	if err := r.resolveReferences(ops, tracker); err != nil {
		return abort("referential_integrity", err)
	}

	batch := &model.ChangeBatch{
		TxID:       tx.id,
		Producer:   r.config.ClusterNodeID,
		Timestamp:  time.Now().UnixNano(),
		Ops:        ops,
		References: tracker.Dirty(),
	}

	appendStart := time.Now()
	revision, err := r.journal.Append(ctx, batch)
	if err != nil {
		if errors.GetCode(err) == errors.ErrCodeJournalCorrupted && r.syncSvc != nil {
			r.syncSvc.MarkUnsynchronized()
		}
		if r.metrics != nil {
			r.metrics.JournalAppendFailuresTotal.Inc()
		}
		return abort("journal_append", err)
	}
	if r.metrics != nil {
		r.metrics.JournalAppendsTotal.Inc()
		r.metrics.JournalAppendDuration.Observe(time.Since(appendStart).Seconds())
		r.metrics.JournalHeadRevision.Set(float64(revision))
	}

	// the journaled record is applied through the replay path so every
	// instance, this one included, applies the identical sequence
	if r.syncSvc != nil {
		if err := r.syncSvc.Sync(ctx); err != nil {
			// the record is journaled; peers will apply it. This node
			// refuses further commits until replay succeeds.
			return abort("apply", err)
		}
	} else {
		if err := r.store.ApplyBatch(batch); err != nil {
			return abort("apply", err)
		}
		record := &model.JournalRecord{Revision: revision, Producer: batch.Producer, Batch: *batch}
		for _, id := range batch.TouchedNodes() {
			r.cache.Invalidate(id)
		}
		r.notifyListeners(record)
	}

	tx.done = true
	if r.metrics != nil {
		r.metrics.CommitsTotal.Inc()
		r.metrics.CommitDuration.Observe(time.Since(start).Seconds())
	}

	r.logger.Info("Transaction committed",
		zap.String("tx_id", tx.id),
		zap.Uint64("revision", revision),
		zap.Int("ops", len(ops)))
	return nil
}

// checkLocks verifies the committing session holds (or is not barred
// by) the lock governing every touched node
func (r *Repository) checkLocks(tx *Tx, ops []model.ChangeOp) error {
	for i := range ops {
		path, err := r.opPath(&ops[i])
		if err != nil || path == "" {
			continue
		}
		if err := r.locks.CheckLock(path, tx.session); err != nil {
			if r.metrics != nil {
				r.metrics.LockViolationsTotal.Inc()
			}
			return err
		}
	}
	return nil
}

// opPath resolves the node path an operation touches
func (r *Repository) opPath(op *model.ChangeOp) (model.Path, error) {
	switch op.Type {
	case model.OperationTypeAddNode, model.OperationTypeUpdateNode:
		return op.Node.Path, nil
	case model.OperationTypeDeleteNode:
		node, err := r.store.LoadNode(op.NodeID)
		if err != nil {
			return "", err
		}
		return node.Path, nil
	case model.OperationTypeSetProperty:
		node, err := r.GetNode(op.Property.ID.NodeID)
		if err != nil {
			return "", err
		}
		return node.Path, nil
	case model.OperationTypeDeleteProperty:
		node, err := r.GetNode(op.PropertyID.NodeID)
		if err != nil {
			return "", err
		}
		return node.Path, nil
	}
	return "", nil
}

// checkConflicts rejects the batch when a node it updates or deletes
// changed since the transaction read it
func (r *Repository) checkConflicts(ops []model.ChangeOp) error {
	for i := range ops {
		op := &ops[i]
		if op.BaseRevision == 0 {
			continue
		}

		var id model.NodeID
		switch op.Type {
		case model.OperationTypeUpdateNode:
			id = op.Node.ID
		case model.OperationTypeDeleteNode:
			id = op.NodeID
		default:
			continue
		}

		current, err := r.store.LoadNode(id)
		if err != nil {
			if errors.GetCode(err) == errors.ErrCodeNodeNotFound {
				return errors.WriteConflict(id.String(), op.BaseRevision, 0)
			}
			return err
		}
		if current.Revision != op.BaseRevision {
			return errors.WriteConflict(id.String(), op.BaseRevision, current.Revision)
		}
	}
	return nil
}

// resolveReferences turns the batch's property changes into reference
// deltas and enforces that deleted nodes are no longer referenced
func (r *Repository) resolveReferences(ops []model.ChangeOp, tracker *refs.Tracker) error {
	var deletedNodes []model.NodeID

	for i := range ops {
		op := &ops[i]
		switch op.Type {
		case model.OperationTypeSetProperty:
			if err := r.dropPriorReferences(op.Property.ID, tracker); err != nil {
				return err
			}
			for _, target := range op.Property.ReferenceTargets() {
				if err := tracker.AddReference(target, op.Property.ID); err != nil {
					return err
				}
			}

		case model.OperationTypeDeleteProperty:
			if err := r.dropPriorReferences(*op.PropertyID, tracker); err != nil {
				return err
			}

		case model.OperationTypeDeleteNode:
			node, err := r.store.LoadNode(op.NodeID)
			if err != nil {
				if errors.GetCode(err) == errors.ErrCodeNodeNotFound {
					continue
				}
				return err
			}
			for _, name := range node.Properties {
				if err := r.dropPriorReferences(model.NewPropertyID(node.ID, name), tracker); err != nil {
					return err
				}
			}
			deletedNodes = append(deletedNodes, op.NodeID)
		}
	}

	for _, id := range deletedNodes {
		has, err := tracker.HasReferences(id)
		if err != nil {
			return err
		}
		if has {
			referrers, err := tracker.GetReferences(id)
			if err != nil {
				return err
			}
			return errors.ReferentialIntegrity(id.String(), len(referrers))
		}
		// drop the (now empty) record for the vanished target
		if err := tracker.ClearAllReferences(id); err != nil {
			return err
		}
	}
	return nil
}

// dropPriorReferences removes the reference entries contributed by
// the stored state of a property that is being overwritten or removed
func (r *Repository) dropPriorReferences(pid model.PropertyID, tracker *refs.Tracker) error {
	old, err := r.store.LoadProperty(pid)
	if err != nil {
		if errors.GetCode(err) == errors.ErrCodePropertyNotFound {
			return nil
		}
		return err
	}
	for _, target := range old.ReferenceTargets() {
		if _, err := tracker.RemoveReference(target, pid); err != nil {
			return err
		}
	}
	return nil
}

// Close releases repository resources
func (r *Repository) Close() {
	r.notifier.Stop()
	r.cache.Close()
}
