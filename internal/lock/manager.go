package lock

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/treestore-io/treestore/internal/errors"
	"github.com/treestore-io/treestore/internal/model"
	"go.uber.org/zap"
)

// Manager implements node locking with deep and session-scoped
// semantics. The lock table is guarded by a TxRWLock so that lock
// queries from other transactions proceed concurrently while one
// transaction is (un)locking. Mutations run under the write side
// keyed by the calling session's identity.
type Manager struct {
	rw     *TxRWLock
	logger *zap.Logger

	// guarded by rw
	locks   map[model.Path]*model.LockEntry
	byToken map[string]model.Path

	querySeq uint64
}

// NewManager creates a lock manager. A nil logger falls back to a
// no-op logger.
func NewManager(logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		rw:      NewTxRWLock(),
		logger:  logger,
		locks:   make(map[model.Path]*model.LockEntry),
		byToken: make(map[string]model.Path),
	}
}

// queryTx returns a throwaway transaction identity for read-only
// queries that are not part of any caller transaction
func (m *Manager) queryTx() TxID {
	return TxID(fmt.Sprintf("query-%d", atomic.AddUint64(&m.querySeq, 1)))
}

// Lock places a lock on the node at path. It fails with LockViolation
// when the node is already locked, an ancestor holds a deep lock
// covering it, or (for deep requests) any descendant is locked. On
// success the returned entry carries a unique token which is added to
// the session's token set.
func (m *Manager) Lock(
	session *Session,
	nodeID model.NodeID,
	path model.Path,
	deep bool,
	sessionScoped bool,
	timeoutHint time.Duration,
	ownerInfo string,
) (*model.LockEntry, error) {
	if session == nil {
		return nil, errors.InvalidArgument("session is required", nil)
	}
	if path == "" {
		return nil, errors.InvalidArgument("path is required", nil)
	}

	tx := TxID(session.ID())
	m.rw.AcquireWrite(tx)
	defer m.rw.ReleaseWrite(tx)

	if existing, ok := m.locks[path]; ok {
		return nil, errors.LockViolation(path, existing.Path, existing.OwnerSession)
	}
	for p, e := range m.locks {
		if e.Deep && model.IsAncestorPath(p, path) {
			return nil, errors.LockViolation(path, p, e.OwnerSession)
		}
		if deep && model.IsAncestorPath(path, p) {
			return nil, errors.LockViolation(path, p, e.OwnerSession)
		}
	}

	entry := &model.LockEntry{
		NodeID:        nodeID,
		Path:          path,
		Deep:          deep,
		SessionScoped: sessionScoped,
		OwnerSession:  session.ID(),
		Token:         uuid.New().String(),
		TimeoutHint:   timeoutHint,
		OwnerInfo:     ownerInfo,
		CreatedAt:     time.Now(),
	}
	m.locks[path] = entry
	m.byToken[entry.Token] = path
	session.AddToken(entry.Token)

	m.logger.Debug("Node locked",
		zap.String("path", path),
		zap.Bool("deep", deep),
		zap.Bool("session_scoped", sessionScoped),
		zap.String("session", session.ID()))

	return entry.Clone(), nil
}

// Unlock removes the lock directly on path. The calling session must
// hold the matching token.
func (m *Manager) Unlock(session *Session, path model.Path) error {
	if session == nil {
		return errors.InvalidArgument("session is required", nil)
	}

	tx := TxID(session.ID())
	m.rw.AcquireWrite(tx)
	defer m.rw.ReleaseWrite(tx)

	entry, ok := m.locks[path]
	if !ok {
		return errors.LockNotFound(path)
	}
	if !session.HoldsToken(entry.Token) {
		return errors.LockTokenMismatch(path, session.ID())
	}

	m.removeEntry(entry)
	session.RemoveToken(entry.Token)

	m.logger.Debug("Node unlocked",
		zap.String("path", path),
		zap.String("session", session.ID()))
	return nil
}

// removeEntry drops an entry from both indexes. Callers must hold the
// write side of m.rw.
func (m *Manager) removeEntry(entry *model.LockEntry) {
	delete(m.locks, entry.Path)
	delete(m.byToken, entry.Token)
}

// findGoverning returns the lock governing path: the entry directly
// on it, or the nearest deep ancestor entry. Callers must hold m.rw.
func (m *Manager) findGoverning(path model.Path) *model.LockEntry {
	if e, ok := m.locks[path]; ok {
		return e
	}
	for p := model.ParentPath(path); ; p = model.ParentPath(p) {
		if e, ok := m.locks[p]; ok && e.Deep {
			return e
		}
		if p == "/" {
			return nil
		}
	}
}

// GetLock returns the lock governing path, failing with LockNotFound
// when none applies
func (m *Manager) GetLock(path model.Path) (*model.LockEntry, error) {
	tx := m.queryTx()
	m.rw.AcquireRead(tx)
	defer m.rw.ReleaseRead(tx)

	e := m.findGoverning(path)
	if e == nil {
		return nil, errors.LockNotFound(path)
	}
	return e.Clone(), nil
}

// GetLocks returns all locks whose token the session holds
func (m *Manager) GetLocks(session *Session) []*model.LockEntry {
	tx := TxID(session.ID())
	m.rw.AcquireRead(tx)
	defer m.rw.ReleaseRead(tx)

	var out []*model.LockEntry
	for _, e := range m.locks {
		if session.HoldsToken(e.Token) {
			out = append(out, e.Clone())
		}
	}
	return out
}

// HoldsLock reports whether a lock exists directly on path
func (m *Manager) HoldsLock(path model.Path) bool {
	tx := m.queryTx()
	m.rw.AcquireRead(tx)
	defer m.rw.ReleaseRead(tx)

	_, ok := m.locks[path]
	return ok
}

// IsLocked reports whether path is governed by any lock, directly or
// through a deep ancestor lock
func (m *Manager) IsLocked(path model.Path) bool {
	tx := m.queryTx()
	m.rw.AcquireRead(tx)
	defer m.rw.ReleaseRead(tx)

	return m.findGoverning(path) != nil
}

// CheckLock fails with LockViolation when path is governed by a lock
// whose token the session does not hold. The no-lock case succeeds
// silently.
func (m *Manager) CheckLock(path model.Path, session *Session) error {
	var tx TxID
	if session != nil {
		tx = TxID(session.ID())
	} else {
		tx = m.queryTx()
	}
	m.rw.AcquireRead(tx)
	defer m.rw.ReleaseRead(tx)

	e := m.findGoverning(path)
	if e == nil {
		return nil
	}
	if session == nil || !session.HoldsToken(e.Token) {
		owner := e.OwnerSession
		return errors.LockViolation(path, e.Path, owner)
	}
	return nil
}

// CheckUnlock reports whether session may remove the lock on path:
// it must hold the token or exercise administrative override.
func (m *Manager) CheckUnlock(session *Session, path model.Path) error {
	if session == nil {
		return errors.InvalidArgument("session is required", nil)
	}

	tx := TxID(session.ID())
	m.rw.AcquireRead(tx)
	defer m.rw.ReleaseRead(tx)

	e, ok := m.locks[path]
	if !ok {
		return errors.LockNotFound(path)
	}
	if session.IsAdmin() || session.HoldsToken(e.Token) {
		return nil
	}
	return errors.LockTokenMismatch(path, session.ID())
}

// AddLockToken transfers ownership of the open-scoped lock identified
// by token to session. Session-scoped locks cannot change hands.
func (m *Manager) AddLockToken(session *Session, token string) error {
	if session == nil {
		return errors.InvalidArgument("session is required", nil)
	}

	tx := TxID(session.ID())
	m.rw.AcquireWrite(tx)
	defer m.rw.ReleaseWrite(tx)

	path, ok := m.byToken[token]
	if !ok {
		return errors.NewStoreError(errors.ErrCodeLockNotFound, "unknown lock token", nil).
			WithDetail("token", token)
	}
	entry := m.locks[path]
	if entry.SessionScoped {
		return errors.InvalidArgument("session-scoped locks cannot be transferred", nil)
	}

	entry.OwnerSession = session.ID()
	session.AddToken(token)
	return nil
}

// RemoveLockToken detaches token from session. The lock itself stays
// in place without an owning session until the token is re-added.
func (m *Manager) RemoveLockToken(session *Session, token string) error {
	if session == nil {
		return errors.InvalidArgument("session is required", nil)
	}

	tx := TxID(session.ID())
	m.rw.AcquireWrite(tx)
	defer m.rw.ReleaseWrite(tx)

	path, ok := m.byToken[token]
	if !ok {
		return errors.NewStoreError(errors.ErrCodeLockNotFound, "unknown lock token", nil).
			WithDetail("token", token)
	}
	if !session.HoldsToken(token) {
		return errors.LockTokenMismatch(path, session.ID())
	}

	m.locks[path].OwnerSession = ""
	session.RemoveToken(token)
	return nil
}

// ReleaseSession releases all session-scoped locks held by session
// and detaches its tokens. Called when a session terminates on any
// exit path.
func (m *Manager) ReleaseSession(session *Session) {
	if session == nil {
		return
	}

	tx := TxID(session.ID())
	m.rw.AcquireWrite(tx)
	defer m.rw.ReleaseWrite(tx)

	for _, token := range session.Tokens() {
		path, ok := m.byToken[token]
		if !ok {
			session.RemoveToken(token)
			continue
		}
		entry := m.locks[path]
		if entry.SessionScoped {
			m.removeEntry(entry)
			m.logger.Debug("Session-scoped lock released",
				zap.String("path", path),
				zap.String("session", session.ID()))
		} else {
			entry.OwnerSession = ""
		}
		session.RemoveToken(token)
	}
}

// ActiveLocks returns the number of lock entries currently held
func (m *Manager) ActiveLocks() int {
	tx := m.queryTx()
	m.rw.AcquireRead(tx)
	defer m.rw.ReleaseRead(tx)
	return len(m.locks)
}
