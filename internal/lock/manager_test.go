package lock_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/treestore-io/treestore/internal/errors"
	"github.com/treestore-io/treestore/internal/lock"
	"github.com/treestore-io/treestore/internal/model"
)

func newManager(t *testing.T) *lock.Manager {
	t.Helper()
	return lock.NewManager(zap.NewNop())
}

func TestManager_LockAndUnlock(t *testing.T) {
	m := newManager(t)
	session := lock.NewSession()

	entry, err := m.Lock(session, model.NewNodeID(), "/foo", false, false, 0, "owner")
	require.NoError(t, err)
	assert.NotEmpty(t, entry.Token)
	assert.Equal(t, session.ID(), entry.OwnerSession)
	assert.True(t, session.HoldsToken(entry.Token))
	assert.True(t, m.HoldsLock("/foo"))

	require.NoError(t, m.Unlock(session, "/foo"))
	assert.False(t, m.HoldsLock("/foo"))
	assert.False(t, session.HoldsToken(entry.Token))
}

func TestManager_LockConflicts(t *testing.T) {
	m := newManager(t)
	owner := lock.NewSession()
	other := lock.NewSession()

	_, err := m.Lock(owner, model.NewNodeID(), "/foo", false, false, 0, "")
	require.NoError(t, err)

	tests := []struct {
		name string
		path model.Path
		deep bool
		want bool
	}{
		{name: "same node", path: "/foo", want: true},
		{name: "child of shallow lock", path: "/foo/bar", want: false},
		{name: "deep lock over locked descendant", path: "/", deep: true, want: true},
		{name: "sibling", path: "/baz", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry, err := m.Lock(other, model.NewNodeID(), tt.path, tt.deep, false, 0, "")
			if tt.want {
				require.Error(t, err)
				assert.Equal(t, errors.ErrCodeLockViolation, errors.GetCode(err))
			} else {
				require.NoError(t, err)
				require.NoError(t, m.Unlock(other, entry.Path))
			}
		})
	}
}

func TestManager_DeepLockGovernsDescendants(t *testing.T) {
	m := newManager(t)
	owner := lock.NewSession()
	other := lock.NewSession()

	_, err := m.Lock(owner, model.NewNodeID(), "/a", true, false, 0, "")
	require.NoError(t, err)

	// descendants cannot be locked by anyone
	_, err = m.Lock(other, model.NewNodeID(), "/a/b/c", false, false, 0, "")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeLockViolation, errors.GetCode(err))

	// the deep lock governs the whole subtree
	assert.True(t, m.IsLocked("/a/b/c"))
	got, err := m.GetLock("/a/b/c")
	require.NoError(t, err)
	assert.Equal(t, model.Path("/a"), got.Path)
	assert.True(t, got.Deep)

	// unrelated paths stay free
	assert.False(t, m.IsLocked("/ab"))
	_, err = m.GetLock("/ab")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeLockNotFound, errors.GetCode(err))
}

func TestManager_ShallowLocksOnDistinctLevels(t *testing.T) {
	m := newManager(t)
	s1 := lock.NewSession()
	s2 := lock.NewSession()

	e1, err := m.Lock(s1, model.NewNodeID(), "/foo", false, false, 0, "")
	require.NoError(t, err)
	e2, err := m.Lock(s2, model.NewNodeID(), "/foo/bar", false, false, 0, "")
	require.NoError(t, err)

	assert.NotEqual(t, e1.Token, e2.Token)

	// each session may only remove its own lock
	err = m.Unlock(s1, "/foo/bar")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeLockTokenMismatch, errors.GetCode(err))

	require.NoError(t, m.Unlock(s1, "/foo"))
	require.NoError(t, m.Unlock(s2, "/foo/bar"))
}

func TestManager_CheckLock(t *testing.T) {
	m := newManager(t)
	owner := lock.NewSession()
	other := lock.NewSession()

	_, err := m.Lock(owner, model.NewNodeID(), "/foo", true, false, 0, "")
	require.NoError(t, err)

	assert.NoError(t, m.CheckLock("/foo", owner))
	assert.NoError(t, m.CheckLock("/foo/child", owner))

	err = m.CheckLock("/foo", other)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeLockViolation, errors.GetCode(err))

	// unlocked paths pass for everyone
	assert.NoError(t, m.CheckLock("/free", other))
}

func TestManager_CheckUnlock(t *testing.T) {
	m := newManager(t)
	owner := lock.NewSession()
	other := lock.NewSession()
	admin := lock.NewAdminSession()

	_, err := m.Lock(owner, model.NewNodeID(), "/foo", false, false, 0, "")
	require.NoError(t, err)

	assert.NoError(t, m.CheckUnlock(owner, "/foo"))
	assert.NoError(t, m.CheckUnlock(admin, "/foo"))

	err = m.CheckUnlock(other, "/foo")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeLockTokenMismatch, errors.GetCode(err))

	err = m.CheckUnlock(owner, "/missing")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeLockNotFound, errors.GetCode(err))
}

func TestManager_TokenTransfer(t *testing.T) {
	m := newManager(t)
	s1 := lock.NewSession()
	s2 := lock.NewSession()

	entry, err := m.Lock(s1, model.NewNodeID(), "/foo", false, false, 0, "")
	require.NoError(t, err)

	// detach from s1, attach to s2
	require.NoError(t, m.RemoveLockToken(s1, entry.Token))
	assert.False(t, s1.HoldsToken(entry.Token))
	assert.True(t, m.HoldsLock("/foo"), "lock survives token detachment")

	require.NoError(t, m.AddLockToken(s2, entry.Token))
	assert.True(t, s2.HoldsToken(entry.Token))
	require.NoError(t, m.Unlock(s2, "/foo"))
}

func TestManager_SessionScopedTokenNotTransferable(t *testing.T) {
	m := newManager(t)
	s1 := lock.NewSession()
	s2 := lock.NewSession()

	entry, err := m.Lock(s1, model.NewNodeID(), "/foo", false, true, 0, "")
	require.NoError(t, err)

	err = m.AddLockToken(s2, entry.Token)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeInvalidArgument, errors.GetCode(err))
}

func TestManager_ReleaseSession(t *testing.T) {
	m := newManager(t)
	session := lock.NewSession()

	_, err := m.Lock(session, model.NewNodeID(), "/scoped", false, true, 0, "")
	require.NoError(t, err)
	open, err := m.Lock(session, model.NewNodeID(), "/open", false, false, 0, "")
	require.NoError(t, err)

	m.ReleaseSession(session)

	// session-scoped locks are gone, open-scoped locks survive detached
	assert.False(t, m.HoldsLock("/scoped"))
	assert.True(t, m.HoldsLock("/open"))
	assert.Empty(t, session.Tokens())

	got, err := m.GetLock("/open")
	require.NoError(t, err)
	assert.Empty(t, got.OwnerSession)
	assert.Equal(t, open.Token, got.Token)
}

func TestManager_GetLocks(t *testing.T) {
	m := newManager(t)
	session := lock.NewSession()
	other := lock.NewSession()

	_, err := m.Lock(session, model.NewNodeID(), "/a", false, false, 0, "")
	require.NoError(t, err)
	_, err = m.Lock(session, model.NewNodeID(), "/b", true, false, 0, "")
	require.NoError(t, err)
	_, err = m.Lock(other, model.NewNodeID(), "/c", false, false, 0, "")
	require.NoError(t, err)

	held := m.GetLocks(session)
	assert.Len(t, held, 2)
	assert.Equal(t, 3, m.ActiveLocks())
}

func TestManager_TimeoutHintIsAdvisory(t *testing.T) {
	m := newManager(t)
	session := lock.NewSession()

	entry, err := m.Lock(session, model.NewNodeID(), "/foo", false, false, 10*time.Millisecond, "")
	require.NoError(t, err)
	assert.Equal(t, 10*time.Millisecond, entry.TimeoutHint)

	// the hint does not expire the lock
	time.Sleep(30 * time.Millisecond)
	assert.True(t, m.HoldsLock("/foo"))
}
