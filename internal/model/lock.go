package model

import "time"

// LockEntry describes an active lock on a node. At most one lock
// entry governs a node at any time: either an entry directly on the
// node, or a deep entry on an ancestor.
type LockEntry struct {
	NodeID        NodeID        `json:"node_id"`
	Path          Path          `json:"path"`
	Deep          bool          `json:"deep"`           // lock covers the whole subtree
	SessionScoped bool          `json:"session_scoped"` // released when the owning session ends
	OwnerSession  string        `json:"owner_session"`
	Token         string        `json:"token"`
	TimeoutHint   time.Duration `json:"timeout_hint,omitempty"` // advisory only, not enforced
	OwnerInfo     string        `json:"owner_info,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
}

// Clone returns a copy of the lock entry
func (l *LockEntry) Clone() *LockEntry {
	c := *l
	return &c
}
