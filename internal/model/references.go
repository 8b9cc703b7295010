package model

// NodeReferences tracks the REFERENCE properties pointing at a target
// node. The list is insertion-ordered and may contain duplicates: a
// multi-valued property referencing the same target twice appears
// twice. NodeReferences is a back-reference index, it holds no
// ownership over the target node.
type NodeReferences struct {
	TargetID   NodeID       `json:"target_id"`
	Properties []PropertyID `json:"properties,omitempty"`
}

// NewNodeReferences creates an empty reference record for a target
func NewNodeReferences(targetID NodeID) *NodeReferences {
	return &NodeReferences{TargetID: targetID}
}

// Add appends a referring property
func (r *NodeReferences) Add(pid PropertyID) {
	r.Properties = append(r.Properties, pid)
}

// AddAll appends all given referring properties in order
func (r *NodeReferences) AddAll(pids []PropertyID) {
	r.Properties = append(r.Properties, pids...)
}

// Remove removes one occurrence of pid. It returns true if an entry
// was removed, false if pid was not present (a no-op, not an error).
func (r *NodeReferences) Remove(pid PropertyID) bool {
	for i, p := range r.Properties {
		if p == pid {
			r.Properties = append(r.Properties[:i], r.Properties[i+1:]...)
			return true
		}
	}
	return false
}

// Clear removes all referring properties
func (r *NodeReferences) Clear() {
	r.Properties = nil
}

// HasReferences reports whether any referring property remains
func (r *NodeReferences) HasReferences() bool {
	return len(r.Properties) > 0
}

// Clone returns a deep copy of the record
func (r *NodeReferences) Clone() *NodeReferences {
	c := &NodeReferences{TargetID: r.TargetID}
	c.Properties = append([]PropertyID(nil), r.Properties...)
	return c
}
