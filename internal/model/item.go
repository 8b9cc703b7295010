package model

// PropertyType defines the value type of a property
type PropertyType string

const (
	PropertyTypeString    PropertyType = "string"
	PropertyTypeBinary    PropertyType = "binary"
	PropertyTypeLong      PropertyType = "long"
	PropertyTypeBoolean   PropertyType = "boolean"
	PropertyTypeDate      PropertyType = "date"
	PropertyTypeReference PropertyType = "reference" // value is a target NodeID
)

// NodeState is the persisted state of a single node
type NodeState struct {
	ID         NodeID   `json:"id"`
	ParentID   NodeID   `json:"parent_id,omitempty"`
	Path       Path     `json:"path"`
	Name       string   `json:"name"`
	ChildIDs   []NodeID `json:"child_ids,omitempty"`
	Properties []string `json:"properties,omitempty"` // property names owned by this node
	Revision   uint64   `json:"revision"`             // revision of the last committed change
}

// Clone returns a deep copy of the node state
func (n *NodeState) Clone() *NodeState {
	c := *n
	c.ChildIDs = append([]NodeID(nil), n.ChildIDs...)
	c.Properties = append([]string(nil), n.Properties...)
	return &c
}

// HasChild reports whether the node lists the given child
func (n *NodeState) HasChild(id NodeID) bool {
	for _, c := range n.ChildIDs {
		if c == id {
			return true
		}
	}
	return false
}

// PropertyState is the persisted state of a single property
type PropertyState struct {
	ID     PropertyID   `json:"id"`
	Type   PropertyType `json:"type"`
	Values []string     `json:"values"` // multi-valued; single-valued properties hold one entry
}

// Clone returns a deep copy of the property state
func (p *PropertyState) Clone() *PropertyState {
	c := *p
	c.Values = append([]string(nil), p.Values...)
	return &c
}

// ReferenceTargets returns the node IDs referenced by this property,
// one entry per value. Non-reference properties have no targets.
func (p *PropertyState) ReferenceTargets() []NodeID {
	if p.Type != PropertyTypeReference {
		return nil
	}
	targets := make([]NodeID, 0, len(p.Values))
	for _, v := range p.Values {
		targets = append(targets, NodeID(v))
	}
	return targets
}
