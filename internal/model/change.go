package model

// OperationType defines the type of change in a batch
type OperationType string

const (
	OperationTypeAddNode        OperationType = "add_node"
	OperationTypeUpdateNode     OperationType = "update_node"
	OperationTypeDeleteNode     OperationType = "delete_node"
	OperationTypeSetProperty    OperationType = "set_property"
	OperationTypeDeleteProperty OperationType = "delete_property"
)

// ChangeOp is a single operation inside a change batch
type ChangeOp struct {
	Type OperationType `json:"type"`

	// Node is set for add_node and update_node
	Node *NodeState `json:"node,omitempty"`

	// Property is set for set_property
	Property *PropertyState `json:"property,omitempty"`

	// NodeID is set for delete_node
	NodeID NodeID `json:"node_id,omitempty"`

	// PropertyID is set for delete_property
	PropertyID *PropertyID `json:"property_id,omitempty"`

	// BaseRevision is the revision the operation was staged against,
	// used for write-conflict detection on update/delete. Zero means
	// no conflict check.
	BaseRevision uint64 `json:"base_revision,omitempty"`
}

// ChangeBatch is the unit of commit: the item-state operations of one
// write transaction plus the resulting NodeReferences records. The
// References slice carries the post-state per target; an entry with no
// properties deletes the stored record.
type ChangeBatch struct {
	TxID       string            `json:"tx_id"`
	Producer   string            `json:"producer"` // cluster node id that committed the batch
	Timestamp  int64             `json:"timestamp"`
	Ops        []ChangeOp        `json:"ops"`
	References []*NodeReferences `json:"references,omitempty"`
}

// TouchedNodes returns the IDs of nodes created, updated or deleted by
// the batch
func (b *ChangeBatch) TouchedNodes() []NodeID {
	var ids []NodeID
	for _, op := range b.Ops {
		switch op.Type {
		case OperationTypeAddNode, OperationTypeUpdateNode:
			ids = append(ids, op.Node.ID)
		case OperationTypeDeleteNode:
			ids = append(ids, op.NodeID)
		case OperationTypeSetProperty:
			ids = append(ids, op.Property.ID.NodeID)
		case OperationTypeDeleteProperty:
			ids = append(ids, op.PropertyID.NodeID)
		}
	}
	return ids
}

// IsEmpty reports whether the batch carries no operations
func (b *ChangeBatch) IsEmpty() bool {
	return len(b.Ops) == 0 && len(b.References) == 0
}
