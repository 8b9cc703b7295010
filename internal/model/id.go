package model

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// NodeID uniquely identifies a node in the repository
type NodeID string

// RootNodeID is the well-known identifier of the root node. It is
// fixed so every cluster node materializes the same root without
// coordination.
const RootNodeID NodeID = "00000000-0000-0000-0000-000000000000"

// NewNodeID generates a fresh random node identifier
func NewNodeID() NodeID {
	return NodeID(uuid.New().String())
}

// String returns the string form of the node ID
func (id NodeID) String() string {
	return string(id)
}

// IsZero reports whether the ID is unset
func (id NodeID) IsZero() bool {
	return id == ""
}

// PropertyID identifies a property by its owning node and name
type PropertyID struct {
	NodeID NodeID `json:"node_id"`
	Name   string `json:"name"`
}

// NewPropertyID creates a property identifier
func NewPropertyID(nodeID NodeID, name string) PropertyID {
	return PropertyID{NodeID: nodeID, Name: name}
}

// String returns "{node_id}/{name}"
func (pid PropertyID) String() string {
	return fmt.Sprintf("%s/%s", pid.NodeID, pid.Name)
}

// Path is an absolute, slash-separated node path ("/" is the root)
type Path = string

// ParentPath returns the parent of the given path, or "/" for
// top-level nodes
func ParentPath(p Path) Path {
	if p == "/" {
		return "/"
	}
	idx := strings.LastIndex(p, "/")
	if idx <= 0 {
		return "/"
	}
	return p[:idx]
}

// IsAncestorPath reports whether ancestor is a strict ancestor of p
func IsAncestorPath(ancestor, p Path) bool {
	if ancestor == p {
		return false
	}
	if ancestor == "/" {
		return strings.HasPrefix(p, "/")
	}
	return strings.HasPrefix(p, ancestor+"/")
}
