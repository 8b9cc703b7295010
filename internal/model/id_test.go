package model_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/treestore-io/treestore/internal/model"
)

func TestParentPath(t *testing.T) {
	tests := []struct {
		path model.Path
		want model.Path
	}{
		{path: "/", want: "/"},
		{path: "/foo", want: "/"},
		{path: "/foo/bar", want: "/foo"},
		{path: "/foo/bar/baz", want: "/foo/bar"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, model.ParentPath(tt.path), "parent of %s", tt.path)
	}
}

func TestIsAncestorPath(t *testing.T) {
	tests := []struct {
		ancestor model.Path
		path     model.Path
		want     bool
	}{
		{ancestor: "/", path: "/foo", want: true},
		{ancestor: "/foo", path: "/foo/bar", want: true},
		{ancestor: "/foo", path: "/foo/bar/baz", want: true},
		{ancestor: "/foo", path: "/foo", want: false},
		{ancestor: "/foo", path: "/foobar", want: false},
		{ancestor: "/foo/bar", path: "/foo", want: false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, model.IsAncestorPath(tt.ancestor, tt.path),
			"%s ancestor of %s", tt.ancestor, tt.path)
	}
}

func TestPropertyState_ReferenceTargets(t *testing.T) {
	a := model.NewNodeID()
	b := model.NewNodeID()

	ref := &model.PropertyState{
		ID:     model.NewPropertyID(model.NewNodeID(), "refs"),
		Type:   model.PropertyTypeReference,
		Values: []string{string(a), string(b), string(a)},
	}
	assert.Equal(t, []model.NodeID{a, b, a}, ref.ReferenceTargets())

	str := &model.PropertyState{
		ID:     model.NewPropertyID(model.NewNodeID(), "title"),
		Type:   model.PropertyTypeString,
		Values: []string{"not a target"},
	}
	assert.Empty(t, str.ReferenceTargets())
}

func TestNodeReferences_RemoveOneOccurrence(t *testing.T) {
	target := model.NewNodeID()
	pid := model.NewPropertyID(model.NewNodeID(), "ref")

	r := model.NewNodeReferences(target)
	r.Add(pid)
	r.Add(pid)

	assert.True(t, r.Remove(pid))
	assert.True(t, r.HasReferences())
	assert.True(t, r.Remove(pid))
	assert.False(t, r.HasReferences())
	assert.False(t, r.Remove(pid))
}
