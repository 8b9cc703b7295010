package storage_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/treestore-io/treestore/internal/errors"
	"github.com/treestore-io/treestore/internal/model"
	"github.com/treestore-io/treestore/internal/storage"
)

func newBadgerStore(t *testing.T) *storage.BadgerStore {
	t.Helper()
	s, err := storage.NewBadgerStore(&storage.BadgerConfig{Dir: t.TempDir()}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestBadgerStore_NodeRoundTrip(t *testing.T) {
	s := newBadgerStore(t)

	node := &model.NodeState{
		ID:       model.NewNodeID(),
		Path:     "/foo",
		Name:     "foo",
		ChildIDs: []model.NodeID{model.NewNodeID()},
		Revision: 3,
	}
	require.NoError(t, s.ApplyBatch(&model.ChangeBatch{
		Ops: []model.ChangeOp{{Type: model.OperationTypeAddNode, Node: node}},
	}))

	got, err := s.LoadNode(node.ID)
	require.NoError(t, err)
	assert.Equal(t, node.Path, got.Path)
	assert.Equal(t, node.ChildIDs, got.ChildIDs)
	assert.Equal(t, uint64(3), got.Revision)

	_, err = s.LoadNode(model.NewNodeID())
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeNodeNotFound, errors.GetCode(err))
}

func TestBadgerStore_BatchIsAtomic(t *testing.T) {
	s := newBadgerStore(t)

	node := &model.NodeState{ID: model.NewNodeID(), Path: "/foo", Revision: 1}
	pid := model.NewPropertyID(node.ID, "title")

	// a batch with an invalid op must leave no trace of the valid ones
	err := s.ApplyBatch(&model.ChangeBatch{
		Ops: []model.ChangeOp{
			{Type: model.OperationTypeAddNode, Node: node},
			{Type: model.OperationTypeSetProperty, Property: &model.PropertyState{
				ID: pid, Type: model.PropertyTypeString, Values: []string{"x"},
			}},
			{Type: model.OperationType("bogus")},
		},
	})
	require.Error(t, err)

	exists, err := s.NodeExists(node.ID)
	require.NoError(t, err)
	assert.False(t, exists)

	exists, err = s.PropertyExists(pid)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestBadgerStore_PropertyListMaintained(t *testing.T) {
	s := newBadgerStore(t)

	node := &model.NodeState{ID: model.NewNodeID(), Path: "/foo", Revision: 1}
	pid := model.NewPropertyID(node.ID, "title")
	require.NoError(t, s.ApplyBatch(&model.ChangeBatch{
		Ops: []model.ChangeOp{
			{Type: model.OperationTypeAddNode, Node: node},
			{Type: model.OperationTypeSetProperty, Property: &model.PropertyState{
				ID: pid, Type: model.PropertyTypeString, Values: []string{"x"},
			}},
		},
	}))

	got, err := s.LoadNode(node.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"title"}, got.Properties)

	require.NoError(t, s.ApplyBatch(&model.ChangeBatch{
		Ops: []model.ChangeOp{{Type: model.OperationTypeDeleteProperty, PropertyID: &pid}},
	}))

	got, err = s.LoadNode(node.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Properties)
}

func TestBadgerStore_ReferencesSurviveReopen(t *testing.T) {
	dir := t.TempDir()

	target := model.NewNodeID()
	pid := model.NewPropertyID(model.NewNodeID(), "ref")

	s, err := storage.NewBadgerStore(&storage.BadgerConfig{Dir: dir}, nil)
	require.NoError(t, err)

	record := model.NewNodeReferences(target)
	record.Add(pid)
	require.NoError(t, s.ApplyBatch(&model.ChangeBatch{References: []*model.NodeReferences{record}}))
	require.NoError(t, s.Close())

	s, err = storage.NewBadgerStore(&storage.BadgerConfig{Dir: dir}, nil)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.LoadReferences(target)
	require.NoError(t, err)
	assert.Equal(t, []model.PropertyID{pid}, got.Properties)
}

func TestBadgerStore_DeleteNodeDropsItsProperties(t *testing.T) {
	s := newBadgerStore(t)

	node := &model.NodeState{ID: model.NewNodeID(), Path: "/foo", Revision: 1}
	pid := model.NewPropertyID(node.ID, "title")
	require.NoError(t, s.ApplyBatch(&model.ChangeBatch{
		Ops: []model.ChangeOp{
			{Type: model.OperationTypeAddNode, Node: node},
			{Type: model.OperationTypeSetProperty, Property: &model.PropertyState{
				ID: pid, Type: model.PropertyTypeString, Values: []string{"x"},
			}},
			{Type: model.OperationTypeDeleteNode, NodeID: node.ID},
		},
	}))

	exists, err := s.NodeExists(node.ID)
	require.NoError(t, err)
	assert.False(t, exists)

	exists, err = s.PropertyExists(pid)
	require.NoError(t, err)
	assert.False(t, exists)
}
