package storage_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/treestore-io/treestore/internal/errors"
	"github.com/treestore-io/treestore/internal/model"
	"github.com/treestore-io/treestore/internal/storage"
)

func addNodeBatch(node *model.NodeState) *model.ChangeBatch {
	return &model.ChangeBatch{
		TxID: "test",
		Ops:  []model.ChangeOp{{Type: model.OperationTypeAddNode, Node: node}},
	}
}

func TestMemoryStore_NodeLifecycle(t *testing.T) {
	s := storage.NewMemoryStore(nil)

	node := &model.NodeState{
		ID:       model.NewNodeID(),
		Path:     "/foo",
		Name:     "foo",
		Revision: 1,
	}
	require.NoError(t, s.ApplyBatch(addNodeBatch(node)))

	exists, err := s.NodeExists(node.ID)
	require.NoError(t, err)
	assert.True(t, exists)

	got, err := s.LoadNode(node.ID)
	require.NoError(t, err)
	assert.Equal(t, node.Path, got.Path)
	assert.Equal(t, uint64(1), got.Revision)

	require.NoError(t, s.ApplyBatch(&model.ChangeBatch{
		Ops: []model.ChangeOp{{Type: model.OperationTypeDeleteNode, NodeID: node.ID}},
	}))

	_, err = s.LoadNode(node.ID)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeNodeNotFound, errors.GetCode(err))
}

func TestMemoryStore_LoadedStateIsACopy(t *testing.T) {
	s := storage.NewMemoryStore(nil)

	node := &model.NodeState{ID: model.NewNodeID(), Path: "/foo", Revision: 1}
	require.NoError(t, s.ApplyBatch(addNodeBatch(node)))

	got, err := s.LoadNode(node.ID)
	require.NoError(t, err)
	got.Revision = 99
	got.ChildIDs = append(got.ChildIDs, model.NewNodeID())

	again, err := s.LoadNode(node.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), again.Revision)
	assert.Empty(t, again.ChildIDs)
}

func TestMemoryStore_PropertyListMaintained(t *testing.T) {
	s := storage.NewMemoryStore(nil)

	node := &model.NodeState{ID: model.NewNodeID(), Path: "/foo", Revision: 1}
	require.NoError(t, s.ApplyBatch(addNodeBatch(node)))

	pid := model.NewPropertyID(node.ID, "title")
	require.NoError(t, s.ApplyBatch(&model.ChangeBatch{
		Ops: []model.ChangeOp{{
			Type: model.OperationTypeSetProperty,
			Property: &model.PropertyState{
				ID:     pid,
				Type:   model.PropertyTypeString,
				Values: []string{"hello"},
			},
		}},
	}))

	got, err := s.LoadNode(node.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"title"}, got.Properties)

	prop, err := s.LoadProperty(pid)
	require.NoError(t, err)
	assert.Equal(t, []string{"hello"}, prop.Values)

	require.NoError(t, s.ApplyBatch(&model.ChangeBatch{
		Ops: []model.ChangeOp{{Type: model.OperationTypeDeleteProperty, PropertyID: &pid}},
	}))

	got, err = s.LoadNode(node.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Properties)

	_, err = s.LoadProperty(pid)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodePropertyNotFound, errors.GetCode(err))
}

func TestMemoryStore_DeleteNodeDropsItsProperties(t *testing.T) {
	s := storage.NewMemoryStore(nil)

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

	require.NoError(t, s.ApplyBatch(&model.ChangeBatch{
		Ops: []model.ChangeOp{{Type: model.OperationTypeDeleteNode, NodeID: node.ID}},
	}))

	exists, err := s.PropertyExists(pid)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestMemoryStore_DeleteAbsentNodeIsNoOp(t *testing.T) {
	s := storage.NewMemoryStore(nil)

	err := s.ApplyBatch(&model.ChangeBatch{
		Ops: []model.ChangeOp{{Type: model.OperationTypeDeleteNode, NodeID: model.NewNodeID()}},
	})
	assert.NoError(t, err)
}

func TestMemoryStore_ReferencePostState(t *testing.T) {
	s := storage.NewMemoryStore(nil)

	target := model.NewNodeID()
	pid := model.NewPropertyID(model.NewNodeID(), "ref")

	record := model.NewNodeReferences(target)
	record.Add(pid)
	require.NoError(t, s.ApplyBatch(&model.ChangeBatch{References: []*model.NodeReferences{record}}))

	has, err := s.HasReferences(target)
	require.NoError(t, err)
	assert.True(t, has)

	got, err := s.LoadReferences(target)
	require.NoError(t, err)
	assert.Equal(t, []model.PropertyID{pid}, got.Properties)

	// an empty post-state record deletes the stored record
	require.NoError(t, s.ApplyBatch(&model.ChangeBatch{
		References: []*model.NodeReferences{model.NewNodeReferences(target)},
	}))

	has, err = s.HasReferences(target)
	require.NoError(t, err)
	assert.False(t, has)
}

func TestMemoryStore_LoadReferencesEmptyWhenAbsent(t *testing.T) {
	s := storage.NewMemoryStore(nil)

	got, err := s.LoadReferences(model.NewNodeID())
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.False(t, got.HasReferences())
}
