package journal_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/treestore-io/treestore/internal/errors"
	"github.com/treestore-io/treestore/internal/journal"
	"github.com/treestore-io/treestore/internal/model"
)

func testBatch(producer string) *model.ChangeBatch {
	return &model.ChangeBatch{
		TxID:     model.NewNodeID().String(),
		Producer: producer,
		Ops: []model.ChangeOp{{
			Type: model.OperationTypeAddNode,
			Node: &model.NodeState{ID: model.NewNodeID(), Path: "/n", Revision: 1},
		}},
	}
}

func newFileJournal(t *testing.T, dir string) *journal.FileJournal {
	t.Helper()
	j, err := journal.NewFileJournal(&journal.FileJournalConfig{Dir: dir}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func TestFileJournal_AppendAssignsSequentialRevisions(t *testing.T) {
	j := newFileJournal(t, t.TempDir())

	for want := uint64(1); want <= 5; want++ {
		rev, err := j.Append(context.Background(), testBatch("node-1"))
		require.NoError(t, err)
		assert.Equal(t, want, rev)
	}

	head, err := j.HeadRevision()
	require.NoError(t, err)
	assert.Equal(t, uint64(5), head)
}

func TestFileJournal_RecordsAfter(t *testing.T) {
	j := newFileJournal(t, t.TempDir())

	for i := 0; i < 4; i++ {
		_, err := j.Append(context.Background(), testBatch("node-1"))
		require.NoError(t, err)
	}

	records, err := j.Records(2)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, uint64(3), records[0].Revision)
	assert.Equal(t, uint64(4), records[1].Revision)

	records, err = j.Records(10)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestFileJournal_TwoInstancesShareOneOrder(t *testing.T) {
	dir := t.TempDir()
	j1 := newFileJournal(t, dir)
	j2 := newFileJournal(t, dir)

	// interleaved appends from two instances over the same storage
	rev, err := j1.Append(context.Background(), testBatch("node-1"))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), rev)

	rev, err = j2.Append(context.Background(), testBatch("node-2"))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), rev)

	rev, err = j1.Append(context.Background(), testBatch("node-1"))
	require.NoError(t, err)
	assert.Equal(t, uint64(3), rev)

	records, err := j2.Records(0)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "node-1", records[0].Producer)
	assert.Equal(t, "node-2", records[1].Producer)
	assert.Equal(t, "node-1", records[2].Producer)
}

func TestFileJournal_StaleLockFileFailsAppend(t *testing.T) {
	dir := t.TempDir()
	j, err := journal.NewFileJournal(&journal.FileJournalConfig{
		Dir:         dir,
		LockRetries: 2,
	}, nil)
	require.NoError(t, err)
	defer j.Close()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "journal.lock"), []byte("12345\n"), 0644))

	_, err = j.Append(context.Background(), testBatch("node-1"))
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeJournalAppendFailed, errors.GetCode(err))
	assert.False(t, j.Corrupted(), "lock contention must not flag corruption")
}

func TestFileJournal_PartialTailDetectedUnderLock(t *testing.T) {
	dir := t.TempDir()
	j := newFileJournal(t, dir)

	_, err := j.Append(context.Background(), testBatch("node-1"))
	require.NoError(t, err)

	// simulate a writer that died mid-append
	f, err := os.OpenFile(filepath.Join(dir, "journal.log"), os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"revision":2,"pro`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	// reads ignore the tail, it may be an append in flight
	records, err := j.Records(0)
	require.NoError(t, err)
	assert.Len(t, records, 1)

	// an append holds the lock, so the partial tail is a corruption
	_, err = j.Append(context.Background(), testBatch("node-1"))
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeJournalCorrupted, errors.GetCode(err))
	assert.True(t, j.Corrupted())

	// further appends are refused until repaired
	_, err = j.Append(context.Background(), testBatch("node-1"))
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeJournalCorrupted, errors.GetCode(err))

	require.NoError(t, j.Repair(context.Background()))
	assert.False(t, j.Corrupted())

	rev, err := j.Append(context.Background(), testBatch("node-1"))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), rev)
}

func TestFileJournal_ChecksumMismatchIsCorruption(t *testing.T) {
	dir := t.TempDir()
	j := newFileJournal(t, dir)

	_, err := j.Append(context.Background(), testBatch("node-1"))
	require.NoError(t, err)

	// a complete record whose checksum does not match its batch
	forged := &model.JournalRecord{
		Revision: 2,
		Producer: "node-x",
		Batch:    *testBatch("node-x"),
		Checksum: 0xdeadbeef,
	}
	line, err := json.Marshal(forged)
	require.NoError(t, err)
	f, err := os.OpenFile(filepath.Join(dir, "journal.log"), os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.Write(append(line, '\n'))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	// reads hand back the valid prefix and flag the corrupt tail
	records, err := j.Records(0)
	require.NoError(t, err)
	assert.Len(t, records, 1)
	assert.Equal(t, uint64(1), records[0].Revision)
	assert.True(t, j.Corrupted())

	_, err = j.Append(context.Background(), testBatch("node-1"))
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeJournalCorrupted, errors.GetCode(err))

	require.NoError(t, j.Repair(context.Background()))

	records, err = j.Records(0)
	require.NoError(t, err)
	assert.Len(t, records, 1, "only the valid prefix survives repair")

	rev, err := j.Append(context.Background(), testBatch("node-1"))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), rev)
}

func TestFileJournal_RepairKeepsRecordsAppendedMeanwhile(t *testing.T) {
	dir := t.TempDir()
	j1 := newFileJournal(t, dir)

	_, err := j1.Append(context.Background(), testBatch("node-1"))
	require.NoError(t, err)

	j2 := newFileJournal(t, dir)

	logPath := filepath.Join(dir, "journal.log")
	fi, err := os.Stat(logPath)
	require.NoError(t, err)
	validSize := fi.Size()

	// j2 observes a corrupt complete line after revision 1
	forged := &model.JournalRecord{
		Revision: 2,
		Producer: "node-x",
		Batch:    *testBatch("node-x"),
		Checksum: 0xdeadbeef,
	}
	line, err := json.Marshal(forged)
	require.NoError(t, err)
	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.Write(append(line, '\n'))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	records, err := j2.Records(0)
	require.NoError(t, err)
	assert.Len(t, records, 1)
	require.True(t, j2.Corrupted())

	// the bad tail is replaced by a valid revision 2 before j2 repairs
	require.NoError(t, os.Truncate(logPath, validSize))
	j3 := newFileJournal(t, dir)
	rev, err := j3.Append(context.Background(), testBatch("node-3"))
	require.NoError(t, err)
	require.Equal(t, uint64(2), rev)

	// repair re-scans under the lock and must keep revision 2
	require.NoError(t, j2.Repair(context.Background()))
	assert.False(t, j2.Corrupted())

	records, err = j2.Records(0)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "node-3", records[1].Producer)

	rev, err = j2.Append(context.Background(), testBatch("node-2"))
	require.NoError(t, err)
	assert.Equal(t, uint64(3), rev)
}

func TestFileJournal_ReopenRestoresHead(t *testing.T) {
	dir := t.TempDir()

	j1 := newFileJournal(t, dir)
	for i := 0; i < 3; i++ {
		_, err := j1.Append(context.Background(), testBatch("node-1"))
		require.NoError(t, err)
	}

	j2 := newFileJournal(t, dir)
	head, err := j2.HeadRevision()
	require.NoError(t, err)
	assert.Equal(t, uint64(3), head)

	rev, err := j2.Append(context.Background(), testBatch("node-2"))
	require.NoError(t, err)
	assert.Equal(t, uint64(4), rev)
}

func TestMemoryJournal_Order(t *testing.T) {
	j := journal.NewMemoryJournal()

	for want := uint64(1); want <= 3; want++ {
		rev, err := j.Append(context.Background(), testBatch("node-1"))
		require.NoError(t, err)
		assert.Equal(t, want, rev)
	}

	records, err := j.Records(1)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, uint64(2), records[0].Revision)
	assert.Equal(t, uint64(3), records[1].Revision)
}

func TestMemoryJournal_AppendCopiesBatch(t *testing.T) {
	j := journal.NewMemoryJournal()

	batch := testBatch("node-1")
	_, err := j.Append(context.Background(), batch)
	require.NoError(t, err)

	// caller mutations after append must not reach the journal
	batch.Ops[0].Node.Path = "/mutated"

	records, err := j.Records(0)
	require.NoError(t, err)
	assert.Equal(t, model.Path("/n"), records[0].Batch.Ops[0].Node.Path)
}
