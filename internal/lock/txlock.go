package lock

import (
	"sync"

	"github.com/treestore-io/treestore/internal/errors"
)

// TxID identifies the logical transaction holding or requesting a
// lock. Reentrancy is keyed by TxID rather than goroutine identity so
// that multiple goroutines cooperating in one write transaction count
// as a single holder.
type TxID string

// TxRWLock is a writer-preference reentrant read/write lock keyed by
// transaction ID. A transaction holding the write lock may acquire
// read locks without blocking, and the sole active reader may upgrade
// to the write lock. The bookkeeping mutex is only held for counter
// updates, never across a blocking wait.
type TxRWLock struct {
	mu             sync.Mutex
	readers        map[TxID]int // reader tx -> reentrant hold count
	activeWriter   TxID
	writerHolds    int
	waitingReaders int
	waitingWriters int
	readGrant      *sync.Cond
	writeGrant     *sync.Cond
}

// NewTxRWLock creates an unlocked TxRWLock
func NewTxRWLock() *TxRWLock {
	l := &TxRWLock{
		readers: make(map[TxID]int),
	}
	l.readGrant = sync.NewCond(&l.mu)
	l.writeGrant = sync.NewCond(&l.mu)
	return l
}

// allowReader reports whether tx may enter as a reader: no active
// writer and no waiting writers, or tx is itself the active writer.
// Callers must hold l.mu.
func (l *TxRWLock) allowReader(tx TxID) bool {
	if l.writerHolds == 0 && l.waitingWriters == 0 {
		return true
	}
	return l.writerHolds > 0 && l.activeWriter == tx
}

// soleReaderIs reports whether tx could become the writer with
// respect to the reader set: either no readers are active, or the
// only active reader is tx itself. Callers must hold l.mu.
func (l *TxRWLock) soleReaderIs(tx TxID) bool {
	if len(l.readers) == 0 {
		return true
	}
	return len(l.readers) == 1 && l.readers[tx] > 0
}

// AcquireRead blocks the calling goroutine until tx holds a read
// lock. Reentrant read acquisitions by a tx that already reads are
// always granted immediately.
func (l *TxRWLock) AcquireRead(tx TxID) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.readers[tx] > 0 {
		l.readers[tx]++
		return
	}

	for !l.allowReader(tx) {
		l.waitingReaders++
		l.readGrant.Wait()
		l.waitingReaders--
	}
	l.readers[tx]++
}

// AcquireWrite blocks the calling goroutine until tx holds the write
// lock. Granted immediately when tx already writes (reentrant) or
// when no writer is active and tx is the sole reader (upgrade).
func (l *TxRWLock) AcquireWrite(tx TxID) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for {
		if l.writerHolds > 0 && l.activeWriter == tx {
			l.writerHolds++
			return
		}
		if l.writerHolds == 0 && l.soleReaderIs(tx) {
			l.activeWriter = tx
			l.writerHolds = 1
			return
		}
		l.waitingWriters++
		l.writeGrant.Wait()
		l.waitingWriters--
	}
}

// ReleaseRead releases one read hold of tx. Releasing without a
// matching acquisition is a programming defect and returns a
// ReentrancyFault.
func (l *TxRWLock) ReleaseRead(tx TxID) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.readers[tx] == 0 {
		return errors.ReentrancyFault(string(tx), "read")
	}

	l.readers[tx]--
	if l.readers[tx] == 0 {
		delete(l.readers, tx)
	}

	// A waiting writer may now be grantable: either no readers
	// remain, or the single remaining reader is the waiter itself
	// (upgrade). Broadcast so the right waiter rechecks.
	if l.writerHolds == 0 && l.waitingWriters > 0 && len(l.readers) <= 1 {
		l.writeGrant.Broadcast()
	}
	return nil
}

// ReleaseWrite releases one write hold of tx. When the hold count
// reaches zero the writer identity is cleared and exactly one class
// of waiter is woken: waiting readers when a reader is immediately
// grantable, otherwise one waiting writer.
func (l *TxRWLock) ReleaseWrite(tx TxID) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.writerHolds == 0 || l.activeWriter != tx {
		return errors.ReentrancyFault(string(tx), "write")
	}

	l.writerHolds--
	if l.writerHolds > 0 {
		return nil
	}
	l.activeWriter = ""

	switch {
	case l.waitingReaders > 0 && l.waitingWriters == 0:
		l.readGrant.Broadcast()
	case l.waitingWriters > 0:
		l.writeGrant.Broadcast()
	}
	return nil
}

// HoldsWrite reports whether tx currently holds the write lock
func (l *TxRWLock) HoldsWrite(tx TxID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.writerHolds > 0 && l.activeWriter == tx
}

// HoldsRead reports whether tx currently holds a read lock
func (l *TxRWLock) HoldsRead(tx TxID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.readers[tx] > 0
}
