package journal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/treestore-io/treestore/internal/errors"
	"github.com/treestore-io/treestore/internal/model"
	"github.com/treestore-io/treestore/internal/util"
	"go.uber.org/zap"
)

const (
	journalFileName = "journal.log"
	lockFileName    = "journal.lock"
)

// FileJournal is a Journal backed by a single append-only file on
// storage shared by all cluster nodes. Appends are serialized across
// processes by an exclusive lock file; revisions are assigned under
// that lock so the sequence is gap-free and strictly increasing.
//
// Records are JSON lines. A line that does not parse, fails its
// checksum, or breaks the revision sequence marks the journal
// corrupted: further appends are refused until Repair truncates the
// bad tail.
type FileJournal struct {
	config *FileJournalConfig
	logger *zap.Logger

	mu         sync.Mutex
	head       uint64 // highest validated revision
	scanOffset int64  // file offset just past the last validated record
	corrupted  bool
}

// FileJournalConfig holds file journal configuration
type FileJournalConfig struct {
	Dir            string
	SyncWrites     bool
	LockRetries    int
	LockRetryDelay time.Duration
}

// NewFileJournal opens (or creates) the journal in cfg.Dir and scans
// it to establish the current head revision
func NewFileJournal(cfg *FileJournalConfig, logger *zap.Logger) (*FileJournal, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.LockRetries <= 0 {
		cfg.LockRetries = 50
	}
	if cfg.LockRetryDelay <= 0 {
		cfg.LockRetryDelay = 20 * time.Millisecond
	}

	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}

	j := &FileJournal{config: cfg, logger: logger}
	if err := j.refresh(false); err != nil {
		return nil, err
	}

	logger.Info("Journal opened",
		zap.String("dir", cfg.Dir),
		zap.Uint64("head_revision", j.head))

	return j, nil
}

func (j *FileJournal) journalPath() string {
	return filepath.Join(j.config.Dir, journalFileName)
}

func (j *FileJournal) lockPath() string {
	return filepath.Join(j.config.Dir, lockFileName)
}

// acquireFileLock takes the cross-process journal lock, retrying for
// a bounded number of attempts. Contention beyond that surfaces as
// JournalAppendFailed: the caller's commit must fail rather than wait
// indefinitely on another process.
func (j *FileJournal) acquireFileLock(ctx context.Context) error {
	for attempt := 0; attempt < j.config.LockRetries; attempt++ {
		f, err := os.OpenFile(j.lockPath(), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if err == nil {
			fmt.Fprintf(f, "%d\n", os.Getpid())
			f.Close()
			return nil
		}
		if !os.IsExist(err) {
			return errors.JournalAppendFailed("failed to create journal lock file", err)
		}
		select {
		case <-ctx.Done():
			return errors.JournalAppendFailed("journal lock wait cancelled", ctx.Err())
		case <-time.After(j.config.LockRetryDelay):
		}
	}
	return errors.JournalAppendFailed("journal storage locked by another process", nil)
}

func (j *FileJournal) releaseFileLock() {
	if err := os.Remove(j.lockPath()); err != nil {
		j.logger.Error("Failed to remove journal lock file", zap.Error(err))
	}
}

// refresh scans forward from scanOffset, validating any records other
// processes appended since the last scan. With strict set (callers
// holding the file lock) an incomplete trailing line means a writer
// died mid-append and the journal is marked corrupted; without it the
// tail may be an append in flight and is ignored. Callers must hold
// j.mu.
func (j *FileJournal) refresh(strict bool) error {
	f, err := os.Open(j.journalPath())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errors.JournalAppendFailed("failed to open journal file", err)
	}
	defer f.Close()

	if _, err := f.Seek(j.scanOffset, 0); err != nil {
		return errors.JournalAppendFailed("failed to seek journal file", err)
	}

	data, err := readAll(f)
	if err != nil {
		return errors.JournalAppendFailed("failed to read journal file", err)
	}

	for len(data) > 0 {
		idx := bytes.IndexByte(data, '\n')
		if idx < 0 {
			// incomplete trailing line
			if strict {
				j.corrupted = true
				j.logger.Error("Partial journal record detected",
					zap.Uint64("after_revision", j.head))
				return errors.JournalCorrupted(j.head+1, nil)
			}
			return nil
		}

		line := data[:idx]
		record, err := decodeRecord(line, j.head+1)
		if err != nil {
			j.corrupted = true
			j.logger.Error("Invalid journal record detected",
				zap.Uint64("after_revision", j.head),
				zap.Error(err))
			return err
		}

		j.head = record.Revision
		j.scanOffset += int64(idx) + 1
		data = data[idx+1:]
	}
	return nil
}

// decodeRecord parses and validates one journal line. The record must
// carry the expected revision and a checksum matching its batch.
func decodeRecord(line []byte, expectedRevision uint64) (*model.JournalRecord, error) {
	var record model.JournalRecord
	if err := json.Unmarshal(line, &record); err != nil {
		return nil, errors.JournalCorrupted(expectedRevision, err)
	}
	if record.Revision != expectedRevision {
		return nil, errors.RevisionGap(expectedRevision, record.Revision)
	}
	batchData, err := json.Marshal(&record.Batch)
	if err != nil {
		return nil, errors.JournalCorrupted(record.Revision, err)
	}
	if !util.ValidateChecksum(batchData, record.Checksum) {
		return nil, errors.JournalCorrupted(record.Revision, nil)
	}
	return &record, nil
}

// Append assigns the next revision and durably writes the batch. The
// write happens under the cross-process file lock; any failure to
// lock, write or sync fails the append, and a partial write marks the
// journal corrupted.
func (j *FileJournal) Append(ctx context.Context, batch *model.ChangeBatch) (uint64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.corrupted {
		return 0, errors.JournalCorrupted(j.head+1, nil)
	}

	if err := j.acquireFileLock(ctx); err != nil {
		return 0, err
	}
	defer j.releaseFileLock()

	// pick up records appended by other processes since our last scan
	if err := j.refresh(true); err != nil {
		return 0, err
	}

	revision := j.head + 1
	batchData, err := json.Marshal(batch)
	if err != nil {
		return 0, errors.JournalAppendFailed("failed to marshal change batch", err)
	}

	record := &model.JournalRecord{
		Revision:  revision,
		Producer:  batch.Producer,
		Timestamp: time.Now().UnixNano(),
		Batch:     *batch,
		Checksum:  util.ComputeChecksum(batchData),
	}

	line, err := json.Marshal(record)
	if err != nil {
		return 0, errors.JournalAppendFailed("failed to marshal journal record", err)
	}
	line = append(line, '\n')

	f, err := os.OpenFile(j.journalPath(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return 0, errors.JournalAppendFailed("failed to open journal file", err)
	}
	defer f.Close()

	n, err := f.Write(line)
	if err != nil || n < len(line) {
		// the record may be partially on disk
		j.corrupted = true
		j.logger.Error("Journal append partially written",
			zap.Uint64("revision", revision),
			zap.Int("written", n),
			zap.Error(err))
		return 0, errors.JournalCorrupted(revision, err)
	}

	if j.config.SyncWrites {
		if err := f.Sync(); err != nil {
			// the write may still have landed; re-scan before treating
			// a readable record as a corrupt tail
			if rerr := j.refresh(true); rerr != nil {
				return 0, rerr
			}
			if j.head >= revision {
				// the record is in the journal and peers will replay
				// it, but its durability is unknown
				return 0, errors.JournalAppendFailed("journal fsync failed after write", err)
			}
			j.corrupted = true
			return 0, errors.JournalCorrupted(revision, err)
		}
	}

	j.head = revision
	j.scanOffset += int64(len(line))

	j.logger.Debug("Journal record appended",
		zap.Uint64("revision", revision),
		zap.String("producer", record.Producer))

	return revision, nil
}

// Records returns all validated records with revision > after. A
// complete line that fails validation ends the scan: the valid prefix
// is returned and the journal is marked corrupted so the sync service
// can repair the tail after consuming the prefix.
func (j *FileJournal) Records(after uint64) ([]*model.JournalRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	f, err := os.Open(j.journalPath())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.JournalAppendFailed("failed to open journal file", err)
	}
	defer f.Close()

	data, err := readAll(f)
	if err != nil {
		return nil, errors.JournalAppendFailed("failed to read journal file", err)
	}

	var out []*model.JournalRecord
	var expected uint64 = 1
	for len(data) > 0 {
		idx := bytes.IndexByte(data, '\n')
		if idx < 0 {
			break // append in flight or crashed writer; not ours to judge here
		}
		record, err := decodeRecord(data[:idx], expected)
		if err != nil {
			// a complete line is nobody's append in flight; the tail
			// is corrupt, but the prefix is still good to replay
			j.corrupted = true
			j.logger.Error("Invalid journal record detected",
				zap.Uint64("revision", expected),
				zap.Error(err))
			break
		}
		if record.Revision > after {
			out = append(out, record)
		}
		expected++
		data = data[idx+1:]
	}
	return out, nil
}

// HeadRevision returns the highest validated revision
func (j *FileJournal) HeadRevision() (uint64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.refresh(false); err != nil {
		return 0, err
	}
	return j.head, nil
}

// Corrupted reports whether a partial or invalid record has been
// detected
func (j *FileJournal) Corrupted() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.corrupted
}

// Repair truncates the journal just past the last valid record,
// discarding a corrupt tail, and clears the corrupted flag. Intended
// to be called by the sync service once the node re-synchronizes.
//
// The file is re-scanned from the start under the cross-process lock:
// only bytes that fail validation are discarded, never records that
// decode cleanly, however stale this instance's last scan position is.
func (j *FileJournal) Repair(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if !j.corrupted {
		return nil
	}

	if err := j.acquireFileLock(ctx); err != nil {
		return err
	}
	defer j.releaseFileLock()

	f, err := os.Open(j.journalPath())
	if os.IsNotExist(err) {
		j.head, j.scanOffset, j.corrupted = 0, 0, false
		return nil
	}
	if err != nil {
		return errors.JournalAppendFailed("failed to open journal file", err)
	}
	data, err := readAll(f)
	f.Close()
	if err != nil {
		return errors.JournalAppendFailed("failed to read journal file", err)
	}

	var head uint64
	var offset int64
	for len(data) > 0 {
		idx := bytes.IndexByte(data, '\n')
		if idx < 0 {
			break
		}
		record, err := decodeRecord(data[:idx], head+1)
		if err != nil {
			break
		}
		head = record.Revision
		offset += int64(idx) + 1
		data = data[idx+1:]
	}

	if err := os.Truncate(j.journalPath(), offset); err != nil {
		return errors.JournalAppendFailed("failed to truncate corrupt journal tail", err)
	}

	j.head = head
	j.scanOffset = offset
	j.corrupted = false
	j.logger.Warn("Journal repaired, corrupt tail discarded",
		zap.Uint64("head_revision", j.head),
		zap.Int64("offset", j.scanOffset))
	return nil
}

// Close releases journal resources
func (j *FileJournal) Close() error {
	return nil
}

// readAll reads the remainder of f
func readAll(f *os.File) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(f); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
