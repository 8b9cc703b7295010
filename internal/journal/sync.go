package journal

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/treestore-io/treestore/internal/errors"
	"github.com/treestore-io/treestore/internal/model"
	"github.com/treestore-io/treestore/internal/storage"
	"go.uber.org/zap"
)

const cursorFileName = "revision"

// SyncConfig holds sync service configuration
type SyncConfig struct {
	NodeID    string
	SyncDelay time.Duration
	StopDelay time.Duration // grace period for in-flight passes at shutdown
	CursorDir string        // directory holding this node's revision cursor file
}

// SyncService keeps the local node up to date with the journal. It
// replays records past the local cursor, in strict revision order,
// into the local persistence manager. Records this node produced are
// replayed through the same path: the journal is the only route by
// which committed state reaches storage, so every instance applies
// the identical sequence. The replay position survives restarts in a
// cursor file.
//
// When replay cannot proceed (revision gap, corrupt record, storage
// failure) the node marks itself unsynchronized; the commit processor
// refuses local commits until a later pass succeeds.
type SyncService struct {
	config  *SyncConfig
	journal Journal
	store   storage.PersistenceManager
	logger  *zap.Logger

	mu        sync.Mutex // serializes sync passes
	cursor    uint64     // last consumed revision
	unsynced  atomic.Bool
	listeners []func(*model.JournalRecord)

	stopChan chan struct{}
	kickChan chan struct{}
	wg       sync.WaitGroup
}

// NewSyncService creates a sync service and loads the persisted
// revision cursor
func NewSyncService(
	cfg *SyncConfig,
	jnl Journal,
	store storage.PersistenceManager,
	logger *zap.Logger,
) (*SyncService, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SyncDelay <= 0 {
		cfg.SyncDelay = 5 * time.Second
	}
	if cfg.StopDelay <= 0 {
		cfg.StopDelay = 10 * cfg.SyncDelay
	}
	if err := os.MkdirAll(cfg.CursorDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cursor directory: %w", err)
	}

	s := &SyncService{
		config:   cfg,
		journal:  jnl,
		store:    store,
		logger:   logger,
		stopChan: make(chan struct{}),
		kickChan: make(chan struct{}, 1),
	}

	if err := s.loadCursor(); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *SyncService) cursorPath() string {
	return filepath.Join(s.config.CursorDir, cursorFileName)
}

func (s *SyncService) loadCursor() error {
	data, err := os.ReadFile(s.cursorPath())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read revision cursor: %w", err)
	}
	cursor, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid revision cursor: %w", err)
	}
	s.cursor = cursor
	return nil
}

// saveCursor persists the current replay position. A write failure is
// logged but does not stop replay: batches re-applied after a restart
// are deterministic.
func (s *SyncService) saveCursor() {
	data := []byte(strconv.FormatUint(s.cursor, 10) + "\n")
	if err := os.WriteFile(s.cursorPath(), data, 0644); err != nil {
		s.logger.Error("Failed to persist revision cursor", zap.Error(err))
	}
}

// OnApply registers a listener invoked for every record applied by
// Sync, e.g. to invalidate in-memory caches. Must be called before
// Start.
func (s *SyncService) OnApply(fn func(*model.JournalRecord)) {
	s.listeners = append(s.listeners, fn)
}

// Start begins the periodic sync loop
func (s *SyncService) Start() {
	s.wg.Add(1)
	go s.syncLoop()

	s.logger.Info("Sync service started",
		zap.String("cluster_node_id", s.config.NodeID),
		zap.Duration("sync_delay", s.config.SyncDelay),
		zap.Duration("stop_delay", s.config.StopDelay))
}

// Stop terminates the sync loop, allowing an in-flight pass up to the
// configured stop delay to finish
func (s *SyncService) Stop() {
	close(s.stopChan)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(s.config.StopDelay):
		s.logger.Warn("Sync service stop delay elapsed with a pass still in flight",
			zap.Duration("stop_delay", s.config.StopDelay))
	}
}

// Kick schedules an immediate sync pass, coalescing with any pending
// kick. Used when gossip reports a peer ahead of us.
func (s *SyncService) Kick() {
	select {
	case s.kickChan <- struct{}{}:
	default:
	}
}

func (s *SyncService) syncLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.SyncDelay)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
		case <-s.kickChan:
		}

		if err := s.Sync(context.Background()); err != nil {
			s.logger.Error("Sync pass failed", zap.Error(err))
		}
	}
}

// Sync replays all journal records past the local cursor, in strict
// revision order
func (s *SyncService) Sync(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.journal.Records(s.cursor)
	if err != nil {
		s.unsynced.Store(true)
		return err
	}

	applied := 0
	for _, record := range records {
		if err := ctx.Err(); err != nil {
			return err
		}
		if record.Revision != s.cursor+1 {
			s.unsynced.Store(true)
			return errors.RevisionGap(s.cursor+1, record.Revision)
		}

		if err := s.store.ApplyBatch(&record.Batch); err != nil {
			// stop here: applying later records first would violate
			// the global order
			s.unsynced.Store(true)
			return fmt.Errorf("failed to apply journal record %d: %w", record.Revision, err)
		}
		for _, fn := range s.listeners {
			fn(record)
		}
		applied++

		s.cursor = record.Revision
		s.saveCursor()
	}

	// a corrupt tail left by a crashed writer can be discarded once
	// every valid record is consumed
	if fj, ok := s.journal.(*FileJournal); ok && fj.Corrupted() {
		if err := fj.Repair(ctx); err != nil {
			s.unsynced.Store(true)
			return err
		}
	}

	s.unsynced.Store(false)

	if applied > 0 {
		s.logger.Info("Sync pass applied records",
			zap.Int("applied", applied),
			zap.Uint64("revision", s.cursor))
	}
	return nil
}

// Unsynchronized reports whether the node must refuse local commits
// until a sync pass succeeds
func (s *SyncService) Unsynchronized() bool {
	return s.unsynced.Load()
}

// MarkUnsynchronized flags the node after a journal corruption was
// detected outside the sync path (e.g. during a commit append)
func (s *SyncService) MarkUnsynchronized() {
	s.unsynced.Store(true)
}

// LocalRevision returns the last journal revision this node consumed
func (s *SyncService) LocalRevision() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}
