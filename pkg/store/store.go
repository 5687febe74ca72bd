package store

import (
	"errors"
	"fmt"
	"sync"

	"github.com/downfa11-org/go-consumer/pkg/disk"
	"github.com/downfa11-org/go-consumer/pkg/index"
	"github.com/downfa11-org/go-consumer/pkg/metrics"
	"github.com/downfa11-org/go-consumer/pkg/types"
	"github.com/downfa11-org/go-consumer/util"
)

// ErrOffsetNotFound is the normal empty result for offsets no segment owns.
var ErrOffsetNotFound = errors.New("no record found at offset")

// cursor tracks the open segment. Owned exclusively by the Store and only
// mutated while the write lock is held.
type cursor struct {
	segmentID   uint64
	startOffset uint64
	recordCount uint64
}

// Store is the segmented log writer: it appends records through the disk
// engine, finalizes segments into the offset index when the cursor crosses a
// capacity boundary, and serves index-directed point reads.
//
// Writes (Append, FlushCurrentSegment, ClearAllData) hold the write lock so
// the finalize-then-advance sequence and destructive clears are atomic with
// respect to each other; reads take the shared lock and may run concurrently.
type Store struct {
	engine       *disk.Engine
	idx          *index.OffsetIndex
	consumerType string
	capacity     uint64

	mu     sync.RWMutex
	cursor cursor
}

// NewStore wires the writer and reconciles the offset index with the engine's
// physically recovered write position.
func NewStore(engine *disk.Engine, idx *index.OffsetIndex, consumerType string, capacity uint64) (*Store, error) {
	if capacity == 0 {
		return nil, errors.New("segment capacity must be positive")
	}
	s := &Store{
		engine:       engine,
		idx:          idx,
		consumerType: consumerType,
		capacity:     capacity,
	}
	if err := s.recover(); err != nil {
		return nil, err
	}
	return s, nil
}

// recover trusts the engine's physically recovered write position: records
// appended after the last catalog write survive a crash in the segment files,
// so resuming from the catalog's high-water mark would desync offsets from
// file positions and serve the wrong record for live offsets.
func (s *Store) recover() error {
	next := s.engine.NextOffset()
	if next == 0 {
		return nil
	}

	stats, err := s.idx.Stats()
	if err != nil {
		return fmt.Errorf("failed to recover from index: %w", err)
	}

	openSegment := next / s.capacity

	// Re-register any full segments the catalog lost in the crash. Upsert is
	// keyed by segment id, so touching a known segment is harmless.
	firstUnknown := uint64(0)
	if stats.SegmentCount > 0 {
		firstUnknown = (stats.MaxOffset + 1) / s.capacity
	}
	for seg := firstUnknown; seg < openSegment; seg++ {
		base := seg * s.capacity
		entry := types.SegmentEntry{
			SegmentID:   seg,
			SegmentFile: s.engine.SegmentFile(seg),
			StartOffset: base,
			EndOffset:   base + s.capacity - 1,
			RecordCount: s.capacity,
		}
		if err := s.idx.Upsert(entry); err != nil {
			return fmt.Errorf("failed to re-register segment %d: %w", seg, err)
		}
	}

	base := openSegment * s.capacity
	s.cursor = cursor{segmentID: openSegment, startOffset: base, recordCount: next - base}

	util.Info("[%s] recovered write position: next offset %d, open segment %d (%d records)",
		s.consumerType, next, openSegment, s.cursor.recordCount)
	return nil
}

// Append stores one record and returns its offset. When the assigned offset
// crosses into a new segment the previous segment is finalized into the index
// before the cursor advances.
func (s *Store) Append(rec *types.Record) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	offset, err := s.engine.Append(rec)
	if err != nil {
		return 0, fmt.Errorf("append failed: %w", err)
	}

	segmentID := offset / s.capacity
	if segmentID > s.cursor.segmentID {
		if err := s.finalizeLocked(offset - 1); err != nil {
			return 0, err
		}
		s.cursor = cursor{segmentID: segmentID, startOffset: offset, recordCount: 1}
	} else {
		s.cursor.recordCount++
	}

	metrics.RecordsStored.Inc()
	util.Debug("[%s] stored: offset=%d, segment=%d, key=%s",
		s.consumerType, offset, s.cursor.segmentID, rec.MsgKey)
	return offset, nil
}

// finalizeLocked registers the cursor's segment with its closing end offset.
func (s *Store) finalizeLocked(endOffset uint64) error {
	entry := types.SegmentEntry{
		SegmentID:   s.cursor.segmentID,
		SegmentFile: s.engine.SegmentFile(s.cursor.segmentID),
		StartOffset: s.cursor.startOffset,
		EndOffset:   endOffset,
		RecordCount: s.cursor.recordCount,
	}
	if err := s.idx.Upsert(entry); err != nil {
		return fmt.Errorf("failed to finalize segment %d: %w", entry.SegmentID, err)
	}

	metrics.SegmentsFinalized.Inc()
	util.Info("[%s] finalized segment %d: offsets [%d, %d], %d records",
		s.consumerType, entry.SegmentID, entry.StartOffset, entry.EndOffset, entry.RecordCount)
	return nil
}

// FindByOffset locates the owning segment through the index and performs a
// single physical read. An index miss for an offset still inside the open
// (not yet flushed) segment is answered from the cursor's segment; anything
// else yields ErrOffsetNotFound without scanning.
func (s *Store) FindByOffset(offset uint64) (*types.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, err := s.idx.FindByOffset(offset)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		if s.cursor.recordCount == 0 || offset/s.capacity != s.cursor.segmentID || offset < s.cursor.startOffset {
			return nil, ErrOffsetNotFound
		}
	}

	records, err := s.engine.Read(offset, 1)
	if err != nil {
		if errors.Is(err, disk.ErrOffsetOutOfRange) {
			return nil, ErrOffsetNotFound
		}
		return nil, err
	}
	return records[0], nil
}

// FlushCurrentSegment upserts the open segment's live range into the index
// without closing it. The end offset comes from the engine's physical write
// position, not the cursor. Idempotent; a no-op when the segment is empty.
func (s *Store) FlushCurrentSegment() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cursor.recordCount == 0 {
		return nil
	}
	return s.finalizeLocked(s.engine.CurrentOffset())
}

// ClearAllData deletes every segment file and all index entries, then resets
// the cursor so the next append starts a fresh segment 0 at offset 0. Readers
// are excluded for the whole operation, so no torn state is observable.
func (s *Store) ClearAllData() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.idx.Clear(); err != nil {
		return err
	}
	if err := s.engine.DeleteAll(); err != nil {
		return err
	}
	s.cursor = cursor{}

	util.Info("[%s] RESET: cleared all segments and metadata", s.consumerType)
	return nil
}

// Stats returns the aggregate index view.
func (s *Store) Stats() (types.SegmentStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.idx.Stats()
}

// ListSegments returns all index entries ordered by segment id.
func (s *Store) ListSegments() ([]types.SegmentEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.idx.ListAll()
}

// Close flushes the open segment's metadata and releases the engine and the
// index. Called once on shutdown.
func (s *Store) Close() error {
	if err := s.FlushCurrentSegment(); err != nil {
		util.Error("[%s] flush on close failed: %v", s.consumerType, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.engine.Close(); err != nil {
		return err
	}
	return s.idx.Close()
}
