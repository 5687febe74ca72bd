package disk

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/downfa11-org/go-consumer/pkg/types"
	"github.com/downfa11-org/go-consumer/util"
	"golang.org/x/exp/mmap"
)

// ErrOffsetOutOfRange is returned when a read targets an offset that has not
// been written. Not a failure: callers treat it as an empty result.
var ErrOffsetOutOfRange = errors.New("offset out of range")

const segmentFilePrefix = "segment-"

// Engine persists the record stream of one topic/partition into fixed-capacity
// segment files. Offsets are assigned sequentially on append with no gaps, so
// the segment owning an offset is always floor(offset/capacity). Each segment
// has a companion position index file that maps offsets to byte positions;
// reads and restart recovery go through it, never through a file scan.
type Engine struct {
	baseDir   string
	topic     string
	partition int
	capacity  uint64 // records per segment

	mu          sync.Mutex // metadata (nextOffset, openSegment), file handles
	nextOffset  uint64
	segment     uint64 // segment id of the open files, valid while file != nil
	writePos    uint64 // byte position of the next frame in the open segment
	file        *os.File
	writer      *bufio.Writer
	indexFile   *os.File
	indexWriter *bufio.Writer
}

// NewEngine creates the partition directory and recovers the write position
// from the newest segment's position index.
func NewEngine(dataDir, topic string, partition int, capacity uint64) (*Engine, error) {
	if capacity == 0 {
		return nil, errors.New("segment capacity must be positive")
	}
	baseDir := filepath.Join(dataDir, topic, fmt.Sprintf("partition-%d", partition))
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create partition directory %s: %w", baseDir, err)
	}

	e := &Engine{
		baseDir:   baseDir,
		topic:     topic,
		partition: partition,
		capacity:  capacity,
	}

	next, err := e.recoverNextOffset()
	if err != nil {
		return nil, err
	}
	e.nextOffset = next
	if next > 0 {
		util.Info("recovered write position for %s/partition-%d: next offset %d", topic, partition, next)
	}
	return e, nil
}

// SegmentFile returns the deterministic file name for a segment id: the
// segment's base offset zero-padded to a fixed width.
func (e *Engine) SegmentFile(segmentID uint64) string {
	return fmt.Sprintf("%s%019d.log", segmentFilePrefix, segmentID*e.capacity)
}

// SegmentPath returns the absolute path of a segment file.
func (e *Engine) SegmentPath(segmentID uint64) string {
	return filepath.Join(e.baseDir, e.SegmentFile(segmentID))
}

// Append persists one record and returns its assigned offset. Offsets are
// monotonic and gap-free; the record lands in segment floor(offset/capacity).
// The record's frame is flushed before its position index entry, so an index
// entry never points at unwritten data.
func (e *Engine) Append(rec *types.Record) (uint64, error) {
	data, err := util.EncodeRecord(rec)
	if err != nil {
		return 0, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	offset := e.nextOffset
	segmentID := offset / e.capacity

	if e.file == nil || e.segment != segmentID {
		if err := e.openSegmentLocked(segmentID); err != nil {
			return 0, err
		}
	}

	position := e.writePos

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(data)))
	if _, err := e.writer.Write(lenBuf[:]); err != nil {
		return 0, fmt.Errorf("failed to write record length: %w", err)
	}
	if _, err := e.writer.Write(data); err != nil {
		return 0, fmt.Errorf("failed to write record data: %w", err)
	}
	if err := e.writer.Flush(); err != nil {
		return 0, fmt.Errorf("failed to flush segment writer: %w", err)
	}
	e.writePos += uint64(4 + len(data))

	if err := e.appendIndexEntryLocked(offset, position); err != nil {
		return 0, err
	}

	e.nextOffset = offset + 1
	return offset, nil
}

// NextOffset returns the offset the next append will be assigned.
func (e *Engine) NextOffset() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.nextOffset
}

// CurrentOffset returns the last assigned offset, or 0 when nothing has been
// appended yet.
func (e *Engine) CurrentOffset() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.nextOffset == 0 {
		return 0
	}
	return e.nextOffset - 1
}

func (e *Engine) openSegmentLocked(segmentID uint64) error {
	if err := e.closeLocked(); err != nil {
		return err
	}

	f, err := os.OpenFile(e.SegmentPath(segmentID), os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open segment %d: %w", segmentID, err)
	}
	info, err := f.Stat()
	if err != nil {
		if closeErr := f.Close(); closeErr != nil {
			util.Error("failed to close segment file: %v", closeErr)
		}
		return fmt.Errorf("failed to stat segment %d: %w", segmentID, err)
	}

	idxFile, err := e.openIndexFileLocked(segmentID)
	if err != nil {
		if closeErr := f.Close(); closeErr != nil {
			util.Error("failed to close segment file: %v", closeErr)
		}
		return err
	}

	e.file = f
	e.writer = bufio.NewWriter(f)
	e.writePos = uint64(info.Size())
	e.indexFile = idxFile
	e.indexWriter = bufio.NewWriter(idxFile)
	e.segment = segmentID

	adviseSequential(f)
	return nil
}

// Read returns up to max records starting at offset, never crossing the
// segment boundary. Each offset is resolved to its byte position through the
// segment's position index, then read via mmap; offsets beyond the written
// range yield ErrOffsetOutOfRange.
func (e *Engine) Read(offset uint64, max int) ([]*types.Record, error) {
	e.mu.Lock()
	if offset >= e.nextOffset {
		e.mu.Unlock()
		return nil, ErrOffsetOutOfRange
	}
	limit := e.nextOffset
	e.mu.Unlock()

	segmentID := offset / e.capacity
	idxReader, err := os.Open(e.IndexPath(segmentID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrOffsetOutOfRange
		}
		return nil, fmt.Errorf("open position index failed: %w", err)
	}
	defer func() {
		if err := idxReader.Close(); err != nil {
			util.Error("failed to close position index: %v", err)
		}
	}()
	idxInfo, err := idxReader.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat position index failed: %w", err)
	}
	indexedEntries := uint64(idxInfo.Size()) / indexEntrySize

	reader, err := mmap.Open(e.SegmentPath(segmentID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrOffsetOutOfRange
		}
		return nil, fmt.Errorf("mmap open failed: %w", err)
	}
	defer func() {
		if err := reader.Close(); err != nil {
			util.Error("failed to close mmap reader: %v", err)
		}
	}()

	baseOffset := segmentID * e.capacity
	segmentEnd := baseOffset + e.capacity
	if segmentEnd > limit {
		segmentEnd = limit
	}

	var records []*types.Record
	entryBuf := make([]byte, indexEntrySize)
	lenBuf := make([]byte, 4)
	for cur := offset; cur < segmentEnd && len(records) < max; cur++ {
		entry := cur - baseOffset
		if entry >= indexedEntries {
			break
		}
		if _, err := idxReader.ReadAt(entryBuf, int64(entry*indexEntrySize)); err != nil {
			return nil, fmt.Errorf("read position index entry failed: %w", err)
		}
		entryOffset := binary.BigEndian.Uint64(entryBuf[0:8])
		position := int(binary.BigEndian.Uint64(entryBuf[8:16]))
		if entryOffset != cur {
			return nil, fmt.Errorf("position index corrupt: entry %d holds offset %d, want %d", entry, entryOffset, cur)
		}

		if position+4 > reader.Len() {
			return nil, fmt.Errorf("position index corrupt: offset %d points past segment end", cur)
		}
		if _, err := reader.ReadAt(lenBuf, int64(position)); err != nil {
			return nil, fmt.Errorf("read record length failed: %w", err)
		}
		recLen := int(binary.BigEndian.Uint32(lenBuf))
		if position+4+recLen > reader.Len() {
			return nil, fmt.Errorf("position index corrupt: record at offset %d truncated", cur)
		}

		data := make([]byte, recLen)
		if _, err := reader.ReadAt(data, int64(position+4)); err != nil {
			return nil, fmt.Errorf("read record data failed: %w", err)
		}

		rec, err := util.DecodeRecord(data)
		if err != nil {
			return nil, fmt.Errorf("decode record at offset %d failed: %w", cur, err)
		}
		rec.Offset = cur
		records = append(records, rec)
	}

	if len(records) == 0 {
		return nil, ErrOffsetOutOfRange
	}
	return records, nil
}

// DeleteAll removes every segment and position index file of this partition
// and resets the offset counter to 0. The caller is responsible for
// serializing this against readers.
func (e *Engine) DeleteAll() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.closeLocked(); err != nil {
		return err
	}

	entries, err := os.ReadDir(e.baseDir)
	if err != nil {
		return fmt.Errorf("failed to list partition directory: %w", err)
	}

	deleted := 0
	for _, entry := range entries {
		if !strings.HasPrefix(entry.Name(), segmentFilePrefix) {
			continue
		}
		if err := os.Remove(filepath.Join(e.baseDir, entry.Name())); err != nil {
			return fmt.Errorf("failed to delete segment file %s: %w", entry.Name(), err)
		}
		util.Debug("deleted segment file: %s", entry.Name())
		deleted++
	}

	e.nextOffset = 0
	util.Info("deleted %d segment files for %s/partition-%d", deleted, e.topic, e.partition)
	return nil
}

// Close flushes and releases the open segment and index files.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closeLocked()
}

func (e *Engine) closeLocked() error {
	if e.file == nil {
		return nil
	}
	if err := e.writer.Flush(); err != nil {
		return fmt.Errorf("flush segment writer failed: %w", err)
	}
	if err := e.indexWriter.Flush(); err != nil {
		return fmt.Errorf("flush position index failed: %w", err)
	}
	if err := e.file.Sync(); err != nil {
		return fmt.Errorf("sync segment file failed: %w", err)
	}
	if err := e.indexFile.Sync(); err != nil {
		return fmt.Errorf("sync position index failed: %w", err)
	}
	if err := e.file.Close(); err != nil {
		return fmt.Errorf("close segment file failed: %w", err)
	}
	if err := e.indexFile.Close(); err != nil {
		return fmt.Errorf("close position index failed: %w", err)
	}
	e.file = nil
	e.writer = nil
	e.indexFile = nil
	e.indexWriter = nil
	return nil
}
