package disk

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/downfa11-org/go-consumer/util"
)

// Each record has a fixed-width entry in its segment's position index:
// [offset u64][byte position u64], big-endian. Offsets within a segment are
// contiguous, so the entry for an offset sits at (offset-base)*indexEntrySize.
const indexEntrySize = 16

// IndexFile returns the position index file name for a segment id.
func (e *Engine) IndexFile(segmentID uint64) string {
	return fmt.Sprintf("%s%019d.index", segmentFilePrefix, segmentID*e.capacity)
}

// IndexPath returns the absolute path of a segment's position index file.
func (e *Engine) IndexPath(segmentID uint64) string {
	return filepath.Join(e.baseDir, e.IndexFile(segmentID))
}

// openIndexFileLocked opens a segment's position index for appending,
// truncating any torn partial entry left by an abrupt stop.
func (e *Engine) openIndexFileLocked(segmentID uint64) (*os.File, error) {
	path := e.IndexPath(segmentID)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open position index for segment %d: %w", segmentID, err)
	}

	info, err := f.Stat()
	if err != nil {
		if closeErr := f.Close(); closeErr != nil {
			util.Error("failed to close position index: %v", closeErr)
		}
		return nil, fmt.Errorf("failed to stat position index: %w", err)
	}
	if torn := info.Size() % indexEntrySize; torn != 0 {
		util.Warn("truncating torn position index tail: %s (%d bytes)", filepath.Base(path), torn)
		if err := f.Truncate(info.Size() - torn); err != nil {
			if closeErr := f.Close(); closeErr != nil {
				util.Error("failed to close position index: %v", closeErr)
			}
			return nil, fmt.Errorf("failed to truncate position index: %w", err)
		}
	}
	return f, nil
}

// appendIndexEntryLocked records the byte position of one offset's frame.
func (e *Engine) appendIndexEntryLocked(offset, position uint64) error {
	var buf [indexEntrySize]byte
	binary.BigEndian.PutUint64(buf[0:8], offset)
	binary.BigEndian.PutUint64(buf[8:16], position)
	if _, err := e.indexWriter.Write(buf[:]); err != nil {
		return fmt.Errorf("failed to write position index entry: %w", err)
	}
	if err := e.indexWriter.Flush(); err != nil {
		return fmt.Errorf("failed to flush position index: %w", err)
	}
	return nil
}

// recoverNextOffset derives the write position from the newest segment's
// position index. The segment file itself may carry a torn tail past the last
// indexed entry; those bytes are unreachable since all reads are
// index-directed, and the next append lands after them with a correct entry.
func (e *Engine) recoverNextOffset() (uint64, error) {
	entries, err := os.ReadDir(e.baseDir)
	if err != nil {
		return 0, fmt.Errorf("failed to list partition directory: %w", err)
	}

	type indexRef struct {
		base uint64
		name string
	}
	var refs []indexRef
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, segmentFilePrefix) || !strings.HasSuffix(name, ".index") {
			continue
		}
		raw := strings.TrimSuffix(strings.TrimPrefix(name, segmentFilePrefix), ".index")
		base, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			util.Warn("skipping unparseable position index file: %s", name)
			continue
		}
		refs = append(refs, indexRef{base: base, name: name})
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].base > refs[j].base })

	// Newest segment first; an empty index file falls through to the one below.
	for _, ref := range refs {
		last, ok, err := lastIndexedOffset(filepath.Join(e.baseDir, ref.name))
		if err != nil {
			return 0, err
		}
		if ok {
			return last + 1, nil
		}
	}
	return 0, nil
}

// lastIndexedOffset reads the final complete entry of a position index file.
func lastIndexedOffset(path string) (uint64, bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, false, fmt.Errorf("failed to stat position index %s: %w", path, err)
	}
	valid := info.Size() - info.Size()%indexEntrySize
	if valid == 0 {
		return 0, false, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return 0, false, fmt.Errorf("failed to open position index %s: %w", path, err)
	}
	defer func() {
		if err := f.Close(); err != nil {
			util.Error("failed to close position index: %v", err)
		}
	}()

	buf := make([]byte, indexEntrySize)
	if _, err := f.ReadAt(buf, valid-indexEntrySize); err != nil {
		return 0, false, fmt.Errorf("failed to read position index %s: %w", path, err)
	}
	return binary.BigEndian.Uint64(buf[0:8]), true, nil
}
