package index

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/downfa11-org/go-consumer/pkg/types"
	"github.com/downfa11-org/go-consumer/util"
	_ "modernc.org/sqlite" // pure Go sqlite driver
)

// OffsetIndex is the durable catalog of segment offset ranges, backed by a
// small SQLite database. Lookups go through the (start_offset, end_offset)
// B-tree index so cost is logarithmic in segment count.
type OffsetIndex struct {
	db           *sql.DB
	path         string
	consumerType string
}

// Open creates or opens the segment metadata database under dataDir.
func Open(dataDir, consumerType string) (*OffsetIndex, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory %s: %w", dataDir, err)
	}

	dbPath := filepath.Join(dataDir, "segment-metadata.db")
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open segment metadata db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			util.Warn("pragma %q not applied: %v", p, err)
		}
	}

	idx := &OffsetIndex{db: db, path: dbPath, consumerType: consumerType}
	if err := idx.initSchema(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			util.Error("failed to close metadata db: %v", closeErr)
		}
		return nil, err
	}

	util.Info("[%s] segment metadata index initialized: %s", consumerType, dbPath)
	return idx, nil
}

func (idx *OffsetIndex) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS segment_ranges (
			segment_id   INTEGER PRIMARY KEY,
			segment_file TEXT NOT NULL,
			start_offset INTEGER NOT NULL,
			end_offset   INTEGER NOT NULL,
			record_count INTEGER NOT NULL,
			created_at   TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE INDEX IF NOT EXISTS idx_offset_lookup
			ON segment_ranges(start_offset, end_offset);`,
	}
	for _, s := range stmts {
		if _, err := idx.db.Exec(s); err != nil {
			return fmt.Errorf("failed to initialize index schema: %w", err)
		}
	}
	return nil
}

// Upsert inserts or replaces the range entry for a segment. Used both for
// first-time finalize and for correcting the open segment's range on flush.
func (idx *OffsetIndex) Upsert(entry types.SegmentEntry) error {
	_, err := idx.db.Exec(`
		INSERT OR REPLACE INTO segment_ranges
		(segment_id, segment_file, start_offset, end_offset, record_count)
		VALUES (?, ?, ?, ?, ?)`,
		entry.SegmentID, entry.SegmentFile, entry.StartOffset, entry.EndOffset, entry.RecordCount)
	if err != nil {
		return fmt.Errorf("failed to upsert segment %d: %w", entry.SegmentID, err)
	}

	util.Info("[%s] registered segment: id=%d, file=%s, range=[%d, %d], records=%d",
		idx.consumerType, entry.SegmentID, entry.SegmentFile, entry.StartOffset, entry.EndOffset, entry.RecordCount)
	return nil
}

// FindByOffset returns the entry whose range contains the offset, or
// (nil, nil) when no segment covers it. Not-found is a normal outcome for
// offsets beyond the high-water mark.
func (idx *OffsetIndex) FindByOffset(offset uint64) (*types.SegmentEntry, error) {
	row := idx.db.QueryRow(`
		SELECT segment_id, segment_file, start_offset, end_offset, record_count
		FROM segment_ranges
		WHERE start_offset <= ? AND end_offset >= ?
		LIMIT 1`, offset, offset)

	var entry types.SegmentEntry
	err := row.Scan(&entry.SegmentID, &entry.SegmentFile, &entry.StartOffset, &entry.EndOffset, &entry.RecordCount)
	if err == sql.ErrNoRows {
		util.Debug("[%s] no segment found for offset %d", idx.consumerType, offset)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("offset lookup failed for %d: %w", offset, err)
	}
	return &entry, nil
}

// ListAll returns every entry ordered by segment id.
func (idx *OffsetIndex) ListAll() ([]types.SegmentEntry, error) {
	rows, err := idx.db.Query(`
		SELECT segment_id, segment_file, start_offset, end_offset, record_count
		FROM segment_ranges ORDER BY segment_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list segments: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			util.Error("failed to close rows: %v", err)
		}
	}()

	var entries []types.SegmentEntry
	for rows.Next() {
		var entry types.SegmentEntry
		if err := rows.Scan(&entry.SegmentID, &entry.SegmentFile, &entry.StartOffset, &entry.EndOffset, &entry.RecordCount); err != nil {
			return nil, fmt.Errorf("failed to scan segment row: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// CurrentMaxOffset returns the highest end offset across all entries, or 0
// when the index is empty. Used to compute the next write position on restart.
func (idx *OffsetIndex) CurrentMaxOffset() (uint64, error) {
	var max sql.NullInt64
	err := idx.db.QueryRow(`SELECT MAX(end_offset) FROM segment_ranges`).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("failed to read max offset: %w", err)
	}
	if !max.Valid {
		return 0, nil
	}
	return uint64(max.Int64), nil
}

// Clear deletes all entries and vacuums the database so the file stays tiny.
// Only used during RESET.
func (idx *OffsetIndex) Clear() error {
	if _, err := idx.db.Exec(`DELETE FROM segment_ranges`); err != nil {
		return fmt.Errorf("failed to clear segment metadata: %w", err)
	}
	if _, err := idx.db.Exec(`VACUUM`); err != nil {
		return fmt.Errorf("failed to vacuum metadata db: %w", err)
	}

	util.Info("[%s] cleared all segment metadata", idx.consumerType)
	return nil
}

// SizeBytes reports the actual on-disk footprint of the index database. Under
// WAL journaling unflushed pages live in the -wal sibling, so both files count.
func (idx *OffsetIndex) SizeBytes() int64 {
	var size int64
	for _, path := range []string{idx.path, idx.path + "-wal"} {
		info, err := os.Stat(path)
		if err != nil {
			if !os.IsNotExist(err) {
				util.Warn("failed to stat %s: %v", path, err)
			}
			continue
		}
		size += info.Size()
	}
	return size
}

// Stats aggregates the index state in one query.
func (idx *OffsetIndex) Stats() (types.SegmentStats, error) {
	var stats types.SegmentStats
	err := idx.db.QueryRow(`
		SELECT
			COUNT(*),
			COALESCE(SUM(record_count), 0),
			COALESCE(MIN(start_offset), 0),
			COALESCE(MAX(end_offset), 0)
		FROM segment_ranges`).Scan(&stats.SegmentCount, &stats.TotalRecords, &stats.MinOffset, &stats.MaxOffset)
	if err != nil {
		return types.SegmentStats{}, fmt.Errorf("failed to read index stats: %w", err)
	}
	stats.IndexBytes = idx.SizeBytes()
	return stats, nil
}

// Close releases the database handle.
func (idx *OffsetIndex) Close() error {
	return idx.db.Close()
}
