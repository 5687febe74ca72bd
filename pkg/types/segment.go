package types

// SegmentEntry is the durable index row for one segment: a closed segment once
// finalized, or the open segment after an explicit flush. Entries never
// overlap and are ordered by StartOffset.
type SegmentEntry struct {
	SegmentID   uint64
	SegmentFile string
	StartOffset uint64
	EndOffset   uint64 // inclusive
	RecordCount uint64
}

// SegmentStats aggregates the index state for diagnostics and the query API.
type SegmentStats struct {
	SegmentCount int
	TotalRecords uint64
	MinOffset    uint64
	MaxOffset    uint64
	IndexBytes   int64
}
