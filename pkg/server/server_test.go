package server_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/downfa11-org/go-consumer/pkg/server"
	"github.com/downfa11-org/go-consumer/pkg/store"
	"github.com/downfa11-org/go-consumer/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubReader serves canned store state to the handlers.
type stubReader struct {
	records  map[uint64]*types.Record
	stats    types.SegmentStats
	segments []types.SegmentEntry
	statsErr error
}

func (s *stubReader) FindByOffset(offset uint64) (*types.Record, error) {
	rec, ok := s.records[offset]
	if !ok {
		return nil, fmt.Errorf("offset %d: %w", offset, store.ErrOffsetNotFound)
	}
	return rec, nil
}

func (s *stubReader) Stats() (types.SegmentStats, error) {
	return s.stats, s.statsErr
}

func (s *stubReader) ListSegments() ([]types.SegmentEntry, error) {
	return s.segments, nil
}

func newTestServer(t *testing.T, reader *stubReader) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(server.NewQueryServer(0, reader).Handler())
	t.Cleanup(ts.Close)
	return ts
}

func getJSON(t *testing.T, url string, wantStatus int) map[string]any {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer func() {
		require.NoError(t, resp.Body.Close())
	}()

	require.Equal(t, wantStatus, resp.StatusCode)
	require.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func TestQueryServer_FindByOffset(t *testing.T) {
	createdAt := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	ts := newTestServer(t, &stubReader{
		records: map[uint64]*types.Record{
			4: {
				Offset:    4,
				MsgKey:    "product-1001",
				EventType: types.EventMessage,
				Data:      []byte(`{"price":19900}`),
				CreatedAt: createdAt,
			},
		},
	})

	body := getJSON(t, ts.URL+"/api/query/offset/4", http.StatusOK)
	assert.Equal(t, float64(4), body["offset"])
	assert.Equal(t, "product-1001", body["msgKey"])
	assert.Equal(t, "MESSAGE", body["eventType"])
	assert.Equal(t, `{"price":19900}`, body["data"])
	assert.Equal(t, createdAt.Format(time.RFC3339Nano), body["createdAt"])
}

func TestQueryServer_FindByOffsetNotFound(t *testing.T) {
	ts := newTestServer(t, &stubReader{})

	body := getJSON(t, ts.URL+"/api/query/offset/12345", http.StatusNotFound)
	assert.Equal(t, "No message found at offset 12345", body["error"])
}

func TestQueryServer_FindByOffsetRejectsNonNumeric(t *testing.T) {
	ts := newTestServer(t, &stubReader{})

	body := getJSON(t, ts.URL+"/api/query/offset/abc", http.StatusNotFound)
	assert.Contains(t, body["error"], "invalid offset")
}

func TestQueryServer_Stats(t *testing.T) {
	ts := newTestServer(t, &stubReader{
		stats: types.SegmentStats{
			SegmentCount: 3,
			TotalRecords: 2500,
			MinOffset:    0,
			MaxOffset:    2499,
			IndexBytes:   4096,
		},
	})

	body := getJSON(t, ts.URL+"/api/query/stats", http.StatusOK)
	assert.Equal(t, float64(3), body["segmentCount"])
	assert.Equal(t, float64(2500), body["totalRecords"])

	offsetRange := body["offsetRange"].(map[string]any)
	assert.Equal(t, float64(0), offsetRange["min"])
	assert.Equal(t, float64(2499), offsetRange["max"])

	indexSize := body["indexSize"].(map[string]any)
	assert.Equal(t, float64(4096), indexSize["bytes"])
	assert.Equal(t, float64(4), indexSize["kilobytes"])
}

func TestQueryServer_Segments(t *testing.T) {
	ts := newTestServer(t, &stubReader{
		segments: []types.SegmentEntry{
			{SegmentID: 0, SegmentFile: "segment-0000000000000000000.log", StartOffset: 0, EndOffset: 999, RecordCount: 1000},
			{SegmentID: 1, SegmentFile: "segment-0000000000000001000.log", StartOffset: 1000, EndOffset: 1999, RecordCount: 1000},
		},
	})

	body := getJSON(t, ts.URL+"/api/query/segments", http.StatusOK)
	assert.Equal(t, float64(2), body["count"])

	segments := body["segments"].([]any)
	require.Len(t, segments, 2)

	first := segments[0].(map[string]any)
	assert.Equal(t, "segment-0000000000000000000.log", first["file"])
	assert.Equal(t, "[0, 999]", first["range"])
	assert.Equal(t, float64(1000), first["capacity"])
}

func TestQueryServer_Health(t *testing.T) {
	ts := newTestServer(t, &stubReader{
		stats: types.SegmentStats{SegmentCount: 1, TotalRecords: 10},
	})

	body := getJSON(t, ts.URL+"/api/query/health", http.StatusOK)
	assert.Equal(t, "UP", body["status"])
}

func TestQueryServer_HealthDownOnStoreError(t *testing.T) {
	ts := newTestServer(t, &stubReader{statsErr: errors.New("database is locked")})

	body := getJSON(t, ts.URL+"/api/query/health", http.StatusInternalServerError)
	assert.Equal(t, "DOWN", body["status"])
	assert.Equal(t, "database is locked", body["error"])
}
