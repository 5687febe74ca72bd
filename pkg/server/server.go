package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/downfa11-org/go-consumer/pkg/metrics"
	"github.com/downfa11-org/go-consumer/pkg/store"
	"github.com/downfa11-org/go-consumer/pkg/types"
	"github.com/downfa11-org/go-consumer/util"
)

// StreamReader is the read-only slice of the store the query API serves from.
type StreamReader interface {
	FindByOffset(offset uint64) (*types.Record, error)
	Stats() (types.SegmentStats, error)
	ListSegments() ([]types.SegmentEntry, error)
}

// QueryServer exposes the consumer's read API over HTTP.
type QueryServer struct {
	reader     StreamReader
	httpServer *http.Server
}

func NewQueryServer(port int, reader StreamReader) *QueryServer {
	s := &QueryServer{reader: reader}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/query/offset/{offset}", s.handleFindByOffset)
	mux.HandleFunc("GET /api/query/stats", s.handleStats)
	mux.HandleFunc("GET /api/query/segments", s.handleSegments)
	mux.HandleFunc("GET /api/query/health", s.handleHealth)

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the route table, mainly for tests.
func (s *QueryServer) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start serves until Shutdown is called.
func (s *QueryServer) Start() error {
	util.Info("query API listening on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *QueryServer) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *QueryServer) handleFindByOffset(w http.ResponseWriter, r *http.Request) {
	offset, err := strconv.ParseUint(r.PathValue("offset"), 10, 64)
	if err != nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("invalid offset: %s", r.PathValue("offset")))
		return
	}

	timer := time.Now()
	rec, err := s.reader.FindByOffset(offset)
	metrics.LookupLatency.Observe(time.Since(timer).Seconds())

	if err != nil {
		if errors.Is(err, store.ErrOffsetNotFound) {
			writeError(w, http.StatusNotFound, fmt.Sprintf("No message found at offset %d", offset))
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"offset":    rec.Offset,
		"msgKey":    rec.MsgKey,
		"eventType": rec.EventType.String(),
		"data":      string(rec.Data),
		"createdAt": rec.CreatedAt.Format(time.RFC3339Nano),
	})
}

func (s *QueryServer) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.reader.Stats()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"segmentCount": stats.SegmentCount,
		"totalRecords": stats.TotalRecords,
		"offsetRange": map[string]any{
			"min": stats.MinOffset,
			"max": stats.MaxOffset,
		},
		"indexSize": map[string]any{
			"bytes":     stats.IndexBytes,
			"kilobytes": stats.IndexBytes / 1024,
			"megabytes": stats.IndexBytes / (1024 * 1024),
		},
	})
}

func (s *QueryServer) handleSegments(w http.ResponseWriter, r *http.Request) {
	entries, err := s.reader.ListSegments()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	segments := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		segments = append(segments, map[string]any{
			"segmentId":   e.SegmentID,
			"file":        e.SegmentFile,
			"startOffset": e.StartOffset,
			"endOffset":   e.EndOffset,
			"range":       fmt.Sprintf("[%d, %d]", e.StartOffset, e.EndOffset),
			"capacity":    e.EndOffset - e.StartOffset + 1,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"count":    len(entries),
		"segments": segments,
	})
}

func (s *QueryServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats, err := s.reader.Stats()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"status": "DOWN",
			"error":  err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "UP",
		"segments": stats.SegmentCount,
		"records":  stats.TotalRecords,
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		util.Error("failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
