// Package serve exposes the replay buffer over HTTP: cursor-driven replay
// queries, offset introspection, and admin operations.
package serve

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gftdcojp/kafka-replay-buffer/internal/config"
	"github.com/gftdcojp/kafka-replay-buffer/internal/replay"
	"go.uber.org/zap"
)

type handler struct {
	engine *replay.Engine
	topic  string
	logger *zap.Logger
}

// RunHTTP starts the HTTP API server and blocks until ctx is cancelled.
func RunHTTP(ctx context.Context, cfg config.APIConfig, engine *replay.Engine, topic string, logger *zap.Logger) error {
	h := &handler{engine: engine, topic: topic, logger: logger}

	srv := &http.Server{
		Addr:    cfg.Listen,
		Handler: h.routes(),
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("HTTP API listening", zap.String("addr", cfg.Listen))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (h *handler) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/status", h.handleStatus)
	mux.HandleFunc("POST /v1/replay/partitions", h.handleReplayPartitions)
	mux.HandleFunc("POST /v1/replay/threads", h.handleReplayThreads)
	mux.HandleFunc("GET /v1/partitions", h.handlePartitions)
	mux.HandleFunc("GET /v1/offsets/latest", h.handleLatestOffsets)
	mux.HandleFunc("GET /v1/offsets/oldest/{partition}", h.handleOldestOffset)
	mux.HandleFunc("POST /v1/cursors/stale", h.handleStaleCursors)
	mux.HandleFunc("GET /v1/metrics/snapshot", h.handleMetricsSnapshot)
	mux.HandleFunc("POST /v1/admin/clear", h.handleClear)
	return mux
}

// Message is the wire form of one replayed message. Data is base64 in JSON.
type Message struct {
	Data      []byte `json:"data"`
	Partition int32  `json:"partition"`
	Offset    int64  `json:"offset"`
}

// PartitionReplayRequest carries the caller's per-partition cursors: the
// last offset it has already seen for each partition.
type PartitionReplayRequest struct {
	Cursors map[int32]int64 `json:"cursors"`
}

type PartitionReplayResponse struct {
	Messages      []Message       `json:"messages"`
	Gaps          map[int32]int64 `json:"gaps,omitempty"`
	NewPartitions []int32         `json:"new_partitions,omitempty"`
	MoreData      []int32         `json:"more_data,omitempty"`
}

// ThreadReplayRequest carries per-thread sequence cursors.
type ThreadReplayRequest struct {
	Cursors map[string]uint64 `json:"cursors"`
}

type ThreadReplayResponse struct {
	Messages []Message         `json:"messages"`
	Gaps     map[string]uint64 `json:"gaps,omitempty"`
}

func (h *handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := h.engine.SnapshotMetrics()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "ok",
		"topic":       h.topic,
		"memory_size": snap.MemorySize,
	})
}

func (h *handler) handleReplayPartitions(w http.ResponseWriter, r *http.Request) {
	var req PartitionReplayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	res, err := h.engine.MessagesAfterPartitions(r.Context(), req.Cursors)
	if err != nil {
		h.logger.Error("partition replay failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	resp := PartitionReplayResponse{
		Messages:      make([]Message, 0, len(res.Messages)),
		NewPartitions: res.NewPartitions,
		MoreData:      res.MoreData,
	}
	if len(res.Gaps) > 0 {
		resp.Gaps = res.Gaps
	}
	for _, m := range res.Messages {
		resp.Messages = append(resp.Messages, Message{
			Data:      m.Data,
			Partition: m.Cursor.Partition,
			Offset:    m.Cursor.Offset,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) handleReplayThreads(w http.ResponseWriter, r *http.Request) {
	var req ThreadReplayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	res, err := h.engine.MessagesAfterThreads(r.Context(), req.Cursors)
	if err != nil {
		h.logger.Error("thread replay failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	resp := ThreadReplayResponse{Messages: make([]Message, 0, len(res.Messages))}
	if len(res.Gaps) > 0 {
		resp.Gaps = res.Gaps
	}
	for _, m := range res.Messages {
		resp.Messages = append(resp.Messages, Message{
			Data:      m.Data,
			Partition: m.Cursor.Partition,
			Offset:    m.Cursor.Offset,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) handlePartitions(w http.ResponseWriter, r *http.Request) {
	parts, err := h.engine.KnownPartitions(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"partitions": parts})
}

func (h *handler) handleLatestOffsets(w http.ResponseWriter, r *http.Request) {
	latest, err := h.engine.LatestOffsets(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"latest_offsets": latest})
}

func (h *handler) handleOldestOffset(w http.ResponseWriter, r *http.Request) {
	partition, err := strconv.ParseInt(r.PathValue("partition"), 10, 32)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid partition"})
		return
	}

	oldest, found, err := h.engine.OldestOffset(r.Context(), int32(partition))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if !found {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "partition not buffered"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"partition":     int32(partition),
		"oldest_offset": oldest,
	})
}

func (h *handler) handleStaleCursors(w http.ResponseWriter, r *http.Request) {
	var req PartitionReplayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	stale, err := h.engine.StaleCursors(r.Context(), req.Cursors)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"stale_partitions": stale})
}

func (h *handler) handleMetricsSnapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.SnapshotMetrics())
}

func (h *handler) handleClear(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.engine.Clear(r.Context())
	if err != nil {
		h.logger.Error("clear failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	h.logger.Info("buffer cleared via admin API", zap.Int64("durable_deleted", deleted))
	writeJSON(w, http.StatusOK, map[string]interface{}{"durable_deleted": deleted})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
