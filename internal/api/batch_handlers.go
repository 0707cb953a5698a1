package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/contrib-graph-crawler/internal/graph"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 200
	batchTimeout        = 3 * time.Second
)

// BatchHandler exposes read-only batch status endpoints.
type BatchHandler struct {
	reader  BatchReader
	timeout time.Duration
	logger  *zap.Logger
}

// NewBatchHandler wires the reader and logger.
func NewBatchHandler(reader BatchReader, logger *zap.Logger) *BatchHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BatchHandler{reader: reader, timeout: batchTimeout, logger: logger}
}

// Latest handles GET /v1/batches/{subject_id}/{job_type}. It returns
// {"batch": {...}} on success, 400 for an unknown job type, 404 when the
// subject has no entries, 503 without a reader, or 500 otherwise.
func (h *BatchHandler) Latest(w http.ResponseWriter, r *http.Request) {
	if h.reader == nil {
		writeError(w, http.StatusServiceUnavailable, "batch store unavailable")
		return
	}
	subjectID, jobType, err := parseBatchKey(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	latest, err := h.reader.Latest(ctx, subjectID, jobType)
	if err != nil {
		if errors.Is(err, graph.ErrNotFound) {
			writeError(w, http.StatusNotFound, "batch not found")
			return
		}
		h.logger.Error("load batch status failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load batch status")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"batch": latest})
}

// History handles GET /v1/batches/{subject_id}/{job_type}/history?limit=.
// Entries are newest first.
func (h *BatchHandler) History(w http.ResponseWriter, r *http.Request) {
	if h.reader == nil {
		writeError(w, http.StatusServiceUnavailable, "batch store unavailable")
		return
	}
	subjectID, jobType, err := parseBatchKey(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := parseLimit(r, defaultHistoryLimit, maxHistoryLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	entries, err := h.reader.History(ctx, subjectID, jobType, limit)
	if err != nil {
		h.logger.Error("list batch history failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list batch history")
		return
	}
	if entries == nil {
		entries = []graph.BatchStatus{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"batches": entries})
}

func parseBatchKey(r *http.Request) (string, graph.JobType, error) {
	subjectID := chi.URLParam(r, "subject_id")
	if subjectID == "" {
		return "", "", errors.New("subject_id is required")
	}
	jobType, err := graph.ParseJobType(chi.URLParam(r, "job_type"))
	if err != nil {
		return "", "", errors.New("invalid job_type")
	}
	return subjectID, jobType, nil
}

func parseLimit(r *http.Request, def, maxLimit int) (int, error) {
	limStr := r.URL.Query().Get("limit")
	if limStr == "" {
		return def, nil
	}
	val, err := strconv.Atoi(limStr)
	if err != nil || val <= 0 {
		return 0, errors.New("invalid limit")
	}
	return min(val, maxLimit), nil
}
