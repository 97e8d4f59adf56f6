package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
)

type memoryQueue struct {
	discrepancy []ScanPayload
	reorder     []ScanPayload
	err         error
}

func (q *memoryQueue) EnqueueDiscrepancyScan(ctx context.Context, payload ScanPayload) (*asynq.TaskInfo, error) {
	if q.err != nil {
		return nil, q.err
	}
	q.discrepancy = append(q.discrepancy, payload)
	return &asynq.TaskInfo{ID: "task-1", Queue: QueueDefault, Type: TaskDiscrepancyScan}, nil
}

func (q *memoryQueue) EnqueueReorderScan(ctx context.Context, payload ScanPayload) (*asynq.TaskInfo, error) {
	if q.err != nil {
		return nil, q.err
	}
	q.reorder = append(q.reorder, payload)
	return &asynq.TaskInfo{ID: "task-2", Queue: QueueDefault, Type: TaskReorderScan}, nil
}

func newTestRouter(queue Enqueuer) chi.Router {
	r := chi.NewRouter()
	NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), queue).MountRoutes(r)
	return r
}

func TestTriggerDiscrepancyScanEnqueues(t *testing.T) {
	queue := &memoryQueue{}
	router := newTestRouter(queue)

	req := httptest.NewRequest(http.MethodPost, "/admin/scans/discrepancy", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, queue.discrepancy, 1)
	require.Nil(t, queue.discrepancy[0].BranchID)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, true, body["queued"])
	require.Equal(t, "task-1", body["task_id"])
}

func TestTriggerReorderScanForwardsBranchFilter(t *testing.T) {
	queue := &memoryQueue{}
	router := newTestRouter(queue)
	branch := uuid.New()

	req := httptest.NewRequest(http.MethodPost, "/admin/scans/reorder",
		strings.NewReader(`{"branch_id":"`+branch.String()+`"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, queue.reorder, 1)
	require.NotNil(t, queue.reorder[0].BranchID)
	require.Equal(t, branch, *queue.reorder[0].BranchID)
}

func TestTriggerScanRejectsMalformedBody(t *testing.T) {
	queue := &memoryQueue{}
	router := newTestRouter(queue)

	req := httptest.NewRequest(http.MethodPost, "/admin/scans/discrepancy", strings.NewReader(`{"branch_id":`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Empty(t, queue.discrepancy)
}

func TestTriggerScanReportsQueueOutage(t *testing.T) {
	queue := &memoryQueue{err: errors.New("redis gone")}
	router := newTestRouter(queue)

	req := httptest.NewRequest(http.MethodPost, "/admin/scans/reorder", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
