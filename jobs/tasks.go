package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/meridian-retail/meridian/internal/analytics"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskDiscrepancyScan compares the stock projection against the ledger.
	TaskDiscrepancyScan = "inventory:discrepancy_scan"
	// TaskReorderScan computes reorder suggestions and logs urgent ones.
	TaskReorderScan = "inventory:reorder_scan"
)

// ScanPayload scopes a scan to one branch, or to all branches when nil.
type ScanPayload struct {
	BranchID *uuid.UUID `json:"branch_id,omitempty"`
}

// NewDiscrepancyScanTask constructs an Asynq task.
func NewDiscrepancyScanTask(payload ScanPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskDiscrepancyScan, data), nil
}

// NewReorderScanTask constructs an Asynq task.
func NewReorderScanTask(payload ScanPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskReorderScan, data), nil
}

// Scans bundles the scheduled ledger health checks.
type Scans struct {
	analytics *analytics.Service
	logger    *slog.Logger
}

// NewScans constructs the scan handlers.
func NewScans(service *analytics.Service, logger *slog.Logger) *Scans {
	return &Scans{analytics: service, logger: logger}
}

// HandleDiscrepancyScan processes TaskDiscrepancyScan tasks. Any reported
// discrepancy means a write path bypassed the coordinator and deserves a
// human look, so each one is logged at error level.
func (s *Scans) HandleDiscrepancyScan(ctx context.Context, t *asynq.Task) error {
	var payload ScanPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	discrepancies, err := s.analytics.Discrepancies(ctx, payload.BranchID)
	if err != nil {
		return err
	}
	if len(discrepancies) == 0 {
		s.logger.Info("discrepancy scan clean", slog.String("job", TaskDiscrepancyScan))
		return nil
	}
	for _, d := range discrepancies {
		s.logger.Error("stock discrepancy detected",
			slog.String("job", TaskDiscrepancyScan),
			slog.String("product_id", d.ProductID.String()),
			slog.String("branch_id", d.BranchID.String()),
			slog.String("code", d.Code),
			slog.Int64("current_stock", d.CurrentStock),
			slog.Int64("ledger_stock", d.LedgerStock),
			slog.Int64("difference", d.Difference),
		)
	}
	return nil
}

// HandleReorderScan processes TaskReorderScan tasks, logging products whose
// stock will not cover the default horizon.
func (s *Scans) HandleReorderScan(ctx context.Context, t *asynq.Task) error {
	var payload ScanPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	suggestions, err := s.analytics.ReorderSuggestions(ctx, payload.BranchID, 0)
	if err != nil {
		return err
	}
	for _, suggestion := range suggestions {
		level := slog.LevelInfo
		if suggestion.Priority == analytics.PriorityCritical {
			level = slog.LevelWarn
		}
		s.logger.Log(ctx, level, "reorder suggested",
			slog.String("job", TaskReorderScan),
			slog.String("product_id", suggestion.ProductID.String()),
			slog.String("code", suggestion.Code),
			slog.String("priority", string(suggestion.Priority)),
			slog.Int64("current_stock", suggestion.CurrentStock),
			slog.Float64("days_of_stock", suggestion.DaysOfStock),
			slog.Int64("suggested_quantity", suggestion.SuggestedQuantity),
		)
	}
	return nil
}
