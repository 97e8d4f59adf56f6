package analytics

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/meridian-retail/meridian/internal/inventory"
)

// RotationClass buckets products by sales velocity relative to held stock.
type RotationClass string

const (
	RotationHigh   RotationClass = "HIGH"
	RotationMedium RotationClass = "MEDIUM"
	RotationLow    RotationClass = "LOW"
)

// RotationEntry reports the rotation index of one product over a window.
// Index is nil when the average stock over the window is zero; the value is
// undefined there, not zero.
type RotationEntry struct {
	ProductID    uuid.UUID      `json:"product_id"`
	Code         string         `json:"code"`
	Name         string         `json:"name"`
	SoldQuantity int64          `json:"sold_quantity"`
	StockStart   int64          `json:"stock_start"`
	StockEnd     int64          `json:"stock_end"`
	Index        *float64       `json:"index"`
	Class        *RotationClass `json:"class"`
}

// ABCClass is the Pareto value class of a product.
type ABCClass string

const (
	ClassA ABCClass = "A"
	ClassB ABCClass = "B"
	ClassC ABCClass = "C"
)

// ABCEntry is one ranked row of the ABC classification.
type ABCEntry struct {
	ProductID     uuid.UUID       `json:"product_id"`
	Code          string          `json:"code"`
	Name          string          `json:"name"`
	Value         decimal.Decimal `json:"value"`
	PctOfTotal    float64         `json:"pct_of_total"`
	CumulativePct float64         `json:"cumulative_pct"`
	Class         ABCClass        `json:"class"`
}

// Discrepancy reports a mismatch between the stock projection and the
// ledger's last recorded value; it indicates a write path that bypassed the
// coordinator.
type Discrepancy struct {
	ProductID      uuid.UUID `json:"product_id"`
	BranchID       uuid.UUID `json:"branch_id"`
	Code           string    `json:"code"`
	Name           string    `json:"name"`
	CurrentStock   int64     `json:"current_stock"`
	LedgerStock    int64     `json:"ledger_stock"`
	Difference     int64     `json:"difference"`
	LastMovementAt time.Time `json:"last_movement_at"`
}

// ReorderPriority bands reorder suggestions by days of stock remaining.
type ReorderPriority string

const (
	PriorityCritical ReorderPriority = "CRITICAL"
	PriorityHigh     ReorderPriority = "HIGH"
	PriorityMedium   ReorderPriority = "MEDIUM"
)

// ReorderSuggestion proposes a replenishment quantity for a product whose
// stock will not cover the projection horizon.
type ReorderSuggestion struct {
	ProductID         uuid.UUID       `json:"product_id"`
	BranchID          uuid.UUID       `json:"branch_id"`
	Code              string          `json:"code"`
	Name              string          `json:"name"`
	CurrentStock      int64           `json:"current_stock"`
	DailyVelocity     float64         `json:"daily_velocity"`
	DaysOfStock       float64         `json:"days_of_stock"`
	SuggestedQuantity int64           `json:"suggested_quantity"`
	Priority          ReorderPriority `json:"priority"`
}

// KindSummary aggregates ledger entries of one movement kind over a window.
type KindSummary struct {
	Kind      inventory.MovementKind `json:"kind"`
	Movements int                    `json:"movements"`
	Quantity  int64                  `json:"quantity"`
	Value     decimal.Decimal        `json:"value"`
}

// BranchValuation values the held stock of one branch at cost and at retail.
type BranchValuation struct {
	BranchID    uuid.UUID       `json:"branch_id"`
	Products    int             `json:"products"`
	Units       int64           `json:"units"`
	CostValue   decimal.Decimal `json:"cost_value"`
	RetailValue decimal.Decimal `json:"retail_value"`
	MarginPct   float64         `json:"margin_pct"`
}

// LastMovement is the ledger's latest word on a product.
type LastMovement struct {
	StockAfter int64
	OccurredAt time.Time
}
