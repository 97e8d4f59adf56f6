package inventory

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MovementKind enumerates supported stock movements.
type MovementKind string

const (
	// MovementEntry represents purchased or received stock.
	MovementEntry MovementKind = "ENTRY"
	// MovementExit represents a non-sale outbound movement.
	MovementExit MovementKind = "EXIT"
	// MovementAdjustUp corrects stock upwards after a physical count.
	MovementAdjustUp MovementKind = "ADJUST_UP"
	// MovementAdjustDown corrects stock downwards after a physical count.
	MovementAdjustDown MovementKind = "ADJUST_DOWN"
	// MovementTransferOut sends stock to another branch.
	MovementTransferOut MovementKind = "TRANSFER_OUT"
	// MovementTransferIn receives stock from another branch.
	MovementTransferIn MovementKind = "TRANSFER_IN"
	// MovementLoss records shrinkage, damage or theft.
	MovementLoss MovementKind = "LOSS"
	// MovementSale is emitted once per sale line.
	MovementSale MovementKind = "SALE"
	// MovementSaleReversal compensates a SALE when the sale is cancelled.
	MovementSaleReversal MovementKind = "SALE_REVERSAL"
	// MovementInitial records the opening stock of a new product row.
	MovementInitial MovementKind = "INITIAL"
)

// Inbound reports whether the kind increases stock.
func (k MovementKind) Inbound() bool {
	switch k {
	case MovementEntry, MovementAdjustUp, MovementTransferIn, MovementSaleReversal, MovementInitial:
		return true
	}
	return false
}

// Product is the mutable current-stock projection per (product, branch).
// The catalog owns the descriptive fields; this module only mutates
// CurrentStock and, on costed entries, UnitCost.
type Product struct {
	ID               uuid.UUID
	BranchID         uuid.UUID
	Code             string
	Name             string
	UnitCost         decimal.Decimal
	UnitPrice        decimal.Decimal
	CurrentStock     int64
	ReorderThreshold int64
	Active           bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// StockMovement is one immutable ledger entry. Corrections are new
// compensating entries, never updates.
type StockMovement struct {
	ID                   uuid.UUID
	ProductID            uuid.UUID
	BranchID             uuid.UUID
	Kind                 MovementKind
	Quantity             int64
	StockBefore          int64
	StockAfter           int64
	UnitCost             decimal.Decimal
	CounterpartyBranchID *uuid.UUID
	SaleID               *uuid.UUID
	ActorID              uuid.UUID
	Reason               string
	Note                 string
	OccurredAt           time.Time
}

// SaleStatus enumerates sale states. COMPLETED -> CANCELLED is the only
// transition and CANCELLED is terminal.
type SaleStatus string

const (
	SaleCompleted SaleStatus = "COMPLETED"
	SaleCancelled SaleStatus = "CANCELLED"
)

// SaleLine captures a sold product with its price frozen at sale time.
type SaleLine struct {
	ProductID   uuid.UUID
	ProductCode string
	Quantity    int64
	UnitPrice   decimal.Decimal
	Subtotal    decimal.Decimal
}

// Sale is the sale aggregate persisted together with its SALE movements.
type Sale struct {
	ID           uuid.UUID
	Number       string
	BranchID     uuid.UUID
	Lines        []SaleLine
	Subtotal     decimal.Decimal
	Discount     decimal.Decimal
	Total        decimal.Decimal
	Status       SaleStatus
	Note         string
	CreatedBy    uuid.UUID
	CreatedAt    time.Time
	CancelledAt  *time.Time
	CancelReason string
}

// EntryInput describes a stock entry (purchase / goods receipt).
type EntryInput struct {
	ProductID uuid.UUID
	Quantity  int64
	// UnitCost, when set, restates the product's standing cost before the
	// movement snapshot is taken.
	UnitCost *decimal.Decimal
	Reason   string
	Note     string
	ActorID  uuid.UUID
}

// ExitInput describes a non-sale outbound movement. Reason is mandatory.
type ExitInput struct {
	ProductID uuid.UUID
	Quantity  int64
	Reason    string
	Note      string
	ActorID   uuid.UUID
}

// AdjustInput reconciles system stock against a physical count.
type AdjustInput struct {
	ProductID    uuid.UUID
	CountedStock int64
	Reason       string
	Note         string
	ActorID      uuid.UUID
}

// TransferInput moves stock from the product's branch to another branch.
type TransferInput struct {
	ProductID           uuid.UUID
	Quantity            int64
	DestinationBranchID uuid.UUID
	Note                string
	ActorID             uuid.UUID
}

// LossInput records shrinkage. Reason is mandatory.
type LossInput struct {
	ProductID uuid.UUID
	Quantity  int64
	Reason    string
	Note      string
	ActorID   uuid.UUID
}

// InitialStockInput loads the opening stock of a freshly created product.
type InitialStockInput struct {
	ProductID uuid.UUID
	Quantity  int64
	Note      string
	ActorID   uuid.UUID
}

// SaleLineInput is one requested sale line.
type SaleLineInput struct {
	ProductID uuid.UUID
	Quantity  int64
}

// SaleInput describes a sale to record.
type SaleInput struct {
	BranchID uuid.UUID
	Lines    []SaleLineInput
	Discount decimal.Decimal
	Note     string
	ActorID  uuid.UUID
}

// CancelSaleInput describes a sale cancellation.
type CancelSaleInput struct {
	SaleID  uuid.UUID
	Reason  string
	ActorID uuid.UUID
}

// MovementResult pairs the updated projection with the ledger entry created.
type MovementResult struct {
	Product  Product
	Movement StockMovement
}

// TransferResult reports both sides of a branch transfer.
type TransferResult struct {
	Source      MovementResult
	Destination MovementResult
}

// SaleResult reports a recorded or cancelled sale with its movements.
type SaleResult struct {
	Sale      Sale
	Movements []StockMovement
}

// MovementFilter selects ledger entries for listing.
type MovementFilter struct {
	ProductID *uuid.UUID
	BranchID  *uuid.UUID
	Kind      MovementKind
	From      time.Time
	To        time.Time
	Page      int
	PerPage   int
}

// ErrProductNotFound indicates the product does not exist or is inactive.
var ErrProductNotFound = errors.New("inventory: product not found")

// ErrInvalidQuantity indicates a zero or negative quantity.
var ErrInvalidQuantity = errors.New("inventory: quantity must be a positive integer")

// ErrInvalidTransfer indicates a transfer targeting the source branch.
var ErrInvalidTransfer = errors.New("inventory: destination branch must differ from source")

// ErrNoAdjustmentNeeded signals that counted stock equals current stock.
// Not a hard failure; callers surface it as "nothing to do".
var ErrNoAdjustmentNeeded = errors.New("inventory: counted stock equals current stock")

// ErrEmptySale indicates a sale without lines.
var ErrEmptySale = errors.New("inventory: sale requires at least one line")

// ErrInvalidDiscount indicates a negative discount or one exceeding the subtotal.
var ErrInvalidDiscount = errors.New("inventory: discount must be between zero and the subtotal")

// ErrSaleNotFound indicates an unknown sale id.
var ErrSaleNotFound = errors.New("inventory: sale not found")

// ErrSaleAlreadyCancelled indicates a repeated cancellation.
var ErrSaleAlreadyCancelled = errors.New("inventory: sale already cancelled")

// ErrInsufficientStock is the match target for InsufficientStockError.
var ErrInsufficientStock = errors.New("inventory: insufficient stock")

// ErrConcurrencyConflict is returned when the bounded retry on serialization
// failures is exhausted. The request may be retried by the caller.
var ErrConcurrencyConflict = errors.New("inventory: concurrent stock mutation, retry")

// InsufficientStockError reports requested versus available quantity for the
// first failing product.
type InsufficientStockError struct {
	ProductID uuid.UUID
	Requested int64
	Available int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("inventory: insufficient stock for product %s: requested %d, available %d", e.ProductID, e.Requested, e.Available)
}

// Is makes errors.Is(err, ErrInsufficientStock) match.
func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}
