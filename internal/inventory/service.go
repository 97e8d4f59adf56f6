package inventory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/meridian-retail/meridian/internal/shared"
)

// RepositoryPort abstracts repository usage for the coordinator.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetProduct(ctx context.Context, id uuid.UUID) (Product, error)
	GetSale(ctx context.Context, id uuid.UUID) (Sale, error)
	GetSaleByNumber(ctx context.Context, number string) (Sale, error)
	ListMovements(ctx context.Context, filter MovementFilter) ([]StockMovement, int, error)
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// CacheInvalidator bumps derived read-side caches after a committed mutation.
type CacheInvalidator interface {
	Bump(ctx context.Context) error
}

// Service is the transaction coordinator: the single path through which
// current stock changes. Every operation commits the stock write and its
// ledger entries as one unit or reports a definite failure.
type Service struct {
	repo        RepositoryPort
	audit       AuditPort
	invalidator CacheInvalidator
	now         func() time.Time
	maxRetries  int
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	// MaxRetries bounds automatic retries on serialization failures.
	MaxRetries int
}

// NewService builds the coordinator.
func NewService(repo RepositoryPort, audit AuditPort, invalidator CacheInvalidator, cfg ServiceConfig) *Service {
	retries := cfg.MaxRetries
	if retries <= 0 {
		retries = 3
	}
	return &Service{
		repo:        repo,
		audit:       audit,
		invalidator: invalidator,
		now:         func() time.Time { return time.Now().UTC() },
		maxRetries:  retries,
	}
}

// InitialStock loads the opening stock for a freshly created product row.
func (s *Service) InitialStock(ctx context.Context, input InitialStockInput) (MovementResult, error) {
	if input.Quantity <= 0 {
		return MovementResult{}, ErrInvalidQuantity
	}
	var result MovementResult
	err := s.mutate(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		result, err = s.applyMovement(ctx, tx, movementParams{
			ProductID: input.ProductID,
			Kind:      MovementInitial,
			Quantity:  input.Quantity,
			Reason:    "Opening stock",
			Note:      input.Note,
			ActorID:   input.ActorID,
		})
		return err
	})
	if err != nil {
		return MovementResult{}, err
	}
	s.afterCommit(ctx, input.ActorID, "inventory:initial", result.Movement)
	return result, nil
}

// Entry increases stock. A provided unit cost restates the product's
// standing cost before the movement snapshot is taken.
func (s *Service) Entry(ctx context.Context, input EntryInput) (MovementResult, error) {
	if input.Quantity <= 0 {
		return MovementResult{}, ErrInvalidQuantity
	}
	if input.UnitCost != nil && input.UnitCost.IsNegative() {
		return MovementResult{}, fmt.Errorf("inventory: unit cost must not be negative")
	}
	reason := input.Reason
	if reason == "" {
		reason = "Goods received"
	}
	var result MovementResult
	err := s.mutate(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		result, err = s.applyMovement(ctx, tx, movementParams{
			ProductID: input.ProductID,
			Kind:      MovementEntry,
			Quantity:  input.Quantity,
			NewCost:   input.UnitCost,
			Reason:    reason,
			Note:      input.Note,
			ActorID:   input.ActorID,
		})
		return err
	})
	if err != nil {
		return MovementResult{}, err
	}
	s.afterCommit(ctx, input.ActorID, "inventory:entry", result.Movement)
	return result, nil
}

// Exit decreases stock for a non-sale reason. Reason is mandatory so exits
// stay distinguishable from sales and losses in the ledger.
func (s *Service) Exit(ctx context.Context, input ExitInput) (MovementResult, error) {
	if input.Quantity <= 0 {
		return MovementResult{}, ErrInvalidQuantity
	}
	if input.Reason == "" {
		return MovementResult{}, errors.New("inventory: exit reason required")
	}
	var result MovementResult
	err := s.mutate(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		result, err = s.applyMovement(ctx, tx, movementParams{
			ProductID: input.ProductID,
			Kind:      MovementExit,
			Quantity:  input.Quantity,
			Reason:    input.Reason,
			Note:      input.Note,
			ActorID:   input.ActorID,
		})
		return err
	})
	if err != nil {
		return MovementResult{}, err
	}
	s.afterCommit(ctx, input.ActorID, "inventory:exit", result.Movement)
	return result, nil
}

// Loss decreases stock for shrinkage, damage or theft.
func (s *Service) Loss(ctx context.Context, input LossInput) (MovementResult, error) {
	if input.Quantity <= 0 {
		return MovementResult{}, ErrInvalidQuantity
	}
	if input.Reason == "" {
		return MovementResult{}, errors.New("inventory: loss reason required")
	}
	var result MovementResult
	err := s.mutate(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		result, err = s.applyMovement(ctx, tx, movementParams{
			ProductID: input.ProductID,
			Kind:      MovementLoss,
			Quantity:  input.Quantity,
			Reason:    input.Reason,
			Note:      input.Note,
			ActorID:   input.ActorID,
		})
		return err
	})
	if err != nil {
		return MovementResult{}, err
	}
	s.afterCommit(ctx, input.ActorID, "inventory:loss", result.Movement)
	return result, nil
}

// Adjust reconciles system stock against a physical count. A zero delta
// returns ErrNoAdjustmentNeeded and writes nothing.
func (s *Service) Adjust(ctx context.Context, input AdjustInput) (MovementResult, error) {
	if input.CountedStock < 0 {
		return MovementResult{}, ErrInvalidQuantity
	}
	if input.Reason == "" {
		return MovementResult{}, errors.New("inventory: adjustment reason required")
	}
	var result MovementResult
	err := s.mutate(ctx, func(ctx context.Context, tx TxRepository) error {
		product, err := tx.GetProductForUpdate(ctx, input.ProductID)
		if err != nil {
			return err
		}
		delta := input.CountedStock - product.CurrentStock
		if delta == 0 {
			return ErrNoAdjustmentNeeded
		}
		kind := MovementAdjustUp
		qty := delta
		if delta < 0 {
			kind = MovementAdjustDown
			qty = -delta
		}
		result, err = s.applyMovementToProduct(ctx, tx, product, movementParams{
			ProductID: product.ID,
			Kind:      kind,
			Quantity:  qty,
			Reason:    input.Reason,
			Note:      fmt.Sprintf("%s (counted %d, delta %+d)", input.Note, input.CountedStock, delta),
			ActorID:   input.ActorID,
		})
		return err
	})
	if err != nil {
		return MovementResult{}, err
	}
	s.afterCommit(ctx, input.ActorID, "inventory:adjust", result.Movement)
	return result, nil
}

// Transfer decrements stock in the source branch and increments the product
// row with the same catalog code in the destination branch, creating that row
// when absent. Both movements and both stock writes commit as one unit.
func (s *Service) Transfer(ctx context.Context, input TransferInput) (TransferResult, error) {
	if input.Quantity <= 0 {
		return TransferResult{}, ErrInvalidQuantity
	}
	if input.DestinationBranchID == uuid.Nil {
		return TransferResult{}, ErrInvalidTransfer
	}
	var result TransferResult
	err := s.mutate(ctx, func(ctx context.Context, tx TxRepository) error {
		source, err := tx.GetProductForUpdate(ctx, input.ProductID)
		if err != nil {
			return err
		}
		if source.BranchID == input.DestinationBranchID {
			return ErrInvalidTransfer
		}
		if source.CurrentStock < input.Quantity {
			return &InsufficientStockError{ProductID: source.ID, Requested: input.Quantity, Available: source.CurrentStock}
		}

		out, err := s.applyMovementToProduct(ctx, tx, source, movementParams{
			ProductID:    source.ID,
			Kind:         MovementTransferOut,
			Quantity:     input.Quantity,
			Counterparty: &input.DestinationBranchID,
			Reason:       "Transfer to branch",
			Note:         input.Note,
			ActorID:      input.ActorID,
		})
		if err != nil {
			return err
		}

		dest, err := tx.GetProductByCodeForUpdate(ctx, input.DestinationBranchID, source.Code)
		switch {
		case errors.Is(err, ErrProductNotFound):
			dest = Product{
				ID:               uuid.New(),
				BranchID:         input.DestinationBranchID,
				Code:             source.Code,
				Name:             source.Name,
				UnitCost:         source.UnitCost,
				UnitPrice:        source.UnitPrice,
				CurrentStock:     0,
				ReorderThreshold: source.ReorderThreshold,
				Active:           true,
				CreatedAt:        s.now(),
				UpdatedAt:        s.now(),
			}
			if err := tx.InsertProduct(ctx, dest); err != nil {
				if isUniqueViolation(err) {
					// A concurrent transfer created the row after our lookup
					// missed. The statement poisoned this transaction, so
					// re-run it from the top; the next lookup will find and
					// lock the committed row.
					return fmt.Errorf("%w: %v", errRetryTx, err)
				}
				return err
			}
		case err != nil:
			return err
		default:
			if !dest.Active {
				if err := tx.ReactivateProduct(ctx, dest.ID); err != nil {
					return err
				}
				dest.Active = true
			}
		}

		in, err := s.applyMovementToProduct(ctx, tx, dest, movementParams{
			ProductID:    dest.ID,
			Kind:         MovementTransferIn,
			Quantity:     input.Quantity,
			Counterparty: &source.BranchID,
			Reason:       "Transfer from branch",
			Note:         input.Note,
			ActorID:      input.ActorID,
		})
		if err != nil {
			return err
		}

		result = TransferResult{Source: out, Destination: in}
		return nil
	})
	if err != nil {
		return TransferResult{}, err
	}
	s.afterCommit(ctx, input.ActorID, "inventory:transfer", result.Source.Movement)
	return result, nil
}

// RecordSale validates stock for every line before any mutation, then applies
// all decrements, the per-line SALE movements and the sale aggregate in one
// atomic unit. The sale number comes from the per-day sequence inside the
// same transaction.
func (s *Service) RecordSale(ctx context.Context, input SaleInput) (SaleResult, error) {
	if len(input.Lines) == 0 {
		return SaleResult{}, ErrEmptySale
	}
	for _, line := range input.Lines {
		if line.Quantity <= 0 {
			return SaleResult{}, ErrInvalidQuantity
		}
	}
	if input.Discount.IsNegative() {
		return SaleResult{}, ErrInvalidDiscount
	}

	var result SaleResult
	err := s.mutate(ctx, func(ctx context.Context, tx TxRepository) error {
		// Lock every affected product in a stable order before touching
		// anything, then run the full precondition pass.
		products, err := lockSaleProducts(ctx, tx, input)
		if err != nil {
			return err
		}
		requested := make(map[uuid.UUID]int64, len(products))
		for _, line := range input.Lines {
			product := products[line.ProductID]
			requested[line.ProductID] += line.Quantity
			if product.CurrentStock < requested[line.ProductID] {
				return &InsufficientStockError{
					ProductID: line.ProductID,
					Requested: requested[line.ProductID],
					Available: product.CurrentStock,
				}
			}
		}

		now := s.now()
		sale := Sale{
			ID:        uuid.New(),
			BranchID:  input.BranchID,
			Discount:  input.Discount,
			Status:    SaleCompleted,
			Note:      input.Note,
			CreatedBy: input.ActorID,
			CreatedAt: now,
		}
		subtotal := decimal.Zero
		for _, line := range input.Lines {
			product := products[line.ProductID]
			lineSubtotal := product.UnitPrice.Mul(decimal.NewFromInt(line.Quantity))
			sale.Lines = append(sale.Lines, SaleLine{
				ProductID:   product.ID,
				ProductCode: product.Code,
				Quantity:    line.Quantity,
				UnitPrice:   product.UnitPrice,
				Subtotal:    lineSubtotal,
			})
			subtotal = subtotal.Add(lineSubtotal)
		}
		if input.Discount.GreaterThan(subtotal) {
			return ErrInvalidDiscount
		}
		sale.Subtotal = subtotal
		sale.Total = subtotal.Sub(input.Discount)

		counter, err := tx.IncrementSaleSequence(ctx, now)
		if err != nil {
			return err
		}
		sale.Number = FormatSaleNumber(now, counter)
		if err := tx.InsertSale(ctx, sale); err != nil {
			return err
		}

		movements := make([]StockMovement, 0, len(sale.Lines))
		for _, line := range sale.Lines {
			product := products[line.ProductID]
			res, err := s.applyMovementToProduct(ctx, tx, product, movementParams{
				ProductID: product.ID,
				Kind:      MovementSale,
				Quantity:  line.Quantity,
				SaleID:    &sale.ID,
				Reason:    "Sale " + sale.Number,
				ActorID:   input.ActorID,
			})
			if err != nil {
				return err
			}
			products[line.ProductID] = res.Product
			movements = append(movements, res.Movement)
		}
		result = SaleResult{Sale: sale, Movements: movements}
		return nil
	})
	if err != nil {
		return SaleResult{}, err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  input.ActorID,
			Action:   "inventory:sale",
			Entity:   "sale",
			EntityID: result.Sale.Number,
			Meta: map[string]any{
				"branch_id": input.BranchID.String(),
				"lines":     len(result.Sale.Lines),
				"total":     result.Sale.Total.String(),
			},
		})
	}
	s.bump(ctx)
	return result, nil
}

// CancelSale reverses a completed sale: one SALE_REVERSAL per line adds the
// originally sold quantity back, regardless of any stock activity that
// happened in between. Cancelling twice is rejected.
func (s *Service) CancelSale(ctx context.Context, input CancelSaleInput) (SaleResult, error) {
	var result SaleResult
	err := s.mutate(ctx, func(ctx context.Context, tx TxRepository) error {
		sale, err := tx.GetSaleForUpdate(ctx, input.SaleID)
		if err != nil {
			return err
		}
		if sale.Status == SaleCancelled {
			return ErrSaleAlreadyCancelled
		}

		movements := make([]StockMovement, 0, len(sale.Lines))
		for _, line := range sale.Lines {
			product, err := tx.GetProductForUpdate(ctx, line.ProductID)
			if err != nil {
				return err
			}
			res, err := s.applyMovementToProduct(ctx, tx, product, movementParams{
				ProductID: product.ID,
				Kind:      MovementSaleReversal,
				Quantity:  line.Quantity,
				SaleID:    &sale.ID,
				Reason:    "Cancellation of " + sale.Number,
				Note:      input.Reason,
				ActorID:   input.ActorID,
			})
			if err != nil {
				return err
			}
			movements = append(movements, res.Movement)
		}

		now := s.now()
		if err := tx.MarkSaleCancelled(ctx, sale.ID, input.Reason, now); err != nil {
			return err
		}
		sale.Status = SaleCancelled
		sale.CancelledAt = &now
		sale.CancelReason = input.Reason
		result = SaleResult{Sale: sale, Movements: movements}
		return nil
	})
	if err != nil {
		return SaleResult{}, err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  input.ActorID,
			Action:   "inventory:sale_cancel",
			Entity:   "sale",
			EntityID: result.Sale.Number,
			Meta:     map[string]any{"reason": input.Reason},
		})
	}
	s.bump(ctx)
	return result, nil
}

// GetProduct returns the current projection.
func (s *Service) GetProduct(ctx context.Context, id uuid.UUID) (Product, error) {
	return s.repo.GetProduct(ctx, id)
}

// GetSale loads a sale aggregate by id.
func (s *Service) GetSale(ctx context.Context, id uuid.UUID) (Sale, error) {
	return s.repo.GetSale(ctx, id)
}

// GetSaleByNumber loads a sale aggregate by its human-readable number.
func (s *Service) GetSaleByNumber(ctx context.Context, number string) (Sale, error) {
	return s.repo.GetSaleByNumber(ctx, number)
}

// ListMovements returns ledger entries matching the filter with the total count.
func (s *Service) ListMovements(ctx context.Context, filter MovementFilter) ([]StockMovement, shared.Pagination, error) {
	movements, total, err := s.repo.ListMovements(ctx, filter)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return movements, shared.NewPagination(filter.Page, filter.PerPage, total), nil
}

type movementParams struct {
	ProductID    uuid.UUID
	Kind         MovementKind
	Quantity     int64
	NewCost      *decimal.Decimal
	Counterparty *uuid.UUID
	SaleID       *uuid.UUID
	Reason       string
	Note         string
	ActorID      uuid.UUID
}

// applyMovement locks the product row and applies one movement.
func (s *Service) applyMovement(ctx context.Context, tx TxRepository, params movementParams) (MovementResult, error) {
	product, err := tx.GetProductForUpdate(ctx, params.ProductID)
	if err != nil {
		return MovementResult{}, err
	}
	return s.applyMovementToProduct(ctx, tx, product, params)
}

// applyMovementToProduct computes the new stock value from an already locked
// product, persists it and appends the ledger entry. The unit cost snapshot
// is taken after any cost restatement so valuation reflects the cost in
// effect at mutation time.
func (s *Service) applyMovementToProduct(ctx context.Context, tx TxRepository, product Product, params movementParams) (MovementResult, error) {
	stockBefore := product.CurrentStock
	var stockAfter int64
	if params.Kind.Inbound() {
		stockAfter = stockBefore + params.Quantity
	} else {
		stockAfter = stockBefore - params.Quantity
		if stockAfter < 0 {
			return MovementResult{}, &InsufficientStockError{
				ProductID: product.ID,
				Requested: params.Quantity,
				Available: stockBefore,
			}
		}
	}

	if params.NewCost != nil {
		product.UnitCost = *params.NewCost
		if err := tx.UpdateProductCost(ctx, product.ID, product.UnitCost); err != nil {
			return MovementResult{}, err
		}
	}
	if err := tx.UpdateProductStock(ctx, product.ID, stockAfter); err != nil {
		return MovementResult{}, err
	}
	product.CurrentStock = stockAfter
	product.UpdatedAt = s.now()

	movement := StockMovement{
		ID:                   uuid.New(),
		ProductID:            product.ID,
		BranchID:             product.BranchID,
		Kind:                 params.Kind,
		Quantity:             params.Quantity,
		StockBefore:          stockBefore,
		StockAfter:           stockAfter,
		UnitCost:             product.UnitCost,
		CounterpartyBranchID: params.Counterparty,
		SaleID:               params.SaleID,
		ActorID:              params.ActorID,
		Reason:               params.Reason,
		Note:                 params.Note,
		OccurredAt:           s.now(),
	}
	if err := tx.InsertMovement(ctx, movement); err != nil {
		return MovementResult{}, err
	}
	return MovementResult{Product: product, Movement: movement}, nil
}

// errRetryTx marks conflicts that are transient by construction and safe to
// re-run from the top of the transaction.
var errRetryTx = errors.New("inventory: transient conflict")

// mutate runs fn inside a transaction, retrying transient conflicts up to
// maxRetries before reporting ErrConcurrencyConflict.
func (s *Service) mutate(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	var err error
	for attempt := 0; attempt < s.maxRetries; attempt++ {
		err = s.repo.WithTx(ctx, fn)
		if !isSerializationFailure(err) && !errors.Is(err, errRetryTx) {
			return err
		}
	}
	return fmt.Errorf("%w: %v", ErrConcurrencyConflict, err)
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	// 40001 serialization_failure, 40P01 deadlock_detected.
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// lockSaleProducts acquires row locks for all products named by the sale in
// ascending product-id order, so concurrent multi-line sales cannot deadlock
// against each other.
func lockSaleProducts(ctx context.Context, tx TxRepository, input SaleInput) (map[uuid.UUID]Product, error) {
	ids := make([]uuid.UUID, 0, len(input.Lines))
	seen := make(map[uuid.UUID]struct{}, len(input.Lines))
	for _, line := range input.Lines {
		if _, ok := seen[line.ProductID]; ok {
			continue
		}
		seen[line.ProductID] = struct{}{}
		ids = append(ids, line.ProductID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })

	products := make(map[uuid.UUID]Product, len(ids))
	for _, id := range ids {
		product, err := tx.GetProductForUpdate(ctx, id)
		if err != nil {
			return nil, err
		}
		if product.BranchID != input.BranchID {
			return nil, ErrProductNotFound
		}
		products[id] = product
	}
	return products, nil
}

func (s *Service) afterCommit(ctx context.Context, actorID uuid.UUID, action string, movement StockMovement) {
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actorID,
			Action:   action,
			Entity:   "stock_movement",
			EntityID: movement.ID.String(),
			Meta: map[string]any{
				"product_id":  movement.ProductID.String(),
				"branch_id":   movement.BranchID.String(),
				"kind":        string(movement.Kind),
				"quantity":    movement.Quantity,
				"stock_after": movement.StockAfter,
			},
		})
	}
	s.bump(ctx)
}

func (s *Service) bump(ctx context.Context) {
	if s.invalidator != nil {
		_ = s.invalidator.Bump(ctx)
	}
}
