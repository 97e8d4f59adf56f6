package analytics

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/meridian-retail/meridian/internal/inventory"
)

// PgRepository reads analytics inputs from PostgreSQL. Queries run outside
// any transaction; each one sees a consistent statement-level snapshot and
// never blocks the mutation path.
type PgRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs PgRepository.
func NewRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

func (r *PgRepository) ActiveProducts(ctx context.Context, branchID *uuid.UUID) ([]inventory.Product, error) {
	query := `SELECT id, branch_id, code, name, unit_cost, unit_price, current_stock, reorder_threshold, active, created_at, updated_at
		FROM products WHERE active`
	args := []any{}
	if branchID != nil {
		query += ` AND branch_id = $1`
		args = append(args, *branchID)
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var products []inventory.Product
	for rows.Next() {
		var p inventory.Product
		if err := rows.Scan(&p.ID, &p.BranchID, &p.Code, &p.Name, &p.UnitCost, &p.UnitPrice, &p.CurrentStock, &p.ReorderThreshold, &p.Active, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

func (r *PgRepository) SoldQuantities(ctx context.Context, branchID *uuid.UUID, from, to time.Time) (map[uuid.UUID]int64, error) {
	query := `SELECT product_id, COALESCE(SUM(quantity), 0)
		FROM stock_movements
		WHERE kind = $1 AND occurred_at >= $2 AND occurred_at <= $3`
	args := []any{string(inventory.MovementSale), from, to}
	if branchID != nil {
		query += ` AND branch_id = $4`
		args = append(args, *branchID)
	}
	query += ` GROUP BY product_id`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	quantities := make(map[uuid.UUID]int64)
	for rows.Next() {
		var id uuid.UUID
		var qty int64
		if err := rows.Scan(&id, &qty); err != nil {
			return nil, err
		}
		quantities[id] = qty
	}
	return quantities, rows.Err()
}

func (r *PgRepository) OutboundValues(ctx context.Context, branchID *uuid.UUID, from, to time.Time) (map[uuid.UUID]decimal.Decimal, error) {
	query := `SELECT product_id, COALESCE(SUM(quantity * unit_cost), 0)
		FROM stock_movements
		WHERE kind IN ($1, $2) AND occurred_at >= $3 AND occurred_at <= $4`
	args := []any{string(inventory.MovementExit), string(inventory.MovementSale), from, to}
	if branchID != nil {
		query += ` AND branch_id = $5`
		args = append(args, *branchID)
	}
	query += ` GROUP BY product_id`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	values := make(map[uuid.UUID]decimal.Decimal)
	for rows.Next() {
		var id uuid.UUID
		var value decimal.Decimal
		if err := rows.Scan(&id, &value); err != nil {
			return nil, err
		}
		values[id] = value
	}
	return values, rows.Err()
}

// StockAsOf returns the stock_after of the last movement at or before the
// given instant. The second return is false when the ledger has no entry for
// the product yet.
func (r *PgRepository) StockAsOf(ctx context.Context, productID uuid.UUID, at time.Time) (int64, bool, error) {
	var stock int64
	err := r.pool.QueryRow(ctx, `
		SELECT stock_after FROM stock_movements
		WHERE product_id = $1 AND occurred_at <= $2
		ORDER BY occurred_at DESC, id DESC
		LIMIT 1`, productID, at).Scan(&stock)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return stock, true, nil
}

func (r *PgRepository) LastMovements(ctx context.Context, branchID *uuid.UUID) (map[uuid.UUID]LastMovement, error) {
	query := `SELECT DISTINCT ON (product_id) product_id, stock_after, occurred_at
		FROM stock_movements`
	args := []any{}
	if branchID != nil {
		query += ` WHERE branch_id = $1`
		args = append(args, *branchID)
	}
	query += ` ORDER BY product_id, occurred_at DESC, id DESC`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	last := make(map[uuid.UUID]LastMovement)
	for rows.Next() {
		var id uuid.UUID
		var lm LastMovement
		if err := rows.Scan(&id, &lm.StockAfter, &lm.OccurredAt); err != nil {
			return nil, err
		}
		last[id] = lm
	}
	return last, rows.Err()
}

func (r *PgRepository) MovementSummary(ctx context.Context, branchID *uuid.UUID, from, to time.Time) ([]KindSummary, error) {
	query := `SELECT kind, COUNT(*), COALESCE(SUM(quantity), 0), COALESCE(SUM(quantity * unit_cost), 0)
		FROM stock_movements
		WHERE occurred_at >= $1 AND occurred_at <= $2`
	args := []any{from, to}
	if branchID != nil {
		query += ` AND branch_id = $3`
		args = append(args, *branchID)
	}
	query += ` GROUP BY kind ORDER BY COUNT(*) DESC, kind`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var summaries []KindSummary
	for rows.Next() {
		var s KindSummary
		var kind string
		if err := rows.Scan(&kind, &s.Movements, &s.Quantity, &s.Value); err != nil {
			return nil, err
		}
		s.Kind = inventory.MovementKind(kind)
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}
