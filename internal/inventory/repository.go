package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/meridian-retail/meridian/internal/platform/db"
)

// TxRepository exposes the transactional operations used by the coordinator.
// GetProductForUpdate only sees active products; the by-code lookup also
// returns deactivated rows so a transfer can revive a dormant destination
// instead of tripping the (branch_id, code) unique constraint.
type TxRepository interface {
	GetProductForUpdate(ctx context.Context, id uuid.UUID) (Product, error)
	GetProductByCodeForUpdate(ctx context.Context, branchID uuid.UUID, code string) (Product, error)
	InsertProduct(ctx context.Context, product Product) error
	ReactivateProduct(ctx context.Context, id uuid.UUID) error
	UpdateProductStock(ctx context.Context, id uuid.UUID, stock int64) error
	UpdateProductCost(ctx context.Context, id uuid.UUID, cost decimal.Decimal) error
	InsertMovement(ctx context.Context, movement StockMovement) error
	IncrementSaleSequence(ctx context.Context, day time.Time) (int64, error)
	InsertSale(ctx context.Context, sale Sale) error
	GetSaleForUpdate(ctx context.Context, id uuid.UUID) (Sale, error)
	MarkSaleCancelled(ctx context.Context, id uuid.UUID, reason string, at time.Time) error
}

// Repository persists inventory data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a read-committed transaction; locking
// ordering inside the callback is what keeps concurrent writers serialized.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

const productColumns = `id, branch_id, code, name, unit_cost, unit_price, current_stock, reorder_threshold, active, created_at, updated_at`

func scanProduct(row pgx.Row) (Product, error) {
	var p Product
	err := row.Scan(&p.ID, &p.BranchID, &p.Code, &p.Name, &p.UnitCost, &p.UnitPrice, &p.CurrentStock, &p.ReorderThreshold, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, ErrProductNotFound
	}
	if err != nil {
		return Product{}, err
	}
	return p, nil
}

// GetProduct loads the projection regardless of active flag.
func (r *Repository) GetProduct(ctx context.Context, id uuid.UUID) (Product, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id)
	return scanProduct(row)
}

// IncrementSaleSequence is the pool-level sequencer primitive, exposed so
// test harnesses can verify uniqueness outside a sale transaction.
func (r *Repository) IncrementSaleSequence(ctx context.Context, day time.Time) (int64, error) {
	return incrementSaleSequence(ctx, r.pool, day)
}

// GetSale loads a sale aggregate with its lines.
func (r *Repository) GetSale(ctx context.Context, id uuid.UUID) (Sale, error) {
	return getSale(ctx, r.pool, `WHERE s.id = $1`, id)
}

// GetSaleByNumber loads a sale aggregate by its number.
func (r *Repository) GetSaleByNumber(ctx context.Context, number string) (Sale, error) {
	return getSale(ctx, r.pool, `WHERE s.number = $1`, number)
}

// ListMovements returns ledger entries matching the filter, newest first,
// together with the total match count.
func (r *Repository) ListMovements(ctx context.Context, filter MovementFilter) ([]StockMovement, int, error) {
	where := ` WHERE 1=1`
	args := []any{}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if filter.ProductID != nil {
		where += ` AND product_id = ` + arg(*filter.ProductID)
	}
	if filter.BranchID != nil {
		where += ` AND branch_id = ` + arg(*filter.BranchID)
	}
	if filter.Kind != "" {
		where += ` AND kind = ` + arg(string(filter.Kind))
	}
	if !filter.From.IsZero() {
		where += ` AND occurred_at >= ` + arg(filter.From)
	}
	if !filter.To.IsZero() {
		where += ` AND occurred_at <= ` + arg(filter.To)
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM stock_movements`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	perPage := filter.PerPage
	if perPage <= 0 {
		perPage = 50
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	query := `SELECT ` + movementColumns + ` FROM stock_movements` + where +
		` ORDER BY occurred_at DESC, id DESC LIMIT ` + arg(perPage) + ` OFFSET ` + arg((page-1)*perPage)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var movements []StockMovement
	for rows.Next() {
		m, err := scanMovement(rows)
		if err != nil {
			return nil, 0, err
		}
		movements = append(movements, m)
	}
	return movements, total, rows.Err()
}

func (r *txRepo) GetProductForUpdate(ctx context.Context, id uuid.UUID) (Product, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1 AND active FOR UPDATE`, id)
	return scanProduct(row)
}

func (r *txRepo) GetProductByCodeForUpdate(ctx context.Context, branchID uuid.UUID, code string) (Product, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE branch_id = $1 AND code = $2 FOR UPDATE`, branchID, code)
	return scanProduct(row)
}

func (r *txRepo) InsertProduct(ctx context.Context, p Product) error {
	_, err := r.tx.Exec(ctx, `
		INSERT INTO products (id, branch_id, code, name, unit_cost, unit_price, current_stock, reorder_threshold, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		p.ID, p.BranchID, p.Code, p.Name, p.UnitCost, p.UnitPrice, p.CurrentStock, p.ReorderThreshold, p.Active, p.CreatedAt, p.UpdatedAt)
	return err
}

func (r *txRepo) ReactivateProduct(ctx context.Context, id uuid.UUID) error {
	_, err := r.tx.Exec(ctx, `UPDATE products SET active = TRUE, updated_at = NOW() WHERE id = $1`, id)
	return err
}

func (r *txRepo) UpdateProductStock(ctx context.Context, id uuid.UUID, stock int64) error {
	tag, err := r.tx.Exec(ctx, `UPDATE products SET current_stock = $2, updated_at = NOW() WHERE id = $1`, id, stock)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrProductNotFound
	}
	return nil
}

func (r *txRepo) UpdateProductCost(ctx context.Context, id uuid.UUID, cost decimal.Decimal) error {
	_, err := r.tx.Exec(ctx, `UPDATE products SET unit_cost = $2, updated_at = NOW() WHERE id = $1`, id, cost)
	return err
}

const movementColumns = `id, product_id, branch_id, kind, quantity, stock_before, stock_after, unit_cost, counterparty_branch_id, sale_id, actor_id, reason, note, occurred_at`

func scanMovement(row pgx.Row) (StockMovement, error) {
	var m StockMovement
	err := row.Scan(&m.ID, &m.ProductID, &m.BranchID, &m.Kind, &m.Quantity, &m.StockBefore, &m.StockAfter, &m.UnitCost, &m.CounterpartyBranchID, &m.SaleID, &m.ActorID, &m.Reason, &m.Note, &m.OccurredAt)
	return m, err
}

func (r *txRepo) InsertMovement(ctx context.Context, m StockMovement) error {
	_, err := r.tx.Exec(ctx, `
		INSERT INTO stock_movements (`+movementColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		m.ID, m.ProductID, m.BranchID, string(m.Kind), m.Quantity, m.StockBefore, m.StockAfter, m.UnitCost,
		m.CounterpartyBranchID, m.SaleID, m.ActorID, m.Reason, m.Note, m.OccurredAt)
	return err
}

func (r *txRepo) IncrementSaleSequence(ctx context.Context, day time.Time) (int64, error) {
	return incrementSaleSequence(ctx, r.tx, day)
}

func (r *txRepo) InsertSale(ctx context.Context, sale Sale) error {
	_, err := r.tx.Exec(ctx, `
		INSERT INTO sales (id, number, branch_id, subtotal, discount, total, status, note, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		sale.ID, sale.Number, sale.BranchID, sale.Subtotal, sale.Discount, sale.Total, string(sale.Status), sale.Note, sale.CreatedBy, sale.CreatedAt)
	if err != nil {
		return err
	}
	for i, line := range sale.Lines {
		_, err := r.tx.Exec(ctx, `
			INSERT INTO sale_lines (sale_id, line_no, product_id, product_code, quantity, unit_price, subtotal)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			sale.ID, i+1, line.ProductID, line.ProductCode, line.Quantity, line.UnitPrice, line.Subtotal)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *txRepo) GetSaleForUpdate(ctx context.Context, id uuid.UUID) (Sale, error) {
	// Lock the header row first so a concurrent cancellation serializes here.
	if _, err := r.tx.Exec(ctx, `SELECT 1 FROM sales WHERE id = $1 FOR UPDATE`, id); err != nil {
		return Sale{}, err
	}
	return getSale(ctx, r.tx, `WHERE s.id = $1`, id)
}

func (r *txRepo) MarkSaleCancelled(ctx context.Context, id uuid.UUID, reason string, at time.Time) error {
	tag, err := r.tx.Exec(ctx, `
		UPDATE sales SET status = $2, cancel_reason = $3, cancelled_at = $4
		WHERE id = $1 AND status = $5`,
		id, string(SaleCancelled), reason, at, string(SaleCompleted))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSaleAlreadyCancelled
	}
	return nil
}

// pgx pools and transactions share QueryRow/Query signatures; keep a minimal
// local interface so pool-level and tx-level reads reuse the same helpers.
type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func incrementSaleSequence(ctx context.Context, q rowQuerier, day time.Time) (int64, error) {
	var counter int64
	err := q.QueryRow(ctx, `
		INSERT INTO sale_sequences (day, counter) VALUES ($1::date, 1)
		ON CONFLICT (day) DO UPDATE SET counter = sale_sequences.counter + 1
		RETURNING counter`, day.UTC()).Scan(&counter)
	if err != nil {
		return 0, fmt.Errorf("inventory: increment sale sequence: %w", err)
	}
	return counter, nil
}

func getSale(ctx context.Context, q rowQuerier, where string, arg any) (Sale, error) {
	var s Sale
	var status string
	err := q.QueryRow(ctx, `
		SELECT s.id, s.number, s.branch_id, s.subtotal, s.discount, s.total, s.status, s.note, s.created_by, s.created_at, s.cancelled_at, s.cancel_reason
		FROM sales s `+where, arg).
		Scan(&s.ID, &s.Number, &s.BranchID, &s.Subtotal, &s.Discount, &s.Total, &status, &s.Note, &s.CreatedBy, &s.CreatedAt, &s.CancelledAt, &s.CancelReason)
	if errors.Is(err, pgx.ErrNoRows) {
		return Sale{}, ErrSaleNotFound
	}
	if err != nil {
		return Sale{}, err
	}
	s.Status = SaleStatus(status)

	rows, err := q.Query(ctx, `
		SELECT product_id, product_code, quantity, unit_price, subtotal
		FROM sale_lines WHERE sale_id = $1 ORDER BY line_no`, s.ID)
	if err != nil {
		return Sale{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var line SaleLine
		if err := rows.Scan(&line.ProductID, &line.ProductCode, &line.Quantity, &line.UnitPrice, &line.Subtotal); err != nil {
			return Sale{}, err
		}
		s.Lines = append(s.Lines, line)
	}
	return s, rows.Err()
}
