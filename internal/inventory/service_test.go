package inventory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

type memoryRepo struct {
	mu        sync.Mutex
	products  map[uuid.UUID]Product
	movements []StockMovement
	sales     map[uuid.UUID]Sale
	sequences map[string]int64

	// onTxStart, when set, runs at the top of every WithTx with the lock
	// held. Tests use it to interleave state changes between retry attempts.
	onTxStart func()
	// insertProductErr is returned once by the next InsertProduct call.
	insertProductErr error
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		products:  make(map[uuid.UUID]Product),
		sales:     make(map[uuid.UUID]Sale),
		sequences: make(map[string]int64),
	}
}

func (r *memoryRepo) seed(p Product) Product {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.products[p.ID] = p
	return p
}

type memoryTx struct {
	repo *memoryRepo
}

// WithTx serializes callbacks with a mutex and rolls the state back when the
// callback fails, mimicking transaction semantics closely enough for the
// coordinator's logic.
func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.onTxStart != nil {
		r.onTxStart()
	}

	products := make(map[uuid.UUID]Product, len(r.products))
	for k, v := range r.products {
		products[k] = v
	}
	sales := make(map[uuid.UUID]Sale, len(r.sales))
	for k, v := range r.sales {
		sales[k] = v
	}
	sequences := make(map[string]int64, len(r.sequences))
	for k, v := range r.sequences {
		sequences[k] = v
	}
	movementsLen := len(r.movements)

	if err := fn(ctx, &memoryTx{repo: r}); err != nil {
		r.products = products
		r.sales = sales
		r.sequences = sequences
		r.movements = r.movements[:movementsLen]
		return err
	}
	return nil
}

func (r *memoryRepo) GetProduct(ctx context.Context, id uuid.UUID) (Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.products[id]
	if !ok {
		return Product{}, ErrProductNotFound
	}
	return p, nil
}

func (r *memoryRepo) GetSale(ctx context.Context, id uuid.UUID) (Sale, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sale, ok := r.sales[id]
	if !ok {
		return Sale{}, ErrSaleNotFound
	}
	return sale, nil
}

func (r *memoryRepo) GetSaleByNumber(ctx context.Context, number string) (Sale, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sale := range r.sales {
		if sale.Number == number {
			return sale, nil
		}
	}
	return Sale{}, ErrSaleNotFound
}

func (r *memoryRepo) ListMovements(ctx context.Context, filter MovementFilter) ([]StockMovement, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []StockMovement
	for _, m := range r.movements {
		if filter.ProductID != nil && m.ProductID != *filter.ProductID {
			continue
		}
		if filter.BranchID != nil && m.BranchID != *filter.BranchID {
			continue
		}
		if filter.Kind != "" && m.Kind != filter.Kind {
			continue
		}
		out = append(out, m)
	}
	return out, len(out), nil
}

func (tx *memoryTx) GetProductForUpdate(ctx context.Context, id uuid.UUID) (Product, error) {
	p, ok := tx.repo.products[id]
	if !ok || !p.Active {
		return Product{}, ErrProductNotFound
	}
	return p, nil
}

func (tx *memoryTx) GetProductByCodeForUpdate(ctx context.Context, branchID uuid.UUID, code string) (Product, error) {
	for _, p := range tx.repo.products {
		if p.BranchID == branchID && p.Code == code {
			return p, nil
		}
	}
	return Product{}, ErrProductNotFound
}

func (tx *memoryTx) InsertProduct(ctx context.Context, product Product) error {
	if err := tx.repo.insertProductErr; err != nil {
		tx.repo.insertProductErr = nil
		return err
	}
	for _, p := range tx.repo.products {
		if p.BranchID == product.BranchID && p.Code == product.Code {
			return &pgconn.PgError{Code: "23505", ConstraintName: "products_branch_id_code_key"}
		}
	}
	tx.repo.products[product.ID] = product
	return nil
}

func (tx *memoryTx) ReactivateProduct(ctx context.Context, id uuid.UUID) error {
	p, ok := tx.repo.products[id]
	if !ok {
		return ErrProductNotFound
	}
	p.Active = true
	tx.repo.products[id] = p
	return nil
}

func (tx *memoryTx) UpdateProductStock(ctx context.Context, id uuid.UUID, stock int64) error {
	p, ok := tx.repo.products[id]
	if !ok {
		return ErrProductNotFound
	}
	p.CurrentStock = stock
	tx.repo.products[id] = p
	return nil
}

func (tx *memoryTx) UpdateProductCost(ctx context.Context, id uuid.UUID, cost decimal.Decimal) error {
	p, ok := tx.repo.products[id]
	if !ok {
		return ErrProductNotFound
	}
	p.UnitCost = cost
	tx.repo.products[id] = p
	return nil
}

func (tx *memoryTx) InsertMovement(ctx context.Context, movement StockMovement) error {
	tx.repo.movements = append(tx.repo.movements, movement)
	return nil
}

func (tx *memoryTx) IncrementSaleSequence(ctx context.Context, day time.Time) (int64, error) {
	key := day.Format("2006-01-02")
	tx.repo.sequences[key]++
	return tx.repo.sequences[key], nil
}

func (tx *memoryTx) InsertSale(ctx context.Context, sale Sale) error {
	tx.repo.sales[sale.ID] = sale
	return nil
}

func (tx *memoryTx) GetSaleForUpdate(ctx context.Context, id uuid.UUID) (Sale, error) {
	sale, ok := tx.repo.sales[id]
	if !ok {
		return Sale{}, ErrSaleNotFound
	}
	return sale, nil
}

func (tx *memoryTx) MarkSaleCancelled(ctx context.Context, id uuid.UUID, reason string, at time.Time) error {
	sale, ok := tx.repo.sales[id]
	if !ok {
		return ErrSaleNotFound
	}
	if sale.Status == SaleCancelled {
		return ErrSaleAlreadyCancelled
	}
	sale.Status = SaleCancelled
	sale.CancelReason = reason
	sale.CancelledAt = &at
	tx.repo.sales[id] = sale
	return nil
}

func testProduct(stock int64) Product {
	return Product{
		ID:               uuid.New(),
		BranchID:         uuid.New(),
		Code:             "SKU-001",
		Name:             "Blue Widget",
		UnitCost:         decimal.NewFromInt(1200),
		UnitPrice:        decimal.NewFromInt(2000),
		CurrentStock:     stock,
		ReorderThreshold: 5,
		Active:           true,
	}
}

func newTestService(repo *memoryRepo) *Service {
	return NewService(repo, nil, nil, ServiceConfig{})
}

func TestEntrySaleCancelRoundTrip(t *testing.T) {
	repo := newMemoryRepo()
	product := repo.seed(testProduct(50))
	svc := newTestService(repo)
	actor := uuid.New()
	ctx := context.Background()

	entry, err := svc.Entry(ctx, EntryInput{ProductID: product.ID, Quantity: 20, ActorID: actor})
	require.NoError(t, err)
	require.EqualValues(t, 50, entry.Movement.StockBefore)
	require.EqualValues(t, 70, entry.Movement.StockAfter)
	require.EqualValues(t, 70, entry.Product.CurrentStock)

	sale, err := svc.RecordSale(ctx, SaleInput{
		BranchID: product.BranchID,
		Lines:    []SaleLineInput{{ProductID: product.ID, Quantity: 5}},
		ActorID:  actor,
	})
	require.NoError(t, err)
	require.Equal(t, SaleCompleted, sale.Sale.Status)
	require.Len(t, sale.Movements, 1)
	require.Equal(t, MovementSale, sale.Movements[0].Kind)
	require.EqualValues(t, 65, sale.Movements[0].StockAfter)
	require.True(t, sale.Sale.Total.Equal(decimal.NewFromInt(10000)), "total %s", sale.Sale.Total)
	require.True(t, sale.Sale.Lines[0].UnitPrice.Equal(decimal.NewFromInt(2000)))

	cancelled, err := svc.CancelSale(ctx, CancelSaleInput{SaleID: sale.Sale.ID, Reason: "customer returned", ActorID: actor})
	require.NoError(t, err)
	require.Equal(t, SaleCancelled, cancelled.Sale.Status)
	require.Len(t, cancelled.Movements, 1)
	require.Equal(t, MovementSaleReversal, cancelled.Movements[0].Kind)

	final, err := svc.GetProduct(ctx, product.ID)
	require.NoError(t, err)
	require.EqualValues(t, 70, final.CurrentStock)
}

func TestCancelSaleRestoresAdditively(t *testing.T) {
	repo := newMemoryRepo()
	product := repo.seed(testProduct(30))
	svc := newTestService(repo)
	actor := uuid.New()
	ctx := context.Background()

	sale, err := svc.RecordSale(ctx, SaleInput{
		BranchID: product.BranchID,
		Lines:    []SaleLineInput{{ProductID: product.ID, Quantity: 10}},
		ActorID:  actor,
	})
	require.NoError(t, err)

	// Stock moves between sale and cancellation; the reversal still adds
	// exactly the sold quantity back.
	_, err = svc.Exit(ctx, ExitInput{ProductID: product.ID, Quantity: 15, Reason: "store use", ActorID: actor})
	require.NoError(t, err)

	_, err = svc.CancelSale(ctx, CancelSaleInput{SaleID: sale.Sale.ID, Reason: "void", ActorID: actor})
	require.NoError(t, err)

	final, err := svc.GetProduct(ctx, product.ID)
	require.NoError(t, err)
	require.EqualValues(t, 15, final.CurrentStock)

	_, err = svc.CancelSale(ctx, CancelSaleInput{SaleID: sale.Sale.ID, Reason: "again", ActorID: actor})
	require.ErrorIs(t, err, ErrSaleAlreadyCancelled)
}

func TestInsufficientStockRejectsWholeSale(t *testing.T) {
	repo := newMemoryRepo()
	branch := uuid.New()
	plenty := testProduct(100)
	plenty.BranchID = branch
	scarce := testProduct(3)
	scarce.BranchID = branch
	scarce.Code = "SKU-002"
	repo.seed(plenty)
	repo.seed(scarce)
	svc := newTestService(repo)
	ctx := context.Background()

	_, err := svc.RecordSale(ctx, SaleInput{
		BranchID: branch,
		Lines: []SaleLineInput{
			{ProductID: plenty.ID, Quantity: 10},
			{ProductID: scarce.ID, Quantity: 5},
		},
		ActorID: uuid.New(),
	})
	require.ErrorIs(t, err, ErrInsufficientStock)
	var insufficient *InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	require.Equal(t, scarce.ID, insufficient.ProductID)
	require.EqualValues(t, 5, insufficient.Requested)
	require.EqualValues(t, 3, insufficient.Available)

	// The failed sale must not have touched either product.
	p, err := svc.GetProduct(ctx, plenty.ID)
	require.NoError(t, err)
	require.EqualValues(t, 100, p.CurrentStock)
	require.Empty(t, repo.movements)
}

func TestSaleAggregatesRepeatedLines(t *testing.T) {
	repo := newMemoryRepo()
	product := repo.seed(testProduct(8))
	svc := newTestService(repo)
	ctx := context.Background()

	// Two lines for the same product requesting 10 total against 8 on hand.
	_, err := svc.RecordSale(ctx, SaleInput{
		BranchID: product.BranchID,
		Lines: []SaleLineInput{
			{ProductID: product.ID, Quantity: 6},
			{ProductID: product.ID, Quantity: 4},
		},
		ActorID: uuid.New(),
	})
	require.ErrorIs(t, err, ErrInsufficientStock)
}

func TestSaleValidation(t *testing.T) {
	repo := newMemoryRepo()
	product := repo.seed(testProduct(50))
	svc := newTestService(repo)
	ctx := context.Background()
	actor := uuid.New()

	_, err := svc.RecordSale(ctx, SaleInput{BranchID: product.BranchID, ActorID: actor})
	require.ErrorIs(t, err, ErrEmptySale)

	_, err = svc.RecordSale(ctx, SaleInput{
		BranchID: product.BranchID,
		Lines:    []SaleLineInput{{ProductID: product.ID, Quantity: 0}},
		ActorID:  actor,
	})
	require.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = svc.RecordSale(ctx, SaleInput{
		BranchID: product.BranchID,
		Lines:    []SaleLineInput{{ProductID: product.ID, Quantity: 1}},
		Discount: decimal.NewFromInt(5000), // exceeds the 2000 subtotal
		ActorID:  actor,
	})
	require.ErrorIs(t, err, ErrInvalidDiscount)

	otherBranch := uuid.New()
	_, err = svc.RecordSale(ctx, SaleInput{
		BranchID: otherBranch,
		Lines:    []SaleLineInput{{ProductID: product.ID, Quantity: 1}},
		ActorID:  actor,
	})
	require.ErrorIs(t, err, ErrProductNotFound)
}

func TestTransferFindOrCreateDestination(t *testing.T) {
	repo := newMemoryRepo()
	source := repo.seed(testProduct(70))
	svc := newTestService(repo)
	destBranch := uuid.New()
	ctx := context.Background()

	result, err := svc.Transfer(ctx, TransferInput{
		ProductID:           source.ID,
		Quantity:            10,
		DestinationBranchID: destBranch,
		ActorID:             uuid.New(),
	})
	require.NoError(t, err)
	require.EqualValues(t, 60, result.Source.Product.CurrentStock)
	require.EqualValues(t, 10, result.Destination.Product.CurrentStock)
	require.Equal(t, source.Code, result.Destination.Product.Code)
	require.Equal(t, destBranch, result.Destination.Product.BranchID)
	require.NotEqual(t, source.ID, result.Destination.Product.ID)

	require.Equal(t, MovementTransferOut, result.Source.Movement.Kind)
	require.NotNil(t, result.Source.Movement.CounterpartyBranchID)
	require.Equal(t, destBranch, *result.Source.Movement.CounterpartyBranchID)
	require.Equal(t, MovementTransferIn, result.Destination.Movement.Kind)
	require.NotNil(t, result.Destination.Movement.CounterpartyBranchID)
	require.Equal(t, source.BranchID, *result.Destination.Movement.CounterpartyBranchID)
	require.EqualValues(t, 0, result.Destination.Movement.StockBefore)

	// A second transfer reuses the destination row.
	again, err := svc.Transfer(ctx, TransferInput{
		ProductID:           source.ID,
		Quantity:            5,
		DestinationBranchID: destBranch,
		ActorID:             uuid.New(),
	})
	require.NoError(t, err)
	require.Equal(t, result.Destination.Product.ID, again.Destination.Product.ID)
	require.EqualValues(t, 15, again.Destination.Product.CurrentStock)
}

func TestTransferRetriesWhenDestinationCreatedConcurrently(t *testing.T) {
	repo := newMemoryRepo()
	source := repo.seed(testProduct(50))
	svc := newTestService(repo)
	destBranch := uuid.New()
	ctx := context.Background()

	// Somebody else commits the destination row between our lookup miss and
	// our insert: the insert fails with a unique violation, and their row
	// shows up for the second attempt.
	competitor := Product{
		ID:               uuid.New(),
		BranchID:         destBranch,
		Code:             source.Code,
		Name:             source.Name,
		UnitCost:         source.UnitCost,
		UnitPrice:        source.UnitPrice,
		CurrentStock:     7,
		ReorderThreshold: source.ReorderThreshold,
		Active:           true,
	}
	repo.insertProductErr = &pgconn.PgError{Code: "23505", ConstraintName: "products_branch_id_code_key"}
	attempts := 0
	repo.onTxStart = func() {
		attempts++
		if attempts == 2 {
			repo.products[competitor.ID] = competitor
		}
	}

	result, err := svc.Transfer(ctx, TransferInput{
		ProductID:           source.ID,
		Quantity:            10,
		DestinationBranchID: destBranch,
		ActorID:             uuid.New(),
	})
	require.NoError(t, err)
	require.Equal(t, 2, attempts)
	require.Equal(t, competitor.ID, result.Destination.Product.ID)
	require.EqualValues(t, 17, result.Destination.Product.CurrentStock)
	require.EqualValues(t, 40, result.Source.Product.CurrentStock)

	// The rolled-back first attempt must leave no trace in the ledger.
	require.Len(t, repo.movements, 2)
	count := 0
	for _, p := range repo.products {
		if p.BranchID == destBranch && p.Code == source.Code {
			count++
		}
	}
	require.Equal(t, 1, count)
}

func TestTransferReactivatesDormantDestination(t *testing.T) {
	repo := newMemoryRepo()
	source := repo.seed(testProduct(50))
	dormant := testProduct(0)
	dormant.BranchID = uuid.New()
	dormant.Active = false
	repo.seed(dormant)
	svc := newTestService(repo)
	ctx := context.Background()

	result, err := svc.Transfer(ctx, TransferInput{
		ProductID:           source.ID,
		Quantity:            10,
		DestinationBranchID: dormant.BranchID,
		ActorID:             uuid.New(),
	})
	require.NoError(t, err)
	require.Equal(t, dormant.ID, result.Destination.Product.ID)
	require.EqualValues(t, 10, result.Destination.Product.CurrentStock)

	revived, err := svc.GetProduct(ctx, dormant.ID)
	require.NoError(t, err)
	require.True(t, revived.Active)
}

// contentionRepo fails the first n transactions with a serialization error
// before delegating, imitating lock races on a busy row.
type contentionRepo struct {
	*memoryRepo
	failures int
}

func (r *contentionRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r.failures > 0 {
		r.failures--
		return &pgconn.PgError{Code: "40001", Message: "could not serialize access due to concurrent update"}
	}
	return r.memoryRepo.WithTx(ctx, fn)
}

func TestExitSurvivesLockRaces(t *testing.T) {
	base := newMemoryRepo()
	product := base.seed(testProduct(10))
	svc := NewService(&contentionRepo{memoryRepo: base, failures: 2}, nil, nil, ServiceConfig{MaxRetries: 3})
	ctx := context.Background()

	result, err := svc.Exit(ctx, ExitInput{ProductID: product.ID, Quantity: 4, Reason: "damaged", ActorID: uuid.New()})
	require.NoError(t, err)
	require.EqualValues(t, 6, result.Product.CurrentStock)
}

func TestExitReportsConflictWhenRetriesExhausted(t *testing.T) {
	base := newMemoryRepo()
	product := base.seed(testProduct(10))
	svc := NewService(&contentionRepo{memoryRepo: base, failures: 5}, nil, nil, ServiceConfig{MaxRetries: 3})
	ctx := context.Background()

	_, err := svc.Exit(ctx, ExitInput{ProductID: product.ID, Quantity: 4, Reason: "damaged", ActorID: uuid.New()})
	require.ErrorIs(t, err, ErrConcurrencyConflict)

	untouched, err := svc.GetProduct(ctx, product.ID)
	require.NoError(t, err)
	require.EqualValues(t, 10, untouched.CurrentStock)
}

func TestTransferRejections(t *testing.T) {
	repo := newMemoryRepo()
	source := repo.seed(testProduct(5))
	svc := newTestService(repo)
	ctx := context.Background()

	_, err := svc.Transfer(ctx, TransferInput{
		ProductID:           source.ID,
		Quantity:            1,
		DestinationBranchID: source.BranchID,
		ActorID:             uuid.New(),
	})
	require.ErrorIs(t, err, ErrInvalidTransfer)

	_, err = svc.Transfer(ctx, TransferInput{
		ProductID:           source.ID,
		Quantity:            10,
		DestinationBranchID: uuid.New(),
		ActorID:             uuid.New(),
	})
	require.ErrorIs(t, err, ErrInsufficientStock)

	_, err = svc.Transfer(ctx, TransferInput{
		ProductID:           source.ID,
		Quantity:            0,
		DestinationBranchID: uuid.New(),
		ActorID:             uuid.New(),
	})
	require.ErrorIs(t, err, ErrInvalidQuantity)
}

func TestAdjustWritesDirectionalMovement(t *testing.T) {
	repo := newMemoryRepo()
	product := repo.seed(testProduct(40))
	svc := newTestService(repo)
	actor := uuid.New()
	ctx := context.Background()

	down, err := svc.Adjust(ctx, AdjustInput{ProductID: product.ID, CountedStock: 37, Reason: "monthly count", ActorID: actor})
	require.NoError(t, err)
	require.Equal(t, MovementAdjustDown, down.Movement.Kind)
	require.EqualValues(t, 3, down.Movement.Quantity)
	require.EqualValues(t, 37, down.Product.CurrentStock)

	up, err := svc.Adjust(ctx, AdjustInput{ProductID: product.ID, CountedStock: 42, Reason: "recount", ActorID: actor})
	require.NoError(t, err)
	require.Equal(t, MovementAdjustUp, up.Movement.Kind)
	require.EqualValues(t, 5, up.Movement.Quantity)

	_, err = svc.Adjust(ctx, AdjustInput{ProductID: product.ID, CountedStock: 42, Reason: "recount", ActorID: actor})
	require.ErrorIs(t, err, ErrNoAdjustmentNeeded)

	_, err = svc.Adjust(ctx, AdjustInput{ProductID: product.ID, CountedStock: -1, Reason: "bad", ActorID: actor})
	require.ErrorIs(t, err, ErrInvalidQuantity)
}

func TestEntryRestatesCost(t *testing.T) {
	repo := newMemoryRepo()
	product := repo.seed(testProduct(10))
	svc := newTestService(repo)
	ctx := context.Background()

	newCost := decimal.NewFromInt(1500)
	result, err := svc.Entry(ctx, EntryInput{ProductID: product.ID, Quantity: 5, UnitCost: &newCost, ActorID: uuid.New()})
	require.NoError(t, err)
	require.True(t, result.Product.UnitCost.Equal(newCost))
	require.True(t, result.Movement.UnitCost.Equal(newCost), "snapshot reflects the restated cost")
}

func TestExitAndLossRequireReason(t *testing.T) {
	repo := newMemoryRepo()
	product := repo.seed(testProduct(10))
	svc := newTestService(repo)
	ctx := context.Background()
	actor := uuid.New()

	_, err := svc.Exit(ctx, ExitInput{ProductID: product.ID, Quantity: 1, ActorID: actor})
	require.Error(t, err)

	_, err = svc.Loss(ctx, LossInput{ProductID: product.ID, Quantity: 1, ActorID: actor})
	require.Error(t, err)

	loss, err := svc.Loss(ctx, LossInput{ProductID: product.ID, Quantity: 2, Reason: "breakage", ActorID: actor})
	require.NoError(t, err)
	require.Equal(t, MovementLoss, loss.Movement.Kind)
	require.EqualValues(t, 8, loss.Product.CurrentStock)
}

func TestInitialStock(t *testing.T) {
	repo := newMemoryRepo()
	product := testProduct(0)
	repo.seed(product)
	svc := newTestService(repo)
	ctx := context.Background()

	result, err := svc.InitialStock(ctx, InitialStockInput{ProductID: product.ID, Quantity: 25, ActorID: uuid.New()})
	require.NoError(t, err)
	require.Equal(t, MovementInitial, result.Movement.Kind)
	require.EqualValues(t, 0, result.Movement.StockBefore)
	require.EqualValues(t, 25, result.Product.CurrentStock)
}

func TestConcurrentExitsNeverOversell(t *testing.T) {
	repo := newMemoryRepo()
	product := repo.seed(testProduct(10))
	svc := newTestService(repo)
	actor := uuid.New()

	var g errgroup.Group
	results := make([]error, 25)
	for i := range results {
		i := i
		g.Go(func() error {
			_, err := svc.Exit(context.Background(), ExitInput{ProductID: product.ID, Quantity: 1, Reason: "pick", ActorID: actor})
			results[i] = err
			return nil
		})
	}
	require.NoError(t, g.Wait())

	var succeeded, insufficient int
	for _, err := range results {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, ErrInsufficientStock):
			insufficient++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	require.Equal(t, 10, succeeded)
	require.Equal(t, 15, insufficient)

	final, err := svc.GetProduct(context.Background(), product.ID)
	require.NoError(t, err)
	require.EqualValues(t, 0, final.CurrentStock)
}

func TestSaleNumbersAreSequentialPerDay(t *testing.T) {
	repo := newMemoryRepo()
	product := repo.seed(testProduct(1000))
	svc := newTestService(repo)
	ctx := context.Background()
	actor := uuid.New()

	seen := make(map[string]struct{})
	for i := 0; i < 5; i++ {
		result, err := svc.RecordSale(ctx, SaleInput{
			BranchID: product.BranchID,
			Lines:    []SaleLineInput{{ProductID: product.ID, Quantity: 1}},
			ActorID:  actor,
		})
		require.NoError(t, err)
		_, dup := seen[result.Sale.Number]
		require.False(t, dup, "duplicate sale number %s", result.Sale.Number)
		seen[result.Sale.Number] = struct{}{}
	}

	day := time.Date(2026, time.March, 9, 15, 4, 5, 0, time.UTC)
	require.Equal(t, "VTA-20260309-0001", FormatSaleNumber(day, 1))
	require.Equal(t, "VTA-20260309-0042", FormatSaleNumber(day, 42))
}

func TestConcurrentSaleNumbersDistinct(t *testing.T) {
	repo := newMemoryRepo()
	product := repo.seed(testProduct(1000))
	svc := newTestService(repo)
	actor := uuid.New()

	var mu sync.Mutex
	numbers := make(map[string]struct{})
	var g errgroup.Group
	for i := 0; i < 20; i++ {
		g.Go(func() error {
			result, err := svc.RecordSale(context.Background(), SaleInput{
				BranchID: product.BranchID,
				Lines:    []SaleLineInput{{ProductID: product.ID, Quantity: 1}},
				ActorID:  actor,
			})
			if err != nil {
				return err
			}
			mu.Lock()
			numbers[result.Sale.Number] = struct{}{}
			mu.Unlock()
			return nil
		})
	}
	require.NoError(t, g.Wait())
	require.Len(t, numbers, 20)
}

func TestMovementListFilters(t *testing.T) {
	repo := newMemoryRepo()
	product := repo.seed(testProduct(50))
	svc := newTestService(repo)
	ctx := context.Background()
	actor := uuid.New()

	_, err := svc.Entry(ctx, EntryInput{ProductID: product.ID, Quantity: 10, ActorID: actor})
	require.NoError(t, err)
	_, err = svc.Exit(ctx, ExitInput{ProductID: product.ID, Quantity: 3, Reason: "display", ActorID: actor})
	require.NoError(t, err)

	all, pagination, err := svc.ListMovements(ctx, MovementFilter{ProductID: &product.ID})
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, 2, pagination.Total)

	exits, _, err := svc.ListMovements(ctx, MovementFilter{ProductID: &product.ID, Kind: MovementExit})
	require.NoError(t, err)
	require.Len(t, exits, 1)
	require.EqualValues(t, 47, exits[0].StockAfter)
}
