package analytics

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/meridian-retail/meridian/internal/inventory"
)

// Repository exposes the snapshot reads the engine computes over. All
// methods are read-only; the engine never blocks the mutation path.
type Repository interface {
	ActiveProducts(ctx context.Context, branchID *uuid.UUID) ([]inventory.Product, error)
	SoldQuantities(ctx context.Context, branchID *uuid.UUID, from, to time.Time) (map[uuid.UUID]int64, error)
	OutboundValues(ctx context.Context, branchID *uuid.UUID, from, to time.Time) (map[uuid.UUID]decimal.Decimal, error)
	StockAsOf(ctx context.Context, productID uuid.UUID, at time.Time) (int64, bool, error)
	LastMovements(ctx context.Context, branchID *uuid.UUID) (map[uuid.UUID]LastMovement, error)
	MovementSummary(ctx context.Context, branchID *uuid.UUID, from, to time.Time) ([]KindSummary, error)
}

// Service is the read-side analytics engine over the stock ledger and the
// current-stock projection.
type Service struct {
	repo  Repository
	cache *Cache
	now   func() time.Time
}

// NewService wires the repository with an optional cache helper.
func NewService(repo Repository, cache *Cache) *Service {
	return &Service{repo: repo, cache: cache, now: func() time.Time { return time.Now().UTC() }}
}

// RotationIndex computes sales velocity relative to average held stock for
// every product of the branch over the window ending now.
func (s *Service) RotationIndex(ctx context.Context, branchID *uuid.UUID, days int) ([]RotationEntry, error) {
	if days <= 0 {
		days = 30
	}
	to := s.now()
	from := to.AddDate(0, 0, -days)

	var entries []RotationEntry
	key, err := s.cacheKey(ctx, "rotation", branchToken(branchID), fmt.Sprint(days))
	if err != nil {
		return nil, err
	}
	err = s.fetch(ctx, key, &entries, func(ctx context.Context) (any, error) {
		return s.computeRotation(ctx, branchID, from, to, days)
	})
	return entries, err
}

func (s *Service) computeRotation(ctx context.Context, branchID *uuid.UUID, from, to time.Time, days int) ([]RotationEntry, error) {
	products, err := s.repo.ActiveProducts(ctx, branchID)
	if err != nil {
		return nil, err
	}
	sold, err := s.repo.SoldQuantities(ctx, branchID, from, to)
	if err != nil {
		return nil, err
	}

	entries := make([]RotationEntry, 0, len(products))
	for _, p := range products {
		qty := sold[p.ID]
		stockStart, ok, err := s.repo.StockAsOf(ctx, p.ID, from)
		if err != nil {
			return nil, err
		}
		if !ok {
			stockStart = 0
		}
		stockEnd, ok, err := s.repo.StockAsOf(ctx, p.ID, to)
		if err != nil {
			return nil, err
		}
		if !ok {
			stockEnd = p.CurrentStock
		}

		entry := RotationEntry{
			ProductID:    p.ID,
			Code:         p.Code,
			Name:         p.Name,
			SoldQuantity: qty,
			StockStart:   stockStart,
			StockEnd:     stockEnd,
		}
		avg := float64(stockStart+stockEnd) / 2
		if avg > 0 {
			index := float64(qty) / avg
			entry.Index = &index
			class := classifyRotation(index, days)
			entry.Class = &class
		}
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i].Index, entries[j].Index
		switch {
		case a == nil && b == nil:
			return entries[i].ProductID.String() < entries[j].ProductID.String()
		case a == nil:
			return false
		case b == nil:
			return true
		case *a != *b:
			return *a > *b
		}
		return entries[i].ProductID.String() < entries[j].ProductID.String()
	})
	return entries, nil
}

// classifyRotation normalizes the window index to a monthly rate before
// banding it.
func classifyRotation(index float64, days int) RotationClass {
	monthly := index * 30 / float64(days)
	switch {
	case monthly > 2:
		return RotationHigh
	case monthly > 1:
		return RotationMedium
	default:
		return RotationLow
	}
}

// ABCClassification ranks products by trailing outbound value (EXIT and SALE
// movements at the unit cost snapshotted on each entry) and assigns Pareto
// classes: cumulative <=80% A, <=95% B, else C. Ties rank by product id so
// the result is deterministic.
func (s *Service) ABCClassification(ctx context.Context, branchID *uuid.UUID, from, to time.Time) ([]ABCEntry, error) {
	key, err := s.cacheKey(ctx, "abc", branchToken(branchID), from.Format("2006-01-02"), to.Format("2006-01-02"))
	if err != nil {
		return nil, err
	}
	var entries []ABCEntry
	err = s.fetch(ctx, key, &entries, func(ctx context.Context) (any, error) {
		return s.computeABC(ctx, branchID, from, to)
	})
	return entries, err
}

func (s *Service) computeABC(ctx context.Context, branchID *uuid.UUID, from, to time.Time) ([]ABCEntry, error) {
	values, err := s.repo.OutboundValues(ctx, branchID, from, to)
	if err != nil {
		return nil, err
	}
	products, err := s.repo.ActiveProducts(ctx, branchID)
	if err != nil {
		return nil, err
	}
	byID := make(map[uuid.UUID]inventory.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}

	entries := make([]ABCEntry, 0, len(values))
	total := decimal.Zero
	for id, value := range values {
		p := byID[id]
		entries = append(entries, ABCEntry{ProductID: id, Code: p.Code, Name: p.Name, Value: value})
		total = total.Add(value)
	}
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].Value.Equal(entries[j].Value) {
			return entries[i].Value.GreaterThan(entries[j].Value)
		}
		return entries[i].ProductID.String() < entries[j].ProductID.String()
	})

	if total.IsZero() {
		return entries, nil
	}
	cumulative := decimal.Zero
	hundred := decimal.NewFromInt(100)
	for i := range entries {
		cumulative = cumulative.Add(entries[i].Value)
		pct, _ := entries[i].Value.Mul(hundred).Div(total).Float64()
		cumPct, _ := cumulative.Mul(hundred).Div(total).Float64()
		entries[i].PctOfTotal = pct
		entries[i].CumulativePct = cumPct
		switch {
		case cumPct <= 80:
			entries[i].Class = ClassA
		case cumPct <= 95:
			entries[i].Class = ClassB
		default:
			entries[i].Class = ClassC
		}
	}
	return entries, nil
}

// Discrepancies compares each product's projection against the stock_after
// of its most recent ledger entry. A healthy system reports none.
func (s *Service) Discrepancies(ctx context.Context, branchID *uuid.UUID) ([]Discrepancy, error) {
	products, err := s.repo.ActiveProducts(ctx, branchID)
	if err != nil {
		return nil, err
	}
	last, err := s.repo.LastMovements(ctx, branchID)
	if err != nil {
		return nil, err
	}

	var discrepancies []Discrepancy
	for _, p := range products {
		lm, ok := last[p.ID]
		if !ok {
			continue
		}
		if lm.StockAfter == p.CurrentStock {
			continue
		}
		discrepancies = append(discrepancies, Discrepancy{
			ProductID:      p.ID,
			BranchID:       p.BranchID,
			Code:           p.Code,
			Name:           p.Name,
			CurrentStock:   p.CurrentStock,
			LedgerStock:    lm.StockAfter,
			Difference:     p.CurrentStock - lm.StockAfter,
			LastMovementAt: lm.OccurredAt,
		})
	}
	sort.Slice(discrepancies, func(i, j int) bool {
		return discrepancies[i].ProductID.String() < discrepancies[j].ProductID.String()
	})
	return discrepancies, nil
}

// reorderLookbackDays is the trailing window used to estimate daily
// consumption, matching the sales history the suggestions are derived from.
const reorderLookbackDays = 90

// ReorderSuggestions projects consumption over the horizon and suggests
// replenishment quantities for products that will run out inside it.
func (s *Service) ReorderSuggestions(ctx context.Context, branchID *uuid.UUID, horizonDays int) ([]ReorderSuggestion, error) {
	if horizonDays <= 0 {
		horizonDays = 30
	}
	key, err := s.cacheKey(ctx, "reorder", branchToken(branchID), fmt.Sprint(horizonDays))
	if err != nil {
		return nil, err
	}
	var suggestions []ReorderSuggestion
	err = s.fetch(ctx, key, &suggestions, func(ctx context.Context) (any, error) {
		return s.computeReorder(ctx, branchID, horizonDays)
	})
	return suggestions, err
}

func (s *Service) computeReorder(ctx context.Context, branchID *uuid.UUID, horizonDays int) ([]ReorderSuggestion, error) {
	to := s.now()
	from := to.AddDate(0, 0, -reorderLookbackDays)
	sold, err := s.repo.SoldQuantities(ctx, branchID, from, to)
	if err != nil {
		return nil, err
	}
	products, err := s.repo.ActiveProducts(ctx, branchID)
	if err != nil {
		return nil, err
	}

	var suggestions []ReorderSuggestion
	for _, p := range products {
		qty := sold[p.ID]
		if qty <= 0 {
			continue
		}
		velocity := float64(qty) / reorderLookbackDays
		daysOfStock := float64(p.CurrentStock) / velocity
		if daysOfStock >= float64(horizonDays) {
			continue
		}
		suggested := int64(math.Ceil(velocity*float64(horizonDays) - float64(p.CurrentStock)))
		priority := PriorityMedium
		if daysOfStock < 7 {
			priority = PriorityCritical
		} else if daysOfStock < 15 {
			priority = PriorityHigh
		}
		suggestions = append(suggestions, ReorderSuggestion{
			ProductID:         p.ID,
			BranchID:          p.BranchID,
			Code:              p.Code,
			Name:              p.Name,
			CurrentStock:      p.CurrentStock,
			DailyVelocity:     velocity,
			DaysOfStock:       daysOfStock,
			SuggestedQuantity: suggested,
			Priority:          priority,
		})
	}
	sort.Slice(suggestions, func(i, j int) bool {
		if suggestions[i].DaysOfStock != suggestions[j].DaysOfStock {
			return suggestions[i].DaysOfStock < suggestions[j].DaysOfStock
		}
		return suggestions[i].ProductID.String() < suggestions[j].ProductID.String()
	})
	return suggestions, nil
}

// MovementSummary aggregates ledger entries by kind over a window.
func (s *Service) MovementSummary(ctx context.Context, branchID *uuid.UUID, from, to time.Time) ([]KindSummary, error) {
	return s.repo.MovementSummary(ctx, branchID, from, to)
}

// Valuation values current stock per branch at cost and at retail.
func (s *Service) Valuation(ctx context.Context, branchID *uuid.UUID) ([]BranchValuation, error) {
	products, err := s.repo.ActiveProducts(ctx, branchID)
	if err != nil {
		return nil, err
	}
	byBranch := make(map[uuid.UUID]*BranchValuation)
	for _, p := range products {
		v, ok := byBranch[p.BranchID]
		if !ok {
			v = &BranchValuation{BranchID: p.BranchID}
			byBranch[p.BranchID] = v
		}
		stock := decimal.NewFromInt(p.CurrentStock)
		v.Products++
		v.Units += p.CurrentStock
		v.CostValue = v.CostValue.Add(stock.Mul(p.UnitCost))
		v.RetailValue = v.RetailValue.Add(stock.Mul(p.UnitPrice))
	}

	valuations := make([]BranchValuation, 0, len(byBranch))
	for _, v := range byBranch {
		if v.RetailValue.IsPositive() {
			margin, _ := v.RetailValue.Sub(v.CostValue).Mul(decimal.NewFromInt(100)).Div(v.RetailValue).Float64()
			v.MarginPct = margin
		}
		valuations = append(valuations, *v)
	}
	sort.Slice(valuations, func(i, j int) bool {
		return valuations[i].BranchID.String() < valuations[j].BranchID.String()
	})
	return valuations, nil
}

// LowStock lists products at or below their reorder threshold, lowest first.
func (s *Service) LowStock(ctx context.Context, branchID *uuid.UUID) ([]inventory.Product, error) {
	products, err := s.repo.ActiveProducts(ctx, branchID)
	if err != nil {
		return nil, err
	}
	var low []inventory.Product
	for _, p := range products {
		if p.CurrentStock <= p.ReorderThreshold {
			low = append(low, p)
		}
	}
	sort.Slice(low, func(i, j int) bool {
		if low[i].CurrentStock != low[j].CurrentStock {
			return low[i].CurrentStock < low[j].CurrentStock
		}
		return low[i].ID.String() < low[j].ID.String()
	})
	return low, nil
}

func (s *Service) cacheKey(ctx context.Context, parts ...string) (string, error) {
	if s.cache == nil {
		return "", nil
	}
	return s.cache.BuildKey(ctx, append([]string{"analytics"}, parts...)...)
}

func (s *Service) fetch(ctx context.Context, key string, dest any, loader func(context.Context) (any, error)) error {
	if s.cache == nil {
		value, err := loader(ctx)
		if err != nil {
			return err
		}
		return assign(value, dest)
	}
	return s.cache.FetchJSON(ctx, key, dest, loader)
}

func branchToken(branchID *uuid.UUID) string {
	if branchID == nil {
		return "-"
	}
	return branchID.String()
}
