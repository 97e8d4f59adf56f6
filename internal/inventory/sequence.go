package inventory

import (
	"context"
	"fmt"
	"time"
)

const saleNumberPrefix = "VTA"

// FormatSaleNumber renders a sale number as PREFIX-YYYYMMDD-NNNN.
func FormatSaleNumber(day time.Time, counter int64) string {
	return fmt.Sprintf("%s-%s-%04d", saleNumberPrefix, day.UTC().Format("20060102"), counter)
}

// SequencerStore is the atomic increment primitive behind sale numbering.
// Implementations must never hand the same counter value to two callers for
// the same day; a read-max-then-add-one scheme does not qualify.
type SequencerStore interface {
	IncrementSaleSequence(ctx context.Context, day time.Time) (int64, error)
}

// Sequencer issues unique, ordered, human-readable sale numbers. Gaps are
// tolerated (a rolled-back sale burns its counter value), duplicates are not.
type Sequencer struct {
	store SequencerStore
}

// NewSequencer builds a Sequencer over the given store.
func NewSequencer(store SequencerStore) *Sequencer {
	return &Sequencer{store: store}
}

// Next returns the next sale number for the given day.
func (s *Sequencer) Next(ctx context.Context, day time.Time) (string, error) {
	n, err := s.store.IncrementSaleSequence(ctx, day)
	if err != nil {
		return "", fmt.Errorf("inventory: next sale number: %w", err)
	}
	return FormatSaleNumber(day, n), nil
}
