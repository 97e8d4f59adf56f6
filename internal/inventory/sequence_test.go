package inventory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

type memorySequencerStore struct {
	mu       sync.Mutex
	counters map[string]int64
}

func (s *memorySequencerStore) IncrementSaleSequence(ctx context.Context, day time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.counters == nil {
		s.counters = make(map[string]int64)
	}
	key := day.UTC().Format("2006-01-02")
	s.counters[key]++
	return s.counters[key], nil
}

func TestSequencerNumbersResetPerDay(t *testing.T) {
	seq := NewSequencer(&memorySequencerStore{})
	ctx := context.Background()

	monday := time.Date(2026, time.March, 9, 10, 0, 0, 0, time.UTC)
	tuesday := monday.AddDate(0, 0, 1)

	first, err := seq.Next(ctx, monday)
	require.NoError(t, err)
	require.Equal(t, "VTA-20260309-0001", first)

	second, err := seq.Next(ctx, monday)
	require.NoError(t, err)
	require.Equal(t, "VTA-20260309-0002", second)

	nextDay, err := seq.Next(ctx, tuesday)
	require.NoError(t, err)
	require.Equal(t, "VTA-20260310-0001", nextDay)
}

func TestSequencerConcurrentNumbersDistinct(t *testing.T) {
	seq := NewSequencer(&memorySequencerStore{})
	day := time.Date(2026, time.March, 9, 0, 0, 0, 0, time.UTC)

	var mu sync.Mutex
	numbers := make(map[string]struct{})
	var g errgroup.Group
	for i := 0; i < 50; i++ {
		g.Go(func() error {
			number, err := seq.Next(context.Background(), day)
			if err != nil {
				return err
			}
			mu.Lock()
			numbers[number] = struct{}{}
			mu.Unlock()
			return nil
		})
	}
	require.NoError(t, g.Wait())
	require.Len(t, numbers, 50)
}
