package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/mantlenetworkio/relayer/types"
)

// MemoryStore keeps records in a map. It backs the test suites and can
// serve as a volatile store for development runs.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[uuid.UUID]*types.TransactionRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[uuid.UUID]*types.TransactionRecord)}
}

func (s *MemoryStore) CreateTransaction(ctx context.Context, record *types.TransactionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[record.ID]; exists {
		return fmt.Errorf("duplicate transaction record %s", record.ID)
	}
	cp := *record
	s.records[record.ID] = &cp
	return nil
}

func (s *MemoryStore) UpdateStatus(ctx context.Context, id uuid.UUID, update types.StatusUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[id]
	if !ok {
		return ErrNotFound
	}
	applyUpdate(record, update)
	return nil
}

func (s *MemoryStore) GetTransaction(ctx context.Context, id uuid.UUID) (*types.TransactionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *record
	return &cp, nil
}

func (s *MemoryStore) ListBySender(ctx context.Context, sender common.Address, page, limit int) ([]*types.TransactionRecord, int, error) {
	if page < 1 {
		page = 1
	}
	s.mu.RLock()
	var all []*types.TransactionRecord
	for _, r := range s.records {
		if r.Sender == sender {
			cp := *r
			all = append(all, &cp)
		}
	}
	s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })

	total := len(all)
	start := (page - 1) * limit
	if start >= total {
		return nil, total, nil
	}
	end := start + limit
	if end > total {
		end = total
	}
	return all[start:end], total, nil
}

func (s *MemoryStore) AggregateStats(ctx context.Context, window time.Duration) (*AggregateStats, error) {
	cutoff := time.Now().UTC().Add(-window)

	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &AggregateStats{}
	var gasSum, gasCount uint64
	for _, r := range s.records {
		if r.CreatedAt.Before(cutoff) {
			continue
		}
		stats.Total++
		switch r.Status {
		case types.StatusPending:
			stats.Pending++
		case types.StatusProcessing:
			stats.Processing++
		case types.StatusSubmitted:
			stats.Submitted++
		case types.StatusConfirmed:
			stats.Confirmed++
		case types.StatusFailed:
			stats.Failed++
		case types.StatusCancelled:
			stats.Cancelled++
		}
		if r.GasUsed > 0 {
			gasSum += r.GasUsed
			gasCount++
		}
	}
	if gasCount > 0 {
		stats.AvgGasUsed = float64(gasSum) / float64(gasCount)
	}
	return stats, nil
}

func (s *MemoryStore) Close() error { return nil }
