package inventory

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

const (
	defaultBatchSize   = 100
	defaultConcurrency = 4
)

// RepositoryPort abstracts balance reads for the service.
type RepositoryPort interface {
	ListBalances(ctx context.Context, warehouseID int64, productIDs []int64) ([]Balance, error)
}

// ServiceConfig tunes batch reads.
type ServiceConfig struct {
	BatchSize   int
	Concurrency int
}

// Service answers stock availability questions. It never mutates stock.
type Service struct {
	repo        RepositoryPort
	batchSize   int
	concurrency int
}

// NewService constructs the inventory service.
func NewService(repo RepositoryPort, cfg ServiceConfig) *Service {
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	return &Service{repo: repo, batchSize: batch, concurrency: concurrency}
}

// AvailableMany returns the available quantity for every requested product. Large requests are
// split into batches read concurrently; products without a balance row map to zero.
func (s *Service) AvailableMany(ctx context.Context, warehouseID int64, productIDs []int64) (map[int64]decimal.Decimal, error) {
	result := make(map[int64]decimal.Decimal, len(productIDs))
	unique := make([]int64, 0, len(productIDs))
	for _, id := range productIDs {
		if _, seen := result[id]; seen {
			continue
		}
		result[id] = decimal.Zero
		unique = append(unique, id)
	}
	if len(unique) == 0 {
		return result, nil
	}

	batches := make([][]Balance, (len(unique)+s.batchSize-1)/s.batchSize)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i := range batches {
		start := i * s.batchSize
		end := min(start+s.batchSize, len(unique))
		ids := unique[start:end]
		g.Go(func() error {
			balances, err := s.repo.ListBalances(gctx, warehouseID, ids)
			if err != nil {
				return fmt.Errorf("inventory: list balances: %w", err)
			}
			batches[i] = balances
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	for _, batch := range batches {
		for _, bal := range batch {
			if _, ok := result[bal.ProductID]; ok {
				result[bal.ProductID] = bal.Available()
			}
		}
	}
	return result, nil
}
