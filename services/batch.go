package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/perstream/checkout/config"
	"github.com/perstream/checkout/models"
	"github.com/perstream/checkout/utils"
)

// BatchService fans payment requests out to the executor in fixed-size
// groups. Results preserve request order: Results[i] is the outcome of
// Requests[i] regardless of which slots failed, and one slot failing never
// cancels or masks the others.
type BatchService struct {
	executor Executor
	cfg      config.CheckoutConfig
}

func CreateBatchService(executor Executor, cfg config.CheckoutConfig) *BatchService {
	return &BatchService{
		executor: executor,
		cfg:      cfg,
	}
}

// ExecuteBatch runs every request and returns one result per slot. Groups
// run concurrently internally, with a fixed pause between groups to stay
// inside downstream rate limits. The summary is derived from the result
// slice alone.
func (s *BatchService) ExecuteBatch(ctx context.Context, req *models.BatchExecuteRequest) (*models.BatchResult, error) {
	if req == nil || len(req.Requests) == 0 {
		return nil, utils.ValidationErrors{{Field: "requests", Message: "is required"}}
	}
	if len(req.Requests) > s.cfg.MaxBatchSize {
		return nil, utils.ValidationErrors{{
			Field:   "requests",
			Message: fmt.Sprintf("must contain at most %d entries", s.cfg.MaxBatchSize),
		}}
	}

	results := make([]*models.PaymentResult, len(req.Requests))

	groupSize := s.cfg.BatchGroupSize
	if groupSize <= 0 {
		groupSize = 5
	}

	for start := 0; start < len(req.Requests); start += groupSize {
		end := start + groupSize
		if end > len(req.Requests) {
			end = len(req.Requests)
		}

		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(slot int) {
				defer wg.Done()
				defer func() {
					if r := recover(); r != nil {
						results[slot] = &models.PaymentResult{
							Error: fmt.Sprintf("execution panic: %v", r),
						}
					}
				}()
				results[slot] = s.executor.Execute(ctx, req.Requests[slot])
			}(i)
		}
		wg.Wait()

		if end < len(req.Requests) {
			select {
			case <-ctx.Done():
				// Undispatched slots settle as failures so the result slice
				// keeps its shape.
				for i := end; i < len(req.Requests); i++ {
					results[i] = &models.PaymentResult{Error: ctx.Err().Error()}
				}
				return buildBatchResult(results), nil
			case <-time.After(s.cfg.BatchGroupDelay):
			}
		}
	}

	return buildBatchResult(results), nil
}

func buildBatchResult(results []*models.PaymentResult) *models.BatchResult {
	summary := models.BatchSummary{Total: len(results)}

	for i, result := range results {
		if result == nil {
			result = &models.PaymentResult{Error: "no result produced"}
			results[i] = result
		}
		if result.Success {
			summary.Successful++
		}
		if result.Sponsored {
			summary.GasSponsored++
		}
		if result.FallbackUsed {
			summary.FallbackUsed++
		}
	}

	return &models.BatchResult{
		Summary: summary,
		Results: results,
	}
}
