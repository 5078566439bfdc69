package provisioning

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"ghrunner/internal/logging"

	"github.com/alitto/pond/v2"
	"go.uber.org/zap"
)

// SweepResult is the outcome of deleting one resource group.
type SweepResult struct {
	ResourceGroup string
	Err           error
}

// Sweep lists resource groups carrying the teardown prefix and deletes them
// through t with at most concurrency deletions in flight. It is the operator
// remedy for groups left behind by failed provisioning attempts.
func Sweep(ctx context.Context, groups ResourceGroupManager, t *Teardown, concurrency int) ([]SweepResult, error) {
	names, err := groups.ListResourceGroups(ctx)
	if err != nil {
		return nil, err
	}

	var candidates []string
	for _, name := range names {
		if strings.HasPrefix(name, t.prefix) {
			candidates = append(candidates, name)
		}
	}
	sort.Strings(candidates)

	logging.Logger().Info("Sweeping resource groups",
		zap.Int("count", len(candidates)),
		zap.Strings("resource_groups", logging.TruncateSlice(candidates, 10)))

	if len(candidates) == 0 {
		return nil, nil
	}
	if concurrency < 1 {
		concurrency = 1
	}

	var mu sync.Mutex
	results := make([]SweepResult, 0, len(candidates))

	pool := pond.NewPool(concurrency)
	for _, name := range candidates {
		pool.Submit(func() {
			err := t.Delete(ctx, name)
			if err != nil {
				logging.Logger().Error("Failed to sweep resource group",
					zap.String("resource_group", name),
					zap.Error(err))
			}
			mu.Lock()
			results = append(results, SweepResult{ResourceGroup: name, Err: err})
			mu.Unlock()
		})
	}
	pool.StopAndWait()

	sort.Slice(results, func(i, j int) bool {
		return results[i].ResourceGroup < results[j].ResourceGroup
	})

	var failed int
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	if failed > 0 {
		return results, fmt.Errorf("failed to delete %d of %d resource groups", failed, len(results))
	}
	return results, nil
}
