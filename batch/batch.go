// Package batch runs the same call many times, sequentially or
// concurrently, for benchmarks and bulk cleanups.
package batch

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"

	"github.com/opengovern/resilient-rest/scheduler"
)

// DefaultCalls is used when Config.Calls is zero.
const DefaultCalls = 3

// Config controls a batch run.
type Config struct {
	Calls int
	// Concurrent starts every call at once instead of one after the other.
	Concurrent bool
	// Scheduler, when set, admits each call before it runs.
	Scheduler *scheduler.Scheduler
	Logger    hclog.Logger
}

// Func is one call of a batch. i is the zero-based call index.
type Func[T any] func(ctx context.Context, i int) (T, error)

// Run calls fn cfg.Calls times and returns the results in call order. Failed
// calls leave the zero value in their slot; their errors are aggregated.
// A sequential run keeps going after a failure unless ctx is done.
func Run[T any](ctx context.Context, cfg Config, fn Func[T]) ([]T, error) {
	n := cfg.Calls
	if n <= 0 {
		n = DefaultCalls
	}
	logger := cfg.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	logger = logger.Named("batch")

	results := make([]T, n)
	errs := make([]error, n)

	call := func(i int) {
		if cfg.Scheduler != nil {
			if err := cfg.Scheduler.Enqueue(nil).Wait(ctx); err != nil {
				errs[i] = fmt.Errorf("call %d: %w", i, err)
				return
			}
		}
		res, err := fn(ctx, i)
		if err != nil {
			logger.Debug("call failed", "index", i, "error", err)
			errs[i] = fmt.Errorf("call %d: %w", i, err)
			return
		}
		results[i] = res
	}

	logger.Debug("starting batch", "calls", n, "concurrent", cfg.Concurrent)
	if cfg.Concurrent {
		var wg sync.WaitGroup
		wg.Add(n)
		for i := 0; i < n; i++ {
			go func(i int) {
				defer wg.Done()
				call(i)
			}(i)
		}
		wg.Wait()
	} else {
		for i := 0; i < n; i++ {
			if err := ctx.Err(); err != nil {
				errs[i] = fmt.Errorf("call %d: %w", i, err)
				continue
			}
			call(i)
		}
	}

	var result *multierror.Error
	for _, err := range errs {
		if err != nil {
			result = multierror.Append(result, err)
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		logger.Warn("batch finished with errors", "calls", n, "failed", len(result.Errors))
		return results, err
	}
	return results, nil
}
