package qgerm

import (
	"context"
	"runtime"
	"sync"
)

// TrialFn is one independent randomized trial: it owns its RNG stream and
// reads only immutable inputs, so any number of them may run at once.
type TrialFn func() (any, error)

// TrialValue is the outcome of one trial, tagged with the trial index so
// aggregation stays deterministic regardless of completion order.
type TrialValue struct {
	Trial int
	Value any
	Err   error
}

/*
TrialPool runs batches of independent trials across a fixed set of
workers. It is the execution strategy for the embarrassingly-parallel
parts of the searches: GRASP restarts and the random sample testing of
fiducial-pair reduction. Cancellation is best-effort at trial
boundaries: a trial that has started runs to completion, trials not yet
started are returned with the context error.
*/
type TrialPool struct {
	workers int
}

// NewTrialPool sizes the pool; workers <= 0 means one per CPU.
func NewTrialPool(workers int) *TrialPool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &TrialPool{workers: workers}
}

// Run executes all trials and returns their values ordered by trial
// index. The slice always has len(trials) entries.
func (p *TrialPool) Run(ctx context.Context, trials []TrialFn) []TrialValue {
	results := make([]TrialValue, len(trials))
	jobs := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < p.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case i, ok := <-jobs:
					if !ok {
						return
					}
					value, err := trials[i]()
					results[i] = TrialValue{Trial: i, Value: value, Err: err}
				}
			}
		}()
	}

feed:
	for i := range trials {
		results[i] = TrialValue{Trial: i, Err: ctx.Err()} // overwritten on completion
		select {
		case jobs <- i:
		case <-ctx.Done():
			for j := i; j < len(trials); j++ {
				results[j] = TrialValue{Trial: j, Err: ctx.Err()}
			}
			break feed
		}
	}
	close(jobs)
	wg.Wait()
	return results
}
