// Package batch runs one unit of work per product on a bounded worker pool
// and aggregates the outcomes. A failing unit never stops the batch.
package batch

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"
)

// Outcome is the result of a single work unit.
type Outcome int

const (
	// Succeeded means the unit completed its stage.
	Succeeded Outcome = iota + 1
	// Failed means the unit ended in an error.
	Failed
	// Skipped means there was nothing to do: already handled, or another
	// worker won the race.
	Skipped
)

func (o Outcome) String() string {
	switch o {
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	case Skipped:
		return "skipped"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Func processes one product.
type Func func(ctx context.Context, productID int64) (Outcome, error)

// Result reports one finished unit.
type Result struct {
	ProductID int64
	Outcome   Outcome
	Err       error
	Duration  time.Duration
}

// Failure records why a product failed.
type Failure struct {
	ProductID int64
	Error     string
}

// Summary aggregates a batch.
type Summary struct {
	Attempted int
	Succeeded int
	Failed    int
	Skipped   int
	Failures  []Failure
}

// Add merges other into s.
func (s *Summary) Add(other Summary) {
	s.Attempted += other.Attempted
	s.Succeeded += other.Succeeded
	s.Failed += other.Failed
	s.Skipped += other.Skipped
	s.Failures = append(s.Failures, other.Failures...)
}

// EnrichFailures replaces each failure message with the error persisted for
// the product, when lookup finds one.
func (s *Summary) EnrichFailures(lookup func(productID int64) (string, bool)) {
	for i := range s.Failures {
		if msg, ok := lookup(s.Failures[i].ProductID); ok && msg != "" {
			s.Failures[i].Error = msg
		}
	}
}

func (s *Summary) record(r Result) {
	s.Attempted++
	switch r.Outcome {
	case Succeeded:
		s.Succeeded++
	case Skipped:
		s.Skipped++
	default:
		s.Failed++
		msg := "unknown error"
		if r.Err != nil {
			msg = r.Err.Error()
		}
		s.Failures = append(s.Failures, Failure{ProductID: r.ProductID, Error: msg})
	}
}

// Options sizes the pool.
type Options struct {
	// Workers is the number of units run concurrently. Defaults to 1.
	Workers int
	// QueueSize bounds ids dispatched ahead of the workers. Defaults to Workers.
	QueueSize int
	// OnResult, when set, observes every result from the collector goroutine.
	OnResult func(Result)
}

// Run feeds ids through fn on a pool of workers. Cancelling ctx stops new
// units from starting; units already running finish under a context that
// keeps ctx's values but not its cancellation. Run returns ctx's error when
// cancellation left ids unprocessed.
func Run(ctx context.Context, ids []int64, opts Options, fn Func) (Summary, error) {
	workers := max(opts.Workers, 1)
	queue := opts.QueueSize
	if queue <= 0 {
		queue = workers
	}

	jobs := make(chan int64, queue)
	results := make(chan Result, workers)

	var summary Summary
	collected := make(chan struct{})
	go func() {
		defer close(collected)
		for r := range results {
			summary.record(r)
			if opts.OnResult != nil {
				opts.OnResult(r)
			}
		}
	}()

	var g errgroup.Group
	g.Go(func() error {
		defer close(jobs)
		for _, id := range ids {
			select {
			case <-ctx.Done():
				return nil
			case jobs <- id:
			}
		}
		return nil
	})
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for id := range jobs {
				if ctx.Err() != nil {
					// Drain without running so the dispatcher can exit.
					continue
				}
				results <- runUnit(context.WithoutCancel(ctx), id, fn)
			}
			return nil
		})
	}
	_ = g.Wait()
	close(results)
	<-collected

	sort.Slice(summary.Failures, func(i, j int) bool {
		return summary.Failures[i].ProductID < summary.Failures[j].ProductID
	})
	if summary.Attempted < len(ids) {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
	}
	return summary, nil
}

func runUnit(ctx context.Context, id int64, fn Func) (result Result) {
	start := time.Now()
	result.ProductID = id
	defer func() {
		if recovered := recover(); recovered != nil {
			result.Outcome = Failed
			result.Err = fmt.Errorf("panic: %v\n%s", recovered, debug.Stack())
		}
		result.Duration = time.Since(start)
	}()

	outcome, err := fn(ctx, id)
	switch {
	case err != nil && outcome != Skipped:
		outcome = Failed
	case outcome != Succeeded && outcome != Skipped:
		outcome = Failed
	}
	result.Outcome = outcome
	result.Err = err
	return result
}
