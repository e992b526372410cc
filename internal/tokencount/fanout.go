package tokencount

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
)

// Result is the outcome of one counter in CountAll
type Result struct {
	Counter  string        `json:"counter"`
	Tokens   int           `json:"tokens"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration_ns"`

	Err error `json:"-"`
}

// CountAll runs every counter concurrently and returns one Result per
// counter, in input order. A failing counter does not cancel the others.
// limit caps concurrency; limit <= 0 means no cap.
func CountAll(ctx context.Context, counters []Counter, system, user string, limit int) []Result {
	results := make([]Result, len(counters))

	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}

	for i, c := range counters {
		g.Go(func() error {
			start := time.Now()
			tokens, err := c.CountTokens(gctx, system, user)
			results[i] = Result{
				Counter:  c.Name(),
				Tokens:   tokens,
				Duration: time.Since(start),
				Err:      err,
			}
			if err != nil {
				results[i].Tokens = 0
				results[i].Error = err.Error()
			}
			return nil
		})
	}
	_ = g.Wait()

	return results
}
