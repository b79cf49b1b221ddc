package app

import (
	"context"
	"sync"

	"github.com/lvcoi/tunefetch/internal/failure"
	"github.com/lvcoi/tunefetch/internal/resolver"
)

// Result is the outcome of one query in a batch.
type Result struct {
	Query    resolver.Query   `json:"query"`
	VideoID  string           `json:"videoId,omitempty"`
	Path     string           `json:"path,omitempty"`
	Err      error            `json:"-"`
	Error    string           `json:"error,omitempty"`
	Category failure.Category `json:"category,omitempty"`
}

// BatchFunc handles one query. The returned Result's Query and error
// fields are filled in by RunBatch.
type BatchFunc func(ctx context.Context, q resolver.Query) (Result, error)

// RunBatch runs fn over queries with at most jobs in flight and returns the
// results in input order with the process exit code: 130 when ctx was
// cancelled, otherwise the highest exit code of any failure.
func RunBatch(ctx context.Context, queries []resolver.Query, jobs int, fn BatchFunc) ([]Result, int) {
	if jobs < 1 {
		jobs = 1
	}

	type task struct {
		index int
		query resolver.Query
	}
	tasks := make(chan task)
	results := make([]Result, len(queries))
	ran := make([]bool, len(queries))

	var wg sync.WaitGroup
	for i := 0; i < jobs; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case t, ok := <-tasks:
					if !ok {
						return
					}
					res, err := fn(ctx, t.query)
					res.Query = t.query
					if err != nil {
						res.Err = err
						res.Error = err.Error()
						res.Category = failure.CategoryOf(err)
					}
					results[t.index] = res
					ran[t.index] = true
				}
			}
		}()
	}

submit:
	for i, q := range queries {
		select {
		case <-ctx.Done():
			break submit
		case tasks <- task{index: i, query: q}:
		}
	}
	close(tasks)
	wg.Wait()

	output := make([]Result, 0, len(queries))
	exitCode := 0
	for i, res := range results {
		if !ran[i] {
			continue
		}
		output = append(output, res)
		if res.Err != nil {
			if code := failure.ExitCode(res.Err); code > exitCode {
				exitCode = code
			}
		}
	}
	if ctx.Err() != nil {
		exitCode = 130
	}
	return output, exitCode
}
