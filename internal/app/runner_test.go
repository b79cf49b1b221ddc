package app

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lvcoi/tunefetch/internal/failure"
	"github.com/lvcoi/tunefetch/internal/resolver"
)

func queries(n int) []resolver.Query {
	out := make([]resolver.Query, n)
	for i := range out {
		out[i] = resolver.Query{Title: fmt.Sprintf("song %d", i)}
	}
	return out
}

func TestRunBatchKeepsOrderAndBoundsConcurrency(t *testing.T) {
	var inFlight, peak atomic.Int32
	results, code := RunBatch(context.Background(), queries(8), 3, func(ctx context.Context, q resolver.Query) (Result, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		inFlight.Add(-1)
		return Result{VideoID: "id-" + q.Title}, nil
	})
	assert.Equal(t, 0, code)
	require.Len(t, results, 8)
	for i, r := range results {
		assert.Equal(t, fmt.Sprintf("song %d", i), r.Query.Title)
		assert.Equal(t, "id-"+r.Query.Title, r.VideoID)
	}
	assert.LessOrEqual(t, peak.Load(), int32(3))
}

func TestRunBatchExitCodeIsHighestFailure(t *testing.T) {
	results, code := RunBatch(context.Background(), queries(3), 2, func(ctx context.Context, q resolver.Query) (Result, error) {
		switch q.Title {
		case "song 0":
			return Result{}, fmt.Errorf("x: %w", failure.ErrNotFound)
		case "song 1":
			return Result{}, &failure.DownloadError{VideoID: "v", Err: errors.New("disk")}
		}
		return Result{}, nil
	})
	assert.Equal(t, 6, code)
	require.Len(t, results, 3)
	assert.Equal(t, failure.CategoryNotFound, results[0].Category)
	assert.Equal(t, failure.CategoryDownload, results[1].Category)
	assert.Empty(t, results[2].Error)
}

func TestRunBatchCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32
	results, code := RunBatch(ctx, queries(50), 1, func(ctx context.Context, q resolver.Query) (Result, error) {
		if calls.Add(1) == 2 {
			cancel()
		}
		return Result{}, ctx.Err()
	})
	assert.Equal(t, 130, code)
	assert.Less(t, len(results), 50)
}
