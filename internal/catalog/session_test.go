package catalog

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lvcoi/tunefetch/internal/failure"
)

type stubSession struct{ name string }

func (s *stubSession) Search(context.Context, string, SearchOptions) ([]RawResult, error) {
	return nil, nil
}
func (s *stubSession) Album(context.Context, string) ([]RawTrack, error) { return nil, nil }
func (s *stubSession) StreamInfo(context.Context, string) (RawStreamInfo, error) {
	return RawStreamInfo{}, nil
}

func TestProviderConcurrentAcquireConstructsOnce(t *testing.T) {
	var constructions atomic.Int32
	release := make(chan struct{})
	provider := NewProvider(func(ctx context.Context) (Session, error) {
		constructions.Add(1)
		<-release
		return &stubSession{name: "only"}, nil
	}, nil)

	const callers = 2
	var wg sync.WaitGroup
	sessions := make([]Session, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sessions[i], errs[i] = provider.Acquire(context.Background())
		}(i)
	}

	// Give both callers a chance to join the in-flight construction.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), constructions.Load())
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Same(t, sessions[0], sessions[i])
	}

	again, err := provider.Acquire(context.Background())
	require.NoError(t, err)
	assert.Same(t, sessions[0], again)
	assert.Equal(t, int32(1), constructions.Load())
}

func TestProviderFailureIsRetryable(t *testing.T) {
	var calls atomic.Int32
	provider := NewProvider(func(ctx context.Context) (Session, error) {
		if calls.Add(1) == 1 {
			return nil, errors.New("network unreachable")
		}
		return &stubSession{}, nil
	}, nil)

	_, err := provider.Acquire(context.Background())
	var initErr *failure.ClientInitError
	require.ErrorAs(t, err, &initErr)
	assert.Contains(t, initErr.Error(), "network unreachable")

	s, err := provider.Acquire(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, s)
	assert.Equal(t, int32(2), calls.Load())
}

func TestProviderCallerCancelDoesNotAbortConstruction(t *testing.T) {
	release := make(chan struct{})
	var constructions atomic.Int32
	provider := NewProvider(func(ctx context.Context) (Session, error) {
		constructions.Add(1)
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return &stubSession{}, nil
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := provider.Acquire(ctx)
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	close(release)
	s, err := provider.Acquire(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, s)
	assert.Equal(t, int32(1), constructions.Load())
}

func TestProviderNilSessionIsInitError(t *testing.T) {
	var calls atomic.Int32
	provider := NewProvider(func(ctx context.Context) (Session, error) {
		calls.Add(1)
		return nil, nil
	}, nil)

	s, err := provider.Acquire(context.Background())
	assert.Nil(t, s)
	var initErr *failure.ClientInitError
	require.ErrorAs(t, err, &initErr)
	assert.Equal(t, failure.CategoryClientInit, failure.CategoryOf(err))

	_, err = provider.Acquire(context.Background())
	require.Error(t, err)
	assert.Equal(t, int32(2), calls.Load())
}
