package download

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReporterDeliversFinalSnapshot(t *testing.T) {
	var (
		mu   sync.Mutex
		seen []Progress
	)
	block := make(chan struct{})
	first := true
	r := newReporter(func(p Progress) {
		if first {
			first = false
			<-block
		}
		mu.Lock()
		seen = append(seen, p)
		mu.Unlock()
	})

	// The consumer is stuck on the first event; publishing must not block.
	for i := int64(1); i <= 1000; i++ {
		r.publish(Progress{BytesWritten: i, BytesExpected: 1000})
	}
	close(block)
	r.finish(Progress{BytesWritten: 1000, BytesExpected: 1000, Done: true})

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, seen)
	last := seen[len(seen)-1]
	assert.True(t, last.Done)
	assert.Equal(t, int64(1000), last.BytesWritten)
	assert.Less(t, len(seen), 1001)
	for i := 1; i < len(seen); i++ {
		assert.LessOrEqual(t, seen[i-1].BytesWritten, seen[i].BytesWritten)
	}
}

func TestReporterFinishIsIdempotent(t *testing.T) {
	calls := 0
	r := newReporter(func(Progress) { calls++ })
	r.finish(Progress{Done: true})
	r.finish(Progress{Done: true})
	assert.Equal(t, 1, calls)
}

func TestProgressFraction(t *testing.T) {
	assert.Equal(t, 0.0, Progress{BytesWritten: 10}.Fraction())
	assert.Equal(t, 0.5, Progress{BytesWritten: 5, BytesExpected: 10}.Fraction())
	assert.Equal(t, 1.0, Progress{BytesWritten: 12, BytesExpected: 10}.Fraction())
}
