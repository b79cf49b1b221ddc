package web

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/lvcoi/tunefetch/internal/app"
	"github.com/lvcoi/tunefetch/internal/resolver"
)

func setCompletedAtForTest(job *Job, completedAt time.Time) {
	job.mu.Lock()
	job.CompletedAt = completedAt
	job.mu.Unlock()
}

func oneQuery(title string) []resolver.Query {
	return []resolver.Query{{Title: title}}
}

func TestJobTrackerRemoveExpired(t *testing.T) {
	jt := &jobTracker{}

	completeJob := jt.Create(oneQuery("one"))
	completeJob.SetOutcome(nil, 0)
	setCompletedAtForTest(completeJob, time.Now().Add(-16*time.Minute))

	errorJob := jt.Create(oneQuery("two"))
	errorJob.SetOutcome(nil, 3)
	setCompletedAtForTest(errorJob, time.Now().Add(-31*time.Minute))

	freshJob := jt.Create(oneQuery("three"))
	freshJob.SetOutcome(nil, 0)

	activeJob := jt.Create(oneQuery("four"))
	activeJob.SetStatus(statusRunning)

	removed := jt.RemoveExpired(time.Now(), 15*time.Minute, 30*time.Minute)
	if removed != 2 {
		t.Fatalf("expected 2 jobs removed, got %d", removed)
	}

	if _, ok := jt.Get(activeJob.ID); !ok {
		t.Fatalf("expected active job to remain")
	}
	if _, ok := jt.Get(freshJob.ID); !ok {
		t.Fatalf("expected recently finished job to remain")
	}
	if _, ok := jt.Get(completeJob.ID); ok {
		t.Fatalf("expected completed job to be removed")
	}
	if _, ok := jt.Get(errorJob.ID); ok {
		t.Fatalf("expected errored job to be removed")
	}
}

func TestJobTrackerStartCleanup(t *testing.T) {
	jt := &jobTracker{}
	job := jt.Create(oneQuery("song"))
	job.SetOutcome(nil, 0)
	setCompletedAtForTest(job, time.Now().Add(-time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	jt.StartCleanup(ctx, 10*time.Millisecond, time.Minute, time.Minute)

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, ok := jt.Get(job.ID); !ok {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected expired job to be cleaned up")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestJobIDsAreUnique(t *testing.T) {
	jt := &jobTracker{}
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := jt.Create(oneQuery("x")).ID
		if seen[id] {
			t.Fatalf("duplicate job id %q", id)
		}
		seen[id] = true
	}
}

func TestJobSetOutcomeTakesFirstError(t *testing.T) {
	jt := &jobTracker{}
	job := jt.Create(oneQuery("x"))

	status := job.SetOutcome([]app.Result{{VideoID: "a"}, {Error: "boom"}, {Error: "later"}}, 6)
	if status != statusError {
		t.Fatalf("expected error status, got %q", status)
	}
	snap := job.Snapshot()
	if snap.Error != "boom" || snap.ExitCode != 6 || snap.CompletedAt.IsZero() {
		t.Fatalf("unexpected snapshot: %+v", &snap)
	}

	interrupted := jt.Create(oneQuery("y"))
	interrupted.SetOutcome(nil, 130)
	if got := interrupted.Snapshot().Error; got == "" {
		t.Fatalf("expected an error message for an interrupted job")
	}
}

func TestJobConcurrentStateAccess(t *testing.T) {
	jt := &jobTracker{}
	job := jt.Create(oneQuery("x"))

	const loops = 500
	var wg sync.WaitGroup

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < loops; j++ {
				job.SetStatus(statusRunning)
				job.StatusValue()
				job.isActive()
				job.Snapshot()
			}
		}()
	}

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < loops; j++ {
				job.SetOutcome(nil, 0)
				job.SetOutcome(nil, 1)
			}
		}()
	}

	wg.Wait()
	if job.StatusValue() == "" {
		t.Fatalf("expected non-empty status")
	}
}

func TestJobCancel(t *testing.T) {
	jt := &jobTracker{}
	job := jt.Create(oneQuery("x"))
	job.Cancel()

	ctx, cancel := context.WithCancel(context.Background())
	job.setCancel(cancel)
	jt.CancelAll()
	if ctx.Err() == nil {
		t.Fatalf("expected job context to be cancelled")
	}
}
