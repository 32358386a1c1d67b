package pool_test

import (
	"runtime"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/wtsi-hgi/cookiemonster/internal/pool"
)

func TestWorkerPool_ExecutesAllJobs(t *testing.T) {
	const jobs = 500
	wp := pool.NewWorkerPool(10)
	wp.Start()

	var counter int64
	for i := 0; i < jobs; i++ {
		wp.Submit(func() {
			atomic.AddInt64(&counter, 1)
		})
	}
	wp.Stop()

	if counter != jobs {
		t.Errorf("expected %d jobs executed, got %d", jobs, counter)
	}
}

func TestWorkerPool_ZeroWorkersFallsBackToOne(t *testing.T) {
	wp := pool.NewWorkerPool(0)
	if wp.Size() != 1 {
		t.Errorf("Size() = %d, want 1", wp.Size())
	}
	wp.Start()
	var ran int64
	wp.Submit(func() { atomic.AddInt64(&ran, 1) })
	wp.Stop()
	if ran != 1 {
		t.Errorf("expected job to run, ran=%d", ran)
	}
}

func TestWorkerPool_HighConcurrency(t *testing.T) {
	const (
		numWorkers = 200
		numJobs    = 5_000
	)

	wp := pool.NewWorkerPool(numWorkers)
	wp.Start()

	var counter int64

	var enqueued sync.WaitGroup
	enqueued.Add(numJobs)

	for i := 0; i < numJobs; i++ {
		wp.Submit(func() {
			atomic.AddInt64(&counter, 1)
			enqueued.Done()
		})
	}

	enqueued.Wait()
	wp.Stop()

	if counter != numJobs {
		t.Errorf("expected %d jobs executed, got %d", numJobs, counter)
	}
}

func BenchmarkWorkerPool_Submit(b *testing.B) {
	wp := pool.NewWorkerPool(runtime.GOMAXPROCS(0))
	wp.Start()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		wp.Submit(func() {})
	}
	b.StopTimer()
	wp.Stop()
}
