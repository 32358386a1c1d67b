package pool

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/wtsi-hgi/cookiemonster/internal/cookiejar"
	"github.com/wtsi-hgi/cookiemonster/internal/model"
)

type queueJar struct {
	mu      sync.Mutex
	pending []string
	eventCh chan cookiejar.Event
}

func newQueueJar() *queueJar {
	return &queueJar{eventCh: make(chan cookiejar.Event, 8)}
}

func (q *queueJar) push(id string) {
	q.mu.Lock()
	q.pending = append(q.pending, id)
	q.mu.Unlock()
	select {
	case q.eventCh <- cookiejar.Event{Identifier: id}:
	default:
	}
}

func (q *queueJar) FetchCookie(id string) (*model.Cookie, bool) { return nil, false }
func (q *queueJar) DeleteCookie(id string) error                { return nil }
func (q *queueJar) EnrichCookie(id string, e model.Enrichment) error { return nil }
func (q *queueJar) MarkAsFailed(id string, delay time.Duration) error { return nil }
func (q *queueJar) MarkAsComplete(id string) error { return nil }
func (q *queueJar) MarkForProcessing(id string) error { return nil }

func (q *queueJar) GetNextForProcessing() *model.Cookie {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil
	}
	id := q.pending[0]
	q.pending = q.pending[1:]
	return &model.Cookie{Identifier: id}
}

func (q *queueJar) QueueLength() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *queueJar) Subscribe(buffer int) (<-chan cookiejar.Event, int) { return q.eventCh, 1 }
func (q *queueJar) Unsubscribe(id int)                                 {}

func TestDispatcher_DrainsQueueOnEvent(t *testing.T) {
	jar := newQueueJar()
	workers := NewWorkerPool(2)
	workers.Start()
	defer workers.Stop()

	var processed int32
	d := NewDispatcher(jar, workers, func(c *model.Cookie) {
		atomic.AddInt32(&processed, 1)
	}, 20*time.Millisecond)

	d.Start(context.Background())
	defer d.Stop()

	jar.push("/a")
	jar.push("/b")
	jar.push("/c")

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if atomic.LoadInt32(&processed) == 3 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got := atomic.LoadInt32(&processed); got != 3 {
		t.Errorf("processed %d cookies, want 3", got)
	}
}

func TestDispatcher_FallbackTickPicksUpDelayedWork(t *testing.T) {
	jar := newQueueJar()
	workers := NewWorkerPool(1)
	workers.Start()
	defer workers.Stop()

	var processed int32
	d := NewDispatcher(jar, workers, func(c *model.Cookie) {
		atomic.AddInt32(&processed, 1)
	}, 15*time.Millisecond)

	d.Start(context.Background())
	defer d.Stop()

	jar.mu.Lock()
	jar.pending = append(jar.pending, "/late")
	jar.mu.Unlock()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if atomic.LoadInt32(&processed) == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got := atomic.LoadInt32(&processed); got != 1 {
		t.Errorf("processed %d cookies via fallback tick, want 1", got)
	}
}

func TestDispatcher_StopUnsubscribes(t *testing.T) {
	jar := newQueueJar()
	workers := NewWorkerPool(1)
	workers.Start()
	defer workers.Stop()

	d := NewDispatcher(jar, workers, func(c *model.Cookie) {}, 10*time.Millisecond)
	d.Start(context.Background())
	d.Stop()
}
