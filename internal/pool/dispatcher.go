package pool

import (
	"context"
	"sync"
	"time"

	"github.com/wtsi-hgi/cookiemonster/internal/cookiejar"
	"github.com/wtsi-hgi/cookiemonster/internal/model"
)

// DefaultFallbackPeriod is the dispatcher's heartbeat cadence when no
// broadcast event has arrived, grounded in the teacher's
// token.HeartbeatManager ticker loop shape. It exists so a MarkAsFailed
// retry delay elapsing is still picked up even without a fresh broadcast.
const DefaultFallbackPeriod = time.Second

// Dispatcher reacts to cookiejar.Broadcaster events (§4.5's "dispatcher
// that reacts to Cookie Jar change events"): while an idle worker exists,
// it calls GetNextForProcessing and hands the cookie to a worker, stopping
// when the jar returns nil or every worker is busy.
type Dispatcher struct {
	jar      cookiejar.CookieJar
	workers  *WorkerPool
	process  func(*model.Cookie)
	fallback time.Duration

	slots chan struct{}
	wake  chan struct{}

	stopCh chan struct{}
	doneCh chan struct{}
	once   sync.Once
}

// NewDispatcher constructs a Dispatcher over workers, calling process for
// every cookie handed to a worker. fallback <= 0 uses DefaultFallbackPeriod.
func NewDispatcher(jar cookiejar.CookieJar, workers *WorkerPool, process func(*model.Cookie), fallback time.Duration) *Dispatcher {
	if fallback <= 0 {
		fallback = DefaultFallbackPeriod
	}
	return &Dispatcher{
		jar:      jar,
		workers:  workers,
		process:  process,
		fallback: fallback,
		slots:    make(chan struct{}, workers.Size()),
		wake:     make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start subscribes to jar's broadcaster and begins the dispatch loop.
func (d *Dispatcher) Start(ctx context.Context) {
	for i := 0; i < cap(d.slots); i++ {
		d.slots <- struct{}{}
	}
	events, subID := d.jar.Subscribe(32)
	go d.loop(ctx, events, subID)
}

// Stop halts the dispatch loop and unsubscribes from the jar. In-flight
// worker jobs are left to finish; callers typically Stop the WorkerPool
// afterward to wait for them.
func (d *Dispatcher) Stop() {
	d.once.Do(func() { close(d.stopCh) })
	<-d.doneCh
}

func (d *Dispatcher) loop(ctx context.Context, events <-chan cookiejar.Event, subID int) {
	defer close(d.doneCh)
	defer d.jar.Unsubscribe(subID)

	ticker := time.NewTicker(d.fallback)
	defer ticker.Stop()

	d.drain()
	for {
		select {
		case <-d.stopCh:
			return
		case <-ctx.Done():
			return
		case <-events:
			d.drain()
		case <-ticker.C:
			d.drain()
		case <-d.wake:
			d.drain()
		}
	}
}

// drain implements §4.5's dispatch pseudocode: while an idle worker exists,
// claim the next ready cookie and hand it to a worker; stop when the jar
// has nothing ready or every worker is busy.
func (d *Dispatcher) drain() {
	for {
		select {
		case <-d.slots:
		default:
			return
		}

		cookie := d.jar.GetNextForProcessing()
		if cookie == nil {
			d.slots <- struct{}{}
			return
		}

		d.workers.Submit(func() {
			defer func() {
				d.slots <- struct{}{}
				d.signalWake()
			}()
			d.process(cookie)
		})
	}
}

func (d *Dispatcher) signalWake() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}
