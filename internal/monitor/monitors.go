package monitor

import (
	"sync"
	"time"
)

// DefaultSamplePeriod mirrors the teacher's dashboard metricsTicker
// interval for periodic background sampling.
const DefaultSamplePeriod = 2 * time.Second

// QueueDepthMonitor periodically records the cookie jar's queue length,
// grounded on the teacher's dashboard.metricsTicker goroutine shape
// (ticker-driven loop, idempotent Start/Stop via a stop channel).
type QueueDepthMonitor struct {
	queueLength func() int
	recorder    *Recorder
	period      time.Duration

	stopCh  chan struct{}
	doneCh  chan struct{}
	once    sync.Once
	started bool
	mu      sync.Mutex
}

// NewQueueDepthMonitor builds a monitor sampling queueLength every period
// (period <= 0 uses DefaultSamplePeriod) and recording it under "queue_depth".
func NewQueueDepthMonitor(queueLength func() int, recorder *Recorder, period time.Duration) *QueueDepthMonitor {
	if period <= 0 {
		period = DefaultSamplePeriod
	}
	return &QueueDepthMonitor{
		queueLength: queueLength,
		recorder:    recorder,
		period:      period,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
}

// Start launches the sampling loop. Calling Start more than once has no
// additional effect.
func (m *QueueDepthMonitor) Start() {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.mu.Unlock()

	go m.loop()
}

func (m *QueueDepthMonitor) loop() {
	defer close(m.doneCh)
	ticker := time.NewTicker(m.period)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.recorder.Record("queue_depth", m.queueLength(), nil)
		}
	}
}

// Stop halts the sampling loop, blocking until it has exited.
func (m *QueueDepthMonitor) Stop() {
	m.once.Do(func() {
		close(m.stopCh)
	})
	<-m.doneCh
}

// WorkerCountMonitor periodically records the processor pool's worker
// count, the same ticker-loop shape as QueueDepthMonitor.
type WorkerCountMonitor struct {
	workerCount func() int
	recorder    *Recorder
	period      time.Duration

	stopCh  chan struct{}
	doneCh  chan struct{}
	once    sync.Once
	started bool
	mu      sync.Mutex
}

// NewWorkerCountMonitor builds a monitor sampling workerCount every period
// (period <= 0 uses DefaultSamplePeriod) and recording it under "worker_count".
func NewWorkerCountMonitor(workerCount func() int, recorder *Recorder, period time.Duration) *WorkerCountMonitor {
	if period <= 0 {
		period = DefaultSamplePeriod
	}
	return &WorkerCountMonitor{
		workerCount: workerCount,
		recorder:    recorder,
		period:      period,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
}

// Start launches the sampling loop. Calling Start more than once has no
// additional effect.
func (m *WorkerCountMonitor) Start() {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.mu.Unlock()

	go m.loop()
}

func (m *WorkerCountMonitor) loop() {
	defer close(m.doneCh)
	ticker := time.NewTicker(m.period)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.recorder.Record("worker_count", m.workerCount(), nil)
		}
	}
}

// Stop halts the sampling loop, blocking until it has exited.
func (m *WorkerCountMonitor) Stop() {
	m.once.Do(func() {
		close(m.stopCh)
	})
	<-m.doneCh
}
