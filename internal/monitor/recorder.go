package monitor

import (
	"sync"
	"time"
)

// DefaultMaxBufferSize and DefaultBufferLatency mirror
// internal/store.Buffer's defaults: §9 calls out "buffer/timer interplay"
// as a single reusable finite-state shape, and the Recorder reuses it
// directly for measurement batching instead of flushing one at a time.
const (
	DefaultMaxBufferSize = 1000
	DefaultBufferLatency = 50 * time.Millisecond
)

// Measurement is one observation recorded by Record.
type Measurement struct {
	Measured  string
	Value     any
	Metadata  map[string]any
	Timestamp time.Time
}

// Recorder batches Measurements and flushes them to a Sink, either when
// maxSize measurements have accumulated or latency has elapsed since the
// oldest staged measurement, matching internal/store.Buffer's discharge
// policy.
type Recorder struct {
	sink    Sink
	maxSize int
	latency time.Duration

	mu     sync.Mutex
	staged []Measurement
	oldest time.Time

	stopCh  chan struct{}
	stopped bool
}

// NewRecorder constructs a Recorder over sink. maxSize <= 0 uses
// DefaultMaxBufferSize; latency <= 0 uses DefaultBufferLatency.
func NewRecorder(sink Sink, maxSize int, latency time.Duration) *Recorder {
	if maxSize <= 0 {
		maxSize = DefaultMaxBufferSize
	}
	if latency <= 0 {
		latency = DefaultBufferLatency
	}
	r := &Recorder{
		sink:    sink,
		maxSize: maxSize,
		latency: latency,
		stopCh:  make(chan struct{}),
	}
	go r.watch()
	return r
}

// Record stages a measurement for the next discharge.
func (r *Recorder) Record(measured string, value any, metadata map[string]any) {
	r.mu.Lock()
	if len(r.staged) == 0 {
		r.oldest = time.Now()
	}
	r.staged = append(r.staged, Measurement{
		Measured:  measured,
		Value:     value,
		Metadata:  metadata,
		Timestamp: time.Now(),
	})
	trigger := len(r.staged) >= r.maxSize
	r.mu.Unlock()

	if trigger {
		go r.Discharge()
	}
}

// Discharge flushes every staged measurement to the sink.
func (r *Recorder) Discharge() {
	r.mu.Lock()
	if len(r.staged) == 0 {
		r.mu.Unlock()
		return
	}
	batch := r.staged
	r.staged = nil
	r.mu.Unlock()

	r.sink.Flush(batch)
}

func (r *Recorder) watch() {
	ticker := time.NewTicker(r.latency / 2)
	defer ticker.Stop()
	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.mu.Lock()
			due := len(r.staged) > 0 && time.Since(r.oldest) >= r.latency
			r.mu.Unlock()
			if due {
				r.Discharge()
			}
		}
	}
}

// Stop halts the background watcher after flushing any staged measurements.
func (r *Recorder) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	r.mu.Unlock()

	r.Discharge()
	close(r.stopCh)
}
