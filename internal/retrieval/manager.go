// Package retrieval implements the Retrieval Manager (C3): a
// time-anchored scheduler that repeatedly queries an external source for
// updates newer than a watermark, merges and forwards them to the Cookie
// Jar, and durably logs each retrieval.
package retrieval

import (
	"context"
	"sync"
	"time"

	"github.com/wtsi-hgi/cookiemonster/internal/logging"
	"github.com/wtsi-hgi/cookiemonster/internal/model"
)

// UpdateSource is the external source contract of §6: GetAllSince returns
// every Update strictly newer than since, or an error.
type UpdateSource interface {
	GetAllSince(ctx context.Context, since time.Time) ([]model.Update, error)
}

// Listener receives the merged updates from one successful retrieval
// cycle.
type Listener func(updates []model.Update)

// Manager drives the anchored retrieval schedule of §4.3.2: the k-th
// retrieval fires at start + k*P, computed by resetting a time.Timer to
// the next deadline rather than accumulating drift on a time.Ticker.
// Cancellation is cooperative via a stopCh closed exactly once, adapted
// from the background-goroutine lifecycle shape of a start/stop manager
// that owns a single long-running ticker loop.
type Manager struct {
	source   UpdateSource
	period   time.Duration
	log      *Log
	schema   *SchemaMonitor
	logger   *logging.Logger
	listener Listener

	mu        sync.Mutex
	watermark time.Time
	inFlight  bool

	stopCh chan struct{}
	once   sync.Once
	doneCh chan struct{}
}

// NewManager constructs a Manager with the given period and start
// watermark (normalised to UTC, §4.3 step 1).
func NewManager(source UpdateSource, period time.Duration, startFrom time.Time, log *Log, logger *logging.Logger) *Manager {
	return &Manager{
		source:    source,
		period:    period,
		log:       log,
		schema:    NewSchemaMonitor(),
		logger:    logger,
		watermark: startFrom.UTC(),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// SetListener registers the callback invoked with the merged updates of
// each successful, non-empty retrieval. Must be called before Start.
func (m *Manager) SetListener(l Listener) {
	m.listener = l
}

// Watermark returns the current watermark. Safe for concurrent use; the
// scheduler's timer goroutine is the sole writer (§5).
func (m *Manager) Watermark() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.watermark
}

// Start begins the anchored schedule, anchored at the time Start is
// called. Non-blocking.
func (m *Manager) Start(ctx context.Context) {
	start := time.Now()
	go m.loop(ctx, start)
}

// Stop signals the schedule to halt. No further ticks occur after Stop
// returns; an in-flight retrieval, if any, is allowed to finish (§4.3.2).
func (m *Manager) Stop() {
	m.once.Do(func() {
		close(m.stopCh)
	})
	<-m.doneCh
}

func (m *Manager) loop(ctx context.Context, start time.Time) {
	defer close(m.doneCh)
	k := int64(1)
	timer := time.NewTimer(time.Until(start.Add(time.Duration(k) * m.period)))
	defer timer.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ctx.Done():
			return
		case <-timer.C:
			m.tick(ctx)
			k++
			// Deadlines that passed while tick was running are skipped, so a
			// slow retrieval is followed by the next future deadline rather
			// than by a burst of catch-up retrievals.
			for !start.Add(time.Duration(k) * m.period).After(time.Now()) {
				k++
			}
			timer.Reset(time.Until(start.Add(time.Duration(k) * m.period)))
		}
	}
}

// tick runs one retrieval cycle. Overlapping runs are coalesced: loop
// skips the deadlines that pass while a retrieval is running, and if a
// previous retrieval is still in flight when tick is entered, this tick is
// skipped entirely rather than queued (§4.3.2, "at-most-one concurrent
// retrieval").
func (m *Manager) tick(ctx context.Context) {
	m.mu.Lock()
	if m.inFlight {
		m.mu.Unlock()
		return
	}
	m.inFlight = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.inFlight = false
		m.mu.Unlock()
	}()

	startedAt := time.Now()
	before := m.Watermark()

	updates, err := m.source.GetAllSince(ctx, before)
	if err != nil {
		if m.logger != nil {
			m.logger.Errorf("retrieval: source error: %v", err)
		}
		m.log.Append(ctx, model.RetrievalLog{
			RetrievedSince: before,
			Count:          0,
			Duration:       time.Since(startedAt),
			StartedAt:      startedAt,
		})
		return
	}

	merged := mergeUpdates(updates)
	for _, u := range merged {
		for _, mismatch := range m.schema.Observe(u) {
			if m.logger != nil {
				m.logger.Infof("%s", mismatch.String())
			}
		}
	}

	if len(merged) > 0 {
		max := before
		for _, u := range merged {
			if u.Timestamp.After(max) {
				max = u.Timestamp
			}
		}
		m.mu.Lock()
		m.watermark = max
		m.mu.Unlock()

		if m.listener != nil {
			m.listener(merged)
		}
	}

	m.log.Append(ctx, model.RetrievalLog{
		RetrievedSince: before,
		Count:          len(merged),
		Duration:       time.Since(startedAt),
		StartedAt:      startedAt,
	})
}
