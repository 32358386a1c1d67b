package retrieval

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/wtsi-hgi/cookiemonster/internal/model"
	"github.com/wtsi-hgi/cookiemonster/internal/store"
)

type fakeSource struct {
	mu      sync.Mutex
	batches [][]model.Update
	calls   int
	err     error
}

func (f *fakeSource) GetAllSince(ctx context.Context, since time.Time) ([]model.Update, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if len(f.batches) == 0 {
		return nil, nil
	}
	next := f.batches[0]
	f.batches = f.batches[1:]
	return next, nil
}

func newTestLog(t *testing.T) *Log {
	t.Helper()
	backing := store.NewBufferedStore(store.NewMemoryStore(), 100, 5*time.Millisecond)
	t.Cleanup(func() { backing.Close(context.Background()) })
	return NewLog(backing)
}

func TestManager_RetrievalReachesListenerAndAdvancesWatermark(t *testing.T) {
	src := &fakeSource{batches: [][]model.Update{
		{{Target: "/x", Timestamp: time.Now(), Metadata: map[string]any{"k": 1}}},
	}}
	m := NewManager(src, 30*time.Millisecond, time.Unix(0, 0), newTestLog(t), nil)

	var received atomic.Int32
	m.SetListener(func(updates []model.Update) {
		received.Add(int32(len(updates)))
	})

	m.Start(context.Background())
	defer m.Stop()

	time.Sleep(200 * time.Millisecond)

	if got := received.Load(); got != 1 {
		t.Errorf("listener received %d updates total, want 1", got)
	}
	if m.Watermark().IsZero() {
		t.Error("expected watermark to advance")
	}
}

func TestManager_SourceErrorDoesNotAdvanceWatermark(t *testing.T) {
	src := &fakeSource{err: errors.New("boom")}
	start := time.Unix(1000, 0)
	m := NewManager(src, 30*time.Millisecond, start, newTestLog(t), nil)

	var calls atomic.Int32
	m.SetListener(func(updates []model.Update) { calls.Add(1) })

	m.Start(context.Background())
	defer m.Stop()

	time.Sleep(150 * time.Millisecond)

	if !m.Watermark().Equal(start) {
		t.Errorf("watermark = %v, want unchanged %v", m.Watermark(), start)
	}
	if calls.Load() != 0 {
		t.Error("listener must not be invoked on source error")
	}
}

func TestManager_StopPreventsFurtherTicks(t *testing.T) {
	src := &fakeSource{}
	m := NewManager(src, 20*time.Millisecond, time.Now(), newTestLog(t), nil)
	m.Start(context.Background())
	time.Sleep(60 * time.Millisecond)
	m.Stop()

	src.mu.Lock()
	callsAtStop := src.calls
	src.mu.Unlock()

	time.Sleep(80 * time.Millisecond)

	src.mu.Lock()
	defer src.mu.Unlock()
	if src.calls != callsAtStop {
		t.Errorf("source called %d more times after Stop", src.calls-callsAtStop)
	}
}

func TestManager_OverlappingRetrievalsCoalesce(t *testing.T) {
	slow := &blockingSource{release: make(chan struct{})}
	m := NewManager(slow, 10*time.Millisecond, time.Now(), newTestLog(t), nil)
	m.Start(context.Background())
	defer func() {
		close(slow.release)
		m.Stop()
	}()

	time.Sleep(80 * time.Millisecond)
	if calls := slow.callCount(); calls != 1 {
		t.Errorf("expected exactly 1 concurrent call while source blocks, got %d", calls)
	}
}

type blockingSource struct {
	mu      sync.Mutex
	calls   int
	release chan struct{}
}

func (b *blockingSource) GetAllSince(ctx context.Context, since time.Time) ([]model.Update, error) {
	b.mu.Lock()
	b.calls++
	b.mu.Unlock()
	<-b.release
	return nil, nil
}

func (b *blockingSource) callCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}
