package store

import (
	"context"
	"sync"
	"time"
)

// DefaultMaxBufferSize is the default write-count discharge threshold
// (§4.1, "max_buffer_size").
const DefaultMaxBufferSize = 1000

// DefaultBufferLatency is the default time-based discharge threshold
// (§4.1, "buffer_latency").
const DefaultBufferLatency = 50 * time.Millisecond

// pendingWrite is one staged upsert or deletion, keyed by document ID.
type pendingWrite struct {
	doc     Document
	delete  bool
	waiters []chan error
}

// Buffer batches writes to an underlying Store and discharges them to it
// when either the staged count reaches maxSize or buffer_latency elapses
// since the oldest staged write, whichever comes first (§4.1). Each key is
// staged at most once per batch: a write for a key that is already staged
// replaces the staged value, and every caller that staged that key is
// notified with the outcome of the one write that reaches the store. The
// replaced values are not requeued or written separately.
type Buffer struct {
	backing   Store
	maxSize   int
	latency   time.Duration
	watcherMu sync.Mutex

	mu      sync.Mutex
	staged  map[string]*pendingWrite
	order   []string
	oldest  time.Time
	stopCh  chan struct{}
	stopped bool
}

// NewBuffer constructs a Buffer over backing with the given discharge
// thresholds. A zero maxSize or latency falls back to the package default.
func NewBuffer(backing Store, maxSize int, latency time.Duration) *Buffer {
	if maxSize <= 0 {
		maxSize = DefaultMaxBufferSize
	}
	if latency <= 0 {
		latency = DefaultBufferLatency
	}
	b := &Buffer{
		backing: backing,
		maxSize: maxSize,
		latency: latency,
		staged:  make(map[string]*pendingWrite),
		stopCh:  make(chan struct{}),
	}
	go b.watch()
	return b
}

// watch fires the latency-threshold discharge at half the configured
// latency, per §4.1 ("a background watcher enforces (b) at half-latency
// period").
func (b *Buffer) watch() {
	ticker := time.NewTicker(b.latency / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			b.mu.Lock()
			due := len(b.staged) > 0 && time.Since(b.oldest) >= b.latency
			b.mu.Unlock()
			if due {
				b.Discharge(context.Background())
			}
		case <-b.stopCh:
			return
		}
	}
}

// Stop halts the background watcher goroutine. It does not discharge any
// remaining staged writes; callers should Discharge explicitly first.
func (b *Buffer) Stop() {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	b.stopped = true
	b.mu.Unlock()
	close(b.stopCh)
}

// Append stages a write and blocks until the batch containing it has been
// durably written (or permanently failed), returning that outcome. If the
// key is already staged, the new write supersedes the old one and both
// callers are released together once the superseding write lands.
func (b *Buffer) Append(ctx context.Context, doc Document) error {
	return b.stage(ctx, doc, false)
}

// AppendDelete stages a deletion of key at revision.
func (b *Buffer) AppendDelete(ctx context.Context, key, revision string) error {
	return b.stage(ctx, Document{Key: key, Revision: revision}, true)
}

func (b *Buffer) stage(ctx context.Context, doc Document, del bool) error {
	if IsReservedKey(doc.Key) {
		return ErrReservedKey
	}
	done := make(chan error, 1)

	b.mu.Lock()
	if pw, ok := b.staged[doc.Key]; ok {
		pw.doc = doc
		pw.delete = del
		pw.waiters = append(pw.waiters, done)
	} else {
		b.staged[doc.Key] = &pendingWrite{doc: doc, delete: del, waiters: []chan error{done}}
		b.order = append(b.order, doc.Key)
		if len(b.staged) == 1 {
			b.oldest = time.Now()
		}
	}
	shouldDischarge := len(b.staged) >= b.maxSize
	b.mu.Unlock()

	if shouldDischarge {
		go b.Discharge(context.Background())
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Discharge drains the current staged batch and writes it to the backing
// store, prefetching current revisions in bulk first to avoid most
// conflicts (§4.1). Keys that land in the same Discharge call as a newer
// supersede are written only once, using the latest staged value.
func (b *Buffer) Discharge(ctx context.Context) {
	b.mu.Lock()
	if len(b.staged) == 0 {
		b.mu.Unlock()
		return
	}
	batch := b.staged
	keys := b.order
	b.staged = make(map[string]*pendingWrite)
	b.order = nil
	b.mu.Unlock()

	b.dischargeBatch(ctx, keys, batch)
}

func (b *Buffer) dischargeBatch(ctx context.Context, keys []string, batch map[string]*pendingWrite) {
	saveKeys := make([]string, 0, len(keys))
	for _, k := range keys {
		if !batch[k].delete {
			saveKeys = append(saveKeys, k)
		}
	}
	revisions, err := b.backing.Revisions(ctx, saveKeys)
	if err != nil {
		b.requeue(ctx, keys, batch)
		return
	}

	saves := make([]Document, 0, len(saveKeys))
	deletes := make([]Document, 0, len(keys)-len(saveKeys))
	for _, k := range keys {
		pw := batch[k]
		if pw.delete {
			doc := pw.doc
			if rev, ok := revisions[k]; ok {
				doc.Revision = rev
			}
			deletes = append(deletes, doc)
			continue
		}
		doc := pw.doc
		if rev, ok := revisions[k]; ok {
			doc.Revision = rev
		}
		saves = append(saves, doc)
	}

	saveResults, saveErr := b.backing.SaveBulk(ctx, saves)
	deleteResults, deleteErr := b.backing.DeleteBulk(ctx, deletes)

	if saveErr != nil || deleteErr != nil {
		b.requeue(ctx, keys, batch)
		return
	}

	outcomes := make(map[string]error, len(keys))
	conflictedSet := make(map[string]bool, len(saveResults))
	var conflicted []string
	for _, r := range saveResults {
		outcomes[r.Key] = r.Err
		if r.Err == ErrConflict {
			conflictedSet[r.Key] = true
			conflicted = append(conflicted, r.Key)
		}
	}
	for _, r := range deleteResults {
		outcomes[r.Key] = r.Err
	}

	// Conflicted keys are excluded here: §4.1's transparent-retry contract
	// means their callers must see the retried outcome, not ErrConflict, so
	// only retryConflicts notifies their waiters.
	for k, pw := range batch {
		if conflictedSet[k] {
			continue
		}
		err := outcomes[k]
		for _, w := range pw.waiters {
			w <- err
		}
	}

	if len(conflicted) > 0 {
		b.retryConflicts(ctx, conflicted, batch)
	}
}

// retryConflicts re-reads revisions and retries the write for keys that hit
// a revision conflict in dischargeBatch, within the same batch cycle, and
// notifies exactly these keys' waiters with the retry's outcome — conflict
// retry must be transparent to callers of Append (§4.1, §7).
func (b *Buffer) retryConflicts(ctx context.Context, keys []string, batch map[string]*pendingWrite) {
	revisions, err := b.backing.Revisions(ctx, keys)
	if err != nil {
		b.notifyAll(keys, batch, err)
		return
	}
	docs := make([]Document, 0, len(keys))
	for _, k := range keys {
		doc := batch[k].doc
		if rev, ok := revisions[k]; ok {
			doc.Revision = rev
		}
		docs = append(docs, doc)
	}
	results, err := b.backing.SaveBulk(ctx, docs)
	if err != nil {
		b.notifyAll(keys, batch, err)
		return
	}
	outcomes := make(map[string]error, len(results))
	for _, r := range results {
		outcomes[r.Key] = r.Err
	}
	for _, k := range keys {
		for _, w := range batch[k].waiters {
			w <- outcomes[k]
		}
	}
}

// notifyAll sends err to every waiter of every key in keys.
func (b *Buffer) notifyAll(keys []string, batch map[string]*pendingWrite, err error) {
	for _, k := range keys {
		for _, w := range batch[k].waiters {
			w <- err
		}
	}
}

// requeue puts every write in the batch back to the head of the queue
// verbatim, per §4.1's failure policy for transient store unavailability.
func (b *Buffer) requeue(_ context.Context, keys []string, batch map[string]*pendingWrite) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, k := range keys {
		if existing, ok := b.staged[k]; ok {
			// A newer write has since superseded this key; fold our
			// waiters onto it instead of overwriting its value.
			existing.waiters = append(existing.waiters, batch[k].waiters...)
			continue
		}
		b.staged[k] = batch[k]
		b.order = append(b.order, k)
	}
	if len(b.staged) > 0 && b.oldest.IsZero() {
		b.oldest = time.Now()
	}
}
