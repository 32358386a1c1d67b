package store

import (
	"context"
	"fmt"
	"time"
)

// BufferedStore is the public façade of C1: a Store-shaped API backed by a
// Buffer (batched discharge) and a LockPool (per-document serialisation),
// implementing the `staged → locked → prefetched → written | requeued`
// batch state machine of §4.1.
type BufferedStore struct {
	backing Store
	buffer  *Buffer
	locks   *LockPool
}

// NewBufferedStore wires a Buffer and a LockPool around backing.
func NewBufferedStore(backing Store, maxBufferSize int, bufferLatency time.Duration) *BufferedStore {
	return &BufferedStore{
		backing: backing,
		buffer:  NewBuffer(backing, maxBufferSize, bufferLatency),
		locks:   NewLockPool(),
	}
}

// Fetch returns the document at key, bypassing the buffer: any staged
// write for key is not reflected until discharge, matching the original
// source's semantics where a read always goes to the backing store.
func (bs *BufferedStore) Fetch(ctx context.Context, key string) (Document, error) {
	return bs.backing.Fetch(ctx, key)
}

// Upsert stages data at key (or a generated key if empty) and blocks until
// the write is durable, acquiring the per-key lock for the duration.
func (bs *BufferedStore) Upsert(ctx context.Context, key string, data map[string]any) error {
	if IsReservedKey(key) {
		return ErrReservedKey
	}
	var outcome error
	err := WithLock(ctx, bs.locks, key, 0, func() {
		outcome = bs.buffer.Append(ctx, Document{Key: key, Data: data})
	})
	if err != nil {
		return err
	}
	return outcome
}

// Delete stages a deletion of key and blocks until it is durable.
func (bs *BufferedStore) Delete(ctx context.Context, key string) error {
	var outcome error
	err := WithLock(ctx, bs.locks, key, 0, func() {
		rev, revErr := bs.backing.Revisions(ctx, []string{key})
		if revErr != nil {
			outcome = fmt.Errorf("%w: %v", ErrUnavailable, revErr)
			return
		}
		outcome = bs.buffer.AppendDelete(ctx, key, rev[key])
	})
	if err != nil {
		return err
	}
	return outcome
}

// Query streams rows of a previously created design/view, bypassing the
// buffer (same read-goes-to-backing-store rationale as Fetch).
func (bs *BufferedStore) Query(ctx context.Context, design, view string, params QueryParams) ([]Row, error) {
	return bs.backing.Query(ctx, design, view, params)
}

// CreateDesign registers a design document, committed only if it changed.
func (bs *BufferedStore) CreateDesign(ctx context.Context, design string, views map[string]View) error {
	return bs.backing.CreateDesign(ctx, design, views)
}

// Flush forces an immediate discharge of any staged writes, used at
// shutdown so nothing is lost waiting for the next latency tick.
func (bs *BufferedStore) Flush(ctx context.Context) {
	bs.buffer.Discharge(ctx)
}

// Close stops the buffer's background watcher after flushing.
func (bs *BufferedStore) Close(ctx context.Context) {
	bs.Flush(ctx)
	bs.buffer.Stop()
}
