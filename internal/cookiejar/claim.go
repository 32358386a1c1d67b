// Package cookiejar implements the Cookie Jar (C2): a persistent,
// listenable queue+repository hybrid that tracks every file's enrichment
// history and processing state, with at-most-once concurrent dispatch.
package cookiejar

import (
	"sync"
	"time"
)

// queueRecord is the per-cookie processing state of §3. Instances are
// never mutated in place; a transition replaces the stored value via
// CompareAndSwap so concurrent readers never observe a half-updated
// record. This mirrors the original claim pattern of atomically swapping
// an immutable state struct rather than locking per field.
type queueRecord struct {
	identifier string
	dirty      bool
	processing bool
	queueFrom  time.Time

	// reprocess is the "shadow flag" of §4.2: set when an enrichment
	// arrives for a record that is currently processing, consulted on
	// mark-as-complete to decide whether the record must immediately
	// transition back to dirty.
	reprocess bool
}

func (r *queueRecord) ready(now time.Time) bool {
	return r.dirty && !r.processing && !r.queueFrom.After(now)
}

// recordTable is the in-memory index of queue records, keyed by cookie
// identifier. It is rebuilt from durable storage at startup (crash
// recovery resets orphaned in-progress entries to ready) and kept
// consistent thereafter by the Jar via compare-and-swap transitions,
// adapted from the session-claim pattern of a CAS-guarded sync.Map used to
// award exclusive ownership of a shared slot to exactly one caller.
type recordTable struct {
	records sync.Map // identifier -> *queueRecord
}

func newRecordTable() *recordTable {
	return &recordTable{}
}

// load returns the current record for id, or nil if unknown.
func (t *recordTable) load(id string) *queueRecord {
	v, ok := t.records.Load(id)
	if !ok {
		return nil
	}
	return v.(*queueRecord)
}

// ensure returns the record for id, creating a fresh zero-value record if
// none exists.
func (t *recordTable) ensure(id string) *queueRecord {
	fresh := &queueRecord{identifier: id}
	actual, _ := t.records.LoadOrStore(id, fresh)
	return actual.(*queueRecord)
}

// transition atomically replaces the record for id with next, but only if
// the currently stored record is identical to prev (by pointer). It
// retries against freshly loaded state on failure, exactly like
// ClaimSession's compare-and-swap loop, until it either succeeds or the
// caller's precondition (checked by fn) no longer holds.
func (t *recordTable) transition(id string, fn func(cur *queueRecord) (*queueRecord, bool)) (*queueRecord, bool) {
	for {
		cur := t.ensure(id)
		next, ok := fn(cur)
		if !ok {
			return cur, false
		}
		if t.records.CompareAndSwap(id, cur, next) {
			return next, true
		}
		// Someone else won the race; retry against the new state.
	}
}

// claimReady scans every ready record and atomically claims the one with
// the smallest queueFrom, mirroring FindAvailable+ClaimSession but
// selecting by earliest due time rather than first-seen. Returns nil if no
// ready record exists at the time of the scan.
func (t *recordTable) claimReady(now time.Time) *queueRecord {
	for {
		var best *queueRecord
		t.records.Range(func(_, v any) bool {
			r := v.(*queueRecord)
			if !r.ready(now) {
				return true
			}
			if best == nil || r.queueFrom.Before(best.queueFrom) {
				best = r
			}
			return true
		})
		if best == nil {
			return nil
		}
		claimed := &queueRecord{identifier: best.identifier, processing: true}
		if t.records.CompareAndSwap(best.identifier, best, claimed) {
			return claimed
		}
		// Lost the race for that record; rescan.
	}
}

// readyCount returns the number of currently ready records.
func (t *recordTable) readyCount(now time.Time) int {
	n := 0
	t.records.Range(func(_, v any) bool {
		if v.(*queueRecord).ready(now) {
			n++
		}
		return true
	})
	return n
}

// inProgress returns every identifier currently marked processing.
func (t *recordTable) inProgress() []string {
	var out []string
	t.records.Range(func(k, v any) bool {
		if v.(*queueRecord).processing {
			out = append(out, k.(string))
		}
		return true
	})
	return out
}

// recoverOrphans resets every in-progress record to ready, used at startup
// when the previous process crashed mid-dispatch (§8: "every previously
// in-progress identifier is observable in the ready set").
func (t *recordTable) recoverOrphans(now time.Time) {
	for _, id := range t.inProgress() {
		t.transition(id, func(cur *queueRecord) (*queueRecord, bool) {
			if !cur.processing {
				return nil, false
			}
			return &queueRecord{identifier: id, dirty: true, queueFrom: now}, true
		})
	}
}
