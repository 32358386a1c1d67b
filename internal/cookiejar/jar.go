package cookiejar

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/wtsi-hgi/cookiemonster/internal/model"
	"github.com/wtsi-hgi/cookiemonster/internal/store"
)

// ErrUnknownCookie is returned by operations that require a previously
// known identifier, mirroring the original implementation's behaviour of
// raising when asked to complete or fail a path it never saw enriched.
var ErrUnknownCookie = errors.New("cookiejar: unknown identifier")

// Jar is the Cookie Jar (C2): durable enrichment history plus processing
// queue plus change broadcasts, built on a store.BufferedStore for
// persistence and a recordTable for the in-memory queue state machine.
type Jar struct {
	backing     *store.BufferedStore
	records     *recordTable
	broadcaster *Broadcaster
}

// New constructs a Jar over backing and rebuilds its in-memory queue state
// by scanning every persisted cookie document, resetting any orphaned
// in-progress record to ready (crash recovery, §8).
func New(ctx context.Context, backing *store.BufferedStore) (*Jar, error) {
	j := &Jar{
		backing:     backing,
		records:     newRecordTable(),
		broadcaster: NewBroadcaster(),
	}
	if err := j.recover(ctx); err != nil {
		return nil, err
	}
	return j, nil
}

const designName = "cookiejar"
const byIdentifierView = "by_identifier"

func (j *Jar) recover(ctx context.Context) error {
	if err := j.backing.CreateDesign(ctx, designName, map[string]store.View{
		byIdentifierView: {Map: `function(doc){ emit(doc._id, null); }`},
	}); err != nil {
		return fmt.Errorf("cookiejar: create design: %w", err)
	}
	rows, err := j.backing.Query(ctx, designName, byIdentifierView, store.QueryParams{IncludeDocs: true})
	if err != nil {
		return fmt.Errorf("cookiejar: recovery scan: %w", err)
	}
	now := time.Now().UTC()
	for _, row := range rows {
		if row.Doc == nil {
			continue
		}
		qr := decodeQueueRecord(row.Key, row.Doc.Data)
		j.records.records.Store(row.Key, qr)
	}
	j.records.recoverOrphans(now)
	return nil
}

// cookieDoc is the on-disk representation of a Jar document: the
// enrichment history plus the queue record fields, stored together so a
// single durable write covers both (§4.2: "listeners invoked after the
// durable write").
type cookieDoc struct {
	Enrichments []model.Enrichment
	Dirty       bool
	Processing  bool
	QueueFrom   time.Time
}

func encodeCookieDoc(d cookieDoc) map[string]any {
	enrichments := make([]map[string]any, len(d.Enrichments))
	for i, e := range d.Enrichments {
		enrichments[i] = map[string]any{
			"source":    e.Source,
			"timestamp": e.Timestamp,
			"metadata":  e.Metadata,
		}
	}
	return map[string]any{
		"enrichments": enrichments,
		"dirty":       d.Dirty,
		"processing":  d.Processing,
		"queue_from":  d.QueueFrom,
	}
}

func decodeCookieDoc(data map[string]any) cookieDoc {
	var d cookieDoc
	if raw, ok := data["enrichments"].([]any); ok {
		for _, item := range raw {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			d.Enrichments = append(d.Enrichments, model.Enrichment{
				Source:    stringField(m["source"]),
				Timestamp: timeField(m["timestamp"]),
				Metadata:  mapField(m["metadata"]),
			})
		}
	}
	if raw, ok := data["enrichments"].([]map[string]any); ok {
		for _, m := range raw {
			d.Enrichments = append(d.Enrichments, model.Enrichment{
				Source:    stringField(m["source"]),
				Timestamp: timeField(m["timestamp"]),
				Metadata:  mapField(m["metadata"]),
			})
		}
	}
	d.Dirty, _ = data["dirty"].(bool)
	d.Processing, _ = data["processing"].(bool)
	d.QueueFrom = timeField(data["queue_from"])
	return d
}

func decodeQueueRecord(id string, data map[string]any) *queueRecord {
	d := decodeCookieDoc(data)
	return &queueRecord{identifier: id, dirty: d.Dirty, processing: d.Processing, queueFrom: d.QueueFrom}
}

func stringField(v any) string {
	s, _ := v.(string)
	return s
}

func mapField(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

func timeField(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err == nil {
			return parsed
		}
	}
	return time.Time{}
}

// FetchCookie returns the full enrichment history for id in chronological
// order, or (nil, false) if unknown.
func (j *Jar) FetchCookie(id string) (*model.Cookie, bool) {
	doc, err := j.backing.Fetch(context.Background(), id)
	if err != nil {
		return nil, false
	}
	d := decodeCookieDoc(doc.Data)
	cookie := &model.Cookie{Identifier: id, Enrichments: d.Enrichments}
	return cookie, true
}

// DeleteCookie removes all metadata and queue state for id. It does not
// touch any upstream source.
func (j *Jar) DeleteCookie(id string) error {
	if err := j.backing.Delete(context.Background(), id); err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	j.records.records.Delete(id)
	return nil
}

// EnrichCookie appends enrichment to id's history, then either marks the
// record dirty and broadcasts (normal case) or, if id is currently being
// processed, raises the shadow "reprocess" flag so the in-flight dispatch
// re-enqueues it on completion instead (§4.2 failure model).
func (j *Jar) EnrichCookie(id string, enrichment model.Enrichment) error {
	ctx := context.Background()
	doc, err := j.backing.Fetch(ctx, id)
	var d cookieDoc
	if err == nil {
		d = decodeCookieDoc(doc.Data)
	} else if !errors.Is(err, store.ErrNotFound) {
		return err
	}

	d.Enrichments = append(d.Enrichments, enrichment)
	sort.SliceStable(d.Enrichments, func(a, b int) bool {
		return d.Enrichments[a].Timestamp.Before(d.Enrichments[b].Timestamp)
	})

	cur := j.records.load(id)
	processing := cur != nil && cur.processing
	if !processing {
		d.Dirty = true
		d.Processing = false
		d.QueueFrom = time.Now().UTC()
	} else {
		d.Processing = true
	}

	if err := j.backing.Upsert(ctx, id, encodeCookieDoc(d)); err != nil {
		return err
	}

	if processing {
		j.records.transition(id, func(cur *queueRecord) (*queueRecord, bool) {
			next := *cur
			next.reprocess = true
			return &next, true
		})
		return nil
	}

	j.records.transition(id, func(cur *queueRecord) (*queueRecord, bool) {
		return &queueRecord{identifier: id, dirty: true, queueFrom: d.QueueFrom}, true
	})
	j.broadcaster.Publish(Event{Identifier: id})
	return nil
}

// MarkAsFailed clears processing and schedules id to become ready again
// after delay. A zero delay re-enqueues and broadcasts immediately.
func (j *Jar) MarkAsFailed(id string, delay time.Duration) error {
	if j.records.load(id) == nil {
		return fmt.Errorf("%w: %s", ErrUnknownCookie, id)
	}
	readyAt := time.Now().UTC().Add(delay)
	j.records.transition(id, func(cur *queueRecord) (*queueRecord, bool) {
		return &queueRecord{identifier: id, dirty: true, queueFrom: readyAt, reprocess: cur.reprocess}, true
	})
	if err := j.persistQueueState(id); err != nil {
		return err
	}

	if delay <= 0 {
		j.broadcaster.Publish(Event{Identifier: id})
		return nil
	}
	time.AfterFunc(delay, func() {
		j.broadcaster.Publish(Event{Identifier: id})
	})
	return nil
}

// MarkAsComplete clears processing. If an enrichment arrived while id was
// processing (the shadow flag), the record transitions straight back to
// dirty and a queue-change event is broadcast.
func (j *Jar) MarkAsComplete(id string) error {
	if j.records.load(id) == nil {
		return fmt.Errorf("%w: %s", ErrUnknownCookie, id)
	}
	var reprocessed bool
	j.records.transition(id, func(cur *queueRecord) (*queueRecord, bool) {
		if cur.reprocess {
			reprocessed = true
			return &queueRecord{identifier: id, dirty: true, queueFrom: time.Now().UTC()}, true
		}
		return &queueRecord{identifier: id}, true
	})
	if err := j.persistQueueState(id); err != nil {
		return err
	}
	if reprocessed {
		j.broadcaster.Publish(Event{Identifier: id})
	}
	return nil
}

// MarkForProcessing sets id dirty and due now, broadcasting a queue-change
// event, unless id is currently processing (in which case the shadow flag
// is raised instead, same as an out-of-order enrichment).
func (j *Jar) MarkForProcessing(id string) error {
	cur := j.records.load(id)
	if cur != nil && cur.processing {
		j.records.transition(id, func(cur *queueRecord) (*queueRecord, bool) {
			next := *cur
			next.reprocess = true
			return &next, true
		})
		return j.persistQueueState(id)
	}

	now := time.Now().UTC()
	j.records.transition(id, func(cur *queueRecord) (*queueRecord, bool) {
		return &queueRecord{identifier: id, dirty: true, queueFrom: now}, true
	})
	if err := j.persistQueueState(id); err != nil {
		return err
	}
	j.broadcaster.Publish(Event{Identifier: id})
	return nil
}

// persistQueueState writes the current in-memory record's dirty/processing
// /queue_from fields back to the cookie's document, preserving its
// enrichment history.
func (j *Jar) persistQueueState(id string) error {
	ctx := context.Background()
	doc, err := j.backing.Fetch(ctx, id)
	var d cookieDoc
	if err == nil {
		d = decodeCookieDoc(doc.Data)
	} else if !errors.Is(err, store.ErrNotFound) {
		return err
	}
	r := j.records.load(id)
	if r != nil {
		d.Dirty = r.dirty
		d.Processing = r.processing
		d.QueueFrom = r.queueFrom
	}
	return j.backing.Upsert(ctx, id, encodeCookieDoc(d))
}

// GetNextForProcessing atomically claims the ready cookie with the
// smallest queue_from, returning its full history, or nil if none is
// ready.
func (j *Jar) GetNextForProcessing() *model.Cookie {
	claimed := j.records.claimReady(time.Now().UTC())
	if claimed == nil {
		return nil
	}
	if err := j.persistQueueState(claimed.identifier); err != nil {
		return nil
	}
	cookie, ok := j.FetchCookie(claimed.identifier)
	if !ok {
		return nil
	}
	return cookie
}

// QueueLength returns the number of currently ready cookies.
func (j *Jar) QueueLength() int {
	return j.records.readyCount(time.Now().UTC())
}

// Subscribe registers a listener for queue-change events.
func (j *Jar) Subscribe(buffer int) (<-chan Event, int) {
	return j.broadcaster.Subscribe(buffer)
}

// Unsubscribe removes a listener registered via Subscribe.
func (j *Jar) Unsubscribe(id int) {
	j.broadcaster.Unsubscribe(id)
}

// Close flushes any staged writes to the backing store.
func (j *Jar) Close() {
	j.backing.Close(context.Background())
}
