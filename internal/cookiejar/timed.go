package cookiejar

import (
	"time"

	"github.com/wtsi-hgi/cookiemonster/internal/model"
	"github.com/wtsi-hgi/cookiemonster/internal/monitor"
)

// Timed decorates a CookieJar so every operation the processor pool calls
// is timed and recorded through a monitor.Recorder, the logging-injection
// decorator of §4.6 (monitor.WithTiming) applied across the whole
// interface rather than one call site.
type Timed struct {
	inner    CookieJar
	recorder *monitor.Recorder
}

// NewTimed wraps inner, recording every call's duration through recorder.
func NewTimed(inner CookieJar, recorder *monitor.Recorder) *Timed {
	return &Timed{inner: inner, recorder: recorder}
}

func (t *Timed) record(name string, start time.Time, metadata map[string]any) {
	t.recorder.Record(name+"_time", float64(time.Since(start).Microseconds())/1000.0, metadata)
}

func (t *Timed) FetchCookie(id string) (*model.Cookie, bool) {
	start := time.Now()
	cookie, ok := t.inner.FetchCookie(id)
	t.record("fetch_cookie", start, map[string]any{"hit": ok})
	return cookie, ok
}

func (t *Timed) DeleteCookie(id string) error {
	start := time.Now()
	err := t.inner.DeleteCookie(id)
	t.record("delete_cookie", start, errMetadata(err))
	return err
}

func (t *Timed) EnrichCookie(id string, enrichment model.Enrichment) error {
	start := time.Now()
	err := t.inner.EnrichCookie(id, enrichment)
	t.record("enrich_cookie", start, errMetadata(err))
	return err
}

func (t *Timed) MarkAsFailed(id string, delay time.Duration) error {
	start := time.Now()
	err := t.inner.MarkAsFailed(id, delay)
	t.record("mark_as_failed", start, errMetadata(err))
	return err
}

func (t *Timed) MarkAsComplete(id string) error {
	start := time.Now()
	err := t.inner.MarkAsComplete(id)
	t.record("mark_as_complete", start, errMetadata(err))
	return err
}

func (t *Timed) MarkForProcessing(id string) error {
	start := time.Now()
	err := t.inner.MarkForProcessing(id)
	t.record("mark_for_processing", start, errMetadata(err))
	return err
}

func (t *Timed) GetNextForProcessing() *model.Cookie {
	start := time.Now()
	cookie := t.inner.GetNextForProcessing()
	t.record("get_next_for_processing", start, map[string]any{"found": cookie != nil})
	return cookie
}

func (t *Timed) QueueLength() int {
	return t.inner.QueueLength()
}

func (t *Timed) Subscribe(buffer int) (<-chan Event, int) {
	return t.inner.Subscribe(buffer)
}

func (t *Timed) Unsubscribe(id int) {
	t.inner.Unsubscribe(id)
}

func errMetadata(err error) map[string]any {
	if err == nil {
		return nil
	}
	return map[string]any{"error": err.Error()}
}

var _ CookieJar = (*Timed)(nil)
