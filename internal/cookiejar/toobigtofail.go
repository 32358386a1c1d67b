package cookiejar

import (
	"fmt"
	"time"

	"github.com/wtsi-hgi/cookiemonster/internal/model"
)

// TooBigToFail decorates a CookieJar so that a panic inside any wrapped
// operation is recovered and turned into an error rather than crashing the
// caller's goroutine, mirroring the source's too_big_to_fail decorator
// (§9). recover() is a language primitive with no library equivalent.
type TooBigToFail struct {
	inner CookieJar
}

// NewTooBigToFail wraps inner.
func NewTooBigToFail(inner CookieJar) *TooBigToFail {
	return &TooBigToFail{inner: inner}
}

func recoverToErr(err *error) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("cookiejar: recovered panic: %v", r)
	}
}

func (t *TooBigToFail) FetchCookie(id string) (cookie *model.Cookie, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			cookie, ok = nil, false
		}
	}()
	return t.inner.FetchCookie(id)
}

func (t *TooBigToFail) DeleteCookie(id string) (err error) {
	defer recoverToErr(&err)
	return t.inner.DeleteCookie(id)
}

func (t *TooBigToFail) EnrichCookie(id string, enrichment model.Enrichment) (err error) {
	defer recoverToErr(&err)
	return t.inner.EnrichCookie(id, enrichment)
}

func (t *TooBigToFail) MarkAsFailed(id string, delay time.Duration) (err error) {
	defer recoverToErr(&err)
	return t.inner.MarkAsFailed(id, delay)
}

func (t *TooBigToFail) MarkAsComplete(id string) (err error) {
	defer recoverToErr(&err)
	return t.inner.MarkAsComplete(id)
}

func (t *TooBigToFail) MarkForProcessing(id string) (err error) {
	defer recoverToErr(&err)
	return t.inner.MarkForProcessing(id)
}

func (t *TooBigToFail) GetNextForProcessing() (cookie *model.Cookie) {
	defer func() {
		if r := recover(); r != nil {
			cookie = nil
		}
	}()
	return t.inner.GetNextForProcessing()
}

func (t *TooBigToFail) QueueLength() (n int) {
	defer func() {
		if r := recover(); r != nil {
			n = 0
		}
	}()
	return t.inner.QueueLength()
}

func (t *TooBigToFail) Subscribe(buffer int) (<-chan Event, int) {
	return t.inner.Subscribe(buffer)
}

func (t *TooBigToFail) Unsubscribe(id int) {
	t.inner.Unsubscribe(id)
}

var _ CookieJar = (*TooBigToFail)(nil)
