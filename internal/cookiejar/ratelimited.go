package cookiejar

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/wtsi-hgi/cookiemonster/internal/model"
)

// RateLimited decorates a CookieJar with an upper bound of R operations per
// second across all jar operations, using a token bucket that releases one
// token per 1/R seconds (§5, "optional rate limiting"); listener
// registration (Subscribe/Unsubscribe) is not limited. Per the open question in
// §9, the bucket's burst capacity is R+1, so a caller that has been idle
// can briefly run one request past the steady-state rate before it applies.
type RateLimited struct {
	inner   CookieJar
	limiter *rate.Limiter
}

// NewRateLimited wraps inner with a token-bucket limiter of ratePerSecond
// operations per second.
func NewRateLimited(inner CookieJar, ratePerSecond float64) *RateLimited {
	return &RateLimited{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(ratePerSecond), int(ratePerSecond)+1),
	}
}

func (r *RateLimited) wait() {
	_ = r.limiter.Wait(context.Background())
}

func (r *RateLimited) FetchCookie(id string) (*model.Cookie, bool) {
	r.wait()
	return r.inner.FetchCookie(id)
}

func (r *RateLimited) DeleteCookie(id string) error {
	r.wait()
	return r.inner.DeleteCookie(id)
}

func (r *RateLimited) EnrichCookie(id string, enrichment model.Enrichment) error {
	r.wait()
	return r.inner.EnrichCookie(id, enrichment)
}

func (r *RateLimited) MarkAsFailed(id string, delay time.Duration) error {
	r.wait()
	return r.inner.MarkAsFailed(id, delay)
}

func (r *RateLimited) MarkAsComplete(id string) error {
	r.wait()
	return r.inner.MarkAsComplete(id)
}

func (r *RateLimited) MarkForProcessing(id string) error {
	r.wait()
	return r.inner.MarkForProcessing(id)
}

func (r *RateLimited) GetNextForProcessing() *model.Cookie {
	r.wait()
	return r.inner.GetNextForProcessing()
}

func (r *RateLimited) QueueLength() int {
	r.wait()
	return r.inner.QueueLength()
}

func (r *RateLimited) Subscribe(buffer int) (<-chan Event, int) {
	return r.inner.Subscribe(buffer)
}

func (r *RateLimited) Unsubscribe(id int) {
	r.inner.Unsubscribe(id)
}

var _ CookieJar = (*RateLimited)(nil)
