package cookiejar

import (
	"time"

	"github.com/wtsi-hgi/cookiemonster/internal/model"
)

// CookieJar is the full public contract of C2 (§4.2), satisfied by *Jar and
// by every decorator in this package (RateLimited, TooBigToFail) so the
// processor pool and the admin API can depend on the interface rather than
// the concrete type.
type CookieJar interface {
	FetchCookie(id string) (*model.Cookie, bool)
	DeleteCookie(id string) error
	EnrichCookie(id string, enrichment model.Enrichment) error
	MarkAsFailed(id string, delay time.Duration) error
	MarkAsComplete(id string) error
	MarkForProcessing(id string) error
	GetNextForProcessing() *model.Cookie
	QueueLength() int
	Subscribe(buffer int) (<-chan Event, int)
	Unsubscribe(id int)
}

var _ CookieJar = (*Jar)(nil)
