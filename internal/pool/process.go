package pool

import (
	"fmt"
	"time"

	"github.com/wtsi-hgi/cookiemonster/internal/cookiejar"
	"github.com/wtsi-hgi/cookiemonster/internal/model"
	"github.com/wtsi-hgi/cookiemonster/internal/registry"
)

// Registries is the set of plug-in registries the processor reads. §9's
// open question ("per cookie or per dispatch pass") is resolved in favour
// of per cookie: each call to Process takes its own GetAll snapshots, so a
// registry reload mid-dispatch-pass affects the cookies not yet started.
// Each registry is read when the cookie reaches its stage (rules first,
// then receivers or enrichment loaders), so a reload that lands between
// those stages is seen by the later stage of a cookie already in flight.
type Registries struct {
	Rules       *registry.Registry[registry.RuleEntry]
	Enrichments *registry.Registry[registry.EnrichmentLoaderEntry]
	Receivers   *registry.Registry[registry.NotificationReceiverEntry]
}

// Processor runs the §4.5 per-cookie rule pipeline against one cookie.
type Processor struct {
	jar         cookiejar.CookieJar
	registries  Registries
	retryDelay  time.Duration
	ctxFor      func() model.Context
}

// NewProcessor constructs a Processor. ctxFor is called once per cookie to
// produce the Context injected into every rule/loader/receiver call; it is
// a func rather than a fixed value so it can be swapped in tests.
func NewProcessor(jar cookiejar.CookieJar, registries Registries, retryDelay time.Duration, ctxFor func() model.Context) *Processor {
	return &Processor{jar: jar, registries: registries, retryDelay: retryDelay, ctxFor: ctxFor}
}

// Process runs the full pipeline for cookie, per §4.5: evaluate every rule
// in priority order, collecting notifications and honouring the first
// terminate=true action; if nothing terminated and no notification fired,
// fall through to enrichment loaders; otherwise complete the cookie. Any
// panic or error from a rule or loader is caught and converted to
// MarkAsFailed; a panicking receiver is recovered in deliver and does not
// fail the cookie.
func (p *Processor) Process(cookie *model.Cookie) {
	if cookie == nil {
		return
	}
	id := cookie.Identifier
	ctx := p.ctxFor()

	if err := p.safeRun(func() error { return p.process(*cookie, ctx) }); err != nil {
		_ = p.jar.MarkAsFailed(id, p.retryDelay)
	}
}

func (p *Processor) process(cookie model.Cookie, ctx model.Context) error {
	rules := p.registries.Rules.GetAll()

	var notifications []model.Notification
	terminate := false

	for _, rule := range rules {
		matched, err := rule.Matches(cookie, ctx)
		if err != nil {
			return fmt.Errorf("pool: rule %q matches: %w", rule.ID(), err)
		}
		if !matched {
			continue
		}
		action, err := rule.Generate(cookie, ctx)
		if err != nil {
			return fmt.Errorf("pool: rule %q generate: %w", rule.ID(), err)
		}
		notifications = append(notifications, action.Notifications...)
		if action.Terminate {
			terminate = true
			break
		}
	}

	if terminate || len(notifications) > 0 {
		p.deliver(notifications, ctx)
		return p.jar.MarkAsComplete(cookie.Identifier)
	}

	loaders := p.registries.Enrichments.GetAll()
	for _, loader := range loaders {
		can, err := loader.CanEnrich(cookie, ctx)
		if err != nil {
			return fmt.Errorf("pool: enrichment loader %q can_enrich: %w", loader.ID(), err)
		}
		if !can {
			continue
		}
		enrichment, err := loader.Load(cookie, ctx)
		if err != nil {
			return fmt.Errorf("pool: enrichment loader %q: %w", loader.ID(), err)
		}
		return p.jar.EnrichCookie(cookie.Identifier, enrichment)
	}

	p.deliver([]model.Notification{{About: cookie.Identifier, Sender: "pool", Data: "unknown"}}, ctx)
	return p.jar.MarkAsComplete(cookie.Identifier)
}

// deliver fans out every notification to every receiver, best-effort: a
// receiver that panics or misbehaves must not stop delivery to the rest,
// nor abort the pipeline.
func (p *Processor) deliver(notifications []model.Notification, ctx model.Context) {
	if len(notifications) == 0 {
		return
	}
	receivers := p.registries.Receivers.GetAll()
	for _, n := range notifications {
		for _, r := range receivers {
			func() {
				defer func() { recover() }()
				r.Receive(n, ctx)
			}()
		}
	}
}

// safeRun converts a panic inside fn into an error so rule/loader bugs
// surface as MarkAsFailed rather than crashing a worker goroutine.
func (p *Processor) safeRun(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pool: panic during processing: %v", r)
		}
	}()
	return fn()
}
