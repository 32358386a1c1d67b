package pool

import (
	"errors"
	"testing"
	"time"

	"github.com/wtsi-hgi/cookiemonster/internal/cookiejar"
	"github.com/wtsi-hgi/cookiemonster/internal/model"
	"github.com/wtsi-hgi/cookiemonster/internal/registry"
)

type fakeJar struct {
	completed []string
	failed    []string
	failedDly []time.Duration
	enriched  []string
}

func (f *fakeJar) FetchCookie(id string) (*model.Cookie, bool) { return nil, false }
func (f *fakeJar) DeleteCookie(id string) error                { return nil }
func (f *fakeJar) EnrichCookie(id string, e model.Enrichment) error {
	f.enriched = append(f.enriched, id)
	return nil
}
func (f *fakeJar) MarkAsFailed(id string, delay time.Duration) error {
	f.failed = append(f.failed, id)
	f.failedDly = append(f.failedDly, delay)
	return nil
}
func (f *fakeJar) MarkAsComplete(id string) error {
	f.completed = append(f.completed, id)
	return nil
}
func (f *fakeJar) MarkForProcessing(id string) error { return nil }
func (f *fakeJar) GetNextForProcessing() *model.Cookie { return nil }
func (f *fakeJar) QueueLength() int                    { return 0 }
func (f *fakeJar) Subscribe(buffer int) (<-chan cookiejar.Event, int) {
	return make(chan cookiejar.Event), 0
}
func (f *fakeJar) Unsubscribe(id int) {}

func rule(id string, priority int, matches func(model.Cookie) bool, action model.RuleAction) registry.RuleEntry {
	return registry.RuleEntry{
		Source: "test",
		Rule: model.Rule{
			ID:       id,
			Priority: priority,
			Matches:  func(c model.Cookie, ctx model.Context) (bool, error) { return matches(c), nil },
			Generate: func(c model.Cookie, ctx model.Context) (model.RuleAction, error) { return action, nil },
		},
	}
}

// ruleErr builds a RuleEntry whose Matches call returns matchErr instead of
// evaluating, simulating a JS exception thrown from a plug-in's matches().
func ruleErr(id string, priority int, matchErr error) registry.RuleEntry {
	return registry.RuleEntry{
		Source: "test",
		Rule: model.Rule{
			ID:       id,
			Priority: priority,
			Matches: func(c model.Cookie, ctx model.Context) (bool, error) {
				return false, matchErr
			},
			Generate: func(c model.Cookie, ctx model.Context) (model.RuleAction, error) {
				return model.RuleAction{}, nil
			},
		},
	}
}

func loader(id string, priority int, can bool, enrichment model.Enrichment, err error) registry.EnrichmentLoaderEntry {
	return registry.EnrichmentLoaderEntry{
		Source: "test",
		EnrichmentLoader: model.EnrichmentLoader{
			ID:        id,
			Priority:  priority,
			CanEnrich: func(c model.Cookie, ctx model.Context) (bool, error) { return can, nil },
			Load: func(c model.Cookie, ctx model.Context) (model.Enrichment, error) {
				return enrichment, err
			},
		},
	}
}

// loaderCanEnrichErr builds an EnrichmentLoaderEntry whose CanEnrich call
// returns canErr instead of evaluating, simulating a JS exception thrown
// from a plug-in's can_enrich().
func loaderCanEnrichErr(id string, priority int, canErr error) registry.EnrichmentLoaderEntry {
	return registry.EnrichmentLoaderEntry{
		Source: "test",
		EnrichmentLoader: model.EnrichmentLoader{
			ID:       id,
			Priority: priority,
			CanEnrich: func(c model.Cookie, ctx model.Context) (bool, error) {
				return false, canErr
			},
			Load: func(c model.Cookie, ctx model.Context) (model.Enrichment, error) {
				return model.Enrichment{}, nil
			},
		},
	}
}

func receiver(id string, received *[]model.Notification) registry.NotificationReceiverEntry {
	return registry.NotificationReceiverEntry{
		Source: "test",
		NotificationReceiver: model.NotificationReceiver{
			ID: id,
			Receive: func(n model.Notification, ctx model.Context) {
				*received = append(*received, n)
			},
		},
	}
}

func newProcessor(jar cookiejar.CookieJar, rules []registry.RuleEntry, loaders []registry.EnrichmentLoaderEntry, receivers []registry.NotificationReceiverEntry) *Processor {
	ruleReg := registry.New[registry.RuleEntry]()
	ruleReg.Replace(rules)
	loaderReg := registry.New[registry.EnrichmentLoaderEntry]()
	loaderReg.Replace(loaders)
	receiverReg := registry.New[registry.NotificationReceiverEntry]()
	receiverReg.Replace(receivers)

	return NewProcessor(jar, Registries{Rules: ruleReg, Enrichments: loaderReg, Receivers: receiverReg}, 0, func() model.Context {
		return model.Context{}
	})
}

func TestProcessor_TerminatingRuleCompletesCookie(t *testing.T) {
	jar := &fakeJar{}
	var received []model.Notification
	p := newProcessor(jar,
		[]registry.RuleEntry{
			rule("terminator", 10, func(model.Cookie) bool { return true }, model.RuleAction{
				Terminate:     true,
				Notifications: []model.Notification{{About: "/x", Sender: "terminator"}},
			}),
		},
		nil,
		[]registry.NotificationReceiverEntry{receiver("sink", &received)},
	)

	p.Process(&model.Cookie{Identifier: "/x"})

	if len(jar.completed) != 1 || jar.completed[0] != "/x" {
		t.Errorf("expected /x marked complete, got %v", jar.completed)
	}
	if len(received) != 1 || received[0].Sender != "terminator" {
		t.Errorf("expected receiver to get the notification, got %v", received)
	}
}

func TestProcessor_NoMatchFallsThroughToLoader(t *testing.T) {
	jar := &fakeJar{}
	p := newProcessor(jar, nil,
		[]registry.EnrichmentLoaderEntry{
			loader("loader1", 1, true, model.Enrichment{Source: "loader1"}, nil),
		},
		nil,
	)

	p.Process(&model.Cookie{Identifier: "/x"})

	if len(jar.enriched) != 1 || jar.enriched[0] != "/x" {
		t.Errorf("expected /x enriched, got %v", jar.enriched)
	}
	if len(jar.completed) != 0 {
		t.Errorf("expected no completion when a loader handled the cookie, got %v", jar.completed)
	}
}

func TestProcessor_NoMatchNoLoaderEmitsUnknown(t *testing.T) {
	jar := &fakeJar{}
	var received []model.Notification
	p := newProcessor(jar, nil, nil, []registry.NotificationReceiverEntry{receiver("sink", &received)})

	p.Process(&model.Cookie{Identifier: "/x"})

	if len(jar.completed) != 1 {
		t.Errorf("expected cookie completed, got %v", jar.completed)
	}
	if len(received) != 1 || received[0].Data != "unknown" {
		t.Errorf("expected an 'unknown' notification, got %v", received)
	}
}

func TestProcessor_LoaderErrorMarksFailed(t *testing.T) {
	jar := &fakeJar{}
	p := newProcessor(jar, nil,
		[]registry.EnrichmentLoaderEntry{
			loader("broken", 1, true, model.Enrichment{}, errors.New("boom")),
		},
		nil,
	)

	p.Process(&model.Cookie{Identifier: "/x"})

	if len(jar.failed) != 1 || jar.failed[0] != "/x" {
		t.Errorf("expected /x marked failed, got %v", jar.failed)
	}
}

func TestProcessor_PanicInRuleMarksFailed(t *testing.T) {
	jar := &fakeJar{}
	p := newProcessor(jar,
		[]registry.RuleEntry{
			rule("panics", 1, func(model.Cookie) bool { panic("boom") }, model.RuleAction{}),
		},
		nil, nil,
	)

	p.Process(&model.Cookie{Identifier: "/x"})

	if len(jar.failed) != 1 || jar.failed[0] != "/x" {
		t.Errorf("expected /x marked failed after panic, got %v", jar.failed)
	}
}

func TestProcessor_RuleMatchesErrorMarksFailed(t *testing.T) {
	jar := &fakeJar{}
	p := newProcessor(jar,
		[]registry.RuleEntry{ruleErr("throws", 1, errors.New("ReferenceError: x is not defined"))},
		nil, nil,
	)

	p.Process(&model.Cookie{Identifier: "/x"})

	if len(jar.failed) != 1 || jar.failed[0] != "/x" {
		t.Errorf("expected /x marked failed after matches() error, got %v", jar.failed)
	}
}

func TestProcessor_LoaderCanEnrichErrorMarksFailed(t *testing.T) {
	jar := &fakeJar{}
	p := newProcessor(jar, nil,
		[]registry.EnrichmentLoaderEntry{loaderCanEnrichErr("throws", 1, errors.New("TypeError: boom"))},
		nil,
	)

	p.Process(&model.Cookie{Identifier: "/x"})

	if len(jar.failed) != 1 || jar.failed[0] != "/x" {
		t.Errorf("expected /x marked failed after can_enrich() error, got %v", jar.failed)
	}
}

func TestProcessor_NonTerminatingMatchStillCollectsNotifications(t *testing.T) {
	jar := &fakeJar{}
	var received []model.Notification
	p := newProcessor(jar,
		[]registry.RuleEntry{
			rule("low", 1, func(model.Cookie) bool { return true }, model.RuleAction{
				Notifications: []model.Notification{{About: "/x", Sender: "low"}},
			}),
		},
		nil,
		[]registry.NotificationReceiverEntry{receiver("sink", &received)},
	)

	p.Process(&model.Cookie{Identifier: "/x"})

	if len(jar.completed) != 1 {
		t.Errorf("expected completion once a notification fired, got %v", jar.completed)
	}
	if len(received) != 1 {
		t.Errorf("expected the notification delivered, got %v", received)
	}
}
