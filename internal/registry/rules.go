package registry

import (
	"github.com/robertkrimen/otto"

	"github.com/wtsi-hgi/cookiemonster/internal/model"
)

// RuleEntry wraps a model.Rule with the bookkeeping a Watcher needs to
// target a reload at exactly the entries one file produced (§4.4).
type RuleEntry struct {
	model.Rule
	Source     string
	Generation string
}

// ID implements Registrable.
func (e RuleEntry) ID() string { return e.Rule.ID }

// Priority implements Registrable.
func (e RuleEntry) Priority() int { return e.Rule.Priority }

func ruleSource(e RuleEntry) string { return e.Source }

// buildRule wraps a register()-ed JS object exposing id, priority,
// matches(cookie, ctx) and generate(cookie, ctx) into a RuleEntry. Calls
// into obj are serialised on mu since the owning otto VM is not safe for
// concurrent use.
func buildRule(loaded *Loaded, obj *otto.Object, source, generation string) RuleEntry {
	mu := loaded.Mu
	vm := loaded.VM
	return RuleEntry{
		Source:     source,
		Generation: generation,
		Rule: model.Rule{
			ID:       stringField(obj, "id"),
			Priority: intField(obj, "priority"),
			Matches: func(cookie model.Cookie, ctx model.Context) (bool, error) {
				mu.Lock()
				defer mu.Unlock()
				return callBool(obj, "matches", cookieToJS(cookie), contextToJS(vm, ctx))
			},
			Generate: func(cookie model.Cookie, ctx model.Context) (model.RuleAction, error) {
				mu.Lock()
				defer mu.Unlock()
				val, err := callValue(obj, "generate", cookieToJS(cookie), contextToJS(vm, ctx))
				if err != nil {
					return model.RuleAction{}, err
				}
				return ruleActionFromJS(val), nil
			},
		},
	}
}
