package registry

import (
	"github.com/robertkrimen/otto"

	"github.com/wtsi-hgi/cookiemonster/internal/model"
)

// EnrichmentLoaderEntry wraps a model.EnrichmentLoader with its source-file
// and load-generation bookkeeping.
type EnrichmentLoaderEntry struct {
	model.EnrichmentLoader
	Source     string
	Generation string
}

// ID implements Registrable.
func (e EnrichmentLoaderEntry) ID() string { return e.EnrichmentLoader.ID }

// Priority implements Registrable.
func (e EnrichmentLoaderEntry) Priority() int { return e.EnrichmentLoader.Priority }

func enrichmentLoaderSource(e EnrichmentLoaderEntry) string { return e.Source }

// buildEnrichmentLoader wraps a register()-ed JS object exposing id,
// priority, can_enrich(cookie, ctx) and load(cookie, ctx) into an
// EnrichmentLoaderEntry.
func buildEnrichmentLoader(loaded *Loaded, obj *otto.Object, source, generation string) EnrichmentLoaderEntry {
	mu := loaded.Mu
	vm := loaded.VM
	return EnrichmentLoaderEntry{
		Source:     source,
		Generation: generation,
		EnrichmentLoader: model.EnrichmentLoader{
			ID:       stringField(obj, "id"),
			Priority: intField(obj, "priority"),
			CanEnrich: func(cookie model.Cookie, ctx model.Context) (bool, error) {
				mu.Lock()
				defer mu.Unlock()
				return callBool(obj, "can_enrich", cookieToJS(cookie), contextToJS(vm, ctx))
			},
			Load: func(cookie model.Cookie, ctx model.Context) (model.Enrichment, error) {
				mu.Lock()
				defer mu.Unlock()
				val, err := callValue(obj, "load", cookieToJS(cookie), contextToJS(vm, ctx))
				if err != nil {
					return model.Enrichment{}, err
				}
				return enrichmentFromJS(val)
			},
		},
	}
}
