package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store implementation used for tests and for
// running the core without a CouchDB instance, grounded in the original
// implementation's in-memory cookie jar (which held its state in plain Go
// maps guarded by a single lock rather than a real document database).
type MemoryStore struct {
	mu      sync.RWMutex
	docs    map[string]Document
	designs map[string]map[string]View
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs:    make(map[string]Document),
		designs: make(map[string]map[string]View),
	}
}

func cloneData(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = v
	}
	return out
}

func (m *MemoryStore) Fetch(_ context.Context, key string) (Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.docs[key]
	if !ok {
		return Document{}, ErrNotFound
	}
	doc.Data = cloneData(doc.Data)
	return doc, nil
}

func (m *MemoryStore) All(_ context.Context, keys []string) ([]Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Document, 0, len(keys))
	for _, k := range keys {
		if doc, ok := m.docs[k]; ok {
			doc.Data = cloneData(doc.Data)
			out = append(out, doc)
		}
	}
	return out, nil
}

func (m *MemoryStore) Save(_ context.Context, doc Document) (Document, error) {
	if IsReservedKey(doc.Key) {
		return Document{}, ErrReservedKey
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveLocked(doc)
}

// saveLocked performs the revision check and write. Callers must hold m.mu.
func (m *MemoryStore) saveLocked(doc Document) (Document, error) {
	existing, ok := m.docs[doc.Key]
	if ok && doc.Revision != "" && existing.Revision != doc.Revision {
		return Document{}, ErrConflict
	}
	if ok && doc.Revision == "" {
		return Document{}, ErrConflict
	}
	doc.Revision = uuid.NewString()
	doc.Data = cloneData(doc.Data)
	m.docs[doc.Key] = doc
	result := doc
	result.Data = cloneData(doc.Data)
	return result, nil
}

func (m *MemoryStore) SaveBulk(_ context.Context, docs []Document) ([]BulkResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	results := make([]BulkResult, len(docs))
	for i, doc := range docs {
		if IsReservedKey(doc.Key) {
			results[i] = BulkResult{Key: doc.Key, Err: ErrReservedKey}
			continue
		}
		saved, err := m.saveLocked(doc)
		if err != nil {
			results[i] = BulkResult{Key: doc.Key, Err: err}
			continue
		}
		results[i] = BulkResult{Key: doc.Key, Revision: saved.Revision}
	}
	return results, nil
}

func (m *MemoryStore) Delete(_ context.Context, key, revision string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.docs[key]
	if !ok {
		return ErrNotFound
	}
	if revision != "" && existing.Revision != revision {
		return ErrConflict
	}
	delete(m.docs, key)
	return nil
}

func (m *MemoryStore) DeleteBulk(_ context.Context, docs []Document) ([]BulkResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	results := make([]BulkResult, len(docs))
	for i, doc := range docs {
		existing, ok := m.docs[doc.Key]
		if !ok {
			results[i] = BulkResult{Key: doc.Key, Err: ErrNotFound}
			continue
		}
		if doc.Revision != "" && existing.Revision != doc.Revision {
			results[i] = BulkResult{Key: doc.Key, Err: ErrConflict}
			continue
		}
		delete(m.docs, doc.Key)
		results[i] = BulkResult{Key: doc.Key}
	}
	return results, nil
}

// Query checks that the design and view have been created, but does not
// run the view's map function (MemoryStore has no map/reduce engine): it
// scans every document instead, applying StartKey/EndKey/Limit directly
// against document keys. It exists so tests can exercise callers
// of Query without a real CouchDB instance.
func (m *MemoryStore) Query(_ context.Context, design, view string, params QueryParams) ([]Row, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.designs[design]; !ok {
		return nil, fmt.Errorf("store: unknown design %q", design)
	}
	if _, ok := m.designs[design][view]; !ok {
		return nil, fmt.Errorf("store: unknown view %q/%q", design, view)
	}

	keys := make([]string, 0, len(m.docs))
	for k := range m.docs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	rows := make([]Row, 0, len(keys))
	for _, k := range keys {
		if params.StartKey != "" && k < params.StartKey {
			continue
		}
		if params.EndKey != "" && k > params.EndKey {
			continue
		}
		doc := m.docs[k]
		row := Row{Key: k, Value: doc.Data}
		if params.IncludeDocs {
			d := doc
			d.Data = cloneData(doc.Data)
			row.Doc = &d
		}
		rows = append(rows, row)
		if params.Limit > 0 && len(rows) >= params.Limit {
			break
		}
	}
	return rows, nil
}

func (m *MemoryStore) Revisions(_ context.Context, keys []string) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		if doc, ok := m.docs[k]; ok {
			out[k] = doc.Revision
		}
	}
	return out, nil
}

func (m *MemoryStore) CreateDesign(_ context.Context, design string, views map[string]View) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.designs[design] = views
	return nil
}
