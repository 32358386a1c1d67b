package store

import (
	"context"
	"errors"
	"fmt"

	kivik "github.com/go-kivik/kivik/v4"
	_ "github.com/go-kivik/couchdb/v4" // registers the "couch" driver
)

// CouchStore is the production Store implementation, backed by a CouchDB
// database accessed through kivik. Revision-conflict and not-found errors
// from the driver are translated into the package's sentinel errors so
// callers never need to import kivik themselves.
type CouchStore struct {
	client *kivik.Client
	db     *kivik.DB
}

// NewCouchStore connects to a CouchDB instance at url and opens (creating
// if necessary) the named database.
func NewCouchStore(ctx context.Context, url, database string) (*CouchStore, error) {
	client, err := kivik.New("couch", url)
	if err != nil {
		return nil, fmt.Errorf("store: connect %q: %w", url, err)
	}
	exists, err := client.DBExists(ctx, database)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if !exists {
		if err := client.CreateDB(ctx, database); err != nil {
			return nil, fmt.Errorf("store: create database %q: %w", database, err)
		}
	}
	return &CouchStore{client: client, db: client.DB(database)}, nil
}

func translateErr(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case kivik.HTTPStatus(err) == 409:
		return ErrConflict
	case kivik.HTTPStatus(err) == 404:
		return ErrNotFound
	default:
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
}

func (c *CouchStore) Fetch(ctx context.Context, key string) (Document, error) {
	row := c.db.Get(ctx, key)
	var data map[string]any
	if err := row.ScanDoc(&data); err != nil {
		return Document{}, translateErr(err)
	}
	rev, _ := data["_rev"].(string)
	delete(data, "_rev")
	delete(data, "_id")
	return Document{Key: key, Revision: rev, Data: data}, nil
}

func (c *CouchStore) All(ctx context.Context, keys []string) ([]Document, error) {
	out := make([]Document, 0, len(keys))
	for _, k := range keys {
		doc, err := c.Fetch(ctx, k)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, nil
}

func (c *CouchStore) Save(ctx context.Context, doc Document) (Document, error) {
	if IsReservedKey(doc.Key) {
		return Document{}, ErrReservedKey
	}
	body := cloneData(doc.Data)
	body["_id"] = doc.Key
	if doc.Revision != "" {
		body["_rev"] = doc.Revision
	}
	rev, err := c.db.Put(ctx, doc.Key, body)
	if err != nil {
		return Document{}, translateErr(err)
	}
	doc.Revision = rev
	return doc, nil
}

func (c *CouchStore) SaveBulk(ctx context.Context, docs []Document) ([]BulkResult, error) {
	results := make([]BulkResult, len(docs))
	bodies := make([]any, 0, len(docs))
	idx := make([]int, 0, len(docs))
	for i, doc := range docs {
		if IsReservedKey(doc.Key) {
			results[i] = BulkResult{Key: doc.Key, Err: ErrReservedKey}
			continue
		}
		body := cloneData(doc.Data)
		body["_id"] = doc.Key
		if doc.Revision != "" {
			body["_rev"] = doc.Revision
		}
		bodies = append(bodies, body)
		idx = append(idx, i)
	}

	rows, err := c.db.BulkDocs(ctx, bodies)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	for n, row := range rows {
		i := idx[n]
		if row.Error != nil {
			results[i] = BulkResult{Key: docs[i].Key, Err: translateErr(row.Error)}
			continue
		}
		results[i] = BulkResult{Key: docs[i].Key, Revision: row.Rev}
	}
	return results, nil
}

func (c *CouchStore) Delete(ctx context.Context, key, revision string) error {
	_, err := c.db.Delete(ctx, key, revision)
	return translateErr(err)
}

func (c *CouchStore) DeleteBulk(ctx context.Context, docs []Document) ([]BulkResult, error) {
	results := make([]BulkResult, len(docs))
	for i, doc := range docs {
		err := c.Delete(ctx, doc.Key, doc.Revision)
		results[i] = BulkResult{Key: doc.Key, Err: err}
	}
	return results, nil
}

func (c *CouchStore) Query(ctx context.Context, design, view string, params QueryParams) ([]Row, error) {
	p := map[string]interface{}{"include_docs": params.IncludeDocs}
	if params.StartKey != "" {
		p["startkey"] = params.StartKey
	}
	if params.Limit > 0 {
		p["limit"] = params.Limit
	}
	opts := kivik.Params(p)

	rs := c.db.Query(ctx, design, view, opts)
	defer rs.Close()

	var rows []Row
	for rs.Next() {
		var key string
		_ = rs.ScanKey(&key)
		if params.EndKey != "" && key > params.EndKey {
			continue
		}
		var value any
		_ = rs.ScanValue(&value)
		row := Row{Key: key, Value: value}
		if params.IncludeDocs {
			var data map[string]any
			if err := rs.ScanDoc(&data); err == nil {
				rev, _ := data["_rev"].(string)
				delete(data, "_rev")
				delete(data, "_id")
				row.Doc = &Document{Key: key, Revision: rev, Data: data}
			}
		}
		rows = append(rows, row)
	}
	if err := rs.Err(); err != nil {
		return nil, translateErr(err)
	}
	return rows, nil
}

func (c *CouchStore) Revisions(ctx context.Context, keys []string) (map[string]string, error) {
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		row := c.db.Get(ctx, k)
		var data map[string]any
		if err := row.ScanDoc(&data); err != nil {
			continue
		}
		if rev, ok := data["_rev"].(string); ok {
			out[k] = rev
		}
	}
	return out, nil
}

func (c *CouchStore) CreateDesign(ctx context.Context, design string, views map[string]View) error {
	ddocID := "_design/" + design
	body := map[string]any{
		"_id":      ddocID,
		"language": "javascript",
		"views":    views,
	}

	existing, err := c.Fetch(ctx, ddocID)
	if err == nil {
		// Only commit if the view definitions actually changed, per §4.1
		// ("committed only on change").
		if designUnchanged(existing.Data, views) {
			return nil
		}
		body["_rev"] = existing.Revision
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}

	_, err = c.db.Put(ctx, ddocID, body)
	return translateErr(err)
}

func designUnchanged(existing map[string]any, views map[string]View) bool {
	raw, ok := existing["views"].(map[string]any)
	if !ok || len(raw) != len(views) {
		return false
	}
	for name, v := range views {
		entry, ok := raw[name].(map[string]any)
		if !ok {
			return false
		}
		if m, _ := entry["map"].(string); m != v.Map {
			return false
		}
		if r, _ := entry["reduce"].(string); r != v.Reduce {
			return false
		}
	}
	return true
}
