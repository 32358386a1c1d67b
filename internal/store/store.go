package store

import (
	"context"
	"errors"
	"strings"
)

// Document is a single record in the persistent store: an opaque key, a
// revision token assigned by the backing database, and an arbitrary payload.
type Document struct {
	Key      string
	Revision string
	Data     map[string]any
}

// Row is one result of a Query against a pre-declared view.
type Row struct {
	Key   string
	Value any
	Doc   *Document
}

var (
	// ErrNotFound is returned when a document does not exist.
	ErrNotFound = errors.New("store: document not found")
	// ErrConflict is returned when a write targets a stale revision.
	ErrConflict = errors.New("store: revision conflict")
	// ErrReservedKey is returned when a caller attempts to write a key
	// reserved for internal use (leading underscore, per §4.1).
	ErrReservedKey = errors.New("store: key is reserved for internal use")
	// ErrUnavailable wraps transient failures talking to the backing store.
	ErrUnavailable = errors.New("store: unavailable")
)

// IsReservedKey reports whether key is reserved for internal store use.
func IsReservedKey(key string) bool {
	return strings.HasPrefix(key, "_")
}

// Store is the persistent store contract of §6: document get, bulk all,
// save, bulk save, delete, bulk delete, query, revisions, and design
// document management. Implementations must distinguish ErrConflict from
// ErrUnavailable.
type Store interface {
	// Fetch returns the document at key at its current revision, or
	// ErrNotFound.
	Fetch(ctx context.Context, key string) (Document, error)

	// All returns every document in keys that exists, skipping missing
	// entries rather than failing the whole call.
	All(ctx context.Context, keys []string) ([]Document, error)

	// Save writes a single document, creating it if Revision is empty.
	// Returns ErrConflict if Revision is stale.
	Save(ctx context.Context, doc Document) (Document, error)

	// SaveBulk writes many documents in one round trip. The returned slice
	// is parallel to docs; an entry's error is non-nil (typically
	// ErrConflict) if that specific document failed to save.
	SaveBulk(ctx context.Context, docs []Document) ([]BulkResult, error)

	// Delete removes the document at key at revision. Returns ErrConflict
	// if revision is stale, ErrNotFound if the key does not exist.
	Delete(ctx context.Context, key, revision string) error

	// DeleteBulk removes many documents in one round trip.
	DeleteBulk(ctx context.Context, docs []Document) ([]BulkResult, error)

	// Query streams rows of a previously created design/view.
	Query(ctx context.Context, design, view string, params QueryParams) ([]Row, error)

	// Revisions returns the current revision token for each key that
	// exists; missing keys are omitted from the result map.
	Revisions(ctx context.Context, keys []string) (map[string]string, error)

	// CreateDesign registers (or updates, if changed) a map/reduce design
	// document.
	CreateDesign(ctx context.Context, design string, views map[string]View) error
}

// BulkResult pairs a document key with the outcome of a bulk write.
type BulkResult struct {
	Key      string
	Revision string
	Err      error
}

// View is a single map/reduce view definition within a design document.
type View struct {
	Map    string
	Reduce string
}

// QueryParams narrows a Query call: StartKey/EndKey bound the range,
// Limit caps the number of rows, IncludeDocs asks for the full document
// body rather than just key/value.
type QueryParams struct {
	StartKey    string
	EndKey      string
	Limit       int
	IncludeDocs bool
}
