package retrieval

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wtsi-hgi/cookiemonster/internal/model"
	"github.com/wtsi-hgi/cookiemonster/internal/store"
)

// Log is an append-only RetrievalLog recorder, persisted through its own
// store.BufferedStore keyspace, distinct from cookie documents.
type Log struct {
	backing *store.BufferedStore
	logger  func(format string, args ...any)
}

// NewLog constructs a Log over backing.
func NewLog(backing *store.BufferedStore) *Log {
	return &Log{backing: backing}
}

// Append durably writes entry under a freshly generated key. Failure is
// logged but not returned: a lost RetrievalLog entry must never abort a
// retrieval cycle (§4.6, "measurements are non-critical" applies equally
// here since the log is an operational record, not control-flow state).
func (l *Log) Append(ctx context.Context, entry model.RetrievalLog) {
	key := "retrieval-log-" + uuid.NewString()
	data := map[string]any{
		"retrieved_since": entry.RetrievedSince,
		"count":           entry.Count,
		"duration_ns":     entry.Duration.Nanoseconds(),
		"started_at":      entry.StartedAt,
	}
	if err := l.backing.Upsert(ctx, key, data); err != nil && l.logger != nil {
		l.logger("retrieval: failed to persist retrieval log: %v", err)
	}
}

// SetLogger installs a callback used to report persistence failures.
func (l *Log) SetLogger(logger func(format string, args ...any)) {
	l.logger = logger
}

// decodeRetrievalLog reconstructs a model.RetrievalLog from a stored
// document. Only this package's tests call it.
func decodeRetrievalLog(data map[string]any) (model.RetrievalLog, error) {
	since, ok := data["retrieved_since"].(time.Time)
	if !ok {
		return model.RetrievalLog{}, fmt.Errorf("retrieval: malformed log entry: missing retrieved_since")
	}
	count, _ := data["count"].(int)
	durationNS, _ := data["duration_ns"].(int64)
	startedAt, _ := data["started_at"].(time.Time)
	return model.RetrievalLog{
		RetrievedSince: since,
		Count:          count,
		Duration:       time.Duration(durationNS),
		StartedAt:      startedAt,
	}, nil
}
