package main

import (
	"context"
	"fmt"
	"time"

	"github.com/wtsi-hgi/cookiemonster/internal/model"
	"github.com/wtsi-hgi/cookiemonster/internal/store"
)

// couchUpdateSource is the reference retrieval.UpdateSource adapter of
// §6: it queries the backing storage system through two named views, one
// for data-object modifications and one for metadata modifications, and
// turns each row of either view into one Update. The Retrieval Manager
// merges same-target rows across both views itself, so this adapter
// returns them unmerged.
type couchUpdateSource struct {
	backing store.Store
}

const (
	updatesDesign        = "updates"
	dataModificationView = "data_modifications"
	metaModificationView = "metadata_modifications"
)

// ensureUpdateViews registers the design document the adapter queries
// against, if it does not already exist.
func ensureUpdateViews(ctx context.Context, backing store.Store) error {
	return backing.CreateDesign(ctx, updatesDesign, map[string]store.View{
		dataModificationView: {
			Map: `function(doc) {
				if (doc.type === "data_modification") {
					emit(doc.timestamp, {target: doc.target, metadata: doc.metadata});
				}
			}`,
		},
		metaModificationView: {
			Map: `function(doc) {
				if (doc.type === "metadata_modification") {
					emit(doc.timestamp, {target: doc.target, metadata: doc.metadata});
				}
			}`,
		},
	})
}

func newCouchUpdateSource(backing store.Store) *couchUpdateSource {
	return &couchUpdateSource{backing: backing}
}

func (s *couchUpdateSource) GetAllSince(ctx context.Context, since time.Time) ([]model.Update, error) {
	startKey := since.UTC().Format(time.RFC3339Nano)

	var updates []model.Update
	for _, view := range []string{dataModificationView, metaModificationView} {
		rows, err := s.backing.Query(ctx, updatesDesign, view, store.QueryParams{StartKey: startKey})
		if err != nil {
			return nil, fmt.Errorf("source: query %s/%s: %w", updatesDesign, view, err)
		}
		for _, row := range rows {
			update, ok := updateFromRow(row)
			if !ok {
				continue
			}
			if !update.Timestamp.After(since) {
				continue
			}
			updates = append(updates, update)
		}
	}
	return updates, nil
}

func updateFromRow(row store.Row) (model.Update, bool) {
	value, ok := row.Value.(map[string]any)
	if !ok {
		return model.Update{}, false
	}
	target, _ := value["target"].(string)
	if target == "" {
		return model.Update{}, false
	}
	timestamp, err := time.Parse(time.RFC3339Nano, row.Key)
	if err != nil {
		return model.Update{}, false
	}
	metadata, _ := value["metadata"].(map[string]any)
	return model.Update{Target: target, Timestamp: timestamp, Metadata: metadata}, true
}
