package retrieval

import (
	"fmt"
	"time"

	"github.com/wtsi-hgi/cookiemonster/internal/model"
)

// setValuedKeys are the metadata keys that merge by set union rather than
// last-write-wins (§4.3.1).
var setValuedKeys = map[string]bool{
	"modified replicas":            true,
	"modified metadata attributes": true,
}

// mergeState accumulates every update seen so far for one Target. fieldTime
// records, per scalar metadata key, the timestamp of the update that most
// recently won that key — tracked per key rather than once per Update,
// since two different keys on the same Target can arrive at different
// times within a batch.
type mergeState struct {
	update    model.Update
	fieldTime map[string]time.Time
}

// mergeUpdates combines updates sharing the same Target into one Update per
// target: the combined timestamp is the maximum, the keys in setValuedKeys
// are unioned element-wise (union is commutative and associative, so
// arrival order never matters there), and every other metadata key is
// resolved by last-write-wins-by-timestamp, with ties broken by comparing
// the competing values themselves rather than by which arrived first or
// last — a rule that behaves like taking a running maximum, which is
// order-independent regardless of how the updates are folded together
// (§4.3.1(c), "the order of arrival within a single batch does not affect
// the result").
func mergeUpdates(updates []model.Update) []model.Update {
	if len(updates) == 0 {
		return nil
	}

	order := make([]string, 0, len(updates))
	states := make(map[string]*mergeState, len(updates))

	for _, u := range updates {
		st, ok := states[u.Target]
		if !ok {
			st = &mergeState{
				update:    model.Update{Target: u.Target, Metadata: make(map[string]any, len(u.Metadata))},
				fieldTime: make(map[string]time.Time, len(u.Metadata)),
			}
			states[u.Target] = st
			order = append(order, u.Target)
		}
		mergeInto(st, u)
	}

	out := make([]model.Update, 0, len(order))
	for _, target := range order {
		out = append(out, states[target].update)
	}
	return out
}

func mergeInto(st *mergeState, src model.Update) {
	if src.Timestamp.After(st.update.Timestamp) {
		st.update.Timestamp = src.Timestamp
	}

	for key, value := range src.Metadata {
		if setValuedKeys[key] {
			st.update.Metadata[key] = unionValues(st.update.Metadata[key], value)
			continue
		}

		existingTime, present := st.fieldTime[key]
		switch {
		case !present, src.Timestamp.After(existingTime):
			st.update.Metadata[key] = value
			st.fieldTime[key] = src.Timestamp
		case src.Timestamp.Before(existingTime):
			// Older than the current holder of this key: discard.
		default:
			// Exact timestamp tie: pick the value with the
			// lexicographically greater string form. This is a pure
			// function of the two competing values, so it gives the same
			// answer no matter which one happened to be folded in first.
			if fmt.Sprint(value) > fmt.Sprint(st.update.Metadata[key]) {
				st.update.Metadata[key] = value
			}
		}
	}
}

// unionValues merges two set-valued metadata entries, each expected to be
// a []any or a comparable scalar promoted to a singleton set.
func unionValues(existing, incoming any) []any {
	seen := make(map[any]bool)
	var out []any

	add := func(v any) {
		switch items := v.(type) {
		case []any:
			for _, item := range items {
				if !seen[item] {
					seen[item] = true
					out = append(out, item)
				}
			}
		case nil:
		default:
			if !seen[v] {
				seen[v] = true
				out = append(out, v)
			}
		}
	}
	add(existing)
	add(incoming)
	return out
}
