package retrieval

import (
	"fmt"
	"sort"
	"sync"

	"github.com/wtsi-hgi/cookiemonster/internal/model"
)

// MismatchKind classifies the type of schema difference detected between
// an Update's metadata and the baseline shape learned for its target.
type MismatchKind string

const (
	// MismatchKindMissing indicates a field present in the baseline is
	// absent from the current update.
	MismatchKindMissing MismatchKind = "MISSING_FIELD"
	// MismatchKindAdded indicates a field not present in the baseline was
	// added to the current update.
	MismatchKindAdded MismatchKind = "ADDED_FIELD"
	// MismatchKindTypeChange indicates a field exists in both but its Go
	// type changed.
	MismatchKindTypeChange MismatchKind = "TYPE_CHANGE"
)

// Mismatch describes a single structural difference between the learned
// baseline for a target and a later update's metadata.
type Mismatch struct {
	Kind         MismatchKind
	Target       string
	Field        string
	BaselineType string
	CurrentType  string
}

func (m Mismatch) String() string {
	switch m.Kind {
	case MismatchKindMissing:
		return fmt.Sprintf("retrieval: metadata drift on %q: field %q missing (was %s)", m.Target, m.Field, m.BaselineType)
	case MismatchKindAdded:
		return fmt.Sprintf("retrieval: metadata drift on %q: field %q added (type %s)", m.Target, m.Field, m.CurrentType)
	case MismatchKindTypeChange:
		return fmt.Sprintf("retrieval: metadata drift on %q: field %q type changed %s -> %s", m.Target, m.Field, m.BaselineType, m.CurrentType)
	default:
		return fmt.Sprintf("retrieval: metadata drift on %q: field %q", m.Target, m.Field)
	}
}

// fieldSchema maps a dot-separated metadata field path to its Go type name.
type fieldSchema map[string]string

// SchemaMonitor learns the metadata shape of the first Update seen for
// each target and flags later structural drift, a supplemental
// operational signal adapted from a dot-path JSON schema diffing
// validator. It never fails a retrieval; Observe only returns advisory
// Mismatches for the caller to log.
type SchemaMonitor struct {
	mu        sync.Mutex
	baselines map[string]fieldSchema
}

// NewSchemaMonitor creates an empty SchemaMonitor.
func NewSchemaMonitor() *SchemaMonitor {
	return &SchemaMonitor{baselines: make(map[string]fieldSchema)}
}

// Observe learns the baseline shape for u.Target on first sight, or
// compares u.Metadata against the existing baseline and returns any
// mismatches found.
func (s *SchemaMonitor) Observe(u model.Update) []Mismatch {
	current := make(fieldSchema)
	flattenMetadata(u.Metadata, "", current)

	s.mu.Lock()
	defer s.mu.Unlock()

	baseline, known := s.baselines[u.Target]
	if !known {
		s.baselines[u.Target] = current
		return nil
	}
	return diffFieldSchemas(u.Target, baseline, current)
}

func flattenMetadata(obj map[string]any, prefix string, s fieldSchema) {
	for k, v := range obj {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		switch val := v.(type) {
		case map[string]any:
			s[path] = "object"
			flattenMetadata(val, path, s)
		case []any:
			s[path] = "array"
		case string:
			s[path] = "string"
		case float64, int, int64:
			s[path] = "number"
		case bool:
			s[path] = "bool"
		case nil:
			s[path] = "null"
		default:
			s[path] = "unknown"
		}
	}
}

func diffFieldSchemas(target string, baseline, current fieldSchema) []Mismatch {
	var mismatches []Mismatch
	for field, bType := range baseline {
		cType, ok := current[field]
		if !ok {
			mismatches = append(mismatches, Mismatch{Kind: MismatchKindMissing, Target: target, Field: field, BaselineType: bType})
			continue
		}
		if cType != bType {
			mismatches = append(mismatches, Mismatch{Kind: MismatchKindTypeChange, Target: target, Field: field, BaselineType: bType, CurrentType: cType})
		}
	}
	for field, cType := range current {
		if _, ok := baseline[field]; !ok {
			mismatches = append(mismatches, Mismatch{Kind: MismatchKindAdded, Target: target, Field: field, CurrentType: cType})
		}
	}
	sort.Slice(mismatches, func(i, j int) bool {
		if mismatches[i].Field != mismatches[j].Field {
			return mismatches[i].Field < mismatches[j].Field
		}
		return string(mismatches[i].Kind) < string(mismatches[j].Kind)
	})
	return mismatches
}
