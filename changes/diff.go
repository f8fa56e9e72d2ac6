// Package changes turns row mutations reported by the database into
// domain events.
package changes

import (
	"fmt"
	"sort"

	"github.com/Raytar/helpqueue/models"
)

// FieldChange is one column whose value differs between two snapshots.
type FieldChange struct {
	Field string
	Old   any
	New   any
}

// ConsistencyFault reports a diff that is not a plain change of column
// values. It means the snapshots do not come from the same flat schema.
type ConsistencyFault struct {
	Table  string
	Field  string
	Reason string
}

func (f *ConsistencyFault) Error() string {
	if f.Table == "" {
		return fmt.Sprintf("consistency fault: field %q %s", f.Field, f.Reason)
	}
	return fmt.Sprintf("consistency fault in %s: field %q %s", f.Table, f.Field, f.Reason)
}

// Diff compares two snapshots of the same row and returns the changed
// fields sorted by name. A field present in only one snapshot, or holding a
// nested value, yields a *ConsistencyFault.
func Diff(old, cur models.Row) ([]FieldChange, error) {
	for field := range old {
		if _, ok := cur[field]; !ok {
			return nil, &ConsistencyFault{Field: field, Reason: "was removed"}
		}
	}
	fields := make([]string, 0, len(cur))
	for field := range cur {
		if _, ok := old[field]; !ok {
			return nil, &ConsistencyFault{Field: field, Reason: "was added"}
		}
		fields = append(fields, field)
	}
	sort.Strings(fields)

	var diff []FieldChange
	for _, field := range fields {
		o, n := old[field], cur[field]
		if nested(o) || nested(n) {
			return nil, &ConsistencyFault{Field: field, Reason: "is nested"}
		}
		if !models.Equal(o, n) {
			diff = append(diff, FieldChange{Field: field, Old: o, New: n})
		}
	}
	return diff, nil
}

func nested(v any) bool {
	switch v.(type) {
	case map[string]any, models.Row, []any:
		return true
	}
	return false
}

// Changed reports whether field is among the changes.
func Changed(diff []FieldChange, field string) bool {
	for _, c := range diff {
		if c.Field == field {
			return true
		}
	}
	return false
}
