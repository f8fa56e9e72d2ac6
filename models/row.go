package models

import "time"

// Row is a flat column-name to value snapshot of a record. SQL NULL is
// represented by a nil value, never by a typed nil pointer.
type Row map[string]any

// Record is a model that can be snapshotted into a Row.
type Record interface {
	TableName() string
	Row() Row
}

var (
	_ Record = (*Question)(nil)
	_ Record = (*QueueMeta)(nil)
	_ Record = (*User)(nil)
	_ Record = (*Topic)(nil)
	_ Record = (*Location)(nil)
)

// Time returns the timestamp stored under col, or nil if it is NULL.
func (r Row) Time(col string) *time.Time {
	switch v := r[col].(type) {
	case time.Time:
		return &v
	case *time.Time:
		return v
	}
	return nil
}

// ID returns the id stored under col, or nil if it is NULL.
func (r Row) ID(col string) *uint64 {
	switch v := r[col].(type) {
	case uint64:
		return &v
	case *uint64:
		return v
	}
	return nil
}

// Equal reports whether two column values are the same. Timestamps are
// compared as instants.
func Equal(a, b any) bool {
	if ta, ok := a.(time.Time); ok {
		tb, ok := b.(time.Time)
		return ok && ta.Equal(tb)
	}
	switch a.(type) {
	case map[string]any, Row, []any:
		return false
	}
	switch b.(type) {
	case map[string]any, Row, []any:
		return false
	}
	return a == b
}

func timeValue(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func idValue(id *uint64) any {
	if id == nil {
		return nil
	}
	return *id
}

func reasonValue(r *OffReason) any {
	if r == nil {
		return nil
	}
	return string(*r)
}
