package backend

import (
	"context"
	"fmt"
	"time"
)

// Row is one table row as returned by the backend query interface. The
// payload shape is owned by the backend schema, not by this service.
type Row map[string]any

// TableSpec describes one table the service is allowed to touch. Every
// dynamic table access goes through a spec so rows can be validated at the
// boundary instead of being dispatched on bare strings.
type TableSpec struct {
	Name            string
	PrimaryKey      string
	TimestampColumn string
}

// Validate checks that a row carries a usable primary key for this table.
func (s TableSpec) Validate(row Row) error {
	id, ok := RowID(row, s.PrimaryKey)
	if !ok || id == "" {
		return fmt.Errorf("table %s: row is missing primary key %q", s.Name, s.PrimaryKey)
	}
	return nil
}

// Registry maps table names to their specs and remembers registration
// order, which is the replication dependency order.
type Registry struct {
	ordered []TableSpec
	byName  map[string]TableSpec
}

func NewRegistry(specs []TableSpec) (*Registry, error) {
	r := &Registry{byName: make(map[string]TableSpec, len(specs))}
	for _, s := range specs {
		if s.Name == "" {
			return nil, fmt.Errorf("table spec with empty name")
		}
		if _, dup := r.byName[s.Name]; dup {
			return nil, fmt.Errorf("duplicate table spec %q", s.Name)
		}
		if s.PrimaryKey == "" {
			s.PrimaryKey = "id"
		}
		if s.TimestampColumn == "" {
			s.TimestampColumn = "updated_at"
		}
		r.byName[s.Name] = s
		r.ordered = append(r.ordered, s)
	}
	return r, nil
}

// Lookup returns the spec for a table name.
func (r *Registry) Lookup(name string) (TableSpec, bool) {
	s, ok := r.byName[name]
	return s, ok
}

// Ordered returns all specs in registration (dependency) order.
func (r *Registry) Ordered() []TableSpec {
	out := make([]TableSpec, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// Store is the request/response interface both backends expose. The primary
// and cloud backends are peers behind this interface; tests inject fakes.
type Store interface {
	// Select returns rows from table, restricted to rows whose timestamp
	// column is >= since when since is non-nil.
	Select(ctx context.Context, table string, since *time.Time) ([]Row, error)

	// Insert adds a single row.
	Insert(ctx context.Context, table string, row Row) error

	// Upsert writes rows keyed by the table's primary key, last write wins.
	Upsert(ctx context.Context, table string, rows []Row) error

	// Delete removes the row with the given primary key value.
	Delete(ctx context.Context, table string, id string) error

	// Reachable reports whether the backend answers within the probe
	// timeout. It never returns an error; unreachable is a normal state.
	Reachable(ctx context.Context) bool
}

// RowID extracts the primary key value of a row as a string.
func RowID(row Row, pk string) (string, bool) {
	v, ok := row[pk]
	if !ok || v == nil {
		return "", false
	}
	switch t := v.(type) {
	case string:
		return t, true
	case []byte:
		return string(t), true
	case int64:
		return fmt.Sprintf("%d", t), true
	case float64:
		return fmt.Sprintf("%v", t), true
	default:
		return fmt.Sprintf("%v", t), true
	}
}

// RowTime extracts a timestamp column from a row. MySQL returns time.Time
// with parseTime enabled, but cached copies round-trip through JSON as
// strings, so both forms are accepted.
func RowTime(row Row, col string) (time.Time, bool) {
	v, ok := row[col]
	if !ok || v == nil {
		return time.Time{}, false
	}
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		return parseTime(t)
	case []byte:
		return parseTime(string(t))
	default:
		return time.Time{}, false
	}
}

func parseTime(s string) (time.Time, bool) {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
