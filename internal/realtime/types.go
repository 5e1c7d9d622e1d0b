package realtime

import (
	"fmt"
)

type EventType string

const (
	Insert EventType = "INSERT"
	Update EventType = "UPDATE"
	Delete EventType = "DELETE"
)

// ChangeEvent is one row-level change notification from the primary
// backend. Row contents are not carried; the listener re-fetches the
// affected table instead of replaying individual rows.
type ChangeEvent struct {
	Type      EventType
	Schema    string
	Table     string
	Rows      int
	Timestamp uint32
}

func (e ChangeEvent) String() string {
	return fmt.Sprintf("[%s] %s.%s (%d rows)", e.Type, e.Schema, e.Table, e.Rows)
}
