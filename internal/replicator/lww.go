package replicator

import (
	"pos-sync-service/internal/backend"
)

// LastWriteWins picks between two versions of the same row by comparing
// their timestamp column. This is the only reconciliation the service does;
// there is no conflict detection beyond it.
type LastWriteWins struct {
	TimestampColumn string
}

// RemoteWins reports whether the remote version should overwrite the local
// one. Ties and rows without a parseable timestamp go to the remote side,
// matching plain upsert semantics.
func (s LastWriteWins) RemoteWins(local, remote backend.Row) bool {
	localTime, lok := backend.RowTime(local, s.TimestampColumn)
	remoteTime, rok := backend.RowTime(remote, s.TimestampColumn)
	if !lok || !rok {
		return true
	}
	return !remoteTime.Before(localTime)
}

// Resolve returns the winning version of the row.
func (s LastWriteWins) Resolve(local, remote backend.Row) backend.Row {
	if s.RemoteWins(local, remote) {
		return remote
	}
	return local
}
