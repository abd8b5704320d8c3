package store

import (
	"fmt"
)

// Backend selects the MessageStore implementation.
type Backend string

const (
	BackendMemory   Backend = "memory"
	BackendBadger   Backend = "badger"
	BackendSQLite   Backend = "sqlite"
	BackendPostgres Backend = "postgres"
)

// ValidBackend reports whether the selector names a known backend.
func ValidBackend(b Backend) bool {
	switch b {
	case BackendMemory, BackendBadger, BackendSQLite, BackendPostgres:
		return true
	}
	return false
}

// ErrUnknownBackend is wrapped by Open for unrecognized selectors.
var ErrUnknownBackend = fmt.Errorf("unknown message store backend")
