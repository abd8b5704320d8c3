// Package factory opens the configured MessageStore backend. It lives
// apart from package store so backends can depend on the interface
// without an import cycle.
package factory

import (
	"fmt"

	"github.com/marmos91/fixgate/pkg/store"
	badgerstore "github.com/marmos91/fixgate/pkg/store/badger"
	"github.com/marmos91/fixgate/pkg/store/memory"
	sqlstore "github.com/marmos91/fixgate/pkg/store/sql"
)

// Config selects and parameterizes a backend.
type Config struct {
	// Backend: memory, badger, sqlite or postgres.
	Backend store.Backend

	// Path is the state location for file-backed backends (a directory
	// for badger, a file for sqlite).
	Path string

	// Postgres applies when Backend is postgres.
	Postgres sqlstore.PostgresConfig
}

// Open builds the configured MessageStore.
func Open(cfg Config) (store.MessageStore, error) {
	switch cfg.Backend {
	case store.BackendMemory:
		return memory.New(), nil
	case store.BackendBadger, "":
		if cfg.Path == "" {
			return nil, fmt.Errorf("badger store requires a state path")
		}
		return badgerstore.Open(cfg.Path)
	case store.BackendSQLite:
		return sqlstore.Open(sqlstore.Config{Driver: sqlstore.DriverSQLite, Path: cfg.Path})
	case store.BackendPostgres:
		return sqlstore.Open(sqlstore.Config{Driver: sqlstore.DriverPostgres, Postgres: cfg.Postgres})
	default:
		return nil, fmt.Errorf("%w: %q", store.ErrUnknownBackend, cfg.Backend)
	}
}
