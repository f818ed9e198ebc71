package storage

import "fmt"

const (
	KindMemory   = "memory"
	KindSQLite   = "sqlite"
	KindPostgres = "postgres"
)

func DefaultStoreKind() string {
	return KindSQLite
}

// NewStore builds a store of the given kind. location is the database path
// for sqlite and the connection string for postgres; memory ignores it.
func NewStore(kind, location string) (Store, error) {
	switch kind {
	case KindMemory:
		return NewMemoryStore(), nil
	case "", KindSQLite:
		return NewSQLiteStore(location), nil
	case KindPostgres:
		return NewPostgresStore(location), nil
	default:
		return nil, fmt.Errorf("unsupported store backend: %s", kind)
	}
}

func CloseIfSupported(store Store) error {
	closer, ok := store.(interface{ Close() error })
	if !ok {
		return nil
	}
	return closer.Close()
}
