package storage

import "fmt"

// Backend names accepted by Open.
const (
	BackendMemory  = "memory"
	BackendLevelDB = "leveldb"
	BackendBolt    = "bolt"
)

// Open returns the database for backend rooted at path. Read-only opens
// require the database to exist already.
func Open(backend, path string, readOnly bool) (Database, error) {
	switch backend {
	case BackendMemory:
		if readOnly {
			return nil, fmt.Errorf("storage: memory backend cannot be opened read-only")
		}
		return NewMemDB(), nil
	case BackendLevelDB:
		if readOnly {
			return OpenLevelDBReadOnly(path)
		}
		return NewLevelDB(path)
	case BackendBolt:
		if readOnly {
			return OpenBoltDBReadOnly(path)
		}
		return NewBoltDB(path)
	default:
		return nil, fmt.Errorf("storage: unknown backend %q", backend)
	}
}
