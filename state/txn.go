package state

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"

	"launchpad/storage"
)

// txn overlays buffered writes on the committed database.
type txn struct {
	db       storage.Database
	writable bool
	writes   map[string][]byte
}

func newTxn(db storage.Database, writable bool) *txn {
	return &txn{db: db, writable: writable, writes: make(map[string][]byte)}
}

func (t *txn) get(key []byte) ([]byte, bool, error) {
	if value, ok := t.writes[string(key)]; ok {
		return value, true, nil
	}
	value, err := t.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (t *txn) put(key, value []byte) error {
	if !t.writable {
		return ErrReadOnly
	}
	t.writes[string(key)] = append([]byte{}, value...)
	return nil
}

// iterate visits committed and buffered entries under prefix in key order.
func (t *txn) iterate(prefix []byte, fn func(key, value []byte) error) error {
	merged := make(map[string][]byte)
	if err := t.db.Iterate(prefix, func(key, value []byte) error {
		merged[string(key)] = value
		return nil
	}); err != nil {
		return err
	}
	for k, v := range t.writes {
		if bytes.HasPrefix([]byte(k), prefix) {
			merged[k] = v
		}
	}
	for _, k := range sortedKeys(merged) {
		if err := fn([]byte(k), merged[k]); err != nil {
			return err
		}
	}
	return nil
}

func (t *txn) batch() *storage.Batch {
	b := storage.NewBatch()
	for _, k := range sortedKeys(t.writes) {
		b.Put([]byte(k), t.writes[k])
	}
	return b
}

func (t *txn) readUint(key []byte) (uint64, error) {
	raw, ok, err := t.get(key)
	if err != nil || !ok {
		return 0, err
	}
	var value uint64
	if err := rlp.DecodeBytes(raw, &value); err != nil {
		return 0, fmt.Errorf("state: decode balance: %w", err)
	}
	return value, nil
}

func (t *txn) writeUint(key []byte, value uint64) error {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	return t.put(key, encoded)
}
