package state

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"launchpad/native/curve"
	"launchpad/storage"
)

var (
	// ErrInsufficientBalance is returned when a debit exceeds the available balance.
	ErrInsufficientBalance = errors.New("state: insufficient balance")
	// ErrInvalidAccount is returned when a custody endpoint is the zero address.
	ErrInvalidAccount = errors.New("state: invalid account")
	// ErrSupplyExceeded is returned when a mint would exceed the asset's fixed supply.
	ErrSupplyExceeded = errors.New("state: token supply exceeded")
	// ErrReadOnly is returned when a write is attempted inside View.
	ErrReadOnly = errors.New("state: read-only transaction")
	// ErrBalanceOverflow is returned when a credit overflows 64 bits.
	ErrBalanceOverflow = errors.New("state: balance overflow")
)

var (
	curvePrefix   = []byte("curve/")
	basePrefix    = []byte("base/")
	tokenPrefix   = []byte("token/")
	supplyPrefix  = []byte("supply/")
	balanceDomain = []byte("balance:")
)

func curveStorageKey(asset common.Address) []byte {
	return append(append([]byte{}, curvePrefix...), curve.CurveKey(asset)...)
}

func baseBalanceKey(addr common.Address) []byte {
	hash := ethcrypto.Keccak256(balanceDomain, addr.Bytes())
	return append(append([]byte{}, basePrefix...), hash...)
}

func tokenBalanceKey(asset, addr common.Address) []byte {
	hash := ethcrypto.Keccak256(balanceDomain, asset.Bytes(), addr.Bytes())
	return append(append([]byte{}, tokenPrefix...), hash...)
}

func supplyKey(asset common.Address) []byte {
	hash := ethcrypto.Keccak256(asset.Bytes())
	return append(append([]byte{}, supplyPrefix...), hash...)
}

// Manager exposes curve records and custody balances stored in a key-value
// database. Updates are serialised and applied as a single batch.
type Manager struct {
	mu sync.RWMutex
	db storage.Database
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

// Update runs fn against a buffered transaction. The buffered writes are
// committed only when fn returns nil.
func (m *Manager) Update(fn func(curve.State) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx := newTxn(m.db, true)
	if err := fn(tx); err != nil {
		return err
	}
	if err := m.db.Write(tx.batch()); err != nil {
		return fmt.Errorf("state: commit: %w", err)
	}
	return nil
}

// View runs fn against a read-only snapshot of the committed state.
func (m *Manager) View(fn func(curve.State) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fn(newTxn(m.db, false))
}

// Credit deposits amount of the base asset into account.
func (m *Manager) Credit(account common.Address, amount uint64) (uint64, error) {
	var balance uint64
	err := m.Update(func(st curve.State) error {
		tx := st.(*txn)
		if account == (common.Address{}) {
			return ErrInvalidAccount
		}
		current, err := tx.readUint(baseBalanceKey(account))
		if err != nil {
			return err
		}
		next := current + amount
		if next < current {
			return ErrBalanceOverflow
		}
		balance = next
		return tx.writeUint(baseBalanceKey(account), next)
	})
	return balance, err
}

// BaseBalance returns the base asset balance held by account.
func (m *Manager) BaseBalance(account common.Address) (uint64, error) {
	return m.readUint(baseBalanceKey(account))
}

// TokenBalance returns the curve token balance held by account.
func (m *Manager) TokenBalance(asset, account common.Address) (uint64, error) {
	return m.readUint(tokenBalanceKey(asset, account))
}

// TokenSupply returns the amount of asset issued by its curve.
func (m *Manager) TokenSupply(asset common.Address) (uint64, error) {
	return m.readUint(supplyKey(asset))
}

func (m *Manager) readUint(key []byte) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return newTxn(m.db, false).readUint(key)
}

// Holdings lists every curve token the account holds a non-zero balance of.
func (m *Manager) Holdings(account common.Address) (map[common.Address]uint64, error) {
	var out map[common.Address]uint64
	err := m.View(func(st curve.State) error {
		curves, err := st.CurveList()
		if err != nil {
			return err
		}
		tx := st.(*txn)
		out = make(map[common.Address]uint64)
		for _, c := range curves {
			amount, err := tx.readUint(tokenBalanceKey(c.Asset, account))
			if err != nil {
				return err
			}
			if amount > 0 {
				out[c.Asset] = amount
			}
		}
		return nil
	})
	return out, err
}

// Close releases the underlying database.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.db.Close()
}

func sortedKeys(m map[string][]byte) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
