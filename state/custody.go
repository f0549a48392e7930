package state

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"launchpad/native/curve"
)

func (t *txn) debit(key []byte, amount uint64) error {
	current, err := t.readUint(key)
	if err != nil {
		return err
	}
	if current < amount {
		return fmt.Errorf("%w: have %d, need %d", ErrInsufficientBalance, current, amount)
	}
	return t.writeUint(key, current-amount)
}

func (t *txn) credit(key []byte, amount uint64) error {
	current, err := t.readUint(key)
	if err != nil {
		return err
	}
	next := current + amount
	if next < current {
		return ErrBalanceOverflow
	}
	return t.writeUint(key, next)
}

// TransferBase moves the reserve asset from one account to another.
func (t *txn) TransferBase(from, to common.Address, amount uint64) error {
	if from == (common.Address{}) || to == (common.Address{}) {
		return ErrInvalidAccount
	}
	if amount == 0 {
		return nil
	}
	if err := t.debit(baseBalanceKey(from), amount); err != nil {
		return err
	}
	return t.credit(baseBalanceKey(to), amount)
}

// MintToken issues curve tokens, bounded by the fixed total supply.
func (t *txn) MintToken(asset, to common.Address, amount uint64) error {
	if to == (common.Address{}) {
		return ErrInvalidAccount
	}
	supply, err := t.readUint(supplyKey(asset))
	if err != nil {
		return err
	}
	if amount > curve.TotalSupply-supply {
		return fmt.Errorf("%w: supply %d, mint %d", ErrSupplyExceeded, supply, amount)
	}
	if err := t.writeUint(supplyKey(asset), supply+amount); err != nil {
		return err
	}
	return t.credit(tokenBalanceKey(asset, to), amount)
}

// BurnToken retires tokens held by from.
func (t *txn) BurnToken(asset, from common.Address, amount uint64) error {
	if from == (common.Address{}) {
		return ErrInvalidAccount
	}
	if err := t.debit(tokenBalanceKey(asset, from), amount); err != nil {
		return err
	}
	supply, err := t.readUint(supplyKey(asset))
	if err != nil {
		return err
	}
	if supply < amount {
		return fmt.Errorf("%w: supply %d below burn %d", ErrInsufficientBalance, supply, amount)
	}
	return t.writeUint(supplyKey(asset), supply-amount)
}
