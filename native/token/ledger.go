// Package token implements a fungible balance ledger persisted in protocol
// state. The lending protocol uses one instance for the liquidity asset and one
// for pool shares.
package token

import (
	"errors"
	"fmt"
	"strings"

	"github.com/holiman/uint256"

	"lendpool/crypto"
	nativecommon "lendpool/native/common"
)

var (
	ErrInsufficientBalance = errors.New("token: insufficient balance")
	ErrUnauthorizedMinter  = errors.New("token: caller is not the minter")
	ErrSupplyOverflow      = errors.New("token: supply overflow")
	errZeroRecipient       = errors.New("token: zero recipient")
)

const tokenPrefix = "token/"

// Ledger tracks balances and total supply for a single token symbol.
type Ledger struct {
	state    nativecommon.KVState
	symbol   string
	decimals uint8
	minter   crypto.Address
}

// NewLedger constructs a ledger for symbol. Only minter may mint or burn.
func NewLedger(state nativecommon.KVState, symbol string, decimals uint8, minter crypto.Address) *Ledger {
	return &Ledger{
		state:    state,
		symbol:   strings.ToUpper(strings.TrimSpace(symbol)),
		decimals: decimals,
		minter:   minter,
	}
}

// Symbol returns the ticker the ledger was created with.
func (l *Ledger) Symbol() string { return l.symbol }

// Decimals returns the fixed decimal count of the token.
func (l *Ledger) Decimals() uint8 { return l.decimals }

// Minter returns the only address allowed to mint and burn.
func (l *Ledger) Minter() crypto.Address { return l.minter }

func (l *Ledger) supplyKey() []byte {
	return []byte(tokenPrefix + l.symbol + "/supply")
}

func (l *Ledger) balanceKey(addr crypto.Address) []byte {
	key := []byte(tokenPrefix + l.symbol + "/balance/")
	return append(key, addr[:]...)
}

func (l *Ledger) load(key []byte) (*uint256.Int, error) {
	value := new(uint256.Int)
	ok, err := l.state.KVGet(key, value)
	if err != nil {
		return nil, fmt.Errorf("token %s: %w", l.symbol, err)
	}
	if !ok {
		return new(uint256.Int), nil
	}
	return value, nil
}

func (l *Ledger) store(key []byte, value *uint256.Int) error {
	if value.IsZero() {
		return l.state.KVDelete(key)
	}
	return l.state.KVPut(key, value)
}

// BalanceOf returns the balance held by addr.
func (l *Ledger) BalanceOf(addr crypto.Address) (*uint256.Int, error) {
	return l.load(l.balanceKey(addr))
}

// TotalSupply returns the outstanding supply.
func (l *Ledger) TotalSupply() (*uint256.Int, error) {
	return l.load(l.supplyKey())
}

// Transfer moves amount from one holder to another. Zero transfers succeed
// without touching state.
func (l *Ledger) Transfer(from, to crypto.Address, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return nil
	}
	if to.IsZero() {
		return errZeroRecipient
	}
	fromBalance, err := l.BalanceOf(from)
	if err != nil {
		return err
	}
	if fromBalance.Lt(amount) {
		return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientBalance, l.symbol, fromBalance.Dec(), amount.Dec())
	}
	if from == to {
		return nil
	}
	toBalance, err := l.BalanceOf(to)
	if err != nil {
		return err
	}
	fromBalance.Sub(fromBalance, amount)
	toBalance.Add(toBalance, amount)
	if err := l.store(l.balanceKey(from), fromBalance); err != nil {
		return err
	}
	return l.store(l.balanceKey(to), toBalance)
}

// Mint credits amount to to and grows the supply.
func (l *Ledger) Mint(caller, to crypto.Address, amount *uint256.Int) error {
	if caller != l.minter {
		return ErrUnauthorizedMinter
	}
	if amount == nil || amount.IsZero() {
		return nil
	}
	if to.IsZero() {
		return errZeroRecipient
	}
	supply, err := l.TotalSupply()
	if err != nil {
		return err
	}
	if _, overflow := supply.AddOverflow(supply, amount); overflow {
		return ErrSupplyOverflow
	}
	balance, err := l.BalanceOf(to)
	if err != nil {
		return err
	}
	balance.Add(balance, amount)
	if err := l.store(l.supplyKey(), supply); err != nil {
		return err
	}
	return l.store(l.balanceKey(to), balance)
}

// Burn debits amount from from and shrinks the supply.
func (l *Ledger) Burn(caller, from crypto.Address, amount *uint256.Int) error {
	if caller != l.minter {
		return ErrUnauthorizedMinter
	}
	if amount == nil || amount.IsZero() {
		return nil
	}
	balance, err := l.BalanceOf(from)
	if err != nil {
		return err
	}
	if balance.Lt(amount) {
		return fmt.Errorf("%w: burn %s from %s", ErrInsufficientBalance, amount.Dec(), l.symbol)
	}
	supply, err := l.TotalSupply()
	if err != nil {
		return err
	}
	balance.Sub(balance, amount)
	supply.Sub(supply, amount)
	if err := l.store(l.balanceKey(from), balance); err != nil {
		return err
	}
	return l.store(l.supplyKey(), supply)
}
