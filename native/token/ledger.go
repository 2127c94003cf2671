package token

import (
	"errors"
	"fmt"
	"math/big"
)

var (
	ErrInsufficientBalance = errors.New("token: insufficient balance")
	ErrInvalidAmount       = errors.New("token: amount must be positive")
)

// Storage abstracts the balance persistence the ledger runs on. The state
// manager implements it inside its transactional boundary so a failed
// operation never leaves a partial balance update behind.
type Storage interface {
	BalanceGet(token, owner [20]byte) (*big.Int, error)
	BalancePut(token, owner [20]byte, amount *big.Int) error
}

// Ledger tracks fungible token balances per (token contract, owner) pair and
// implements the transfer capability the settlement module escrows through.
type Ledger struct {
	store Storage
}

func NewLedger(store Storage) *Ledger {
	return &Ledger{store: store}
}

// BalanceOf returns the owner's balance for the token, zero when unset.
func (l *Ledger) BalanceOf(token, owner [20]byte) (*big.Int, error) {
	if l == nil || l.store == nil {
		return nil, fmt.Errorf("token: ledger not initialised")
	}
	balance, err := l.store.BalanceGet(token, owner)
	if err != nil {
		return nil, err
	}
	if balance == nil {
		return big.NewInt(0), nil
	}
	return balance, nil
}

// Mint credits freshly issued units to the recipient.
func (l *Ledger) Mint(token, to [20]byte, amount *big.Int) error {
	if l == nil || l.store == nil {
		return fmt.Errorf("token: ledger not initialised")
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	balance, err := l.BalanceOf(token, to)
	if err != nil {
		return err
	}
	return l.store.BalancePut(token, to, new(big.Int).Add(balance, amount))
}

// Transfer moves amount of token between owners. It fails without side
// effects when the sender's balance is insufficient.
func (l *Ledger) Transfer(token, from, to [20]byte, amount *big.Int) error {
	if l == nil || l.store == nil {
		return fmt.Errorf("token: ledger not initialised")
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if from == to {
		return nil
	}
	fromBalance, err := l.BalanceOf(token, from)
	if err != nil {
		return err
	}
	if fromBalance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	toBalance, err := l.BalanceOf(token, to)
	if err != nil {
		return err
	}
	if err := l.store.BalancePut(token, from, new(big.Int).Sub(fromBalance, amount)); err != nil {
		return err
	}
	return l.store.BalancePut(token, to, new(big.Int).Add(toBalance, amount))
}
