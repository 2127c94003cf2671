package direct

import (
	"fmt"
	"math/big"
	"strings"
)

// Status represents the lifecycle state of a fiat settlement transaction.
type Status byte

const (
	StatusInitiated Status = 0x01
	StatusCompleted Status = 0x02
	StatusRefunded  Status = 0x03
)

func (s Status) Valid() bool {
	switch s {
	case StatusInitiated, StatusCompleted, StatusRefunded:
		return true
	}
	return false
}

// Terminal reports whether no further transition is permitted.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusRefunded
}

func (s Status) String() string {
	switch s {
	case StatusInitiated:
		return "initiated"
	case StatusCompleted:
		return "completed"
	case StatusRefunded:
		return "refunded"
	}
	return fmt.Sprintf("unknown(%d)", byte(s))
}

const (
	maxFiatBankLen      = 32
	maxRecipientNameLen = 64
)

// Transaction holds the escrow record for a single fiat settlement. All
// fields except Status are immutable after initiation.
type Transaction struct {
	ID              [32]byte
	Originator      [20]byte
	Token           [20]byte
	Amount          *big.Int
	FiatBankAccount uint64
	FiatAmount      *big.Int
	FiatBank        string
	RecipientName   string
	Status          Status
	CreatedAt       uint64
}

// Clone returns a deep copy so callers cannot mutate shared state.
func (t *Transaction) Clone() *Transaction {
	if t == nil {
		return nil
	}
	clone := *t
	if t.Amount != nil {
		clone.Amount = new(big.Int).Set(t.Amount)
	}
	if t.FiatAmount != nil {
		clone.FiatAmount = new(big.Int).Set(t.FiatAmount)
	}
	return &clone
}

// SanitizeTransaction validates and normalises a record prior to persistence.
func SanitizeTransaction(t *Transaction) (*Transaction, error) {
	if t == nil {
		return nil, fmt.Errorf("direct: nil transaction")
	}
	clone := t.Clone()
	if clone.Amount == nil || clone.Amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if clone.FiatAmount == nil {
		clone.FiatAmount = big.NewInt(0)
	}
	if clone.FiatAmount.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	if !clone.Status.Valid() {
		return nil, fmt.Errorf("direct: invalid status %d", byte(clone.Status))
	}
	clone.FiatBank = strings.TrimSpace(clone.FiatBank)
	if len(clone.FiatBank) > maxFiatBankLen {
		return nil, fmt.Errorf("direct: fiat bank exceeds %d characters", maxFiatBankLen)
	}
	clone.RecipientName = strings.TrimSpace(clone.RecipientName)
	if len(clone.RecipientName) > maxRecipientNameLen {
		return nil, fmt.Errorf("direct: recipient name exceeds %d characters", maxRecipientNameLen)
	}
	return clone, nil
}
