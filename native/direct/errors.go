package direct

import "errors"

var (
	ErrFeeTooHigh          = errors.New("direct: fee exceeds maximum")
	ErrNotOwner            = errors.New("direct: caller is not the owner")
	ErrNotTxManager        = errors.New("direct: caller is not the transaction manager")
	ErrTokenNotSupported   = errors.New("direct: token not supported")
	ErrPaused              = errors.New("direct: module paused")
	ErrInvalidAmount       = errors.New("direct: invalid amount")
	ErrTransactionNotFound = errors.New("direct: transaction not found")
	ErrInvalidState        = errors.New("direct: transaction already settled")
	ErrTransferFailed      = errors.New("direct: token transfer failed")
	ErrIDSpaceExhausted    = errors.New("direct: identifier space exhausted")
)

// Numeric codes preserved from the deployed contract. Consumers match on the
// sentinel errors above; the codes exist for wire compatibility only.
const (
	CodeFeeTooHigh          uint32 = 100
	CodeNotOwner            uint32 = 101
	CodeNotTxManager        uint32 = 102
	CodeTokenNotSupported   uint32 = 103
	CodePaused              uint32 = 105
	CodeInvalidAmount       uint32 = 110
	CodeTransactionNotFound uint32 = 114
)

// Code resolves the stable numeric code for a module error. The second return
// is false for errors without an assigned code (state machine violations,
// transfer failures).
func Code(err error) (uint32, bool) {
	switch {
	case errors.Is(err, ErrFeeTooHigh):
		return CodeFeeTooHigh, true
	case errors.Is(err, ErrNotOwner):
		return CodeNotOwner, true
	case errors.Is(err, ErrNotTxManager):
		return CodeNotTxManager, true
	case errors.Is(err, ErrTokenNotSupported):
		return CodeTokenNotSupported, true
	case errors.Is(err, ErrPaused):
		return CodePaused, true
	case errors.Is(err, ErrInvalidAmount):
		return CodeInvalidAmount, true
	case errors.Is(err, ErrTransactionNotFound):
		return CodeTransactionNotFound, true
	}
	return 0, false
}
