package direct

import (
	"errors"
	"fmt"
	"math"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"defidirect/core/events"
)

var (
	errNilState = errors.New("direct engine: state not configured")
)

// EscrowAddress is the synthetic account that holds escrowed funds between
// initiation and settlement. No key exists for it; only engine operations
// move balances in or out.
var EscrowAddress = escrowAddress()

func escrowAddress() [20]byte {
	digest := ethcrypto.Keccak256([]byte("defidirect/escrow/v1"))
	var addr [20]byte
	copy(addr[:], digest[12:])
	return addr
}

// engineState is the narrow view of module state the engine mutates. The
// state manager implements it with journaled, all-or-nothing semantics; unit
// tests implement it with plain maps.
type engineState interface {
	SettingsGet() (*Settings, bool, error)
	SettingsPut(*Settings) error
	TransactionGet(id [32]byte) (*Transaction, bool, error)
	TransactionPut(*Transaction) error
	TransactionIndexAppend(originator [20]byte, id [32]byte) error
	TransactionIndexList(originator [20]byte) ([][32]byte, error)
	TokenSupportedPut(token [20]byte) error
	TokenSupportedDelete(token [20]byte) error
	TokenSupported(token [20]byte) (bool, error)
	CounterGet() (uint64, error)
	CounterPut(uint64) error
	TokenTransfer(token, from, to [20]byte, amount *big.Int) error
	BlockHeight() uint64
}

// Engine owns the transaction lifecycle: role guards, fee computation,
// custody legs and the state machine transitions. Every mutating operation
// either fully applies or, when run inside the state manager's transactional
// boundary, leaves no trace.
type Engine struct {
	state   engineState
	emitter events.Emitter
}

func NewEngine() *Engine {
	return &Engine{emitter: events.NoopEmitter{}}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetEmitter configures the event emitter. Passing nil resets to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(evt *events.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(evt)
}

func (e *Engine) loadSettings() (*Settings, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	settings, ok, err := e.state.SettingsGet()
	if err != nil {
		return nil, err
	}
	if !ok || settings == nil {
		return &Settings{}, nil
	}
	return settings, nil
}

func (e *Engine) storeSettings(settings *Settings) error {
	sanitized, err := SanitizeSettings(settings)
	if err != nil {
		return err
	}
	return e.state.SettingsPut(sanitized)
}

func requireOwner(settings *Settings, caller [20]byte) error {
	if settings == nil || caller != settings.Owner || settings.Owner == ([20]byte{}) {
		return ErrNotOwner
	}
	return nil
}

func requireTxManager(settings *Settings, caller [20]byte) error {
	if settings == nil || caller != settings.TxManager || settings.TxManager == ([20]byte{}) {
		return ErrNotTxManager
	}
	return nil
}

// Bootstrap records the deploying owner. It is a no-op when an owner is
// already set, so restarting the service never transfers ownership.
func (e *Engine) Bootstrap(owner [20]byte) error {
	settings, err := e.loadSettings()
	if err != nil {
		return err
	}
	if settings.Owner != ([20]byte{}) {
		return nil
	}
	if owner == ([20]byte{}) {
		return fmt.Errorf("direct: owner address required")
	}
	settings.Owner = owner
	return e.storeSettings(settings)
}

// Initialize sets the fee and role addresses in one shot. Owner-gated and
// re-runnable: invoking it again overwrites fee and roles with the supplied
// values.
func (e *Engine) Initialize(caller [20]byte, feeBps uint32, txManager, feeReceiver, vault [20]byte) error {
	settings, err := e.loadSettings()
	if err != nil {
		return err
	}
	if err := requireOwner(settings, caller); err != nil {
		return err
	}
	if feeBps > MaxFeeBps {
		return ErrFeeTooHigh
	}
	settings.FeeBps = feeBps
	settings.TxManager = txManager
	settings.FeeReceiver = feeReceiver
	settings.Vault = vault
	settings.Initialized = true
	if err := e.storeSettings(settings); err != nil {
		return err
	}
	e.emit(NewInitializedEvent(settings))
	return nil
}

// UpdateSpreadFee replaces the fee percentage, bounded by MaxFeeBps.
func (e *Engine) UpdateSpreadFee(caller [20]byte, feeBps uint32) error {
	settings, err := e.loadSettings()
	if err != nil {
		return err
	}
	if err := requireOwner(settings, caller); err != nil {
		return err
	}
	if feeBps > MaxFeeBps {
		return ErrFeeTooHigh
	}
	settings.FeeBps = feeBps
	if err := e.storeSettings(settings); err != nil {
		return err
	}
	e.emit(NewFeeUpdatedEvent(feeBps))
	return nil
}

// SetFeeReceiver replaces the address credited with the fee leg.
func (e *Engine) SetFeeReceiver(caller, receiver [20]byte) error {
	settings, err := e.loadSettings()
	if err != nil {
		return err
	}
	if err := requireOwner(settings, caller); err != nil {
		return err
	}
	settings.FeeReceiver = receiver
	if err := e.storeSettings(settings); err != nil {
		return err
	}
	e.emit(NewRoleUpdatedEvent(EventTypeFeeReceiverUpdated, receiver))
	return nil
}

// SetVaultAddress replaces the address credited with the net leg.
func (e *Engine) SetVaultAddress(caller, vault [20]byte) error {
	settings, err := e.loadSettings()
	if err != nil {
		return err
	}
	if err := requireOwner(settings, caller); err != nil {
		return err
	}
	settings.Vault = vault
	if err := e.storeSettings(settings); err != nil {
		return err
	}
	e.emit(NewRoleUpdatedEvent(EventTypeVaultUpdated, vault))
	return nil
}

// SetTransactionManager replaces the role allowed to complete transactions.
func (e *Engine) SetTransactionManager(caller, manager [20]byte) error {
	settings, err := e.loadSettings()
	if err != nil {
		return err
	}
	if err := requireOwner(settings, caller); err != nil {
		return err
	}
	settings.TxManager = manager
	if err := e.storeSettings(settings); err != nil {
		return err
	}
	e.emit(NewRoleUpdatedEvent(EventTypeManagerUpdated, manager))
	return nil
}

// Pause blocks new initiations. Completion and refund stay available so
// in-flight escrows can always be settled.
func (e *Engine) Pause(caller [20]byte) error {
	return e.setPaused(caller, true)
}

// Unpause re-enables initiation.
func (e *Engine) Unpause(caller [20]byte) error {
	return e.setPaused(caller, false)
}

func (e *Engine) setPaused(caller [20]byte, paused bool) error {
	settings, err := e.loadSettings()
	if err != nil {
		return err
	}
	if err := requireOwner(settings, caller); err != nil {
		return err
	}
	settings.Paused = paused
	if err := e.storeSettings(settings); err != nil {
		return err
	}
	e.emit(NewPauseEvent(paused))
	return nil
}

// AddSupportedToken marks a token contract as eligible for escrow.
func (e *Engine) AddSupportedToken(caller, token [20]byte) error {
	settings, err := e.loadSettings()
	if err != nil {
		return err
	}
	if err := requireOwner(settings, caller); err != nil {
		return err
	}
	if err := e.state.TokenSupportedPut(token); err != nil {
		return err
	}
	e.emit(NewTokenEvent(EventTypeTokenAdded, token))
	return nil
}

// RemoveSupportedToken drops a token from the supported set. Existing
// records against the token remain settleable.
func (e *Engine) RemoveSupportedToken(caller, token [20]byte) error {
	settings, err := e.loadSettings()
	if err != nil {
		return err
	}
	if err := requireOwner(settings, caller); err != nil {
		return err
	}
	if err := e.state.TokenSupportedDelete(token); err != nil {
		return err
	}
	e.emit(NewTokenEvent(EventTypeTokenRemoved, token))
	return nil
}

// Initiate escrows amount of token from the caller against the supplied fiat
// payout metadata and records the new transaction. Returns the persisted
// record including its derived identifier.
func (e *Engine) Initiate(caller, token [20]byte, amount *big.Int, fiatBankAccount uint64, fiatAmount *big.Int, fiatBank, recipientName string) (*Transaction, error) {
	settings, err := e.loadSettings()
	if err != nil {
		return nil, err
	}
	if settings.Paused {
		return nil, ErrPaused
	}
	supported, err := e.state.TokenSupported(token)
	if err != nil {
		return nil, err
	}
	if !supported {
		return nil, ErrTokenNotSupported
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if err := e.state.TokenTransfer(token, caller, EscrowAddress, amount); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrTransferFailed, err)
	}
	counter, err := e.state.CounterGet()
	if err != nil {
		return nil, err
	}
	if counter == math.MaxUint64 {
		return nil, ErrIDSpaceExhausted
	}
	counter++
	if err := e.state.CounterPut(counter); err != nil {
		return nil, err
	}
	height := e.state.BlockHeight()
	record := &Transaction{
		ID:              DeriveID(caller, counter, height),
		Originator:      caller,
		Token:           token,
		Amount:          amount,
		FiatBankAccount: fiatBankAccount,
		FiatAmount:      fiatAmount,
		FiatBank:        fiatBank,
		RecipientName:   recipientName,
		Status:          StatusInitiated,
		CreatedAt:       height,
	}
	sanitized, err := SanitizeTransaction(record)
	if err != nil {
		return nil, err
	}
	if err := e.state.TransactionPut(sanitized); err != nil {
		return nil, err
	}
	if err := e.state.TransactionIndexAppend(caller, sanitized.ID); err != nil {
		return nil, err
	}
	e.emit(NewInitiatedEvent(sanitized))
	return sanitized.Clone(), nil
}

// Complete settles an initiated transaction: the spread fee goes to the fee
// receiver, the net amount to the vault, and the record becomes terminal.
// amount is the manager-attested settlement amount and must equal the stored
// escrow amount exactly.
func (e *Engine) Complete(caller, token [20]byte, id [32]byte, amount *big.Int) error {
	settings, err := e.loadSettings()
	if err != nil {
		return err
	}
	if err := requireTxManager(settings, caller); err != nil {
		return err
	}
	record, ok, err := e.state.TransactionGet(id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrTransactionNotFound
	}
	if record.Status != StatusInitiated {
		return ErrInvalidState
	}
	if token != record.Token {
		return ErrTokenNotSupported
	}
	if amount == nil || amount.Cmp(record.Amount) != 0 {
		return ErrInvalidAmount
	}
	fee, net := ComputeFee(record.Amount, settings.FeeBps)
	if fee.Sign() > 0 {
		if err := e.state.TokenTransfer(record.Token, EscrowAddress, settings.FeeReceiver, fee); err != nil {
			return fmt.Errorf("%w: %s", ErrTransferFailed, err)
		}
	}
	if net.Sign() > 0 {
		if err := e.state.TokenTransfer(record.Token, EscrowAddress, settings.Vault, net); err != nil {
			return fmt.Errorf("%w: %s", ErrTransferFailed, err)
		}
	}
	record.Status = StatusCompleted
	if err := e.state.TransactionPut(record); err != nil {
		return err
	}
	e.emit(NewCompletedEvent(record, fee, net))
	return nil
}

// Refund returns the full escrowed amount to the originator and marks the
// record terminal. Owner-gated.
func (e *Engine) Refund(caller [20]byte, id [32]byte, token [20]byte) error {
	settings, err := e.loadSettings()
	if err != nil {
		return err
	}
	if err := requireOwner(settings, caller); err != nil {
		return err
	}
	record, ok, err := e.state.TransactionGet(id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrTransactionNotFound
	}
	if record.Status != StatusInitiated {
		return ErrInvalidState
	}
	if token != record.Token {
		return ErrTokenNotSupported
	}
	if err := e.state.TokenTransfer(record.Token, EscrowAddress, record.Originator, record.Amount); err != nil {
		return fmt.Errorf("%w: %s", ErrTransferFailed, err)
	}
	record.Status = StatusRefunded
	if err := e.state.TransactionPut(record); err != nil {
		return err
	}
	e.emit(NewRefundedEvent(record))
	return nil
}

// Owner returns the configured owner address.
func (e *Engine) Owner() ([20]byte, error) {
	settings, err := e.loadSettings()
	if err != nil {
		return [20]byte{}, err
	}
	return settings.Owner, nil
}

// TransactionManager returns the configured completion role.
func (e *Engine) TransactionManager() ([20]byte, error) {
	settings, err := e.loadSettings()
	if err != nil {
		return [20]byte{}, err
	}
	return settings.TxManager, nil
}

// FeeReceiver returns the address credited with the fee leg.
func (e *Engine) FeeReceiver() ([20]byte, error) {
	settings, err := e.loadSettings()
	if err != nil {
		return [20]byte{}, err
	}
	return settings.FeeReceiver, nil
}

// VaultAddress returns the address credited with the net leg.
func (e *Engine) VaultAddress() ([20]byte, error) {
	settings, err := e.loadSettings()
	if err != nil {
		return [20]byte{}, err
	}
	return settings.Vault, nil
}

// SpreadFeeBps returns the configured fee percentage in basis points.
func (e *Engine) SpreadFeeBps() (uint32, error) {
	settings, err := e.loadSettings()
	if err != nil {
		return 0, err
	}
	return settings.FeeBps, nil
}

// IsPaused reports whether initiation is currently blocked.
func (e *Engine) IsPaused() (bool, error) {
	settings, err := e.loadSettings()
	if err != nil {
		return false, err
	}
	return settings.Paused, nil
}

// IsTokenSupported reports membership in the supported token set.
func (e *Engine) IsTokenSupported(token [20]byte) (bool, error) {
	if e == nil || e.state == nil {
		return false, errNilState
	}
	return e.state.TokenSupported(token)
}

// Transaction returns the record for id, or ok=false when unknown. Unknown
// identifiers are not an error.
func (e *Engine) Transaction(id [32]byte) (*Transaction, bool, error) {
	if e == nil || e.state == nil {
		return nil, false, errNilState
	}
	record, ok, err := e.state.TransactionGet(id)
	if err != nil || !ok {
		return nil, false, err
	}
	return record.Clone(), true, nil
}

// TransactionIDs returns the originator's transaction identifiers in
// insertion order. Principals with no initiations yield an empty slice.
func (e *Engine) TransactionIDs(originator [20]byte) ([][32]byte, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.state.TransactionIndexList(originator)
}
