package direct

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"defidirect/core/events"
)

const (
	EventTypeInitialized        = "direct.initialized"
	EventTypePaused             = "direct.paused"
	EventTypeUnpaused           = "direct.unpaused"
	EventTypeTokenAdded         = "direct.token_added"
	EventTypeTokenRemoved       = "direct.token_removed"
	EventTypeFeeUpdated         = "direct.fee_updated"
	EventTypeFeeReceiverUpdated = "direct.fee_receiver_updated"
	EventTypeVaultUpdated       = "direct.vault_updated"
	EventTypeManagerUpdated     = "direct.manager_updated"
	EventTypeInitiated          = "direct.initiated"
	EventTypeCompleted          = "direct.completed"
	EventTypeRefunded           = "direct.refunded"
)

// NewInitializedEvent captures the role and fee configuration applied by the
// initializer.
func NewInitializedEvent(s *Settings) *events.Event {
	attrs := make(map[string]string)
	if s != nil {
		attrs["feeBps"] = strconv.FormatUint(uint64(s.FeeBps), 10)
		attrs["txManager"] = hex.EncodeToString(s.TxManager[:])
		attrs["feeReceiver"] = hex.EncodeToString(s.FeeReceiver[:])
		attrs["vault"] = hex.EncodeToString(s.Vault[:])
	}
	return &events.Event{Type: EventTypeInitialized, Attributes: attrs}
}

// NewPauseEvent reports a pause flag flip.
func NewPauseEvent(paused bool) *events.Event {
	eventType := EventTypeUnpaused
	if paused {
		eventType = EventTypePaused
	}
	return &events.Event{Type: eventType, Attributes: map[string]string{}}
}

// NewFeeUpdatedEvent reports a spread fee change.
func NewFeeUpdatedEvent(feeBps uint32) *events.Event {
	return &events.Event{Type: EventTypeFeeUpdated, Attributes: map[string]string{
		"feeBps": strconv.FormatUint(uint64(feeBps), 10),
	}}
}

// NewRoleUpdatedEvent reports a role address change for the given event type.
func NewRoleUpdatedEvent(eventType string, addr [20]byte) *events.Event {
	return &events.Event{Type: eventType, Attributes: map[string]string{
		"address": hex.EncodeToString(addr[:]),
	}}
}

// NewTokenEvent reports a supported-token set change.
func NewTokenEvent(eventType string, token [20]byte) *events.Event {
	return &events.Event{Type: eventType, Attributes: map[string]string{
		"token": hex.EncodeToString(token[:]),
	}}
}

// NewInitiatedEvent is the canonical payload for a freshly escrowed
// transaction.
func NewInitiatedEvent(t *Transaction) *events.Event {
	return newTransactionEvent(EventTypeInitiated, t, nil)
}

// NewCompletedEvent is the canonical payload for a settled transaction,
// including the fee split applied.
func NewCompletedEvent(t *Transaction, fee, net *big.Int) *events.Event {
	extra := map[string]string{}
	if fee != nil {
		extra["fee"] = fee.String()
	}
	if net != nil {
		extra["net"] = net.String()
	}
	return newTransactionEvent(EventTypeCompleted, t, extra)
}

// NewRefundedEvent is the canonical payload for a refunded transaction.
func NewRefundedEvent(t *Transaction) *events.Event {
	return newTransactionEvent(EventTypeRefunded, t, nil)
}

func newTransactionEvent(eventType string, t *Transaction, extra map[string]string) *events.Event {
	attrs := make(map[string]string)
	if t != nil {
		attrs["id"] = hex.EncodeToString(t.ID[:])
		attrs["originator"] = hex.EncodeToString(t.Originator[:])
		attrs["token"] = hex.EncodeToString(t.Token[:])
		if t.Amount != nil {
			attrs["amount"] = t.Amount.String()
		}
		if t.FiatAmount != nil {
			attrs["fiatAmount"] = t.FiatAmount.String()
		}
		attrs["fiatBank"] = t.FiatBank
		attrs["status"] = t.Status.String()
		attrs["createdAt"] = strconv.FormatUint(t.CreatedAt, 10)
	}
	for k, v := range extra {
		attrs[k] = v
	}
	return &events.Event{Type: eventType, Attributes: attrs}
}
