package core

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strconv"

	"defidirect/audit"
	"defidirect/core/events"
	"defidirect/native/direct"
	"defidirect/native/token"
	"defidirect/observability/metrics"
	"defidirect/state"
)

// Node is the service facade over the settlement module. Every mutating call
// runs inside one state transaction; events, audit rows and metrics are
// published only after the transaction commits.
type Node struct {
	log      *slog.Logger
	state    *state.Manager
	journal  *audit.Journal
	recorder *events.Recorder
	metrics  *metrics.DirectMetrics
}

func NewNode(log *slog.Logger, mgr *state.Manager, journal *audit.Journal) *Node {
	if log == nil {
		log = slog.Default()
	}
	return &Node{
		log:      log,
		state:    mgr,
		journal:  journal,
		recorder: events.NewRecorder(256),
		metrics:  metrics.Direct(),
	}
}

// Height returns the sequence number of the last committed operation.
func (n *Node) Height() uint64 { return n.state.Height() }

// Events returns the most recent published events, newest last.
func (n *Node) Events(limit int) []*events.Event { return n.recorder.Events(limit) }

type collector struct {
	events []*events.Event
}

func (c *collector) Emit(evt *events.Event) { c.events = append(c.events, evt) }

// update runs fn with an engine bound to a staged transaction. Events emitted
// by the engine are buffered and published only on commit.
func (n *Node) update(ctx context.Context, fn func(*direct.Engine) error) error {
	buffered := &collector{}
	err := n.state.Update(func(txn *state.Txn) error {
		engine := direct.NewEngine()
		engine.SetState(txn)
		engine.SetEmitter(buffered)
		return fn(engine)
	})
	if err != nil {
		if code, ok := direct.Code(err); ok {
			n.metrics.ObserveRejected(strconv.FormatUint(uint64(code), 10))
		}
		return err
	}
	n.publish(ctx, buffered.events)
	return nil
}

func (n *Node) view(fn func(*direct.Engine) error) error {
	return n.state.View(func(txn *state.Txn) error {
		engine := direct.NewEngine()
		engine.SetState(txn)
		return fn(engine)
	})
}

func (n *Node) publish(ctx context.Context, evts []*events.Event) {
	for _, evt := range evts {
		n.recorder.Emit(evt)
		n.observe(evt)
		n.record(ctx, evt)
	}
}

func (n *Node) observe(evt *events.Event) {
	tokenHex := evt.Attributes["token"]
	switch evt.Type {
	case direct.EventTypeInitiated:
		n.metrics.ObserveInitiated(tokenHex)
	case direct.EventTypeCompleted:
		n.metrics.ObserveCompleted(tokenHex)
		if fee, err := strconv.ParseFloat(evt.Attributes["fee"], 64); err == nil {
			n.metrics.AddFeeCollected(fee)
		}
	case direct.EventTypeRefunded:
		n.metrics.ObserveRefunded(tokenHex)
	}
}

func (n *Node) record(ctx context.Context, evt *events.Event) {
	if n.journal == nil {
		return
	}
	switch evt.Type {
	case direct.EventTypeInitiated, direct.EventTypeCompleted, direct.EventTypeRefunded:
	default:
		return
	}
	entry := audit.Entry{
		TxID:       evt.Attributes["id"],
		Event:      evt.Type,
		Token:      evt.Attributes["token"],
		Originator: evt.Attributes["originator"],
		Amount:     evt.Attributes["amount"],
		Fee:        evt.Attributes["fee"],
		Net:        evt.Attributes["net"],
	}
	if err := n.journal.Record(ctx, entry); err != nil {
		n.log.Error("journal write failed", "event", evt.Type, "txId", entry.TxID, "err", err)
	}
}

// Bootstrap sets the module owner on first start.
func (n *Node) Bootstrap(ctx context.Context, owner [20]byte) error {
	return n.update(ctx, func(engine *direct.Engine) error {
		return engine.Bootstrap(owner)
	})
}

// Initialize applies the fee and role configuration.
func (n *Node) Initialize(ctx context.Context, caller [20]byte, feeBps uint32, manager, feeReceiver, vault [20]byte) error {
	return n.update(ctx, func(engine *direct.Engine) error {
		return engine.Initialize(caller, feeBps, manager, feeReceiver, vault)
	})
}

func (n *Node) UpdateSpreadFee(ctx context.Context, caller [20]byte, feeBps uint32) error {
	return n.update(ctx, func(engine *direct.Engine) error {
		return engine.UpdateSpreadFee(caller, feeBps)
	})
}

func (n *Node) SetFeeReceiver(ctx context.Context, caller, receiver [20]byte) error {
	return n.update(ctx, func(engine *direct.Engine) error {
		return engine.SetFeeReceiver(caller, receiver)
	})
}

func (n *Node) SetVaultAddress(ctx context.Context, caller, vault [20]byte) error {
	return n.update(ctx, func(engine *direct.Engine) error {
		return engine.SetVaultAddress(caller, vault)
	})
}

func (n *Node) SetTransactionManager(ctx context.Context, caller, manager [20]byte) error {
	return n.update(ctx, func(engine *direct.Engine) error {
		return engine.SetTransactionManager(caller, manager)
	})
}

func (n *Node) Pause(ctx context.Context, caller [20]byte) error {
	return n.update(ctx, func(engine *direct.Engine) error {
		return engine.Pause(caller)
	})
}

func (n *Node) Unpause(ctx context.Context, caller [20]byte) error {
	return n.update(ctx, func(engine *direct.Engine) error {
		return engine.Unpause(caller)
	})
}

func (n *Node) AddSupportedToken(ctx context.Context, caller, tok [20]byte) error {
	return n.update(ctx, func(engine *direct.Engine) error {
		return engine.AddSupportedToken(caller, tok)
	})
}

func (n *Node) RemoveSupportedToken(ctx context.Context, caller, tok [20]byte) error {
	return n.update(ctx, func(engine *direct.Engine) error {
		return engine.RemoveSupportedToken(caller, tok)
	})
}

// Initiate escrows funds and opens a settlement transaction.
func (n *Node) Initiate(ctx context.Context, caller, tok [20]byte, amount *big.Int, fiatBankAccount uint64, fiatAmount *big.Int, fiatBank, recipientName string) (*direct.Transaction, error) {
	var record *direct.Transaction
	err := n.update(ctx, func(engine *direct.Engine) error {
		created, err := engine.Initiate(caller, tok, amount, fiatBankAccount, fiatAmount, fiatBank, recipientName)
		if err != nil {
			return err
		}
		record = created
		return nil
	})
	if err != nil {
		return nil, err
	}
	n.log.Info("transaction initiated",
		"txId", direct.FormatID(record.ID),
		"originator", direct.FormatAddress(record.Originator),
		"token", direct.FormatAddress(record.Token),
		"amount", record.Amount.String())
	return record, nil
}

// Complete settles an initiated transaction and distributes the fee split.
func (n *Node) Complete(ctx context.Context, caller, tok [20]byte, id [32]byte, amount *big.Int) error {
	err := n.update(ctx, func(engine *direct.Engine) error {
		return engine.Complete(caller, tok, id, amount)
	})
	if err != nil {
		return err
	}
	n.log.Info("transaction completed", "txId", direct.FormatID(id))
	return nil
}

// Refund returns escrowed funds to the originator.
func (n *Node) Refund(ctx context.Context, caller [20]byte, id [32]byte, tok [20]byte) error {
	err := n.update(ctx, func(engine *direct.Engine) error {
		return engine.Refund(caller, id, tok)
	})
	if err != nil {
		return err
	}
	n.log.Info("transaction refunded", "txId", direct.FormatID(id))
	return nil
}

// Transaction returns the stored record, absent rather than erroring when the
// id is unknown.
func (n *Node) Transaction(id [32]byte) (*direct.Transaction, bool, error) {
	var (
		record *direct.Transaction
		found  bool
	)
	err := n.view(func(engine *direct.Engine) error {
		loaded, ok, err := engine.Transaction(id)
		if err != nil {
			return err
		}
		record, found = loaded, ok
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return record, found, nil
}

// TransactionIDs returns the originator's transaction identifiers in
// initiation order, empty for principals that never initiated.
func (n *Node) TransactionIDs(originator [20]byte) ([][32]byte, error) {
	var ids [][32]byte
	err := n.view(func(engine *direct.Engine) error {
		var err error
		ids, err = engine.TransactionIDs(originator)
		return err
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// TransactionsByOriginator returns a page of the originator's records in
// initiation order.
func (n *Node) TransactionsByOriginator(originator [20]byte, offset, limit int) ([]*direct.Transaction, int, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	var (
		page  []*direct.Transaction
		total int
	)
	err := n.view(func(engine *direct.Engine) error {
		ids, err := engine.TransactionIDs(originator)
		if err != nil {
			return err
		}
		total = len(ids)
		if offset >= len(ids) {
			return nil
		}
		end := offset + limit
		if end > len(ids) {
			end = len(ids)
		}
		for _, id := range ids[offset:end] {
			record, ok, err := engine.Transaction(id)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("core: indexed transaction %s missing", direct.FormatID(id))
			}
			page = append(page, record)
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return page, total, nil
}

// Settings is the externally visible module configuration.
type Settings struct {
	Owner              [20]byte
	TransactionManager [20]byte
	FeeReceiver        [20]byte
	Vault              [20]byte
	FeeBps             uint32
	Paused             bool
}

// Settings returns the current module configuration.
func (n *Node) Settings() (*Settings, error) {
	out := &Settings{}
	err := n.view(func(engine *direct.Engine) error {
		var err error
		if out.Owner, err = engine.Owner(); err != nil {
			return err
		}
		if out.TransactionManager, err = engine.TransactionManager(); err != nil {
			return err
		}
		if out.FeeReceiver, err = engine.FeeReceiver(); err != nil {
			return err
		}
		if out.Vault, err = engine.VaultAddress(); err != nil {
			return err
		}
		if out.FeeBps, err = engine.SpreadFeeBps(); err != nil {
			return err
		}
		if out.Paused, err = engine.IsPaused(); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// IsTokenSupported reports supported-set membership.
func (n *Node) IsTokenSupported(tok [20]byte) (bool, error) {
	var supported bool
	err := n.view(func(engine *direct.Engine) error {
		var err error
		supported, err = engine.IsTokenSupported(tok)
		return err
	})
	return supported, err
}

// EscrowBalance returns the escrow account's holdings of the token.
func (n *Node) EscrowBalance(tok [20]byte) (*big.Int, error) {
	return n.BalanceOf(tok, direct.EscrowAddress)
}

// BalanceOf returns the owner's ledger balance for the token.
func (n *Node) BalanceOf(tok, owner [20]byte) (*big.Int, error) {
	var balance *big.Int
	err := n.state.View(func(txn *state.Txn) error {
		var err error
		balance, err = token.NewLedger(txn).BalanceOf(tok, owner)
		return err
	})
	if err != nil {
		return nil, err
	}
	return balance, nil
}

// Mint credits token units to the recipient. Restricted to the module owner.
func (n *Node) Mint(ctx context.Context, caller, tok, to [20]byte, amount *big.Int) error {
	err := n.state.Update(func(txn *state.Txn) error {
		engine := direct.NewEngine()
		engine.SetState(txn)
		owner, err := engine.Owner()
		if err != nil {
			return err
		}
		var zero [20]byte
		if owner == zero || caller != owner {
			return direct.ErrNotOwner
		}
		return token.NewLedger(txn).Mint(tok, to, amount)
	})
	if err != nil {
		if code, ok := direct.Code(err); ok {
			n.metrics.ObserveRejected(strconv.FormatUint(uint64(code), 10))
		}
		return err
	}
	n.log.Info("tokens minted",
		"token", direct.FormatAddress(tok),
		"to", direct.FormatAddress(to),
		"amount", amount.String())
	return nil
}
