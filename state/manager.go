package state

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/rlp"

	"defidirect/native/direct"
	"defidirect/native/token"
	"defidirect/storage"
)

var (
	settingsKey     = []byte("direct/settings")
	counterKey      = []byte("direct/counter")
	heightKey       = []byte("chain/height")
	txPrefix        = []byte("direct/tx/")
	indexPrefix     = []byte("direct/txindex/")
	supportedPrefix = []byte("direct/supported/")
	balancePrefix   = []byte("token/balance/")
)

// Manager persists module state in a key-value backend and reproduces the
// ledger's all-or-nothing call semantics: every mutating entry point runs
// inside Update, which stages writes in memory and flushes them only when
// the operation succeeds. A failed sub-step (guard, lookup, transfer leg)
// therefore rolls back the whole operation.
type Manager struct {
	mu     sync.Mutex
	db     storage.Database
	height uint64
}

func NewManager(db storage.Database) (*Manager, error) {
	if db == nil {
		return nil, fmt.Errorf("state: database required")
	}
	m := &Manager{db: db}
	raw, err := db.Get(heightKey)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		return nil, fmt.Errorf("state: load height: %w", err)
	default:
		if err := rlp.DecodeBytes(raw, &m.height); err != nil {
			return nil, fmt.Errorf("state: decode height: %w", err)
		}
	}
	return m, nil
}

// Height returns the sequence number of the last committed operation.
func (m *Manager) Height() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.height
}

// Update runs fn against a staged view. Writes reach the backend only when
// fn returns nil; any error discards the staged set. Committed operations
// advance the sequence height.
func (m *Manager) Update(fn func(*Txn) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	txn := m.newTxn()
	if err := fn(txn); err != nil {
		return err
	}
	return m.commit(txn)
}

// View runs fn against the committed state. Writes staged by fn are
// discarded regardless of outcome.
func (m *Manager) View(fn func(*Txn) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(m.newTxn())
}

func (m *Manager) newTxn() *Txn {
	return &Txn{
		mgr:     m,
		height:  m.height + 1,
		writes:  make(map[string][]byte),
		deleted: make(map[string]bool),
	}
}

func (m *Manager) commit(txn *Txn) error {
	encodedHeight, err := rlp.EncodeToBytes(txn.height)
	if err != nil {
		return fmt.Errorf("state: encode height: %w", err)
	}
	txn.writes[string(heightKey)] = encodedHeight
	batch := new(storage.Batch)
	for key := range txn.deleted {
		batch.Delete([]byte(key))
	}
	for key, value := range txn.writes {
		batch.Put([]byte(key), value)
	}
	// One atomic flush: a backend failure must not leave a subset of the
	// staged keys behind.
	if err := m.db.Write(batch); err != nil {
		return fmt.Errorf("state: flush staged writes: %w", err)
	}
	m.height = txn.height
	return nil
}

// Txn is a staged view over the backend. It implements the settlement
// engine's state interface and the token ledger's storage interface so both
// share one transactional boundary.
type Txn struct {
	mgr     *Manager
	height  uint64
	writes  map[string][]byte
	deleted map[string]bool
}

func (t *Txn) kvGet(key []byte, out interface{}) (bool, error) {
	if t.deleted[string(key)] {
		return false, nil
	}
	if raw, ok := t.writes[string(key)]; ok {
		return true, rlp.DecodeBytes(raw, out)
	}
	raw, err := t.mgr.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, rlp.DecodeBytes(raw, out)
}

func (t *Txn) kvPut(key []byte, value interface{}) error {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	delete(t.deleted, string(key))
	t.writes[string(key)] = encoded
	return nil
}

func (t *Txn) kvDelete(key []byte) error {
	delete(t.writes, string(key))
	t.deleted[string(key)] = true
	return nil
}

func (t *Txn) kvHas(key []byte) (bool, error) {
	if t.deleted[string(key)] {
		return false, nil
	}
	if _, ok := t.writes[string(key)]; ok {
		return true, nil
	}
	return t.mgr.db.Has(key)
}

func prefixedKey(prefix []byte, suffix []byte) []byte {
	key := make([]byte, len(prefix)+len(suffix))
	copy(key, prefix)
	copy(key[len(prefix):], suffix)
	return key
}

// BlockHeight returns the sequence number assigned to the in-flight
// operation; committed records carry it as their creation marker.
func (t *Txn) BlockHeight() uint64 { return t.height }

// SettingsGet loads the module configuration singleton.
func (t *Txn) SettingsGet() (*direct.Settings, bool, error) {
	settings := new(direct.Settings)
	ok, err := t.kvGet(settingsKey, settings)
	if err != nil || !ok {
		return nil, false, err
	}
	return settings, true, nil
}

// SettingsPut stores the module configuration singleton.
func (t *Txn) SettingsPut(settings *direct.Settings) error {
	if settings == nil {
		return fmt.Errorf("state: nil settings")
	}
	return t.kvPut(settingsKey, settings)
}

// TransactionGet loads a settlement record by identifier.
func (t *Txn) TransactionGet(id [32]byte) (*direct.Transaction, bool, error) {
	record := new(direct.Transaction)
	ok, err := t.kvGet(prefixedKey(txPrefix, id[:]), record)
	if err != nil || !ok {
		return nil, false, err
	}
	return record, true, nil
}

// TransactionPut stores a settlement record keyed by its identifier.
func (t *Txn) TransactionPut(record *direct.Transaction) error {
	if record == nil {
		return fmt.Errorf("state: nil transaction")
	}
	return t.kvPut(prefixedKey(txPrefix, record.ID[:]), record)
}

// TransactionIndexAppend adds id to the originator's append-only index.
func (t *Txn) TransactionIndexAppend(originator [20]byte, id [32]byte) error {
	ids, err := t.TransactionIndexList(originator)
	if err != nil {
		return err
	}
	ids = append(ids, id)
	return t.kvPut(prefixedKey(indexPrefix, originator[:]), ids)
}

// TransactionIndexList returns the originator's identifiers in insertion
// order, empty when the principal has never initiated a transaction.
func (t *Txn) TransactionIndexList(originator [20]byte) ([][32]byte, error) {
	var ids [][32]byte
	ok, err := t.kvGet(prefixedKey(indexPrefix, originator[:]), &ids)
	if err != nil {
		return nil, err
	}
	if !ok {
		return [][32]byte{}, nil
	}
	return ids, nil
}

// TokenSupportedPut marks a token contract as eligible for escrow.
func (t *Txn) TokenSupportedPut(tok [20]byte) error {
	return t.kvPut(prefixedKey(supportedPrefix, tok[:]), true)
}

// TokenSupportedDelete removes a token from the supported set.
func (t *Txn) TokenSupportedDelete(tok [20]byte) error {
	return t.kvDelete(prefixedKey(supportedPrefix, tok[:]))
}

// TokenSupported reports supported-set membership.
func (t *Txn) TokenSupported(tok [20]byte) (bool, error) {
	return t.kvHas(prefixedKey(supportedPrefix, tok[:]))
}

// CounterGet loads the identifier counter, zero when never used.
func (t *Txn) CounterGet() (uint64, error) {
	var counter uint64
	if _, err := t.kvGet(counterKey, &counter); err != nil {
		return 0, err
	}
	return counter, nil
}

// CounterPut stores the identifier counter.
func (t *Txn) CounterPut(counter uint64) error {
	return t.kvPut(counterKey, counter)
}

// TokenTransfer moves token units through the ledger bound to this staged
// view, so a later failure in the same operation unwinds the balances too.
func (t *Txn) TokenTransfer(tok, from, to [20]byte, amount *big.Int) error {
	return token.NewLedger(t).Transfer(tok, from, to, amount)
}

func balanceKey(tok, owner [20]byte) []byte {
	suffix := make([]byte, 40)
	copy(suffix, tok[:])
	copy(suffix[20:], owner[:])
	return prefixedKey(balancePrefix, suffix)
}

// BalanceGet implements token.Storage.
func (t *Txn) BalanceGet(tok, owner [20]byte) (*big.Int, error) {
	balance := new(big.Int)
	ok, err := t.kvGet(balanceKey(tok, owner), balance)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return balance, nil
}

// BalancePut implements token.Storage.
func (t *Txn) BalancePut(tok, owner [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("state: invalid balance")
	}
	return t.kvPut(balanceKey(tok, owner), amount)
}
