package state

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"testing"

	"defidirect/native/direct"
	"defidirect/native/token"
	"defidirect/storage"
)

func testAddr(fill byte) [20]byte {
	var addr [20]byte
	for i := range addr {
		addr[i] = fill
	}
	return addr
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	mgr, err := NewManager(storage.NewMemDB())
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return mgr
}

func TestUpdateCommitsOnSuccess(t *testing.T) {
	mgr := newTestManager(t)
	settings := &direct.Settings{Owner: testAddr(0x01), FeeBps: 250, Initialized: true}

	err := mgr.Update(func(txn *Txn) error {
		return txn.SettingsPut(settings)
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if mgr.Height() != 1 {
		t.Fatalf("expected height 1, got %d", mgr.Height())
	}

	err = mgr.View(func(txn *Txn) error {
		loaded, ok, err := txn.SettingsGet()
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("settings missing after commit")
		}
		if loaded.FeeBps != 250 || loaded.Owner != settings.Owner || !loaded.Initialized {
			return fmt.Errorf("settings round trip mismatch: %+v", loaded)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestUpdateRollsBackOnError(t *testing.T) {
	mgr := newTestManager(t)
	boom := errors.New("boom")

	err := mgr.Update(func(txn *Txn) error {
		if err := txn.CounterPut(42); err != nil {
			return err
		}
		if err := txn.TokenSupportedPut(testAddr(0x05)); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected propagated error, got %v", err)
	}
	if mgr.Height() != 0 {
		t.Fatalf("expected height unchanged, got %d", mgr.Height())
	}

	err = mgr.View(func(txn *Txn) error {
		counter, err := txn.CounterGet()
		if err != nil {
			return err
		}
		if counter != 0 {
			return fmt.Errorf("counter leaked: %d", counter)
		}
		supported, err := txn.TokenSupported(testAddr(0x05))
		if err != nil {
			return err
		}
		if supported {
			return fmt.Errorf("supported set leaked")
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

type faultyDB struct {
	*storage.MemDB
	writeErr error
}

func (db *faultyDB) Write(batch *storage.Batch) error {
	if db.writeErr != nil {
		return db.writeErr
	}
	return db.MemDB.Write(batch)
}

func TestCommitFailureLeavesBackendUntouched(t *testing.T) {
	db := &faultyDB{MemDB: storage.NewMemDB(), writeErr: errors.New("disk full")}
	mgr, err := NewManager(db)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	err = mgr.Update(func(txn *Txn) error {
		if err := txn.CounterPut(7); err != nil {
			return err
		}
		return txn.TokenSupportedPut(testAddr(0x05))
	})
	if !errors.Is(err, db.writeErr) {
		t.Fatalf("expected flush error, got %v", err)
	}
	if mgr.Height() != 0 {
		t.Fatalf("expected height unchanged, got %d", mgr.Height())
	}
	supportedKey := append([]byte("direct/supported/"), bytes.Repeat([]byte{0x05}, 20)...)
	for _, key := range [][]byte{[]byte("direct/counter"), supportedKey, []byte("chain/height")} {
		if _, err := db.Get(key); !errors.Is(err, storage.ErrNotFound) {
			t.Fatalf("key %q leaked into the backend", key)
		}
	}

	// The manager stays usable once the backend recovers.
	db.writeErr = nil
	if err := mgr.Update(func(txn *Txn) error { return txn.CounterPut(7) }); err != nil {
		t.Fatalf("update after recovery: %v", err)
	}
	if mgr.Height() != 1 {
		t.Fatalf("expected height 1, got %d", mgr.Height())
	}
	err = mgr.View(func(txn *Txn) error {
		counter, err := txn.CounterGet()
		if err != nil {
			return err
		}
		if counter != 7 {
			return fmt.Errorf("counter not persisted: %d", counter)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestFailedSettlementLeavesBalancesIntact(t *testing.T) {
	mgr := newTestManager(t)
	tok := testAddr(0x01)
	alice := testAddr(0x02)
	bob := testAddr(0x03)

	err := mgr.Update(func(txn *Txn) error {
		return token.NewLedger(txn).Mint(tok, alice, big.NewInt(100))
	})
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	err = mgr.Update(func(txn *Txn) error {
		if err := txn.TokenTransfer(tok, alice, bob, big.NewInt(60)); err != nil {
			return err
		}
		// Second leg overdraws and must unwind the first.
		return txn.TokenTransfer(tok, alice, bob, big.NewInt(60))
	})
	if !errors.Is(err, token.ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}

	err = mgr.View(func(txn *Txn) error {
		aliceBalance, err := txn.BalanceGet(tok, alice)
		if err != nil {
			return err
		}
		bobBalance, err := txn.BalanceGet(tok, bob)
		if err != nil {
			return err
		}
		if aliceBalance.String() != "100" || bobBalance.String() != "0" {
			return fmt.Errorf("balances not unwound: %s/%s", aliceBalance, bobBalance)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestTransactionRecordRoundTrip(t *testing.T) {
	mgr := newTestManager(t)
	record := &direct.Transaction{
		ID:              direct.DeriveID(testAddr(0x02), 1, 1),
		Originator:      testAddr(0x02),
		Token:           testAddr(0x01),
		Amount:          big.NewInt(1000),
		FiatBankAccount: 12345678,
		FiatAmount:      big.NewInt(500),
		FiatBank:        "TestBank",
		RecipientName:   "Alice",
		Status:          direct.StatusInitiated,
		CreatedAt:       1,
	}

	err := mgr.Update(func(txn *Txn) error {
		if err := txn.TransactionPut(record); err != nil {
			return err
		}
		return txn.TransactionIndexAppend(record.Originator, record.ID)
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	err = mgr.View(func(txn *Txn) error {
		loaded, ok, err := txn.TransactionGet(record.ID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("record missing")
		}
		if loaded.Amount.Cmp(record.Amount) != 0 || loaded.FiatBank != record.FiatBank ||
			loaded.RecipientName != record.RecipientName || loaded.Status != record.Status ||
			loaded.FiatBankAccount != record.FiatBankAccount {
			return fmt.Errorf("round trip mismatch: %+v", loaded)
		}
		ids, err := txn.TransactionIndexList(record.Originator)
		if err != nil {
			return err
		}
		if len(ids) != 1 || ids[0] != record.ID {
			return fmt.Errorf("index mismatch")
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestStagedReadsSeeOwnWrites(t *testing.T) {
	mgr := newTestManager(t)
	tok := testAddr(0x07)

	err := mgr.Update(func(txn *Txn) error {
		if err := txn.TokenSupportedPut(tok); err != nil {
			return err
		}
		supported, err := txn.TokenSupported(tok)
		if err != nil {
			return err
		}
		if !supported {
			return fmt.Errorf("staged write invisible to staged read")
		}
		if err := txn.TokenSupportedDelete(tok); err != nil {
			return err
		}
		supported, err = txn.TokenSupported(tok)
		if err != nil {
			return err
		}
		if supported {
			return fmt.Errorf("staged delete invisible to staged read")
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestHeightPersistsAcrossReopen(t *testing.T) {
	db := storage.NewMemDB()
	mgr, err := NewManager(db)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := mgr.Update(func(txn *Txn) error { return txn.CounterPut(uint64(i)) }); err != nil {
			t.Fatalf("update: %v", err)
		}
	}
	reopened, err := NewManager(db)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if reopened.Height() != 3 {
		t.Fatalf("expected height 3 after reopen, got %d", reopened.Height())
	}
}

func TestViewDiscardsWrites(t *testing.T) {
	mgr := newTestManager(t)
	err := mgr.View(func(txn *Txn) error {
		return txn.CounterPut(99)
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
	err = mgr.View(func(txn *Txn) error {
		counter, err := txn.CounterGet()
		if err != nil {
			return err
		}
		if counter != 0 {
			return fmt.Errorf("view write leaked: %d", counter)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}
