package core

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"defidirect/audit"
	"defidirect/native/direct"
	"defidirect/state"
	"defidirect/storage"
)

func testAddr(fill byte) [20]byte {
	var addr [20]byte
	for i := range addr {
		addr[i] = fill
	}
	return addr
}

var (
	nodeOwner   = testAddr(0x01)
	nodeManager = testAddr(0x02)
	nodeFee     = testAddr(0x03)
	nodeVault   = testAddr(0x04)
	nodeUser    = testAddr(0x05)
	nodeToken   = testAddr(0xF0)
)

func newTestNode(t *testing.T) *Node {
	t.Helper()
	mgr, err := state.NewManager(storage.NewMemDB())
	require.NoError(t, err)
	journal, err := audit.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { journal.Close() })

	node := NewNode(nil, mgr, journal)
	ctx := context.Background()
	require.NoError(t, node.Bootstrap(ctx, nodeOwner))
	require.NoError(t, node.Initialize(ctx, nodeOwner, 250, nodeManager, nodeFee, nodeVault))
	require.NoError(t, node.AddSupportedToken(ctx, nodeOwner, nodeToken))
	return node
}

func TestNodePublishesEventsOnCommitOnly(t *testing.T) {
	node := newTestNode(t)
	ctx := context.Background()
	before := len(node.Events(0))

	// No balance yet, so the escrow leg fails and nothing may be published.
	_, err := node.Initiate(ctx, nodeUser, nodeToken, big.NewInt(100), 1, big.NewInt(1), "B", "R")
	require.ErrorIs(t, err, direct.ErrTransferFailed)
	require.Len(t, node.Events(0), before)

	require.NoError(t, node.Mint(ctx, nodeOwner, nodeToken, nodeUser, big.NewInt(100)))
	_, err = node.Initiate(ctx, nodeUser, nodeToken, big.NewInt(100), 1, big.NewInt(1), "B", "R")
	require.NoError(t, err)
	published := node.Events(0)
	require.Greater(t, len(published), before)
	require.Equal(t, direct.EventTypeInitiated, published[len(published)-1].Type)
}

func TestNodeRecordsLifecycleInJournal(t *testing.T) {
	mgr, err := state.NewManager(storage.NewMemDB())
	require.NoError(t, err)
	journal, err := audit.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { journal.Close() })

	node := NewNode(nil, mgr, journal)
	ctx := context.Background()
	require.NoError(t, node.Bootstrap(ctx, nodeOwner))
	require.NoError(t, node.Initialize(ctx, nodeOwner, 250, nodeManager, nodeFee, nodeVault))
	require.NoError(t, node.AddSupportedToken(ctx, nodeOwner, nodeToken))
	require.NoError(t, node.Mint(ctx, nodeOwner, nodeToken, nodeUser, big.NewInt(1000)))

	record, err := node.Initiate(ctx, nodeUser, nodeToken, big.NewInt(1000), 12345678, big.NewInt(500), "TestBank", "Alice")
	require.NoError(t, err)
	require.NoError(t, node.Complete(ctx, nodeManager, nodeToken, record.ID, big.NewInt(1000)))

	history, err := journal.History(ctx, direct.FormatID(record.ID)[2:])
	require.NoError(t, err)
	// Journal rows are keyed by the event attribute hex, without 0x prefix.
	require.Len(t, history, 2)
	require.Equal(t, direct.EventTypeInitiated, history[0].Event)
	require.Equal(t, direct.EventTypeCompleted, history[1].Event)
	require.Equal(t, "25", history[1].Fee)
	require.Equal(t, "975", history[1].Net)
}

func TestNodeSettlementBalances(t *testing.T) {
	node := newTestNode(t)
	ctx := context.Background()
	require.NoError(t, node.Mint(ctx, nodeOwner, nodeToken, nodeUser, big.NewInt(10000)))

	record, err := node.Initiate(ctx, nodeUser, nodeToken, big.NewInt(10000), 1, big.NewInt(1), "B", "R")
	require.NoError(t, err)

	escrowed, err := node.EscrowBalance(nodeToken)
	require.NoError(t, err)
	require.Equal(t, "10000", escrowed.String())

	require.NoError(t, node.Complete(ctx, nodeManager, nodeToken, record.ID, big.NewInt(10000)))

	feeBalance, err := node.BalanceOf(nodeToken, nodeFee)
	require.NoError(t, err)
	require.Equal(t, "250", feeBalance.String())
	vaultBalance, err := node.BalanceOf(nodeToken, nodeVault)
	require.NoError(t, err)
	require.Equal(t, "9750", vaultBalance.String())
}

func TestNodePagination(t *testing.T) {
	node := newTestNode(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, node.Mint(ctx, nodeOwner, nodeToken, nodeUser, big.NewInt(100)))
		_, err := node.Initiate(ctx, nodeUser, nodeToken, big.NewInt(100), 1, big.NewInt(1), "B", "R")
		require.NoError(t, err)
	}
	page, total, err := node.TransactionsByOriginator(nodeUser, 2, 2)
	require.NoError(t, err)
	require.Equal(t, 5, total)
	require.Len(t, page, 2)

	page, total, err = node.TransactionsByOriginator(nodeUser, 10, 2)
	require.NoError(t, err)
	require.Equal(t, 5, total)
	require.Empty(t, page)
}

func TestNodeMintRequiresOwner(t *testing.T) {
	node := newTestNode(t)
	err := node.Mint(context.Background(), nodeUser, nodeToken, nodeUser, big.NewInt(1))
	require.ErrorIs(t, err, direct.ErrNotOwner)
}
