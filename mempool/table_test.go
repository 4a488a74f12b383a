// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2024 The btclite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mempool

import (
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/require"

	"github.com/btclite/btclite/blockchain"
	"github.com/btclite/btclite/chaincfg"
	"github.com/btclite/btclite/wire"
)

// txHashN returns a distinct hash for the passed index.
func txHashN(n int) chainhash.Hash {
	var hash chainhash.Hash
	hash[0] = byte(n)
	hash[1] = byte(n >> 8)
	hash[2] = byte(n >> 16)
	return hash
}

func TestTxTableGetOrCreate(t *testing.T) {
	table := NewTxTable(10)

	hash := txHashN(1)
	first := table.Confidence(&hash)
	second := table.Confidence(&hash)
	require.Same(t, first, second)
	require.Equal(t, 1, table.Count())

	// Get never creates.
	missing := txHashN(2)
	require.Nil(t, table.Get(&missing))
	require.Equal(t, 1, table.Count())
}

func TestTxTableEviction(t *testing.T) {
	const limit = 100
	table := NewTxTable(limit)

	for i := 0; i < limit; i++ {
		hash := txHashN(i)
		table.Confidence(&hash)
	}
	require.Equal(t, limit, table.Count())

	// Touch the oldest entry so it becomes the most recently used.
	oldest := txHashN(0)
	table.Confidence(&oldest)

	// Tracking one more transaction evicts the least recently used
	// entry, which is now hash 1, not hash 0.
	extra := txHashN(limit)
	table.Confidence(&extra)
	require.Equal(t, limit, table.Count())

	evicted := txHashN(1)
	require.Nil(t, table.Get(&evicted))
	require.NotNil(t, table.Get(&oldest))
	require.NotNil(t, table.Get(&extra))

	// The evicted transaction starts over when seen again: its history
	// is gone by design.
	fresh := table.Confidence(&evicted)
	require.Equal(t, LevelUnknown, fresh.Level())
}

func TestTxTableSeen(t *testing.T) {
	table := NewTxTable(10)
	hash := txHashN(7)

	require.Equal(t, 1, table.Seen(&hash, testAddr(1)))
	require.Equal(t, 1, table.Seen(&hash, testAddr(1)))
	require.Equal(t, 2, table.Seen(&hash, testAddr(2)))
}

func TestTxTableBlockConnected(t *testing.T) {
	table := NewTxTable(10)

	// A transaction announced by a peer, about to be mined.
	minedTx := wire.NewMsgTx()
	minedTx.AddTxIn(&wire.TxIn{Sequence: 0xffffffff})
	minedTx.AddTxOut(&wire.TxOut{Value: 1, PkScript: []byte{0x51}})
	minedHash := minedTx.TxHash()
	table.Seen(&minedHash, testAddr(1))

	// Another transaction that is already building in an older block.
	otherHash := txHashN(3)
	other := table.Confidence(&otherHash)
	require.NoError(t, other.SetAppearedAt(99))
	other.NotifyWorkDone(blockchain.CalcWork(0x207fffff))

	// Connect a block containing the first transaction.
	params := &chaincfg.RegressionNetParams
	block := wire.NewMsgBlock(&wire.BlockHeader{
		PrevBlock:  *params.GenesisHash,
		MerkleRoot: minedTx.TxHash(),
		Bits:       params.PowLimitBits,
	})
	block.AddTransaction(minedTx)

	sb := &blockchain.StoredBlock{
		Header: block.Header,
		Height: 100,
		WorkSum: blockchain.CalcWork(params.PowLimitBits),
	}
	table.BlockConnected(sb, block)

	// The mined transaction is now building at the block height with
	// depth one.
	mined := table.Get(&minedHash)
	require.NotNil(t, mined)
	require.Equal(t, LevelBuilding, mined.Level())

	height, err := mined.AppearedAtChainHeight()
	require.NoError(t, err)
	require.Equal(t, int32(100), height)

	depth, err := mined.Depth()
	require.NoError(t, err)
	require.Equal(t, int32(1), depth)

	// The other building transaction is buried one deeper.
	depth, err = other.Depth()
	require.NoError(t, err)
	require.Equal(t, int32(2), depth)
}
