// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2024 The btclite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/require"

	"github.com/btclite/btclite/chaincfg"
	"github.com/btclite/btclite/wire"
)

// testBlock builds a minimal block on top of the passed previous hash.  The
// nonce is varied so sibling blocks have distinct hashes.
func testBlock(prev chainhash.Hash, nonce uint32) *wire.MsgBlock {
	tx := wire.NewMsgTx()
	tx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: wire.OutPoint{Index: 0xffffffff},
		SignatureScript:  []byte{0x04, byte(nonce), 0x00, 0x00, 0x00},
		Sequence:         0xffffffff,
	})
	tx.AddTxOut(&wire.TxOut{Value: 50 * 1e8, PkScript: []byte{0x51}})

	block := wire.NewMsgBlock(&wire.BlockHeader{
		Version:    1,
		PrevBlock:  prev,
		MerkleRoot: tx.TxHash(),
		Timestamp:  time.Unix(0x495fab29, 0),
		Bits:       chaincfg.RegressionNetParams.PowLimitBits,
		Nonce:      nonce,
	})
	block.AddTransaction(tx)
	return block
}

func newTestChain(t *testing.T) (*Chain, *MemoryStore) {
	t.Helper()
	params := &chaincfg.RegressionNetParams
	store := NewMemoryStore(params)
	chain, err := New(&Config{Store: store, Params: params})
	require.NoError(t, err)
	return chain, store
}

func TestChainAdd(t *testing.T) {
	chain, store := newTestChain(t)
	params := &chaincfg.RegressionNetParams

	head, err := chain.ChainHead()
	require.NoError(t, err)
	require.Equal(t, int32(0), head.Height)
	require.Equal(t, *params.GenesisHash, head.Hash())

	// A block on top of genesis connects and advances the head.
	block1 := testBlock(*params.GenesisHash, 1)
	ok, err := chain.Add(block1)
	require.NoError(t, err)
	require.True(t, ok)

	head, err = chain.ChainHead()
	require.NoError(t, err)
	require.Equal(t, int32(1), head.Height)
	require.Equal(t, block1.BlockHash(), head.Hash())

	// A duplicate is accepted without changing anything.
	ok, err = chain.Add(block1)
	require.NoError(t, err)
	require.True(t, ok)

	head, err = chain.ChainHead()
	require.NoError(t, err)
	require.Equal(t, int32(1), head.Height)

	// A second block extends the chain further.
	block2 := testBlock(block1.BlockHash(), 2)
	ok, err = chain.Add(block2)
	require.NoError(t, err)
	require.True(t, ok)

	head, err = chain.ChainHead()
	require.NoError(t, err)
	require.Equal(t, int32(2), head.Height)

	// The stored blocks are all retrievable.
	hash1 := block1.BlockHash()
	sb1, err := store.Get(&hash1)
	require.NoError(t, err)
	require.Equal(t, int32(1), sb1.Height)
}

func TestChainOrphan(t *testing.T) {
	chain, _ := newTestChain(t)

	// A block whose parent is unknown is reported unconnected.
	orphan := testBlock(chainhash.Hash{0xde, 0xad}, 7)
	ok, err := chain.Add(orphan)
	require.NoError(t, err)
	require.False(t, ok)

	head, err := chain.ChainHead()
	require.NoError(t, err)
	require.Equal(t, int32(0), head.Height)
}

func TestChainBadMerkleRoot(t *testing.T) {
	chain, _ := newTestChain(t)
	params := &chaincfg.RegressionNetParams

	block := testBlock(*params.GenesisHash, 1)
	block.Header.MerkleRoot = chainhash.Hash{0x01}

	_, err := chain.Add(block)
	require.Error(t, err)
	require.IsType(t, RuleError{}, err)
}

func TestChainSidechainDoesNotMoveHead(t *testing.T) {
	chain, _ := newTestChain(t)
	params := &chaincfg.RegressionNetParams

	// Extend the main chain two blocks.
	block1 := testBlock(*params.GenesisHash, 1)
	_, err := chain.Add(block1)
	require.NoError(t, err)
	block2 := testBlock(block1.BlockHash(), 2)
	_, err = chain.Add(block2)
	require.NoError(t, err)

	// A competing block at height 1 has less cumulative work than the
	// two-block chain and must not steal the head.
	side := testBlock(*params.GenesisHash, 99)
	ok, err := chain.Add(side)
	require.NoError(t, err)
	require.True(t, ok)

	head, err := chain.ChainHead()
	require.NoError(t, err)
	require.Equal(t, block2.BlockHash(), head.Hash())
}

func TestChainBlockLocator(t *testing.T) {
	chain, _ := newTestChain(t)
	params := &chaincfg.RegressionNetParams

	// Build a 30 block chain.
	prev := *params.GenesisHash
	var hashes []chainhash.Hash
	for i := 0; i < 30; i++ {
		block := testBlock(prev, uint32(i+1))
		ok, err := chain.Add(block)
		require.NoError(t, err)
		require.True(t, ok)
		prev = block.BlockHash()
		hashes = append(hashes, prev)
	}

	locator, err := chain.BlockLocator()
	require.NoError(t, err)
	require.NotEmpty(t, locator)

	// The locator leads with the chain head and ends at genesis.
	require.Equal(t, hashes[len(hashes)-1], *locator[0])
	require.Equal(t, *params.GenesisHash, *locator[len(locator)-1])

	// It is much shorter than the chain itself.
	require.Less(t, len(locator), 20)
}

func TestStoredBlockSerialization(t *testing.T) {
	params := &chaincfg.MainNetParams
	sb := &StoredBlock{
		Header:  params.GenesisBlock.Header,
		Height:  123456,
		WorkSum: CalcWork(params.GenesisBlock.Header.Bits),
	}

	serialized, err := serializeStoredBlock(sb)
	require.NoError(t, err)

	decoded, err := deserializeStoredBlock(serialized)
	require.NoError(t, err)
	require.Equal(t, sb.Height, decoded.Height)
	require.Equal(t, 0, sb.WorkSum.Cmp(decoded.WorkSum))
	require.Equal(t, sb.Hash(), decoded.Hash())
}

func TestGenesisHashes(t *testing.T) {
	// The hard-coded genesis hashes must match the actual hash of the
	// hard-coded genesis blocks, and the merkle root must commit to the
	// coinbase transaction.
	nets := []*chaincfg.Params{
		&chaincfg.MainNetParams,
		&chaincfg.TestNet3Params,
		&chaincfg.RegressionNetParams,
	}
	for _, params := range nets {
		require.Equal(t, *params.GenesisHash,
			params.GenesisBlock.BlockHash(), params.Name)
		require.Equal(t, params.GenesisBlock.Header.MerkleRoot,
			CalcMerkleRoot(params.GenesisBlock.Transactions),
			params.Name)
	}
}
