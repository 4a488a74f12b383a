// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2024 The btclite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mempool

import (
	"container/list"
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/btclite/btclite/blockchain"
	"github.com/btclite/btclite/wire"
)

// DefaultTableSize is the default maximum number of transactions whose
// confidence is tracked at once.
const DefaultTableSize = 1000

// tableEntry ties a tracked transaction hash to its confidence record inside
// the recency list.
type tableEntry struct {
	hash       chainhash.Hash
	confidence *Confidence
}

// TxTable tracks the observed confidence of recently seen transactions,
// keyed by transaction hash.  The table is bounded: when tracking a new
// transaction would exceed the limit, the least recently used entry is
// evicted and its confidence history is forgotten.  Eviction is an explicit
// event of this cache, not a property of garbage collection.  It is safe for
// concurrent access.
type TxTable struct {
	mtx     sync.Mutex
	limit   int
	entries map[chainhash.Hash]*list.Element
	order   *list.List // Front is most recently used.
}

// Enforce TxTable satisfying the blockchain.ChainListener interface so the
// chain can feed it best-chain blocks.
var _ blockchain.ChainListener = (*TxTable)(nil)

// NewTxTable returns a transaction confidence table that tracks at most
// limit transactions.  A limit of zero or less selects DefaultTableSize.
func NewTxTable(limit int) *TxTable {
	if limit <= 0 {
		limit = DefaultTableSize
	}
	return &TxTable{
		limit:   limit,
		entries: make(map[chainhash.Hash]*list.Element),
		order:   list.New(),
	}
}

// Confidence returns the confidence record for the passed transaction hash,
// creating and tracking a fresh one when the transaction has not been seen
// before.  Accessing a record marks it most recently used.
func (t *TxTable) Confidence(txHash *chainhash.Hash) *Confidence {
	t.mtx.Lock()
	defer t.mtx.Unlock()

	if elem, ok := t.entries[*txHash]; ok {
		t.order.MoveToFront(elem)
		return elem.Value.(*tableEntry).confidence
	}

	// Evict the least recently used entry when the table is full.
	if t.order.Len() >= t.limit {
		oldest := t.order.Back()
		if oldest != nil {
			entry := oldest.Value.(*tableEntry)
			delete(t.entries, entry.hash)
			t.order.Remove(oldest)
			log.Debugf("Evicted confidence for transaction %v",
				entry.hash)
		}
	}

	confidence := NewConfidence(txHash)
	elem := t.order.PushFront(&tableEntry{
		hash:       *txHash,
		confidence: confidence,
	})
	t.entries[*txHash] = elem
	return confidence
}

// Get returns the confidence record for the passed transaction hash, or nil
// when the transaction is not tracked.  Unlike Confidence, it never creates
// a record, and it does not refresh recency.
func (t *TxTable) Get(txHash *chainhash.Hash) *Confidence {
	t.mtx.Lock()
	defer t.mtx.Unlock()

	if elem, ok := t.entries[*txHash]; ok {
		return elem.Value.(*tableEntry).confidence
	}
	return nil
}

// Count returns the number of transactions currently tracked.
func (t *TxTable) Count() int {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	return t.order.Len()
}

// Seen records that the passed peer announced or relayed the transaction and
// returns the number of distinct peers that have done so.
func (t *TxTable) Seen(txHash *chainhash.Hash, addr *wire.NetAddress) int {
	confidence := t.Confidence(txHash)
	confidence.MarkBroadcastBy(addr)
	return confidence.NumBroadcastPeers()
}

// BlockConnected updates the tracked confidences for a block newly connected
// to the best chain: transactions in the block move to Building at the
// block's height, and every other transaction already building is buried one
// block deeper.  This is the blockchain.ChainListener implementation.
func (t *TxTable) BlockConnected(sb *blockchain.StoredBlock, block *wire.MsgBlock) {
	work := blockchain.CalcWork(block.Header.Bits)

	// Snapshot the tracked confidences so listener callbacks run without
	// the table lock held.
	t.mtx.Lock()
	included := make([]*Confidence, 0, len(block.Transactions))
	inBlock := make(map[chainhash.Hash]struct{}, len(block.Transactions))
	for _, tx := range block.Transactions {
		txHash := tx.TxHash()
		inBlock[txHash] = struct{}{}
		if elem, ok := t.entries[txHash]; ok {
			included = append(included,
				elem.Value.(*tableEntry).confidence)
		}
	}
	others := make([]*Confidence, 0, t.order.Len())
	for elem := t.order.Front(); elem != nil; elem = elem.Next() {
		entry := elem.Value.(*tableEntry)
		if _, ok := inBlock[entry.hash]; !ok {
			others = append(others, entry.confidence)
		}
	}
	t.mtx.Unlock()

	for _, confidence := range included {
		if err := confidence.SetAppearedAt(sb.Height); err != nil {
			log.Warnf("Failed to update confidence: %v", err)
			continue
		}
		confidence.NotifyWorkDone(work)
	}
	for _, confidence := range others {
		// NotifyWorkDone only affects building transactions.
		confidence.NotifyWorkDone(work)
	}
}
