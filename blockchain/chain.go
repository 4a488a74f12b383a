// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2024 The btclite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/btclite/btclite/chaincfg"
	"github.com/btclite/btclite/wire"
)

// ChainListener is notified when a block is connected to the best chain.
// Listeners are invoked outside the chain lock, in the order they were
// subscribed, from whichever goroutine handed the block to the chain.
type ChainListener interface {
	// BlockConnected is called when a block extends the best chain.  The
	// stored block carries the height and cumulative work; the full
	// block carries the transactions.
	BlockConnected(sb *StoredBlock, block *wire.MsgBlock)
}

// Config is a descriptor which specifies the blockchain instance
// configuration.
type Config struct {
	// Store defines the block store to use for storing headers and chain
	// state.  It is required.
	Store BlockStore

	// Params identifies the network the chain is associated with.  It is
	// required.
	Params *chaincfg.Params
}

// Chain is a lightweight, header-linking block chain.  It accepts blocks
// that connect to already-known headers, tracks the chain with the most
// cumulative work, and leaves deep validation (scripts, difficulty
// retargeting, timestamps) to full nodes.  It is safe for concurrent access.
type Chain struct {
	mtx       sync.Mutex
	store     BlockStore
	params    *chaincfg.Params
	listeners []ChainListener
}

// New returns a Chain using the provided configuration.
func New(config *Config) (*Chain, error) {
	if config.Store == nil {
		return nil, fmt.Errorf("blockchain.New: store is required")
	}
	if config.Params == nil {
		return nil, fmt.Errorf("blockchain.New: params are required")
	}
	return &Chain{
		store:  config.Store,
		params: config.Params,
	}, nil
}

// Subscribe registers a listener for best-chain block connections.
func (c *Chain) Subscribe(listener ChainListener) {
	c.mtx.Lock()
	c.listeners = append(c.listeners, listener)
	c.mtx.Unlock()
}

// ChainHead returns the block at the head of the best known chain.
func (c *Chain) ChainHead() (*StoredBlock, error) {
	return c.store.ChainHead()
}

// Add processes the passed block.  It returns true when the block was
// accepted (including the case where it was already known) and false when it
// is an orphan whose predecessor has not been seen yet, in which case the
// caller is expected to re-request the missing history.
//
// A malformed block (bad merkle root) is a RuleError; store failures are
// StoreError and must be treated as fatal.
func (c *Chain) Add(block *wire.MsgBlock) (bool, error) {
	c.mtx.Lock()

	// The merkle root in the header must commit to the transactions the
	// block actually carries.
	if len(block.Transactions) > 0 {
		calculated := CalcMerkleRoot(block.Transactions)
		if calculated != block.Header.MerkleRoot {
			c.mtx.Unlock()
			str := fmt.Sprintf("block merkle root is invalid - "+
				"block header indicates %v, but calculated "+
				"value is %v", block.Header.MerkleRoot,
				calculated)
			return false, ruleError(str)
		}
	}

	blockHash := block.BlockHash()
	if _, err := c.store.Get(&blockHash); err == nil {
		// Duplicate of a block already accepted.
		c.mtx.Unlock()
		log.Tracef("Already have block %v", blockHash)
		return true, nil
	} else if err != ErrBlockNotFound {
		c.mtx.Unlock()
		return false, err
	}

	prev, err := c.store.Get(&block.Header.PrevBlock)
	if err == ErrBlockNotFound {
		// An orphan: the predecessor has not arrived.  The download
		// logic recovers by walking the locator back further.
		c.mtx.Unlock()
		log.Debugf("Orphan block %v (missing parent %v)", blockHash,
			block.Header.PrevBlock)
		return false, nil
	} else if err != nil {
		c.mtx.Unlock()
		return false, err
	}

	sb := prev.BuildNext(&block.Header)
	if err := c.store.Put(sb); err != nil {
		c.mtx.Unlock()
		return false, err
	}

	head, err := c.store.ChainHead()
	if err != nil {
		c.mtx.Unlock()
		return false, err
	}

	var connected bool
	if sb.WorkSum.Cmp(head.WorkSum) > 0 {
		if err := c.store.SetChainHead(sb); err != nil {
			c.mtx.Unlock()
			return false, err
		}
		connected = true
		log.Debugf("Chain head is now %v (height %d)", blockHash,
			sb.Height)
	}

	listeners := c.listeners
	c.mtx.Unlock()

	// Notify outside the lock so a listener can call back into the chain.
	if connected {
		for _, listener := range listeners {
			listener.BlockConnected(sb, block)
		}
	}

	return true, nil
}

// BlockLocator returns a block locator for the current chain head.  The
// locator carries the most recent 10 block hashes, then doubles the step
// back each entry, and always ends with the genesis hash, so a remote node
// can find the fork point even when chains disagree.
func (c *Chain) BlockLocator() ([]*chainhash.Hash, error) {
	head, err := c.store.ChainHead()
	if err != nil {
		return nil, err
	}

	var locator []*chainhash.Hash
	step := int32(1)
	sb := head
	for {
		hash := sb.Hash()
		locator = append(locator, &hash)
		if sb.Height == 0 {
			return locator, nil
		}

		if len(locator) >= 10 {
			step *= 2
		}

		// Walk back step blocks, stopping at the genesis block.
		for i := int32(0); i < step && sb.Height > 0; i++ {
			prev, err := c.store.Get(&sb.Header.PrevBlock)
			if err == ErrBlockNotFound {
				// The header history below this point is gone;
				// finish the locator with the genesis hash.
				locator = append(locator,
					c.params.GenesisHash)
				return locator, nil
			} else if err != nil {
				return nil, err
			}
			sb = prev
		}
	}
}
