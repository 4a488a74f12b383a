// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2024 The btclite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mempool

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/btclite/btclite/wire"
)

// Level describes where a transaction stands with respect to the best known
// chain, as far as this client has observed.
type Level int

const (
	// LevelUnknown is the initial state: nothing has been observed about
	// the transaction yet.
	LevelUnknown Level = iota

	// LevelNotSeenInChain means the transaction has been announced by at
	// least one peer but has not been seen in any block.
	LevelNotSeenInChain

	// LevelNotInBestChain means the transaction appeared in a block that
	// is not part of the best chain.
	LevelNotInBestChain

	// LevelBuilding means the transaction is included in the best chain
	// and blocks are being built on top of it.
	LevelBuilding

	// LevelDead means a conflicting transaction spent one of this
	// transaction's inputs in the best chain, so this one can never
	// confirm.
	LevelDead
)

// levelStrings maps confidence levels back to their constant names for
// pretty printing.
var levelStrings = map[Level]string{
	LevelUnknown:        "Unknown",
	LevelNotSeenInChain: "NotSeenInChain",
	LevelNotInBestChain: "NotInBestChain",
	LevelBuilding:       "Building",
	LevelDead:           "Dead",
}

// String returns the Level in human-readable form.
func (l Level) String() string {
	if s, ok := levelStrings[l]; ok {
		return s
	}
	return fmt.Sprintf("Unknown Level (%d)", int(l))
}

// Listener is the callback type for confidence changes.  Listeners are
// invoked outside the confidence lock, and only when the observable state
// actually changed.
type Listener func(c *Confidence)

// Confidence holds the observational state for one transaction: which peers
// announced it, whether and where it appeared in the best chain, how deeply
// it is buried, and how much work has been done on top of it.  All methods
// are safe for concurrent access.
type Confidence struct {
	mtx          sync.Mutex
	txHash       chainhash.Hash
	level        Level
	broadcastBy  map[string]*wire.NetAddress
	appearedAt   int32
	depth        int32
	workDone     *big.Int
	overridingTx *chainhash.Hash
	listeners    []Listener
}

// NewConfidence returns the initial confidence state for the transaction
// with the passed hash.
func NewConfidence(txHash *chainhash.Hash) *Confidence {
	return &Confidence{
		txHash:      *txHash,
		level:       LevelUnknown,
		broadcastBy: make(map[string]*wire.NetAddress),
		workDone:    big.NewInt(0),
	}
}

// TxHash returns the hash of the transaction this confidence describes.
func (c *Confidence) TxHash() chainhash.Hash {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.txHash
}

// Level returns the current confidence level.
func (c *Confidence) Level() Level {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.level
}

// AddListener registers a callback to be invoked whenever the observable
// state changes.  Each real change fires the listener exactly once.
func (c *Confidence) AddListener(listener Listener) {
	c.mtx.Lock()
	c.listeners = append(c.listeners, listener)
	c.mtx.Unlock()
}

// notify invokes the passed listeners.  It must be called without the lock
// held so listeners can call back into the confidence without deadlocking.
func (c *Confidence) notify(listeners []Listener) {
	for _, listener := range listeners {
		listener(c)
	}
}

// MarkBroadcastBy records that the passed peer announced the transaction.
// The first announcement moves an unknown transaction to NotSeenInChain.
func (c *Confidence) MarkBroadcastBy(addr *wire.NetAddress) {
	c.mtx.Lock()
	changed := false
	key := addr.String()
	if _, ok := c.broadcastBy[key]; !ok {
		c.broadcastBy[key] = addr
		changed = true
	}
	if c.level == LevelUnknown {
		c.level = LevelNotSeenInChain
		changed = true
	}
	listeners := c.listeners
	c.mtx.Unlock()

	if changed {
		c.notify(listeners)
	}
}

// NumBroadcastPeers returns the number of distinct peers that have announced
// the transaction.
func (c *Confidence) NumBroadcastPeers() int {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return len(c.broadcastBy)
}

// BroadcastBy returns the addresses of the peers that have announced the
// transaction.
func (c *Confidence) BroadcastBy() []*wire.NetAddress {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	addrs := make([]*wire.NetAddress, 0, len(c.broadcastBy))
	for _, addr := range c.broadcastBy {
		addrs = append(addrs, addr)
	}
	return addrs
}

// SetAppearedAt records that the transaction appeared in the best chain at
// the passed height and moves the level to Building.  Depth and work start
// at zero; the block containing the transaction reports its own work through
// NotifyWorkDone, which brings the depth to one.
func (c *Confidence) SetAppearedAt(height int32) error {
	if height < 0 {
		return fmt.Errorf("chain height %d is negative", height)
	}

	c.mtx.Lock()
	changed := c.level != LevelBuilding || c.appearedAt != height
	c.level = LevelBuilding
	c.appearedAt = height
	c.depth = 0
	c.workDone = big.NewInt(0)
	c.overridingTx = nil
	listeners := c.listeners
	c.mtx.Unlock()

	if changed {
		c.notify(listeners)
	}
	return nil
}

// AppearedAtChainHeight returns the height at which the transaction entered
// the best chain.  It is only valid while the level is Building.
func (c *Confidence) AppearedAtChainHeight() (int32, error) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	if c.level != LevelBuilding {
		return 0, ErrWrongLevel
	}
	return c.appearedAt, nil
}

// Depth returns the number of blocks in the best chain that include or bury
// the transaction; a transaction in the chain head has depth one.  It is
// only valid while the level is Building.
func (c *Confidence) Depth() (int32, error) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	if c.level != LevelBuilding {
		return 0, ErrWrongLevel
	}
	return c.depth, nil
}

// WorkDone returns the cumulative work of the blocks that bury the
// transaction.  It is only valid while the level is Building.
func (c *Confidence) WorkDone() (*big.Int, error) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	if c.level != LevelBuilding {
		return nil, ErrWrongLevel
	}
	return new(big.Int).Set(c.workDone), nil
}

// NotifyWorkDone records that a further block has been built on top of the
// transaction, increasing the depth by one and adding the block's work.  It
// has no effect unless the level is Building; depth and work only ever grow
// while there.
func (c *Confidence) NotifyWorkDone(work *big.Int) {
	c.mtx.Lock()
	if c.level != LevelBuilding {
		c.mtx.Unlock()
		return
	}
	c.depth++
	c.workDone.Add(c.workDone, work)
	listeners := c.listeners
	c.mtx.Unlock()

	c.notify(listeners)
}

// MarkDead records that the passed transaction spent one of this
// transaction's inputs in the best chain, making this one permanently
// unconfirmable.
func (c *Confidence) MarkDead(overridingTx *chainhash.Hash) {
	c.mtx.Lock()
	changed := c.level != LevelDead
	c.level = LevelDead
	c.overridingTx = overridingTx
	listeners := c.listeners
	c.mtx.Unlock()

	if changed {
		c.notify(listeners)
	}
}

// OverridingTx returns the transaction that took this one's place in the
// best chain.  It is only valid while the level is Dead.
func (c *Confidence) OverridingTx() (*chainhash.Hash, error) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	if c.level != LevelDead {
		return nil, ErrWrongLevel
	}
	return c.overridingTx, nil
}

// Duplicate returns a copy of the confidence state without its listeners.
func (c *Confidence) Duplicate() *Confidence {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	dup := &Confidence{
		txHash:       c.txHash,
		level:        c.level,
		broadcastBy:  make(map[string]*wire.NetAddress, len(c.broadcastBy)),
		appearedAt:   c.appearedAt,
		depth:        c.depth,
		workDone:     new(big.Int).Set(c.workDone),
		overridingTx: c.overridingTx,
	}
	for key, addr := range c.broadcastBy {
		dup.broadcastBy[key] = addr
	}
	return dup
}
