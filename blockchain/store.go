// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2024 The btclite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"bytes"
	"encoding/binary"
	"math/big"
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/btclite/btclite/chaincfg"
	"github.com/btclite/btclite/wire"
)

var (
	// bigOne is 1 represented as a big.Int.  It is defined here to avoid
	// the overhead of creating it multiple times.
	bigOne = big.NewInt(1)

	// oneLsh256 is 1 shifted left 256 bits.  It is defined here to avoid
	// the overhead of creating it multiple times.
	oneLsh256 = new(big.Int).Lsh(bigOne, 256)
)

// CompactToBig converts a compact representation of a whole number N to a
// big integer.  The representation is similar to IEEE754 floating
// point numbers.
//
// Like IEEE754 floating point, there are three basic components: the sign,
// the exponent, and the mantissa.  They are broken out of the 32-bit number
// as follows:
//
//   - the most significant 8 bits represent the unsigned base 256 exponent
//   - bit 23 (the 24th bit) represents the sign bit
//   - the least significant 23 bits represent the mantissa
//
// The formula to calculate N is:
//
//	N = (-1^sign) * mantissa * 256^(exponent-3)
//
// This compact form is only used in bitcoin to encode unsigned 256-bit
// numbers which represent difficulty targets, thus there really is not a
// need for a sign bit, but it is implemented here to stay consistent with
// bitcoind.
func CompactToBig(compact uint32) *big.Int {
	// Extract the mantissa, sign bit, and exponent.
	mantissa := compact & 0x007fffff
	isNegative := compact&0x00800000 != 0
	exponent := uint(compact >> 24)

	// Since the base for the exponent is 256, the exponent can be treated
	// as the number of bytes to represent the full 256-bit number.  So,
	// treat the exponent as the number of bytes and shift the mantissa
	// right or left accordingly.  This is equivalent to:
	// N = mantissa * 256^(exponent-3)
	var bn *big.Int
	if exponent <= 3 {
		mantissa >>= 8 * (3 - exponent)
		bn = big.NewInt(int64(mantissa))
	} else {
		bn = big.NewInt(int64(mantissa))
		bn.Lsh(bn, 8*(exponent-3))
	}

	// Make it negative if the sign bit is set.
	if isNegative {
		bn = bn.Neg(bn)
	}

	return bn
}

// CalcWork calculates a work value from difficulty bits.  Bitcoin increases
// the difficulty for generating a block by decreasing the value which the
// generated hash must be less than.  This difficulty target is stored in
// each block header using a compact representation as described in the
// documentation for CompactToBig.
//
// The main chain is selected by choosing the chain that has the most proof
// of work (highest difficulty).  Since a lower target difficulty value
// equates to higher actual difficulty, the work value which will be
// accumulated must be the inverse of the difficulty.  Also, in order to
// avoid potential division by zero and really small floating point numbers,
// the result adds 1 to the denominator and multiplies the numerator by
// 2^256.
func CalcWork(bits uint32) *big.Int {
	// Return a work value of zero if the passed difficulty bits represent
	// a negative number.  Note this should not happen in practice with
	// valid blocks, but an invalid block could trigger it.
	difficultyNum := CompactToBig(bits)
	if difficultyNum.Sign() <= 0 {
		return big.NewInt(0)
	}

	// (1 << 256) / (difficultyNum + 1)
	denominator := new(big.Int).Add(difficultyNum, bigOne)
	return new(big.Int).Div(oneLsh256, denominator)
}

// StoredBlock represents a block header together with the metadata the chain
// tracks for it: its height and the cumulative work of the chain ending at
// it.  Only headers are stored; full block data is not retained once it has
// been processed.
type StoredBlock struct {
	Header  wire.BlockHeader
	Height  int32
	WorkSum *big.Int
}

// Hash returns the block identifier hash of the stored header.
func (sb *StoredBlock) Hash() chainhash.Hash {
	return sb.Header.BlockHash()
}

// BuildNext creates the StoredBlock for a header that connects to this one,
// with the height incremented and the header's work added to the cumulative
// work.
func (sb *StoredBlock) BuildNext(header *wire.BlockHeader) *StoredBlock {
	workSum := new(big.Int).Add(sb.WorkSum, CalcWork(header.Bits))
	return &StoredBlock{
		Header:  *header,
		Height:  sb.Height + 1,
		WorkSum: workSum,
	}
}

// serializeStoredBlock serializes a StoredBlock for storage: the 80-byte
// header, the height, and the length-prefixed big-endian work sum.
func serializeStoredBlock(sb *StoredBlock) ([]byte, error) {
	var buf bytes.Buffer
	if err := sb.Header.Serialize(&buf); err != nil {
		return nil, err
	}

	var height [4]byte
	binary.LittleEndian.PutUint32(height[:], uint32(sb.Height))
	buf.Write(height[:])

	workBytes := sb.WorkSum.Bytes()
	buf.WriteByte(byte(len(workBytes)))
	buf.Write(workBytes)

	return buf.Bytes(), nil
}

// deserializeStoredBlock decodes a StoredBlock serialized by
// serializeStoredBlock.
func deserializeStoredBlock(serialized []byte) (*StoredBlock, error) {
	r := bytes.NewReader(serialized)

	var sb StoredBlock
	if err := sb.Header.Deserialize(r); err != nil {
		return nil, err
	}

	var height [4]byte
	if _, err := r.Read(height[:]); err != nil {
		return nil, err
	}
	sb.Height = int32(binary.LittleEndian.Uint32(height[:]))

	workLen, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	workBytes := make([]byte, workLen)
	if _, err := r.Read(workBytes); err != nil {
		return nil, err
	}
	sb.WorkSum = new(big.Int).SetBytes(workBytes)

	return &sb, nil
}

// BlockStore houses the stored block headers the chain has accepted along
// with a pointer to the current chain head.  Implementations must be safe
// for concurrent access.  All failures are reported as StoreError, which the
// peer pool treats as fatal.
type BlockStore interface {
	// Put stores the passed block.
	Put(sb *StoredBlock) error

	// Get returns the stored block for the given hash, or
	// ErrBlockNotFound when no such block exists.
	Get(hash *chainhash.Hash) (*StoredBlock, error)

	// ChainHead returns the block at the head of the best known chain.
	ChainHead() (*StoredBlock, error)

	// SetChainHead records the passed, previously stored block as the
	// head of the best known chain.
	SetChainHead(sb *StoredBlock) error

	// Close releases any resources held by the store.
	Close() error
}

// MemoryStore is a BlockStore that keeps all stored blocks in memory.  It is
// primarily useful for tests and for short-lived clients that resynchronize
// headers on startup.
type MemoryStore struct {
	mtx    sync.RWMutex
	blocks map[chainhash.Hash]*StoredBlock
	head   *StoredBlock
}

// NewMemoryStore returns a new memory-backed block store seeded with the
// genesis block of the passed network.
func NewMemoryStore(params *chaincfg.Params) *MemoryStore {
	genesis := &StoredBlock{
		Header:  params.GenesisBlock.Header,
		Height:  0,
		WorkSum: CalcWork(params.GenesisBlock.Header.Bits),
	}
	s := &MemoryStore{
		blocks: make(map[chainhash.Hash]*StoredBlock),
		head:   genesis,
	}
	s.blocks[genesis.Hash()] = genesis
	return s
}

// Put stores the passed block.
//
// This function is safe for concurrent access.
func (s *MemoryStore) Put(sb *StoredBlock) error {
	s.mtx.Lock()
	s.blocks[sb.Hash()] = sb
	s.mtx.Unlock()
	return nil
}

// Get returns the stored block for the given hash, or ErrBlockNotFound.
//
// This function is safe for concurrent access.
func (s *MemoryStore) Get(hash *chainhash.Hash) (*StoredBlock, error) {
	s.mtx.RLock()
	sb, ok := s.blocks[*hash]
	s.mtx.RUnlock()
	if !ok {
		return nil, ErrBlockNotFound
	}
	return sb, nil
}

// ChainHead returns the block at the head of the best known chain.
//
// This function is safe for concurrent access.
func (s *MemoryStore) ChainHead() (*StoredBlock, error) {
	s.mtx.RLock()
	head := s.head
	s.mtx.RUnlock()
	return head, nil
}

// SetChainHead records the passed block as the head of the best known chain.
//
// This function is safe for concurrent access.
func (s *MemoryStore) SetChainHead(sb *StoredBlock) error {
	s.mtx.Lock()
	s.head = sb
	s.mtx.Unlock()
	return nil
}

// Close releases the store.  It is a no-op for the memory store.
func (s *MemoryStore) Close() error {
	return nil
}
