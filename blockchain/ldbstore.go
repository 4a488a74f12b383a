// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2024 The btclite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/syndtr/goleveldb/leveldb"
	ldberrors "github.com/syndtr/goleveldb/leveldb/errors"

	"github.com/btclite/btclite/chaincfg"
)

// Keys used in the leveldb-backed store.  Block records are keyed by a one
// byte prefix followed by the block hash; the chain head is a single record
// holding the hash of the current best block.
var (
	blockKeyPrefix = []byte("b")
	chainHeadKey   = []byte("chainhead")
)

// LevelStore is a BlockStore persisted with leveldb.  Stored blocks are
// header-plus-metadata records so the database stays small enough for a
// lightweight client even with the full header chain in it.
type LevelStore struct {
	db *leveldb.DB
}

// Enforce LevelStore satisfying the BlockStore interface.
var _ BlockStore = (*LevelStore)(nil)

// NewLevelStore opens (creating if necessary) a leveldb-backed block store
// at the passed path.  A fresh database is seeded with the genesis block of
// the passed network.
func NewLevelStore(path string, params *chaincfg.Params) (*LevelStore, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, storeError("failed to open block store", err)
	}
	s := &LevelStore{db: db}

	// Seed a fresh database with the genesis block.
	if _, err := s.db.Get(chainHeadKey, nil); err == leveldb.ErrNotFound {
		genesis := &StoredBlock{
			Header:  params.GenesisBlock.Header,
			Height:  0,
			WorkSum: CalcWork(params.GenesisBlock.Header.Bits),
		}
		if err := s.Put(genesis); err != nil {
			db.Close()
			return nil, err
		}
		if err := s.SetChainHead(genesis); err != nil {
			db.Close()
			return nil, err
		}
	} else if err != nil {
		db.Close()
		return nil, storeError("failed to read chain head", err)
	}

	return s, nil
}

// blockKey returns the database key for the block with the given hash.
func blockKey(hash *chainhash.Hash) []byte {
	key := make([]byte, 0, len(blockKeyPrefix)+chainhash.HashSize)
	key = append(key, blockKeyPrefix...)
	return append(key, hash[:]...)
}

// Put stores the passed block.
//
// This function is safe for concurrent access.
func (s *LevelStore) Put(sb *StoredBlock) error {
	serialized, err := serializeStoredBlock(sb)
	if err != nil {
		return storeError("failed to serialize block", err)
	}
	hash := sb.Hash()
	if err := s.db.Put(blockKey(&hash), serialized, nil); err != nil {
		return storeError("failed to store block", err)
	}
	return nil
}

// Get returns the stored block for the given hash, or ErrBlockNotFound.
//
// This function is safe for concurrent access.
func (s *LevelStore) Get(hash *chainhash.Hash) (*StoredBlock, error) {
	serialized, err := s.db.Get(blockKey(hash), nil)
	if err == leveldb.ErrNotFound {
		return nil, ErrBlockNotFound
	}
	if err != nil {
		return nil, storeError("failed to load block", err)
	}
	sb, err := deserializeStoredBlock(serialized)
	if err != nil {
		return nil, storeError("failed to deserialize block", err)
	}
	return sb, nil
}

// ChainHead returns the block at the head of the best known chain.
//
// This function is safe for concurrent access.
func (s *LevelStore) ChainHead() (*StoredBlock, error) {
	headHash, err := s.db.Get(chainHeadKey, nil)
	if err != nil {
		return nil, storeError("failed to read chain head", err)
	}
	hash, err := chainhash.NewHash(headHash)
	if err != nil {
		return nil, storeError("corrupt chain head record", err)
	}
	return s.Get(hash)
}

// SetChainHead records the passed block as the head of the best known chain.
//
// This function is safe for concurrent access.
func (s *LevelStore) SetChainHead(sb *StoredBlock) error {
	hash := sb.Hash()
	if err := s.db.Put(chainHeadKey, hash[:], nil); err != nil {
		return storeError("failed to store chain head", err)
	}
	return nil
}

// Close releases the underlying database.
func (s *LevelStore) Close() error {
	if err := s.db.Close(); err != nil && err != ldberrors.ErrClosed {
		return storeError("failed to close block store", err)
	}
	return nil
}
