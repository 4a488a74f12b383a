// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2024 The btclite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package txscript

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/btclite/btclite/wire"
)

// SigHashType represents hash type bits at the end of a signature.
type SigHashType byte

// Hash type bits from the end of a signature.
const (
	SigHashAll          SigHashType = 0x1
	SigHashNone         SigHashType = 0x2
	SigHashSingle       SigHashType = 0x3
	SigHashAnyOneCanPay SigHashType = 0x80

	// sigHashMask defines the number of bits of the hash type which are
	// used to identify which outputs are signed.
	sigHashMask = 0x1f
)

// hashOne is the value returned by the original client when the signature
// hash is requested for a SigHashSingle input whose index exceeds the number
// of outputs.  Verification against it always fails, but the quirk is
// consensus-visible and must be reproduced rather than treated as an error.
var hashOne = chainhash.Hash{0x01}

// CalcSignatureHash computes the signature hash for the transaction input
// idx, the provided hash type, and the connected script which is to be
// signed.  The connected script must already have had the relevant signature
// pushes removed by the caller.
//
// The hash is computed over a modified copy of the transaction: every input
// script is emptied except the one being signed, which is replaced by the
// connected script, and the outputs and sequences are trimmed according to
// the hash type.  The serialized result is extended with the hash type as a
// little endian 32-bit value and double hashed.
func CalcSignatureHash(script []byte, hashType SigHashType, tx *wire.MsgTx, idx int) ([]byte, error) {
	if idx < 0 || idx >= len(tx.TxIn) {
		str := fmt.Sprintf("transaction input index %d is out of "+
			"range for transaction with %d inputs", idx,
			len(tx.TxIn))
		return nil, scriptError(ErrInvalidIndex, str)
	}

	// As of the original client, a SigHashSingle hash type for an input
	// index that references a non-existent output produces the uint256
	// value one rather than failing.
	if hashType&sigHashMask == SigHashSingle && idx >= len(tx.TxOut) {
		return hashOne[:], nil
	}

	// The connected script never contains code separators; remove any
	// remaining occurrences before signing.
	script = removeOpcode(script, OP_CODESEPARATOR)

	// Make a deep copy of the transaction, zeroing out the script for
	// all inputs that are not currently being processed.
	txCopy := tx.Copy()
	for i := range txCopy.TxIn {
		if i == idx {
			txCopy.TxIn[idx].SignatureScript = script
		} else {
			txCopy.TxIn[i].SignatureScript = nil
		}
	}

	switch hashType & sigHashMask {
	case SigHashNone:
		txCopy.TxOut = txCopy.TxOut[0:0] // Empty slice.
		for i := range txCopy.TxIn {
			if i != idx {
				txCopy.TxIn[i].Sequence = 0
			}
		}

	case SigHashSingle:
		// Resize output array to up to and including requested index.
		txCopy.TxOut = txCopy.TxOut[:idx+1]

		// All but current output get zeroed out.
		for i := 0; i < idx; i++ {
			txCopy.TxOut[i].Value = -1
			txCopy.TxOut[i].PkScript = nil
		}

		// Sequence on all other inputs is 0, too.
		for i := range txCopy.TxIn {
			if i != idx {
				txCopy.TxIn[i].Sequence = 0
			}
		}

	default:
		// Consensus treats undefined hashtypes like normal SigHashAll
		// for purposes of hash generation.
		fallthrough
	case SigHashAll:
		// Nothing special here.
	}
	if hashType&SigHashAnyOneCanPay != 0 {
		txCopy.TxIn = txCopy.TxIn[idx : idx+1]
	}

	// The final hash is the double sha256 of both the serialized modified
	// transaction and the hash type (encoded as a 4-byte little-endian
	// value) appended.
	wbuf := bytes.NewBuffer(make([]byte, 0, txCopy.SerializeSize()+4))
	if err := txCopy.Serialize(wbuf); err != nil {
		return nil, err
	}
	var ht [4]byte
	binary.LittleEndian.PutUint32(ht[:], uint32(hashType))
	wbuf.Write(ht[:])
	return chainhash.DoubleHashB(wbuf.Bytes()), nil
}
