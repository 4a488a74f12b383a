// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2024 The btclite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package txscript

import (
	"fmt"
	"math/big"
)

// maxScriptNumLen is the maximum number of bytes a popped numeric operand
// may occupy.  Results of arithmetic are not bound by it and may grow
// larger; they only become subject to the limit when popped again.
const maxScriptNumLen = 4

// decodeScriptNum interprets the passed serialized bytes as a script number
// and returns the result as a big integer.
//
// Script numbers are serialized little endian in sign-magnitude form: the
// most significant bit of the most significant byte carries the sign and the
// remaining bits the magnitude.  Zero is the empty slice.  An error is
// returned when the serialization is longer than maxScriptNumLen, which is
// the consensus limit for numeric operands.
func decodeScriptNum(v []byte) (*big.Int, error) {
	if len(v) > maxScriptNumLen {
		str := fmt.Sprintf("Script attempted to use an integer "+
			"larger than %d bytes", maxScriptNumLen)
		return nil, scriptError(ErrNumberTooBig, str)
	}

	if len(v) == 0 {
		return big.NewInt(0), nil
	}

	// Reverse into big endian and split off the sign bit.
	buf := make([]byte, len(v))
	for i, b := range v {
		buf[len(v)-1-i] = b
	}

	negative := buf[0]&0x80 != 0
	buf[0] &= 0x7f

	result := new(big.Int).SetBytes(buf)
	if negative {
		result.Neg(result)
	}
	return result, nil
}

// encodeScriptNum serializes the passed big integer to the little endian
// sign-magnitude representation described at decodeScriptNum.  Zero encodes
// as an empty slice.
func encodeScriptNum(n *big.Int) []byte {
	if n.Sign() == 0 {
		return nil
	}

	// Big endian magnitude with room for a sign bit.
	magnitude := new(big.Int).Abs(n).Bytes()
	if magnitude[0]&0x80 != 0 {
		magnitude = append([]byte{0x00}, magnitude...)
	}
	if n.Sign() < 0 {
		magnitude[0] |= 0x80
	}

	// Reverse into little endian.
	result := make([]byte, len(magnitude))
	for i, b := range magnitude {
		result[len(magnitude)-1-i] = b
	}
	return result
}

// asBool interprets the passed stack element as a boolean.  An element is
// false when every byte is zero, with the special case that a trailing byte
// of exactly 0x80 (the sign bit of negative zero) is also treated as zero.
func asBool(t []byte) bool {
	for i := range t {
		if t[i] != 0 {
			if i == len(t)-1 && t[i] == 0x80 {
				return false
			}
			return true
		}
	}
	return false
}

// fromBool converts a boolean into the canonical stack element form: an
// empty slice for false and a single 1 byte for true.
func fromBool(v bool) []byte {
	if v {
		return []byte{1}
	}
	return nil
}
