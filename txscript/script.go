// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2024 The btclite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package txscript

import (
	"encoding/binary"
	"fmt"
)

const (
	// MaxScriptSize is the maximum allowed length of a raw script.
	MaxScriptSize = 10000

	// MaxScriptElementSize is the maximum length in bytes a single pushed
	// stack element may be.
	MaxScriptElementSize = 520

	// MaxOpsPerScript is the maximum number of non-push operations a
	// script may contain.
	MaxOpsPerScript = 201

	// MaxPubKeysPerMultiSig is the maximum number of public keys allowed
	// in an OP_CHECKMULTISIG operation.
	MaxPubKeysPerMultiSig = 20

	// MaxStackSize is the maximum combined height of the data and
	// alternate stacks during execution.
	MaxStackSize = 1000
)

// parsedOpcode represents one instruction of a parsed script.  For data
// pushes, data holds the pushed bytes and offset records where the push
// instruction begins in the original program, which signature checking needs
// to construct the connected script.
type parsedOpcode struct {
	opcode byte
	data   []byte
	offset int
}

// isPush returns whether the instruction pushes data onto the stack without
// doing anything else.  Note that OP_0 through OP_16 and OP_1NEGATE count as
// pushes here.
func (pop *parsedOpcode) isPush() bool {
	return pop.opcode <= OP_16
}

// parseScript parses a raw script into its instructions.  Each data push
// records the pushed bytes along with the offset of the push instruction in
// the original program.  Reading past the end of the program is an error.
func parseScript(script []byte) ([]parsedOpcode, error) {
	retScript := make([]parsedOpcode, 0, len(script))
	for i := 0; i < len(script); {
		op := script[i]
		pop := parsedOpcode{opcode: op, offset: i}

		switch {
		// Opcode bytes 0x01 through 0x4b push that many bytes of
		// data.
		case op >= OP_DATA_1 && op <= OP_DATA_75:
			length := int(op)
			if i+1+length > len(script) {
				str := fmt.Sprintf("opcode %s requires %d "+
					"bytes, but script only has %d remaining",
					OpcodeName(op), length, len(script)-i-1)
				return nil, scriptError(ErrMalformedPush, str)
			}
			pop.data = script[i+1 : i+1+length]
			i += 1 + length

		case op == OP_PUSHDATA1:
			if i+1 >= len(script) {
				str := fmt.Sprintf("opcode %s requires a "+
					"1-byte length", OpcodeName(op))
				return nil, scriptError(ErrMalformedPush, str)
			}
			length := int(script[i+1])
			if i+2+length > len(script) {
				str := fmt.Sprintf("opcode %s pushes %d "+
					"bytes, but script only has %d remaining",
					OpcodeName(op), length, len(script)-i-2)
				return nil, scriptError(ErrMalformedPush, str)
			}
			pop.data = script[i+2 : i+2+length]
			i += 2 + length

		case op == OP_PUSHDATA2:
			if i+2 >= len(script) {
				str := fmt.Sprintf("opcode %s requires a "+
					"2-byte length", OpcodeName(op))
				return nil, scriptError(ErrMalformedPush, str)
			}
			length := int(binary.LittleEndian.Uint16(script[i+1 : i+3]))
			if i+3+length > len(script) {
				str := fmt.Sprintf("opcode %s pushes %d "+
					"bytes, but script only has %d remaining",
					OpcodeName(op), length, len(script)-i-3)
				return nil, scriptError(ErrMalformedPush, str)
			}
			pop.data = script[i+3 : i+3+length]
			i += 3 + length

		case op == OP_PUSHDATA4:
			if i+4 >= len(script) {
				str := fmt.Sprintf("opcode %s requires a "+
					"4-byte length", OpcodeName(op))
				return nil, scriptError(ErrMalformedPush, str)
			}
			length := int(binary.LittleEndian.Uint32(script[i+1 : i+5]))
			if length < 0 || i+5+length > len(script) {
				str := fmt.Sprintf("opcode %s pushes %d "+
					"bytes, but script only has %d remaining",
					OpcodeName(op), length, len(script)-i-5)
				return nil, scriptError(ErrMalformedPush, str)
			}
			pop.data = script[i+5 : i+5+length]
			i += 5 + length

		default:
			i++
		}

		retScript = append(retScript, pop)
	}

	return retScript, nil
}

// instructionLen returns the total encoded length of the instruction that
// starts at offset i, including the opcode byte and any length prefix and
// pushed data.  It mirrors the advance rules of parseScript exactly; any
// divergence between the two would be a consensus bug when instructions are
// removed from a connected script.
func instructionLen(script []byte, i int) (int, error) {
	op := script[i]
	switch {
	case op >= OP_DATA_1 && op <= OP_DATA_75:
		return 1 + int(op), nil

	case op == OP_PUSHDATA1:
		if i+1 >= len(script) {
			return 0, scriptError(ErrMalformedPush,
				"OP_PUSHDATA1 requires a 1-byte length")
		}
		return 2 + int(script[i+1]), nil

	case op == OP_PUSHDATA2:
		if i+2 >= len(script) {
			return 0, scriptError(ErrMalformedPush,
				"OP_PUSHDATA2 requires a 2-byte length")
		}
		return 3 + int(binary.LittleEndian.Uint16(script[i+1:i+3])), nil

	case op == OP_PUSHDATA4:
		if i+4 >= len(script) {
			return 0, scriptError(ErrMalformedPush,
				"OP_PUSHDATA4 requires a 4-byte length")
		}
		return 5 + int(binary.LittleEndian.Uint32(script[i+1:i+5])), nil

	default:
		return 1, nil
	}
}

// removeOpcode returns the script with all instances of the passed opcode
// removed, scanning instruction by instruction so that data pushes which
// merely contain the opcode byte are left alone.
func removeOpcode(script []byte, opcode byte) []byte {
	ret := make([]byte, 0, len(script))
	for i := 0; i < len(script); {
		length, err := instructionLen(script, i)
		if err != nil || i+length > len(script) {
			// A truncated final push cannot match a single opcode;
			// keep the remainder as-is.
			ret = append(ret, script[i:]...)
			break
		}
		if script[i] != opcode {
			ret = append(ret, script[i:i+length]...)
		}
		i += length
	}
	return ret
}

// removeOpcodeByData returns the script with all instructions whose encoded
// bytes begin with the passed pattern removed.  The pattern is a fully
// encoded instruction, typically the data push of a signature.  The scan
// advances instruction by instruction using the same rules as the parser;
// removal is idempotent.
func removeOpcodeByData(script []byte, pattern []byte) []byte {
	if len(pattern) == 0 {
		return script
	}

	ret := make([]byte, 0, len(script))
	for i := 0; i < len(script); {
		length, err := instructionLen(script, i)
		if err != nil || i+length > len(script) {
			ret = append(ret, script[i:]...)
			break
		}

		if len(pattern) <= length &&
			bytesEqual(script[i:i+len(pattern)], pattern) {
			i += length
			continue
		}

		ret = append(ret, script[i:i+length]...)
		i += length
	}
	return ret
}

// bytesEqual reports whether the two byte slices hold the same bytes.  A
// dedicated helper keeps the equality used by instruction removal and
// OP_EQUAL structural in one obvious place.
func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// canonicalPush returns the canonical encoding of a data push of the passed
// bytes: a direct push opcode when the data is at most 75 bytes and the
// smallest OP_PUSHDATA variant otherwise.
func canonicalPush(data []byte) []byte {
	dataLen := len(data)
	switch {
	case dataLen < OP_PUSHDATA1:
		return append([]byte{byte(dataLen)}, data...)

	case dataLen <= 0xff:
		return append([]byte{OP_PUSHDATA1, byte(dataLen)}, data...)

	case dataLen <= 0xffff:
		buf := make([]byte, 0, 3+dataLen)
		buf = append(buf, OP_PUSHDATA2)
		var lenBuf [2]byte
		binary.LittleEndian.PutUint16(lenBuf[:], uint16(dataLen))
		buf = append(buf, lenBuf[:]...)
		return append(buf, data...)

	default:
		buf := make([]byte, 0, 5+dataLen)
		buf = append(buf, OP_PUSHDATA4)
		var lenBuf [4]byte
		binary.LittleEndian.PutUint32(lenBuf[:], uint32(dataLen))
		buf = append(buf, lenBuf[:]...)
		return append(buf, data...)
	}
}

// isPushOnly returns whether the parsed script only pushes data.  OP_0
// through OP_16 and OP_1NEGATE are considered pushes.
func isPushOnly(pops []parsedOpcode) bool {
	for _, pop := range pops {
		if !pop.isPush() {
			return false
		}
	}
	return true
}

// IsPayToScriptHash returns true if the script is in the standard
// pay-to-script-hash (P2SH) format:
//
//	OP_HASH160 <20-byte hash> OP_EQUAL
//
// for a total of exactly 23 bytes.
func IsPayToScriptHash(script []byte) bool {
	return len(script) == 23 &&
		script[0] == OP_HASH160 &&
		script[1] == OP_DATA_20 &&
		script[22] == OP_EQUAL
}
