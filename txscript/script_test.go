// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2024 The btclite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package txscript

import (
	"bytes"
	"testing"

	"pgregory.net/rapid"
)

// TestParseScript tests parsing of scripts into instructions, including the
// offset bookkeeping the connected-script computation relies on.
func TestParseScript(t *testing.T) {
	script := []byte{
		OP_DUP,
		0x03, 0xaa, 0xbb, 0xcc, // direct push of 3 bytes
		OP_PUSHDATA1, 0x02, 0x11, 0x22,
		OP_PUSHDATA2, 0x01, 0x00, 0x33,
		OP_CHECKSIG,
	}

	pops, err := parseScript(script)
	if err != nil {
		t.Fatalf("parseScript: %v", err)
	}
	if len(pops) != 5 {
		t.Fatalf("expected 5 instructions, got %d", len(pops))
	}

	wantOffsets := []int{0, 1, 5, 9, 13}
	for i, want := range wantOffsets {
		if pops[i].offset != want {
			t.Errorf("instruction %d offset got %d want %d", i,
				pops[i].offset, want)
		}
	}

	if !bytes.Equal(pops[1].data, []byte{0xaa, 0xbb, 0xcc}) {
		t.Errorf("direct push data got %x", pops[1].data)
	}
	if !bytes.Equal(pops[2].data, []byte{0x11, 0x22}) {
		t.Errorf("OP_PUSHDATA1 data got %x", pops[2].data)
	}
	if !bytes.Equal(pops[3].data, []byte{0x33}) {
		t.Errorf("OP_PUSHDATA2 data got %x", pops[3].data)
	}
}

// TestParseScriptTruncated tests that pushes reading past the end of the
// program fail to parse.
func TestParseScriptTruncated(t *testing.T) {
	tests := [][]byte{
		{0x05, 0x01, 0x02},             // direct push short 2 bytes
		{OP_PUSHDATA1},                 // missing length byte
		{OP_PUSHDATA1, 0x05, 0x01},     // short data
		{OP_PUSHDATA2, 0x01},           // short length
		{OP_PUSHDATA2, 0x02, 0x00, 0x01},
		{OP_PUSHDATA4, 0x01, 0x00, 0x00},
		{OP_PUSHDATA4, 0x01, 0x00, 0x00, 0x00},
	}

	for i, script := range tests {
		if _, err := parseScript(script); !IsErrorCode(err, ErrMalformedPush) {
			t.Errorf("test #%d: expected ErrMalformedPush, got %v",
				i, err)
		}
	}
}

// TestRemoveOpcodeByData tests byte-exact instruction removal.
func TestRemoveOpcodeByData(t *testing.T) {
	sig := []byte{0xde, 0xad, 0xbe, 0xef}
	push := canonicalPush(sig)

	// A script that pushes the signature twice with other instructions
	// interleaved.
	var script []byte
	script = append(script, OP_DUP)
	script = append(script, push...)
	script = append(script, OP_HASH160)
	script = append(script, push...)
	script = append(script, OP_CHECKSIG)

	want := []byte{OP_DUP, OP_HASH160, OP_CHECKSIG}
	got := removeOpcodeByData(script, push)
	if !bytes.Equal(got, want) {
		t.Fatalf("removeOpcodeByData got %x want %x", got, want)
	}

	// A push whose *data* contains the pattern bytes must survive: the
	// scan advances instruction by instruction, not byte by byte.
	embedded := canonicalPush(append([]byte{0x00}, push...))
	got = removeOpcodeByData(embedded, push)
	if !bytes.Equal(got, embedded) {
		t.Fatalf("removeOpcodeByData removed an embedded pattern: "+
			"%x -> %x", embedded, got)
	}
}

// TestRemoveOpcodeByDataIdempotent verifies remove(remove(p, q), q) ==
// remove(p, q) over arbitrary well-formed scripts.
func TestRemoveOpcodeByDataIdempotent(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		// Build a random well-formed script out of random
		// instructions, occasionally inserting the pattern push.
		sig := rapid.SliceOfN(rapid.Byte(), 1, 72).Draw(t, "sig")
		pattern := canonicalPush(sig)

		var script []byte
		count := rapid.IntRange(0, 20).Draw(t, "count")
		for i := 0; i < count; i++ {
			switch rapid.IntRange(0, 2).Draw(t, "kind") {
			case 0:
				script = append(script, pattern...)
			case 1:
				data := rapid.SliceOfN(rapid.Byte(), 0, 40).
					Draw(t, "data")
				script = append(script, canonicalPush(data)...)
			default:
				script = append(script,
					byte(rapid.IntRange(0x59, 0xb9).
						Draw(t, "op")))
			}
		}

		once := removeOpcodeByData(script, pattern)
		twice := removeOpcodeByData(once, pattern)
		if !bytes.Equal(once, twice) {
			t.Fatalf("removal is not idempotent: %x vs %x", once,
				twice)
		}
	})
}

// TestIsPayToScriptHash tests the byte-exact P2SH template match.
func TestIsPayToScriptHash(t *testing.T) {
	hash20 := bytes.Repeat([]byte{0x01}, 20)

	var p2sh []byte
	p2sh = append(p2sh, OP_HASH160, OP_DATA_20)
	p2sh = append(p2sh, hash20...)
	p2sh = append(p2sh, OP_EQUAL)
	if !IsPayToScriptHash(p2sh) {
		t.Fatal("valid P2SH template not recognized")
	}

	// One byte longer.
	if IsPayToScriptHash(append(p2sh, OP_NOP)) {
		t.Fatal("24-byte script recognized as P2SH")
	}

	// Wrong trailing opcode.
	bad := make([]byte, len(p2sh))
	copy(bad, p2sh)
	bad[22] = OP_EQUALVERIFY
	if IsPayToScriptHash(bad) {
		t.Fatal("wrong trailing opcode recognized as P2SH")
	}
}
