// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2024 The btclite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package txscript

import (
	"bytes"
	"math/big"
	"testing"

	"pgregory.net/rapid"
)

// TestScriptNumEncode tests the serialization of script numbers against
// known vectors.
func TestScriptNumEncode(t *testing.T) {
	tests := []struct {
		in  int64
		buf []byte
	}{
		{0, nil},
		{1, []byte{0x01}},
		{-1, []byte{0x81}},
		{127, []byte{0x7f}},
		{-127, []byte{0xff}},
		{128, []byte{0x80, 0x00}},
		{-128, []byte{0x80, 0x80}},
		{256, []byte{0x00, 0x01}},
		{-256, []byte{0x00, 0x81}},
		{32767, []byte{0xff, 0x7f}},
		{-32767, []byte{0xff, 0xff}},
		{2147483647, []byte{0xff, 0xff, 0xff, 0x7f}},
		{-2147483647, []byte{0xff, 0xff, 0xff, 0xff}},
	}

	for i, test := range tests {
		got := encodeScriptNum(big.NewInt(test.in))
		if !bytes.Equal(got, test.buf) {
			t.Errorf("encodeScriptNum #%d (%d) got: %x want: %x",
				i, test.in, got, test.buf)
		}
	}
}

// TestScriptNumRoundTrip verifies decode(encode(n)) == n for every integer
// representable in at most 4 bytes.
func TestScriptNumRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.Int64Range(-2147483647, 2147483647).Draw(t, "n")

		encoded := encodeScriptNum(big.NewInt(n))
		if len(encoded) > maxScriptNumLen {
			t.Fatalf("encoding of %d is %d bytes", n, len(encoded))
		}

		decoded, err := decodeScriptNum(encoded)
		if err != nil {
			t.Fatalf("decodeScriptNum(%x): %v", encoded, err)
		}
		if decoded.Int64() != n {
			t.Fatalf("round trip of %d produced %d", n,
				decoded.Int64())
		}
	})
}

// TestScriptNumTooBig verifies that operands beyond 4 bytes are rejected.
func TestScriptNumTooBig(t *testing.T) {
	_, err := decodeScriptNum([]byte{0x01, 0x02, 0x03, 0x04, 0x05})
	if !IsErrorCode(err, ErrNumberTooBig) {
		t.Fatalf("expected ErrNumberTooBig, got %v", err)
	}
}

// TestAsBool verifies boolean interpretation of stack elements, including
// the negative zero form.
func TestAsBool(t *testing.T) {
	tests := []struct {
		in   []byte
		want bool
	}{
		{nil, false},
		{[]byte{0x00}, false},
		{[]byte{0x00, 0x00}, false},
		{[]byte{0x80}, false},             // negative zero
		{[]byte{0x00, 0x80}, false},       // negative zero, wider
		{[]byte{0x00, 0x00, 0x80}, false}, // negative zero, wider still
		{[]byte{0x01}, true},
		{[]byte{0x80, 0x00}, true}, // 0x80 not in final position
		{[]byte{0x00, 0x01}, true},
		{[]byte{0x01, 0x80}, true}, // non-zero byte before the sign
	}

	for i, test := range tests {
		if got := asBool(test.in); got != test.want {
			t.Errorf("asBool #%d (%x) got %v want %v", i, test.in,
				got, test.want)
		}
	}
}
