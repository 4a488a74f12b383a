// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2024 The btclite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wire

import (
	"bytes"
	"testing"
)

// TestVarIntWire tests wire encode and decode for variable length integers.
func TestVarIntWire(t *testing.T) {
	tests := []struct {
		in  uint64 // Value to encode
		buf []byte // Wire encoding
	}{
		// Single byte
		{0, []byte{0x00}},
		// Max single byte
		{0xfc, []byte{0xfc}},
		// Min 2-byte
		{0xfd, []byte{0xfd, 0x0fd, 0x00}},
		// Max 2-byte
		{0xffff, []byte{0xfd, 0xff, 0xff}},
		// Min 4-byte
		{0x10000, []byte{0xfe, 0x00, 0x00, 0x01, 0x00}},
		// Max 4-byte
		{0xffffffff, []byte{0xfe, 0xff, 0xff, 0xff, 0xff}},
		// Min 8-byte
		{
			0x100000000,
			[]byte{0xff, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00},
		},
		// Max 8-byte
		{
			0xffffffffffffffff,
			[]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff},
		},
	}

	for i, test := range tests {
		// Encode to wire format.
		var buf bytes.Buffer
		err := WriteVarInt(&buf, test.in)
		if err != nil {
			t.Errorf("WriteVarInt #%d error %v", i, err)
			continue
		}
		if !bytes.Equal(buf.Bytes(), test.buf) {
			t.Errorf("WriteVarInt #%d\n got: %x want: %x", i,
				buf.Bytes(), test.buf)
			continue
		}

		// Decode from wire format.
		rbuf := bytes.NewReader(test.buf)
		val, err := ReadVarInt(rbuf)
		if err != nil {
			t.Errorf("ReadVarInt #%d error %v", i, err)
			continue
		}
		if val != test.in {
			t.Errorf("ReadVarInt #%d\n got: %d want: %d", i,
				val, test.in)
			continue
		}

		// Verify the expected serialized size.
		if size := VarIntSerializeSize(test.in); size != len(test.buf) {
			t.Errorf("VarIntSerializeSize #%d got: %d want: %d",
				i, size, len(test.buf))
		}
	}
}

// TestVarStringWire tests wire encode and decode for variable length strings.
func TestVarStringWire(t *testing.T) {
	str256 := string(bytes.Repeat([]byte{'t'}, 256))

	tests := []struct {
		in  string // String to encode
		buf []byte // Wire encoding
	}{
		// Empty string
		{"", []byte{0x00}},
		// Single byte varint + string
		{"Test", append([]byte{0x04}, []byte("Test")...)},
		// 2-byte varint + string
		{str256, append([]byte{0xfd, 0x00, 0x01}, []byte(str256)...)},
	}

	for i, test := range tests {
		var buf bytes.Buffer
		err := WriteVarString(&buf, test.in)
		if err != nil {
			t.Errorf("WriteVarString #%d error %v", i, err)
			continue
		}
		if !bytes.Equal(buf.Bytes(), test.buf) {
			t.Errorf("WriteVarString #%d\n got: %x want: %x", i,
				buf.Bytes(), test.buf)
			continue
		}

		rbuf := bytes.NewReader(test.buf)
		val, err := ReadVarString(rbuf)
		if err != nil {
			t.Errorf("ReadVarString #%d error %v", i, err)
			continue
		}
		if val != test.in {
			t.Errorf("ReadVarString #%d\n got: %s want: %s", i,
				val, test.in)
		}
	}
}

// TestVarBytesWireErrors tests that an announced length beyond the allowed
// maximum is rejected before any allocation happens.
func TestVarBytesWireErrors(t *testing.T) {
	// A varint declaring 2^32-1 bytes followed by nothing.
	buf := bytes.NewReader([]byte{0xfe, 0xff, 0xff, 0xff, 0xff})
	_, err := ReadVarBytes(buf, 16, "test payload")
	if _, ok := err.(*MessageError); !ok {
		t.Fatalf("ReadVarBytes expected MessageError, got %T (%v)",
			err, err)
	}
}
