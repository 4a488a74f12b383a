// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2024 The btclite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wire

import (
	"bytes"
	"errors"
	"net"
	"reflect"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// testHash returns a hash from the passed big-endian string, failing the
// test on error.
func testHash(t *testing.T, hexStr string) *chainhash.Hash {
	t.Helper()
	hash, err := chainhash.NewHashFromStr(hexStr)
	if err != nil {
		t.Fatalf("NewHashFromStr: %v", err)
	}
	return hash
}

// testTx returns a sample transaction for use in message tests.
func testTx() *MsgTx {
	tx := NewMsgTx()
	tx.AddTxIn(&TxIn{
		PreviousOutPoint: OutPoint{
			Hash:  chainhash.Hash{0x01},
			Index: 1,
		},
		SignatureScript: []byte{0x04, 0x31, 0x32, 0x33, 0x34},
		Sequence:        0xffffffff,
	})
	tx.AddTxOut(&TxOut{
		Value:    5000000000,
		PkScript: []byte{0x51},
	})
	return tx
}

// testBlockHeader returns a sample block header for use in message tests.
func testBlockHeader(t *testing.T, merkleRoot *chainhash.Hash) *BlockHeader {
	prev := testHash(t, "000000000019d6689c085ae165831e934ff763ae46a2a6c172b3f1b60a8ce26f")
	header := NewBlockHeader(1, prev, merkleRoot, 0x1d00ffff, 0x9962e301)
	header.Timestamp = time.Unix(0x4966bc61, 0)
	return header
}

// TestMessageRoundTrip tests writing and reading every supported message
// type through the full framing path.
func TestMessageRoundTrip(t *testing.T) {
	// Sample addresses without timestamps for the version message.
	you := &NetAddress{
		Services: SFNodeNetwork,
		IP:       net.ParseIP("192.168.0.1"),
		Port:     8333,
	}
	me := &NetAddress{
		Services: SFNodeNetwork,
		IP:       net.ParseIP("127.0.0.1"),
		Port:     8333,
	}

	msgVersion := &MsgVersion{
		ProtocolVersion: int32(ProtocolVersion),
		Services:        SFNodeNetwork,
		Timestamp:       time.Unix(0x495fab29, 0),
		AddrYou:         *you,
		AddrMe:          *me,
		Nonce:           123123,
		UserAgent:       DefaultUserAgent,
		LastBlock:       234234,
	}

	msgAddr := NewMsgAddr()
	msgAddr.AddAddress(&NetAddress{
		Timestamp: time.Unix(0x495fab29, 0),
		Services:  SFNodeNetwork,
		IP:        net.ParseIP("127.0.0.1"),
		Port:      8333,
	})

	tx := testTx()
	txHash := tx.TxHash()

	msgInv := NewMsgInv()
	msgInv.AddInvVect(NewInvVect(InvTypeTx, &txHash))

	msgGetData := NewMsgGetData()
	msgGetData.AddInvVect(NewInvVect(InvTypeBlock, testHash(t,
		"000000000019d6689c085ae165831e934ff763ae46a2a6c172b3f1b60a8ce26f")))

	locator := testHash(t,
		"000000000019d6689c085ae165831e934ff763ae46a2a6c172b3f1b60a8ce26f")
	msgGetBlocks := NewMsgGetBlocks(&chainhash.Hash{})
	msgGetBlocks.AddBlockLocatorHash(locator)

	msgGetHeaders := NewMsgGetHeaders()
	msgGetHeaders.AddBlockLocatorHash(locator)

	merkleRoot := testHash(t,
		"4a5e1e4baab89f3a32518a88c31bc87f618f76673e2cc77ab2127b7afdeda33b")
	header := testBlockHeader(t, merkleRoot)

	msgHeaders := NewMsgHeaders()
	msgHeaders.AddBlockHeader(header)

	msgBlock := NewMsgBlock(header)
	msgBlock.AddTransaction(tx)

	msgAlert := NewMsgAlert([]byte("payload"), []byte("signature"))

	tests := []Message{
		msgVersion,
		NewMsgVerAck(),
		NewMsgGetAddr(),
		msgAddr,
		msgInv,
		msgGetData,
		msgGetBlocks,
		msgGetHeaders,
		msgHeaders,
		tx,
		msgBlock,
		// The nonce does not travel at this protocol version, so a
		// zero nonce is the only value that survives a round trip.
		NewMsgPing(0),
		msgAlert,
	}

	for i, msg := range tests {
		var buf bytes.Buffer
		err := WriteMessage(&buf, msg, ProtocolVersion, MainNet)
		if err != nil {
			t.Errorf("WriteMessage #%d (%s) error %v", i,
				msg.Command(), err)
			continue
		}

		decoded, _, err := ReadMessage(&buf, ProtocolVersion, MainNet)
		if err != nil {
			t.Errorf("ReadMessage #%d (%s) error %v", i,
				msg.Command(), err)
			continue
		}

		if !reflect.DeepEqual(msg, decoded) {
			t.Errorf("ReadMessage #%d (%s)\n got: %+v\nwant: %+v",
				i, msg.Command(), decoded, msg)
		}
	}
}

// TestMessageNoChecksum verifies the 20-byte framing used for the version
// handshake round-trips and is exactly 4 bytes shorter than the checksummed
// framing for the same message.
func TestMessageNoChecksum(t *testing.T) {
	msg := NewMsgPing(0)

	var plain, summed bytes.Buffer
	if err := WriteMessageN(&plain, msg, ProtocolVersion, MainNet, false); err != nil {
		t.Fatalf("WriteMessageN: %v", err)
	}
	if err := WriteMessageN(&summed, msg, ProtocolVersion, MainNet, true); err != nil {
		t.Fatalf("WriteMessageN: %v", err)
	}

	if plain.Len() != summed.Len()-4 {
		t.Fatalf("expected checksum-free framing to be 4 bytes "+
			"shorter: %d vs %d", plain.Len(), summed.Len())
	}

	decoded, _, err := ReadMessageN(&plain, ProtocolVersion, MainNet, false)
	if err != nil {
		t.Fatalf("ReadMessageN: %v", err)
	}
	if _, ok := decoded.(*MsgPing); !ok {
		t.Fatalf("expected ping, got %T", decoded)
	}
}

// TestMessageChecksumMismatch verifies that flipping any payload bit of a
// checksummed message causes deserialization to fail with a MessageError.
func TestMessageChecksumMismatch(t *testing.T) {
	msgAddr := NewMsgAddr()
	msgAddr.AddAddress(&NetAddress{
		Timestamp: time.Unix(0x495fab29, 0),
		Services:  SFNodeNetwork,
		IP:        net.ParseIP("127.0.0.1"),
		Port:      8333,
	})

	var buf bytes.Buffer
	if err := WriteMessage(&buf, msgAddr, ProtocolVersion, MainNet); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
	serialized := buf.Bytes()

	// The header is magic 4 + command 12 + length 4 + checksum 4.
	const headerSize = 24
	for i := headerSize; i < len(serialized); i++ {
		for bit := uint(0); bit < 8; bit++ {
			corrupted := make([]byte, len(serialized))
			copy(corrupted, serialized)
			corrupted[i] ^= 1 << bit

			_, _, err := ReadMessage(bytes.NewReader(corrupted),
				ProtocolVersion, MainNet)
			if err == nil {
				t.Fatalf("corrupting byte %d bit %d was not "+
					"detected", i, bit)
			}
			if _, ok := err.(*MessageError); !ok {
				t.Fatalf("corrupting byte %d bit %d: expected "+
					"MessageError, got %T (%v)", i, bit, err, err)
			}
		}
	}
}

// TestMessageWrongNetwork verifies that a message framed for another network
// is rejected.
func TestMessageWrongNetwork(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteMessage(&buf, NewMsgVerAck(), ProtocolVersion, TestNet3); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}

	_, _, err := ReadMessage(&buf, ProtocolVersion, MainNet)
	if _, ok := err.(*MessageError); !ok {
		t.Fatalf("expected MessageError for wrong network, got %T (%v)",
			err, err)
	}
}

// TestMessageUnknownCommand verifies that an unknown command is consumed
// from the stream and reported via ErrUnknownCommand so callers can skip it.
func TestMessageUnknownCommand(t *testing.T) {
	// Hand-roll a message with an unsupported command and empty payload.
	var buf bytes.Buffer
	var command [CommandSize]byte
	copy(command[:], "bogus")
	err := writeElements(&buf, MainNet, command, uint32(0))
	if err != nil {
		t.Fatalf("writeElements: %v", err)
	}
	checksum := chainhash.DoubleHashB(nil)[0:4]
	buf.Write(checksum)

	// Append a valid message behind it to prove the stream stays usable.
	if err := WriteMessage(&buf, NewMsgVerAck(), ProtocolVersion, MainNet); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}

	_, _, err = ReadMessage(&buf, ProtocolVersion, MainNet)
	if !errors.Is(err, ErrUnknownCommand) {
		t.Fatalf("expected ErrUnknownCommand, got %v", err)
	}

	msg, _, err := ReadMessage(&buf, ProtocolVersion, MainNet)
	if err != nil {
		t.Fatalf("ReadMessage after unknown command: %v", err)
	}
	if _, ok := msg.(*MsgVerAck); !ok {
		t.Fatalf("expected verack after unknown command, got %T", msg)
	}
}

// TestMessageOversizedPayload verifies a header declaring more than the
// maximum allowed payload is rejected.
func TestMessageOversizedPayload(t *testing.T) {
	var buf bytes.Buffer
	var command [CommandSize]byte
	copy(command[:], CmdBlock)
	err := writeElements(&buf, MainNet, command,
		uint32(MaxMessagePayload+1))
	if err != nil {
		t.Fatalf("writeElements: %v", err)
	}
	var checksum [4]byte
	buf.Write(checksum[:])

	_, _, err = ReadMessage(&buf, ProtocolVersion, MainNet)
	if _, ok := err.(*MessageError); !ok {
		t.Fatalf("expected MessageError for oversized payload, got "+
			"%T (%v)", err, err)
	}
}

// TestPingNonceByVersion verifies the ping nonce is version gated.
func TestPingNonceByVersion(t *testing.T) {
	msg := NewMsgPing(0x1122334455667788)

	// At the historic protocol version the nonce is absent.
	var buf bytes.Buffer
	if err := msg.BtcEncode(&buf, ProtocolVersion); err != nil {
		t.Fatalf("BtcEncode: %v", err)
	}
	if buf.Len() != 0 {
		t.Fatalf("expected empty ping payload at pver %d, got %d "+
			"bytes", ProtocolVersion, buf.Len())
	}

	// After BIP0031 the nonce travels.
	buf.Reset()
	if err := msg.BtcEncode(&buf, BIP0031Version+1); err != nil {
		t.Fatalf("BtcEncode: %v", err)
	}
	if buf.Len() != 8 {
		t.Fatalf("expected 8-byte ping payload, got %d", buf.Len())
	}
}
