// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2024 The btclite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wire

import (
	"bytes"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// CommandSize is the fixed size of all commands in the common bitcoin message
// header.  Shorter commands must be zero padded.
const CommandSize = 12

// MaxMessagePayload is the maximum bytes a message can be regardless of other
// individual limits imposed by messages themselves.
const MaxMessagePayload = (1024 * 1024 * 32) // 32MB

// Commands used in bitcoin message headers which describe the type of message.
const (
	CmdVersion    = "version"
	CmdVerAck     = "verack"
	CmdGetAddr    = "getaddr"
	CmdAddr       = "addr"
	CmdGetBlocks  = "getblocks"
	CmdInv        = "inv"
	CmdGetData    = "getdata"
	CmdBlock      = "block"
	CmdTx         = "tx"
	CmdGetHeaders = "getheaders"
	CmdHeaders    = "headers"
	CmdPing       = "ping"
	CmdPong       = "pong"
	CmdAlert      = "alert"
)

// Message is an interface that describes a bitcoin message.  A type that
// implements Message has complete control over the representation of its data
// and may therefore contain additional or fewer fields than those which
// are used directly in the protocol encoded message.
type Message interface {
	BtcDecode(io.Reader, uint32) error
	BtcEncode(io.Writer, uint32) error
	Command() string
	MaxPayloadLength(uint32) uint32
}

// makeEmptyMessage creates a message of the appropriate concrete type based
// on the command.
func makeEmptyMessage(command string) (Message, error) {
	var msg Message
	switch command {
	case CmdVersion:
		msg = &MsgVersion{}

	case CmdVerAck:
		msg = &MsgVerAck{}

	case CmdGetAddr:
		msg = &MsgGetAddr{}

	case CmdAddr:
		msg = &MsgAddr{}

	case CmdGetBlocks:
		msg = &MsgGetBlocks{}

	case CmdBlock:
		msg = &MsgBlock{}

	case CmdInv:
		msg = &MsgInv{}

	case CmdGetData:
		msg = &MsgGetData{}

	case CmdTx:
		msg = &MsgTx{}

	case CmdPing:
		msg = &MsgPing{}

	case CmdPong:
		msg = &MsgPong{}

	case CmdGetHeaders:
		msg = &MsgGetHeaders{}

	case CmdHeaders:
		msg = &MsgHeaders{}

	case CmdAlert:
		msg = &MsgAlert{}

	default:
		return nil, fmt.Errorf("%w [%s]", ErrUnknownCommand, command)
	}
	return msg, nil
}

// messageHeader defines the header structure for all bitcoin protocol
// messages.  The checksum field is only present on the wire once the
// connection has negotiated protocol version 209 or better.
type messageHeader struct {
	magic    BitcoinNet // 4 bytes
	command  string     // 12 bytes
	length   uint32     // 4 bytes
	checksum [4]byte    // 4 bytes, conditional
}

// readMessageHeader reads a bitcoin message header from r.  The checksum
// field is only read when includeChecksum is set.
func readMessageHeader(r io.Reader, includeChecksum bool) (*messageHeader, error) {
	var command [CommandSize]byte

	hdr := messageHeader{}
	err := readElements(r, &hdr.magic, &command, &hdr.length)
	if err != nil {
		return nil, err
	}
	if includeChecksum {
		if err := readElement(r, &hdr.checksum); err != nil {
			return nil, err
		}
	}

	// Strip trailing zeros from command string.
	hdr.command = string(bytes.TrimRight(command[:], "\x00"))

	return &hdr, nil
}

// discardInput reads n bytes from reader r in chunks and discards the read
// bytes.  This is used to skip payloads when various errors occur and helps
// prevent rogue nodes from causing massive memory allocation through forging
// header length.
func discardInput(r io.Reader, n uint32) {
	maxSize := uint32(10 * 1024) // 10k at a time
	numReads := n / maxSize
	bytesRemaining := n % maxSize
	if n > 0 {
		buf := make([]byte, maxSize)
		for i := uint32(0); i < numReads; i++ {
			io.ReadFull(r, buf)
		}
	}
	if bytesRemaining > 0 {
		buf := make([]byte, bytesRemaining)
		io.ReadFull(r, buf)
	}
}

// WriteMessageN writes a bitcoin Message to w including the necessary header
// information.  The checksum field is only written when includeChecksum is
// set, which callers control according to the negotiated protocol version.
func WriteMessageN(w io.Writer, msg Message, pver uint32, btcnet BitcoinNet, includeChecksum bool) error {
	var command [CommandSize]byte

	// Enforce max command size.
	cmd := msg.Command()
	if len(cmd) > CommandSize {
		str := fmt.Sprintf("command [%s] is too long [max %v]",
			cmd, CommandSize)
		return messageError("WriteMessage", str)
	}
	copy(command[:], []byte(cmd))

	// Encode the message payload.
	var bw bytes.Buffer
	err := msg.BtcEncode(&bw, pver)
	if err != nil {
		return err
	}
	payload := bw.Bytes()
	lenp := len(payload)

	// Enforce maximum overall message payload.
	if lenp > MaxMessagePayload {
		str := fmt.Sprintf("message payload is too large - encoded "+
			"%d bytes, but maximum message payload is %d bytes",
			lenp, MaxMessagePayload)
		return messageError("WriteMessage", str)
	}

	// Enforce maximum message payload based on the message type.
	mpl := msg.MaxPayloadLength(pver)
	if uint32(lenp) > mpl {
		str := fmt.Sprintf("message payload is too large - encoded "+
			"%d bytes, but maximum message payload size for "+
			"messages of type [%s] is %d", lenp, cmd, mpl)
		return messageError("WriteMessage", str)
	}

	// Write header.
	err = writeElements(w, btcnet, command, uint32(lenp))
	if err != nil {
		return err
	}
	if includeChecksum {
		var checksum [4]byte
		copy(checksum[:], chainhash.DoubleHashB(payload)[0:4])
		if err := writeElement(w, checksum); err != nil {
			return err
		}
	}

	// Write payload.
	_, err = w.Write(payload)
	return err
}

// WriteMessage writes a bitcoin Message to w including the necessary header
// information with the checksum field present.  This is the form used for
// all traffic after the version handshake has negotiated protocol version
// 209 or better.
func WriteMessage(w io.Writer, msg Message, pver uint32, btcnet BitcoinNet) error {
	return WriteMessageN(w, msg, pver, btcnet, true)
}

// ReadMessageN reads, validates, and parses the next bitcoin Message from r
// for the provided protocol version and bitcoin network.  The checksum field
// is only expected on the wire when includeChecksum is set; when it is set
// the payload is verified against it before being handed to the typed
// parser.  It returns the parsed Message and the raw payload bytes.
//
// An unrecognized command consumes its payload from the stream and returns
// an error matching ErrUnknownCommand so callers can log and continue.
func ReadMessageN(r io.Reader, pver uint32, btcnet BitcoinNet, includeChecksum bool) (Message, []byte, error) {
	hdr, err := readMessageHeader(r, includeChecksum)
	if err != nil {
		return nil, nil, err
	}

	// Enforce maximum message payload.
	if hdr.length > MaxMessagePayload {
		str := fmt.Sprintf("message payload is too large - header "+
			"indicates %d bytes, but max message payload is %d "+
			"bytes", hdr.length, MaxMessagePayload)
		return nil, nil, messageError("ReadMessage", str)
	}

	// Check for messages from the wrong bitcoin network.  This is fatal
	// to the connection: the stream cannot be trusted past this point.
	if hdr.magic != btcnet {
		str := fmt.Sprintf("message from other network [%v]", hdr.magic)
		return nil, nil, messageError("ReadMessage", str)
	}

	// Check for malformed commands.
	command := hdr.command
	if !utf8.ValidString(command) {
		discardInput(r, hdr.length)
		str := fmt.Sprintf("invalid command %v", []byte(command))
		return nil, nil, messageError("ReadMessage", str)
	}

	// Create struct of appropriate message type based on the command.
	msg, err := makeEmptyMessage(command)
	if err != nil {
		discardInput(r, hdr.length)
		return nil, nil, err
	}

	// Check for maximum length based on the message type as a malicious
	// client could otherwise create a well-formed header and set the
	// length to max numbers in order to exhaust the machine's memory.
	mpl := msg.MaxPayloadLength(pver)
	if hdr.length > mpl {
		discardInput(r, hdr.length)
		str := fmt.Sprintf("payload exceeds max length - header "+
			"indicates %v bytes, but max payload size for "+
			"messages of type [%v] is %v", hdr.length, command, mpl)
		return nil, nil, messageError("ReadMessage", str)
	}

	// Read payload.
	payload := make([]byte, hdr.length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, nil, err
	}

	// Test checksum.
	if includeChecksum {
		checksum := chainhash.DoubleHashB(payload)[0:4]
		if !bytes.Equal(checksum, hdr.checksum[:]) {
			str := fmt.Sprintf("payload checksum failed - header "+
				"indicates %v, but actual checksum is %v",
				hdr.checksum, checksum)
			return nil, nil, messageError("ReadMessage", str)
		}
	}

	// Unmarshal message.
	pr := bytes.NewBuffer(payload)
	if err := msg.BtcDecode(pr, pver); err != nil {
		return nil, nil, err
	}

	return msg, payload, nil
}

// ReadMessage reads, validates, and parses the next bitcoin Message from r
// with the checksum field expected on the wire.
func ReadMessage(r io.Reader, pver uint32, btcnet BitcoinNet) (Message, []byte, error) {
	return ReadMessageN(r, pver, btcnet, true)
}
