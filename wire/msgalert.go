// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2024 The btclite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wire

import (
	"io"
)

// MsgAlert implements the Message interface and defines a bitcoin alert
// message.
//
// This is a signed message that provides notifications that the client
// should display if the signature matches the key.  The serialized payload
// is carried opaque; this client propagates alerts to its listeners and does
// not act on them.
type MsgAlert struct {
	// SerializedPayload is the alert payload serialized as a string so
	// that the version can change but the Alert can still be passed on by
	// older clients.
	SerializedPayload []byte

	// Signature is the ECDSA signature of the message.
	Signature []byte
}

// BtcDecode decodes r using the bitcoin protocol encoding into the receiver.
// This is part of the Message interface implementation.
func (msg *MsgAlert) BtcDecode(r io.Reader, pver uint32) error {
	var err error
	msg.SerializedPayload, err = ReadVarBytes(r, MaxMessagePayload,
		"alert serialized payload")
	if err != nil {
		return err
	}

	msg.Signature, err = ReadVarBytes(r, MaxMessagePayload,
		"alert signature")
	return err
}

// BtcEncode encodes the receiver to w using the bitcoin protocol encoding.
// This is part of the Message interface implementation.
func (msg *MsgAlert) BtcEncode(w io.Writer, pver uint32) error {
	err := WriteVarBytes(w, msg.SerializedPayload)
	if err != nil {
		return err
	}

	return WriteVarBytes(w, msg.Signature)
}

// Command returns the protocol command string for the message.  This is part
// of the Message interface implementation.
func (msg *MsgAlert) Command() string {
	return CmdAlert
}

// MaxPayloadLength returns the maximum length the payload can be for the
// receiver.  This is part of the Message interface implementation.
func (msg *MsgAlert) MaxPayloadLength(pver uint32) uint32 {
	// Since this can vary depending on the message, make it the max
	// size allowed.
	return MaxMessagePayload
}

// NewMsgAlert returns a new bitcoin alert message that conforms to the
// Message interface.  See MsgAlert for details.
func NewMsgAlert(serializedPayload []byte, signature []byte) *MsgAlert {
	return &MsgAlert{
		SerializedPayload: serializedPayload,
		Signature:         signature,
	}
}
