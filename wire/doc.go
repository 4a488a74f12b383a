// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2024 The btclite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

/*
Package wire implements the bitcoin wire protocol.

For the complete details of the bitcoin protocol, see the official wiki entry
at https://en.bitcoin.it/wiki/Protocol_specification.

# Bitcoin Messages

At a high level, this package provides support for marshalling and
unmarshalling supported bitcoin messages to and from the wire.  This package
is one of the core packages from which all other packages are built.

# Message Framing

Every message has the following framing on the wire:

	magic (4 bytes) | command (12 bytes) | length (4 bytes) |
	checksum (4 bytes, conditional) | payload

The checksum field is the first four bytes of the double sha256 of the
payload.  It is absent during the version handshake and only present once
the connection has negotiated protocol version 209 or better, which callers
express through the includeChecksum parameter of ReadMessageN and
WriteMessageN.

# Errors

Errors returned by this package are either the raw errors provided by
underlying calls to read/write from streams such as io.EOF, io.ErrUnexpectedEOF
and io.ErrShortWrite, or of type wire.MessageError.  This allows the caller to
differentiate between general I/O errors and malformed messages through type
assertions.
*/
package wire
