// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2024 The btclite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wire

import (
	"errors"
	"fmt"
)

// ErrUnknownCommand identifies a message header carrying a command this
// package has no parser for.  Callers that want to tolerate unknown messages
// should test for it with errors.Is and continue reading; the offending
// payload has already been consumed from the stream.
var ErrUnknownCommand = errors.New("unknown command")

// MessageError describes an issue with a message such as a malformed header,
// a checksum mismatch, or a payload that violates the format of its command.
// It corresponds to a wire protocol violation as opposed to an I/O failure on
// the underlying connection.
type MessageError struct {
	Func        string // Function name
	Description string // Human readable description of the issue
}

// Error satisfies the error interface and prints human-readable errors.
func (e *MessageError) Error() string {
	if e.Func != "" {
		return fmt.Sprintf("%v: %v", e.Func, e.Description)
	}
	return e.Description
}

// messageError creates an error for the given function and description.
func messageError(f string, desc string) *MessageError {
	return &MessageError{Func: f, Description: desc}
}
