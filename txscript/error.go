// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2024 The btclite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package txscript

import (
	"errors"
	"fmt"
)

// ErrorCode identifies a kind of script error.
type ErrorCode int

// These constants are used to identify a specific Error.
const (
	// ErrMalformedPush is returned when a data push opcode declares more
	// bytes than remain in the program.
	ErrMalformedPush ErrorCode = iota

	// ErrScriptTooBig is returned when a program exceeds the maximum
	// allowed length.
	ErrScriptTooBig

	// ErrInvalidStackOperation is returned when a script operation
	// attempts to access the stack beyond its current size.
	ErrInvalidStackOperation

	// ErrStackOverflow is returned when the combined depth of the data
	// and alternate stacks exceeds the maximum allowed.
	ErrStackOverflow

	// ErrElementTooBig is returned when the size of a pushed element
	// exceeds the maximum allowed.
	ErrElementTooBig

	// ErrTooManyOperations is returned when a script has more than the
	// maximum allowed number of non-push operations.
	ErrTooManyOperations

	// ErrNumberTooBig is returned when the argument for an opcode that
	// expects numeric input is larger than the expected maximum number of
	// bytes.
	ErrNumberTooBig

	// ErrDisabledOpcode is returned when a disabled opcode is encountered
	// in a script, whether or not it would have been executed.
	ErrDisabledOpcode

	// ErrReservedOpcode is returned when an opcode marked as reserved is
	// executed, or when OP_VERIF or OP_VERNOTIF appear in a script at
	// all.
	ErrReservedOpcode

	// ErrUnbalancedConditional is returned when an OP_ELSE or OP_ENDIF is
	// encountered without first having an OP_IF or OP_NOTIF, or when an
	// OP_IF or OP_NOTIF was not terminated by the end of the script.
	ErrUnbalancedConditional

	// ErrEarlyReturn is returned when OP_RETURN is executed in a script.
	ErrEarlyReturn

	// ErrVerify is returned when OP_VERIFY is encountered in a script and
	// the top item on the data stack does not evaluate to true.
	ErrVerify

	// ErrEqualVerify is returned when OP_EQUALVERIFY is encountered in a
	// script and the top items on the data stack are not equal.
	ErrEqualVerify

	// ErrCheckSigVerify is returned when OP_CHECKSIGVERIFY is encountered
	// in a script and the signature check fails.
	ErrCheckSigVerify

	// ErrCheckMultiSigVerify is returned when OP_CHECKMULTISIGVERIFY is
	// encountered in a script and the signature checks fail.
	ErrCheckMultiSigVerify

	// ErrPubKeyCount is returned when the number of public keys specified
	// for a multisig is either negative or greater than the maximum
	// allowed.
	ErrPubKeyCount

	// ErrSigCount is returned when the number of signatures specified for
	// a multisig is either negative or greater than the number of public
	// keys.
	ErrSigCount

	// ErrEvalFalse is returned when the script evaluated without error
	// but terminated with a false top stack element.
	ErrEvalFalse

	// ErrEmptyStack is returned when the script evaluated without error
	// but terminated with an empty stack.
	ErrEmptyStack

	// ErrP2SHNonPushOnly is returned when a pay-to-script-hash signature
	// script contains opcodes other than data pushes.
	ErrP2SHNonPushOnly

	// ErrInvalidIndex is returned when an out-of-bounds index was passed
	// to a function.
	ErrInvalidIndex
)

// Map of ErrorCode values back to their constant names for pretty printing.
var errorCodeStrings = map[ErrorCode]string{
	ErrMalformedPush:         "ErrMalformedPush",
	ErrScriptTooBig:          "ErrScriptTooBig",
	ErrInvalidStackOperation: "ErrInvalidStackOperation",
	ErrStackOverflow:         "ErrStackOverflow",
	ErrElementTooBig:         "ErrElementTooBig",
	ErrTooManyOperations:     "ErrTooManyOperations",
	ErrNumberTooBig:          "ErrNumberTooBig",
	ErrDisabledOpcode:        "ErrDisabledOpcode",
	ErrReservedOpcode:        "ErrReservedOpcode",
	ErrUnbalancedConditional: "ErrUnbalancedConditional",
	ErrEarlyReturn:           "ErrEarlyReturn",
	ErrVerify:                "ErrVerify",
	ErrEqualVerify:           "ErrEqualVerify",
	ErrCheckSigVerify:        "ErrCheckSigVerify",
	ErrCheckMultiSigVerify:   "ErrCheckMultiSigVerify",
	ErrPubKeyCount:           "ErrPubKeyCount",
	ErrSigCount:              "ErrSigCount",
	ErrEvalFalse:             "ErrEvalFalse",
	ErrEmptyStack:            "ErrEmptyStack",
	ErrP2SHNonPushOnly:       "ErrP2SHNonPushOnly",
	ErrInvalidIndex:          "ErrInvalidIndex",
}

// String returns the ErrorCode as a human-readable name.
func (e ErrorCode) String() string {
	if s := errorCodeStrings[e]; s != "" {
		return s
	}
	return fmt.Sprintf("Unknown ErrorCode (%d)", int(e))
}

// Error identifies a script-related error.  It is used to indicate three
// classes of errors:
//  1. Script execution failures due to violating one of the many requirements
//     imposed by the script engine or evaluating to false
//  2. Improperly formatted scripts
//  3. Invalid parameters to functions
//
// The caller can use type assertions to determine if an error is an Error and
// access the ErrorCode field to ascertain the specific reason for the
// failure.
type Error struct {
	ErrorCode   ErrorCode
	Description string
}

// Error satisfies the error interface and prints human-readable errors.
func (e Error) Error() string {
	return e.Description
}

// scriptError creates an Error given a set of arguments.
func scriptError(c ErrorCode, desc string) Error {
	return Error{ErrorCode: c, Description: desc}
}

// IsErrorCode returns whether or not the provided error is a script error
// with the provided error code.
func IsErrorCode(err error, c ErrorCode) bool {
	var serr Error
	if errors.As(err, &serr) {
		return serr.ErrorCode == c
	}
	return false
}
