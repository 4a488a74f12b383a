// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2024 The btclite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"errors"
	"fmt"
)

// ErrBlockNotFound indicates a requested block does not exist in the store.
var ErrBlockNotFound = errors.New("block not found")

// RuleError identifies a rule violation.  It is used to indicate that
// processing of a block failed due to one of the many validation
// rules.  The caller can use type assertions to determine if a failure was
// specifically due to a rule violation.
type RuleError struct {
	Description string // Human readable description of the issue
}

// Error satisfies the error interface and prints human-readable errors.
func (e RuleError) Error() string {
	return e.Description
}

// ruleError creates a RuleError given a description.
func ruleError(desc string) RuleError {
	return RuleError{Description: desc}
}

// StoreError provides a single type for errors that can happen during block
// store operation.  It is as fatal as errors get in this module: the peer
// pool treats it as a reason to stop running entirely.
type StoreError struct {
	Description string // Human readable description of the issue
	Err         error  // Underlying error, optional
}

// Error satisfies the error interface and prints human-readable errors.
func (e StoreError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Description, e.Err)
	}
	return e.Description
}

// Unwrap returns the underlying error, if any.
func (e StoreError) Unwrap() error {
	return e.Err
}

// storeError creates a StoreError given a description and underlying error.
func storeError(desc string, err error) StoreError {
	return StoreError{Description: desc, Err: err}
}

// IsStoreError returns whether err is or wraps a StoreError.
func IsStoreError(err error) bool {
	var serr StoreError
	return errors.As(err, &serr)
}
