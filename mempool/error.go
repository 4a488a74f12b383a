// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2024 The btclite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mempool

import "errors"

// ErrWrongLevel is returned when a level-specific confidence field is read
// while the confidence is at a level that does not define it, such as asking
// for the chain height of a transaction that has never been seen in a block.
var ErrWrongLevel = errors.New("confidence field is not valid at the current level")
