// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2024 The btclite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package peer

import (
	"sync"

	"github.com/btclite/btclite/wire"
)

// Future is a single-fire holder for the result of a getdata request.  The
// network reader goroutine completes it when the matching block or
// transaction arrives; any number of goroutines may block in Result waiting
// for that.  Disconnecting the peer completes every pending future with
// ErrDisconnected so no waiter is stranded.
type Future struct {
	iv   wire.InvVect
	once sync.Once
	done chan struct{}
	msg  wire.Message
	err  error
}

// newFuture returns a pending future for the passed inventory item.
func newFuture(iv *wire.InvVect) *Future {
	return &Future{
		iv:   *iv,
		done: make(chan struct{}),
	}
}

// complete delivers the result.  Only the first call has any effect;
// completion happens-before any Result return.
func (f *Future) complete(msg wire.Message, err error) {
	f.once.Do(func() {
		f.msg = msg
		f.err = err
		close(f.done)
	})
}

// InvVect returns the inventory item the future was created for.
func (f *Future) InvVect() wire.InvVect {
	return f.iv
}

// Result blocks until the future completes and returns the delivered
// message, or the error the future was failed with.
func (f *Future) Result() (wire.Message, error) {
	<-f.done
	return f.msg, f.err
}

// Done returns a channel that is closed once the future has completed, for
// callers that want to select on it.
func (f *Future) Done() <-chan struct{} {
	return f.done
}
