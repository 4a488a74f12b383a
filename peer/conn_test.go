// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2024 The btclite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package peer

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/btclite/btclite/chaincfg"
	"github.com/btclite/btclite/wire"
)

// mockPeerCfg describes the remote node a test pretends to be.
type mockPeerCfg struct {
	protocolVersion int32
	services        wire.ServiceFlag
	lastBlock       int32
}

// fullNodeMock is a remote peer that looks like an ordinary full node of the
// era.
var fullNodeMock = mockPeerCfg{
	protocolVersion: 60002,
	services:        wire.SFNodeNetwork,
	lastBlock:       42,
}

// serveMockPeer performs the remote side of the version handshake on conn
// and then keeps reading messages, forwarding each to msgs when it is not
// nil.  It returns silently on any error since the local side of the test
// closes connections as part of normal teardown.
func serveMockPeer(conn net.Conn, params *chaincfg.Params, cfg mockPeerCfg, msgs chan<- wire.Message) {
	defer conn.Close()
	pver := wire.ProtocolVersion

	// Read the client's version, sent without a checksum.
	if _, _, err := wire.ReadMessageN(conn, pver, params.Net, false); err != nil {
		return
	}

	// Answer with our own version, also without a checksum.
	ver := &wire.MsgVersion{
		ProtocolVersion: cfg.protocolVersion,
		Services:        cfg.services,
		Timestamp:       time.Unix(time.Now().Unix(), 0),
		Nonce:           1,
		UserAgent:       "/mock:0.1/",
		LastBlock:       cfg.lastBlock,
	}
	if err := wire.WriteMessageN(conn, ver, pver, params.Net, false); err != nil {
		return
	}

	// Once the version exchange is over, checksumming is on for peers
	// advertising protocol version 209 or better.
	checksum := cfg.protocolVersion >= int32(wire.MultipleAddressVersion)

	if _, _, err := wire.ReadMessageN(conn, pver, params.Net, checksum); err != nil {
		return
	}
	if err := wire.WriteMessageN(conn, wire.NewMsgVerAck(), pver, params.Net, checksum); err != nil {
		return
	}

	for {
		msg, _, err := wire.ReadMessageN(conn, pver, params.Net, checksum)
		if err != nil {
			return
		}
		if msgs != nil {
			msgs <- msg
		}
	}
}

// testConnConfig returns a connection config suitable for pipe-backed tests.
func testConnConfig() *ConnConfig {
	return &ConnConfig{
		Params:     &chaincfg.RegressionNetParams,
		BestHeight: 0,
		Timeout:    5 * time.Second,
	}
}

// TestHandshake verifies the four-message handshake against a modern peer:
// version without checksum in both directions, then veracks, after which the
// connection reports checksumming enabled.
func TestHandshake(t *testing.T) {
	client, server := net.Pipe()
	go serveMockPeer(server, &chaincfg.RegressionNetParams, fullNodeMock, nil)

	conn, err := NewConn(client, testConnConfig())
	require.NoError(t, err)
	defer conn.Shutdown()

	require.True(t, conn.Checksumming())
	require.Equal(t, wire.ProtocolVersion, conn.ProtocolVersion())
	require.Equal(t, int32(42), conn.PeerVersion().LastBlock)
	require.Equal(t, int32(60002), conn.PeerVersion().ProtocolVersion)
}

// TestHandshakeAncientPeer verifies that a peer below protocol version 209
// leaves the connection without checksums.
func TestHandshakeAncientPeer(t *testing.T) {
	client, server := net.Pipe()
	ancient := mockPeerCfg{
		protocolVersion: 208,
		services:        wire.SFNodeNetwork,
		lastBlock:       0,
	}
	go serveMockPeer(server, &chaincfg.RegressionNetParams, ancient, nil)

	conn, err := NewConn(client, testConnConfig())
	require.NoError(t, err)
	defer conn.Shutdown()

	require.False(t, conn.Checksumming())
	require.Equal(t, uint32(208), conn.ProtocolVersion())
}

// TestHandshakeNoChainService verifies that a peer which does not carry the
// block chain is rejected during the handshake.
func TestHandshakeNoChainService(t *testing.T) {
	client, server := net.Pipe()
	chainless := mockPeerCfg{
		protocolVersion: 60002,
		services:        0,
		lastBlock:       0,
	}
	go serveMockPeer(server, &chaincfg.RegressionNetParams, chainless, nil)

	_, err := NewConn(client, testConnConfig())
	require.Error(t, err)

	msgErr, ok := err.(*wire.MessageError)
	require.True(t, ok, "expected *wire.MessageError, got %T", err)
	require.Equal(t, "Peer does not have a copy of the block chain",
		msgErr.Description)
}

// TestConcurrentWrites verifies that messages written from many goroutines
// never interleave on the wire: the remote side must be able to parse every
// one of them.
func TestConcurrentWrites(t *testing.T) {
	const numWriters = 10
	const msgsPerWriter = 20

	client, server := net.Pipe()
	msgs := make(chan wire.Message, numWriters*msgsPerWriter)
	go serveMockPeer(server, &chaincfg.RegressionNetParams, fullNodeMock,
		msgs)

	conn, err := NewConn(client, testConnConfig())
	require.NoError(t, err)
	defer conn.Shutdown()

	var wg sync.WaitGroup
	for i := 0; i < numWriters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < msgsPerWriter; j++ {
				if err := conn.WriteMessage(wire.NewMsgPing(0)); err != nil {
					t.Errorf("WriteMessage: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	// Every message must arrive whole; a single interleaved write would
	// have broken the remote parser and closed the stream.
	for i := 0; i < numWriters*msgsPerWriter; i++ {
		select {
		case msg := <-msgs:
			require.IsType(t, &wire.MsgPing{}, msg)
		case <-time.After(5 * time.Second):
			t.Fatalf("only %d of %d messages arrived", i,
				numWriters*msgsPerWriter)
		}
	}
}

// TestFutureSingleFire verifies the single-fire semantics of a getdata
// future.
func TestFutureSingleFire(t *testing.T) {
	iv := wire.NewInvVect(wire.InvTypeTx, &zeroHash)
	future := newFuture(iv)

	go func() {
		future.complete(wire.NewMsgPing(1), nil)
		// The second completion must be a no-op.
		future.complete(wire.NewMsgPing(2), nil)
	}()

	msg, err := future.Result()
	require.NoError(t, err)
	require.Equal(t, uint64(1), msg.(*wire.MsgPing).Nonce)

	// Result is idempotent.
	msg, err = future.Result()
	require.NoError(t, err)
	require.Equal(t, uint64(1), msg.(*wire.MsgPing).Nonce)
}

// TestFutureWakeOnDisconnect verifies that disconnecting a peer wakes every
// pending getdata waiter with ErrDisconnected.
func TestFutureWakeOnDisconnect(t *testing.T) {
	params := &chaincfg.RegressionNetParams

	dial := func(network, addr string) (net.Conn, error) {
		client, server := net.Pipe()
		go serveMockPeer(server, params, fullNodeMock, nil)
		return client, nil
	}

	addr := wire.NewNetAddressIPPort(net.IPv4(127, 0, 0, 1), 18444, 0)
	p := New(addr, &Config{
		Params:  params,
		Timeout: 5 * time.Second,
		Dial:    dial,
	})
	require.NoError(t, p.Connect())

	iv := wire.NewInvVect(wire.InvTypeTx, &zeroHash)
	future, err := p.RequestData(iv)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := future.Result()
		done <- err
	}()

	p.Disconnect()

	select {
	case err := <-done:
		require.ErrorIs(t, err, ErrDisconnected)
	case <-time.After(5 * time.Second):
		t.Fatal("future waiter was not woken by disconnect")
	}
	require.Equal(t, StateDisconnected, p.State())
}
