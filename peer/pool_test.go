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

	"github.com/btclite/btclite/blockchain"
	"github.com/btclite/btclite/chaincfg"
	"github.com/btclite/btclite/wire"
)

// mockNetwork hands every dialed address an in-memory connection served by a
// mock full node, and remembers the server side so tests can kill specific
// links.
type mockNetwork struct {
	t      *testing.T
	params *chaincfg.Params

	mtx   sync.Mutex
	conns map[string]net.Conn

	// getBlocks receives the dialed address every time the mock node
	// behind it is asked for blocks.
	getBlocks chan string
}

func newMockNetwork(t *testing.T, params *chaincfg.Params) *mockNetwork {
	return &mockNetwork{
		t:         t,
		params:    params,
		conns:     make(map[string]net.Conn),
		getBlocks: make(chan string, 16),
	}
}

// dial is the injected dial function.
func (m *mockNetwork) dial(network, addr string) (net.Conn, error) {
	client, server := net.Pipe()
	m.mtx.Lock()
	m.conns[addr] = server
	m.mtx.Unlock()

	go m.serve(server, addr)
	return client, nil
}

// serve runs a mock full node that answers the handshake and watches for
// getblocks requests.
func (m *mockNetwork) serve(conn net.Conn, addr string) {
	msgs := make(chan wire.Message, 16)
	go func() {
		for msg := range msgs {
			if _, ok := msg.(*wire.MsgGetBlocks); ok {
				m.getBlocks <- addr
			}
		}
	}()
	defer close(msgs)
	serveMockPeer(conn, m.params, mockPeerCfg{
		protocolVersion: 60002,
		services:        wire.SFNodeNetwork,
		lastBlock:       5,
	}, msgs)
}

// kill closes the server side of the link to the passed address, simulating
// a peer whose socket died.
func (m *mockNetwork) kill(addr string) {
	m.mtx.Lock()
	conn := m.conns[addr]
	m.mtx.Unlock()
	if conn != nil {
		conn.Close()
	}
}

// waitAddr waits for the next getblocks notification.
func (m *mockNetwork) waitAddr() string {
	select {
	case addr := <-m.getBlocks:
		return addr
	case <-time.After(10 * time.Second):
		m.t.Fatal("timed out waiting for getblocks")
		return ""
	}
}

// TestPoolDownloadPeerReelection runs the full re-election scenario: two
// connected peers, the download peer's socket dies, and the pool elects the
// survivor and restarts the download on it.
func TestPoolDownloadPeerReelection(t *testing.T) {
	params := &chaincfg.RegressionNetParams
	store := blockchain.NewMemoryStore(params)
	chain, err := blockchain.New(&blockchain.Config{
		Store:  store,
		Params: params,
	})
	require.NoError(t, err)

	network := newMockNetwork(t, params)

	static, err := NewStaticDiscovery("127.0.0.1:18444", "127.0.0.2:18444")
	require.NoError(t, err)

	connected := make(chan int, 16)
	var eventMtx sync.Mutex
	var disconnects []int

	pool := NewPool(&PoolConfig{
		Params:         params,
		Chain:          chain,
		Store:          store,
		Discoverers:    []Discovery{static},
		MaxConnections: 2,
		TickInterval:   25 * time.Millisecond,
		Timeout:        -1, // The mock peers are silent; no read deadlines.
		Dial:           network.dial,
		Listeners: PoolListeners{
			OnPeerConnected: func(count int) {
				connected <- count
			},
			OnPeerDisconnected: func(count int) {
				eventMtx.Lock()
				disconnects = append(disconnects, count)
				eventMtx.Unlock()
			},
		},
	})

	pool.StartBlockChainDownload()
	pool.Start()
	defer func() {
		pool.Stop()
		pool.Wait()
	}()

	// Both peers come up.
	for i := 0; i < 2; i++ {
		select {
		case <-connected:
		case <-time.After(10 * time.Second):
			t.Fatal("timed out waiting for peers to connect")
		}
	}
	require.Equal(t, 2, pool.PeerCount())

	// The first connected peer was elected and asked for blocks.
	electedAddr := network.waitAddr()
	downloadPeer := pool.DownloadPeer()
	require.NotNil(t, downloadPeer)
	require.Equal(t, electedAddr, downloadPeer.String())

	// Kill the elected peer's socket.
	network.kill(electedAddr)

	// The survivor is elected and issues a fresh getblocks.
	replacementAddr := network.waitAddr()
	require.NotEqual(t, electedAddr, replacementAddr)

	// The pool converges on the replacement as the download peer.
	require.Eventually(t, func() bool {
		dp := pool.DownloadPeer()
		return dp != nil && dp.String() == replacementAddr
	}, 10*time.Second, 10*time.Millisecond)

	// Exactly one disconnect event fired, with one peer remaining.
	require.Eventually(t, func() bool {
		eventMtx.Lock()
		defer eventMtx.Unlock()
		return len(disconnects) == 1
	}, 10*time.Second, 10*time.Millisecond)

	eventMtx.Lock()
	require.Equal(t, []int{1}, disconnects)
	eventMtx.Unlock()
}

// TestPoolBroadcastTransaction verifies the at-least-one-peer semantics of
// a pool-wide transaction broadcast.
func TestPoolBroadcastTransaction(t *testing.T) {
	params := &chaincfg.RegressionNetParams
	store := blockchain.NewMemoryStore(params)
	chain, err := blockchain.New(&blockchain.Config{
		Store:  store,
		Params: params,
	})
	require.NoError(t, err)

	network := newMockNetwork(t, params)

	static, err := NewStaticDiscovery("127.0.0.1:18444")
	require.NoError(t, err)

	connected := make(chan int, 16)
	pool := NewPool(&PoolConfig{
		Params:         params,
		Chain:          chain,
		Store:          store,
		Discoverers:    []Discovery{static},
		MaxConnections: 1,
		TickInterval:   25 * time.Millisecond,
		Timeout:        -1, // The mock peers are silent; no read deadlines.
		Dial:           network.dial,
		Listeners: PoolListeners{
			OnPeerConnected: func(count int) {
				connected <- count
			},
		},
	})

	tx := wire.NewMsgTx()
	tx.AddTxOut(&wire.TxOut{Value: 1, PkScript: []byte{0x51}})

	// No peers yet: the broadcast reaches nobody.
	require.False(t, pool.BroadcastTransaction(tx))

	pool.Start()
	defer func() {
		pool.Stop()
		pool.Wait()
	}()

	select {
	case <-connected:
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for peer to connect")
	}

	require.True(t, pool.BroadcastTransaction(tx))
}

// TestPoolStop verifies that stopping the pool cancels the workers and
// that Wait observes their exit.
func TestPoolStop(t *testing.T) {
	params := &chaincfg.RegressionNetParams
	store := blockchain.NewMemoryStore(params)
	chain, err := blockchain.New(&blockchain.Config{
		Store:  store,
		Params: params,
	})
	require.NoError(t, err)

	network := newMockNetwork(t, params)
	static, err := NewStaticDiscovery("127.0.0.1:18444")
	require.NoError(t, err)

	connected := make(chan int, 16)
	pool := NewPool(&PoolConfig{
		Params:         params,
		Chain:          chain,
		Store:          store,
		Discoverers:    []Discovery{static},
		MaxConnections: 1,
		TickInterval:   25 * time.Millisecond,
		Timeout:        -1, // The mock peers are silent; no read deadlines.
		Dial:           network.dial,
		Listeners: PoolListeners{
			OnPeerConnected: func(count int) {
				connected <- count
			},
		},
	})

	pool.Start()
	select {
	case <-connected:
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for peer to connect")
	}

	pool.Stop()

	waited := make(chan struct{})
	go func() {
		pool.Wait()
		close(waited)
	}()

	select {
	case <-waited:
	case <-time.After(10 * time.Second):
		t.Fatal("workers did not exit after Stop")
	}
	require.Equal(t, 0, pool.PeerCount())
}
