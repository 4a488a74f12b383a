// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2024 The btclite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package peer

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/davecgh/go-spew/spew"
	"github.com/decred/dcrd/lru"

	"github.com/btclite/btclite/blockchain"
	"github.com/btclite/btclite/chaincfg"
	"github.com/btclite/btclite/mempool"
	"github.com/btclite/btclite/wire"
)

// maxKnownInventory is the maximum number of items to keep in the known
// inventory cache.
const maxKnownInventory = 1000

// zeroHash is the zero value hash (all zeros).  It is used as the stop hash
// in getblocks requests that want as many blocks as the peer will give.
var zeroHash chainhash.Hash

// State identifies the lifecycle state of a peer session.
type State int32

// The states a peer session moves through.  Downloading is a sub-state of
// Running that is active only while the peer is the elected download peer;
// it is tracked separately from the lifecycle state.
const (
	StateInitial State = iota
	StateConnecting
	StateHandshaking
	StateRunning
	StateDisconnected
)

// stateStrings maps peer states back to their constant names for pretty
// printing.
var stateStrings = map[State]string{
	StateInitial:      "Initial",
	StateConnecting:   "Connecting",
	StateHandshaking:  "Handshaking",
	StateRunning:      "Running",
	StateDisconnected: "Disconnected",
}

// String returns the State in human-readable form.
func (s State) String() string {
	if str, ok := stateStrings[s]; ok {
		return str
	}
	return fmt.Sprintf("Unknown State (%d)", int32(s))
}

// Listeners groups the callbacks a peer invokes for inbound events.  All
// callbacks are optional and are invoked from the peer's reader goroutine,
// so they must not block for long.
type Listeners struct {
	// OnBlocksDownloaded is invoked when a block has been handed to the
	// chain, along with the estimated number of blocks still to come
	// from this peer.
	OnBlocksDownloaded func(p *Peer, block *wire.MsgBlock, blocksLeft int32)

	// OnTx is invoked when the peer relays a transaction.
	OnTx func(p *Peer, tx *wire.MsgTx)

	// OnAddr is invoked when the peer sends known active peers.
	OnAddr func(p *Peer, msg *wire.MsgAddr)

	// OnHeaders is invoked when the peer answers a getheaders request.
	OnHeaders func(p *Peer, msg *wire.MsgHeaders)

	// OnAlert is invoked when the peer relays a network alert.
	OnAlert func(p *Peer, msg *wire.MsgAlert)
}

// Config is the configuration shared by the peer sessions of a pool.
type Config struct {
	// Params identifies the network the peers speak.  It is required.
	Params *chaincfg.Params

	// Chain receives downloaded blocks.  It is required for block
	// download.
	Chain *blockchain.Chain

	// Store provides the chain head that block download starts from.  It
	// is required for block download.
	Store blockchain.BlockStore

	// TxTable tracks the confidence of relayed transactions.  Optional.
	TxTable *mempool.TxTable

	// Listeners carries the event callbacks.  Optional.
	Listeners Listeners

	// UserAgent, Services, Timeout, and Dial configure the underlying
	// network connection; see ConnConfig.
	UserAgent string
	Services  wire.ServiceFlag
	Timeout   time.Duration
	Dial      func(network, addr string) (net.Conn, error)
}

// Peer is one session with one remote peer.  The pool constructs a peer,
// calls Connect, and then Run on a worker goroutine; Run blocks reading
// messages until the peer dies or is cancelled.  All exported methods are
// safe for concurrent access.
type Peer struct {
	cfg  *Config
	addr *wire.NetAddress

	state int32 // atomic; stores a State

	connMtx sync.Mutex
	conn    *Conn

	// knownInventory caches the inventory announced by or to this peer
	// so repeated announcements do not trigger repeated getdata
	// requests.
	knownInventory lru.Cache

	// pendingGetData holds the in-flight getdata requests indexed by
	// inventory item.  The reader goroutine completes them; Disconnect
	// fails whatever is left.
	pendingMtx     sync.Mutex
	pendingGetData map[wire.InvVect]*Future

	// announced holds transactions this client has offered to the remote
	// peer via inv, keyed by hash, to be served on getdata.
	announcedMtx sync.Mutex
	announced    map[chainhash.Hash]*wire.MsgTx

	// downloading is non-zero while this peer is the elected download
	// peer.
	downloading int32

	// blocksLeft estimates the number of blocks still to download from
	// this peer.
	blocksLeft int32

	quit           chan struct{}
	disconnectOnce sync.Once
}

// New returns a peer session for the passed address.  The session does
// nothing until Connect and Run are called.
func New(addr *wire.NetAddress, cfg *Config) *Peer {
	return &Peer{
		cfg:            cfg,
		addr:           addr,
		state:          int32(StateInitial),
		knownInventory: lru.NewCache(maxKnownInventory),
		pendingGetData: make(map[wire.InvVect]*Future),
		announced:      make(map[chainhash.Hash]*wire.MsgTx),
		quit:           make(chan struct{}),
	}
}

// Addr returns the address of the remote peer.
func (p *Peer) Addr() *wire.NetAddress {
	return p.addr
}

// State returns the current lifecycle state of the session.
func (p *Peer) State() State {
	return State(atomic.LoadInt32(&p.state))
}

func (p *Peer) setState(s State) {
	atomic.StoreInt32(&p.state, int32(s))
}

// String returns the peer address in human-readable form.
func (p *Peer) String() string {
	return p.addr.String()
}

// Connect establishes and handshakes the network connection.  A store
// failure while reading our best height is returned unchanged so the caller
// can recognize it as fatal; everything else is wrapped in *Error.
func (p *Peer) Connect() error {
	p.setState(StateConnecting)

	var bestHeight int32
	if p.cfg.Store != nil {
		head, err := p.cfg.Store.ChainHead()
		if err != nil {
			p.setState(StateDisconnected)
			return err
		}
		bestHeight = head.Height
	}

	p.setState(StateHandshaking)
	conn, err := Dial(p.addr, &ConnConfig{
		Params:     p.cfg.Params,
		BestHeight: bestHeight,
		UserAgent:  p.cfg.UserAgent,
		Services:   p.cfg.Services,
		Timeout:    p.cfg.Timeout,
		Dial:       p.cfg.Dial,
	})
	if err != nil {
		p.setState(StateDisconnected)
		return peerError("connect", err)
	}

	p.connMtx.Lock()
	p.conn = conn
	p.connMtx.Unlock()

	// A disconnect may have raced the dial; make sure the socket does
	// not leak in that case.
	select {
	case <-p.quit:
		conn.Shutdown()
		return peerError("connect", ErrDisconnected)
	default:
	}

	p.setState(StateRunning)
	log.Debugf("Connected to %s (pver %d, user agent %q, height %d)",
		p.addr, conn.ProtocolVersion(), conn.PeerVersion().UserAgent,
		conn.PeerVersion().LastBlock)
	return nil
}

// Conn returns the underlying network connection, or nil before Connect.
func (p *Peer) Conn() *Conn {
	p.connMtx.Lock()
	defer p.connMtx.Unlock()
	return p.conn
}

// writeMessage sends a message on the connection, failing with
// ErrDisconnected when there is none.
func (p *Peer) writeMessage(msg wire.Message) error {
	conn := p.Conn()
	if conn == nil {
		return ErrDisconnected
	}
	return conn.WriteMessage(msg)
}

// Run enters the blocking read loop, dispatching each inbound message until
// the connection fails, the passed cancellation channel fires, or
// Disconnect is called.  Cancellation exits promptly by shutting the socket
// down underneath the blocked read.  Every networking failure leaves
// through a *Error; a clean cancellation returns nil.  The peer is always
// disconnected by the time Run returns.
func (p *Peer) Run(cancel <-chan struct{}) error {
	defer p.Disconnect()

	conn := p.Conn()
	if conn == nil {
		return peerError("run", ErrDisconnected)
	}

	// Translate pool-wide cancellation into a disconnect, which wakes the
	// blocked read below.  The goroutine exits when the peer dies for
	// any reason since Disconnect closes p.quit.
	go func() {
		select {
		case <-cancel:
			p.Disconnect()
		case <-p.quit:
		}
	}()

	for {
		select {
		case <-p.quit:
			return nil
		default:
		}

		msg, err := conn.ReadMessage()
		if err != nil {
			// Unknown commands are logged and skipped; the codec
			// has already consumed the payload.
			if errors.Is(err, wire.ErrUnknownCommand) {
				log.Debugf("Ignoring message from %s: %v",
					p.addr, err)
				continue
			}

			// A read error triggered by our own shutdown is a
			// clean exit, not a peer failure.
			select {
			case <-p.quit:
				return nil
			default:
			}
			return peerError("read", err)
		}

		if err := p.handleMessage(msg); err != nil {
			return peerError("handle "+msg.Command(), err)
		}
	}
}

// handleMessage dispatches one inbound message.  Chain and store failures
// and failures to send a reply or request propagate; everything else is
// handled in place.
func (p *Peer) handleMessage(msg wire.Message) error {
	log.Tracef("Received %s from %s", msg.Command(), p.addr)
	log.Tracef("%v", newLogClosure(func() string {
		return spew.Sdump(msg)
	}))

	switch m := msg.(type) {
	case *wire.MsgInv:
		return p.handleInv(m)

	case *wire.MsgBlock:
		return p.handleBlock(m)

	case *wire.MsgTx:
		p.handleTx(m)

	case *wire.MsgPing:
		// No response is required at this protocol version.

	case *wire.MsgGetData:
		return p.handleGetData(m)

	case *wire.MsgAddr:
		if p.cfg.Listeners.OnAddr != nil {
			p.cfg.Listeners.OnAddr(p, m)
		}

	case *wire.MsgHeaders:
		if p.cfg.Listeners.OnHeaders != nil {
			p.cfg.Listeners.OnHeaders(p, m)
		}

	case *wire.MsgAlert:
		if p.cfg.Listeners.OnAlert != nil {
			p.cfg.Listeners.OnAlert(p, m)
		}

	default:
		log.Debugf("Ignoring %s message from %s", msg.Command(),
			p.addr)
	}
	return nil
}

// handleInv requests the data for announced inventory this client is
// interested in: transactions it has not seen before, and blocks whenever
// this peer is driving the chain download.
func (p *Peer) handleInv(msg *wire.MsgInv) error {
	getData := wire.NewMsgGetData()
	for _, iv := range msg.InvList {
		switch iv.Type {
		case wire.InvTypeTx:
			if p.knownInventory.Contains(*iv) {
				continue
			}
			p.knownInventory.Add(*iv)
			if err := getData.AddInvVect(iv); err != nil {
				return err
			}

		case wire.InvTypeBlock:
			// Blocks are only fetched while this peer is elected
			// to drive the download.
			if !p.Downloading() {
				continue
			}
			p.knownInventory.Add(*iv)
			if err := getData.AddInvVect(iv); err != nil {
				return err
			}
		}
	}

	if len(getData.InvList) == 0 {
		return nil
	}
	return p.writeMessage(getData)
}

// handleBlock hands a downloaded block to the chain and notifies the
// download listener.
func (p *Peer) handleBlock(block *wire.MsgBlock) error {
	if p.cfg.Chain == nil {
		return nil
	}

	connected, err := p.cfg.Chain.Add(block)
	if err != nil {
		return err
	}

	// An unconnectable block means the peer is ahead of the locator we
	// sent; re-anchor the download from our current chain head.
	if !connected && p.Downloading() {
		if err := p.sendGetBlocks(); err != nil {
			return err
		}
	}

	blocksLeft := atomic.AddInt32(&p.blocksLeft, -1)
	if blocksLeft < 0 {
		blocksLeft = 0
		atomic.StoreInt32(&p.blocksLeft, 0)
	}

	blockHash := block.BlockHash()
	p.completePending(wire.InvVect{Type: wire.InvTypeBlock, Hash: blockHash},
		block)

	if p.cfg.Listeners.OnBlocksDownloaded != nil {
		p.cfg.Listeners.OnBlocksDownloaded(p, block, blocksLeft)
	}
	return nil
}

// handleTx records the relay in the confidence table and passes the
// transaction to listeners.
func (p *Peer) handleTx(tx *wire.MsgTx) {
	txHash := tx.TxHash()

	if p.cfg.TxTable != nil {
		confidence := p.cfg.TxTable.Confidence(&txHash)
		confidence.MarkBroadcastBy(p.addr)
	}

	p.completePending(wire.InvVect{Type: wire.InvTypeTx, Hash: txHash}, tx)

	if p.cfg.Listeners.OnTx != nil {
		p.cfg.Listeners.OnTx(p, tx)
	}
}

// handleGetData serves transactions this client previously announced to the
// remote peer.
func (p *Peer) handleGetData(msg *wire.MsgGetData) error {
	for _, iv := range msg.InvList {
		if iv.Type != wire.InvTypeTx {
			continue
		}

		p.announcedMtx.Lock()
		tx, ok := p.announced[iv.Hash]
		p.announcedMtx.Unlock()
		if !ok {
			continue
		}

		if err := p.writeMessage(tx); err != nil {
			return err
		}
	}
	return nil
}

// completePending resolves the pending future for the passed inventory
// item, if any.
func (p *Peer) completePending(iv wire.InvVect, msg wire.Message) {
	p.pendingMtx.Lock()
	future, ok := p.pendingGetData[iv]
	if ok {
		delete(p.pendingGetData, iv)
	}
	p.pendingMtx.Unlock()

	if ok {
		future.complete(msg, nil)
	}
}

// RequestData sends a getdata for the passed inventory item and returns a
// future that completes when the matching block or transaction arrives.
// Requesting an item that is already in flight returns the existing future.
func (p *Peer) RequestData(iv *wire.InvVect) (*Future, error) {
	p.pendingMtx.Lock()
	if existing, ok := p.pendingGetData[*iv]; ok {
		p.pendingMtx.Unlock()
		return existing, nil
	}
	future := newFuture(iv)
	p.pendingGetData[*iv] = future
	p.pendingMtx.Unlock()

	getData := wire.NewMsgGetData()
	if err := getData.AddInvVect(iv); err != nil {
		p.abandonPending(*iv)
		return nil, err
	}
	if err := p.writeMessage(getData); err != nil {
		p.abandonPending(*iv)
		return nil, peerError("getdata", err)
	}
	return future, nil
}

// abandonPending drops a future that never made it onto the wire.
func (p *Peer) abandonPending(iv wire.InvVect) {
	p.pendingMtx.Lock()
	delete(p.pendingGetData, iv)
	p.pendingMtx.Unlock()
}

// RequestAddresses asks the remote peer for addresses of other active nodes
// on the network.  Results arrive through the OnAddr listener.
func (p *Peer) RequestAddresses() error {
	return p.writeMessage(wire.NewMsgGetAddr())
}

// StartBlockChainDownload marks this peer as the download peer and requests
// blocks onward from the current chain head.  A store failure is returned
// unchanged so the pool can treat it as fatal.
func (p *Peer) StartBlockChainDownload() error {
	atomic.StoreInt32(&p.downloading, 1)

	head, err := p.cfg.Store.ChainHead()
	if err != nil {
		return err
	}

	conn := p.Conn()
	if conn == nil {
		return peerError("download", ErrDisconnected)
	}
	blocksLeft := conn.PeerVersion().LastBlock - head.Height
	if blocksLeft < 0 {
		blocksLeft = 0
	}
	atomic.StoreInt32(&p.blocksLeft, blocksLeft)

	log.Infof("Starting block chain download from %s (%d blocks to get)",
		p.addr, blocksLeft)
	return p.sendGetBlocks()
}

// StopBlockChainDownload clears the download election.
func (p *Peer) StopBlockChainDownload() {
	atomic.StoreInt32(&p.downloading, 0)
}

// Downloading returns whether this peer is the elected download peer.
func (p *Peer) Downloading() bool {
	return atomic.LoadInt32(&p.downloading) != 0
}

// BlocksLeft returns the estimated number of blocks still to download from
// this peer.  The estimate is only meaningful while downloading.
func (p *Peer) BlocksLeft() int32 {
	return atomic.LoadInt32(&p.blocksLeft)
}

// sendGetBlocks asks the peer for the block inventory following our best
// chain, anchored at a locator for the current head.
func (p *Peer) sendGetBlocks() error {
	locator, err := p.cfg.Chain.BlockLocator()
	if err != nil {
		return err
	}

	msg := wire.NewMsgGetBlocks(&zeroHash)
	for _, hash := range locator {
		if err := msg.AddBlockLocatorHash(hash); err != nil {
			return err
		}
	}
	return p.writeMessage(msg)
}

// BroadcastTransaction announces the passed transaction to the remote peer
// with an inv; the transaction itself is sent when the peer requests it via
// getdata.
func (p *Peer) BroadcastTransaction(tx *wire.MsgTx) error {
	txHash := tx.TxHash()

	p.announcedMtx.Lock()
	p.announced[txHash] = tx
	p.announcedMtx.Unlock()

	iv := wire.NewInvVect(wire.InvTypeTx, &txHash)
	p.knownInventory.Add(*iv)

	inv := wire.NewMsgInv()
	if err := inv.AddInvVect(iv); err != nil {
		return err
	}
	if err := p.writeMessage(inv); err != nil {
		return peerError("broadcast", err)
	}
	return nil
}

// Disconnect tears the session down: the lifecycle state moves to
// Disconnected, the socket is shut down underneath any blocked read, and
// every pending future is completed with ErrDisconnected.  It is idempotent
// and safe to call from any goroutine.
func (p *Peer) Disconnect() {
	p.disconnectOnce.Do(func() {
		p.setState(StateDisconnected)
		close(p.quit)

		p.connMtx.Lock()
		conn := p.conn
		p.connMtx.Unlock()
		if conn != nil {
			conn.Shutdown()
		}

		p.pendingMtx.Lock()
		pending := p.pendingGetData
		p.pendingGetData = make(map[wire.InvVect]*Future)
		p.pendingMtx.Unlock()

		for _, future := range pending {
			future.complete(nil, ErrDisconnected)
		}

		log.Debugf("Disconnected from %s", p.addr)
	})
}
