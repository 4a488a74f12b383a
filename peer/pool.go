// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2024 The btclite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package peer

import (
	"container/list"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/btclite/btclite/blockchain"
	"github.com/btclite/btclite/chaincfg"
	"github.com/btclite/btclite/mempool"
	"github.com/btclite/btclite/wire"
)

const (
	// DefaultMaxConnections is the default maximum number of concurrent
	// peer connections the pool maintains.
	DefaultMaxConnections = 4

	// DefaultTickInterval is the default period of the pool control
	// loop.
	DefaultTickInterval = 10 * time.Second
)

// PoolListeners groups the callbacks the pool invokes for lifecycle events.
// Both are invoked while the pool lock is held, so they must be fast and
// must not call back into the pool.
type PoolListeners struct {
	// OnPeerConnected is invoked with the new live-peer count when a
	// peer finishes its handshake and joins the pool.
	OnPeerConnected func(peerCount int)

	// OnPeerDisconnected is invoked with the remaining live-peer count
	// when a previously connected peer dies.
	OnPeerDisconnected func(peerCount int)
}

// PoolConfig is a descriptor for the peer pool configuration.
type PoolConfig struct {
	// Params identifies the network to connect to.  It is required.
	Params *chaincfg.Params

	// Chain receives downloaded blocks.  Required for block download.
	Chain *blockchain.Chain

	// Store provides the chain head driving the download.  Required for
	// block download.
	Store blockchain.BlockStore

	// TxTable tracks confidence for relayed transactions.  Optional.
	TxTable *mempool.TxTable

	// Discoverers are consulted, in order, whenever the pool runs out of
	// candidate addresses.
	Discoverers []Discovery

	// MaxConnections bounds the number of concurrent peer connections.
	// Zero selects DefaultMaxConnections.
	MaxConnections int

	// TickInterval is the period of the control loop.  Zero selects
	// DefaultTickInterval.
	TickInterval time.Duration

	// Listeners carries the pool lifecycle callbacks.  Optional.
	Listeners PoolListeners

	// PeerListeners carries the per-peer event callbacks, shared by all
	// sessions.  Optional.
	PeerListeners Listeners

	// UserAgent, Services, Timeout, and Dial configure the network
	// connections of all peers; see ConnConfig.
	UserAgent string
	Services  wire.ServiceFlag
	Timeout   time.Duration
	Dial      func(network, addr string) (net.Conn, error)
}

// Pool maintains a bounded set of concurrent peer sessions.  A periodic,
// single-entry control loop pulls candidate addresses from the discovery
// sources and hands each to a worker from a bounded pool; workers run their
// session until it dies, then report back so a replacement can be found.
// One live peer at a time is elected to drive the block chain download.
type Pool struct {
	cfg PoolConfig

	// mtx guards peers, downloadPeer, downloading, and running.
	mtx          sync.Mutex
	peers        []*Peer
	downloadPeer *Peer
	downloading  bool
	running      bool

	// inactives is the FIFO of candidate addresses.  Discovery and
	// failed worker allocation produce; the control loop consumes.
	inactivesMtx sync.Mutex
	inactives    *list.List

	// workerSem is a counting semaphore bounding concurrent workers.
	workerSem chan struct{}

	// tickMtx is the single-entry guard for the control loop: a tick
	// that finds it held is dropped rather than queued, since
	// overlapping ticks would race on worker allocation.
	tickMtx sync.Mutex

	quit chan struct{}
	wg   sync.WaitGroup
}

// NewPool returns a peer pool for the passed configuration.  Start must be
// called before the pool does anything.
func NewPool(cfg *PoolConfig) *Pool {
	poolCfg := *cfg
	if poolCfg.MaxConnections <= 0 {
		poolCfg.MaxConnections = DefaultMaxConnections
	}
	if poolCfg.TickInterval <= 0 {
		poolCfg.TickInterval = DefaultTickInterval
	}
	return &Pool{
		cfg:       poolCfg,
		inactives: list.New(),
		workerSem: make(chan struct{}, poolCfg.MaxConnections),
		quit:      make(chan struct{}),
	}
}

// Start launches the control loop.  It has no effect on a pool that is
// already running.
func (p *Pool) Start() {
	p.mtx.Lock()
	if p.running {
		p.mtx.Unlock()
		return
	}
	p.running = true
	p.mtx.Unlock()

	p.wg.Add(1)
	go p.tickHandler()
	log.Infof("Peer pool started (max %d connections)",
		p.cfg.MaxConnections)
}

// Stop signals shutdown: the control loop stops and the shared cancellation
// channel trips every worker, which exits through its death path.  Stop
// does not wait for the workers to finish; use Wait for that.
func (p *Pool) Stop() {
	p.mtx.Lock()
	if !p.running {
		p.mtx.Unlock()
		return
	}
	p.running = false
	p.mtx.Unlock()

	close(p.quit)
	log.Infof("Peer pool shutting down")
}

// Wait blocks until the control loop and every worker have exited.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// tickHandler drives the periodic control loop until the pool stops.
func (p *Pool) tickHandler() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.TickInterval)
	defer ticker.Stop()

	// Kick off the first connection attempt without waiting a full
	// interval.
	p.tick()

	for {
		select {
		case <-p.quit:
			return
		case <-ticker.C:
			p.tick()
		}
	}
}

// tick makes at most one connection attempt.  Entry is single-shot: when a
// previous tick is still in progress the new one is dropped, never queued.
func (p *Pool) tick() {
	if !p.tickMtx.TryLock() {
		return
	}
	defer p.tickMtx.Unlock()

	p.mtx.Lock()
	running := p.running
	p.mtx.Unlock()
	if !running {
		return
	}

	// Nothing to do while the worker pool is at capacity.
	if len(p.workerSem) == cap(p.workerSem) {
		return
	}

	// Refill the candidate queue from the discovery sources when it has
	// run dry.
	if p.inactiveCount() == 0 {
		p.discoverPeers()
	}

	addr := p.dequeueInactive()
	if addr == nil {
		return
	}

	// Allocate a worker; when allocation fails the address goes to the
	// back of the queue for a later tick.
	select {
	case p.workerSem <- struct{}{}:
	default:
		p.enqueueInactive(addr)
		return
	}

	p.wg.Add(1)
	go p.peerWorker(addr)
}

// discoverPeers walks the discovery sources in order until one of them
// yields addresses.  Failures are logged and the next source is tried.
func (p *Pool) discoverPeers() {
	for _, discoverer := range p.cfg.Discoverers {
		addrs, err := discoverer.Peers()
		if err != nil {
			log.Warnf("Peer discovery failed: %v", err)
			continue
		}
		if len(addrs) == 0 {
			continue
		}
		for _, addr := range addrs {
			p.enqueueInactive(addr)
		}
		log.Debugf("Discovered %d candidate peers", len(addrs))
		return
	}
}

// AddAddress queues a candidate peer address directly, bypassing discovery.
func (p *Pool) AddAddress(addr *wire.NetAddress) {
	p.enqueueInactive(addr)
}

func (p *Pool) enqueueInactive(addr *wire.NetAddress) {
	p.inactivesMtx.Lock()
	p.inactives.PushBack(addr)
	p.inactivesMtx.Unlock()
}

func (p *Pool) dequeueInactive() *wire.NetAddress {
	p.inactivesMtx.Lock()
	defer p.inactivesMtx.Unlock()

	front := p.inactives.Front()
	if front == nil {
		return nil
	}
	p.inactives.Remove(front)
	return front.Value.(*wire.NetAddress)
}

func (p *Pool) inactiveCount() int {
	p.inactivesMtx.Lock()
	defer p.inactivesMtx.Unlock()
	return p.inactives.Len()
}

// peerWorker runs one complete peer lifecycle: connect, announce to the
// pool, run until death or cancellation, then clean up.  Every path ends in
// handlePeerDeath, and the worker slot is always released.
func (p *Pool) peerWorker(addr *wire.NetAddress) {
	defer p.wg.Done()
	defer func() { <-p.workerSem }()

	// Addresses relayed by peers feed back into the candidate queue, on
	// top of whatever the caller wants to observe.
	listeners := p.cfg.PeerListeners
	userOnAddr := listeners.OnAddr
	listeners.OnAddr = func(peer *Peer, msg *wire.MsgAddr) {
		for _, na := range msg.AddrList {
			p.enqueueInactive(na)
		}
		if userOnAddr != nil {
			userOnAddr(peer, msg)
		}
	}

	peer := New(addr, &Config{
		Params:    p.cfg.Params,
		Chain:     p.cfg.Chain,
		Store:     p.cfg.Store,
		TxTable:   p.cfg.TxTable,
		Listeners: listeners,
		UserAgent: p.cfg.UserAgent,
		Services:  p.cfg.Services,
		Timeout:   p.cfg.Timeout,
		Dial:      p.cfg.Dial,
	})
	defer p.handlePeerDeath(peer)

	if err := p.checkFatal(peer.Connect()); err != nil {
		log.Infof("Failed to connect to %s: %v", addr, err)
		return
	}

	p.handleNewPeer(peer)

	if err := p.checkFatal(peer.Run(p.quit)); err != nil {
		var peerErr *Error
		if errors.As(err, &peerErr) {
			// An unreachable or misbehaving peer is routine; the
			// pool replaces it on a later tick.
			log.Infof("Peer %s died: %v", addr, err)
		} else {
			log.Errorf("Unexpected error from peer %s: %v", addr,
				err)
		}
	}
}

// checkFatal inspects a worker error for a block store failure, which is the
// one condition that stops the pool entirely rather than just costing a
// peer.
func (p *Pool) checkFatal(err error) error {
	if err != nil && blockchain.IsStoreError(err) {
		log.Errorf("Block store failure, stopping peer pool: %v", err)
		p.Stop()
	}
	return err
}

// handleNewPeer records a freshly connected peer and elects it as the
// download peer when a download has been requested and no peer currently
// drives it.
func (p *Pool) handleNewPeer(peer *Peer) {
	p.mtx.Lock()
	p.peers = append(p.peers, peer)
	count := len(p.peers)

	var elected bool
	if p.downloading && p.downloadPeer == nil {
		p.downloadPeer = peer
		elected = true
	}

	if p.cfg.Listeners.OnPeerConnected != nil {
		p.cfg.Listeners.OnPeerConnected(count)
	}
	p.mtx.Unlock()

	log.Debugf("New peer %s (%d connected)", peer, count)

	// Solicit more candidate addresses; failures here just mean the
	// queue refills from discovery instead.
	if err := peer.RequestAddresses(); err != nil {
		log.Debugf("Failed to request addresses from %s: %v", peer, err)
	}

	if elected {
		p.startDownload(peer)
	}
}

// handlePeerDeath removes a dead peer from the pool, emits the disconnect
// event when the peer had actually been connected, and re-elects the
// download peer when the dead one was driving the download.
func (p *Pool) handlePeerDeath(peer *Peer) {
	peer.Disconnect()

	p.mtx.Lock()
	removed := false
	for i, candidate := range p.peers {
		if candidate == peer {
			p.peers = append(p.peers[:i], p.peers[i+1:]...)
			removed = true
			break
		}
	}

	var replacement *Peer
	if p.downloadPeer == peer {
		p.downloadPeer = nil
		if p.downloading && len(p.peers) > 0 {
			p.downloadPeer = p.peers[0]
			replacement = p.peers[0]
		}
	}

	count := len(p.peers)
	if removed && p.cfg.Listeners.OnPeerDisconnected != nil {
		p.cfg.Listeners.OnPeerDisconnected(count)
	}
	p.mtx.Unlock()

	if removed {
		log.Debugf("Peer %s removed (%d connected)", peer, count)
	}

	if replacement != nil {
		log.Infof("Download peer died, re-electing %s", replacement)
		p.startDownload(replacement)
	}
}

// startDownload asks the elected peer to begin the chain download, handling
// the fatal store-failure case.
func (p *Pool) startDownload(peer *Peer) {
	if err := p.checkFatal(peer.StartBlockChainDownload()); err != nil {
		log.Infof("Failed to start download on %s: %v", peer, err)
	}
}

// StartBlockChainDownload requests that the pool keep one elected peer
// downloading the block chain.  When peers are already connected, one is
// elected immediately; otherwise the next peer to connect is.
func (p *Pool) StartBlockChainDownload() {
	p.mtx.Lock()
	p.downloading = true
	var elected *Peer
	if p.downloadPeer == nil && len(p.peers) > 0 {
		p.downloadPeer = p.peers[0]
		elected = p.peers[0]
	}
	p.mtx.Unlock()

	if elected != nil {
		p.startDownload(elected)
	}
}

// DownloadPeer returns the currently elected download peer, or nil.
func (p *Pool) DownloadPeer() *Peer {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	return p.downloadPeer
}

// PeerCount returns the number of currently connected peers.
func (p *Pool) PeerCount() int {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	return len(p.peers)
}

// Peers returns a snapshot of the currently connected peers.
func (p *Pool) Peers() []*Peer {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	peers := make([]*Peer, len(p.peers))
	copy(peers, p.peers)
	return peers
}

// BroadcastTransaction announces the passed transaction to every connected
// peer.  Per-peer send failures are swallowed; the return value reports
// whether at least one peer accepted the announcement.
func (p *Pool) BroadcastTransaction(tx *wire.MsgTx) bool {
	success := false
	for _, peer := range p.Peers() {
		if err := peer.BroadcastTransaction(tx); err != nil {
			log.Debugf("Failed to broadcast to %s: %v", peer, err)
			continue
		}
		success = true
	}
	return success
}
