// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2024 The btclite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package peer

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/btclite/btclite/chaincfg"
	"github.com/btclite/btclite/wire"
)

// DefaultTimeout is the duration used for the TCP connect and for each send
// and receive when the configuration does not specify one.
const DefaultTimeout = 60 * time.Second

// ConnConfig describes the parameters for a network connection to a peer.
type ConnConfig struct {
	// Params identifies the network to speak.  It is required.
	Params *chaincfg.Params

	// BestHeight is the height of our best known chain, announced to the
	// remote peer in the version message.
	BestHeight int32

	// UserAgent is the user agent advertised in the version message.  It
	// defaults to wire.DefaultUserAgent.
	UserAgent string

	// Services is the service bitfield we advertise.  A lightweight
	// client advertises no services.
	Services wire.ServiceFlag

	// Timeout bounds the TCP connect as well as each send and receive on
	// the socket.  The send and receive timeouts are deliberately the
	// same value as the connect timeout.  Zero selects DefaultTimeout; a
	// negative value disables I/O deadlines entirely.
	Timeout time.Duration

	// Dial connects to the address on the named network.  It defaults to
	// a plain TCP dial honoring Timeout, and exists so callers can route
	// connections through a proxy or an in-memory pipe.
	Dial func(network, addr string) (net.Conn, error)
}

// timeout returns the effective I/O timeout for the configuration.
func (cfg *ConnConfig) timeout() time.Duration {
	switch {
	case cfg.Timeout == 0:
		return DefaultTimeout
	case cfg.Timeout < 0:
		return 0
	default:
		return cfg.Timeout
	}
}

// Conn is a network connection to a remote peer speaking the bitcoin wire
// protocol.  Construction performs the four-message version handshake, after
// which framed messages can be read and written.  Writes from concurrent
// goroutines are serialized by a send mutex; reads are expected from a
// single reader goroutine.
type Conn struct {
	cfg  *ConnConfig
	conn net.Conn

	// sendMtx serializes all writes to the underlying socket so that
	// concurrently written messages can never interleave on the wire.
	sendMtx sync.Mutex

	// checksumming mirrors the negotiated framing: false during the
	// version exchange, true afterwards once the peer advertised
	// protocol version 209 or better.
	checksumming bool

	// pver is the negotiated protocol version: the minimum of ours and
	// the remote peer's.
	pver uint32

	peerVersion *wire.MsgVersion

	shutdown sync.Once
}

// Dial establishes a TCP connection to the passed address and performs the
// protocol handshake.  The returned connection is ready for message traffic.
// The connection is closed again on any handshake failure.
func Dial(addr *wire.NetAddress, cfg *ConnConfig) (*Conn, error) {
	dial := cfg.Dial
	if dial == nil {
		timeout := cfg.timeout()
		dial = func(network, address string) (net.Conn, error) {
			return net.DialTimeout(network, address, timeout)
		}
	}

	netConn, err := dial("tcp", addr.String())
	if err != nil {
		return nil, err
	}
	return NewConn(netConn, cfg)
}

// NewConn wraps an established net.Conn and performs the protocol handshake
// on it.  The connection is closed again on any handshake failure.
func NewConn(netConn net.Conn, cfg *ConnConfig) (*Conn, error) {
	c := &Conn{
		cfg:  cfg,
		conn: netConn,
		pver: wire.ProtocolVersion,
	}
	if err := c.handshake(); err != nil {
		c.Shutdown()
		return nil, err
	}
	return c, nil
}

// handshake performs the four-message version negotiation:
//
//  1. send our version announcing our chain height,
//  2. read the peer's version,
//  3. send verack,
//  4. read the peer's verack.
//
// The version messages travel without checksums.  Once the peer's version is
// known, checksumming is enabled for all subsequent traffic when the peer
// speaks protocol version 209 or better, so the veracks already carry
// checksums against such peers.  A peer that does not advertise a copy of
// the block chain is rejected.
func (c *Conn) handshake() error {
	userAgent := c.cfg.UserAgent
	if userAgent == "" {
		userAgent = wire.DefaultUserAgent
	}

	nonce, err := wire.RandomUint64()
	if err != nil {
		return err
	}

	theirAddr := wire.NewNetAddressIPPort(remoteIP(c.conn), 0, 0)
	ourAddr := wire.NewNetAddressIPPort(net.IPv4zero, 0, c.cfg.Services)
	verMsg := wire.NewMsgVersion(ourAddr, theirAddr, nonce, c.cfg.BestHeight)
	verMsg.UserAgent = userAgent
	verMsg.Services = c.cfg.Services

	// Step 1: our version, sent without a checksum.
	if err := c.WriteMessage(verMsg); err != nil {
		return err
	}

	// Step 2: the peer's version, read without a checksum.
	msg, err := c.ReadMessage()
	if err != nil {
		return err
	}
	peerVersion, ok := msg.(*wire.MsgVersion)
	if !ok {
		return &wire.MessageError{
			Func: "handshake",
			Description: fmt.Sprintf("expected version message, "+
				"got [%s]", msg.Command()),
		}
	}
	c.peerVersion = peerVersion

	// Negotiate the lower of the two protocol versions and switch the
	// framing to checksummed once the peer is recent enough.
	if uint32(peerVersion.ProtocolVersion) < c.pver {
		c.pver = uint32(peerVersion.ProtocolVersion)
	}
	if uint32(peerVersion.ProtocolVersion) >= wire.MultipleAddressVersion {
		c.checksumming = true
	}

	// A peer without a copy of the block chain cannot serve this client.
	if !peerVersion.HasService(wire.SFNodeNetwork) {
		return &wire.MessageError{
			Func:        "handshake",
			Description: "Peer does not have a copy of the block chain",
		}
	}

	// Steps 3 and 4: exchange veracks.
	if err := c.WriteMessage(wire.NewMsgVerAck()); err != nil {
		return err
	}
	msg, err = c.ReadMessage()
	if err != nil {
		return err
	}
	if _, ok := msg.(*wire.MsgVerAck); !ok {
		return &wire.MessageError{
			Func: "handshake",
			Description: fmt.Sprintf("expected verack message, "+
				"got [%s]", msg.Command()),
		}
	}

	return nil
}

// ReadMessage reads the next framed message from the peer.  It blocks until
// a message arrives, the receive timeout elapses, or the connection fails.
// Wire violations surface as *wire.MessageError; socket failures as the
// underlying network error.
func (c *Conn) ReadMessage() (wire.Message, error) {
	if timeout := c.cfg.timeout(); timeout > 0 {
		c.conn.SetReadDeadline(time.Now().Add(timeout))
	}
	msg, _, err := wire.ReadMessageN(c.conn, c.pver, c.cfg.Params.Net,
		c.checksumming)
	return msg, err
}

// WriteMessage writes a framed message to the peer.  Concurrent writers are
// serialized; a message is always contiguous on the wire.
func (c *Conn) WriteMessage(msg wire.Message) error {
	c.sendMtx.Lock()
	defer c.sendMtx.Unlock()

	if timeout := c.cfg.timeout(); timeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(timeout))
	}
	return wire.WriteMessageN(c.conn, msg, c.pver, c.cfg.Params.Net,
		c.checksumming)
}

// Shutdown half-closes the send side where the transport supports it and
// then closes the connection.  It is idempotent and safe to call from any
// goroutine, including concurrently with a blocked read, which it wakes
// with an error.
func (c *Conn) Shutdown() {
	c.shutdown.Do(func() {
		if tcpConn, ok := c.conn.(*net.TCPConn); ok {
			tcpConn.CloseWrite()
		}
		c.conn.Close()
	})
}

// Checksumming returns whether the connection frames messages with
// checksums.  It reflects the handshake outcome and does not change
// afterwards.
func (c *Conn) Checksumming() bool {
	return c.checksumming
}

// ProtocolVersion returns the negotiated protocol version.
func (c *Conn) ProtocolVersion() uint32 {
	return c.pver
}

// PeerVersion returns the version message the remote peer announced during
// the handshake.
func (c *Conn) PeerVersion() *wire.MsgVersion {
	return c.peerVersion
}

// RemoteAddr returns the address of the remote end of the connection.
func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// remoteIP extracts the remote IP of a connection, falling back to the
// unspecified IPv4 address for transports without a meaningful one.
func remoteIP(conn net.Conn) net.IP {
	if tcpAddr, ok := conn.RemoteAddr().(*net.TCPAddr); ok {
		return tcpAddr.IP
	}
	return net.IPv4zero
}
