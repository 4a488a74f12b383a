// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2024 The btclite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wire

import (
	"encoding/binary"
	"io"
	"net"
	"time"
)

// NetAddress defines information about a peer on the network including the
// time it was last seen, the services it supports, its IP address, and port.
// Only IPv4 addresses are dialed by this client; addresses are nevertheless
// carried in the 16-byte IPv6-mapped form the wire format requires.
type NetAddress struct {
	// Last time the address was seen.  This is, unfortunately, encoded as
	// a uint32 on the wire and therefore is limited to 2106.  This field
	// is not present in the bitcoin version message nor in addresses prior
	// to protocol version NetAddressTimeVersion.
	Timestamp time.Time

	// Bitfield which identifies the services supported by the address.
	Services ServiceFlag

	// IP address of the peer.
	IP net.IP

	// Port the peer is using.  This is encoded in big endian on the wire
	// which differs from most everything else.
	Port uint16
}

// HasService returns whether the specified service is supported by the
// address.
func (na *NetAddress) HasService(service ServiceFlag) bool {
	return na.Services&service == service
}

// TCPAddr converts the NetAddress to a *net.TCPAddr suitable for dialing.
func (na *NetAddress) TCPAddr() *net.TCPAddr {
	return &net.TCPAddr{IP: na.IP, Port: int(na.Port)}
}

// String returns the address in host:port form.
func (na *NetAddress) String() string {
	return na.TCPAddr().String()
}

// NewNetAddressIPPort returns a new NetAddress using the provided IP, port,
// and supported services with the timestamp set to the current time.
func NewNetAddressIPPort(ip net.IP, port uint16, services ServiceFlag) *NetAddress {
	return &NetAddress{
		Timestamp: time.Unix(time.Now().Unix(), 0),
		Services:  services,
		IP:        ip,
		Port:      port,
	}
}

// NewNetAddress returns a new NetAddress using the provided TCP address and
// supported services with the timestamp set to the current time.
func NewNetAddress(addr *net.TCPAddr, services ServiceFlag) *NetAddress {
	return NewNetAddressIPPort(addr.IP, uint16(addr.Port), services)
}

// readNetAddress reads an encoded NetAddress from r depending on the protocol
// version and whether or not the timestamp is included per ts.  Some messages
// like version do not include the timestamp.
func readNetAddress(r io.Reader, pver uint32, na *NetAddress, ts bool) error {
	var ip [16]byte

	// NOTE: The bitcoin protocol uses a uint32 for the timestamp so it
	// will stop working somewhere around 2106.
	if ts && pver >= NetAddressTimeVersion {
		var stamp uint32Time
		if err := readElement(r, &stamp); err != nil {
			return err
		}
		na.Timestamp = time.Time(stamp)
	}

	if err := readElement(r, &na.Services); err != nil {
		return err
	}
	if _, err := io.ReadFull(r, ip[:]); err != nil {
		return err
	}

	// Sigh.  Bitcoin protocol mixes little and big endian; the port is
	// big endian.
	var portBuf [2]byte
	if _, err := io.ReadFull(r, portBuf[:]); err != nil {
		return err
	}

	na.IP = net.IP(ip[:])
	na.Port = binary.BigEndian.Uint16(portBuf[:])
	return nil
}

// writeNetAddress serializes a NetAddress to w depending on the protocol
// version and whether or not the timestamp is included per ts.  Some messages
// like version do not include the timestamp.
func writeNetAddress(w io.Writer, pver uint32, na *NetAddress, ts bool) error {
	if ts && pver >= NetAddressTimeVersion {
		if err := writeElement(w, uint32Time(na.Timestamp)); err != nil {
			return err
		}
	}

	if err := writeElement(w, na.Services); err != nil {
		return err
	}

	// Ensure to always write 16 bytes even if the ip is nil.
	var ip [16]byte
	if na.IP != nil {
		copy(ip[:], na.IP.To16())
	}
	if _, err := w.Write(ip[:]); err != nil {
		return err
	}

	// Big endian port.
	var portBuf [2]byte
	binary.BigEndian.PutUint16(portBuf[:], na.Port)
	_, err := w.Write(portBuf[:])
	return err
}

// maxNetAddressPayload returns the max payload size for an address depending
// on the protocol version.
func maxNetAddressPayload(pver uint32) uint32 {
	// Services 8 bytes + ip 16 bytes + port 2 bytes.
	plen := uint32(26)

	// NetAddressTimeVersion added a timestamp field.
	if pver >= NetAddressTimeVersion {
		plen += 4
	}

	return plen
}
