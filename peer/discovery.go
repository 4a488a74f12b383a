// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2024 The btclite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package peer

import (
	"fmt"
	"net"
	"strconv"

	"github.com/btclite/btclite/chaincfg"
	"github.com/btclite/btclite/wire"
)

// Discovery supplies candidate peer addresses.  A source that fails returns
// a *DiscoveryError; the pool logs it and falls through to the next source,
// retrying on a later tick.
type Discovery interface {
	// Peers returns candidate peer addresses, in the order they should
	// be tried.
	Peers() ([]*wire.NetAddress, error)
}

// DNSDiscovery finds peers by resolving the DNS seeds of a network.  Only
// IPv4 results are returned since that is all this client dials.
type DNSDiscovery struct {
	params *chaincfg.Params

	// lookup resolves a hostname.  It defaults to net.LookupIP and is a
	// field so tests can resolve without touching the network.
	lookup func(host string) ([]net.IP, error)
}

// NewDNSDiscovery returns a discovery source backed by the DNS seeds of the
// passed network parameters.
func NewDNSDiscovery(params *chaincfg.Params) *DNSDiscovery {
	return &DNSDiscovery{
		params: params,
		lookup: net.LookupIP,
	}
}

// Peers resolves the network's DNS seeds.  This is part of the Discovery
// interface implementation.
func (d *DNSDiscovery) Peers() ([]*wire.NetAddress, error) {
	port, err := strconv.ParseUint(d.params.DefaultPort, 10, 16)
	if err != nil {
		return nil, &DiscoveryError{Source: "dns", Err: err}
	}

	var addrs []*wire.NetAddress
	for _, seed := range d.params.DNSSeeds {
		ips, err := d.lookup(seed.Host)
		if err != nil {
			log.Debugf("DNS seed %s failed: %v", seed.Host, err)
			continue
		}
		for _, ip := range ips {
			// IPv4 only.
			if ip.To4() == nil {
				continue
			}
			addrs = append(addrs, wire.NewNetAddressIPPort(ip,
				uint16(port), wire.SFNodeNetwork))
		}
	}

	if len(addrs) == 0 {
		return nil, &DiscoveryError{
			Source: "dns",
			Err:    fmt.Errorf("no peers found via any DNS seed"),
		}
	}
	return addrs, nil
}

// StaticDiscovery supplies a fixed list of peer addresses, for clients that
// know exactly which nodes they want to talk to.
type StaticDiscovery struct {
	addrs []*wire.NetAddress
}

// NewStaticDiscovery returns a discovery source for the passed host:port
// addresses.
func NewStaticDiscovery(addrs ...string) (*StaticDiscovery, error) {
	netAddrs := make([]*wire.NetAddress, 0, len(addrs))
	for _, addr := range addrs {
		host, portStr, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, &DiscoveryError{Source: "static", Err: err}
		}
		port, err := strconv.ParseUint(portStr, 10, 16)
		if err != nil {
			return nil, &DiscoveryError{Source: "static", Err: err}
		}
		ip := net.ParseIP(host)
		if ip == nil {
			return nil, &DiscoveryError{
				Source: "static",
				Err:    fmt.Errorf("invalid ip %q", host),
			}
		}
		netAddrs = append(netAddrs, wire.NewNetAddressIPPort(ip,
			uint16(port), wire.SFNodeNetwork))
	}
	return &StaticDiscovery{addrs: netAddrs}, nil
}

// Peers returns the configured addresses.  This is part of the Discovery
// interface implementation.
func (d *StaticDiscovery) Peers() ([]*wire.NetAddress, error) {
	return d.addrs, nil
}
