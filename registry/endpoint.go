// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"fmt"
	"net"
)

// Endpoint identifies a connection's remote address. It is comparable
// and usable as a map key; reservations correlate a future
// connection's Endpoint with the application that will own it.
type Endpoint struct {
	// Network is the address family, e.g. "tcp".
	Network string

	// Host is the remote host portion (IP for tcp).
	Host string

	// Port is the remote port.
	Port uint32
}

// EndpointFromAddr derives an Endpoint from a connection's remote
// address. Only TCP is routable: reservation matching substitutes a
// port into the observer's own endpoint, which requires an address
// family with ports.
func EndpointFromAddr(addr net.Addr) (Endpoint, error) {
	tcpAddr, ok := addr.(*net.TCPAddr)
	if !ok {
		return Endpoint{}, fmt.Errorf("unexpected connection type %q", addr.Network())
	}
	return Endpoint{
		Network: "tcp",
		Host:    tcpAddr.IP.String(),
		Port:    uint32(tcpAddr.Port),
	}, nil
}

// WithPort returns a copy of the endpoint with only the port replaced.
// This is how the control protocol builds a reservation key: the
// broker names a port, and the manager substitutes it into the control
// session's own address family and host.
func (e Endpoint) WithPort(port uint32) Endpoint {
	e.Port = port
	return e
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%s://%s:%d", e.Network, e.Host, e.Port)
}
