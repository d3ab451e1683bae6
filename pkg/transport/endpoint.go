// Package transport owns the single connection behind one fetch attempt:
// dial the stub, send one frame, read one frame, close.
package transport

import (
	"context"
	"fmt"
	"net"
	"strconv"
)

// Supported networks. The stub normally listens on AF_VSOCK; hosts without
// vsock forwarding expose it over TCP or a Unix socket instead.
const (
	NetworkVsock = "vsock"
	NetworkTCP   = "tcp"
	NetworkUnix  = "unix"
)

// Well-known defaults for reaching the host-side stub.
const (
	DefaultCID  uint32 = 2 // VMADDR_CID_HOST
	DefaultPort uint32 = 4040
)

// Endpoint identifies the stub. CID and Port apply to vsock; Address
// applies to tcp ("host:port") and unix (socket path).
type Endpoint struct {
	Network string
	CID     uint32
	Port    uint32
	Address string
}

// DefaultEndpoint is the host stub on the well-known vsock port.
func DefaultEndpoint() Endpoint {
	return Endpoint{Network: NetworkVsock, CID: DefaultCID, Port: DefaultPort}
}

func (e Endpoint) String() string {
	if e.Network == NetworkVsock || e.Network == "" {
		return "vsock://" + strconv.FormatUint(uint64(e.CID), 10) + ":" + strconv.FormatUint(uint64(e.Port), 10)
	}
	return e.Network + "://" + e.Address
}

// Dialer opens one connection to an endpoint.
type Dialer interface {
	DialContext(ctx context.Context, endpoint Endpoint) (net.Conn, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, endpoint Endpoint) (net.Conn, error)

// DialContext calls f.
func (f DialerFunc) DialContext(ctx context.Context, endpoint Endpoint) (net.Conn, error) {
	return f(ctx, endpoint)
}

// NetDialer dials vsock, tcp and unix endpoints.
type NetDialer struct{}

// DialContext implements Dialer.
func (NetDialer) DialContext(ctx context.Context, endpoint Endpoint) (net.Conn, error) {
	switch endpoint.Network {
	case NetworkVsock, "":
		return dialVsock(ctx, endpoint.CID, endpoint.Port)
	case NetworkTCP, NetworkUnix:
		var d net.Dialer
		return d.DialContext(ctx, endpoint.Network, endpoint.Address)
	default:
		return nil, fmt.Errorf("unsupported network %q", endpoint.Network)
	}
}

// Listen opens a listener for a stub serving endpoint. For vsock the CID is
// the local context to bind; zero binds any.
func Listen(endpoint Endpoint) (net.Listener, error) {
	switch endpoint.Network {
	case NetworkVsock, "":
		return listenVsock(endpoint.CID, endpoint.Port)
	case NetworkTCP, NetworkUnix:
		return net.Listen(endpoint.Network, endpoint.Address)
	default:
		return nil, fmt.Errorf("unsupported network %q", endpoint.Network)
	}
}
