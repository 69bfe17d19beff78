// Package transport wraps the UDP sockets used to capture and replay
// telemetry so the recorder and replayer can be driven by mocks in tests.
package transport

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"golang.org/x/net/ipv4"

	"firestige.xyz/telemcap/internal/core"
)

// MaxDatagramSize is the largest UDP payload a single receive accepts.
const MaxDatagramSize = 65535

// Socket is the receive side of a bound UDP endpoint.
type Socket interface {
	// ReadFromUDP reads one datagram into b.
	ReadFromUDP(b []byte) (n int, addr *net.UDPAddr, err error)

	// SetReadBuffer sets the size of the operating system's receive buffer.
	SetReadBuffer(bytes int) error

	// SetReadDeadline sets the deadline for future reads.
	SetReadDeadline(t time.Time) error

	// Close closes the socket.
	Close() error

	// LocalAddr returns the bound address.
	LocalAddr() net.Addr
}

// Sender is the send side of a connected UDP endpoint.
type Sender interface {
	// Write sends b as one datagram to the connected destination.
	Write(b []byte) (int, error)

	// Close closes the socket.
	Close() error
}

// JoinHostPort formats address and port the way net.Dial expects.
func JoinHostPort(address string, port int) string {
	return net.JoinHostPort(address, strconv.Itoa(port))
}

// Listen binds a UDP socket on address:port.
func Listen(address string, port int) (Socket, error) {
	laddr, err := net.ResolveUDPAddr("udp", JoinHostPort(address, port))
	if err != nil {
		return nil, fmt.Errorf("%w: resolve %s:%d: %w", core.ErrTransport, address, port, err)
	}

	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("%w: bind %s: %w", core.ErrTransport, laddr, err)
	}
	return conn, nil
}

// Dial opens a UDP socket connected to address:port. A positive ttl sets
// the IPv4 TTL, or the multicast TTL when the destination is a multicast
// group.
func Dial(address string, port int, ttl int) (Sender, error) {
	raddr, err := net.ResolveUDPAddr("udp", JoinHostPort(address, port))
	if err != nil {
		return nil, fmt.Errorf("%w: resolve %s:%d: %w", core.ErrTransport, address, port, err)
	}

	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", core.ErrTransport, raddr, err)
	}

	if ttl > 0 && raddr.IP.To4() != nil {
		if err := setTTL(conn, raddr.IP, ttl); err != nil {
			conn.Close()
			return nil, fmt.Errorf("%w: set ttl %d: %w", core.ErrTransport, ttl, err)
		}
	}
	return conn, nil
}

func setTTL(conn *net.UDPConn, dst net.IP, ttl int) error {
	if dst.IsMulticast() {
		return ipv4.NewPacketConn(conn).SetMulticastTTL(ttl)
	}
	return ipv4.NewConn(conn).SetTTL(ttl)
}

// IsTimeout reports whether err is a read deadline expiry.
func IsTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// IsClosed reports whether err means the socket can no longer be used.
func IsClosed(err error) bool {
	return errors.Is(err, net.ErrClosed)
}
