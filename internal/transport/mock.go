package transport

import (
	"net"
	"sync"
	"time"
)

// MockPacket is one scripted result of MockSocket.ReadFromUDP. When Err is
// set the read fails with it instead of returning data.
type MockPacket struct {
	Data []byte
	Addr *net.UDPAddr
	Err  error
}

// MockSocket implements Socket for testing. Reads return the scripted
// packets in order, then time out until the socket is closed.
type MockSocket struct {
	mu sync.Mutex

	packets   []MockPacket
	readIndex int
	closed    bool
	closes    int

	// BeforeRead runs before packet i is returned, e.g. to move a mock clock.
	BeforeRead func(i int)
	// OnDrained runs once when every scripted packet has been read.
	OnDrained func()
	drained   bool

	ReadBufferSize     int
	SetReadBufferError error
	ReadDeadline       time.Time
	LocalAddress       *net.UDPAddr
}

// NewMockSocket creates a MockSocket with the given packets.
func NewMockSocket(packets []MockPacket) *MockSocket {
	return &MockSocket{
		packets: packets,
		LocalAddress: &net.UDPAddr{
			IP:   net.ParseIP("127.0.0.1"),
			Port: 20777,
		},
	}
}

// ReadFromUDP returns the next scripted packet.
func (m *MockSocket) ReadFromUDP(b []byte) (int, *net.UDPAddr, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return 0, nil, net.ErrClosed
	}
	if m.readIndex >= len(m.packets) {
		var drained func()
		if !m.drained {
			m.drained = true
			drained = m.OnDrained
		}
		m.mu.Unlock()
		if drained != nil {
			drained()
		}
		return 0, nil, &net.OpError{Op: "read", Net: "udp", Err: &timeoutError{}}
	}
	i := m.readIndex
	pkt := m.packets[i]
	m.readIndex++
	before := m.BeforeRead
	m.mu.Unlock()

	if before != nil {
		before(i)
	}
	if pkt.Err != nil {
		return 0, nil, pkt.Err
	}
	n := copy(b, pkt.Data)
	return n, pkt.Addr, nil
}

// SetReadBuffer records the buffer size.
func (m *MockSocket) SetReadBuffer(bytes int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SetReadBufferError != nil {
		return m.SetReadBufferError
	}
	m.ReadBufferSize = bytes
	return nil
}

// SetReadDeadline records the deadline.
func (m *MockSocket) SetReadDeadline(t time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ReadDeadline = t
	return nil
}

// Close marks the socket as closed.
func (m *MockSocket) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.closes++
	return nil
}

// Closes returns how many times Close was called.
func (m *MockSocket) Closes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closes
}

// LocalAddr returns the mock local address.
func (m *MockSocket) LocalAddr() net.Addr {
	return m.LocalAddress
}

// MockSender implements Sender for testing and keeps every datagram it
// was asked to send.
type MockSender struct {
	mu     sync.Mutex
	sent   [][]byte
	times  []time.Time
	closed bool

	// Now stamps each write; nil leaves Times empty.
	Now func() time.Time
	// FailOn makes the n-th write (0-based) fail with the mapped error.
	FailOn map[int]error
	writes int
}

// Write records a copy of b.
func (s *MockSender) Write(b []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, net.ErrClosed
	}
	i := s.writes
	s.writes++
	if err, ok := s.FailOn[i]; ok {
		return 0, err
	}
	s.sent = append(s.sent, append([]byte(nil), b...))
	if s.Now != nil {
		s.times = append(s.times, s.Now())
	}
	return len(b), nil
}

// Close marks the sender as closed.
func (s *MockSender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Sent returns the datagrams written so far.
func (s *MockSender) Sent() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.sent))
	copy(out, s.sent)
	return out
}

// Times returns the time of each successful write.
func (s *MockSender) Times() []time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]time.Time, len(s.times))
	copy(out, s.times)
	return out
}

// timeoutError implements net.Error for timeout simulation.
type timeoutError struct{}

func (e *timeoutError) Error() string   { return "i/o timeout" }
func (e *timeoutError) Timeout() bool   { return true }
func (e *timeoutError) Temporary() bool { return true }
