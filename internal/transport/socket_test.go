package transport

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/telemcap/internal/core"
)

func TestListenDialLoopback(t *testing.T) {
	sock, err := Listen("127.0.0.1", 0)
	require.NoError(t, err)
	defer sock.Close()

	port := sock.LocalAddr().(*net.UDPAddr).Port
	sender, err := Dial("127.0.0.1", port, 4)
	require.NoError(t, err)
	defer sender.Close()

	_, err = sender.Write([]byte{0xE6, 0x07, 0x01})
	require.NoError(t, err)

	require.NoError(t, sock.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, MaxDatagramSize)
	n, from, err := sock.ReadFromUDP(buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xE6, 0x07, 0x01}, buf[:n])
	assert.True(t, from.IP.IsLoopback())
}

func TestListenBadAddress(t *testing.T) {
	_, err := Listen("not an address", 20777)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrTransport)
}

func TestReadTimeoutIsTimeout(t *testing.T) {
	sock, err := Listen("127.0.0.1", 0)
	require.NoError(t, err)
	defer sock.Close()

	require.NoError(t, sock.SetReadDeadline(time.Now().Add(10*time.Millisecond)))
	_, _, err = sock.ReadFromUDP(make([]byte, 16))
	require.Error(t, err)
	assert.True(t, IsTimeout(err))
	assert.False(t, IsClosed(err))

	sock.Close()
	_, _, err = sock.ReadFromUDP(make([]byte, 16))
	assert.True(t, IsClosed(err))
}

func TestIsTimeoutPlainError(t *testing.T) {
	assert.False(t, IsTimeout(errors.New("boom")))
	assert.False(t, IsTimeout(nil))
}

func TestMockSocketScript(t *testing.T) {
	addr := &net.UDPAddr{IP: net.ParseIP("10.0.0.2"), Port: 5000}
	readErr := errors.New("ECONNREFUSED")
	drained := 0
	seen := []int{}

	sock := NewMockSocket([]MockPacket{
		{Data: []byte{1, 2}, Addr: addr},
		{Err: readErr},
		{Data: []byte{3}, Addr: addr},
	})
	sock.BeforeRead = func(i int) { seen = append(seen, i) }
	sock.OnDrained = func() { drained++ }

	buf := make([]byte, 8)
	n, from, err := sock.ReadFromUDP(buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2}, buf[:n])
	assert.Equal(t, addr, from)

	_, _, err = sock.ReadFromUDP(buf)
	assert.ErrorIs(t, err, readErr)

	n, _, err = sock.ReadFromUDP(buf)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	for i := 0; i < 2; i++ {
		_, _, err = sock.ReadFromUDP(buf)
		assert.True(t, IsTimeout(err))
	}
	assert.Equal(t, 1, drained)
	assert.Equal(t, []int{0, 1, 2}, seen)

	require.NoError(t, sock.Close())
	_, _, err = sock.ReadFromUDP(buf)
	assert.True(t, IsClosed(err))
	assert.Equal(t, 1, sock.Closes())
}

func TestMockSenderFailOn(t *testing.T) {
	s := &MockSender{FailOn: map[int]error{1: errors.New("EHOSTUNREACH")}}

	for _, b := range [][]byte{{1}, {2}, {3}} {
		_, _ = s.Write(b)
	}
	assert.Equal(t, [][]byte{{1}, {3}}, s.Sent())
}
